// Copyright 2025 Clearing Protocol
//
// Verification Service - runs the verify-then-record loop for a
// contract's latest submission. Retry accounting is owned by
// RecordVerificationFailed; this service only dispatches and reports.

package escrow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/agentclearing/clearinghouse/pkg/database"
	"github.com/agentclearing/clearinghouse/pkg/domain"
	"github.com/agentclearing/clearinghouse/pkg/metrics"
	"github.com/agentclearing/clearinghouse/pkg/verifier"
)

// VerificationService verifies the latest submission for a contract
type VerificationService struct {
	store   database.Store
	escrow  *Service
	factory *verifier.Factory
	metrics *metrics.Metrics
	logger  *log.Logger
}

// VerificationServiceConfig holds the service's dependencies
type VerificationServiceConfig struct {
	Store   database.Store
	Escrow  *Service
	Factory *verifier.Factory
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

// NewVerificationService creates the verification service
func NewVerificationService(cfg *VerificationServiceConfig) (*VerificationService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Escrow == nil {
		return nil, fmt.Errorf("escrow service is required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("verifier factory is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Verification] ", log.LstdFlags)
	}

	return &VerificationService{
		store:   cfg.Store,
		escrow:  cfg.Escrow,
		factory: cfg.Factory,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}, nil
}

// VerifyLatest runs the full verification pipeline for a contract:
//
//  1. Transition SUBMITTED -> VERIFYING.
//  2. Fetch the latest submission.
//  3. Build the verify request from the contract's descriptor.
//  4. Dispatch through the factory and run the strategy.
//  5. Record the result: pass -> COMPLETED (and settle),
//     fail -> IN_PROGRESS or FAILED.
//
// The returned result is the strategy's output. A settlement failure
// after a pass is returned as the error alongside the result.
func (v *VerificationService) VerifyLatest(ctx context.Context, contractID uuid.UUID) (*domain.VerifyResult, error) {
	contract, err := v.escrow.StartVerification(ctx, contractID)
	if err != nil {
		return nil, err
	}

	submission, err := v.store.ListSubmissions(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if len(submission) == 0 {
		// Defensive: submit_work guarantees at least one submission
		result := &domain.VerifyResult{
			IsValid: false,
			Details: "no submissions found for this contract",
			Error:   domain.VerifyErrNoSubmissions,
		}
		if _, err := v.escrow.RecordVerificationFailed(ctx, contractID, uuid.Nil, result); err != nil {
			return nil, err
		}
		return result, nil
	}
	latest := submission[0] // newest first

	descriptor, err := contract.Descriptor()
	if err != nil {
		return nil, err
	}

	strategy, err := v.factory.Create(descriptor)
	if err != nil {
		return nil, err
	}

	v.logger.Printf("Dispatching %s verification for contract %s (submission %s)",
		descriptor.Type, contractID, latest.ID)

	request := &domain.VerifyRequest{
		ContractID:         contractID.String(),
		Payload:            latest.Payload,
		Descriptor:         descriptor,
		RequirementsSchema: contract.RequirementsSchema,
	}

	started := time.Now()
	result, err := strategy.Verify(ctx, request)
	v.metrics.VerificationDuration.WithLabelValues(string(descriptor.Type)).
		Observe(time.Since(started).Seconds())
	if err != nil {
		// Context cancellation: the contract stays VERIFYING for the
		// operator; no half-written result is recorded.
		return nil, err
	}

	outcome := "failed"
	if result.IsValid {
		outcome = "passed"
	}
	if result.StrategyFailed() {
		outcome = "error"
	}
	v.metrics.Verifications.WithLabelValues(string(descriptor.Type), outcome).Inc()

	if result.IsValid {
		if _, err := v.escrow.RecordVerificationPassed(ctx, contractID, latest.ID, result); err != nil {
			var paymentErr *domain.PaymentError
			if errors.As(err, &paymentErr) {
				// COMPLETED is already committed; surface for reconciliation
				return result, err
			}
			return nil, err
		}
		return result, nil
	}

	if _, err := v.escrow.RecordVerificationFailed(ctx, contractID, latest.ID, result); err != nil {
		return nil, err
	}
	return result, nil
}
