// Copyright 2025 Clearing Protocol
//
// End-to-end simulation of buyer and worker agents against the real
// services. Scenarios:
//
//	1. Happy path: correct work on the first submission -> COMPLETED
//	2. Fail and retry: wrong work, then correct work -> COMPLETED
//	3. Malicious worker: garbage until MAX_RETRIES_EXCEEDED -> FAILED
//	4. Dispute: buyer disputes an in-progress contract -> DISPUTED
//
// Runs with the mock verification strategy and the simulated payment
// adapter, so no database of sandboxes, judges, or chains is needed
// beyond PostgreSQL itself.
//
// Usage:
//	simulate -scenario 0        # all scenarios
//	simulate -scenario 2        # just fail-and-retry

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agentclearing/clearinghouse/pkg/config"
	"github.com/agentclearing/clearinghouse/pkg/database"
	"github.com/agentclearing/clearinghouse/pkg/escrow"
	"github.com/agentclearing/clearinghouse/pkg/metrics"
	"github.com/agentclearing/clearinghouse/pkg/payment"
	"github.com/agentclearing/clearinghouse/pkg/verifier"
)

func main() {
	scenario := flag.Int("scenario", 0, "scenario to run (0 = all)")
	flag.Parse()

	logger := log.New(os.Stdout, "[Simulation] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required for the simulation")
	}

	ctx := context.Background()

	dbClient, err := database.NewClient(cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	if err := dbClient.MigrateUp(ctx); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	store := database.NewStore(dbClient)
	payments := payment.NewSimulator(nil)

	factory := verifier.NewFactory(nil)
	factory.Register(verifier.NewMockVerifier())

	escrowSvc, err := escrow.NewService(&escrow.ServiceConfig{
		Store:    store,
		Payments: payments,
		Metrics:  metrics.Nop(),
	})
	if err != nil {
		logger.Fatalf("Failed to create escrow service: %v", err)
	}
	verificationSvc, err := escrow.NewVerificationService(&escrow.VerificationServiceConfig{
		Store:   store,
		Escrow:  escrowSvc,
		Factory: factory,
		Metrics: metrics.Nop(),
	})
	if err != nil {
		logger.Fatalf("Failed to create verification service: %v", err)
	}

	sim := &simulation{
		escrow:       escrowSvc,
		verification: verificationSvc,
		store:        store,
		logger:       logger,
	}

	scenarios := []func(context.Context) error{
		sim.happyPath,
		sim.failAndRetry,
		sim.maliciousWorker,
		sim.dispute,
	}
	for i, run := range scenarios {
		if *scenario != 0 && *scenario != i+1 {
			continue
		}
		banner(fmt.Sprintf("Scenario %d", i+1))
		if err := run(ctx); err != nil {
			logger.Fatalf("Scenario %d failed: %v", i+1, err)
		}
	}
}

type simulation struct {
	escrow       *escrow.Service
	verification *escrow.VerificationService
	store        *database.SQLStore
	logger       *log.Logger
}

const (
	buyerID  = "0xBuyerBot00000000000000000000000000000001"
	workerID = "0xWorkerBot0000000000000000000000000000002"
)

// mockDescriptor builds a mock verification descriptor
func mockDescriptor(shouldPass bool) json.RawMessage {
	b, _ := json.Marshal(map[string]any{"type": "mock", "should_pass": shouldPass})
	return b
}

// setDescriptor swaps the stored descriptor so retry scenarios can
// flip the mock verdict between submissions. The mock strategy reads
// the descriptor at verify time; swapping it is a simulation-only
// shortcut with no production counterpart.
func (s *simulation) setDescriptor(ctx context.Context, contractID uuid.UUID, descriptor json.RawMessage) error {
	return s.store.SwapDescriptor(ctx, contractID, descriptor)
}

// setup creates, funds, and accepts a contract
func (s *simulation) setup(ctx context.Context, shouldPass bool, maxRetries int) (uuid.UUID, error) {
	contract, err := s.escrow.CreateContract(ctx, &escrow.CreateContractInput{
		BuyerID:     buyerID,
		Amount:      decimal.RequireFromString("25.000000"),
		Description: "compute the 10th Fibonacci number",
		Descriptor:  mockDescriptor(shouldPass),
		MaxRetries:  maxRetries,
	})
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := s.escrow.FundContract(ctx, contract.ID); err != nil {
		return uuid.Nil, err
	}
	if _, err := s.escrow.AcceptContract(ctx, contract.ID, workerID); err != nil {
		return uuid.Nil, err
	}
	return contract.ID, nil
}

func (s *simulation) happyPath(ctx context.Context) error {
	contractID, err := s.setup(ctx, true, 3)
	if err != nil {
		return err
	}

	result, err := escrow.RunSubmitWorkflow(ctx, s.escrow, s.verification,
		contractID, "print(fib(10))", workerID)
	if err != nil {
		return err
	}

	s.logger.Printf("Final status: %s (settlement %s)", result.FinalStatus, result.SettlementRef)
	return s.printAuditTrail(ctx, contractID)
}

func (s *simulation) failAndRetry(ctx context.Context) error {
	contractID, err := s.setup(ctx, false, 3)
	if err != nil {
		return err
	}

	// First attempt fails
	result, err := escrow.RunSubmitWorkflow(ctx, s.escrow, s.verification,
		contractID, "print(fib(9))", workerID)
	if err != nil {
		return err
	}
	s.logger.Printf("First attempt: %s (retry %d/%d)", result.FinalStatus, result.RetryCount, result.MaxRetries)

	// Worker fixes the work; flip the mock verdict
	if err := s.setDescriptor(ctx, contractID, mockDescriptor(true)); err != nil {
		return err
	}
	result, err = escrow.RunSubmitWorkflow(ctx, s.escrow, s.verification,
		contractID, "print(fib(10))", workerID)
	if err != nil {
		return err
	}
	s.logger.Printf("Second attempt: %s (settlement %s)", result.FinalStatus, result.SettlementRef)
	return s.printAuditTrail(ctx, contractID)
}

func (s *simulation) maliciousWorker(ctx context.Context) error {
	contractID, err := s.setup(ctx, false, 2)
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		result, err := escrow.RunSubmitWorkflow(ctx, s.escrow, s.verification,
			contractID, fmt.Sprintf("os.system('rm -rf /') # attempt %d", attempt), workerID)
		if err != nil {
			return err
		}
		s.logger.Printf("Attempt %d: %s (retry %d/%d)",
			attempt, result.FinalStatus, result.RetryCount, result.MaxRetries)
		if result.FinalStatus == "FAILED" {
			break
		}
	}
	return s.printAuditTrail(ctx, contractID)
}

func (s *simulation) dispute(ctx context.Context) error {
	contractID, err := s.setup(ctx, true, 3)
	if err != nil {
		return err
	}

	if _, err := s.escrow.RaiseDispute(ctx, contractID, "worker went silent", buyerID); err != nil {
		return err
	}
	status, err := s.escrow.GetStatus(ctx, contractID)
	if err != nil {
		return err
	}
	s.logger.Printf("Status after dispute: %s (allowed events: %v)", status.Status, status.AllowedEvents)

	if _, err := s.escrow.ResolveDispute(ctx, contractID, true, "arbiter-1"); err != nil {
		return err
	}
	return s.printAuditTrail(ctx, contractID)
}

func (s *simulation) printAuditTrail(ctx context.Context, contractID uuid.UUID) error {
	events, err := s.escrow.GetEvents(ctx, contractID)
	if err != nil {
		return err
	}
	s.logger.Printf("Audit trail for %s:", contractID)
	for _, event := range events {
		old := "(none)"
		if event.OldStatus.Valid {
			old = event.OldStatus.String
		}
		s.logger.Printf("  %-25s %s -> %s (%s)", event.EventType, old, event.NewStatus, event.Actor)
	}
	return nil
}

func banner(text string) {
	line := strings.Repeat("=", 60)
	fmt.Printf("\n%s\n  %s\n%s\n", line, text, line)
}
