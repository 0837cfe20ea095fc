// Copyright 2025 Clearing Protocol
//
// Submit Workflow - the submit -> verify -> settle-or-retry pipeline
// behind the submit endpoint. Wraps the escrow and verification
// services into one call and reports the final state.

package escrow

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/agentclearing/clearinghouse/pkg/domain"
)

// WorkflowResult is the outcome of one submit-verify-settle run
type WorkflowResult struct {
	ContractID         string               `json:"contract_id"`
	SubmissionID       string               `json:"submission_id,omitempty"`
	VerificationPassed bool                 `json:"verification_passed"`
	VerificationResult *domain.VerifyResult `json:"verification_result,omitempty"`
	SettlementRef      string               `json:"settlement_ref,omitempty"`
	RetryCount         int                  `json:"retry_count"`
	MaxRetries         int                  `json:"max_retries"`
	FinalStatus        domain.Status        `json:"final_status"`
	Error              string               `json:"error,omitempty"`
}

// RunSubmitWorkflow submits work and runs verification through to
// settlement or retry. Domain rejections (illegal transition, missing
// contract, oversized payload) surface as errors; a settlement failure
// after COMPLETED is reported inside the result instead, because the
// terminal transition has already been committed.
func RunSubmitWorkflow(ctx context.Context, escrowSvc *Service, verificationSvc *VerificationService,
	contractID uuid.UUID, payload, workerID string) (*WorkflowResult, error) {

	result := &WorkflowResult{ContractID: contractID.String()}

	submission, err := escrowSvc.SubmitWork(ctx, contractID, payload, workerID)
	if err != nil {
		return nil, err
	}
	result.SubmissionID = submission.ID.String()

	verifyResult, err := verificationSvc.VerifyLatest(ctx, contractID)
	if err != nil {
		var paymentErr *domain.PaymentError
		if !errors.As(err, &paymentErr) {
			return nil, err
		}
		result.Error = paymentErr.Error()
	}
	result.VerificationResult = verifyResult
	result.VerificationPassed = verifyResult != nil && verifyResult.IsValid

	contract, err := escrowSvc.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	result.FinalStatus = contract.Status
	result.RetryCount = contract.RetryCount
	result.MaxRetries = contract.MaxRetries
	if contract.SettlementRef.Valid {
		result.SettlementRef = contract.SettlementRef.String
	}

	return result, nil
}
