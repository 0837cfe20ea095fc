// Copyright 2025 Clearing Protocol
//
// Domain errors - business rule violations surfaced by the core.
// Each error carries a stable machine-readable code and a human
// message; transport adapters map them 1:1 to wire error codes.

package domain

import (
	"errors"
	"fmt"
)

// Error codes surfaced by the core
const (
	CodeUnknownState       = "UNKNOWN_STATE"
	CodeIllegalTransition  = "ILLEGAL_TRANSITION"
	CodeContractNotFound   = "CONTRACT_NOT_FOUND"
	CodeWorkerAssigned     = "WORKER_ALREADY_ASSIGNED"
	CodeVerificationError  = "VERIFICATION_ERROR"
	CodePaymentError       = "PAYMENT_ERROR"
	CodeDuplicateOperation = "DUPLICATE_OPERATION"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeInvalidAmount      = "INVALID_AMOUNT"
	CodeInvalidDescriptor  = "INVALID_DESCRIPTOR"
)

// Verification strategy failure subtypes. These identify a verifier
// that could not produce a verdict, distinct from a rejected submission.
const (
	VerifyErrSandbox           = "SANDBOX_ERROR"
	VerifyErrTimeout           = "EXECUTION_TIMEOUT"
	VerifyErrLLMJudge          = "LLM_JUDGE_ERROR"
	VerifyErrInvalidJSON       = "INVALID_JSON"
	VerifyErrInvalidSchema     = "INVALID_SCHEMA"
	VerifyErrMissingSchema     = "MISSING_SCHEMA"
	VerifyErrMissingCriteria   = "MISSING_CRITERIA"
	VerifyErrMissingSandboxKey = "MISSING_SANDBOX_KEY"
	VerifyErrNoSubmissions     = "NO_SUBMISSIONS"
)

// UnknownStateError is returned when a state machine is constructed at
// a string that is not one of the eight lifecycle states.
type UnknownStateError struct {
	State string
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("unknown status %q", e.State)
}

// Code returns the stable error code
func (e *UnknownStateError) Code() string { return CodeUnknownState }

// IllegalTransitionError is returned when the state machine rejects an
// event from the current status.
type IllegalTransitionError struct {
	Current   Status
	Attempted string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: event %q not allowed from %s", e.Attempted, e.Current)
}

// Code returns the stable error code
func (e *IllegalTransitionError) Code() string { return CodeIllegalTransition }

// ContractNotFoundError is returned when a contract lookup misses.
type ContractNotFoundError struct {
	ContractID string
}

func (e *ContractNotFoundError) Error() string {
	return fmt.Sprintf("contract not found: %s", e.ContractID)
}

// Code returns the stable error code
func (e *ContractNotFoundError) Code() string { return CodeContractNotFound }

// WorkerAlreadyAssignedError is returned on a second accept attempt.
type WorkerAlreadyAssignedError struct {
	ContractID string
}

func (e *WorkerAlreadyAssignedError) Error() string {
	return fmt.Sprintf("worker already assigned to contract: %s", e.ContractID)
}

// Code returns the stable error code
func (e *WorkerAlreadyAssignedError) Code() string { return CodeWorkerAssigned }

// PaymentError is returned when a payment adapter operation fails.
// The transition that preceded the payment has already been committed,
// so settlement failures must be reconciled operationally.
type PaymentError struct {
	Op  string
	Ref string
	Err error
}

func (e *PaymentError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("payment %s failed (ref %s): %v", e.Op, e.Ref, e.Err)
	}
	return fmt.Sprintf("payment %s failed: %v", e.Op, e.Err)
}

func (e *PaymentError) Unwrap() error { return e.Err }

// Code returns the stable error code
func (e *PaymentError) Code() string { return CodePaymentError }

// DuplicateOperationError is returned when an idempotency key is
// reused. OriginalResult carries the stored result of the first call.
type DuplicateOperationError struct {
	Key            string
	OriginalResult []byte
}

func (e *DuplicateOperationError) Error() string {
	return fmt.Sprintf("duplicate operation detected for key: %s", e.Key)
}

// Code returns the stable error code
func (e *DuplicateOperationError) Code() string { return CodeDuplicateOperation }

// Coder is implemented by every domain error.
type Coder interface {
	error
	Code() string
}

// ErrorCode extracts the stable code from a domain error, or
// "INTERNAL_ERROR" for anything outside the taxonomy.
func ErrorCode(err error) string {
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return "INTERNAL_ERROR"
}
