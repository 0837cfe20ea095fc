// Copyright 2025 Clearing Protocol
//
// Domain Enumerations - Canonical states and event types
// Framework-agnostic: no database, transport, or verifier imports

package domain

// Status is the lifecycle state of an escrow contract.
//
// Transitions between statuses are enforced by the Machine guard.
// See statemachine.go for the transition table.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusFunded     Status = "FUNDED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSubmitted  Status = "SUBMITTED"
	StatusVerifying  Status = "VERIFYING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusDisputed   Status = "DISPUTED"
)

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid checks if the status is a known lifecycle state
func (s Status) IsValid() bool {
	switch s {
	case StatusCreated, StatusFunded, StatusInProgress, StatusSubmitted,
		StatusVerifying, StatusCompleted, StatusFailed, StatusDisputed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status permits no further transitions
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AllStatuses returns every lifecycle state in declaration order
func AllStatuses() []Status {
	return []Status{
		StatusCreated, StatusFunded, StatusInProgress, StatusSubmitted,
		StatusVerifying, StatusCompleted, StatusFailed, StatusDisputed,
	}
}

// EventType identifies an audit event recorded in the escrow_events table.
//
// Every state transition MUST produce exactly one event. This is the
// append-only forensic trail used for dispute resolution.
type EventType string

const (
	// Lifecycle events
	EventContractCreated EventType = "CONTRACT_CREATED"
	EventContractFunded  EventType = "CONTRACT_FUNDED"
	EventWorkerAssigned  EventType = "WORKER_ASSIGNED"
	EventWorkSubmitted   EventType = "WORK_SUBMITTED"

	// Verification events
	EventVerificationStarted EventType = "VERIFICATION_STARTED"
	EventVerificationPassed  EventType = "VERIFICATION_PASSED"
	EventVerificationFailed  EventType = "VERIFICATION_FAILED"

	// Settlement events
	EventPaymentInitiated EventType = "PAYMENT_INITIATED"
	EventPaymentConfirmed EventType = "PAYMENT_CONFIRMED"

	// Dispute events
	EventDisputeRaised         EventType = "DISPUTE_RAISED"
	EventDisputeResolvedWorker EventType = "DISPUTE_RESOLVED_WORKER"
	EventDisputeResolvedBuyer  EventType = "DISPUTE_RESOLVED_BUYER"

	// Failure events
	EventContractExpired    EventType = "CONTRACT_EXPIRED"
	EventMaxRetriesExceeded EventType = "MAX_RETRIES_EXCEEDED"
)

// String returns the string representation of the event type
func (e EventType) String() string {
	return string(e)
}

// IsValid checks if the event type belongs to the closed audit set
func (e EventType) IsValid() bool {
	switch e {
	case EventContractCreated, EventContractFunded, EventWorkerAssigned,
		EventWorkSubmitted, EventVerificationStarted, EventVerificationPassed,
		EventVerificationFailed, EventPaymentInitiated, EventPaymentConfirmed,
		EventDisputeRaised, EventDisputeResolvedWorker, EventDisputeResolvedBuyer,
		EventContractExpired, EventMaxRetriesExceeded:
		return true
	default:
		return false
	}
}

// VerifierType selects a verification strategy.
// Stored in the contract's verification descriptor under "type".
type VerifierType string

const (
	VerifierCodeExecution VerifierType = "code_execution"
	VerifierSemantic      VerifierType = "semantic"
	VerifierSchema        VerifierType = "schema"

	// VerifierMock is an offline strategy for dry-run testing
	VerifierMock VerifierType = "mock"
)

// String returns the string representation of the verifier type
func (v VerifierType) String() string {
	return string(v)
}

// IsValid checks if the verifier type is a known strategy
func (v VerifierType) IsValid() bool {
	switch v {
	case VerifierCodeExecution, VerifierSemantic, VerifierSchema, VerifierMock:
		return true
	default:
		return false
	}
}

// ActorSystem is the actor recorded on events generated by the
// clearinghouse itself rather than a buyer or worker.
const ActorSystem = "SYSTEM"
