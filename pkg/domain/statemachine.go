// Copyright 2025 Clearing Protocol
//
// Escrow Contract State Machine Guard
// Pure transition table: no side effects, no I/O, no persistence.
// No matter what the orchestration or API layer does, an illegal
// transition (e.g. CREATED -> COMPLETED) is rejected here.

package domain

// Event is a named state-machine transition trigger.
type Event string

const (
	// Funding
	EventFireOnChainConfirmed Event = "on_chain_confirmed"
	EventFireTimeoutExpired   Event = "timeout_expired"

	// Worker assignment
	EventFireWorkerAccepts Event = "worker_accepts"

	// Work submission
	EventFireWorkerSubmits Event = "worker_submits"

	// Verification trigger
	EventFireAutoVerify Event = "auto_verify"

	// Verification outcomes
	EventFireVerificationPassed      Event = "verification_passed"
	EventFireVerificationFailedRetry Event = "verification_failed_retry"
	EventFireMaxRetriesExceeded      Event = "max_retries_exceeded"

	// Disputes
	EventFireBuyerDisputes            Event = "buyer_disputes"
	EventFireDisputeResolvedForWorker Event = "dispute_resolved_for_worker"
	EventFireDisputeResolvedForBuyer  Event = "dispute_resolved_for_buyer"
)

// transition is a single (from, event) -> to edge
type transition struct {
	from  Status
	event Event
	to    Status
}

// transitionTable declares every legal edge of the contract lifecycle.
//
//	CREATED       -> FUNDED           (on_chain_confirmed)
//	CREATED       -> FAILED           (timeout_expired)
//	FUNDED        -> IN_PROGRESS      (worker_accepts)
//	FUNDED        -> DISPUTED         (buyer_disputes)
//	IN_PROGRESS   -> SUBMITTED        (worker_submits)
//	IN_PROGRESS   -> DISPUTED         (buyer_disputes)
//	SUBMITTED     -> VERIFYING        (auto_verify)
//	VERIFYING     -> COMPLETED        (verification_passed)
//	VERIFYING     -> IN_PROGRESS      (verification_failed_retry)
//	VERIFYING     -> FAILED           (max_retries_exceeded)
//	DISPUTED      -> COMPLETED        (dispute_resolved_for_worker)
//	DISPUTED      -> FAILED           (dispute_resolved_for_buyer)
var transitionTable = []transition{
	{StatusCreated, EventFireOnChainConfirmed, StatusFunded},
	{StatusCreated, EventFireTimeoutExpired, StatusFailed},
	{StatusFunded, EventFireWorkerAccepts, StatusInProgress},
	{StatusFunded, EventFireBuyerDisputes, StatusDisputed},
	{StatusInProgress, EventFireWorkerSubmits, StatusSubmitted},
	{StatusInProgress, EventFireBuyerDisputes, StatusDisputed},
	{StatusSubmitted, EventFireAutoVerify, StatusVerifying},
	{StatusVerifying, EventFireVerificationPassed, StatusCompleted},
	{StatusVerifying, EventFireVerificationFailedRetry, StatusInProgress},
	{StatusVerifying, EventFireMaxRetriesExceeded, StatusFailed},
	{StatusDisputed, EventFireDisputeResolvedForWorker, StatusCompleted},
	{StatusDisputed, EventFireDisputeResolvedForBuyer, StatusFailed},
}

// eventAuditType maps every transition event to its canonical audit
// event type. Contract creation is not a transition; it emits
// CONTRACT_CREATED with a null old_status at the service layer.
var eventAuditType = map[Event]EventType{
	EventFireOnChainConfirmed:         EventContractFunded,
	EventFireTimeoutExpired:           EventContractExpired,
	EventFireWorkerAccepts:            EventWorkerAssigned,
	EventFireWorkerSubmits:            EventWorkSubmitted,
	EventFireAutoVerify:               EventVerificationStarted,
	EventFireVerificationPassed:       EventVerificationPassed,
	EventFireVerificationFailedRetry:  EventVerificationFailed,
	EventFireMaxRetriesExceeded:       EventMaxRetriesExceeded,
	EventFireBuyerDisputes:            EventDisputeRaised,
	EventFireDisputeResolvedForWorker: EventDisputeResolvedWorker,
	EventFireDisputeResolvedForBuyer:  EventDisputeResolvedBuyer,
}

// AuditType returns the canonical audit event type for a transition event.
// The second return is false for unknown events.
func (e Event) AuditType() (EventType, bool) {
	et, ok := eventAuditType[e]
	return et, ok
}

// Machine guards the lifecycle of a single contract. It is constructed
// at the contract's current status and validates events before the
// stored status is updated.
//
// Usage:
//
//	m, err := NewMachine(contract.Status)
//	next, err := m.Fire(EventFireWorkerAccepts) // -> IN_PROGRESS
type Machine struct {
	current Status
}

// NewMachine constructs a state machine positioned at the given status.
// Any string that is not one of the eight lifecycle states fails with
// *UnknownStateError.
func NewMachine(current Status) (*Machine, error) {
	if !current.IsValid() {
		return nil, &UnknownStateError{State: string(current)}
	}
	return &Machine{current: current}, nil
}

// Current returns the machine's current status
func (m *Machine) Current() Status {
	return m.current
}

// Fire attempts the named event. On success the machine advances and
// the new status is returned. An event with no edge from the current
// status fails with *IllegalTransitionError carrying (current, attempted).
func (m *Machine) Fire(event Event) (Status, error) {
	for _, t := range transitionTable {
		if t.from == m.current && t.event == event {
			m.current = t.to
			return t.to, nil
		}
	}
	return "", &IllegalTransitionError{Current: m.current, Attempted: string(event)}
}

// Peek reports the status the named event would produce without
// advancing the machine.
func (m *Machine) Peek(event Event) (Status, error) {
	for _, t := range transitionTable {
		if t.from == m.current && t.event == event {
			return t.to, nil
		}
	}
	return "", &IllegalTransitionError{Current: m.current, Attempted: string(event)}
}

// AllowedEvents returns the events legal from the current status, in
// transition-table order.
func (m *Machine) AllowedEvents() []Event {
	var events []Event
	for _, t := range transitionTable {
		if t.from == m.current {
			events = append(events, t.event)
		}
	}
	return events
}

// ValidateTransition is a convenience helper that constructs a machine
// at the given status, fires the event, and returns the resulting status.
func ValidateTransition(current Status, event Event) (Status, error) {
	m, err := NewMachine(current)
	if err != nil {
		return "", err
	}
	return m.Fire(event)
}
