// Copyright 2025 Clearing Protocol
//
// State Machine Guard Tests

package domain

import (
	"errors"
	"testing"
)

func TestNewMachine_UnknownState(t *testing.T) {
	for _, state := range []string{"", "created", "PENDING", "DONE"} {
		_, err := NewMachine(Status(state))
		if err == nil {
			t.Fatalf("expected error for state %q", state)
		}
		var unknown *UnknownStateError
		if !errors.As(err, &unknown) {
			t.Errorf("expected UnknownStateError for %q, got %T", state, err)
		}
	}
}

func TestNewMachine_AllStatuses(t *testing.T) {
	for _, status := range AllStatuses() {
		m, err := NewMachine(status)
		if err != nil {
			t.Fatalf("failed to construct machine at %s: %v", status, err)
		}
		if m.Current() != status {
			t.Errorf("current mismatch: got %s, want %s", m.Current(), status)
		}
	}
}

func TestFire_FullHappyPath(t *testing.T) {
	m, err := NewMachine(StatusCreated)
	if err != nil {
		t.Fatalf("failed to construct machine: %v", err)
	}

	steps := []struct {
		event Event
		want  Status
	}{
		{EventFireOnChainConfirmed, StatusFunded},
		{EventFireWorkerAccepts, StatusInProgress},
		{EventFireWorkerSubmits, StatusSubmitted},
		{EventFireAutoVerify, StatusVerifying},
		{EventFireVerificationPassed, StatusCompleted},
	}
	for _, step := range steps {
		got, err := m.Fire(step.event)
		if err != nil {
			t.Fatalf("fire %s: %v", step.event, err)
		}
		if got != step.want {
			t.Fatalf("fire %s: got %s, want %s", step.event, got, step.want)
		}
	}
}

func TestFire_EveryTableEdge(t *testing.T) {
	edges := []struct {
		from  Status
		event Event
		to    Status
	}{
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

	for _, edge := range edges {
		got, err := ValidateTransition(edge.from, edge.event)
		if err != nil {
			t.Errorf("%s + %s: unexpected error %v", edge.from, edge.event, err)
			continue
		}
		if got != edge.to {
			t.Errorf("%s + %s: got %s, want %s", edge.from, edge.event, got, edge.to)
		}
	}
}

func TestFire_IllegalTransitions(t *testing.T) {
	cases := []struct {
		from  Status
		event Event
	}{
		{StatusCreated, EventFireVerificationPassed}, // CREATED cannot jump to COMPLETED
		{StatusCreated, EventFireWorkerAccepts},
		{StatusFunded, EventFireWorkerSubmits},
		{StatusSubmitted, EventFireWorkerSubmits},
		{StatusVerifying, EventFireBuyerDisputes},
		{StatusDisputed, EventFireBuyerDisputes},
	}

	for _, tc := range cases {
		_, err := ValidateTransition(tc.from, tc.event)
		if err == nil {
			t.Errorf("%s + %s: expected IllegalTransitionError", tc.from, tc.event)
			continue
		}
		var illegal *IllegalTransitionError
		if !errors.As(err, &illegal) {
			t.Errorf("%s + %s: got %T, want IllegalTransitionError", tc.from, tc.event, err)
			continue
		}
		if illegal.Current != tc.from {
			t.Errorf("error current mismatch: got %s, want %s", illegal.Current, tc.from)
		}
		if illegal.Attempted != string(tc.event) {
			t.Errorf("error attempted mismatch: got %s, want %s", illegal.Attempted, tc.event)
		}
	}
}

func TestTerminalStates_NoOutgoingTransitions(t *testing.T) {
	for _, status := range []Status{StatusCompleted, StatusFailed} {
		m, err := NewMachine(status)
		if err != nil {
			t.Fatalf("failed to construct machine at %s: %v", status, err)
		}
		if events := m.AllowedEvents(); len(events) != 0 {
			t.Errorf("terminal %s has outgoing transitions: %v", status, events)
		}
		if !status.IsTerminal() {
			t.Errorf("%s should be terminal", status)
		}
	}
}

func TestAllowedEvents(t *testing.T) {
	m, err := NewMachine(StatusFunded)
	if err != nil {
		t.Fatalf("failed to construct machine: %v", err)
	}

	events := m.AllowedEvents()
	want := []Event{EventFireWorkerAccepts, EventFireBuyerDisputes}
	if len(events) != len(want) {
		t.Fatalf("allowed events mismatch: got %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("allowed events[%d]: got %s, want %s", i, events[i], want[i])
		}
	}
}

func TestPeek_DoesNotAdvance(t *testing.T) {
	m, err := NewMachine(StatusCreated)
	if err != nil {
		t.Fatalf("failed to construct machine: %v", err)
	}

	next, err := m.Peek(EventFireOnChainConfirmed)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if next != StatusFunded {
		t.Errorf("peek result: got %s, want FUNDED", next)
	}
	if m.Current() != StatusCreated {
		t.Errorf("peek advanced the machine to %s", m.Current())
	}
}

func TestAuditType_CanonicalMapping(t *testing.T) {
	cases := map[Event]EventType{
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

	for event, want := range cases {
		got, ok := event.AuditType()
		if !ok {
			t.Errorf("no audit type for %s", event)
			continue
		}
		if got != want {
			t.Errorf("audit type for %s: got %s, want %s", event, got, want)
		}
	}

	if _, ok := Event("not_an_event").AuditType(); ok {
		t.Error("unknown event should have no audit type")
	}
}

// Every transition event must have a canonical audit mapping
func TestAuditType_CoversTransitionTable(t *testing.T) {
	for _, tr := range transitionTable {
		if _, ok := tr.event.AuditType(); !ok {
			t.Errorf("transition event %s has no audit mapping", tr.event)
		}
	}
}
