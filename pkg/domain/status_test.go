// Copyright 2025 Clearing Protocol
//
// Domain Enumeration Tests

package domain

import "testing"

func TestStatus_IsValid(t *testing.T) {
	for _, status := range AllStatuses() {
		if !status.IsValid() {
			t.Errorf("%s should be valid", status)
		}
	}
	for _, invalid := range []Status{"", "created", "UNKNOWN"} {
		if invalid.IsValid() {
			t.Errorf("%q should be invalid", invalid)
		}
	}
}

func TestEventType_IsValid(t *testing.T) {
	valid := []EventType{
		EventContractCreated, EventContractFunded, EventWorkerAssigned,
		EventWorkSubmitted, EventVerificationStarted, EventVerificationPassed,
		EventVerificationFailed, EventPaymentInitiated, EventPaymentConfirmed,
		EventDisputeRaised, EventDisputeResolvedWorker, EventDisputeResolvedBuyer,
		EventContractExpired, EventMaxRetriesExceeded,
	}
	for _, et := range valid {
		if !et.IsValid() {
			t.Errorf("%s should be valid", et)
		}
	}
	if EventType("SOMETHING_ELSE").IsValid() {
		t.Error("unknown event type should be invalid")
	}
}

func TestVerifierType_IsValid(t *testing.T) {
	for _, vt := range []VerifierType{VerifierCodeExecution, VerifierSemantic, VerifierSchema, VerifierMock} {
		if !vt.IsValid() {
			t.Errorf("%s should be valid", vt)
		}
	}
	if VerifierType("quantum").IsValid() {
		t.Error("unknown verifier type should be invalid")
	}
}

func TestStatus_StringValues(t *testing.T) {
	// Stored values are stable wire strings
	cases := map[Status]string{
		StatusCreated:    "CREATED",
		StatusFunded:     "FUNDED",
		StatusInProgress: "IN_PROGRESS",
		StatusSubmitted:  "SUBMITTED",
		StatusVerifying:  "VERIFYING",
		StatusCompleted:  "COMPLETED",
		StatusFailed:     "FAILED",
		StatusDisputed:   "DISPUTED",
	}
	for status, want := range cases {
		if status.String() != want {
			t.Errorf("got %q, want %q", status.String(), want)
		}
	}
}
