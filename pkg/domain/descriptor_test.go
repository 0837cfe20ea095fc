// Copyright 2025 Clearing Protocol
//
// Descriptor Parsing Tests

package domain

import (
	"encoding/json"
	"testing"
)

func TestParseDescriptor_CodeExecution(t *testing.T) {
	raw := json.RawMessage(`{"type":"code_execution","timeout":30,"expected_output":"55"}`)
	d, err := ParseDescriptor(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Type != VerifierCodeExecution {
		t.Errorf("type: got %s", d.Type)
	}
	if d.Timeout != 30 {
		t.Errorf("timeout: got %d", d.Timeout)
	}
	if d.ExpectedOutput != "55" {
		t.Errorf("expected_output: got %q", d.ExpectedOutput)
	}
}

func TestParseDescriptor_Mock(t *testing.T) {
	raw := json.RawMessage(`{"type":"mock","should_pass":false,"score":0.25,"details":"nope"}`)
	d, err := ParseDescriptor(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.ShouldPass == nil || *d.ShouldPass {
		t.Error("should_pass should be false")
	}
	if d.Score == nil || *d.Score != 0.25 {
		t.Error("score should be 0.25")
	}
}

func TestParseDescriptor_Invalid(t *testing.T) {
	cases := []json.RawMessage{
		nil,
		json.RawMessage(`{}`),
		json.RawMessage(`{"type":"quantum"}`),
		json.RawMessage(`{"type":"code_execution","timeout":-5}`),
		json.RawMessage(`not json`),
	}
	for _, raw := range cases {
		if _, err := ParseDescriptor(raw); err == nil {
			t.Errorf("expected error for %s", raw)
		}
	}
}

func TestParseDescriptor_SemanticWithoutCriteria(t *testing.T) {
	// Empty criteria parses; the strategy reports MISSING_CRITERIA at
	// verification time so the failure counts toward the retry budget.
	if _, err := ParseDescriptor(json.RawMessage(`{"type":"semantic"}`)); err != nil {
		t.Fatalf("parse: %v", err)
	}
}

func TestDescriptor_RoundTrip(t *testing.T) {
	d := &Descriptor{Type: VerifierSemantic, Criteria: "must rhyme (AABB/ABAB)"}
	parsed, err := ParseDescriptor(d.ToJSON())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Criteria != d.Criteria {
		t.Errorf("criteria: got %q, want %q", parsed.Criteria, d.Criteria)
	}
}
