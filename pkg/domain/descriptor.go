// Copyright 2025 Clearing Protocol
//
// Verification Descriptor - tagged variant of the per-contract
// verification configuration. Parsed once at the boundary so the
// factory can enforce required fields instead of digging through maps.

package domain

import (
	"encoding/json"
	"fmt"
)

// Descriptor selects and configures a verification strategy. Exactly
// the fields for the tagged Type are meaningful:
//
//	{"type": "code_execution", "timeout": 30, "expected_output": "55"}
//	{"type": "semantic", "criteria": "must rhyme"}
//	{"type": "schema"}
//	{"type": "mock", "should_pass": true, "score": 0.9, "details": "..."}
type Descriptor struct {
	Type VerifierType `json:"type"`

	// code_execution
	Timeout        int    `json:"timeout,omitempty"`
	ExpectedOutput string `json:"expected_output,omitempty"`

	// semantic
	Criteria string `json:"criteria,omitempty"`

	// mock
	ShouldPass *bool    `json:"should_pass,omitempty"`
	Score      *float64 `json:"score,omitempty"`
	Details    string   `json:"details,omitempty"`
}

// ParseDescriptor decodes and validates a descriptor JSON document.
func ParseDescriptor(raw json.RawMessage) (*Descriptor, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: descriptor is empty", CodeInvalidDescriptor)
	}
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%s: %w", CodeInvalidDescriptor, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate enforces the per-type field constraints. A semantic
// descriptor with empty criteria is accepted here; the strategy
// reports MISSING_CRITERIA at verification time so the failure counts
// toward the retry budget.
func (d *Descriptor) Validate() error {
	switch d.Type {
	case VerifierCodeExecution:
		if d.Timeout < 0 {
			return fmt.Errorf("%s: timeout must be non-negative", CodeInvalidDescriptor)
		}
	case VerifierSemantic, VerifierSchema, VerifierMock:
		// no statically required fields
	case "":
		return fmt.Errorf("%s: descriptor must contain a type", CodeInvalidDescriptor)
	default:
		return fmt.Errorf("%s: unknown verifier type %q", CodeInvalidDescriptor, d.Type)
	}
	return nil
}

// ToJSON serialises the descriptor for storage.
func (d *Descriptor) ToJSON() json.RawMessage {
	b, err := json.Marshal(d)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
