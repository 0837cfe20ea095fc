// Copyright 2025 Clearing Protocol
//
// Schema Verifier Tests

package verifier

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/agentclearing/clearinghouse/pkg/domain"
)

var personSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"age": {"type": "integer", "minimum": 0}
	},
	"required": ["name", "age"]
}`)

func schemaRequest(payload string, schema json.RawMessage) *domain.VerifyRequest {
	return &domain.VerifyRequest{
		ContractID:         "contract-1",
		Payload:            payload,
		Descriptor:         &domain.Descriptor{Type: domain.VerifierSchema},
		RequirementsSchema: schema,
	}
}

func TestSchema_ValidPayload(t *testing.T) {
	v := NewSchemaVerifier(nil)

	result, err := v.Verify(context.Background(), schemaRequest(`{"name":"Alice","age":30}`, personSchema))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.IsValid {
		t.Fatalf("expected pass, got %+v", result)
	}
	if result.Score == nil || *result.Score != 1.0 {
		t.Error("expected score 1.0")
	}
}

func TestSchema_MissingRequiredField(t *testing.T) {
	v := NewSchemaVerifier(nil)

	result, err := v.Verify(context.Background(), schemaRequest(`{"name":"Alice"}`, personSchema))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.IsValid {
		t.Fatal("expected fail on missing age")
	}
	if result.Error != "" {
		t.Errorf("a validation failure is not a strategy failure, got %q", result.Error)
	}

	errs, ok := result.Logs["validation_errors"].([]validationError)
	if !ok || len(errs) == 0 {
		t.Fatalf("expected validation_errors in logs, got %v", result.Logs["validation_errors"])
	}
	found := false
	for _, ve := range errs {
		if strings.Contains(ve.Message, "age") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an error referencing age, got %+v", errs)
	}
}

func TestSchema_ConstraintViolation(t *testing.T) {
	v := NewSchemaVerifier(nil)

	result, err := v.Verify(context.Background(), schemaRequest(`{"name":"Alice","age":-3}`, personSchema))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.IsValid {
		t.Fatal("expected fail on negative age")
	}
}

func TestSchema_InvalidJSON(t *testing.T) {
	v := NewSchemaVerifier(nil)

	result, err := v.Verify(context.Background(), schemaRequest(`{"name": "Alice`, personSchema))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Error != domain.VerifyErrInvalidJSON {
		t.Errorf("error: got %q, want INVALID_JSON", result.Error)
	}
	if result.Logs["raw_payload_preview"] == nil {
		t.Error("expected a bounded payload preview in logs")
	}
}

func TestSchema_MissingSchema(t *testing.T) {
	v := NewSchemaVerifier(nil)

	result, err := v.Verify(context.Background(), schemaRequest(`{"name":"Alice"}`, nil))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Error != domain.VerifyErrMissingSchema {
		t.Errorf("error: got %q, want MISSING_SCHEMA", result.Error)
	}
}

func TestSchema_MalformedSchema(t *testing.T) {
	v := NewSchemaVerifier(nil)

	malformed := json.RawMessage(`{"type": "not-a-real-type"}`)
	result, err := v.Verify(context.Background(), schemaRequest(`{"name":"Alice"}`, malformed))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Error != domain.VerifyErrInvalidSchema {
		t.Errorf("error: got %q, want INVALID_SCHEMA", result.Error)
	}
}

func TestSchema_ErrorsAreDeterministic(t *testing.T) {
	v := NewSchemaVerifier(nil)
	payload := `{"age": -1, "name": 42}`

	var previous []validationError
	for i := 0; i < 5; i++ {
		result, err := v.Verify(context.Background(), schemaRequest(payload, personSchema))
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		errs := result.Logs["validation_errors"].([]validationError)
		if previous != nil {
			if len(errs) != len(previous) {
				t.Fatalf("error count changed between runs: %d vs %d", len(errs), len(previous))
			}
			for j := range errs {
				if errs[j] != previous[j] {
					t.Fatalf("error order changed between runs: %+v vs %+v", errs[j], previous[j])
				}
			}
		}
		previous = errs
	}
}
