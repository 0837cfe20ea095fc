// Copyright 2025 Clearing Protocol
//
// Schema Verifier - validates a JSON payload against the contract's
// requirements schema. Purely local: no external services.

package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentclearing/clearinghouse/pkg/domain"
)

// SchemaVerifier checks JSON payloads against a JSON Schema
type SchemaVerifier struct {
	logger *log.Logger
}

// NewSchemaVerifier creates the schema strategy
func NewSchemaVerifier(logger *log.Logger) *SchemaVerifier {
	if logger == nil {
		logger = log.New(log.Writer(), "[Verifier] ", log.LstdFlags)
	}
	return &SchemaVerifier{logger: logger}
}

// Type returns the strategy's verifier type
func (v *SchemaVerifier) Type() domain.VerifierType {
	return domain.VerifierSchema
}

// validationError is one entry of logs.validation_errors
type validationError struct {
	Path       string `json:"path"`
	Message    string `json:"message"`
	SchemaPath string `json:"schema_path"`
}

// Verify validates the payload against the requirements schema.
func (v *SchemaVerifier) Verify(ctx context.Context, req *domain.VerifyRequest) (*domain.VerifyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Step 1: a schema must be present on the contract
	if len(req.RequirementsSchema) == 0 {
		return &domain.VerifyResult{
			IsValid: false,
			Details: "no requirements schema provided on the contract",
			Error:   domain.VerifyErrMissingSchema,
		}, nil
	}

	// Step 2: parse the payload as JSON
	var payload any
	if err := json.Unmarshal([]byte(req.Payload), &payload); err != nil {
		v.logger.Printf("Schema verification for contract %s: payload is not valid JSON: %v",
			req.ContractID, err)
		return &domain.VerifyResult{
			IsValid: false,
			Details: fmt.Sprintf("payload is not valid JSON: %v", err),
			Error:   domain.VerifyErrInvalidJSON,
			Logs:    map[string]any{"raw_payload_preview": prefix(req.Payload, 500)},
		}, nil
	}

	// Step 3: compile the schema
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource("requirements.json", bytes.NewReader(req.RequirementsSchema)); err != nil {
		return v.invalidSchema(req, err), nil
	}
	schema, err := compiler.Compile("requirements.json")
	if err != nil {
		return v.invalidSchema(req, err), nil
	}

	// Step 4: validate
	if err := schema.Validate(payload); err != nil {
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return v.invalidSchema(req, err), nil
		}

		errs := flattenValidationErrors(ve)
		v.logger.Printf("Schema verification for contract %s failed with %d error(s)",
			req.ContractID, len(errs))

		return &domain.VerifyResult{
			IsValid: false,
			Details: fmt.Sprintf("%d error(s)", len(errs)),
			Logs: map[string]any{
				"validation_errors": errs,
				"schema":            json.RawMessage(req.RequirementsSchema),
			},
		}, nil
	}

	return &domain.VerifyResult{
		IsValid: true,
		Score:   domain.ScoreOf(1.0),
		Details: "payload successfully validated against the JSON schema",
		Logs: map[string]any{
			"schema": json.RawMessage(req.RequirementsSchema),
		},
	}, nil
}

func (v *SchemaVerifier) invalidSchema(req *domain.VerifyRequest, err error) *domain.VerifyResult {
	v.logger.Printf("Schema verification for contract %s: requirements schema is invalid: %v",
		req.ContractID, err)
	return &domain.VerifyResult{
		IsValid: false,
		Details: fmt.Sprintf("the requirements schema itself is invalid: %v", err),
		Error:   domain.VerifyErrInvalidSchema,
	}
}

// flattenValidationErrors collects the leaf causes of a validation
// error in deterministic order (by instance path, then schema path).
func flattenValidationErrors(ve *jsonschema.ValidationError) []validationError {
	var leaves []validationError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			leaves = append(leaves, validationError{
				Path:       e.InstanceLocation,
				Message:    e.Message,
				SchemaPath: e.KeywordLocation,
			})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)

	sort.Slice(leaves, func(i, j int) bool {
		if leaves[i].Path != leaves[j].Path {
			return leaves[i].Path < leaves[j].Path
		}
		return leaves[i].SchemaPath < leaves[j].SchemaPath
	})
	return leaves
}
