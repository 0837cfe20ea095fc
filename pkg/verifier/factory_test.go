// Copyright 2025 Clearing Protocol
//
// Verifier Factory Tests

package verifier

import (
	"strings"
	"testing"

	"github.com/agentclearing/clearinghouse/pkg/domain"
)

func registeredFactory() *Factory {
	f := NewFactory(nil)
	f.Register(NewCodeExecutionVerifier(nil, 30, nil))
	f.Register(NewSemanticVerifier(nil, nil))
	f.Register(NewSchemaVerifier(nil))
	f.Register(NewMockVerifier())
	return f
}

func TestFactory_DispatchesByType(t *testing.T) {
	f := registeredFactory()

	cases := map[domain.VerifierType]domain.VerifierType{
		domain.VerifierCodeExecution: domain.VerifierCodeExecution,
		domain.VerifierSemantic:      domain.VerifierSemantic,
		domain.VerifierSchema:        domain.VerifierSchema,
		domain.VerifierMock:          domain.VerifierMock,
	}
	for descriptorType, want := range cases {
		s, err := f.Create(&domain.Descriptor{Type: descriptorType})
		if err != nil {
			t.Fatalf("create %s: %v", descriptorType, err)
		}
		if s.Type() != want {
			t.Errorf("create %s: got strategy %s", descriptorType, s.Type())
		}
	}
}

func TestFactory_UnknownType(t *testing.T) {
	f := registeredFactory()

	_, err := f.Create(&domain.Descriptor{Type: "quantum"})
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	if !strings.Contains(err.Error(), "code_execution") {
		t.Errorf("error should list known types, got %q", err)
	}
}

func TestFactory_MissingType(t *testing.T) {
	f := registeredFactory()

	if _, err := f.Create(nil); err == nil {
		t.Fatal("expected error for nil descriptor")
	}
	if _, err := f.Create(&domain.Descriptor{}); err == nil {
		t.Fatal("expected error for empty type")
	}
}

func TestFactory_SupportedTypes(t *testing.T) {
	f := registeredFactory()

	types := f.SupportedTypes()
	if len(types) != 4 {
		t.Fatalf("supported types: got %v", types)
	}
	// Sorted for deterministic error messages
	for i := 1; i < len(types); i++ {
		if types[i-1] >= types[i] {
			t.Errorf("types not sorted: %v", types)
		}
	}
}
