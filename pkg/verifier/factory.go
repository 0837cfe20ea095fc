// Copyright 2025 Clearing Protocol
//
// Verifier Factory - dispatches a contract's verification descriptor
// to the concrete strategy. The registry is the only polymorphism in
// the core.

package verifier

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/agentclearing/clearinghouse/pkg/config"
	"github.com/agentclearing/clearinghouse/pkg/domain"
)

// Factory selects a verification strategy from a descriptor's type.
type Factory struct {
	registry map[domain.VerifierType]domain.Strategy
	logger   *log.Logger
}

// NewFactory creates an empty factory
func NewFactory(logger *log.Logger) *Factory {
	if logger == nil {
		logger = log.New(log.Writer(), "[Verifier] ", log.LstdFlags)
	}
	return &Factory{
		registry: make(map[domain.VerifierType]domain.Strategy),
		logger:   logger,
	}
}

// NewDefaultFactory creates a factory with all four strategies wired:
// code execution against the given sandbox allocator, semantic against
// the given judge, schema, and mock.
func NewDefaultFactory(cfg *config.Config, sandboxes SandboxAllocator, judge Judge, logger *log.Logger) *Factory {
	f := NewFactory(logger)
	f.Register(NewCodeExecutionVerifier(sandboxes, cfg.SandboxTimeoutSeconds, f.logger))
	f.Register(NewSemanticVerifier(judge, f.logger))
	f.Register(NewSchemaVerifier(f.logger))
	f.Register(NewMockVerifier())
	return f
}

// Register adds a strategy to the registry, replacing any previous
// strategy of the same type.
func (f *Factory) Register(s domain.Strategy) {
	f.registry[s.Type()] = s
}

// Create returns the strategy selected by the descriptor's type.
// A missing or unknown type is a configuration error carrying the
// list of known types.
func (f *Factory) Create(descriptor *domain.Descriptor) (domain.Strategy, error) {
	if descriptor == nil || descriptor.Type == "" {
		return nil, fmt.Errorf("verification descriptor must contain a type; known types: %s",
			f.knownTypes())
	}
	s, ok := f.registry[descriptor.Type]
	if !ok {
		return nil, fmt.Errorf("unknown verifier type %q; known types: %s",
			descriptor.Type, f.knownTypes())
	}
	return s, nil
}

// SupportedTypes returns the registered verifier types, sorted
func (f *Factory) SupportedTypes() []domain.VerifierType {
	types := make([]domain.VerifierType, 0, len(f.registry))
	for t := range f.registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (f *Factory) knownTypes() string {
	types := f.SupportedTypes()
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
