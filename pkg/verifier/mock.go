// Copyright 2025 Clearing Protocol
//
// Mock Verifier - instant configurable pass/fail for dry-run testing.
// Zero network calls; controlled entirely by descriptor fields.

package verifier

import (
	"context"

	"github.com/agentclearing/clearinghouse/pkg/domain"
)

// MockVerifier returns a configurable result with no I/O.
//
// Descriptor fields:
//   - should_pass (bool): whether verification passes. Default true.
//   - score (float): score to return. Default 1.0 on pass, 0.0 on fail.
//   - details (string): custom details message. Optional.
type MockVerifier struct{}

// NewMockVerifier creates the mock strategy
func NewMockVerifier() *MockVerifier {
	return &MockVerifier{}
}

// Type returns the strategy's verifier type
func (v *MockVerifier) Type() domain.VerifierType {
	return domain.VerifierMock
}

// Verify returns the descriptor-configured result
func (v *MockVerifier) Verify(ctx context.Context, req *domain.VerifyRequest) (*domain.VerifyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shouldPass := true
	if req.Descriptor.ShouldPass != nil {
		shouldPass = *req.Descriptor.ShouldPass
	}

	score := 0.0
	if shouldPass {
		score = 1.0
	}
	if req.Descriptor.Score != nil {
		score = *req.Descriptor.Score
	}

	details := req.Descriptor.Details
	if details == "" {
		if shouldPass {
			details = "mock verification passed (dry-run mode)"
		} else {
			details = "mock verification failed (dry-run mode)"
		}
	}

	return &domain.VerifyResult{
		IsValid: shouldPass,
		Score:   domain.ScoreOf(score),
		Details: details,
		Logs:    map[string]any{"mode": "dry-run", "verifier": "mock"},
	}, nil
}
