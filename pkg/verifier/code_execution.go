// Copyright 2025 Clearing Protocol
//
// Code Execution Verifier - runs submitted code in an isolated sandbox
// and checks exit code and expected output.
//
// Verification flow:
//  1. Allocate a sandbox (separate VM per execution; network,
//     filesystem, and syscall restrictions are the sandbox's job).
//  2. Run the submitted code, collecting stdout/stderr line streams.
//  3. Check: exit code 0? expected_output a substring of stdout?
//  4. Return pass/fail with full execution logs.

package verifier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentclearing/clearinghouse/pkg/domain"
)

// ErrExecutionTimeout is returned by sandbox implementations when the
// run exceeds its wall-clock budget.
var ErrExecutionTimeout = errors.New("sandbox execution timed out")

// ExecResult is the outcome of one sandbox run
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Sandbox executes untrusted code in full isolation. Each sandbox is
// single-use: Run once, then Close destroys the VM.
type Sandbox interface {
	Run(ctx context.Context, code string) (*ExecResult, error)
	Close() error
}

// SandboxAllocator provisions sandboxes. Allocation failures may be
// transient, so the verifier retries them with bounded backoff.
type SandboxAllocator interface {
	Allocate(ctx context.Context, timeout time.Duration) (Sandbox, error)
}

// CodeExecutionVerifier runs code in a sandbox and checks output
type CodeExecutionVerifier struct {
	sandboxes      SandboxAllocator
	defaultTimeout int // seconds
	logger         *log.Logger
}

// NewCodeExecutionVerifier creates the code execution strategy
func NewCodeExecutionVerifier(sandboxes SandboxAllocator, defaultTimeoutSeconds int, logger *log.Logger) *CodeExecutionVerifier {
	if logger == nil {
		logger = log.New(log.Writer(), "[Verifier] ", log.LstdFlags)
	}
	return &CodeExecutionVerifier{
		sandboxes:      sandboxes,
		defaultTimeout: defaultTimeoutSeconds,
		logger:         logger,
	}
}

// Type returns the strategy's verifier type
func (v *CodeExecutionVerifier) Type() domain.VerifierType {
	return domain.VerifierCodeExecution
}

// Verify runs the submitted code and checks the descriptor's
// expectations against its output.
func (v *CodeExecutionVerifier) Verify(ctx context.Context, req *domain.VerifyRequest) (*domain.VerifyResult, error) {
	timeout := v.defaultTimeout
	if req.Descriptor.Timeout > 0 {
		timeout = req.Descriptor.Timeout
	}
	expectedOutput := strings.TrimSpace(req.Descriptor.ExpectedOutput)

	if v.sandboxes == nil {
		return &domain.VerifyResult{
			IsValid: false,
			Details: "sandbox service is not configured",
			Error:   domain.VerifyErrMissingSandboxKey,
		}, nil
	}

	v.logger.Printf("Running code execution verification for contract %s (timeout=%ds, expected_output=%t)",
		req.ContractID, timeout, expectedOutput != "")

	result, err := v.runInSandbox(ctx, req.Payload, time.Duration(timeout)*time.Second)
	if err != nil {
		if errors.Is(err, ErrExecutionTimeout) || errors.Is(err, context.DeadlineExceeded) {
			v.logger.Printf("Execution timed out for contract %s after %ds", req.ContractID, timeout)
			return &domain.VerifyResult{
				IsValid: false,
				Details: fmt.Sprintf("code execution timed out after %d seconds", timeout),
				Error:   domain.VerifyErrTimeout,
				Logs:    map[string]any{"timeout": timeout},
			}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		v.logger.Printf("Sandbox execution failed for contract %s: %v", req.ContractID, err)
		return &domain.VerifyResult{
			IsValid: false,
			Details: fmt.Sprintf("sandbox execution failed: %v", err),
			Error:   domain.VerifyErrSandbox,
			Logs:    map[string]any{"exception": err.Error()},
		}, nil
	}

	logs := map[string]any{
		"stdout":          result.Stdout,
		"stderr":          result.Stderr,
		"exit_code":       result.ExitCode,
		"timeout":         timeout,
		"expected_output": expectedOutput,
	}

	// Check 1: exit code must be 0
	if result.ExitCode != 0 {
		return &domain.VerifyResult{
			IsValid: false,
			Details: fmt.Sprintf("non-zero exit: %d", result.ExitCode),
			Logs:    logs,
		}, nil
	}

	// Check 2: expected output (if specified)
	if expectedOutput != "" {
		trimmed := strings.TrimSpace(result.Stdout)
		if strings.Contains(trimmed, expectedOutput) {
			return &domain.VerifyResult{
				IsValid: true,
				Score:   domain.ScoreOf(1.0),
				Details: fmt.Sprintf("code executed successfully; expected output %q found in stdout", expectedOutput),
				Logs:    logs,
			}, nil
		}
		return &domain.VerifyResult{
			IsValid: false,
			Details: fmt.Sprintf("output mismatch; expected %q in %q", expectedOutput, prefix(trimmed, 200)),
			Logs:    logs,
		}, nil
	}

	// No expected output: exit code 0 is enough
	return &domain.VerifyResult{
		IsValid: true,
		Score:   domain.ScoreOf(1.0),
		Details: "code executed successfully with exit code 0",
		Logs:    logs,
	}, nil
}

// runInSandbox allocates a sandbox and executes the code. Allocation
// is retried twice with exponential backoff (base 2s, cap 8s) on
// transient failures; this is bounded and invisible to the outer
// retry loop.
func (v *CodeExecutionVerifier) runInSandbox(ctx context.Context, code string, timeout time.Duration) (*ExecResult, error) {
	var sandbox Sandbox

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 8 * time.Second

	err := backoff.Retry(func() error {
		var allocErr error
		sandbox, allocErr = v.sandboxes.Allocate(ctx, timeout)
		return allocErr
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx))
	if err != nil {
		return nil, fmt.Errorf("sandbox allocation failed: %w", err)
	}
	defer sandbox.Close()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return sandbox.Run(runCtx, code)
}

// prefix truncates s to at most n bytes for log-safe previews
func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
