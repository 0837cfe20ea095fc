// Copyright 2025 Clearing Protocol
//
// Code Execution Verifier Tests

package verifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentclearing/clearinghouse/pkg/domain"
)

// fakeSandbox returns a canned result or error
type fakeSandbox struct {
	result *ExecResult
	runErr error
	closed bool
}

func (f *fakeSandbox) Run(ctx context.Context, code string) (*ExecResult, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.result, nil
}

func (f *fakeSandbox) Close() error {
	f.closed = true
	return nil
}

// fakeAllocator hands out sandboxes, optionally failing the first
// allocations to exercise the retry path
type fakeAllocator struct {
	sandbox   *fakeSandbox
	failFirst int
	calls     int
}

func (f *fakeAllocator) Allocate(ctx context.Context, timeout time.Duration) (Sandbox, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return nil, errors.New("allocation capacity exhausted")
	}
	return f.sandbox, nil
}

func codeRequest(expectedOutput string) *domain.VerifyRequest {
	return &domain.VerifyRequest{
		ContractID: "contract-1",
		Payload:    "print(sum(range(101)))",
		Descriptor: &domain.Descriptor{
			Type:           domain.VerifierCodeExecution,
			Timeout:        5,
			ExpectedOutput: expectedOutput,
		},
	}
}

func TestCodeExecution_ExpectedOutputMatch(t *testing.T) {
	alloc := &fakeAllocator{sandbox: &fakeSandbox{result: &ExecResult{Stdout: "5050\n", ExitCode: 0}}}
	v := NewCodeExecutionVerifier(alloc, 30, nil)

	result, err := v.Verify(context.Background(), codeRequest("5050"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.IsValid {
		t.Fatalf("expected pass, got %+v", result)
	}
	if result.Score == nil || *result.Score != 1.0 {
		t.Error("expected score 1.0")
	}
	if !alloc.sandbox.closed {
		t.Error("sandbox should be destroyed after the run")
	}
}

func TestCodeExecution_OutputMismatch(t *testing.T) {
	alloc := &fakeAllocator{sandbox: &fakeSandbox{result: &ExecResult{Stdout: "5000", ExitCode: 0}}}
	v := NewCodeExecutionVerifier(alloc, 30, nil)

	result, err := v.Verify(context.Background(), codeRequest("5050"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.IsValid {
		t.Fatal("expected fail on output mismatch")
	}
	if result.Error != "" {
		t.Errorf("a rejected submission is not a strategy failure, got error %q", result.Error)
	}
	if result.Logs["stdout"] != "5000" {
		t.Errorf("stdout should be captured in logs, got %v", result.Logs["stdout"])
	}
}

func TestCodeExecution_SubstringMatch(t *testing.T) {
	// expected_output is a substring check, not an equality check
	alloc := &fakeAllocator{sandbox: &fakeSandbox{result: &ExecResult{Stdout: "answer: 55 (fib 10)", ExitCode: 0}}}
	v := NewCodeExecutionVerifier(alloc, 30, nil)

	result, err := v.Verify(context.Background(), codeRequest("55"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.IsValid {
		t.Fatal("substring occurrence should pass")
	}
}

func TestCodeExecution_NonZeroExit(t *testing.T) {
	alloc := &fakeAllocator{sandbox: &fakeSandbox{result: &ExecResult{Stdout: "", Stderr: "Traceback ...", ExitCode: 1}}}
	v := NewCodeExecutionVerifier(alloc, 30, nil)

	result, err := v.Verify(context.Background(), codeRequest(""))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.IsValid {
		t.Fatal("expected fail on non-zero exit")
	}
	if result.Details != "non-zero exit: 1" {
		t.Errorf("details: got %q", result.Details)
	}
}

func TestCodeExecution_NoExpectedOutput(t *testing.T) {
	alloc := &fakeAllocator{sandbox: &fakeSandbox{result: &ExecResult{Stdout: "whatever", ExitCode: 0}}}
	v := NewCodeExecutionVerifier(alloc, 30, nil)

	result, err := v.Verify(context.Background(), codeRequest(""))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.IsValid {
		t.Fatal("exit code 0 without expected output should pass")
	}
}

func TestCodeExecution_Timeout(t *testing.T) {
	alloc := &fakeAllocator{sandbox: &fakeSandbox{runErr: ErrExecutionTimeout}}
	v := NewCodeExecutionVerifier(alloc, 30, nil)

	result, err := v.Verify(context.Background(), codeRequest("55"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.IsValid {
		t.Fatal("expected fail on timeout")
	}
	if result.Error != domain.VerifyErrTimeout {
		t.Errorf("error: got %q, want EXECUTION_TIMEOUT", result.Error)
	}
}

func TestCodeExecution_SandboxError(t *testing.T) {
	alloc := &fakeAllocator{sandbox: &fakeSandbox{runErr: errors.New("vm crashed")}}
	v := NewCodeExecutionVerifier(alloc, 30, nil)

	result, err := v.Verify(context.Background(), codeRequest("55"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.IsValid {
		t.Fatal("expected fail on sandbox error")
	}
	if result.Error != domain.VerifyErrSandbox {
		t.Errorf("error: got %q, want SANDBOX_ERROR", result.Error)
	}
	if result.Logs["exception"] == "" {
		t.Error("exception text should be recorded in logs")
	}
}

func TestCodeExecution_AllocationRetry(t *testing.T) {
	if testing.Short() {
		t.Skip("allocation retry backs off for seconds")
	}

	alloc := &fakeAllocator{
		failFirst: 1,
		sandbox:   &fakeSandbox{result: &ExecResult{Stdout: "55", ExitCode: 0}},
	}
	v := NewCodeExecutionVerifier(alloc, 30, nil)

	result, err := v.Verify(context.Background(), codeRequest("55"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.IsValid {
		t.Fatal("expected pass after transient allocation failure")
	}
	if alloc.calls != 2 {
		t.Errorf("allocator calls: got %d, want 2", alloc.calls)
	}
}

func TestCodeExecution_MissingSandbox(t *testing.T) {
	v := NewCodeExecutionVerifier(nil, 30, nil)

	result, err := v.Verify(context.Background(), codeRequest("55"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Error != domain.VerifyErrMissingSandboxKey {
		t.Errorf("error: got %q, want MISSING_SANDBOX_KEY", result.Error)
	}
}
