// Copyright 2025 Clearing Protocol
//
// Semantic Verifier Tests

package verifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/agentclearing/clearinghouse/pkg/domain"
)

// fakeJudge returns a canned response or error
type fakeJudge struct {
	response string
	err      error
	calls    int
}

func (f *fakeJudge) Evaluate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func semanticRequest(criteria string) *domain.VerifyRequest {
	return &domain.VerifyRequest{
		ContractID: "contract-1",
		Payload:    "Roses are red / Violets are blue / Code is verified / And so are you",
		Descriptor: &domain.Descriptor{Type: domain.VerifierSemantic, Criteria: criteria},
	}
}

func TestSemantic_PassingVerdict(t *testing.T) {
	judge := &fakeJudge{response: "VERDICT: TRUE\nSCORE: 0.92\nREASONING: The poem rhymes in an AABB scheme."}
	v := NewSemanticVerifier(judge, nil)

	result, err := v.Verify(context.Background(), semanticRequest("must rhyme (AABB/ABAB)"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.IsValid {
		t.Fatal("expected pass")
	}
	if result.Score == nil || *result.Score != 0.92 {
		t.Errorf("score: got %v", result.Score)
	}
	if !strings.Contains(result.Details, "AABB") {
		t.Errorf("reasoning should be captured, got %q", result.Details)
	}
}

func TestSemantic_FailingVerdict(t *testing.T) {
	judge := &fakeJudge{response: "VERDICT: FALSE\nSCORE: 0.1\nREASONING: No rhyme scheme detected."}
	v := NewSemanticVerifier(judge, nil)

	result, err := v.Verify(context.Background(), semanticRequest("must rhyme"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.IsValid {
		t.Fatal("expected fail")
	}
}

// Every ambiguity resolves to failure
func TestSemantic_VerdictParsing(t *testing.T) {
	cases := []struct {
		response string
		want     bool
	}{
		{"VERDICT: TRUE\nSCORE: 1.0\nREASONING: ok", true},
		{"verdict: true\nSCORE: 1.0\nREASONING: ok", true}, // case-insensitive
		{"VERDICT:  TRUE  \nSCORE: 1.0\nREASONING: ok", true},
		{"VERDICT: FALSE\nSCORE: 1.0\nREASONING: ok", false},
		{"VERDICT: MAYBE\nSCORE: 0.5\nREASONING: unsure", false},
		{"VERDICT: PARTIAL\nSCORE: 0.5\nREASONING: partly", false},
		{"VERDICT: TRUEish\nSCORE: 1.0\nREASONING: ok", false},
		{"SCORE: 1.0\nREASONING: no verdict line", false},
		{"complete garbage", false},
		{"", false},
	}

	for _, tc := range cases {
		verdict, _, _ := parseJudgeResponse(tc.response)
		if verdict != tc.want {
			t.Errorf("verdict for %q: got %t, want %t", tc.response, verdict, tc.want)
		}
	}
}

func TestSemantic_ScoreParsing(t *testing.T) {
	cases := []struct {
		response string
		want     float64
	}{
		{"VERDICT: TRUE\nSCORE: 0.85\nREASONING: ok", 0.85},
		{"VERDICT: TRUE\nSCORE: 1.5\nREASONING: ok", 1.0},  // clamped high
		{"VERDICT: TRUE\nSCORE: -0.5\nREASONING: ok", 0.0}, // clamped low
		{"VERDICT: TRUE\nSCORE: banana\nREASONING: ok", 0.0},
		{"VERDICT: TRUE\nREASONING: no score", 0.0},
	}

	for _, tc := range cases {
		_, score, _ := parseJudgeResponse(tc.response)
		if score != tc.want {
			t.Errorf("score for %q: got %v, want %v", tc.response, score, tc.want)
		}
	}
}

func TestSemantic_MultilineReasoning(t *testing.T) {
	response := "VERDICT: TRUE\nSCORE: 0.9\nREASONING:\nThe work is good.\nIt meets every criterion."
	_, _, reasoning := parseJudgeResponse(response)
	if !strings.Contains(reasoning, "meets every criterion") {
		t.Errorf("multiline reasoning should be captured, got %q", reasoning)
	}
}

func TestSemantic_MissingReasoningFallsBackToRaw(t *testing.T) {
	_, _, reasoning := parseJudgeResponse("VERDICT: FALSE\nSCORE: 0.0")
	if !strings.Contains(reasoning, "VERDICT: FALSE") {
		t.Errorf("fallback reasoning should carry the raw response, got %q", reasoning)
	}
}

func TestSemantic_MissingCriteria(t *testing.T) {
	judge := &fakeJudge{response: "VERDICT: TRUE\nSCORE: 1.0\nREASONING: ok"}
	v := NewSemanticVerifier(judge, nil)

	result, err := v.Verify(context.Background(), semanticRequest("   "))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Error != domain.VerifyErrMissingCriteria {
		t.Errorf("error: got %q, want MISSING_CRITERIA", result.Error)
	}
	if judge.calls != 0 {
		t.Error("judge should not be called without criteria")
	}
}

func TestSemantic_JudgeFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("judge retry backs off for seconds")
	}

	judge := &fakeJudge{err: errors.New("model unavailable")}
	v := NewSemanticVerifier(judge, nil)

	result, err := v.Verify(context.Background(), semanticRequest("must rhyme"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Error != domain.VerifyErrLLMJudge {
		t.Errorf("error: got %q, want LLM_JUDGE_ERROR", result.Error)
	}
	if judge.calls != 3 {
		t.Errorf("judge attempts: got %d, want 3", judge.calls)
	}
}

func TestSemantic_NilJudge(t *testing.T) {
	v := NewSemanticVerifier(nil, nil)

	result, err := v.Verify(context.Background(), semanticRequest("must rhyme"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Error != domain.VerifyErrLLMJudge {
		t.Errorf("error: got %q, want LLM_JUDGE_ERROR", result.Error)
	}
}
