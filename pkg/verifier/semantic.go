// Copyright 2025 Clearing Protocol
//
// Semantic Verifier - delegates judgement of subjective work to an
// external model. The judge prompt is strict and deterministic:
// temperature 0, bounded tokens, a fixed three-line answer format, and
// every parsing ambiguity resolves to a failing verdict.

package verifier

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentclearing/clearinghouse/pkg/domain"
)

// Judge takes a composed prompt and returns the model's raw text.
// Implementations fix temperature at 0 and bound max tokens.
type Judge interface {
	Evaluate(ctx context.Context, prompt string) (string, error)
}

const judgePromptTemplate = `You are an impartial, strict verification judge for an escrow clearinghouse.

Your job is to determine whether submitted work meets the specified criteria.
You must be OBJECTIVE and STRICT. If there is any ambiguity, err on the side of FAILING.

You MUST respond in EXACTLY this format (no extra text before or after):

VERDICT: TRUE or FALSE
SCORE: a number from 0.0 to 1.0
REASONING: one paragraph explaining your decision

Rules:
- VERDICT must be exactly "TRUE" or "FALSE" (no "MAYBE", "PARTIAL", etc.)
- SCORE 1.0 = perfect, 0.0 = completely wrong
- Be concise but thorough in REASONING

## Criteria
%s

## Submitted Work
%s

Evaluate whether the submitted work meets the criteria above.`

// SemanticVerifier evaluates work quality through an external judge
type SemanticVerifier struct {
	judge  Judge
	logger *log.Logger
}

// NewSemanticVerifier creates the semantic strategy
func NewSemanticVerifier(judge Judge, logger *log.Logger) *SemanticVerifier {
	if logger == nil {
		logger = log.New(log.Writer(), "[Verifier] ", log.LstdFlags)
	}
	return &SemanticVerifier{judge: judge, logger: logger}
}

// Type returns the strategy's verifier type
func (v *SemanticVerifier) Type() domain.VerifierType {
	return domain.VerifierSemantic
}

// Verify evaluates the payload against the descriptor's criteria.
func (v *SemanticVerifier) Verify(ctx context.Context, req *domain.VerifyRequest) (*domain.VerifyResult, error) {
	criteria := strings.TrimSpace(req.Descriptor.Criteria)
	if criteria == "" {
		return &domain.VerifyResult{
			IsValid: false,
			Details: "no criteria field in verification descriptor",
			Error:   domain.VerifyErrMissingCriteria,
		}, nil
	}

	if v.judge == nil {
		return &domain.VerifyResult{
			IsValid: false,
			Details: "judge client is not configured",
			Error:   domain.VerifyErrLLMJudge,
		}, nil
	}

	v.logger.Printf("Running semantic verification for contract %s (criteria=%q)",
		req.ContractID, prefix(criteria, 100))

	response, err := v.callJudge(ctx, criteria, req.Payload)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		v.logger.Printf("Judge call failed for contract %s: %v", req.ContractID, err)
		return &domain.VerifyResult{
			IsValid: false,
			Details: fmt.Sprintf("judge failed: %v", err),
			Error:   domain.VerifyErrLLMJudge,
			Logs:    map[string]any{"exception": err.Error()},
		}, nil
	}

	verdict, score, reasoning := parseJudgeResponse(response)

	return &domain.VerifyResult{
		IsValid: verdict,
		Score:   domain.ScoreOf(score),
		Details: reasoning,
		Logs: map[string]any{
			"judge_response": response,
			"criteria":       criteria,
		},
	}, nil
}

// callJudge invokes the judge with three attempts and exponential
// backoff (2-10s) on transient failures.
func (v *SemanticVerifier) callJudge(ctx context.Context, criteria, payload string) (string, error) {
	prompt := fmt.Sprintf(judgePromptTemplate, criteria, payload)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 10 * time.Second

	var response string
	err := backoff.Retry(func() error {
		var callErr error
		response, callErr = v.judge.Evaluate(ctx, prompt)
		if callErr != nil {
			return callErr
		}
		if strings.TrimSpace(response) == "" {
			return fmt.Errorf("judge returned empty response")
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx))
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(response), nil
}

// parseJudgeResponse parses the structured three-line judge answer.
//
//	VERDICT: TRUE
//	SCORE: 0.85
//	REASONING: The work meets all criteria because...
//
// Every ambiguity resolves to failure: a verdict other than TRUE is
// FALSE, an unparseable score is 0.0, and a missing reasoning falls
// back to the truncated raw response.
func parseJudgeResponse(response string) (verdict bool, score float64, reasoning string) {
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "VERDICT:"):
			value := strings.ToUpper(strings.TrimSpace(line[len("VERDICT:"):]))
			verdict = value == "TRUE"
		case strings.HasPrefix(upper, "SCORE:"):
			value := strings.TrimSpace(line[len("SCORE:"):])
			parsed, err := strconv.ParseFloat(value, 64)
			if err != nil {
				score = 0.0
			} else {
				score = clamp(parsed, 0.0, 1.0)
			}
		case strings.HasPrefix(upper, "REASONING:") && reasoning == "":
			reasoning = strings.TrimSpace(line[len("REASONING:"):])
		}
	}

	// Reasoning may span multiple lines after the marker
	if reasoning == "" {
		if idx := strings.Index(strings.ToUpper(response), "REASONING:"); idx >= 0 {
			reasoning = strings.TrimSpace(response[idx+len("REASONING:"):])
		}
	}

	if reasoning == "" {
		reasoning = fmt.Sprintf("could not parse structured reasoning from judge response; raw: %s",
			prefix(response, 200))
	}

	return verdict, score, reasoning
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
