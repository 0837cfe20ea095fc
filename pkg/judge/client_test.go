// Copyright 2025 Clearing Protocol
//
// Judge Client Tests

package judge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func judgeServer(t *testing.T, handler func(req map[string]any) (int, any)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		status, body := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func chatBody(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
}

func TestEvaluate_ReturnsContent(t *testing.T) {
	var captured map[string]any
	ts := judgeServer(t, func(req map[string]any) (int, any) {
		captured = req
		return http.StatusOK, chatBody("VERDICT: TRUE\nSCORE: 1.0\nREASONING: fine")
	})

	client, err := NewClient(&ClientConfig{BaseURL: ts.URL, APIKey: "k", Model: "judge-1"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	got, err := client.Evaluate(context.Background(), "judge this")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got != "VERDICT: TRUE\nSCORE: 1.0\nREASONING: fine" {
		t.Errorf("content: got %q", got)
	}

	// Determinism knobs are pinned on every request
	if captured["temperature"] != float64(0) {
		t.Errorf("temperature: got %v, want 0", captured["temperature"])
	}
	if captured["max_tokens"] == float64(0) {
		t.Error("max_tokens must be bounded")
	}
	if captured["model"] != "judge-1" {
		t.Errorf("model: got %v", captured["model"])
	}
}

func TestEvaluate_ServerError(t *testing.T) {
	ts := judgeServer(t, func(req map[string]any) (int, any) {
		return http.StatusInternalServerError, map[string]any{"error": map[string]any{"message": "overloaded"}}
	})

	client, err := NewClient(&ClientConfig{BaseURL: ts.URL, APIKey: "k", Model: "judge-1"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Evaluate(context.Background(), "judge this"); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestEvaluate_EmptyChoices(t *testing.T) {
	ts := judgeServer(t, func(req map[string]any) (int, any) {
		return http.StatusOK, map[string]any{"choices": []any{}}
	})

	client, err := NewClient(&ClientConfig{BaseURL: ts.URL, APIKey: "k", Model: "judge-1"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Evaluate(context.Background(), "judge this"); err == nil {
		t.Fatal("expected error on empty choices")
	}
}

func TestNewClient_Validation(t *testing.T) {
	cases := []*ClientConfig{
		nil,
		{APIKey: "k", Model: "m"},
		{BaseURL: "http://x", Model: "m"},
		{BaseURL: "http://x", APIKey: "k"},
	}
	for _, cfg := range cases {
		if _, err := NewClient(cfg); err == nil {
			t.Errorf("expected error for %+v", cfg)
		}
	}
}
