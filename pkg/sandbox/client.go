// Copyright 2025 Clearing Protocol
//
// Sandbox Client - HTTP client for a remote code-execution sandbox
// service. Each allocation provisions a fresh isolated VM; the service
// is responsible for network, filesystem, and syscall restrictions.

package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/agentclearing/clearinghouse/pkg/verifier"
)

// Client allocates sandboxes from a remote sandbox runner service
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *log.Logger
}

// ClientConfig holds configuration for the sandbox client
type ClientConfig struct {
	// BaseURL of the sandbox runner service
	BaseURL string

	// APIKey authenticates allocation requests
	APIKey string

	// Logger for client operations
	Logger *log.Logger
}

// NewClient creates a new sandbox client
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("sandbox base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sandbox API key is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Sandbox] ", log.LstdFlags)
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{},
		logger:     cfg.Logger,
	}, nil
}

// Allocate provisions a fresh sandbox VM with the given run timeout
func (c *Client) Allocate(ctx context.Context, timeout time.Duration) (verifier.Sandbox, error) {
	body, _ := json.Marshal(map[string]any{
		"timeout_seconds": int(timeout.Seconds()),
	})

	resp, err := c.post(ctx, "/v1/sandboxes", body)
	if err != nil {
		return nil, fmt.Errorf("sandbox allocation request failed: %w", err)
	}

	var allocated struct {
		SandboxID string `json:"sandbox_id"`
	}
	if err := json.Unmarshal(resp, &allocated); err != nil {
		return nil, fmt.Errorf("failed to decode allocation response: %w", err)
	}
	if allocated.SandboxID == "" {
		return nil, fmt.Errorf("sandbox service returned no sandbox id")
	}

	c.logger.Printf("Allocated sandbox %s (timeout=%s)", allocated.SandboxID, timeout)

	return &remoteSandbox{
		client:    c,
		sandboxID: allocated.SandboxID,
		timeout:   timeout,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("sandbox service returned %d: %s", resp.StatusCode, data)
	}
	return data, nil
}

// remoteSandbox is a single-use sandbox VM on the runner service
type remoteSandbox struct {
	client    *Client
	sandboxID string
	timeout   time.Duration
}

// Run executes code in the sandbox and joins the stdout and stderr
// lines of the run response into the result.
func (s *remoteSandbox) Run(ctx context.Context, code string) (*verifier.ExecResult, error) {
	body, _ := json.Marshal(map[string]any{
		"code":            code,
		"timeout_seconds": int(s.timeout.Seconds()),
	})

	resp, err := s.client.post(ctx, "/v1/sandboxes/"+s.sandboxID+"/run", body)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, verifier.ErrExecutionTimeout
		}
		return nil, fmt.Errorf("sandbox run failed: %w", err)
	}

	var run struct {
		StdoutLines []string `json:"stdout_lines"`
		StderrLines []string `json:"stderr_lines"`
		ExitCode    int      `json:"exit_code"`
		TimedOut    bool     `json:"timed_out"`
	}
	if err := json.Unmarshal(resp, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run response: %w", err)
	}
	if run.TimedOut {
		return nil, verifier.ErrExecutionTimeout
	}

	return &verifier.ExecResult{
		Stdout:   joinLines(run.StdoutLines),
		Stderr:   joinLines(run.StderrLines),
		ExitCode: run.ExitCode,
	}, nil
}

// Close destroys the sandbox VM. Best-effort: the service reaps
// leaked sandboxes after their timeout anyway.
func (s *remoteSandbox) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		s.client.baseURL+"/v1/sandboxes/"+s.sandboxID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.client.apiKey)

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		s.client.logger.Printf("Failed to destroy sandbox %s: %v", s.sandboxID, err)
		return err
	}
	resp.Body.Close()
	return nil
}

func joinLines(lines []string) string {
	out := ""
	for i, line := range lines {
		if i > 0 {
			out += "\n"
		}
		out += line
	}
	return out
}
