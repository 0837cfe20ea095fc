// Copyright 2025 Clearing Protocol
//
// Judge Client - OpenAI-compatible chat-completions client used by the
// semantic verifier. Temperature is fixed at 0 and max tokens are
// bounded so judgements stay deterministic.

package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client calls an OpenAI-compatible chat-completions endpoint
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     *log.Logger
}

// ClientConfig holds configuration for the judge client
type ClientConfig struct {
	// BaseURL of the chat-completions API (e.g. https://api.openai.com)
	BaseURL string

	// APIKey authenticates requests
	APIKey string

	// Model is the judge model identifier
	Model string

	// MaxTokens bounds the judge's answer
	MaxTokens int

	// Timeout is the per-request wall-clock budget
	Timeout time.Duration

	// Logger for client operations
	Logger *log.Logger
}

// NewClient creates a new judge client
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("judge base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("judge API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("judge model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Judge] ", log.LstdFlags)
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger,
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Evaluate sends the prompt to the model and returns its raw text
func (c *Client) Evaluate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   c.maxTokens,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode judge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("judge request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read judge response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("judge service returned %d: %s", resp.StatusCode, data)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode judge response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("judge service error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("judge returned empty response")
	}

	return parsed.Choices[0].Message.Content, nil
}
