// Package interpreter provides fallback interpreters that map an instruction
// to an action using the live page instead of the element registry.
package interpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/logger"
	"github.com/devicelab-dev/webtest-runner/pkg/resolver"
)

const (
	defaultTimeout = 60 * time.Second
	maxHTML        = 200_000 // bytes of page HTML sent per request
	maxErrorBody   = 512
)

// Config configures the HTTP interpreter client.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client posts instructions with page context to a model-serving endpoint.
type Client struct {
	url    string
	apiKey string
	http   *http.Client
}

var _ resolver.Interpreter = (*Client)(nil)

// NewClient creates an interpreter client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: timeout},
	}
}

type pagePayload struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	HTML  string `json:"html"`
}

type requestPayload struct {
	Instruction string            `json:"instruction"`
	Page        *pagePayload      `json:"page,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
}

// Interpret implements resolver.Interpreter.
func (c *Client) Interpret(ctx context.Context, req resolver.InterpretRequest) (core.ActionDescriptor, error) {
	payload := requestPayload{Instruction: req.Instruction, Variables: req.Variables}
	if req.Page != nil {
		payload.Page = &pagePayload{URL: req.Page.URL, Title: req.Page.Title, HTML: truncate(req.Page.HTML, maxHTML)}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return core.ActionDescriptor{}, fmt.Errorf("failed to marshal interpreter request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return core.ActionDescriptor{}, fmt.Errorf("failed to create interpreter request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return core.ActionDescriptor{}, core.ErrInterpreterUnavailable.WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.ActionDescriptor{}, fmt.Errorf("failed to read interpreter response: %w", err)
	}
	logger.Debug("interpreter responded %d in %s", resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return core.ActionDescriptor{}, core.ErrInterpreterUnavailable.WithMessage(
			fmt.Sprintf("interpreter returned status %d: %s", resp.StatusCode, truncate(string(data), maxErrorBody)))
	}

	var action core.ActionDescriptor
	if err := json.Unmarshal(data, &action); err != nil {
		return core.ActionDescriptor{}, core.ErrUnresolved.WithMessage("interpreter returned malformed action").WithCause(err)
	}
	if kind, err := core.ParseActionKind(string(action.Type)); err == nil {
		action.Type = kind
	}
	if err := action.Validate(); err != nil {
		return core.ActionDescriptor{}, err
	}
	return action, nil
}

// Unavailable is used when no interpreter is configured.
type Unavailable struct{}

var _ resolver.Interpreter = Unavailable{}

// Interpret always fails.
func (Unavailable) Interpret(_ context.Context, _ resolver.InterpretRequest) (core.ActionDescriptor, error) {
	return core.ActionDescriptor{}, core.ErrInterpreterUnavailable
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
