package core

import (
	"context"
	"time"
)

// Driver opens browser sessions against a target environment.
// Implementations: chrome (chromedp), mock.
// The Engine handles test logic; a Session just performs individual actions.
type Driver interface {
	// Open acquires a new session for the environment and browser.
	// The caller owns the session exclusively and must Close it.
	Open(ctx context.Context, env Environment, browser string) (Session, error)
}

// Session is one live browser page owned by a single test run.
type Session interface {
	// Perform runs a single action and returns the result
	Perform(ctx context.Context, action ActionDescriptor) *CommandResult

	// Screenshot captures the current viewport as PNG
	Screenshot(ctx context.Context) ([]byte, error)

	// PageContext snapshots the live page for fallback interpretation
	PageContext(ctx context.Context) (*PageContext, error)

	// Close releases the session. Safe to call more than once.
	Close() error
}

// Environment identifies where a test runs.
type Environment struct {
	Name    string `json:"name" yaml:"name"`
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`
}

// CommandResult represents the outcome of performing a single action
type CommandResult struct {
	// Core outcome
	Success  bool          `json:"success"`
	Error    error         `json:"-"`
	Duration time.Duration `json:"duration"`

	// Human-readable output
	Message string `json:"message,omitempty"`

	// Generic data for action-specific results (e.g. text read by an assert)
	Data interface{} `json:"data,omitempty"`
}

// Failed builds an unsuccessful CommandResult from err.
func Failed(err error, start time.Time) *CommandResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &CommandResult{
		Success:  false,
		Error:    err,
		Duration: time.Since(start),
		Message:  msg,
	}
}

// PageContext is a snapshot of the live page handed to the fallback interpreter.
type PageContext struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	HTML       string    `json:"html"`
	CapturedAt time.Time `json:"capturedAt"`
}
