// Package mock provides a mock driver for testing without a real browser.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
)

// Driver is a mock implementation of core.Driver for testing.
type Driver struct {
	// Configuration
	Config Config

	mu       sync.Mutex
	sessions []*Session
	open     int
}

// Config configures mock driver behavior.
type Config struct {
	// FailOnStep makes the Nth action of every session fail (1-indexed). 0 = never fail.
	FailOnStep int
	// FailSelectors makes actions on these selectors fail.
	FailSelectors []string
	// PanicSelectors makes actions on these selectors panic.
	PanicSelectors []string
	// StepDelay adds artificial delay per action. The delay honors ctx.
	StepDelay time.Duration
	// OpenError makes Open fail.
	OpenError error
	// ScreenshotError makes Screenshot fail.
	ScreenshotError error
	// Page is returned by PageContext. Defaults to the environment base URL.
	Page *core.PageContext
}

// New creates a new mock driver.
func New(cfg Config) *Driver {
	return &Driver{Config: cfg}
}

// Open implements core.Driver.
func (d *Driver) Open(_ context.Context, env core.Environment, browser string) (core.Session, error) {
	if d.Config.OpenError != nil {
		return nil, d.Config.OpenError
	}
	s := &Session{driver: d, env: env, browser: browser}
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.open++
	d.mu.Unlock()
	return s, nil
}

// Sessions returns every session opened so far.
func (d *Driver) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Session(nil), d.sessions...)
}

// OpenSessions returns the number of sessions not yet closed.
func (d *Driver) OpenSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *Driver) closed() {
	d.mu.Lock()
	d.open--
	d.mu.Unlock()
}

// Session is one mock browser page.
type Session struct {
	driver  *Driver
	env     core.Environment
	browser string

	mu        sync.Mutex
	performed []core.ActionDescriptor
	isClosed  bool
}

// Environment returns the environment the session was opened for.
func (s *Session) Environment() core.Environment { return s.env }

// Browser returns the browser the session was opened for.
func (s *Session) Browser() string { return s.browser }

// Actions returns the actions performed so far.
func (s *Session) Actions() []core.ActionDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.ActionDescriptor(nil), s.performed...)
}

// Perform simulates an action.
func (s *Session) Perform(ctx context.Context, a core.ActionDescriptor) *core.CommandResult {
	s.mu.Lock()
	s.performed = append(s.performed, a)
	n := len(s.performed)
	s.mu.Unlock()
	start := time.Now()
	cfg := s.driver.Config

	if cfg.StepDelay > 0 {
		select {
		case <-time.After(cfg.StepDelay):
		case <-ctx.Done():
			return core.Failed(ctx.Err(), start)
		}
	}

	if contains(cfg.PanicSelectors, a.Selector) {
		panic(fmt.Sprintf("mock panic on %s", a.Selector))
	}

	// Check if this action should fail
	if (cfg.FailOnStep > 0 && n == cfg.FailOnStep) || contains(cfg.FailSelectors, a.Selector) {
		err := core.ErrElementNotFound.WithMessage(fmt.Sprintf("element %s not found", a.Selector))
		return &core.CommandResult{
			Success:  false,
			Duration: time.Since(start),
			Error:    err,
			Message:  fmt.Sprintf("Simulated failure on action %d (%s)", n, a.Type),
		}
	}

	return &core.CommandResult{
		Success:  true,
		Duration: time.Since(start),
		Message:  fmt.Sprintf("Mock executed: %s", a.Describe()),
	}
}

// Screenshot returns a mock PNG image.
func (s *Session) Screenshot(_ context.Context) ([]byte, error) {
	if err := s.driver.Config.ScreenshotError; err != nil {
		return nil, err
	}
	// Minimal valid PNG (1x1 transparent pixel)
	return []byte{
		0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, // PNG signature
		0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52, // IHDR chunk
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
		0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41,
		0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
		0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
		0x42, 0x60, 0x82,
	}, nil
}

// PageContext returns the configured page, or a stub page at the base URL.
func (s *Session) PageContext(_ context.Context) (*core.PageContext, error) {
	if p := s.driver.Config.Page; p != nil {
		c := *p
		return &c, nil
	}
	return &core.PageContext{
		URL:        s.env.BaseURL,
		Title:      "Mock Page",
		HTML:       `<html><body><button id="mock-element">Mock Element</button></body></html>`,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// Close implements core.Session. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	already := s.isClosed
	s.isClosed = true
	s.mu.Unlock()
	if !already {
		s.driver.closed()
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
