// Package chrome implements core.Driver on top of chromedp.
package chrome

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/logger"
)

// DefaultHTMLLimit caps the page HTML handed to the fallback interpreter.
const DefaultHTMLLimit = 100_000

// Config configures browser sessions.
type Config struct {
	Headless bool
	// ExecPath overrides the browser binary. Empty = chromedp's lookup.
	ExecPath string
	// Window size in pixels (0 = 1280x800)
	WindowWidth  int
	WindowHeight int
	// HTMLLimit caps PageContext HTML (0 = DefaultHTMLLimit)
	HTMLLimit int
}

// Driver opens one Chrome tab per session, each in its own browser process.
type Driver struct {
	cfg Config
}

// New creates a Chrome driver.
func New(cfg Config) *Driver {
	if cfg.WindowWidth == 0 || cfg.WindowHeight == 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1280, 800
	}
	if cfg.HTMLLimit <= 0 {
		cfg.HTMLLimit = DefaultHTMLLimit
	}
	return &Driver{cfg: cfg}
}

// Supported reports whether browser names a Chromium-based browser.
func Supported(browser string) bool {
	switch strings.ToLower(strings.TrimSpace(browser)) {
	case "", "chrome", "chromium":
		return true
	}
	return false
}

// Open starts a browser and navigates to the environment base URL.
// ctx bounds the start-up only; the session outlives it.
func (d *Driver) Open(ctx context.Context, env core.Environment, browser string) (core.Session, error) {
	if !Supported(browser) {
		return nil, core.ErrSessionUnavailable.WithMessage(fmt.Sprintf("unsupported browser %q (supported: chrome, chromium)", browser))
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.cfg.Headless),
		chromedp.WindowSize(d.cfg.WindowWidth, d.cfg.WindowHeight),
	)
	if d.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(d.cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		logger.Debug("chrome: "+format, args...)
	}))

	s := &Session{
		env:         env,
		tab:         tabCtx,
		htmlLimit:   d.cfg.HTMLLimit,
		allocCancel: allocCancel,
		tabCancel:   tabCancel,
	}

	// First Run starts the browser.
	var actions []chromedp.Action
	if env.BaseURL != "" {
		actions = append(actions, chromedp.Navigate(env.BaseURL))
	}
	if err := s.run(ctx, actions...); err != nil {
		_ = s.Close()
		return nil, core.ErrSessionUnavailable.WithCause(err)
	}

	logger.Info("chrome session opened (env=%s, headless=%v)", env.Name, d.cfg.Headless)
	return s, nil
}

// Session is one Chrome tab.
type Session struct {
	env       core.Environment
	tab       context.Context
	htmlLimit int

	closeOnce   sync.Once
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
}

// Perform runs a single action in the tab.
func (s *Session) Perform(ctx context.Context, a core.ActionDescriptor) *core.CommandResult {
	start := time.Now()
	if err := a.Validate(); err != nil {
		return core.Failed(err, start)
	}

	var result *core.CommandResult
	switch a.Type {
	case core.ActionClick:
		result = s.click(ctx, a)
	case core.ActionFill:
		result = s.fill(ctx, a)
	case core.ActionSelect:
		result = s.selectOption(ctx, a)
	case core.ActionAssert:
		result = s.assert(ctx, a)
	case core.ActionWait:
		result = s.wait(ctx, a)
	case core.ActionNavigate:
		result = s.navigate(ctx, a)
	case core.ActionCall:
		result = s.call(ctx, a)
	default:
		result = errorResult(core.ErrUnsupportedAction.WithMessage(fmt.Sprintf("unsupported action %q", a.Type)), "")
	}
	result.Duration = time.Since(start)
	return result
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// PageContext snapshots location, title and (truncated) outer HTML.
func (s *Session) PageContext(ctx context.Context) (*core.PageContext, error) {
	var loc, title, html string
	err := s.run(ctx,
		chromedp.Location(&loc),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	return &core.PageContext{
		URL:        loc,
		Title:      title,
		HTML:       truncate(html, s.htmlLimit),
		CapturedAt: time.Now().UTC(),
	}, nil
}

// Close shuts the tab and the browser. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.tabCancel()
		s.allocCancel()
		logger.Info("chrome session closed (env=%s)", s.env.Name)
	})
	return nil
}

// run executes actions in the tab, bounded by ctx.
// chromedp needs a context derived from the tab, so ctx is bridged onto one.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tab)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit]
}
