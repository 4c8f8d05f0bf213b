package chrome

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
)

func (s *Session) click(ctx context.Context, a core.ActionDescriptor) *core.CommandResult {
	if err := s.run(ctx, chromedp.Click(a.Selector, chromedp.ByQuery)); err != nil {
		return errorResult(elementError(a.Selector, err), "")
	}
	return successResult(fmt.Sprintf("Clicked %s", a.Selector), nil)
}

func (s *Session) fill(ctx context.Context, a core.ActionDescriptor) *core.CommandResult {
	err := s.run(ctx,
		chromedp.WaitVisible(a.Selector, chromedp.ByQuery),
		chromedp.Clear(a.Selector, chromedp.ByQuery),
		chromedp.SendKeys(a.Selector, a.Value, chromedp.ByQuery),
	)
	if err != nil {
		return errorResult(elementError(a.Selector, err), "")
	}
	return successResult(fmt.Sprintf("Filled %s", a.Selector), nil)
}

func (s *Session) selectOption(ctx context.Context, a core.ActionDescriptor) *core.CommandResult {
	err := s.run(ctx,
		chromedp.WaitVisible(a.Selector, chromedp.ByQuery),
		chromedp.SetValue(a.Selector, a.Value, chromedp.ByQuery),
	)
	if err != nil {
		return errorResult(elementError(a.Selector, err), "")
	}
	return successResult(fmt.Sprintf("Selected %q in %s", a.Value, a.Selector), nil)
}

// assert checks visibility of Selector and, when Value is set, that the
// element's text (or the page body's text without a selector) contains it.
func (s *Session) assert(ctx context.Context, a core.ActionDescriptor) *core.CommandResult {
	sel := a.Selector
	if sel == "" {
		sel = "body"
	}
	var text string
	err := s.run(ctx,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Text(sel, &text, chromedp.ByQuery),
	)
	if err != nil {
		return errorResult(elementError(sel, err), "")
	}
	if a.Value != "" && !strings.Contains(text, a.Value) {
		msg := fmt.Sprintf("expected %s to contain %q, got %q", sel, a.Value, truncate(strings.TrimSpace(text), 200))
		return errorResult(core.ErrTextMismatch.WithMessage(msg), "")
	}
	return successResult(fmt.Sprintf("Asserted %s", a.Describe()), text)
}

func (s *Session) wait(ctx context.Context, a core.ActionDescriptor) *core.CommandResult {
	if a.Selector != "" {
		if err := s.run(ctx, chromedp.WaitVisible(a.Selector, chromedp.ByQuery)); err != nil {
			if isTimeout(err) {
				return errorResult(core.ErrWaitTimeout.WithMessage(fmt.Sprintf("%s did not become visible", a.Selector)), "")
			}
			return errorResult(core.ErrSessionLost.WithCause(err), "")
		}
		return successResult(fmt.Sprintf("Waited for %s", a.Selector), nil)
	}

	ms, _ := strconv.Atoi(a.Value)
	d := time.Duration(ms) * time.Millisecond
	if err := s.run(ctx, chromedp.Sleep(d)); err != nil {
		return errorResult(core.ErrTimeout.WithCause(err), "")
	}
	return successResult(fmt.Sprintf("Waited %v", d), nil)
}

func (s *Session) navigate(ctx context.Context, a core.ActionDescriptor) *core.CommandResult {
	target := a.Value
	if target == "" {
		target = a.Selector
	}
	u, err := resolveTarget(s.env.BaseURL, target)
	if err != nil {
		return errorResult(core.ErrNavigationFailed.WithCause(err), "")
	}
	if err := s.run(ctx, chromedp.Navigate(u)); err != nil {
		return errorResult(core.ErrNavigationFailed.WithMessage(fmt.Sprintf("navigate to %s failed", u)).WithCause(err), "")
	}
	return successResult(fmt.Sprintf("Navigated to %s", u), u)
}

// call evaluates a screen method script. A selector, when present, is exposed
// to the script as the global `selector`.
func (s *Session) call(ctx context.Context, a core.ActionDescriptor) *core.CommandResult {
	script := a.Value
	if a.Selector != "" {
		script = fmt.Sprintf("(function(selector){ return (%s); })(%s)", wrapScript(a.Value), strconv.Quote(a.Selector))
	}
	var res interface{}
	if err := s.run(ctx, chromedp.Evaluate(script, &res)); err != nil {
		if isTimeout(err) {
			return errorResult(core.ErrTimeout.WithCause(err), "")
		}
		return errorResult(core.NewExecutionError(core.ErrCategoryApp, "script_failed", "script failed").WithCause(err), "")
	}
	return successResult("Script executed", res)
}

// wrapScript turns a statement list into an expression.
func wrapScript(script string) string {
	return "(function(){ " + script + " })()"
}

// resolveTarget joins a relative target onto the environment base URL.
func resolveTarget(baseURL, target string) (string, error) {
	t, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return "", fmt.Errorf("invalid navigation target %q: %w", target, err)
	}
	if t.IsAbs() {
		return t.String(), nil
	}
	if baseURL == "" {
		return "", fmt.Errorf("relative target %q without a base URL", target)
	}
	b, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if !strings.HasSuffix(b.Path, "/") {
		b.Path += "/"
	}
	if strings.HasPrefix(t.Path, "/") {
		t.Path = strings.TrimPrefix(t.Path, "/")
	}
	return b.ResolveReference(t).String(), nil
}

// elementError classifies a failed element interaction.
func elementError(selector string, err error) error {
	if isTimeout(err) {
		return core.ErrElementNotFound.WithMessage(fmt.Sprintf("element %s not found", selector)).WithCause(err)
	}
	return core.ErrSessionLost.WithCause(err)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func successResult(msg string, data interface{}) *core.CommandResult {
	return &core.CommandResult{
		Success: true,
		Message: msg,
		Data:    data,
	}
}

func errorResult(err error, msg string) *core.CommandResult {
	if msg == "" {
		msg = err.Error()
	}
	return &core.CommandResult{
		Success: false,
		Error:   err,
		Message: msg,
	}
}
