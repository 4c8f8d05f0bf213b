package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
)

var env = core.Environment{Name: "staging", BaseURL: "https://staging.shop.example.com"}

func click(sel string) core.ActionDescriptor {
	return core.ActionDescriptor{Type: core.ActionClick, Selector: sel}
}

func TestSession_Perform(t *testing.T) {
	d := New(Config{FailOnStep: 2, FailSelectors: []string{"#broken"}})
	s, err := d.Open(context.Background(), env, "chrome")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ctx := context.Background()

	if r := s.Perform(ctx, click("#a")); !r.Success {
		t.Errorf("action 1 failed: %v", r.Error)
	}
	r := s.Perform(ctx, click("#b"))
	if r.Success || !errors.Is(r.Error, core.ErrElementNotFound) {
		t.Errorf("action 2 = %+v, want element not found", r)
	}
	if r := s.Perform(ctx, click("#broken")); r.Success {
		t.Error("action on failing selector succeeded")
	}

	ms := d.Sessions()[0]
	if got := len(ms.Actions()); got != 3 {
		t.Errorf("recorded %d actions, want 3", got)
	}
	if ms.Environment() != env || ms.Browser() != "chrome" {
		t.Errorf("session opened for %+v / %s", ms.Environment(), ms.Browser())
	}
}

func TestSession_Panic(t *testing.T) {
	d := New(Config{PanicSelectors: []string{"#boom"}})
	s, _ := d.Open(context.Background(), env, "chrome")
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	s.Perform(context.Background(), click("#boom"))
}

func TestSession_DelayHonorsContext(t *testing.T) {
	d := New(Config{StepDelay: time.Minute})
	s, _ := d.Open(context.Background(), env, "chrome")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	r := s.Perform(ctx, click("#a"))
	if r.Success || !errors.Is(r.Error, context.DeadlineExceeded) {
		t.Errorf("result = %+v, want deadline exceeded", r)
	}
}

func TestDriver_OpenError(t *testing.T) {
	want := errors.New("no browser")
	d := New(Config{OpenError: want})
	if _, err := d.Open(context.Background(), env, "chrome"); !errors.Is(err, want) {
		t.Errorf("Open() error = %v, want %v", err, want)
	}
}

func TestDriver_OpenSessions(t *testing.T) {
	d := New(Config{})
	a, _ := d.Open(context.Background(), env, "chrome")
	b, _ := d.Open(context.Background(), env, "chrome")
	if d.OpenSessions() != 2 {
		t.Fatalf("OpenSessions() = %d, want 2", d.OpenSessions())
	}
	a.Close()
	a.Close()
	if d.OpenSessions() != 1 {
		t.Errorf("OpenSessions() = %d after double close, want 1", d.OpenSessions())
	}
	b.Close()
	if d.OpenSessions() != 0 {
		t.Errorf("OpenSessions() = %d, want 0", d.OpenSessions())
	}
}

func TestSession_ScreenshotAndPage(t *testing.T) {
	d := New(Config{})
	s, _ := d.Open(context.Background(), env, "chrome")

	png, err := s.Screenshot(context.Background())
	if err != nil || len(png) < 8 || png[1] != 'P' {
		t.Errorf("Screenshot() = %d bytes, %v", len(png), err)
	}
	page, err := s.PageContext(context.Background())
	if err != nil || page.URL != env.BaseURL {
		t.Errorf("PageContext() = %+v, %v", page, err)
	}

	d.Config.ScreenshotError = errors.New("tab crashed")
	if _, err := s.Screenshot(context.Background()); err == nil {
		t.Error("expected screenshot error")
	}
}
