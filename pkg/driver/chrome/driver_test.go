package chrome

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
)

func TestSupported(t *testing.T) {
	tests := []struct {
		browser string
		want    bool
	}{
		{"", true},
		{"chrome", true},
		{"Chromium", true},
		{"firefox", false},
		{"safari", false},
	}
	for _, tt := range tests {
		if got := Supported(tt.browser); got != tt.want {
			t.Errorf("Supported(%q) = %v, want %v", tt.browser, got, tt.want)
		}
	}
}

func TestOpen_UnsupportedBrowser(t *testing.T) {
	d := New(Config{Headless: true})
	_, err := d.Open(context.Background(), core.Environment{Name: "staging"}, "firefox")
	if !errors.Is(err, core.ErrSessionUnavailable) {
		t.Fatalf("Open() error = %v, want session unavailable", err)
	}
}

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		base, target, want string
		wantErr            bool
	}{
		{"https://shop.example.com", "https://other.example.com/x", "https://other.example.com/x", false},
		{"https://shop.example.com", "/checkout", "https://shop.example.com/checkout", false},
		{"https://shop.example.com/app", "cart?id=1", "https://shop.example.com/app/cart?id=1", false},
		{"https://shop.example.com/app/", "/cart", "https://shop.example.com/app/cart", false},
		{"", "/cart", "", true},
	}
	for _, tt := range tests {
		got, err := resolveTarget(tt.base, tt.target)
		if (err != nil) != tt.wantErr {
			t.Errorf("resolveTarget(%q, %q) error = %v, wantErr %v", tt.base, tt.target, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("resolveTarget(%q, %q) = %q, want %q", tt.base, tt.target, got, tt.want)
		}
	}
}

func TestElementError(t *testing.T) {
	err := elementError("#submit", fmt.Errorf("run: %w", context.DeadlineExceeded))
	if !errors.Is(err, core.ErrElementNotFound) {
		t.Errorf("timeout should map to element not found, got %v", err)
	}
	if core.CategoryOf(err) != core.ErrCategoryAssertion {
		t.Errorf("category = %v", core.CategoryOf(err))
	}

	err = elementError("#submit", errors.New("websocket closed"))
	if !errors.Is(err, core.ErrSessionLost) {
		t.Errorf("other errors should map to session lost, got %v", err)
	}
}

func TestPerform_InvalidDescriptor(t *testing.T) {
	s := &Session{}
	r := s.Perform(context.Background(), core.ActionDescriptor{Type: core.ActionClick})
	if r.Success || !errors.Is(r.Error, core.ErrInvalidDescriptor) {
		t.Errorf("Perform() = %+v, want invalid descriptor failure", r)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abc", 10); got != "abc" {
		t.Errorf("truncate = %q", got)
	}
}

func TestNewDefaults(t *testing.T) {
	d := New(Config{})
	if d.cfg.WindowWidth != 1280 || d.cfg.WindowHeight != 800 || d.cfg.HTMLLimit != DefaultHTMLLimit {
		t.Errorf("defaults not applied: %+v", d.cfg)
	}
}
