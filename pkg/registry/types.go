// Package registry holds the per-application catalog of addressable UI
// elements, callable screen methods and action templates used for
// deterministic step resolution.
package registry

import (
	"fmt"
	"strings"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
)

// Intent is what an instruction asks for, before it is bound to an element.
type Intent string

// Intent values.
const (
	IntentClick    Intent = "CLICK"
	IntentFill     Intent = "FILL"
	IntentSelect   Intent = "SELECT"
	IntentAssert   Intent = "ASSERT"
	IntentWait     Intent = "WAIT"
	IntentNavigate Intent = "NAVIGATE"
	IntentCall     Intent = "CALL"
)

// ParseIntent parses a case-insensitive intent name.
func ParseIntent(s string) (Intent, error) {
	i := Intent(strings.ToUpper(strings.TrimSpace(s)))
	switch i {
	case IntentClick, IntentFill, IntentSelect, IntentAssert, IntentWait, IntentNavigate, IntentCall:
		return i, nil
	}
	return "", fmt.Errorf("unknown intent %q", s)
}

// MethodType is the element type under which screen methods are matched.
const MethodType = "method"

// App is one target web application.
type App struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	BaseURL string   `json:"baseUrl,omitempty"`
	Screens []Screen `json:"screens"`
}

// Screen groups the elements and methods of one page or view.
type Screen struct {
	Name     string          `json:"name"`
	Path     string          `json:"path,omitempty"`
	Elements []ScreenElement `json:"elements,omitempty"`
	Methods  []ScreenMethod  `json:"methods,omitempty"`
}

// ScreenElement is an addressable UI element.
type ScreenElement struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Selector    string   `json:"selector"`
	Description string   `json:"description,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
}

// ScreenMethod is a reusable script callable on a screen.
type ScreenMethod struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Script      string   `json:"script"`
	Aliases     []string `json:"aliases,omitempty"`
}

// ActionTemplate is the recipe for turning (intent, element type) into an action.
// Selector and Value are rendered with {{selector}}, {{value}}, {{script}},
// {{element}} and any run-time variable.
type ActionTemplate struct {
	Intent      Intent          `json:"intent"`
	ElementType string          `json:"elementType"`
	Action      core.ActionKind `json:"action"`
	Selector    string          `json:"selector,omitempty"`
	Value       string          `json:"value,omitempty"`
}

// Candidate is an element or method a resolver may bind an instruction to.
type Candidate struct {
	Screen   string
	Name     string
	Type     string
	Selector string
	Script   string
	Aliases  []string
}

// IsMethod reports whether the candidate is a screen method.
func (c Candidate) IsMethod() bool {
	return c.Type == MethodType
}
