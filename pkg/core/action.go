package core

import (
	"fmt"
	"strconv"
	"strings"
)

// ActionKind is the concrete browser action a step resolves to.
type ActionKind string

// ActionKind values.
const (
	ActionClick    ActionKind = "click"
	ActionFill     ActionKind = "fill"
	ActionSelect   ActionKind = "select"
	ActionAssert   ActionKind = "assert"
	ActionWait     ActionKind = "wait"
	ActionNavigate ActionKind = "navigate"
	ActionCall     ActionKind = "call" // Invoke a registered screen method script
)

// ParseActionKind parses a case-insensitive action name.
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case ActionClick, ActionFill, ActionSelect, ActionAssert, ActionWait, ActionNavigate, ActionCall:
		return k, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// ActionDescriptor is a resolved {action kind, selector, value} triple ready for execution.
type ActionDescriptor struct {
	Type     ActionKind `json:"type"`
	Selector string     `json:"selector,omitempty"`
	Value    string     `json:"value,omitempty"`
}

// IsZero returns true if no action has been resolved.
func (a ActionDescriptor) IsZero() bool {
	return a.Type == "" && a.Selector == "" && a.Value == ""
}

// Validate checks that the descriptor carries what its action needs.
func (a ActionDescriptor) Validate() error {
	if _, err := ParseActionKind(string(a.Type)); err != nil {
		return ErrInvalidDescriptor.WithCause(err)
	}
	switch a.Type {
	case ActionClick, ActionFill:
		if a.Selector == "" {
			return ErrInvalidDescriptor.WithMessage(fmt.Sprintf("%s requires a selector", a.Type))
		}
	case ActionSelect:
		if a.Selector == "" || a.Value == "" {
			return ErrInvalidDescriptor.WithMessage("select requires a selector and an option")
		}
	case ActionAssert:
		if a.Selector == "" && a.Value == "" {
			return ErrInvalidDescriptor.WithMessage("assert requires a selector or expected text")
		}
	case ActionNavigate:
		if a.Value == "" && a.Selector == "" {
			return ErrInvalidDescriptor.WithMessage("navigate requires a target URL")
		}
	case ActionWait:
		if a.Selector == "" {
			if _, err := strconv.Atoi(a.Value); err != nil {
				return ErrInvalidDescriptor.WithMessage("wait requires a selector or a duration in milliseconds")
			}
		}
	case ActionCall:
		if a.Value == "" {
			return ErrInvalidDescriptor.WithMessage("call requires a script")
		}
	}
	return nil
}

// Describe returns a human-readable description.
func (a ActionDescriptor) Describe() string {
	switch {
	case a.Selector != "" && a.Value != "":
		return fmt.Sprintf("%s %s = %q", a.Type, a.Selector, a.Value)
	case a.Selector != "":
		return fmt.Sprintf("%s %s", a.Type, a.Selector)
	case a.Value != "":
		return fmt.Sprintf("%s %q", a.Type, a.Value)
	default:
		return string(a.Type)
	}
}
