package core

import (
	"errors"
	"testing"
)

func TestParseActionKind(t *testing.T) {
	tests := []struct {
		in      string
		want    ActionKind
		wantErr bool
	}{
		{"click", ActionClick, false},
		{" FILL ", ActionFill, false},
		{"Navigate", ActionNavigate, false},
		{"call", ActionCall, false},
		{"hover", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseActionKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseActionKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseActionKind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestActionDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		action  ActionDescriptor
		wantErr bool
	}{
		{"click with selector", ActionDescriptor{Type: ActionClick, Selector: "#submit"}, false},
		{"click without selector", ActionDescriptor{Type: ActionClick}, true},
		{"fill", ActionDescriptor{Type: ActionFill, Selector: "#password", Value: "admin123"}, false},
		{"select", ActionDescriptor{Type: ActionSelect, Selector: "#country", Value: "DE"}, false},
		{"select without option", ActionDescriptor{Type: ActionSelect, Selector: "#country"}, true},
		{"assert text only", ActionDescriptor{Type: ActionAssert, Value: "Welcome"}, false},
		{"assert empty", ActionDescriptor{Type: ActionAssert}, true},
		{"wait duration", ActionDescriptor{Type: ActionWait, Value: "500"}, false},
		{"wait bad duration", ActionDescriptor{Type: ActionWait, Value: "soon"}, true},
		{"wait selector", ActionDescriptor{Type: ActionWait, Selector: ".spinner"}, false},
		{"navigate", ActionDescriptor{Type: ActionNavigate, Value: "/login"}, false},
		{"navigate empty", ActionDescriptor{Type: ActionNavigate}, true},
		{"call", ActionDescriptor{Type: ActionCall, Selector: "logout", Value: "window.logout()"}, false},
		{"unknown", ActionDescriptor{Type: "hover", Selector: "#x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var execErr *ExecutionError
				if !errors.As(err, &execErr) || execErr.Code != ErrInvalidDescriptor.Code {
					t.Errorf("Validate() error = %v, want invalid_descriptor", err)
				}
			}
		})
	}
}

func TestActionDescriptor_IsZero(t *testing.T) {
	if !(ActionDescriptor{}).IsZero() {
		t.Error("empty descriptor IsZero() = false")
	}
	if (ActionDescriptor{Type: ActionClick}).IsZero() {
		t.Error("click descriptor IsZero() = true")
	}
}

func TestActionDescriptor_Describe(t *testing.T) {
	tests := []struct {
		action ActionDescriptor
		want   string
	}{
		{ActionDescriptor{Type: ActionFill, Selector: "#password", Value: "x"}, `fill #password = "x"`},
		{ActionDescriptor{Type: ActionClick, Selector: "#submit"}, "click #submit"},
		{ActionDescriptor{Type: ActionNavigate, Value: "/home"}, `navigate "/home"`},
		{ActionDescriptor{Type: ActionWait}, "wait"},
	}
	for _, tt := range tests {
		if got := tt.action.Describe(); got != tt.want {
			t.Errorf("Describe() = %q, want %q", got, tt.want)
		}
	}
}
