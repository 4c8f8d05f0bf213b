package executor

import (
	"testing"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/jsengine"
)

func newTestScriptEngine(vars map[string]string) *ScriptEngine {
	return NewScriptEngine(jsengine.RunInfo{TestRunID: "tr-1", Environment: "staging"}, vars)
}

func TestNewScriptEngine(t *testing.T) {
	se := newTestScriptEngine(map[string]string{"user": "admin"})
	defer se.Close()

	if se.GetVariable("user") != "admin" {
		t.Errorf("GetVariable(user) = %q, want admin", se.GetVariable("user"))
	}
	vars := se.Variables()
	vars["user"] = "changed"
	if se.GetVariable("user") != "admin" {
		t.Error("Variables() must return a copy")
	}
}

func TestScriptEngine_ExpandVariables_JSExpression(t *testing.T) {
	se := newTestScriptEngine(nil)
	defer se.Close()

	se.SetVariable("name", "John")
	se.SetVariable("age", "30")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple var", "Hello ${name}", "Hello John"},
		{"expression", "Age: ${age}", "Age: 30"},
		{"math", "Result: ${1 + 2}", "Result: 3"},
		{"no vars", "plain text", "plain text"},
		{"multiple", "${name} is ${age}", "John is 30"},
		{"run object", "env=${run.environment}", "env=staging"},
		{"bad expression kept", "x ${nope(} y", "x ${nope(} y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := se.ExpandVariables(tt.input)
			if got != tt.expected {
				t.Errorf("ExpandVariables(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestScriptEngine_ExpandVariables_Placeholders(t *testing.T) {
	se := newTestScriptEngine(map[string]string{"password": "s3cret"})
	defer se.Close()

	tests := []struct {
		input    string
		expected string
	}{
		{"{{password}}", "s3cret"},
		{"{{ password }}", "s3cret"},
		{"{{unknown}}", "{{unknown}}"},
		{"pw={{password}}/${password.length}", "pw=s3cret/6"},
	}
	for _, tt := range tests {
		if got := se.ExpandVariables(tt.input); got != tt.expected {
			t.Errorf("ExpandVariables(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestScriptEngine_ExpandVariables_DollarVar(t *testing.T) {
	se := newTestScriptEngine(nil)
	defer se.Close()

	se.SetVariable("USER", "admin")
	se.SetVariable("USERNAME", "john")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "Hello $USER", "Hello admin"},
		{"longer first", "Hello $USERNAME", "Hello john"},
		{"end of string", "User: $USER", "User: admin"},
		{"multiple", "$USER and $USERNAME", "admin and john"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := se.ExpandVariables(tt.input)
			if got != tt.expected {
				t.Errorf("ExpandVariables(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestExpandDollarVar(t *testing.T) {
	tests := []struct {
		text     string
		name     string
		value    string
		expected string
	}{
		{"Hello $USER", "USER", "admin", "Hello admin"},
		{"$USER", "USER", "admin", "admin"},
		{"$USER!", "USER", "admin", "admin!"},
		{"$USERNAME", "USER", "admin", "$USERNAME"},   // Should NOT match
		{"$USER_NAME", "USER", "admin", "$USER_NAME"}, // Should NOT match
	}

	for _, tt := range tests {
		got := expandDollarVar(tt.text, tt.name, tt.value)
		if got != tt.expected {
			t.Errorf("expandDollarVar(%q, %q, %q) = %q, want %q",
				tt.text, tt.name, tt.value, got, tt.expected)
		}
	}
}

func TestScriptEngine_ExpandAction(t *testing.T) {
	se := newTestScriptEngine(map[string]string{"user": "admin", "field": "email"})
	defer se.Close()

	got := se.ExpandAction(core.ActionDescriptor{Type: core.ActionFill, Selector: "#{{field}}", Value: "${user.toUpperCase()}"})
	if got.Selector != "#email" || got.Value != "ADMIN" {
		t.Errorf("ExpandAction(fill) = %+v", got)
	}

	script := "const u = `${location.href}`; return '{{user}}'"
	got = se.ExpandAction(core.ActionDescriptor{Type: core.ActionCall, Value: script})
	want := "const u = `${location.href}`; return 'admin'"
	if got.Value != want {
		t.Errorf("ExpandAction(call) value = %q, want %q", got.Value, want)
	}
}
