package jsengine

import (
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	engine := New()
	defer engine.Close()

	if engine == nil {
		t.Fatal("expected engine to be created")
	}
	if engine.runtime == nil {
		t.Fatal("expected runtime to be initialized")
	}
}

func TestEval(t *testing.T) {
	engine := New()
	defer engine.Close()

	tests := []struct {
		name     string
		script   string
		expected interface{}
	}{
		{"simple number", "1 + 2", int64(3)},
		{"string concat", "'hello' + ' ' + 'world'", "hello world"},
		{"boolean", "true && false", false},
		{"null coalescing", "null ?? 'default'", "default"},
		{"array length", "[1, 2, 3].length", int64(3)},
		{"object property", "({name: 'test'}).name", "test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Eval(tt.script)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %v (%T), got %v (%T)", tt.expected, tt.expected, result, result)
			}
		})
	}
}

func TestSetVariables(t *testing.T) {
	engine := New()
	defer engine.Close()

	engine.SetVariables(map[string]string{"username": "john", "count": "42"})

	result, err := engine.EvalString("username")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "john" {
		t.Errorf("expected 'john', got %q", result)
	}

	result, err = engine.EvalString("Number(count) + 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "43" {
		t.Errorf("expected '43', got %q", result)
	}
}

func TestExpandVariables(t *testing.T) {
	engine := New()
	defer engine.Close()

	engine.SetVariable("name", "John")
	engine.SetVariable("age", 30)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple var", "Hello ${name}", "Hello John"},
		{"expression", "Age: ${age + 5}", "Age: 35"},
		{"multiple vars", "${name} is ${age}", "John is 30"},
		{"no vars", "plain text", "plain text"},
		{"string concat", "${name + ' Doe'}", "John Doe"},
		{"nested braces", "${({a: 1}).a}", "1"},
		{"unmatched brace", "${name", "${name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.ExpandVariables(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestExpandVariablesWithError(t *testing.T) {
	engine := New()
	defer engine.Close()

	result, err := engine.ExpandVariables("Value: ${undefinedVar}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "Value: ${undefinedVar}" {
		t.Errorf("expected failed expression left as written, got %q", result)
	}
}

func TestConsoleLog(t *testing.T) {
	engine := New()
	defer engine.Close()

	// Just make sure it doesn't panic
	_, err := engine.Eval(`
		console.log("test message");
		console.error("error message");
		console.warn("warning message");
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJSON(t *testing.T) {
	engine := New()
	defer engine.Close()

	result, err := engine.EvalString(`json('{"user": {"name": "ann"}}').user.name`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ann" {
		t.Errorf("expected 'ann', got %q", result)
	}
}

func TestOutput(t *testing.T) {
	engine := New()
	defer engine.Close()

	if _, err := engine.Eval(`output.orderId = "A-1"`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := engine.GetOutput()
	if out["orderId"] != "A-1" {
		t.Errorf("expected output.orderId = A-1, got %v", out["orderId"])
	}
}

func TestRunObject(t *testing.T) {
	engine := New()
	defer engine.Close()

	engine.SetRunInfo(RunInfo{TestRunID: "tr-1", Environment: "staging", Browser: "chrome"})

	result, err := engine.EvalString("run.environment + '/' + run.browser + '/' + run.testRunId")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "staging/chrome/tr-1" {
		t.Errorf("got %q", result)
	}

	// Read-only
	engine.Eval("run.browser = 'firefox'")
	result, _ = engine.EvalString("run.browser")
	if result != "chrome" {
		t.Errorf("run.browser was overwritten: %q", result)
	}
}

func TestTemplateLiterals(t *testing.T) {
	engine := New()
	defer engine.Close()

	engine.SetVariable("user", "ann")
	result, err := engine.EvalString("`user-${user}@example.com`")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "user-ann@example.com" {
		t.Errorf("got %q", result)
	}
}

func TestEvalTimeout(t *testing.T) {
	engine := New()
	defer engine.Close()
	engine.SetTimeout(50 * time.Millisecond)

	start := time.Now()
	_, err := engine.Eval("while (true) {}")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("evaluation was not interrupted")
	}

	// Engine stays usable after an interrupt.
	result, err := engine.EvalString("1 + 1")
	if err != nil || result != "2" {
		t.Errorf("after interrupt: %q, %v", result, err)
	}
}

func TestEvalError(t *testing.T) {
	engine := New()
	defer engine.Close()

	_, err := engine.Eval("this is not valid javascript")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "JS eval error") {
		t.Errorf("unexpected error: %v", err)
	}
}
