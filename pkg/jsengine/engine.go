// Package jsengine evaluates ${...} expressions in step values against the
// variables of a test run.
package jsengine

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/webtest-runner/pkg/logger"
)

// DefaultTimeout bounds a single expression evaluation.
const DefaultTimeout = 2 * time.Second

// RunInfo is exposed to expressions as the read-only `run` object.
type RunInfo struct {
	TestRunID   string
	TestID      string
	Environment string
	Browser     string
	BaseURL     string
}

// Engine wraps a goja runtime. One engine serves one test run.
type Engine struct {
	runtime   *goja.Runtime
	variables map[string]interface{}
	output    map[string]interface{}
	info      RunInfo
	timeout   time.Duration
	mu        sync.Mutex
}

// New creates a new JS engine instance
func New() *Engine {
	e := &Engine{
		runtime:   goja.New(),
		variables: make(map[string]interface{}),
		output:    make(map[string]interface{}),
		timeout:   DefaultTimeout,
	}

	e.setupBuiltins()
	return e
}

// setupBuiltins registers all built-in functions and objects
func (e *Engine) setupBuiltins() {
	// Console
	e.setupConsole()

	// JSON helper
	e.runtime.Set("json", e.jsonFunc())

	// Output object (values scripts hand back to the run)
	e.runtime.Set("output", e.output)

	// Run object
	e.runtime.Set("run", e.runObject())
}

// setupConsole routes console.log, console.error and console.warn to the logger.
func (e *Engine) setupConsole() {
	makeConsoleFunc := func(log func(string, ...interface{})) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = fmt.Sprint(arg.Export())
			}
			log("js: %s", strings.Join(args, " "))
			return goja.Undefined()
		}
	}

	console := e.runtime.NewObject()
	console.Set("log", makeConsoleFunc(logger.Debug))
	console.Set("error", makeConsoleFunc(logger.Error))
	console.Set("warn", makeConsoleFunc(logger.Warn))
	e.runtime.Set("console", console)
}

// jsonFunc returns the json() helper function
func (e *Engine) jsonFunc() func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(e.runtime.NewTypeError("json requires 1 argument"))
		}

		str := call.Arguments[0].String()

		// Parse JSON string and return JS object
		result, err := e.runtime.RunString(fmt.Sprintf("JSON.parse(%q)", str))
		if err != nil {
			panic(e.runtime.NewTypeError(fmt.Sprintf("invalid JSON: %v", err)))
		}

		return result
	}
}

// runObject returns the run global object
func (e *Engine) runObject() *goja.Object {
	obj := e.runtime.NewObject()

	props := map[string]func() string{
		"testRunId":   func() string { return e.info.TestRunID },
		"testId":      func() string { return e.info.TestID },
		"environment": func() string { return e.info.Environment },
		"browser":     func() string { return e.info.Browser },
		"baseUrl":     func() string { return e.info.BaseURL },
	}
	for name, get := range props {
		obj.DefineAccessorProperty(name, e.runtime.ToValue(get), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	}

	return obj
}

// SetRunInfo sets the values behind the `run` object.
func (e *Engine) SetRunInfo(info RunInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.info = info
}

// SetTimeout changes the per-evaluation time limit.
func (e *Engine) SetTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeout = d
}

// SetVariable sets a variable accessible in JS as a global
func (e *Engine) SetVariable(name string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.variables[name] = value
	e.runtime.Set(name, value)
}

// SetVariables sets multiple variables
func (e *Engine) SetVariables(vars map[string]string) {
	for k, v := range vars {
		e.SetVariable(k, v)
	}
}

// GetOutput returns a copy of the output object (values set by scripts)
func (e *Engine) GetOutput() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Export the output object from JS
	outputVal := e.runtime.Get("output")
	var source map[string]interface{}

	if outputVal != nil && !goja.IsUndefined(outputVal) {
		if m, ok := outputVal.Export().(map[string]interface{}); ok {
			source = m
		}
	}

	if source == nil {
		source = e.output
	}

	// Return a copy to prevent external modification
	result := make(map[string]interface{}, len(source))
	for k, v := range source {
		result[k] = v
	}
	return result
}

// Eval evaluates a JavaScript expression and returns the result.
// Evaluation is interrupted after the engine timeout.
func (e *Engine) Eval(script string) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timeout > 0 {
		timer := time.AfterFunc(e.timeout, func() {
			e.runtime.Interrupt("evaluation timed out")
		})
		defer func() {
			timer.Stop()
			e.runtime.ClearInterrupt()
		}()
	}

	result, err := e.runtime.RunString(script)
	if err != nil {
		return nil, fmt.Errorf("JS eval error: %w", err)
	}

	return result.Export(), nil
}

// EvalString evaluates a JavaScript expression and returns string result
func (e *Engine) EvalString(script string) (string, error) {
	result, err := e.Eval(script)
	if err != nil {
		return "", err
	}

	if result == nil {
		return "", nil
	}

	return fmt.Sprintf("%v", result), nil
}

// ExpandVariables expands ${...} expressions in a string using JS evaluation.
// Expressions that fail to evaluate are left as written.
func (e *Engine) ExpandVariables(text string) (string, error) {
	result := text
	start := 0

	for {
		// Find ${
		idx := strings.Index(result[start:], "${")
		if idx == -1 {
			break
		}
		idx += start

		// Find matching }
		depth := 1
		end := idx + 2
		for end < len(result) && depth > 0 {
			if result[end] == '{' {
				depth++
			} else if result[end] == '}' {
				depth--
			}
			end++
		}

		if depth != 0 {
			// Unmatched brace, skip
			start = idx + 2
			continue
		}

		expr := result[idx+2 : end-1]

		value, err := e.EvalString(expr)
		if err != nil {
			logger.Debug("expression %q not expanded: %v", expr, err)
			start = end
			continue
		}

		result = result[:idx] + value + result[end:]
		start = idx + len(value)
	}

	return result, nil
}

// Close releases the runtime. Safe to call multiple times.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runtime.Interrupt("engine closed")
}
