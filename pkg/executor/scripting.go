package executor

import (
	"sort"
	"strings"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/jsengine"
	"github.com/devicelab-dev/webtest-runner/pkg/resolver"
)

// ScriptEngine handles variable expansion for one test run.
type ScriptEngine struct {
	js        *jsengine.Engine
	variables map[string]string
}

// NewScriptEngine creates a script engine bound to the run and its variables.
func NewScriptEngine(info jsengine.RunInfo, vars map[string]string) *ScriptEngine {
	se := &ScriptEngine{
		js:        jsengine.New(),
		variables: make(map[string]string),
	}
	se.js.SetRunInfo(info)
	se.SetVariables(vars)
	return se
}

// Close cleans up the script engine.
func (se *ScriptEngine) Close() {
	if se.js != nil {
		se.js.Close()
	}
}

// SetVariable sets a variable in both Go map and JS engine.
func (se *ScriptEngine) SetVariable(name, value string) {
	se.variables[name] = value
	se.js.SetVariable(name, value)
}

// SetVariables sets multiple variables.
func (se *ScriptEngine) SetVariables(vars map[string]string) {
	for k, v := range vars {
		se.SetVariable(k, v)
	}
}

// GetVariable returns a variable value.
func (se *ScriptEngine) GetVariable(name string) string {
	return se.variables[name]
}

// Variables returns a copy of all variables.
func (se *ScriptEngine) Variables() map[string]string {
	out := make(map[string]string, len(se.variables))
	for k, v := range se.variables {
		out[k] = v
	}
	return out
}

// ExpandVariables expands {{name}}, ${expr} and $VAR syntax in text.
func (se *ScriptEngine) ExpandVariables(text string) string {
	text = resolver.Substitute(text, se.variables)

	// JS engine for ${expression} syntax
	if result, err := se.js.ExpandVariables(text); err == nil {
		text = result
	}

	// $VAR syntax (without braces), longest names first to avoid partial matches
	names := make([]string, 0, len(se.variables))
	for name := range se.variables {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return len(names[i]) > len(names[j])
	})
	for _, name := range names {
		text = expandDollarVar(text, name, se.variables[name])
	}

	return text
}

// ExpandAction expands variables in the selector and value of a.
// Scripts for call actions only get {{name}} substitution since ${...} is
// valid JavaScript there.
func (se *ScriptEngine) ExpandAction(a core.ActionDescriptor) core.ActionDescriptor {
	if a.Type == core.ActionCall {
		a.Value = resolver.Substitute(a.Value, se.variables)
		return a
	}
	a.Selector = se.ExpandVariables(a.Selector)
	a.Value = se.ExpandVariables(a.Value)
	return a
}

// expandDollarVar replaces $VAR with value, checking word boundaries.
func expandDollarVar(text, name, value string) string {
	pattern := "$" + name
	idx := 0
	for {
		pos := strings.Index(text[idx:], pattern)
		if pos == -1 {
			break
		}
		pos += idx

		// Check if followed by alphanumeric (would be different variable)
		endPos := pos + len(pattern)
		if endPos < len(text) {
			next := text[endPos]
			if (next >= 'a' && next <= 'z') || (next >= 'A' && next <= 'Z') ||
				(next >= '0' && next <= '9') || next == '_' {
				idx = endPos
				continue
			}
		}

		text = text[:pos] + value + text[endPos:]
		idx = pos + len(value)
	}
	return text
}
