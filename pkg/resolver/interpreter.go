package resolver

import (
	"context"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
)

// InterpretRequest is what a fallback interpreter sees: the instruction, the
// live page and the run variables.
type InterpretRequest struct {
	Instruction string            `json:"instruction"`
	Page        *core.PageContext `json:"page,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
}

// Interpreter maps an instruction to an action using live page context.
// It is not constrained to the registry and is only usable at execution time.
type Interpreter interface {
	Interpret(ctx context.Context, req InterpretRequest) (core.ActionDescriptor, error)
}
