package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/logger"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
)

// DefaultActionTimeout bounds a single browser action when none is configured.
const DefaultActionTimeout = 30 * time.Second

// StepInput is one step ready to execute.
type StepInput struct {
	TestRunID  string
	Number     int
	Step       model.TestStep
	Action     core.ActionDescriptor
	ResolveErr error // Set when neither path produced an action
}

// StepOutcome is what a step execution yields.
type StepOutcome struct {
	Status     core.StepStatus
	Message    string
	Screenshot string
	Halt       bool // Required step failed; stop the run
	Duration   time.Duration
	Err        error
}

// StepExecutor performs one resolved step against a session and captures evidence.
type StepExecutor struct {
	blobs         core.BlobStore
	actionTimeout time.Duration
}

// NewStepExecutor creates a step executor. A non-positive timeout uses DefaultActionTimeout.
func NewStepExecutor(blobs core.BlobStore, actionTimeout time.Duration) *StepExecutor {
	if blobs == nil {
		blobs = core.NullBlobStore{}
	}
	if actionTimeout <= 0 {
		actionTimeout = DefaultActionTimeout
	}
	return &StepExecutor{blobs: blobs, actionTimeout: actionTimeout}
}

// Execute performs the step and always attempts a screenshot afterwards.
// Screenshot failures are logged and never change the step status.
func (x *StepExecutor) Execute(ctx context.Context, session core.Session, in StepInput) StepOutcome {
	start := time.Now()

	var result *core.CommandResult
	err := in.ResolveErr
	if err == nil {
		err = in.Action.Validate()
	}
	if err == nil {
		result, err = withTimeout(ctx, x.actionTimeout, func(ctx context.Context) (*core.CommandResult, error) {
			return session.Perform(ctx, in.Action), nil
		})
		if err == nil {
			err = commandResultToError(result)
		}
	}

	out := StepOutcome{Err: err}
	out.Screenshot = x.capture(ctx, session, in)

	switch {
	case err == nil:
		// Results are readable by every role, so the message never carries
		// the resolved selector or value.
		out.Status = core.StepPassed
		out.Message = in.Step.Instruction
		if result != nil && result.Message != "" {
			logger.Debug("step %d: %s: %s", in.Number, in.Action.Describe(), result.Message)
		}
	case in.Step.Optional:
		out.Status = core.StepWarned
		out.Message = errorMessage(err)
	default:
		out.Status = core.StepFailed
		out.Message = errorMessage(err)
		out.Halt = true
	}
	out.Duration = time.Since(start)
	return out
}

// capture takes a screenshot and stores it. Returns the blob reference or "".
func (x *StepExecutor) capture(ctx context.Context, session core.Session, in StepInput) string {
	data, err := withTimeout(ctx, x.actionTimeout, session.Screenshot)
	if err != nil {
		logger.Warn("step %d: screenshot failed: %v", in.Number, err)
		return ""
	}
	if len(data) == 0 {
		return ""
	}
	ref, err := x.blobs.Store(ctx, data, core.ScreenshotName(in.TestRunID, in.Number))
	if err != nil {
		logger.Warn("step %d: storing screenshot failed: %v", in.Number, err)
		return ""
	}
	return ref
}

// withTimeout runs fn and stops waiting after timeout. A driver that ignores
// its context keeps its goroutine until it returns, but the caller moves on.
// Panics inside fn become errors.
func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		v   T
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: core.ErrPageCrashed.WithMessage(fmt.Sprintf("driver panic: %v", r))}
			}
		}()
		v, err := fn(cctx)
		ch <- reply{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-cctx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, core.ErrTimeout.WithMessage(fmt.Sprintf("no response within %s", timeout))
	}
}
