package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
)

// commandResultToError converts an unsuccessful core.CommandResult to an error.
func commandResultToError(r *core.CommandResult) error {
	if r == nil {
		return core.ErrSessionLost.WithMessage("driver returned no result")
	}
	if r.Success {
		return nil
	}
	if r.Error != nil {
		return r.Error
	}
	msg := r.Message
	if msg == "" {
		msg = "action failed"
	}
	return errors.New(msg)
}

// errorMessage returns the human-readable message recorded for a failed step.
func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "execution cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	}

	var ee *core.ExecutionError
	if errors.As(err, &ee) {
		if ee.Cause != nil && ee.Cause.Error() != ee.Message {
			return fmt.Sprintf("%s: %s", ee.Message, errorMessage(ee.Cause))
		}
		return ee.Message
	}
	return err.Error()
}
