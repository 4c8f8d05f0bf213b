package core

// RunStatus represents the lifecycle state of a test run or a batch run.
type RunStatus string

// RunStatus values.
const (
	RunPending RunStatus = "pending" // Created, not yet started
	RunRunning RunStatus = "running" // Currently executing
	RunPassed  RunStatus = "passed"  // All steps passed or were optionally skipped
	RunFailed  RunStatus = "failed"  // A required step failed or the run aborted
	RunPartial RunStatus = "partial" // Batch only: some tests passed, some failed
)

// IsTerminal returns true if the status is a final state.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunPassed, RunFailed, RunPartial:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunPending, RunRunning, RunPassed, RunFailed, RunPartial:
		return true
	default:
		return false
	}
}

// StepStatus represents the recorded outcome of a single executed step.
type StepStatus string

// StepStatus values.
const (
	StepPassed StepStatus = "passed"               // Action performed successfully
	StepFailed StepStatus = "failed"               // Required step failed, run halts
	StepWarned StepStatus = "skipped-with-warning" // Optional step failed (non-blocking)
)

// IsSuccess returns true if the status does not fail the run (passed or warned)
func (s StepStatus) IsSuccess() bool {
	return s == StepPassed || s == StepWarned
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryAssertion                       // Element not found, text mismatch, visibility check failed
	ErrCategoryTimeout                         // Operation timed out
	ErrCategoryConnection                      // Browser session lost or could not be opened
	ErrCategoryApp                             // Page crashed, navigation failed
	ErrCategoryConfig                          // Invalid descriptor, unsupported action
	ErrCategoryResolution                      // Instruction could not be mapped to an action
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryAssertion:
		return "assertion"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryApp:
		return "app"
	case ErrCategoryConfig:
		return "config"
	case ErrCategoryResolution:
		return "resolution"
	default:
		return "unknown"
	}
}
