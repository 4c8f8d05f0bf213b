package model

import (
	"sort"
	"time"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
)

// Run is a named batch grouping of one or more TestRuns.
type Run struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"projectId"`
	Name       string         `json:"name"`
	Status     core.RunStatus `json:"status"`
	Parallel   bool           `json:"parallel"`
	CreatedAt  time.Time      `json:"createdAt"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
}

// TestRun is one concrete execution of a Test.
type TestRun struct {
	ID           string         `json:"id"`
	TestID       string         `json:"testId"`
	RunID        string         `json:"runId,omitempty"`
	Position     int            `json:"position,omitempty"` // Index within the batch
	Environment  string         `json:"environment,omitempty"`
	Browser      string         `json:"browser,omitempty"`
	DataRowIndex *int           `json:"dataRowIndex,omitempty"`
	Status       core.RunStatus `json:"status"`
	Message      string         `json:"message,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	StartedAt    *time.Time     `json:"startedAt,omitempty"`
	EndedAt      *time.Time     `json:"endedAt,omitempty"`

	// Populated on single reads, ordered by SortStepResults.
	Results []StepResult `json:"results,omitempty"`
}

// StepResult is the recorded outcome of executing one step within one TestRun.
type StepResult struct {
	ID            int64           `json:"id"`
	TestRunID     string          `json:"testRunId"`
	StepNumber    *int            `json:"stepNumber"`
	Instruction   string          `json:"instruction,omitempty"`
	Status        core.StepStatus `json:"status"`
	Message       string          `json:"message,omitempty"`
	ScreenshotURL string          `json:"screenshotUrl,omitempty"`
	DurationMs    int64           `json:"durationMs"`
	ExecutedAt    *time.Time      `json:"executedAt"`
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time { return &t }

// LessStepResult orders results by (stepNumber, executedAt, id), nulls last.
func LessStepResult(a, b StepResult) bool {
	if c := compareNullable(a.StepNumber == nil, b.StepNumber == nil); c != 0 {
		return c < 0
	}
	if a.StepNumber != nil && *a.StepNumber != *b.StepNumber {
		return *a.StepNumber < *b.StepNumber
	}
	if c := compareNullable(a.ExecutedAt == nil, b.ExecutedAt == nil); c != 0 {
		return c < 0
	}
	if a.ExecutedAt != nil && !a.ExecutedAt.Equal(*b.ExecutedAt) {
		return a.ExecutedAt.Before(*b.ExecutedAt)
	}
	return a.ID < b.ID
}

// SortStepResults sorts results in place into their read-back order.
func SortStepResults(results []StepResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return LessStepResult(results[i], results[j])
	})
}

// compareNullable puts present values before absent ones.
func compareNullable(aNil, bNil bool) int {
	switch {
	case aNil == bNil:
		return 0
	case aNil:
		return 1
	default:
		return -1
	}
}
