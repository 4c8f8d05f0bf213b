// Package report provides a JSON run report with live updates.
//
// report.json is rewritten atomically whenever a test run finishes and, with
// a short debounce, while steps are recorded, so it can be polled while the
// run is in progress.
package report

import (
	"time"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
)

// Version is the report schema version.
const Version = "1.0.0"

// Report is the content of report.json.
type Report struct {
	Version     string         `json:"version"`
	UpdateSeq   uint64         `json:"updateSeq"`
	Name        string         `json:"name,omitempty"`
	Status      core.RunStatus `json:"status"`
	StartTime   time.Time      `json:"startTime"`
	EndTime     *time.Time     `json:"endTime,omitempty"`
	LastUpdated time.Time      `json:"lastUpdated"`
	Runner      RunnerInfo     `json:"runner"`
	Summary     Summary        `json:"summary"`
	Tests       []TestEntry    `json:"tests"`
}

// RunnerInfo describes the runner that produced the report.
type RunnerInfo struct {
	Version     string `json:"version"`
	Driver      string `json:"driver"` // chrome, mock
	Environment string `json:"environment,omitempty"`
	BaseURL     string `json:"baseUrl,omitempty"`
}

// Summary contains aggregated counts.
type Summary struct {
	Total   int         `json:"total"`
	Passed  int         `json:"passed"`
	Failed  int         `json:"failed"`
	Running int         `json:"running"`
	Pending int         `json:"pending"`
	Steps   StepSummary `json:"steps"`
}

// StepSummary contains step counts across all tests.
type StepSummary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Warned int `json:"warned"`
}

// TestEntry is one test run in the report.
type TestEntry struct {
	TestRunID  string         `json:"testRunId"`
	TestID     string         `json:"testId"`
	Name       string         `json:"name"`
	SourceFile string         `json:"sourceFile,omitempty"`
	Status     core.RunStatus `json:"status"`
	Message    string         `json:"message,omitempty"`
	StartTime  *time.Time     `json:"startTime,omitempty"`
	EndTime    *time.Time     `json:"endTime,omitempty"`
	Duration   *int64         `json:"duration,omitempty"` // milliseconds
	Steps      []Step         `json:"steps"`
}

// Step is one recorded step outcome.
type Step struct {
	Number      int             `json:"number"`
	Instruction string          `json:"instruction,omitempty"`
	Status      core.StepStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	Screenshot  string          `json:"screenshot,omitempty"`
	DurationMs  int64           `json:"durationMs"`
	ExecutedAt  *time.Time      `json:"executedAt,omitempty"`
}
