// Package store defines persistence for tests, runs, test runs and step results.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
)

// ErrNotFound is returned by reads of rows that do not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence boundary. Implementations must be safe for concurrent use.
type Store interface {
	// Tests
	CreateTest(ctx context.Context, t *model.Test) error
	GetTest(ctx context.Context, id string) (*model.Test, error)
	UpdateTest(ctx context.Context, t *model.Test) error
	ListTests(ctx context.Context, projectID string) ([]*model.Test, error)
	// RecordTestRun bumps the run counter and sets the last run status and time.
	// The step list is not touched.
	RecordTestRun(ctx context.Context, testID string, status core.RunStatus, at time.Time) error

	// Runs
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, id string, status core.RunStatus, finishedAt *time.Time) error

	// Test runs
	CreateTestRun(ctx context.Context, tr *model.TestRun) error
	GetTestRun(ctx context.Context, id string) (*model.TestRun, error)
	UpdateTestRun(ctx context.Context, tr *model.TestRun) error
	ListTestRunsByTest(ctx context.Context, testID string) ([]*model.TestRun, error)
	ListTestRunsByRun(ctx context.Context, runID string) ([]*model.TestRun, error)

	// Step results
	// AppendStepResult inserts r and sets r.ID.
	AppendStepResult(ctx context.Context, r *model.StepResult) error
	// ListStepResults returns results ordered by (step number, executed at, id), nulls last.
	ListStepResults(ctx context.Context, testRunID string) ([]model.StepResult, error)

	// Atomic runs fn in one transaction. Readers never observe a partial result.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx exposes the primitives deletions are composed of.
type Tx interface {
	RunExists(ctx context.Context, runID string) (bool, error)
	GetTestRun(ctx context.Context, id string) (*model.TestRun, error)
	TestRunIDsByRun(ctx context.Context, runID string) ([]string, error)
	StepResultScreenshots(ctx context.Context, testRunIDs []string) ([]string, error)
	DeleteStepResults(ctx context.Context, testRunIDs []string) (int64, error)
	DeleteTestRuns(ctx context.Context, ids []string) (int64, error)
	DeleteRun(ctx context.Context, id string) error
}
