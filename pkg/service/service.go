// Package service implements the operations exposed to callers: test
// definitions with role-based redaction, execution, status polls and
// deletions. Authentication happens upstream; a Caller is trusted as given.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/executor"
	"github.com/devicelab-dev/webtest-runner/pkg/lifecycle"
	"github.com/devicelab-dev/webtest-runner/pkg/logger"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
	"github.com/devicelab-dev/webtest-runner/pkg/registry"
	"github.com/devicelab-dev/webtest-runner/pkg/store"
	"github.com/devicelab-dev/webtest-runner/pkg/validator"
)

// Caller identifies who invokes an operation.
type Caller struct {
	ID   string
	Role model.Role
}

// AppResolver maps a test URL to the registered application it targets.
type AppResolver interface {
	ResolveApp(ctx context.Context, rawURL string) (*registry.App, error)
}

// Service wires the engine components behind caller-facing operations.
type Service struct {
	store     store.Store
	apps      AppResolver
	lifecycle *lifecycle.Manager
	engine    *executor.Engine
	batches   *executor.Orchestrator
}

// New creates a Service.
func New(st store.Store, apps AppResolver, lc *lifecycle.Manager, engine *executor.Engine, batches *executor.Orchestrator) *Service {
	return &Service{store: st, apps: apps, lifecycle: lc, engine: engine, batches: batches}
}

// TestUpdate is a partial update. Nil fields are left unchanged.
type TestUpdate struct {
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	URL         *string              `json:"url,omitempty"`
	Steps       *[]model.TestStep    `json:"steps,omitempty"`
	Datasets    *[]model.TestDataset `json:"datasets,omitempty"`
}

// ExecuteTestRequest asks for one execution of a test.
type ExecuteTestRequest struct {
	TestID       string `json:"testId"`
	DataRowIndex *int   `json:"dataRowIndex,omitempty"`
	Environment  string `json:"environment,omitempty"`
	Browser      string `json:"browser,omitempty"`
	RunID        string `json:"runId,omitempty"`
}

// ExecuteBatchRequest asks for a named batch of tests.
type ExecuteBatchRequest struct {
	ProjectID   string   `json:"projectId"`
	TestIDs     []string `json:"testIds"`
	Parallel    bool     `json:"parallel"`
	RunName     string   `json:"runName"`
	Environment string   `json:"environment,omitempty"`
	Browser     string   `json:"browser,omitempty"`
}

// CreateTest validates and saves a new test. Steps are resolved against the
// registry before saving; derived fields sent by the caller are ignored.
func (s *Service) CreateTest(ctx context.Context, caller Caller, in *model.Test) (*model.Test, error) {
	if in == nil {
		return nil, core.Validation("test is required")
	}
	if strings.TrimSpace(in.ProjectID) == "" {
		return nil, core.Validation("projectId is required")
	}
	t := in.Clone()
	t.Steps = validator.NormalizeSteps(t.Steps)
	if err := validator.ValidateTest(t).Err(); err != nil {
		return nil, err
	}

	appID, err := s.appFor(ctx, t.AppID, t.URL)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t.ID = uuid.NewString()
	t.AppID = appID
	t.Steps = s.lifecycle.PrepareSteps(ctx, appID, t.Steps)
	t.RunCount, t.LastRunStatus, t.LastRunAt = 0, "", nil
	t.CreatedAt, t.UpdatedAt = now, now

	if err := s.store.CreateTest(ctx, t); err != nil {
		return nil, core.Internal(err, "create test")
	}
	logger.Info("test %s created by %s (%d steps, app %q)", t.ID, caller.ID, len(t.Steps), appID)
	return model.RedactTest(t, caller.Role), nil
}

// UpdateTest applies a partial update. Steps are re-resolved only when the
// step list or the target app changes.
func (s *Service) UpdateTest(ctx context.Context, caller Caller, id string, upd TestUpdate) (*model.Test, error) {
	stored, err := s.loadTest(ctx, id)
	if err != nil {
		return nil, err
	}
	t := stored.Clone()
	if upd.Name != nil {
		t.Name = *upd.Name
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	if upd.Datasets != nil {
		t.Datasets = *upd.Datasets
	}
	appID := stored.AppID
	if upd.URL != nil && *upd.URL != stored.URL {
		t.URL = *upd.URL
		if appID, err = s.appFor(ctx, "", t.URL); err != nil {
			return nil, err
		}
	}

	next := stored.Steps
	if upd.Steps != nil {
		next = validator.NormalizeSteps(*upd.Steps)
	}
	t.Steps = next
	if err := validator.ValidateTest(t).Err(); err != nil {
		return nil, err
	}

	remapped := false
	if upd.Steps != nil || appID != stored.AppID {
		t.Steps, remapped = s.lifecycle.Remap(ctx, stored, next, appID)
	}
	t.AppID = appID
	t.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateTest(ctx, t); err != nil {
		return nil, core.Internal(err, "update test %s", id)
	}
	logger.Info("test %s updated by %s (remapped=%v)", id, caller.ID, remapped)
	return model.RedactTest(t, caller.Role), nil
}

// CopyTest duplicates a test with its steps in order. The copy starts with
// fresh counters and its steps are resolved against the current registry.
// An empty name yields "Copy of <name>".
func (s *Service) CopyTest(ctx context.Context, caller Caller, id, name string) (*model.Test, error) {
	src, err := s.loadTest(ctx, id)
	if err != nil {
		return nil, err
	}
	c := src.Clone()
	now := time.Now().UTC()
	c.ID = uuid.NewString()
	if strings.TrimSpace(name) == "" {
		name = "Copy of " + src.Name
	}
	c.Name = name
	c.Steps = s.lifecycle.PrepareSteps(ctx, c.AppID, c.Steps)
	c.RunCount, c.LastRunStatus, c.LastRunAt = 0, "", nil
	c.CreatedAt, c.UpdatedAt = now, now

	if err := s.store.CreateTest(ctx, c); err != nil {
		return nil, core.Internal(err, "copy test %s", id)
	}
	logger.Info("test %s copied to %s by %s", id, c.ID, caller.ID)
	return model.RedactTest(c, caller.Role), nil
}

// GetTest returns a test shaped for the caller's role.
func (s *Service) GetTest(ctx context.Context, caller Caller, id string) (*model.Test, error) {
	t, err := s.loadTest(ctx, id)
	if err != nil {
		return nil, err
	}
	return model.RedactTest(t, caller.Role), nil
}

// ListTests returns the tests of a project shaped for the caller's role.
func (s *Service) ListTests(ctx context.Context, caller Caller, projectID string) ([]*model.Test, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, core.Validation("projectId is required")
	}
	tests, err := s.store.ListTests(ctx, projectID)
	if err != nil {
		return nil, core.Internal(err, "list tests")
	}
	return model.RedactTests(tests, caller.Role), nil
}

// ExecuteTest starts one execution and returns the pending test run.
func (s *Service) ExecuteTest(ctx context.Context, caller Caller, req ExecuteTestRequest) (*model.TestRun, error) {
	if strings.TrimSpace(req.TestID) == "" {
		return nil, core.Validation("testId is required")
	}
	tr, err := s.engine.Start(ctx, executor.ExecuteRequest{
		TestID:       req.TestID,
		DataRowIndex: req.DataRowIndex,
		Environment:  req.Environment,
		Browser:      req.Browser,
		RunID:        req.RunID,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("test %s executed by %s as %s", req.TestID, caller.ID, tr.ID)
	return tr, nil
}

// ExecuteBatch starts a named batch and returns the run.
func (s *Service) ExecuteBatch(ctx context.Context, caller Caller, req ExecuteBatchRequest) (*model.Run, error) {
	name := strings.TrimSpace(req.RunName)
	if name == "" {
		return nil, core.Validation("runName is required")
	}
	if len(req.TestIDs) == 0 {
		return nil, core.Validation("testIds must not be empty")
	}
	run, err := s.batches.ExecuteBatch(ctx, executor.BatchRequest{
		ProjectID:   req.ProjectID,
		TestIDs:     req.TestIDs,
		Parallel:    req.Parallel,
		RunName:     name,
		Environment: req.Environment,
		Browser:     req.Browser,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("batch %s started by %s", run.ID, caller.ID)
	return run, nil
}

// BatchStatus answers a batch status poll.
func (s *Service) BatchStatus(ctx context.Context, runID string) (*executor.BatchStatus, error) {
	return s.batches.Status(ctx, runID)
}

// ListTestRuns returns the executions of a test, newest first.
func (s *Service) ListTestRuns(ctx context.Context, testID string) ([]*model.TestRun, error) {
	if _, err := s.loadTest(ctx, testID); err != nil {
		return nil, err
	}
	trs, err := s.store.ListTestRunsByTest(ctx, testID)
	if err != nil {
		return nil, core.Internal(err, "list test runs of %s", testID)
	}
	return trs, nil
}

// GetTestRun returns a test run with its step results in read-back order.
func (s *Service) GetTestRun(ctx context.Context, id string) (*model.TestRun, error) {
	tr, err := s.store.GetTestRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, core.NotFound("test run %q not found", id)
	}
	if err != nil {
		return nil, core.Internal(err, "load test run %s", id)
	}
	results, err := s.store.ListStepResults(ctx, id)
	if err != nil {
		return nil, core.Internal(err, "list step results of %s", id)
	}
	model.SortStepResults(results)
	tr.Results = results
	return tr, nil
}

// DeleteRun removes a batch with its test runs and step results.
func (s *Service) DeleteRun(ctx context.Context, caller Caller, runID string) (lifecycle.Summary, error) {
	sum, err := s.lifecycle.DeleteRun(ctx, runID)
	if err == nil {
		logger.Info("run %s deleted by %s", runID, caller.ID)
	}
	return sum, err
}

// DeleteTestRun removes one test run and its step results.
func (s *Service) DeleteTestRun(ctx context.Context, caller Caller, testRunID string) (lifecycle.Summary, error) {
	sum, err := s.lifecycle.DeleteTestRun(ctx, testRunID)
	if err == nil {
		logger.Info("test run %s deleted by %s", testRunID, caller.ID)
	}
	return sum, err
}

// CancelRun stops a batch between steps.
func (s *Service) CancelRun(ctx context.Context, caller Caller, runID string) error {
	if err := s.batches.Cancel(ctx, runID); err != nil {
		return err
	}
	logger.Info("run %s cancelled by %s", runID, caller.ID)
	return nil
}

// CancelTestRun stops a single test run between steps. Cancelling a test run
// that already finished is a no-op.
func (s *Service) CancelTestRun(ctx context.Context, caller Caller, testRunID string) error {
	if _, err := s.store.GetTestRun(ctx, testRunID); errors.Is(err, store.ErrNotFound) {
		return core.NotFound("test run %q not found", testRunID)
	} else if err != nil {
		return core.Internal(err, "load test run %s", testRunID)
	}
	active := s.engine.Cancel(testRunID)
	logger.Info("test run %s cancel requested by %s (active=%v)", testRunID, caller.ID, active)
	return nil
}

func (s *Service) loadTest(ctx context.Context, id string) (*model.Test, error) {
	t, err := s.store.GetTest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, core.NotFound("test %q not found", id)
	}
	if err != nil {
		return nil, core.Internal(err, "load test %s", id)
	}
	return t, nil
}

// appFor returns the explicit app id, or the app registered for rawURL, or "".
func (s *Service) appFor(ctx context.Context, explicit, rawURL string) (string, error) {
	if explicit != "" || rawURL == "" || s.apps == nil {
		return explicit, nil
	}
	app, err := s.apps.ResolveApp(ctx, rawURL)
	if err != nil {
		return "", core.Internal(err, "resolve app for %s", rawURL)
	}
	if app == nil {
		logger.Debug("no registered app for %s", rawURL)
		return "", nil
	}
	return app.ID, nil
}
