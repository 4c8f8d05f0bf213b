package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/logger"
	"github.com/devicelab-dev/webtest-runner/pkg/metrics"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
	"github.com/devicelab-dev/webtest-runner/pkg/store"
)

// DefaultPoolSize bounds concurrently open browser sessions of a parallel batch.
const DefaultPoolSize = 4

// Policy decides the aggregate status of a batch with mixed outcomes.
type Policy string

// Policy values.
const (
	PolicyPartial Policy = "partial" // Mixed outcomes aggregate to partial
	PolicyStrict  Policy = "strict"  // Any failure aggregates to failed
)

// ParsePolicy parses an aggregate policy name. Empty means PolicyPartial.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyPartial:
		return PolicyPartial, nil
	case PolicyStrict:
		return PolicyStrict, nil
	}
	return "", fmt.Errorf("unknown aggregate policy %q", s)
}

// Aggregate merges test run statuses into a batch status. Until every test
// run is terminal the batch is running.
func Aggregate(statuses []core.RunStatus, policy Policy) core.RunStatus {
	passed, failed := 0, 0
	for _, s := range statuses {
		switch {
		case !s.IsTerminal():
			return core.RunRunning
		case s == core.RunPassed:
			passed++
		default:
			failed++
		}
	}
	switch {
	case failed == 0:
		return core.RunPassed
	case passed == 0, policy == PolicyStrict:
		return core.RunFailed
	default:
		return core.RunPartial
	}
}

// BatchRequest asks for a named batch of tests.
type BatchRequest struct {
	ProjectID   string
	TestIDs     []string
	Parallel    bool
	RunName     string
	Environment string
	Browser     string
}

// TestStatus is one test of a batch as seen by a status poll.
type TestStatus struct {
	TestID    string         `json:"testId"`
	TestRunID string         `json:"testRunId"`
	Status    core.RunStatus `json:"status"`
	Message   string         `json:"message,omitempty"`
}

// BatchStatus answers a batch status poll.
type BatchStatus struct {
	RunID      string         `json:"runId"`
	Name       string         `json:"name"`
	Parallel   bool           `json:"parallel"`
	Total      int            `json:"total"`
	Tests      []TestStatus   `json:"tests"`
	Status     core.RunStatus `json:"status"`
	CreatedAt  time.Time      `json:"createdAt"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
}

// Orchestrator runs many tests under one named run.
type Orchestrator struct {
	store     store.Store
	engine    *Engine
	scheduler *Scheduler
	poolSize  int
	policy    Policy

	// OnBatchEnd is called once the aggregate status is persisted.
	OnBatchEnd func(runID string, status core.RunStatus)
}

// NewOrchestrator creates an orchestrator. A non-positive poolSize uses DefaultPoolSize.
func NewOrchestrator(st store.Store, engine *Engine, scheduler *Scheduler, poolSize int, policy Policy) *Orchestrator {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	if policy == "" {
		policy = PolicyPartial
	}
	return &Orchestrator{
		store:     st,
		engine:    engine,
		scheduler: scheduler,
		poolSize:  poolSize,
		policy:    policy,
	}
}

// ExecuteBatch creates the run and one pending test run per test, in order,
// then schedules execution and returns without waiting for it. Unknown test
// ids fail the call before anything is created.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, req BatchRequest) (*model.Run, error) {
	tests := make([]*model.Test, len(req.TestIDs))
	envs := make([]core.Environment, len(req.TestIDs))
	for i, id := range req.TestIDs {
		t, err := o.store.GetTest(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NotFound("test %q not found", id)
		}
		if err != nil {
			return nil, core.Internal(err, "load test %s", id)
		}
		env, err := o.engine.Environment(t, req.Environment)
		if err != nil {
			return nil, err
		}
		tests[i], envs[i] = t, env
	}

	run := &model.Run{
		ID:        uuid.NewString(),
		ProjectID: req.ProjectID,
		Name:      req.RunName,
		Status:    core.RunRunning,
		Parallel:  req.Parallel,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, core.Internal(err, "create run")
	}

	browser := o.engine.browser(req.Browser)
	jobs := make([]Execution, len(tests))
	for i, t := range tests {
		tr := o.engine.newTestRun(t.ID, run.ID, i, envs[i], browser)
		if err := o.store.CreateTestRun(ctx, tr); err != nil {
			o.abort(ctx, run.ID, jobs[:i], err)
			return nil, core.Internal(err, "create test run for %s", t.ID)
		}
		jobs[i] = Execution{TestRunID: tr.ID, Test: t, Environment: envs[i], Browser: browser}
	}

	if err := o.scheduler.Submit(run.ID, func(ctx context.Context) { o.runBatch(ctx, run, jobs) }); err != nil {
		o.abort(ctx, run.ID, jobs, err)
		return nil, core.Internal(err, "schedule run")
	}
	logger.Info("batch %s (%q) accepted: %d tests, parallel=%v", run.ID, run.Name, len(jobs), run.Parallel)
	return run, nil
}

// abort fails a batch that could not be started.
func (o *Orchestrator) abort(ctx context.Context, runID string, created []Execution, cause error) {
	for _, job := range created {
		o.engine.finish(ctx, job.TestRunID, job.Test.ID, RunOutcome{Status: core.RunFailed, Message: "batch not started: " + cause.Error()})
	}
	now := time.Now().UTC()
	if err := o.store.UpdateRunStatus(context.WithoutCancel(ctx), runID, core.RunFailed, &now); err != nil {
		logger.Error("batch %s: marking failed: %v", runID, err)
	}
}

// runBatch executes the jobs and persists the aggregate status.
func (o *Orchestrator) runBatch(ctx context.Context, run *model.Run, jobs []Execution) {
	ctx, span := tracer.Start(ctx, "batch",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.Int("run.tests", len(jobs)),
			attribute.Bool("run.parallel", run.Parallel),
		))
	defer span.End()
	start := time.Now()

	if run.Parallel {
		var g errgroup.Group
		g.SetLimit(o.poolSize)
		for _, job := range jobs {
			job := job
			g.Go(func() error {
				o.engine.Run(ctx, job)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for _, job := range jobs {
			o.engine.Run(ctx, job)
		}
	}

	status, err := o.finish(ctx, run.ID)
	if err != nil {
		logger.Error("batch %s: %v", run.ID, err)
		return
	}
	span.SetAttributes(attribute.String("run.status", string(status)))
	logger.Info("batch %s %s in %s", run.ID, status, time.Since(start).Round(time.Millisecond))
}

// finish computes and persists the aggregate status of a batch.
func (o *Orchestrator) finish(ctx context.Context, runID string) (core.RunStatus, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	trs, err := o.store.ListTestRunsByRun(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("list test runs: %w", err)
	}
	status := Aggregate(statuses(trs), o.policy)
	if !status.IsTerminal() {
		// A test run attached later is still executing; it does not
		// reopen the batch, so record what is known now.
		status = Aggregate(terminalOnly(trs), o.policy)
	}
	now := time.Now().UTC()
	if err := o.store.UpdateRunStatus(ctx, runID, status, &now); err != nil {
		return "", fmt.Errorf("persist status: %w", err)
	}
	metrics.BatchesTotal.WithLabelValues(string(status)).Inc()
	if o.OnBatchEnd != nil {
		o.OnBatchEnd(runID, status)
	}
	return status, nil
}

// Status answers a status poll. The aggregate is recomputed from the test runs.
func (o *Orchestrator) Status(ctx context.Context, runID string) (*BatchStatus, error) {
	run, err := o.store.GetRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, core.NotFound("run %q not found", runID)
	}
	if err != nil {
		return nil, core.Internal(err, "load run %s", runID)
	}
	trs, err := o.store.ListTestRunsByRun(ctx, runID)
	if err != nil {
		return nil, core.Internal(err, "list test runs of %s", runID)
	}

	bs := &BatchStatus{
		RunID:      run.ID,
		Name:       run.Name,
		Parallel:   run.Parallel,
		Total:      len(trs),
		Tests:      make([]TestStatus, len(trs)),
		Status:     Aggregate(statuses(trs), o.policy),
		CreatedAt:  run.CreatedAt,
		FinishedAt: run.FinishedAt,
	}
	for i, tr := range trs {
		bs.Tests[i] = TestStatus{TestID: tr.TestID, TestRunID: tr.ID, Status: tr.Status, Message: tr.Message}
	}
	if run.Status == core.RunFailed && bs.Total == 0 {
		bs.Status = core.RunFailed
	}
	return bs, nil
}

// Cancel stops a batch and every test run attached to it. Unstarted test runs
// end as failed.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	if _, err := o.store.GetRun(ctx, runID); errors.Is(err, store.ErrNotFound) {
		return core.NotFound("run %q not found", runID)
	} else if err != nil {
		return core.Internal(err, "load run %s", runID)
	}
	cancelled := o.scheduler.Cancel(runID)
	trs, err := o.store.ListTestRunsByRun(ctx, runID)
	if err != nil {
		return core.Internal(err, "list test runs of %s", runID)
	}
	for _, tr := range trs {
		if o.scheduler.Cancel(tr.ID) {
			cancelled = true
		}
	}
	logger.Info("batch %s cancel requested (active=%v)", runID, cancelled)
	return nil
}

func statuses(trs []*model.TestRun) []core.RunStatus {
	out := make([]core.RunStatus, len(trs))
	for i, tr := range trs {
		out[i] = tr.Status
	}
	return out
}

func terminalOnly(trs []*model.TestRun) []core.RunStatus {
	var out []core.RunStatus
	for _, tr := range trs {
		if tr.Status.IsTerminal() {
			out = append(out, tr.Status)
		}
	}
	return out
}
