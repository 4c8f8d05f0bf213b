package executor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/jsengine"
	"github.com/devicelab-dev/webtest-runner/pkg/logger"
	"github.com/devicelab-dev/webtest-runner/pkg/metrics"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
	"github.com/devicelab-dev/webtest-runner/pkg/resolver"
	"github.com/devicelab-dev/webtest-runner/pkg/store"
)

var tracer = otel.Tracer("github.com/devicelab-dev/webtest-runner/pkg/executor")

// Defaults for Config.
const (
	DefaultOpenTimeout = 60 * time.Second
	DefaultBrowser     = "chrome"
	persistTimeout     = 10 * time.Second
)

// LiveResolver resolves one instruction against the current registry.
type LiveResolver interface {
	Resolve(ctx context.Context, req resolver.Request) resolver.Result
}

// Config configures the engine.
type Config struct {
	ActionTimeout  time.Duration
	OpenTimeout    time.Duration
	Environments   map[string]string // Environment name to base URL
	DefaultBrowser string
	Variables      map[string]string // Available to every run; data row values win

	// Live progress callbacks
	OnRunStart     func(testRunID, testID string)
	OnStepComplete func(testRunID string, result model.StepResult)
	OnRunEnd       func(testRunID string, status core.RunStatus, message string)
}

// Engine drives single test runs.
type Engine struct {
	store       store.Store
	driver      core.Driver
	resolver    LiveResolver
	interpreter resolver.Interpreter
	steps       *StepExecutor
	scheduler   *Scheduler
	config      Config
}

// NewEngine creates an engine. interpreter may be nil to disable the fallback path.
func NewEngine(st store.Store, driver core.Driver, res LiveResolver, interp resolver.Interpreter,
	blobs core.BlobStore, scheduler *Scheduler, cfg Config) *Engine {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	if cfg.DefaultBrowser == "" {
		cfg.DefaultBrowser = DefaultBrowser
	}
	return &Engine{
		store:       st,
		driver:      driver,
		resolver:    res,
		interpreter: interp,
		steps:       NewStepExecutor(blobs, cfg.ActionTimeout),
		scheduler:   scheduler,
		config:      cfg,
	}
}

// Execution is one test run to drive.
type Execution struct {
	TestRunID   string
	Test        *model.Test
	DataRow     map[string]string
	Environment core.Environment
	Browser     string
}

// RunOutcome is the terminal state of a test run.
type RunOutcome struct {
	Status  core.RunStatus
	Message string
	Steps   int
}

// ExecuteRequest asks for one test to run, optionally inside an existing batch.
type ExecuteRequest struct {
	TestID       string
	DataRowIndex *int
	Environment  string
	Browser      string
	RunID        string
}

// Start creates the test run row and schedules its execution. It returns as
// soon as the run is accepted.
func (e *Engine) Start(ctx context.Context, req ExecuteRequest) (*model.TestRun, error) {
	test, err := e.store.GetTest(ctx, req.TestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, core.NotFound("test %q not found", req.TestID)
	}
	if err != nil {
		return nil, core.Internal(err, "load test %s", req.TestID)
	}
	row, ok := test.DataRow(req.DataRowIndex)
	if !ok {
		return nil, core.Validation("data row %d out of range (test has %d)", *req.DataRowIndex, len(test.Datasets))
	}
	if req.RunID != "" {
		if _, err := e.store.GetRun(ctx, req.RunID); errors.Is(err, store.ErrNotFound) {
			return nil, core.NotFound("run %q not found", req.RunID)
		} else if err != nil {
			return nil, core.Internal(err, "load run %s", req.RunID)
		}
	}
	env, err := e.Environment(test, req.Environment)
	if err != nil {
		return nil, err
	}

	tr := e.newTestRun(test.ID, req.RunID, 0, env, e.browser(req.Browser))
	tr.DataRowIndex = req.DataRowIndex
	if err := e.store.CreateTestRun(ctx, tr); err != nil {
		return nil, core.Internal(err, "create test run")
	}

	ex := Execution{TestRunID: tr.ID, Test: test, DataRow: row, Environment: env, Browser: tr.Browser}
	if err := e.scheduler.Submit(tr.ID, func(ctx context.Context) { e.Run(ctx, ex) }); err != nil {
		e.finish(ctx, tr.ID, test.ID, RunOutcome{Status: core.RunFailed, Message: err.Error()})
		return nil, core.Internal(err, "schedule test run")
	}
	logger.Info("test run %s accepted for test %s", tr.ID, test.ID)
	return tr, nil
}

// Cancel stops a running test run between steps.
func (e *Engine) Cancel(testRunID string) bool {
	return e.scheduler.Cancel(testRunID)
}

func (e *Engine) newTestRun(testID, runID string, position int, env core.Environment, browser string) *model.TestRun {
	return &model.TestRun{
		ID:          uuid.NewString(),
		TestID:      testID,
		RunID:       runID,
		Position:    position,
		Environment: env.Name,
		Browser:     browser,
		Status:      core.RunPending,
		CreatedAt:   time.Now().UTC(),
	}
}

func (e *Engine) browser(name string) string {
	if name == "" {
		return e.config.DefaultBrowser
	}
	return name
}

// Environment resolves the named environment for test. An empty name targets
// the origin of the test's URL.
func (e *Engine) Environment(test *model.Test, name string) (core.Environment, error) {
	if name != "" {
		base, ok := e.config.Environments[name]
		if !ok {
			return core.Environment{}, core.Validation("unknown environment %q", name)
		}
		return core.Environment{Name: name, BaseURL: base}, nil
	}
	if test.URL == "" {
		return core.Environment{}, nil
	}
	u, err := url.Parse(test.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return core.Environment{}, core.Validation("test URL %q is not absolute", test.URL)
	}
	return core.Environment{BaseURL: u.Scheme + "://" + u.Host}, nil
}

// Run drives one test run to a terminal status. It never returns an error:
// every failure is recorded on the run and its step results. The session is
// closed and the terminal status persisted on every exit path.
func (e *Engine) Run(ctx context.Context, ex Execution) (outcome RunOutcome) {
	ctx, span := tracer.Start(ctx, "testrun",
		trace.WithAttributes(
			attribute.String("test_run.id", ex.TestRunID),
			attribute.String("test.id", ex.Test.ID),
			attribute.String("browser", ex.Browser),
		))
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("test run %s panicked: %v", ex.TestRunID, r)
			outcome.Status = core.RunFailed
			outcome.Message = fmt.Sprintf("internal error: %v", r)
		}
		if outcome.Status == core.RunFailed {
			span.SetStatus(codes.Error, outcome.Message)
		}
		e.finish(ctx, ex.TestRunID, ex.Test.ID, outcome)
		logger.Info("test run %s %s in %s (%d steps)", ex.TestRunID, outcome.Status, time.Since(start).Round(time.Millisecond), outcome.Steps)
	}()

	if err := e.markRunning(ctx, ex.TestRunID, start); err != nil {
		logger.Warn("test run %s: %v", ex.TestRunID, err)
	}
	if e.config.OnRunStart != nil {
		e.config.OnRunStart(ex.TestRunID, ex.Test.ID)
	}
	if ctx.Err() != nil {
		return RunOutcome{Status: core.RunFailed, Message: "cancelled before start"}
	}

	session, err := e.openSession(ctx, ex.TestRunID, ex.Environment, ex.Browser)
	if err != nil {
		return RunOutcome{
			Status:  core.RunFailed,
			Message: "could not open browser session: " + errorMessage(err),
		}
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("test run %s: closing session: %v", ex.TestRunID, err)
		}
	}()

	script := NewScriptEngine(jsengine.RunInfo{
		TestRunID:   ex.TestRunID,
		TestID:      ex.Test.ID,
		Environment: ex.Environment.Name,
		Browser:     ex.Browser,
		BaseURL:     ex.Environment.BaseURL,
	}, mergeVariables(e.config.Variables, ex.DataRow))
	defer script.Close()

	return e.runSteps(ctx, session, script, ex)
}

// openSession opens a driver session within the open timeout. A session the
// driver hands back after the caller stopped waiting is closed on arrival.
func (e *Engine) openSession(ctx context.Context, testRunID string, env core.Environment, browser string) (core.Session, error) {
	cctx, cancel := context.WithTimeout(ctx, e.config.OpenTimeout)

	type reply struct {
		session core.Session
		err     error
	}
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: core.ErrSessionUnavailable.WithMessage(fmt.Sprintf("driver panic: %v", r))}
			}
		}()
		s, err := e.driver.Open(cctx, env, browser)
		ch <- reply{session: s, err: err}
	}()

	select {
	case r := <-ch:
		cancel()
		return r.session, r.err
	case <-cctx.Done():
		cancel()
		go func() {
			if r := <-ch; r.session != nil {
				logger.Warn("test run %s: session opened after timeout, closing", testRunID)
				if err := r.session.Close(); err != nil {
					logger.Warn("test run %s: closing late session: %v", testRunID, err)
				}
			}
		}()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, core.ErrTimeout.WithMessage(fmt.Sprintf("no response within %s", e.config.OpenTimeout))
	}
}

// runSteps executes steps in order and stops on the first required failure.
func (e *Engine) runSteps(ctx context.Context, session core.Session, script *ScriptEngine, ex Execution) RunOutcome {
	outcome := RunOutcome{Status: core.RunPassed}
	warnings := 0

	for i, step := range ex.Test.OrderedSteps() {
		if ctx.Err() != nil {
			outcome.Status = core.RunFailed
			outcome.Message = fmt.Sprintf("execution cancelled before step %d", i+1)
			break
		}

		number := i + 1
		out := e.executeStep(ctx, session, script, ex, number, step)
		outcome.Steps++

		if out.Halt {
			outcome.Status = core.RunFailed
			outcome.Message = fmt.Sprintf("step %d failed: %s", number, out.Message)
			break
		}
		if out.Status == core.StepWarned {
			warnings++
		}

		if step.WaitMs > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(step.WaitMs) * time.Millisecond):
			}
		}
	}

	if outcome.Status == core.RunPassed && warnings > 0 {
		outcome.Message = fmt.Sprintf("%d optional step(s) failed", warnings)
	}
	return outcome
}

// executeStep resolves, executes and records one step.
func (e *Engine) executeStep(ctx context.Context, session core.Session, script *ScriptEngine, ex Execution, number int, step model.TestStep) StepOutcome {
	ctx, span := tracer.Start(ctx, "step", trace.WithAttributes(attribute.Int("step.number", number)))
	defer span.End()

	action, path, rerr := e.resolveStep(ctx, session, script, ex.Test.AppID, step)
	metrics.ResolutionsTotal.WithLabelValues(path).Inc()
	span.SetAttributes(attribute.String("step.resolution", path))
	if rerr == nil {
		action = script.ExpandAction(action)
		span.SetAttributes(attribute.String("step.action", string(action.Type)))
	}

	out := e.steps.Execute(ctx, session, StepInput{
		TestRunID:  ex.TestRunID,
		Number:     number,
		Step:       step,
		Action:     action,
		ResolveErr: rerr,
	})
	if out.Status == core.StepFailed {
		span.SetStatus(codes.Error, out.Message)
	}

	result := model.StepResult{
		TestRunID:     ex.TestRunID,
		StepNumber:    model.IntPtr(number),
		Instruction:   step.Instruction,
		Status:        out.Status,
		Message:       out.Message,
		ScreenshotURL: out.Screenshot,
		DurationMs:    out.Duration.Milliseconds(),
		ExecutedAt:    model.TimePtr(time.Now().UTC()),
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := e.store.AppendStepResult(pctx, &result); err != nil {
		logger.Error("test run %s: recording step %d: %v", ex.TestRunID, number, err)
	}

	metrics.StepsTotal.WithLabelValues(string(out.Status)).Inc()
	metrics.StepDuration.Observe(out.Duration.Seconds())
	logger.Debug("test run %s step %d %s: %s", ex.TestRunID, number, out.Status, out.Message)
	if e.config.OnStepComplete != nil {
		e.config.OnStepComplete(ex.TestRunID, result)
	}
	return out
}

// resolveStep picks the action for a step: cached mapping, then the
// deterministic resolver, then the fallback interpreter with live page context.
func (e *Engine) resolveStep(ctx context.Context, session core.Session, script *ScriptEngine, appID string, step model.TestStep) (core.ActionDescriptor, string, error) {
	if step.HasMapping() {
		return step.Action(), metrics.PathCached, nil
	}

	vars := script.Variables()
	res := e.resolver.Resolve(ctx, resolver.Request{
		Instruction: step.Instruction,
		AppID:       appID,
		ScreenHint:  step.Screen,
		Variables:   vars,
	})
	unresolved, ok := res.(resolver.Unresolved)
	if !ok {
		return res.(resolver.Resolved).Action, metrics.PathDeterministic, nil
	}
	if e.interpreter == nil {
		return core.ActionDescriptor{}, metrics.PathUnresolved, unresolved.Err()
	}

	page, err := withTimeout(ctx, e.steps.actionTimeout, session.PageContext)
	if err != nil {
		logger.Warn("page context unavailable for fallback: %v", err)
		page = nil
	}
	logger.Debug("falling back to interpreter for %q (%s)", step.Instruction, unresolved)
	action, err := withTimeout(ctx, e.steps.actionTimeout, func(ctx context.Context) (core.ActionDescriptor, error) {
		return e.interpreter.Interpret(ctx, resolver.InterpretRequest{
			Instruction: resolver.Substitute(step.Instruction, vars),
			Page:        page,
			Variables:   vars,
		})
	})
	if err != nil {
		return core.ActionDescriptor{}, metrics.PathUnresolved,
			core.ErrUnresolved.WithMessage(fmt.Sprintf("could not resolve %q: %s", step.Instruction, unresolved.Reason)).WithCause(err)
	}
	return action, metrics.PathFallback, nil
}

func (e *Engine) markRunning(ctx context.Context, testRunID string, at time.Time) error {
	tr, err := e.store.GetTestRun(ctx, testRunID)
	if err != nil {
		return fmt.Errorf("load test run: %w", err)
	}
	tr.Status = core.RunRunning
	started := at.UTC()
	tr.StartedAt = &started
	if err := e.store.UpdateTestRun(ctx, tr); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	return nil
}

// finish persists the terminal status with a context detached from
// cancellation so a cancelled run still records how it ended.
func (e *Engine) finish(ctx context.Context, testRunID, testID string, outcome RunOutcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	now := time.Now().UTC()
	tr, err := e.store.GetTestRun(ctx, testRunID)
	if err != nil {
		logger.Error("test run %s: loading for completion: %v", testRunID, err)
	} else {
		tr.Status = outcome.Status
		tr.Message = outcome.Message
		tr.EndedAt = &now
		if err := e.store.UpdateTestRun(ctx, tr); err != nil {
			logger.Error("test run %s: persisting %s: %v", testRunID, outcome.Status, err)
		}
	}
	if err := e.store.RecordTestRun(ctx, testID, outcome.Status, now); err != nil {
		logger.Warn("test %s: updating run counters: %v", testID, err)
	}

	metrics.TestRunsTotal.WithLabelValues(string(outcome.Status)).Inc()
	if e.config.OnRunEnd != nil {
		e.config.OnRunEnd(testRunID, outcome.Status, outcome.Message)
	}
}

func mergeVariables(base, row map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(row))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range row {
		out[k] = v
	}
	return out
}
