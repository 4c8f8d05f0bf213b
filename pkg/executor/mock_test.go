package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
	"github.com/devicelab-dev/webtest-runner/pkg/registry"
	"github.com/devicelab-dev/webtest-runner/pkg/resolver"
	"github.com/devicelab-dev/webtest-runner/pkg/store"
	"github.com/devicelab-dev/webtest-runner/pkg/store/memstore"
)

// mockSession implements core.Session for testing.
type mockSession struct {
	performFunc    func(ctx context.Context, a core.ActionDescriptor) *core.CommandResult
	screenshotFunc func(ctx context.Context) ([]byte, error)
	pageFunc       func(ctx context.Context) (*core.PageContext, error)

	mu        sync.Mutex
	performed []core.ActionDescriptor
	closed    int
}

func (m *mockSession) Perform(ctx context.Context, a core.ActionDescriptor) *core.CommandResult {
	m.mu.Lock()
	m.performed = append(m.performed, a)
	m.mu.Unlock()
	if m.performFunc != nil {
		return m.performFunc(ctx, a)
	}
	return &core.CommandResult{Success: true, Duration: time.Millisecond}
}

func (m *mockSession) Screenshot(ctx context.Context) ([]byte, error) {
	if m.screenshotFunc != nil {
		return m.screenshotFunc(ctx)
	}
	return []byte{0x89, 0x50, 0x4E, 0x47}, nil // PNG magic bytes
}

func (m *mockSession) PageContext(ctx context.Context) (*core.PageContext, error) {
	if m.pageFunc != nil {
		return m.pageFunc(ctx)
	}
	return &core.PageContext{URL: "https://shop.example.com/login", Title: "Login"}, nil
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mockSession) actions() []core.ActionDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.ActionDescriptor(nil), m.performed...)
}

// mockDriver implements core.Driver for testing.
type mockDriver struct {
	openFunc func(ctx context.Context, env core.Environment, browser string) (core.Session, error)

	mu       sync.Mutex
	sessions []*mockSession
	newFunc  func() *mockSession
}

func (d *mockDriver) Open(ctx context.Context, env core.Environment, browser string) (core.Session, error) {
	if d.openFunc != nil {
		return d.openFunc(ctx, env, browser)
	}
	s := &mockSession{}
	if d.newFunc != nil {
		s = d.newFunc()
	}
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

// memBlobs records stored blobs by name.
type memBlobs struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (b *memBlobs) Store(_ context.Context, _ []byte, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	b.names = append(b.names, name)
	return "mem://" + name, nil
}

func (b *memBlobs) Delete(_ context.Context, _ string) (bool, error) { return true, nil }

// mockInterpreter implements resolver.Interpreter for testing.
type mockInterpreter struct {
	interpretFunc func(ctx context.Context, req resolver.InterpretRequest) (core.ActionDescriptor, error)

	mu    sync.Mutex
	calls []resolver.InterpretRequest
}

func (m *mockInterpreter) Interpret(ctx context.Context, req resolver.InterpretRequest) (core.ActionDescriptor, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.interpretFunc != nil {
		return m.interpretFunc(ctx, req)
	}
	return core.ActionDescriptor{}, core.ErrInterpreterUnavailable
}

func loadRegistry(t *testing.T) *resolver.Resolver {
	t.Helper()
	snap, err := registry.FileSource{Path: "../registry/testdata/registry.yaml"}.Load(context.Background())
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return resolver.New(registry.NewStaticCatalog(snap))
}

type harness struct {
	store     store.Store
	driver    *mockDriver
	interp    *mockInterpreter
	blobs     *memBlobs
	scheduler *Scheduler
	engine    *Engine
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store:     memstore.New(),
		driver:    &mockDriver{},
		interp:    &mockInterpreter{},
		blobs:     &memBlobs{},
		scheduler: NewScheduler(),
	}
	if cfg.ActionTimeout == 0 {
		cfg.ActionTimeout = time.Second
	}
	h.engine = NewEngine(h.store, h.driver, loadRegistry(t), h.interp, h.blobs, h.scheduler, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.scheduler.Shutdown(ctx)
	})
	return h
}

func (h *harness) addTest(t *testing.T, id string, steps ...model.TestStep) *model.Test {
	t.Helper()
	for i := range steps {
		if steps[i].Order == 0 {
			steps[i].Order = i + 1
		}
	}
	test := &model.Test{
		ID:        id,
		ProjectID: "p1",
		Name:      "Test " + id,
		URL:       "https://shop.example.com/login",
		AppID:     "shop",
		Steps:     steps,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateTest(context.Background(), test); err != nil {
		t.Fatalf("create test: %v", err)
	}
	return test
}

// runSync creates a test run row and drives it on the calling goroutine.
func (h *harness) runSync(t *testing.T, test *model.Test, row map[string]string) (RunOutcome, *model.TestRun, []model.StepResult) {
	t.Helper()
	ctx := context.Background()
	tr := h.engine.newTestRun(test.ID, "", 0, core.Environment{BaseURL: "https://shop.example.com"}, "chrome")
	if err := h.store.CreateTestRun(ctx, tr); err != nil {
		t.Fatalf("create test run: %v", err)
	}
	out := h.engine.Run(ctx, Execution{TestRunID: tr.ID, Test: test, DataRow: row, Browser: "chrome"})
	stored, err := h.store.GetTestRun(ctx, tr.ID)
	if err != nil {
		t.Fatalf("get test run: %v", err)
	}
	results, err := h.store.ListStepResults(ctx, tr.ID)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	return out, stored, results
}

func failOn(selector string) func(context.Context, core.ActionDescriptor) *core.CommandResult {
	return func(_ context.Context, a core.ActionDescriptor) *core.CommandResult {
		if a.Selector == selector {
			return &core.CommandResult{Success: false, Error: core.ErrElementNotFound.WithMessage(fmt.Sprintf("element %s not found", selector))}
		}
		return &core.CommandResult{Success: true}
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
