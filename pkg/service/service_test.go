package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/driver/mock"
	"github.com/devicelab-dev/webtest-runner/pkg/executor"
	"github.com/devicelab-dev/webtest-runner/pkg/lifecycle"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
	"github.com/devicelab-dev/webtest-runner/pkg/registry"
	"github.com/devicelab-dev/webtest-runner/pkg/resolver"
	"github.com/devicelab-dev/webtest-runner/pkg/store"
	"github.com/devicelab-dev/webtest-runner/pkg/store/memstore"
)

var (
	member     = Caller{ID: "u-member", Role: model.RoleMember}
	superadmin = Caller{ID: "u-root", Role: model.RoleSuperAdmin}
)

// countingResolver counts save-time resolutions.
type countingResolver struct {
	*resolver.Resolver
	calls atomic.Int32
}

func (c *countingResolver) ResolveSteps(ctx context.Context, appID string, steps []model.TestStep, vars map[string]string) []model.TestStep {
	c.calls.Add(1)
	return c.Resolver.ResolveSteps(ctx, appID, steps, vars)
}

type fixture struct {
	svc      *Service
	store    store.Store
	driver   *mock.Driver
	resolver *countingResolver
}

func newFixture(t *testing.T, cfg mock.Config) *fixture {
	t.Helper()
	snap, err := registry.FileSource{Path: "../registry/testdata/registry.yaml"}.Load(context.Background())
	require.NoError(t, err)
	catalog := registry.NewStaticCatalog(snap)
	res := &countingResolver{Resolver: resolver.New(catalog)}

	st := memstore.New()
	drv := mock.New(cfg)
	sched := executor.NewScheduler()
	engine := executor.NewEngine(st, drv, res, nil, nil, sched, executor.Config{ActionTimeout: time.Second})
	batches := executor.NewOrchestrator(st, engine, sched, 2, executor.PolicyPartial)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Shutdown(ctx)
	})

	return &fixture{
		svc:      New(st, catalog, lifecycle.New(st, nil, res), engine, batches),
		store:    st,
		driver:   drv,
		resolver: res,
	}
}

func loginTest() *model.Test {
	return &model.Test{
		ProjectID: "p1",
		Name:      "Login",
		URL:       "https://shop.example.com/login",
		Steps: []model.TestStep{
			{Instruction: "enter admin123 into password"},
			{Instruction: "click the submit button"},
		},
		Datasets: []model.TestDataset{{Name: "alice", Values: map[string]string{"user": "alice"}}},
	}
}

func (f *fixture) waitForTestRun(t *testing.T, id string) *model.TestRun {
	t.Helper()
	var tr *model.TestRun
	require.Eventually(t, func() bool {
		var err error
		tr, err = f.svc.GetTestRun(context.Background(), id)
		require.NoError(t, err)
		return tr.Status.IsTerminal() && tr.EndedAt != nil
	}, 5*time.Second, 5*time.Millisecond)
	return tr
}

func TestCreateTest_ResolvesAndRedacts(t *testing.T) {
	f := newFixture(t, mock.Config{})
	ctx := context.Background()

	created, err := f.svc.CreateTest(ctx, member, loginTest())
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "shop", created.AppID)
	require.Len(t, created.Steps, 2)
	for _, s := range created.Steps {
		assert.False(t, s.HasMapping(), "member must not see derived fields")
	}

	full, err := f.svc.GetTest(ctx, superadmin, created.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ActionDescriptor{Type: core.ActionFill, Selector: "#password", Value: "admin123"}, full.Steps[0].Action())
	assert.Equal(t, 1, full.Steps[0].Order)
	assert.Equal(t, 2, full.Steps[1].Order)
}

func TestCreateTest_IgnoresCallerDerivedFields(t *testing.T) {
	f := newFixture(t, mock.Config{})
	in := loginTest()
	in.Steps = []model.TestStep{{Instruction: "wiggle the unicorn", Type: core.ActionClick, Selector: "#evil"}}

	created, err := f.svc.CreateTest(context.Background(), superadmin, in)
	require.NoError(t, err)
	assert.False(t, created.Steps[0].HasMapping())
	assert.Empty(t, created.Steps[0].Selector)
}

func TestCreateTest_Validation(t *testing.T) {
	f := newFixture(t, mock.Config{})

	tests := []struct {
		name   string
		mutate func(*model.Test)
	}{
		{"missing project", func(t *model.Test) { t.ProjectID = "" }},
		{"missing name", func(t *model.Test) { t.Name = " " }},
		{"no steps", func(t *model.Test) { t.Steps = nil }},
		{"blank instruction", func(t *model.Test) { t.Steps[1].Instruction = "" }},
		{"duplicate dataset", func(t *model.Test) { t.Datasets = append(t.Datasets, t.Datasets[0]) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := loginTest()
			tt.mutate(in)
			_, err := f.svc.CreateTest(context.Background(), member, in)
			assert.True(t, core.IsValidation(err), "err = %v", err)
		})
	}
	assert.Zero(t, f.resolver.calls.Load(), "invalid tests must not be resolved")
}

func TestUpdateTest_Remapping(t *testing.T) {
	f := newFixture(t, mock.Config{})
	ctx := context.Background()
	created, err := f.svc.CreateTest(ctx, member, loginTest())
	require.NoError(t, err)
	require.EqualValues(t, 1, f.resolver.calls.Load())

	t.Run("counter-only fields never re-resolve", func(t *testing.T) {
		name := "Login v2"
		got, err := f.svc.UpdateTest(ctx, member, created.ID, TestUpdate{Name: &name})
		require.NoError(t, err)
		assert.Equal(t, "Login v2", got.Name)
		assert.EqualValues(t, 1, f.resolver.calls.Load())
	})

	t.Run("unchanged steps keep the stored mapping", func(t *testing.T) {
		same := loginTest().Steps
		same[0].Selector = "#tampered"
		same[0].Type = core.ActionClick
		_, err := f.svc.UpdateTest(ctx, member, created.ID, TestUpdate{Steps: &same})
		require.NoError(t, err)
		assert.EqualValues(t, 1, f.resolver.calls.Load())

		full, err := f.svc.GetTest(ctx, superadmin, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "#password", full.Steps[0].Selector)
	})

	t.Run("changed steps re-resolve", func(t *testing.T) {
		next := []model.TestStep{{Instruction: "click the submit button"}}
		_, err := f.svc.UpdateTest(ctx, member, created.ID, TestUpdate{Steps: &next})
		require.NoError(t, err)
		assert.EqualValues(t, 2, f.resolver.calls.Load())

		full, err := f.svc.GetTest(ctx, superadmin, created.ID)
		require.NoError(t, err)
		require.Len(t, full.Steps, 1)
		assert.Equal(t, "#submit", full.Steps[0].Selector)
	})

	t.Run("url moving to another app re-resolves", func(t *testing.T) {
		url := "https://shop.example.com/admin/dashboard"
		got, err := f.svc.UpdateTest(ctx, member, created.ID, TestUpdate{URL: &url})
		require.NoError(t, err)
		assert.Equal(t, "admin", got.AppID)
		assert.EqualValues(t, 3, f.resolver.calls.Load())
	})

	t.Run("invalid steps rejected", func(t *testing.T) {
		var none []model.TestStep
		_, err := f.svc.UpdateTest(ctx, member, created.ID, TestUpdate{Steps: &none})
		assert.True(t, core.IsValidation(err))
	})

	t.Run("not found", func(t *testing.T) {
		_, err := f.svc.UpdateTest(ctx, member, "ghost", TestUpdate{})
		assert.True(t, core.IsNotFound(err))
	})
}

func TestCopyTest(t *testing.T) {
	f := newFixture(t, mock.Config{})
	ctx := context.Background()
	in := loginTest()
	in.Steps = []model.TestStep{
		{Order: 3, Instruction: "click the submit button"},
		{Order: 1, Instruction: "enter admin into username"},
		{Order: 2, Instruction: "enter secret into password"},
	}
	created, err := f.svc.CreateTest(ctx, member, in)
	require.NoError(t, err)
	require.NoError(t, f.store.RecordTestRun(ctx, created.ID, core.RunPassed, time.Now()))

	cp, err := f.svc.CopyTest(ctx, superadmin, created.ID, "")
	require.NoError(t, err)
	assert.NotEqual(t, created.ID, cp.ID)
	assert.Equal(t, "Copy of Login", cp.Name)
	assert.Zero(t, cp.RunCount)
	assert.Empty(t, cp.LastRunStatus)

	var got []string
	for _, s := range cp.Steps {
		got = append(got, s.Instruction)
	}
	assert.Equal(t, []string{"enter admin into username", "enter secret into password", "click the submit button"}, got)
	assert.Equal(t, "#username", cp.Steps[0].Selector)
	assert.EqualValues(t, 2, f.resolver.calls.Load(), "copying resolves the steps again")

	_, err = f.svc.CopyTest(ctx, member, "ghost", "x")
	assert.True(t, core.IsNotFound(err))
}

func TestCopyTest_ReplacesStaleMapping(t *testing.T) {
	f := newFixture(t, mock.Config{})
	ctx := context.Background()
	in := loginTest()
	in.Steps = []model.TestStep{{Order: 1, Instruction: "enter admin123 into password"}}
	created, err := f.svc.CreateTest(ctx, member, in)
	require.NoError(t, err)

	stored, err := f.store.GetTest(ctx, created.ID)
	require.NoError(t, err)
	stored.Steps[0].Type = core.ActionClick
	stored.Steps[0].Selector = "#stale-from-old-registry"
	stored.Steps[0].Value = ""
	require.NoError(t, f.store.UpdateTest(ctx, stored))

	cp, err := f.svc.CopyTest(ctx, superadmin, created.ID, "Login copy")
	require.NoError(t, err)
	require.Len(t, cp.Steps, 1)
	assert.Equal(t, core.ActionFill, cp.Steps[0].Type)
	assert.Equal(t, "#password", cp.Steps[0].Selector)
	assert.Equal(t, "admin123", cp.Steps[0].Value)

	saved, err := f.store.GetTest(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, "#password", saved.Steps[0].Selector)
}

func TestListTests(t *testing.T) {
	f := newFixture(t, mock.Config{})
	ctx := context.Background()
	_, err := f.svc.CreateTest(ctx, member, loginTest())
	require.NoError(t, err)
	other := loginTest()
	other.ProjectID = "p2"
	_, err = f.svc.CreateTest(ctx, member, other)
	require.NoError(t, err)

	tests, err := f.svc.ListTests(ctx, Caller{Role: model.RoleAdmin}, "p1")
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.False(t, tests[0].Steps[0].HasMapping())

	_, err = f.svc.ListTests(ctx, member, "")
	assert.True(t, core.IsValidation(err))
}

func TestExecuteTest(t *testing.T) {
	f := newFixture(t, mock.Config{})
	ctx := context.Background()
	created, err := f.svc.CreateTest(ctx, member, loginTest())
	require.NoError(t, err)

	tr, err := f.svc.ExecuteTest(ctx, member, ExecuteTestRequest{TestID: created.ID, DataRowIndex: model.IntPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, core.RunPending, tr.Status)

	done := f.waitForTestRun(t, tr.ID)
	assert.Equal(t, core.RunPassed, done.Status)
	require.Len(t, done.Results, 2)
	assert.Equal(t, 1, *done.Results[0].StepNumber)
	assert.Equal(t, 2, *done.Results[1].StepNumber)
	assert.Equal(t, 0, f.driver.OpenSessions(), "session must be closed")

	runs, err := f.svc.ListTestRuns(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	require.Eventually(t, func() bool {
		test, err := f.svc.GetTest(ctx, member, created.ID)
		return err == nil && test.RunCount == 1 && test.LastRunStatus == core.RunPassed
	}, 5*time.Second, 5*time.Millisecond)
}

func TestExecuteTest_Errors(t *testing.T) {
	f := newFixture(t, mock.Config{})
	ctx := context.Background()
	created, err := f.svc.CreateTest(ctx, member, loginTest())
	require.NoError(t, err)

	_, err = f.svc.ExecuteTest(ctx, member, ExecuteTestRequest{})
	assert.True(t, core.IsValidation(err))

	_, err = f.svc.ExecuteTest(ctx, member, ExecuteTestRequest{TestID: "ghost"})
	assert.True(t, core.IsNotFound(err))

	_, err = f.svc.ExecuteTest(ctx, member, ExecuteTestRequest{TestID: created.ID, DataRowIndex: model.IntPtr(5)})
	assert.True(t, core.IsValidation(err))

	_, err = f.svc.ExecuteTest(ctx, member, ExecuteTestRequest{TestID: created.ID, RunID: "ghost"})
	assert.True(t, core.IsNotFound(err))
}

func TestExecuteBatch(t *testing.T) {
	f := newFixture(t, mock.Config{FailSelectors: []string{"#submit"}})
	ctx := context.Background()
	ok := loginTest()
	ok.Steps = ok.Steps[:1]
	a, err := f.svc.CreateTest(ctx, member, ok)
	require.NoError(t, err)
	b, err := f.svc.CreateTest(ctx, member, loginTest())
	require.NoError(t, err)

	_, err = f.svc.ExecuteBatch(ctx, member, ExecuteBatchRequest{TestIDs: []string{a.ID}})
	assert.True(t, core.IsValidation(err), "runName is required")
	_, err = f.svc.ExecuteBatch(ctx, member, ExecuteBatchRequest{RunName: "nightly"})
	assert.True(t, core.IsValidation(err), "testIds must not be empty")

	run, err := f.svc.ExecuteBatch(ctx, member, ExecuteBatchRequest{ProjectID: "p1", TestIDs: []string{a.ID, b.ID}, RunName: " nightly ", Parallel: true})
	require.NoError(t, err)
	assert.Equal(t, "nightly", run.Name)

	var bs *executor.BatchStatus
	require.Eventually(t, func() bool {
		bs, err = f.svc.BatchStatus(ctx, run.ID)
		require.NoError(t, err)
		stored, _ := f.store.GetRun(ctx, run.ID)
		return stored.FinishedAt != nil
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, core.RunPartial, bs.Status)
	assert.Equal(t, a.ID, bs.Tests[0].TestID)
	assert.Equal(t, core.RunPassed, bs.Tests[0].Status)
	assert.Equal(t, core.RunFailed, bs.Tests[1].Status)

	_, err = f.svc.BatchStatus(ctx, "ghost")
	assert.True(t, core.IsNotFound(err))
}

func TestDeleteRun(t *testing.T) {
	f := newFixture(t, mock.Config{})
	ctx := context.Background()
	created, err := f.svc.CreateTest(ctx, member, loginTest())
	require.NoError(t, err)

	run, err := f.svc.ExecuteBatch(ctx, member, ExecuteBatchRequest{TestIDs: []string{created.ID, created.ID}, RunName: "twice"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		stored, _ := f.store.GetRun(ctx, run.ID)
		return stored.FinishedAt != nil
	}, 5*time.Second, 5*time.Millisecond)

	sum, err := f.svc.DeleteRun(ctx, member, run.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, sum.TestRuns)
	assert.EqualValues(t, 4, sum.StepResults)

	_, err = f.svc.BatchStatus(ctx, run.ID)
	assert.True(t, core.IsNotFound(err))
	_, err = f.svc.DeleteRun(ctx, member, run.ID)
	assert.True(t, core.IsNotFound(err))
}

func TestDeleteTestRun(t *testing.T) {
	f := newFixture(t, mock.Config{})
	ctx := context.Background()
	created, err := f.svc.CreateTest(ctx, member, loginTest())
	require.NoError(t, err)
	tr, err := f.svc.ExecuteTest(ctx, member, ExecuteTestRequest{TestID: created.ID})
	require.NoError(t, err)
	f.waitForTestRun(t, tr.ID)

	sum, err := f.svc.DeleteTestRun(ctx, member, tr.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, sum.TestRuns)

	_, err = f.svc.GetTestRun(ctx, tr.ID)
	assert.True(t, core.IsNotFound(err))
	_, err = f.svc.DeleteTestRun(ctx, member, tr.ID)
	assert.True(t, core.IsNotFound(err))
}

func TestCancel(t *testing.T) {
	f := newFixture(t, mock.Config{StepDelay: 200 * time.Millisecond})
	ctx := context.Background()
	created, err := f.svc.CreateTest(ctx, member, loginTest())
	require.NoError(t, err)

	tr, err := f.svc.ExecuteTest(ctx, member, ExecuteTestRequest{TestID: created.ID})
	require.NoError(t, err)
	require.NoError(t, f.svc.CancelTestRun(ctx, member, tr.ID))
	done := f.waitForTestRun(t, tr.ID)
	assert.Equal(t, core.RunFailed, done.Status)

	assert.True(t, core.IsNotFound(f.svc.CancelTestRun(ctx, member, "ghost")))
	assert.True(t, core.IsNotFound(f.svc.CancelRun(ctx, member, "ghost")))
}
