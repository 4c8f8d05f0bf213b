// Package storetest holds the behaviour every store.Store implementation must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
	"github.com/devicelab-dev/webtest-runner/pkg/store"
)

// Factory returns a fresh, empty store. Cleanup is registered on t.
type Factory func(t *testing.T) store.Store

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// Run executes the shared suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("TestCRUD", func(t *testing.T) { testCRUD(t, newStore(t)) })
	t.Run("RecordTestRunKeepsSteps", func(t *testing.T) { testRecordTestRun(t, newStore(t)) })
	t.Run("RunsAndTestRuns", func(t *testing.T) { testRuns(t, newStore(t)) })
	t.Run("StepResultOrdering", func(t *testing.T) { testResultOrdering(t, newStore(t)) })
	t.Run("ForeignKeys", func(t *testing.T) { testForeignKeys(t, newStore(t)) })
	t.Run("AtomicRollback", func(t *testing.T) { testAtomicRollback(t, newStore(t)) })
	t.Run("BottomUpDelete", func(t *testing.T) { testBottomUpDelete(t, newStore(t)) })
	t.Run("ConcurrentAppends", func(t *testing.T) { testConcurrentAppends(t, newStore(t)) })
}

// SeedTest inserts a test with two steps and returns it.
func SeedTest(t *testing.T, s store.Store, id string) *model.Test {
	t.Helper()
	test := &model.Test{
		ID:        id,
		ProjectID: "p1",
		Name:      "Login " + id,
		URL:       "https://shop.example.com/login",
		AppID:     "shop",
		Steps: []model.TestStep{
			{Order: 1, Instruction: "go to /login", Type: core.ActionNavigate, Value: "/login"},
			{Order: 2, Instruction: "click the submit button", Optional: true, WaitMs: 200},
		},
		Datasets:  []model.TestDataset{{Name: "admin", Values: map[string]string{"user": "admin"}}},
		CreatedAt: base,
		UpdatedAt: base,
	}
	require.NoError(t, s.CreateTest(context.Background(), test))
	return test
}

// SeedTestRun inserts a test run for testID, optionally inside runID.
func SeedTestRun(t *testing.T, s store.Store, id, testID, runID string, position int) *model.TestRun {
	t.Helper()
	tr := &model.TestRun{
		ID:        id,
		TestID:    testID,
		RunID:     runID,
		Position:  position,
		Browser:   "chrome",
		Status:    core.RunPending,
		CreatedAt: base.Add(time.Duration(position) * time.Millisecond),
	}
	require.NoError(t, s.CreateTestRun(context.Background(), tr))
	return tr
}

// SeedResult appends a result for step n.
func SeedResult(t *testing.T, s store.Store, testRunID string, n int, screenshot string) model.StepResult {
	t.Helper()
	r := &model.StepResult{
		TestRunID:     testRunID,
		StepNumber:    model.IntPtr(n),
		Status:        core.StepPassed,
		ScreenshotURL: screenshot,
		ExecutedAt:    model.TimePtr(base.Add(time.Duration(n) * time.Second)),
	}
	require.NoError(t, s.AppendStepResult(context.Background(), r))
	return *r
}

func testCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()
	seeded := SeedTest(t, s, "t1")

	got, err := s.GetTest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, seeded.Name, got.Name)
	assert.Equal(t, seeded.Steps, got.Steps)
	assert.Equal(t, seeded.Datasets, got.Datasets)
	assert.True(t, got.CreatedAt.Equal(base))

	got.Name = "Renamed"
	got.Steps = got.Steps[:1]
	got.UpdatedAt = base.Add(time.Hour)
	require.NoError(t, s.UpdateTest(ctx, got))

	again, err := s.GetTest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", again.Name)
	assert.Len(t, again.Steps, 1)
	assert.True(t, again.UpdatedAt.Equal(base.Add(time.Hour)))

	SeedTest(t, s, "t2")
	list, err := s.ListTests(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t1", list[0].ID)

	empty, err := s.ListTests(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = s.GetTest(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateTest(ctx, &model.Test{ID: "missing"}), store.ErrNotFound)
}

func testRecordTestRun(t *testing.T, s store.Store) {
	ctx := context.Background()
	seeded := SeedTest(t, s, "t1")
	at := base.Add(time.Minute)

	require.NoError(t, s.RecordTestRun(ctx, "t1", core.RunFailed, at))
	require.NoError(t, s.RecordTestRun(ctx, "t1", core.RunPassed, at.Add(time.Minute)))

	got, err := s.GetTest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RunCount)
	assert.Equal(t, core.RunPassed, got.LastRunStatus)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(at.Add(time.Minute)))
	assert.Equal(t, seeded.Steps, got.Steps)

	assert.ErrorIs(t, s.RecordTestRun(ctx, "missing", core.RunPassed, at), store.ErrNotFound)
}

func testRuns(t *testing.T, s store.Store) {
	ctx := context.Background()
	SeedTest(t, s, "t1")
	SeedTest(t, s, "t2")

	run := &model.Run{ID: "r1", ProjectID: "p1", Name: "Nightly", Status: core.RunRunning, Parallel: true, CreatedAt: base}
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Nightly", got.Name)
	assert.True(t, got.Parallel)
	assert.Nil(t, got.FinishedAt)

	finished := base.Add(time.Minute)
	require.NoError(t, s.UpdateRunStatus(ctx, "r1", core.RunPartial, &finished))
	got, err = s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, core.RunPartial, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(finished))

	SeedTestRun(t, s, "tr-b", "t2", "r1", 1)
	SeedTestRun(t, s, "tr-a", "t1", "r1", 0)
	SeedTestRun(t, s, "tr-solo", "t1", "", 5)

	byRun, err := s.ListTestRunsByRun(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, byRun, 2)
	assert.Equal(t, "tr-a", byRun[0].ID)
	assert.Equal(t, "tr-b", byRun[1].ID)

	byTest, err := s.ListTestRunsByTest(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, byTest, 2)
	assert.Equal(t, "tr-solo", byTest[0].ID, "newest first")

	tr, err := s.GetTestRun(ctx, "tr-a")
	require.NoError(t, err)
	started := base.Add(time.Second)
	tr.Status = core.RunFailed
	tr.Message = "step 1 failed"
	tr.StartedAt = &started
	tr.EndedAt = &finished
	require.NoError(t, s.UpdateTestRun(ctx, tr))

	tr, err = s.GetTestRun(ctx, "tr-a")
	require.NoError(t, err)
	assert.Equal(t, core.RunFailed, tr.Status)
	assert.Equal(t, "step 1 failed", tr.Message)
	assert.Equal(t, "r1", tr.RunID)
	require.NotNil(t, tr.StartedAt)
	assert.True(t, tr.StartedAt.Equal(started))

	solo2, err := s.GetTestRun(ctx, "tr-solo")
	require.NoError(t, err)
	assert.Empty(t, solo2.RunID)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetTestRun(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateRunStatus(ctx, "missing", core.RunPassed, nil), store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateTestRun(ctx, &model.TestRun{ID: "missing"}), store.ErrNotFound)
}

func testResultOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	SeedTest(t, s, "t1")
	SeedTestRun(t, s, "tr1", "t1", "", 0)

	// Written out of order, with ties and missing keys.
	writes := []model.StepResult{
		{StepNumber: nil, ExecutedAt: model.TimePtr(base)},
		{StepNumber: model.IntPtr(3), ExecutedAt: model.TimePtr(base.Add(3 * time.Second))},
		{StepNumber: model.IntPtr(1), ExecutedAt: nil},
		{StepNumber: model.IntPtr(1), ExecutedAt: model.TimePtr(base.Add(time.Second))},
		{StepNumber: model.IntPtr(2), ExecutedAt: model.TimePtr(base.Add(2 * time.Second))},
		{StepNumber: model.IntPtr(1), ExecutedAt: model.TimePtr(base.Add(time.Second))},
	}
	var ids []int64
	for i := range writes {
		r := writes[i]
		r.TestRunID = "tr1"
		r.Status = core.StepPassed
		require.NoError(t, s.AppendStepResult(ctx, &r))
		require.NotZero(t, r.ID)
		ids = append(ids, r.ID)
	}

	got, err := s.ListStepResults(ctx, "tr1")
	require.NoError(t, err)
	require.Len(t, got, len(writes))

	want := []int64{ids[3], ids[5], ids[2], ids[4], ids[1], ids[0]}
	for i, id := range want {
		assert.Equal(t, id, got[i].ID, "position %d", i)
	}

	empty, err := s.ListStepResults(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testForeignKeys(t *testing.T, s store.Store) {
	ctx := context.Background()
	SeedTest(t, s, "t1")

	err := s.CreateTestRun(ctx, &model.TestRun{ID: "tr1", TestID: "t1", RunID: "no-such-run", Status: core.RunPending, CreatedAt: base})
	assert.Error(t, err, "test run must not reference a missing run")

	err = s.AppendStepResult(ctx, &model.StepResult{TestRunID: "no-such-test-run", Status: core.StepPassed})
	assert.Error(t, err, "step result must not reference a missing test run")

	require.NoError(t, s.CreateRun(ctx, &model.Run{ID: "r1", ProjectID: "p1", Name: "n", Status: core.RunRunning, CreatedAt: base}))
	SeedTestRun(t, s, "tr1", "t1", "r1", 0)
	SeedResult(t, s, "tr1", 1, "")

	err = s.Atomic(ctx, func(tx store.Tx) error {
		_, err := tx.DeleteTestRuns(ctx, []string{"tr1"})
		return err
	})
	assert.Error(t, err, "test run with results must not be deletable")

	err = s.Atomic(ctx, func(tx store.Tx) error {
		return tx.DeleteRun(ctx, "r1")
	})
	assert.Error(t, err, "run with test runs must not be deletable")

	_, err = s.GetTestRun(ctx, "tr1")
	assert.NoError(t, err)
}

func testAtomicRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	SeedTest(t, s, "t1")
	SeedTestRun(t, s, "tr1", "t1", "", 0)
	SeedResult(t, s, "tr1", 1, "")

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(tx store.Tx) error {
		n, err := tx.DeleteStepResults(ctx, []string{"tr1"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	results, err := s.ListStepResults(ctx, "tr1")
	require.NoError(t, err)
	assert.Len(t, results, 1, "rolled back delete must not be visible")
}

func testBottomUpDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	SeedTest(t, s, "t1")
	require.NoError(t, s.CreateRun(ctx, &model.Run{ID: "r1", ProjectID: "p1", Name: "n", Status: core.RunRunning, CreatedAt: base}))
	SeedTestRun(t, s, "tr1", "t1", "r1", 0)
	SeedTestRun(t, s, "tr2", "t1", "r1", 1)
	SeedResult(t, s, "tr1", 1, "blob://a")
	SeedResult(t, s, "tr1", 2, "")
	SeedResult(t, s, "tr2", 1, "blob://b")

	err := s.Atomic(ctx, func(tx store.Tx) error {
		ok, err := tx.RunExists(ctx, "r1")
		require.NoError(t, err)
		require.True(t, ok)

		ids, err := tx.TestRunIDsByRun(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, []string{"tr1", "tr2"}, ids)

		shots, err := tx.StepResultScreenshots(ctx, ids)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"blob://a", "blob://b"}, shots)

		n, err := tx.DeleteStepResults(ctx, ids)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		n, err = tx.DeleteTestRuns(ctx, ids)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		return tx.DeleteRun(ctx, "r1")
	})
	require.NoError(t, err)

	_, err = s.GetRun(ctx, "r1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetTestRun(ctx, "tr1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	results, err := s.ListStepResults(ctx, "tr1")
	require.NoError(t, err)
	assert.Empty(t, results)

	// Empty collections are fine.
	err = s.Atomic(ctx, func(tx store.Tx) error {
		if _, err := tx.DeleteStepResults(ctx, nil); err != nil {
			return err
		}
		_, err := tx.DeleteTestRuns(ctx, nil)
		return err
	})
	assert.NoError(t, err)
}

func testConcurrentAppends(t *testing.T, s store.Store) {
	ctx := context.Background()
	SeedTest(t, s, "t1")
	for _, id := range []string{"tr1", "tr2", "tr3", "tr4"} {
		SeedTestRun(t, s, id, "t1", "", 0)
	}

	var wg sync.WaitGroup
	for _, id := range []string{"tr1", "tr2", "tr3", "tr4"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for n := 1; n <= 10; n++ {
				r := &model.StepResult{TestRunID: id, StepNumber: model.IntPtr(n), Status: core.StepPassed, ExecutedAt: model.TimePtr(time.Now())}
				assert.NoError(t, s.AppendStepResult(ctx, r))
			}
		}(id)
	}
	wg.Wait()

	results, err := s.ListStepResults(ctx, "tr3")
	require.NoError(t, err)
	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, i+1, *r.StepNumber)
	}
}
