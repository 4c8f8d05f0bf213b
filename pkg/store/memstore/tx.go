package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/devicelab-dev/webtest-runner/pkg/model"
	"github.com/devicelab-dev/webtest-runner/pkg/store"
)

// memTx implements store.Tx on a private copy of the store state.
type memTx struct {
	s *state
}

var _ store.Tx = (*memTx)(nil)

func (t *memTx) RunExists(_ context.Context, runID string) (bool, error) {
	_, ok := t.s.runs[runID]
	return ok, nil
}

func (t *memTx) GetTestRun(_ context.Context, id string) (*model.TestRun, error) {
	return t.s.getTestRun(id)
}

func (t *memTx) TestRunIDsByRun(_ context.Context, runID string) ([]string, error) {
	trs := t.s.filterTestRuns(func(tr *model.TestRun) bool { return tr.RunID == runID })
	sortByPosition(trs)
	ids := make([]string, len(trs))
	for i, tr := range trs {
		ids[i] = tr.ID
	}
	return ids, nil
}

func (t *memTx) StepResultScreenshots(_ context.Context, testRunIDs []string) ([]string, error) {
	owners := toSet(testRunIDs)
	var ids []int64
	for id, r := range t.s.results {
		if owners[r.TestRunID] && r.ScreenshotURL != "" {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	urls := make([]string, len(ids))
	for i, id := range ids {
		urls[i] = t.s.results[id].ScreenshotURL
	}
	return urls, nil
}

func (t *memTx) DeleteStepResults(_ context.Context, testRunIDs []string) (int64, error) {
	owners := toSet(testRunIDs)
	var n int64
	for id, r := range t.s.results {
		if owners[r.TestRunID] {
			delete(t.s.results, id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) DeleteTestRuns(_ context.Context, ids []string) (int64, error) {
	doomed := toSet(ids)
	for _, r := range t.s.results {
		if doomed[r.TestRunID] {
			return 0, fmt.Errorf("delete test runs: step results still reference test run %q", r.TestRunID)
		}
	}
	var n int64
	for id := range doomed {
		if _, ok := t.s.testRuns[id]; ok {
			delete(t.s.testRuns, id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) DeleteRun(_ context.Context, id string) error {
	if _, ok := t.s.runs[id]; !ok {
		return store.ErrNotFound
	}
	for _, tr := range t.s.testRuns {
		if tr.RunID == id {
			return fmt.Errorf("delete run: test run %q still references run %q", tr.ID, id)
		}
	}
	delete(t.s.runs, id)
	return nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
