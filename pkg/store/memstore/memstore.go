// Package memstore is an in-memory store.Store used by the CLI and tests.
// It enforces the same ownership rules as the SQL schema: a child row cannot
// reference a missing parent and a parent cannot be deleted while children exist.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
	"github.com/devicelab-dev/webtest-runner/pkg/store"
)

type state struct {
	tests    map[string]*model.Test
	runs     map[string]*model.Run
	testRuns map[string]*model.TestRun
	results  map[int64]*model.StepResult
	nextID   int64
}

func (s *state) clone() *state {
	c := &state{
		tests:    make(map[string]*model.Test, len(s.tests)),
		runs:     make(map[string]*model.Run, len(s.runs)),
		testRuns: make(map[string]*model.TestRun, len(s.testRuns)),
		results:  make(map[int64]*model.StepResult, len(s.results)),
		nextID:   s.nextID,
	}
	for k, v := range s.tests {
		c.tests[k] = v
	}
	for k, v := range s.runs {
		c.runs[k] = v
	}
	for k, v := range s.testRuns {
		c.testRuns[k] = v
	}
	for k, v := range s.results {
		c.results[k] = v
	}
	return c
}

// Store is an in-memory store.Store. Rows are copied on the way in and out.
type Store struct {
	mu sync.RWMutex
	s  *state
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{s: &state{
		tests:    make(map[string]*model.Test),
		runs:     make(map[string]*model.Run),
		testRuns: make(map[string]*model.TestRun),
		results:  make(map[int64]*model.StepResult),
	}}
}

// Close is a no-op.
func (m *Store) Close() error { return nil }

// CreateTest inserts a test.
func (m *Store) CreateTest(_ context.Context, t *model.Test) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.s.tests[t.ID]; ok {
		return fmt.Errorf("insert test: duplicate id %q", t.ID)
	}
	m.s.tests[t.ID] = t.Clone()
	return nil
}

// GetTest returns the test with the given id.
func (m *Store) GetTest(_ context.Context, id string) (*model.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.s.tests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.Clone(), nil
}

// UpdateTest replaces the definition of an existing test. Counters are not touched.
func (m *Store) UpdateTest(_ context.Context, t *model.Test) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.s.tests[t.ID]
	if !ok {
		return store.ErrNotFound
	}
	next := t.Clone()
	next.ProjectID = cur.ProjectID
	next.RunCount = cur.RunCount
	next.LastRunStatus = cur.LastRunStatus
	next.LastRunAt = cur.LastRunAt
	next.CreatedAt = cur.CreatedAt
	m.s.tests[t.ID] = next
	return nil
}

// ListTests returns the tests of a project, oldest first.
func (m *Store) ListTests(_ context.Context, projectID string) ([]*model.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Test
	for _, t := range m.s.tests {
		if t.ProjectID == projectID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RecordTestRun updates the lifecycle counters of a test.
func (m *Store) RecordTestRun(_ context.Context, testID string, status core.RunStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.s.tests[testID]
	if !ok {
		return store.ErrNotFound
	}
	next := cur.Clone()
	next.RunCount++
	next.LastRunStatus = status
	next.LastRunAt = model.TimePtr(at)
	m.s.tests[testID] = next
	return nil
}

// CreateRun inserts a batch run.
func (m *Store) CreateRun(_ context.Context, r *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.s.runs[r.ID]; ok {
		return fmt.Errorf("insert run: duplicate id %q", r.ID)
	}
	c := *r
	m.s.runs[r.ID] = &c
	return nil
}

// GetRun returns the batch run with the given id.
func (m *Store) GetRun(_ context.Context, id string) (*model.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.s.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *r
	return &c, nil
}

// UpdateRunStatus sets the aggregate status of a batch run.
func (m *Store) UpdateRunStatus(_ context.Context, id string, status core.RunStatus, finishedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	c := *r
	c.Status = status
	c.FinishedAt = finishedAt
	m.s.runs[id] = &c
	return nil
}

// CreateTestRun inserts a test run.
func (m *Store) CreateTestRun(_ context.Context, tr *model.TestRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.s.testRuns[tr.ID]; ok {
		return fmt.Errorf("insert test run: duplicate id %q", tr.ID)
	}
	if _, ok := m.s.tests[tr.TestID]; !ok {
		return fmt.Errorf("insert test run: test %q does not exist", tr.TestID)
	}
	if tr.RunID != "" {
		if _, ok := m.s.runs[tr.RunID]; !ok {
			return fmt.Errorf("insert test run: run %q does not exist", tr.RunID)
		}
	}
	m.s.testRuns[tr.ID] = copyTestRun(tr)
	return nil
}

// GetTestRun returns a test run without its results.
func (m *Store) GetTestRun(_ context.Context, id string) (*model.TestRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.getTestRun(id)
}

func (s *state) getTestRun(id string) (*model.TestRun, error) {
	tr, ok := s.testRuns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyTestRun(tr), nil
}

// UpdateTestRun persists status, message and timestamps of a test run.
func (m *Store) UpdateTestRun(_ context.Context, tr *model.TestRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.s.testRuns[tr.ID]
	if !ok {
		return store.ErrNotFound
	}
	next := copyTestRun(cur)
	next.Status = tr.Status
	next.Message = tr.Message
	next.StartedAt = tr.StartedAt
	next.EndedAt = tr.EndedAt
	m.s.testRuns[tr.ID] = next
	return nil
}

// ListTestRunsByTest returns the runs of a test, newest first.
func (m *Store) ListTestRunsByTest(_ context.Context, testID string) ([]*model.TestRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.s.filterTestRuns(func(tr *model.TestRun) bool { return tr.TestID == testID })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// ListTestRunsByRun returns the test runs of a batch in batch order.
func (m *Store) ListTestRunsByRun(_ context.Context, runID string) ([]*model.TestRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.s.filterTestRuns(func(tr *model.TestRun) bool { return tr.RunID == runID })
	sortByPosition(out)
	return out, nil
}

func (s *state) filterTestRuns(keep func(*model.TestRun) bool) []*model.TestRun {
	var out []*model.TestRun
	for _, tr := range s.testRuns {
		if keep(tr) {
			out = append(out, copyTestRun(tr))
		}
	}
	return out
}

func sortByPosition(trs []*model.TestRun) {
	sort.Slice(trs, func(i, j int) bool {
		a, b := trs[i], trs[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// AppendStepResult inserts one step result and sets its id.
func (m *Store) AppendStepResult(_ context.Context, r *model.StepResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.s.testRuns[r.TestRunID]; !ok {
		return fmt.Errorf("insert step result: test run %q does not exist", r.TestRunID)
	}
	m.s.nextID++
	r.ID = m.s.nextID
	c := *r
	m.s.results[c.ID] = &c
	return nil
}

// ListStepResults returns the results of a test run in read-back order.
func (m *Store) ListStepResults(_ context.Context, testRunID string) ([]model.StepResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.StepResult{}
	for _, r := range m.s.results {
		if r.TestRunID == testRunID {
			out = append(out, *r)
		}
	}
	model.SortStepResults(out)
	return out, nil
}

// Atomic runs fn against a private copy of the data and publishes it only
// when fn succeeds. Writers are serialized for the duration.
func (m *Store) Atomic(_ context.Context, fn func(tx store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{s: m.s.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.s = tx.s
	return nil
}

func copyTestRun(tr *model.TestRun) *model.TestRun {
	c := *tr
	c.Results = nil
	return &c
}
