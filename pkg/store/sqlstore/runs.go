package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
	"github.com/devicelab-dev/webtest-runner/pkg/store"
)

// CreateRun inserts a batch run.
func (s *Store) CreateRun(ctx context.Context, r *model.Run) error {
	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO runs (id, project_id, name, status, parallel, created_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.ProjectID, r.Name, string(r.Status), boolToInt(r.Parallel), toNanos(r.CreatedAt), nullableTime(r.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun returns the batch run with the given id.
func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	var r model.Run
	var status string
	var parallel int
	var createdAt int64
	var finishedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.q(`
SELECT id, project_id, name, status, parallel, created_at, finished_at FROM runs WHERE id = ?`), id).
		Scan(&r.ID, &r.ProjectID, &r.Name, &status, &parallel, &createdAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	r.Status = core.RunStatus(status)
	r.Parallel = parallel != 0
	r.CreatedAt = fromNanos(createdAt)
	r.FinishedAt = scanTime(finishedAt)
	return &r, nil
}

// UpdateRunStatus sets the aggregate status of a batch run.
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status core.RunStatus, finishedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`),
		string(status), nullableTime(finishedAt), id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return expectOne(res)
}

const testRunColumns = `id, test_id, run_id, position, environment, browser, data_row_index,
status, message, created_at, started_at, ended_at`

// CreateTestRun inserts a test run.
func (s *Store) CreateTestRun(ctx context.Context, tr *model.TestRun) error {
	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO test_runs (`+testRunColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		tr.ID, tr.TestID, nullableString(tr.RunID), tr.Position, tr.Environment, tr.Browser, nullableInt(tr.DataRowIndex),
		string(tr.Status), tr.Message, toNanos(tr.CreatedAt), nullableTime(tr.StartedAt), nullableTime(tr.EndedAt))
	if err != nil {
		return fmt.Errorf("insert test run: %w", err)
	}
	return nil
}

// GetTestRun returns a test run without its results.
func (s *Store) GetTestRun(ctx context.Context, id string) (*model.TestRun, error) {
	return getTestRun(ctx, s.db, s.d, id)
}

func getTestRun(ctx context.Context, q querier, d dialect, id string) (*model.TestRun, error) {
	row := q.QueryRowContext(ctx, d.rebind(`SELECT `+testRunColumns+` FROM test_runs WHERE id = ?`), id)
	tr, err := scanTestRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get test run: %w", err)
	}
	return tr, nil
}

// UpdateTestRun persists status, message and timestamps of a test run.
func (s *Store) UpdateTestRun(ctx context.Context, tr *model.TestRun) error {
	res, err := s.db.ExecContext(ctx, s.q(`
UPDATE test_runs SET status = ?, message = ?, started_at = ?, ended_at = ? WHERE id = ?`),
		string(tr.Status), tr.Message, nullableTime(tr.StartedAt), nullableTime(tr.EndedAt), tr.ID)
	if err != nil {
		return fmt.Errorf("update test run: %w", err)
	}
	return expectOne(res)
}

// ListTestRunsByTest returns the runs of a test, newest first.
func (s *Store) ListTestRunsByTest(ctx context.Context, testID string) ([]*model.TestRun, error) {
	return s.listTestRuns(ctx, `WHERE test_id = ? ORDER BY created_at DESC, id DESC`, testID)
}

// ListTestRunsByRun returns the test runs of a batch in batch order.
func (s *Store) ListTestRunsByRun(ctx context.Context, runID string) ([]*model.TestRun, error) {
	return s.listTestRuns(ctx, `WHERE run_id = ? ORDER BY position, created_at, id`, runID)
}

func (s *Store) listTestRuns(ctx context.Context, where string, arg string) ([]*model.TestRun, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+testRunColumns+` FROM test_runs `+where), arg)
	if err != nil {
		return nil, fmt.Errorf("list test runs: %w", err)
	}
	defer rows.Close()

	var out []*model.TestRun
	for rows.Next() {
		tr, err := scanTestRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test run: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func scanTestRun(row rowScanner) (*model.TestRun, error) {
	var tr model.TestRun
	var runID sql.NullString
	var status string
	var dataRow, startedAt, endedAt sql.NullInt64
	var createdAt int64
	if err := row.Scan(&tr.ID, &tr.TestID, &runID, &tr.Position, &tr.Environment, &tr.Browser, &dataRow,
		&status, &tr.Message, &createdAt, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	tr.RunID = runID.String
	tr.DataRowIndex = scanInt(dataRow)
	tr.Status = core.RunStatus(status)
	tr.CreatedAt = fromNanos(createdAt)
	tr.StartedAt = scanTime(startedAt)
	tr.EndedAt = scanTime(endedAt)
	return &tr, nil
}
