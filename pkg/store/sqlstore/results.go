package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
	"github.com/devicelab-dev/webtest-runner/pkg/store"
)

// resultOrder is the read-back order of step results: step number, then
// execution time, then id, with missing values last.
const resultOrder = `ORDER BY step_number IS NULL, step_number, executed_at IS NULL, executed_at, id`

// AppendStepResult inserts one step result and sets its id.
func (s *Store) AppendStepResult(ctx context.Context, r *model.StepResult) error {
	err := s.db.QueryRowContext(ctx, s.q(`
INSERT INTO step_results (test_run_id, step_number, instruction, status, message, screenshot_url, duration_ms, executed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`),
		r.TestRunID, nullableInt(r.StepNumber), r.Instruction, string(r.Status), r.Message, r.ScreenshotURL,
		r.DurationMs, nullableTime(r.ExecutedAt)).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert step result: %w", err)
	}
	return nil
}

// ListStepResults returns the results of a test run in read-back order.
func (s *Store) ListStepResults(ctx context.Context, testRunID string) ([]model.StepResult, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT id, test_run_id, step_number, instruction, status, message, screenshot_url, duration_ms, executed_at
FROM step_results WHERE test_run_id = ? `+resultOrder), testRunID)
	if err != nil {
		return nil, fmt.Errorf("list step results: %w", err)
	}
	defer rows.Close()

	out := []model.StepResult{}
	for rows.Next() {
		var r model.StepResult
		var status string
		var stepNumber, executedAt sql.NullInt64
		if err := rows.Scan(&r.ID, &r.TestRunID, &stepNumber, &r.Instruction, &status, &r.Message,
			&r.ScreenshotURL, &r.DurationMs, &executedAt); err != nil {
			return nil, fmt.Errorf("scan step result: %w", err)
		}
		r.StepNumber = scanInt(stepNumber)
		r.Status = core.StepStatus(status)
		r.ExecutedAt = scanTime(executedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// sqlTx implements store.Tx on a database transaction.
type sqlTx struct {
	q querier
	d dialect
}

var _ store.Tx = (*sqlTx)(nil)

func (t *sqlTx) RunExists(ctx context.Context, runID string) (bool, error) {
	var n int
	if err := t.q.QueryRowContext(ctx, t.d.rebind(`SELECT COUNT(*) FROM runs WHERE id = ?`), runID).Scan(&n); err != nil {
		return false, fmt.Errorf("check run: %w", err)
	}
	return n > 0, nil
}

func (t *sqlTx) GetTestRun(ctx context.Context, id string) (*model.TestRun, error) {
	return getTestRun(ctx, t.q, t.d, id)
}

func (t *sqlTx) TestRunIDsByRun(ctx context.Context, runID string) ([]string, error) {
	rows, err := t.q.QueryContext(ctx, t.d.rebind(`SELECT id FROM test_runs WHERE run_id = ? ORDER BY position, id`), runID)
	if err != nil {
		return nil, fmt.Errorf("list test run ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *sqlTx) StepResultScreenshots(ctx context.Context, testRunIDs []string) ([]string, error) {
	if len(testRunIDs) == 0 {
		return nil, nil
	}
	rows, err := t.q.QueryContext(ctx, t.d.rebind(`
SELECT screenshot_url FROM step_results
WHERE screenshot_url <> '' AND test_run_id IN (`+placeholders(len(testRunIDs))+`) ORDER BY id`),
		stringArgs(testRunIDs)...)
	if err != nil {
		return nil, fmt.Errorf("list screenshots: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

func (t *sqlTx) DeleteStepResults(ctx context.Context, testRunIDs []string) (int64, error) {
	if len(testRunIDs) == 0 {
		return 0, nil
	}
	res, err := t.q.ExecContext(ctx, t.d.rebind(`DELETE FROM step_results WHERE test_run_id IN (`+placeholders(len(testRunIDs))+`)`),
		stringArgs(testRunIDs)...)
	if err != nil {
		return 0, fmt.Errorf("delete step results: %w", err)
	}
	return res.RowsAffected()
}

func (t *sqlTx) DeleteTestRuns(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := t.q.ExecContext(ctx, t.d.rebind(`DELETE FROM test_runs WHERE id IN (`+placeholders(len(ids))+`)`),
		stringArgs(ids)...)
	if err != nil {
		return 0, fmt.Errorf("delete test runs: %w", err)
	}
	return res.RowsAffected()
}

func (t *sqlTx) DeleteRun(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, t.d.rebind(`DELETE FROM runs WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return expectOne(res)
}
