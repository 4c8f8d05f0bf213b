package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
	"github.com/devicelab-dev/webtest-runner/pkg/store"
)

const testColumns = `id, project_id, name, description, url, app_id, steps, datasets,
run_count, last_run_status, last_run_at, created_at, updated_at`

// CreateTest inserts a test.
func (s *Store) CreateTest(ctx context.Context, t *model.Test) error {
	steps, datasets, err := marshalDefinition(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`
INSERT INTO tests (`+testColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.ProjectID, t.Name, t.Description, t.URL, t.AppID, steps, datasets,
		t.RunCount, string(t.LastRunStatus), nullableTime(t.LastRunAt), toNanos(t.CreatedAt), toNanos(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert test: %w", err)
	}
	return nil
}

// GetTest returns the test with the given id.
func (s *Store) GetTest(ctx context.Context, id string) (*model.Test, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+testColumns+` FROM tests WHERE id = ?`), id)
	t, err := scanTest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get test: %w", err)
	}
	return t, nil
}

// UpdateTest replaces the definition of an existing test. Counters are not touched.
func (s *Store) UpdateTest(ctx context.Context, t *model.Test) error {
	steps, datasets, err := marshalDefinition(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.q(`
UPDATE tests SET name = ?, description = ?, url = ?, app_id = ?, steps = ?, datasets = ?, updated_at = ?
WHERE id = ?`),
		t.Name, t.Description, t.URL, t.AppID, steps, datasets, toNanos(t.UpdatedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update test: %w", err)
	}
	return expectOne(res)
}

// ListTests returns the tests of a project, oldest first.
func (s *Store) ListTests(ctx context.Context, projectID string) ([]*model.Test, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT `+testColumns+` FROM tests WHERE project_id = ? ORDER BY created_at, id`), projectID)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	defer rows.Close()

	var tests []*model.Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test: %w", err)
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// RecordTestRun updates the lifecycle counters of a test.
func (s *Store) RecordTestRun(ctx context.Context, testID string, status core.RunStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`
UPDATE tests SET run_count = run_count + 1, last_run_status = ?, last_run_at = ? WHERE id = ?`),
		string(status), toNanos(at), testID)
	if err != nil {
		return fmt.Errorf("record test run: %w", err)
	}
	return expectOne(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTest(row rowScanner) (*model.Test, error) {
	var t model.Test
	var steps, datasets, lastStatus string
	var lastRunAt sql.NullInt64
	var createdAt, updatedAt int64
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Description, &t.URL, &t.AppID, &steps, &datasets,
		&t.RunCount, &lastStatus, &lastRunAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(steps), &t.Steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	if err := json.Unmarshal([]byte(datasets), &t.Datasets); err != nil {
		return nil, fmt.Errorf("decode datasets: %w", err)
	}
	if t.Steps == nil {
		t.Steps = []model.TestStep{}
	}
	t.LastRunStatus = core.RunStatus(lastStatus)
	t.LastRunAt = scanTime(lastRunAt)
	t.CreatedAt = fromNanos(createdAt)
	t.UpdatedAt = fromNanos(updatedAt)
	return &t, nil
}

func marshalDefinition(t *model.Test) (string, string, error) {
	steps := t.Steps
	if steps == nil {
		steps = []model.TestStep{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal steps: %w", err)
	}
	datasets := t.Datasets
	if datasets == nil {
		datasets = []model.TestDataset{}
	}
	datasetsJSON, err := json.Marshal(datasets)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal datasets: %w", err)
	}
	return string(stepsJSON), string(datasetsJSON), nil
}
