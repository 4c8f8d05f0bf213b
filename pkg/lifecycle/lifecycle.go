// Package lifecycle deletes run hierarchies bottom-up and decides when a
// test's step list has to be re-resolved.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/logger"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
	"github.com/devicelab-dev/webtest-runner/pkg/store"
)

// StepResolver fills the derived fields of a step list.
type StepResolver interface {
	ResolveSteps(ctx context.Context, appID string, steps []model.TestStep, vars map[string]string) []model.TestStep
}

// Manager owns deletions and save-time re-mapping.
type Manager struct {
	store    store.Store
	blobs    core.BlobStore
	resolver StepResolver
}

// New creates a Manager. blobs may be nil when no screenshots are kept.
func New(st store.Store, blobs core.BlobStore, resolver StepResolver) *Manager {
	if blobs == nil {
		blobs = core.NullBlobStore{}
	}
	return &Manager{store: st, blobs: blobs, resolver: resolver}
}

// Summary reports what a deletion removed.
type Summary struct {
	TestRuns    int64
	StepResults int64
	Screenshots int
}

// DeleteRun removes a batch run, its test runs and all their step results.
// Children are always deleted before their parent, inside one transaction.
func (m *Manager) DeleteRun(ctx context.Context, runID string) (Summary, error) {
	var sum Summary
	var refs []string

	err := m.store.Atomic(ctx, func(tx store.Tx) error {
		ok, err := tx.RunExists(ctx, runID)
		if err != nil {
			return err
		}
		if !ok {
			return core.NotFound("run %q not found", runID)
		}

		ids, err := tx.TestRunIDsByRun(ctx, runID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			tr, err := tx.GetTestRun(ctx, id)
			if err != nil {
				return err
			}
			if !tr.Status.IsTerminal() {
				return core.Conflict("run %q is still executing (test run %s is %s)", runID, id, tr.Status)
			}
		}

		refs, sum, err = deleteTestRuns(ctx, tx, ids)
		if err != nil {
			return err
		}
		return tx.DeleteRun(ctx, runID)
	})
	if err != nil {
		return Summary{}, wrap(err, "delete run %s", runID)
	}

	sum.Screenshots = m.deleteBlobs(ctx, refs)
	logger.Info("deleted run %s: %d test runs, %d step results, %d screenshots",
		runID, sum.TestRuns, sum.StepResults, sum.Screenshots)
	return sum, nil
}

// DeleteTestRun removes one test run and its step results.
func (m *Manager) DeleteTestRun(ctx context.Context, testRunID string) (Summary, error) {
	var sum Summary
	var refs []string

	err := m.store.Atomic(ctx, func(tx store.Tx) error {
		tr, err := tx.GetTestRun(ctx, testRunID)
		if errors.Is(err, store.ErrNotFound) {
			return core.NotFound("test run %q not found", testRunID)
		}
		if err != nil {
			return err
		}
		if !tr.Status.IsTerminal() {
			return core.Conflict("test run %q is still %s", testRunID, tr.Status)
		}
		refs, sum, err = deleteTestRuns(ctx, tx, []string{testRunID})
		return err
	})
	if err != nil {
		return Summary{}, wrap(err, "delete test run %s", testRunID)
	}

	sum.Screenshots = m.deleteBlobs(ctx, refs)
	logger.Info("deleted test run %s: %d step results, %d screenshots", testRunID, sum.StepResults, sum.Screenshots)
	return sum, nil
}

// deleteTestRuns deletes step results then test runs. Both primitives are
// called even when ids is empty; stores treat an empty set as deleting nothing.
func deleteTestRuns(ctx context.Context, tx store.Tx, ids []string) ([]string, Summary, error) {
	var sum Summary
	refs, err := tx.StepResultScreenshots(ctx, ids)
	if err != nil {
		return nil, sum, err
	}
	if sum.StepResults, err = tx.DeleteStepResults(ctx, ids); err != nil {
		return nil, sum, err
	}
	if sum.TestRuns, err = tx.DeleteTestRuns(ctx, ids); err != nil {
		return nil, sum, err
	}
	return refs, sum, nil
}

// deleteBlobs removes screenshots after commit. Failures are logged only.
func (m *Manager) deleteBlobs(ctx context.Context, refs []string) int {
	deleted := 0
	for _, ref := range refs {
		ok, err := m.blobs.Delete(ctx, ref)
		if err != nil {
			logger.Warn("delete screenshot %s: %v", ref, err)
			continue
		}
		if ok {
			deleted++
		}
	}
	return deleted
}

// wrap keeps boundary errors as they are and marks everything else internal.
func wrap(err error, format string, args ...interface{}) error {
	var e *core.Error
	if errors.As(err, &e) {
		return err
	}
	return core.Internal(err, format, args...)
}

// NeedsRemap reports whether next differs from stored in any caller-authored
// field. Derived fields on either side are ignored.
func NeedsRemap(stored, next []model.TestStep) bool {
	return !model.StepsEqual(stored, next)
}

// PrepareSteps resolves steps for appID and returns the list to persist.
func (m *Manager) PrepareSteps(ctx context.Context, appID string, steps []model.TestStep) []model.TestStep {
	start := time.Now()
	defer logger.Timed(fmt.Sprintf("resolve %d steps", len(steps)), start)
	return m.resolver.ResolveSteps(ctx, appID, steps, nil)
}

// Remap returns the step list to persist when a test's steps are part of an
// update. When neither the steps nor the target app changed, the stored
// mapping is kept and the resolver is not called.
func (m *Manager) Remap(ctx context.Context, stored *model.Test, next []model.TestStep, appID string) ([]model.TestStep, bool) {
	if stored != nil && stored.AppID == appID && !NeedsRemap(stored.Steps, next) {
		return append([]model.TestStep(nil), stored.Steps...), false
	}
	return m.PrepareSteps(ctx, appID, next), true
}
