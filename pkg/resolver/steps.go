package resolver

import (
	"context"

	"github.com/devicelab-dev/webtest-runner/pkg/logger"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
)

// ResolveSteps resolves every step once against a single snapshot and returns
// copies with the derived fields filled, or cleared when a step does not
// resolve. It never fails: unresolved steps are resolved live at execution time.
func (r *Resolver) ResolveSteps(_ context.Context, appID string, steps []model.TestStep, vars map[string]string) []model.TestStep {
	snap := r.snapshots.Snapshot()
	out := make([]model.TestStep, len(steps))
	resolved := 0
	for i, step := range steps {
		res := Resolve(snap, Request{
			Instruction: step.Instruction,
			AppID:       appID,
			ScreenHint:  step.Screen,
			Variables:   vars,
		})
		if r, ok := res.(Resolved); ok {
			out[i] = step.WithAction(r.Action)
			resolved++
			continue
		}
		out[i] = step.ClearMapping()
		logger.Debug("step %d not mapped: %s", step.Order, res)
	}
	logger.Debug("resolved %d/%d steps for app %q", resolved, len(steps), appID)
	return out
}
