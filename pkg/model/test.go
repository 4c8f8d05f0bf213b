// Package model defines the persisted entities of webtest-runner: tests, runs,
// test runs and step results.
package model

import (
	"sort"
	"time"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
)

// Test is a named, ordered definition of UI steps plus optional data rows.
type Test struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"projectId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
	AppID       string        `json:"appId,omitempty"`
	Steps       []TestStep    `json:"steps"`
	Datasets    []TestDataset `json:"datasets,omitempty"`

	// Lifecycle counters
	RunCount      int            `json:"runCount"`
	LastRunStatus core.RunStatus `json:"lastRunStatus,omitempty"`
	LastRunAt     *time.Time     `json:"lastRunAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TestStep is one instruction within a Test.
//
// Type, Selector and Value are derived by the resolver whenever the step list
// is saved. They are a cache and are never taken from callers.
type TestStep struct {
	Order       int    `json:"order" yaml:"order"`
	Instruction string `json:"instruction" yaml:"instruction"`
	Optional    bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	WaitMs      int    `json:"waitMs,omitempty" yaml:"waitMs,omitempty"`     // Post-step wait hint
	ModuleID    string `json:"moduleId,omitempty" yaml:"moduleId,omitempty"` // Reusable module reference
	Screen      string `json:"screen,omitempty" yaml:"screen,omitempty"`     // Screen hint for resolution

	// Derived
	Type     core.ActionKind `json:"type,omitempty" yaml:"-"`
	Selector string          `json:"selector,omitempty" yaml:"-"`
	Value    string          `json:"value,omitempty" yaml:"-"`
}

// Action returns the cached action descriptor.
func (s TestStep) Action() core.ActionDescriptor {
	return core.ActionDescriptor{Type: s.Type, Selector: s.Selector, Value: s.Value}
}

// HasMapping reports whether the step carries a cached deterministic mapping.
func (s TestStep) HasMapping() bool {
	return s.Type != ""
}

// WithAction returns a copy of the step with the derived fields set from a.
func (s TestStep) WithAction(a core.ActionDescriptor) TestStep {
	s.Type = a.Type
	s.Selector = a.Selector
	s.Value = a.Value
	return s
}

// ClearMapping returns a copy of the step with the derived fields emptied.
func (s TestStep) ClearMapping() TestStep {
	return s.WithAction(core.ActionDescriptor{})
}

// SameDefinition reports whether two steps have the same caller-authored fields.
// Derived fields are ignored.
func (s TestStep) SameDefinition(o TestStep) bool {
	return s.Order == o.Order &&
		s.Instruction == o.Instruction &&
		s.Optional == o.Optional &&
		s.WaitMs == o.WaitMs &&
		s.ModuleID == o.ModuleID &&
		s.Screen == o.Screen
}

// StepsEqual reports whether two step lists are the same definition in the same order.
func StepsEqual(a, b []TestStep) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].SameDefinition(b[i]) {
			return false
		}
	}
	return true
}

// TestDataset is one row of named parameter values for data-driven execution.
type TestDataset struct {
	Name   string            `json:"name,omitempty" yaml:"name,omitempty"`
	Values map[string]string `json:"values" yaml:"values"`
}

// Clone returns a deep copy of the test.
func (t *Test) Clone() *Test {
	if t == nil {
		return nil
	}
	c := *t
	c.Steps = append([]TestStep(nil), t.Steps...)
	if t.Datasets != nil {
		c.Datasets = make([]TestDataset, len(t.Datasets))
		for i, d := range t.Datasets {
			c.Datasets[i] = TestDataset{Name: d.Name, Values: cloneValues(d.Values)}
		}
	}
	if t.LastRunAt != nil {
		at := *t.LastRunAt
		c.LastRunAt = &at
	}
	return &c
}

// OrderedSteps returns a copy of the steps sorted by Order.
func (t *Test) OrderedSteps() []TestStep {
	steps := append([]TestStep(nil), t.Steps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps
}

// DataRow returns the values of dataset row i, or nil when i is nil.
func (t *Test) DataRow(i *int) (map[string]string, bool) {
	if i == nil {
		return nil, true
	}
	if *i < 0 || *i >= len(t.Datasets) {
		return nil, false
	}
	return cloneValues(t.Datasets[*i].Values), true
}

func cloneValues(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
