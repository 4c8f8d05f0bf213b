package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/logger"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
)

// FileName is the report file written into the output directory.
const FileName = "report.json"

// debounce delays flushes for step progress.
const debounce = 100 * time.Millisecond

// Writer provides thread-safe updates to the report.
// Test runs executing concurrently may record into it at the same time.
type Writer struct {
	mu     sync.Mutex
	path   string
	report *Report
	timer  *time.Timer
	closed bool
}

// NewWriter creates a Writer for the tests in report.Tests.
func NewWriter(outputDir string, r *Report) (*Writer, error) {
	if err := ensureDir(outputDir); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	if r.Version == "" {
		r.Version = Version
	}
	for i := range r.Tests {
		if r.Tests[i].Status == "" {
			r.Tests[i].Status = core.RunPending
		}
	}
	return &Writer{path: filepath.Join(outputDir, FileName), report: r}, nil
}

// Path returns the report file path.
func (w *Writer) Path() string {
	return w.path
}

// Start marks the run as started.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.report.Status = core.RunRunning
	w.report.StartTime = time.Now()
	w.flushLocked()
}

// StartTest marks a test run as running. An entry listed by test id only
// is bound to testRunID on its first start.
func (w *Writer) StartTest(testID, testRunID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t := w.find(testRunID)
	if t == nil {
		t = w.findUnbound(testID)
	}
	if t == nil {
		return
	}
	now := time.Now()
	t.TestRunID = testRunID
	t.Status = core.RunRunning
	t.StartTime = &now
	w.schedule()
}

// AddStep records a step result. Flushes are debounced.
func (w *Writer) AddStep(testRunID string, r model.StepResult) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t := w.find(testRunID)
	if t == nil {
		return
	}
	n := 0
	if r.StepNumber != nil {
		n = *r.StepNumber
	}
	t.Steps = append(t.Steps, Step{
		Number:      n,
		Instruction: r.Instruction,
		Status:      r.Status,
		Message:     r.Message,
		Screenshot:  r.ScreenshotURL,
		DurationMs:  r.DurationMs,
		ExecutedAt:  r.ExecutedAt,
	})
	w.schedule()
}

// EndTest records the terminal status of a test run and flushes immediately.
func (w *Writer) EndTest(testRunID string, status core.RunStatus, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t := w.find(testRunID)
	if t == nil {
		return
	}
	now := time.Now()
	t.Status = status
	t.Message = message
	t.EndTime = &now
	if t.StartTime != nil {
		d := now.Sub(*t.StartTime).Milliseconds()
		t.Duration = &d
	}
	w.flushLocked()
}

// End marks the run as complete with status and flushes.
func (w *Writer) End(status core.RunStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.report.EndTime = &now
	w.report.Status = status
	w.flushLocked()
}

// Close stops pending flushes and writes the final state.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
	w.closed = true
}

// Report returns a copy of the current report.
func (w *Writer) Report() Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := *w.report
	c.Tests = make([]TestEntry, len(w.report.Tests))
	for i, t := range w.report.Tests {
		t.Steps = append([]Step(nil), t.Steps...)
		c.Tests[i] = t
	}
	return c
}

func (w *Writer) find(testRunID string) *TestEntry {
	if testRunID == "" {
		return nil
	}
	for i := range w.report.Tests {
		if w.report.Tests[i].TestRunID == testRunID {
			return &w.report.Tests[i]
		}
	}
	return nil
}

func (w *Writer) findUnbound(testID string) *TestEntry {
	for i := range w.report.Tests {
		if w.report.Tests[i].TestRunID == "" && w.report.Tests[i].TestID == testID {
			return &w.report.Tests[i]
		}
	}
	return nil
}

func (w *Writer) schedule() {
	if w.timer == nil && !w.closed {
		w.timer = time.AfterFunc(debounce, w.flush)
	}
}

func (w *Writer) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.flushLocked()
	}
}

// flushLocked writes the report while holding the lock.
func (w *Writer) flushLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.report.UpdateSeq++
	w.report.LastUpdated = time.Now()
	for i := range w.report.Tests {
		sortSteps(w.report.Tests[i].Steps)
	}
	w.report.Summary = computeSummary(w.report.Tests)

	if err := atomicWriteJSON(w.path, w.report); err != nil {
		logger.Warn("write report %s: %v", w.path, err)
	}
}

func sortSteps(steps []Step) {
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Number < steps[j].Number })
}

func computeSummary(tests []TestEntry) Summary {
	s := Summary{Total: len(tests)}
	for _, t := range tests {
		switch t.Status {
		case core.RunPassed:
			s.Passed++
		case core.RunFailed:
			s.Failed++
		case core.RunRunning:
			s.Running++
		default:
			s.Pending++
		}
		for _, st := range t.Steps {
			s.Steps.Total++
			switch st.Status {
			case core.StepPassed:
				s.Steps.Passed++
			case core.StepWarned:
				s.Steps.Warned++
			case core.StepFailed:
				s.Steps.Failed++
			}
		}
	}
	return s
}

// Write writes r to path atomically.
func Write(path string, r *Report) error {
	if r.Version == "" {
		r.Version = Version
	}
	r.LastUpdated = time.Now()
	r.Summary = computeSummary(r.Tests)
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return atomicWriteJSON(path, r)
}

// Read loads a report file.
func Read(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return &r, nil
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// atomicWriteJSON writes v to a temp file in the target directory and renames it into place.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
