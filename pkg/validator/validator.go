// Package validator checks test definitions before they are saved or run.
// It also loads definition files for the command line, parsing every file
// upfront so all problems are reported together.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
)

// MaxInstructionLength bounds the free text of one step.
const MaxInstructionLength = 2000

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	return msg
}

// Result contains the validation result.
type Result struct {
	// Files is the list of definition file paths in load order.
	Files []string
	// Definitions holds the parsed definitions, parallel to Files.
	Definitions []*Definition
	// Errors contains all validation errors found.
	Errors []error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Err folds the errors into one validation error, or nil.
func (r *Result) Err() error {
	if r.IsValid() {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, err := range r.Errors {
		msgs[i] = err.Error()
	}
	return core.Validation("%s", strings.Join(msgs, "; "))
}

func (r *Result) add(file, field, format string, args ...interface{}) {
	r.Errors = append(r.Errors, &ValidationError{File: file, Field: field, Message: fmt.Sprintf(format, args...)})
}

// Definition is a test as written in a YAML file.
type Definition struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description,omitempty"`
	URL         string              `yaml:"url,omitempty"`
	AppID       string              `yaml:"appId,omitempty"`
	Tags        []string            `yaml:"tags,omitempty"`
	Steps       []model.TestStep    `yaml:"steps"`
	Datasets    []model.TestDataset `yaml:"datasets,omitempty"`
}

// Test converts the definition into an unsaved test owned by projectID.
func (d *Definition) Test(projectID string) *model.Test {
	return &model.Test{
		ProjectID:   projectID,
		Name:        d.Name,
		Description: d.Description,
		URL:         d.URL,
		AppID:       d.AppID,
		Steps:       NormalizeSteps(d.Steps),
		Datasets:    d.Datasets,
	}
}

// ParseFile reads one definition file.
func ParseFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &d, nil
}

// NormalizeSteps numbers unnumbered step lists 1..n and returns the steps
// sorted by order. Derived fields are cleared; they are never taken from input.
func NormalizeSteps(steps []model.TestStep) []model.TestStep {
	out := make([]model.TestStep, len(steps))
	numbered := false
	for i, s := range steps {
		out[i] = s.ClearMapping()
		if s.Order != 0 {
			numbered = true
		}
	}
	if !numbered {
		for i := range out {
			out[i].Order = i + 1
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// ValidateSteps checks a step list: at least one step, positive unique
// orders, non-empty instructions and non-negative wait hints.
func ValidateSteps(steps []model.TestStep) *Result {
	r := &Result{}
	validateSteps(r, "", steps)
	return r
}

// ValidateTest checks the caller-authored parts of a test.
func ValidateTest(t *model.Test) *Result {
	r := &Result{}
	validateTest(r, "", t.Name, t.URL, t.Steps, t.Datasets)
	return r
}

func validateTest(r *Result, file, name, rawURL string, steps []model.TestStep, datasets []model.TestDataset) {
	if strings.TrimSpace(name) == "" {
		r.add(file, "name", "is required")
	}
	if rawURL != "" && !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		r.add(file, "url", "must be an http(s) URL, got %q", rawURL)
	}
	validateSteps(r, file, steps)
	validateDatasets(r, file, datasets)
}

func validateSteps(r *Result, file string, steps []model.TestStep) {
	if len(steps) == 0 {
		r.add(file, "steps", "at least one step is required")
		return
	}
	seen := make(map[int]int, len(steps))
	for i, s := range steps {
		field := fmt.Sprintf("steps[%d]", i)
		if s.Order <= 0 {
			r.add(file, field, "order must be positive, got %d", s.Order)
		} else if prev, dup := seen[s.Order]; dup {
			r.add(file, field, "order %d already used by steps[%d]", s.Order, prev)
		} else {
			seen[s.Order] = i
		}
		instr := strings.TrimSpace(s.Instruction)
		switch {
		case instr == "":
			r.add(file, field, "instruction is required")
		case len(instr) > MaxInstructionLength:
			r.add(file, field, "instruction exceeds %d characters", MaxInstructionLength)
		}
		if s.WaitMs < 0 {
			r.add(file, field, "waitMs must not be negative")
		}
	}
}

// ValidateDatasets checks that every row names its values and row names are unique.
func ValidateDatasets(datasets []model.TestDataset) *Result {
	r := &Result{}
	validateDatasets(r, "", datasets)
	return r
}

func validateDatasets(r *Result, file string, datasets []model.TestDataset) {
	names := make(map[string]bool, len(datasets))
	for i, d := range datasets {
		field := fmt.Sprintf("datasets[%d]", i)
		if d.Name != "" {
			if names[d.Name] {
				r.add(file, field, "duplicate dataset name %q", d.Name)
			}
			names[d.Name] = true
		}
		for k := range d.Values {
			if strings.TrimSpace(k) == "" {
				r.add(file, field, "value names must not be empty")
				break
			}
		}
	}
}

// Validator loads and validates definition files.
type Validator struct {
	includeTags []string
	excludeTags []string
}

// New creates a new Validator.
func New(includeTags, excludeTags []string) *Validator {
	return &Validator{
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// Validate validates a file or directory.
// It parses all definitions, applies tag filters and returns validation results.
func (v *Validator) Validate(path string) *Result {
	result := &Result{}

	info, err := os.Stat(path)
	if err != nil {
		result.add(path, "", "cannot access: %v", err)
		return result
	}

	var files []string
	if info.IsDir() {
		files, err = collectDefinitionFiles(path)
		if err != nil {
			result.add(path, "", "failed to scan directory: %v", err)
			return result
		}
	} else {
		files = []string{path}
	}

	for _, file := range files {
		v.validateFile(file, result)
	}
	return result
}

// collectDefinitionFiles finds all .yaml/.yml files in a directory.
func collectDefinitionFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

func (v *Validator) validateFile(file string, result *Result) {
	d, err := ParseFile(file)
	if err != nil {
		result.add(file, "", "parse error: %v", err)
		return
	}
	if !shouldInclude(d.Tags, v.includeTags, v.excludeTags) {
		return
	}

	before := len(result.Errors)
	steps := NormalizeSteps(d.Steps)
	validateTest(result, file, d.Name, d.URL, steps, d.Datasets)
	if len(result.Errors) > before {
		return
	}
	result.Files = append(result.Files, file)
	result.Definitions = append(result.Definitions, d)
}

func shouldInclude(tags, includeTags, excludeTags []string) bool {
	if len(includeTags) > 0 && !anyShared(tags, includeTags) {
		return false
	}
	return !anyShared(tags, excludeTags)
}

func anyShared(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
