package registry

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed registry.schema.json
var schemaJSON []byte

var (
	fileSchema  *jsonschema.Schema
	compileOnce sync.Once
	compileErr  error
)

// Source produces registry snapshots.
type Source interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// document is the on-disk registry layout.
type document struct {
	Apps      []App            `json:"apps"`
	Templates []ActionTemplate `json:"templates"`
}

// compileSchema compiles the embedded schema once.
func compileSchema() error {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal registry schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("registry.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("add registry schema resource: %w", err)
			return
		}
		fileSchema, err = compiler.Compile("registry.schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile registry schema: %w", err)
		}
	})
	return compileErr
}

// Parse decodes a YAML (or JSON) registry document, validates it against the
// registry schema and builds a snapshot.
func Parse(data []byte) (*Snapshot, error) {
	if err := compileSchema(); err != nil {
		return nil, err
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	// Round-trip through JSON so the validator sees JSON types.
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert registry: %w", err)
	}
	var v any
	if err := json.Unmarshal(jsonData, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := fileSchema.Validate(v); err != nil {
		return nil, fmt.Errorf("registry validation failed: %w", err)
	}

	var doc document
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode registry: %w", err)
	}
	return NewSnapshot(doc.Apps, doc.Templates)
}

// FileSource loads the registry from a YAML file on every Load.
type FileSource struct {
	Path string
}

// Load reads and parses the file.
func (f FileSource) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	return s, nil
}

// StaticSource always returns the same snapshot.
type StaticSource struct {
	Snapshot *Snapshot
}

// Load returns the fixed snapshot.
func (s StaticSource) Load(_ context.Context) (*Snapshot, error) {
	if s.Snapshot == nil {
		return Empty(), nil
	}
	return s.Snapshot, nil
}
