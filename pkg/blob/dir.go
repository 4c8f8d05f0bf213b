// Package blob provides a local-directory BlobStore for step screenshots.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
)

var _ core.BlobStore = (*Dir)(nil)

// Dir stores blobs as files under Root. References are BaseURL + "/" + name;
// with no BaseURL the reference is the file path itself.
type Dir struct {
	Root    string
	BaseURL string
}

// NewDir creates the root directory if needed.
func NewDir(root, baseURL string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Dir{Root: root, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Store writes data to Root/name and returns its reference.
func (d *Dir) Store(ctx context.Context, data []byte, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := d.pathFor(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}
	return d.refFor(name, path), nil
}

// Delete removes the blob behind ref. Returns false if it did not exist.
func (d *Dir) Delete(ctx context.Context, ref string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	name, ok := d.nameFor(ref)
	if !ok {
		return false, nil
	}
	path, err := d.pathFor(name)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete %s: %w", ref, err)
	}
	return true, nil
}

func (d *Dir) refFor(name, path string) string {
	if d.BaseURL == "" {
		return path
	}
	return d.BaseURL + "/" + filepath.ToSlash(name)
}

// nameFor maps a reference back to its blob name. References from another
// store (different prefix) are not ours.
func (d *Dir) nameFor(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	if d.BaseURL != "" {
		name, ok := strings.CutPrefix(ref, d.BaseURL+"/")
		return name, ok && name != ""
	}
	rel, err := filepath.Rel(d.Root, ref)
	if err != nil || rel == "." {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// pathFor joins name under Root, refusing names that escape it.
func (d *Dir) pathFor(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(d.Root, clean), nil
}
