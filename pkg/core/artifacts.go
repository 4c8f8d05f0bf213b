// Package core provides the execution model types for webtest-runner.
package core

import (
	"context"
	"fmt"
)

// Common content types
const (
	ContentTypePNG  = "image/png"
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
)

// BlobStore persists evidence artifacts and hands back a reference.
// Where the bytes end up (local disk, object storage) is up to the implementation.
type BlobStore interface {
	// Store saves data under name and returns its public reference.
	Store(ctx context.Context, data []byte, name string) (string, error)

	// Delete removes the artifact behind ref. Returns false if it did not exist.
	Delete(ctx context.Context, ref string) (bool, error)
}

// ScreenshotName returns the blob name for the screenshot of a step.
func ScreenshotName(testRunID string, stepNumber int) string {
	return fmt.Sprintf("%s/step-%03d.png", testRunID, stepNumber)
}

// NullBlobStore discards everything (for testing and dry runs)
type NullBlobStore struct{}

// Store returns an empty reference (no-op)
func (NullBlobStore) Store(_ context.Context, _ []byte, _ string) (string, error) { return "", nil }

// Delete reports nothing deleted (no-op)
func (NullBlobStore) Delete(_ context.Context, _ string) (bool, error) { return false, nil }
