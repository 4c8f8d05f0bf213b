package registry

import (
	"context"
	"sync/atomic"

	"github.com/devicelab-dev/webtest-runner/pkg/logger"
)

// Catalog holds the current registry snapshot. Readers fetch a snapshot once
// and use it for the whole operation; Reload swaps in a new one atomically.
type Catalog struct {
	source  Source
	current atomic.Pointer[Snapshot]
}

// NewCatalog creates a catalog backed by source. It starts empty until Reload.
func NewCatalog(source Source) *Catalog {
	c := &Catalog{source: source}
	c.current.Store(Empty())
	return c
}

// NewStaticCatalog creates a catalog over a fixed snapshot.
func NewStaticCatalog(s *Snapshot) *Catalog {
	c := NewCatalog(StaticSource{Snapshot: s})
	if s != nil {
		c.current.Store(s)
	}
	return c
}

// Snapshot returns the current snapshot.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// Reload loads a fresh snapshot from the source. On error the current
// snapshot is kept.
func (c *Catalog) Reload(ctx context.Context) error {
	s, err := c.source.Load(ctx)
	if err != nil {
		return err
	}
	c.current.Store(s)
	logger.Info("registry loaded: %d apps, %d templates", len(s.order), s.TemplateCount())
	return nil
}

// Load implements Source by returning the current snapshot.
func (c *Catalog) Load(_ context.Context) (*Snapshot, error) {
	return c.Snapshot(), nil
}

// ResolveApp returns the app whose base URL matches rawURL, or nil.
func (c *Catalog) ResolveApp(_ context.Context, rawURL string) (*App, error) {
	app, ok := c.Snapshot().AppForURL(rawURL)
	if !ok {
		return nil, nil
	}
	return app, nil
}
