// Package memory implements an in-memory annotation catalog for tests and
// small fixed alias tables.
package memory

import (
	"context"
	"sync"

	"cellpack/pkg/annotation"
)

// Compile-time contract assertion.
var _ annotation.Catalog = (*Catalog)(nil)

// Catalog implements annotation.Catalog backed by process memory.
type Catalog struct {
	mu      sync.RWMutex
	aliases map[string][]string
}

// New returns an empty in-memory catalog.
func New() *Catalog { return &Catalog{aliases: make(map[string][]string)} }

// Lookup returns a copy of the candidate set recorded for originalID.
func (c *Catalog) Lookup(_ context.Context, originalID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.aliases[originalID]...), nil
}

// AddAliases merges the supplied rows into the catalog, keeping every
// candidate set normalized.
func (c *Catalog) AddAliases(_ context.Context, aliases []annotation.Alias) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range aliases {
		c.aliases[a.OriginalID] = annotation.Normalize(append(c.aliases[a.OriginalID], a.CanonicalID))
	}
	return nil
}

// Close is a no-op for the in-memory catalog.
func (c *Catalog) Close() error { return nil }
