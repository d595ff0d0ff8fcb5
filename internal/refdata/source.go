// Package refdata loads the small reference collections (currencies, units,
// categories, ...) that list screens use to label foreign keys.
package refdata

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/backoffice/internal/entities"
	"github.com/odyssey-erp/backoffice/internal/platform/cache"
	"github.com/odyssey-erp/backoffice/internal/report"
)

// Source loads one reference collection in full.
type Source interface {
	Load(ctx context.Context, collection string) ([]report.Reference, error)
}

// HTTPSource reads reference collections from their index endpoints.
type HTTPSource struct {
	transport report.Transport
	catalog   *entities.Catalog
}

// NewHTTPSource constructs a source over transport.
func NewHTTPSource(transport report.Transport, catalog *entities.Catalog) *HTTPSource {
	return &HTTPSource{transport: transport, catalog: catalog}
}

// Load implements Source.
func (s *HTTPSource) Load(ctx context.Context, collection string) ([]report.Reference, error) {
	def, err := s.catalog.Reference(collection)
	if err != nil {
		return nil, err
	}
	raw, err := s.transport.GetJSON(ctx, def.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("refdata: load %s: %w", collection, err)
	}
	return def.DecodeReferences(raw)
}

// CachedSource keeps collections in Redis so that screens opened in quick
// succession do not reload them. Bump invalidates every collection.
type CachedSource struct {
	next  Source
	cache *cache.Versioned
}

// NewCachedSource wraps next with c.
func NewCachedSource(next Source, c *cache.Versioned) *CachedSource {
	return &CachedSource{next: next, cache: c}
}

// Load implements Source.
func (s *CachedSource) Load(ctx context.Context, collection string) ([]report.Reference, error) {
	key, err := s.cache.BuildKey(ctx, collection)
	if err != nil {
		return s.next.Load(ctx, collection)
	}
	var refs []report.Reference
	err = s.cache.FetchJSON(ctx, key, &refs, func(ctx context.Context) (any, error) {
		return s.next.Load(ctx, collection)
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// Bump invalidates the cached collections.
func (s *CachedSource) Bump(ctx context.Context) error {
	return s.cache.Bump(ctx)
}
