package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/backoffice/internal/export"
	"github.com/odyssey-erp/backoffice/internal/platform/cache"
)

// ErrExportNotFound is returned for an unknown or expired export.
var ErrExportNotFound = errors.New("jobs: export not found")

// ExportResult describes a finished export file.
type ExportResult struct {
	ID          string        `json:"id"`
	Entity      string        `json:"entity"`
	Format      export.Format `json:"format"`
	Records     int           `json:"records"`
	Size        int           `json:"size"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Filename is the download name of the file.
func (r ExportResult) Filename() string {
	return r.Entity + "-" + r.CompletedAt.UTC().Format("20060102-150405") + "." + string(r.Format)
}

// ExportStore keeps export files in Redis under report:export:<id>.
type ExportStore struct {
	cache *cache.Versioned
}

// NewExportStore wraps c, whose namespace should be "report:export".
func NewExportStore(c *cache.Versioned) *ExportStore {
	return &ExportStore{cache: c}
}

// Key returns the Redis key holding the file of id.
func (s *ExportStore) Key(id string) string {
	return s.cache.Key(id)
}

// Put stores the file and its description.
func (s *ExportStore) Put(ctx context.Context, res ExportResult, data []byte) error {
	meta, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if err := s.cache.PutBytes(ctx, s.cache.Key(res.ID), data); err != nil {
		return fmt.Errorf("jobs: store export %s: %w", res.ID, err)
	}
	if err := s.cache.PutBytes(ctx, s.cache.Key(res.ID, "meta"), meta); err != nil {
		return fmt.Errorf("jobs: store export %s: %w", res.ID, err)
	}
	return nil
}

// Get loads a stored export.
func (s *ExportStore) Get(ctx context.Context, id string) (ExportResult, []byte, error) {
	meta, err := s.cache.GetBytes(ctx, s.cache.Key(id, "meta"))
	if errors.Is(err, cache.ErrMiss) {
		return ExportResult{}, nil, ErrExportNotFound
	}
	if err != nil {
		return ExportResult{}, nil, err
	}
	var res ExportResult
	if err := json.Unmarshal(meta, &res); err != nil {
		return ExportResult{}, nil, err
	}
	data, err := s.cache.GetBytes(ctx, s.cache.Key(id))
	if errors.Is(err, cache.ErrMiss) {
		return ExportResult{}, nil, ErrExportNotFound
	}
	if err != nil {
		return ExportResult{}, nil, err
	}
	return res, data, nil
}
