package app

import (
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/backoffice/internal/entities"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/platform/cache"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/refdata"
	"github.com/odyssey-erp/backoffice/internal/report"
	"github.com/odyssey-erp/backoffice/internal/screen"
)

// Engine bundles what report screens need, built from configuration.
type Engine struct {
	Screens screen.Deps
	// Refs is the Redis cached reference source; RefdataRefreshJob bumps it.
	Refs *refdata.CachedSource
}

// NewEngine wires the catalogue, the API client and the reference loader.
// A nil redisClient disables reference caching.
func NewEngine(cfg *Config, logger *slog.Logger, redisClient *redis.Client, metrics *observability.Metrics) (*Engine, error) {
	catalog, err := entities.LoadFile(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	client := httpx.NewClient(cfg.APIBaseURL,
		httpx.Session{Token: cfg.APIToken, CompanyID: cfg.APICompany},
		httpx.WithHTTPClient(&http.Client{Timeout: cfg.APITimeout}),
		httpx.WithLogger(logger),
	)
	refs := refdata.NewCachedSource(
		refdata.NewHTTPSource(client, catalog),
		cache.NewVersioned(redisClient, "refdata", cfg.RefCacheTTL),
	)
	return &Engine{
		Screens: screen.Deps{
			Catalog:     catalog,
			Transport:   client,
			Refs:        refdata.NewLoader(refs).WithTimeout(cfg.APITimeout),
			Notifier:    report.LogNotifier{Logger: logger},
			Metrics:     metrics,
			PageSize:    cfg.ReportPageSize,
			AllPageSize: cfg.ReportAllPageSize,
		},
		Refs: refs,
	}, nil
}
