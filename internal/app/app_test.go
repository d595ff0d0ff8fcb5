package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/collections"
	"github.com/odyssey-erp/backoffice/internal/entities"
	"github.com/odyssey-erp/backoffice/internal/observability"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("API_TOKEN", "secret")
	t.Setenv("REPORT_ALL_PAGE_SIZE", "500")
	t.Setenv("MAX_PAGE_SIZE", "1000")
	t.Setenv("REF_CACHE_TTL", "90s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, "secret", cfg.APIToken)
	assert.Equal(t, 500, cfg.ReportAllPageSize)
	assert.Equal(t, 20, cfg.ReportPageSize)
	assert.Equal(t, 90*time.Second, cfg.RefCacheTTL)
	assert.Equal(t, "0 * * * *", cfg.RefRefreshCron)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis().Asynq().Addr)
	assert.Equal(t, int32(10), cfg.Postgres().MaxConns)
	assert.Equal(t, 15*time.Second, cfg.Postgres().StatementTimeout)
}

func TestLoadConfigRejectsSmallServerLimit(t *testing.T) {
	t.Setenv("REPORT_ALL_PAGE_SIZE", "5000")
	t.Setenv("MAX_PAGE_SIZE", "100")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("REPORT_ALL_PAGE_SIZE", "0")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, &Config{LogFormat: "json"}).Info("ready")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))

	assert.Contains(t, buf.String(), `"service":"backoffice"`)

	buf.Reset()
	NewLoggerTo(&buf, nil).Info("ready")
	assert.Contains(t, buf.String(), "msg=ready")
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, &Config{LogLevel: "warn"})
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")

	buf.Reset()
	NewLoggerTo(&buf, &Config{LogLevel: "loud"}).Info("fallback")
	assert.Contains(t, buf.String(), "msg=fallback")
}

func TestRequireToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	cases := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusNoContent},
		{"missing", "secret", "", http.StatusUnauthorized},
		{"wrong scheme", "secret", "Basic secret", http.StatusUnauthorized},
		{"wrong token", "secret", "Bearer other", http.StatusUnauthorized},
		{"match", "secret", "Bearer secret", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/zones", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			RequireToken(tc.token)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

type emptyStore struct{}

func (emptyStore) List(_ context.Context, _ collections.Query) ([]map[string]any, int, error) {
	return []map[string]any{}, 0, nil
}

func (emptyStore) References(_ context.Context, _ entities.Reference) ([]map[string]any, error) {
	return []map[string]any{}, nil
}

func TestRouterWiring(t *testing.T) {
	cat, err := entities.Default()
	require.NoError(t, err)
	cfg := &Config{APIToken: "secret", AppRateLimit: 100}
	router := NewRouter(RouterParams{
		Config:      cfg,
		Collections: collections.NewHandler(nil, cat, emptyStore{}, 100),
		Metrics:     observability.NewMetrics(),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/zones", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/zones?pageSize=5", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"zones":[],"total":0,"page":1,"pageSize":5}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "backoffice_")
}
