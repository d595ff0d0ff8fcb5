package jobs

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/entities"
	"github.com/odyssey-erp/backoffice/internal/export"
	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/refdata"
	"github.com/odyssey-erp/backoffice/internal/report"
	"github.com/odyssey-erp/backoffice/internal/screen"
)

// customersAPI serves 25 customers in currency 2 and the currency index.
// When truncate is set, the customer endpoint reports more records than it
// returns.
func customersAPI(t *testing.T, truncate bool) (*httptest.Server, *[]string) {
	t.Helper()
	var queries []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/refs/currencies", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"id":2,"symbol":"IQD"}]}`)
	})
	mux.HandleFunc("/api/customers", func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		var rows []map[string]any
		add := func(n int, loan float64) {
			for i := 0; i < n; i++ {
				rows = append(rows, map[string]any{"id": len(rows) + 1, "name": "c" + strconv.Itoa(len(rows)+1), "currency_id": 2, "loan": loan})
			}
		}
		add(10, 50)
		add(5, -24)
		add(10, 0)
		total := len(rows)
		if truncate {
			total += 10
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": rows, "total": total})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &queries
}

func newExportJob(t *testing.T, apiURL string) (*ExportJob, *ExportStore) {
	t.Helper()
	cat, err := entities.Default()
	require.NoError(t, err)
	client := httpx.NewClient(apiURL, httpx.Session{})
	deps := screen.Deps{
		Catalog:     cat,
		Transport:   client,
		Refs:        refdata.NewLoader(refdata.NewHTTPSource(client, cat)),
		PageSize:    20,
		AllPageSize: 1000,
	}
	store, _ := newExportStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	job := NewExportJob(deps, export.Renderer{}, store, logger, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.clock = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }
	return job, store
}

func TestExportJobRunStoresRenderedFile(t *testing.T) {
	api, queries := customersAPI(t, false)
	job, store := newExportJob(t, api.URL)

	payload := ExportPayload{
		Entity:   "customers",
		Format:   export.FormatCSV,
		Criteria: report.Criteria{}.With("currency_id", 2),
		Sort:     report.SortSpec{Field: "loan", Direction: report.Desc},
	}
	require.NoError(t, payload.Validate())

	res, err := job.Run(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, 25, res.Records)
	require.Len(t, *queries, 1)
	assert.Contains(t, (*queries)[0], "currency_id=2")
	assert.Contains(t, (*queries)[0], "pageSize=1000")
	assert.Contains(t, (*queries)[0], "sortOrder=desc")

	stored, data, err := store.Get(context.Background(), payload.ID)
	require.NoError(t, err)
	assert.Equal(t, res, stored)
	assert.Equal(t, len(data), stored.Size)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	lines, err := r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "phone", "zone_id", "city_id", "currency_id", "loan", "active", "created_at"}, lines[0])
	assert.Equal(t, "IQD", lines[1][5])
	assert.Contains(t, lines, []string{"IQD", "25", "500.00", "-120.00", "380.00"})
}

func TestExportJobHandleSkipsRetryOnPermanentFailures(t *testing.T) {
	api, _ := customersAPI(t, true)
	job, _ := newExportJob(t, api.URL)

	data, err := json.Marshal(ExportPayload{Entity: "customers", Format: export.FormatCSV})
	require.NoError(t, err)
	err = job.Handle(context.Background(), asynq.NewTask(TaskReportExport, data))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Contains(t, err.Error(), "25 of 35")

	data, _ = json.Marshal(ExportPayload{Entity: "invoices", Format: export.FormatCSV})
	err = job.Handle(context.Background(), asynq.NewTask(TaskReportExport, data))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = job.Handle(context.Background(), asynq.NewTask(TaskReportExport, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestExportJobHandleRetriesUnavailableAPI(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(api.Close)
	job, _ := newExportJob(t, api.URL)

	data, _ := json.Marshal(ExportPayload{Entity: "zones", Format: export.FormatCSV})
	err := job.Handle(context.Background(), asynq.NewTask(TaskReportExport, data))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

type bumpCounter struct {
	calls int
	err   error
}

func (b *bumpCounter) Bump(context.Context) error {
	b.calls++
	return b.err
}

func TestRefdataRefreshJob(t *testing.T) {
	bumper := &bumpCounter{}
	job := &RefdataRefreshJob{Cache: bumper, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}
	require.NoError(t, job.Handle(context.Background(), NewRefdataRefreshTask()))
	assert.Equal(t, 1, bumper.calls)

	bumper.err = fmt.Errorf("redis down")
	assert.Error(t, job.Handle(context.Background(), NewRefdataRefreshTask()))

	var unset *RefdataRefreshJob
	assert.Error(t, unset.Handle(context.Background(), NewRefdataRefreshTask()))
}
