package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/entities"
	"github.com/odyssey-erp/backoffice/internal/export"
)

type fakeEnqueuer struct {
	payloads []ExportPayload
	err      error
}

func (f *fakeEnqueuer) EnqueueExport(_ context.Context, payload ExportPayload) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.payloads = append(f.payloads, payload)
	return payload.ID, nil
}

func testCatalog(t *testing.T) *entities.Catalog {
	t.Helper()
	cat, err := entities.Default()
	require.NoError(t, err)
	return cat
}

func jobsRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)
	return r
}

func TestEnqueueExportAccepted(t *testing.T) {
	enq := &fakeEnqueuer{}
	router := jobsRouter(NewHandler(nil, enq, nil, testCatalog(t), nil))

	body := `{"entity":"customers","format":"xlsx","criteria":{"currency_id":{"kind":"i","value":"2"}},"sort":{"field":"loan","direction":"desc"}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/exports", strings.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, enq.payloads, 1)
	assert.Equal(t, enq.payloads[0].ID, resp["id"])
	assert.Equal(t, export.FormatXLSX, enq.payloads[0].Format)
	v, ok := enq.payloads[0].Criteria.Get("currency_id")
	assert.True(t, ok)
	assert.Equal(t, int64(2), v)
}

func TestEnqueueExportRejectsInvalidRequests(t *testing.T) {
	enq := &fakeEnqueuer{}
	router := jobsRouter(NewHandler(nil, enq, nil, testCatalog(t), nil))

	for _, body := range []string{`{`, `{"format":"csv"}`, `{"entity":"zones","format":"odt"}`} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/exports", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, enq.payloads)

	enq.err = errors.New("redis down")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/exports", strings.NewReader(`{"entity":"zones","format":"csv"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEnqueueExportChecksCatalog(t *testing.T) {
	enq := &fakeEnqueuer{}
	router := jobsRouter(NewHandler(nil, enq, nil, testCatalog(t), nil))

	for _, body := range []string{
		`{"entity":"ledgers","format":"csv"}`,
		`{"entity":"zones","format":"csv","sort":{"field":"city_id","direction":"asc"}}`,
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/exports", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	}
	assert.Empty(t, enq.payloads)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/exports", strings.NewReader(`{"entity":"zones","format":"csv","sort":{"field":"name","direction":"desc"}}`)))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, enq.payloads, 1)
}

func TestDownloadExport(t *testing.T) {
	store, _ := newExportStore(t)
	res := ExportResult{ID: "abc", Entity: "zones", Format: export.FormatCSV, Records: 1, Size: 7, CompletedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, store.Put(context.Background(), res, []byte("id,name")))
	router := jobsRouter(NewHandler(nil, nil, store, nil, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/exports/abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	_, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "zones-20240301-000000.csv", params["filename"])
	assert.Equal(t, "7", rec.Header().Get("Content-Length"))
	assert.Equal(t, "id,name", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/exports/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestHealthWithoutInspector(t *testing.T) {
	rec := httptest.NewRecorder()
	jobsRouter(NewHandler(nil, nil, nil, nil, nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0,"active":0,"scheduled":0,"retry":0,"archived":0}`, rec.Body.String())
}

func TestRetryDelayBacksOffWithCap(t *testing.T) {
	assert.Equal(t, time.Second, retryDelay(0, nil, nil))
	assert.Equal(t, 8*time.Second, retryDelay(3, nil, nil))
	assert.Equal(t, 4*time.Minute+16*time.Second, retryDelay(8, nil, nil))
	assert.Equal(t, 5*time.Minute, retryDelay(9, nil, nil))
	assert.Equal(t, 5*time.Minute, retryDelay(20, nil, nil))
}
