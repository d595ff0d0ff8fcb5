package report_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/report"
	mock_report "github.com/odyssey-erp/backoffice/internal/report/mocks"
)

// collectionServer serves records the way a collection endpoint does:
// equality filters on any field, page/pageSize slicing, a named envelope.
type collectionServer struct {
	records    []map[string]any
	recordsKey string
	requests   []url.Values
}

func (s *collectionServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.requests = append(s.requests, q)
	page, _ := strconv.Atoi(q.Get(report.ParamPage))
	size, _ := strconv.Atoi(q.Get(report.ParamPageSize))
	if page < 1 || size < 1 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "page and pageSize must be positive")
		return
	}
	matched := []map[string]any{}
	for _, rec := range s.records {
		ok := true
		for key := range q {
			switch key {
			case report.ParamPage, report.ParamPageSize, report.ParamSortBy, report.ParamSortOrder:
				continue
			}
			if report.Stringify(rec[key]) != q.Get(key) {
				ok = false
			}
		}
		if ok {
			matched = append(matched, rec)
		}
	}
	start := (page - 1) * size
	end := start + size
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		s.recordsKey: matched[start:end],
		"total":      len(matched),
	})
}

func customerRecords() []map[string]any {
	var records []map[string]any
	for i := 0; i < 25; i++ {
		loan := 0.0
		switch {
		case i < 10:
			loan = 50
		case i < 15:
			loan = -24
		}
		records = append(records, map[string]any{"id": i + 1, "currency_id": 2, "loan": loan})
	}
	for i := 0; i < 7; i++ {
		records = append(records, map[string]any{"id": 100 + i, "currency_id": 1, "loan": 1000})
	}
	return records
}

func newCustomerExecutor(t *testing.T, opts ...report.ExecutorOption) (*report.Executor[report.Record], *collectionServer) {
	t.Helper()
	backend := &collectionServer{records: customerRecords(), recordsKey: "data"}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	client := httpx.NewClient(srv.URL, httpx.Session{Token: "secret", CompanyID: "1"})
	endpoint := report.Endpoint{Name: "customers", Path: "/api/customers", Envelope: report.Envelope{RecordsKey: "data", TotalKey: "total"}}
	return report.NewExecutor[report.Record](client, endpoint, opts...), backend
}

func currencyCriteria(id int) report.Criteria {
	b := report.NewBuilder()
	b.Set("currency_id", id)
	return b.Snapshot()
}

func TestFetchPageSplitsMatchingSet(t *testing.T) {
	exec, _ := newCustomerExecutor(t)
	ctx := context.Background()

	first, err := exec.FetchPage(ctx, currencyCriteria(2), report.SortSpec{}, report.PageRequest{Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, 25, first.TotalCount)
	assert.Len(t, first.Records, 20)

	second, err := exec.FetchPage(ctx, currencyCriteria(2), report.SortSpec{}, report.PageRequest{Page: 2, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, 25, second.TotalCount)
	assert.Len(t, second.Records, 5)
	for _, rec := range second.Records {
		assert.Equal(t, "2", report.Stringify(rec["currency_id"]))
	}

	beyond, err := exec.FetchPage(ctx, currencyCriteria(2), report.SortSpec{}, report.PageRequest{Page: 3, PageSize: 20})
	require.NoError(t, err)
	assert.True(t, beyond.Empty())
}

func TestFetchAllMatchesPaginatedTotal(t *testing.T) {
	exec, backend := newCustomerExecutor(t)
	ctx := context.Background()
	criteria := currencyCriteria(2)

	page, err := exec.FetchPage(ctx, criteria, report.SortSpec{}, report.PageRequest{Page: 1, PageSize: 20})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		all, err := exec.FetchAll(ctx, criteria, report.SortSpec{})
		require.NoError(t, err)
		assert.Len(t, all, page.TotalCount)
	}

	last := backend.requests[len(backend.requests)-1]
	assert.Equal(t, "1", last.Get(report.ParamPage))
	assert.Equal(t, strconv.Itoa(report.DefaultAllPageSize), last.Get(report.ParamPageSize))
	assert.Equal(t, "2", last.Get("currency_id"))
}

func TestFetchAllRefusesPartialSet(t *testing.T) {
	exec, _ := newCustomerExecutor(t, report.WithAllPageSize(10))
	all, err := exec.FetchAll(context.Background(), currencyCriteria(2), report.SortSpec{})
	assert.True(t, errors.Is(err, report.ErrIncompleteSet))
	assert.Nil(t, all)
}

func TestFetchEmptySystem(t *testing.T) {
	backend := &collectionServer{recordsKey: "data"}
	srv := httptest.NewServer(backend)
	defer srv.Close()
	exec := report.NewExecutor[report.Record](httpx.NewClient(srv.URL, httpx.Session{}), report.Endpoint{Name: "customers", Path: "/api/customers"})

	page, err := exec.FetchPage(context.Background(), report.Criteria{}, report.SortSpec{}, report.PageRequest{Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, 0, page.TotalCount)
	assert.NotNil(t, page.Records)
	assert.Empty(t, page.Records)

	all, err := exec.FetchAll(context.Background(), report.Criteria{}, report.SortSpec{})
	require.NoError(t, err)
	assert.NotNil(t, all)
	summary := report.Aggregate(all, report.Field("currency_id"), report.NumberField("loan"), true)
	assert.Equal(t, 0, summary.Len())
}

func TestFetchPageValidatesBeforeCalling(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	transport := mock_report.NewMockTransport(ctrl)
	transport.EXPECT().GetJSON(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	exec := report.NewExecutor[report.Record](transport, report.Endpoint{Name: "expenses", Path: "/api/expenses"})
	_, err := exec.FetchPage(context.Background(), report.Criteria{}, report.SortSpec{}, report.PageRequest{Page: 1, PageSize: 0})
	assert.True(t, errors.Is(err, report.ErrInvalidPageSize))
	_, err = exec.FetchPage(context.Background(), report.Criteria{}, report.SortSpec{}, report.PageRequest{Page: 0, PageSize: 20})
	assert.True(t, errors.Is(err, report.ErrInvalidPage))
	_, err = exec.FetchPage(context.Background(), report.Criteria{}, report.SortSpec{Field: "id", Direction: "sideways"}, report.PageRequest{Page: 1, PageSize: 20})
	assert.True(t, errors.Is(err, report.ErrInvalidSort))
}

func TestFetchPageSendsSortAndParams(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	transport := mock_report.NewMockTransport(ctrl)

	b := report.NewBuilder()
	b.Set("spent", report.DateRange{Start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)})
	b.Set("search", "fuel")
	transport.EXPECT().
		GetJSON(gomock.Any(), "/api/expenses", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, q url.Values) (json.RawMessage, error) {
			assert.Equal(t, "2024-02-01", q.Get("spent_from"))
			assert.False(t, q.Has("spent_to"))
			assert.Equal(t, "fuel", q.Get("search"))
			assert.Equal(t, "spent_at", q.Get(report.ParamSortBy))
			assert.Equal(t, "desc", q.Get(report.ParamSortOrder))
			assert.Equal(t, "3", q.Get(report.ParamPage))
			return json.RawMessage(`{"expenses":[{"id":1}],"total":"41"}`), nil
		})

	endpoint := report.Endpoint{
		Name:       "expenses",
		Path:       "/api/expenses",
		Envelope:   report.Envelope{RecordsKey: "expenses", TotalKey: "total"},
		SortFields: map[string]string{"date": "spent_at"},
	}
	exec := report.NewExecutor[report.Record](transport, endpoint)
	page, err := exec.FetchPage(context.Background(), b.Snapshot(), report.SortSpec{Field: "date", Direction: report.Desc}, report.PageRequest{Page: 3, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, 41, page.TotalCount)
	assert.Len(t, page.Records, 1)
}

func TestFetchPageSurfacesValidationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "spent_from is after spent_to")
	}))
	defer srv.Close()
	exec := report.NewExecutor[report.Record](httpx.NewClient(srv.URL, httpx.Session{}), report.Endpoint{Name: "expenses", Path: "/api/expenses"})

	_, err := exec.FetchPage(context.Background(), report.Criteria{}, report.SortSpec{}, report.PageRequest{Page: 1, PageSize: 20})
	require.Error(t, err)
	assert.True(t, errors.Is(err, httpx.ErrValidation))
	note := report.Describe(err)
	assert.Equal(t, report.LevelWarning, note.Level)
	assert.Equal(t, "spent_from is after spent_to", note.Message)
}

func TestFetchPageServerFailureIsGeneric(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()
	exec := report.NewExecutor[report.Record](httpx.NewClient(srv.URL, httpx.Session{}), report.Endpoint{Name: "expenses", Path: "/api/expenses"})

	_, err := exec.FetchPage(context.Background(), report.Criteria{}, report.SortSpec{}, report.PageRequest{Page: 1, PageSize: 20})
	assert.True(t, errors.Is(err, httpx.ErrUnavailable))
	assert.Equal(t, report.GenericFailure, report.Describe(err).Message)
}

func TestEnvelopeUnwrap(t *testing.T) {
	cases := []struct {
		name    string
		env     report.Envelope
		body    string
		records int
		total   int
		wantErr bool
	}{
		{name: "bare array", body: `[{"id":1},{"id":2}]`, records: 2, total: 2},
		{name: "fallback keys", body: `{"results":[{"id":1}],"count":9}`, records: 1, total: 9},
		{name: "named key", env: report.Envelope{RecordsKey: "salaries", TotalKey: "total"}, body: `{"salaries":[],"total":0}`, records: 0, total: 0},
		{name: "null records", env: report.Envelope{RecordsKey: "data"}, body: `{"data":null}`, records: 0, total: 0},
		{name: "missing named key", env: report.Envelope{RecordsKey: "zones"}, body: `{"data":[]}`, wantErr: true},
		{name: "records not array", body: `{"data":{"id":1}}`, wantErr: true},
		{name: "negative total", body: `{"data":[],"total":-1}`, wantErr: true},
		{name: "declared total missing", env: report.Envelope{RecordsKey: "data", TotalKey: "total"}, body: `{"data":[{"id":1}]}`, wantErr: true},
		{name: "no total anywhere", body: `{"data":[{"id":1},{"id":2}]}`, records: 2, total: 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			records, total, err := tc.env.Unwrap(json.RawMessage(tc.body))
			if tc.wantErr {
				assert.True(t, errors.Is(err, report.ErrMalformedResponse))
				return
			}
			require.NoError(t, err)
			var items []json.RawMessage
			require.NoError(t, json.Unmarshal(records, &items))
			assert.Len(t, items, tc.records)
			assert.Equal(t, tc.total, total)
		})
	}
}
