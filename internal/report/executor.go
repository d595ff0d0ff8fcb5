package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Query parameter names understood by every collection endpoint.
const (
	ParamPage      = "page"
	ParamPageSize  = "pageSize"
	ParamSortBy    = "sortBy"
	ParamSortOrder = "sortOrder"
)

//go:generate mockgen -destination=mocks/mock_report.go -package=mock_report github.com/odyssey-erp/backoffice/internal/report Notifier,Transport

// Transport issues a single GET against a collection endpoint and returns
// the raw JSON body. httpx.Client implements it.
type Transport interface {
	GetJSON(ctx context.Context, path string, query url.Values) (json.RawMessage, error)
}

// ParamEncoder turns a criteria snapshot into named query parameters.
type ParamEncoder interface {
	Encode(c Criteria) url.Values
}

// ParamEncoderFunc adapts a function to ParamEncoder.
type ParamEncoderFunc func(c Criteria) url.Values

// Encode implements ParamEncoder.
func (f ParamEncoderFunc) Encode(c Criteria) url.Values { return f(c) }

// DefaultParams sends every key under its own name. Date ranges are split
// into "<key>_from" and "<key>_to".
var DefaultParams ParamEncoder = ParamEncoderFunc(func(c Criteria) url.Values {
	q := url.Values{}
	for _, k := range c.Keys() {
		v, _ := c.Get(k)
		if r, ok := v.(DateRange); ok {
			if !r.Start.IsZero() {
				q.Set(k+"_from", r.Start.Format(time.DateOnly))
			}
			if !r.End.IsZero() {
				q.Set(k+"_to", r.End.Format(time.DateOnly))
			}
			continue
		}
		q.Set(k, FormatValue(v))
	}
	return q
})

// Envelope names the keys of a collection response. The record array key is
// not uniform across endpoints ("data", "results", "salaries", ...).
type Envelope struct {
	RecordsKey string
	TotalKey   string
}

var (
	fallbackRecordKeys = []string{"data", "results", "items"}
	fallbackTotalKeys  = []string{"total", "totalCount", "count"}
)

// Unwrap extracts the record array and the total count from raw. A bare JSON
// array is accepted with its length as total.
func (e Envelope) Unwrap(raw json.RawMessage) (json.RawMessage, int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return trimmed, len(items), nil
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &body); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	records, ok := lookup(body, e.RecordsKey, fallbackRecordKeys)
	if !ok {
		return nil, 0, fmt.Errorf("%w: missing record key %q", ErrMalformedResponse, e.RecordsKey)
	}
	if bytes.Equal(bytes.TrimSpace(records), []byte("null")) {
		records = json.RawMessage("[]")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(records, &items); err != nil {
		return nil, 0, fmt.Errorf("%w: records are not an array: %v", ErrMalformedResponse, err)
	}

	// Without a declared total key the page length stands in for the total.
	total := len(items)
	rawTotal, ok := lookup(body, e.TotalKey, fallbackTotalKeys)
	if !ok && e.TotalKey != "" {
		return nil, 0, fmt.Errorf("%w: missing total key %q", ErrMalformedResponse, e.TotalKey)
	}
	if ok {
		n, err := parseCount(rawTotal)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: total: %v", ErrMalformedResponse, err)
		}
		total = n
	}
	return records, total, nil
}

func lookup(body map[string]json.RawMessage, key string, fallbacks []string) (json.RawMessage, bool) {
	if key != "" {
		v, ok := body[key]
		return v, ok
	}
	for _, k := range fallbacks {
		if v, ok := body[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func parseCount(raw json.RawMessage) (int, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if errS := json.Unmarshal(raw, &s); errS != nil {
			return 0, err
		}
		n = json.Number(s)
	}
	i, err := strconv.Atoi(n.String())
	if err != nil {
		f, errF := n.Float64()
		if errF != nil {
			return 0, err
		}
		i = int(f)
	}
	if i < 0 {
		return 0, fmt.Errorf("negative total %d", i)
	}
	return i, nil
}

// Endpoint describes one collection: where it lives, how criteria become
// query parameters, and how its response is unwrapped.
type Endpoint struct {
	Name     string
	Path     string
	Params   ParamEncoder
	Envelope Envelope
	// SortFields maps a screen sort key to the server field name. Keys that
	// are absent are sent unchanged.
	SortFields map[string]string
}

// Query builds the full query string for a fetch.
func (e Endpoint) Query(c Criteria, s SortSpec, p PageRequest) url.Values {
	params := e.Params
	if params == nil {
		params = DefaultParams
	}
	q := params.Encode(c)
	if q == nil {
		q = url.Values{}
	}
	q.Set(ParamPage, strconv.Itoa(p.Page))
	q.Set(ParamPageSize, strconv.Itoa(p.PageSize))
	if s.Field != "" {
		field := s.Field
		if mapped, ok := e.SortFields[field]; ok && mapped != "" {
			field = mapped
		}
		q.Set(ParamSortBy, field)
		q.Set(ParamSortOrder, string(s.direction()))
	}
	return q
}

// FetchObserver receives one call per completed fetch.
type FetchObserver interface {
	ObserveFetch(endpoint, kind string, elapsed time.Duration, err error)
}

// ExecutorOption customises an Executor.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	allPageSize int
	observer    FetchObserver
}

// WithAllPageSize sets the page size used by FetchAll.
func WithAllPageSize(size int) ExecutorOption {
	return func(c *executorConfig) {
		if size > 0 {
			c.allPageSize = size
		}
	}
}

// WithObserver reports every fetch to o.
func WithObserver(o FetchObserver) ExecutorOption {
	return func(c *executorConfig) {
		c.observer = o
	}
}

// Executor runs paginated and full-set queries for one endpoint, decoding
// records into R. It never caches: every call reflects current server state.
type Executor[R any] struct {
	transport Transport
	endpoint  Endpoint
	cfg       executorConfig
}

// NewExecutor constructs an executor for endpoint over transport.
func NewExecutor[R any](transport Transport, endpoint Endpoint, opts ...ExecutorOption) *Executor[R] {
	cfg := executorConfig{allPageSize: DefaultAllPageSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Executor[R]{transport: transport, endpoint: endpoint, cfg: cfg}
}

// Endpoint returns the endpoint description.
func (e *Executor[R]) Endpoint() Endpoint {
	return e.endpoint
}

// FetchPage issues exactly one request for the given page. Invalid page
// requests are rejected before any network call. Pages past the end are
// still requested; the server decides what they contain.
func (e *Executor[R]) FetchPage(ctx context.Context, c Criteria, s SortSpec, p PageRequest) (PageResult[R], error) {
	if err := p.Validate(); err != nil {
		return PageResult[R]{}, err
	}
	if err := validateSort(s); err != nil {
		return PageResult[R]{}, err
	}
	start := time.Now()
	result, err := e.fetch(ctx, c, s, p)
	e.observe("page", start, err)
	return result, err
}

// FetchAll returns every record matching c by requesting page 1 with the
// full-set page size. It fails with ErrIncompleteSet instead of returning a
// partial sequence when the server holds more records than it sent.
func (e *Executor[R]) FetchAll(ctx context.Context, c Criteria, s SortSpec) ([]R, error) {
	if err := validateSort(s); err != nil {
		return nil, err
	}
	start := time.Now()
	result, err := e.fetch(ctx, c, s, PageRequest{Page: 1, PageSize: e.cfg.allPageSize})
	if err == nil && result.TotalCount > len(result.Records) {
		err = fmt.Errorf("%w: received %d of %d records", ErrIncompleteSet, len(result.Records), result.TotalCount)
	}
	e.observe("all", start, err)
	if err != nil {
		return nil, err
	}
	if result.Records == nil {
		return []R{}, nil
	}
	return result.Records, nil
}

func (e *Executor[R]) fetch(ctx context.Context, c Criteria, s SortSpec, p PageRequest) (PageResult[R], error) {
	raw, err := e.transport.GetJSON(ctx, e.endpoint.Path, e.endpoint.Query(c, s, p))
	if err != nil {
		return PageResult[R]{}, fmt.Errorf("report: fetch %s: %w", e.endpoint.Name, err)
	}
	recordsRaw, total, err := e.endpoint.Envelope.Unwrap(raw)
	if err != nil {
		return PageResult[R]{}, fmt.Errorf("report: fetch %s: %w", e.endpoint.Name, err)
	}
	dec := json.NewDecoder(bytes.NewReader(recordsRaw))
	dec.UseNumber()
	records := []R{}
	if err := dec.Decode(&records); err != nil {
		return PageResult[R]{}, fmt.Errorf("report: fetch %s: %w: %v", e.endpoint.Name, ErrMalformedResponse, err)
	}
	return PageResult[R]{Records: records, TotalCount: total}, nil
}

func (e *Executor[R]) observe(kind string, start time.Time, err error) {
	if e.cfg.observer == nil {
		return
	}
	e.cfg.observer.ObserveFetch(e.endpoint.Name, kind, time.Since(start), err)
}
