package report

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultPageSize is the initial page size of a controller.
const DefaultPageSize = 20

// State is the lifecycle of the displayed page.
type State int

const (
	Idle State = iota
	Loading
	Loaded
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "idle"
	}
}

// Fetcher is the query side used by a Controller. *Executor satisfies it.
type Fetcher[R any] interface {
	FetchPage(ctx context.Context, c Criteria, s SortSpec, p PageRequest) (PageResult[R], error)
	FetchAll(ctx context.Context, c Criteria, s SortSpec) ([]R, error)
}

// SummarySpec describes one grouped total printed with a report.
type SummarySpec[R any] struct {
	Name   string
	Key    func(R) string
	Value  func(R) float64
	Signed bool
}

// Report is the full matching set plus its summaries, computed from one
// criteria snapshot.
type Report[R any] struct {
	Entity      string
	Criteria    Criteria
	Sort        SortSpec
	Records     []R
	Summaries   []Summary
	GeneratedAt time.Time
}

// View is what a screen renders: the displayed page and the state that
// produced it.
type View[R any] struct {
	State    State
	Page     int
	PageSize int
	MaxPage  int
	Sort     SortSpec
	Filters  Criteria
	Shown    Criteria
	Result   PageResult[R]
	HasData  bool
}

// StaleObserver is notified whenever a superseded response is discarded.
type StaleObserver interface {
	ObserveStale(entity string)
}

// ControllerOption customises a Controller.
type ControllerOption func(*controllerConfig)

type controllerConfig struct {
	entity   string
	notifier Notifier
	pageSize int
	stale    StaleObserver
	now      func() time.Time
	criteria Criteria
	sort     SortSpec
}

// WithEntity names the entity in reports and metrics.
func WithEntity(name string) ControllerOption {
	return func(c *controllerConfig) { c.entity = name }
}

// WithNotifier sets where fetch failures are surfaced.
func WithNotifier(n Notifier) ControllerOption {
	return func(c *controllerConfig) { c.notifier = n }
}

// WithPageSize sets the initial page size.
func WithPageSize(size int) ControllerOption {
	return func(c *controllerConfig) {
		if size > 0 {
			c.pageSize = size
		}
	}
}

// WithStaleObserver reports discarded responses.
func WithStaleObserver(o StaleObserver) ControllerOption {
	return func(c *controllerConfig) { c.stale = o }
}

// WithClock overrides the time source used for Report.GeneratedAt.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *controllerConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCriteria starts the controller with a saved filter snapshot.
func WithCriteria(c Criteria) ControllerOption {
	return func(cfg *controllerConfig) { cfg.criteria = c }
}

// WithSort starts the controller with a sort order.
func WithSort(s SortSpec) ControllerOption {
	return func(cfg *controllerConfig) { cfg.sort = s }
}

// Controller owns the filter, sort and pagination state of one screen.
// Every fetch carries a generation token: a newer request cancels the older
// one and a response whose token is stale never reaches the view.
type Controller[R any] struct {
	fetcher   Fetcher[R]
	summaries []SummarySpec[R]
	cfg       controllerConfig

	mu         sync.Mutex
	builder    *Builder
	sort       SortSpec
	page       int
	pageSize   int
	state      State
	generation uint64
	cancel     context.CancelFunc

	result    PageResult[R]
	shown     Criteria
	shownSort SortSpec
	shownPage int
	shownSize int
	hasData   bool
}

// NewController creates a controller in the Idle state with empty filters.
func NewController[R any](fetcher Fetcher[R], summaries []SummarySpec[R], opts ...ControllerOption) *Controller[R] {
	cfg := controllerConfig{pageSize: DefaultPageSize, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Controller[R]{
		fetcher:   fetcher,
		summaries: summaries,
		cfg:       cfg,
		builder:   NewBuilderFrom(cfg.criteria),
		sort:      cfg.sort,
		page:      1,
		pageSize:  cfg.pageSize,
	}
}

// View returns the current displayed state.
func (c *Controller[R]) View() View[R] {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View[R]{
		State:    c.state,
		Page:     c.page,
		PageSize: c.pageSize,
		Sort:     c.sort,
		Filters:  c.builder.Snapshot(),
		Shown:    c.shown,
		Result:   c.result,
		HasData:  c.hasData,
	}
	if c.hasData {
		v.Page = c.shownPage
		v.PageSize = c.shownSize
		v.Sort = c.shownSort
		v.MaxPage = MaxPage(c.result.TotalCount, c.shownSize)
	}
	return v
}

// SetFilter updates one filter, resets to page 1 and refreshes.
func (c *Controller[R]) SetFilter(ctx context.Context, key string, value any) (PageResult[R], error) {
	c.mu.Lock()
	c.builder.Set(key, value)
	c.page = 1
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// ClearFilters removes every filter, resets to page 1 and refreshes.
func (c *Controller[R]) ClearFilters(ctx context.Context) (PageResult[R], error) {
	c.mu.Lock()
	c.builder.Clear()
	c.page = 1
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// ToggleSort selects field as sort key (flipping direction when it is
// already active), resets to page 1 and refreshes.
func (c *Controller[R]) ToggleSort(ctx context.Context, field string) (PageResult[R], error) {
	c.mu.Lock()
	c.sort = c.sort.Toggle(field)
	c.page = 1
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// GoToPage moves to page n. Pages outside 1..max(1, MaxPage) of the
// displayed total at the page size that will be requested are rejected
// without a request.
func (c *Controller[R]) GoToPage(ctx context.Context, n int) (PageResult[R], error) {
	c.mu.Lock()
	last := 1
	if c.hasData {
		if m := MaxPage(c.result.TotalCount, c.pageSize); m > last {
			last = m
		}
	}
	if n < 1 || n > last {
		c.mu.Unlock()
		return PageResult[R]{}, fmt.Errorf("%w: %d not in 1..%d", ErrPageOutOfRange, n, last)
	}
	c.page = n
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// SetPageSize changes the page size and returns to page 1. A size below one
// is rejected without a request.
func (c *Controller[R]) SetPageSize(ctx context.Context, size int) (PageResult[R], error) {
	if size < 1 {
		return PageResult[R]{}, fmt.Errorf("%w: %d", ErrInvalidPageSize, size)
	}
	c.mu.Lock()
	c.pageSize = size
	c.page = 1
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Refresh fetches the current page. If another fetch is issued before this
// one completes, this call returns ErrSuperseded and leaves the view alone.
// On failure the previously displayed page is kept and the notifier is told.
func (c *Controller[R]) Refresh(ctx context.Context) (PageResult[R], error) {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	if c.cancel != nil {
		c.cancel()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	criteria := c.builder.Snapshot()
	sortSpec := c.sort
	req := PageRequest{Page: c.page, PageSize: c.pageSize}
	c.state = Loading
	c.mu.Unlock()

	result, err := c.fetcher.FetchPage(fetchCtx, criteria, sortSpec, req)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		cancel()
		if c.cfg.stale != nil {
			c.cfg.stale.ObserveStale(c.cfg.entity)
		}
		return PageResult[R]{}, ErrSuperseded
	}
	cancel()
	c.cancel = nil
	if err != nil {
		c.state = Idle
		if c.hasData {
			c.state = Loaded
		}
		c.mu.Unlock()
		if !errors.Is(err, context.Canceled) {
			c.notify(err)
		}
		return PageResult[R]{}, err
	}
	c.result = result
	c.shown = criteria
	c.shownSort = sortSpec
	c.shownPage = req.Page
	c.shownSize = req.PageSize
	c.hasData = true
	c.state = Loaded
	c.mu.Unlock()
	return result, nil
}

// Export fetches every record matching the snapshot of the displayed page
// (or the current filters when nothing is displayed yet) and computes the
// configured summaries over that set. On failure it returns an empty report.
func (c *Controller[R]) Export(ctx context.Context) (Report[R], error) {
	c.mu.Lock()
	criteria, sortSpec := c.shown, c.shownSort
	if !c.hasData {
		criteria, sortSpec = c.builder.Snapshot(), c.sort
	}
	c.mu.Unlock()

	records, err := c.fetcher.FetchAll(ctx, criteria, sortSpec)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.notify(err)
		}
		return Report[R]{Entity: c.cfg.entity, Criteria: criteria, Sort: sortSpec, Records: []R{}}, err
	}
	return BuildReport(c.cfg.entity, criteria, sortSpec, records, c.summaries, c.cfg.now()), nil
}

// BuildReport aggregates records with every summary spec.
func BuildReport[R any](entity string, criteria Criteria, sortSpec SortSpec, records []R, specs []SummarySpec[R], at time.Time) Report[R] {
	summaries := make([]Summary, 0, len(specs))
	for _, spec := range specs {
		s := Aggregate(records, spec.Key, spec.Value, spec.Signed)
		s.Name = spec.Name
		summaries = append(summaries, s)
	}
	return Report[R]{
		Entity:      entity,
		Criteria:    criteria,
		Sort:        sortSpec,
		Records:     records,
		Summaries:   summaries,
		GeneratedAt: at,
	}
}

func (c *Controller[R]) notify(err error) {
	if c.cfg.notifier == nil {
		return
	}
	c.cfg.notifier.Notify(Describe(err))
}
