package refdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/backoffice/internal/report"
)

const defaultLoadTimeout = 30 * time.Second

// Loader loads reference collections concurrently. Concurrent loads of the
// same collection share one request, which runs detached from the caller
// that started it: cancelling one caller never fails the others.
type Loader struct {
	source  Source
	group   singleflight.Group
	timeout time.Duration
}

// NewLoader constructs a loader over source.
func NewLoader(source Source) *Loader {
	return &Loader{source: source, timeout: defaultLoadTimeout}
}

// WithTimeout bounds each shared request.
func (l *Loader) WithTimeout(d time.Duration) *Loader {
	if d > 0 {
		l.timeout = d
	}
	return l
}

// Load fetches every named collection and returns a resolver over them. A
// failure of any collection fails the whole load.
func (l *Loader) Load(ctx context.Context, names ...string) (*report.Resolver, error) {
	var (
		mu     sync.Mutex
		loaded = make(map[string][]report.Reference, len(names))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range unique(names) {
		g.Go(func() error {
			refs, err := l.loadOne(gctx, name)
			if err != nil {
				return err
			}
			mu.Lock()
			loaded[name] = refs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report.NewResolver(loaded), nil
}

func (l *Loader) loadOne(ctx context.Context, name string) ([]report.Reference, error) {
	ch := l.group.DoChan(name, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()
		return l.source.Load(loadCtx, name)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("refdata: %s: %w", name, res.Err)
		}
		refs, _ := res.Val.([]report.Reference)
		return refs, nil
	}
}

func unique(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
