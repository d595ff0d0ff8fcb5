// Package cli implements the reportctl commands: print one page of an
// entity, export its full filtered set, or queue that export on the worker.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/odyssey-erp/backoffice/internal/entities"
	"github.com/odyssey-erp/backoffice/internal/export"
	"github.com/odyssey-erp/backoffice/internal/report"
	"github.com/odyssey-erp/backoffice/internal/screen"
	"github.com/odyssey-erp/backoffice/jobs"
)

// Exit codes of Run.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// ReportOptions configures one reportctl invocation.
type ReportOptions struct {
	Entity string
	// Filters are "key=value" pairs. Range filters take "from..to" with
	// either side optional.
	Filters    []string
	Sort       string
	Page       int
	PageSize   int
	Export     string
	Out        string
	Enqueue    bool
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// PageSummary is the JSON form of a printed page.
type PageSummary struct {
	Entity   string          `json:"entity"`
	Filters  report.Criteria `json:"filters"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
	MaxPage  int             `json:"maxPage"`
	Total    int             `json:"total"`
	Records  []report.Record `json:"records"`
}

// ReportCLI runs report commands against the collection API.
type ReportCLI struct {
	deps     screen.Deps
	renderer export.Renderer
	enqueuer jobs.Enqueuer
}

// NewReportCLI constructs the command runner. enqueuer may be nil when
// exports are only run locally.
func NewReportCLI(deps screen.Deps, renderer export.Renderer, enqueuer jobs.Enqueuer) (*ReportCLI, error) {
	if deps.Catalog == nil || deps.Transport == nil {
		return nil, errors.New("report cli: catalog and transport are required")
	}
	return &ReportCLI{deps: deps, renderer: renderer, enqueuer: enqueuer}, nil
}

// Run executes the command described by opts and returns the exit code.
func (c *ReportCLI) Run(ctx context.Context, opts ReportOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	ent, err := c.deps.Catalog.Entity(opts.Entity)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "reportctl: %v (known: %s)\n", err, strings.Join(c.deps.Catalog.EntityNames(), ", "))
		return ExitUsage
	}
	criteria, err := ParseFilters(ent, opts.Filters)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "reportctl: %v\n", err)
		return ExitUsage
	}
	sortSpec, err := ParseSort(opts.Sort)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "reportctl: %v\n", err)
		return ExitUsage
	}
	var format export.Format
	if opts.Export != "" {
		if format, err = export.ParseFormat(opts.Export); err != nil {
			fmt.Fprintf(opts.Stderr, "reportctl: %v\n", err)
			return ExitUsage
		}
	}

	if opts.Enqueue {
		return c.enqueue(ctx, opts, ent.Name, criteria, sortSpec, format)
	}

	scr, err := screen.Open(ctx, c.deps, ent.Name,
		report.WithCriteria(criteria),
		report.WithSort(sortSpec),
		report.WithNotifier(stderrNotifier{w: opts.Stderr}),
	)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "reportctl: %v\n", err)
		return ExitFailure
	}
	if format != "" {
		return c.export(ctx, opts, scr, format)
	}
	return c.printPage(ctx, opts, scr)
}

func (c *ReportCLI) printPage(ctx context.Context, opts ReportOptions, scr *screen.Screen) int {
	if opts.PageSize > 0 {
		if _, err := scr.SetPageSize(ctx, opts.PageSize); err != nil {
			return ExitFailure
		}
	} else if _, err := scr.Refresh(ctx); err != nil {
		return ExitFailure
	}
	if opts.Page > 1 {
		if _, err := scr.GoToPage(ctx, opts.Page); err != nil {
			if errors.Is(err, report.ErrPageOutOfRange) {
				fmt.Fprintf(opts.Stderr, "reportctl: %v\n", err)
			}
			return ExitFailure
		}
	}
	view := scr.View()

	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(PageSummary{
			Entity:   scr.Entity.Name,
			Filters:  view.Shown,
			Page:     view.Page,
			PageSize: view.PageSize,
			MaxPage:  view.MaxPage,
			Total:    view.Result.TotalCount,
			Records:  view.Result.Records,
		}); err != nil {
			fmt.Fprintf(opts.Stderr, "reportctl: %v\n", err)
			return ExitFailure
		}
		return ExitOK
	}

	tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(scr.Entity.Columns, "\t"))
	for _, rec := range view.Result.Records {
		cells := make([]string, len(scr.Entity.Columns))
		for i, col := range scr.Entity.Columns {
			cells[i] = scr.Cell(rec, col)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(opts.Stderr, "reportctl: %v\n", err)
		return ExitFailure
	}
	if view.Result.Empty() {
		fmt.Fprintln(opts.Stdout, "No data")
	}
	fmt.Fprintf(opts.Stdout, "page %d of %d (%d records)\n", view.Page, view.MaxPage, view.Result.TotalCount)
	return ExitOK
}

func (c *ReportCLI) export(ctx context.Context, opts ReportOptions, scr *screen.Screen, format export.Format) int {
	rep, err := scr.Export(ctx)
	if err != nil {
		return ExitFailure
	}
	doc := export.NewDocument(scr.Entity.Name, scr.Entity.Columns, rep, scr.Cell)

	out := opts.Stdout
	if opts.Out != "" {
		f, err := os.Create(opts.Out)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "reportctl: %v\n", err)
			return ExitFailure
		}
		defer func() {
			_ = f.Close()
		}()
		out = f
	}
	if err := c.renderer.Write(ctx, out, format, doc); err != nil {
		fmt.Fprintf(opts.Stderr, "reportctl: export: %v\n", err)
		return ExitFailure
	}
	if opts.Out != "" {
		fmt.Fprintf(opts.Stderr, "wrote %d records to %s\n", len(rep.Records), opts.Out)
	}
	return ExitOK
}

func (c *ReportCLI) enqueue(ctx context.Context, opts ReportOptions, entity string, criteria report.Criteria, sortSpec report.SortSpec, format export.Format) int {
	if c.enqueuer == nil {
		fmt.Fprintln(opts.Stderr, "reportctl: -enqueue needs a configured job queue")
		return ExitFailure
	}
	if format == "" {
		format = export.FormatCSV
	}
	id, err := c.enqueuer.EnqueueExport(ctx, jobs.ExportPayload{
		Entity:      entity,
		Criteria:    criteria,
		Sort:        sortSpec,
		Format:      format,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		fmt.Fprintf(opts.Stderr, "reportctl: enqueue: %v\n", err)
		return ExitFailure
	}
	fmt.Fprintln(opts.Stdout, id)
	return ExitOK
}

// ParseFilters turns "key=value" pairs into a criteria snapshot, typing the
// values the way the entity's filters expect them.
func ParseFilters(ent entities.Entity, pairs []string) (report.Criteria, error) {
	b := report.NewBuilder()
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return report.Criteria{}, fmt.Errorf("filter %q: expected key=value", pair)
		}
		f, known := ent.Filters[key]
		if !known {
			return report.Criteria{}, fmt.Errorf("filter %q: %s has no such filter", key, ent.Name)
		}
		v, err := filterValue(f, strings.TrimSpace(raw))
		if err != nil {
			return report.Criteria{}, fmt.Errorf("filter %q: %w", key, err)
		}
		b.Set(key, v)
	}
	return b.Snapshot(), nil
}

func filterValue(f entities.Filter, raw string) (any, error) {
	switch f.Kind {
	case entities.KindRange:
		from, to, _ := strings.Cut(raw, "..")
		var r report.DateRange
		var err error
		if from != "" {
			if r.Start, err = time.Parse(time.DateOnly, from); err != nil {
				return nil, err
			}
		}
		if to != "" {
			if r.End, err = time.Parse(time.DateOnly, to); err != nil {
				return nil, err
			}
		}
		return r, nil
	case entities.KindBool:
		return strconv.ParseBool(raw)
	}
	switch f.Type {
	case entities.TypeInt:
		return strconv.ParseInt(raw, 10, 64)
	case entities.TypeNumber:
		return strconv.ParseFloat(raw, 64)
	}
	return raw, nil
}

// ParseSort reads "field" or "field:desc".
func ParseSort(s string) (report.SortSpec, error) {
	if s == "" {
		return report.SortSpec{}, nil
	}
	field, dir, _ := strings.Cut(s, ":")
	spec := report.SortSpec{Field: strings.TrimSpace(field), Direction: report.Asc}
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "", "asc":
	case "desc":
		spec.Direction = report.Desc
	default:
		return report.SortSpec{}, fmt.Errorf("sort %q: direction must be asc or desc", s)
	}
	return spec, nil
}

type stderrNotifier struct {
	w io.Writer
}

func (n stderrNotifier) Notify(note report.Notification) {
	fmt.Fprintf(n.w, "%s: %s\n", note.Level, note.Message)
}
