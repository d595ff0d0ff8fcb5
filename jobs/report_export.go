package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/entities"
	"github.com/odyssey-erp/backoffice/internal/export"
	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/report"
	"github.com/odyssey-erp/backoffice/internal/screen"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ExportJob fetches the full record set of an entity for a saved criteria
// snapshot, aggregates it and stores the rendered file.
type ExportJob struct {
	Screens  screen.Deps
	Renderer export.Renderer
	Store    *ExportStore
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewExportJob wires dependencies for the export handler.
func NewExportJob(deps screen.Deps, renderer export.Renderer, store *ExportStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExportJob {
	return &ExportJob{
		Screens:  deps,
		Renderer: renderer,
		Store:    store,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes report export tasks.
func (j *ExportJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("report export: handler not configured")
	}
	var payload ExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("report export: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("report export: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskReportExport)
	logger := j.logger().With(
		slog.String("export_id", payload.ID),
		slog.String("entity", payload.Entity),
		slog.String("format", string(payload.Format)),
	)
	logger.Info("starting report export", slog.String("criteria", payload.Criteria.Fingerprint()))

	res, err := j.Run(ctx, payload)
	if err != nil {
		logger.Error("report export", slog.Any("error", err), slog.Bool("retry", !permanent(err)))
		if permanent(err) {
			err = fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return tracker.End(err)
	}
	logger.Info("completed report export", slog.Int("records", res.Records), slog.Int("bytes", res.Size))
	return tracker.End(nil)
}

// Run performs one export and stores the file.
func (j *ExportJob) Run(ctx context.Context, payload ExportPayload) (ExportResult, error) {
	scr, err := screen.Open(ctx, j.Screens, payload.Entity,
		report.WithCriteria(payload.Criteria),
		report.WithSort(payload.Sort),
		report.WithClock(j.now),
	)
	if err != nil {
		return ExportResult{}, err
	}
	rep, err := scr.Export(ctx)
	if err != nil {
		return ExportResult{}, err
	}

	doc := export.NewDocument(payload.Entity, scr.Entity.Columns, rep, scr.Cell)
	var buf bytes.Buffer
	if err := j.Renderer.Write(ctx, &buf, payload.Format, doc); err != nil {
		return ExportResult{}, err
	}
	res := ExportResult{
		ID:          payload.ID,
		Entity:      payload.Entity,
		Format:      payload.Format,
		Records:     len(rep.Records),
		Size:        buf.Len(),
		CompletedAt: j.now(),
	}
	if err := j.Store.Put(ctx, res, buf.Bytes()); err != nil {
		return ExportResult{}, err
	}
	j.metrics().AddExport(payload.Entity, string(payload.Format), res.Size)
	return res, nil
}

// permanent reports errors that a retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, entities.ErrUnknownEntity) ||
		errors.Is(err, report.ErrIncompleteSet) ||
		errors.Is(err, report.ErrInvalidSort) ||
		httpx.IsClientError(err)
}

func (j *ExportJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ExportJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *ExportJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
