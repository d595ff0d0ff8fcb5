package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/entities"
	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker constructs a Worker instance. Failed runs are logged with the
// retry they are on; retries back off exponentially up to five minutes.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
		RetryDelayFunc:  retryDelay,
		ShutdownTimeout: 30 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Warn("task failed",
				slog.String("type", task.Type()),
				slog.Int("retry", retried),
				slog.Int("max_retry", maxRetry),
				slog.Bool("dropped", errors.Is(err, asynq.SkipRetry)),
				slog.Any("error", err),
			)
		}),
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, err
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: logger}, nil
}

func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n > 10 {
		n = 10
	}
	d := time.Duration(1<<n) * time.Second
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	w.logger.Info("worker started", slog.Bool("scheduler", w.scheduler != nil))
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Enqueuer submits export tasks. *Client implements it.
type Enqueuer interface {
	EnqueueExport(ctx context.Context, payload ExportPayload) (string, error)
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	client := asynq.NewClient(redisOpts)
	return &Client{client: client}, nil
}

// EnqueueExport enqueues a report export and returns its ID.
func (c *Client) EnqueueExport(ctx context.Context, payload ExportPayload) (string, error) {
	if payload.RequestedAt.IsZero() {
		payload.RequestedAt = time.Now().UTC()
	}
	if err := payload.Validate(); err != nil {
		return "", err
	}
	task, err := NewExportTask(payload)
	if err != nil {
		return "", err
	}
	if _, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
	); err != nil {
		return "", err
	}
	return payload.ID, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// QueueStats counts the tasks of one queue by state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// Counts returns the stats keyed by state name.
func (s QueueStats) Counts() map[string]int {
	return map[string]int{
		"pending":   s.Pending,
		"active":    s.Active,
		"scheduled": s.Scheduled,
		"retry":     s.Retry,
		"archived":  s.Archived,
	}
}

// InspectQueue reads the current stats of the export queue.
func InspectQueue(inspector *asynq.Inspector) (QueueStats, error) {
	stats := QueueStats{Queue: QueueDefault}
	if inspector == nil {
		return stats, nil
	}
	info, err := inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// Handler exposes HTTP endpoints for job observability and export downloads.
type Handler struct {
	inspector *asynq.Inspector
	enqueuer  Enqueuer
	store     *ExportStore
	catalog   *entities.Catalog
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewHandler constructs an HTTP handler for jobs endpoints. Export requests
// are checked against catalog before they are queued.
func NewHandler(inspector *asynq.Inspector, enqueuer Enqueuer, store *ExportStore, catalog *entities.Catalog, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, enqueuer: enqueuer, store: store, catalog: catalog, logger: logger}
}

// WithMetrics publishes the queue stats read by the health route.
func (h *Handler) WithMetrics(m *jobmetrics.Metrics) *Handler {
	h.metrics = m
	return h
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Post("/exports", h.enqueueExport)
	r.Get("/exports/{id}", h.downloadExport)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	stats, err := InspectQueue(h.inspector)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "queue inspection failed")
		return
	}
	h.metrics.ObserveQueue(stats.Queue, stats.Counts())
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) enqueueExport(w http.ResponseWriter, r *http.Request) {
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "export queue not configured")
		return
	}
	var payload ExportPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid export request: "+err.Error())
		return
	}
	if err := payload.Validate(); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.checkEntity(payload); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	id, err := h.enqueuer.EnqueueExport(r.Context(), payload)
	if err != nil {
		h.logger.Error("enqueue export", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "export could not be queued")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (h *Handler) checkEntity(payload ExportPayload) error {
	if h.catalog == nil {
		return errors.New("export catalogue not configured")
	}
	ent, err := h.catalog.Entity(payload.Entity)
	if err != nil {
		return err
	}
	if payload.Sort.Field != "" && !ent.Sortable(payload.Sort.Field) {
		return fmt.Errorf("%s cannot be sorted by %q", ent.Name, payload.Sort.Field)
	}
	return nil
}

func (h *Handler) downloadExport(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "export store not configured")
		return
	}
	res, data, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrExportNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "export is not ready or has expired")
		return
	}
	if err != nil {
		h.logger.Error("load export", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.Attachment(w, res.Format.ContentType(), res.Filename(), data)
}
