package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/jobs"
)

// JobsCLI talks to the export queue: it submits exports and inspects what
// the worker has left behind.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI connects to the queue behind opts.
func NewJobsCLI(opts asynq.RedisClientOpt) (*JobsCLI, error) {
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// EnqueueExport implements jobs.Enqueuer.
func (c *JobsCLI) EnqueueExport(ctx context.Context, payload jobs.ExportPayload) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueExport(ctx, payload)
}

// DroppedExport is an export task the worker gave up on.
type DroppedExport struct {
	ID      string
	Entity  string
	Format  string
	LastErr string
}

// PrintQueue writes the queue stats followed by up to limit dropped exports.
func (c *JobsCLI) PrintQueue(w io.Writer, limit int) error {
	if c == nil || c.inspector == nil {
		return errors.New("jobs cli: inspector not configured")
	}
	stats, err := jobs.InspectQueue(c.inspector)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	if stats.Archived == 0 || limit <= 0 {
		return nil
	}
	tasks, err := c.inspector.ListArchivedTasks(jobs.QueueDefault, asynq.PageSize(limit))
	if err != nil {
		return err
	}
	for _, d := range droppedExports(tasks) {
		fmt.Fprintf(w, "dropped %s %s.%s: %s\n", d.ID, d.Entity, d.Format, d.LastErr)
	}
	return nil
}

func droppedExports(tasks []*asynq.TaskInfo) []DroppedExport {
	out := make([]DroppedExport, 0, len(tasks))
	for _, t := range tasks {
		if t == nil || t.Type != jobs.TaskReportExport {
			continue
		}
		d := DroppedExport{ID: t.ID, LastErr: t.LastErr}
		var payload jobs.ExportPayload
		if err := json.Unmarshal(t.Payload, &payload); err == nil {
			d.Entity = payload.Entity
			d.Format = string(payload.Format)
		}
		out = append(out, d)
	}
	return out
}
