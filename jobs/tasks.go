package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/export"
	"github.com/odyssey-erp/backoffice/internal/report"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReportExport renders the full record set of an entity to a file.
	TaskReportExport = "report:export"
	// TaskRefdataRefresh invalidates the cached reference collections.
	TaskRefdataRefresh = "refdata:refresh"
)

// ExportPayload describes one export request. Criteria is the snapshot the
// requester was looking at; the worker fetches exactly that set.
type ExportPayload struct {
	ID          string          `json:"id"`
	Entity      string          `json:"entity"`
	Criteria    report.Criteria `json:"criteria"`
	Sort        report.SortSpec `json:"sort"`
	Format      export.Format   `json:"format"`
	RequestedAt time.Time       `json:"requested_at"`
}

// Validate checks the payload and fills in the ID when missing.
func (p *ExportPayload) Validate() error {
	if p.Entity == "" {
		return errors.New("jobs: export entity is required")
	}
	format, err := export.ParseFormat(string(p.Format))
	if err != nil {
		return err
	}
	p.Format = format
	if p.ID == "" {
		p.ID = uuid.NewString()
	} else if _, err := uuid.Parse(p.ID); err != nil {
		return fmt.Errorf("jobs: export id: %w", err)
	}
	return nil
}

// NewExportTask constructs an Asynq task for payload.
func NewExportTask(payload ExportPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportExport, data, asynq.TaskID(payload.ID)), nil
}

// NewRefdataRefreshTask constructs the periodic reference cache refresh.
func NewRefdataRefreshTask() *asynq.Task {
	return asynq.NewTask(TaskRefdataRefresh, nil)
}
