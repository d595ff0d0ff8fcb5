// Package screen assembles the report engine for one catalogue entity: the
// reference resolver, the executor and the pagination controller.
package screen

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/backoffice/internal/entities"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/refdata"
	"github.com/odyssey-erp/backoffice/internal/report"
)

// Deps collects what every screen needs.
type Deps struct {
	Catalog     *entities.Catalog
	Transport   report.Transport
	Refs        *refdata.Loader
	Notifier    report.Notifier
	Metrics     *observability.Metrics
	PageSize    int
	AllPageSize int
}

// Screen is one list screen over an entity.
type Screen struct {
	*report.Controller[report.Record]

	Entity   entities.Entity
	Resolver *report.Resolver
	Executor *report.Executor[report.Record]
}

// Open loads the entity's reference collections once and returns a screen
// in the Idle state. Nothing is fetched until the first refresh. Extra
// options are applied after the defaults.
func Open(ctx context.Context, deps Deps, name string, opts ...report.ControllerOption) (*Screen, error) {
	ent, err := deps.Catalog.Entity(name)
	if err != nil {
		return nil, err
	}
	resolver := report.NewResolver(nil)
	if refs := ent.References(); len(refs) > 0 && deps.Refs != nil {
		resolver, err = deps.Refs.Load(ctx, refs...)
		if err != nil {
			return nil, fmt.Errorf("screen: %s: %w", name, err)
		}
	}

	execOpts := []report.ExecutorOption{report.WithAllPageSize(deps.AllPageSize)}
	ctrlOpts := []report.ControllerOption{
		report.WithEntity(name),
		report.WithPageSize(deps.PageSize),
		report.WithNotifier(deps.Notifier),
	}
	if deps.Metrics != nil {
		execOpts = append(execOpts, report.WithObserver(deps.Metrics))
		ctrlOpts = append(ctrlOpts, report.WithStaleObserver(deps.Metrics))
	}
	ctrlOpts = append(ctrlOpts, opts...)
	executor := report.NewExecutor[report.Record](deps.Transport, ent.Endpoint(), execOpts...)
	controller := report.NewController[report.Record](executor, ent.SummarySpecs(resolver), ctrlOpts...)

	return &Screen{
		Controller: controller,
		Entity:     ent,
		Resolver:   resolver,
		Executor:   executor,
	}, nil
}

// Cell renders one export cell. Fields that a summary groups through a
// reference collection print the label instead of the id.
func (s *Screen) Cell(rec report.Record, column string) string {
	for _, sum := range s.Entity.Summaries {
		if sum.Group == column && sum.Reference != "" {
			return s.Resolver.Resolve(sum.Reference, rec[column])
		}
	}
	return report.Stringify(rec[column])
}
