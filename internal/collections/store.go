package collections

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/entities"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// Store reads collection rows.
type Store interface {
	List(ctx context.Context, q Query) ([]map[string]any, int, error)
	References(ctx context.Context, ref entities.Reference) ([]map[string]any, error)
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore builds a Postgres backed store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// List uses dynamic SQL built from the catalogue; the count and the page run
// in the same snapshot so total and rows agree.
func (s *PGStore) List(ctx context.Context, q Query) ([]map[string]any, int, error) {
	stmt := Build(q)
	var (
		records []map[string]any
		total   int
	)
	err := db.WithSnapshot(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, stmt.CountSQL, stmt.CountArgs...).Scan(&total); err != nil {
			return err
		}
		rows, err := tx.Query(ctx, stmt.ListSQL, stmt.Args...)
		if err != nil {
			return err
		}
		records, err = pgx.CollectRows(rows, pgx.RowToMap)
		return err
	})
	if err != nil {
		return nil, 0, mapError(q.Entity.Name, err)
	}
	if records == nil {
		records = []map[string]any{}
	}
	return records, total, nil
}

// References lists a whole reference collection.
func (s *PGStore) References(ctx context.Context, ref entities.Reference) ([]map[string]any, error) {
	rows, err := s.pool.Query(ctx, ReferenceSQL(ref))
	if err != nil {
		return nil, mapError(ref.Name, err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, mapError(ref.Name, err)
	}
	if records == nil {
		records = []map[string]any{}
	}
	return records, nil
}

// mapError turns invalid input reported by Postgres into a validation error.
func mapError(name string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22P02", "22007", "22008", "22003":
			return fmt.Errorf("%w: %s: %s", httpx.ErrValidation, name, pgErr.Message)
		}
	}
	return fmt.Errorf("collections: %s: %w", name, err)
}
