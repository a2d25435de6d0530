package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

const runColumns = `id, source_id, status, started_at, finished_at,
	pages_crawled, events_found, errors, parent_run_id, metadata, created_at`

// RunRepository handles database operations for runs.
type RunRepository struct {
	db *sqlx.DB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new run, normally in status queued.
func (r *RunRepository) Create(ctx context.Context, run *domain.Run) error {
	query := `
		INSERT INTO runs (id, source_id, status, parent_run_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		run.ID,
		run.SourceID,
		run.Status,
		run.ParentRunID,
		&run.Metadata,
	).Scan(&run.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	var run domain.Run
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`

	err := r.db.GetContext(ctx, &run, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

// List retrieves runs, newest first, optionally filtered by source.
func (r *RunRepository) List(ctx context.Context, sourceID string, limit, offset int) ([]*domain.Run, error) {
	var runs []*domain.Run
	var query string
	var args []any

	if sourceID != "" {
		query = `
			SELECT ` + runColumns + `
			FROM runs
			WHERE source_id = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3
		`
		args = []any{sourceID, limit, offset}
	} else {
		query = `
			SELECT ` + runColumns + `
			FROM runs
			ORDER BY created_at DESC
			LIMIT $1 OFFSET $2
		`
		args = []any{limit, offset}
	}

	err := r.db.SelectContext(ctx, &runs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	if runs == nil {
		runs = []*domain.Run{}
	}

	return runs, nil
}

// ListChildren retrieves the child runs of a batch parent.
func (r *RunRepository) ListChildren(ctx context.Context, parentRunID string) ([]*domain.Run, error) {
	var runs []*domain.Run
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE parent_run_id = $1
		ORDER BY created_at ASC
	`

	if err := r.db.SelectContext(ctx, &runs, query, parentRunID); err != nil {
		return nil, fmt.Errorf("failed to list child runs: %w", err)
	}

	if runs == nil {
		runs = []*domain.Run{}
	}

	return runs, nil
}

// MarkRunning transitions a queued run to running and stamps started_at.
// The status predicate keeps the state machine moving forward only.
func (r *RunRepository) MarkRunning(ctx context.Context, id string) error {
	query := `
		UPDATE runs
		SET status = $1, started_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, domain.RunStatusRunning, id, domain.RunStatusQueued)
	return execRequireRows(result, err, fmt.Errorf("run %s not queued: %w", id, ErrNotFound))
}

// Finish transitions a run to a terminal status exactly once, recording
// metrics, errors, and finished_at. Terminal rows are never re-finished.
func (r *RunRepository) Finish(ctx context.Context, run *domain.Run) error {
	if !run.Status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %q", run.Status)
	}

	query := `
		UPDATE runs
		SET status = $1, finished_at = NOW(), pages_crawled = $2,
		    events_found = $3, errors = $4, metadata = $5
		WHERE id = $6 AND status IN ($7, $8)
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		run.Status,
		run.PagesCrawled,
		run.EventsFound,
		run.Errors,
		&run.Metadata,
		run.ID,
		domain.RunStatusQueued,
		domain.RunStatusRunning,
	)

	return execRequireRows(result, err, fmt.Errorf("run %s already finished: %w", run.ID, ErrNotFound))
}

// UpdateMetadata replaces a run's metadata map.
func (r *RunRepository) UpdateMetadata(ctx context.Context, id string, metadata domain.JSONBMap) error {
	query := `UPDATE runs SET metadata = $1 WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, &metadata, id)
	return execRequireRows(result, err, fmt.Errorf("run %s: %w", id, ErrNotFound))
}

// childAggregate carries the child rollup used for parent aggregation.
type childAggregate struct {
	Total        int `db:"total"`
	Pending      int `db:"pending"`
	Errored      int `db:"errored"`
	Partial      int `db:"partial"`
	PagesCrawled int `db:"pages_crawled"`
	EventsFound  int `db:"events_found"`
}

// AggregateParent recomputes a parent run from its children: metric sums
// plus the derived status (any pending child → running; any error/partial →
// partial; else success). Called on every child transition.
func (r *RunRepository) AggregateParent(ctx context.Context, parentRunID string) (*domain.Run, error) {
	var agg childAggregate
	query := `
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status IN ($2, $3)) AS pending,
		       COUNT(*) FILTER (WHERE status = $4) AS errored,
		       COUNT(*) FILTER (WHERE status = $5) AS partial,
		       COALESCE(SUM(pages_crawled), 0) AS pages_crawled,
		       COALESCE(SUM(events_found), 0) AS events_found
		FROM runs
		WHERE parent_run_id = $1
	`

	err := r.db.GetContext(ctx, &agg, query, parentRunID,
		domain.RunStatusQueued, domain.RunStatusRunning,
		domain.RunStatusError, domain.RunStatusPartial)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate child runs: %w", err)
	}

	status := domain.RunStatusSuccess
	switch {
	case agg.Pending > 0:
		status = domain.RunStatusRunning
	case agg.Errored > 0 || agg.Partial > 0:
		status = domain.RunStatusPartial
	}

	var update string
	if status.Terminal() {
		update = `
			UPDATE runs
			SET status = $1, pages_crawled = $2, events_found = $3,
			    finished_at = COALESCE(finished_at, NOW())
			WHERE id = $4
			RETURNING ` + runColumns
	} else {
		update = `
			UPDATE runs
			SET status = $1, pages_crawled = $2, events_found = $3,
			    started_at = COALESCE(started_at, NOW())
			WHERE id = $4
			RETURNING ` + runColumns
	}

	var parent domain.Run
	err = r.db.GetContext(ctx, &parent, update, status, agg.PagesCrawled, agg.EventsFound, parentRunID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("parent run %s: %w", parentRunID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update parent run: %w", err)
	}

	return &parent, nil
}
