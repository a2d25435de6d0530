package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

const rawEventColumns = `id, source_id, run_id, source_event_id, title, description_html,
	start_datetime, end_datetime, timezone, venue_name, venue_address, city, region,
	country, lat, lon, organizer, category, tags, price, url, image_url, raw,
	content_hash, scraped_at, last_seen_at, last_updated_by_run_id, series_id,
	occurrence_id, instagram_post_id, instagram_caption, local_image_path,
	is_event_poster, classification_confidence, created_at, updated_at`

// RawEventRepository reads and manages raw event rows. Writes during
// ingestion go through IngestRepository so they share one transaction.
type RawEventRepository struct {
	db *sqlx.DB
}

// NewRawEventRepository creates a new raw event repository.
func NewRawEventRepository(db *sqlx.DB) *RawEventRepository {
	return &RawEventRepository{db: db}
}

// GetByID retrieves a raw event by its id.
func (r *RawEventRepository) GetByID(ctx context.Context, id string) (*domain.RawEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM events_raw WHERE id = $1`, rawEventColumns)

	var event domain.RawEvent
	err := r.db.GetContext(ctx, &event, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("raw event %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get raw event: %w", err)
	}

	return &event, nil
}

// List returns a filtered page of raw events ordered by start time, along
// with the total number of rows matching the filter.
func (r *RawEventRepository) List(ctx context.Context, f domain.EventFilter, limit, offset int) ([]domain.RawEvent, int, error) {
	where, args := buildEventFilter(f)

	countQuery := `SELECT COUNT(*) FROM events_raw` + where
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count raw events: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM events_raw%s
		ORDER BY start_datetime ASC NULLS LAST, id ASC
		LIMIT $%d OFFSET $%d
	`, rawEventColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	events := []domain.RawEvent{}
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list raw events: %w", err)
	}

	return events, total, nil
}

// EachByFilter streams matching rows to fn in export order. Iteration stops
// at the first error from fn.
func (r *RawEventRepository) EachByFilter(ctx context.Context, f domain.EventFilter, fn func(*domain.RawEvent) error) error {
	where, args := buildEventFilter(f)
	query := fmt.Sprintf(`
		SELECT %s FROM events_raw%s
		ORDER BY start_datetime ASC NULLS LAST, id ASC
	`, rawEventColumns, where)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query raw events: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	for rows.Next() {
		var event domain.RawEvent
		if scanErr := rows.StructScan(&event); scanErr != nil {
			return fmt.Errorf("failed to scan raw event: %w", scanErr)
		}
		if fnErr := fn(&event); fnErr != nil {
			return fnErr
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return fmt.Errorf("failed to iterate raw events: %w", rowsErr)
	}

	return nil
}

// ListMatchCandidates returns events whose start time falls inside the
// window, optionally restricted to the given sources. Events without a
// start time cannot be matched and are excluded.
func (r *RawEventRepository) ListMatchCandidates(ctx context.Context, windowStart, windowEnd time.Time, sourceIDs []string) ([]domain.RawEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM events_raw
		WHERE start_datetime >= $1 AND start_datetime <= $2
	`, rawEventColumns)
	args := []any{windowStart, windowEnd}

	if len(sourceIDs) > 0 {
		query += fmt.Sprintf(` AND source_id = ANY($%d)`, len(args)+1)
		args = append(args, pq.Array(sourceIDs))
	}
	query += ` ORDER BY start_datetime ASC, id ASC`

	events := []domain.RawEvent{}
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list match candidates: %w", err)
	}

	return events, nil
}

// CountForRun returns the number of raw events last touched by the run.
func (r *RawEventRepository) CountForRun(ctx context.Context, runID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM events_raw WHERE last_updated_by_run_id = $1`, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to count raw events for run: %w", err)
	}
	return count, nil
}

// Delete removes a raw event.
func (r *RawEventRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM events_raw WHERE id = $1`, id)
	return execRequireRows(result, err, fmt.Errorf("raw event %s: %w", id, ErrNotFound))
}
