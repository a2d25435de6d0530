package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

const seriesColumns = `id, source_id, source_event_id, title, description, venue_name,
	venue_address, city, region, country, lat, lon, organizer, category,
	occurrence_type, recurrence_type, event_status, url_primary, image_url,
	content_hash, raw, last_updated_by_run_id, created_at, updated_at`

const occurrenceColumns = `id, series_id, occurrence_hash, sequence, start_datetime,
	start_datetime_utc, end_datetime, end_datetime_utc, duration_seconds, timezone,
	has_recurrence, is_provisional, override_title, override_description,
	override_venue_name, override_status, raw, scraped_at, last_seen_at, created_at, updated_at`

// SeriesRepository reads event series and their occurrences.
type SeriesRepository struct {
	db *sqlx.DB
}

// NewSeriesRepository creates a new series repository.
func NewSeriesRepository(db *sqlx.DB) *SeriesRepository {
	return &SeriesRepository{db: db}
}

// GetByID retrieves a series by its id.
func (r *SeriesRepository) GetByID(ctx context.Context, id string) (*domain.EventSeries, error) {
	query := fmt.Sprintf(`SELECT %s FROM event_series WHERE id = $1`, seriesColumns)

	var series domain.EventSeries
	err := r.db.GetContext(ctx, &series, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("series %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get series: %w", err)
	}

	return &series, nil
}

// List returns series for a source, or all series when sourceID is empty,
// newest first.
func (r *SeriesRepository) List(ctx context.Context, sourceID string, limit, offset int) ([]domain.EventSeries, error) {
	var (
		query string
		args  []any
	)

	if sourceID != "" {
		query = fmt.Sprintf(`
			SELECT %s FROM event_series
			WHERE source_id = $1
			ORDER BY updated_at DESC
			LIMIT $2 OFFSET $3
		`, seriesColumns)
		args = []any{sourceID, limit, offset}
	} else {
		query = fmt.Sprintf(`
			SELECT %s FROM event_series
			ORDER BY updated_at DESC
			LIMIT $1 OFFSET $2
		`, seriesColumns)
		args = []any{limit, offset}
	}

	series := []domain.EventSeries{}
	if err := r.db.SelectContext(ctx, &series, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}

	return series, nil
}

// ListOccurrences returns a series' occurrences in sequence order.
func (r *SeriesRepository) ListOccurrences(ctx context.Context, seriesID string) ([]domain.EventOccurrence, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM event_occurrences
		WHERE series_id = $1
		ORDER BY sequence ASC, start_datetime ASC
	`, occurrenceColumns)

	occurrences := []domain.EventOccurrence{}
	if err := r.db.SelectContext(ctx, &occurrences, query, seriesID); err != nil {
		return nil, fmt.Errorf("failed to list occurrences: %w", err)
	}

	return occurrences, nil
}

// ListStaleOccurrences returns occurrences last seen before the cutoff.
// These are dates that recent scrapes of their source no longer produced,
// which usually means the source removed or rescheduled them.
func (r *SeriesRepository) ListStaleOccurrences(ctx context.Context, before time.Time, limit int) ([]domain.EventOccurrence, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM event_occurrences
		WHERE last_seen_at < $1
		ORDER BY last_seen_at ASC
		LIMIT $2
	`, occurrenceColumns)

	occurrences := []domain.EventOccurrence{}
	if err := r.db.SelectContext(ctx, &occurrences, query, before, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale occurrences: %w", err)
	}

	return occurrences, nil
}

// DeleteOccurrence removes a single occurrence row.
func (r *SeriesRepository) DeleteOccurrence(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM event_occurrences WHERE id = $1`, id)
	return execRequireRows(result, err, fmt.Errorf("occurrence %s: %w", id, ErrNotFound))
}
