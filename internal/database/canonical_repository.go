package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

const canonicalColumns = `id, dedupe_key, title, description_html, start_datetime,
	end_datetime, timezone, venue_name, venue_address, city, region, country,
	lat, lon, organizer, category, tags, price, url, image_url, status,
	merged_from_raw_ids, created_at, updated_at`

// CanonicalRepository stores deduplicated events produced by merging
// confirmed matches.
type CanonicalRepository struct {
	db *sqlx.DB
}

// NewCanonicalRepository creates a new canonical event repository.
func NewCanonicalRepository(db *sqlx.DB) *CanonicalRepository {
	return &CanonicalRepository{db: db}
}

// Create inserts a canonical event.
func (r *CanonicalRepository) Create(ctx context.Context, e *domain.CanonicalEvent) error {
	query := `
		INSERT INTO events_canonical (id, dedupe_key, title, description_html,
			start_datetime, end_datetime, timezone, venue_name, venue_address,
			city, region, country, lat, lon, organizer, category, tags, price,
			url, image_url, status, merged_from_raw_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		e.ID, e.DedupeKey, e.Title, e.DescriptionHTML,
		e.StartDatetime, e.EndDatetime, e.Timezone, e.VenueName, e.VenueAddress,
		e.City, e.Region, e.Country, e.Lat, e.Lon, e.Organizer, e.Category, e.Tags,
		e.Price, e.URL, e.ImageURL, e.Status, e.MergedFromRawIDs,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create canonical event: %w", err)
	}

	return nil
}

// FindByRawID returns the canonical event a raw event was merged into, or
// ErrNotFound when the raw is not part of any canonical yet.
func (r *CanonicalRepository) FindByRawID(ctx context.Context, rawID string) (*domain.CanonicalEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM events_canonical WHERE $1 = ANY(merged_from_raw_ids)`, canonicalColumns)

	var event domain.CanonicalEvent
	err := r.db.GetContext(ctx, &event, query, rawID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("canonical for raw %s: %w", rawID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find canonical by raw id: %w", err)
	}

	return &event, nil
}

// Update rewrites the content and merge set of a canonical event.
func (r *CanonicalRepository) Update(ctx context.Context, e *domain.CanonicalEvent) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE events_canonical
		SET title = $1, description_html = $2, start_datetime = $3,
		    end_datetime = $4, timezone = $5, venue_name = $6,
		    venue_address = $7, city = $8, region = $9, country = $10,
		    lat = $11, lon = $12, organizer = $13, category = $14, tags = $15,
		    price = $16, url = $17, image_url = $18, status = $19,
		    merged_from_raw_ids = $20, updated_at = NOW()
		WHERE id = $21
	`,
		e.Title, e.DescriptionHTML, e.StartDatetime,
		e.EndDatetime, e.Timezone, e.VenueName,
		e.VenueAddress, e.City, e.Region, e.Country,
		e.Lat, e.Lon, e.Organizer, e.Category, e.Tags,
		e.Price, e.URL, e.ImageURL, e.Status,
		e.MergedFromRawIDs, e.ID)

	return execRequireRows(result, err, fmt.Errorf("canonical event %s: %w", e.ID, ErrNotFound))
}

// GetByID retrieves a canonical event by its id.
func (r *CanonicalRepository) GetByID(ctx context.Context, id string) (*domain.CanonicalEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM events_canonical WHERE id = $1`, canonicalColumns)

	var event domain.CanonicalEvent
	err := r.db.GetContext(ctx, &event, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("canonical event %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get canonical event: %w", err)
	}

	return &event, nil
}

// List returns canonical events filtered by status, or all when status is
// empty, soonest start first.
func (r *CanonicalRepository) List(ctx context.Context, status domain.CanonicalStatus, limit, offset int) ([]domain.CanonicalEvent, error) {
	var (
		query string
		args  []any
	)

	if status != "" {
		query = fmt.Sprintf(`
			SELECT %s FROM events_canonical
			WHERE status = $1
			ORDER BY start_datetime ASC NULLS LAST, id ASC
			LIMIT $2 OFFSET $3
		`, canonicalColumns)
		args = []any{status, limit, offset}
	} else {
		query = fmt.Sprintf(`
			SELECT %s FROM events_canonical
			ORDER BY start_datetime ASC NULLS LAST, id ASC
			LIMIT $1 OFFSET $2
		`, canonicalColumns)
		args = []any{limit, offset}
	}

	events := []domain.CanonicalEvent{}
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list canonical events: %w", err)
	}

	return events, nil
}

// EachByFilter streams matching canonical rows to fn in export order.
func (r *CanonicalRepository) EachByFilter(ctx context.Context, f domain.EventFilter, fn func(*domain.CanonicalEvent) error) error {
	where, args := buildEventFilter(f)
	query := fmt.Sprintf(`
		SELECT %s FROM events_canonical%s
		ORDER BY start_datetime ASC NULLS LAST, id ASC
	`, canonicalColumns, where)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query canonical events: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	for rows.Next() {
		var event domain.CanonicalEvent
		if scanErr := rows.StructScan(&event); scanErr != nil {
			return fmt.Errorf("failed to scan canonical event: %w", scanErr)
		}
		if fnErr := fn(&event); fnErr != nil {
			return fnErr
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return fmt.Errorf("failed to iterate canonical events: %w", rowsErr)
	}

	return nil
}

// UpdateStatus moves a canonical event between review states.
func (r *CanonicalRepository) UpdateStatus(ctx context.Context, id string, status domain.CanonicalStatus) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE events_canonical SET status = $1, updated_at = NOW() WHERE id = $2
	`, status, id)

	return execRequireRows(result, err, fmt.Errorf("canonical event %s: %w", id, ErrNotFound))
}
