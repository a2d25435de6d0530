package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

// UpsertAction says what an idempotent write did to the target row.
type UpsertAction string

const (
	// ActionInserted means a new row was created.
	ActionInserted UpsertAction = "inserted"
	// ActionUpdated means the row existed and its content changed.
	ActionUpdated UpsertAction = "updated"
	// ActionUnchanged means the row existed with identical content; only
	// bookkeeping columns were touched.
	ActionUnchanged UpsertAction = "unchanged"
)

// IngestRepository performs the idempotent series/occurrence/raw writes of
// the ingestion pipeline. All writes for one raw event run inside a single
// transaction via WithTx, so the (series, occurrences, raw) unit is atomic.
//
// The conflict statements rely on the partial unique indexes
// (source_id, source_event_id) WHERE source_event_id IS NOT NULL and the
// unique occurrence_hash index; (xmax = 0) in RETURNING distinguishes a
// fresh insert from a conflict update without a read-then-write window.
type IngestRepository struct {
	db *sqlx.DB
}

// NewIngestRepository creates a new ingest repository.
func NewIngestRepository(db *sqlx.DB) *IngestRepository {
	return &IngestRepository{db: db}
}

// WithTx runs fn inside a transaction, committing on nil and rolling back
// on error.
func (r *IngestRepository) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if fnErr := fn(tx); fnErr != nil {
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("failed to commit ingest transaction: %w", commitErr)
	}

	return nil
}

// upsertResult scans the RETURNING projection of the conflict statements.
type upsertResult struct {
	ID       string `db:"id"`
	Inserted bool   `db:"inserted"`
}

// UpsertSeries writes a series row idempotently. With a stable source event
// id the statement inserts, or updates in place when the content hash
// differs; an identical hash leaves content untouched and only records the
// updating run. Without a stable id every call inserts a fresh series.
func (r *IngestRepository) UpsertSeries(ctx context.Context, tx *sqlx.Tx, s *domain.EventSeries) (UpsertAction, error) {
	if s.SourceEventID == nil {
		query := `
			INSERT INTO event_series (id, source_id, source_event_id, title, description,
				venue_name, venue_address, city, region, country, lat, lon,
				organizer, category, occurrence_type, recurrence_type, event_status,
				url_primary, image_url, content_hash, raw, last_updated_by_run_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
				$15, $16, $17, $18, $19, $20, $21, $22)
			RETURNING created_at, updated_at
		`
		err := tx.QueryRowContext(ctx, query, seriesArgs(s)...).Scan(&s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return "", fmt.Errorf("failed to insert series: %w", err)
		}
		return ActionInserted, nil
	}

	query := `
		INSERT INTO event_series (id, source_id, source_event_id, title, description,
			venue_name, venue_address, city, region, country, lat, lon,
			organizer, category, occurrence_type, recurrence_type, event_status,
			url_primary, image_url, content_hash, raw, last_updated_by_run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (source_id, source_event_id) WHERE source_event_id IS NOT NULL
		DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			venue_name = EXCLUDED.venue_name,
			venue_address = EXCLUDED.venue_address,
			city = EXCLUDED.city,
			region = EXCLUDED.region,
			country = EXCLUDED.country,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			organizer = EXCLUDED.organizer,
			category = EXCLUDED.category,
			occurrence_type = EXCLUDED.occurrence_type,
			recurrence_type = EXCLUDED.recurrence_type,
			event_status = EXCLUDED.event_status,
			url_primary = EXCLUDED.url_primary,
			image_url = EXCLUDED.image_url,
			content_hash = EXCLUDED.content_hash,
			raw = EXCLUDED.raw,
			last_updated_by_run_id = EXCLUDED.last_updated_by_run_id,
			updated_at = NOW()
		WHERE event_series.content_hash IS DISTINCT FROM EXCLUDED.content_hash
		RETURNING id, (xmax = 0) AS inserted
	`

	var res upsertResult
	err := tx.GetContext(ctx, &res, query, seriesArgs(s)...)
	if err == nil {
		s.ID = res.ID
		if res.Inserted {
			return ActionInserted, nil
		}
		return ActionUpdated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to upsert series: %w", err)
	}

	// Conflict with an identical hash: the conditional update matched no
	// row. Touch the bookkeeping column and recover the existing id.
	touch := `
		UPDATE event_series
		SET last_updated_by_run_id = $1
		WHERE source_id = $2 AND source_event_id = $3
		RETURNING id
	`
	if touchErr := tx.GetContext(ctx, &s.ID, touch, s.LastUpdatedByRunID, s.SourceID, s.SourceEventID); touchErr != nil {
		return "", fmt.Errorf("failed to touch unchanged series: %w", touchErr)
	}

	return ActionUnchanged, nil
}

func seriesArgs(s *domain.EventSeries) []any {
	return []any{
		s.ID, s.SourceID, s.SourceEventID, s.Title, s.Description,
		s.VenueName, s.VenueAddress, s.City, s.Region, s.Country, s.Lat, s.Lon,
		s.Organizer, s.Category, s.OccurrenceType, s.RecurrenceType, s.EventStatus,
		s.URLPrimary, s.ImageURL, s.ContentHash, &s.Raw, s.LastUpdatedByRunID,
	}
}

// UpsertOccurrence writes one occurrence keyed by its hash. Re-seeing an
// occurrence only refreshes last_seen_at; a date removed at the source
// leaves its row in place with a stale last_seen_at.
func (r *IngestRepository) UpsertOccurrence(ctx context.Context, tx *sqlx.Tx, o *domain.EventOccurrence) (UpsertAction, error) {
	query := `
		INSERT INTO event_occurrences (id, series_id, occurrence_hash, sequence,
			start_datetime, start_datetime_utc, end_datetime, end_datetime_utc,
			duration_seconds, timezone, has_recurrence, is_provisional, raw, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (occurrence_hash)
		DO UPDATE SET last_seen_at = NOW()
		RETURNING id, (xmax = 0) AS inserted
	`

	var res upsertResult
	err := tx.GetContext(ctx, &res, query,
		o.ID, o.SeriesID, o.OccurrenceHash, o.Sequence,
		o.StartDatetime, o.StartDatetimeUTC, o.EndDatetime, o.EndDatetimeUTC,
		o.DurationSeconds, o.Timezone, o.HasRecurrence, o.IsProvisional, &o.Raw, o.ScrapedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to upsert occurrence: %w", err)
	}

	o.ID = res.ID
	if res.Inserted {
		return ActionInserted, nil
	}
	return ActionUnchanged, nil
}

// UpsertRawEvent writes the raw row with the same identity rule as the
// series. On a conflict with changed content the content columns are
// replaced; either way last_seen_at advances.
func (r *IngestRepository) UpsertRawEvent(ctx context.Context, tx *sqlx.Tx, e *domain.RawEvent) (UpsertAction, error) {
	if e.SourceEventID == nil {
		query := `
			INSERT INTO events_raw (id, source_id, run_id, source_event_id, title,
				description_html, start_datetime, end_datetime, timezone,
				venue_name, venue_address, city, region, country, lat, lon,
				organizer, category, tags, price, url, image_url, raw, content_hash,
				scraped_at, last_updated_by_run_id, series_id, occurrence_id,
				instagram_post_id, instagram_caption, local_image_path,
				is_event_poster, classification_confidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
				$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27,
				$28, $29, $30, $31, $32, $33)
			RETURNING created_at, updated_at
		`
		err := tx.QueryRowContext(ctx, query, rawEventArgs(e)...).Scan(&e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return "", fmt.Errorf("failed to insert raw event: %w", err)
		}
		return ActionInserted, nil
	}

	query := `
		INSERT INTO events_raw (id, source_id, run_id, source_event_id, title,
			description_html, start_datetime, end_datetime, timezone,
			venue_name, venue_address, city, region, country, lat, lon,
			organizer, category, tags, price, url, image_url, raw, content_hash,
			scraped_at, last_updated_by_run_id, series_id, occurrence_id,
			instagram_post_id, instagram_caption, local_image_path,
			is_event_poster, classification_confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27,
			$28, $29, $30, $31, $32, $33)
		ON CONFLICT (source_id, source_event_id) WHERE source_event_id IS NOT NULL
		DO UPDATE SET
			title = EXCLUDED.title,
			description_html = EXCLUDED.description_html,
			start_datetime = EXCLUDED.start_datetime,
			end_datetime = EXCLUDED.end_datetime,
			timezone = EXCLUDED.timezone,
			venue_name = EXCLUDED.venue_name,
			venue_address = EXCLUDED.venue_address,
			city = EXCLUDED.city,
			region = EXCLUDED.region,
			country = EXCLUDED.country,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			organizer = EXCLUDED.organizer,
			category = EXCLUDED.category,
			tags = EXCLUDED.tags,
			price = EXCLUDED.price,
			url = EXCLUDED.url,
			image_url = EXCLUDED.image_url,
			raw = EXCLUDED.raw,
			content_hash = EXCLUDED.content_hash,
			run_id = EXCLUDED.run_id,
			series_id = EXCLUDED.series_id,
			occurrence_id = EXCLUDED.occurrence_id,
			instagram_post_id = EXCLUDED.instagram_post_id,
			instagram_caption = EXCLUDED.instagram_caption,
			local_image_path = EXCLUDED.local_image_path,
			is_event_poster = EXCLUDED.is_event_poster,
			classification_confidence = EXCLUDED.classification_confidence,
			last_seen_at = NOW(),
			last_updated_by_run_id = EXCLUDED.last_updated_by_run_id,
			updated_at = NOW()
		WHERE events_raw.content_hash IS DISTINCT FROM EXCLUDED.content_hash
		RETURNING id, (xmax = 0) AS inserted
	`

	var res upsertResult
	err := tx.GetContext(ctx, &res, query, rawEventArgs(e)...)
	if err == nil {
		e.ID = res.ID
		if res.Inserted {
			return ActionInserted, nil
		}
		return ActionUpdated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to upsert raw event: %w", err)
	}

	// Identical content: advance last_seen_at only.
	touch := `
		UPDATE events_raw
		SET last_seen_at = NOW(), last_updated_by_run_id = $1
		WHERE source_id = $2 AND source_event_id = $3
		RETURNING id
	`
	if touchErr := tx.GetContext(ctx, &e.ID, touch, e.LastUpdatedByRunID, e.SourceID, e.SourceEventID); touchErr != nil {
		return "", fmt.Errorf("failed to touch unchanged raw event: %w", touchErr)
	}

	return ActionUnchanged, nil
}

func rawEventArgs(e *domain.RawEvent) []any {
	return []any{
		e.ID, e.SourceID, e.RunID, e.SourceEventID, e.Title,
		e.DescriptionHTML, e.StartDatetime, e.EndDatetime, e.Timezone,
		e.VenueName, e.VenueAddress, e.City, e.Region, e.Country, e.Lat, e.Lon,
		e.Organizer, e.Category, e.Tags, e.Price, e.URL, e.ImageURL, &e.Raw, e.ContentHash,
		e.ScrapedAt, e.LastUpdatedByRunID, e.SeriesID, e.OccurrenceID,
		e.InstagramPostID, e.InstagramCaption, e.LocalImagePath,
		e.IsEventPoster, e.ClassificationConfidence,
	}
}
