package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

const sourceColumns = `id, name, base_url, module_key, active, default_timezone,
	rate_limit_per_min, source_type, config, instagram_username,
	classification_mode, instagram_scraper_type, last_checked,
	created_at, updated_at`

// SourceRepository handles database operations for sources.
type SourceRepository struct {
	db *sqlx.DB
}

// NewSourceRepository creates a new source repository.
func NewSourceRepository(db *sqlx.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// Create inserts a new source.
func (r *SourceRepository) Create(ctx context.Context, src *domain.Source) error {
	query := `
		INSERT INTO sources (id, name, base_url, module_key, active, default_timezone,
			rate_limit_per_min, source_type, config, instagram_username,
			classification_mode, instagram_scraper_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		src.ID,
		src.Name,
		src.BaseURL,
		src.ModuleKey,
		src.Active,
		src.DefaultTimezone,
		src.RateLimitPerMin,
		src.SourceType,
		&src.Config,
		src.InstagramUsername,
		src.ClassificationMode,
		src.InstagramScraperType,
	).Scan(&src.CreatedAt, &src.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}

	return nil
}

// GetByID retrieves a source by its ID.
func (r *SourceRepository) GetByID(ctx context.Context, id string) (*domain.Source, error) {
	var src domain.Source
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1`

	err := r.db.GetContext(ctx, &src, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	return &src, nil
}

// GetByModuleKey retrieves a source by its stable module key.
func (r *SourceRepository) GetByModuleKey(ctx context.Context, moduleKey string) (*domain.Source, error) {
	var src domain.Source
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE module_key = $1`

	err := r.db.GetContext(ctx, &src, query, moduleKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("source with module key %s: %w", moduleKey, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get source by module key: %w", err)
	}

	return &src, nil
}

// List retrieves all sources, newest first.
func (r *SourceRepository) List(ctx context.Context) ([]*domain.Source, error) {
	var sources []*domain.Source
	query := `SELECT ` + sourceColumns + ` FROM sources ORDER BY created_at DESC`

	if err := r.db.SelectContext(ctx, &sources, query); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	if sources == nil {
		sources = []*domain.Source{}
	}

	return sources, nil
}

// ListByTypeAndActive retrieves sources of one type filtered by active flag.
// Used to resolve Instagram batch scopes.
func (r *SourceRepository) ListByTypeAndActive(ctx context.Context, sourceType domain.SourceType, active bool) ([]*domain.Source, error) {
	var sources []*domain.Source
	query := `
		SELECT ` + sourceColumns + `
		FROM sources
		WHERE source_type = $1 AND active = $2
		ORDER BY name ASC
	`

	if err := r.db.SelectContext(ctx, &sources, query, sourceType, active); err != nil {
		return nil, fmt.Errorf("failed to list sources by type: %w", err)
	}

	if sources == nil {
		sources = []*domain.Source{}
	}

	return sources, nil
}

// Update updates an existing source.
func (r *SourceRepository) Update(ctx context.Context, src *domain.Source) error {
	query := `
		UPDATE sources
		SET name = $1, base_url = $2, module_key = $3, active = $4,
		    default_timezone = $5, rate_limit_per_min = $6, source_type = $7,
		    config = $8, instagram_username = $9, classification_mode = $10,
		    instagram_scraper_type = $11, updated_at = NOW()
		WHERE id = $12
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		src.Name,
		src.BaseURL,
		src.ModuleKey,
		src.Active,
		src.DefaultTimezone,
		src.RateLimitPerMin,
		src.SourceType,
		&src.Config,
		src.InstagramUsername,
		src.ClassificationMode,
		src.InstagramScraperType,
		src.ID,
	)

	return execRequireRows(result, err, fmt.Errorf("source %s: %w", src.ID, ErrNotFound))
}

// TouchLastChecked records when an Instagram account was last pulled.
func (r *SourceRepository) TouchLastChecked(ctx context.Context, id string) error {
	query := `UPDATE sources SET last_checked = NOW(), updated_at = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	return execRequireRows(result, err, fmt.Errorf("source %s: %w", id, ErrNotFound))
}

// Delete removes a source. Fails on sources still referenced by runs;
// soft-disable via active=false is the supported path for those.
func (r *SourceRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM sources WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	return execRequireRows(result, err, fmt.Errorf("source %s: %w", id, ErrNotFound))
}
