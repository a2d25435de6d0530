package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

const wordpressSettingsColumns = `id, name, site_url, username, app_password,
	default_status, default_author_id, source_category_mappings, update_if_exists,
	include_media, active, created_at, updated_at`

// SettingsRepository stores WordPress export targets and the system
// settings singleton.
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository creates a new settings repository.
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// CreateWordPress inserts a WordPress settings row.
func (r *SettingsRepository) CreateWordPress(ctx context.Context, w *domain.WordPressSettings) error {
	query := `
		INSERT INTO wordpress_settings (id, name, site_url, username, app_password,
			default_status, default_author_id, source_category_mappings,
			update_if_exists, include_media, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		w.ID, w.Name, w.SiteURL, w.Username, w.AppPassword,
		w.DefaultStatus, w.DefaultAuthorID, &w.SourceCategoryMappings,
		w.UpdateIfExists, w.IncludeMedia, w.Active,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create wordpress settings: %w", err)
	}

	return nil
}

// GetWordPress retrieves a WordPress settings row by its id.
func (r *SettingsRepository) GetWordPress(ctx context.Context, id string) (*domain.WordPressSettings, error) {
	query := fmt.Sprintf(`SELECT %s FROM wordpress_settings WHERE id = $1`, wordpressSettingsColumns)

	var settings domain.WordPressSettings
	err := r.db.GetContext(ctx, &settings, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("wordpress settings %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get wordpress settings: %w", err)
	}

	return &settings, nil
}

// ListWordPress returns all WordPress settings rows ordered by name.
func (r *SettingsRepository) ListWordPress(ctx context.Context) ([]domain.WordPressSettings, error) {
	query := fmt.Sprintf(`SELECT %s FROM wordpress_settings ORDER BY name ASC`, wordpressSettingsColumns)

	settings := []domain.WordPressSettings{}
	if err := r.db.SelectContext(ctx, &settings, query); err != nil {
		return nil, fmt.Errorf("failed to list wordpress settings: %w", err)
	}

	return settings, nil
}

// UpdateWordPress rewrites a WordPress settings row. An empty AppPassword
// keeps the stored one, so updates do not need to resend the credential.
func (r *SettingsRepository) UpdateWordPress(ctx context.Context, w *domain.WordPressSettings) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE wordpress_settings
		SET name = $1, site_url = $2, username = $3,
			app_password = CASE WHEN $4 = '' THEN app_password ELSE $4 END,
			default_status = $5, default_author_id = $6,
			source_category_mappings = $7, update_if_exists = $8,
			include_media = $9, active = $10, updated_at = NOW()
		WHERE id = $11
	`, w.Name, w.SiteURL, w.Username, w.AppPassword,
		w.DefaultStatus, w.DefaultAuthorID,
		&w.SourceCategoryMappings, w.UpdateIfExists,
		w.IncludeMedia, w.Active, w.ID)

	return execRequireRows(result, err, fmt.Errorf("wordpress settings %s: %w", w.ID, ErrNotFound))
}

// DeleteWordPress removes a WordPress settings row.
func (r *SettingsRepository) DeleteWordPress(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM wordpress_settings WHERE id = $1`, id)

	return execRequireRows(result, err, fmt.Errorf("wordpress settings %s: %w", id, ErrNotFound))
}

// GetSystem returns the system settings singleton, creating the default
// row on first access.
func (r *SettingsRepository) GetSystem(ctx context.Context) (*domain.SystemSettings, error) {
	query := `
		INSERT INTO system_settings (id)
		VALUES (1)
		ON CONFLICT (id) DO UPDATE SET id = system_settings.id
		RETURNING id, ai_provider, ai_api_key, instagram_scraper_type,
			instagram_allow_override, feature_flags, updated_at
	`

	var settings domain.SystemSettings
	if err := r.db.GetContext(ctx, &settings, query); err != nil {
		return nil, fmt.Errorf("failed to get system settings: %w", err)
	}

	return &settings, nil
}

// UpdateSystem rewrites the system settings singleton. A nil AIAPIKey
// keeps the stored key.
func (r *SettingsRepository) UpdateSystem(ctx context.Context, s *domain.SystemSettings) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE system_settings
		SET ai_provider = $1,
			ai_api_key = COALESCE($2, ai_api_key),
			instagram_scraper_type = $3,
			instagram_allow_override = $4,
			feature_flags = $5,
			updated_at = NOW()
		WHERE id = 1
	`, s.AIProvider, s.AIAPIKey, s.InstagramScraperType, s.InstagramAllowOverride, &s.FeatureFlags)

	return execRequireRows(result, err, fmt.Errorf("system settings: %w", ErrNotFound))
}
