package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

const exportColumns = `id, format, status, item_count, file_path, error_message,
	params, schedule_id, created_at, completed_at`

// ExportRepository stores export requests and their outcomes.
type ExportRepository struct {
	db *sqlx.DB
}

// NewExportRepository creates a new export repository.
func NewExportRepository(db *sqlx.DB) *ExportRepository {
	return &ExportRepository{db: db}
}

// Create inserts an export in the processing state.
func (r *ExportRepository) Create(ctx context.Context, e *domain.Export) error {
	e.Status = domain.ExportProcessing

	query := `
		INSERT INTO exports (id, format, status, item_count, params, schedule_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		e.ID, e.Format, e.Status, e.ItemCount, &e.Params, e.ScheduleID,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create export: %w", err)
	}

	return nil
}

// GetByID retrieves an export by its id.
func (r *ExportRepository) GetByID(ctx context.Context, id string) (*domain.Export, error) {
	query := fmt.Sprintf(`SELECT %s FROM exports WHERE id = $1`, exportColumns)

	var export domain.Export
	err := r.db.GetContext(ctx, &export, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("export %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get export: %w", err)
	}

	return &export, nil
}

// List returns exports newest first.
func (r *ExportRepository) List(ctx context.Context, limit, offset int) ([]domain.Export, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM exports
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, exportColumns)

	exports := []domain.Export{}
	if err := r.db.SelectContext(ctx, &exports, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}

	return exports, nil
}

// MarkSuccess completes an export with its item count and, for file
// formats, the path of the written artifact. Only processing exports are
// touched, so a concurrent cancel keeps its outcome.
func (r *ExportRepository) MarkSuccess(ctx context.Context, id string, itemCount int, filePath *string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE exports
		SET status = $1, item_count = $2, file_path = $3, completed_at = NOW()
		WHERE id = $4 AND status = $5
	`, domain.ExportSuccess, itemCount, filePath, id, domain.ExportProcessing)

	return execRequireRows(result, err, fmt.Errorf("processing export %s: %w", id, ErrNotFound))
}

// MarkError completes an export with a failure message. Only processing
// exports are touched, so a concurrent cancel keeps its outcome.
func (r *ExportRepository) MarkError(ctx context.Context, id, message string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE exports
		SET status = $1, error_message = $2, completed_at = NOW()
		WHERE id = $3 AND status = $4
	`, domain.ExportError, message, id, domain.ExportProcessing)

	return execRequireRows(result, err, fmt.Errorf("processing export %s: %w", id, ErrNotFound))
}

// Cancel stops an export that is still processing. Finished exports are
// left untouched and reported as ErrNotFound.
func (r *ExportRepository) Cancel(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE exports
		SET status = $1, error_message = $2, completed_at = NOW()
		WHERE id = $3 AND status = $4
	`, domain.ExportError, "cancelled by user", id, domain.ExportProcessing)

	return execRequireRows(result, err, fmt.Errorf("processing export %s: %w", id, ErrNotFound))
}

// UpdateParams rewrites the params snapshot, used to attach per-event
// upload results after a WordPress push.
func (r *ExportRepository) UpdateParams(ctx context.Context, id string, params domain.JSONBMap) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE exports SET params = $1 WHERE id = $2
	`, &params, id)

	return execRequireRows(result, err, fmt.Errorf("export %s: %w", id, ErrNotFound))
}
