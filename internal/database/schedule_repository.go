package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

const scheduleColumns = `id, name, schedule_type, source_id, wordpress_settings_id,
	cron, timezone, active, repeat_key, config, created_at, updated_at`

// ScheduleRepository stores cron schedules. The repeat_key column links a
// row to its repeatable queue entry while the schedule is active.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Create inserts a schedule.
func (r *ScheduleRepository) Create(ctx context.Context, s *domain.Schedule) error {
	query := `
		INSERT INTO schedules (id, name, schedule_type, source_id, wordpress_settings_id,
			cron, timezone, active, repeat_key, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		s.ID, s.Name, s.ScheduleType, s.SourceID, s.WordPressSettingsID,
		s.Cron, s.Timezone, s.Active, s.RepeatKey, &s.Config,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	return nil
}

// GetByID retrieves a schedule by its id.
func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*domain.Schedule, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedules WHERE id = $1`, scheduleColumns)

	var schedule domain.Schedule
	err := r.db.GetContext(ctx, &schedule, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	return &schedule, nil
}

// List returns all schedules ordered by name.
func (r *ScheduleRepository) List(ctx context.Context) ([]domain.Schedule, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedules ORDER BY name ASC`, scheduleColumns)

	schedules := []domain.Schedule{}
	if err := r.db.SelectContext(ctx, &schedules, query); err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	return schedules, nil
}

// ListActive returns schedules that should have a live repeatable entry.
func (r *ScheduleRepository) ListActive(ctx context.Context) ([]domain.Schedule, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedules WHERE active = TRUE ORDER BY name ASC`, scheduleColumns)

	schedules := []domain.Schedule{}
	if err := r.db.SelectContext(ctx, &schedules, query); err != nil {
		return nil, fmt.Errorf("failed to list active schedules: %w", err)
	}

	return schedules, nil
}

// Update rewrites the mutable fields of a schedule.
func (r *ScheduleRepository) Update(ctx context.Context, s *domain.Schedule) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE schedules
		SET name = $1, schedule_type = $2, source_id = $3, wordpress_settings_id = $4,
			cron = $5, timezone = $6, active = $7, config = $8, updated_at = NOW()
		WHERE id = $9
	`, s.Name, s.ScheduleType, s.SourceID, s.WordPressSettingsID,
		s.Cron, s.Timezone, s.Active, &s.Config, s.ID)

	return execRequireRows(result, err, fmt.Errorf("schedule %s: %w", s.ID, ErrNotFound))
}

// SetRepeatKey records (or clears, with nil) the queue repeatable handle.
func (r *ScheduleRepository) SetRepeatKey(ctx context.Context, id string, repeatKey *string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET repeat_key = $1, updated_at = NOW() WHERE id = $2
	`, repeatKey, id)

	return execRequireRows(result, err, fmt.Errorf("schedule %s: %w", id, ErrNotFound))
}

// Delete removes a schedule. Export rows that reference it are kept and
// detached in the same transaction.
func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schedule delete transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err = tx.ExecContext(ctx, `
		UPDATE exports SET schedule_id = NULL WHERE schedule_id = $1
	`, id); err != nil {
		return fmt.Errorf("failed to detach exports from schedule: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if reqErr := execRequireRows(result, err, fmt.Errorf("schedule %s: %w", id, ErrNotFound)); reqErr != nil {
		return reqErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("failed to commit schedule delete: %w", commitErr)
	}

	return nil
}
