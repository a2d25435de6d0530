package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

const matchColumns = `id, raw_id_a, raw_id_b, score, reason, status, created_by, created_at, updated_at`

// MatchRepository stores pairwise duplicate candidates between raw events.
type MatchRepository struct {
	db *sqlx.DB
}

// NewMatchRepository creates a new match repository.
func NewMatchRepository(db *sqlx.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

// Upsert records a candidate pair and reports whether it landed as an open
// proposal. The pair is unique on (raw_id_a, raw_id_b); re-scoring
// refreshes score and reason for open matches only, so confirmed and
// rejected decisions survive engine re-runs. A rejected pair reopens when
// either raw's content hash no longer matches the snapshot in its reason.
func (r *MatchRepository) Upsert(ctx context.Context, m *domain.Match) (bool, error) {
	query := `
		INSERT INTO event_matches (id, raw_id_a, raw_id_b, score, reason, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (raw_id_a, raw_id_b)
		DO UPDATE SET
			score = EXCLUDED.score,
			reason = EXCLUDED.reason,
			updated_at = NOW()
		WHERE event_matches.status = 'open'
		RETURNING id, status, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		m.ID, m.RawIDA, m.RawIDB, m.Score, &m.Reason, m.Status, m.CreatedBy,
	).Scan(&m.ID, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to upsert match: %w", err)
	}

	return r.reopenIfContentChanged(ctx, m)
}

// reopenIfContentChanged flips a rejected pair back to open when the
// content-hash snapshot taken at rejection time no longer holds. Confirmed
// pairs stay decided.
func (r *MatchRepository) reopenIfContentChanged(ctx context.Context, m *domain.Match) (bool, error) {
	hashA, okA := m.Reason[domain.MatchReasonHashA].(string)
	hashB, okB := m.Reason[domain.MatchReasonHashB].(string)
	if !okA || !okB {
		return false, nil
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE event_matches
		SET status = $1, score = $2, reason = $3, updated_at = NOW()
		WHERE raw_id_a = $4 AND raw_id_b = $5 AND status = $6
		  AND (reason->>$7 IS DISTINCT FROM $8 OR reason->>$9 IS DISTINCT FROM $10)
	`, domain.MatchOpen, m.Score, &m.Reason,
		m.RawIDA, m.RawIDB, domain.MatchRejected,
		domain.MatchReasonHashA, hashA, domain.MatchReasonHashB, hashB)
	if err != nil {
		return false, fmt.Errorf("failed to reopen match: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to reopen match: %w", err)
	}

	return rows > 0, nil
}

// GetByID retrieves a match by its id.
func (r *MatchRepository) GetByID(ctx context.Context, id string) (*domain.Match, error) {
	query := fmt.Sprintf(`SELECT %s FROM event_matches WHERE id = $1`, matchColumns)

	var match domain.Match
	err := r.db.GetContext(ctx, &match, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("match %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}

	return &match, nil
}

// List returns matches filtered by status, or all matches when status is
// empty, highest score first.
func (r *MatchRepository) List(ctx context.Context, status domain.MatchStatus, limit, offset int) ([]domain.Match, error) {
	var (
		query string
		args  []any
	)

	if status != "" {
		query = fmt.Sprintf(`
			SELECT %s FROM event_matches
			WHERE status = $1
			ORDER BY score DESC, created_at DESC
			LIMIT $2 OFFSET $3
		`, matchColumns)
		args = []any{status, limit, offset}
	} else {
		query = fmt.Sprintf(`
			SELECT %s FROM event_matches
			ORDER BY score DESC, created_at DESC
			LIMIT $1 OFFSET $2
		`, matchColumns)
		args = []any{limit, offset}
	}

	matches := []domain.Match{}
	if err := r.db.SelectContext(ctx, &matches, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}

	return matches, nil
}

// Decide moves an open match to confirmed or rejected. Deciding a match
// that is not open reports ErrNotFound so callers surface a conflict
// rather than silently overwriting an earlier decision.
func (r *MatchRepository) Decide(ctx context.Context, id string, status domain.MatchStatus, decidedBy string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE event_matches
		SET status = $1, created_by = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, status, decidedBy, id, domain.MatchOpen)

	return execRequireRows(result, err, fmt.Errorf("open match %s: %w", id, ErrNotFound))
}
