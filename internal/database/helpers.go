package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

// execRequireRows validates that an ExecContext result affected at least one row.
// Returns err if non-nil, or notFoundErr if rowsAffected is 0.
func execRequireRows(result sql.Result, err, notFoundErr error) error {
	if err != nil {
		return err
	}
	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return affectedErr
	}
	if n == 0 {
		return notFoundErr
	}
	return nil
}

// buildEventFilter renders an EventFilter into WHERE clauses and positional
// args, starting at placeholder $1. An empty filter yields no clauses, which
// selects the full event set.
func buildEventFilter(f domain.EventFilter) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.StartDate != nil {
		add("start_datetime >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("start_datetime <= $%d", *f.EndDate)
	}
	if f.City != nil {
		add("LOWER(city) = LOWER($%d)", *f.City)
	}
	if f.Category != nil {
		add("LOWER(category) = LOWER($%d)", *f.Category)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if len(f.SourceIDs) > 0 {
		add("source_id = ANY($%d)", pq.Array(f.SourceIDs))
	}
	if len(f.IDs) > 0 {
		add("id = ANY($%d)", pq.Array(f.IDs))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
