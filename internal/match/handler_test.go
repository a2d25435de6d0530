package match_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/match"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/queue"
)

func matchJob(t *testing.T, payload domain.MatchJobPayload) *queue.Job {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: "job-1", Name: domain.JobMatch, Payload: raw}
}

func TestHandlerTranslatesDatesToInclusiveWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sdb := sqlx.NewDb(db, "sqlmock")
	engine := match.NewEngine(
		database.NewRawEventRepository(sdb),
		database.NewMatchRepository(sdb),
		logger.NewNop())
	handler := match.NewHandler(engine, logger.NewNop())

	// The candidate fetch overscans one window (24h) on each side, and the
	// end date runs through its last second.
	wantStart := time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 6, 8, 23, 59, 59, 0, time.UTC)
	mock.ExpectQuery("FROM events_raw WHERE start_datetime").
		WithArgs(wantStart, wantEnd).
		WillReturnRows(rawRows())

	job := matchJob(t, domain.MatchJobPayload{
		StartDate: strPtr("2026-06-01"),
		EndDate:   strPtr("2026-06-07"),
	})
	require.NoError(t, handler.Handle(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlerRejectsMalformedDates(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sdb := sqlx.NewDb(db, "sqlmock")
	engine := match.NewEngine(
		database.NewRawEventRepository(sdb),
		database.NewMatchRepository(sdb),
		logger.NewNop())
	handler := match.NewHandler(engine, logger.NewNop())

	job := matchJob(t, domain.MatchJobPayload{StartDate: strPtr("June 1st")})
	err = handler.Handle(context.Background(), job)
	assert.ErrorContains(t, err, "invalid start_date")
}
