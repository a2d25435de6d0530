package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

func newMockMatchRepo(t *testing.T) (*database.MatchRepository, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db := sqlx.NewDb(mockDB, "postgres")
	return database.NewMatchRepository(db), mock, func() { mockDB.Close() }
}

func TestMatchRepository_Upsert(t *testing.T) {
	ctx := context.Background()

	hashedReason := domain.JSONBMap{
		domain.MatchReasonScores: map[string]any{"title": 0.9},
		domain.MatchReasonHashA:  "hash-a-v2",
		domain.MatchReasonHashB:  "hash-b-v1",
	}

	testCases := []struct {
		name         string
		reason       domain.JSONBMap
		setupMock    func(mock sqlmock.Sqlmock)
		wantProposed bool
		wantErr      bool
	}{
		{
			name:   "new pair is recorded",
			reason: hashedReason,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO event_matches").
					WillReturnRows(sqlmock.NewRows([]string{"id", "status", "created_at", "updated_at"}).
						AddRow("match-1", "open", time.Now(), time.Now()))
			},
			wantProposed: true,
		},
		{
			name:   "rejected pair reopens when content changed",
			reason: hashedReason,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO event_matches").
					WillReturnRows(sqlmock.NewRows([]string{"id", "status", "created_at", "updated_at"}))
				mock.ExpectExec("UPDATE event_matches").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			wantProposed: true,
		},
		{
			name:   "rejected pair with unchanged content stays decided",
			reason: hashedReason,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO event_matches").
					WillReturnRows(sqlmock.NewRows([]string{"id", "status", "created_at", "updated_at"}))
				mock.ExpectExec("UPDATE event_matches").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
		},
		{
			name:   "reason without hash snapshot skips the reopen probe",
			reason: domain.JSONBMap{"title": 0.9},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO event_matches").
					WillReturnRows(sqlmock.NewRows([]string{"id", "status", "created_at", "updated_at"}))
			},
		},
		{
			name:   "database error propagates",
			reason: hashedReason,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO event_matches").
					WillReturnError(context.DeadlineExceeded)
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock, closeDB := newMockMatchRepo(t)
			defer closeDB()

			tc.setupMock(mock)

			match := &domain.Match{
				ID:     "match-new",
				RawIDA: "raw-a",
				RawIDB: "raw-b",
				Score:  0.85,
				Status: domain.MatchOpen,
				Reason: tc.reason,
			}

			proposed, err := repo.Upsert(ctx, match)
			if (err != nil) != tc.wantErr {
				t.Errorf("Upsert() error = %v, wantErr %v", err, tc.wantErr)
			}
			if proposed != tc.wantProposed {
				t.Errorf("Upsert() proposed = %v, want %v", proposed, tc.wantProposed)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestMatchRepository_Decide(t *testing.T) {
	repo, mock, closeDB := newMockMatchRepo(t)
	defer closeDB()

	ctx := context.Background()

	t.Run("open match is confirmed", func(t *testing.T) {
		mock.ExpectExec("UPDATE event_matches").
			WithArgs("confirmed", "reviewer", "match-1", "open").
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := repo.Decide(ctx, "match-1", domain.MatchConfirmed, "reviewer"); err != nil {
			t.Fatalf("Decide() error = %v", err)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("decided match cannot be redecided", func(t *testing.T) {
		mock.ExpectExec("UPDATE event_matches").
			WithArgs("rejected", "reviewer", "match-1", "open").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Decide(ctx, "match-1", domain.MatchRejected, "reviewer")
		if !errors.Is(err, database.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})
}
