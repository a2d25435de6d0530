package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestIngestRepository_UpsertSeries(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name          string
		sourceEventID *string
		setupMock     func(mock sqlmock.Sqlmock)
		wantAction    database.UpsertAction
	}{
		{
			name:          "new series is inserted",
			sourceEventID: strPtr("evt-100"),
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO event_series").
					WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).
						AddRow("series-1", true))
			},
			wantAction: database.ActionInserted,
		},
		{
			name:          "changed content updates in place",
			sourceEventID: strPtr("evt-100"),
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO event_series").
					WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).
						AddRow("series-1", false))
			},
			wantAction: database.ActionUpdated,
		},
		{
			name:          "identical content only records the run",
			sourceEventID: strPtr("evt-100"),
			setupMock: func(mock sqlmock.Sqlmock) {
				// The conditional update matches no row, then the touch
				// statement recovers the existing id.
				mock.ExpectQuery("INSERT INTO event_series").
					WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}))
				mock.ExpectQuery("UPDATE event_series").
					WithArgs("run-1", "source-1", "evt-100").
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("series-1"))
			},
			wantAction: database.ActionUnchanged,
		},
		{
			name:          "series without stable id always inserts",
			sourceEventID: nil,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO event_series").
					WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).
						AddRow(time.Now(), time.Now()))
			},
			wantAction: database.ActionInserted,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mockDB, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create sqlmock: %v", err)
			}
			defer mockDB.Close()

			db := sqlx.NewDb(mockDB, "postgres")
			repo := database.NewIngestRepository(db)

			mock.ExpectBegin()
			tc.setupMock(mock)
			mock.ExpectCommit()

			series := &domain.EventSeries{
				ID:                 "series-new",
				SourceID:           "source-1",
				SourceEventID:      tc.sourceEventID,
				Title:              "Farmers Market",
				ContentHash:        "0123456789abcdef0123456789abcdef",
				LastUpdatedByRunID: strPtr("run-1"),
			}

			txErr := repo.WithTx(ctx, func(tx *sqlx.Tx) error {
				action, upsertErr := repo.UpsertSeries(ctx, tx, series)
				if upsertErr != nil {
					return upsertErr
				}
				if action != tc.wantAction {
					t.Errorf("expected action %s, got %s", tc.wantAction, action)
				}
				return nil
			})
			if txErr != nil {
				t.Fatalf("WithTx() error = %v", txErr)
			}

			if tc.sourceEventID != nil && series.ID != "series-1" && tc.wantAction != database.ActionInserted {
				t.Errorf("expected existing id to be recovered, got %s", series.ID)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestIngestRepository_UpsertOccurrence(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name       string
		setupMock  func(mock sqlmock.Sqlmock)
		wantAction database.UpsertAction
	}{
		{
			name: "new occurrence is inserted",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO event_occurrences").
					WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).
						AddRow("occ-1", true))
			},
			wantAction: database.ActionInserted,
		},
		{
			name: "re-seen occurrence refreshes last_seen_at",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO event_occurrences").
					WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).
						AddRow("occ-1", false))
			},
			wantAction: database.ActionUnchanged,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mockDB, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create sqlmock: %v", err)
			}
			defer mockDB.Close()

			db := sqlx.NewDb(mockDB, "postgres")
			repo := database.NewIngestRepository(db)

			mock.ExpectBegin()
			tc.setupMock(mock)
			mock.ExpectCommit()

			occ := &domain.EventOccurrence{
				ID:             "occ-new",
				SeriesID:       "series-1",
				OccurrenceHash: "ab12cd34ef56ab78",
				StartDatetime:  time.Date(2026, 9, 12, 10, 0, 0, 0, time.UTC),
				Timezone:       "America/Vancouver",
				ScrapedAt:      time.Now(),
			}

			txErr := repo.WithTx(ctx, func(tx *sqlx.Tx) error {
				action, upsertErr := repo.UpsertOccurrence(ctx, tx, occ)
				if upsertErr != nil {
					return upsertErr
				}
				if action != tc.wantAction {
					t.Errorf("expected action %s, got %s", tc.wantAction, action)
				}
				return nil
			})
			if txErr != nil {
				t.Fatalf("WithTx() error = %v", txErr)
			}

			if occ.ID != "occ-1" {
				t.Errorf("expected canonical row id, got %s", occ.ID)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestIngestRepository_UpsertRawEvent_UnchangedTouchesLastSeen(t *testing.T) {
	ctx := context.Background()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	db := sqlx.NewDb(mockDB, "postgres")
	repo := database.NewIngestRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO events_raw").
		WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}))
	mock.ExpectQuery("UPDATE events_raw").
		WithArgs("run-2", "source-1", "evt-100").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("raw-1"))
	mock.ExpectCommit()

	event := &domain.RawEvent{
		ID:                 "raw-new",
		SourceID:           "source-1",
		RunID:              strPtr("run-2"),
		SourceEventID:      strPtr("evt-100"),
		Title:              "Farmers Market",
		ContentHash:        "deadbeef",
		ScrapedAt:          time.Now(),
		LastUpdatedByRunID: strPtr("run-2"),
	}

	txErr := repo.WithTx(ctx, func(tx *sqlx.Tx) error {
		action, upsertErr := repo.UpsertRawEvent(ctx, tx, event)
		if upsertErr != nil {
			return upsertErr
		}
		if action != database.ActionUnchanged {
			t.Errorf("expected action unchanged, got %s", action)
		}
		return nil
	})
	if txErr != nil {
		t.Fatalf("WithTx() error = %v", txErr)
	}

	if event.ID != "raw-1" {
		t.Errorf("expected existing row id, got %s", event.ID)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestIngestRepository_WithTxRollsBackOnError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	db := sqlx.NewDb(mockDB, "postgres")
	repo := database.NewIngestRepository(db)

	mock.ExpectBegin()
	mock.ExpectRollback()

	wantErr := context.Canceled
	txErr := repo.WithTx(context.Background(), func(*sqlx.Tx) error {
		return wantErr
	})
	if txErr != wantErr {
		t.Errorf("expected fn error to propagate, got %v", txErr)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}
