package database_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

func newMockRunRepo(t *testing.T) (*database.RunRepository, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db := sqlx.NewDb(mockDB, "postgres")
	return database.NewRunRepository(db), mock, func() { mockDB.Close() }
}

func runRow(id string, status domain.RunStatus, pages, events int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "source_id", "status", "started_at", "finished_at",
		"pages_crawled", "events_found", "errors", "parent_run_id", "metadata", "created_at",
	}).AddRow(id, "source-1", status, nil, nil, pages, events, []byte("[]"), nil, []byte("{}"), time.Now())
}

func TestRunRepository_Create(t *testing.T) {
	repo, mock, closeDB := newMockRunRepo(t)
	defer closeDB()

	mock.ExpectQuery("INSERT INTO runs").
		WithArgs("run-1", "source-1", "queued", nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	run := &domain.Run{ID: "run-1", SourceID: "source-1", Status: domain.RunStatusQueued}
	if err := repo.Create(context.Background(), run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if run.CreatedAt.IsZero() {
		t.Error("expected created_at to be populated")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRunRepository_MarkRunning(t *testing.T) {
	repo, mock, closeDB := newMockRunRepo(t)
	defer closeDB()

	ctx := context.Background()
	runID := "run-1"

	testCases := []struct {
		name        string
		setupMock   func()
		wantErr     bool
		errNotFound bool
	}{
		{
			name: "queued run starts",
			setupMock: func() {
				mock.ExpectExec("UPDATE runs").
					WithArgs("running", runID, "queued").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "already running run is not restarted",
			setupMock: func() {
				mock.ExpectExec("UPDATE runs").
					WithArgs("running", runID, "queued").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr:     true,
			errNotFound: true,
		},
		{
			name: "database error propagates",
			setupMock: func() {
				mock.ExpectExec("UPDATE runs").
					WithArgs("running", runID, "queued").
					WillReturnError(sql.ErrConnDone)
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock()

			err := repo.MarkRunning(ctx, runID)
			if (err != nil) != tc.wantErr {
				t.Errorf("MarkRunning() error = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.errNotFound && !errors.Is(err, database.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestRunRepository_Finish(t *testing.T) {
	repo, mock, closeDB := newMockRunRepo(t)
	defer closeDB()

	ctx := context.Background()

	t.Run("rejects non-terminal status", func(t *testing.T) {
		run := &domain.Run{ID: "run-1", Status: domain.RunStatusRunning}
		if err := repo.Finish(ctx, run); err == nil {
			t.Error("expected error for non-terminal status")
		}
	})

	t.Run("finishes an active run once", func(t *testing.T) {
		mock.ExpectExec("UPDATE runs").
			WithArgs("success", 3, 42, sqlmock.AnyArg(), sqlmock.AnyArg(), "run-1", "queued", "running").
			WillReturnResult(sqlmock.NewResult(0, 1))

		run := &domain.Run{
			ID:           "run-1",
			Status:       domain.RunStatusSuccess,
			PagesCrawled: 3,
			EventsFound:  42,
		}
		if err := repo.Finish(ctx, run); err != nil {
			t.Fatalf("Finish() error = %v", err)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("already finished run is left alone", func(t *testing.T) {
		mock.ExpectExec("UPDATE runs").
			WithArgs("error", 0, 0, sqlmock.AnyArg(), sqlmock.AnyArg(), "run-1", "queued", "running").
			WillReturnResult(sqlmock.NewResult(0, 0))

		run := &domain.Run{ID: "run-1", Status: domain.RunStatusError}
		err := repo.Finish(ctx, run)
		if !errors.Is(err, database.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})
}

func TestRunRepository_AggregateParent(t *testing.T) {
	ctx := context.Background()
	parentID := "parent-1"

	aggCols := []string{"total", "pending", "errored", "partial", "pages_crawled", "events_found"}

	testCases := []struct {
		name       string
		setupMock  func(mock sqlmock.Sqlmock)
		wantStatus domain.RunStatus
	}{
		{
			name: "pending children keep parent running",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT COUNT").
					WithArgs(parentID, "queued", "running", "error", "partial").
					WillReturnRows(sqlmock.NewRows(aggCols).AddRow(3, 1, 0, 0, 5, 10))
				mock.ExpectQuery("UPDATE runs").
					WithArgs("running", 5, 10, parentID).
					WillReturnRows(runRow(parentID, domain.RunStatusRunning, 5, 10))
			},
			wantStatus: domain.RunStatusRunning,
		},
		{
			name: "failed child makes parent partial",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT COUNT").
					WithArgs(parentID, "queued", "running", "error", "partial").
					WillReturnRows(sqlmock.NewRows(aggCols).AddRow(3, 0, 1, 0, 7, 20))
				mock.ExpectQuery("UPDATE runs").
					WithArgs("partial", 7, 20, parentID).
					WillReturnRows(runRow(parentID, domain.RunStatusPartial, 7, 20))
			},
			wantStatus: domain.RunStatusPartial,
		},
		{
			name: "all children succeeded",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT COUNT").
					WithArgs(parentID, "queued", "running", "error", "partial").
					WillReturnRows(sqlmock.NewRows(aggCols).AddRow(3, 0, 0, 0, 9, 33))
				mock.ExpectQuery("UPDATE runs").
					WithArgs("success", 9, 33, parentID).
					WillReturnRows(runRow(parentID, domain.RunStatusSuccess, 9, 33))
			},
			wantStatus: domain.RunStatusSuccess,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock, closeDB := newMockRunRepo(t)
			defer closeDB()

			tc.setupMock(mock)

			parent, err := repo.AggregateParent(ctx, parentID)
			if err != nil {
				t.Fatalf("AggregateParent() error = %v", err)
			}
			if parent.Status != tc.wantStatus {
				t.Errorf("expected status %s, got %s", tc.wantStatus, parent.Status)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}
