package api_test

import (
	"context"
	"database/sql"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

var runCols = []string{
	"id", "source_id", "status", "started_at", "finished_at",
	"pages_crawled", "events_found", "errors", "parent_run_id",
	"metadata", "created_at",
}

func runRow(id, sourceID, status, metadata string) *sqlmock.Rows {
	return sqlmock.NewRows(runCols).
		AddRow(id, sourceID, status, nil, nil, 0, 0, []byte(`[]`), nil, []byte(metadata), time.Now())
}

func TestTriggerScrapeEnqueuesJob(t *testing.T) {
	fx := newAPIFixture(t)
	sourceID := uuid.NewString()

	fx.mock.ExpectQuery(`FROM sources WHERE module_key`).
		WithArgs("tourismpg_com").
		WillReturnRows(sourceRow(sourceID, "Tourism PG", "tourismpg_com"))
	fx.mock.ExpectQuery(`INSERT INTO runs`).
		WithArgs(sqlmock.AnyArg(), sourceID, "queued", nil, []byte(`{}`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	fx.mock.ExpectExec(`UPDATE runs SET metadata`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := doRequest(t, fx, http.MethodPost, "/api/runs/scrape/tourismpg_com", nil)

	require.Equal(t, http.StatusAccepted, w.Code)
	body := decodeBody(t, w)
	jobID := body["job_id"].(string)
	require.NotEmpty(t, jobID)
	run := body["run"].(map[string]any)
	assert.Equal(t, sourceID, run["source_id"])
	assert.Equal(t, "queued", run["status"])

	job, err := fx.queues.Scrape.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobScrape, job.Name)
	assert.Contains(t, string(job.Payload), "tourismpg_com")
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestTriggerScrapeUnknownModuleKey(t *testing.T) {
	fx := newAPIFixture(t)

	fx.mock.ExpectQuery(`FROM sources WHERE module_key`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	w := doRequest(t, fx, http.MethodPost, "/api/runs/scrape/nope", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "source not found", decodeBody(t, w)["error"])
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestListRunsFiltersBySource(t *testing.T) {
	fx := newAPIFixture(t)
	sourceID := uuid.NewString()

	fx.mock.ExpectQuery(`FROM runs WHERE source_id`).
		WithArgs(sourceID, 50, 0).
		WillReturnRows(runRow(uuid.NewString(), sourceID, "success", `{}`))

	w := doRequest(t, fx, http.MethodGet, "/api/runs?source_id="+sourceID, nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["count"])
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestListRunsClampsLimit(t *testing.T) {
	fx := newAPIFixture(t)

	fx.mock.ExpectQuery(`FROM runs ORDER BY created_at DESC`).
		WithArgs(500, 0).
		WillReturnRows(sqlmock.NewRows(runCols))

	w := doRequest(t, fx, http.MethodGet, "/api/runs?limit=9999", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decodeBody(t, w)["count"])
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	fx := newAPIFixture(t)
	id := uuid.NewString()

	fx.mock.ExpectQuery(`FROM runs WHERE id`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	w := doRequest(t, fx, http.MethodGet, "/api/runs/"+id, nil)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "run not found", decodeBody(t, w)["error"])
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestCancelFinishedRunConflict(t *testing.T) {
	fx := newAPIFixture(t)
	id := uuid.NewString()

	fx.mock.ExpectQuery(`FROM runs WHERE id`).
		WithArgs(id).
		WillReturnRows(runRow(id, uuid.NewString(), "success", `{}`))

	w := doRequest(t, fx, http.MethodPost, "/api/runs/"+id+"/cancel", nil)

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "run already finished", decodeBody(t, w)["error"])
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestCancelRunWithoutJobConflict(t *testing.T) {
	fx := newAPIFixture(t)
	id := uuid.NewString()

	fx.mock.ExpectQuery(`FROM runs WHERE id`).
		WithArgs(id).
		WillReturnRows(runRow(id, uuid.NewString(), "running", `{}`))
	fx.mock.ExpectQuery(`FROM runs WHERE parent_run_id`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(runCols))

	w := doRequest(t, fx, http.MethodPost, "/api/runs/"+id+"/cancel", nil)

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "run has no queue job", decodeBody(t, w)["error"])
	require.NoError(t, fx.mock.ExpectationsWereMet())
}
