package api_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

var scheduleCols = []string{
	"id", "name", "schedule_type", "source_id", "wordpress_settings_id",
	"cron", "timezone", "active", "repeat_key", "config",
	"created_at", "updated_at",
}

func scheduleRow(id, name string, active bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(scheduleCols).
		AddRow(id, name, "scrape", uuid.NewString(), nil, "0 3 * * *", "America/Vancouver",
			active, nil, []byte(`{}`), now, now)
}

func TestListSchedules(t *testing.T) {
	fx := newAPIFixture(t)

	fx.mock.ExpectQuery(`FROM schedules ORDER BY name ASC`).
		WillReturnRows(scheduleRow(uuid.NewString(), "Nightly scrape", true))

	w := doRequest(t, fx, http.MethodGet, "/api/schedules", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["count"])
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestCreateActiveScheduleRegistersRepeatable(t *testing.T) {
	fx := newAPIFixture(t)
	srcID := uuid.NewString()

	fx.mock.ExpectQuery(`INSERT INTO schedules`).
		WithArgs(sqlmock.AnyArg(), "Nightly scrape", "scrape", srcID, nil,
			"0 3 * * *", "America/Vancouver", true, nil, []byte(`{}`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).
			AddRow(time.Now(), time.Now()))
	fx.mock.ExpectExec(`UPDATE schedules SET repeat_key`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload := `{"name": "Nightly scrape", "schedule_type": "scrape", "source_id": "` + srcID + `",
		"cron": "0 3 * * *", "timezone": "America/Vancouver"}`
	w := doRequest(t, fx, http.MethodPost, "/api/schedules", strings.NewReader(payload))

	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, true, body["active"])
	assert.NotEmpty(t, body["repeat_key"])
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestCreateScheduleRejectsInvalidCron(t *testing.T) {
	fx := newAPIFixture(t)

	payload := `{"name": "Broken", "schedule_type": "scrape", "source_id": "` + uuid.NewString() + `",
		"cron": "not-a-cron"}`
	w := doRequest(t, fx, http.MethodPost, "/api/schedules", strings.NewReader(payload))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "invalid cron expression")
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestCreateScheduleRejectsUnknownType(t *testing.T) {
	fx := newAPIFixture(t)

	payload := `{"name": "Hourly", "schedule_type": "hourly", "cron": "0 * * * *"}`
	w := doRequest(t, fx, http.MethodPost, "/api/schedules", strings.NewReader(payload))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "unknown schedule type")
}

func TestCreateScrapeScheduleRequiresSource(t *testing.T) {
	fx := newAPIFixture(t)

	payload := `{"name": "Nightly", "schedule_type": "scrape", "cron": "0 3 * * *"}`
	w := doRequest(t, fx, http.MethodPost, "/api/schedules", strings.NewReader(payload))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "source_id")
}

func TestUpdateScheduleDeactivates(t *testing.T) {
	fx := newAPIFixture(t)
	id := uuid.NewString()
	srcID := uuid.NewString()

	fx.mock.ExpectQuery(`FROM schedules WHERE id`).
		WithArgs(id).
		WillReturnRows(scheduleRow(id, "Nightly scrape", true))
	fx.mock.ExpectExec(`UPDATE schedules`).
		WithArgs("Nightly scrape", "scrape", srcID, nil,
			"30 2 * * *", "America/Vancouver", false, []byte(`{}`), id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	fx.mock.ExpectQuery(`FROM schedules WHERE id`).
		WithArgs(id).
		WillReturnRows(scheduleRow(id, "Nightly scrape", false))

	payload := `{"name": "Nightly scrape", "schedule_type": "scrape", "source_id": "` + srcID + `",
		"cron": "30 2 * * *", "timezone": "America/Vancouver", "active": false}`
	w := doRequest(t, fx, http.MethodPut, "/api/schedules/"+id, strings.NewReader(payload))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["active"])
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestDeleteScheduleDetachesExports(t *testing.T) {
	fx := newAPIFixture(t)
	id := uuid.NewString()

	fx.mock.ExpectQuery(`FROM schedules WHERE id`).
		WithArgs(id).
		WillReturnRows(scheduleRow(id, "Nightly scrape", false))
	fx.mock.ExpectBegin()
	fx.mock.ExpectExec(`UPDATE exports SET schedule_id = NULL`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 2))
	fx.mock.ExpectExec(`DELETE FROM schedules`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	fx.mock.ExpectCommit()

	w := doRequest(t, fx, http.MethodDelete, "/api/schedules/"+id, nil)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestTriggerScheduleNow(t *testing.T) {
	fx := newAPIFixture(t)
	id := uuid.NewString()

	fx.mock.ExpectQuery(`FROM schedules WHERE id`).
		WithArgs(id).
		WillReturnRows(scheduleRow(id, "Nightly scrape", true))

	w := doRequest(t, fx, http.MethodPost, "/api/schedules/"+id+"/trigger", nil)

	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decodeBody(t, w)["job_id"].(string)
	require.NotEmpty(t, jobID)

	job, err := fx.queues.Schedule.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobScheduleTrigger, job.Name)
	assert.Contains(t, string(job.Payload), id)
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestTriggerAllActiveSchedules(t *testing.T) {
	fx := newAPIFixture(t)
	id := uuid.NewString()

	fx.mock.ExpectQuery(`FROM schedules WHERE active = TRUE`).
		WillReturnRows(scheduleRow(id, "Nightly scrape", true))
	fx.mock.ExpectQuery(`FROM schedules WHERE id`).
		WithArgs(id).
		WillReturnRows(scheduleRow(id, "Nightly scrape", true))

	w := doRequest(t, fx, http.MethodPost, "/api/schedules/trigger-all-active", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["triggered"])
	require.NoError(t, fx.mock.ExpectationsWereMet())
}
