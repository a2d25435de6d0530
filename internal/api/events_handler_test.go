package api_test

import (
	"database/sql"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListEventsFiltersByCity(t *testing.T) {
	fx := newAPIFixture(t)

	fx.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM events_raw WHERE LOWER\(city\) = LOWER\(\$1\)`).
		WithArgs("Prince George").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	fx.mock.ExpectQuery(`FROM events_raw WHERE LOWER\(city\) = LOWER\(\$1\)`).
		WithArgs("Prince George", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := doRequest(t, fx, http.MethodGet, "/api/events?city=Prince%20George", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(3), body["total"])
	assert.Equal(t, float64(0), body["count"])
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestListEventsRejectsUnparseableDate(t *testing.T) {
	fx := newAPIFixture(t)

	w := doRequest(t, fx, http.MethodGet, "/api/events?startDate=June-1", nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
	details := decodeBody(t, w)["details"].([]any)
	require.Len(t, details, 1)
	assert.Equal(t, "startDate", details[0].(map[string]any)["field"])
}

func TestGetEventNotFound(t *testing.T) {
	fx := newAPIFixture(t)
	id := uuid.NewString()

	fx.mock.ExpectQuery(`FROM events_raw WHERE id`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	w := doRequest(t, fx, http.MethodGet, "/api/events/"+id, nil)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "event not found", decodeBody(t, w)["error"])
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestGetSeriesNotFound(t *testing.T) {
	fx := newAPIFixture(t)
	id := uuid.NewString()

	fx.mock.ExpectQuery(`FROM event_series WHERE id`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	w := doRequest(t, fx, http.MethodGet, "/api/series/"+id, nil)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "series not found", decodeBody(t, w)["error"])
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestListOccurrencesForSeries(t *testing.T) {
	fx := newAPIFixture(t)
	id := uuid.NewString()

	fx.mock.ExpectQuery(`FROM event_occurrences WHERE series_id`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := doRequest(t, fx, http.MethodGet, "/api/series/"+id+"/occurrences", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decodeBody(t, w)["count"])
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestListStaleOccurrencesRequiresBefore(t *testing.T) {
	fx := newAPIFixture(t)

	w := doRequest(t, fx, http.MethodGet, "/api/occurrences/stale", nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
	details := decodeBody(t, w)["details"].([]any)
	require.Len(t, details, 1)
	assert.Equal(t, "before", details[0].(map[string]any)["field"])
}

func TestListStaleOccurrencesDefaultsLimit(t *testing.T) {
	fx := newAPIFixture(t)

	fx.mock.ExpectQuery(`FROM event_occurrences WHERE last_seen_at`).
		WithArgs(sqlmock.AnyArg(), 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := doRequest(t, fx, http.MethodGet, "/api/occurrences/stale?before=2026-08-01", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decodeBody(t, w)["count"])
	require.NoError(t, fx.mock.ExpectationsWereMet())
}
