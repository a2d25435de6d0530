package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logstream"
)

func TestLogHistoryReturnsEntries(t *testing.T) {
	fx := newAPIFixture(t)
	runID := uuid.NewString()
	ctx := context.Background()

	require.NoError(t, fx.stream.Append(ctx, runID, logstream.Entry{
		TimestampMS: time.Now().UnixMilli(),
		Level:       30,
		Msg:         "page fetched",
		Source:      "scraper",
	}))
	require.NoError(t, fx.stream.Append(ctx, runID, logstream.Entry{
		TimestampMS: time.Now().UnixMilli(),
		Level:       40,
		Msg:         "selector missing",
		Source:      "scraper",
	}))

	w := doRequest(t, fx, http.MethodGet, "/api/logs/history/"+runID, nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["count"])
	entries := body["entries"].([]any)
	require.Len(t, entries, 2)
	first := entries[0].(map[string]any)
	assert.Equal(t, "page fetched", first["msg"])
	assert.Equal(t, float64(30), first["level"])
	assert.Equal(t, runID, first["run_id"])
	assert.NotEmpty(t, first["id"])
}

func TestLogHistoryRejectsNegativeLimit(t *testing.T) {
	fx := newAPIFixture(t)
	runID := uuid.NewString()

	w := doRequest(t, fx, http.MethodGet, "/api/logs/history/"+runID+"?limit=-1", nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
	details := decodeBody(t, w)["details"].([]any)
	require.Len(t, details, 1)
	assert.Equal(t, "limit", details[0].(map[string]any)["field"])
}

func TestLogHistoryRejectsMalformedRunID(t *testing.T) {
	fx := newAPIFixture(t)

	w := doRequest(t, fx, http.MethodGet, "/api/logs/history/not-a-uuid", nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid run ID format", decodeBody(t, w)["error"])
}

func TestStreamLogsOpensWithConnectedFrame(t *testing.T) {
	fx := newAPIFixture(t)
	runID := uuid.NewString()

	// A pre-cancelled context ends the session right after the opening
	// frame, so the handler returns instead of tailing forever.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/logs/stream/"+runID, nil).WithContext(ctx)
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Body.String(), `"type":"connected"`)
	assert.Contains(t, w.Body.String(), runID)
}
