package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/sse"
)

// logHistory returns a page of the run's stored log entries, oldest
// first. start and end are stream ids; an absent limit returns the whole
// retained stream.
// GET /api/logs/history/:run_id?limit=&start=&end=
func (r *Router) logHistory(c *gin.Context) {
	ctx := c.Request.Context()

	runID, ok := parseID(c, "run_id", "run")
	if !ok {
		return
	}

	var limit int64
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			respondValidation(c, []validationDetail{{Field: "limit", Message: "must be a non-negative integer"}})
			return
		}
		limit = n
	}

	entries, err := r.deps.Stream.HistoryRange(ctx, runID, c.Query("start"), c.Query("end"), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read log history"})
		return
	}

	payloads := make([]sse.LogPayload, 0, len(entries))
	for i := 0; i < len(entries); i++ {
		payloads = append(payloads, sse.LogPayloadFrom(runID, entries[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": payloads,
		"count":   len(payloads),
	})
}

// streamLogs tails the run's log over SSE: replay history, then follow
// live entries until the client disconnects.
// GET /api/logs/stream/:run_id
func (r *Router) streamLogs(c *gin.Context) {
	runID, ok := parseID(c, "run_id", "run")
	if !ok {
		return
	}

	if r.deps.Metrics != nil {
		r.deps.Metrics.SSESessionStarted()
		defer r.deps.Metrics.SSESessionEnded()
	}

	if err := r.deps.Streamer.Serve(c.Request.Context(), c.Writer, runID); err != nil {
		r.deps.Log.Debug("log stream session ended",
			logger.String("run_id", runID),
			logger.Error(err))
	}
}
