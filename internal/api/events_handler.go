package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

// staleDefaultLimit bounds the stale-occurrence report when no limit is
// given.
const staleDefaultLimit = 100

// eventFilterFromQuery assembles the shared event filter from query
// parameters. The parameter names follow the filter's JSON shape so the
// list endpoint and export payloads stay interchangeable.
func eventFilterFromQuery(c *gin.Context) (domain.EventFilter, []validationDetail) {
	var (
		filter  domain.EventFilter
		details []validationDetail
	)

	if raw := c.Query("startDate"); raw != "" {
		t, err := parseTimeParam(raw)
		if err != nil {
			details = append(details, validationDetail{Field: "startDate", Message: "must be RFC 3339 or YYYY-MM-DD"})
		} else {
			filter.StartDate = &t
		}
	}
	if raw := c.Query("endDate"); raw != "" {
		t, err := parseTimeParam(raw)
		if err != nil {
			details = append(details, validationDetail{Field: "endDate", Message: "must be RFC 3339 or YYYY-MM-DD"})
		} else {
			filter.EndDate = &t
		}
	}

	if v := c.Query("city"); v != "" {
		filter.City = &v
	}
	if v := c.Query("category"); v != "" {
		filter.Category = &v
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}

	if raw := c.Query("sourceIds"); raw != "" {
		filter.SourceIDs = strings.Split(raw, ",")
	}
	if raw := c.Query("ids"); raw != "" {
		filter.IDs = strings.Split(raw, ",")
	}

	return filter, details
}

// listEvents returns a filtered page of raw events with the total match
// count for pagination
// GET /api/events?startDate=&endDate=&city=&category=&status=&sourceIds=&ids=&limit=&offset=
func (r *Router) listEvents(c *gin.Context) {
	ctx := c.Request.Context()

	filter, details := eventFilterFromQuery(c)
	if len(details) > 0 {
		respondValidation(c, details)
		return
	}
	limit, offset := parseLimitOffset(c)

	events, total, err := r.deps.RawEvents.List(ctx, filter, limit, offset)
	if err != nil {
		handleRepositoryError(c, err, "event", "list")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  total,
		"count":  len(events),
	})
}

// getEvent retrieves a raw event by ID
// GET /api/events/:id
func (r *Router) getEvent(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseID(c, "id", "event")
	if !ok {
		return
	}

	event, err := r.deps.RawEvents.GetByID(ctx, id)
	if err != nil {
		handleRepositoryError(c, err, "event", "get")
		return
	}

	c.JSON(http.StatusOK, event)
}

// listSeries returns event series, optionally filtered to one source
// GET /api/series?source_id=&limit=&offset=
func (r *Router) listSeries(c *gin.Context) {
	ctx := c.Request.Context()
	limit, offset := parseLimitOffset(c)

	series, err := r.deps.Series.List(ctx, c.Query("source_id"), limit, offset)
	if err != nil {
		handleRepositoryError(c, err, "series", "list")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"series": series,
		"count":  len(series),
	})
}

// getSeries retrieves one series by ID
// GET /api/series/:id
func (r *Router) getSeries(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseID(c, "id", "series")
	if !ok {
		return
	}

	series, err := r.deps.Series.GetByID(ctx, id)
	if err != nil {
		handleRepositoryError(c, err, "series", "get")
		return
	}

	c.JSON(http.StatusOK, series)
}

// listOccurrences returns a series' occurrences in start order
// GET /api/series/:id/occurrences
func (r *Router) listOccurrences(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseID(c, "id", "series")
	if !ok {
		return
	}

	occurrences, err := r.deps.Series.ListOccurrences(ctx, id)
	if err != nil {
		handleRepositoryError(c, err, "series", "read occurrences for")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"occurrences": occurrences,
		"count":       len(occurrences),
	})
}

// listStaleOccurrences reports occurrences no scrape has touched since
// the given cutoff, the feed for pruning vanished events
// GET /api/occurrences/stale?before=&limit=
func (r *Router) listStaleOccurrences(c *gin.Context) {
	ctx := c.Request.Context()

	raw := c.Query("before")
	if raw == "" {
		respondValidation(c, []validationDetail{{Field: "before", Message: "required"}})
		return
	}
	before, err := parseTimeParam(raw)
	if err != nil {
		respondValidation(c, []validationDetail{{Field: "before", Message: "must be RFC 3339 or YYYY-MM-DD"}})
		return
	}

	limit, _ := parseLimitOffset(c)
	if c.Query("limit") == "" {
		limit = staleDefaultLimit
	}

	occurrences, listErr := r.deps.Series.ListStaleOccurrences(ctx, before, limit)
	if listErr != nil {
		handleRepositoryError(c, listErr, "occurrence", "list")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"occurrences": occurrences,
		"count":       len(occurrences),
	})
}
