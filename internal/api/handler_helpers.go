package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
)

// Pagination bounds shared by the list endpoints.
const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// validationDetail is one field-level problem in a rejected payload.
type validationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// respondValidation rejects the request with the structured details list.
// Nothing past this point touches the DB.
func respondValidation(c *gin.Context, details []validationDetail) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation failed",
		"details": details,
	})
}

// respondBindError rejects a payload that failed schema binding.
func respondBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request payload",
		"details": err.Error(),
	})
}

// parseID validates a UUID path parameter and returns it unchanged. An
// invalid id gets a 400 before any repository call.
func parseID(c *gin.Context, paramName, entityType string) (string, bool) {
	idParam := c.Param(paramName)
	if _, err := uuid.Parse(idParam); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + entityType + " ID format",
		})
		return "", false
	}
	return idParam, true
}

// handleRepositoryError maps common repository errors onto status codes.
// Unexpected errors are attached to the context so the request logger
// records them alongside the 500.
func handleRepositoryError(c *gin.Context, err error, entityType, operation string) {
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": entityType + " not found",
		})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "Failed to " + operation + " " + entityType,
	})
}

// parseLimitOffset reads limit/offset query parameters with clamped
// defaults.
func parseLimitOffset(c *gin.Context) (limit, offset int) {
	limit = defaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	if raw := c.Query("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// parseTimeParam accepts RFC 3339 timestamps or bare dates.
func parseTimeParam(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
