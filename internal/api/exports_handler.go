package api

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/export"
)

// listExports returns export rows, newest first
// GET /api/exports?limit=&offset=
func (r *Router) listExports(c *gin.Context) {
	ctx := c.Request.Context()
	limit, offset := parseLimitOffset(c)

	exports, err := r.deps.Exports.List(ctx, limit, offset)
	if err != nil {
		handleRepositoryError(c, err, "export", "list")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exports": exports,
		"count":   len(exports),
	})
}

// getExport retrieves an export by ID
// GET /api/exports/:id
func (r *Router) getExport(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseID(c, "id", "export")
	if !ok {
		return
	}

	exportRow, err := r.deps.Exports.GetByID(ctx, id)
	if err != nil {
		handleRepositoryError(c, err, "export", "get")
		return
	}

	c.JSON(http.StatusOK, exportRow)
}

// createExport accepts an export request and processes it asynchronously.
// The response carries the processing row; its status reaches success or
// error eventually.
// POST /api/exports
func (r *Router) createExport(c *gin.Context) {
	ctx := c.Request.Context()

	var req export.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	exportRow, err := r.deps.ExportEngine.Create(ctx, req)
	if err != nil {
		if errors.Is(err, export.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create export"})
		return
	}

	c.JSON(http.StatusAccepted, exportRow)
}

// cancelExport interrupts a still-processing export
// POST /api/exports/:id/cancel
func (r *Router) cancelExport(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseID(c, "id", "export")
	if !ok {
		return
	}

	exportRow, err := r.deps.Exports.GetByID(ctx, id)
	if err != nil {
		handleRepositoryError(c, err, "export", "get")
		return
	}
	if exportRow.Status != domain.ExportProcessing {
		c.JSON(http.StatusConflict, gin.H{"error": "export already finished"})
		return
	}

	if cancelErr := r.deps.ExportEngine.Cancel(ctx, id); cancelErr != nil {
		// The export finished between the status check and the cancel.
		if errors.Is(cancelErr, database.ErrNotFound) {
			c.JSON(http.StatusConflict, gin.H{"error": "export already finished"})
			return
		}
		_ = c.Error(cancelErr)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel export"})
		return
	}

	exportRow, err = r.deps.Exports.GetByID(ctx, id)
	if err != nil {
		handleRepositoryError(c, err, "export", "get")
		return
	}

	c.JSON(http.StatusOK, exportRow)
}

// downloadExport streams the finished export file as an attachment.
// WordPress pushes have no file and cannot be downloaded.
// GET /api/exports/:id/download
func (r *Router) downloadExport(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseID(c, "id", "export")
	if !ok {
		return
	}

	exportRow, err := r.deps.Exports.GetByID(ctx, id)
	if err != nil {
		handleRepositoryError(c, err, "export", "get")
		return
	}

	if exportRow.Status != domain.ExportSuccess {
		c.JSON(http.StatusConflict, gin.H{"error": "export is not finished"})
		return
	}
	if exportRow.FilePath == nil || *exportRow.FilePath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "export has no file"})
		return
	}

	c.FileAttachment(*exportRow.FilePath, filepath.Base(*exportRow.FilePath))
}
