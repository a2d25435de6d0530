package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

// defaultSourceTimezone applies when a source is created without one.
const defaultSourceTimezone = "America/Vancouver"

// sourceRequest is the create/update payload for a source.
type sourceRequest struct {
	Name            string            `json:"name" binding:"required"`
	BaseURL         string            `json:"base_url" binding:"required"`
	ModuleKey       string            `json:"module_key" binding:"required"`
	Active          *bool             `json:"active"`
	DefaultTimezone string            `json:"default_timezone"`
	RateLimitPerMin int               `json:"rate_limit_per_min"`
	SourceType      domain.SourceType `json:"source_type"`
	Config          domain.JSONBMap   `json:"config"`

	InstagramUsername    *string                      `json:"instagram_username"`
	ClassificationMode   *domain.ClassificationMode   `json:"classification_mode"`
	InstagramScraperType *domain.InstagramScraperType `json:"instagram_scraper_type"`
}

// validate applies the cross-field rules binding tags cannot express. It
// also defaults the source type so the checks that follow see a value.
func (req *sourceRequest) validate() []validationDetail {
	var details []validationDetail

	if req.SourceType == "" {
		req.SourceType = domain.SourceTypeWebsite
	}
	if !req.SourceType.Valid() {
		details = append(details, validationDetail{Field: "source_type", Message: "must be website or instagram"})
	}
	if req.SourceType == domain.SourceTypeInstagram && (req.InstagramUsername == nil || *req.InstagramUsername == "") {
		details = append(details, validationDetail{Field: "instagram_username", Message: "required for instagram sources"})
	}
	if req.ClassificationMode != nil && !req.ClassificationMode.Valid() {
		details = append(details, validationDetail{Field: "classification_mode", Message: "must be manual or auto"})
	}
	if req.InstagramScraperType != nil && !req.InstagramScraperType.Valid() {
		details = append(details, validationDetail{Field: "instagram_scraper_type", Message: "must be apify or private_api"})
	}
	if req.DefaultTimezone != "" {
		if _, err := time.LoadLocation(req.DefaultTimezone); err != nil {
			details = append(details, validationDetail{Field: "default_timezone", Message: "unknown timezone"})
		}
	}

	return details
}

// toSource materializes the request into a domain source.
func (req *sourceRequest) toSource(id string) *domain.Source {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	timezone := req.DefaultTimezone
	if timezone == "" {
		timezone = defaultSourceTimezone
	}

	return &domain.Source{
		ID:              id,
		Name:            req.Name,
		BaseURL:         req.BaseURL,
		ModuleKey:       req.ModuleKey,
		Active:          active,
		DefaultTimezone: timezone,
		RateLimitPerMin: req.RateLimitPerMin,
		SourceType:      req.SourceType,
		Config:          req.Config,

		InstagramUsername:    req.InstagramUsername,
		ClassificationMode:   req.ClassificationMode,
		InstagramScraperType: req.InstagramScraperType,
	}
}

// listSources returns all sources
// GET /api/sources
func (r *Router) listSources(c *gin.Context) {
	ctx := c.Request.Context()

	sources, err := r.deps.Sources.List(ctx)
	if err != nil {
		handleRepositoryError(c, err, "source", "list")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sources": sources,
		"count":   len(sources),
	})
}

// createSource creates a new source
// POST /api/sources
func (r *Router) createSource(c *gin.Context) {
	ctx := c.Request.Context()

	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if details := req.validate(); len(details) > 0 {
		respondValidation(c, details)
		return
	}

	source := req.toSource(uuid.New().String())
	if err := r.deps.Sources.Create(ctx, source); err != nil {
		handleRepositoryError(c, err, "source", "create")
		return
	}

	c.JSON(http.StatusCreated, source)
}

// getSource retrieves a source by ID
// GET /api/sources/:id
func (r *Router) getSource(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseID(c, "id", "source")
	if !ok {
		return
	}

	source, err := r.deps.Sources.GetByID(ctx, id)
	if err != nil {
		handleRepositoryError(c, err, "source", "get")
		return
	}

	c.JSON(http.StatusOK, source)
}

// updateSource replaces a source's mutable fields
// PUT /api/sources/:id
func (r *Router) updateSource(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseID(c, "id", "source")
	if !ok {
		return
	}

	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if details := req.validate(); len(details) > 0 {
		respondValidation(c, details)
		return
	}

	if err := r.deps.Sources.Update(ctx, req.toSource(id)); err != nil {
		handleRepositoryError(c, err, "source", "update")
		return
	}

	source, err := r.deps.Sources.GetByID(ctx, id)
	if err != nil {
		handleRepositoryError(c, err, "source", "get")
		return
	}

	c.JSON(http.StatusOK, source)
}

// deleteSource removes a source
// DELETE /api/sources/:id
func (r *Router) deleteSource(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseID(c, "id", "source")
	if !ok {
		return
	}

	if err := r.deps.Sources.Delete(ctx, id); err != nil {
		handleRepositoryError(c, err, "source", "delete")
		return
	}

	c.Status(http.StatusNoContent)
}
