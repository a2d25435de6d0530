package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

const defaultPostStatus = "draft"

// wordpressSettingsRequest is the create/update payload for a WordPress
// export target. AppPassword needs an explicit field here because the
// domain struct never serializes it.
type wordpressSettingsRequest struct {
	Name                   string          `json:"name" binding:"required"`
	SiteURL                string          `json:"site_url" binding:"required"`
	Username               string          `json:"username" binding:"required"`
	AppPassword            string          `json:"app_password"`
	DefaultStatus          string          `json:"default_status"`
	DefaultAuthorID        *int            `json:"default_author_id"`
	SourceCategoryMappings domain.JSONBMap `json:"source_category_mappings"`
	UpdateIfExists         bool            `json:"update_if_exists"`
	IncludeMedia           bool            `json:"include_media"`
	Active                 *bool           `json:"active"`
}

func (req *wordpressSettingsRequest) toSettings(id string) *domain.WordPressSettings {
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	status := req.DefaultStatus
	if status == "" {
		status = defaultPostStatus
	}

	return &domain.WordPressSettings{
		ID:                     id,
		Name:                   req.Name,
		SiteURL:                req.SiteURL,
		Username:               req.Username,
		AppPassword:            req.AppPassword,
		DefaultStatus:          status,
		DefaultAuthorID:        req.DefaultAuthorID,
		SourceCategoryMappings: req.SourceCategoryMappings,
		UpdateIfExists:         req.UpdateIfExists,
		IncludeMedia:           req.IncludeMedia,
		Active:                 active,
	}
}

// listWordPressSettings returns all WordPress export targets
// GET /api/wordpress-settings
func (r *Router) listWordPressSettings(c *gin.Context) {
	ctx := c.Request.Context()

	settings, err := r.deps.Settings.ListWordPress(ctx)
	if err != nil {
		handleRepositoryError(c, err, "wordpress settings", "list")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"wordpress_settings": settings,
		"count":              len(settings),
	})
}

// createWordPressSettings registers a WordPress export target
// POST /api/wordpress-settings
func (r *Router) createWordPressSettings(c *gin.Context) {
	ctx := c.Request.Context()

	var req wordpressSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	// App passwords are only optional on update, where empty keeps the
	// stored credential.
	if req.AppPassword == "" {
		respondValidation(c, []validationDetail{{Field: "app_password", Message: "is required"}})
		return
	}

	settings := req.toSettings(uuid.New().String())
	if err := r.deps.Settings.CreateWordPress(ctx, settings); err != nil {
		handleRepositoryError(c, err, "wordpress settings", "create")
		return
	}

	c.JSON(http.StatusCreated, settings)
}

// getWordPressSettings returns one WordPress export target
// GET /api/wordpress-settings/:id
func (r *Router) getWordPressSettings(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseID(c, "id", "wordpress settings")
	if !ok {
		return
	}

	settings, err := r.deps.Settings.GetWordPress(ctx, id)
	if err != nil {
		handleRepositoryError(c, err, "wordpress settings", "get")
		return
	}

	c.JSON(http.StatusOK, settings)
}

// updateWordPressSettings rewrites a WordPress export target. An empty
// app_password keeps the stored credential.
// PUT /api/wordpress-settings/:id
func (r *Router) updateWordPressSettings(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseID(c, "id", "wordpress settings")
	if !ok {
		return
	}

	var req wordpressSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if err := r.deps.Settings.UpdateWordPress(ctx, req.toSettings(id)); err != nil {
		handleRepositoryError(c, err, "wordpress settings", "update")
		return
	}

	settings, err := r.deps.Settings.GetWordPress(ctx, id)
	if err != nil {
		handleRepositoryError(c, err, "wordpress settings", "get")
		return
	}

	c.JSON(http.StatusOK, settings)
}

// deleteWordPressSettings removes a WordPress export target
// DELETE /api/wordpress-settings/:id
func (r *Router) deleteWordPressSettings(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseID(c, "id", "wordpress settings")
	if !ok {
		return
	}

	if err := r.deps.Settings.DeleteWordPress(ctx, id); err != nil {
		handleRepositoryError(c, err, "wordpress settings", "delete")
		return
	}

	c.Status(http.StatusNoContent)
}

// systemSettingsRequest is a merge payload: absent fields keep their
// stored values, so the admin UI can submit single-field changes.
type systemSettingsRequest struct {
	AIProvider             *string                      `json:"ai_provider"`
	AIAPIKey               *string                      `json:"ai_api_key"`
	InstagramScraperType   *domain.InstagramScraperType `json:"instagram_scraper_type"`
	InstagramAllowOverride *bool                        `json:"instagram_allow_override"`
	FeatureFlags           domain.JSONBMap              `json:"feature_flags"`
}

// getSystemSettings returns the system settings singleton
// GET /api/system-settings
func (r *Router) getSystemSettings(c *gin.Context) {
	ctx := c.Request.Context()

	settings, err := r.deps.Settings.GetSystem(ctx)
	if err != nil {
		handleRepositoryError(c, err, "system settings", "get")
		return
	}

	c.JSON(http.StatusOK, settings)
}

// updateSystemSettings merges the request into the singleton
// PUT /api/system-settings
func (r *Router) updateSystemSettings(c *gin.Context) {
	ctx := c.Request.Context()

	var req systemSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if req.InstagramScraperType != nil && !req.InstagramScraperType.Valid() {
		respondValidation(c, []validationDetail{{
			Field:   "instagram_scraper_type",
			Message: "must be apify or private_api",
		}})
		return
	}

	settings, err := r.deps.Settings.GetSystem(ctx)
	if err != nil {
		handleRepositoryError(c, err, "system settings", "get")
		return
	}

	if req.AIProvider != nil {
		settings.AIProvider = req.AIProvider
	}
	// A nil key keeps the stored one, so rotating other settings never
	// forces the key to be resent.
	settings.AIAPIKey = req.AIAPIKey
	if req.InstagramScraperType != nil {
		settings.InstagramScraperType = *req.InstagramScraperType
	}
	if req.InstagramAllowOverride != nil {
		settings.InstagramAllowOverride = *req.InstagramAllowOverride
	}
	if req.FeatureFlags != nil {
		settings.FeatureFlags = req.FeatureFlags
	}

	if err := r.deps.Settings.UpdateSystem(ctx, settings); err != nil {
		handleRepositoryError(c, err, "system settings", "update")
		return
	}

	updated, err := r.deps.Settings.GetSystem(ctx)
	if err != nil {
		handleRepositoryError(c, err, "system settings", "get")
		return
	}

	c.JSON(http.StatusOK, updated)
}
