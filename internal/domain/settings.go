package domain

import (
	"time"
)

// WordPressSettings is one configured WordPress target for wp-rest exports.
type WordPressSettings struct {
	ID      string `db:"id"       json:"id"`
	Name    string `db:"name"     json:"name"`
	SiteURL string `db:"site_url" json:"site_url"`

	Username string `db:"username" json:"username"`
	// AppPassword is a WordPress application password. Never serialized.
	AppPassword string `db:"app_password" json:"-"`

	DefaultStatus   string `db:"default_status"    json:"default_status"`
	DefaultAuthorID *int   `db:"default_author_id" json:"default_author_id,omitempty"`

	// SourceCategoryMappings maps source id → WordPress category ids to
	// attach to posts created from that source's events.
	SourceCategoryMappings JSONBMap `db:"source_category_mappings" json:"source_category_mappings,omitempty"`

	UpdateIfExists bool `db:"update_if_exists" json:"update_if_exists"`
	IncludeMedia   bool `db:"include_media"    json:"include_media"`
	Active         bool `db:"active"           json:"active"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CategoryIDsForSource returns the mapped WordPress category ids for a
// source, if the mapping names it.
func (w *WordPressSettings) CategoryIDsForSource(sourceID string) []int {
	if w.SourceCategoryMappings == nil {
		return nil
	}
	v, ok := w.SourceCategoryMappings[sourceID]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	ids := make([]int, 0, len(raw))
	for _, item := range raw {
		// JSONB numbers decode as float64.
		if f, ok := item.(float64); ok {
			ids = append(ids, int(f))
		}
	}
	return ids
}

// SystemSettings is the singleton configuration row (id = 1).
type SystemSettings struct {
	ID int `db:"id" json:"id"`

	AIProvider *string `db:"ai_provider" json:"ai_provider,omitempty"`
	// AIAPIKey is API key material. Never serialized.
	AIAPIKey *string `db:"ai_api_key" json:"-"`

	InstagramScraperType   InstagramScraperType `db:"instagram_scraper_type"   json:"instagram_scraper_type"`
	InstagramAllowOverride bool                 `db:"instagram_allow_override" json:"instagram_allow_override"`

	FeatureFlags JSONBMap `db:"feature_flags" json:"feature_flags,omitempty"`

	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ScraperTypeFor resolves the effective Instagram backend for a source:
// the source override wins when overrides are allowed, otherwise the
// global setting applies.
func (s *SystemSettings) ScraperTypeFor(src *Source) InstagramScraperType {
	if s.InstagramAllowOverride && src != nil && src.InstagramScraperType != nil && src.InstagramScraperType.Valid() {
		return *src.InstagramScraperType
	}
	return s.InstagramScraperType
}
