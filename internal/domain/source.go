// Package domain provides the entities shared by the API and worker
// processes: sources, runs, raw events, series, occurrences, matches,
// canonical events, schedules, and exports.
package domain

import (
	"time"
)

// SourceType distinguishes how a source is harvested.
type SourceType string

const (
	// SourceTypeWebsite is a site scraped through the page pool.
	SourceTypeWebsite SourceType = "website"
	// SourceTypeInstagram is a profile pulled through an Instagram backend.
	SourceTypeInstagram SourceType = "instagram"
)

// ClassificationMode controls how Instagram posts become events.
type ClassificationMode string

const (
	// ClassificationManual leaves poster judgment to a human reviewer.
	ClassificationManual ClassificationMode = "manual"
	// ClassificationAuto classifies captions through the AI provider.
	ClassificationAuto ClassificationMode = "auto"
)

// InstagramScraperType selects the Instagram backend implementation.
type InstagramScraperType string

const (
	// InstagramScraperApify uses the hosted Apify actor backend.
	InstagramScraperApify InstagramScraperType = "apify"
	// InstagramScraperPrivateAPI uses the self-hosted private API backend.
	InstagramScraperPrivateAPI InstagramScraperType = "private_api"
)

// Source is a place events are harvested from. Sources are created by an
// admin, mutated rarely, and soft-disabled via Active rather than deleted
// while runs still reference them.
type Source struct {
	ID              string     `db:"id"                json:"id"`
	Name            string     `db:"name"              json:"name"`
	BaseURL         string     `db:"base_url"          json:"base_url"`
	ModuleKey       string     `db:"module_key"        json:"module_key"`
	Active          bool       `db:"active"            json:"active"`
	DefaultTimezone string     `db:"default_timezone"  json:"default_timezone"`
	RateLimitPerMin int        `db:"rate_limit_per_min" json:"rate_limit_per_min"`
	SourceType      SourceType `db:"source_type"       json:"source_type"`

	// Module configuration (selectors, pagination, backend options).
	Config JSONBMap `db:"config" json:"config,omitempty"`

	// Instagram-specific fields, null for website sources.
	InstagramUsername    *string               `db:"instagram_username"     json:"instagram_username,omitempty"`
	ClassificationMode   *ClassificationMode   `db:"classification_mode"    json:"classification_mode,omitempty"`
	InstagramScraperType *InstagramScraperType `db:"instagram_scraper_type" json:"instagram_scraper_type,omitempty"`
	LastChecked          *time.Time            `db:"last_checked"           json:"last_checked,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	return t == SourceTypeWebsite || t == SourceTypeInstagram
}

// Valid reports whether m is a known classification mode.
func (m ClassificationMode) Valid() bool {
	return m == ClassificationManual || m == ClassificationAuto
}

// Valid reports whether t is a known Instagram scraper type.
func (t InstagramScraperType) Valid() bool {
	return t == InstagramScraperApify || t == InstagramScraperPrivateAPI
}
