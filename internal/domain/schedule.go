package domain

import (
	"time"
)

// ScheduleType says what a schedule fires.
type ScheduleType string

const (
	// ScheduleScrape fires a single-source website scrape.
	ScheduleScrape ScheduleType = "scrape"
	// ScheduleWordPressExport fires an export with stored filters.
	ScheduleWordPressExport ScheduleType = "wordpress_export"
	// ScheduleInstagramScrape fires a batch of Instagram account scrapes.
	ScheduleInstagramScrape ScheduleType = "instagram_scrape"
)

// Valid reports whether t is a known schedule type.
func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleScrape, ScheduleWordPressExport, ScheduleInstagramScrape:
		return true
	}
	return false
}

// Schedule materializes into a repeatable queue entry while active. The
// repeat key is the handle returned by the queue layer on registration.
type Schedule struct {
	ID           string       `db:"id"            json:"id"`
	Name         string       `db:"name"          json:"name"`
	ScheduleType ScheduleType `db:"schedule_type" json:"schedule_type"`

	SourceID            *string `db:"source_id"             json:"source_id,omitempty"`
	WordPressSettingsID *string `db:"wordpress_settings_id" json:"wordpress_settings_id,omitempty"`

	// Cron is a 5-field expression (minute hour dom month dow).
	Cron string `db:"cron" json:"cron"`
	// Timezone is an IANA zone name the cron fields are evaluated in.
	Timezone string `db:"timezone" json:"timezone"`

	Active    bool    `db:"active"     json:"active"`
	RepeatKey *string `db:"repeat_key" json:"repeat_key,omitempty"`

	// Config is the type-specific configuration, decoded into one of
	// ScrapeScheduleConfig, InstagramScheduleConfig, or
	// WordPressExportScheduleConfig depending on ScheduleType.
	Config JSONBMap `db:"config" json:"config,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// InstagramScope selects which accounts an Instagram batch covers.
type InstagramScope string

const (
	InstagramScopeAllActive   InstagramScope = "all_active"
	InstagramScopeAllInactive InstagramScope = "all_inactive"
	InstagramScopeCustom      InstagramScope = "custom"
)

// ScrapeScheduleConfig is the config variant for ScheduleScrape.
type ScrapeScheduleConfig struct {
	TestMode   bool   `mapstructure:"test_mode"   json:"test_mode,omitempty"`
	ScrapeMode string `mapstructure:"scrape_mode" json:"scrape_mode,omitempty"`
}

// InstagramScheduleConfig is the config variant for ScheduleInstagramScrape.
type InstagramScheduleConfig struct {
	Scope      InstagramScope `mapstructure:"scope"       json:"scope"`
	AccountIDs []string       `mapstructure:"account_ids" json:"account_ids,omitempty"`
	PostLimit  int            `mapstructure:"post_limit"  json:"post_limit,omitempty"`
	BatchSize  int            `mapstructure:"batch_size"  json:"batch_size,omitempty"`
}

// WordPressExportScheduleConfig is the config variant for
// ScheduleWordPressExport. The date window is computed at fire time from
// day offsets relative to the fire date.
type WordPressExportScheduleConfig struct {
	StartOffsetDays int            `mapstructure:"start_offset_days" json:"start_offset_days"`
	EndOffsetDays   int            `mapstructure:"end_offset_days"   json:"end_offset_days"`
	Filters         map[string]any `mapstructure:"filters"           json:"filters,omitempty"`
	Options         map[string]any `mapstructure:"options"           json:"options,omitempty"`
}
