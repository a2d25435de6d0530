package domain

// RawEventInput is the DTO a scraper module yields for each observed event.
// Times are strings (RFC3339 or "YYYY-MM-DD HH:MM") because sources differ
// in precision; ingestion parses them against the source's default timezone
// when no offset is present.
type RawEventInput struct {
	SourceEventID *string `json:"source_event_id,omitempty"`

	Title string  `json:"title"`
	Start string  `json:"start"`
	End   *string `json:"end,omitempty"`
	// Timezone overrides the source default for this event.
	Timezone *string `json:"timezone,omitempty"`

	VenueName    *string  `json:"venue_name,omitempty"`
	VenueAddress *string  `json:"venue_address,omitempty"`
	City         *string  `json:"city,omitempty"`
	Region       *string  `json:"region,omitempty"`
	Country      *string  `json:"country,omitempty"`
	Lat          *float64 `json:"lat,omitempty"`
	Lon          *float64 `json:"lon,omitempty"`

	Organizer *string  `json:"organizer,omitempty"`
	Category  *string  `json:"category,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Price     *string  `json:"price,omitempty"`

	URL             string  `json:"url"`
	ImageURL        *string `json:"image_url,omitempty"`
	DescriptionHTML *string `json:"description_html,omitempty"`

	// SeriesInstances lists every scheduled date of a recurring event.
	// Empty means the single Start/End pair is the only instance.
	SeriesInstances []SeriesInstance `json:"series_dates,omitempty"`

	// IsAllDay and VirtualURL drive occurrence classification. Modules may
	// set them directly; ingestion also falls back to the conventional
	// "isAllDay"/"virtualUrl" keys in Raw.
	IsAllDay   bool    `json:"is_all_day,omitempty"`
	VirtualURL *string `json:"virtual_url,omitempty"`

	// Raw is the opaque original payload, passed through to storage.
	Raw map[string]any `json:"raw,omitempty"`

	// Instagram metadata, set by the Instagram runtime only.
	InstagramPostID          *string  `json:"instagram_post_id,omitempty"`
	InstagramCaption         *string  `json:"instagram_caption,omitempty"`
	LocalImagePath           *string  `json:"local_image_path,omitempty"`
	IsEventPoster            *bool    `json:"is_event_poster,omitempty"`
	ClassificationConfidence *float64 `json:"classification_confidence,omitempty"`
}

// SeriesInstance is one scheduled date of a recurring event, as reported by
// the source. Start and End use the same string formats as RawEventInput.
type SeriesInstance struct {
	Start string  `json:"start"`
	End   *string `json:"end,omitempty"`
}

// ScrapeResult is what a scraper module returns to the worker runtime.
type ScrapeResult struct {
	Events       []RawEventInput `json:"events"`
	PagesCrawled int             `json:"pages_crawled"`
	Errors       []RunError      `json:"errors,omitempty"`
}
