package domain

import (
	"time"

	"github.com/lib/pq"
)

// OccurrenceType classifies how an event occupies time.
type OccurrenceType string

const (
	// OccurrenceSingle is a one-off event with a bounded start.
	OccurrenceSingle OccurrenceType = "single"
	// OccurrenceMultiDay spans more than 24 hours.
	OccurrenceMultiDay OccurrenceType = "multi_day"
	// OccurrenceAllDay is flagged all-day by the source.
	OccurrenceAllDay OccurrenceType = "all_day"
	// OccurrenceRecurring has more than one scheduled date.
	OccurrenceRecurring OccurrenceType = "recurring"
	// OccurrenceVirtual is an online event.
	OccurrenceVirtual OccurrenceType = "virtual"
)

// RecurrenceType is the inferred repetition pattern of a recurring series.
type RecurrenceType string

const (
	RecurrenceNone    RecurrenceType = "none"
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
	RecurrenceYearly  RecurrenceType = "yearly"
	RecurrenceCustom  RecurrenceType = "custom"
)

// EventStatus is the source-declared status of a series.
type EventStatus string

const (
	EventScheduled EventStatus = "scheduled"
	EventCanceled  EventStatus = "canceled"
	EventPostponed EventStatus = "postponed"
)

// RawEvent is the first-class record of something a scraper observed,
// linked to the run that saw it. Identity for idempotent re-ingestion is
// (source_id, source_event_id) when the module supplies a stable id;
// otherwise every scrape inserts a fresh row.
type RawEvent struct {
	ID            string  `db:"id"              json:"id"`
	SourceID      string  `db:"source_id"       json:"source_id"`
	RunID         *string `db:"run_id"          json:"run_id,omitempty"`
	SourceEventID *string `db:"source_event_id" json:"source_event_id,omitempty"`

	Title           string     `db:"title"            json:"title"`
	DescriptionHTML *string    `db:"description_html" json:"description_html,omitempty"`
	StartDatetime   time.Time  `db:"start_datetime"   json:"start_datetime"`
	EndDatetime     *time.Time `db:"end_datetime"     json:"end_datetime,omitempty"`
	Timezone        *string    `db:"timezone"         json:"timezone,omitempty"`

	VenueName    *string  `db:"venue_name"    json:"venue_name,omitempty"`
	VenueAddress *string  `db:"venue_address" json:"venue_address,omitempty"`
	City         *string  `db:"city"          json:"city,omitempty"`
	Region       *string  `db:"region"        json:"region,omitempty"`
	Country      *string  `db:"country"       json:"country,omitempty"`
	Lat          *float64 `db:"lat"           json:"lat,omitempty"`
	Lon          *float64 `db:"lon"           json:"lon,omitempty"`

	Organizer *string        `db:"organizer" json:"organizer,omitempty"`
	Category  *string        `db:"category"  json:"category,omitempty"`
	Tags      pq.StringArray `db:"tags"      json:"tags,omitempty"`
	Price     *string        `db:"price"     json:"price,omitempty"`

	URL      string  `db:"url"       json:"url"`
	ImageURL *string `db:"image_url" json:"image_url,omitempty"`

	// Raw is the opaque module payload, passed through untouched.
	Raw JSONBMap `db:"raw" json:"raw,omitempty"`

	// ContentHash is the full-hex SHA-256 of the normalized content tuple.
	ContentHash string `db:"content_hash" json:"content_hash"`

	ScrapedAt          time.Time `db:"scraped_at"             json:"scraped_at"`
	LastSeenAt         time.Time `db:"last_seen_at"           json:"last_seen_at"`
	LastUpdatedByRunID *string   `db:"last_updated_by_run_id" json:"last_updated_by_run_id,omitempty"`

	SeriesID     *string `db:"series_id"     json:"series_id,omitempty"`
	OccurrenceID *string `db:"occurrence_id" json:"occurrence_id,omitempty"`

	// Instagram-only fields.
	InstagramPostID          *string  `db:"instagram_post_id"         json:"instagram_post_id,omitempty"`
	InstagramCaption         *string  `db:"instagram_caption"         json:"instagram_caption,omitempty"`
	LocalImagePath           *string  `db:"local_image_path"          json:"local_image_path,omitempty"`
	IsEventPoster            *bool    `db:"is_event_poster"           json:"is_event_poster,omitempty"`
	ClassificationConfidence *float64 `db:"classification_confidence" json:"classification_confidence,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// EventSeries is the recurring identity of an event: the metadata shared by
// all of its occurrences. One series fans out to N occurrences.
type EventSeries struct {
	ID            string  `db:"id"              json:"id"`
	SourceID      string  `db:"source_id"       json:"source_id"`
	SourceEventID *string `db:"source_event_id" json:"source_event_id,omitempty"`

	Title       string  `db:"title"       json:"title"`
	Description *string `db:"description" json:"description,omitempty"`

	VenueName    *string  `db:"venue_name"    json:"venue_name,omitempty"`
	VenueAddress *string  `db:"venue_address" json:"venue_address,omitempty"`
	City         *string  `db:"city"          json:"city,omitempty"`
	Region       *string  `db:"region"        json:"region,omitempty"`
	Country      *string  `db:"country"       json:"country,omitempty"`
	Lat          *float64 `db:"lat"           json:"lat,omitempty"`
	Lon          *float64 `db:"lon"           json:"lon,omitempty"`

	Organizer *string `db:"organizer" json:"organizer,omitempty"`
	Category  *string `db:"category"  json:"category,omitempty"`

	OccurrenceType OccurrenceType `db:"occurrence_type" json:"occurrence_type"`
	RecurrenceType RecurrenceType `db:"recurrence_type" json:"recurrence_type"`
	EventStatus    EventStatus    `db:"event_status"    json:"event_status"`

	URLPrimary string  `db:"url_primary" json:"url_primary"`
	ImageURL   *string `db:"image_url"   json:"image_url,omitempty"`

	// ContentHash is the truncated (32 hex chars) SHA-256 of the
	// occurrence-independent content tuple.
	ContentHash string   `db:"content_hash" json:"content_hash"`
	Raw         JSONBMap `db:"raw"          json:"raw,omitempty"`

	LastUpdatedByRunID *string `db:"last_updated_by_run_id" json:"last_updated_by_run_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// EventOccurrence is one scheduled instance of a series. StartDatetime is
// the local wall-clock time in Timezone; StartDatetimeUTC is the same
// instant converted to UTC.
type EventOccurrence struct {
	ID       string `db:"id"        json:"id"`
	SeriesID string `db:"series_id" json:"series_id"`

	// OccurrenceHash is globally unique: short_hash(series_id||start||end).
	OccurrenceHash string `db:"occurrence_hash" json:"occurrence_hash"`
	Sequence       int    `db:"sequence"        json:"sequence"`

	StartDatetime    time.Time  `db:"start_datetime"     json:"start_datetime"`
	StartDatetimeUTC time.Time  `db:"start_datetime_utc" json:"start_datetime_utc"`
	EndDatetime      *time.Time `db:"end_datetime"       json:"end_datetime,omitempty"`
	EndDatetimeUTC   *time.Time `db:"end_datetime_utc"   json:"end_datetime_utc,omitempty"`
	DurationSeconds  *int64     `db:"duration_seconds"   json:"duration_seconds,omitempty"`
	Timezone         string     `db:"timezone"           json:"timezone"`

	HasRecurrence bool `db:"has_recurrence" json:"has_recurrence"`
	IsProvisional bool `db:"is_provisional" json:"is_provisional"`

	// Override fields shadow the series when non-null.
	OverrideTitle       *string      `db:"override_title"       json:"override_title,omitempty"`
	OverrideDescription *string      `db:"override_description" json:"override_description,omitempty"`
	OverrideVenueName   *string      `db:"override_venue_name"  json:"override_venue_name,omitempty"`
	OverrideStatus      *EventStatus `db:"override_status"      json:"override_status,omitempty"`

	Raw JSONBMap `db:"raw" json:"raw,omitempty"`

	ScrapedAt  time.Time `db:"scraped_at"   json:"scraped_at"`
	LastSeenAt time.Time `db:"last_seen_at" json:"last_seen_at"`
	CreatedAt  time.Time `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"   json:"updated_at"`
}

// CanonicalStatus is the review workflow state of a canonical event.
type CanonicalStatus string

const (
	CanonicalNew      CanonicalStatus = "new"
	CanonicalReady    CanonicalStatus = "ready"
	CanonicalExported CanonicalStatus = "exported"
	CanonicalIgnored  CanonicalStatus = "ignored"
)

// CanonicalEvent is a deduplicated, review-approved record intended for
// publication. Created by confirming or merging matches, or by promoting a
// raw event with no duplicates.
type CanonicalEvent struct {
	ID string `db:"id" json:"id"`

	// DedupeKey is unique when set.
	DedupeKey        *string        `db:"dedupe_key"          json:"dedupe_key,omitempty"`
	MergedFromRawIDs pq.StringArray `db:"merged_from_raw_ids" json:"merged_from_raw_ids,omitempty"`
	Status           CanonicalStatus `db:"status"             json:"status"`

	Title           string     `db:"title"            json:"title"`
	DescriptionHTML *string    `db:"description_html" json:"description_html,omitempty"`
	StartDatetime   time.Time  `db:"start_datetime"   json:"start_datetime"`
	EndDatetime     *time.Time `db:"end_datetime"     json:"end_datetime,omitempty"`
	Timezone        *string    `db:"timezone"         json:"timezone,omitempty"`

	VenueName    *string  `db:"venue_name"    json:"venue_name,omitempty"`
	VenueAddress *string  `db:"venue_address" json:"venue_address,omitempty"`
	City         *string  `db:"city"          json:"city,omitempty"`
	Region       *string  `db:"region"        json:"region,omitempty"`
	Country      *string  `db:"country"       json:"country,omitempty"`
	Lat          *float64 `db:"lat"           json:"lat,omitempty"`
	Lon          *float64 `db:"lon"           json:"lon,omitempty"`

	Organizer *string        `db:"organizer" json:"organizer,omitempty"`
	Category  *string        `db:"category"  json:"category,omitempty"`
	Tags      pq.StringArray `db:"tags"      json:"tags,omitempty"`
	Price     *string        `db:"price"     json:"price,omitempty"`

	URL      *string `db:"url"       json:"url,omitempty"`
	ImageURL *string `db:"image_url" json:"image_url,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MatchStatus is the review state of a proposed duplicate pair.
type MatchStatus string

const (
	MatchOpen      MatchStatus = "open"
	MatchConfirmed MatchStatus = "confirmed"
	MatchRejected  MatchStatus = "rejected"
)

// Reason keys stored on matches. The content-hash snapshot lets a
// rejected decision lapse when either side's content changes later.
const (
	MatchReasonScores = "scores"
	MatchReasonHashA  = "content_hash_a"
	MatchReasonHashB  = "content_hash_b"
)

// Match is a proposed duplicate pair between raw events from different
// sources. The pair is unordered; storage orders (RawIDA < RawIDB) so the
// unique index dedupes proposals.
type Match struct {
	ID     string  `db:"id"       json:"id"`
	RawIDA string  `db:"raw_id_a" json:"raw_id_a"`
	RawIDB string  `db:"raw_id_b" json:"raw_id_b"`
	Score  float64 `db:"score"    json:"score"`

	// Reason carries the per-factor score breakdown and the content hashes
	// of both raws at proposal time (rejected pairs are not re-proposed
	// until one hash changes).
	Reason JSONBMap    `db:"reason" json:"reason,omitempty"`
	Status MatchStatus `db:"status" json:"status"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	CreatedBy *string   `db:"created_by" json:"created_by,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
