package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

// shortHashLen truncates series and occurrence hashes; raw hashes keep the
// full 64 hex chars.
const shortHashLen = 32

// normalize trims surrounding whitespace and applies Unicode NFC so the
// same text hashes identically regardless of how the source encoded it.
// Case is preserved.
func normalize(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

func normalizePtr(p *string) string {
	if p == nil {
		return ""
	}
	return normalize(*p)
}

// cleanPtr normalizes a pointer field, collapsing empty values to nil so
// stored content always matches what was hashed.
func cleanPtr(p *string) *string {
	v := normalizePtr(p)
	if v == "" {
		return nil
	}
	return &v
}

// hashTuple returns the hex SHA-256 of the newline-joined fields.
func hashTuple(fields ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(fields, "\n")))
	return hex.EncodeToString(sum[:])
}

func isoOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// SeriesContentHash covers the occurrence-independent content of a series.
// Truncated so the column stays index-friendly; 128 bits is plenty for
// change detection.
func SeriesContentHash(s *domain.EventSeries) string {
	return hashTuple(
		normalize(s.Title),
		normalizePtr(s.Description),
		normalizePtr(s.VenueName),
		normalizePtr(s.VenueAddress),
		normalizePtr(s.Organizer),
		normalizePtr(s.Category),
	)[:shortHashLen]
}

// RawContentHash covers every content field of a raw event. Two scrapes of
// an unchanged page must produce the same hash, so times are rendered in
// UTC and all text is normalized first.
func RawContentHash(e *domain.RawEvent) string {
	return hashTuple(
		normalize(e.Title),
		normalizePtr(e.DescriptionHTML),
		e.StartDatetime.UTC().Format(time.RFC3339),
		isoOrEmpty(e.EndDatetime),
		normalizePtr(e.VenueName),
		normalizePtr(e.VenueAddress),
		normalizePtr(e.City),
		normalizePtr(e.Region),
		normalizePtr(e.Country),
		normalizePtr(e.Organizer),
		normalizePtr(e.Category),
		normalizePtr(e.Price),
		normalize(e.URL),
		normalizePtr(e.ImageURL),
	)
}

// OccurrenceHash keys one scheduled instance globally: the series id plus
// the instant pair. Re-seeing the same date collides here and only
// refreshes last_seen_at.
func OccurrenceHash(seriesID string, start time.Time, end *time.Time) string {
	sum := sha256.Sum256([]byte(seriesID + start.UTC().Format(time.RFC3339) + isoOrEmpty(end)))
	return hex.EncodeToString(sum[:])[:shortHashLen]
}
