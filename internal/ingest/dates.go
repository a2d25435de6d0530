package ingest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

// Layouts accepted from scraper modules. Values with an explicit offset
// keep it; bare wall-clock values are anchored in the event's resolved
// timezone. A bare date means midnight.
var (
	offsetLayouts = []string{
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
	}
	localLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
	}
)

func parseDatetime(value string, loc *time.Location) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}

	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized datetime %q", value)
}

func parseOptionalDatetime(value *string, loc *time.Location) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	t, err := parseDatetime(*value, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// instance is one parsed occurrence date pair.
type instance struct {
	start time.Time
	end   *time.Time
}

// parseInstances resolves the full date set of an event: every series
// instance when the module reported recurrence, otherwise the single
// start/end pair. Any malformed date fails the whole event so the caller
// can skip it atomically. The result is sorted chronologically.
func parseInstances(in *domain.RawEventInput, start time.Time, end *time.Time, loc *time.Location) ([]instance, error) {
	if len(in.SeriesInstances) == 0 {
		return []instance{{start: start, end: end}}, nil
	}

	out := make([]instance, 0, len(in.SeriesInstances))
	for i, sd := range in.SeriesInstances {
		s, err := parseDatetime(sd.Start, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid series date %d: %w", i, err)
		}
		e, err := parseOptionalDatetime(sd.End, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid series date %d end: %w", i, err)
		}
		out = append(out, instance{start: s, end: e})
	}

	sort.Slice(out, func(a, b int) bool { return out[a].start.Before(out[b].start) })
	return out, nil
}
