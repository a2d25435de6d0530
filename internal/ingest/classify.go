package ingest

import (
	"math"
	"time"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

// multiDaySpan is the cutoff beyond which a single instance counts as a
// multi-day event.
const multiDaySpan = 24 * time.Hour

// classifyOccurrence runs the type ladder: explicit all-day and virtual
// flags win, then span, then date-set size.
func classifyOccurrence(in *domain.RawEventInput, first instance, count int) domain.OccurrenceType {
	switch {
	case isAllDay(in):
		return domain.OccurrenceAllDay
	case virtualURL(in) != "":
		return domain.OccurrenceVirtual
	case first.end != nil && first.end.Sub(first.start) > multiDaySpan:
		return domain.OccurrenceMultiDay
	case count > 1:
		return domain.OccurrenceRecurring
	default:
		return domain.OccurrenceSingle
	}
}

// isAllDay honors the typed flag first, then the conventional raw key
// modules ported from other scrapers tend to set.
func isAllDay(in *domain.RawEventInput) bool {
	if in.IsAllDay {
		return true
	}
	v, ok := in.Raw["isAllDay"].(bool)
	return ok && v
}

func virtualURL(in *domain.RawEventInput) string {
	if in.VirtualURL != nil && *in.VirtualURL != "" {
		return *in.VirtualURL
	}
	if s, ok := in.Raw["virtualUrl"].(string); ok {
		return s
	}
	return ""
}

// inferRecurrence buckets the modal gap in days between consecutive starts.
// Starts must be sorted. Ties break toward the smaller gap so a mixed
// daily/weekly set reads as daily.
func inferRecurrence(starts []time.Time) domain.RecurrenceType {
	if len(starts) < 2 {
		return domain.RecurrenceNone
	}

	gaps := make(map[int]int)
	for i := 1; i < len(starts); i++ {
		days := int(math.Round(starts[i].Sub(starts[i-1]).Hours() / 24))
		gaps[days]++
	}

	modal, best := 0, 0
	for days, n := range gaps {
		if n > best || (n == best && days < modal) {
			modal, best = days, n
		}
	}

	switch {
	case modal == 1:
		return domain.RecurrenceDaily
	case modal == 7:
		return domain.RecurrenceWeekly
	case modal >= 28 && modal <= 31:
		return domain.RecurrenceMonthly
	case modal >= 365 && modal <= 366:
		return domain.RecurrenceYearly
	default:
		return domain.RecurrenceCustom
	}
}
