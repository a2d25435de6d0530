// Package match proposes duplicate pairs between raw events scraped from
// different sources, and applies reviewer decisions to them.
package match

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
)

const (
	// DefaultThreshold is the minimum total score for a proposal.
	DefaultThreshold = 0.7
	// DefaultWindow is the start-time distance within which two events
	// can plausibly be the same thing.
	DefaultWindow = 24 * time.Hour
	// defaultHorizon bounds an unparameterized run to upcoming events.
	defaultHorizon = 90 * 24 * time.Hour
)

// Params restricts an engine run to a date range and/or set of sources.
// Zero values mean "upcoming events across all sources".
type Params struct {
	StartDate *time.Time
	EndDate   *time.Time
	SourceIDs []string
}

// Stats reports what a run looked at and produced.
type Stats struct {
	Candidates int `json:"candidates"`
	Scored     int `json:"scored"`
	Proposed   int `json:"proposed"`
}

// Engine scans raw events for cross-source duplicates and records pairs
// at or above the threshold as open matches.
type Engine struct {
	rawEvents *database.RawEventRepository
	matches   *database.MatchRepository
	log       logger.Logger

	threshold float64
	window    time.Duration
}

// NewEngine creates a match engine with the default threshold and window.
func NewEngine(rawEvents *database.RawEventRepository, matches *database.MatchRepository, log logger.Logger) *Engine {
	return &Engine{
		rawEvents: rawEvents,
		matches:   matches,
		log:       log,
		threshold: DefaultThreshold,
		window:    DefaultWindow,
	}
}

// Run proposes matches inside the requested range. Decided pairs are left
// alone; open pairs get their score refreshed; rejected pairs reopen only
// when a raw's content changed since the rejection.
func (e *Engine) Run(ctx context.Context, p Params) (Stats, error) {
	start := time.Now().UTC()
	if p.StartDate != nil {
		start = *p.StartDate
	}
	end := start.Add(defaultHorizon)
	if p.EndDate != nil {
		end = *p.EndDate
	}

	// Overfetch one window on each side so pairs straddling the range
	// edge still score.
	events, err := e.rawEvents.ListMatchCandidates(ctx, start.Add(-e.window), end.Add(e.window), p.SourceIDs)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Candidates: len(events)}
	for i := range events {
		a := &events[i]
		for j := i + 1; j < len(events); j++ {
			b := &events[j]
			// Candidates arrive sorted by start time, so nothing past
			// the window can pair with a.
			if b.StartDatetime.Sub(a.StartDatetime) > e.window {
				break
			}
			if !pairable(a, b) {
				continue
			}

			stats.Scored++
			score := scorePair(a, b)
			if score.Total < e.threshold {
				continue
			}

			proposed, err := e.propose(ctx, a, b, score)
			if err != nil {
				return stats, err
			}
			if proposed {
				stats.Proposed++
			}
		}
	}

	e.log.Info("match run finished",
		logger.Int("candidates", stats.Candidates),
		logger.Int("scored", stats.Scored),
		logger.Int("proposed", stats.Proposed))

	return stats, nil
}

// pairable applies the cheap gates before scoring: different sources and
// the same city. Two events with no city still pair, so sources that never
// fill the field stay matchable.
func pairable(a, b *domain.RawEvent) bool {
	if a.SourceID == b.SourceID {
		return false
	}
	return normalizeCity(a.City) == normalizeCity(b.City)
}

func normalizeCity(p *string) string {
	if p == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*p))
}

func (e *Engine) propose(ctx context.Context, a, b *domain.RawEvent, score Score) (bool, error) {
	// Store the unordered pair in a stable order for the unique index.
	if b.ID < a.ID {
		a, b = b, a
	}

	m := &domain.Match{
		ID:     uuid.New().String(),
		RawIDA: a.ID,
		RawIDB: b.ID,
		Score:  score.Total,
		Status: domain.MatchOpen,
		Reason: domain.JSONBMap{
			domain.MatchReasonScores: score,
			domain.MatchReasonHashA:  a.ContentHash,
			domain.MatchReasonHashB:  b.ContentHash,
		},
	}

	proposed, err := e.matches.Upsert(ctx, m)
	if err != nil {
		return false, fmt.Errorf("failed to propose match %s/%s: %w", a.ID, b.ID, err)
	}
	return proposed, nil
}
