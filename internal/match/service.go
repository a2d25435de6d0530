package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
)

// ErrAlreadyDecided is returned when acting on a match that is no longer
// open, so callers can answer with a conflict instead of a failure.
var ErrAlreadyDecided = errors.New("match already decided")

// Service applies reviewer decisions to proposed matches. Raw events are
// never deleted by any action here; merging only links them into a
// canonical row.
type Service struct {
	matches   *database.MatchRepository
	rawEvents *database.RawEventRepository
	canonical *database.CanonicalRepository
	log       logger.Logger
}

// NewService creates a match decision service.
func NewService(matches *database.MatchRepository, rawEvents *database.RawEventRepository, canonical *database.CanonicalRepository, log logger.Logger) *Service {
	return &Service{matches: matches, rawEvents: rawEvents, canonical: canonical, log: log}
}

// Get returns one match.
func (s *Service) Get(ctx context.Context, id string) (*domain.Match, error) {
	return s.matches.GetByID(ctx, id)
}

// List returns matches filtered by status, highest score first.
func (s *Service) List(ctx context.Context, status domain.MatchStatus, limit, offset int) ([]domain.Match, error) {
	return s.matches.List(ctx, status, limit, offset)
}

// Confirm marks an open match as a verified duplicate pair.
func (s *Service) Confirm(ctx context.Context, id, decidedBy string) (*domain.Match, error) {
	return s.decide(ctx, id, domain.MatchConfirmed, decidedBy)
}

// Reject dismisses an open match. The pair is not re-proposed until one
// of its raws' content changes.
func (s *Service) Reject(ctx context.Context, id, decidedBy string) (*domain.Match, error) {
	return s.decide(ctx, id, domain.MatchRejected, decidedBy)
}

func (s *Service) decide(ctx context.Context, id string, status domain.MatchStatus, decidedBy string) (*domain.Match, error) {
	m, err := s.matches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.MatchOpen {
		return nil, fmt.Errorf("match %s is %s: %w", id, m.Status, ErrAlreadyDecided)
	}

	if err := s.matches.Decide(ctx, id, status, decidedBy); err != nil {
		return nil, err
	}

	return s.matches.GetByID(ctx, id)
}

// MergeInput carries reviewer-selected field overrides for the canonical
// row produced by a merge. Nil fields keep the value seeded from the raws.
type MergeInput struct {
	Title           *string    `json:"title,omitempty"`
	DescriptionHTML *string    `json:"description_html,omitempty"`
	StartDatetime   *time.Time `json:"start_datetime,omitempty"`
	EndDatetime     *time.Time `json:"end_datetime,omitempty"`
	Timezone        *string    `json:"timezone,omitempty"`
	VenueName       *string    `json:"venue_name,omitempty"`
	VenueAddress    *string    `json:"venue_address,omitempty"`
	City            *string    `json:"city,omitempty"`
	Region          *string    `json:"region,omitempty"`
	Country         *string    `json:"country,omitempty"`
	Organizer       *string    `json:"organizer,omitempty"`
	Category        *string    `json:"category,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	Price           *string    `json:"price,omitempty"`
	URL             *string    `json:"url,omitempty"`
	ImageURL        *string    `json:"image_url,omitempty"`
}

// Merge confirms the match and folds the pair into a canonical event:
// a fresh row seeded from both raws when neither is canonical yet,
// otherwise a union into the existing canonical. Returns the canonical.
func (s *Service) Merge(ctx context.Context, id string, input MergeInput, decidedBy string) (*domain.CanonicalEvent, error) {
	m, err := s.matches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch m.Status {
	case domain.MatchRejected:
		return nil, fmt.Errorf("match %s is rejected: %w", id, ErrAlreadyDecided)
	case domain.MatchOpen:
		if err := s.matches.Decide(ctx, id, domain.MatchConfirmed, decidedBy); err != nil {
			return nil, err
		}
	}

	a, err := s.rawEvents.GetByID(ctx, m.RawIDA)
	if err != nil {
		return nil, err
	}
	b, err := s.rawEvents.GetByID(ctx, m.RawIDB)
	if err != nil {
		return nil, err
	}

	target, err := s.findCanonical(ctx, a.ID, b.ID)
	if err != nil {
		return nil, err
	}

	if target == nil {
		event := canonicalFromRaws(a, b)
		event.ID = uuid.New().String()
		event.Status = domain.CanonicalNew
		event.MergedFromRawIDs = unionIDs(nil, a.ID, b.ID)
		applyOverrides(event, input)

		if err := s.canonical.Create(ctx, event); err != nil {
			return nil, err
		}
		s.log.Info("canonical event created from merge",
			logger.String("match_id", id),
			logger.String("canonical_id", event.ID))
		return event, nil
	}

	target.MergedFromRawIDs = unionIDs(target.MergedFromRawIDs, a.ID, b.ID)
	applyOverrides(target, input)

	if err := s.canonical.Update(ctx, target); err != nil {
		return nil, err
	}
	s.log.Info("merge unioned into existing canonical",
		logger.String("match_id", id),
		logger.String("canonical_id", target.ID))
	return target, nil
}

// findCanonical returns the canonical either raw already belongs to, or
// nil when the pair is entirely new.
func (s *Service) findCanonical(ctx context.Context, rawIDs ...string) (*domain.CanonicalEvent, error) {
	for _, rawID := range rawIDs {
		c, err := s.canonical.FindByRawID(ctx, rawID)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// canonicalFromRaws seeds a canonical from the pair, favoring a and
// backfilling blanks from b.
func canonicalFromRaws(a, b *domain.RawEvent) *domain.CanonicalEvent {
	event := &domain.CanonicalEvent{
		Title:           a.Title,
		DescriptionHTML: coalesce(a.DescriptionHTML, b.DescriptionHTML),
		StartDatetime:   a.StartDatetime,
		EndDatetime:     coalesceTime(a.EndDatetime, b.EndDatetime),
		Timezone:        coalesce(a.Timezone, b.Timezone),
		VenueName:       coalesce(a.VenueName, b.VenueName),
		VenueAddress:    coalesce(a.VenueAddress, b.VenueAddress),
		City:            coalesce(a.City, b.City),
		Region:          coalesce(a.Region, b.Region),
		Country:         coalesce(a.Country, b.Country),
		Lat:             coalesceFloat(a.Lat, b.Lat),
		Lon:             coalesceFloat(a.Lon, b.Lon),
		Organizer:       coalesce(a.Organizer, b.Organizer),
		Category:        coalesce(a.Category, b.Category),
		Price:           coalesce(a.Price, b.Price),
		URL:             &a.URL,
		ImageURL:        coalesce(a.ImageURL, b.ImageURL),
	}

	if len(a.Tags) > 0 {
		event.Tags = a.Tags
	} else {
		event.Tags = b.Tags
	}

	return event
}

func applyOverrides(e *domain.CanonicalEvent, in MergeInput) {
	if in.Title != nil {
		e.Title = *in.Title
	}
	if in.DescriptionHTML != nil {
		e.DescriptionHTML = in.DescriptionHTML
	}
	if in.StartDatetime != nil {
		e.StartDatetime = *in.StartDatetime
	}
	if in.EndDatetime != nil {
		e.EndDatetime = in.EndDatetime
	}
	if in.Timezone != nil {
		e.Timezone = in.Timezone
	}
	if in.VenueName != nil {
		e.VenueName = in.VenueName
	}
	if in.VenueAddress != nil {
		e.VenueAddress = in.VenueAddress
	}
	if in.City != nil {
		e.City = in.City
	}
	if in.Region != nil {
		e.Region = in.Region
	}
	if in.Country != nil {
		e.Country = in.Country
	}
	if in.Organizer != nil {
		e.Organizer = in.Organizer
	}
	if in.Category != nil {
		e.Category = in.Category
	}
	if in.Tags != nil {
		e.Tags = pq.StringArray(in.Tags)
	}
	if in.Price != nil {
		e.Price = in.Price
	}
	if in.URL != nil {
		e.URL = in.URL
	}
	if in.ImageURL != nil {
		e.ImageURL = in.ImageURL
	}
}

// unionIDs appends the ids not already present, preserving order.
func unionIDs(existing pq.StringArray, ids ...string) pq.StringArray {
	out := existing
	for _, id := range ids {
		seen := false
		for _, have := range out {
			if have == id {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, id)
		}
	}
	return out
}

func coalesce(a, b *string) *string {
	if a != nil && *a != "" {
		return a
	}
	return b
}

func coalesceTime(a, b *time.Time) *time.Time {
	if a != nil {
		return a
	}
	return b
}

func coalesceFloat(a, b *float64) *float64 {
	if a != nil {
		return a
	}
	return b
}
