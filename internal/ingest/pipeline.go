// Package ingest turns scraper output into durable series, occurrence and
// raw rows. Re-ingesting an unchanged event touches bookkeeping columns
// only; identity is (source_id, source_event_id) when the module supplies
// a stable id, content change is detected by hash.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
)

// Pipeline persists scraped events. One DB transaction per event covers
// the series row, its occurrences and the raw row, so a crash never leaves
// a half-written event behind.
type Pipeline struct {
	repo *database.IngestRepository
	log  logger.Logger
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(repo *database.IngestRepository, log logger.Logger) *Pipeline {
	return &Pipeline{repo: repo, log: log}
}

// Result tallies a batch by the raw-row action.
type Result struct {
	Inserted       int `json:"inserted"`
	Updated        int `json:"updated"`
	Unchanged      int `json:"unchanged"`
	Skipped        int `json:"skipped"`
	NewOccurrences int `json:"new_occurrences"`
}

// Total is the number of events that reached storage.
func (r Result) Total() int {
	return r.Inserted + r.Updated + r.Unchanged
}

// IngestBatch persists a batch of scraped events for one source and run.
// Malformed events are skipped and reported in the returned error list
// while the batch continues; a storage failure aborts the batch and is
// returned as the error.
func (p *Pipeline) IngestBatch(ctx context.Context, source *domain.Source, runID string, events []domain.RawEventInput) (Result, []domain.RunError, error) {
	var res Result
	var itemErrs []domain.RunError

	for i := range events {
		action, newOccurrences, err := p.ingestOne(ctx, source, runID, &events[i])
		if err != nil {
			if isInputError(err) {
				res.Skipped++
				itemErrs = append(itemErrs, domain.RunError{
					Timestamp: time.Now().UTC(),
					Message:   err.Error(),
					Context: map[string]any{
						"title": events[i].Title,
						"url":   events[i].URL,
						"index": i,
					},
				})
				p.log.Warn("skipping malformed event",
					logger.String("source_id", source.ID),
					logger.String("run_id", runID),
					logger.Error(err))
				continue
			}
			return res, itemErrs, err
		}

		switch action {
		case database.ActionInserted:
			res.Inserted++
		case database.ActionUpdated:
			res.Updated++
		default:
			res.Unchanged++
		}
		res.NewOccurrences += newOccurrences
	}

	return res, itemErrs, nil
}

// inputError marks a per-event problem the batch survives, as opposed to a
// storage failure that aborts it.
type inputError struct{ err error }

func (e inputError) Error() string { return e.err.Error() }
func (e inputError) Unwrap() error { return e.err }

func isInputError(err error) bool {
	var ie inputError
	return errors.As(err, &ie)
}

func (p *Pipeline) ingestOne(ctx context.Context, source *domain.Source, runID string, in *domain.RawEventInput) (database.UpsertAction, int, error) {
	title := normalize(in.Title)
	if title == "" {
		return "", 0, inputError{fmt.Errorf("missing title")}
	}

	loc, tzName := p.resolveLocation(in, source)

	start, err := parseDatetime(in.Start, loc)
	if err != nil {
		return "", 0, inputError{fmt.Errorf("invalid start: %w", err)}
	}
	end, err := parseOptionalDatetime(in.End, loc)
	if err != nil {
		return "", 0, inputError{fmt.Errorf("invalid end: %w", err)}
	}
	instances, err := parseInstances(in, start, end, loc)
	if err != nil {
		return "", 0, inputError{err}
	}

	occurrenceType := classifyOccurrence(in, instances[0], len(instances))
	recurrence := domain.RecurrenceNone
	if len(instances) > 1 {
		starts := make([]time.Time, len(instances))
		for i, inst := range instances {
			starts[i] = inst.start
		}
		recurrence = inferRecurrence(starts)
	}

	now := time.Now().UTC()
	series := &domain.EventSeries{
		ID:                 uuid.New().String(),
		SourceID:           source.ID,
		SourceEventID:      cleanPtr(in.SourceEventID),
		Title:              title,
		Description:        cleanPtr(in.DescriptionHTML),
		VenueName:          cleanPtr(in.VenueName),
		VenueAddress:       cleanPtr(in.VenueAddress),
		City:               cleanPtr(in.City),
		Region:             cleanPtr(in.Region),
		Country:            cleanPtr(in.Country),
		Lat:                in.Lat,
		Lon:                in.Lon,
		Organizer:          cleanPtr(in.Organizer),
		Category:           cleanPtr(in.Category),
		OccurrenceType:     occurrenceType,
		RecurrenceType:     recurrence,
		EventStatus:        domain.EventScheduled,
		URLPrimary:         normalize(in.URL),
		ImageURL:           cleanPtr(in.ImageURL),
		Raw:                domain.JSONBMap(in.Raw),
		LastUpdatedByRunID: &runID,
	}
	series.ContentHash = SeriesContentHash(series)

	var rawAction database.UpsertAction
	newOccurrences := 0

	txErr := p.repo.WithTx(ctx, func(tx *sqlx.Tx) error {
		// UpsertSeries rewrites series.ID to the surviving row on conflict,
		// so occurrences and the raw row are built after it.
		if _, err := p.repo.UpsertSeries(ctx, tx, series); err != nil {
			return err
		}

		var firstOccurrenceID *string
		for i, inst := range instances {
			occ := &domain.EventOccurrence{
				ID:               uuid.New().String(),
				SeriesID:         series.ID,
				OccurrenceHash:   OccurrenceHash(series.ID, inst.start, inst.end),
				Sequence:         i,
				StartDatetime:    inst.start,
				StartDatetimeUTC: inst.start.UTC(),
				Timezone:         tzName,
				HasRecurrence:    len(instances) > 1,
				ScrapedAt:        now,
			}
			if inst.end != nil {
				endUTC := inst.end.UTC()
				duration := int64(inst.end.Sub(inst.start).Seconds())
				occ.EndDatetime = inst.end
				occ.EndDatetimeUTC = &endUTC
				occ.DurationSeconds = &duration
			}

			action, err := p.repo.UpsertOccurrence(ctx, tx, occ)
			if err != nil {
				return err
			}
			if action == database.ActionInserted {
				newOccurrences++
			}
			if i == 0 {
				firstOccurrenceID = &occ.ID
			}
		}

		raw := &domain.RawEvent{
			ID:                       uuid.New().String(),
			SourceID:                 source.ID,
			RunID:                    &runID,
			SourceEventID:            series.SourceEventID,
			Title:                    title,
			DescriptionHTML:          series.Description,
			StartDatetime:            instances[0].start,
			EndDatetime:              instances[0].end,
			Timezone:                 &tzName,
			VenueName:                series.VenueName,
			VenueAddress:             series.VenueAddress,
			City:                     series.City,
			Region:                   series.Region,
			Country:                  series.Country,
			Lat:                      in.Lat,
			Lon:                      in.Lon,
			Organizer:                series.Organizer,
			Category:                 series.Category,
			Tags:                     pq.StringArray(in.Tags),
			Price:                    cleanPtr(in.Price),
			URL:                      series.URLPrimary,
			ImageURL:                 series.ImageURL,
			Raw:                      domain.JSONBMap(in.Raw),
			ScrapedAt:                now,
			LastUpdatedByRunID:       &runID,
			SeriesID:                 &series.ID,
			OccurrenceID:             firstOccurrenceID,
			InstagramPostID:          cleanPtr(in.InstagramPostID),
			InstagramCaption:         cleanPtr(in.InstagramCaption),
			LocalImagePath:           cleanPtr(in.LocalImagePath),
			IsEventPoster:            in.IsEventPoster,
			ClassificationConfidence: in.ClassificationConfidence,
		}
		raw.ContentHash = RawContentHash(raw)

		action, err := p.repo.UpsertRawEvent(ctx, tx, raw)
		if err != nil {
			return err
		}
		rawAction = action
		return nil
	})
	if txErr != nil {
		return "", 0, txErr
	}

	return rawAction, newOccurrences, nil
}

// resolveLocation picks the timezone bare wall-clock times are read in:
// the event override, then the source default, then UTC. Bad zone names
// degrade with a warning rather than failing the event.
func (p *Pipeline) resolveLocation(in *domain.RawEventInput, source *domain.Source) (*time.Location, string) {
	if in.Timezone != nil && *in.Timezone != "" {
		if loc, err := time.LoadLocation(*in.Timezone); err == nil {
			return loc, *in.Timezone
		}
		p.log.Warn("ignoring invalid event timezone",
			logger.String("timezone", *in.Timezone),
			logger.String("source_id", source.ID))
	}

	if source.DefaultTimezone != "" {
		if loc, err := time.LoadLocation(source.DefaultTimezone); err == nil {
			return loc, source.DefaultTimezone
		}
		p.log.Warn("ignoring invalid source timezone",
			logger.String("timezone", source.DefaultTimezone),
			logger.String("source_id", source.ID))
	}

	return time.UTC, "UTC"
}
