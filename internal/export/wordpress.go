package export

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/wordpress"
)

// uploadSpacing is the delay between posts, keeping the target site's
// rate limits comfortable.
const uploadSpacing = 500 * time.Millisecond

// wpTimeLayout renders event times as local wall clock; the post carries
// the zone name separately.
const wpTimeLayout = "2006-01-02T15:04:05"

const (
	uploadCreated = "created"
	uploadUpdated = "updated"
	uploadSkipped = "skipped"
	uploadError   = "error"
)

// WordPressClient is the slice of the wordpress client surface the
// uploader calls.
type WordPressClient interface {
	FindEventByExternalID(ctx context.Context, externalID string) (*wordpress.PostRef, error)
	CreateEvent(ctx context.Context, post wordpress.EventPost) (int, error)
	UpdateEvent(ctx context.Context, postID int, post wordpress.EventPost) (int, error)
	UploadMedia(ctx context.Context, filename, contentType string, data []byte) (int, error)
	DownloadImage(ctx context.Context, imageURL string) ([]byte, string, error)
}

// UploadResult records the outcome for one post.
type UploadResult struct {
	EventID    string `json:"event_id"`
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	PostID     int    `json:"post_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// UploadSummary counts post outcomes across one upload run.
type UploadSummary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// ItemCount is the export row's item_count: every post that reached a
// decided non-error state.
func (s UploadSummary) ItemCount() int {
	return s.Created + s.Updated + s.Skipped
}

// Uploader pushes raw events into one WordPress site. Recurring events
// fan out to one post per occurrence, each matched and counted
// individually.
type Uploader struct {
	client     WordPressClient
	series     *database.SeriesRepository
	settings   *domain.WordPressSettings
	postStatus string
	limiter    *rate.Limiter
	log        logger.Logger
}

// NewUploader builds an uploader for one settings row. postStatus is the
// WordPress post status new posts get; spacing paces successive posts
// and is unlimited when zero.
func NewUploader(
	client WordPressClient,
	series *database.SeriesRepository,
	settings *domain.WordPressSettings,
	postStatus string,
	spacing time.Duration,
	log logger.Logger,
) *Uploader {
	return &Uploader{
		client:     client,
		series:     series,
		settings:   settings,
		postStatus: postStatus,
		limiter:    rate.NewLimiter(rate.Every(spacing), 1),
		log:        log,
	}
}

// postUnit is one post to reconcile: a whole event, or one occurrence of
// a recurring series.
type postUnit struct {
	externalID string
	start      time.Time
	end        *time.Time
}

// Run uploads every event, pacing posts at the configured spacing. API
// failures are recorded per post and do not stop the run; storage
// failures and context cancellation abort with the partial results
// accumulated so far.
func (u *Uploader) Run(ctx context.Context, events []domain.RawEvent) (UploadSummary, []UploadResult, error) {
	var summary UploadSummary
	results := make([]UploadResult, 0, len(events))

	for i := range events {
		event := &events[i]

		units, err := u.expandUnits(ctx, event)
		if err != nil {
			return summary, results, err
		}
		mediaID := u.resolveMedia(ctx, event)

		for _, unit := range units {
			if waitErr := u.limiter.Wait(ctx); waitErr != nil {
				return summary, results, fmt.Errorf("upload interrupted: %w", waitErr)
			}

			result := u.uploadUnit(ctx, event, unit, mediaID)
			results = append(results, result)

			switch result.Status {
			case uploadCreated:
				summary.Created++
			case uploadUpdated:
				summary.Updated++
			case uploadSkipped:
				summary.Skipped++
			case uploadError:
				summary.Errors++
			}
		}
	}

	u.log.Info("wordpress upload finished",
		logger.Int("created", summary.Created),
		logger.Int("updated", summary.Updated),
		logger.Int("skipped", summary.Skipped),
		logger.Int("errors", summary.Errors))

	return summary, results, nil
}

// expandUnits fans a recurring event out to one unit per occurrence.
// Occurrence units carry sequence-suffixed external ids so each post
// reconciles independently on later runs.
func (u *Uploader) expandUnits(ctx context.Context, event *domain.RawEvent) ([]postUnit, error) {
	if event.SeriesID != nil {
		occurrences, err := u.series.ListOccurrences(ctx, *event.SeriesID)
		if err != nil {
			return nil, fmt.Errorf("failed to expand occurrences for %s: %w", event.ID, err)
		}
		if len(occurrences) > 1 {
			units := make([]postUnit, len(occurrences))
			for i := range occurrences {
				units[i] = postUnit{
					externalID: fmt.Sprintf("%s-%d", event.ID, occurrences[i].Sequence),
					start:      occurrences[i].StartDatetimeUTC,
					end:        occurrences[i].EndDatetimeUTC,
				}
			}
			return units, nil
		}
	}

	return []postUnit{{externalID: event.ID, start: event.StartDatetime, end: event.EndDatetime}}, nil
}

// resolveMedia uploads the event image once and returns the attachment
// id, or 0 when media is disabled, absent, or failed. A failed image
// never blocks the post itself.
func (u *Uploader) resolveMedia(ctx context.Context, event *domain.RawEvent) int {
	if !u.settings.IncludeMedia || event.ImageURL == nil {
		return 0
	}

	data, contentType, err := u.client.DownloadImage(ctx, *event.ImageURL)
	if err != nil {
		u.log.Warn("event image download failed",
			logger.String("event_id", event.ID),
			logger.String("image_url", *event.ImageURL),
			logger.Error(err))
		return 0
	}

	mediaID, err := u.client.UploadMedia(ctx, wordpress.MediaFilename(*event.ImageURL), contentType, data)
	if err != nil {
		u.log.Warn("event image upload failed",
			logger.String("event_id", event.ID),
			logger.Error(err))
		return 0
	}

	return mediaID
}

func (u *Uploader) uploadUnit(ctx context.Context, event *domain.RawEvent, unit postUnit, mediaID int) UploadResult {
	result := UploadResult{EventID: event.ID, ExternalID: unit.externalID, Title: event.Title}

	existing, err := u.client.FindEventByExternalID(ctx, unit.externalID)
	if err != nil {
		result.Status = uploadError
		result.Error = err.Error()
		return result
	}

	if existing != nil && !u.settings.UpdateIfExists {
		result.Status = uploadSkipped
		result.PostID = existing.ID
		return result
	}

	post := u.buildPost(event, unit, mediaID)
	if existing != nil {
		postID, updateErr := u.client.UpdateEvent(ctx, existing.ID, post)
		if updateErr != nil {
			result.Status = uploadError
			result.Error = updateErr.Error()
			return result
		}
		result.Status = uploadUpdated
		result.PostID = postID
		return result
	}

	postID, createErr := u.client.CreateEvent(ctx, post)
	if createErr != nil {
		result.Status = uploadError
		result.Error = createErr.Error()
		return result
	}
	result.Status = uploadCreated
	result.PostID = postID
	return result
}

// buildPost translates one unit into the site's event post shape, with
// times rendered in the event's own timezone.
func (u *Uploader) buildPost(event *domain.RawEvent, unit postUnit, mediaID int) wordpress.EventPost {
	loc := eventLocation(event)

	post := wordpress.EventPost{
		Title:         event.Title,
		Content:       deref(event.DescriptionHTML),
		Status:        u.postStatus,
		Author:        u.settings.DefaultAuthorID,
		ExternalID:    unit.externalID,
		StartDate:     unit.start.In(loc).Format(wpTimeLayout),
		Timezone:      deref(event.Timezone),
		VenueName:     deref(event.VenueName),
		VenueAddress:  deref(event.VenueAddress),
		Organizer:     deref(event.Organizer),
		Cost:          deref(event.Price),
		Website:       event.URL,
		Categories:    u.settings.CategoryIDsForSource(event.SourceID),
		FeaturedMedia: mediaID,
	}
	if unit.end != nil {
		post.EndDate = unit.end.In(loc).Format(wpTimeLayout)
	}

	return post
}

func eventLocation(event *domain.RawEvent) *time.Location {
	if event.Timezone == nil {
		return time.UTC
	}
	loc, err := time.LoadLocation(*event.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
