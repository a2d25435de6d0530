package instagram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/ingest"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logstream"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/queue"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/runs"
)

const (
	// DefaultPostLimit is how many recent posts one job pulls when the
	// payload does not say.
	DefaultPostLimit = 20
	// DefaultBatchSize is how many events one ingestion call carries.
	DefaultBatchSize = 50

	defaultCancelPoll = 2 * time.Second

	maxTitleLength = 120
)

// Ingestor persists scraped events. Implemented by ingest.Pipeline.
type Ingestor interface {
	IngestBatch(ctx context.Context, source *domain.Source, runID string, events []domain.RawEventInput) (ingest.Result, []domain.RunError, error)
}

// BackendFactory builds the backend for a scraper type. Swappable for
// tests; defaults to ResolveBackend.
type BackendFactory func(scraperType domain.InstagramScraperType, cfg BackendConfig, log logger.Logger) (Backend, error)

// RuntimeConfig tunes the Instagram runtime.
type RuntimeConfig struct {
	// PostLimit caps posts per pull when the job has no limit.
	PostLimit int
	// BatchSize is the ingestion batch size.
	BatchSize int
	// CancelPoll is how often a running job checks its cancel flag.
	CancelPoll time.Duration
	// NewBackend overrides backend construction.
	NewBackend BackendFactory
	// NewClassifier overrides classifier construction.
	NewClassifier ClassifierFactory
}

// Runtime consumes the Instagram scrape queue: per job it resolves the
// account and its backend, pulls recent posts, stores their images,
// optionally classifies captions, and ingests the resulting events. Child
// runs report into their parent through the runs service on finish.
type Runtime struct {
	sources  *database.SourceRepository
	settings *database.SettingsRepository
	runs     *runs.Service
	ingestor Ingestor
	images   *ImageStore
	stream   *logstream.Stream
	log      logger.Logger

	postLimit     int
	batchSize     int
	cancelPoll    time.Duration
	newBackend    BackendFactory
	newClassifier ClassifierFactory
}

// NewRuntime wires the Instagram runtime.
func NewRuntime(
	sources *database.SourceRepository,
	settings *database.SettingsRepository,
	runSvc *runs.Service,
	ingestor Ingestor,
	images *ImageStore,
	stream *logstream.Stream,
	log logger.Logger,
	cfg RuntimeConfig,
) *Runtime {
	if cfg.PostLimit <= 0 {
		cfg.PostLimit = DefaultPostLimit
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.CancelPoll <= 0 {
		cfg.CancelPoll = defaultCancelPoll
	}
	if cfg.NewBackend == nil {
		cfg.NewBackend = ResolveBackend
	}
	if cfg.NewClassifier == nil {
		cfg.NewClassifier = func(apiKey string) Classifier {
			return NewAnthropicClassifier(apiKey, DefaultClassifierModel, log)
		}
	}

	return &Runtime{
		sources:       sources,
		settings:      settings,
		runs:          runSvc,
		ingestor:      ingestor,
		images:        images,
		stream:        stream,
		log:           log,
		postLimit:     cfg.PostLimit,
		batchSize:     cfg.BatchSize,
		cancelPoll:    cfg.CancelPoll,
		newBackend:    cfg.NewBackend,
		newClassifier: cfg.NewClassifier,
	}
}

// HandleInstagramScrape runs one account pull end to end. A returned
// error requeues the job while attempts remain; cancelled and
// already-finalized runs complete the job without retrying.
func (r *Runtime) HandleInstagramScrape(ctx context.Context, job *queue.Job) error {
	var payload domain.InstagramScrapeJobPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("failed to decode instagram scrape payload: %w", err)
	}

	// Jobs enqueued without a run row get one here. Such a run cannot be
	// resumed by a redelivery, so failures always finalize it.
	resumable := payload.RunID != nil

	run, err := r.resolveRun(ctx, job, payload)
	if err != nil {
		return err
	}
	if run == nil {
		r.log.Info("run already finalized, dropping job",
			logger.String("job_id", job.ID))
		return nil
	}

	rlog := logstream.NewRunLogger(ctx, r.stream, r.log, run.ID, "instagram")

	source, err := r.sources.GetByID(ctx, payload.AccountID)
	if err != nil {
		return r.fail(ctx, job, run, rlog, resumable, fmt.Errorf("failed to load account %s: %w", payload.AccountID, err))
	}
	if source.SourceType != domain.SourceTypeInstagram {
		return r.fail(ctx, job, run, rlog, resumable, fmt.Errorf("source %s is not an instagram account", source.ID))
	}
	if source.InstagramUsername == nil || *source.InstagramUsername == "" {
		return r.fail(ctx, job, run, rlog, resumable, fmt.Errorf("source %s has no instagram username", source.ID))
	}
	username := *source.InstagramUsername

	settings, err := r.settings.GetSystem(ctx)
	if err != nil {
		return r.fail(ctx, job, run, rlog, resumable, fmt.Errorf("failed to load system settings: %w", err))
	}

	backendCfg, err := BackendConfigFrom(source.Config)
	if err != nil {
		return r.fail(ctx, job, run, rlog, resumable, err)
	}
	backend, err := r.newBackend(settings.ScraperTypeFor(source), backendCfg, r.log)
	if err != nil {
		return r.fail(ctx, job, run, rlog, resumable, err)
	}

	scrapeCtx, stopWatch := r.watchCancel(ctx, job.ID)
	defer stopWatch()

	limit := payload.PostLimit
	if limit <= 0 {
		limit = r.postLimit
	}

	rlog.Info(fmt.Sprintf("pulling posts for @%s", username), map[string]any{
		"limit":   limit,
		"attempt": job.AttemptsMade,
	})

	posts, err := backend.FetchPosts(scrapeCtx, username, limit)
	cancelled := r.flags().Requested(ctx, job.ID)
	if err != nil && !cancelled {
		return r.fail(ctx, job, run, rlog, resumable, fmt.Errorf("failed to fetch posts: %w", err))
	}
	run.PagesCrawled = len(posts)

	classifier := r.classifierFor(source, settings, run, rlog)

	var events []domain.RawEventInput
	skipped := 0
	if !cancelled {
		events, skipped, cancelled = r.collectEvents(ctx, scrapeCtx, job.ID, username, posts, classifier, run, rlog)
	}

	if !cancelled {
		var ingErr error
		cancelled, ingErr = r.ingestAll(ctx, job.ID, source, run, rlog, events, payload.BatchSize)
		if ingErr != nil {
			return r.fail(ctx, job, run, rlog, resumable, ingErr)
		}
	}

	if cancelled {
		rlog.Warn("instagram scrape cancelled, finalizing run")
		if err := r.runs.FinalizeCancelled(ctx, run); err != nil {
			return fmt.Errorf("failed to finalize cancelled run %s: %w", run.ID, err)
		}
		return nil
	}

	if err := r.sources.TouchLastChecked(ctx, source.ID); err != nil {
		r.log.Warn("failed to record account check time",
			logger.String("source_id", source.ID),
			logger.Error(err))
	}

	run.Status = domain.RunStatusSuccess
	if len(run.Errors) > 0 {
		run.Status = domain.RunStatusPartial
	}
	if err := r.runs.Finish(ctx, run); err != nil {
		return fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}

	rlog.Info("instagram scrape finished", map[string]any{
		"status":       string(run.Status),
		"posts":        len(posts),
		"events_found": run.EventsFound,
		"non_events":   skipped,
		"errors":       len(run.Errors),
	})
	return nil
}

// classifierFor builds the caption classifier when the account wants auto
// classification and an API key is configured. A missing key downgrades
// to manual with a run error rather than failing the pull.
func (r *Runtime) classifierFor(
	source *domain.Source, settings *domain.SystemSettings, run *domain.Run, rlog *logstream.RunLogger,
) Classifier {
	if source.ClassificationMode == nil || *source.ClassificationMode != domain.ClassificationAuto {
		return nil
	}
	if settings.AIAPIKey == nil || *settings.AIAPIKey == "" {
		rlog.Warn("caption classification skipped: no AI API key configured")
		run.Errors = append(run.Errors, runErr("caption classification skipped: no AI API key configured", nil))
		return nil
	}
	return r.newClassifier(*settings.AIAPIKey)
}

// collectEvents turns posts into raw events: image download, optional
// classification, field mapping. Non-poster posts are dropped under auto
// classification; per-post failures become run errors and the pull
// continues.
func (r *Runtime) collectEvents(
	ctx, scrapeCtx context.Context, jobID, username string, posts []Post,
	classifier Classifier, run *domain.Run, rlog *logstream.RunLogger,
) (events []domain.RawEventInput, skipped int, cancelled bool) {
	events = make([]domain.RawEventInput, 0, len(posts))

	for _, post := range posts {
		if r.flags().Requested(ctx, jobID) {
			return events, skipped, true
		}

		localPath, imgErr := r.images.Save(scrapeCtx, username, post)
		if imgErr != nil {
			run.Errors = append(run.Errors, runErr(
				fmt.Sprintf("image download failed: %v", imgErr),
				map[string]any{"post_id": post.ID}))
		}

		event := eventFromPost(post, localPath)

		if classifier != nil {
			cls, clsErr := classifier.Classify(scrapeCtx, post.Caption)
			switch {
			case clsErr != nil:
				// The post still lands, unclassified, for manual review.
				run.Errors = append(run.Errors, runErr(
					fmt.Sprintf("classification failed: %v", clsErr),
					map[string]any{"post_id": post.ID}))
			case !cls.IsEventPoster:
				skipped++
				continue
			default:
				applyClassification(&event, cls)
			}
		}

		events = append(events, event)
	}

	if skipped > 0 {
		rlog.Info(fmt.Sprintf("dropped %d non-event posts", skipped))
	}
	return events, skipped, false
}

// ingestAll persists events in batches, rechecking the cancel flag
// between batches.
func (r *Runtime) ingestAll(
	ctx context.Context, jobID string, source *domain.Source, run *domain.Run,
	rlog *logstream.RunLogger, events []domain.RawEventInput, batchSize int,
) (cancelled bool, err error) {
	if batchSize <= 0 {
		batchSize = r.batchSize
	}

	for start := 0; start < len(events); start += batchSize {
		end := start + batchSize
		if end > len(events) {
			end = len(events)
		}

		res, itemErrs, err := r.ingestor.IngestBatch(ctx, source, run.ID, events[start:end])
		if err != nil {
			return false, fmt.Errorf("ingestion failed: %w", err)
		}
		run.EventsFound += res.Total()
		run.Errors = append(run.Errors, itemErrs...)

		rlog.Info(fmt.Sprintf("ingested batch of %d", end-start), map[string]any{
			"inserted":  res.Inserted,
			"updated":   res.Updated,
			"unchanged": res.Unchanged,
			"skipped":   res.Skipped,
		})

		if r.flags().Requested(ctx, jobID) {
			return true, nil
		}
	}
	return false, nil
}

// resolveRun starts the payload's run, or creates and starts a fresh one
// for jobs enqueued without a run row. Redelivered jobs resume a running
// run and drop a terminal one, returned as (nil, nil).
func (r *Runtime) resolveRun(ctx context.Context, job *queue.Job, payload domain.InstagramScrapeJobPayload) (*domain.Run, error) {
	if payload.RunID == nil {
		created, err := r.runs.Create(ctx, runs.CreateParams{
			SourceID:    payload.AccountID,
			ParentRunID: payload.ParentRunID,
			Metadata:    domain.JSONBMap{domain.RunMetaJobID: job.ID},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		return r.runs.Start(ctx, created.ID)
	}

	runID := *payload.RunID
	run, err := r.runs.Start(ctx, runID)
	if err == nil {
		return run, nil
	}

	existing, getErr := r.runs.Get(ctx, runID)
	if getErr != nil {
		return nil, fmt.Errorf("failed to start run %s: %w", runID, err)
	}
	switch {
	case existing.Status == domain.RunStatusRunning:
		return existing, nil
	case existing.Status.Terminal():
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to start run %s: %w", runID, err)
	}
}

// fail records a job failure. Resumable runs stay running while attempts
// remain so the queue can redeliver; otherwise the run finalizes as
// errored.
func (r *Runtime) fail(
	ctx context.Context, job *queue.Job, run *domain.Run,
	rlog *logstream.RunLogger, resumable bool, cause error,
) error {
	rlog.Error(cause.Error(), map[string]any{"attempt": job.AttemptsMade})

	if resumable && job.AttemptsMade < job.MaxAttempts {
		return cause
	}

	run.Status = domain.RunStatusError
	run.Errors = append(run.Errors, runErr(cause.Error(), nil))
	if err := r.runs.Finish(ctx, run); err != nil {
		r.log.Warn("failed to finalize errored run",
			logger.String("run_id", run.ID),
			logger.Error(err))
	}
	return cause
}

// watchCancel derives a context cancelled once the job's cancel flag is
// raised, so a slow backend pull unwinds promptly.
func (r *Runtime) watchCancel(ctx context.Context, jobID string) (context.Context, context.CancelFunc) {
	scrapeCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(r.cancelPoll)
		defer ticker.Stop()
		for {
			select {
			case <-scrapeCtx.Done():
				return
			case <-ticker.C:
				if r.flags().Requested(ctx, jobID) {
					cancel()
					return
				}
			}
		}
	}()

	return scrapeCtx, cancel
}

func (r *Runtime) flags() *runs.CancelFlags {
	return r.runs.Flags()
}

// eventFromPost maps one post to a raw event. The post id is the stable
// source event id, so re-pulls re-ingest instead of duplicating.
func eventFromPost(post Post, localPath string) domain.RawEventInput {
	id := post.ID

	event := domain.RawEventInput{
		SourceEventID:   &id,
		Title:           captionTitle(post),
		URL:             post.URL,
		InstagramPostID: &id,
		Raw: map[string]any{
			"caption":  post.Caption,
			"imageUrl": post.ImageURL,
		},
	}
	if event.URL == "" {
		event.URL = fmt.Sprintf("https://www.instagram.com/p/%s/", post.ID)
	}
	if !post.TakenAt.IsZero() {
		event.Start = post.TakenAt.UTC().Format(time.RFC3339)
		event.Raw["takenAt"] = post.TakenAt.UTC().Format(time.RFC3339)
	}
	if post.Caption != "" {
		caption := post.Caption
		event.InstagramCaption = &caption
	}
	if post.ImageURL != "" {
		imageURL := post.ImageURL
		event.ImageURL = &imageURL
	}
	if localPath != "" {
		path := localPath
		event.LocalImagePath = &path
	}
	return event
}

// applyClassification overlays extracted fields onto the post-derived
// event. Extracted values win; the post timestamp stays only when no
// start was extracted.
func applyClassification(event *domain.RawEventInput, cls *Classification) {
	isPoster := true
	event.IsEventPoster = &isPoster
	confidence := cls.Confidence
	event.ClassificationConfidence = &confidence

	if cls.Title != "" {
		event.Title = cls.Title
	}
	if cls.Start != "" {
		event.Start = cls.Start
	}
	setOptional(&event.End, cls.End)
	setOptional(&event.VenueName, cls.VenueName)
	setOptional(&event.VenueAddress, cls.VenueAddress)
	setOptional(&event.City, cls.City)
	setOptional(&event.Organizer, cls.Organizer)
	setOptional(&event.Category, cls.Category)
	setOptional(&event.Price, cls.Price)
}

// captionTitle derives a title from the caption's first line.
func captionTitle(post Post) string {
	for _, line := range strings.Split(post.Caption, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > maxTitleLength {
			return string(runes[:maxTitleLength])
		}
		return line
	}
	return "Instagram post " + post.ID
}

func setOptional(dst **string, value string) {
	if value != "" {
		*dst = &value
	}
}

func runErr(message string, context map[string]any) domain.RunError {
	return domain.RunError{
		Timestamp: time.Now().UTC(),
		Message:   message,
		Context:   context,
	}
}
