package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/ingest"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logstream"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/queue"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/runs"
)

// DefaultBatchSize is how many events one ingestion call carries.
const DefaultBatchSize = 50

const defaultCancelPoll = 2 * time.Second

// Ingestor persists scraped events. Implemented by ingest.Pipeline.
type Ingestor interface {
	IngestBatch(ctx context.Context, source *domain.Source, runID string, events []domain.RawEventInput) (ingest.Result, []domain.RunError, error)
}

// RuntimeConfig tunes the scrape runtime.
type RuntimeConfig struct {
	// BatchSize is the ingestion batch size. Zero means DefaultBatchSize.
	BatchSize int
	// CancelPoll is how often a running scrape checks its cancel flag.
	// Zero means two seconds.
	CancelPoll time.Duration
}

// Runtime consumes the scrape queue: it resolves the source and module for
// each job, leases a page from the pool, runs the module, ingests what came
// back in batches, and finalizes the run. One Runtime is shared by all
// worker goroutines.
type Runtime struct {
	registry *Registry
	pool     *Pool
	sources  *database.SourceRepository
	runs     *runs.Service
	ingestor Ingestor
	stream   *logstream.Stream
	log      logger.Logger

	batchSize  int
	cancelPoll time.Duration
}

// NewRuntime wires the scrape runtime.
func NewRuntime(
	registry *Registry,
	pool *Pool,
	sources *database.SourceRepository,
	runSvc *runs.Service,
	ingestor Ingestor,
	stream *logstream.Stream,
	log logger.Logger,
	cfg RuntimeConfig,
) *Runtime {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.CancelPoll <= 0 {
		cfg.CancelPoll = defaultCancelPoll
	}
	return &Runtime{
		registry:   registry,
		pool:       pool,
		sources:    sources,
		runs:       runSvc,
		ingestor:   ingestor,
		stream:     stream,
		log:        log,
		batchSize:  cfg.BatchSize,
		cancelPoll: cfg.CancelPoll,
	}
}

// HandleScrape runs one scrape job end to end. A returned error requeues
// the job while attempts remain; cancelled and already-finalized runs
// complete the job without retrying.
func (r *Runtime) HandleScrape(ctx context.Context, job *queue.Job) error {
	var payload domain.ScrapeJobPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("failed to decode scrape payload: %w", err)
	}

	run, err := r.startRun(ctx, payload.RunID)
	if err != nil {
		return err
	}
	if run == nil {
		r.log.Info("run already finalized, dropping job",
			logger.String("run_id", payload.RunID),
			logger.String("job_id", job.ID))
		return nil
	}

	rlog := logstream.NewRunLogger(ctx, r.stream, r.log, run.ID, payload.ModuleKey)

	source, err := r.sources.GetByID(ctx, payload.SourceID)
	if err != nil {
		return r.fail(ctx, job, run, rlog, fmt.Errorf("failed to load source %s: %w", payload.SourceID, err))
	}
	module, err := r.registry.Get(payload.ModuleKey)
	if err != nil {
		return r.fail(ctx, job, run, rlog, err)
	}

	rlog.Info(fmt.Sprintf("scraping %s", source.Name), map[string]any{
		"module_key": module.Key(),
		"test_mode":  payload.TestMode,
		"attempt":    job.AttemptsMade,
	})

	scrapeCtx, stopWatch := r.watchCancel(ctx, job.ID)
	defer stopWatch()

	lease, err := r.pool.Acquire(scrapeCtx)
	if err != nil {
		return r.fail(ctx, job, run, rlog, fmt.Errorf("failed to lease a page: %w", err))
	}
	defer lease.Release()

	stats := &Stats{}
	rctx := &RunContext{
		Source: source,
		Logger: rlog,
		Page:   lease.Page(source.RateLimitPerMin),
		Job:    jobDataFromPayload(payload),
		Stats:  stats,
	}

	result, moduleErr := module.Run(scrapeCtx, rctx)
	if result == nil {
		result = &domain.ScrapeResult{}
	}

	run.PagesCrawled = result.PagesCrawled
	if crawled := stats.PagesCrawled(); crawled > run.PagesCrawled {
		run.PagesCrawled = crawled
	}
	run.Errors = append(run.Errors, result.Errors...)

	cancelled := r.flags().Requested(ctx, job.ID)

	if moduleErr != nil && !cancelled {
		if len(result.Events) == 0 {
			return r.fail(ctx, job, run, rlog, fmt.Errorf("scraper module failed: %w", moduleErr))
		}
		// A partial harvest is worth keeping; the failure rides along as a
		// run error instead of discarding the events.
		run.Errors = append(run.Errors, runError(
			fmt.Sprintf("scraper module failed after %d events: %v", len(result.Events), moduleErr), nil))
		rlog.Warn("module failed mid-scrape, ingesting what was collected",
			map[string]any{"events": len(result.Events)})
	}

	if !cancelled {
		var ingErr error
		cancelled, ingErr = r.ingestAll(ctx, job.ID, source, run, rlog, result.Events)
		if ingErr != nil {
			return r.fail(ctx, job, run, rlog, ingErr)
		}
	}

	if cancelled {
		rlog.Warn("scrape cancelled, finalizing run")
		if err := r.runs.FinalizeCancelled(ctx, run); err != nil {
			return fmt.Errorf("failed to finalize cancelled run %s: %w", run.ID, err)
		}
		return nil
	}

	run.Status = domain.RunStatusSuccess
	if len(run.Errors) > 0 {
		run.Status = domain.RunStatusPartial
	}
	if err := r.runs.Finish(ctx, run); err != nil {
		return fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}

	rlog.Info("scrape finished", map[string]any{
		"status":        string(run.Status),
		"events_found":  run.EventsFound,
		"pages_crawled": run.PagesCrawled,
		"errors":        len(run.Errors),
	})
	return nil
}

// ingestAll persists events in batches, rechecking the cancel flag between
// batches so a cancellation keeps completed batches and drops the rest.
func (r *Runtime) ingestAll(
	ctx context.Context, jobID string, source *domain.Source, run *domain.Run,
	rlog *logstream.RunLogger, events []domain.RawEventInput,
) (cancelled bool, err error) {
	for start := 0; start < len(events); start += r.batchSize {
		end := start + r.batchSize
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

// startRun transitions the run to running. Redelivered jobs resume a run
// that is already running and drop one that is already terminal, returned
// as (nil, nil).
func (r *Runtime) startRun(ctx context.Context, runID string) (*domain.Run, error) {
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

// fail records a job failure. While attempts remain the run stays running
// and the error propagates so the queue redelivers; on the last attempt the
// run is finalized as errored.
func (r *Runtime) fail(ctx context.Context, job *queue.Job, run *domain.Run, rlog *logstream.RunLogger, cause error) error {
	rlog.Error(cause.Error(), map[string]any{"attempt": job.AttemptsMade})

	if job.AttemptsMade < job.MaxAttempts {
		return cause
	}

	run.Status = domain.RunStatusError
	run.Errors = append(run.Errors, runError(cause.Error(), nil))
	if err := r.runs.Finish(ctx, run); err != nil {
		r.log.Warn("failed to finalize errored run",
			logger.String("run_id", run.ID),
			logger.Error(err))
	}
	return cause
}

// watchCancel derives a context that is cancelled once the job's cancel
// flag is raised, so in-flight fetches unwind promptly.
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

func jobDataFromPayload(p domain.ScrapeJobPayload) JobData {
	mode := p.ScrapeMode
	if mode == "" {
		mode = ScrapeModeFull
	}
	return JobData{
		TestMode:          p.TestMode,
		ScrapeMode:        mode,
		PaginationOptions: p.PaginationOptions,
		UploadedFile:      p.UploadedFile,
	}
}
