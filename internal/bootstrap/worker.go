package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/export"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/ingest"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/instagram"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logstream"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/match"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/metrics"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/profiling"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/queue"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/runs"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/scheduler"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/scraper"
)

// RunWorker starts the consumer process: queue workers for scraping,
// Instagram harvesting, match sweeps, and schedule fires. It blocks until
// a shutdown signal arrives or a worker fails.
func RunWorker(opts Options) error {
	// Phase 0: Start profiling servers (if enabled)
	profiling.StartPprofServer()

	pyro, err := profiling.StartPyroscope("worker")
	if err != nil {
		return fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}
	if pyro != nil {
		defer func() {
			if stopErr := pyro.Stop(); stopErr != nil {
				fmt.Fprintf(os.Stderr, "failed to stop Pyroscope profiler: %v\n", stopErr)
			}
		}()
	}

	// Phase 1: Config and logger
	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	log, err := CreateLogger(cfg, "worker", opts.Version)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if dirErr := ensureDirectories(cfg); dirErr != nil {
		return dirErr
	}

	// Phase 2: Database
	db, err := SetupDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("failed to close database", logger.Error(closeErr))
		}
	}()

	// Phase 3: Redis
	rdb, err := SetupRedis(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rdb.Close(); closeErr != nil {
			log.Error("failed to close redis", logger.Error(closeErr))
		}
	}()

	// Phase 4: Components
	sources := database.NewSourceRepository(db)
	rawEvents := database.NewRawEventRepository(db)
	series := database.NewSeriesRepository(db)
	canonical := database.NewCanonicalRepository(db)
	matchRepo := database.NewMatchRepository(db)
	exportsRepo := database.NewExportRepository(db)
	schedules := database.NewScheduleRepository(db)
	settings := database.NewSettingsRepository(db)
	runsRepo := database.NewRunRepository(db)
	ingestRepo := database.NewIngestRepository(db)

	queues := queue.NewQueues(queue.NewClientFromRedis(rdb),
		cfg.Queues.Scrape, cfg.Queues.InstagramScrape, cfg.Queues.Match, cfg.Queues.Schedule)
	stream := logstream.NewStream(rdb)
	flags := runs.NewCancelFlags(rdb)

	runSvc := runs.NewService(runsRepo, queues, flags, log)
	ingestor := ingest.NewPipeline(ingestRepo, log)

	registry := scraper.NewRegistry()
	if regErr := registry.Register(scraper.NewWebsiteModule()); regErr != nil {
		return fmt.Errorf("failed to register website module: %w", regErr)
	}

	pool := scraper.NewPool(scraper.EngineConfig{
		PoolSize:  cfg.Scraper.PoolSize,
		Headless:  cfg.Scraper.Headless,
		UserAgent: cfg.Scraper.UserAgent,
	}, log)
	defer pool.Close()

	scrapeRuntime := scraper.NewRuntime(registry, pool, sources, runSvc, ingestor, stream, log,
		scraper.RuntimeConfig{})

	images := instagram.NewImageStore(cfg.Instagram.ImagesDir)
	instagramRuntime := instagram.NewRuntime(sources, settings, runSvc, ingestor, images, stream, log,
		instagram.RuntimeConfig{PostLimit: cfg.Instagram.PostLimit})

	matchHandler := match.NewHandler(match.NewEngine(rawEvents, matchRepo, log), log)

	exportEngine := export.NewEngine(exportsRepo, rawEvents, canonical, series, settings,
		cfg.Exports.Dir, log)
	scheduleHandler := scheduler.NewHandler(schedules, sources, runSvc, queues, exportEngine, log)

	telemetry := metrics.NewProvider()

	// Phase 5: Queue workers
	id := consumerID(cfg)
	consumers := []struct {
		queue       *queue.Queue
		handler     queue.Handler
		concurrency int
	}{
		{queues.Scrape, scrapeRuntime.HandleScrape, cfg.Worker.ScrapeConcurrency},
		{queues.InstagramScrape, instagramRuntime.HandleInstagramScrape, cfg.Worker.InstagramConcurrency},
		{queues.Match, matchHandler.Handle, cfg.Worker.MatchConcurrency},
		{queues.Schedule, scheduleHandler.Handle, cfg.Worker.ScheduleConcurrency},
	}

	workers := make([]*queue.Worker, 0, len(consumers))
	for _, c := range consumers {
		w, buildErr := queue.NewWorker(c.queue, instrumented(telemetry, c.queue.Name(), c.handler), log,
			queue.WorkerConfig{
				ConsumerID:  id,
				Concurrency: c.concurrency,
			})
		if buildErr != nil {
			return fmt.Errorf("failed to build %s worker: %w", c.queue.Name(), buildErr)
		}
		workers = append(workers, w)
	}

	// Phase 6: Consume until SIGINT/SIGTERM or a worker failure
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(workers))
	for _, w := range workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			if runErr := w.Start(runCtx); runErr != nil && !errors.Is(runErr, context.Canceled) {
				select {
				case errCh <- runErr:
				default:
				}
				cancel()
			}
		}()
	}

	log.Info("worker consuming",
		logger.String("consumer_id", id),
		logger.Int("queues", len(workers)))

	wg.Wait()

	select {
	case workerErr := <-errCh:
		return workerErr
	default:
	}
	log.Info("worker stopped")
	return nil
}

// instrumented wraps a job handler with a tracing span and job metrics.
func instrumented(telemetry *metrics.Provider, queueName string, h queue.Handler) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		ctx, span := telemetry.Tracer.Start(ctx, "queue.consume "+job.Name,
			trace.WithAttributes(jobAttributes(queueName, job)...))
		defer span.End()

		start := time.Now()
		err := h(ctx, job)
		telemetry.RecordJob(queueName, err == nil, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}

// jobAttributes extracts span attributes from the job envelope, decoding
// run and source identity where the payload carries them.
func jobAttributes(queueName string, job *queue.Job) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("queue.name", queueName),
		attribute.String("job.name", job.Name),
		attribute.String("job.id", job.ID),
		attribute.Int("job.attempt", job.AttemptsMade+1),
	}

	switch job.Name {
	case domain.JobScrape:
		var p domain.ScrapeJobPayload
		if err := job.UnmarshalPayload(&p); err == nil {
			attrs = append(attrs,
				attribute.String("run.id", p.RunID),
				attribute.String("source.id", p.SourceID))
		}
	case domain.JobInstagramScrape:
		var p domain.InstagramScrapeJobPayload
		if err := job.UnmarshalPayload(&p); err == nil {
			attrs = append(attrs, attribute.String("source.id", p.AccountID))
			if p.RunID != nil {
				attrs = append(attrs, attribute.String("run.id", *p.RunID))
			}
		}
	case domain.JobScheduleTrigger:
		var p domain.ScheduleTriggerPayload
		if err := job.UnmarshalPayload(&p); err == nil {
			attrs = append(attrs, attribute.String("schedule.id", p.ScheduleID))
		}
	}
	return attrs
}
