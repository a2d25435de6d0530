package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/api"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/export"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logstream"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/match"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/metrics"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/profiling"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/queue"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/runs"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/scheduler"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/server"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/sse"
)

// queueDepthInterval is how often queue depth gauges are resampled.
const queueDepthInterval = 15 * time.Second

// RunAPI starts the HTTP process: REST façade, SSE log streaming, the
// scheduler singleton, and the export engine. It blocks until a shutdown
// signal arrives or startup fails.
func RunAPI(opts Options) error {
	// Phase 0: Start profiling servers (if enabled)
	profiling.StartPprofServer()

	pyro, err := profiling.StartPyroscope("api")
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
	log, err := CreateLogger(cfg, "api", opts.Version)
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

	queues := queue.NewQueues(queue.NewClientFromRedis(rdb),
		cfg.Queues.Scrape, cfg.Queues.InstagramScrape, cfg.Queues.Match, cfg.Queues.Schedule)
	stream := logstream.NewStream(rdb)
	flags := runs.NewCancelFlags(rdb)

	runSvc := runs.NewService(runsRepo, queues, flags, log)
	matchSvc := match.NewService(matchRepo, rawEvents, canonical, log)
	exportEngine := export.NewEngine(exportsRepo, rawEvents, canonical, series, settings,
		cfg.Exports.Dir, log)
	sched := scheduler.New(schedules, queues, log)
	streamer := sse.NewStreamer(stream, log)
	telemetry := metrics.NewProvider()

	router := api.NewRouter(api.Deps{
		DB:    db,
		Redis: rdb,

		Sources:   sources,
		RawEvents: rawEvents,
		Series:    series,
		Exports:   exportsRepo,
		Schedules: schedules,
		Settings:  settings,

		Runs:         runSvc,
		Matches:      matchSvc,
		ExportEngine: exportEngine,
		Scheduler:    sched,
		Queues:       queues,
		Stream:       stream,
		Streamer:     streamer,

		Metrics: telemetry,
		Log:     log,
	}, api.Config{
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimitMax:    cfg.Server.RateLimitMax,
		RateLimitWindow: cfg.Server.RateLimitWindow,
		Debug:           cfg.IsDevelopment(),
	})

	// Phase 5: Serve
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if startErr := sched.Start(ctx); startErr != nil {
		return fmt.Errorf("failed to start scheduler: %w", startErr)
	}
	defer sched.Stop()

	go sampleQueueDepths(ctx, queues, telemetry, log)

	srv := server.New(server.Config{
		Address:      cfg.Server.Address(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, router.Routes())

	log.Info("api listening", logger.String("address", cfg.Server.Address()))

	// Phase 6: Graceful shutdown on SIGINT/SIGTERM
	return server.RunWithGracefulShutdownTimeout(ctx, srv, log, cfg.Server.ShutdownTimeout)
}

// sampleQueueDepths polls live queue counts into the depth gauges until
// ctx is cancelled.
func sampleQueueDepths(ctx context.Context, queues *queue.Queues, telemetry *metrics.Provider, log logger.Logger) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, q := range queues.All() {
				counts, err := q.GetCounts(ctx)
				if err != nil {
					log.Warn("failed to sample queue depth",
						logger.String("queue", q.Name()), logger.Error(err))
					continue
				}
				telemetry.SetQueueDepth(q.Name(), "waiting", counts.Waiting)
				telemetry.SetQueueDepth(q.Name(), "active", counts.Active)
				telemetry.SetQueueDepth(q.Name(), "delayed", counts.Delayed)
			}
		}
	}
}
