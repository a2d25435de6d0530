// Package api exposes the admin HTTP surface: source and schedule
// management, run triggers, live log streaming, match review, exports,
// and settings. Handlers stay thin; they validate, call the owning
// component, and shape the JSON response.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/export"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logstream"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/match"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/metrics"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/queue"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/runs"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/scheduler"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/sse"
)

// Health constants.
const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
	healthCheckTimeout   = 2 * time.Second
	serviceName          = "eventscrape-api"
)

// Config carries the HTTP-boundary knobs the router needs.
type Config struct {
	// CORSOrigins lists the origins allowed to call the API; "*" allows all.
	CORSOrigins []string
	// RateLimitMax is the request budget per RateLimitWindow; zero disables
	// rate limiting.
	RateLimitMax int
	// RateLimitWindow is the refill window for the request budget.
	RateLimitWindow time.Duration
	// Debug keeps gin in debug mode.
	Debug bool
}

// Deps bundles the components the handlers call.
type Deps struct {
	DB    *sqlx.DB
	Redis *redis.Client

	Sources   *database.SourceRepository
	RawEvents *database.RawEventRepository
	Series    *database.SeriesRepository
	Exports   *database.ExportRepository
	Schedules *database.ScheduleRepository
	Settings  *database.SettingsRepository

	Runs         *runs.Service
	Matches      *match.Service
	ExportEngine *export.Engine
	Scheduler    *scheduler.Scheduler
	Queues       *queue.Queues
	Stream       *logstream.Stream
	Streamer     *sse.Streamer

	Metrics *metrics.Provider
	Log     logger.Logger
}

// Router holds the API dependencies.
type Router struct {
	deps Deps
	cfg  Config
}

// NewRouter creates a new API router.
func NewRouter(deps Deps, cfg Config) *Router {
	return &Router{deps: deps, cfg: cfg}
}

// Routes builds the gin engine with the full middleware stack and every
// endpoint registered.
func (r *Router) Routes() *gin.Engine {
	if !r.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(r.deps.Log))
	engine.Use(corsMiddleware(r.cfg.CORSOrigins))
	if r.cfg.RateLimitMax > 0 {
		engine.Use(rateLimitMiddleware(r.cfg.RateLimitMax, r.cfg.RateLimitWindow))
	}
	if r.deps.Metrics != nil {
		engine.Use(metricsMiddleware(r.deps.Metrics))
	}

	engine.GET("/health", r.health)
	if r.deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(r.deps.Metrics.Handler()))
	}

	r.setupAPIRoutes(engine)
	return engine
}

// setupAPIRoutes registers the /api endpoint groups.
func (r *Router) setupAPIRoutes(engine *gin.Engine) {
	api := engine.Group("/api")

	sources := api.Group("/sources")
	sources.GET("", r.listSources)
	sources.POST("", r.createSource)
	sources.GET("/:id", r.getSource)
	sources.PUT("/:id", r.updateSource)
	sources.DELETE("/:id", r.deleteSource)

	runGroup := api.Group("/runs")
	runGroup.POST("/scrape/:module_key", r.triggerScrape) // More specific route before :id
	runGroup.GET("", r.listRuns)
	runGroup.GET("/:id", r.getRun)
	runGroup.POST("/:id/cancel", r.cancelRun)

	logs := api.Group("/logs")
	logs.GET("/stream/:run_id", r.streamLogs)
	logs.GET("/history/:run_id", r.logHistory)

	events := api.Group("/events")
	events.GET("", r.listEvents)
	events.GET("/:id", r.getEvent)

	series := api.Group("/series")
	series.GET("", r.listSeries)
	series.GET("/:id", r.getSeries)
	series.GET("/:id/occurrences", r.listOccurrences)

	api.GET("/occurrences/stale", r.listStaleOccurrences)

	matches := api.Group("/matches")
	matches.GET("", r.listMatches)
	matches.POST("/:id/:action", r.decideMatch)

	exports := api.Group("/exports")
	exports.GET("", r.listExports)
	exports.POST("", r.createExport)
	exports.GET("/:id", r.getExport)
	exports.POST("/:id/cancel", r.cancelExport)
	exports.GET("/:id/download", r.downloadExport)

	schedules := api.Group("/schedules")
	schedules.POST("/trigger-all-active", r.triggerAllActiveSchedules) // More specific route before :id
	schedules.GET("", r.listSchedules)
	schedules.POST("", r.createSchedule)
	schedules.PUT("/:id", r.updateSchedule)
	schedules.DELETE("/:id", r.deleteSchedule)
	schedules.POST("/:id/trigger", r.triggerSchedule)

	wpSettings := api.Group("/wordpress-settings")
	wpSettings.GET("", r.listWordPressSettings)
	wpSettings.POST("", r.createWordPressSettings)
	wpSettings.GET("/:id", r.getWordPressSettings)
	wpSettings.PUT("/:id", r.updateWordPressSettings)
	wpSettings.DELETE("/:id", r.deleteWordPressSettings)

	systemSettings := api.Group("/system-settings")
	systemSettings.GET("", r.getSystemSettings)
	systemSettings.PUT("", r.updateSystemSettings)

	api.GET("/queues/status", r.queueStatus)
}

// health reports service liveness plus the state of the DB and Redis
// connections. Degraded dependencies turn the response into a 503 so load
// balancers stop routing here.
func (r *Router) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	health := gin.H{
		"status":  healthStatusHealthy,
		"service": serviceName,
	}
	status := http.StatusOK

	if err := r.deps.DB.PingContext(ctx); err != nil {
		health["status"] = healthStatusDegraded
		health["database"] = "unreachable"
		status = http.StatusServiceUnavailable
	} else {
		health["database"] = "connected"
	}

	if r.deps.Redis != nil {
		if err := r.deps.Redis.Ping(ctx).Err(); err != nil {
			health["status"] = healthStatusDegraded
			health["redis"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			health["redis"] = "connected"
		}
	}

	c.JSON(status, health)
}
