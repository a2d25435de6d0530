package config

import (
	"strconv"
	"time"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
)

const (
	defaultPort            = 3001
	defaultReadTimeout     = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultRateLimitMax    = 100
	defaultRateLimitWindow = time.Minute
	defaultRedisURL        = "redis://localhost:6379"
	defaultPingTimeout     = 5 * time.Second

	defaultScrapeQueue          = "scrape-queue"
	defaultInstagramScrapeQueue = "instagram-scrape-queue"
	defaultMatchQueue           = "match-queue"
	defaultScheduleQueue        = "schedule-queue"

	defaultScrapeConcurrency    = 3
	defaultInstagramConcurrency = 2
	defaultMatchConcurrency     = 1
	defaultScheduleConcurrency  = 1

	defaultPoolSize  = 3
	defaultPostLimit = 20

	defaultExportDir = "exports"
	defaultImagesDir = "instagram-images"
	defaultBackupDir = "backups"
)

// Environment names accepted in NODE_ENV.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config is the configuration shared by the API and worker binaries.
// YAML supplies the long tail of tuning; the deployment environment
// overrides through the env-tagged fields.
type Config struct {
	// Env is the runtime environment (development, production, test).
	Env string `env:"NODE_ENV" yaml:"env"`

	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Queues    QueuesConfig    `yaml:"queues"`
	Worker    WorkerConfig    `yaml:"worker"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Instagram InstagramConfig `yaml:"instagram"`
	Exports   ExportsConfig   `yaml:"exports"`
	Backups   BackupsConfig   `yaml:"backups"`
	Logging   logger.Config   `yaml:"logging"`
}

// ServerConfig holds the API HTTP server configuration.
type ServerConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `env:"PORT" yaml:"port"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout of zero means no limit. The log-stream endpoint holds
	// responses open indefinitely, so the API must run without one.
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// CORSOrigins lists the origins allowed to call the API.
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" yaml:"cors_origins"`
	// RateLimitMax is the per-client request budget per window; zero
	// disables rate limiting.
	RateLimitMax int `env:"API_RATE_LIMIT_MAX" yaml:"rate_limit_max"`
	// RateLimitWindow is the refill window for the request budget.
	RateLimitWindow time.Duration `env:"API_RATE_LIMIT_TIME_WINDOW" yaml:"rate_limit_window"`
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// SetDefaults applies default values for ServerConfig.
func (c *ServerConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"http://localhost:5173"}
	}
	if c.RateLimitMax == 0 {
		c.RateLimitMax = defaultRateLimitMax
	}
	if c.RateLimitWindow == 0 {
		c.RateLimitWindow = defaultRateLimitWindow
	}
}

// DatabaseConfig holds PostgreSQL connection configuration. The URL is
// the single source of truth; pool limits left at zero fall through to
// the database package defaults.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL" yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds the stream-store connection configuration.
type RedisConfig struct {
	URL         string        `env:"REDIS_URL" yaml:"url"`
	PingTimeout time.Duration `yaml:"ping_timeout"`
}

// SetDefaults applies default values for RedisConfig.
func (c *RedisConfig) SetDefaults() {
	if c.URL == "" {
		c.URL = defaultRedisURL
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = defaultPingTimeout
	}
}

// QueuesConfig names the four application queues. Both processes must
// agree on these, so they live in shared configuration.
type QueuesConfig struct {
	Scrape          string `yaml:"scrape"`
	InstagramScrape string `yaml:"instagram_scrape"`
	Match           string `yaml:"match"`
	Schedule        string `yaml:"schedule"`
}

// SetDefaults applies default values for QueuesConfig.
func (c *QueuesConfig) SetDefaults() {
	if c.Scrape == "" {
		c.Scrape = defaultScrapeQueue
	}
	if c.InstagramScrape == "" {
		c.InstagramScrape = defaultInstagramScrapeQueue
	}
	if c.Match == "" {
		c.Match = defaultMatchQueue
	}
	if c.Schedule == "" {
		c.Schedule = defaultScheduleQueue
	}
}

// WorkerConfig tunes the worker process's queue consumers.
type WorkerConfig struct {
	// ConsumerID names this worker in the consumer group. Empty falls
	// back to the hostname at startup.
	ConsumerID           string `env:"WORKER_CONSUMER_ID" yaml:"consumer_id"`
	ScrapeConcurrency    int    `yaml:"scrape_concurrency"`
	InstagramConcurrency int    `yaml:"instagram_concurrency"`
	MatchConcurrency     int    `yaml:"match_concurrency"`
	ScheduleConcurrency  int    `yaml:"schedule_concurrency"`
}

// SetDefaults applies default values for WorkerConfig.
func (c *WorkerConfig) SetDefaults() {
	if c.ScrapeConcurrency == 0 {
		c.ScrapeConcurrency = defaultScrapeConcurrency
	}
	if c.InstagramConcurrency == 0 {
		c.InstagramConcurrency = defaultInstagramConcurrency
	}
	if c.MatchConcurrency == 0 {
		c.MatchConcurrency = defaultMatchConcurrency
	}
	if c.ScheduleConcurrency == 0 {
		c.ScheduleConcurrency = defaultScheduleConcurrency
	}
}

// ScraperConfig tunes the website scrape runtime.
type ScraperConfig struct {
	// Headless is an engine hint carried through to fetch sessions.
	Headless bool `env:"PLAYWRIGHT_HEADLESS" yaml:"headless"`
	// PoolSize bounds the concurrent fetch sessions per worker.
	PoolSize int `yaml:"pool_size"`
	// UserAgent overrides the default browser user agent string.
	UserAgent string `yaml:"user_agent"`
}

// SetDefaults applies default values for ScraperConfig.
func (c *ScraperConfig) SetDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = defaultPoolSize
	}
}

// InstagramConfig tunes the Instagram scrape runtime.
type InstagramConfig struct {
	// ImagesDir is where post images are stored, one directory per
	// account.
	ImagesDir string `env:"INSTAGRAM_IMAGES_DIR" yaml:"images_dir"`
	// PostLimit caps how many recent posts one job pulls.
	PostLimit int `yaml:"post_limit"`
}

// SetDefaults applies default values for InstagramConfig.
func (c *InstagramConfig) SetDefaults() {
	if c.ImagesDir == "" {
		c.ImagesDir = defaultImagesDir
	}
	if c.PostLimit == 0 {
		c.PostLimit = defaultPostLimit
	}
}

// ExportsConfig holds export engine configuration.
type ExportsConfig struct {
	// Dir is where file exports land.
	Dir string `env:"EXPORT_DIR" yaml:"dir"`
}

// SetDefaults applies default values for ExportsConfig.
func (c *ExportsConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = defaultExportDir
	}
}

// BackupsConfig holds the backup drop directory. Backups themselves are
// operated outside the services; the processes only provision the
// directory so operator tooling has a stable target.
type BackupsConfig struct {
	Dir string `env:"BACKUP_DIR" yaml:"dir"`
}

// SetDefaults applies default values for BackupsConfig.
func (c *BackupsConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = defaultBackupDir
	}
}

// SetDefaults applies default values across the whole configuration.
func (c *Config) SetDefaults() {
	if c.Env == "" {
		c.Env = EnvDevelopment
	}
	c.Server.SetDefaults()
	c.Redis.SetDefaults()
	c.Queues.SetDefaults()
	c.Worker.SetDefaults()
	c.Scraper.SetDefaults()
	c.Instagram.SetDefaults()
	c.Exports.SetDefaults()
	c.Backups.SetDefaults()
	c.Logging.SetDefaults()
}

// IsDevelopment reports whether the process runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}
