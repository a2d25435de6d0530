package scraper

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
)

// DefaultPoolSize is the number of concurrent fetch sessions per worker
// process.
const DefaultPoolSize = 3

const (
	defaultNavTimeout    = 30 * time.Second
	defaultDetailTimeout = 20 * time.Second

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// ErrPoolClosed is returned by Acquire after the pool shuts down.
var ErrPoolClosed = errors.New("page pool is closed")

// EngineConfig describes the fetch engine shared by every pooled session.
type EngineConfig struct {
	// PoolSize bounds the concurrent fetch sessions.
	PoolSize int
	// Headless is an engine hint carried from configuration. The HTTP
	// fetch engine never shows a browser either way.
	Headless bool
	// UserAgent is sent on every request.
	UserAgent string
	// NavTimeout bounds listing-page fetches.
	NavTimeout time.Duration
	// DetailTimeout bounds detail-page fetches.
	DetailTimeout time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = defaultNavTimeout
	}
	if c.DetailTimeout <= 0 {
		c.DetailTimeout = defaultDetailTimeout
	}
	return c
}

// Pool bounds how many jobs fetch pages at once. A job acquires a lease,
// scrapes through it, and releases it on every exit path; acquisition
// blocks while all slots are leased.
type Pool struct {
	engine EngineConfig
	sem    chan struct{}
	closed atomic.Bool
	log    logger.Logger
}

// NewPool creates a page pool.
func NewPool(cfg EngineConfig, log logger.Logger) *Pool {
	cfg = cfg.withDefaults()
	log.Info("page pool ready",
		logger.Int("size", cfg.PoolSize),
		logger.Bool("headless", cfg.Headless))

	return &Pool{
		engine: cfg,
		sem:    make(chan struct{}, cfg.PoolSize),
		log:    log,
	}
}

// Acquire blocks until a session slot is free, then returns its lease.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if p.closed.Load() {
		<-p.sem
		return nil, ErrPoolClosed
	}
	return &Lease{pool: p}, nil
}

// Close stops handing out leases. Outstanding leases finish their jobs.
func (p *Pool) Close() {
	if p.closed.CompareAndSwap(false, true) {
		p.log.Info("page pool closed")
	}
}

// Size returns the configured slot count.
func (p *Pool) Size() int {
	return cap(p.sem)
}

// InUse returns how many slots are currently leased.
func (p *Pool) InUse() int {
	return len(p.sem)
}

// Lease is one held pool slot. Release returns it; releasing twice is
// safe so error paths can release unconditionally.
type Lease struct {
	pool     *Pool
	released atomic.Bool
}

// Release frees the slot for the next job.
func (l *Lease) Release() {
	if l.released.CompareAndSwap(false, true) {
		<-l.pool.sem
	}
}

// Page builds the fetch session for this lease, pacing detail fetches to
// the source's per-minute rate limit.
func (l *Lease) Page(ratePerMin int) *Page {
	return newPage(l.pool.engine, ratePerMin)
}
