// Package scraper hosts the worker-side scraping runtime: a bounded pool
// of fetch sessions, the module registry, and the queue consumer that
// turns scrape jobs into ingested events. Scraper modules are external
// collaborators behind the Module interface; the generic selector-driven
// website module ships in this package.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logstream"
)

// Scrape modes a job may request. Full walks every listing page the
// source exposes; incremental stays on the newest page.
const (
	ScrapeModeFull        = "full"
	ScrapeModeIncremental = "incremental"
)

// ErrUnknownModule is returned when no module is registered for a key.
var ErrUnknownModule = errors.New("unknown scraper module")

// Module is one scraper implementation, registered under the module key
// sources reference. Run collects events for the source in rctx and
// returns them with a page count; recoverable per-item problems go into
// the result's error list while the scrape continues.
type Module interface {
	Key() string
	Run(ctx context.Context, rctx *RunContext) (*domain.ScrapeResult, error)
}

// RunContext is everything the runtime hands a module for one job.
type RunContext struct {
	// Source is the source being scraped, including its module config.
	Source *domain.Source
	// Logger tees module output to the process log and the run's stream.
	Logger *logstream.RunLogger
	// Page is the leased fetch session. Nil for modules that bring their
	// own transport, such as the Instagram runtime.
	Page *Page
	// Job carries the per-job options from the queue payload.
	Job JobData
	// Stats is the counter the module increments as it fetches pages.
	Stats *Stats
}

// JobData is the module-facing view of a scrape job payload.
type JobData struct {
	TestMode          bool
	ScrapeMode        string
	PaginationOptions map[string]any
	UploadedFile      map[string]any
}

// Stats counts pages as a module crawls them. Safe for use from the
// module and the runtime concurrently.
type Stats struct {
	pages atomic.Int64
}

// IncrementPagesCrawled records one fetched page.
func (s *Stats) IncrementPagesCrawled() {
	s.pages.Add(1)
}

// PagesCrawled returns the pages fetched so far.
func (s *Stats) PagesCrawled() int {
	return int(s.pages.Load())
}

// Registry resolves scraper modules by the module key stored on sources.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds a module under its key. Keys are unique; registering the
// same key twice is a wiring bug and fails loudly.
func (r *Registry) Register(m Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := m.Key()
	if key == "" {
		return errors.New("scraper module has an empty key")
	}
	if _, exists := r.modules[key]; exists {
		return fmt.Errorf("scraper module %q already registered", key)
	}
	r.modules[key] = m
	return nil
}

// Get returns the module registered under key.
func (r *Registry) Get(key string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.modules[key]
	if !ok {
		return nil, fmt.Errorf("module %q: %w", key, ErrUnknownModule)
	}
	return m, nil
}

// Keys lists the registered module keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.modules))
	for key := range r.modules {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// runError builds one structured run error entry.
func runError(message string, context map[string]any) domain.RunError {
	return domain.RunError{
		Timestamp: time.Now().UTC(),
		Message:   message,
		Context:   context,
	}
}
