// Package bootstrap handles process initialization and lifecycle management
// for the EventScrape binaries.
//
// Both processes follow the same phases:
//   - Phase 0: Profiling - Start pprof and Pyroscope profilers (if enabled)
//   - Phase 1: Config & Logger - Load configuration and create logger
//   - Phase 2: Database - Connect to PostgreSQL and apply pool limits
//   - Phase 3: Redis - Connect the queue and log-stream client
//   - Phase 4: Components - Repositories, services, engines
//   - Phase 5: Serve / Consume - HTTP server (api) or queue workers (worker)
//   - Phase 6: Shutdown - Drain on SIGINT/SIGTERM, stop consumers, close clients
package bootstrap

import (
	"fmt"
	"os"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/config"
)

// Options carries the knobs the entry points pass down from main.
type Options struct {
	// ConfigPath is the YAML configuration file. A missing file is fine;
	// env-only deployments run without one.
	ConfigPath string
	// Version is stamped into logs and profiling tags, set via ldflags.
	Version string
}

// ensureDirectories provisions the directories the pipeline writes into.
// The backup directory is included so operator tooling has a stable target
// even though the services never write backups themselves.
func ensureDirectories(cfg *config.Config) error {
	for _, dir := range []string{cfg.Exports.Dir, cfg.Instagram.ImagesDir, cfg.Backups.Dir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// consumerID resolves the worker's consumer-group identity. Configured IDs
// win; otherwise the hostname keeps replicas distinguishable, with the pid
// as a last resort.
func consumerID(cfg *config.Config) string {
	if cfg.Worker.ConsumerID != "" {
		return cfg.Worker.ConsumerID
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fmt.Sprintf("worker-%d", os.Getpid())
}
