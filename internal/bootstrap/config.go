package bootstrap

import (
	"fmt"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/config"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
)

// LoadConfig loads and validates the configuration for one process.
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// CreateLogger creates the process logger from configuration. Development
// mode follows NODE_ENV unless the logging section says otherwise.
func CreateLogger(cfg *config.Config, service, version string) (logger.Logger, error) {
	logCfg := cfg.Logging
	if cfg.IsDevelopment() {
		logCfg.Development = true
	}

	log, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log.With(
		logger.String("service", service),
		logger.String("version", version),
	), nil
}
