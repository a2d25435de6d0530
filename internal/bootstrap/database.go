package bootstrap

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/config"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
)

// SetupDatabase connects to PostgreSQL and applies configured pool limits
// on top of the connection defaults.
func SetupDatabase(cfg *config.Config, log logger.Logger) (*sqlx.DB, error) {
	db, err := database.NewPostgresConnection(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}

	log.Info("database connected",
		logger.Int("max_open_conns", db.Stats().MaxOpenConnections))
	return db, nil
}
