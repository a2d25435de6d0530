package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/config"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
)

// SetupRedis connects the Redis client shared by the queue layer and the
// log-stream store, verifying the connection with a bounded ping.
func SetupRedis(cfg *config.Config, log logger.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.PingTimeout)
	defer cancel()
	if pingErr := rdb.Ping(ctx).Err(); pingErr != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", pingErr)
	}

	log.Info("redis connected", logger.String("address", opt.Addr))
	return rdb, nil
}
