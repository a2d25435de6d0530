// Package queue implements named job queues over Redis Streams: durable
// jobs with retries and backoff, delayed promotion, repeatable (cron-fired)
// entries, and finished-record retention.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ConsumerGroup is the single consumer group all workers share.
	ConsumerGroup = "workers"

	defaultConnectionTimeout = 2 * time.Second

	keyPrefix = "queue"
)

// Client wraps a Redis client with the key layout shared by producers and
// workers.
type Client struct {
	rdb *redis.Client
}

// NewClient connects to Redis from a URL (redis://host:port/db).
func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectionTimeout)
	defer cancel()

	if pingErr := rdb.Ping(ctx).Err(); pingErr != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", pingErr)
	}

	return &Client{rdb: rdb}, nil
}

// NewClientFromRedis wraps an existing Redis client.
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Redis returns the underlying client for collaborators that need their own
// operations against the same server (log streams, cancel flags).
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// streamKey is the stream carrying waiting jobs for a queue.
func streamKey(queue string) string {
	return fmt.Sprintf("%s:%s", keyPrefix, queue)
}

// jobKey is the hash holding one job's record.
func jobKey(queue, jobID string) string {
	return fmt.Sprintf("%s:%s:job:%s", keyPrefix, queue, jobID)
}

// delayedKey is the sorted set of jobs waiting out a retry delay, scored by
// ready time (unix millis).
func delayedKey(queue string) string {
	return fmt.Sprintf("%s:%s:delayed", keyPrefix, queue)
}

// repeatKey is the hash of registered repeatables for a queue.
func repeatHashKey(queue string) string {
	return fmt.Sprintf("%s:%s:repeat", keyPrefix, queue)
}

// pausedKey flags a paused queue.
func pausedKey(queue string) string {
	return fmt.Sprintf("%s:%s:paused", keyPrefix, queue)
}

// tickKey guards one repeatable fire window across processes.
func tickKey(queue, repeatID string, minute int64) string {
	return fmt.Sprintf("%s:%s:tick:%s:%d", keyPrefix, queue, repeatID, minute)
}

// createConsumerGroup creates the workers group if it does not exist.
func (c *Client) createConsumerGroup(ctx context.Context, stream string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, ConsumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}
