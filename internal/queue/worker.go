package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
)

// Handler processes one job. A nil return completes the job; an error
// retries it per the queue policy until attempts run out.
type Handler func(ctx context.Context, job *Job) error

const (
	defaultBlockTimeout    = 5 * time.Second
	defaultClaimMinIdle    = 5 * time.Minute
	defaultPromoteInterval = time.Second
	defaultConcurrency     = 1

	reclaimInterval  = 30 * time.Second
	purgeInterval    = 5 * time.Minute
	maxPendingCheck  = 100
	pausedPollPeriod = time.Second
)

// WorkerConfig configures a queue worker.
type WorkerConfig struct {
	// ConsumerID uniquely names this worker inside the consumer group.
	ConsumerID string
	// Concurrency is the number of parallel handler goroutines.
	Concurrency int
	// BlockTimeout bounds each blocking stream read.
	BlockTimeout time.Duration
	// ClaimMinIdle is how long a delivery may sit unacked on a dead worker
	// before another worker claims it.
	ClaimMinIdle time.Duration
}

// Worker consumes one queue with a fixed handler. Retries, backoff, and
// stuck-delivery reclaim are handled here so handlers only contain domain
// work.
type Worker struct {
	queue   *Queue
	handler Handler
	log     logger.Logger

	consumerID   string
	concurrency  int
	blockTimeout time.Duration
	claimMinIdle time.Duration
}

// NewWorker creates a worker for a queue.
func NewWorker(q *Queue, handler Handler, log logger.Logger, cfg WorkerConfig) (*Worker, error) {
	if cfg.ConsumerID == "" {
		return nil, errors.New("consumer ID is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = defaultBlockTimeout
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = defaultClaimMinIdle
	}

	return &Worker{
		queue:        q,
		handler:      handler,
		log:          log,
		consumerID:   cfg.ConsumerID,
		concurrency:  cfg.Concurrency,
		blockTimeout: cfg.BlockTimeout,
		claimMinIdle: cfg.ClaimMinIdle,
	}, nil
}

// Start runs the worker until ctx is cancelled. It blocks; run it in a
// goroutine alongside other workers.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.queue.client.createConsumerGroup(ctx, streamKey(w.queue.name)); err != nil {
		return err
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.maintenanceLoop(ctx)
	}()

	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consumeLoop(ctx)
		}()
	}

	wg.Wait()
	return ctx.Err()
}

// maintenanceLoop promotes due delayed jobs and periodically trims the
// stream.
func (w *Worker) maintenanceLoop(ctx context.Context) {
	promote := time.NewTicker(defaultPromoteInterval)
	defer promote.Stop()
	purge := time.NewTicker(purgeInterval)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-promote.C:
			if _, err := w.queue.PromoteDue(ctx); err != nil && ctx.Err() == nil {
				w.log.Warn("failed to promote delayed jobs",
					logger.String("queue", w.queue.name), logger.Error(err))
			}
		case <-purge.C:
			if err := w.queue.Purge(ctx); err != nil && ctx.Err() == nil {
				w.log.Warn("failed to purge queue stream",
					logger.String("queue", w.queue.name), logger.Error(err))
			}
		}
	}
}

func (w *Worker) consumeLoop(ctx context.Context) {
	lastReclaim := time.Time{}

	for ctx.Err() == nil {
		paused, err := w.queue.IsPaused(ctx)
		if err == nil && paused {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pausedPollPeriod):
			}
			continue
		}

		if time.Since(lastReclaim) >= reclaimInterval {
			lastReclaim = time.Now()
			w.reclaimStale(ctx)
		}

		streams, readErr := w.queue.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    ConsumerGroup,
			Consumer: w.consumerID,
			Streams:  []string{streamKey(w.queue.name), ">"},
			Count:    1,
			Block:    w.blockTimeout,
		}).Result()
		if readErr != nil {
			if errors.Is(readErr, redis.Nil) || ctx.Err() != nil {
				continue
			}
			w.log.Warn("failed to read from queue",
				logger.String("queue", w.queue.name), logger.Error(readErr))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				w.process(ctx, msg)
			}
		}
	}
}

// reclaimStale takes over deliveries another worker started but never
// acked, typically after a crash.
func (w *Worker) reclaimStale(ctx context.Context) {
	stream := streamKey(w.queue.name)

	pending, err := w.queue.client.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  ConsumerGroup,
		Start:  "-",
		End:    "+",
		Count:  maxPendingCheck,
	}).Result()
	if err != nil {
		return
	}

	var stale []string
	for _, entry := range pending {
		if entry.Idle >= w.claimMinIdle {
			stale = append(stale, entry.ID)
		}
	}
	if len(stale) == 0 {
		return
	}

	claimed, claimErr := w.queue.client.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		MinIdle:  w.claimMinIdle,
		Messages: stale,
	}).Result()
	if claimErr != nil {
		return
	}

	for _, msg := range claimed {
		w.process(ctx, msg)
	}
}

// process runs the handler for one delivery and settles the outcome. The
// message is acknowledged only after the handler returns, so a crash mid-run
// leaves it pending for reclaim.
func (w *Worker) process(ctx context.Context, msg redis.XMessage) {
	stream := streamKey(w.queue.name)
	settle := func() {
		if err := w.queue.client.rdb.XAck(ctx, stream, ConsumerGroup, msg.ID).Err(); err != nil {
			w.log.Warn("failed to ack message", logger.String("queue", w.queue.name), logger.Error(err))
		}
		if err := w.queue.client.rdb.XDel(ctx, stream, msg.ID).Err(); err != nil {
			w.log.Warn("failed to delete message", logger.String("queue", w.queue.name), logger.Error(err))
		}
	}

	jobID, ok := msg.Values[jobIDField].(string)
	if !ok || jobID == "" {
		settle()
		return
	}

	job, err := w.queue.GetJob(ctx, jobID)
	if err != nil {
		// Removed or expired while waiting; nothing to run.
		settle()
		return
	}

	job.AttemptsMade++
	job.State = StateActive
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if markErr := w.queue.client.rdb.HSet(ctx, jobKey(w.queue.name, jobID),
		"state", string(StateActive),
		"attempts_made", job.AttemptsMade,
		"updated_at", now,
	).Err(); markErr != nil {
		w.log.Warn("failed to mark job active", logger.String("job_id", jobID), logger.Error(markErr))
	}

	handlerErr := w.handler(ctx, job)
	settle()

	if handlerErr == nil {
		w.complete(ctx, job)
		return
	}
	w.retryOrFail(ctx, job, handlerErr)
}

func (w *Worker) complete(ctx context.Context, job *Job) {
	key := jobKey(w.queue.name, job.ID)
	if err := w.queue.client.rdb.HSet(ctx, key,
		"state", string(StateCompleted),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		w.log.Warn("failed to mark job completed", logger.String("job_id", job.ID), logger.Error(err))
		return
	}
	if err := w.queue.client.rdb.Expire(ctx, key, w.queue.cfg.Retention.CompleteAge).Err(); err != nil {
		w.log.Warn("failed to set completed job TTL", logger.String("job_id", job.ID), logger.Error(err))
	}
}

func (w *Worker) retryOrFail(ctx context.Context, job *Job, handlerErr error) {
	key := jobKey(w.queue.name, job.ID)

	if job.AttemptsMade < job.MaxAttempts {
		delay := w.queue.cfg.retryDelay(job.AttemptsMade)
		readyAt := float64(time.Now().Add(delay).UnixMilli())

		if err := w.queue.client.rdb.HSet(ctx, key,
			"state", string(StateDelayed),
			"last_error", handlerErr.Error(),
			"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
		).Err(); err != nil {
			w.log.Warn("failed to mark job delayed", logger.String("job_id", job.ID), logger.Error(err))
			return
		}
		if err := w.queue.client.rdb.ZAdd(ctx, delayedKey(w.queue.name), redis.Z{
			Score: readyAt, Member: job.ID,
		}).Err(); err != nil {
			w.log.Warn("failed to schedule retry", logger.String("job_id", job.ID), logger.Error(err))
			return
		}

		w.log.Info("job retry scheduled",
			logger.String("queue", w.queue.name),
			logger.String("job_id", job.ID),
			logger.Int("attempts_made", job.AttemptsMade),
			logger.Duration("delay", delay),
			logger.Error(handlerErr))
		return
	}

	if err := w.queue.client.rdb.HSet(ctx, key,
		"state", string(StateFailed),
		"last_error", handlerErr.Error(),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		w.log.Warn("failed to mark job failed", logger.String("job_id", job.ID), logger.Error(err))
		return
	}
	if err := w.queue.client.rdb.Expire(ctx, key, w.queue.cfg.Retention.FailAge).Err(); err != nil {
		w.log.Warn("failed to set failed job TTL", logger.String("job_id", job.ID), logger.Error(err))
	}

	w.log.Error("job failed permanently",
		logger.String("queue", w.queue.name),
		logger.String("job_id", job.ID),
		logger.Int("attempts_made", job.AttemptsMade),
		logger.Error(handlerErr))
}

// Queues bundles the four application queues with their policies, built
// once at bootstrap and shared by the API and worker processes.
type Queues struct {
	Scrape          *Queue
	InstagramScrape *Queue
	Match           *Queue
	Schedule        *Queue
}

// NewQueues constructs the application queues on one client.
func NewQueues(client *Client, scrapeQueue, instagramQueue, matchQueue, scheduleQueue string) *Queues {
	return &Queues{
		Scrape: New(client, scrapeQueue, Config{
			MaxAttempts: 3,
			RetryDelay:  2 * time.Second,
		}),
		InstagramScrape: New(client, instagramQueue, Config{
			MaxAttempts: 3,
			RetryDelay:  5 * time.Second,
		}),
		Match: New(client, matchQueue, Config{
			MaxAttempts: 2,
			RetryDelay:  5 * time.Second,
		}),
		Schedule: New(client, scheduleQueue, Config{
			MaxAttempts: 1,
		}),
	}
}

// ByName resolves a queue by its configured name.
func (q *Queues) ByName(name string) (*Queue, error) {
	for _, queue := range []*Queue{q.Scrape, q.InstagramScrape, q.Match, q.Schedule} {
		if queue.Name() == name {
			return queue, nil
		}
	}
	return nil, fmt.Errorf("unknown queue %q", name)
}

// All returns the queues in a stable order.
func (q *Queues) All() []*Queue {
	return []*Queue{q.Scrape, q.InstagramScrape, q.Match, q.Schedule}
}
