package runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cancellation flag values. A flag moves requested → cancelled; the worker
// that owns the job performs the transition when it stops.
const (
	// FlagRequested asks the owning worker to stop at its next safe point.
	FlagRequested = "requested"
	// FlagCancelled records that the job was stopped.
	FlagCancelled = "cancelled"
)

const (
	// cancelKeyPrefix matches the key layout the admin UI watches.
	cancelKeyPrefix = "instagram-scrape:cancel:"

	// cancelFlagTTL bounds how long a flag outlives its job.
	cancelFlagTTL = 24 * time.Hour
)

// CancelFlags stores per-job cancellation flags in Redis. Workers poll the
// flag at every I/O boundary so a running scrape stops within one network
// round trip of the request.
type CancelFlags struct {
	rdb *redis.Client
}

// NewCancelFlags creates a flag store on the given Redis client.
func NewCancelFlags(rdb *redis.Client) *CancelFlags {
	return &CancelFlags{rdb: rdb}
}

func cancelKey(jobID string) string {
	return cancelKeyPrefix + jobID
}

// Request flags a job for cooperative cancellation.
func (f *CancelFlags) Request(ctx context.Context, jobID string) error {
	if err := f.rdb.Set(ctx, cancelKey(jobID), FlagRequested, cancelFlagTTL).Err(); err != nil {
		return fmt.Errorf("failed to set cancel flag: %w", err)
	}
	return nil
}

// MarkCancelled records that the job has actually stopped.
func (f *CancelFlags) MarkCancelled(ctx context.Context, jobID string) error {
	if err := f.rdb.Set(ctx, cancelKey(jobID), FlagCancelled, cancelFlagTTL).Err(); err != nil {
		return fmt.Errorf("failed to set cancel flag: %w", err)
	}
	return nil
}

// Get returns the flag value for a job, or an empty string when none is set.
func (f *CancelFlags) Get(ctx context.Context, jobID string) (string, error) {
	value, err := f.rdb.Get(ctx, cancelKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return value, nil
}

// Requested reports whether cancellation has been asked for. Errors read as
// not requested so a Redis blip cannot abort a healthy run.
func (f *CancelFlags) Requested(ctx context.Context, jobID string) bool {
	value, err := f.Get(ctx, jobID)
	if err != nil {
		return false
	}
	return value == FlagRequested || value == FlagCancelled
}

// Clear removes the flag for a job.
func (f *CancelFlags) Clear(ctx context.Context, jobID string) error {
	if err := f.rdb.Del(ctx, cancelKey(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to clear cancel flag: %w", err)
	}
	return nil
}
