package queue

import (
	"context"
	"crypto/sha1" //nolint:gosec // key derivation, not signing
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrJobNotFound means no record of the job exists; its state is
	// "missing" from a caller's point of view.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotRemovable means the job has started (or finished) and can no
	// longer be pulled from the queue.
	ErrJobNotRemovable = errors.New("job is not waiting or delayed")
)

const (
	// jobIDField is the only payload field on stream messages; the job
	// record itself lives in the job hash.
	jobIDField      = "job_id"
	enqueuedAtField = "enqueued_at"

	promoteBatch = 100

	// tickGuardTTL outlives the fire window so late processes in the same
	// minute still see the guard.
	tickGuardTTL = 2 * time.Minute
)

// Queue is one named job queue. Construct with the queue's policy once and
// share; all methods are safe for concurrent use.
type Queue struct {
	client *Client
	name   string
	cfg    Config
}

// New creates a named queue with its retry and retention policy.
func New(client *Client, name string, cfg Config) *Queue {
	return &Queue{
		client: client,
		name:   name,
		cfg:    cfg.withDefaults(),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Client returns the shared queue client.
func (q *Queue) Client() *Client { return q.client }

// Enqueue records a job and places it on the stream (or the delayed set
// when opts.Delay is positive). Returns the job id.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, opts Options) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to serialize job payload: %w", err)
	}

	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	} else if existing, getErr := q.GetJob(ctx, jobID); getErr == nil {
		switch existing.State {
		case StateWaiting, StateDelayed, StatePaused:
			// An explicit id deduplicates: the job is already queued.
			return jobID, nil
		}
	}

	now := time.Now().UTC()
	job := &Job{
		ID:          jobID,
		Queue:       q.name,
		Name:        name,
		Payload:     data,
		State:       StateWaiting,
		MaxAttempts: q.cfg.MaxAttempts,
		EnqueuedAt:  now,
		UpdatedAt:   now,
	}

	if opts.Delay > 0 {
		job.State = StateDelayed
		if hsetErr := q.client.rdb.HSet(ctx, jobKey(q.name, jobID), job.hashValues()).Err(); hsetErr != nil {
			return "", fmt.Errorf("failed to store job record: %w", hsetErr)
		}
		readyAt := float64(now.Add(opts.Delay).UnixMilli())
		if zaddErr := q.client.rdb.ZAdd(ctx, delayedKey(q.name), redis.Z{Score: readyAt, Member: jobID}).Err(); zaddErr != nil {
			return "", fmt.Errorf("failed to delay job: %w", zaddErr)
		}
		return jobID, nil
	}

	if hsetErr := q.client.rdb.HSet(ctx, jobKey(q.name, jobID), job.hashValues()).Err(); hsetErr != nil {
		return "", fmt.Errorf("failed to store job record: %w", hsetErr)
	}
	if pushErr := q.pushToStream(ctx, job); pushErr != nil {
		return "", pushErr
	}

	return jobID, nil
}

// pushToStream adds the stream entry for a job and records its message id.
func (q *Queue) pushToStream(ctx context.Context, job *Job) error {
	messageID, err := q.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(q.name),
		Values: map[string]any{
			jobIDField:      job.ID,
			enqueuedAtField: time.Now().UTC().Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to enqueue job to stream: %w", err)
	}

	job.messageID = messageID
	updateErr := q.client.rdb.HSet(ctx, jobKey(q.name, job.ID),
		"message_id", messageID,
		"state", string(StateWaiting),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if updateErr != nil {
		return fmt.Errorf("failed to record job message id: %w", updateErr)
	}

	return nil
}

// GetJob loads a job record. A paused queue reports its waiting jobs as
// paused. Missing records return ErrJobNotFound.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	fields, err := q.client.rdb.HGetAll(ctx, jobKey(q.name, jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job record: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("job %s on %s: %w", jobID, q.name, ErrJobNotFound)
	}

	job := jobFromHash(fields)
	if job.State == StateWaiting {
		paused, pausedErr := q.IsPaused(ctx)
		if pausedErr == nil && paused {
			job.State = StatePaused
		}
	}

	return job, nil
}

// RemoveJob deletes a job that has not started: waiting jobs come off the
// stream, delayed jobs out of the retry set. Anything further along returns
// ErrJobNotRemovable.
func (q *Queue) RemoveJob(ctx context.Context, jobID string) error {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	switch job.State {
	case StateWaiting, StatePaused:
		if job.messageID != "" {
			if delErr := q.client.rdb.XDel(ctx, streamKey(q.name), job.messageID).Err(); delErr != nil {
				return fmt.Errorf("failed to remove job from stream: %w", delErr)
			}
		}
	case StateDelayed:
		if remErr := q.client.rdb.ZRem(ctx, delayedKey(q.name), jobID).Err(); remErr != nil {
			return fmt.Errorf("failed to remove job from delayed set: %w", remErr)
		}
	default:
		return fmt.Errorf("job %s in state %s: %w", jobID, job.State, ErrJobNotRemovable)
	}

	if delErr := q.client.rdb.Del(ctx, jobKey(q.name, jobID)).Err(); delErr != nil {
		return fmt.Errorf("failed to delete job record: %w", delErr)
	}

	return nil
}

// Pause stops workers from picking up new jobs; running jobs finish.
func (q *Queue) Pause(ctx context.Context) error {
	if err := q.client.rdb.Set(ctx, pausedKey(q.name), "1", 0).Err(); err != nil {
		return fmt.Errorf("failed to pause queue: %w", err)
	}
	return nil
}

// Resume lifts a pause.
func (q *Queue) Resume(ctx context.Context) error {
	if err := q.client.rdb.Del(ctx, pausedKey(q.name)).Err(); err != nil {
		return fmt.Errorf("failed to resume queue: %w", err)
	}
	return nil
}

// IsPaused reports whether the queue is paused.
func (q *Queue) IsPaused(ctx context.Context) (bool, error) {
	n, err := q.client.rdb.Exists(ctx, pausedKey(q.name)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check queue pause flag: %w", err)
	}
	return n > 0, nil
}

// Counts summarizes a queue for monitoring.
type Counts struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
	Paused  bool  `json:"paused"`
}

// GetCounts reports the live depth of the queue. Waiting is the stream
// backlog not yet delivered; active is the delivered-unacked set.
func (q *Queue) GetCounts(ctx context.Context) (*Counts, error) {
	total, err := q.client.rdb.XLen(ctx, streamKey(q.name)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read stream length: %w", err)
	}

	var active int64
	pending, pendErr := q.client.rdb.XPending(ctx, streamKey(q.name), ConsumerGroup).Result()
	if pendErr == nil {
		active = pending.Count
	} else if !errors.Is(pendErr, redis.Nil) && !isNoGroupError(pendErr) {
		return nil, fmt.Errorf("failed to read pending entries: %w", pendErr)
	}

	delayed, delayErr := q.client.rdb.ZCard(ctx, delayedKey(q.name)).Result()
	if delayErr != nil && !errors.Is(delayErr, redis.Nil) {
		return nil, fmt.Errorf("failed to read delayed set size: %w", delayErr)
	}

	paused, pausedErr := q.IsPaused(ctx)
	if pausedErr != nil {
		return nil, pausedErr
	}

	waiting := total - active
	if waiting < 0 {
		waiting = 0
	}

	return &Counts{Waiting: waiting, Active: active, Delayed: delayed, Paused: paused}, nil
}

// PromoteDue moves delayed jobs whose ready time has passed back onto the
// stream. Returns the number promoted. Workers call this on an interval.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.client.rdb.ZRangeByScore(ctx, delayedKey(q.name), &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: promoteBatch,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to scan delayed set: %w", err)
	}

	promoted := 0
	for _, jobID := range ids {
		// ZRem is the claim: whichever process removes the member promotes.
		removed, remErr := q.client.rdb.ZRem(ctx, delayedKey(q.name), jobID).Result()
		if remErr != nil {
			return promoted, fmt.Errorf("failed to claim delayed job: %w", remErr)
		}
		if removed == 0 {
			continue
		}

		job, getErr := q.GetJob(ctx, jobID)
		if getErr != nil {
			if errors.Is(getErr, ErrJobNotFound) {
				continue
			}
			return promoted, getErr
		}

		if pushErr := q.pushToStream(ctx, job); pushErr != nil {
			return promoted, pushErr
		}
		promoted++
	}

	return promoted, nil
}

// Purge trims the stream to its bounded length. Finished job records expire
// on their own via the retention TTLs.
func (q *Queue) Purge(ctx context.Context) error {
	err := q.client.rdb.XTrimMaxLenApprox(ctx, streamKey(q.name), q.cfg.MaxStreamLen, 0).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to trim queue stream: %w", err)
	}
	return nil
}

// Repeatable is a cron-fired job template. The scheduler owns evaluating
// the cron expression; the queue only stores the registration.
type Repeatable struct {
	// Key identifies the registration; derived from the fields at register
	// time so re-registering the same template is idempotent.
	Key      string          `json:"key,omitempty"`
	Name     string          `json:"name"`
	Cron     string          `json:"cron"`
	Timezone string          `json:"timezone"`
	JobID    string          `json:"job_id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// repeatableKey derives the stable registration key.
func repeatableKey(r Repeatable) string {
	sum := sha1.Sum([]byte(r.Name + "|" + r.Cron + "|" + r.Timezone + "|" + r.JobID)) //nolint:gosec // key derivation
	return hex.EncodeToString(sum[:])[:16]
}

// RegisterRepeatable stores a repeatable and returns its key.
func (q *Queue) RegisterRepeatable(ctx context.Context, r Repeatable) (string, error) {
	r.Key = repeatableKey(r)

	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to serialize repeatable: %w", err)
	}

	if hsetErr := q.client.rdb.HSet(ctx, repeatHashKey(q.name), r.Key, string(data)).Err(); hsetErr != nil {
		return "", fmt.Errorf("failed to register repeatable: %w", hsetErr)
	}

	return r.Key, nil
}

// RemoveRepeatable deletes a repeatable registration by key.
func (q *Queue) RemoveRepeatable(ctx context.Context, key string) error {
	if err := q.client.rdb.HDel(ctx, repeatHashKey(q.name), key).Err(); err != nil {
		return fmt.Errorf("failed to remove repeatable: %w", err)
	}
	return nil
}

// ListRepeatables returns every registered repeatable on the queue.
func (q *Queue) ListRepeatables(ctx context.Context) ([]Repeatable, error) {
	entries, err := q.client.rdb.HGetAll(ctx, repeatHashKey(q.name)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list repeatables: %w", err)
	}

	repeatables := make([]Repeatable, 0, len(entries))
	for key, raw := range entries {
		var r Repeatable
		if unmarshalErr := json.Unmarshal([]byte(raw), &r); unmarshalErr != nil {
			continue
		}
		r.Key = key
		repeatables = append(repeatables, r)
	}

	return repeatables, nil
}

// TryAcquireTick claims one fire window for a repeatable. Exactly one
// process per minute window gets true, which suppresses duplicate fires
// when several schedulers run.
func (q *Queue) TryAcquireTick(ctx context.Context, repeatableID string, fireAt time.Time) (bool, error) {
	key := tickKey(q.name, repeatableID, fireAt.Unix()/60)
	ok, err := q.client.rdb.SetNX(ctx, key, "1", tickGuardTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire tick guard: %w", err)
	}
	return ok, nil
}

// isNoGroupError matches the Redis error for a stream or group that does
// not exist yet, a normal condition before the first worker starts.
func isNoGroupError(err error) bool {
	return err != nil && len(err.Error()) >= 8 && err.Error()[:8] == "NOGROUP "
}
