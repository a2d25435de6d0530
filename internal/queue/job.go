package queue

import (
	"encoding/json"
	"math/rand"
	"strconv"
	"time"
)

// State is the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job sits on the stream awaiting a worker.
	StateWaiting State = "waiting"
	// StateActive means a worker is processing the job.
	StateActive State = "active"
	// StateDelayed means the job waits in the retry set for its ready time.
	StateDelayed State = "delayed"
	// StatePaused means the job is waiting but its queue is paused.
	StatePaused State = "paused"
	// StateCompleted means the handler finished without error.
	StateCompleted State = "completed"
	// StateFailed means the job exhausted its attempts.
	StateFailed State = "failed"
	// StateMissing means no record of the job exists (expired or removed).
	StateMissing State = "missing"
)

// Job is one unit of work on a named queue. The payload is an opaque JSON
// document owned by the handler.
type Job struct {
	ID    string `json:"id"`
	Queue string `json:"queue"`
	// Name labels the kind of work, e.g. "scrape" or "schedule-trigger".
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`

	State        State  `json:"state"`
	AttemptsMade int    `json:"attempts_made"`
	MaxAttempts  int    `json:"max_attempts"`
	LastError    string `json:"last_error,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// messageID is the stream entry carrying this job while it is waiting.
	messageID string
}

// UnmarshalPayload decodes the job payload into v.
func (j *Job) UnmarshalPayload(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// Options configures a single enqueue.
type Options struct {
	// JobID forces a stable id; empty means a random one is generated.
	JobID string
	// Delay holds the job in the delayed set before its first attempt.
	Delay time.Duration
}

// RetentionPolicy controls how long finished job records are kept.
type RetentionPolicy struct {
	CompleteAge time.Duration
	FailAge     time.Duration
}

// Config is the per-queue policy, fixed at queue construction.
type Config struct {
	// MaxAttempts is the total number of tries including the first.
	MaxAttempts int
	// RetryDelay is the base backoff delay before the first retry.
	RetryDelay time.Duration
	// RetryMultiplier grows the delay exponentially per prior attempt.
	RetryMultiplier float64
	// Retention controls finished-record TTLs.
	Retention RetentionPolicy
	// MaxStreamLen bounds the stream during purge (approximate trim).
	MaxStreamLen int64
}

const (
	defaultMaxAttempts     = 1
	defaultRetryMultiplier = 2.0
	defaultCompleteAge     = time.Hour
	defaultFailAge         = 24 * time.Hour
	defaultMaxStreamLen    = 10000

	retryJitterFraction = 0.1
)

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryMultiplier <= 0 {
		c.RetryMultiplier = defaultRetryMultiplier
	}
	if c.Retention.CompleteAge <= 0 {
		c.Retention.CompleteAge = defaultCompleteAge
	}
	if c.Retention.FailAge <= 0 {
		c.Retention.FailAge = defaultFailAge
	}
	if c.MaxStreamLen <= 0 {
		c.MaxStreamLen = defaultMaxStreamLen
	}
	return c
}

// retryDelay computes the backoff before retry number attemptsMade, with
// ±10% jitter so synchronized failures do not retry in lockstep.
func (c Config) retryDelay(attemptsMade int) time.Duration {
	delay := float64(c.RetryDelay)
	for i := 1; i < attemptsMade; i++ {
		delay *= c.RetryMultiplier
	}
	jitter := 1 + retryJitterFraction*(2*rand.Float64()-1) //nolint:gosec // jitter, not crypto
	return time.Duration(delay * jitter)
}

// hashValues renders the job into Redis hash fields.
func (j *Job) hashValues() map[string]any {
	return map[string]any{
		"id":            j.ID,
		"queue":         j.Queue,
		"name":          j.Name,
		"payload":       string(j.Payload),
		"state":         string(j.State),
		"attempts_made": j.AttemptsMade,
		"max_attempts":  j.MaxAttempts,
		"last_error":    j.LastError,
		"enqueued_at":   j.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    j.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"message_id":    j.messageID,
	}
}

// jobFromHash rebuilds a job from Redis hash fields.
func jobFromHash(fields map[string]string) *Job {
	job := &Job{
		ID:        fields["id"],
		Queue:     fields["queue"],
		Name:      fields["name"],
		Payload:   json.RawMessage(fields["payload"]),
		State:     State(fields["state"]),
		LastError: fields["last_error"],
		messageID: fields["message_id"],
	}

	if n, err := strconv.Atoi(fields["attempts_made"]); err == nil {
		job.AttemptsMade = n
	}
	if n, err := strconv.Atoi(fields["max_attempts"]); err == nil {
		job.MaxAttempts = n
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["enqueued_at"]); err == nil {
		job.EnqueuedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		job.UpdatedAt = t
	}

	return job
}
