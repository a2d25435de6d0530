// Package logstream persists per-run scraper logs in Redis streams so the
// admin UI can replay history and tail live output while a run executes.
//
// Each run gets its own stream under logs:<run_id>. Entries expire with the
// stream seven days after the last write, and readers cap the stream at the
// most recent entries when they attach so abandoned runs do not grow
// without bound.
package logstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// keyPrefix namespaces run log streams in Redis.
	keyPrefix = "logs:"

	// streamTTL is how long a run's log stream survives after its last write.
	streamTTL = 7 * 24 * time.Hour

	// trimMaxLen is the cap applied when a reader opens a stream.
	trimMaxLen = 2000
)

// Stream reads and writes per-run log streams.
type Stream struct {
	rdb *redis.Client
}

// NewStream creates a Stream on the given Redis client.
func NewStream(rdb *redis.Client) *Stream {
	return &Stream{rdb: rdb}
}

// Key returns the Redis key for a run's log stream.
func (s *Stream) Key(runID string) string {
	return keyPrefix + runID
}

// Append writes one entry to the run's stream and refreshes the stream TTL.
// A zero timestamp is filled in with the current time.
func (s *Stream) Append(ctx context.Context, runID string, entry Entry) error {
	if entry.TimestampMS == 0 {
		entry.TimestampMS = time.Now().UnixMilli()
	}

	key := s.Key(runID)
	if err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: entry.values(),
	}).Err(); err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	if err := s.rdb.Expire(ctx, key, streamTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh log stream TTL: %w", err)
	}

	return nil
}

// Trim caps the run's stream at the most recent entries. Readers call this
// once when they attach.
func (s *Stream) Trim(ctx context.Context, runID string) error {
	if err := s.rdb.XTrimMaxLen(ctx, s.Key(runID), trimMaxLen).Err(); err != nil {
		return fmt.Errorf("failed to trim log stream: %w", err)
	}
	return nil
}

// History returns up to count entries from the start of the stream in
// chronological order. A count of zero or less returns the whole stream.
func (s *Stream) History(ctx context.Context, runID string, count int64) ([]Entry, error) {
	return s.HistoryRange(ctx, runID, "-", "+", count)
}

// HistoryRange returns up to count entries between the start and end stream
// ids, oldest first. Empty bounds default to the full stream.
func (s *Stream) HistoryRange(ctx context.Context, runID, start, end string, count int64) ([]Entry, error) {
	if start == "" {
		start = "-"
	}
	if end == "" {
		end = "+"
	}

	var (
		msgs []redis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = s.rdb.XRangeN(ctx, s.Key(runID), start, end, count).Result()
	} else {
		msgs, err = s.rdb.XRange(ctx, s.Key(runID), start, end).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read log history: %w", err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, parseMessage(msg))
	}
	return entries, nil
}

// ReadSince blocks up to block waiting for entries appended after cursor
// and returns them along with the cursor for the next call. An empty cursor
// starts from the beginning of the stream. A timeout with nothing new
// returns no entries and the unchanged cursor.
func (s *Stream) ReadSince(ctx context.Context, runID, cursor string, block time.Duration) ([]Entry, string, error) {
	if cursor == "" {
		cursor = "0"
	}

	streams, err := s.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.Key(runID), cursor},
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, cursor, nil
		}
		return nil, cursor, fmt.Errorf("failed to read log stream: %w", err)
	}

	var entries []Entry
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			entries = append(entries, parseMessage(msg))
			cursor = msg.ID
		}
	}
	return entries, cursor, nil
}

// Delete removes a run's log stream entirely.
func (s *Stream) Delete(ctx context.Context, runID string) error {
	if err := s.rdb.Del(ctx, s.Key(runID)).Err(); err != nil {
		return fmt.Errorf("failed to delete log stream: %w", err)
	}
	return nil
}
