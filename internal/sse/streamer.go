package sse

import (
	"context"
	"net/http"
	"time"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logstream"
)

// Default streaming configuration.
const (
	// DefaultReplayCount caps how much history a fresh session replays.
	DefaultReplayCount = 1000
	// DefaultBlockTimeout is the long-poll window against the stream store.
	DefaultBlockTimeout = 5 * time.Second
	// DefaultHeartbeatInterval is the longest a session stays silent before
	// a comment frame goes out.
	DefaultHeartbeatInterval = 15 * time.Second
)

// Streamer serves replay-then-tail log sessions from the per-run stream
// store.
type Streamer struct {
	stream *logstream.Stream
	log    logger.Logger

	replayCount       int64
	blockTimeout      time.Duration
	heartbeatInterval time.Duration
}

// Option configures a Streamer.
type Option func(*Streamer)

// WithReplayCount sets how many historical entries a session replays.
func WithReplayCount(count int64) Option {
	return func(s *Streamer) {
		if count > 0 {
			s.replayCount = count
		}
	}
}

// WithBlockTimeout sets the long-poll window for live tailing.
func WithBlockTimeout(timeout time.Duration) Option {
	return func(s *Streamer) {
		if timeout > 0 {
			s.blockTimeout = timeout
		}
	}
}

// WithHeartbeatInterval sets the maximum quiet period between frames.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(s *Streamer) {
		if interval > 0 {
			s.heartbeatInterval = interval
		}
	}
}

// NewStreamer creates a Streamer over the given stream store.
func NewStreamer(stream *logstream.Stream, log logger.Logger, opts ...Option) *Streamer {
	s := &Streamer{
		stream:            stream,
		log:               log,
		replayCount:       DefaultReplayCount,
		blockTimeout:      DefaultBlockTimeout,
		heartbeatInterval: DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve streams the run's log to w until ctx ends or the client goes away.
// The session opens with a connected frame, replays history while advancing
// the cursor, then tails the stream with blocking reads. Quiet windows emit
// comment heartbeats so proxies keep the connection open.
func (s *Streamer) Serve(ctx context.Context, w http.ResponseWriter, runID string) error {
	SetHeaders(w)

	if err := s.stream.Trim(ctx, runID); err != nil {
		s.log.Warn("failed to trim log stream on attach",
			logger.String("run_id", runID),
			logger.Error(err))
	}

	if err := WriteEvent(w, NewConnectedEvent(runID)); err != nil {
		return err
	}

	history, err := s.stream.History(ctx, runID, s.replayCount)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	cursor := "0"
	for i := 0; i < len(history); i++ {
		if werr := WriteEvent(w, NewLogEvent(runID, history[i])); werr != nil {
			return werr
		}
		cursor = history[i].ID
	}

	lastFrame := time.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}

		entries, next, readErr := s.stream.ReadSince(ctx, runID, cursor, s.blockTimeout)
		if readErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return readErr
		}
		cursor = next

		for i := 0; i < len(entries); i++ {
			if werr := WriteEvent(w, NewLogEvent(runID, entries[i])); werr != nil {
				return werr
			}
		}
		if len(entries) > 0 {
			lastFrame = time.Now()
			continue
		}

		if time.Since(lastFrame) >= s.heartbeatInterval {
			if werr := WriteComment(w, "heartbeat "+time.Now().UTC().Format(time.RFC3339)); werr != nil {
				return werr
			}
			lastFrame = time.Now()
		}
	}
}
