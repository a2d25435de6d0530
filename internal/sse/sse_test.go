package sse_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logstream"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/sse"
)

func newTestStream(t *testing.T) *logstream.Stream {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return logstream.NewStream(rdb)
}

func TestSetHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	sse.SetHeaders(rec)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}

func TestWriteEventFrame(t *testing.T) {
	rec := httptest.NewRecorder()

	err := sse.WriteEvent(rec, sse.Event{
		ID:   "1-0",
		Data: map[string]string{"msg": "hello"},
	})
	require.NoError(t, err)

	body := rec.Body.String()
	assert.Equal(t, "id: 1-0\ndata: {\"msg\":\"hello\"}\n\n", body)
	assert.True(t, rec.Flushed)
}

func TestWriteEventFrameWithTypeAndRetry(t *testing.T) {
	rec := httptest.NewRecorder()

	err := sse.WriteEvent(rec, sse.Event{
		Type:  "log",
		Retry: 3000,
		Data:  map[string]int{"level": 30},
	})
	require.NoError(t, err)

	body := rec.Body.String()
	assert.Contains(t, body, "event: log\n")
	assert.Contains(t, body, "retry: 3000\n")
	assert.Contains(t, body, "data: {\"level\":30}\n\n")
}

func TestWriteComment(t *testing.T) {
	rec := httptest.NewRecorder()

	require.NoError(t, sse.WriteComment(rec, "heartbeat"))
	assert.Equal(t, ": heartbeat\n\n", rec.Body.String())
}

func TestNewLogEventWireShape(t *testing.T) {
	entry := logstream.Entry{
		ID:          "5-0",
		TimestampMS: 1756100000000,
		Level:       logstream.LevelWarn,
		Msg:         "rate limited",
		Source:      "downtownpg",
		Raw:         json.RawMessage(`{"attempt":2}`),
	}

	event := sse.NewLogEvent("run-1", entry)
	assert.Equal(t, "5-0", event.ID)

	data, err := json.Marshal(event.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "5-0",
		"timestamp": 1756100000000,
		"level": 40,
		"msg": "rate limited",
		"run_id": "run-1",
		"source": "downtownpg",
		"raw": {"attempt":2}
	}`, string(data))
}

func TestStreamerReplaysThenTails(t *testing.T) {
	stream := newTestStream(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, stream.Append(ctx, "run-1", logstream.Entry{Level: logstream.LevelInfo, Msg: "one"}))
	require.NoError(t, stream.Append(ctx, "run-1", logstream.Entry{Level: logstream.LevelInfo, Msg: "two"}))

	streamer := sse.NewStreamer(stream, logger.NewNop(), sse.WithBlockTimeout(20*time.Millisecond))

	rec := httptest.NewRecorder()
	done := make(chan error, 1)
	go func() {
		done <- streamer.Serve(ctx, rec, "run-1")
	}()

	// Give the replay a chance to finish, then append a live entry.
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, stream.Append(ctx, "run-1", logstream.Entry{Level: logstream.LevelError, Msg: "three"}))
	time.Sleep(80 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("streamer did not stop after context cancel")
	}

	body := rec.Body.String()
	assert.Contains(t, body, `"type":"connected"`)
	assert.Contains(t, body, `"msg":"one"`)
	assert.Contains(t, body, `"msg":"two"`)
	assert.Contains(t, body, `"msg":"three"`)

	// Replay keeps the append order ahead of the live tail.
	assert.Less(t, strings.Index(body, `"msg":"one"`), strings.Index(body, `"msg":"two"`))
	assert.Less(t, strings.Index(body, `"msg":"two"`), strings.Index(body, `"msg":"three"`))
}

func TestStreamerHeartbeatOnQuietStream(t *testing.T) {
	stream := newTestStream(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamer := sse.NewStreamer(stream, logger.NewNop(),
		sse.WithBlockTimeout(10*time.Millisecond),
		sse.WithHeartbeatInterval(30*time.Millisecond))

	rec := httptest.NewRecorder()
	done := make(chan error, 1)
	go func() {
		done <- streamer.Serve(ctx, rec, "run-quiet")
	}()

	time.Sleep(150 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("streamer did not stop after context cancel")
	}

	assert.Contains(t, rec.Body.String(), ": heartbeat")
}

func TestStreamerStopsImmediatelyOnCancelledContext(t *testing.T) {
	stream := newTestStream(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	streamer := sse.NewStreamer(stream, logger.NewNop(), sse.WithBlockTimeout(10*time.Millisecond))

	rec := httptest.NewRecorder()
	err := streamer.Serve(ctx, rec, "run-1")
	require.NoError(t, err)
}
