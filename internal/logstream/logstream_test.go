package logstream_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logstream"
)

func newTestStream(t *testing.T) (*logstream.Stream, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return logstream.NewStream(rdb), mr, rdb
}

func TestStreamAppendSetsTTL(t *testing.T) {
	stream, mr, _ := newTestStream(t)
	ctx := context.Background()

	err := stream.Append(ctx, "run-1", logstream.Entry{
		Level: logstream.LevelInfo,
		Msg:   "run started",
	})
	require.NoError(t, err)

	assert.Equal(t, 7*24*time.Hour, mr.TTL(stream.Key("run-1")))
}

func TestStreamHistoryChronological(t *testing.T) {
	stream, _, _ := newTestStream(t)
	ctx := context.Background()

	require.NoError(t, stream.Append(ctx, "run-1", logstream.Entry{
		TimestampMS: 1000,
		Level:       logstream.LevelInfo,
		Msg:         "first",
		Source:      "tourismpg",
	}))
	require.NoError(t, stream.Append(ctx, "run-1", logstream.Entry{
		TimestampMS: 2000,
		Level:       logstream.LevelError,
		Msg:         "second",
		Raw:         json.RawMessage(`{"url":"https://example.com/events"}`),
	}))

	entries, err := stream.History(ctx, "run-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "first", entries[0].Msg)
	assert.Equal(t, logstream.LevelInfo, entries[0].Level)
	assert.Equal(t, int64(1000), entries[0].TimestampMS)
	assert.Equal(t, "tourismpg", entries[0].Source)
	assert.Empty(t, entries[0].Raw)
	assert.NotEmpty(t, entries[0].ID)

	assert.Equal(t, "second", entries[1].Msg)
	assert.Equal(t, logstream.LevelError, entries[1].Level)
	assert.JSONEq(t, `{"url":"https://example.com/events"}`, string(entries[1].Raw))
}

func TestStreamHistoryRespectsCount(t *testing.T) {
	stream, _, _ := newTestStream(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, stream.Append(ctx, "run-1", logstream.Entry{
			Level: logstream.LevelInfo,
			Msg:   fmt.Sprintf("line %d", i),
		}))
	}

	entries, err := stream.History(ctx, "run-1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "line 0", entries[0].Msg)
	assert.Equal(t, "line 2", entries[2].Msg)
}

func TestStreamHistoryRangeBounds(t *testing.T) {
	stream, _, _ := newTestStream(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, stream.Append(ctx, "run-1", logstream.Entry{
			Level: logstream.LevelInfo,
			Msg:   fmt.Sprintf("line %d", i),
		}))
	}

	all, err := stream.History(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)

	// From the third entry onward.
	entries, err := stream.HistoryRange(ctx, "run-1", all[2].ID, "+", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "line 2", entries[0].Msg)

	// Up to the second entry.
	entries, err = stream.HistoryRange(ctx, "run-1", "", all[1].ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "line 1", entries[1].Msg)
}

func TestStreamTrimCapsLength(t *testing.T) {
	stream, _, rdb := newTestStream(t)
	ctx := context.Background()

	for i := 0; i < 2100; i++ {
		require.NoError(t, stream.Append(ctx, "run-1", logstream.Entry{
			Level: logstream.LevelDebug,
			Msg:   fmt.Sprintf("line %d", i),
		}))
	}

	require.NoError(t, stream.Trim(ctx, "run-1"))

	length, err := rdb.XLen(ctx, stream.Key("run-1")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2000), length)

	// The oldest lines are the ones dropped.
	entries, err := stream.History(ctx, "run-1", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "line 100", entries[0].Msg)
}

func TestStreamReadSinceAdvancesCursor(t *testing.T) {
	stream, _, _ := newTestStream(t)
	ctx := context.Background()

	require.NoError(t, stream.Append(ctx, "run-1", logstream.Entry{Level: logstream.LevelInfo, Msg: "one"}))
	require.NoError(t, stream.Append(ctx, "run-1", logstream.Entry{Level: logstream.LevelInfo, Msg: "two"}))

	entries, cursor, err := stream.ReadSince(ctx, "run-1", "", 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, entries[1].ID, cursor)

	require.NoError(t, stream.Append(ctx, "run-1", logstream.Entry{Level: logstream.LevelWarn, Msg: "three"}))

	entries, cursor, err = stream.ReadSince(ctx, "run-1", cursor, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "three", entries[0].Msg)

	// Nothing new: the cursor stays put and no entries come back.
	entries, next, err := stream.ReadSince(ctx, "run-1", cursor, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, cursor, next)
}

func TestStreamDelete(t *testing.T) {
	stream, mr, _ := newTestStream(t)
	ctx := context.Background()

	require.NoError(t, stream.Append(ctx, "run-1", logstream.Entry{Level: logstream.LevelInfo, Msg: "gone"}))
	require.NoError(t, stream.Delete(ctx, "run-1"))

	assert.False(t, mr.Exists(stream.Key("run-1")))
}

func TestRunLoggerTeesToStream(t *testing.T) {
	stream, _, _ := newTestStream(t)
	ctx := context.Background()

	rl := logstream.NewRunLogger(ctx, stream, logger.NewNop(), "run-1", "downtownpg")
	rl.Info("fetching listing page", map[string]any{"page": 1})
	rl.Error("request failed")
	rl.WithSource("unbc").Warn("skipping malformed date")

	entries, err := stream.History(ctx, "run-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, logstream.LevelInfo, entries[0].Level)
	assert.Equal(t, "fetching listing page", entries[0].Msg)
	assert.Equal(t, "downtownpg", entries[0].Source)
	assert.JSONEq(t, `{"page":1}`, string(entries[0].Raw))
	assert.NotZero(t, entries[0].TimestampMS)

	assert.Equal(t, logstream.LevelError, entries[1].Level)
	assert.Empty(t, entries[1].Raw)

	assert.Equal(t, logstream.LevelWarn, entries[2].Level)
	assert.Equal(t, "unbc", entries[2].Source)
}

func TestLevelName(t *testing.T) {
	assert.Equal(t, "info", logstream.LevelName(logstream.LevelInfo))
	assert.Equal(t, "error", logstream.LevelName(logstream.LevelError))
	assert.Equal(t, "35", logstream.LevelName(35))
}
