package logstream

import (
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Numeric log levels carried on stream entries. The numbers match the
// wire format consumed by the admin UI log viewer.
const (
	LevelTrace = 10
	LevelDebug = 20
	LevelInfo  = 30
	LevelWarn  = 40
	LevelError = 50
)

// LevelName returns the display name for a numeric level.
func LevelName(level int) string {
	switch level {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return strconv.Itoa(level)
	}
}

// Entry is a single log line in a per-run stream. ID is the Redis stream
// ID and is only set on entries read back from a stream; it doubles as the
// cursor for live tailing.
type Entry struct {
	ID          string          `json:"id,omitempty"`
	TimestampMS int64           `json:"timestamp_ms"`
	Level       int             `json:"level"`
	Msg         string          `json:"msg"`
	Source      string          `json:"source,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

const (
	fieldTimestampMS = "timestamp_ms"
	fieldLevel       = "level"
	fieldMsg         = "msg"
	fieldSource      = "source"
	fieldRaw         = "raw"
)

// values flattens the entry into the map stored on the stream. Optional
// fields are omitted rather than stored empty.
func (e Entry) values() map[string]interface{} {
	values := map[string]interface{}{
		fieldTimestampMS: e.TimestampMS,
		fieldLevel:       e.Level,
		fieldMsg:         e.Msg,
	}
	if e.Source != "" {
		values[fieldSource] = e.Source
	}
	if len(e.Raw) > 0 {
		values[fieldRaw] = string(e.Raw)
	}
	return values
}

// parseMessage converts a raw stream message back into an Entry. Redis
// returns every value as a string, so numeric fields are re-parsed and
// anything malformed is left at its zero value.
func parseMessage(msg redis.XMessage) Entry {
	entry := Entry{ID: msg.ID}

	if v, ok := msg.Values[fieldTimestampMS].(string); ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			entry.TimestampMS = ms
		}
	}
	if v, ok := msg.Values[fieldLevel].(string); ok {
		if level, err := strconv.Atoi(v); err == nil {
			entry.Level = level
		}
	}
	if v, ok := msg.Values[fieldMsg].(string); ok {
		entry.Msg = v
	}
	if v, ok := msg.Values[fieldSource].(string); ok {
		entry.Source = v
	}
	if v, ok := msg.Values[fieldRaw].(string); ok && v != "" {
		entry.Raw = json.RawMessage(v)
	}

	return entry
}
