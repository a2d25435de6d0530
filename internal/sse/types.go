// Package sse streams per-run scraper logs to browsers over Server-Sent
// Events. A session replays stream history first, then long-polls the
// stream store for new entries until the client goes away.
package sse

import (
	"encoding/json"
	"time"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logstream"
)

// Event represents a Server-Sent Event.
// Format: event: <Type>\ndata: <JSON payload>\n\n
type Event struct {
	// Type is the optional event type; empty means a default "message" event
	Type string `json:"type,omitempty"`
	// Data is the JSON payload (must be JSON-serializable)
	Data any `json:"data"`
	// ID is an optional event ID, used as the client resume cursor
	ID string `json:"id,omitempty"`
	// Retry tells the client how long to wait before reconnecting (milliseconds)
	Retry int `json:"retry,omitempty"`
}

// payloadTypeConnected discriminates the session-open frame from log frames.
const payloadTypeConnected = "connected"

// ConnectedPayload is the first frame of every stream session.
type ConnectedPayload struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	Timestamp string `json:"timestamp"`
}

// LogPayload is the wire shape of one log entry frame. Timestamp is epoch
// milliseconds; Level uses the 10/20/30/40/50 scale of the log stream.
type LogPayload struct {
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Level     int             `json:"level"`
	Msg       string          `json:"msg"`
	RunID     string          `json:"run_id"`
	Source    string          `json:"source,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// NewConnectedEvent creates the frame that opens a stream session.
func NewConnectedEvent(runID string) Event {
	return Event{
		Data: ConnectedPayload{
			Type:      payloadTypeConnected,
			RunID:     runID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// LogPayloadFrom maps a stream entry onto the wire shape shared by the
// SSE and history endpoints.
func LogPayloadFrom(runID string, entry logstream.Entry) LogPayload {
	return LogPayload{
		ID:        entry.ID,
		Timestamp: entry.TimestampMS,
		Level:     entry.Level,
		Msg:       entry.Msg,
		RunID:     runID,
		Source:    entry.Source,
		Raw:       entry.Raw,
	}
}

// NewLogEvent converts a stream entry into its SSE frame. The frame id is
// the stream id so clients can track their position.
func NewLogEvent(runID string, entry logstream.Entry) Event {
	return Event{
		ID:   entry.ID,
		Data: LogPayloadFrom(runID, entry),
	}
}
