package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSE header constants.
const (
	headerContentType     = "Content-Type"
	headerCacheControl    = "Cache-Control"
	headerConnection      = "Connection"
	headerXAccelBuffering = "X-Accel-Buffering"

	sseContentType = "text/event-stream"
)

// SetHeaders sets the standard SSE headers on a response writer. The
// X-Accel-Buffering header stops nginx-style proxies from buffering the
// stream.
func SetHeaders(w http.ResponseWriter) {
	w.Header().Set(headerContentType, sseContentType)
	w.Header().Set(headerCacheControl, "no-cache")
	w.Header().Set(headerConnection, "keep-alive")
	w.Header().Set(headerXAccelBuffering, "no")
}

// flusher interface for response writers that support flushing.
type flusher interface {
	Flush()
}

// WriteEvent writes one SSE event to the response writer and flushes it so
// the frame reaches the client immediately.
func WriteEvent(w http.ResponseWriter, event Event) error {
	if event.Type != "" {
		if _, writeErr := fmt.Fprintf(w, "event: %s\n", event.Type); writeErr != nil {
			return fmt.Errorf("write event type: %w", writeErr)
		}
	}

	if event.ID != "" {
		if _, writeErr := fmt.Fprintf(w, "id: %s\n", event.ID); writeErr != nil {
			return fmt.Errorf("write event id: %w", writeErr)
		}
	}

	if event.Retry > 0 {
		if _, writeErr := fmt.Fprintf(w, "retry: %d\n", event.Retry); writeErr != nil {
			return fmt.Errorf("write retry: %w", writeErr)
		}
	}

	dataJSON, marshalErr := json.Marshal(event.Data)
	if marshalErr != nil {
		return fmt.Errorf("marshal event data: %w", marshalErr)
	}

	if _, writeErr := fmt.Fprintf(w, "data: %s\n\n", dataJSON); writeErr != nil {
		return fmt.Errorf("write event data: %w", writeErr)
	}

	if f, ok := w.(flusher); ok {
		f.Flush()
	}
	return nil
}

// WriteComment writes an SSE comment line. Comments are invisible to
// EventSource clients and keep idle connections alive through proxies.
func WriteComment(w http.ResponseWriter, comment string) error {
	if _, writeErr := fmt.Fprintf(w, ": %s\n\n", comment); writeErr != nil {
		return fmt.Errorf("write comment: %w", writeErr)
	}
	if f, ok := w.(flusher); ok {
		f.Flush()
	}
	return nil
}
