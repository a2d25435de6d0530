package instagram_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/instagram"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"

	"github.com/anthropics/anthropic-sdk-go/option"
)

// messagesReply wraps reply text in the Messages API response envelope.
func messagesReply(t *testing.T, text string) []byte {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"id":    "msg_test",
		"type":  "message",
		"role":  "assistant",
		"model": instagram.DefaultClassifierModel,
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": 50, "output_tokens": 80},
	})
	require.NoError(t, err)
	return body
}

func classifierServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var req struct {
			Model  string `json:"model"`
			System []struct {
				Text string `json:"text"`
			} `json:"system"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, instagram.DefaultClassifierModel, req.Model)
		if assert.NotEmpty(t, req.System) {
			assert.Contains(t, req.System[0].Text, "JSON")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(messagesReply(t, reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicClassifierClassify(t *testing.T) {
	srv := classifierServer(t, `{
		"is_event_poster": true,
		"confidence": 0.92,
		"title": "Jazz Night at the Blue Room",
		"start_datetime": "2026-08-28T19:00:00-07:00",
		"end_datetime": "2026-08-28T22:00:00-07:00",
		"venue_name": "Blue Room",
		"city": "Prince George",
		"category": "Music",
		"price": "$15"
	}`)

	classifier := instagram.NewAnthropicClassifier("test-key", "", logger.NewNop(),
		option.WithBaseURL(srv.URL))

	result, err := classifier.Classify(context.Background(), "JAZZ NIGHT! Friday Aug 28, 7pm at the Blue Room. $15 at the door.")
	require.NoError(t, err)

	assert.True(t, result.IsEventPoster)
	assert.InDelta(t, 0.92, result.Confidence, 0.001)
	assert.Equal(t, "Jazz Night at the Blue Room", result.Title)
	assert.Equal(t, "2026-08-28T19:00:00-07:00", result.Start)
	assert.Equal(t, "2026-08-28T22:00:00-07:00", result.End)
	assert.Equal(t, "Blue Room", result.VenueName)
	assert.Equal(t, "Prince George", result.City)
	assert.Equal(t, "Music", result.Category)
	assert.Equal(t, "$15", result.Price)
}

func TestAnthropicClassifierToleratesFencedReplies(t *testing.T) {
	srv := classifierServer(t, "Here is the classification:\n```json\n{\"is_event_poster\": false, \"confidence\": 0.85}\n```")

	classifier := instagram.NewAnthropicClassifier("test-key", "", logger.NewNop(),
		option.WithBaseURL(srv.URL))

	result, err := classifier.Classify(context.Background(), "sunset pic from the weekend")
	require.NoError(t, err)

	assert.False(t, result.IsEventPoster)
	assert.InDelta(t, 0.85, result.Confidence, 0.001)
}

func TestAnthropicClassifierClampsConfidence(t *testing.T) {
	srv := classifierServer(t, `{"is_event_poster": true, "confidence": 1.7}`)

	classifier := instagram.NewAnthropicClassifier("test-key", "", logger.NewNop(),
		option.WithBaseURL(srv.URL))

	result, err := classifier.Classify(context.Background(), "caption")
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestAnthropicClassifierRejectsNonJSONReplies(t *testing.T) {
	srv := classifierServer(t, "I cannot classify this caption.")

	classifier := instagram.NewAnthropicClassifier("test-key", "", logger.NewNop(),
		option.WithBaseURL(srv.URL))

	_, err := classifier.Classify(context.Background(), "caption")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON object")
}
