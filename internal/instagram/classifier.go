package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
)

const (
	// DefaultClassifierModel is the model used when the system settings
	// name no other.
	DefaultClassifierModel = "claude-sonnet-4-5-20250929"

	classifierMaxTokens = 1024
)

const classifierSystemPrompt = `You review Instagram captions for a community events calendar.
Decide whether the caption announces a specific event with a date (an event poster),
and extract what the caption states. Respond with a single JSON object and nothing else:
{"is_event_poster": bool, "confidence": 0..1, "title": "", "start_datetime": "", "end_datetime": "",
"venue_name": "", "venue_address": "", "city": "", "organizer": "", "category": "", "price": ""}
Datetimes must be ISO 8601; leave fields you cannot determine as empty strings.
Never invent dates or venues that the caption does not state.`

// Classification is the AI judgment for one caption.
type Classification struct {
	IsEventPoster bool
	Confidence    float64

	Title        string
	Start        string
	End          string
	VenueName    string
	VenueAddress string
	City         string
	Organizer    string
	Category     string
	Price        string
}

// Classifier judges whether a caption announces an event and extracts its
// fields.
type Classifier interface {
	Classify(ctx context.Context, caption string) (*Classification, error)
}

// ClassifierFactory builds a classifier from the stored API key. The
// runtime resolves the key per job so settings changes apply without a
// restart.
type ClassifierFactory func(apiKey string) Classifier

// AnthropicClassifier classifies captions through the Anthropic Messages
// API.
type AnthropicClassifier struct {
	client anthropic.Client
	model  string
	log    logger.Logger
}

// NewAnthropicClassifier builds a classifier. Extra request options are
// passed to the underlying client.
func NewAnthropicClassifier(apiKey, model string, log logger.Logger, opts ...option.RequestOption) *AnthropicClassifier {
	if model == "" {
		model = DefaultClassifierModel
	}
	clientOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)

	return &AnthropicClassifier{
		client: anthropic.NewClient(clientOpts...),
		model:  model,
		log:    log,
	}
}

type classificationWire struct {
	IsEventPoster bool    `json:"is_event_poster"`
	Confidence    float64 `json:"confidence"`
	Title         string  `json:"title"`
	Start         string  `json:"start_datetime"`
	End           string  `json:"end_datetime"`
	VenueName     string  `json:"venue_name"`
	VenueAddress  string  `json:"venue_address"`
	City          string  `json:"city"`
	Organizer     string  `json:"organizer"`
	Category      string  `json:"category"`
	Price         string  `json:"price"`
}

// Classify sends one caption for judgment.
func (c *AnthropicClassifier) Classify(ctx context.Context, caption string) (*Classification, error) {
	start := time.Now()

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   classifierMaxTokens,
		Temperature: anthropic.Float(0),
		System: []anthropic.TextBlockParam{
			{Text: classifierSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(caption)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("classification request: %w", err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(variant.Text)
		}
	}

	wire, err := parseClassification(sb.String())
	if err != nil {
		return nil, err
	}

	c.log.Debug("caption classified",
		logger.Bool("is_event_poster", wire.IsEventPoster),
		logger.Duration("duration", time.Since(start)))

	return &Classification{
		IsEventPoster: wire.IsEventPoster,
		Confidence:    clampConfidence(wire.Confidence),
		Title:         strings.TrimSpace(wire.Title),
		Start:         strings.TrimSpace(wire.Start),
		End:           strings.TrimSpace(wire.End),
		VenueName:     strings.TrimSpace(wire.VenueName),
		VenueAddress:  strings.TrimSpace(wire.VenueAddress),
		City:          strings.TrimSpace(wire.City),
		Organizer:     strings.TrimSpace(wire.Organizer),
		Category:      strings.TrimSpace(wire.Category),
		Price:         strings.TrimSpace(wire.Price),
	}, nil
}

// parseClassification pulls the JSON object out of the model's reply,
// tolerating code fences around it.
func parseClassification(text string) (*classificationWire, error) {
	open := strings.Index(text, "{")
	closing := strings.LastIndex(text, "}")
	if open < 0 || closing <= open {
		return nil, errors.New("classification reply contains no JSON object")
	}

	var wire classificationWire
	if err := json.Unmarshal([]byte(text[open:closing+1]), &wire); err != nil {
		return nil, fmt.Errorf("parse classification reply: %w", err)
	}
	return &wire, nil
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
