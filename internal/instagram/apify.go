package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
)

const (
	apifyBaseURL      = "https://api.apify.com"
	apifyDefaultActor = "apify~instagram-scraper"

	// Synchronous actor runs hold the connection until the dataset is
	// ready, so the timeout is generous.
	apifyRunTimeout = 3 * time.Minute

	badRequestStatusCode = 400
)

// ApifyBackend runs the hosted Instagram scraper actor and reads its
// dataset items from the synchronous run endpoint.
type ApifyBackend struct {
	baseURL string
	token   string
	actor   string
	client  *http.Client
	log     logger.Logger
}

// apifyItem is one dataset row from the Instagram scraper actor.
type apifyItem struct {
	ID         string `json:"id"`
	ShortCode  string `json:"shortCode"`
	Caption    string `json:"caption"`
	URL        string `json:"url"`
	DisplayURL string `json:"displayUrl"`
	Timestamp  string `json:"timestamp"`
}

// NewApifyBackend builds the Apify-backed collector.
func NewApifyBackend(cfg BackendConfig, log logger.Logger) (*ApifyBackend, error) {
	if cfg.Token == "" {
		return nil, errors.New("apify backend requires a token in the source config")
	}

	base := cfg.BaseURL
	if base == "" {
		base = apifyBaseURL
	}
	actor := cfg.Actor
	if actor == "" {
		actor = apifyDefaultActor
	}

	return &ApifyBackend{
		baseURL: strings.TrimRight(base, "/"),
		token:   cfg.Token,
		actor:   actor,
		client:  &http.Client{Timeout: apifyRunTimeout},
		log:     log,
	}, nil
}

// FetchPosts runs the actor against one profile and maps the dataset
// items to posts. Items without a stable id are dropped.
func (b *ApifyBackend) FetchPosts(ctx context.Context, username string, limit int) ([]Post, error) {
	input := map[string]any{
		"directUrls":   []string{fmt.Sprintf("https://www.instagram.com/%s/", username)},
		"resultsType":  "posts",
		"resultsLimit": limit,
	}
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal actor input: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/acts/%s/run-sync-get-dataset-items?token=%s",
		b.baseURL, url.PathEscape(b.actor), url.QueryEscape(b.token))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create actor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("run actor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= badRequestStatusCode {
		return nil, b.decodeError(resp)
	}

	var items []apifyItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode dataset items: %w", err)
	}

	posts := make([]Post, 0, len(items))
	for _, item := range items {
		id := item.ShortCode
		if id == "" {
			id = item.ID
		}
		if id == "" {
			continue
		}

		post := Post{
			ID:       id,
			Caption:  item.Caption,
			ImageURL: item.DisplayURL,
			URL:      item.URL,
		}
		if t, parseErr := time.Parse(time.RFC3339, item.Timestamp); parseErr == nil {
			post.TakenAt = t
		}
		posts = append(posts, post)
	}

	b.log.Debug("apify actor run finished",
		logger.String("username", username),
		logger.Int("posts", len(posts)),
		logger.Duration("duration", time.Since(start)))
	return posts, nil
}

// decodeError prefers the structured {error: {type, message}} body the
// Apify API returns.
func (b *ApifyBackend) decodeError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)

	var apiErr struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(bodyBytes, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("apify API error (%d %s): %s", resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
	}

	return fmt.Errorf("apify API error: %d %s", resp.StatusCode, resp.Status)
}
