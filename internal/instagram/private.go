package instagram

import (
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

const privateRequestTimeout = 60 * time.Second

// PrivateAPIBackend talks to a self-hosted collector that fronts
// Instagram's private API. The collector address comes from the source
// config; an optional token rides as a bearer credential.
type PrivateAPIBackend struct {
	baseURL string
	token   string
	client  *http.Client
	log     logger.Logger
}

type privatePost struct {
	ID        string `json:"id"`
	Caption   string `json:"caption"`
	ImageURL  string `json:"image_url"`
	Permalink string `json:"permalink"`
	TakenAt   string `json:"taken_at"`
}

type privateResponse struct {
	Posts []privatePost `json:"posts"`
}

// NewPrivateAPIBackend builds the private API collector client.
func NewPrivateAPIBackend(cfg BackendConfig, log logger.Logger) (*PrivateAPIBackend, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("private API backend requires a base_url in the source config")
	}

	return &PrivateAPIBackend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: privateRequestTimeout},
		log:     log,
	}, nil
}

// FetchPosts lists the account's recent posts from the collector.
func (b *PrivateAPIBackend) FetchPosts(ctx context.Context, username string, limit int) ([]Post, error) {
	endpoint := fmt.Sprintf("%s/api/v1/users/%s/posts?limit=%d",
		b.baseURL, url.PathEscape(username), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create posts request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch posts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= badRequestStatusCode {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("collector error: %d %s: %s", resp.StatusCode, resp.Status, strings.TrimSpace(string(body)))
	}

	var decoded privateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}

	posts := make([]Post, 0, len(decoded.Posts))
	for _, p := range decoded.Posts {
		if p.ID == "" {
			continue
		}

		post := Post{
			ID:       p.ID,
			Caption:  p.Caption,
			ImageURL: p.ImageURL,
			URL:      p.Permalink,
		}
		if t, parseErr := time.Parse(time.RFC3339, p.TakenAt); parseErr == nil {
			post.TakenAt = t
		}
		posts = append(posts, post)
	}

	b.log.Debug("collector pull finished",
		logger.String("username", username),
		logger.Int("posts", len(posts)),
		logger.Duration("duration", time.Since(start)))
	return posts, nil
}
