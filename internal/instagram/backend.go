// Package instagram pulls recent posts from Instagram accounts through a
// configurable collector backend, stores post images under the images
// directory, optionally classifies captions through the AI provider, and
// feeds the results into ingestion as raw events.
package instagram

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
)

// Post is one Instagram post as reported by a backend.
type Post struct {
	// ID is the media shortcode, stable across pulls.
	ID       string
	Caption  string
	ImageURL string
	// URL is the public permalink.
	URL     string
	TakenAt time.Time
}

// Backend pulls recent posts for one account. Implementations wrap
// external collector services; the runtime depends only on this contract.
type Backend interface {
	FetchPosts(ctx context.Context, username string, limit int) ([]Post, error)
}

// BackendConfig carries backend options from the source config.
type BackendConfig struct {
	// BaseURL overrides the collector address. The Apify backend defaults
	// to the public Apify API; the private API backend requires it.
	BaseURL string `mapstructure:"base_url"`
	// Token authenticates against the collector.
	Token string `mapstructure:"token"`
	// Actor picks the Apify actor. Defaults to the Instagram scraper actor.
	Actor string `mapstructure:"actor"`
}

// BackendConfigFrom decodes backend options out of a source config map.
func BackendConfigFrom(config map[string]any) (BackendConfig, error) {
	var cfg BackendConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return cfg, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(config); err != nil {
		return cfg, fmt.Errorf("failed to decode backend config: %w", err)
	}
	return cfg, nil
}

// ResolveBackend builds the backend for the effective scraper type.
func ResolveBackend(scraperType domain.InstagramScraperType, cfg BackendConfig, log logger.Logger) (Backend, error) {
	switch scraperType {
	case domain.InstagramScraperApify:
		return NewApifyBackend(cfg, log)
	case domain.InstagramScraperPrivateAPI:
		return NewPrivateAPIBackend(cfg, log)
	default:
		return nil, fmt.Errorf("unknown instagram scraper type %q", scraperType)
	}
}
