// Package wordpress talks to a WordPress site's REST API with an
// application password, creating and updating event posts and media for
// wp-rest exports.
package wordpress

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
)

const (
	requestTimeout = 30 * time.Second
	// findPageSize is the scan page size when resolving a post by
	// external id. The REST API caps per_page at 100.
	findPageSize = 100

	badRequestStatusCode = 400
)

// Client is a REST client for one WordPress site.
type Client struct {
	baseURL     string
	username    string
	appPassword string
	client      *http.Client
	log         logger.Logger
}

// EventPost is the request body for the events post type. Event fields
// are registered REST fields on the target site, so they ride at the top
// level next to the core post fields.
type EventPost struct {
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
	Status  string `json:"status,omitempty"`
	Author  *int   `json:"author,omitempty"`

	ExternalID string `json:"external_id"`

	StartDate    string `json:"event_start_date,omitempty"`
	EndDate      string `json:"event_end_date,omitempty"`
	Timezone     string `json:"event_timezone,omitempty"`
	VenueName    string `json:"event_venue,omitempty"`
	VenueAddress string `json:"event_address,omitempty"`
	Organizer    string `json:"event_organizer,omitempty"`
	Cost         string `json:"event_cost,omitempty"`
	Website      string `json:"event_website,omitempty"`

	Categories    []int `json:"categories,omitempty"`
	FeaturedMedia int   `json:"featured_media,omitempty"`
}

// PostRef is the trimmed post projection returned by the external-id scan.
type PostRef struct {
	ID         int    `json:"id"`
	ExternalID string `json:"external_id"`
}

type postResponse struct {
	ID int `json:"id"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewClient builds a client for the site described by settings.
func NewClient(settings *domain.WordPressSettings, log logger.Logger) (*Client, error) {
	if settings.SiteURL == "" {
		return nil, errors.New("wordpress site URL is required")
	}
	if settings.Username == "" {
		return nil, errors.New("wordpress username is required")
	}
	if settings.AppPassword == "" {
		return nil, errors.New("wordpress application password is required")
	}

	return &Client{
		baseURL:     strings.TrimRight(settings.SiteURL, "/"),
		username:    settings.Username,
		appPassword: settings.AppPassword,
		client:      &http.Client{Timeout: requestTimeout},
		log:         log,
	}, nil
}

// setAuthHeaders applies application-password Basic auth.
func (c *Client) setAuthHeaders(req *http.Request) {
	credentials := base64.StdEncoding.EncodeToString(
		[]byte(fmt.Sprintf("%s:%s", c.username, c.appPassword)))
	req.Header.Set("Authorization", "Basic "+credentials)
}

// FindEventByExternalID scans the events post type for a post whose
// external_id matches. Returns nil when no post matches. The API has no
// server-side filter for registered fields, so the scan pages through
// trimmed projections and matches client-side.
func (c *Client) FindEventByExternalID(ctx context.Context, externalID string) (*PostRef, error) {
	for page := 1; ; page++ {
		endpoint := fmt.Sprintf(
			"%s/wp-json/wp/v2/events?_fields=id,external_id&status=any&per_page=%d&page=%d",
			c.baseURL, findPageSize, page)

		var posts []PostRef
		if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &posts); err != nil {
			return nil, fmt.Errorf("scan events page %d: %w", page, err)
		}

		for i := range posts {
			if posts[i].ExternalID == externalID {
				return &posts[i], nil
			}
		}

		if len(posts) < findPageSize {
			return nil, nil
		}
	}
}

// CreateEvent creates a new event post and returns its id.
func (c *Client) CreateEvent(ctx context.Context, post EventPost) (int, error) {
	endpoint := fmt.Sprintf("%s/wp-json/wp/v2/events", c.baseURL)
	return c.writeEvent(ctx, http.MethodPost, endpoint, post)
}

// UpdateEvent rewrites an existing event post and returns its id.
func (c *Client) UpdateEvent(ctx context.Context, postID int, post EventPost) (int, error) {
	endpoint := fmt.Sprintf("%s/wp-json/wp/v2/events/%d", c.baseURL, postID)
	return c.writeEvent(ctx, http.MethodPut, endpoint, post)
}

func (c *Client) writeEvent(ctx context.Context, method, endpoint string, post EventPost) (int, error) {
	methodLogger := c.log.With(
		logger.String("method", method),
		logger.String("external_id", post.ExternalID))

	start := time.Now()
	var resp postResponse
	if err := c.doJSON(ctx, method, endpoint, post, &resp); err != nil {
		methodLogger.Error("WordPress event write failed",
			logger.String("endpoint", endpoint),
			logger.Duration("duration", time.Since(start)),
			logger.Error(err))
		return 0, err
	}

	methodLogger.Debug("WordPress event written",
		logger.Int("post_id", resp.ID),
		logger.Duration("duration", time.Since(start)))
	return resp.ID, nil
}

// UploadMedia posts raw image bytes to the media endpoint and returns the
// attachment id.
func (c *Client) UploadMedia(ctx context.Context, filename, contentType string, data []byte) (int, error) {
	endpoint := fmt.Sprintf("%s/wp-json/wp/v2/media", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("create media request: %w", err)
	}

	httpReq.Header.Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	c.setAuthHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("upload media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= badRequestStatusCode {
		return 0, c.decodeError(resp)
	}

	var media postResponse
	if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
		return 0, fmt.Errorf("decode media response: %w", err)
	}

	c.log.Debug("media uploaded",
		logger.String("filename", filename),
		logger.Int("media_id", media.ID))
	return media.ID, nil
}

// DownloadImage fetches image bytes from an arbitrary URL, returning the
// payload and its content type. No site auth is sent; the image host is
// not the WordPress site.
func (c *Client) DownloadImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, http.NoBody)
	if err != nil {
		return nil, "", fmt.Errorf("create image request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= badRequestStatusCode {
		return nil, "", fmt.Errorf("download image: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}

	return data, resp.Header.Get("Content-Type"), nil
}

// MediaFilename derives an upload filename from an image URL path,
// falling back to a generic name when the path has none.
func MediaFilename(imageURL string) string {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return "event-image.jpg"
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	name := segments[len(segments)-1]
	if name == "" {
		return "event-image.jpg"
	}
	return name
}

// doJSON runs one JSON request/response cycle against the site.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	var reqBody io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= badRequestStatusCode {
		return c.decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// decodeError turns an error response into a readable error, preferring
// the structured {code, message} body WordPress returns.
func (c *Client) decodeError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)

	var apiErr apiError
	if err := json.Unmarshal(bodyBytes, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("wordpress API error (%d %s): %s", resp.StatusCode, apiErr.Code, apiErr.Message)
	}

	return fmt.Errorf("wordpress API error: %d %s", resp.StatusCode, resp.Status)
}
