package instagram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const imageDownloadTimeout = 30 * time.Second

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// ImageStore downloads post images into the images directory, one
// subdirectory per account. Stored paths are relative to the directory so
// the files stay addressable when the volume is mounted elsewhere.
type ImageStore struct {
	dir    string
	client *http.Client
}

// NewImageStore creates a store rooted at dir.
func NewImageStore(dir string) *ImageStore {
	return &ImageStore{
		dir:    dir,
		client: &http.Client{Timeout: imageDownloadTimeout},
	}
}

// Save downloads the post's image and returns its stored path relative to
// the images directory. Posts without an image return "". A file already
// on disk is reused, which keeps re-scrapes from re-downloading.
func (s *ImageStore) Save(ctx context.Context, username string, post Post) (string, error) {
	if post.ImageURL == "" {
		return "", nil
	}

	dir := filepath.Join(s.dir, sanitizeName(username))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create image directory: %w", err)
	}

	relPath := filepath.Join(sanitizeName(username), sanitizeName(post.ID)+imageExtension(post.ImageURL))
	fullPath := filepath.Join(s.dir, relPath)
	if _, err := os.Stat(fullPath); err == nil {
		return relPath, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, post.ImageURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create image request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= badRequestStatusCode {
		return "", fmt.Errorf("download image: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return relPath, nil
}

// imageExtension picks a file extension from the image URL path,
// defaulting to .jpg for the CDN's extension-less URLs.
func imageExtension(imageURL string) string {
	trimmed := imageURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	switch ext := strings.ToLower(filepath.Ext(trimmed)); ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return ext
	default:
		return ".jpg"
	}
}

func sanitizeName(name string) string {
	cleaned := unsafeFilenameChars.ReplaceAllString(name, "_")
	if cleaned == "" {
		return "_"
	}
	return cleaned
}
