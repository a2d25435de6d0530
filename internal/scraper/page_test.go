package scraper_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/scraper"
)

// leasePage hands out one page from a fresh single-slot pool.
func leasePage(t *testing.T, ratePerMin int) *scraper.Page {
	t.Helper()

	pool := scraper.NewPool(scraper.EngineConfig{PoolSize: 1}, logger.NewNop())
	t.Cleanup(pool.Close)

	lease, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(lease.Release)

	return lease.Page(ratePerMin)
}

func TestPageNavigateParsesDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Upcoming Events</title></head>
			<body><div class="event">Concert</div></body></html>`))
	}))
	defer srv.Close()

	page := leasePage(t, 0)
	doc, err := page.Navigate(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, doc.StatusCode)
	assert.Equal(t, "Upcoming Events", doc.Find("title").Text())
	assert.Equal(t, "Concert", doc.Find("div.event").Text())
	require.NotNil(t, doc.URL)
	assert.Equal(t, srv.URL, doc.URL.String())
}

func TestPageNavigateSurfacesHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<html><body>gone</body></html>`))
	}))
	defer srv.Close()

	page := leasePage(t, 0)
	doc, err := page.Navigate(context.Background(), srv.URL)
	require.NoError(t, err)

	// Error pages still parse; the caller decides what a 404 means.
	assert.Equal(t, http.StatusNotFound, doc.StatusCode)
	assert.Equal(t, "gone", doc.Find("body").Text())
}

func TestPageNavigateFailsOnUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	page := leasePage(t, 0)
	_, err := page.Navigate(context.Background(), addr)
	assert.Error(t, err)
}

func TestPageDetailHonoursCancelledContext(t *testing.T) {
	page := leasePage(t, 30)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := page.Detail(ctx, "http://127.0.0.1:1/never")
	assert.Error(t, err)
}

func TestPageDetailUnpacedWithoutRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>ok</body></html>`))
	}))
	defer srv.Close()

	page := leasePage(t, 0)
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := page.Detail(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDocumentResolveURL(t *testing.T) {
	base, err := url.Parse("https://example.com/events/calendar")
	require.NoError(t, err)
	doc := &scraper.Document{URL: base}

	assert.Equal(t, "https://example.com/events/detail/42", doc.ResolveURL("detail/42"))
	assert.Equal(t, "https://example.com/about", doc.ResolveURL("/about"))
	assert.Equal(t, "https://other.org/x", doc.ResolveURL("https://other.org/x"))
	assert.Equal(t, "", doc.ResolveURL("  "))
	assert.Equal(t, "", doc.ResolveURL(""))
}

func TestDocumentResolveURLWithoutBase(t *testing.T) {
	doc := &scraper.Document{}
	assert.Equal(t, "/relative", doc.ResolveURL("/relative"))
}
