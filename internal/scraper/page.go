package scraper

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	colly "github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

// Page is one leased fetch session. Navigate fetches listing pages with
// the navigation timeout; Detail paces itself to the source's rate limit
// with jitter before fetching on the shorter detail timeout.
type Page struct {
	engine  EngineConfig
	limiter *rate.Limiter
	spacing time.Duration
}

func newPage(engine EngineConfig, ratePerMin int) *Page {
	var spacing time.Duration
	if ratePerMin > 0 {
		spacing = time.Minute / time.Duration(ratePerMin)
	}
	return &Page{
		engine:  engine,
		limiter: rate.NewLimiter(rate.Every(spacing), 1),
		spacing: spacing,
	}
}

// Navigate fetches a listing page.
func (pg *Page) Navigate(ctx context.Context, pageURL string) (*Document, error) {
	return pg.fetch(ctx, pageURL, pg.engine.NavTimeout)
}

// Detail fetches a detail page, first waiting out the rate limit plus a
// random jitter so bursts of detail fetches stay spread out.
func (pg *Page) Detail(ctx context.Context, pageURL string) (*Document, error) {
	if err := pg.pace(ctx); err != nil {
		return nil, err
	}
	return pg.fetch(ctx, pageURL, pg.engine.DetailTimeout)
}

func (pg *Page) pace(ctx context.Context) error {
	if err := pg.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if pg.spacing <= 0 {
		return nil
	}

	jitter := time.Duration(rand.Int63n(int64(pg.spacing/2 + 1))) //nolint:gosec // politeness jitter, not crypto
	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (pg *Page) fetch(ctx context.Context, pageURL string, timeout time.Duration) (*Document, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	collector := colly.NewCollector(
		colly.UserAgent(pg.engine.UserAgent),
		colly.StdlibContext(fetchCtx),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
	)
	collector.SetRequestTimeout(timeout)

	var (
		doc      *Document
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
		if err != nil {
			fetchErr = fmt.Errorf("parsing response: %w", err)
			return
		}
		doc = &Document{
			URL:        r.Request.URL,
			StatusCode: r.StatusCode,
			Root:       parsed,
		}
	})
	collector.OnError(func(_ *colly.Response, visitErr error) {
		fetchErr = visitErr
	})

	if err := collector.Visit(pageURL); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	collector.Wait()

	if fetchErr != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, fetchErr)
	}
	if doc == nil {
		return nil, fmt.Errorf("fetching %s: empty response", pageURL)
	}
	return doc, nil
}

// Document is a fetched page parsed for selector queries.
type Document struct {
	URL        *url.URL
	StatusCode int
	Root       *goquery.Document
}

// Find runs a selector against the whole document.
func (d *Document) Find(selector string) *goquery.Selection {
	return d.Root.Find(selector)
}

// ResolveURL makes an href absolute against the document's URL. Empty or
// unparseable hrefs resolve to "".
func (d *Document) ResolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if d.URL == nil {
		return ref.String()
	}
	return d.URL.ResolveReference(ref).String()
}
