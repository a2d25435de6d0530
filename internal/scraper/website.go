package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mitchellh/mapstructure"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

// ModuleKeyWebsite is the registry key of the generic website module.
const ModuleKeyWebsite = "website"

const (
	defaultMaxPages    = 10
	testModeEventLimit = 5
)

// WebsiteConfig is the source-config shape the generic website module
// reads. Selector specs are CSS selectors, optionally suffixed with
// "@attr" to read an attribute instead of the element text; URL, image
// and pagination selectors default to the natural attribute when the
// suffix is omitted.
type WebsiteConfig struct {
	// StartURL overrides the source base URL as the first listing page.
	StartURL   string           `mapstructure:"start_url"`
	Selectors  SelectorSet      `mapstructure:"selectors"`
	Detail     DetailConfig     `mapstructure:"detail"`
	Pagination PaginationConfig `mapstructure:"pagination"`
}

// SelectorSet maps event fields to selector specs, scoped to the event
// container on listing pages and to the whole page on detail pages.
type SelectorSet struct {
	// Event matches one container element per event on a listing page.
	Event string `mapstructure:"event"`

	Title string `mapstructure:"title"`
	Start string `mapstructure:"start"`
	End   string `mapstructure:"end"`

	// SourceEventID extracts the source's stable event id. Without it the
	// event's own detail URL serves as the identity.
	SourceEventID string `mapstructure:"source_event_id"`

	URL         string `mapstructure:"url"`
	Image       string `mapstructure:"image"`
	Description string `mapstructure:"description"`

	VenueName    string `mapstructure:"venue_name"`
	VenueAddress string `mapstructure:"venue_address"`
	City         string `mapstructure:"city"`
	Region       string `mapstructure:"region"`
	Country      string `mapstructure:"country"`
	Organizer    string `mapstructure:"organizer"`
	Category     string `mapstructure:"category"`
	Price        string `mapstructure:"price"`
}

// DetailConfig turns on per-event detail fetches. Detail selectors run
// against the whole detail page and override listing values when they
// extract something.
type DetailConfig struct {
	Enabled   bool        `mapstructure:"enabled"`
	Selectors SelectorSet `mapstructure:"selectors"`
}

// PaginationConfig walks listing pages through a next link.
type PaginationConfig struct {
	// Next selects the link to the following listing page.
	Next string `mapstructure:"next"`
	// MaxPages caps the walk.
	MaxPages int `mapstructure:"max_pages"`
}

// WebsiteModule scrapes any listing site whose structure is described by
// selectors in the source config. It contains no site-specific parsing;
// a new source is onboarded by writing selectors, not code.
type WebsiteModule struct{}

// NewWebsiteModule creates the generic website module.
func NewWebsiteModule() *WebsiteModule {
	return &WebsiteModule{}
}

// Key returns the registry key.
func (m *WebsiteModule) Key() string {
	return ModuleKeyWebsite
}

// Run walks the source's listing pages, extracts one event per container
// match, optionally enriches each from its detail page, and follows the
// pagination link until the page cap.
func (m *WebsiteModule) Run(ctx context.Context, rctx *RunContext) (*domain.ScrapeResult, error) {
	cfg, err := websiteConfigFrom(rctx.Source, rctx.Job)
	if err != nil {
		return nil, err
	}

	result := &domain.ScrapeResult{}
	pageURL := cfg.StartURL

	for pageNum := 1; pageURL != "" && pageNum <= cfg.Pagination.MaxPages; pageNum++ {
		if err := ctx.Err(); err != nil {
			result.PagesCrawled = rctx.Stats.PagesCrawled()
			return result, err
		}

		doc, err := rctx.Page.Navigate(ctx, pageURL)
		if err == nil && doc.StatusCode >= http.StatusBadRequest {
			err = fmt.Errorf("listing page returned status %d", doc.StatusCode)
		}
		if err != nil {
			// Nothing at all is a failed scrape; a broken later page just
			// ends the walk with what was collected.
			if pageNum == 1 {
				return nil, err
			}
			result.Errors = append(result.Errors, runError(err.Error(), map[string]any{"url": pageURL}))
			break
		}
		rctx.Stats.IncrementPagesCrawled()

		found := m.collectPage(ctx, rctx, cfg, doc, result)
		rctx.Logger.Info(fmt.Sprintf("listing page %d yielded %d events", pageNum, found),
			map[string]any{"url": pageURL})

		if rctx.Job.TestMode && len(result.Events) >= testModeEventLimit {
			result.Events = result.Events[:testModeEventLimit]
			rctx.Logger.Info("test mode sample collected, stopping")
			break
		}

		pageURL = nextPageURL(doc, cfg)
	}

	result.PagesCrawled = rctx.Stats.PagesCrawled()
	return result, ctx.Err()
}

// websiteConfigFrom decodes and validates the module config, folding in
// per-job pagination overrides and the page caps test and incremental
// runs imply.
func websiteConfigFrom(source *domain.Source, job JobData) (*WebsiteConfig, error) {
	var cfg WebsiteConfig
	if err := decodeSourceConfig(source.Config, &cfg); err != nil {
		return nil, err
	}

	if cfg.Selectors.Event == "" {
		return nil, fmt.Errorf("source %s config is missing selectors.event", source.ID)
	}
	if cfg.StartURL == "" {
		cfg.StartURL = source.BaseURL
	}
	if cfg.StartURL == "" {
		return nil, fmt.Errorf("source %s has no start URL to scrape", source.ID)
	}
	if cfg.Pagination.MaxPages <= 0 {
		cfg.Pagination.MaxPages = defaultMaxPages
	}

	if len(job.PaginationOptions) > 0 {
		if err := decodeSourceConfig(job.PaginationOptions, &cfg.Pagination); err != nil {
			return nil, fmt.Errorf("invalid pagination options: %w", err)
		}
	}

	// Test and incremental runs stay on the newest listing page.
	if job.TestMode || job.ScrapeMode == ScrapeModeIncremental {
		cfg.Pagination.MaxPages = 1
	}

	return &cfg, nil
}

// collectPage extracts every event container on one listing page.
func (m *WebsiteModule) collectPage(
	ctx context.Context, rctx *RunContext, cfg *WebsiteConfig, doc *Document, result *domain.ScrapeResult,
) int {
	found := 0
	doc.Find(cfg.Selectors.Event).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if ctx.Err() != nil {
			return false
		}
		if rctx.Job.TestMode && len(result.Events) >= testModeEventLimit {
			return false
		}

		event, ownURL := eventFromSelection(sel, cfg.Selectors, doc)
		if event.Title == "" || event.Start == "" {
			result.Errors = append(result.Errors, runError(
				"event is missing a title or start date",
				map[string]any{"index": i, "url": doc.URL.String()}))
			return true
		}

		if cfg.Detail.Enabled && event.URL != "" {
			m.enrichFromDetail(ctx, rctx, cfg, &event, result)
		}

		// The detail URL doubles as the stable identity when the source
		// exposes no explicit id. Events without their own URL fall back
		// to the listing page address and stay identity-less, since a
		// shared id would collapse them into one row.
		if event.SourceEventID == nil && ownURL != "" {
			id := ownURL
			event.SourceEventID = &id
		}
		if event.URL == "" {
			event.URL = doc.URL.String()
		}

		result.Events = append(result.Events, event)
		found++
		return true
	})
	return found
}

// enrichFromDetail fetches the event's page and overlays detail
// selectors. Detail failures keep the listing data and record an error.
func (m *WebsiteModule) enrichFromDetail(
	ctx context.Context, rctx *RunContext, cfg *WebsiteConfig, event *domain.RawEventInput, result *domain.ScrapeResult,
) {
	doc, err := rctx.Page.Detail(ctx, event.URL)
	if err == nil && doc.StatusCode >= http.StatusBadRequest {
		err = fmt.Errorf("detail page returned status %d", doc.StatusCode)
	}
	if err != nil {
		result.Errors = append(result.Errors, runError(
			fmt.Sprintf("detail fetch failed: %v", err),
			map[string]any{"url": event.URL}))
		return
	}
	rctx.Stats.IncrementPagesCrawled()

	applySelectors(doc.Root.Selection, cfg.Detail.Selectors, doc, event)
}

// eventFromSelection reads the listing selectors out of one event
// container. ownURL is the event's resolved detail link, "" when the
// source lists events without individual pages.
func eventFromSelection(sel *goquery.Selection, selectors SelectorSet, doc *Document) (domain.RawEventInput, string) {
	event := domain.RawEventInput{
		Raw: map[string]any{"scrapedFrom": doc.URL.String()},
	}
	applySelectors(sel, selectors, doc, &event)

	ownURL := event.URL
	return event, ownURL
}

// applySelectors extracts every configured field from root into event,
// overwriting only when the selector matched something.
func applySelectors(root *goquery.Selection, selectors SelectorSet, doc *Document, event *domain.RawEventInput) {
	assign(&event.Title, extract(root, selectors.Title))
	assign(&event.Start, extract(root, selectors.Start))
	assignOptional(&event.End, extract(root, selectors.End))
	assignOptional(&event.SourceEventID, extract(root, selectors.SourceEventID))

	if u := doc.ResolveURL(extract(root, withDefaultAttr(selectors.URL, "href"))); u != "" {
		event.URL = u
	}
	if img := doc.ResolveURL(extract(root, withDefaultAttr(selectors.Image, "src"))); img != "" {
		event.ImageURL = &img
	}
	assignOptional(&event.DescriptionHTML, extractHTML(root, selectors.Description))

	assignOptional(&event.VenueName, extract(root, selectors.VenueName))
	assignOptional(&event.VenueAddress, extract(root, selectors.VenueAddress))
	assignOptional(&event.City, extract(root, selectors.City))
	assignOptional(&event.Region, extract(root, selectors.Region))
	assignOptional(&event.Country, extract(root, selectors.Country))
	assignOptional(&event.Organizer, extract(root, selectors.Organizer))
	assignOptional(&event.Category, extract(root, selectors.Category))
	assignOptional(&event.Price, extract(root, selectors.Price))
}

// nextPageURL resolves the pagination link, defaulting the selector to
// its href attribute.
func nextPageURL(doc *Document, cfg *WebsiteConfig) string {
	if cfg.Pagination.Next == "" {
		return ""
	}
	return doc.ResolveURL(extract(doc.Root.Selection, withDefaultAttr(cfg.Pagination.Next, "href")))
}

// extract evaluates one selector spec against root: the trimmed text of
// the first match, or the named attribute for "selector@attr" specs. An
// empty selector part addresses root itself.
func extract(root *goquery.Selection, spec string) string {
	if spec == "" {
		return ""
	}

	selector, attr := splitSpec(spec)
	node := root
	if selector != "" {
		node = root.Find(selector).First()
	}
	if attr != "" {
		value, _ := node.Attr(attr)
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(node.Text())
}

// extractHTML is extract for fields that keep markup, like descriptions.
func extractHTML(root *goquery.Selection, spec string) string {
	if spec == "" {
		return ""
	}

	selector, attr := splitSpec(spec)
	if attr != "" {
		return extract(root, spec)
	}

	node := root
	if selector != "" {
		node = root.Find(selector).First()
	}
	html, err := node.Html()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(html)
}

// splitSpec separates "a.link@href" into selector and attribute parts.
func splitSpec(spec string) (selector, attr string) {
	if i := strings.LastIndex(spec, "@"); i >= 0 {
		return strings.TrimSpace(spec[:i]), strings.TrimSpace(spec[i+1:])
	}
	return strings.TrimSpace(spec), ""
}

// withDefaultAttr appends "@attr" to bare selectors for fields that live
// in attributes rather than element text.
func withDefaultAttr(spec, attr string) string {
	if spec == "" || strings.Contains(spec, "@") {
		return spec
	}
	return spec + "@" + attr
}

func assign(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func assignOptional(dst **string, value string) {
	if value != "" {
		*dst = &value
	}
}

// decodeSourceConfig maps loosely typed JSONB config onto its struct.
func decodeSourceConfig(raw map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode source config: %w", err)
	}
	return nil
}
