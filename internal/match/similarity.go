package match

import (
	"math"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

// Factor weights. Title similarity dominates; host equality is a weak
// corroborating signal since candidates come from different sources by
// construction.
const (
	weightTitle = 0.5
	weightTime  = 0.2
	weightVenue = 0.2
	weightURL   = 0.1

	// timeDecay is the start-time offset at which proximity bottoms out.
	timeDecay = 24 * time.Hour
)

// Score is the per-factor breakdown of a pair comparison. Total is the
// weighted sum, in [0, 1].
type Score struct {
	Title float64 `json:"title"`
	Time  float64 `json:"time"`
	Venue float64 `json:"venue"`
	URL   float64 `json:"url"`
	Total float64 `json:"total"`
}

// scorePair compares two raw events. The comparison is symmetric and
// idempotent; identical events score 1 on every populated factor.
func scorePair(a, b *domain.RawEvent) Score {
	s := Score{
		Title: tokenSimilarity(a.Title, b.Title),
		Time:  timeProximity(a.StartDatetime, b.StartDatetime),
		Venue: tokenSimilarity(strOrEmpty(a.VenueName), strOrEmpty(b.VenueName)),
		URL:   hostEquality(a.URL, b.URL),
	}
	s.Total = weightTitle*s.Title + weightTime*s.Time + weightVenue*s.Venue + weightURL*s.URL
	return s
}

// tokenSimilarity is the Jaccard index over lowercased word tokens. A
// side with no tokens scores 0 against everything.
func tokenSimilarity(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	intersection := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection

	return float64(intersection) / float64(union)
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

// timeProximity decays linearly from 1 at the same instant to 0 at
// timeDecay apart.
func timeProximity(a, b time.Time) float64 {
	hours := math.Abs(a.Sub(b).Hours())
	limit := timeDecay.Hours()
	if hours >= limit {
		return 0
	}
	return 1 - hours/limit
}

// hostEquality is 1 when both URLs parse to the same host, ignoring case
// and a leading www.
func hostEquality(a, b string) float64 {
	ha, hb := canonicalHost(a), canonicalHost(b)
	if ha == "" || ha != hb {
		return 0
	}
	return 1
}

func canonicalHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
