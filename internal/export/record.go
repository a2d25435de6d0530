package export

import (
	"strings"
	"time"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

// Record is the flattened event view the file encoders consume. Raw and
// canonical events both reduce to it, so every format works over either
// target.
type Record struct {
	ID          string
	Title       string
	Description string

	Start    time.Time
	End      *time.Time
	Timezone string

	Venue        string
	VenueAddress string
	City         string
	Region       string
	Country      string

	Organizer string
	Category  string
	Tags      []string
	Price     string

	URL      string
	ImageURL string

	InstagramPostID  string
	InstagramCaption string

	// Updated stamps the encoded artifact deterministically.
	Updated time.Time
}

// fieldOrder is the canonical column order. field_map selections keep
// this order regardless of map iteration; keys not listed here are
// ignored.
var fieldOrder = []string{
	"id", "title", "description", "start", "end", "timezone",
	"venue", "venueAddress", "city", "region", "country",
	"organizer", "category", "tags", "price", "url", "imageUrl",
	"instagramPostId", "instagramCaption",
}

type column struct {
	key    string
	header string
}

// columnsFor resolves the output columns: the caller's field_map filtered
// and ordered by fieldOrder, or every field (header = key) when no map is
// given.
func columnsFor(fieldMap map[string]string) []column {
	if len(fieldMap) == 0 {
		cols := make([]column, len(fieldOrder))
		for i, key := range fieldOrder {
			cols[i] = column{key: key, header: key}
		}
		return cols
	}

	cols := make([]column, 0, len(fieldMap))
	for _, key := range fieldOrder {
		if header, ok := fieldMap[key]; ok {
			cols = append(cols, column{key: key, header: header})
		}
	}
	return cols
}

// Value renders one logical field as text. Times are UTC RFC 3339; the
// wp-rest path translates to event-local time separately.
func (r *Record) Value(key string) string {
	switch key {
	case "id":
		return r.ID
	case "title":
		return r.Title
	case "description":
		return r.Description
	case "start":
		return r.Start.UTC().Format(time.RFC3339)
	case "end":
		if r.End == nil {
			return ""
		}
		return r.End.UTC().Format(time.RFC3339)
	case "timezone":
		return r.Timezone
	case "venue":
		return r.Venue
	case "venueAddress":
		return r.VenueAddress
	case "city":
		return r.City
	case "region":
		return r.Region
	case "country":
		return r.Country
	case "organizer":
		return r.Organizer
	case "category":
		return r.Category
	case "tags":
		return strings.Join(r.Tags, ", ")
	case "price":
		return r.Price
	case "url":
		return r.URL
	case "imageUrl":
		return r.ImageURL
	case "instagramPostId":
		return r.InstagramPostID
	case "instagramCaption":
		return r.InstagramCaption
	}
	return ""
}

func recordFromRaw(e *domain.RawEvent) Record {
	return Record{
		ID:               e.ID,
		Title:            e.Title,
		Description:      deref(e.DescriptionHTML),
		Start:            e.StartDatetime,
		End:              e.EndDatetime,
		Timezone:         deref(e.Timezone),
		Venue:            deref(e.VenueName),
		VenueAddress:     deref(e.VenueAddress),
		City:             deref(e.City),
		Region:           deref(e.Region),
		Country:          deref(e.Country),
		Organizer:        deref(e.Organizer),
		Category:         deref(e.Category),
		Tags:             e.Tags,
		Price:            deref(e.Price),
		URL:              e.URL,
		ImageURL:         deref(e.ImageURL),
		InstagramPostID:  deref(e.InstagramPostID),
		InstagramCaption: deref(e.InstagramCaption),
		Updated:          e.UpdatedAt,
	}
}

func recordFromCanonical(e *domain.CanonicalEvent) Record {
	return Record{
		ID:           e.ID,
		Title:        e.Title,
		Description:  deref(e.DescriptionHTML),
		Start:        e.StartDatetime,
		End:          e.EndDatetime,
		Timezone:     deref(e.Timezone),
		Venue:        deref(e.VenueName),
		VenueAddress: deref(e.VenueAddress),
		City:         deref(e.City),
		Region:       deref(e.Region),
		Country:      deref(e.Country),
		Organizer:    deref(e.Organizer),
		Category:     deref(e.Category),
		Tags:         e.Tags,
		Price:        deref(e.Price),
		URL:          deref(e.URL),
		ImageURL:     deref(e.ImageURL),
		Updated:      e.UpdatedAt,
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
