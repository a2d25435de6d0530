package export

import (
	"encoding/json"
	"fmt"
	"io"
)

type jsonDocument struct {
	Events []any `json:"events"`
}

// jsonEvent is the canonical object shape used when no field_map is
// supplied.
type jsonEvent struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Start       string `json:"start"`
	End         string `json:"end,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Venue       string `json:"venue,omitempty"`
	City        string `json:"city,omitempty"`
	Organizer   string `json:"organizer,omitempty"`
	Category    string `json:"category,omitempty"`
	URL         string `json:"url,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`

	Instagram *jsonInstagramMeta `json:"instagram,omitempty"`
}

type jsonInstagramMeta struct {
	PostID  string `json:"postId,omitempty"`
	Caption string `json:"caption,omitempty"`
}

func (e *jsonEvent) fill(r *Record) {
	e.ID = r.ID
	e.Title = r.Title
	e.Description = r.Description
	e.Start = r.Value("start")
	e.End = r.Value("end")
	e.Timezone = r.Timezone
	e.Venue = r.Venue
	e.City = r.City
	e.Organizer = r.Organizer
	e.Category = r.Category
	e.URL = r.URL
	e.ImageURL = r.ImageURL
	if r.InstagramPostID != "" || r.InstagramCaption != "" {
		e.Instagram = &jsonInstagramMeta{PostID: r.InstagramPostID, Caption: r.InstagramCaption}
	}
}

// encodeJSON writes {"events": [...]}. With a field_map each event is a
// {header: value} object; without one, the canonical object shape.
func encodeJSON(w io.Writer, fieldMap map[string]string, records []Record) error {
	doc := jsonDocument{Events: make([]any, 0, len(records))}

	if len(fieldMap) > 0 {
		cols := columnsFor(fieldMap)
		for i := range records {
			obj := make(map[string]string, len(cols))
			for _, col := range cols {
				obj[col.header] = records[i].Value(col.key)
			}
			doc.Events = append(doc.Events, obj)
		}
	} else {
		for i := range records {
			var event jsonEvent
			event.fill(&records[i])
			doc.Events = append(doc.Events, event)
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
