package export

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	icsProdID     = "-//EventScrape//EventScrape//EN"
	icsUIDDomain  = "eventscrape.com"
	icsTimeLayout = "20060102T150405Z"

	// icsLineLimit is the RFC 5545 maximum physical line length in
	// octets, excluding the CRLF.
	icsLineLimit = 75

	// defaultEventDuration fills DTEND when an event has no end time.
	defaultEventDuration = time.Hour
)

// encodeICS writes an RFC 5545 calendar, one VEVENT per record. Blank
// fields are omitted rather than written empty; DTSTAMP comes from the
// record's update time so identical inputs produce identical output.
func encodeICS(w io.Writer, records []Record) error {
	var b strings.Builder

	writeICSLine(&b, "BEGIN:VCALENDAR")
	writeICSLine(&b, "VERSION:2.0")
	writeICSLine(&b, "PRODID:"+icsProdID)
	writeICSLine(&b, "CALSCALE:GREGORIAN")

	for i := range records {
		r := &records[i]
		end := r.Start.Add(defaultEventDuration)
		if r.End != nil {
			end = *r.End
		}

		writeICSLine(&b, "BEGIN:VEVENT")
		writeICSLine(&b, fmt.Sprintf("UID:%s@%s", r.ID, icsUIDDomain))
		writeICSLine(&b, "DTSTAMP:"+r.Updated.UTC().Format(icsTimeLayout))
		writeICSLine(&b, "DTSTART:"+r.Start.UTC().Format(icsTimeLayout))
		writeICSLine(&b, "DTEND:"+end.UTC().Format(icsTimeLayout))
		writeICSLine(&b, "SUMMARY:"+escapeICS(r.Title))
		if r.Description != "" {
			writeICSLine(&b, "DESCRIPTION:"+escapeICS(stripHTML(r.Description)))
		}
		if r.Venue != "" {
			writeICSLine(&b, "LOCATION:"+escapeICS(r.Venue))
		}
		if r.URL != "" {
			writeICSLine(&b, "URL:"+r.URL)
		}
		writeICSLine(&b, "END:VEVENT")
	}

	writeICSLine(&b, "END:VCALENDAR")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write ics: %w", err)
	}
	return nil
}

// writeICSLine folds a logical line at 75 octets and terminates each
// physical line with CRLF. Continuation lines begin with a space that
// counts toward the limit.
func writeICSLine(b *strings.Builder, line string) {
	if len(line) <= icsLineLimit {
		b.WriteString(line)
		b.WriteString("\r\n")
		return
	}

	var current strings.Builder
	for _, r := range line {
		if current.Len()+utf8.RuneLen(r) > icsLineLimit {
			b.WriteString(current.String())
			b.WriteString("\r\n")
			current.Reset()
			current.WriteByte(' ')
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		b.WriteString(current.String())
		b.WriteString("\r\n")
	}
}

// escapeICS applies the TEXT escaping rules: backslash first, then
// semicolons and commas; newlines become the literal \n.
func escapeICS(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, ";", `\;`)
	s = strings.ReplaceAll(s, ",", `\,`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

// stripHTML reduces event description markup to collapsed plain text.
func stripHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
