package ctl

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// newTable initializes a table writer in the house style.
func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	return t
}

// formatTime renders an optional timestamp for table output.
func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// deref renders an optional string for table output.
func deref(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
