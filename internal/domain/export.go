package domain

import (
	"time"
)

// ExportFormat selects the export encoder or target.
type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportJSON ExportFormat = "json"
	ExportICS  ExportFormat = "ics"
	ExportXLSX ExportFormat = "xlsx"
	// ExportWPREST uploads into a WordPress REST endpoint instead of a file.
	ExportWPREST ExportFormat = "wp-rest"
)

// Valid reports whether f is a known export format.
func (f ExportFormat) Valid() bool {
	switch f {
	case ExportCSV, ExportJSON, ExportICS, ExportXLSX, ExportWPREST:
		return true
	}
	return false
}

// ExportStatus is the processing state of an export row.
type ExportStatus string

const (
	ExportProcessing ExportStatus = "processing"
	ExportSuccess    ExportStatus = "success"
	ExportError      ExportStatus = "error"
)

// Export records one export request and its outcome. Params snapshots the
// filter, per-format options, and (for wp-rest) the per-event upload
// results under "wpResults".
type Export struct {
	ID     string       `db:"id"     json:"id"`
	Format ExportFormat `db:"format" json:"format"`
	Status ExportStatus `db:"status" json:"status"`

	ItemCount    int     `db:"item_count"    json:"item_count"`
	FilePath     *string `db:"file_path"     json:"file_path,omitempty"`
	ErrorMessage *string `db:"error_message" json:"error_message,omitempty"`

	Params     JSONBMap `db:"params"      json:"params,omitempty"`
	ScheduleID *string  `db:"schedule_id" json:"schedule_id,omitempty"`

	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// EventFilter selects events for export and listing. Field names follow
// the export API surface.
type EventFilter struct {
	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
	City      *string    `json:"city,omitempty"`
	Category  *string    `json:"category,omitempty"`
	Status    *string    `json:"status,omitempty"`
	SourceIDs []string   `json:"sourceIds,omitempty"`
	IDs       []string   `json:"ids,omitempty"`
}

// Empty reports whether the filter selects the full event set.
func (f EventFilter) Empty() bool {
	return f.StartDate == nil && f.EndDate == nil && f.City == nil &&
		f.Category == nil && f.Status == nil && len(f.SourceIDs) == 0 && len(f.IDs) == 0
}
