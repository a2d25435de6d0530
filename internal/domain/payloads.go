package domain

// Queue names. Retry policy lives with the queue layer; these constants
// are the shared vocabulary between producers and consumers.
const (
	QueueScrape          = "scrape-queue"
	QueueInstagramScrape = "instagram-scrape-queue"
	QueueMatch           = "match-queue"
	QueueSchedule        = "schedule-queue"
)

// Job names carried on queue entries.
const (
	JobScrape          = "scrape"
	JobInstagramScrape = "instagram-scrape"
	JobMatch           = "match"
	JobScheduleTrigger = "schedule-trigger"
)

// ScrapeJobPayload is the wire payload of a scrape-queue job.
type ScrapeJobPayload struct {
	SourceID   string `json:"source_id"`
	RunID      string `json:"run_id"`
	ModuleKey  string `json:"module_key"`
	SourceName string `json:"source_name"`

	TestMode   bool   `json:"test_mode,omitempty"`
	ScrapeMode string `json:"scrape_mode,omitempty"`

	PaginationOptions map[string]any `json:"pagination_options,omitempty"`
	UploadedFile      map[string]any `json:"uploaded_file,omitempty"`
}

// InstagramScrapeJobPayload is the wire payload of an
// instagram-scrape-queue job. AccountID is the source id of the Instagram
// account; ParentRunID links batch children to their parent run.
type InstagramScrapeJobPayload struct {
	AccountID   string  `json:"account_id"`
	RunID       *string `json:"run_id,omitempty"`
	PostLimit   int     `json:"post_limit,omitempty"`
	BatchSize   int     `json:"batch_size,omitempty"`
	ParentRunID *string `json:"parent_run_id,omitempty"`
}

// MatchJobPayload is the wire payload of a match-queue job.
type MatchJobPayload struct {
	StartDate *string  `json:"start_date,omitempty"`
	EndDate   *string  `json:"end_date,omitempty"`
	SourceIDs []string `json:"source_ids,omitempty"`
}

// ScheduleTriggerPayload is the wire payload of a schedule-queue job, one
// per cron fire or manual trigger.
type ScheduleTriggerPayload struct {
	ScheduleID          string         `json:"schedule_id"`
	SourceID            *string        `json:"source_id,omitempty"`
	WordPressSettingsID *string        `json:"wordpress_settings_id,omitempty"`
	Config              map[string]any `json:"config,omitempty"`
}
