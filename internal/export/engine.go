// Package export renders filtered events into downloadable files and
// pushes them to WordPress sites. Exports run in the background against
// a processing row that ends in success or error; a user cancel always
// keeps its outcome.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/wordpress"
)

const (
	exportStampLayout = "20060102-150405"
	finalizeTimeout   = 10 * time.Second
)

// ErrInvalidRequest marks export requests rejected before a row is
// created. Handlers map it to a 400.
var ErrInvalidRequest = errors.New("invalid export request")

// Target selects which event table an export reads.
type Target string

const (
	TargetRaw       Target = "raw"
	TargetCanonical Target = "canonical"
)

// Request describes one export. wpPostStatus is the deprecated alias of
// status; status wins when both are set.
type Request struct {
	Format   domain.ExportFormat `json:"format"`
	Target   Target              `json:"target,omitempty"`
	Filter   domain.EventFilter  `json:"filter,omitempty"`
	FieldMap map[string]string   `json:"field_map,omitempty"`

	WordPressSettingsID  string `json:"wordpress_settings_id,omitempty"`
	PostStatus           string `json:"status,omitempty"`
	DeprecatedPostStatus string `json:"wpPostStatus,omitempty"`
}

func (r Request) target() Target {
	if r.Target == "" {
		return TargetRaw
	}
	return r.Target
}

// postStatus applies the status-over-wpPostStatus precedence.
func (r Request) postStatus() string {
	if r.PostStatus != "" {
		return r.PostStatus
	}
	return r.DeprecatedPostStatus
}

// params snapshots the request onto the export row so the filter and
// options survive next to the outcome.
func (r Request) params() domain.JSONBMap {
	params := domain.JSONBMap{"target": string(r.target())}
	if !r.Filter.Empty() {
		params["filter"] = r.Filter
	}
	if len(r.FieldMap) > 0 {
		params["field_map"] = r.FieldMap
	}
	if r.WordPressSettingsID != "" {
		params["wordpress_settings_id"] = r.WordPressSettingsID
	}
	if status := r.postStatus(); status != "" {
		params["status"] = status
	}
	return params
}

// Engine runs exports. Active runs are tracked so Cancel can interrupt
// them mid-flight.
type Engine struct {
	exports   *database.ExportRepository
	raw       *database.RawEventRepository
	canonical *database.CanonicalRepository
	series    *database.SeriesRepository
	settings  *database.SettingsRepository
	dir       string
	log       logger.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewEngine creates the export engine. dir is where file exports land.
func NewEngine(
	exports *database.ExportRepository,
	raw *database.RawEventRepository,
	canonical *database.CanonicalRepository,
	series *database.SeriesRepository,
	settings *database.SettingsRepository,
	dir string,
	log logger.Logger,
) *Engine {
	return &Engine{
		exports:   exports,
		raw:       raw,
		canonical: canonical,
		series:    series,
		settings:  settings,
		dir:       dir,
		log:       log,
		active:    map[string]context.CancelFunc{},
	}
}

// Create validates the request, inserts the processing row, and starts
// the export in the background. Callers respond 202 with the row; the
// outcome lands on it later.
func (e *Engine) Create(ctx context.Context, req Request) (*domain.Export, error) {
	if err := e.validate(&req); err != nil {
		return nil, err
	}

	export := &domain.Export{
		ID:     uuid.New().String(),
		Format: req.Format,
		Params: req.params(),
	}
	if err := e.exports.Create(ctx, export); err != nil {
		return nil, err
	}

	// The run outlives the request context.
	runCtx := e.register(context.Background(), export.ID)
	go e.execute(runCtx, export, req) //nolint:errcheck

	return export, nil
}

// Cancel marks a still-processing export as cancelled and interrupts its
// run if it is active in this process.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	if err := e.exports.Cancel(ctx, id); err != nil {
		return err
	}
	e.cancelActive(id)
	return nil
}

// RunScheduled is the scheduler's inline export path: a wp-rest push
// with the schedule's stored filters over the computed date window.
func (e *Engine) RunScheduled(ctx context.Context, schedule *domain.Schedule, startDate, endDate time.Time) error {
	if schedule.WordPressSettingsID == nil {
		return fmt.Errorf("%w: schedule %s has no wordpress settings", ErrInvalidRequest, schedule.ID)
	}

	filters, _ := schedule.Config["filters"].(map[string]any)
	options, _ := schedule.Config["options"].(map[string]any)

	filter, err := filterFromConfig(filters)
	if err != nil {
		return err
	}
	filter.StartDate = &startDate
	filter.EndDate = &endDate

	req := Request{
		Format:               domain.ExportWPREST,
		Target:               TargetRaw,
		Filter:               filter,
		WordPressSettingsID:  *schedule.WordPressSettingsID,
		PostStatus:           stringOption(options, "status"),
		DeprecatedPostStatus: stringOption(options, "wpPostStatus"),
	}
	if err := e.validate(&req); err != nil {
		return err
	}

	export := &domain.Export{
		ID:         uuid.New().String(),
		Format:     req.Format,
		Params:     req.params(),
		ScheduleID: &schedule.ID,
	}
	if err := e.exports.Create(ctx, export); err != nil {
		return err
	}

	// Inline so the schedule job observes the outcome; still registered
	// so an API cancel can interrupt it.
	return e.execute(e.register(ctx, export.ID), export, req)
}

func (e *Engine) validate(req *Request) error {
	if req.Target == "" {
		req.Target = TargetRaw
	}
	if !req.Format.Valid() {
		return fmt.Errorf("%w: unknown format %q", ErrInvalidRequest, req.Format)
	}

	switch req.Target {
	case TargetRaw:
		if req.Filter.Status != nil {
			return fmt.Errorf("%w: status filter applies to canonical exports only", ErrInvalidRequest)
		}
	case TargetCanonical:
		if len(req.Filter.SourceIDs) > 0 {
			return fmt.Errorf("%w: sourceIds filter applies to raw exports only", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown target %q", ErrInvalidRequest, req.Target)
	}

	if req.Format == domain.ExportWPREST {
		if req.WordPressSettingsID == "" {
			return fmt.Errorf("%w: wp-rest exports need wordpress_settings_id", ErrInvalidRequest)
		}
		if req.Target != TargetRaw {
			return fmt.Errorf("%w: wp-rest exports read raw events", ErrInvalidRequest)
		}
	}

	if req.DeprecatedPostStatus != "" {
		e.log.Warn("wpPostStatus is deprecated, use status instead")
	}

	return nil
}

// execute runs one export to a terminal row state and releases its
// cancel registration.
func (e *Engine) execute(ctx context.Context, export *domain.Export, req Request) error {
	defer e.release(export.ID)

	itemCount, filePath, err := e.run(ctx, export, req)
	if err != nil {
		e.log.Error("export failed",
			logger.String("export_id", export.ID),
			logger.String("format", string(req.Format)),
			logger.Error(err))
		e.finalizeError(export.ID, err)
		return err
	}

	e.log.Info("export finished",
		logger.String("export_id", export.ID),
		logger.String("format", string(req.Format)),
		logger.Int("item_count", itemCount))
	e.finalizeSuccess(export.ID, itemCount, filePath)
	return nil
}

func (e *Engine) run(ctx context.Context, export *domain.Export, req Request) (int, *string, error) {
	if req.Format == domain.ExportWPREST {
		count, err := e.runWordPress(ctx, export, req)
		return count, nil, err
	}
	return e.runFile(ctx, req)
}

// runFile collects the filtered events and writes one artifact into the
// export directory. Partial files are removed on encode failure.
func (e *Engine) runFile(ctx context.Context, req Request) (int, *string, error) {
	records, err := e.collect(ctx, req)
	if err != nil {
		return 0, nil, err
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return 0, nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	name := fmt.Sprintf("events-%s.%s", time.Now().UTC().Format(exportStampLayout), req.Format)
	path := filepath.Join(e.dir, name)

	file, err := os.Create(path)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create export file: %w", err)
	}

	encodeErr := e.encode(file, req, records)
	if closeErr := file.Close(); encodeErr == nil {
		encodeErr = closeErr
	}
	if encodeErr != nil {
		os.Remove(path) //nolint:errcheck
		return 0, nil, fmt.Errorf("failed to write %s export: %w", req.Format, encodeErr)
	}

	return len(records), &path, nil
}

func (e *Engine) encode(w io.Writer, req Request, records []Record) error {
	switch req.Format {
	case domain.ExportCSV:
		return encodeCSV(w, req.FieldMap, records)
	case domain.ExportJSON:
		return encodeJSON(w, req.FieldMap, records)
	case domain.ExportICS:
		return encodeICS(w, records)
	case domain.ExportXLSX:
		return encodeXLSX(w, req.FieldMap, records)
	default:
		return fmt.Errorf("no encoder for format %q", req.Format)
	}
}

func (e *Engine) collect(ctx context.Context, req Request) ([]Record, error) {
	records := []Record{}
	var err error

	switch req.target() {
	case TargetCanonical:
		err = e.canonical.EachByFilter(ctx, req.Filter, func(event *domain.CanonicalEvent) error {
			records = append(records, recordFromCanonical(event))
			return nil
		})
	default:
		err = e.raw.EachByFilter(ctx, req.Filter, func(event *domain.RawEvent) error {
			records = append(records, recordFromRaw(event))
			return nil
		})
	}
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (e *Engine) collectRaw(ctx context.Context, filter domain.EventFilter) ([]domain.RawEvent, error) {
	events := []domain.RawEvent{}
	err := e.raw.EachByFilter(ctx, filter, func(event *domain.RawEvent) error {
		events = append(events, *event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// runWordPress pushes the filtered raw events into the configured site.
// Per-post results are attached to the row even when the run fails
// partway; the run errors only when every post failed.
func (e *Engine) runWordPress(ctx context.Context, export *domain.Export, req Request) (int, error) {
	settings, err := e.settings.GetWordPress(ctx, req.WordPressSettingsID)
	if err != nil {
		return 0, fmt.Errorf("failed to load wordpress settings: %w", err)
	}

	client, err := wordpress.NewClient(settings, e.log)
	if err != nil {
		return 0, err
	}

	events, err := e.collectRaw(ctx, req.Filter)
	if err != nil {
		return 0, err
	}

	uploader := NewUploader(client, e.series, settings, e.resolvePostStatus(req, settings), uploadSpacing, e.log)
	summary, results, runErr := uploader.Run(ctx, events)

	if len(results) > 0 {
		e.recordResults(export, summary, results)
	}
	if runErr != nil {
		return summary.ItemCount(), runErr
	}
	if len(results) > 0 && summary.ItemCount() == 0 {
		return 0, fmt.Errorf("all %d posts failed to upload", summary.Errors)
	}

	return summary.ItemCount(), nil
}

func (e *Engine) resolvePostStatus(req Request, settings *domain.WordPressSettings) string {
	if status := req.postStatus(); status != "" {
		return status
	}
	return settings.DefaultStatus
}

// recordResults attaches per-post outcomes to the row's params under
// wpResults, next to the original request snapshot. The snapshot map is
// copied: the caller may still hold the row it got back from Create.
func (e *Engine) recordResults(export *domain.Export, summary UploadSummary, results []UploadResult) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	params := domain.JSONBMap{}
	for key, value := range export.Params {
		params[key] = value
	}
	params["wpResults"] = map[string]any{"summary": summary, "results": results}

	if err := e.exports.UpdateParams(ctx, export.ID, params); err != nil {
		e.log.Warn("failed to record wordpress results",
			logger.String("export_id", export.ID),
			logger.Error(err))
	}
}

// finalizeSuccess closes the row out under a fresh context; the run
// context may already be cancelled.
func (e *Engine) finalizeSuccess(id string, itemCount int, filePath *string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	err := e.exports.MarkSuccess(ctx, id, itemCount, filePath)
	switch {
	case err == nil:
	case errors.Is(err, database.ErrNotFound):
		// A cancel beat the run to the row.
		e.log.Debug("export already finalized", logger.String("export_id", id))
	default:
		e.log.Error("failed to mark export success",
			logger.String("export_id", id), logger.Error(err))
	}
}

func (e *Engine) finalizeError(id string, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	err := e.exports.MarkError(ctx, id, runErr.Error())
	switch {
	case err == nil:
	case errors.Is(err, database.ErrNotFound):
		e.log.Debug("export already finalized", logger.String("export_id", id))
	default:
		e.log.Error("failed to mark export error",
			logger.String("export_id", id), logger.Error(err))
	}
}

// register derives the run context and tracks its cancel under the
// export id.
func (e *Engine) register(parent context.Context, id string) context.Context {
	runCtx, cancel := context.WithCancel(parent)
	e.mu.Lock()
	e.active[id] = cancel
	e.mu.Unlock()
	return runCtx
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	cancel, ok := e.active[id]
	delete(e.active, id)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Engine) cancelActive(id string) {
	e.mu.Lock()
	cancel, ok := e.active[id]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// filterFromConfig maps a schedule's stored filters onto the export
// filter through its JSON form, so the stored keys match the API's.
func filterFromConfig(filters map[string]any) (domain.EventFilter, error) {
	var filter domain.EventFilter
	if len(filters) == 0 {
		return filter, nil
	}

	data, err := json.Marshal(filters)
	if err != nil {
		return filter, fmt.Errorf("failed to encode schedule filters: %w", err)
	}
	if err := json.Unmarshal(data, &filter); err != nil {
		return filter, fmt.Errorf("%w: bad schedule filters: %v", ErrInvalidRequest, err)
	}

	return filter, nil
}

func stringOption(options map[string]any, key string) string {
	value, _ := options[key].(string)
	return value
}
