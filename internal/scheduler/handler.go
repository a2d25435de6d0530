package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/queue"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/runs"
)

// ExportRunner runs a scheduled WordPress export inline in the worker.
// Implemented by the export engine.
type ExportRunner interface {
	RunScheduled(ctx context.Context, schedule *domain.Schedule, startDate, endDate time.Time) error
}

// Handler consumes schedule-queue trigger jobs, one per cron fire or
// manual trigger, and fans out the work the schedule describes.
type Handler struct {
	schedules *database.ScheduleRepository
	sources   *database.SourceRepository
	runs      *runs.Service
	queues    *queue.Queues
	exports   ExportRunner
	log       logger.Logger
}

// NewHandler creates the schedule trigger handler.
func NewHandler(
	schedules *database.ScheduleRepository,
	sources *database.SourceRepository,
	runSvc *runs.Service,
	queues *queue.Queues,
	exports ExportRunner,
	log logger.Logger,
) *Handler {
	return &Handler{
		schedules: schedules,
		sources:   sources,
		runs:      runSvc,
		queues:    queues,
		exports:   exports,
		log:       log,
	}
}

// Handle executes one schedule fire. The schedule row is reloaded so edits
// made after the fire was enqueued still take effect; a schedule deleted
// or deactivated in the meantime is a no-op rather than a failure.
func (h *Handler) Handle(ctx context.Context, job *queue.Job) error {
	var payload domain.ScheduleTriggerPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("failed to decode schedule trigger: %w", err)
	}

	schedule, err := h.schedules.GetByID(ctx, payload.ScheduleID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			h.log.Warn("schedule no longer exists",
				logger.String("schedule_id", payload.ScheduleID))
			return nil
		}
		return err
	}
	if !schedule.Active {
		h.log.Info("skipping inactive schedule",
			logger.String("schedule_id", schedule.ID),
			logger.String("name", schedule.Name))
		return nil
	}

	h.log.Info("schedule fire",
		logger.String("schedule_id", schedule.ID),
		logger.String("name", schedule.Name),
		logger.String("type", string(schedule.ScheduleType)))

	switch schedule.ScheduleType {
	case domain.ScheduleScrape:
		return h.fireScrape(ctx, schedule)
	case domain.ScheduleInstagramScrape:
		return h.fireInstagramBatch(ctx, schedule)
	case domain.ScheduleWordPressExport:
		return h.fireWordPressExport(ctx, schedule)
	default:
		return fmt.Errorf("unknown schedule type %q", schedule.ScheduleType)
	}
}

// fireScrape creates a queued run for the schedule's source and enqueues
// the scrape job that will execute it.
func (h *Handler) fireScrape(ctx context.Context, schedule *domain.Schedule) error {
	var cfg domain.ScrapeScheduleConfig
	if err := decodeConfig(schedule.Config, &cfg); err != nil {
		return err
	}

	source, err := h.sources.GetByID(ctx, *schedule.SourceID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			h.log.Warn("scheduled source no longer exists",
				logger.String("schedule_id", schedule.ID),
				logger.String("source_id", *schedule.SourceID))
			return nil
		}
		return err
	}
	if !source.Active {
		h.log.Info("skipping inactive source",
			logger.String("schedule_id", schedule.ID),
			logger.String("source_id", source.ID))
		return nil
	}

	run, err := h.runs.Create(ctx, runs.CreateParams{SourceID: source.ID})
	if err != nil {
		return err
	}

	jobID, err := h.queues.Scrape.Enqueue(ctx, domain.JobScrape, domain.ScrapeJobPayload{
		SourceID:   source.ID,
		RunID:      run.ID,
		ModuleKey:  source.ModuleKey,
		SourceName: source.Name,
		TestMode:   cfg.TestMode,
		ScrapeMode: cfg.ScrapeMode,
	}, queue.Options{})
	if err != nil {
		return fmt.Errorf("failed to enqueue scrape job: %w", err)
	}
	if err := h.runs.AttachJob(ctx, run, jobID); err != nil {
		h.log.Warn("failed to attach job to run",
			logger.String("run_id", run.ID),
			logger.Error(err))
	}

	h.log.Info("scrape enqueued",
		logger.String("schedule_id", schedule.ID),
		logger.String("source_id", source.ID),
		logger.String("run_id", run.ID),
		logger.String("job_id", jobID))
	return nil
}

// fireInstagramBatch resolves the account scope, creates a parent run for
// the batch, and enqueues one child run + job per account.
func (h *Handler) fireInstagramBatch(ctx context.Context, schedule *domain.Schedule) error {
	var cfg domain.InstagramScheduleConfig
	if err := decodeConfig(schedule.Config, &cfg); err != nil {
		return err
	}

	accounts, err := h.resolveAccounts(ctx, cfg)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		h.log.Info("no instagram accounts in scope",
			logger.String("schedule_id", schedule.ID),
			logger.String("scope", string(cfg.Scope)))
		return nil
	}

	// The parent row anchors aggregation; it borrows the first account's
	// source id and records the batch in metadata.
	parent, err := h.runs.Create(ctx, runs.CreateParams{
		SourceID: accounts[0].ID,
		Metadata: domain.JSONBMap{
			domain.RunMetaBatch: map[string]any{
				"schedule_id":   schedule.ID,
				"scope":         string(cfg.Scope),
				"account_count": len(accounts),
			},
		},
	})
	if err != nil {
		return err
	}

	enqueued := 0
	for _, account := range accounts {
		child, createErr := h.runs.Create(ctx, runs.CreateParams{
			SourceID:    account.ID,
			ParentRunID: &parent.ID,
		})
		if createErr != nil {
			h.log.Error("failed to create child run",
				logger.String("parent_run_id", parent.ID),
				logger.String("account_id", account.ID),
				logger.Error(createErr))
			continue
		}

		jobID, enqErr := h.queues.InstagramScrape.Enqueue(ctx, domain.JobInstagramScrape,
			domain.InstagramScrapeJobPayload{
				AccountID:   account.ID,
				RunID:       &child.ID,
				PostLimit:   cfg.PostLimit,
				BatchSize:   cfg.BatchSize,
				ParentRunID: &parent.ID,
			}, queue.Options{})
		if enqErr != nil {
			h.log.Error("failed to enqueue instagram scrape",
				logger.String("account_id", account.ID),
				logger.Error(enqErr))
			continue
		}
		if attachErr := h.runs.AttachJob(ctx, child, jobID); attachErr != nil {
			h.log.Warn("failed to attach job to run",
				logger.String("run_id", child.ID),
				logger.Error(attachErr))
		}
		enqueued++
	}

	if _, aggErr := h.runs.Aggregate(ctx, parent.ID); aggErr != nil {
		h.log.Warn("failed to aggregate new batch parent",
			logger.String("parent_run_id", parent.ID),
			logger.Error(aggErr))
	}

	h.log.Info("instagram batch enqueued",
		logger.String("schedule_id", schedule.ID),
		logger.String("parent_run_id", parent.ID),
		logger.Int("accounts", enqueued))
	return nil
}

// resolveAccounts selects instagram sources per the configured scope.
func (h *Handler) resolveAccounts(ctx context.Context, cfg domain.InstagramScheduleConfig) ([]*domain.Source, error) {
	switch cfg.Scope {
	case domain.InstagramScopeAllActive, "":
		return h.sources.ListByTypeAndActive(ctx, domain.SourceTypeInstagram, true)
	case domain.InstagramScopeAllInactive:
		return h.sources.ListByTypeAndActive(ctx, domain.SourceTypeInstagram, false)
	case domain.InstagramScopeCustom:
		accounts := make([]*domain.Source, 0, len(cfg.AccountIDs))
		for _, id := range cfg.AccountIDs {
			source, err := h.sources.GetByID(ctx, id)
			if err != nil {
				if errors.Is(err, database.ErrNotFound) {
					h.log.Warn("instagram account not found", logger.String("account_id", id))
					continue
				}
				return nil, err
			}
			if source.SourceType != domain.SourceTypeInstagram {
				h.log.Warn("account is not an instagram source", logger.String("account_id", id))
				continue
			}
			accounts = append(accounts, source)
		}
		return accounts, nil
	default:
		return nil, fmt.Errorf("unknown instagram scope %q", cfg.Scope)
	}
}

// fireWordPressExport computes the date window from the configured offsets
// in the schedule's timezone and runs the export inline.
func (h *Handler) fireWordPressExport(ctx context.Context, schedule *domain.Schedule) error {
	var cfg domain.WordPressExportScheduleConfig
	if err := decodeConfig(schedule.Config, &cfg); err != nil {
		return err
	}

	loc := time.UTC
	if schedule.Timezone != "" {
		parsed, locErr := time.LoadLocation(schedule.Timezone)
		if locErr == nil {
			loc = parsed
		} else {
			h.log.Warn("falling back to UTC for export window",
				logger.String("schedule_id", schedule.ID),
				logger.String("timezone", schedule.Timezone))
		}
	}

	startDate, endDate := exportWindow(time.Now().In(loc), cfg.StartOffsetDays, cfg.EndOffsetDays)
	h.log.Info("running scheduled export",
		logger.String("schedule_id", schedule.ID),
		logger.Time("start_date", startDate),
		logger.Time("end_date", endDate))

	return h.exports.RunScheduled(ctx, schedule, startDate, endDate)
}

// exportWindow maps day offsets onto [start of day, end of day] bounds
// relative to the fire date.
func exportWindow(now time.Time, startOffsetDays, endOffsetDays int) (time.Time, time.Time) {
	year, month, day := now.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, now.Location())

	start := midnight.AddDate(0, 0, startOffsetDays)
	end := midnight.AddDate(0, 0, endOffsetDays+1).Add(-time.Second)
	return start, end
}

// decodeConfig maps a schedule's JSONB config onto its typed variant.
func decodeConfig(raw domain.JSONBMap, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(map[string]any(raw)); err != nil {
		return fmt.Errorf("failed to decode schedule config: %w", err)
	}
	return nil
}
