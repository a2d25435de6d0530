package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/queue"
)

// ErrInvalidSchedule wraps schedule validation failures.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Validate checks a schedule's type, references, cron, and timezone.
func (s *Scheduler) Validate(schedule *domain.Schedule) error {
	if schedule.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSchedule)
	}
	if !schedule.ScheduleType.Valid() {
		return fmt.Errorf("%w: unknown schedule type %q", ErrInvalidSchedule, schedule.ScheduleType)
	}

	switch schedule.ScheduleType {
	case domain.ScheduleScrape:
		if schedule.SourceID == nil || *schedule.SourceID == "" {
			return fmt.Errorf("%w: scrape schedules need a source_id", ErrInvalidSchedule)
		}
	case domain.ScheduleWordPressExport:
		if schedule.WordPressSettingsID == nil || *schedule.WordPressSettingsID == "" {
			return fmt.Errorf("%w: wordpress_export schedules need a wordpress_settings_id", ErrInvalidSchedule)
		}
	case domain.ScheduleInstagramScrape:
		// Scope defaults to all_active; nothing else is required.
	}

	if err := s.ValidateSpec(schedule.Cron, schedule.Timezone); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return nil
}

// Create validates and inserts a schedule, registering it when active.
func (s *Scheduler) Create(ctx context.Context, schedule *domain.Schedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.New().String()
	}
	if err := s.Validate(schedule); err != nil {
		return err
	}

	if err := s.schedules.Create(ctx, schedule); err != nil {
		return err
	}
	if schedule.Active {
		if err := s.Register(ctx, schedule); err != nil {
			return err
		}
	}
	return nil
}

// Update validates and persists schedule changes, then reconciles the
// repeatable registration: inactive schedules are unregistered, active
// ones re-registered so cron or timezone edits take effect.
func (s *Scheduler) Update(ctx context.Context, schedule *domain.Schedule) error {
	if err := s.Validate(schedule); err != nil {
		return err
	}

	existing, err := s.schedules.GetByID(ctx, schedule.ID)
	if err != nil {
		return err
	}
	schedule.RepeatKey = existing.RepeatKey

	if err := s.schedules.Update(ctx, schedule); err != nil {
		return err
	}

	if !schedule.Active {
		return s.Unregister(ctx, schedule)
	}
	return s.Register(ctx, schedule)
}

// Delete removes a schedule: its registration goes first, then the row
// (which also detaches exports pointing at it).
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	schedule, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Unregister(ctx, schedule); err != nil {
		s.log.Warn("failed to unregister schedule before delete",
			logger.String("schedule_id", id),
			logger.Error(err))
	}
	return s.schedules.Delete(ctx, id)
}

// TriggerNow bypasses cron and fires a schedule once. The synthesized job
// gets a fresh id so it cannot deduplicate against a pending cron fire.
func (s *Scheduler) TriggerNow(ctx context.Context, id string) (string, error) {
	schedule, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	jobID, err := s.queues.Schedule.Enqueue(ctx, domain.JobScheduleTrigger, domain.ScheduleTriggerPayload{
		ScheduleID:          schedule.ID,
		SourceID:            schedule.SourceID,
		WordPressSettingsID: schedule.WordPressSettingsID,
		Config:              schedule.Config,
	}, queue.Options{})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue schedule trigger: %w", err)
	}

	s.log.Info("schedule triggered manually",
		logger.String("schedule_id", schedule.ID),
		logger.String("job_id", jobID))
	return jobID, nil
}

// TriggerAllActive fires every active schedule once and returns how many
// triggers were enqueued.
func (s *Scheduler) TriggerAllActive(ctx context.Context) (int, error) {
	active, err := s.schedules.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	fired := 0
	for i := range active {
		if _, err := s.TriggerNow(ctx, active[i].ID); err != nil {
			s.log.Error("failed to trigger schedule",
				logger.String("schedule_id", active[i].ID),
				logger.Error(err))
			continue
		}
		fired++
	}
	return fired, nil
}
