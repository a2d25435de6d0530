// Package scheduler materializes database schedules into repeatable queue
// registrations and fires them on their cron expressions. One scheduler
// runs per API process; the tick guard in the queue layer keeps multiple
// processes from double-firing the same window.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/queue"
)

// evaluateEvery is the registry evaluation cadence. Cron resolution is
// one minute, so evaluating once a minute never misses a fire.
const evaluateEvery = "* * * * *"

// JobIDFor returns the stable queue job id for a schedule. Fires
// deduplicate on it: a schedule whose previous trigger is still queued
// does not stack another one behind it.
func JobIDFor(scheduleID string) string {
	return "schedule:" + scheduleID
}

// Scheduler keeps the repeatable registry in sync with the schedules table
// and enqueues trigger jobs when registrations come due.
type Scheduler struct {
	schedules *database.ScheduleRepository
	queues    *queue.Queues
	log       logger.Logger

	parser cron.Parser
	cron   *cron.Cron
}

// New creates a scheduler. The cron instance recovers panicking entries so
// one bad evaluation cannot kill the process-wide singleton.
func New(schedules *database.ScheduleRepository, queues *queue.Queues, log logger.Logger) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s := &Scheduler{
		schedules: schedules,
		queues:    queues,
		log:       log,
		parser:    parser,
	}
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cronLogger{log})),
	)
	return s
}

// Start registers all active schedules and begins evaluating the registry
// once a minute.
func (s *Scheduler) Start(ctx context.Context) error {
	active, err := s.schedules.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active schedules: %w", err)
	}
	for i := range active {
		schedule := &active[i]
		if regErr := s.Register(ctx, schedule); regErr != nil {
			s.log.Error("failed to register schedule",
				logger.String("schedule_id", schedule.ID),
				logger.String("name", schedule.Name),
				logger.Error(regErr))
		}
	}
	s.log.Info("schedules registered", logger.Int("count", len(active)))

	if _, err := s.cron.AddFunc(evaluateEvery, func() {
		s.EvaluateDue(ctx, time.Now())
	}); err != nil {
		return fmt.Errorf("failed to schedule registry evaluation: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for a running evaluation to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// parseSpec validates a 5-field cron expression evaluated in tz.
func (s *Scheduler) parseSpec(cronExpr, tz string) (cron.Schedule, error) {
	spec := cronExpr
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
		spec = fmt.Sprintf("CRON_TZ=%s %s", tz, cronExpr)
	}
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return schedule, nil
}

// ValidateSpec checks a cron expression and timezone without registering.
func (s *Scheduler) ValidateSpec(cronExpr, tz string) error {
	_, err := s.parseSpec(cronExpr, tz)
	return err
}

// Register puts a schedule into the repeatable registry and persists the
// returned repeat key. Registering an already-registered schedule replaces
// its registration.
func (s *Scheduler) Register(ctx context.Context, schedule *domain.Schedule) error {
	if _, err := s.parseSpec(schedule.Cron, schedule.Timezone); err != nil {
		return err
	}

	payload, err := json.Marshal(domain.ScheduleTriggerPayload{
		ScheduleID:          schedule.ID,
		SourceID:            schedule.SourceID,
		WordPressSettingsID: schedule.WordPressSettingsID,
		Config:              schedule.Config,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize schedule payload: %w", err)
	}

	if schedule.RepeatKey != nil {
		if err := s.queues.Schedule.RemoveRepeatable(ctx, *schedule.RepeatKey); err != nil {
			s.log.Warn("failed to remove stale repeatable",
				logger.String("schedule_id", schedule.ID),
				logger.Error(err))
		}
	}

	key, err := s.queues.Schedule.RegisterRepeatable(ctx, queue.Repeatable{
		Name:     domain.JobScheduleTrigger,
		Cron:     schedule.Cron,
		Timezone: schedule.Timezone,
		JobID:    JobIDFor(schedule.ID),
		Payload:  payload,
	})
	if err != nil {
		return fmt.Errorf("failed to register repeatable: %w", err)
	}

	if err := s.schedules.SetRepeatKey(ctx, schedule.ID, &key); err != nil {
		return err
	}
	schedule.RepeatKey = &key

	s.log.Info("schedule registered",
		logger.String("schedule_id", schedule.ID),
		logger.String("name", schedule.Name),
		logger.String("cron", schedule.Cron),
		logger.String("repeat_key", key))
	return nil
}

// Unregister removes a schedule's repeatable registration and clears the
// persisted repeat key.
func (s *Scheduler) Unregister(ctx context.Context, schedule *domain.Schedule) error {
	if schedule.RepeatKey == nil {
		return nil
	}
	if err := s.queues.Schedule.RemoveRepeatable(ctx, *schedule.RepeatKey); err != nil {
		return fmt.Errorf("failed to remove repeatable: %w", err)
	}
	if err := s.schedules.SetRepeatKey(ctx, schedule.ID, nil); err != nil {
		return err
	}
	schedule.RepeatKey = nil

	s.log.Info("schedule unregistered",
		logger.String("schedule_id", schedule.ID),
		logger.String("name", schedule.Name))
	return nil
}

// EvaluateDue walks the repeatable registry and enqueues a trigger job for
// every registration whose cron fires in the current minute. The tick
// guard makes each (registration, minute) pair fire at most once across
// processes.
func (s *Scheduler) EvaluateDue(ctx context.Context, now time.Time) {
	repeatables, err := s.queues.Schedule.ListRepeatables(ctx)
	if err != nil {
		s.log.Error("failed to list repeatables", logger.Error(err))
		return
	}

	window := now.Truncate(time.Minute)
	for _, r := range repeatables {
		schedule, parseErr := s.parseSpec(r.Cron, r.Timezone)
		if parseErr != nil {
			s.log.Error("repeatable has unparseable cron",
				logger.String("repeat_key", r.Key),
				logger.String("cron", r.Cron),
				logger.Error(parseErr))
			continue
		}

		fireAt := schedule.Next(window.Add(-time.Second))
		if fireAt.After(now) {
			continue
		}

		acquired, tickErr := s.queues.Schedule.TryAcquireTick(ctx, r.Key, fireAt)
		if tickErr != nil {
			s.log.Error("failed to acquire tick guard",
				logger.String("repeat_key", r.Key),
				logger.Error(tickErr))
			continue
		}
		if !acquired {
			continue
		}

		var payload any
		if len(r.Payload) > 0 {
			payload = json.RawMessage(r.Payload)
		}
		if _, enqErr := s.queues.Schedule.Enqueue(ctx, r.Name, payload, queue.Options{JobID: r.JobID}); enqErr != nil {
			s.log.Error("failed to enqueue schedule trigger",
				logger.String("repeat_key", r.Key),
				logger.String("job_id", r.JobID),
				logger.Error(enqErr))
			continue
		}

		s.log.Info("schedule fired",
			logger.String("repeat_key", r.Key),
			logger.String("job_id", r.JobID),
			logger.Time("fire_at", fireAt))
	}
}

// cronLogger adapts the process logger to the cron recovery chain.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Info(msg, logger.Any("details", keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.Error(msg, logger.Error(err), logger.Any("details", keysAndValues))
}
