package match

import (
	"context"
	"fmt"
	"time"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/queue"
)

const dateLayout = "2006-01-02"

// Handler consumes the match queue and runs the engine over the requested
// range.
type Handler struct {
	engine *Engine
	log    logger.Logger
}

// NewHandler creates a match queue handler.
func NewHandler(engine *Engine, log logger.Logger) *Handler {
	return &Handler{engine: engine, log: log}
}

// Handle runs one match job. Dates in the payload are inclusive calendar
// days; the end date covers through its last second.
func (h *Handler) Handle(ctx context.Context, job *queue.Job) error {
	var payload domain.MatchJobPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("failed to decode match payload: %w", err)
	}

	params := Params{SourceIDs: payload.SourceIDs}
	if payload.StartDate != nil {
		t, err := time.Parse(dateLayout, *payload.StartDate)
		if err != nil {
			return fmt.Errorf("invalid start_date: %w", err)
		}
		params.StartDate = &t
	}
	if payload.EndDate != nil {
		t, err := time.Parse(dateLayout, *payload.EndDate)
		if err != nil {
			return fmt.Errorf("invalid end_date: %w", err)
		}
		endOfDay := t.AddDate(0, 0, 1).Add(-time.Second)
		params.EndDate = &endOfDay
	}

	stats, err := h.engine.Run(ctx, params)
	if err != nil {
		return err
	}

	h.log.Info("match job finished",
		logger.String("job_id", job.ID),
		logger.Int("candidates", stats.Candidates),
		logger.Int("proposed", stats.Proposed))

	return nil
}
