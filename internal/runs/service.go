// Package runs owns the run lifecycle: creation, the queued → running →
// terminal state machine, parent/child aggregation for batches, and
// cooperative cancellation of queue jobs.
package runs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/queue"
)

var (
	// ErrAlreadyFinished is returned when cancelling a terminal run.
	ErrAlreadyFinished = errors.New("run already finished")

	// ErrNoJob is returned when a run has no queue job to cancel.
	ErrNoJob = errors.New("run has no queue job")
)

// Service coordinates run state between Postgres and the queues.
type Service struct {
	repo   *database.RunRepository
	queues *queue.Queues
	flags  *CancelFlags
	log    logger.Logger
}

// NewService creates the run service.
func NewService(repo *database.RunRepository, queues *queue.Queues, flags *CancelFlags, log logger.Logger) *Service {
	return &Service{
		repo:   repo,
		queues: queues,
		flags:  flags,
		log:    log,
	}
}

// Flags exposes the cancellation flag store for workers to poll.
func (s *Service) Flags() *CancelFlags {
	return s.flags
}

// CreateParams describes a new run.
type CreateParams struct {
	SourceID    string
	ParentRunID *string
	Metadata    domain.JSONBMap
}

// Create inserts a queued run.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Run, error) {
	run := &domain.Run{
		ID:          uuid.New().String(),
		SourceID:    p.SourceID,
		Status:      domain.RunStatusQueued,
		ParentRunID: p.ParentRunID,
		Metadata:    p.Metadata,
	}
	if err := s.repo.Create(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// AttachJob records the queue job that will execute the run so cancel
// requests can find it later.
func (s *Service) AttachJob(ctx context.Context, run *domain.Run, jobID string) error {
	if run.Metadata == nil {
		run.Metadata = domain.JSONBMap{}
	}
	run.Metadata[domain.RunMetaJobID] = jobID
	return s.repo.UpdateMetadata(ctx, run.ID, run.Metadata)
}

// Get returns a run by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Run, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns runs newest-first, optionally filtered by source.
func (s *Service) List(ctx context.Context, sourceID string, limit, offset int) ([]*domain.Run, error) {
	return s.repo.List(ctx, sourceID, limit, offset)
}

// ListChildren returns the child runs of a batch parent.
func (s *Service) ListChildren(ctx context.Context, parentRunID string) ([]*domain.Run, error) {
	return s.repo.ListChildren(ctx, parentRunID)
}

// Start transitions a queued run to running and reaggregates its parent.
func (s *Service) Start(ctx context.Context, runID string) (*domain.Run, error) {
	if err := s.repo.MarkRunning(ctx, runID); err != nil {
		return nil, err
	}
	run, err := s.repo.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	s.reaggregate(ctx, run)
	return run, nil
}

// Finish finalizes a run exactly once with its terminal status, metrics,
// and accumulated errors, then reaggregates the parent if there is one.
func (s *Service) Finish(ctx context.Context, run *domain.Run) error {
	if err := s.repo.Finish(ctx, run); err != nil {
		return err
	}
	s.reaggregate(ctx, run)
	return nil
}

// FinalizeCancelled finishes a run that stopped at a cancellation point:
// status partial, cancelled=true in metadata, and the job flag flipped to
// cancelled.
func (s *Service) FinalizeCancelled(ctx context.Context, run *domain.Run) error {
	run.Status = domain.RunStatusPartial
	if run.Metadata == nil {
		run.Metadata = domain.JSONBMap{}
	}
	run.Metadata[domain.RunMetaCancelled] = true

	if jobID, ok := run.JobID(); ok {
		if err := s.flags.MarkCancelled(ctx, jobID); err != nil {
			s.log.Warn("failed to mark cancel flag",
				logger.String("job_id", jobID),
				logger.Error(err))
		}
	}

	return s.Finish(ctx, run)
}

// Aggregate recomputes a parent run from its children.
func (s *Service) Aggregate(ctx context.Context, parentRunID string) (*domain.Run, error) {
	return s.repo.AggregateParent(ctx, parentRunID)
}

// CancelResult reports what a cancel request did.
type CancelResult struct {
	// Run is the run after the cancel request was applied.
	Run *domain.Run `json:"run"`
	// Finalized is true when the job was still queued and the run finished
	// immediately. False means a worker owns the job and will finalize it.
	Finalized bool `json:"finalized"`
}

// Cancel stops a run. Queued jobs are removed and the run finishes as
// partial right away; active jobs are flagged and the worker finalizes at
// its next safe point. Parent runs without a job of their own cancel each
// unfinished child instead.
func (s *Service) Cancel(ctx context.Context, runID string) (*CancelResult, error) {
	run, err := s.repo.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return nil, fmt.Errorf("run %s: %w", runID, ErrAlreadyFinished)
	}

	jobID, ok := run.JobID()
	if !ok {
		return s.cancelChildren(ctx, run)
	}

	q, job := s.findJob(ctx, jobID)
	if q != nil && job != nil {
		switch err := q.RemoveJob(ctx, jobID); {
		case err == nil:
			return s.finalizeRemoved(ctx, run, jobID)
		case errors.Is(err, queue.ErrJobNotRemovable), errors.Is(err, queue.ErrJobNotFound):
			// A worker already picked it up; fall through to the flag.
		default:
			return nil, err
		}
	}

	if err := s.flags.Request(ctx, jobID); err != nil {
		return nil, err
	}
	s.log.Info("cancellation requested",
		logger.String("run_id", run.ID),
		logger.String("job_id", jobID))
	return &CancelResult{Run: run, Finalized: false}, nil
}

// finalizeRemoved finishes a run whose job never reached a worker.
func (s *Service) finalizeRemoved(ctx context.Context, run *domain.Run, jobID string) (*CancelResult, error) {
	if err := s.flags.MarkCancelled(ctx, jobID); err != nil {
		s.log.Warn("failed to mark cancel flag",
			logger.String("job_id", jobID),
			logger.Error(err))
	}

	run.Status = domain.RunStatusPartial
	if run.Metadata == nil {
		run.Metadata = domain.JSONBMap{}
	}
	run.Metadata[domain.RunMetaCancelled] = true

	if err := s.Finish(ctx, run); err != nil {
		return nil, err
	}
	s.log.Info("cancelled queued run",
		logger.String("run_id", run.ID),
		logger.String("job_id", jobID))
	return &CancelResult{Run: run, Finalized: true}, nil
}

// cancelChildren cancels every unfinished child of a batch parent and
// reaggregates the parent.
func (s *Service) cancelChildren(ctx context.Context, parent *domain.Run) (*CancelResult, error) {
	children, err := s.repo.ListChildren(ctx, parent.ID)
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("run %s: %w", parent.ID, ErrNoJob)
	}

	finalized := true
	for _, child := range children {
		if child.Status.Terminal() {
			continue
		}
		result, err := s.Cancel(ctx, child.ID)
		if err != nil {
			s.log.Warn("failed to cancel child run",
				logger.String("run_id", child.ID),
				logger.Error(err))
			finalized = false
			continue
		}
		if !result.Finalized {
			finalized = false
		}
	}

	aggregated, err := s.Aggregate(ctx, parent.ID)
	if err != nil {
		return nil, err
	}
	return &CancelResult{Run: aggregated, Finalized: finalized}, nil
}

// findJob locates the queue holding a job. Jobs live in per-queue hashes,
// so each queue is probed in turn.
func (s *Service) findJob(ctx context.Context, jobID string) (*queue.Queue, *queue.Job) {
	for _, q := range s.queues.All() {
		job, err := q.GetJob(ctx, jobID)
		if err == nil {
			return q, job
		}
	}
	return nil, nil
}

func (s *Service) reaggregate(ctx context.Context, run *domain.Run) {
	if run.ParentRunID == nil {
		return
	}
	if _, err := s.repo.AggregateParent(ctx, *run.ParentRunID); err != nil {
		s.log.Warn("failed to aggregate parent run",
			logger.String("parent_run_id", *run.ParentRunID),
			logger.Error(err))
	}
}
