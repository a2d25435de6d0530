package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/queue"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/runs"
)

// scrapeRequest carries the optional overrides for an ad-hoc scrape. The
// instagram fields are ignored for website sources and vice versa.
type scrapeRequest struct {
	TestMode          bool           `json:"test_mode"`
	ScrapeMode        string         `json:"scrape_mode"`
	PaginationOptions map[string]any `json:"pagination_options"`
	UploadedFile      map[string]any `json:"uploaded_file"`

	PostLimit int `json:"post_limit"`
	BatchSize int `json:"batch_size"`
}

// listRuns returns runs, optionally filtered to one source
// GET /api/runs?source_id=&limit=&offset=
func (r *Router) listRuns(c *gin.Context) {
	ctx := c.Request.Context()
	limit, offset := parseLimitOffset(c)

	list, err := r.deps.Runs.List(ctx, c.Query("source_id"), limit, offset)
	if err != nil {
		handleRepositoryError(c, err, "run", "list")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  list,
		"count": len(list),
	})
}

// getRun retrieves a run by ID
// GET /api/runs/:id
func (r *Router) getRun(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseID(c, "id", "run")
	if !ok {
		return
	}

	run, err := r.deps.Runs.Get(ctx, id)
	if err != nil {
		handleRepositoryError(c, err, "run", "get")
		return
	}

	c.JSON(http.StatusOK, run)
}

// triggerScrape creates a queued run for the source and enqueues the job
// that will execute it. Instagram sources go to the instagram queue, all
// others to the scrape queue.
// POST /api/runs/scrape/:module_key
func (r *Router) triggerScrape(c *gin.Context) {
	ctx := c.Request.Context()

	source, err := r.deps.Sources.GetByModuleKey(ctx, c.Param("module_key"))
	if err != nil {
		handleRepositoryError(c, err, "source", "resolve")
		return
	}

	var req scrapeRequest
	if c.Request.ContentLength > 0 {
		if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
			respondBindError(c, bindErr)
			return
		}
	}

	run, err := r.deps.Runs.Create(ctx, runs.CreateParams{SourceID: source.ID})
	if err != nil {
		handleRepositoryError(c, err, "run", "create")
		return
	}

	var jobID string
	switch source.SourceType {
	case domain.SourceTypeInstagram:
		jobID, err = r.deps.Queues.InstagramScrape.Enqueue(ctx, domain.JobInstagramScrape,
			domain.InstagramScrapeJobPayload{
				AccountID: source.ID,
				RunID:     &run.ID,
				PostLimit: req.PostLimit,
				BatchSize: req.BatchSize,
			}, queue.Options{})
	default:
		jobID, err = r.deps.Queues.Scrape.Enqueue(ctx, domain.JobScrape,
			domain.ScrapeJobPayload{
				SourceID:          source.ID,
				RunID:             run.ID,
				ModuleKey:         source.ModuleKey,
				SourceName:        source.Name,
				TestMode:          req.TestMode,
				ScrapeMode:        req.ScrapeMode,
				PaginationOptions: req.PaginationOptions,
				UploadedFile:      req.UploadedFile,
			}, queue.Options{})
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue scrape job"})
		return
	}

	if attachErr := r.deps.Runs.AttachJob(ctx, run, jobID); attachErr != nil {
		r.deps.Log.Warn("failed to attach job to run",
			logger.String("run_id", run.ID),
			logger.Error(attachErr))
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run":    run,
		"job_id": jobID,
	})
}

// cancelRun requests cooperative cancellation of a run. Queued jobs are
// removed and finalized immediately; active jobs stop at their next safe
// point.
// POST /api/runs/:id/cancel
func (r *Router) cancelRun(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseID(c, "id", "run")
	if !ok {
		return
	}

	result, err := r.deps.Runs.Cancel(ctx, id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	case errors.Is(err, runs.ErrAlreadyFinished):
		c.JSON(http.StatusConflict, gin.H{"error": "run already finished"})
		return
	case errors.Is(err, runs.ErrNoJob):
		c.JSON(http.StatusConflict, gin.H{"error": "run has no queue job"})
		return
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel run"})
		return
	}

	c.JSON(http.StatusOK, result)
}
