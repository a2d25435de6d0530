package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/scheduler"
)

// scheduleRequest is the create/update payload for a schedule. Deeper
// validation (type-specific references, cron syntax, timezone) lives in
// the scheduler service.
type scheduleRequest struct {
	Name                string              `json:"name" binding:"required"`
	ScheduleType        domain.ScheduleType `json:"schedule_type" binding:"required"`
	SourceID            *string             `json:"source_id"`
	WordPressSettingsID *string             `json:"wordpress_settings_id"`
	Cron                string              `json:"cron" binding:"required"`
	Timezone            string              `json:"timezone"`
	Active              *bool               `json:"active"`
	Config              domain.JSONBMap     `json:"config"`
}

// toSchedule materializes the request into a domain schedule.
func (req *scheduleRequest) toSchedule(id string) *domain.Schedule {
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	return &domain.Schedule{
		ID:                  id,
		Name:                req.Name,
		ScheduleType:        req.ScheduleType,
		SourceID:            req.SourceID,
		WordPressSettingsID: req.WordPressSettingsID,
		Cron:                req.Cron,
		Timezone:            req.Timezone,
		Active:              active,
		Config:              req.Config,
	}
}

// handleScheduleError maps scheduler failures onto status codes.
func handleScheduleError(c *gin.Context, err error, operation string) {
	if errors.Is(err, scheduler.ErrInvalidSchedule) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	handleRepositoryError(c, err, "schedule", operation)
}

// listSchedules returns all schedules
// GET /api/schedules
func (r *Router) listSchedules(c *gin.Context) {
	ctx := c.Request.Context()

	schedules, err := r.deps.Schedules.List(ctx)
	if err != nil {
		handleRepositoryError(c, err, "schedule", "list")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"schedules": schedules,
		"count":     len(schedules),
	})
}

// createSchedule creates a schedule and registers it with the cron
// registry when active
// POST /api/schedules
func (r *Router) createSchedule(c *gin.Context) {
	ctx := c.Request.Context()

	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	schedule := req.toSchedule("")
	if err := r.deps.Scheduler.Create(ctx, schedule); err != nil {
		handleScheduleError(c, err, "create")
		return
	}

	c.JSON(http.StatusCreated, schedule)
}

// updateSchedule replaces a schedule and reconciles its registration
// PUT /api/schedules/:id
func (r *Router) updateSchedule(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseID(c, "id", "schedule")
	if !ok {
		return
	}

	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if err := r.deps.Scheduler.Update(ctx, req.toSchedule(id)); err != nil {
		handleScheduleError(c, err, "update")
		return
	}

	schedule, err := r.deps.Schedules.GetByID(ctx, id)
	if err != nil {
		handleRepositoryError(c, err, "schedule", "get")
		return
	}

	c.JSON(http.StatusOK, schedule)
}

// deleteSchedule removes a schedule and its registration
// DELETE /api/schedules/:id
func (r *Router) deleteSchedule(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseID(c, "id", "schedule")
	if !ok {
		return
	}

	if err := r.deps.Scheduler.Delete(ctx, id); err != nil {
		handleScheduleError(c, err, "delete")
		return
	}

	c.Status(http.StatusNoContent)
}

// triggerSchedule fires a schedule once, bypassing cron
// POST /api/schedules/:id/trigger
func (r *Router) triggerSchedule(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseID(c, "id", "schedule")
	if !ok {
		return
	}

	jobID, err := r.deps.Scheduler.TriggerNow(ctx, id)
	if err != nil {
		handleScheduleError(c, err, "trigger")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// triggerAllActiveSchedules fires every active schedule once
// POST /api/schedules/trigger-all-active
func (r *Router) triggerAllActiveSchedules(c *gin.Context) {
	ctx := c.Request.Context()

	triggered, err := r.deps.Scheduler.TriggerAllActive(ctx)
	if err != nil {
		handleScheduleError(c, err, "trigger")
		return
	}

	c.JSON(http.StatusOK, gin.H{"triggered": triggered})
}
