package handler

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"bookfactory/internal/domain"
	"bookfactory/internal/eta"
	"bookfactory/internal/repository"
	"bookfactory/internal/service"
)

// JobHandler handles job lifecycle endpoints.
type JobHandler struct {
	jobs *service.JobService
}

// NewJobHandler creates a new job handler.
// Parameters:
//   - jobs: job service instance.
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(jobs *service.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

type createJobRequest struct {
	Topic string `json:"topic" binding:"required"`
	Model string `json:"model"`
}

// jobView is a Job enriched with its remaining-time estimate and children.
type jobView struct {
	domain.Job
	ETASeconds *int64            `json:"eta_seconds,omitempty"`
	ETAText    *string           `json:"eta_text,omitempty"`
	Children   []domain.Job      `json:"children,omitempty"`
	Events     []domain.JobEvent `json:"events,omitempty"`
}

func newJobView(job domain.Job) jobView {
	view := jobView{Job: job}
	if job.Status == domain.JobStatusRunning {
		anchor := job.CreatedAt
		if job.StartedAt != nil {
			anchor = *job.StartedAt
		}
		view.ETASeconds = eta.EstimateRemaining(anchor, job.Progress, time.Now().UTC())
		view.ETAText = eta.FormatDuration(view.ETASeconds, true)
	}
	return view
}

// CreateJob handles POST /api/v1/jobs.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "topic is required",
		})
		return
	}

	job, err := h.jobs.CreateBook(c.Request.Context(), req.Topic, req.Model)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to create job: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, newJobView(*job))
}

// GetJob handles GET /api/v1/jobs/:id, returning the job with its children,
// event log, and remaining-time estimate.
func (h *JobHandler) GetJob(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	job, err := h.jobs.Get(ctx, id)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	view := newJobView(*job)

	children, err := h.jobs.Children(ctx, []string{job.ID})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	view.Children = children[job.ID]

	events, err := h.jobs.Events(ctx, job.ID, 0)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	view.Events = events

	c.JSON(http.StatusOK, view)
}

// CancelJob handles POST /api/v1/jobs/:id/cancel.
func (h *JobHandler) CancelJob(c *gin.Context) {
	h.applyTransition(c, h.jobs.Cancel)
}

// StopJob handles POST /api/v1/jobs/:id/stop.
func (h *JobHandler) StopJob(c *gin.Context) {
	h.applyTransition(c, h.jobs.Stop)
}

// ResumeJob handles POST /api/v1/jobs/:id/resume.
func (h *JobHandler) ResumeJob(c *gin.Context) {
	h.applyTransition(c, h.jobs.Resume)
}

// RetryJob handles POST /api/v1/jobs/:id/retry.
func (h *JobHandler) RetryJob(c *gin.Context) {
	h.applyTransition(c, h.jobs.Retry)
}

// DeleteJob handles DELETE /api/v1/jobs/:id.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	h.applyTransition(c, h.jobs.Delete)
}

type moveJobRequest struct {
	Direction string `json:"direction" binding:"required"`
}

// MoveJob handles POST /api/v1/jobs/:id/move.
func (h *JobHandler) MoveJob(c *gin.Context) {
	var req moveJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "direction is required (up or down)",
		})
		return
	}
	direction := repository.MoveDirection(req.Direction)
	if !repository.ValidMoveDirection(direction) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "direction must be up or down",
		})
		return
	}

	if err := h.jobs.Move(c.Request.Context(), c.Param("id"), direction); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// DownloadOutput handles GET /api/v1/jobs/:id/download, serving the finished
// artifact file.
func (h *JobHandler) DownloadOutput(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if job.OutputPath == nil || *job.OutputPath == "" {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job has no output yet",
		})
		return
	}
	c.FileAttachment(*job.OutputPath, filepath.Base(*job.OutputPath))
}

// applyTransition runs a lifecycle operation against the path job and maps
// its error to an HTTP status.
func (h *JobHandler) applyTransition(c *gin.Context, op func(ctx context.Context, id string) error) {
	if err := op(c.Request.Context(), c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeServiceError maps service-layer sentinel errors to HTTP statuses.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, service.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
