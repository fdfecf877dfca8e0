package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bookfactory/internal/domain"
	"bookfactory/internal/service"
)

// QueueHandler handles queue-level read endpoints: listings, aggregates,
// topic suggestions, and the model list.
type QueueHandler struct {
	jobs   *service.JobService
	models service.ModelLister
}

// NewQueueHandler creates a new queue handler.
// Parameters:
//   - jobs: job service instance.
//   - models: cached model list.
// Returns:
//   - *QueueHandler: initialized handler.
func NewQueueHandler(jobs *service.JobService, models service.ModelLister) *QueueHandler {
	return &QueueHandler{jobs: jobs, models: models}
}

// ListJobs handles GET /api/v1/jobs. Maintenance jobs are hidden unless
// include_maintenance=true.
func (h *QueueHandler) ListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	includeMaintenance := c.Query("include_maintenance") == "true"
	ctx := c.Request.Context()

	jobs, err := h.jobs.List(ctx, limit, includeMaintenance)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	parentIDs := make([]string, 0, len(jobs))
	for _, job := range jobs {
		if job.ParentID == nil {
			parentIDs = append(parentIDs, job.ID)
		}
	}
	children, err := h.jobs.Children(ctx, parentIDs)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		view := newJobView(job)
		view.Children = children[job.ID]
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":  views,
		"total": len(views),
	})
}

// ListBooks handles GET /api/v1/books: completed top-level books with their
// derived artifacts.
func (h *QueueHandler) ListBooks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	ctx := c.Request.Context()

	books, err := h.jobs.ListCompleted(ctx, limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	ids := make([]string, 0, len(books))
	for _, b := range books {
		ids = append(ids, b.ID)
	}
	children, err := h.jobs.Children(ctx, ids)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	type bookView struct {
		domain.Job
		Artifacts []domain.Job `json:"artifacts"`
	}
	views := make([]bookView, 0, len(books))
	for _, b := range books {
		views = append(views, bookView{Job: b, Artifacts: children[b.ID]})
	}
	c.JSON(http.StatusOK, gin.H{
		"books": views,
		"total": len(views),
	})
}

// GetStats handles GET /api/v1/stats.
func (h *QueueHandler) GetStats(c *gin.Context) {
	stats, err := h.jobs.Stats(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetTopics handles GET /api/v1/topics: the memoized topic recommendations.
func (h *QueueHandler) GetTopics(c *gin.Context) {
	topics, err := h.jobs.RecommendedTopics(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if topics == nil {
		topics = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"topics": topics})
}

// GetModels handles GET /api/v1/models.
func (h *QueueHandler) GetModels(c *gin.Context) {
	models := h.models.Models(c.Request.Context())
	if models == nil {
		models = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}
