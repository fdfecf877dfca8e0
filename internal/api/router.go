package api

import (
	"github.com/gin-gonic/gin"

	"bookfactory/internal/api/handler"
	"bookfactory/internal/api/middleware"
	"bookfactory/internal/service"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	jobService *service.JobService,
	modelLister service.ModelLister,
	mode string,
	cors middleware.CORSConfig,
) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cors))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	jobHandler := handler.NewJobHandler(jobService)
	queueHandler := handler.NewQueueHandler(jobService, modelLister)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Jobs
		v1.POST("/jobs", jobHandler.CreateJob)
		v1.GET("/jobs", queueHandler.ListJobs)
		v1.GET("/jobs/:id", jobHandler.GetJob)
		v1.DELETE("/jobs/:id", jobHandler.DeleteJob)
		v1.POST("/jobs/:id/cancel", jobHandler.CancelJob)
		v1.POST("/jobs/:id/stop", jobHandler.StopJob)
		v1.POST("/jobs/:id/resume", jobHandler.ResumeJob)
		v1.POST("/jobs/:id/retry", jobHandler.RetryJob)
		v1.POST("/jobs/:id/move", jobHandler.MoveJob)
		v1.GET("/jobs/:id/download", jobHandler.DownloadOutput)

		// Finished books
		v1.GET("/books", queueHandler.ListBooks)

		// Queue aggregates
		v1.GET("/stats", queueHandler.GetStats)
		v1.GET("/topics", queueHandler.GetTopics)
		v1.GET("/models", queueHandler.GetModels)
	}

	return r
}
