package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookfactory/internal/api"
	"bookfactory/internal/api/middleware"
	"bookfactory/internal/config"
	"bookfactory/internal/converter"
	"bookfactory/internal/logger"
	"bookfactory/internal/repository"
	"bookfactory/internal/service"
	"bookfactory/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLog := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	logger.SetDefaultLogger(appLog)

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	jobRepo := repository.NewJobRepository(db)
	eventRepo := repository.NewEventRepository(db)
	cacheRepo := repository.NewCacheRepository(db)

	// Initialize generation backend
	ollama := service.NewOllamaClient(&service.OllamaConfig{
		BaseURL:        cfg.Ollama.BaseURL,
		DefaultModel:   cfg.Ollama.Model,
		RequestTimeout: cfg.Ollama.RequestTimeout,
	})
	modelCache := service.NewModelCache(ollama, cfg.Ollama.ModelsTTL)

	ctx := context.Background()
	if cfg.Ollama.AutoPull && cfg.Ollama.Model != "" {
		appLog.WithField("model", cfg.Ollama.Model).Info("Pulling default model")
		if err := ollama.Pull(ctx, cfg.Ollama.Model); err != nil {
			appLog.WithError(err).Warn("Model pull failed; generation may fail until the model is available")
		}
	}

	// Initialize converters
	var tts converter.Synthesizer
	if cfg.TTS.ModelPath != "" {
		sherpaTTS, err := converter.NewSherpaSynthesizer(converter.TTSConfig{
			ModelPath:    cfg.TTS.ModelPath,
			TokensPath:   cfg.TTS.TokensPath,
			LexiconPath:  cfg.TTS.LexiconPath,
			DataDir:      cfg.TTS.DataDir,
			NumThreads:   cfg.TTS.NumThreads,
			DefaultVoice: cfg.TTS.DefaultVoice,
			DefaultSpeed: cfg.TTS.DefaultSpeed,
		})
		if err != nil {
			appLog.WithError(err).Fatal("Failed to initialize TTS engine")
		}
		defer sherpaTTS.Close()
		tts = sherpaTTS
	} else {
		appLog.Warn("No TTS model configured; audiobook jobs will fail until one is set")
		tts = converter.UnavailableSynthesizer{}
	}

	// Initialize archive storage (optional secondary copy of finished books)
	archive, err := storage.NewArchive(&cfg.Archive)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize archive storage")
	}
	if s3Archive, ok := archive.(*storage.S3Storage); ok {
		if err := s3Archive.EnsureBucket(ctx); err != nil {
			appLog.WithError(err).Fatal("Failed to ensure archive bucket")
		}
	}

	// Initialize pipeline
	executor := service.NewStageExecutor(service.StageDeps{
		Jobs:        jobRepo,
		Events:      eventRepo,
		Cache:       cacheRepo,
		Generator:   ollama,
		PDF:         converter.NewPDFRenderer(),
		TTS:         tts,
		Transcode:   converter.NewTranscoder(),
		Archive:     archive,
		DataDir:     cfg.Generator.DataDir,
		MaxChapters: cfg.Generator.MaxChapters,
		TTSVoice:    cfg.TTS.DefaultVoice,
		TTSSpeed:    cfg.TTS.DefaultSpeed,
	})

	runner := service.NewRunner(jobRepo, executor, cfg.Runner.PollInterval)
	jobService := service.NewJobService(
		jobRepo, eventRepo, cacheRepo, runner,
		cfg.Ollama.Model, cfg.Runner.RecommendThreshold,
	)

	runnerCtx, stopRunner := context.WithCancel(ctx)
	defer stopRunner()
	runner.Start(runnerCtx)

	// Setup router
	router := api.SetupRouter(jobService, modelCache, cfg.Server.Mode, middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLog.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down...")

	// Stop the runner first so the in-flight job reaches a checkpoint before
	// the HTTP surface disappears.
	runner.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.WithError(err).Fatal("Server forced to shutdown")
	}

	appLog.Info("Server exited")
}
