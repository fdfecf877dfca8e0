package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bookfactory/internal/domain"
	"bookfactory/internal/eta"
	"bookfactory/internal/logger"
	"bookfactory/internal/repository"
)

// Sentinel errors mapped to HTTP statuses by the presentation layer.
var (
	ErrJobNotFound  = errors.New("job not found")
	ErrInvalidState = errors.New("operation not allowed in current job state")
)

// Waker wakes the scheduler after new work is queued.
type Waker interface {
	Enqueue()
}

// JobService owns all externally triggered job transitions: creation,
// cancel/stop/resume/retry, deletion, reordering. The runner drives only
// queued→running→{completed,failed}.
type JobService struct {
	jobs   *repository.JobRepository
	events *repository.EventRepository
	cache  *repository.CacheRepository
	waker  Waker

	defaultModel       string
	recommendThreshold int
}

// NewJobService creates a job service.
// Parameters:
//   - jobs, events, cache: repositories.
//   - waker: scheduler wake-up hook; may be nil in tests.
//   - defaultModel: model used when a request names none.
//   - recommendThreshold: distinct new topics that trigger auto topic
//     recommendation; defaults to 3.
// Returns:
//   - *JobService: ready service.
func NewJobService(
	jobs *repository.JobRepository,
	events *repository.EventRepository,
	cache *repository.CacheRepository,
	waker Waker,
	defaultModel string,
	recommendThreshold int,
) *JobService {
	if recommendThreshold <= 0 {
		recommendThreshold = 3
	}
	return &JobService{
		jobs:               jobs,
		events:             events,
		cache:              cache,
		waker:              waker,
		defaultModel:       defaultModel,
		recommendThreshold: recommendThreshold,
	}
}

// derivedTypes are the conversions spawned for every new book, in the order
// their inputs become available.
var derivedTypes = []domain.JobType{
	domain.JobTypeText,
	domain.JobTypePDF,
	domain.JobTypeAudiobook,
	domain.JobTypeM4B,
}

// CreateBook queues a new book job plus one derived child per conversion
// type. The children stay queued behind the parent and resolve their input
// from its output when their turn comes.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - topic: book subject, must be non-empty after trimming.
//   - model: generation model; empty uses the configured default.
// Returns:
//   - *domain.Job: the parent book job.
//   - error: non-nil on validation or store failure.
func (s *JobService) CreateBook(ctx context.Context, topic, model string) (*domain.Job, error) {
	if model == "" {
		model = s.defaultModel
	}

	book, err := s.jobs.Create(ctx, repository.CreateParams{
		Topic:   topic,
		Model:   model,
		JobType: domain.JobTypeBook,
	})
	if err != nil {
		return nil, err
	}
	if err := s.events.Append(ctx, book.ID, domain.EventLevelInfo, "job created"); err != nil {
		return nil, err
	}

	for _, jobType := range derivedTypes {
		child, err := s.jobs.Create(ctx, repository.CreateParams{
			Topic:    book.Topic,
			Model:    model,
			JobType:  jobType,
			ParentID: &book.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to queue %s child: %w", jobType, err)
		}
		if err := s.events.Append(ctx, child.ID, domain.EventLevelInfo,
			fmt.Sprintf("queued as %s conversion of %s", jobType, book.ID)); err != nil {
			return nil, err
		}
	}

	s.maybeQueueRecommend(ctx)
	s.wake()
	return book, nil
}

// maybeQueueRecommend enqueues a topic-recommendation maintenance job once
// enough distinct topics accumulated since the last run and none is active.
// Failures only log: maintenance must never fail user-facing creation.
func (s *JobService) maybeQueueRecommend(ctx context.Context) {
	count, err := s.jobs.CountDistinctTopicsSinceLastRecommend(ctx)
	if err != nil {
		logger.CtxWarn(ctx, "recommend trigger check failed: %v", err)
		return
	}
	if count < s.recommendThreshold {
		return
	}
	active, err := s.jobs.HasActiveJobType(ctx, domain.JobTypeRecommendTopics)
	if err != nil {
		logger.CtxWarn(ctx, "recommend trigger check failed: %v", err)
		return
	}
	if active {
		return
	}

	job, err := s.jobs.Create(ctx, repository.CreateParams{
		Topic:   "topic recommendations",
		Model:   s.defaultModel,
		JobType: domain.JobTypeRecommendTopics,
	})
	if err != nil {
		logger.CtxWarn(ctx, "failed to queue topic recommendation: %v", err)
		return
	}
	logger.CtxInfo(ctx, "queued topic recommendation job %s after %d new topics", job.ID, count)
}

// Get returns a job by ID.
func (s *JobService) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// List returns recent jobs, maintenance excluded unless requested.
func (s *JobService) List(ctx context.Context, limit int, includeMaintenance bool) ([]domain.Job, error) {
	return s.jobs.List(ctx, limit, includeMaintenance)
}

// ListCompleted returns finished top-level books, newest first.
func (s *JobService) ListCompleted(ctx context.Context, limit int) ([]domain.Job, error) {
	return s.jobs.ListCompleted(ctx, limit)
}

// Children returns derived jobs grouped by parent ID.
func (s *JobService) Children(ctx context.Context, parentIDs []string) (map[string][]domain.Job, error) {
	return s.jobs.ListChildren(ctx, parentIDs)
}

// Events returns a job's event log, oldest first.
func (s *JobService) Events(ctx context.Context, id string, limit int) ([]domain.JobEvent, error) {
	return s.events.List(ctx, id, limit)
}

// Cancel cancels a queued job immediately, or requests cooperative
// cancellation of a running one; the stage observes it at its next
// checkpoint.
func (s *JobService) Cancel(ctx context.Context, id string) error {
	return s.transition(ctx, id, domain.JobStatusCancelled, "cancelled",
		domain.JobStatusQueued, domain.JobStatusRunning)
}

// Stop pauses a running job at its next checkpoint. Stopped jobs can be
// resumed or deleted.
func (s *JobService) Stop(ctx context.Context, id string) error {
	return s.transition(ctx, id, domain.JobStatusStopped, "stopped",
		domain.JobStatusRunning)
}

// Resume requeues a stopped job from scratch: progress, error, and output are
// reset.
func (s *JobService) Resume(ctx context.Context, id string) error {
	return s.requeue(ctx, id, "resumed", domain.JobStatusStopped)
}

// Retry requeues a failed or cancelled job from scratch.
func (s *JobService) Retry(ctx context.Context, id string) error {
	return s.requeue(ctx, id, "retried", domain.JobStatusFailed, domain.JobStatusCancelled)
}

// Delete removes a job and its events. Running jobs must be stopped or
// cancelled first.
func (s *JobService) Delete(ctx context.Context, id string) error {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	if job.Status == domain.JobStatusRunning {
		return fmt.Errorf("cannot delete a running job: %w", ErrInvalidState)
	}
	return s.jobs.Delete(ctx, id)
}

// Move swaps a queued job with its neighbor in the queue ordering.
func (s *JobService) Move(ctx context.Context, id string, direction repository.MoveDirection) error {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	return s.jobs.Move(ctx, id, direction)
}

// Stats computes queue-wide aggregates from a full snapshot.
func (s *JobService) Stats(ctx context.Context) (eta.QueueStats, error) {
	jobs, err := s.jobs.All(ctx)
	if err != nil {
		return eta.QueueStats{}, err
	}
	return eta.AggregateQueueStats(jobs, time.Now().UTC()), nil
}

// RecommendedTopics returns the memoized topic suggestions, falling back to
// frequency-ranked past topics when the cache is empty.
func (s *JobService) RecommendedTopics(ctx context.Context) ([]string, error) {
	entry, err := s.cache.Get(ctx, domain.CacheKeyRecommendedTopics)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		var topics []string
		if err := json.Unmarshal([]byte(entry.Value), &topics); err == nil && len(topics) > 0 {
			return topics, nil
		}
	}
	return s.jobs.TopicSuggestions(ctx, recommendTopicsLimit)
}

// transition moves a job into target when its current status is one of from.
func (s *JobService) transition(ctx context.Context, id string, target domain.JobStatus, eventMsg string, from ...domain.JobStatus) error {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	if !statusIn(job.Status, from) {
		return fmt.Errorf("cannot transition %s job to %s: %w", job.Status, target, ErrInvalidState)
	}

	stage := string(target)
	if err := s.jobs.SetStatus(ctx, id, repository.StatusUpdate{Status: &target, Stage: &stage}); err != nil {
		return err
	}
	return s.events.Append(ctx, id, domain.EventLevelInfo, eventMsg)
}

// requeue resets a job to queued and wakes the runner.
func (s *JobService) requeue(ctx context.Context, id, eventMsg string, from ...domain.JobStatus) error {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	if !statusIn(job.Status, from) {
		return fmt.Errorf("cannot requeue %s job: %w", job.Status, ErrInvalidState)
	}

	if err := s.jobs.ResetForRequeue(ctx, id); err != nil {
		return err
	}
	if err := s.events.Append(ctx, id, domain.EventLevelInfo, eventMsg); err != nil {
		return err
	}
	s.wake()
	return nil
}

func (s *JobService) wake() {
	if s.waker != nil {
		s.waker.Enqueue()
	}
}

func statusIn(status domain.JobStatus, set []domain.JobStatus) bool {
	for _, s := range set {
		if status == s {
			return true
		}
	}
	return false
}
