package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookfactory/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MoveDirection selects the neighbor a queued job swaps positions with.
type MoveDirection string

const (
	MoveUp   MoveDirection = "up"
	MoveDown MoveDirection = "down"
)

// ValidMoveDirection reports whether d is a known direction.
func ValidMoveDirection(d MoveDirection) bool {
	return d == MoveUp || d == MoveDown
}

// JobRepository handles job persistence. Every multi-statement operation runs
// inside a single transaction so concurrent callers never observe partial
// state.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateParams holds the caller-supplied fields of a new job.
type CreateParams struct {
	Topic      string
	Model      string
	JobType    domain.JobType
	ParentID   *string
	SourcePath *string
}

// Create inserts a new queued job, assigning its id and queue position.
// The position is max(existing)+1, computed inside the insert transaction so
// concurrent creations never collide.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - params: new job fields; JobType defaults to book when empty.
// Returns:
//   - *domain.Job: the persisted job.
//   - error: non-nil on validation failure or insert failure.
func (r *JobRepository) Create(ctx context.Context, params CreateParams) (*domain.Job, error) {
	topic := strings.TrimSpace(params.Topic)
	if topic == "" {
		return nil, fmt.Errorf("topic must not be empty")
	}
	jobType := params.JobType
	if jobType == "" {
		jobType = domain.JobTypeBook
	}
	if !jobType.Valid() {
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:          uuid.New().String(),
		Topic:       topic,
		Model:       params.Model,
		JobType:     jobType,
		ParentID:    params.ParentID,
		SourcePath:  params.SourcePath,
		Status:      domain.JobStatusQueued,
		Stage:       "queued",
		Progress:    0,
		Maintenance: jobType.Maintenance(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if job.ParentID != nil {
			var count int64
			if err := tx.Model(&domain.Job{}).Where("id = ?", *job.ParentID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return fmt.Errorf("parent job %s does not exist", *job.ParentID)
			}
		}

		var maxPos int
		row := tx.Model(&domain.Job{}).Select("COALESCE(MAX(queue_position), 0)").Row()
		if err := row.Scan(&maxPos); err != nil {
			return err
		}
		job.QueuePosition = maxPos + 1

		return tx.Create(job).Error
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// StatusUpdate is a partial job update; nil fields are left untouched.
type StatusUpdate struct {
	Status     *domain.JobStatus
	Stage      *string
	Progress   *float64
	Error      *string
	OutputPath *string
}

// SetStatus applies a partial update to a job in one statement. updated_at is
// always refreshed; the first transition into running sets started_at and
// repeated running updates leave it untouched.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - upd: fields to apply; nil fields are skipped.
// Returns:
//   - error: non-nil if the update fails or the job does not exist.
func (r *JobRepository) SetStatus(ctx context.Context, id string, upd StatusUpdate) error {
	updates := map[string]interface{}{
		"updated_at": time.Now().UTC(),
	}
	if upd.Status != nil {
		updates["status"] = *upd.Status
		if *upd.Status == domain.JobStatusRunning {
			// first-write-wins: repeated running updates keep the original
			updates["started_at"] = gorm.Expr("COALESCE(started_at, ?)", time.Now().UTC())
		}
	}
	if upd.Stage != nil {
		updates["stage"] = *upd.Stage
	}
	if upd.Progress != nil {
		updates["progress"] = *upd.Progress
	}
	if upd.Error != nil {
		updates["error"] = *upd.Error
	}
	if upd.OutputPath != nil {
		updates["output_path"] = *upd.OutputPath
	}

	res := r.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

// ResetForRequeue returns a job to the queue after a retry or resume: status
// queued, progress zeroed, error and output cleared, in a single statement.
func (r *JobRepository) ResetForRequeue(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":      domain.JobStatusQueued,
		"stage":       "queued",
		"progress":    0.0,
		"error":       nil,
		"output_path": nil,
		"updated_at":  time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

// Get retrieves a job by ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.Job: job record, or nil when no such job exists.
//   - error: non-nil if the lookup fails.
func (r *JobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// List retrieves jobs ordered newest-first. Maintenance jobs are excluded
// unless includeMaintenance is set.
func (r *JobRepository) List(ctx context.Context, limit int, includeMaintenance bool) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Limit(limit).Order("created_at DESC")
	if !includeMaintenance {
		query = query.Where("maintenance = ?", false)
	}
	var jobs []domain.Job
	if err := query.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// All retrieves every job; used for queue-wide aggregates.
func (r *JobRepository) All(ctx context.Context) ([]domain.Job, error) {
	var jobs []domain.Job
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListCompleted retrieves completed top-level jobs, newest-first.
func (r *JobRepository) ListCompleted(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []domain.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND parent_id IS NULL AND maintenance = ?", domain.JobStatusCompleted, false).
		Order("updated_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListChildren retrieves the derived jobs of the given parents, grouped by
// parent ID, in creation order.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - parentIDs: parent job IDs; an empty slice yields an empty map.
// Returns:
//   - map[string][]domain.Job: children keyed by parent ID.
//   - error: non-nil if the query fails.
func (r *JobRepository) ListChildren(ctx context.Context, parentIDs []string) (map[string][]domain.Job, error) {
	grouped := make(map[string][]domain.Job)
	if len(parentIDs) == 0 {
		return grouped, nil
	}
	var jobs []domain.Job
	err := r.db.WithContext(ctx).
		Where("parent_id IN ?", parentIDs).
		Order("created_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		grouped[*job.ParentID] = append(grouped[*job.ParentID], job)
	}
	return grouped, nil
}

// NextQueued returns the highest-priority queued job, or nil when the queue
// is empty. Maintenance jobs sort behind every other queued type regardless
// of position. Pure read: calling it repeatedly has no side effects.
func (r *JobRepository) NextQueued(ctx context.Context) (*domain.Job, error) {
	var job domain.Job
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.JobStatusQueued).
		Order("maintenance ASC, queue_position ASC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// Move swaps the queue position of a queued job with its adjacent queued
// neighbor. No-op when the job is not queued or has no neighbor in that
// direction. The swap happens inside one transaction.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - direction: MoveUp or MoveDown.
// Returns:
//   - error: non-nil if the direction is invalid or the swap fails.
func (r *JobRepository) Move(ctx context.Context, id string, direction MoveDirection) error {
	if !ValidMoveDirection(direction) {
		return fmt.Errorf("invalid move direction %q", direction)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job domain.Job
		if err := tx.First(&job, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if job.Status != domain.JobStatusQueued {
			return nil
		}

		neighborQuery := tx.Where("status = ?", domain.JobStatusQueued)
		if direction == MoveUp {
			neighborQuery = neighborQuery.
				Where("queue_position < ?", job.QueuePosition).
				Order("queue_position DESC")
		} else {
			neighborQuery = neighborQuery.
				Where("queue_position > ?", job.QueuePosition).
				Order("queue_position ASC")
		}

		var neighbor domain.Job
		if err := neighborQuery.First(&neighbor).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		now := time.Now().UTC()
		if err := tx.Model(&domain.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"queue_position": neighbor.QueuePosition,
			"updated_at":     now,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Job{}).Where("id = ?", neighbor.ID).Updates(map[string]interface{}{
			"queue_position": job.QueuePosition,
			"updated_at":     now,
		}).Error
	})
}

// Delete removes a job and its events in one transaction. Callers must
// forbid deleting a running job before calling this.
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&domain.JobEvent{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&domain.Job{}).Error
	})
}

// HasActiveJobType reports whether any job of the given type is queued or
// running.
func (r *JobRepository) HasActiveJobType(ctx context.Context, jobType domain.JobType) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("job_type = ? AND status IN ?", jobType,
			[]domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRunning}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountDistinctTopicsSinceLastRecommend counts distinct non-maintenance
// topics created after the newest recommend_topics job. When no such job
// exists every topic counts.
func (r *JobRepository) CountDistinctTopicsSinceLastRecommend(ctx context.Context) (int, error) {
	var since *time.Time
	var last domain.Job
	err := r.db.WithContext(ctx).
		Where("job_type = ?", domain.JobTypeRecommendTopics).
		Order("created_at DESC").
		First(&last).Error
	if err == nil {
		since = &last.CreatedAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	query := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("maintenance = ? AND parent_id IS NULL", false)
	if since != nil {
		query = query.Where("created_at > ?", *since)
	}
	var count int64
	if err := query.Distinct("topic").Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// TopicSuggestions returns topics of top-level jobs ordered by occurrence
// count, then recency. Display fallback when the model-driven recommendation
// cache is empty.
func (r *JobRepository) TopicSuggestions(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 8
	}
	var topics []string
	err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("maintenance = ? AND parent_id IS NULL", false).
		Group("topic").
		Order("COUNT(*) DESC, MAX(created_at) DESC").
		Limit(limit).
		Pluck("topic", &topics).Error
	if err != nil {
		return nil, err
	}
	return topics, nil
}

// ListRecentSummaries returns compact (topic, status, updated_at) rows for
// recent top-level jobs, feeding the topic recommender prompt.
func (r *JobRepository) ListRecentSummaries(ctx context.Context, limit int) ([]domain.JobSummary, error) {
	if limit <= 0 {
		limit = 25
	}
	var summaries []domain.JobSummary
	err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Select("topic, status, updated_at").
		Where("maintenance = ? AND parent_id IS NULL", false).
		Order("updated_at DESC").
		Limit(limit).
		Scan(&summaries).Error
	if err != nil {
		return nil, err
	}
	return summaries, nil
}
