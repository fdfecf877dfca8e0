package repository

import (
	"context"
	"time"

	"bookfactory/internal/domain"
	"gorm.io/gorm"
)

// EventRepository handles the append-only job event log.
type EventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new EventRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *EventRepository: repository instance bound to db.
func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append inserts one event for a job. A write failure propagates to the
// caller like any other store failure; events are not best-effort.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job ID.
//   - level: event level (info or error).
//   - message: human-readable event text.
// Returns:
//   - error: non-nil if the insert fails.
func (r *EventRepository) Append(ctx context.Context, jobID string, level domain.EventLevel, message string) error {
	event := &domain.JobEvent{
		JobID:     jobID,
		Level:     level,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// List retrieves the most recent events of a job in chronological ascending
// order for display.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job ID.
//   - limit: maximum number of events; defaults to 200.
// Returns:
//   - []domain.JobEvent: events oldest-first.
//   - error: non-nil if the query fails.
func (r *EventRepository) List(ctx context.Context, jobID string, limit int) ([]domain.JobEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	var events []domain.JobEvent
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	// newest limit rows, returned chronological for display
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}
