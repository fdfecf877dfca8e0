package domain

import "time"

// EventLevel classifies a job event entry.
type EventLevel string

const (
	EventLevelInfo  EventLevel = "info"
	EventLevelError EventLevel = "error"
)

// JobEvent is an append-only audit entry for a job. Events are never updated;
// they are deleted only when the owning job is deleted.
type JobEvent struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID     string     `gorm:"type:text;not null;index:idx_job_events_job" json:"job_id"`
	Level     EventLevel `gorm:"type:text;not null" json:"level"`
	Message   string     `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time  `json:"created_at"`
}

// TableName returns the database table name for JobEvent.
func (JobEvent) TableName() string {
	return "job_events"
}
