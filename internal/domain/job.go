package domain

import "time"

// JobStatus represents the lifecycle state of a job.
// Values include JobStatusQueued, JobStatusRunning, JobStatusCompleted,
// JobStatusFailed, JobStatusStopped, and JobStatusCancelled.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusStopped   JobStatus = "stopped"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
// Stopped is a pause, not a terminal state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobType identifies the pipeline stage that executes a job.
// The set is closed: the stage dispatcher switches exhaustively over it.
type JobType string

const (
	JobTypeBook            JobType = "book"
	JobTypeText            JobType = "text"
	JobTypePDF             JobType = "pdf"
	JobTypeAudiobook       JobType = "audiobook"
	JobTypeM4B             JobType = "m4b"
	JobTypeRecommendTopics JobType = "recommend_topics"
)

// AllJobTypes lists every valid job type, used for input validation.
var AllJobTypes = []JobType{
	JobTypeBook,
	JobTypeText,
	JobTypePDF,
	JobTypeAudiobook,
	JobTypeM4B,
	JobTypeRecommendTopics,
}

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	for _, known := range AllJobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Maintenance reports whether jobs of this type are background maintenance
// work. Maintenance jobs are hidden from user-facing listings and scheduled
// behind all other queued work.
func (t JobType) Maintenance() bool {
	return t == JobTypeRecommendTopics
}

// Job represents one unit of pipeline work: a book generation or one of its
// derived conversions. A job with a ParentID consumes the parent's output.
type Job struct {
	ID         string  `gorm:"type:text;primaryKey" json:"id"`
	Topic      string  `gorm:"type:text;not null" json:"topic"`
	Model      string  `gorm:"type:text" json:"model"`
	JobType    JobType `gorm:"type:text;not null;index:idx_jobs_type" json:"job_type"`
	ParentID   *string `gorm:"type:text;index:idx_jobs_parent" json:"parent_id,omitempty"`
	SourcePath *string `gorm:"type:text" json:"source_path,omitempty"`

	Status   JobStatus `gorm:"type:text;index:idx_jobs_status;default:queued" json:"status"`
	Stage    string    `gorm:"type:text" json:"stage"`
	Progress float64   `gorm:"default:0" json:"progress"`

	// QueuePosition orders queued jobs; assigned max+1 at creation and only
	// mutated by explicit reordering.
	QueuePosition int `gorm:"index:idx_jobs_position" json:"queue_position"`

	// Maintenance mirrors JobType.Maintenance at creation time so listings
	// and scheduling filter on an attribute instead of the type string.
	Maintenance bool `gorm:"index:idx_jobs_maintenance" json:"maintenance"`

	Error      *string `gorm:"type:text" json:"error,omitempty"`
	OutputPath *string `gorm:"type:text" json:"output_path,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// Active reports whether the job is queued or running.
func (j *Job) Active() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusRunning
}

// JobSummary is the compact view of a job fed to the topic recommender.
type JobSummary struct {
	Topic     string    `json:"topic"`
	Status    JobStatus `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}
