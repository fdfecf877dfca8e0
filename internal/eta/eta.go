// Package eta computes remaining-time estimates and queue-wide aggregates
// from job timestamps and fractional progress. All functions are pure; the
// caller supplies the clock.
package eta

import (
	"fmt"
	"time"

	"bookfactory/internal/domain"
)

// EstimateRemaining estimates the seconds left until completion, assuming
// progress advances linearly. Returns nil when progress is not positive, the
// reference time is missing (zero) or lies in the future, or the projection
// is negative.
// Parameters:
//   - reference: when the work started; the elapsed-time anchor.
//   - progress: fraction complete in (0, 1].
//   - now: current time.
// Returns:
//   - *int64: whole seconds remaining, or nil when no estimate is possible.
func EstimateRemaining(reference time.Time, progress float64, now time.Time) *int64 {
	if progress <= 0 {
		return nil
	}
	if reference.IsZero() {
		return nil
	}
	elapsed := now.Sub(reference).Seconds()
	if elapsed < 0 {
		return nil
	}
	remaining := elapsed * (1/progress - 1)
	if remaining < 0 {
		return nil
	}
	secs := int64(remaining)
	return &secs
}

// FormatDuration renders seconds as "1h 5m 3s". Hours appear only when
// nonzero, minutes when nonzero or hours are shown, and seconds only when
// includeSeconds is set. Nil passes through.
func FormatDuration(seconds *int64, includeSeconds bool) *string {
	if seconds == nil || *seconds < 0 {
		return nil
	}
	mins := *seconds / 60
	secs := *seconds % 60
	hrs := mins / 60
	mins = mins % 60

	var parts []string
	if hrs > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hrs))
	}
	if mins > 0 || hrs > 0 {
		parts = append(parts, fmt.Sprintf("%dm", mins))
	}
	if includeSeconds {
		parts = append(parts, fmt.Sprintf("%ds", secs))
	}
	text := ""
	for i, p := range parts {
		if i > 0 {
			text += " "
		}
		text += p
	}
	return &text
}

// QueueStats aggregates the state of the whole queue.
type QueueStats struct {
	Total           int     `json:"total"`
	Completed       int     `json:"completed"`
	Running         int     `json:"running"`
	Queued          int     `json:"queued"`
	Failed          int     `json:"failed"`
	Stopped         int     `json:"stopped"`
	Cancelled       int     `json:"cancelled"`
	PercentComplete float64 `json:"percent_complete"`
	TotalETASeconds *int64  `json:"total_eta_seconds"`
	TotalETAText    *string `json:"total_eta_text"`
}

// AggregateQueueStats derives queue-wide statistics from a job snapshot.
//
// percent_complete averages per-job completion fractions: terminal and
// stopped jobs contribute 1.0, running and queued jobs their clamped
// progress. The total ETA combines the first running job's estimate (falling
// back to the mean completed-job duration when the running job has no
// signal) with mean duration times the queued count.
// Parameters:
//   - jobs: snapshot of all jobs.
//   - now: current time.
// Returns:
//   - QueueStats: computed aggregate.
func AggregateQueueStats(jobs []domain.Job, now time.Time) QueueStats {
	stats := QueueStats{Total: len(jobs)}

	var completionSum float64
	var completedDurSum float64
	var completedDurCount int
	var runningETA *int64

	for i := range jobs {
		job := &jobs[i]
		switch job.Status {
		case domain.JobStatusCompleted:
			stats.Completed++
			completionSum += 1
			// negative durations are clock skew, excluded from the average
			dur := job.UpdatedAt.Sub(job.CreatedAt).Seconds()
			if dur > 0 {
				completedDurSum += dur
				completedDurCount++
			}
		case domain.JobStatusFailed:
			stats.Failed++
			completionSum += 1
		case domain.JobStatusStopped:
			stats.Stopped++
			completionSum += 1
		case domain.JobStatusCancelled:
			stats.Cancelled++
			completionSum += 1
		case domain.JobStatusRunning:
			stats.Running++
			completionSum += clamp01(job.Progress)
			if runningETA == nil {
				anchor := job.CreatedAt
				if job.StartedAt != nil {
					anchor = *job.StartedAt
				}
				runningETA = EstimateRemaining(anchor, job.Progress, now)
			}
		case domain.JobStatusQueued:
			stats.Queued++
			completionSum += clamp01(job.Progress)
		}
	}

	if stats.Total > 0 {
		stats.PercentComplete = completionSum / float64(stats.Total)
	}

	var avgCompleted *float64
	if completedDurCount > 0 {
		avg := completedDurSum / float64(completedDurCount)
		avgCompleted = &avg
	}

	if runningETA == nil && stats.Running > 0 && avgCompleted != nil {
		fallback := int64(*avgCompleted)
		runningETA = &fallback
	}

	if runningETA != nil || avgCompleted != nil {
		var total int64
		if runningETA != nil {
			total += *runningETA
		}
		if avgCompleted != nil {
			total += int64(*avgCompleted * float64(stats.Queued))
		}
		stats.TotalETASeconds = &total
		stats.TotalETAText = FormatDuration(&total, true)
	}

	return stats
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
