package eta

import (
	"math"
	"testing"
	"time"

	"bookfactory/internal/domain"
)

func TestEstimateRemaining(t *testing.T) {
	now := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name      string
		reference time.Time
		progress  float64
		want      *int64
	}{
		{
			name:      "half done after 600s",
			reference: now.Add(-600 * time.Second),
			progress:  0.5,
			want:      ptr(int64(600)),
		},
		{
			name:      "quarter done after 300s",
			reference: now.Add(-300 * time.Second),
			progress:  0.25,
			want:      ptr(int64(900)),
		},
		{
			name:      "zero progress",
			reference: now.Add(-time.Hour),
			progress:  0,
			want:      nil,
		},
		{
			name:      "negative progress",
			reference: now.Add(-time.Hour),
			progress:  -0.1,
			want:      nil,
		},
		{
			name:      "zero reference time",
			reference: time.Time{},
			progress:  0.5,
			want:      nil,
		},
		{
			name:      "reference in the future",
			reference: now.Add(time.Minute),
			progress:  0.5,
			want:      nil,
		},
		{
			name:      "complete",
			reference: now.Add(-600 * time.Second),
			progress:  1.0,
			want:      ptr(int64(0)),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := EstimateRemaining(tc.reference, tc.progress, now)
			if (got == nil) != (tc.want == nil) {
				t.Fatalf("EstimateRemaining() = %v, want %v", fmtPtr(got), fmtPtr(tc.want))
			}
			if got != nil && *got != *tc.want {
				t.Errorf("EstimateRemaining() = %d, want %d", *got, *tc.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	testCases := []struct {
		name           string
		seconds        *int64
		includeSeconds bool
		want           string
		wantNil        bool
	}{
		{name: "nil passthrough", seconds: nil, wantNil: true},
		{name: "negative", seconds: ptr(int64(-1)), wantNil: true},
		{name: "seconds only", seconds: ptr(int64(42)), includeSeconds: true, want: "42s"},
		{name: "seconds suppressed", seconds: ptr(int64(42)), includeSeconds: false, want: ""},
		{name: "minutes and seconds", seconds: ptr(int64(3000)), includeSeconds: true, want: "50m 0s"},
		{name: "minutes without seconds", seconds: ptr(int64(3000)), includeSeconds: false, want: "50m"},
		{name: "hours keep zero minutes", seconds: ptr(int64(3605)), includeSeconds: true, want: "1h 0m 5s"},
		{name: "full decomposition", seconds: ptr(int64(3*3600 + 25*60 + 9)), includeSeconds: true, want: "3h 25m 9s"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := FormatDuration(tc.seconds, tc.includeSeconds)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("FormatDuration() = %q, want nil", *got)
				}
				return
			}
			if got == nil {
				t.Fatalf("FormatDuration() = nil, want %q", tc.want)
			}
			if *got != tc.want {
				t.Errorf("FormatDuration() = %q, want %q", *got, tc.want)
			}
		})
	}
}

func TestAggregateQueueStatsMixedStates(t *testing.T) {
	now := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)

	jobs := []domain.Job{
		job(domain.JobStatusCompleted, 1.0, now, now),
		job(domain.JobStatusRunning, 0.5, now, now),
		job(domain.JobStatusQueued, 0.0, now, now),
		job(domain.JobStatusFailed, 1.0, now, now),
	}

	stats := AggregateQueueStats(jobs, now)

	if stats.Total != 4 || stats.Completed != 1 || stats.Running != 1 || stats.Queued != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if math.Abs(stats.PercentComplete-0.625) > 1e-9 {
		t.Errorf("PercentComplete = %f, want 0.625", stats.PercentComplete)
	}
}

func TestAggregateQueueStatsTotalETA(t *testing.T) {
	now := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)

	// completed in 20 minutes, running at 0.5 for 10 minutes, 2 queued
	completed := job(domain.JobStatusCompleted, 1.0, now.Add(-40*time.Minute), now.Add(-20*time.Minute))
	running := job(domain.JobStatusRunning, 0.5, now.Add(-10*time.Minute), now)
	queued1 := job(domain.JobStatusQueued, 0.0, now, now)
	queued2 := job(domain.JobStatusQueued, 0.0, now, now)

	stats := AggregateQueueStats([]domain.Job{completed, running, queued1, queued2}, now)

	if stats.TotalETASeconds == nil {
		t.Fatal("TotalETASeconds is nil")
	}
	// running_eta 600s + avg completed 1200s * 2 queued
	if *stats.TotalETASeconds != 3000 {
		t.Errorf("TotalETASeconds = %d, want 3000", *stats.TotalETASeconds)
	}
	if stats.TotalETAText == nil || *stats.TotalETAText != "50m 0s" {
		t.Errorf("TotalETAText = %v, want %q", fmtText(stats.TotalETAText), "50m 0s")
	}
}

func TestAggregateQueueStatsPrefersStartedAt(t *testing.T) {
	now := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)

	running := job(domain.JobStatusRunning, 0.5, now.Add(-time.Hour), now)
	started := now.Add(-10 * time.Minute)
	running.StartedAt = &started

	stats := AggregateQueueStats([]domain.Job{running}, now)

	if stats.TotalETASeconds == nil {
		t.Fatal("TotalETASeconds is nil")
	}
	if *stats.TotalETASeconds != 600 {
		t.Errorf("TotalETASeconds = %d, want 600 (anchored on started_at)", *stats.TotalETASeconds)
	}
}

func TestAggregateQueueStatsNoSignal(t *testing.T) {
	now := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)

	stats := AggregateQueueStats([]domain.Job{
		job(domain.JobStatusQueued, 0.0, now, now),
		job(domain.JobStatusQueued, 0.0, now, now),
	}, now)

	if stats.TotalETASeconds != nil {
		t.Errorf("TotalETASeconds = %d, want nil with no completed or running jobs", *stats.TotalETASeconds)
	}
	if stats.TotalETAText != nil {
		t.Errorf("TotalETAText = %q, want nil", *stats.TotalETAText)
	}
}

func TestAggregateQueueStatsSkewedCompletedExcluded(t *testing.T) {
	now := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)

	// updated_at before created_at: clock skew, excluded from the average
	skewed := job(domain.JobStatusCompleted, 1.0, now, now.Add(-time.Minute))
	clean := job(domain.JobStatusCompleted, 1.0, now.Add(-20*time.Minute), now.Add(-10*time.Minute))
	queued := job(domain.JobStatusQueued, 0.0, now, now)

	stats := AggregateQueueStats([]domain.Job{skewed, clean, queued}, now)

	if stats.TotalETASeconds == nil {
		t.Fatal("TotalETASeconds is nil")
	}
	if *stats.TotalETASeconds != 600 {
		t.Errorf("TotalETASeconds = %d, want 600 (one queued * 600s average)", *stats.TotalETASeconds)
	}
}

func job(status domain.JobStatus, progress float64, created, updated time.Time) domain.Job {
	return domain.Job{
		ID:        "job-" + string(status),
		Topic:     "Topic",
		JobType:   domain.JobTypeBook,
		Status:    status,
		Progress:  progress,
		CreatedAt: created,
		UpdatedAt: updated,
	}
}

func ptr[T any](v T) *T {
	return &v
}

func fmtPtr(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func fmtText(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
