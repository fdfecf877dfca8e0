package service

import (
	"context"
	"time"

	"bookfactory/internal/domain"
	"bookfactory/internal/logger"
	"bookfactory/internal/repository"
)

// Runner is the single-consumer scheduler: it drains the queue one job at a
// time and blocks with a bounded wait when nothing is eligible, waking on an
// explicit enqueue signal or after the poll interval.
type Runner struct {
	jobs     *repository.JobRepository
	executor *StageExecutor
	poll     time.Duration

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewRunner creates a runner over the given executor.
// Parameters:
//   - jobs: job repository used for queue selection.
//   - executor: stage executor that runs each claimed job.
//   - poll: bounded wait between queue checks; defaults to one second.
// Returns:
//   - *Runner: runner, not yet started.
func NewRunner(jobs *repository.JobRepository, executor *StageExecutor, poll time.Duration) *Runner {
	if poll <= 0 {
		poll = time.Second
	}
	return &Runner{
		jobs:     jobs,
		executor: executor,
		poll:     poll,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the scheduler loop in its own goroutine.
func (r *Runner) Start(ctx context.Context) {
	ctx = logger.SetComponent(ctx, "runner")
	go r.loop(ctx)
}

// Stop signals the loop to exit and waits for the in-flight job, if any, to
// finish.
func (r *Runner) Stop() {
	close(r.stop)
	<-r.done
}

// Enqueue wakes the runner after new work is queued. Non-blocking: a pending
// wake-up signal is enough.
func (r *Runner) Enqueue() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	logger.CtxInfo(ctx, "runner started")

	for {
		r.drain(ctx)

		select {
		case <-ctx.Done():
			logger.CtxInfo(ctx, "runner context cancelled")
			return
		case <-r.stop:
			logger.CtxInfo(ctx, "runner stopped")
			return
		case <-r.wake:
		case <-time.After(r.poll):
		}
	}
}

// drain executes queued jobs until the queue is empty or shutdown is
// requested. Any single job failure is contained; the loop keeps servicing
// the queue.
func (r *Runner) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		default:
		}

		job, err := r.jobs.NextQueued(ctx)
		if err != nil {
			logger.CtxError(ctx, "queue selection failed: %v", err)
			return
		}
		if job == nil {
			return
		}

		// re-read before starting: skip without side effects when the job
		// was cancelled or stopped after selection
		current, err := r.jobs.Get(ctx, job.ID)
		if err != nil {
			logger.CtxError(ctx, "queue re-check failed: %v", err)
			return
		}
		if current == nil || current.Status != domain.JobStatusQueued {
			continue
		}

		if err := r.executor.Execute(ctx, current); err != nil {
			logger.CtxError(ctx, "job %s execution aborted on store failure: %v", current.ID, err)
		}
	}
}
