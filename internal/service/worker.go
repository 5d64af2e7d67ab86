package service

import (
	"context"
	"errors"
	"time"

	"github.com/bnema/arpipe/internal/domain"
	"github.com/bnema/arpipe/internal/port"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// claimErrorDelay is the pause after the queue itself fails.
const claimErrorDelay = 2 * time.Second

// JobProcessor runs one attempt of a queued marker job.
type JobProcessor interface {
	Process(ctx context.Context, jobID string) (Outcome, error)
}

type WorkerPool struct {
	queue        port.TaskQueue
	processor    JobProcessor
	clock        port.Clock
	workers      int
	pollInterval time.Duration
	log          zerolog.Logger
}

func NewWorkerPool(
	queue port.TaskQueue,
	processor JobProcessor,
	clock port.Clock,
	workers int,
	pollInterval time.Duration,
	log zerolog.Logger,
) *WorkerPool {
	if clock == nil {
		clock = SystemClock()
	}
	if workers <= 0 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &WorkerPool{
		queue:        queue,
		processor:    processor,
		clock:        clock,
		workers:      workers,
		pollInterval: pollInterval,
		log:          log.With().Str("component", "worker").Logger(),
	}
}

// Run recovers tasks left behind by a previous process, then polls the
// queue with the configured number of workers until ctx is done.
func (wp *WorkerPool) Run(ctx context.Context) error {
	if err := wp.queue.ResetStalled(ctx); err != nil {
		wp.log.Error().Err(err).Msg("failed to reset stalled tasks")
	}
	if n, err := wp.queue.RequeueOrphans(ctx, wp.clock.Now()); err != nil {
		wp.log.Error().Err(err).Msg("failed to requeue orphaned jobs")
	} else if n > 0 {
		wp.log.Info().Int("count", n).Msg("requeued orphaned jobs")
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := range wp.workers {
		g.Go(func() error {
			wp.runWorker(ctx, i)
			return nil
		})
	}
	wp.log.Info().Int("workers", wp.workers).Msg("started workers")

	err := g.Wait()
	wp.log.Info().Msg("workers stopped")
	return err
}

func (wp *WorkerPool) runWorker(ctx context.Context, id int) {
	log := wp.log.With().Int("worker", id).Logger()
	for {
		if ctx.Err() != nil {
			log.Debug().Msg("worker shutting down")
			return
		}

		task, err := wp.queue.Claim(ctx, wp.clock.Now())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to claim task")
			_ = wp.clock.Sleep(ctx, claimErrorDelay)
			continue
		}

		if task == nil {
			// No due tasks, wait before polling again
			_ = wp.clock.Sleep(ctx, wp.pollInterval)
			continue
		}

		wp.processTask(ctx, log, task)
	}
}

func (wp *WorkerPool) processTask(ctx context.Context, log zerolog.Logger, task *domain.MarkerTask) {
	log = log.With().Int64("task_id", task.ID).Str("job_id", task.JobID).Logger()
	log.Debug().Msg("processing task")

	out, err := wp.processor.Process(ctx, task.JobID)
	if err != nil {
		if ctx.Err() != nil {
			// Left running; ResetStalled picks it up on the next start.
			log.Info().Msg("task interrupted by shutdown")
			return
		}
		log.Error().Err(err).Msg("task failed")
		if ferr := wp.queue.Fail(ctx, task.ID, err.Error()); ferr != nil {
			log.Error().Err(ferr).Msg("failed to mark task failed")
		}
		return
	}

	if out.Retry() {
		if err := wp.queue.Reschedule(ctx, task.ID, out.RetryAt, out.Reason); err != nil {
			log.Error().Err(err).Msg("failed to reschedule task")
			return
		}
		log.Info().Time("run_at", out.RetryAt).Str("reason", out.Reason).Msg("task rescheduled")
		return
	}

	if err := wp.queue.Complete(ctx, task.ID); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("failed to complete task")
		return
	}
	if out.Job != nil {
		log.Info().Str("content_id", out.Job.ContentID).Str("status", string(out.Job.Status)).Msg("task completed")
	}
}
