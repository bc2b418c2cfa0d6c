package worker

import (
	"context"
	"time"

	"sis-grade-sync/internal/logger"
	"sis-grade-sync/internal/model"
	"sis-grade-sync/internal/queue"

	"github.com/rs/zerolog"
)

type JobRunner interface {
	Run(ctx context.Context, job model.RunJob) (*model.RunSummary, error)
}

type JobSource interface {
	Consume(ctx context.Context, handler queue.JobHandler) error
}

// Locker guards against two batch runs at once, across processes.
type Locker interface {
	Acquire(ctx context.Context) (func(context.Context) error, bool, error)
}

// RunWorker takes jobs off the run queue and executes them one at a time.
type RunWorker struct {
	source JobSource
	runner JobRunner
	lock   Locker
	retry  time.Duration
	log    zerolog.Logger
}

// NewRunWorker builds a worker; lock may be nil for a single-process setup.
func NewRunWorker(source JobSource, runner JobRunner, lock Locker) *RunWorker {
	return &RunWorker{
		source: source,
		runner: runner,
		lock:   lock,
		retry:  5 * time.Second,
		log:    logger.Component("run-worker"),
	}
}

func (w *RunWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("Starting run worker")
	return w.source.Consume(ctx, w.Handle)
}

// Handle runs one job, waiting for the run lock first when one is configured.
func (w *RunWorker) Handle(ctx context.Context, job model.RunJob) error {
	log := w.log.With().Str("job_id", job.ID).Str("job", job.Title()).Logger()

	if w.lock != nil {
		release, err := w.waitForLock(ctx, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Failed to release run lock")
			}
		}()
	}

	_, err := w.runner.Run(ctx, job)
	return err
}

func (w *RunWorker) waitForLock(ctx context.Context, log zerolog.Logger) (func(context.Context) error, error) {
	for {
		release, ok, err := w.lock.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}

		log.Info().Dur("retry_in", w.retry).Msg("Another run is in progress, waiting")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.retry):
		}
	}
}
