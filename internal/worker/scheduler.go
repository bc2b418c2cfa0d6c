package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sis-grade-sync/internal/config"
	"sis-grade-sync/internal/logger"
	"sis-grade-sync/internal/model"

	"github.com/rs/zerolog"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, job model.RunJob) error
}

// ScheduledJob is a nightly job before it gets an id.
type ScheduledJob struct {
	Kind     model.JobKind
	Pipeline model.Pipeline
}

// ParseScheduledJob reads "kind" or "kind:pipeline", e.g. "post_grades:odl".
func ParseScheduledJob(s string) (ScheduledJob, error) {
	kindPart, pipelinePart, _ := strings.Cut(strings.TrimSpace(s), ":")
	kind, err := model.ParseJobKind(kindPart)
	if err != nil {
		return ScheduledJob{}, err
	}
	entry := ScheduledJob{Kind: kind}
	if kind.NeedsPipeline() {
		if entry.Pipeline, err = model.ParsePipeline(pipelinePart); err != nil {
			return ScheduledJob{}, fmt.Errorf("%s: %w", s, err)
		}
	}
	return entry, nil
}

// NightlyJobs returns the configured job list, or the default nightly order:
// enrollments, then stage and post per pipeline, then visibility.
func NightlyJobs(cfg *config.Config) ([]ScheduledJob, error) {
	if len(cfg.Workers.Scheduler.Jobs) > 0 {
		scheduled := make([]ScheduledJob, 0, len(cfg.Workers.Scheduler.Jobs))
		for _, s := range cfg.Workers.Scheduler.Jobs {
			entry, err := ParseScheduledJob(s)
			if err != nil {
				return nil, err
			}
			scheduled = append(scheduled, entry)
		}
		return scheduled, nil
	}

	scheduled := []ScheduledJob{{Kind: model.JobSyncEnrollments}}
	for _, p := range cfg.Posting.Pipelines {
		pipeline, err := model.ParsePipeline(p)
		if err != nil {
			return nil, err
		}
		scheduled = append(scheduled,
			ScheduledJob{Kind: model.JobStageGrades, Pipeline: pipeline},
			ScheduledJob{Kind: model.JobPostGrades, Pipeline: pipeline},
		)
	}
	return append(scheduled, ScheduledJob{Kind: model.JobReconcileVisibility}), nil
}

// Scheduler enqueues the nightly jobs once a day at a fixed local time.
type Scheduler struct {
	queue      Enqueuer
	jobs       []ScheduledJob
	hour       int
	minute     int
	loc        *time.Location
	runOnStart bool
	now        func() time.Time
	log        zerolog.Logger
}

func NewScheduler(queue Enqueuer, jobs []ScheduledJob, cfg config.SchedulerConfig, loc *time.Location) (*Scheduler, error) {
	at, err := time.Parse("15:04", cfg.RunAt)
	if err != nil {
		return nil, fmt.Errorf("invalid run_at %q: %w", cfg.RunAt, err)
	}
	return &Scheduler{
		queue:      queue,
		jobs:       jobs,
		hour:       at.Hour(),
		minute:     at.Minute(),
		loc:        loc,
		runOnStart: cfg.RunOnStart,
		now:        time.Now,
		log:        logger.Component("scheduler"),
	}, nil
}

// NextRun is the first scheduled time strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.hour, s.minute, 0, 0, s.loc)
	}
	return next
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.runOnStart {
		s.EnqueueAll(ctx)
	}
	for {
		next := s.NextRun(s.now())
		s.log.Info().Time("next_run", next).Int("jobs", len(s.jobs)).Msg("Waiting for next run")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.EnqueueAll(ctx)
		}
	}
}

// EnqueueAll queues one job per entry, in order. It returns the queued jobs.
func (s *Scheduler) EnqueueAll(ctx context.Context) []model.RunJob {
	queued := make([]model.RunJob, 0, len(s.jobs))
	for _, entry := range s.jobs {
		job := model.NewRunJob(entry.Kind, entry.Pipeline)
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.log.Error().Err(err).Str("job", job.Title()).Msg("Failed to enqueue job")
			continue
		}
		queued = append(queued, job)
		s.log.Info().Str("job_id", job.ID).Str("job", job.Title()).Msg("Job enqueued")
	}
	return queued
}
