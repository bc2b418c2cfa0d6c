// Package jobs dispatches queued or scheduled runs to the batch workflows and
// reports each outcome.
package jobs

import (
	"context"
	"fmt"
	"time"

	"sis-grade-sync/internal/extract"
	"sis-grade-sync/internal/logger"
	"sis-grade-sync/internal/model"
	"sis-grade-sync/internal/report"
	"sis-grade-sync/pkg/errors"

	"github.com/rs/zerolog"
)

type Stager interface {
	Stage(ctx context.Context, pipeline model.Pipeline, source string) (*extract.StageResult, error)
}

type Poster interface {
	Run(ctx context.Context, pipeline model.Pipeline) (*model.RunSummary, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context) (*model.RunSummary, error)
	Undo(ctx context.Context) (*model.RunSummary, error)
}

type EnrollmentSyncer interface {
	Sync(ctx context.Context) (*model.RunSummary, error)
}

type Publisher interface {
	Publish(ctx context.Context, run *model.RunSummary) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

type Runner struct {
	stager     Stager
	poster     Poster
	visibility Reconciler
	enrollment EnrollmentSyncer
	publisher  Publisher
	notifier   Notifier
	log        zerolog.Logger
}

type Deps struct {
	Stager     Stager
	Poster     Poster
	Visibility Reconciler
	Enrollment EnrollmentSyncer
	Publisher  Publisher
	Notifier   Notifier
}

func NewRunner(d Deps) *Runner {
	return &Runner{
		stager:     d.Stager,
		poster:     d.Poster,
		visibility: d.Visibility,
		enrollment: d.Enrollment,
		publisher:  d.Publisher,
		notifier:   d.Notifier,
		log:        logger.Component("jobs"),
	}
}

// Run executes job, then publishes the ledger report and e-mails the summary.
// Reporting problems are logged and never fail the job.
func (r *Runner) Run(ctx context.Context, job model.RunJob) (*model.RunSummary, error) {
	log := r.log.With().Str("job_id", job.ID).Str("job", job.Title()).Logger()

	if job.Kind.NeedsPipeline() && job.Pipeline == "" {
		return nil, fmt.Errorf("%s needs a pipeline", job.Kind)
	}

	log.Info().Msg("Run started")
	summary, err := r.dispatch(ctx, job)
	if summary == nil {
		summary = &model.RunSummary{Kind: job.Kind, Pipeline: job.Pipeline, StartedAt: time.Now().UTC(), FinishedAt: time.Now().UTC()}
	}
	summary.JobID = job.ID
	if err != nil {
		summary.Errors++
		summary.AddFailure(job.Title(), err.Error())
		log.Error().Err(err).Msg("Run failed")
	} else {
		log.Info().Dur("duration", summary.Duration()).Msg("Run finished")
	}

	r.report(ctx, summary, log)
	return summary, err
}

func (r *Runner) dispatch(ctx context.Context, job model.RunJob) (*model.RunSummary, error) {
	switch job.Kind {
	case model.JobStageGrades:
		return r.stage(ctx, job)
	case model.JobPostGrades:
		return r.poster.Run(ctx, job.Pipeline)
	case model.JobReconcileVisibility:
		return r.visibility.Reconcile(ctx)
	case model.JobUndoVisibility:
		return r.visibility.Undo(ctx)
	case model.JobSyncEnrollments:
		return r.enrollment.Sync(ctx)
	}
	return nil, fmt.Errorf("%s: %w", job.Kind, errors.ErrUnknownJobKind)
}

func (r *Runner) stage(ctx context.Context, job model.RunJob) (*model.RunSummary, error) {
	summary := &model.RunSummary{Kind: job.Kind, Pipeline: job.Pipeline, StartedAt: time.Now().UTC()}
	defer func() { summary.FinishedAt = time.Now().UTC() }()

	result, err := r.stager.Stage(ctx, job.Pipeline, job.Source)
	if err != nil {
		return summary, err
	}
	summary.Processed = result.Extracted
	summary.Staged = result.Staged
	summary.Errors = result.Invalid
	for _, p := range result.Problems {
		summary.AddFailure("invalid row", p.Error())
	}
	return summary, nil
}

func (r *Runner) report(ctx context.Context, summary *model.RunSummary, log zerolog.Logger) {
	body := report.FormatSummary(summary)

	if r.publisher != nil {
		key, err := r.publisher.Publish(ctx, summary)
		if err != nil {
			log.Error().Err(err).Msg("Failed to publish report")
		} else if key != "" {
			body += "\nLedger report: " + key + "\n"
		}
	}

	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, report.Subject(summary), body); err != nil {
			log.Error().Err(err).Msg("Failed to send summary e-mail")
		}
	}
}
