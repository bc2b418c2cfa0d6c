package posting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sis-grade-sync/internal/config"
	"sis-grade-sync/internal/logger"
	"sis-grade-sync/internal/model"
	"sis-grade-sync/internal/sis"
	"sis-grade-sync/pkg/errors"

	"github.com/rs/zerolog"
)

// Ledger is the part of the grade ledger the posting run reads and writes.
type Ledger interface {
	ListUnposted(ctx context.Context, pipeline model.Pipeline) ([]model.GradeRecord, error)
	SetRemoteSectionID(ctx context.Context, key model.SectionKey, sectionID string) (int64, error)
	UpdatePostStatus(ctx context.Context, id int64, status model.PostStatus, reason string) error
}

// SISClient is the subset of sis.Client used to post grades.
type SISClient interface {
	sis.Authenticator
	ResolveSection(ctx context.Context, token, courseNumber, sectionNumber string) (string, error)
	PostFinalGrade(ctx context.Context, token, studentNumber, sectionID, grade string, completed time.Time) (sis.PostResult, error)
	DropStudent(ctx context.Context, token string, drop sis.DropRequest) error
}

// Service walks the unposted ledger rows of a pipeline and pushes them to the SIS.
type Service struct {
	ledger     Ledger
	client     SISClient
	sisCfg     config.SISConfig
	dropGrades map[string]bool
	log        zerolog.Logger
}

func NewService(ledger Ledger, client SISClient, sisCfg config.SISConfig, postingCfg config.PostingConfig) *Service {
	drops := make(map[string]bool, len(postingCfg.DropGrades))
	for _, g := range postingCfg.DropGrades {
		drops[strings.ToLower(strings.TrimSpace(g))] = true
	}
	return &Service{
		ledger:     ledger,
		client:     client,
		sisCfg:     sisCfg,
		dropGrades: drops,
		log:        logger.Component("posting"),
	}
}

// run is the state of a single posting pass.
type run struct {
	session  *sis.Session
	pipeline model.Pipeline
	// sections caches lookups by course and section. An empty id records a miss.
	sections map[model.SectionKey]string
	summary  *model.RunSummary
	log      zerolog.Logger
}

// Run processes every row of pipeline that is not yet posted. Per-record
// failures are logged and counted; only login failures, token refresh failures
// and ledger read errors end the run early.
func (s *Service) Run(ctx context.Context, pipeline model.Pipeline) (*model.RunSummary, error) {
	summary := &model.RunSummary{
		Kind:      model.JobPostGrades,
		Pipeline:  pipeline,
		StartedAt: time.Now().UTC(),
	}
	defer func() { summary.FinishedAt = time.Now().UTC() }()

	log := s.log.With().Str("pipeline", string(pipeline)).Logger()

	records, err := s.ledger.ListUnposted(ctx, pipeline)
	if err != nil {
		return summary, fmt.Errorf("list unposted grades: %w", err)
	}
	if len(records) == 0 {
		log.Info().Msg("No grades to post")
		return summary, nil
	}

	r := &run{
		session:  sis.NewSession(s.client, s.sisCfg.Username, s.sisCfg.Password, s.sisCfg.TokenRefreshEvery),
		pipeline: pipeline,
		sections: make(map[model.SectionKey]string),
		summary:  summary,
		log:      log,
	}
	if _, err := r.session.Token(ctx); err != nil {
		return summary, fmt.Errorf("SIS login: %w", err)
	}

	log.Info().Int("records", len(records)).Msg("Posting grades")

	for i := range records {
		if err := ctx.Err(); err != nil {
			summary.TokenRefreshes = r.session.Refreshes()
			return summary, err
		}

		summary.Processed++
		s.process(ctx, r, &records[i])

		if err := r.session.Tick(ctx); err != nil {
			summary.TokenRefreshes = r.session.Refreshes()
			return summary, err
		}
	}
	summary.TokenRefreshes = r.session.Refreshes()

	log.Info().
		Int("processed", summary.Processed).
		Int("posted", summary.Posted).
		Int("reposted", summary.Reposted).
		Int("dropped", summary.Dropped).
		Int("failed", summary.Failed).
		Int("section_missing", summary.SectionMissing).
		Int("errors", summary.Errors).
		Int("token_refreshes", summary.TokenRefreshes).
		Msg("Posting finished")
	return summary, nil
}

func (s *Service) process(ctx context.Context, r *run, rec *model.GradeRecord) {
	log := r.log.With().
		Int64("id", rec.ID).
		Str("student_number", rec.StudentNumber).
		Str("section", rec.SectionKey().String()).
		Logger()

	if r.pipeline == model.PipelineHybrid && s.dropGrades[strings.ToLower(rec.GradeValue)] {
		s.drop(ctx, r, rec, log)
		return
	}

	sectionID, ok := s.resolve(ctx, r, rec, log)
	if !ok {
		return
	}
	s.post(ctx, r, rec, sectionID, log)
}

// resolve returns the remote section id for rec, asking the SIS at most once
// per course and section in a run.
func (s *Service) resolve(ctx context.Context, r *run, rec *model.GradeRecord, log zerolog.Logger) (string, bool) {
	if rec.RemoteSectionID != nil && *rec.RemoteSectionID != "" {
		return *rec.RemoteSectionID, true
	}

	key := rec.SectionKey()
	if id, cached := r.sections[key]; cached {
		if id == "" {
			r.summary.SectionMissing++
			return "", false
		}
		return id, true
	}

	var id string
	err := r.session.Do(ctx, func(token string) error {
		var err error
		id, err = s.client.ResolveSection(ctx, token, key.CourseNumber, key.SectionNumber)
		return err
	})
	switch {
	case errors.Is(err, errors.ErrSectionNotFound):
		r.sections[key] = ""
		r.summary.SectionMissing++
		r.summary.AddFailure(key.String(), "course section not found in SIS")
		log.Warn().Msg("Course section not found, leaving grade pending")
		return "", false
	case err != nil:
		r.summary.Errors++
		r.summary.AddFailure(key.String(), err.Error())
		log.Error().Err(err).Msg("Course section lookup failed")
		return "", false
	}

	r.sections[key] = id
	updated, err := s.ledger.SetRemoteSectionID(ctx, key, id)
	if err != nil {
		r.summary.Errors++
		log.Error().Err(err).Msg("Failed to store remote section id")
		return "", false
	}
	r.summary.Resolved++
	log.Info().Str("remote_section_id", id).Int64("rows", updated).Msg(model.ReasonSectionLookup)
	return id, true
}

func (s *Service) post(ctx context.Context, r *run, rec *model.GradeRecord, sectionID string, log zerolog.Logger) {
	var result sis.PostResult
	err := r.session.Do(ctx, func(token string) error {
		var err error
		result, err = s.client.PostFinalGrade(ctx, token, rec.StudentNumber, sectionID, rec.GradeValue, rec.GradeDate)
		return err
	})
	if err != nil {
		s.failed(ctx, r, rec, err, log)
		return
	}

	switch result.Outcome {
	case sis.PostSuccess:
		if s.mark(ctx, r, rec, model.PostStatusPosted, model.ReasonPosted, log) {
			r.summary.Posted++
			log.Info().Str("grade", rec.GradeValue).Msg(model.ReasonPosted)
		}
	case sis.PostAlreadyPosted:
		if s.mark(ctx, r, rec, model.PostStatusPosted, model.ReasonPostedAgain, log) {
			r.summary.Reposted++
			log.Info().Str("grade", rec.GradeValue).Msg(model.ReasonPostedAgain)
		}
	default:
		if s.mark(ctx, r, rec, model.PostStatusFailed, result.Message, log) {
			r.summary.Failed++
			r.summary.AddFailure(rec.StudentNumber+" "+rec.SectionKey().String(), result.Message)
			log.Warn().Str("reason", result.Message).Msg("SIS rejected grade")
		}
	}
}

func (s *Service) drop(ctx context.Context, r *run, rec *model.GradeRecord, log zerolog.Logger) {
	err := r.session.Do(ctx, func(token string) error {
		return s.client.DropStudent(ctx, token, sis.DropRequest{
			StudentNumber: rec.StudentNumber,
			CourseNumber:  rec.CourseNumber,
			SectionNumber: rec.SectionNumber,
			Reason:        rec.GradeValue,
			DropDate:      rec.GradeDate,
		})
	})
	if err != nil {
		s.failed(ctx, r, rec, err, log)
		return
	}
	if s.mark(ctx, r, rec, model.PostStatusPosted, rec.GradeValue, log) {
		r.summary.Dropped++
		log.Info().Str("reason", rec.GradeValue).Msg("Student dropped from section")
	}
}

// failed records a call error. Transient errors leave the row untouched for
// the next run; anything else is a permanent rejection.
func (s *Service) failed(ctx context.Context, r *run, rec *model.GradeRecord, err error, log zerolog.Logger) {
	subject := rec.StudentNumber + " " + rec.SectionKey().String()
	if errors.IsRetryable(err) || errors.Is(err, errors.ErrUnauthorized) {
		r.summary.Errors++
		r.summary.AddFailure(subject, err.Error())
		log.Warn().Err(err).Msg("SIS call failed, will retry next run")
		return
	}
	if s.mark(ctx, r, rec, model.PostStatusFailed, err.Error(), log) {
		r.summary.Failed++
		r.summary.AddFailure(subject, err.Error())
		log.Warn().Err(err).Msg("SIS call rejected")
	}
}

func (s *Service) mark(ctx context.Context, r *run, rec *model.GradeRecord, status model.PostStatus, reason string, log zerolog.Logger) bool {
	if err := s.ledger.UpdatePostStatus(ctx, rec.ID, status, reason); err != nil {
		r.summary.Errors++
		log.Error().Err(err).Str("status", string(status)).Msg("Failed to update ledger")
		return false
	}
	return true
}
