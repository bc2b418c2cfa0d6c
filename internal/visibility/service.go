// Package visibility brings SIS course visibility in line with what grade
// posting needs: every course Public and Active. The values seen before the
// first change are logged once per course so the change can be undone later.
package visibility

import (
	"context"
	"fmt"
	"time"

	"sis-grade-sync/internal/config"
	"sis-grade-sync/internal/logger"
	"sis-grade-sync/internal/model"
	"sis-grade-sync/internal/sis"

	"github.com/rs/zerolog"
)

// CourseStore is the visibility bookkeeping the workflows use.
type CourseStore interface {
	ListCoursesToReconcile(ctx context.Context) ([]string, error)
	EnsureVisibility(ctx context.Context, courseNumber string) error
	LogLocalApplicability(ctx context.Context, courseNumber string, applicability model.Applicability) (bool, error)
	LogLocalStatus(ctx context.Context, courseNumber string, status model.CourseStatus) (bool, error)
	SetRemoteState(ctx context.Context, courseNumber string, state model.RemoteState) error
	ListCoursesToUndo(ctx context.Context) ([]model.CourseVisibility, error)
	MarkUndoApplied(ctx context.Context, courseNumber string) error
}

type SISClient interface {
	sis.Authenticator
	GetCourseAvailability(ctx context.Context, token, courseNumber string, status model.CourseStatus) (*sis.CourseProfile, error)
	UpdateCourse(ctx context.Context, token, courseNumber string, change sis.CourseChange) (string, error)
}

type Service struct {
	store  CourseStore
	client SISClient
	cfg    config.SISConfig
	log    zerolog.Logger
}

func NewService(store CourseStore, client SISClient, cfg config.SISConfig) *Service {
	return &Service{
		store:  store,
		client: client,
		cfg:    cfg,
		log:    logger.Component("visibility"),
	}
}

func (s *Service) newSession() *sis.Session {
	return sis.NewSession(s.client, s.cfg.Username, s.cfg.Password, s.cfg.TokenRefreshEvery)
}

// Reconcile visits every course whose sections could not be resolved and
// makes it Public and Active in the SIS. A course that fails is logged and
// left for the next run.
func (s *Service) Reconcile(ctx context.Context) (*model.RunSummary, error) {
	summary := &model.RunSummary{Kind: model.JobReconcileVisibility, StartedAt: time.Now().UTC()}
	defer func() { summary.FinishedAt = time.Now().UTC() }()

	courses, err := s.store.ListCoursesToReconcile(ctx)
	if err != nil {
		return summary, fmt.Errorf("list courses to reconcile: %w", err)
	}
	if len(courses) == 0 {
		s.log.Info().Msg("No courses to reconcile")
		return summary, nil
	}

	session := s.newSession()
	if _, err := session.Token(ctx); err != nil {
		return summary, fmt.Errorf("SIS login: %w", err)
	}

	for _, course := range courses {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Processed++

		changed, err := s.ReconcileCourse(ctx, session, course)
		if err != nil {
			summary.Errors++
			summary.AddFailure(course, err.Error())
			s.log.Error().Err(err).Str("course", course).Msg("Course reconciliation failed")
		}
		if changed {
			summary.CoursesChanged++
		}

		if err := session.Tick(ctx); err != nil {
			return summary, err
		}
	}
	summary.TokenRefreshes = session.Refreshes()

	s.log.Info().
		Int("courses", summary.Processed).
		Int("changed", summary.CoursesChanged).
		Int("errors", summary.Errors).
		Msg("Visibility reconciliation finished")
	return summary, nil
}

// ReconcileCourse runs one course through the workflow and reports whether the
// SIS was changed. Local values are logged at most once, whatever the number
// of passes.
func (s *Service) ReconcileCourse(ctx context.Context, session *sis.Session, course string) (bool, error) {
	log := s.log.With().Str("course", course).Logger()

	if err := s.store.EnsureVisibility(ctx, course); err != nil {
		return false, err
	}

	state, err := s.observe(ctx, session, course)
	if err != nil {
		return false, err
	}

	changed := false
	if state.Applicability == model.ApplicabilityPublic {
		if err := s.logApplicability(ctx, course, model.ApplicabilityPublic, log); err != nil {
			return false, err
		}
	} else {
		// Anything that is not visible as Public is treated as Internal.
		if err := s.logApplicability(ctx, course, model.ApplicabilityInternal, log); err != nil {
			return false, err
		}
		if err := s.update(ctx, session, course, sis.CourseChange{Applicability: model.ApplicabilityPublic}); err != nil {
			return false, err
		}
		changed = true
		log.Info().Str("from", string(model.ApplicabilityInternal)).Str("to", string(model.ApplicabilityPublic)).Msg("Course applicability changed")

		if state, err = s.observe(ctx, session, course); err != nil {
			return changed, err
		}
	}

	if state.Status == "" {
		log.Warn().Msg("Course status still unknown")
		return changed, nil
	}
	if err := s.logStatus(ctx, course, state.Status, log); err != nil {
		return changed, err
	}

	if state.Status == model.CourseStatusInactive {
		if err := s.update(ctx, session, course, sis.CourseChange{Status: model.CourseStatusActive}); err != nil {
			return changed, err
		}
		changed = true
		log.Info().Str("from", string(model.CourseStatusInactive)).Str("to", string(model.CourseStatusActive)).Msg("Course status changed")

		if _, err := s.observe(ctx, session, course); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

// Undo pushes the logged pre-change values back to the SIS for every course
// still awaiting it. Undo is marked applied only after the SIS confirms.
func (s *Service) Undo(ctx context.Context) (*model.RunSummary, error) {
	summary := &model.RunSummary{Kind: model.JobUndoVisibility, StartedAt: time.Now().UTC()}
	defer func() { summary.FinishedAt = time.Now().UTC() }()

	courses, err := s.store.ListCoursesToUndo(ctx)
	if err != nil {
		return summary, fmt.Errorf("list courses to undo: %w", err)
	}
	if len(courses) == 0 {
		s.log.Info().Msg("No visibility changes to undo")
		return summary, nil
	}

	session := s.newSession()
	if _, err := session.Token(ctx); err != nil {
		return summary, fmt.Errorf("SIS login: %w", err)
	}

	for _, v := range courses {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Processed++
		log := s.log.With().Str("course", v.CourseNumber).Logger()

		change := sis.CourseChange{Applicability: *v.LocalApplicability, Status: *v.LocalStatus}
		if err := s.update(ctx, session, v.CourseNumber, change); err != nil {
			summary.Errors++
			summary.AddFailure(v.CourseNumber, err.Error())
			log.Error().Err(err).Msg("Undo not confirmed")
		} else if err := s.store.MarkUndoApplied(ctx, v.CourseNumber); err != nil {
			summary.Errors++
			log.Error().Err(err).Msg("Failed to mark undo applied")
		} else {
			summary.Undone++
			log.Info().
				Str("applicability", string(change.Applicability)).
				Str("status", string(change.Status)).
				Msg("Course visibility restored")
		}

		if err := session.Tick(ctx); err != nil {
			return summary, err
		}
	}
	summary.TokenRefreshes = session.Refreshes()
	return summary, nil
}

// observe probes the SIS and stores what it saw as the remote state.
func (s *Service) observe(ctx context.Context, session *sis.Session, course string) (model.RemoteState, error) {
	state, err := s.probe(ctx, session, course)
	if err != nil {
		return state, err
	}
	if err := s.store.SetRemoteState(ctx, course, state); err != nil {
		return state, err
	}
	return state, nil
}

// probe derives the remote state from two searches: an Active-filtered hit
// means Active, an unfiltered-only hit means Inactive, and no hit leaves the
// state unknown.
func (s *Service) probe(ctx context.Context, session *sis.Session, course string) (model.RemoteState, error) {
	var state model.RemoteState
	err := session.Do(ctx, func(token string) error {
		active, err := s.client.GetCourseAvailability(ctx, token, course, model.CourseStatusActive)
		if err != nil {
			return err
		}
		if active != nil && active.Applicability != "" {
			state = model.RemoteState{Applicability: model.Applicability(active.Applicability), Status: model.CourseStatusActive}
			return nil
		}

		anyStatus, err := s.client.GetCourseAvailability(ctx, token, course, "")
		if err != nil {
			return err
		}
		if anyStatus != nil && anyStatus.Applicability != "" {
			state = model.RemoteState{Applicability: model.Applicability(anyStatus.Applicability), Status: model.CourseStatusInactive}
		}
		return nil
	})
	return state, err
}

func (s *Service) update(ctx context.Context, session *sis.Session, course string, change sis.CourseChange) error {
	return session.Do(ctx, func(token string) error {
		_, err := s.client.UpdateCourse(ctx, token, course, change)
		return err
	})
}

func (s *Service) logApplicability(ctx context.Context, course string, applicability model.Applicability, log zerolog.Logger) error {
	written, err := s.store.LogLocalApplicability(ctx, course, applicability)
	if err != nil {
		return err
	}
	if written {
		log.Info().Str("applicability", string(applicability)).Msg("Local applicability logged")
	}
	return nil
}

func (s *Service) logStatus(ctx context.Context, course string, status model.CourseStatus, log zerolog.Logger) error {
	written, err := s.store.LogLocalStatus(ctx, course, status)
	if err != nil {
		return err
	}
	if written {
		log.Info().Str("status", string(status)).Msg("Local status logged")
	}
	return nil
}
