package enrollment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sis-grade-sync/internal/config"
	"sis-grade-sync/internal/logger"
	"sis-grade-sync/internal/model"
	"sis-grade-sync/internal/sis"

	"github.com/rs/zerolog"
)

// DateLayout is how the class list formats enrollment dates, in SIS local time.
const DateLayout = "02 Jan 2006 03:04:05 PM"

type Store interface {
	ListSISCourses(ctx context.Context, categories []int) ([]model.MoodleCourse, error)
	PrestageDrops(ctx context.Context, courseIDNumber string) (int64, error)
	UpsertStudent(ctx context.Context, student *model.Student) (int64, error)
	UpsertEnrollment(ctx context.Context, studentID int64, enrollment model.StudentEnrollment) error
	LinkMoodleUsers(ctx context.Context) (int64, error)
}

type SISClient interface {
	sis.Authenticator
	GetClassList(ctx context.Context, token, courseNumber, sectionNumber string) (*sis.ClassList, error)
	GetCourseSection(ctx context.Context, token, sectionID string) (*sis.CourseSection, error)
	GetStudent(ctx context.Context, token, studentID string) (*sis.StudentProfile, error)
}

// Service mirrors SIS class lists of mapped Moodle courses into the local
// student and enrollment tables.
type Service struct {
	store      Store
	client     SISClient
	sisCfg     config.SISConfig
	categories []int
	loc        *time.Location
	log        zerolog.Logger
}

func NewService(store Store, client SISClient, sisCfg config.SISConfig, cfg config.EnrollmentConfig, loc *time.Location) *Service {
	return &Service{
		store:      store,
		client:     client,
		sisCfg:     sisCfg,
		categories: cfg.Categories,
		loc:        loc,
		log:        logger.Component("enrollment"),
	}
}

type syncRun struct {
	session *sis.Session
	// logins caches SIS login ids by student object id.
	logins  map[string]string
	summary *model.RunSummary
}

func (s *Service) Sync(ctx context.Context) (*model.RunSummary, error) {
	summary := &model.RunSummary{Kind: model.JobSyncEnrollments, StartedAt: time.Now().UTC()}
	defer func() { summary.FinishedAt = time.Now().UTC() }()

	courses, err := s.store.ListSISCourses(ctx, s.categories)
	if err != nil {
		return summary, fmt.Errorf("list SIS courses: %w", err)
	}
	if len(courses) == 0 {
		s.log.Info().Ints("categories", s.categories).Msg("No SIS courses to sync")
		return summary, nil
	}

	r := &syncRun{
		session: sis.NewSession(s.client, s.sisCfg.Username, s.sisCfg.Password, s.sisCfg.TokenRefreshEvery),
		logins:  make(map[string]string),
		summary: summary,
	}
	if _, err := r.session.Token(ctx); err != nil {
		return summary, fmt.Errorf("SIS login: %w", err)
	}

	for _, course := range courses {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Processed++

		if err := s.syncCourse(ctx, r, course); err != nil {
			summary.Errors++
			summary.AddFailure(course.IDNumber, err.Error())
			s.log.Error().Err(err).Str("course", course.IDNumber).Msg("Enrollment sync failed")
		}
		if err := r.session.Tick(ctx); err != nil {
			return summary, err
		}
	}
	summary.TokenRefreshes = r.session.Refreshes()

	linked, err := s.store.LinkMoodleUsers(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to link Moodle users")
		summary.Errors++
	}

	s.log.Info().
		Int("courses", summary.Processed).
		Int("enrolled", summary.Enrolled).
		Int64("linked", linked).
		Int("errors", summary.Errors).
		Msg("Enrollment sync finished")
	return summary, nil
}

func (s *Service) syncCourse(ctx context.Context, r *syncRun, course model.MoodleCourse) error {
	key, err := model.ParseCourseIDNumber(course.IDNumber)
	if err != nil {
		return err
	}
	log := s.log.With().Str("course", course.IDNumber).Logger()

	var list *sis.ClassList
	err = r.session.Do(ctx, func(token string) error {
		var err error
		list, err = s.client.GetClassList(ctx, token, key.CourseNumber, key.SectionNumber)
		return err
	})
	if err != nil {
		return fmt.Errorf("class list: %w", err)
	}

	staged, err := s.store.PrestageDrops(ctx, course.IDNumber)
	if err != nil {
		return fmt.Errorf("prestage drops: %w", err)
	}

	days := s.daysAfterEnroll(ctx, r, list.SectionID.String(), log)

	enrolled := 0
	for _, item := range list.Students {
		if err := s.syncStudent(ctx, r, course.IDNumber, item, days); err != nil {
			r.summary.Errors++
			r.summary.AddFailure(item.StudentNumber+" "+course.IDNumber, err.Error())
			log.Warn().Err(err).Str("student_number", item.StudentNumber).Msg("Skipping student")
			continue
		}
		enrolled++
	}
	r.summary.Enrolled += enrolled

	log.Info().Int64("prestaged", staged).Int("students", len(list.Students)).Int("enrolled", enrolled).Int("days_after_enroll", days).Msg("Class list synced")
	return nil
}

// daysAfterEnroll reads the section's enrollment length. Zero means the
// enrollment has no end date.
func (s *Service) daysAfterEnroll(ctx context.Context, r *syncRun, sectionID string, log zerolog.Logger) int {
	if sectionID == "" {
		return 0
	}
	var section *sis.CourseSection
	err := r.session.Do(ctx, func(token string) error {
		var err error
		section, err = s.client.GetCourseSection(ctx, token, sectionID)
		return err
	})
	if err != nil {
		log.Warn().Err(err).Str("section_id", sectionID).Msg("Section detail unavailable, enrollment will not end")
		return 0
	}
	days, _ := section.DaysAfterEnroll()
	return days
}

func (s *Service) syncStudent(ctx context.Context, r *syncRun, courseIDNumber string, item sis.StudentListItem, days int) error {
	sisID := item.StudentID.String()
	if sisID == "" {
		return fmt.Errorf("class list entry without student id")
	}

	login, ok := r.logins[sisID]
	if !ok {
		var profile *sis.StudentProfile
		err := r.session.Do(ctx, func(token string) error {
			var err error
			profile, err = s.client.GetStudent(ctx, token, sisID)
			return err
		})
		if err != nil {
			return fmt.Errorf("student detail: %w", err)
		}
		login = strings.ToLower(strings.TrimSpace(profile.LoginID))
		r.logins[sisID] = login
	}
	if login == "" {
		return fmt.Errorf("student %s has no login id", sisID)
	}

	start, end := EnrollmentWindow(item.EnrollmentDate, days, s.loc)

	student := model.Student{
		SISID:         sisID,
		StudentNumber: item.StudentNumber,
		SchoolID:      item.SchoolPersonnelNumber,
		Username:      login,
		Email:         strings.TrimSpace(item.Email),
		FirstName:     item.FirstName,
		LastName:      item.LastName,
	}
	id, err := s.store.UpsertStudent(ctx, &student)
	if err != nil {
		return fmt.Errorf("upsert student: %w", err)
	}

	return s.store.UpsertEnrollment(ctx, id, model.StudentEnrollment{
		CourseIDNumber:   courseIDNumber,
		Student:          student,
		Action:           model.EnrollActionEnroll,
		EnrollmentStatus: item.EnrollmentStatus,
		EnrollStart:      start,
		EnrollEnd:        end,
	})
}

// EnrollmentWindow converts a class-list enrollment date to unix seconds and
// adds days for the end. Unparseable dates give 0, as does a zero days.
func EnrollmentWindow(enrollmentDate string, days int, loc *time.Location) (start, end int64) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(enrollmentDate), loc)
	if err != nil {
		return 0, 0
	}
	if days > 0 {
		end = t.AddDate(0, 0, days).Unix()
	}
	return t.Unix(), end
}
