package db

import (
	"context"
	"database/sql"
	"fmt"

	"sis-grade-sync/internal/model"
	"sis-grade-sync/pkg/errors"

	"github.com/jmoiron/sqlx"
)

// CourseRepository keeps the per-course visibility bookkeeping (sis_course_visibility).
type CourseRepository interface {
	ListCoursesToReconcile(ctx context.Context) ([]string, error)
	GetVisibility(ctx context.Context, courseNumber string) (*model.CourseVisibility, error)
	EnsureVisibility(ctx context.Context, courseNumber string) error
	LogLocalApplicability(ctx context.Context, courseNumber string, applicability model.Applicability) (bool, error)
	LogLocalStatus(ctx context.Context, courseNumber string, status model.CourseStatus) (bool, error)
	SetRemoteState(ctx context.Context, courseNumber string, state model.RemoteState) error
	ListCoursesToUndo(ctx context.Context) ([]model.CourseVisibility, error)
	MarkUndoApplied(ctx context.Context, courseNumber string) error
}

const visibilityColumns = `course_number, remote_applicability, remote_status, local_applicability,
	local_status, undo_applied, created_at, updated_at`

type courseRepository struct {
	db *sqlx.DB
}

func NewCourseRepository(db *sqlx.DB) CourseRepository {
	return &courseRepository{db: db}
}

// ListCoursesToReconcile returns courses with unposted grades whose section
// could not be resolved and whose visibility has not been fully logged.
func (r *courseRepository) ListCoursesToReconcile(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT g.course_number
		FROM sis_grades g
		LEFT JOIN sis_course_visibility v ON v.course_number = g.course_number
		WHERE g.post_status <> 'POSTED'
		  AND g.remote_section_id IS NULL
		  AND (v.course_number IS NULL OR v.local_applicability IS NULL OR v.local_status IS NULL)
		ORDER BY g.course_number`

	var courses []string
	if err := r.db.SelectContext(ctx, &courses, query); err != nil {
		return nil, err
	}
	return courses, nil
}

func (r *courseRepository) GetVisibility(ctx context.Context, courseNumber string) (*model.CourseVisibility, error) {
	query := `SELECT ` + visibilityColumns + ` FROM sis_course_visibility WHERE course_number = ?`

	var v model.CourseVisibility
	if err := r.db.GetContext(ctx, &v, query, courseNumber); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", courseNumber, errors.ErrCourseNotFound)
		}
		return nil, err
	}
	return &v, nil
}

func (r *courseRepository) EnsureVisibility(ctx context.Context, courseNumber string) error {
	_, err := r.db.ExecContext(ctx, `INSERT IGNORE INTO sis_course_visibility (course_number) VALUES (?)`, courseNumber)
	return err
}

// LogLocalApplicability records the applicability observed before any change of
// ours. It writes at most once per course and reports whether it wrote.
func (r *courseRepository) LogLocalApplicability(ctx context.Context, courseNumber string, applicability model.Applicability) (bool, error) {
	query := `UPDATE sis_course_visibility
		SET local_applicability = ?, updated_at = NOW()
		WHERE course_number = ? AND local_applicability IS NULL`
	return r.writeOnce(ctx, query, applicability, courseNumber)
}

// LogLocalStatus is the status counterpart of LogLocalApplicability.
func (r *courseRepository) LogLocalStatus(ctx context.Context, courseNumber string, status model.CourseStatus) (bool, error) {
	query := `UPDATE sis_course_visibility
		SET local_status = ?, updated_at = NOW()
		WHERE course_number = ? AND local_status IS NULL`
	return r.writeOnce(ctx, query, status, courseNumber)
}

func (r *courseRepository) writeOnce(ctx context.Context, query string, value any, courseNumber string) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, value, courseNumber)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *courseRepository) SetRemoteState(ctx context.Context, courseNumber string, state model.RemoteState) error {
	query := `UPDATE sis_course_visibility
		SET remote_applicability = ?, remote_status = ?, updated_at = NOW()
		WHERE course_number = ?`

	_, err := r.db.ExecContext(ctx, query, nullable(string(state.Applicability)), nullable(string(state.Status)), courseNumber)
	return err
}

// ListCoursesToUndo returns courses whose pre-change values were captured, whose
// undo is still pending, and which have at least one resolved section.
func (r *courseRepository) ListCoursesToUndo(ctx context.Context) ([]model.CourseVisibility, error) {
	query := `SELECT ` + visibilityColumns + `
		FROM sis_course_visibility v
		WHERE v.undo_applied = 0
		  AND v.local_applicability IS NOT NULL
		  AND v.local_status IS NOT NULL
		  AND EXISTS (
			SELECT 1 FROM sis_grades g
			WHERE g.course_number = v.course_number AND g.remote_section_id IS NOT NULL
		  )
		ORDER BY v.course_number`

	var courses []model.CourseVisibility
	if err := r.db.SelectContext(ctx, &courses, query); err != nil {
		return nil, err
	}
	return courses, nil
}

func (r *courseRepository) MarkUndoApplied(ctx context.Context, courseNumber string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sis_course_visibility SET undo_applied = 1, updated_at = NOW() WHERE course_number = ?`,
		courseNumber)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
