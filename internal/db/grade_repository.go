package db

import (
	"context"
	"fmt"

	"sis-grade-sync/internal/model"

	"github.com/jmoiron/sqlx"
)

// GradeRepository is the posting ledger (sis_grades).
type GradeRepository interface {
	StageGrades(ctx context.Context, pipeline model.Pipeline, rows []model.GradeRow) (int, error)
	ListUnposted(ctx context.Context, pipeline model.Pipeline) ([]model.GradeRecord, error)
	SetRemoteSectionID(ctx context.Context, key model.SectionKey, sectionID string) (int64, error)
	UpdatePostStatus(ctx context.Context, id int64, status model.PostStatus, reason string) error
	Summary(ctx context.Context, pipeline model.Pipeline) (*model.LedgerSummary, error)
	ListForReport(ctx context.Context, pipeline model.Pipeline) ([]model.GradeRecord, error)
}

const gradeColumns = `id, pipeline, student_number, course_number, section_number, grade_value, grade_date,
	remote_section_id, post_status, reason, posted_at, created_at, updated_at`

type gradeRepository struct {
	db *sqlx.DB
}

func NewGradeRepository(db *sqlx.DB) GradeRepository {
	return &gradeRepository{db: db}
}

// StageGrades inserts extracted rows as PENDING. Rows already in the ledger
// (same student, course, section, grade and date) are skipped; the count of
// newly inserted rows is returned.
func (r *gradeRepository) StageGrades(ctx context.Context, pipeline model.Pipeline, rows []model.GradeRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	query := `INSERT IGNORE INTO sis_grades
		(pipeline, student_number, course_number, section_number, grade_value, grade_date, post_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	inserted := 0
	for _, row := range rows {
		res, err := tx.ExecContext(ctx, query, pipeline, row.StudentNumber, row.CourseNumber,
			row.SectionNumber, row.Grade, row.GradeDate, model.PostStatusPending)
		if err != nil {
			return 0, fmt.Errorf("failed to stage %s %s: %w", row.StudentNumber, row.CourseNumber, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListUnposted returns every row of the pipeline that has not reached POSTED,
// grouped by section so a run resolves each section once.
func (r *gradeRepository) ListUnposted(ctx context.Context, pipeline model.Pipeline) ([]model.GradeRecord, error) {
	query := `SELECT ` + gradeColumns + `
		FROM sis_grades
		WHERE pipeline = ? AND post_status <> ?
		ORDER BY course_number, section_number, student_number, id`

	var grades []model.GradeRecord
	if err := r.db.SelectContext(ctx, &grades, query, pipeline, model.PostStatusPosted); err != nil {
		return nil, err
	}
	return grades, nil
}

// SetRemoteSectionID fills the section id on every row of the section that does
// not have one yet. Ids already cached are never overwritten.
func (r *gradeRepository) SetRemoteSectionID(ctx context.Context, key model.SectionKey, sectionID string) (int64, error) {
	query := `UPDATE sis_grades
		SET remote_section_id = ?, reason = ?, updated_at = NOW()
		WHERE course_number = ? AND section_number = ? AND remote_section_id IS NULL`

	res, err := r.db.ExecContext(ctx, query, sectionID, model.ReasonSectionLookup, key.CourseNumber, key.SectionNumber)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *gradeRepository) UpdatePostStatus(ctx context.Context, id int64, status model.PostStatus, reason string) error {
	query := `UPDATE sis_grades
		SET post_status = ?, reason = ?, posted_at = IF(? = 'POSTED', NOW(), posted_at), updated_at = NOW()
		WHERE id = ?`

	_, err := r.db.ExecContext(ctx, query, status, reason, status, id)
	return err
}

// Summary counts ledger rows by status. An empty pipeline covers all pipelines.
func (r *gradeRepository) Summary(ctx context.Context, pipeline model.Pipeline) (*model.LedgerSummary, error) {
	query := `SELECT
		COUNT(*) AS total,
		COALESCE(SUM(post_status = 'PENDING'), 0) AS pending,
		COALESCE(SUM(post_status = 'POSTED'), 0) AS posted,
		COALESCE(SUM(post_status = 'FAILED'), 0) AS failed,
		COALESCE(SUM(remote_section_id IS NULL AND post_status <> 'POSTED'), 0) AS unresolved,
		MAX(updated_at) AS updated_at
	FROM sis_grades WHERE (? = '' OR pipeline = ?)`

	var summary model.LedgerSummary
	if err := r.db.GetContext(ctx, &summary, query, pipeline, pipeline); err != nil {
		return nil, err
	}
	summary.Pipeline = pipeline

	errorQuery := `SELECT DISTINCT reason FROM sis_grades
		WHERE (? = '' OR pipeline = ?) AND post_status = 'FAILED' AND reason IS NOT NULL
		ORDER BY reason LIMIT 50`

	// Failure reasons are informational; the counts stand on their own.
	var reasons []string
	if err := r.db.SelectContext(ctx, &reasons, errorQuery, pipeline, pipeline); err == nil {
		summary.Errors = reasons
	}

	return &summary, nil
}

func (r *gradeRepository) ListForReport(ctx context.Context, pipeline model.Pipeline) ([]model.GradeRecord, error) {
	query := `SELECT ` + gradeColumns + `
		FROM sis_grades
		WHERE (? = '' OR pipeline = ?)
		ORDER BY pipeline, course_number, section_number, student_number`

	var grades []model.GradeRecord
	if err := r.db.SelectContext(ctx, &grades, query, pipeline, pipeline); err != nil {
		return nil, err
	}
	return grades, nil
}
