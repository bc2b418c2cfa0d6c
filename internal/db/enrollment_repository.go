package db

import (
	"context"

	"sis-grade-sync/internal/model"

	"github.com/jmoiron/sqlx"
)

// EnrollmentRepository mirrors SIS class lists into sis_students and sis_enrollments.
type EnrollmentRepository interface {
	ListSISCourses(ctx context.Context, categories []int) ([]model.MoodleCourse, error)
	PrestageDrops(ctx context.Context, courseIDNumber string) (int64, error)
	UpsertStudent(ctx context.Context, student *model.Student) (int64, error)
	UpsertEnrollment(ctx context.Context, studentID int64, enrollment model.StudentEnrollment) error
	LinkMoodleUsers(ctx context.Context) (int64, error)
}

type enrollmentRepository struct {
	db     *sqlx.DB
	prefix string
}

// NewEnrollmentRepository needs Moodle's table prefix to read mdl_course and mdl_user.
func NewEnrollmentRepository(db *sqlx.DB, prefix string) EnrollmentRepository {
	return &enrollmentRepository{db: db, prefix: prefix}
}

// ListSISCourses returns Moodle courses in the given categories whose idnumber
// follows the "<course>__<section>" convention.
func (r *enrollmentRepository) ListSISCourses(ctx context.Context, categories []int) ([]model.MoodleCourse, error) {
	if len(categories) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT c.id, c.idnumber, c.category
		FROM `+r.prefix+`course c
		WHERE INSTR(c.idnumber, '__') > 0 AND c.category IN (?)
		ORDER BY c.idnumber`, categories)
	if err != nil {
		return nil, err
	}

	var courses []model.MoodleCourse
	if err := r.db.SelectContext(ctx, &courses, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return courses, nil
}

// PrestageDrops marks every enrollment of the course as unenroll. Students still
// on the class list are flipped back to enroll by UpsertEnrollment.
func (r *enrollmentRepository) PrestageDrops(ctx context.Context, courseIDNumber string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sis_enrollments SET status = ?, updated_at = NOW() WHERE course_idnumber = ?`,
		model.EnrollActionUnenroll, courseIDNumber)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpsertStudent inserts or refreshes the student keyed by SIS object id and returns its row id.
func (r *enrollmentRepository) UpsertStudent(ctx context.Context, student *model.Student) (int64, error) {
	query := `INSERT INTO sis_students
		(sis_id, student_number, school_id, username, email, first_name, last_name)
		VALUES (:sis_id, :student_number, :school_id, :username, :email, :first_name, :last_name)
		ON DUPLICATE KEY UPDATE
			id = LAST_INSERT_ID(id),
			student_number = VALUES(student_number),
			school_id = VALUES(school_id),
			username = VALUES(username),
			email = VALUES(email),
			first_name = VALUES(first_name),
			last_name = VALUES(last_name),
			updated_at = NOW()`

	res, err := r.db.NamedExecContext(ctx, query, student)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	student.ID = id
	return id, nil
}

func (r *enrollmentRepository) UpsertEnrollment(ctx context.Context, studentID int64, enrollment model.StudentEnrollment) error {
	query := `INSERT INTO sis_enrollments
		(student_id, course_idnumber, status, enrollment_status, enroll_start, enroll_end)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			enrollment_status = VALUES(enrollment_status),
			enroll_start = VALUES(enroll_start),
			enroll_end = VALUES(enroll_end),
			updated_at = NOW()`

	_, err := r.db.ExecContext(ctx, query, studentID, enrollment.CourseIDNumber, enrollment.Action,
		enrollment.EnrollmentStatus, enrollment.EnrollStart, enrollment.EnrollEnd)
	return err
}

// LinkMoodleUsers attaches Moodle user ids to students whose username now exists in Moodle.
func (r *enrollmentRepository) LinkMoodleUsers(ctx context.Context) (int64, error) {
	query := `UPDATE sis_students s
		INNER JOIN ` + r.prefix + `user u ON u.username = s.username AND u.deleted = 0
		SET s.moodle_user_id = u.id
		WHERE s.moodle_user_id IS NULL`

	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
