package db

import (
	"context"
	"regexp"
	"testing"
	"time"

	"sis-grade-sync/internal/model"
	"sis-grade-sync/pkg/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		raw.Close()
	})
	return sqlx.NewDb(raw, "mysql"), mock
}

var gradeDate = time.Date(2023, 4, 13, 0, 0, 0, 0, time.UTC)

func gradeRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "pipeline", "student_number", "course_number", "section_number", "grade_value", "grade_date",
		"remote_section_id", "post_status", "reason", "posted_at", "created_at", "updated_at",
	})
}

func TestGradeRepository_StageGradesSkipsDuplicates(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGradeRepository(db)

	rows := []model.GradeRow{
		{StudentNumber: "X001688", CourseNumber: "ACCT 2001", SectionNumber: "003", Grade: "A-", GradeDate: gradeDate},
		{StudentNumber: "X001689", CourseNumber: "ACCT 2001", SectionNumber: "003", Grade: "B", GradeDate: gradeDate},
	}

	insert := regexp.QuoteMeta("INSERT IGNORE INTO sis_grades")
	mock.ExpectBegin()
	mock.ExpectExec(insert).
		WithArgs("odl", "X001688", "ACCT 2001", "003", "A-", gradeDate, "PENDING").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insert).
		WithArgs("odl", "X001689", "ACCT 2001", "003", "B", gradeDate, "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err := repo.StageGrades(context.Background(), model.PipelineODL, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGradeRepository_StageGradesRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGradeRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO sis_grades")).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	_, err := repo.StageGrades(context.Background(), model.PipelinePD, []model.GradeRow{{StudentNumber: "X1"}})
	assert.Error(t, err)
}

func TestGradeRepository_ListUnposted(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGradeRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE pipeline = ? AND post_status <> ?")).
		WithArgs("odl", "POSTED").
		WillReturnRows(gradeRows().
			AddRow(int64(1), "odl", "X001688", "ACCT 2001", "003", "A-", gradeDate, nil, "PENDING", nil, nil, now, now).
			AddRow(int64(2), "odl", "X001690", "ACCT 2001", "003", "C", gradeDate, "555", "FAILED", "Student not enrolled", nil, now, now))

	grades, err := repo.ListUnposted(context.Background(), model.PipelineODL)
	require.NoError(t, err)
	require.Len(t, grades, 2)

	assert.Equal(t, model.StatePending, grades[0].State())
	assert.Nil(t, grades[0].RemoteSectionID)
	assert.Equal(t, model.StatePostFailed, grades[1].State())
	require.NotNil(t, grades[1].RemoteSectionID)
	assert.Equal(t, "555", *grades[1].RemoteSectionID)
}

func TestGradeRepository_SetRemoteSectionIDOnlyFillsNulls(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGradeRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("AND remote_section_id IS NULL")).
		WithArgs("555", model.ReasonSectionLookup, "ACCT 2001", "003").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.SetRemoteSectionID(context.Background(), model.SectionKey{CourseNumber: "ACCT 2001", SectionNumber: "003"}, "555")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestGradeRepository_UpdatePostStatus(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGradeRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sis_grades")).
		WithArgs("POSTED", model.ReasonPostedAgain, "POSTED", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdatePostStatus(context.Background(), 7, model.PostStatusPosted, model.ReasonPostedAgain))
}

func TestGradeRepository_Summary(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGradeRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) AS total")).
		WithArgs("pd", "pd").
		WillReturnRows(sqlmock.NewRows([]string{"total", "pending", "posted", "failed", "unresolved", "updated_at"}).
			AddRow(10, 3, 6, 1, 2, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT reason FROM sis_grades")).
		WithArgs("pd", "pd").
		WillReturnRows(sqlmock.NewRows([]string{"reason"}).AddRow("Student not enrolled"))

	summary, err := repo.Summary(context.Background(), model.PipelinePD)
	require.NoError(t, err)
	assert.Equal(t, model.PipelinePD, summary.Pipeline)
	assert.Equal(t, 10, summary.Total)
	assert.Equal(t, 6, summary.Posted)
	assert.Equal(t, 2, summary.Unresolved)
	assert.Equal(t, []string{"Student not enrolled"}, summary.Errors)
}

func TestCourseRepository_LocalLoggingIsWriteOnce(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCourseRepository(db)
	ctx := context.Background()

	query := regexp.QuoteMeta("WHERE course_number = ? AND local_applicability IS NULL")
	mock.ExpectExec(query).WithArgs("Internal", "BIOL 1001").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs("Internal", "BIOL 1001").WillReturnResult(sqlmock.NewResult(0, 0))

	wrote, err := repo.LogLocalApplicability(ctx, "BIOL 1001", model.ApplicabilityInternal)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = repo.LogLocalApplicability(ctx, "BIOL 1001", model.ApplicabilityInternal)
	require.NoError(t, err)
	assert.False(t, wrote)
}

func TestCourseRepository_SetRemoteStateStoresUnknownAsNull(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("SET remote_applicability = ?, remote_status = ?")).
		WithArgs("Internal", nil, "BIOL 1001").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SetRemoteState(context.Background(), "BIOL 1001", model.RemoteState{Applicability: model.ApplicabilityInternal})
	require.NoError(t, err)
}

func TestCourseRepository_GetVisibilityNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCourseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM sis_course_visibility WHERE course_number = ?")).
		WithArgs("NOPE 1000").
		WillReturnRows(sqlmock.NewRows([]string{"course_number"}))

	_, err := repo.GetVisibility(context.Background(), "NOPE 1000")
	assert.ErrorIs(t, err, errors.ErrCourseNotFound)
}

func TestCourseRepository_ListCoursesToUndo(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCourseRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE v.undo_applied = 0")).
		WillReturnRows(sqlmock.NewRows([]string{
			"course_number", "remote_applicability", "remote_status", "local_applicability",
			"local_status", "undo_applied", "created_at", "updated_at",
		}).AddRow("BIOL 1001", "Public", "Active", "Internal", "Inactive", false, now, now))

	courses, err := repo.ListCoursesToUndo(context.Background())
	require.NoError(t, err)
	require.Len(t, courses, 1)
	require.NotNil(t, courses[0].LocalApplicability)
	assert.Equal(t, model.ApplicabilityInternal, *courses[0].LocalApplicability)
	assert.False(t, courses[0].UndoApplied)
}

func TestEnrollmentRepository_ListSISCoursesExpandsCategories(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEnrollmentRepository(db, "mdl_")

	mock.ExpectQuery(regexp.QuoteMeta("FROM mdl_course c")).
		WithArgs(3, 7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "idnumber", "category"}).
			AddRow(int64(11), "ACCT 2001__003", int64(3)))

	courses, err := repo.ListSISCourses(context.Background(), []int{3, 7})
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "ACCT 2001__003", courses[0].IDNumber)
}

func TestEnrollmentRepository_ListSISCoursesWithoutCategories(t *testing.T) {
	db, _ := newMock(t)
	repo := NewEnrollmentRepository(db, "mdl_")

	courses, err := repo.ListSISCourses(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, courses)
}

func TestEnrollmentRepository_UpsertStudentReturnsRowID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEnrollmentRepository(db, "mdl_")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sis_students")).
		WithArgs("7", "X1", nil, "alee", "ann@example.edu", "Ann", "Lee").
		WillReturnResult(sqlmock.NewResult(42, 2))

	student := &model.Student{SISID: "7", StudentNumber: "X1", Username: "alee", Email: "ann@example.edu", FirstName: "Ann", LastName: "Lee"}
	id, err := repo.UpsertStudent(context.Background(), student)
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)
	assert.EqualValues(t, 42, student.ID)
}

func TestEnrollmentRepository_PrestageDrops(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEnrollmentRepository(db, "mdl_")

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sis_enrollments SET status = ?")).
		WithArgs("unenroll", "ACCT 2001__003").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.PrestageDrops(context.Background(), "ACCT 2001__003")
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}
