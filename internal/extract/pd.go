package extract

import (
	"context"
	"time"

	"sis-grade-sync/internal/logger"
	"sis-grade-sync/internal/model"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

const gradePass = "Pass"

// pdQuery lists final assessment and course total scores in Professional
// Development courses touched after the cutoff.
const pdQuery = `SELECT c.idnumber, s.student_number,
		gg1.finalgrade AS exam_grade, gg1.rawgrademax AS exam_max,
		gg2.finalgrade AS total_grade, gg2.rawgrademax AS total_max,
		IF(cmc.timemodified > 0, cmc.timemodified, gg1.timemodified) AS completed_at
	FROM {prefix}course c
		INNER JOIN {prefix}grade_items gi1 ON gi1.courseid = c.id
		INNER JOIN {prefix}grade_items gi2 ON gi2.courseid = c.id AND gi2.itemtype = 'course'
		INNER JOIN {prefix}grade_grades gg1 ON gg1.itemid = gi1.id
		INNER JOIN {prefix}grade_grades gg2 ON gg2.itemid = gi2.id AND gg2.userid = gg1.userid
		INNER JOIN {prefix}user u ON u.id = gg1.userid
		INNER JOIN sis_students s ON s.username = u.username AND s.email = u.email
		INNER JOIN sis_enrollments se ON se.student_id = s.id AND se.course_idnumber = c.idnumber
		INNER JOIN {prefix}course_modules cm ON cm.course = c.id AND cm.instance = gi1.iteminstance
		INNER JOIN {prefix}modules m ON m.id = cm.module AND m.name = gi1.itemmodule
		LEFT JOIN {prefix}course_modules_completion cmc ON cmc.coursemoduleid = cm.id
			AND cmc.userid = u.id AND cmc.completionstate = 1
	WHERE INSTR(c.idnumber, '__') > 0
		AND u.deleted = 0
		AND c.fullname NOT LIKE 'Master %'
		AND gg1.finalgrade IS NOT NULL
		AND gg2.finalgrade IS NOT NULL
		AND (gi1.itemname IN (?) OR gi1.itemname LIKE 'Final Exam Part %')
		AND GREATEST(COALESCE(cmc.timemodified, 0), gg1.timemodified, gg2.timemodified) > ?
		AND c.category IN (` + topCategorySubquery + `)
		AND c.category NOT IN (` + namedCategorySubquery + `)`

type pdScore struct {
	IDNumber      string  `db:"idnumber"`
	StudentNumber string  `db:"student_number"`
	ExamGrade     float64 `db:"exam_grade"`
	ExamMax       float64 `db:"exam_max"`
	TotalGrade    float64 `db:"total_grade"`
	TotalMax      float64 `db:"total_max"`
	CompletedAt   int64   `db:"completed_at"`
}

// passed reports whether both the final assessment and the course total reach passingRatio.
func (s pdScore) passed() bool {
	if s.ExamMax <= 0 || s.TotalMax <= 0 {
		return false
	}
	return s.ExamGrade/s.ExamMax >= passingRatio && s.TotalGrade/s.TotalMax >= passingRatio
}

// PDExtractor emits Pass for Professional Development completions. Learners
// below the threshold are not posted.
type PDExtractor struct {
	db     *sqlx.DB
	prefix string
	loc    *time.Location
	since  time.Time
	log    zerolog.Logger
}

func NewPDExtractor(db *sqlx.DB, prefix string, loc *time.Location, since time.Time) *PDExtractor {
	return &PDExtractor{db: db, prefix: prefix, loc: loc, since: since, log: logger.Component("extract-pd")}
}

func (e *PDExtractor) Extract(ctx context.Context, _ string) ([]model.GradeRow, error) {
	query, args, err := sqlx.In(withPrefix(pdQuery, e.prefix),
		finalAssessmentNames, e.since.Unix(), pdCategoryName, archivedCategoryName)
	if err != nil {
		return nil, err
	}

	var scores []pdScore
	if err := e.db.SelectContext(ctx, &scores, e.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	rows := make([]model.GradeRow, 0, len(scores))
	for _, s := range scores {
		if !s.passed() {
			continue
		}
		key, err := model.ParseCourseIDNumber(s.IDNumber)
		if err != nil {
			e.log.Warn().Err(err).Msg("Skipping course")
			continue
		}
		rows = append(rows, model.GradeRow{
			StudentNumber: s.StudentNumber,
			CourseNumber:  key.CourseNumber,
			SectionNumber: key.SectionNumber,
			Grade:         gradePass,
			GradeDate:     calendarDate(s.CompletedAt, e.loc),
		})
	}
	return dedupe(rows), nil
}
