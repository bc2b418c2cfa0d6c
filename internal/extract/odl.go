package extract

import (
	"context"
	"time"

	"sis-grade-sync/internal/logger"
	"sis-grade-sync/internal/model"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// odlQuery finds completed ODL enrollments with a graded final assessment,
// either a submitted assignment or a quiz. Letters are resolved in Go.
const odlQuery = `SELECT c.idnumber, s.student_number, gg.finalgrade, gg.rawgrademax,
		ctx.id AS context_id, sub.timemodified AS completed_at
	FROM {prefix}course c
		INNER JOIN {prefix}course_completions cc ON cc.course = c.id
		INNER JOIN {prefix}user u ON u.id = cc.userid
		INNER JOIN sis_students s ON s.username = u.username AND s.email = u.email
		INNER JOIN sis_enrollments se ON se.student_id = s.id AND se.course_idnumber = c.idnumber
		INNER JOIN {prefix}assign a ON a.course = c.id
		INNER JOIN {prefix}assign_submission sub ON sub.assignment = a.id AND sub.userid = u.id
			AND sub.status = 'submitted' AND sub.latest = 1
		INNER JOIN {prefix}context ctx ON ctx.instanceid = c.id AND ctx.contextlevel = 50
		INNER JOIN {prefix}grade_items gi ON gi.courseid = c.id AND gi.itemtype = 'course'
		INNER JOIN {prefix}grade_grades gg ON gg.itemid = gi.id AND gg.userid = u.id
	WHERE INSTR(c.idnumber, '__') > 0
		AND u.deleted = 0
		AND cc.timecompleted IS NOT NULL
		AND cc.reaggregate = 0
		AND gg.finalgrade IS NOT NULL
		AND gg.finalgrade >= 0
		AND (a.name IN (?) OR a.name LIKE 'Final Exam Part %' OR a.name LIKE 'Final Exam V%')
		AND c.category NOT IN (` + topCategorySubquery + `)
		AND c.category NOT IN (` + namedCategorySubquery + `)
	UNION ALL
	SELECT c.idnumber, s.student_number, gg2.finalgrade, gg2.rawgrademax,
		ctx.id AS context_id, COALESCE(qa.timefinish, gg.timemodified) AS completed_at
	FROM {prefix}course c
		INNER JOIN {prefix}course_completions cc ON cc.course = c.id
		INNER JOIN {prefix}user u ON u.id = cc.userid
		INNER JOIN sis_students s ON s.username = u.username AND s.email = u.email
		INNER JOIN sis_enrollments se ON se.student_id = s.id AND se.course_idnumber = c.idnumber
		INNER JOIN {prefix}quiz q ON q.course = c.id
		INNER JOIN {prefix}grade_items gi ON gi.courseid = c.id AND gi.itemtype = 'mod'
			AND gi.itemmodule = 'quiz' AND gi.iteminstance = q.id
		INNER JOIN {prefix}grade_grades gg ON gg.itemid = gi.id AND gg.userid = u.id
		INNER JOIN {prefix}grade_items gi2 ON gi2.courseid = c.id AND gi2.itemtype = 'course'
		INNER JOIN {prefix}grade_grades gg2 ON gg2.itemid = gi2.id AND gg2.userid = u.id
		INNER JOIN {prefix}context ctx ON ctx.instanceid = c.id AND ctx.contextlevel = 50
		LEFT JOIN (
			SELECT quiz, userid, MAX(timefinish) AS timefinish
			FROM {prefix}quiz_attempts
			WHERE state = 'finished'
			GROUP BY quiz, userid
		) qa ON qa.quiz = q.id AND qa.userid = u.id
	WHERE INSTR(c.idnumber, '__') > 0
		AND u.deleted = 0
		AND cc.timecompleted IS NOT NULL
		AND gg.finalgrade IS NOT NULL
		AND gg.finalgrade >= 0
		AND gg2.finalgrade IS NOT NULL
		AND gg2.finalgrade >= 0
		AND (q.name IN (?) OR q.name LIKE 'Final Exam Part %' OR q.name LIKE 'Final Exam V%')
		AND c.category NOT IN (` + topCategorySubquery + `)
		AND c.category NOT IN (` + namedCategorySubquery + `)`

type odlScore struct {
	IDNumber      string  `db:"idnumber"`
	StudentNumber string  `db:"student_number"`
	FinalGrade    float64 `db:"finalgrade"`
	GradeMax      float64 `db:"rawgrademax"`
	ContextID     int64   `db:"context_id"`
	CompletedAt   int64   `db:"completed_at"`
}

// ODLExtractor computes letter grades for completed online distance learning courses.
type ODLExtractor struct {
	db     *sqlx.DB
	prefix string
	loc    *time.Location
	log    zerolog.Logger
}

func NewODLExtractor(db *sqlx.DB, prefix string, loc *time.Location) *ODLExtractor {
	return &ODLExtractor{db: db, prefix: prefix, loc: loc, log: logger.Component("extract-odl")}
}

func (e *ODLExtractor) Extract(ctx context.Context, _ string) ([]model.GradeRow, error) {
	query, args, err := sqlx.In(withPrefix(odlQuery, e.prefix),
		finalAssessmentNames, pdCategoryName, archivedCategoryName,
		finalAssessmentNames, pdCategoryName, archivedCategoryName)
	if err != nil {
		return nil, err
	}

	var scores []odlScore
	if err := e.db.SelectContext(ctx, &scores, e.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, nil
	}

	contextIDs := make([]int64, 0, len(scores))
	seen := make(map[int64]bool)
	for _, s := range scores {
		if !seen[s.ContextID] {
			seen[s.ContextID] = true
			contextIDs = append(contextIDs, s.ContextID)
		}
	}

	scales, err := loadLetterScales(ctx, e.db, e.prefix, contextIDs)
	if err != nil {
		return nil, err
	}

	rows := make([]model.GradeRow, 0, len(scores))
	for _, s := range scores {
		key, err := model.ParseCourseIDNumber(s.IDNumber)
		if err != nil {
			e.log.Warn().Err(err).Msg("Skipping course")
			continue
		}
		if s.GradeMax <= 0 {
			e.log.Warn().Str("course", s.IDNumber).Str("student_number", s.StudentNumber).Msg("Course total has no maximum")
			continue
		}
		letter, ok := scales.Letter(s.ContextID, s.FinalGrade/s.GradeMax*100)
		if !ok {
			e.log.Warn().Str("course", s.IDNumber).Str("student_number", s.StudentNumber).Msg("No letter fits the grade")
			continue
		}
		rows = append(rows, model.GradeRow{
			StudentNumber: s.StudentNumber,
			CourseNumber:  key.CourseNumber,
			SectionNumber: key.SectionNumber,
			Grade:         letter,
			GradeDate:     calendarDate(s.CompletedAt, e.loc),
		})
	}
	return dedupe(rows), nil
}
