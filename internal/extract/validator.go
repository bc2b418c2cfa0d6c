package extract

import (
	"regexp"
	"strings"

	"sis-grade-sync/internal/model"
	"sis-grade-sync/pkg/errors"
)

type Validator struct {
	studentNumberRegex *regexp.Regexp
}

func NewValidator() *Validator {
	return &Validator{
		studentNumberRegex: regexp.MustCompile(`^[A-Za-z0-9]{4,20}$`),
	}
}

// Validate splits rows into those fit for the ledger and the problems found in the rest.
func (v *Validator) Validate(rows []model.GradeRow) ([]model.GradeRow, []error) {
	valid := make([]model.GradeRow, 0, len(rows))
	var problems []error
	for _, row := range rows {
		if err := v.validateRow(row); err != nil {
			problems = append(problems, err)
			continue
		}
		valid = append(valid, row)
	}
	return valid, problems
}

func (v *Validator) validateRow(row model.GradeRow) error {
	if !v.studentNumberRegex.MatchString(row.StudentNumber) {
		return errors.ValidationError{
			Field:   "student_number",
			Value:   row.StudentNumber,
			Message: "must be 4-20 alphanumeric characters",
		}
	}

	if row.CourseNumber == "" || len(row.CourseNumber) > 64 || strings.Contains(row.CourseNumber, "__") {
		return errors.ValidationError{
			Field:   "course_number",
			Value:   row.CourseNumber,
			Message: "must be set, at most 64 characters and free of \"__\"",
		}
	}

	if row.SectionNumber == "" || len(row.SectionNumber) > 32 {
		return errors.ValidationError{
			Field:   "section_number",
			Value:   row.SectionNumber,
			Message: "must be set and at most 32 characters",
		}
	}

	if row.Grade == "" || len(row.Grade) > 32 {
		return errors.ValidationError{
			Field:   "grade",
			Value:   row.Grade,
			Message: "must be set and at most 32 characters",
		}
	}

	if row.GradeDate.IsZero() {
		return errors.ValidationError{
			Field:   "grade_date",
			Value:   row.GradeDate,
			Message: "grade date is required",
		}
	}

	return nil
}
