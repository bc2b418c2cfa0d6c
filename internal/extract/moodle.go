package extract

import "strings"

const (
	pdCategoryName       = "Professional Development"
	archivedCategoryName = "Archived"

	// passingRatio is the share of the maximum a PD learner needs on both the
	// final assessment and the course total.
	passingRatio = 0.70
)

// finalAssessmentNames are the activity names treated as a course's final assessment.
// Names starting "Final Exam Part " or "Final Exam V" also qualify.
var finalAssessmentNames = []string{
	"Final Examination",
	"Final Examination Verification",
	"Final Exam",
	"Final Quiz",
	"Final Capstone",
	"Capstone",
	"Final Project",
}

// withPrefix expands {prefix} to Moodle's table prefix.
func withPrefix(query, prefix string) string {
	return strings.ReplaceAll(query, "{prefix}", prefix)
}

// topCategorySubquery selects categories whose top-level ancestor (up to three
// levels) has the bound name.
const topCategorySubquery = `SELECT cat.id FROM {prefix}course_categories cat
	LEFT JOIN {prefix}course_categories cat2 ON cat2.id = cat.parent
	LEFT JOIN {prefix}course_categories cat3 ON cat3.id = cat2.parent
	WHERE COALESCE(cat3.name, cat2.name, cat.name) = ?`

const namedCategorySubquery = `SELECT cat.id FROM {prefix}course_categories cat WHERE cat.name = ?`
