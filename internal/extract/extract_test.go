package extract

import (
	"context"
	"testing"
	"time"

	"sis-grade-sync/internal/model"
	"sis-grade-sync/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var completed = time.Date(2023, 4, 13, 0, 0, 0, 0, time.UTC)

type stubExtractor struct {
	rows   []model.GradeRow
	source string
}

func (s *stubExtractor) Extract(_ context.Context, source string) ([]model.GradeRow, error) {
	s.source = source
	return s.rows, nil
}

type recordingStager struct {
	pipeline model.Pipeline
	rows     []model.GradeRow
}

func (r *recordingStager) StageGrades(_ context.Context, pipeline model.Pipeline, rows []model.GradeRow) (int, error) {
	r.pipeline = pipeline
	r.rows = rows
	return len(rows), nil
}

func TestService_StageSkipsInvalidRows(t *testing.T) {
	extractor := &stubExtractor{rows: []model.GradeRow{
		{StudentNumber: "X001688", CourseNumber: "ACCT 2001", SectionNumber: "003", Grade: "A-", GradeDate: completed},
		{StudentNumber: "??", CourseNumber: "ACCT 2001", SectionNumber: "003", Grade: "B", GradeDate: completed},
		{StudentNumber: "X001690", CourseNumber: "ACCT 2001", SectionNumber: "003", Grade: "", GradeDate: completed},
	}}
	stager := &recordingStager{}
	service := NewService(stager, map[model.Pipeline]Extractor{model.PipelineHybrid: extractor})

	result, err := service.Stage(context.Background(), model.PipelineHybrid, "hybrid/master.xlsx")
	require.NoError(t, err)

	assert.Equal(t, "hybrid/master.xlsx", extractor.source)
	assert.Equal(t, model.PipelineHybrid, stager.pipeline)
	assert.Equal(t, 3, result.Extracted)
	assert.Equal(t, 2, result.Invalid)
	assert.Equal(t, 1, result.Staged)
	require.Len(t, stager.rows, 1)
	assert.Equal(t, "X001688", stager.rows[0].StudentNumber)

	var verr errors.ValidationError
	require.True(t, errors.As(result.Problems[0], &verr))
	assert.Equal(t, "student_number", verr.Field)
}

func TestService_StageUnknownPipeline(t *testing.T) {
	service := NewService(&recordingStager{}, map[model.Pipeline]Extractor{})

	_, err := service.Stage(context.Background(), model.PipelinePD, "")
	assert.ErrorIs(t, err, errors.ErrUnknownPipeline)
}

func TestDedupe(t *testing.T) {
	row := model.GradeRow{StudentNumber: "X001688", CourseNumber: "ACCT 2001", SectionNumber: "003", Grade: "A-", GradeDate: completed}
	later := row
	later.GradeDate = completed.AddDate(0, 0, 1)
	other := row
	other.Grade = "B"

	out := dedupe([]model.GradeRow{row, row, later, other, later})
	require.Len(t, out, 3)
	assert.Equal(t, completed, out[0].GradeDate)
	assert.Equal(t, completed.AddDate(0, 0, 1), out[1].GradeDate)
	assert.Equal(t, "B", out[2].Grade)
}

func TestCalendarDate(t *testing.T) {
	chicago := time.FixedZone("CDT", -5*3600)

	tests := []struct {
		name string
		unix int64
		want time.Time
	}{
		{"afternoon", time.Date(2023, 4, 13, 20, 0, 0, 0, time.UTC).Unix(), completed},
		{"after UTC midnight", time.Date(2023, 4, 14, 3, 0, 0, 0, time.UTC).Unix(), completed},
		{"after local midnight", time.Date(2023, 4, 14, 6, 0, 0, 0, time.UTC).Unix(), completed.AddDate(0, 0, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, calendarDate(tt.unix, chicago))
		})
	}
}

func TestValidator(t *testing.T) {
	valid := model.GradeRow{StudentNumber: "X001688", CourseNumber: "ACCT 2001", SectionNumber: "003", Grade: "A-", GradeDate: completed}

	tests := []struct {
		name  string
		edit  func(*model.GradeRow)
		field string
	}{
		{"valid", func(*model.GradeRow) {}, ""},
		{"short student number", func(r *model.GradeRow) { r.StudentNumber = "X1" }, "student_number"},
		{"student number with spaces", func(r *model.GradeRow) { r.StudentNumber = "X00 1688" }, "student_number"},
		{"missing course", func(r *model.GradeRow) { r.CourseNumber = "" }, "course_number"},
		{"course with separator", func(r *model.GradeRow) { r.CourseNumber = "ACCT__2001" }, "course_number"},
		{"missing section", func(r *model.GradeRow) { r.SectionNumber = "" }, "section_number"},
		{"missing grade", func(r *model.GradeRow) { r.Grade = "" }, "grade"},
		{"missing date", func(r *model.GradeRow) { r.GradeDate = time.Time{} }, "grade_date"},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := valid
			tt.edit(&row)
			ok, problems := v.Validate([]model.GradeRow{row})
			if tt.field == "" {
				assert.Len(t, ok, 1)
				assert.Empty(t, problems)
				return
			}
			assert.Empty(t, ok)
			require.Len(t, problems, 1)
			var verr errors.ValidationError
			require.True(t, errors.As(problems[0], &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestLetterScales(t *testing.T) {
	scales := newLetterScales([]letterBoundary{
		{ContextID: siteContextID, Letter: "F", LowerBoundary: 0},
		{ContextID: siteContextID, Letter: "A", LowerBoundary: 93},
		{ContextID: siteContextID, Letter: "B", LowerBoundary: 83},
		{ContextID: siteContextID, Letter: "A-", LowerBoundary: 90},
		{ContextID: 77, Letter: "P", LowerBoundary: 50},
	})

	tests := []struct {
		name      string
		contextID int64
		percent   float64
		want      string
		ok        bool
	}{
		{"site top", 55, 95, "A", true},
		{"site boundary is inclusive", 55, 90, "A-", true},
		{"site between", 55, 85, "B", true},
		{"site bottom", 55, 12, "F", true},
		{"course scale wins", 77, 95, "P", true},
		{"course scale has no fallback", 77, 40, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := scales.Letter(tt.contextID, tt.percent)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
