package report

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"sis-grade-sync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var started = time.Date(2023, 4, 14, 2, 0, 0, 0, time.UTC)

func ledgerRecords() []model.GradeRecord {
	section := "SEC-9001"
	posted := model.ReasonPosted
	rejected := "Grading sheet is locked"
	postedAt := started.Add(time.Minute)
	return []model.GradeRecord{
		{ID: 1, Pipeline: model.PipelineODL, StudentNumber: "X001688", CourseNumber: "ACCT 2001", SectionNumber: "003",
			GradeValue: "A-", GradeDate: time.Date(2023, 4, 13, 0, 0, 0, 0, time.UTC), RemoteSectionID: &section,
			PostStatus: model.PostStatusPosted, Reason: &posted, PostedAt: &postedAt},
		{ID: 2, Pipeline: model.PipelineODL, StudentNumber: "X001689", CourseNumber: "ACCT 2001", SectionNumber: "003",
			GradeValue: "B", GradeDate: time.Date(2023, 4, 13, 0, 0, 0, 0, time.UTC), RemoteSectionID: &section,
			PostStatus: model.PostStatusFailed, Reason: &rejected},
	}
}

func TestFormatSummary(t *testing.T) {
	summary := &model.RunSummary{
		JobID:      "job-1",
		Kind:       model.JobPostGrades,
		Pipeline:   model.PipelineODL,
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Processed:  3,
		Posted:     1,
		Reposted:   1,
		Failed:     1,
	}
	summary.AddFailure("X001689 ACCT 2001 - 003", "Grading sheet is locked")

	text := FormatSummary(summary)
	assert.Contains(t, text, "Pipeline:  odl")
	assert.Contains(t, text, "Duration:  1m30s")
	assert.Contains(t, text, "Posted again:      1")
	assert.Contains(t, text, "X001689 ACCT 2001 - 003: Grading sheet is locked")
	assert.NotContains(t, text, "Enrolled")

	assert.Equal(t, "post_grades ODL finished with problems (2023-04-14)", Subject(summary))
}

func TestFormatSummary_TruncatesFailures(t *testing.T) {
	summary := &model.RunSummary{Kind: model.JobSyncEnrollments, StartedAt: started}
	for i := 0; i < maxFailureLines+5; i++ {
		summary.AddFailure("course", "boom")
	}

	text := FormatSummary(summary)
	assert.Equal(t, maxFailureLines, strings.Count(text, "course: boom"))
	assert.Contains(t, text, "... and 5 more")
}

func TestBuildWorkbook(t *testing.T) {
	summary := &model.LedgerSummary{Pipeline: model.PipelineODL, Total: 2, Posted: 1, Failed: 1, Errors: []string{"Grading sheet is locked"}}

	buf, err := BuildWorkbook(ledgerRecords(), summary)
	require.NoError(t, err)

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{ledgerSheet, summarySheet}, f.GetSheetList())

	rows, err := f.GetRows(ledgerSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Student Number", rows[0][2])
	assert.Equal(t, []string{"1", "odl", "X001688", "ACCT 2001", "003", "A-", "2023-04-13", "SEC-9001", "POSTED", model.ReasonPosted, "2023-04-14 02:01:00"}, rows[1])
	assert.Equal(t, "Grading sheet is locked", rows[2][9])

	total, err := f.GetCellValue(summarySheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "2", total)
}

type fakeLedger struct{}

func (fakeLedger) Summary(_ context.Context, pipeline model.Pipeline) (*model.LedgerSummary, error) {
	return &model.LedgerSummary{Pipeline: pipeline, Total: 2}, nil
}

func (fakeLedger) ListForReport(context.Context, model.Pipeline) ([]model.GradeRecord, error) {
	return ledgerRecords(), nil
}

type uploadRecorder struct {
	key         string
	contentType string
	size        int
}

func (u *uploadRecorder) Download(context.Context, string) (io.ReadCloser, error) { return nil, nil }
func (u *uploadRecorder) Delete(context.Context, string) error { return nil }
func (u *uploadRecorder) Exists(context.Context, string) (bool, error) { return false, nil }
func (u *uploadRecorder) Latest(context.Context, string) (string, error) { return "", nil }

func (u *uploadRecorder) Upload(_ context.Context, key string, data io.ReadSeeker, contentType string) error {
	b, err := io.ReadAll(data)
	u.key, u.contentType, u.size = key, contentType, len(b)
	return err
}

func TestPublisher_Publish(t *testing.T) {
	store := &uploadRecorder{}
	publisher := NewPublisher(fakeLedger{}, store, "reports/")

	key, err := publisher.Publish(context.Background(), &model.RunSummary{Kind: model.JobPostGrades, Pipeline: model.PipelinePD, StartedAt: started})
	require.NoError(t, err)

	assert.Equal(t, "reports/pd/20230414-020000-post_grades.xlsx", key)
	assert.Equal(t, key, store.key)
	assert.Equal(t, xlsxContentType, store.contentType)
	assert.Positive(t, store.size)

	key, err = publisher.Publish(context.Background(), &model.RunSummary{Kind: model.JobReconcileVisibility, StartedAt: started})
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestPublisher_WorkbookWithoutStorage(t *testing.T) {
	buf, err := NewPublisher(fakeLedger{}, nil, "reports/").Workbook(context.Background(), model.PipelineODL)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("PK")))
}
