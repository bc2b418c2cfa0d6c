package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sis-grade-sync/internal/config"
	"sis-grade-sync/internal/model"
	"sis-grade-sync/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	jobs []model.RunJob
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job model.RunJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Pending(context.Context) (int64, error) {
	return int64(len(q.jobs)), nil
}

type fakeLedger struct{}

func (fakeLedger) Summary(_ context.Context, pipeline model.Pipeline) (*model.LedgerSummary, error) {
	return &model.LedgerSummary{Pipeline: pipeline, Total: 4, Posted: 3, Pending: 1}, nil
}

func (fakeLedger) Workbook(context.Context, model.Pipeline) (*bytes.Buffer, error) {
	return bytes.NewBufferString("PK-workbook"), nil
}

type fakeCourses map[string]*model.CourseVisibility

func (f fakeCourses) GetVisibility(_ context.Context, courseNumber string) (*model.CourseVisibility, error) {
	if v, ok := f[courseNumber]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%s: %w", courseNumber, errors.ErrCourseNotFound)
}

func newRouter(q *fakeQueue) *gin.Engine {
	gin.SetMode(gin.TestMode)
	internal := model.ApplicabilityInternal
	courses := fakeCourses{"BIOL 1001": {CourseNumber: "BIOL 1001", LocalApplicability: &internal}}
	cfg := &config.Config{App: config.AppConfig{Name: "sis-grade-sync", Version: "test"}}

	router := gin.New()
	SetupRoutes(router, NewHandler(q, fakeLedger{}, fakeLedger{}, courses, cfg))
	return router
}

func do(router *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestTriggerRun(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   int
		kind     model.JobKind
		pipeline model.Pipeline
		source   string
	}{
		{"post grades", `{"kind":"post_grades","pipeline":"odl"}`, http.StatusAccepted, model.JobPostGrades, model.PipelineODL, ""},
		{"hybrid stage keeps source", `{"kind":"stage_grades","pipeline":"hybrid","source":"hybrid/master.xlsx"}`, http.StatusAccepted, model.JobStageGrades, model.PipelineHybrid, "hybrid/master.xlsx"},
		{"pipeline ignored for visibility", `{"kind":"reconcile_visibility","pipeline":"odl"}`, http.StatusAccepted, model.JobReconcileVisibility, "", ""},
		{"missing pipeline", `{"kind":"post_grades"}`, http.StatusBadRequest, "", "", ""},
		{"unknown kind", `{"kind":"rebuild"}`, http.StatusBadRequest, "", "", ""},
		{"missing kind", `{}`, http.StatusBadRequest, "", "", ""},
		{"bad json", `{`, http.StatusBadRequest, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{}
			rec := do(newRouter(q), http.MethodPost, "/api/v1/runs", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status != http.StatusAccepted {
				assert.Empty(t, q.jobs)
				return
			}

			require.Len(t, q.jobs, 1)
			job := q.jobs[0]
			assert.Equal(t, tt.kind, job.Kind)
			assert.Equal(t, tt.pipeline, job.Pipeline)
			assert.Equal(t, tt.source, job.Source)
			assert.NotEmpty(t, job.ID)

			var resp struct {
				Job model.RunJob `json:"job"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, job.ID, resp.Job.ID)
		})
	}
}

func TestTriggerRun_QueueDown(t *testing.T) {
	rec := do(newRouter(&fakeQueue{err: fmt.Errorf("redis down")}), http.MethodPost, "/api/v1/runs", `{"kind":"sync_enrollments"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetGradesSummary(t *testing.T) {
	router := newRouter(&fakeQueue{})

	rec := do(router, http.MethodGet, "/api/v1/grades/summary?pipeline=pd", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary model.LedgerSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, model.PipelinePD, summary.Pipeline)
	assert.Equal(t, 3, summary.Posted)

	rec = do(router, http.MethodGet, "/api/v1/grades/summary?pipeline=gpa", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGradesEndpoints_EmptyPipelineCoversAll(t *testing.T) {
	router := newRouter(&fakeQueue{})

	for _, target := range []string{"/api/v1/grades/summary", "/api/v1/grades/summary?pipeline="} {
		rec := do(router, http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rec.Code, target)

		var summary model.LedgerSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
		assert.Empty(t, summary.Pipeline)
		assert.Equal(t, 4, summary.Total)
	}

	rec := do(router, http.MethodGet, "/api/v1/grades/report?pipeline=", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "all-ledger.xlsx")
}

func TestDownloadGradesReport(t *testing.T) {
	rec := do(newRouter(&fakeQueue{}), http.MethodGet, "/api/v1/grades/report?pipeline=odl", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "odl-ledger.xlsx")
	assert.Equal(t, "PK-workbook", rec.Body.String())
}

func TestGetCourseVisibility(t *testing.T) {
	router := newRouter(&fakeQueue{})

	rec := do(router, http.MethodGet, "/api/v1/courses/BIOL%201001/visibility", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Internal"`)

	rec = do(router, http.MethodGet, "/api/v1/courses/NOPE%201000/visibility", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	q := &fakeQueue{jobs: []model.RunJob{model.NewRunJob(model.JobSyncEnrollments, "")}}
	rec := do(newRouter(q), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 1, body["queued_runs"])
}
