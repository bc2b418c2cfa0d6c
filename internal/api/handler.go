package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"sis-grade-sync/internal/config"
	"sis-grade-sync/internal/logger"
	"sis-grade-sync/internal/model"
	"sis-grade-sync/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type RunQueue interface {
	Enqueue(ctx context.Context, job model.RunJob) error
	Pending(ctx context.Context) (int64, error)
}

type LedgerReader interface {
	Summary(ctx context.Context, pipeline model.Pipeline) (*model.LedgerSummary, error)
}

type WorkbookBuilder interface {
	Workbook(ctx context.Context, pipeline model.Pipeline) (*bytes.Buffer, error)
}

type VisibilityReader interface {
	GetVisibility(ctx context.Context, courseNumber string) (*model.CourseVisibility, error)
}

type Handler struct {
	queue   RunQueue
	ledger  LedgerReader
	reports WorkbookBuilder
	courses VisibilityReader
	cfg     *config.Config
	log     zerolog.Logger
}

func NewHandler(queue RunQueue, ledger LedgerReader, reports WorkbookBuilder, courses VisibilityReader, cfg *config.Config) *Handler {
	return &Handler{
		queue:   queue,
		ledger:  ledger,
		reports: reports,
		courses: courses,
		cfg:     cfg,
		log:     logger.Component("api"),
	}
}

// TriggerRun queues a batch run for the run worker.
func (h *Handler) TriggerRun(c *gin.Context) {
	var req model.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	kind, err := model.ParseJobKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var pipeline model.Pipeline
	if kind.NeedsPipeline() {
		if pipeline, err = model.ParsePipeline(req.Pipeline); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	job := model.NewRunJob(kind, pipeline)
	if pipeline == model.PipelineHybrid {
		job.Source = strings.TrimSpace(req.Source)
	}

	if err := h.queue.Enqueue(c.Request.Context(), job); err != nil {
		h.log.Error().Err(err).Str("job", job.Title()).Msg("Failed to enqueue run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue run"})
		return
	}

	h.log.Info().Str("job_id", job.ID).Str("job", job.Title()).Msg("Run enqueued")

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Run queued successfully",
		"job":     job,
	})
}

func (h *Handler) GetGradesSummary(c *gin.Context) {
	pipeline, ok := h.pipelineParam(c)
	if !ok {
		return
	}

	summary, err := h.ledger.Summary(c.Request.Context(), pipeline)
	if err != nil {
		h.log.Error().Err(err).Str("pipeline", string(pipeline)).Msg("Failed to get ledger summary")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// DownloadGradesReport streams the current ledger workbook of a pipeline.
func (h *Handler) DownloadGradesReport(c *gin.Context) {
	pipeline, ok := h.pipelineParam(c)
	if !ok {
		return
	}

	buf, err := h.reports.Workbook(c.Request.Context(), pipeline)
	if err != nil {
		h.log.Error().Err(err).Str("pipeline", string(pipeline)).Msg("Failed to build ledger report")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	scope := string(pipeline)
	if scope == "" {
		scope = "all"
	}
	filename := fmt.Sprintf("%s-ledger.xlsx", scope)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *Handler) GetCourseVisibility(c *gin.Context) {
	courseNumber := strings.TrimSpace(c.Param("course_number"))

	visibility, err := h.courses.GetVisibility(c.Request.Context(), courseNumber)
	if err != nil {
		if errors.Is(err, errors.ErrCourseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Course not found"})
			return
		}
		h.log.Error().Err(err).Str("course_number", courseNumber).Msg("Failed to get course visibility")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, visibility)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"service": h.cfg.App.Name,
		"version": h.cfg.App.Version,
	}
	if pending, err := h.queue.Pending(c.Request.Context()); err == nil {
		body["queued_runs"] = pending
	} else {
		h.log.Warn().Err(err).Msg("Failed to read run queue length")
	}
	c.JSON(http.StatusOK, body)
}

// pipelineParam reads ?pipeline=; an empty value selects every pipeline.
func (h *Handler) pipelineParam(c *gin.Context) (model.Pipeline, bool) {
	raw := strings.TrimSpace(c.Query("pipeline"))
	if raw == "" {
		return "", true
	}
	pipeline, err := model.ParsePipeline(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return pipeline, true
}
