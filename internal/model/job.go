package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	JobStageGrades         JobKind = "stage_grades"
	JobPostGrades          JobKind = "post_grades"
	JobReconcileVisibility JobKind = "reconcile_visibility"
	JobUndoVisibility      JobKind = "undo_visibility"
	JobSyncEnrollments     JobKind = "sync_enrollments"
)

func ParseJobKind(s string) (JobKind, error) {
	switch k := JobKind(s); k {
	case JobStageGrades, JobPostGrades, JobReconcileVisibility, JobUndoVisibility, JobSyncEnrollments:
		return k, nil
	}
	return "", fmt.Errorf("unknown job kind %q", s)
}

// NeedsPipeline reports whether the job operates on a single grade pipeline.
func (k JobKind) NeedsPipeline() bool {
	return k == JobStageGrades || k == JobPostGrades
}

// RunJob is a queued request to run one batch workflow.
type RunJob struct {
	ID          string    `json:"id"`
	Kind        JobKind   `json:"kind"`
	Pipeline    Pipeline  `json:"pipeline,omitempty"`
	Source      string    `json:"source,omitempty"` // storage key for hybrid master files
	RequestedAt time.Time `json:"requested_at"`
}

func NewRunJob(kind JobKind, pipeline Pipeline) RunJob {
	return RunJob{
		ID:          uuid.NewString(),
		Kind:        kind,
		Pipeline:    pipeline,
		RequestedAt: time.Now().UTC(),
	}
}

func (j RunJob) Title() string {
	if j.Pipeline != "" {
		return fmt.Sprintf("%s (%s)", j.Kind, j.Pipeline)
	}
	return string(j.Kind)
}

type RunRequest struct {
	Kind     string `json:"kind" binding:"required"`
	Pipeline string `json:"pipeline"`
	Source   string `json:"source"`
}

// FailureLine is one record the run could not complete.
type FailureLine struct {
	Subject string `json:"subject"`
	Reason  string `json:"reason"`
}

// RunSummary aggregates what a batch run did; it is logged, emailed and reported.
type RunSummary struct {
	JobID          string        `json:"job_id"`
	Kind           JobKind       `json:"kind"`
	Pipeline       Pipeline      `json:"pipeline,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Processed      int           `json:"processed"`
	Staged         int           `json:"staged"`
	Posted         int           `json:"posted"`
	Reposted       int           `json:"reposted"`
	Failed         int           `json:"failed"`
	Dropped        int           `json:"dropped"`
	SectionMissing int           `json:"section_missing"`
	Resolved       int           `json:"resolved"`
	CoursesChanged int           `json:"courses_changed"`
	Undone         int           `json:"undone"`
	Enrolled       int           `json:"enrolled"`
	Errors         int           `json:"errors"`
	TokenRefreshes int           `json:"token_refreshes"`
	Failures       []FailureLine `json:"failures,omitempty"`
}

func (s *RunSummary) AddFailure(subject, reason string) {
	s.Failures = append(s.Failures, FailureLine{Subject: subject, Reason: reason})
}

func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
