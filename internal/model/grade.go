package model

import (
	"fmt"
	"strings"
	"time"
)

// Pipeline names the extraction feed a ledger row came from.
type Pipeline string

const (
	PipelineODL    Pipeline = "odl"
	PipelinePD     Pipeline = "pd"
	PipelineHybrid Pipeline = "hybrid"
)

func ParsePipeline(s string) (Pipeline, error) {
	switch p := Pipeline(strings.ToLower(strings.TrimSpace(s))); p {
	case PipelineODL, PipelinePD, PipelineHybrid:
		return p, nil
	}
	return "", fmt.Errorf("unknown pipeline %q", s)
}

type PostStatus string

const (
	PostStatusPending PostStatus = "PENDING"
	PostStatusPosted  PostStatus = "POSTED"
	PostStatusFailed  PostStatus = "FAILED"
)

const (
	ReasonPosted        = "posted to SIS"
	ReasonPostedAgain   = "posted to SIS again"
	ReasonSectionLookup = "remote section id fetched"
)

// RecordState is where a ledger row sits in the posting state machine.
type RecordState string

const (
	StatePending         RecordState = "Pending"
	StateSectionResolved RecordState = "SectionResolved"
	StatePosted          RecordState = "Posted"
	StatePostFailed      RecordState = "PostFailed"
)

// GradeRecord is one row of the posting ledger (sis_grades).
type GradeRecord struct {
	ID              int64      `json:"id" db:"id"`
	Pipeline        Pipeline   `json:"pipeline" db:"pipeline"`
	StudentNumber   string     `json:"student_number" db:"student_number"`
	CourseNumber    string     `json:"course_number" db:"course_number"`
	SectionNumber   string     `json:"section_number" db:"section_number"`
	GradeValue      string     `json:"grade_value" db:"grade_value"`
	GradeDate       time.Time  `json:"grade_date" db:"grade_date"`
	RemoteSectionID *string    `json:"remote_section_id,omitempty" db:"remote_section_id"`
	PostStatus      PostStatus `json:"post_status" db:"post_status"`
	Reason          *string    `json:"reason,omitempty" db:"reason"`
	PostedAt        *time.Time `json:"posted_at,omitempty" db:"posted_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

func (g *GradeRecord) State() RecordState {
	switch {
	case g.PostStatus == PostStatusPosted:
		return StatePosted
	case g.PostStatus == PostStatusFailed:
		return StatePostFailed
	case g.RemoteSectionID != nil && *g.RemoteSectionID != "":
		return StateSectionResolved
	default:
		return StatePending
	}
}

// SectionKey identifies the course section a record posts into.
func (g *GradeRecord) SectionKey() SectionKey {
	return SectionKey{CourseNumber: g.CourseNumber, SectionNumber: g.SectionNumber}
}

type SectionKey struct {
	CourseNumber  string
	SectionNumber string
}

// IDNumber is the Moodle course idnumber for the section, "<course>__<section>".
func (k SectionKey) IDNumber() string {
	return k.CourseNumber + "__" + k.SectionNumber
}

func (k SectionKey) String() string {
	return k.CourseNumber + " - " + k.SectionNumber
}

// ParseCourseIDNumber splits a Moodle idnumber such as "ACCT 2001__003".
func ParseCourseIDNumber(idnumber string) (SectionKey, error) {
	course, section, ok := strings.Cut(idnumber, "__")
	course = strings.TrimSpace(course)
	if i := strings.LastIndex(section, "__"); i >= 0 {
		section = section[i+2:]
	}
	section = strings.TrimSpace(section)
	if !ok || course == "" || section == "" {
		return SectionKey{}, fmt.Errorf("malformed course idnumber %q", idnumber)
	}
	return SectionKey{CourseNumber: course, SectionNumber: section}, nil
}

// GradeRow is what an extractor produces and the ledger stages.
type GradeRow struct {
	StudentNumber string    `json:"student_number" db:"student_number"`
	CourseNumber  string    `json:"course_number" db:"course_number"`
	SectionNumber string    `json:"section_number" db:"section_number"`
	Grade         string    `json:"grade" db:"grade_value"`
	GradeDate     time.Time `json:"grade_date" db:"grade_date"`
}

type LedgerSummary struct {
	Pipeline   Pipeline   `json:"pipeline,omitempty"`
	Total      int        `json:"total" db:"total"`
	Pending    int        `json:"pending" db:"pending"`
	Posted     int        `json:"posted" db:"posted"`
	Failed     int        `json:"failed" db:"failed"`
	Unresolved int        `json:"unresolved" db:"unresolved"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty" db:"updated_at"`
	Errors     []string   `json:"errors,omitempty"`
}
