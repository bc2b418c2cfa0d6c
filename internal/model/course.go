package model

import "time"

type Applicability string

const (
	ApplicabilityPublic   Applicability = "Public"
	ApplicabilityInternal Applicability = "Internal"
)

type CourseStatus string

const (
	CourseStatusActive   CourseStatus = "Active"
	CourseStatusInactive CourseStatus = "Inactive"
)

// CourseVisibility is the per-course bookkeeping for visibility reconciliation.
// Local* hold the values observed before this system changed the course; a
// non-nil value means it has been logged.
type CourseVisibility struct {
	CourseNumber        string         `json:"course_number" db:"course_number"`
	RemoteApplicability *Applicability `json:"remote_applicability,omitempty" db:"remote_applicability"`
	RemoteStatus        *CourseStatus  `json:"remote_status,omitempty" db:"remote_status"`
	LocalApplicability  *Applicability `json:"local_applicability,omitempty" db:"local_applicability"`
	LocalStatus         *CourseStatus  `json:"local_status,omitempty" db:"local_status"`
	UndoApplied         bool           `json:"undo_applied" db:"undo_applied"`
	CreatedAt           time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at" db:"updated_at"`
}

func (v *CourseVisibility) ApplicabilityLogged() bool {
	return v.LocalApplicability != nil
}

func (v *CourseVisibility) StatusLogged() bool {
	return v.LocalStatus != nil
}

// RemoteState is what the SIS reports for a course. Empty fields are unknown.
type RemoteState struct {
	Applicability Applicability
	Status        CourseStatus
}

func (s RemoteState) Known() bool {
	return s.Applicability != ""
}
