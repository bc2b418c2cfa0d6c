package model

import "time"

type EnrollAction string

const (
	EnrollActionEnroll   EnrollAction = "enroll"
	EnrollActionUnenroll EnrollAction = "unenroll"
)

// Student mirrors the SIS identity of a learner (sis_students).
type Student struct {
	ID            int64     `json:"id" db:"id"`
	SISID         string    `json:"sis_id" db:"sis_id"`
	StudentNumber string    `json:"student_number" db:"student_number"`
	SchoolID      *string   `json:"school_id,omitempty" db:"school_id"`
	Username      string    `json:"username" db:"username"`
	Email         string    `json:"email" db:"email"`
	FirstName     string    `json:"first_name" db:"first_name"`
	LastName      string    `json:"last_name" db:"last_name"`
	MoodleUserID  *int64    `json:"moodle_user_id,omitempty" db:"moodle_user_id"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// StudentEnrollment is one class-list entry resolved into absolute times.
type StudentEnrollment struct {
	CourseIDNumber   string       `json:"course_idnumber" db:"course_idnumber"`
	Student          Student      `json:"student"`
	Action           EnrollAction `json:"action" db:"action"`
	EnrollmentStatus string       `json:"enrollment_status" db:"enrollment_status"`
	EnrollStart      int64        `json:"enroll_start" db:"enroll_start"`
	EnrollEnd        int64        `json:"enroll_end" db:"enroll_end"`
}

// MoodleCourse is a Moodle course row whose idnumber maps to an SIS section.
type MoodleCourse struct {
	ID       int64  `db:"id"`
	IDNumber string `db:"idnumber"`
	Category int64  `db:"category"`
}
