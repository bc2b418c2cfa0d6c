package errors

import (
	"errors"
	"fmt"
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrUnauthorized         = errors.New("session rejected by SIS")
	ErrSectionNotFound      = errors.New("course section not found")
	ErrCourseNotFound       = errors.New("course not found")
	ErrInvalidFileFormat    = errors.New("invalid file format")
	ErrSchemaValidation     = errors.New("schema validation failed")
	ErrUnknownPipeline      = errors.New("unknown grade pipeline")
	ErrUnknownJobKind       = errors.New("unknown job kind")
)

type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s",
		e.Field, e.Value, e.Message)
}

type RetryableError struct {
	Err     error
	Message string
}

func (e RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %s - %s", e.Message, e.Err.Error())
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

func NewRetryableError(err error, message string) error {
	return RetryableError{
		Err:     err,
		Message: message,
	}
}

// IsRetryable reports whether err is (or wraps) a RetryableError.
func IsRetryable(err error) bool {
	var re RetryableError
	return errors.As(err, &re)
}

// RemoteUpdateError is returned when updateCourse answers with anything but "Success".
type RemoteUpdateError struct {
	CourseNumber string
	ResponseCode string
}

func (e RemoteUpdateError) Error() string {
	code := e.ResponseCode
	if code == "" {
		code = "<empty>"
	}
	return fmt.Sprintf("update of course %s not confirmed: response code %s", e.CourseNumber, code)
}

// ResponseShapeError means the SIS answered, but the body lacked a field we depend on.
type ResponseShapeError struct {
	Endpoint string
	Field    string
}

func (e ResponseShapeError) Error() string {
	return fmt.Sprintf("unexpected %s response: missing %s", e.Endpoint, e.Field)
}

// Is, As and New forward to the standard library so callers need a single errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func New(text string) error { return errors.New(text) }
