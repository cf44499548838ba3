package util

import (
	"strings"

	"github.com/pkg/errors"
)

// Error roots. Every error the services return matches exactly one of them
// through errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrStateConflict    = errors.New("state conflict")
	ErrPermissionDenied = errors.New("permission denied")
	ErrValidation       = errors.New("validation failed")
)

var (
	ErrCourseNotFound     = errors.WithMessage(ErrNotFound, "course offering")
	ErrEnrollmentNotFound = errors.WithMessage(ErrNotFound, "enrollment")
	ErrCategoryNotFound   = errors.WithMessage(ErrNotFound, "grade category")
	ErrItemNotFound       = errors.WithMessage(ErrNotFound, "grade item")
	ErrQuizNotFound       = errors.WithMessage(ErrNotFound, "quiz")
	ErrQuestionNotFound   = errors.WithMessage(ErrNotFound, "question")
	ErrAttemptNotFound    = errors.WithMessage(ErrNotFound, "attempt")
	ErrAnswerNotFound     = errors.WithMessage(ErrNotFound, "answer")

	ErrQuizNotActive        = errors.WithMessage(ErrStateConflict, "quiz is not active")
	ErrQuizNotAvailable     = errors.WithMessage(ErrStateConflict, "quiz is outside its availability window")
	ErrAttemptLimitReached  = errors.WithMessage(ErrStateConflict, "attempt limit reached")
	ErrAttemptInProgress    = errors.WithMessage(ErrStateConflict, "an attempt is already in progress")
	ErrDuplicateAttempt     = errors.WithMessage(ErrStateConflict, "duplicate attempt number")
	ErrAttemptNotInProgress = errors.WithMessage(ErrStateConflict, "attempt is not in progress")
	ErrTimeUp               = errors.WithMessage(ErrStateConflict, "time's up, please submit")
	ErrAnswerNotGradable    = errors.WithMessage(ErrStateConflict, "answer is auto-graded")
	ErrArchiveDisabled      = errors.WithMessage(ErrStateConflict, "transcript archive is disabled")
	ErrConcurrentWrite      = errors.WithMessage(ErrStateConflict, "record was written concurrently, retry")

	ErrNotAttemptOwner = errors.WithMessage(ErrPermissionDenied, "attempt belongs to another student")
	ErrInstructorOnly  = errors.WithMessage(ErrPermissionDenied, "instructor or admin role required")
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(msg string, flds ...FieldError) error {
	return &ValidationError{Err: errors.WithMessage(ErrValidation, msg), Fields: flds}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return ErrValidation.Error()
	}
	if len(e.Fields) == 0 {
		return e.Err.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return e.Err.Error() + " (" + strings.Join(parts, "; ") + ")"
}

func (e *ValidationError) Unwrap() error {
	if e.Err == nil {
		return ErrValidation
	}
	return e.Err
}
