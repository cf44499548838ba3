package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type AttemptStatus string

const (
	AttemptInProgress    AttemptStatus = "in_progress"
	AttemptSubmitted     AttemptStatus = "submitted"
	AttemptAutoSubmitted AttemptStatus = "auto_submitted"
	AttemptAbandoned     AttemptStatus = "abandoned"
)

// IsFinished reports whether the attempt carries a settled score.
func (s AttemptStatus) IsFinished() bool {
	return s == AttemptSubmitted || s == AttemptAutoSubmitted
}

// swagger:model QuizAttempt
type QuizAttempt struct {
	BaseModel
	QuizID           uint                `gorm:"uniqueIndex:idx_attempt_number;not null" json:"quizId"`
	StudentID        uint                `gorm:"uniqueIndex:idx_attempt_number;not null;index" json:"studentId"`
	AttemptNumber    int                 `gorm:"uniqueIndex:idx_attempt_number;not null" json:"attemptNumber"`
	Status           AttemptStatus       `gorm:"size:20;not null;index" json:"status"`
	StartedAt        time.Time           `json:"startedAt"`
	SubmittedAt      *time.Time          `json:"submittedAt,omitempty"`
	Score            decimal.NullDecimal `gorm:"type:decimal(10,4)" json:"score"`
	Percentage       decimal.NullDecimal `gorm:"type:decimal(10,4)" json:"percentage"`
	TimeSpentSeconds int                 `gorm:"default:0" json:"timeSpentSeconds"`
	ClientIP         string              `gorm:"size:45" json:"clientIp"`
}

func (QuizAttempt) TableName() string {
	return "quiz_attempts"
}

// IsExpired is true iff the quiz is timed, the attempt is still in progress
// and more than the allowed duration has elapsed since it started.
func (a *QuizAttempt) IsExpired(quiz *Quiz, now time.Time) bool {
	if quiz.DurationMinutes <= 0 || a.Status != AttemptInProgress {
		return false
	}
	return now.Sub(a.StartedAt) > quiz.Duration()
}

// RemainingSeconds is -1 for untimed quizzes and never negative otherwise.
func (a *QuizAttempt) RemainingSeconds(quiz *Quiz, now time.Time) int {
	if quiz.DurationMinutes <= 0 {
		return -1
	}
	if a.Status != AttemptInProgress {
		return 0
	}
	left := int(quiz.Duration().Seconds() - now.Sub(a.StartedAt).Seconds())
	if left < 0 {
		return 0
	}
	return left
}

// swagger:model QuizAnswer
type QuizAnswer struct {
	BaseModel
	AttemptID      uint            `gorm:"uniqueIndex:idx_answer_attempt_question;not null" json:"attemptId"`
	QuizQuestionID uint            `gorm:"uniqueIndex:idx_answer_attempt_question;not null" json:"quizQuestionId"`
	Response       string          `gorm:"type:text" json:"response"`
	IsCorrect      *bool           `json:"isCorrect"` // nil until graded
	PointsEarned   decimal.Decimal `gorm:"type:decimal(8,2);not null;default:0" json:"pointsEarned"`
	GradedBy       uint            `json:"gradedBy,omitempty"`
	GradedAt       *time.Time      `json:"gradedAt,omitempty"`
}

func (QuizAnswer) TableName() string {
	return "quiz_answers"
}
