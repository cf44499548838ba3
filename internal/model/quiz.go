package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// swagger:model Quiz
type Quiz struct {
	BaseModel
	CourseOfferingID uint            `gorm:"index;not null" json:"courseOfferingId" validate:"required"`
	GradeItemID      *uint           `gorm:"index" json:"gradeItemId,omitempty"` // gradebook item fed by this quiz
	Title            string          `gorm:"size:255;not null" json:"title" validate:"required,max=255"`
	StartTime        time.Time       `json:"startTime" validate:"required"`
	EndTime          time.Time       `json:"endTime" validate:"required,gtfield=StartTime"`
	DurationMinutes  int             `gorm:"default:0" json:"durationMinutes" validate:"gte=0"` // 0 = unlimited
	MaxAttempts      int             `gorm:"not null" json:"maxAttempts" validate:"gte=1"`
	PassingScore     decimal.Decimal `gorm:"type:decimal(6,2);default:0" json:"passingScore" validate:"gte=0,lte=100"`
	UseBestAttempt   bool            `gorm:"not null" json:"useBestAttempt"`
	AutoSubmit       bool            `gorm:"not null" json:"autoSubmit"`
	IsActive         bool            `gorm:"not null" json:"isActive"`

	UseRandomQuestions     bool `gorm:"not null" json:"useRandomQuestions"`
	RandomQuestionCount    int  `gorm:"default:0" json:"randomQuestionCount" validate:"gte=0"`
	RandomQuestionPoolSize int  `gorm:"default:0" json:"randomQuestionPoolSize" validate:"gte=0"`
}

func (Quiz) TableName() string {
	return "quizzes"
}

// IsAvailable reports whether now falls inside the availability window.
func (q *Quiz) IsAvailable(now time.Time) bool {
	return !now.Before(q.StartTime) && !now.After(q.EndTime)
}

func (q *Quiz) Duration() time.Duration {
	return time.Duration(q.DurationMinutes) * time.Minute
}
