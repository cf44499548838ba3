package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Grade is the single score row of one student on one grade item.
// swagger:model Grade
type Grade struct {
	BaseModel
	StudentID   uint                `gorm:"uniqueIndex:idx_grade_student_item;not null" json:"studentId"`
	GradeItemID uint                `gorm:"uniqueIndex:idx_grade_student_item;not null" json:"gradeItemId"`
	Score       decimal.NullDecimal `gorm:"type:decimal(10,4)" json:"score"`
	Feedback    string              `gorm:"type:text" json:"feedback"`
	IsExcused   bool                `gorm:"default:false" json:"isExcused"`
	IsLate      bool                `gorm:"default:false" json:"isLate"`
	SubmittedAt *time.Time          `json:"submittedAt,omitempty"`
	GradedAt    *time.Time          `json:"gradedAt,omitempty"`
	GradedBy    uint                `json:"gradedBy"`
}

func (Grade) TableName() string {
	return "grades"
}

// HasScore reports whether the row counts as recorded activity.
func (g *Grade) HasScore() bool {
	return g.Score.Valid && !g.IsExcused
}
