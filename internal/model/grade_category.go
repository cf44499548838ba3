package model

import "github.com/shopspring/decimal"

// CategoryRole marks the categories that take part in the makeup override.
type CategoryRole string

const (
	CategoryMidterm CategoryRole = "midterm"
	CategoryFinal   CategoryRole = "final"
	CategoryMakeup  CategoryRole = "makeup"
	CategoryOther   CategoryRole = "other"
)

// GradeCategory is a weighted slice of a course grade, e.g. Midterm 40%.
// Categories are deactivated, never deleted, while items exist.
// swagger:model GradeCategory
type GradeCategory struct {
	BaseModel
	CourseOfferingID uint            `gorm:"index;not null" json:"courseOfferingId" validate:"required"`
	Name             string          `gorm:"size:100;not null" json:"name" validate:"required,max=100"`
	Role             CategoryRole    `gorm:"size:20;not null" json:"role" validate:"required,oneof=midterm final makeup other"`
	CategoryType     string          `gorm:"size:50" json:"categoryType" validate:"max=50"` // exam, homework, quiz, project...
	Weight           decimal.Decimal `gorm:"type:decimal(6,2);not null;default:0" json:"weight" validate:"gte=0,lte=100"`
	IsActive         bool            `gorm:"not null" json:"isActive"`
}

func (GradeCategory) TableName() string {
	return "grade_categories"
}
