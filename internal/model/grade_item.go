package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type ItemStatus string

const (
	ItemDraft     ItemStatus = "draft"
	ItemPublished ItemStatus = "published"
	ItemGraded    ItemStatus = "graded"
	ItemArchived  ItemStatus = "archived"
)

// swagger:model GradeItem
type GradeItem struct {
	BaseModel
	CategoryID       uint            `gorm:"index;not null" json:"categoryId" validate:"required"`
	Title            string          `gorm:"size:255;not null" json:"title" validate:"required,max=255"`
	MaxScore         decimal.Decimal `gorm:"type:decimal(10,4);not null" json:"maxScore" validate:"gt=0"`
	WeightInCategory decimal.Decimal `gorm:"type:decimal(6,2);not null;default:0" json:"weightInCategory" validate:"gte=0,lte=100"`
	IsExtraCredit    bool            `gorm:"default:false" json:"isExtraCredit"`
	Status           ItemStatus      `gorm:"size:20;not null;index" json:"status" validate:"required,oneof=draft published graded archived"`
	DueDate          *time.Time      `json:"dueDate,omitempty"`
}

func (GradeItem) TableName() string {
	return "grade_items"
}

// CountsTowardGrade reports whether the item takes part in weight budgets
// and gradebook computation.
func (i *GradeItem) CountsTowardGrade() bool {
	return i.Status == ItemPublished || i.Status == ItemGraded
}
