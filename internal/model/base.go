package model

import (
	"time"

	"gorm.io/gorm"
)

// swagger:model
type BaseModel struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// All lists every persisted model, in dependency order, for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&CourseOffering{},
		&Enrollment{},
		&GradeCategory{},
		&GradeItem{},
		&Grade{},
		&Question{},
		&Quiz{},
		&QuizQuestion{},
		&QuizAttempt{},
		&QuizAnswer{},
	}
}
