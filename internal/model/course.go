package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CourseOffering is one term's run of a course. It is owned by the course
// catalogue service; the engine reads credits and term from it and cascades
// its grading data from it.
// swagger:model CourseOffering
type CourseOffering struct {
	BaseModel
	Code    string `gorm:"size:32;not null;index" json:"code"`
	Title   string `gorm:"size:255;not null" json:"title"`
	Term    string `gorm:"size:32;not null;index" json:"term"` // e.g. 2025-FALL
	Credits int    `gorm:"not null;default:0" json:"credits"`
}

func (CourseOffering) TableName() string {
	return "course_offerings"
}

// Enrollment pairs a student with a course offering and carries the
// persisted course result refreshed by UpdateEnrollmentGrades.
// swagger:model Enrollment
type Enrollment struct {
	BaseModel
	StudentID        uint                `gorm:"uniqueIndex:idx_enrollment_student_course;not null" json:"studentId"`
	CourseOfferingID uint                `gorm:"uniqueIndex:idx_enrollment_student_course;not null" json:"courseOfferingId"`
	CourseOffering   *CourseOffering     `gorm:"foreignKey:CourseOfferingID" json:"courseOffering,omitempty"`
	FinalScore       decimal.NullDecimal `gorm:"type:decimal(10,4)" json:"finalScore"`
	LetterGrade      *string             `gorm:"size:2" json:"letterGrade"`
	GradeUpdatedAt   *time.Time          `json:"gradeUpdatedAt,omitempty"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}
