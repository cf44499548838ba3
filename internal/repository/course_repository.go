package repository

import (
	"time"

	"gradebook_backend/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CourseRepository struct {
	DB *gorm.DB
}

func NewCourseRepository(db *gorm.DB) *CourseRepository {
	return &CourseRepository{DB: db}
}

// WithTx returns a repository bound to tx.
func (r *CourseRepository) WithTx(tx *gorm.DB) *CourseRepository {
	return &CourseRepository{DB: tx}
}

func (r *CourseRepository) FindByID(id uint) (*model.CourseOffering, error) {
	var c model.CourseOffering
	if err := r.DB.First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// LockByID takes a row lock on the course offering. Weight budgets of the
// course are read and written under this lock.
func (r *CourseRepository) LockByID(id uint) (*model.CourseOffering, error) {
	var c model.CourseOffering
	err := r.DB.Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, id).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CourseRepository) FindEnrollmentByID(id uint) (*model.Enrollment, error) {
	var e model.Enrollment
	if err := r.DB.Preload("CourseOffering").First(&e, id).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *CourseRepository) FindEnrollment(studentID, courseID uint) (*model.Enrollment, error) {
	var e model.Enrollment
	err := r.DB.Preload("CourseOffering").
		Where("student_id = ? AND course_offering_id = ?", studentID, courseID).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *CourseRepository) ListEnrollmentsByStudent(studentID uint) ([]model.Enrollment, error) {
	var es []model.Enrollment
	err := r.DB.Preload("CourseOffering").
		Where("student_id = ?", studentID).
		Order("id asc").
		Find(&es).Error
	return es, err
}

// UpdateEnrollmentGrade writes the persisted course result. A null total
// clears both score and letter.
func (r *CourseRepository) UpdateEnrollmentGrade(id uint, total decimal.NullDecimal, letter *string, at time.Time) error {
	return r.DB.Model(&model.Enrollment{}).Where("id = ?", id).Updates(map[string]interface{}{
		"final_score":      total,
		"letter_grade":     letter,
		"grade_updated_at": at,
	}).Error
}

// ListEnrollmentIDs returns the enrollments of a course, or of every course
// when courseID is 0.
func (r *CourseRepository) ListEnrollmentIDs(courseID uint) ([]uint, error) {
	var ids []uint
	q := r.DB.Model(&model.Enrollment{})
	if courseID != 0 {
		q = q.Where("course_offering_id = ?", courseID)
	}
	err := q.Order("id asc").Pluck("id", &ids).Error
	return ids, err
}
