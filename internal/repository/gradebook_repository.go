package repository

import (
	"gradebook_backend/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var countingStatuses = []model.ItemStatus{model.ItemPublished, model.ItemGraded}

// GradebookRepository covers categories, items and grades.
type GradebookRepository struct {
	DB *gorm.DB
}

func NewGradebookRepository(db *gorm.DB) *GradebookRepository {
	return &GradebookRepository{DB: db}
}

func (r *GradebookRepository) WithTx(tx *gorm.DB) *GradebookRepository {
	return &GradebookRepository{DB: tx}
}

func (r *GradebookRepository) SaveCategory(cat *model.GradeCategory) error {
	return r.DB.Save(cat).Error
}

func (r *GradebookRepository) FindCategoryByID(id uint) (*model.GradeCategory, error) {
	var c model.GradeCategory
	if err := r.DB.First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *GradebookRepository) FindCategoryByRole(courseID uint, role model.CategoryRole) (*model.GradeCategory, error) {
	var c model.GradeCategory
	err := r.DB.Where("course_offering_id = ? AND role = ?", courseID, role).Order("id asc").First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListActiveCategories returns the active categories of a course.
func (r *GradebookRepository) ListActiveCategories(courseID uint) ([]model.GradeCategory, error) {
	var cs []model.GradeCategory
	err := r.DB.Where("course_offering_id = ? AND is_active = ?", courseID, true).Order("id asc").Find(&cs).Error
	return cs, err
}

// SumActiveCategoryWeights sums the weights of active categories of a course,
// leaving out excludeID.
func (r *GradebookRepository) SumActiveCategoryWeights(courseID, excludeID uint) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.DB.Model(&model.GradeCategory{}).
		Select("COALESCE(SUM(weight), 0)").
		Where("course_offering_id = ? AND is_active = ? AND id <> ?", courseID, true, excludeID).
		Row().Scan(&sum)
	return sum, err
}

func (r *GradebookRepository) SaveItem(item *model.GradeItem) error {
	return r.DB.Save(item).Error
}

func (r *GradebookRepository) FindItemByID(id uint) (*model.GradeItem, error) {
	var i model.GradeItem
	if err := r.DB.First(&i, id).Error; err != nil {
		return nil, err
	}
	return &i, nil
}

// SumItemWeights sums weight_in_category over the published or graded,
// non-extra-credit items of a category, leaving out excludeID.
func (r *GradebookRepository) SumItemWeights(categoryID, excludeID uint) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.DB.Model(&model.GradeItem{}).
		Select("COALESCE(SUM(weight_in_category), 0)").
		Where("category_id = ? AND is_extra_credit = ? AND status IN ? AND id <> ?", categoryID, false, countingStatuses, excludeID).
		Row().Scan(&sum)
	return sum, err
}

// ListCountingItems returns the published or graded items of the given categories.
func (r *GradebookRepository) ListCountingItems(categoryIDs []uint) ([]model.GradeItem, error) {
	var items []model.GradeItem
	if len(categoryIDs) == 0 {
		return items, nil
	}
	err := r.DB.Where("category_id IN ? AND status IN ?", categoryIDs, countingStatuses).Order("id asc").Find(&items).Error
	return items, err
}

func (r *GradebookRepository) ListGrades(studentID uint, itemIDs []uint) ([]model.Grade, error) {
	var gs []model.Grade
	if len(itemIDs) == 0 {
		return gs, nil
	}
	err := r.DB.Where("student_id = ? AND grade_item_id IN ?", studentID, itemIDs).Find(&gs).Error
	return gs, err
}

// FindGradeForUpdate loads the grade row of (student, item) with a row lock.
// It returns gorm.ErrRecordNotFound when none exists yet.
func (r *GradebookRepository) FindGradeForUpdate(studentID, itemID uint) (*model.Grade, error) {
	var g model.Grade
	err := r.DB.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("student_id = ? AND grade_item_id = ?", studentID, itemID).
		First(&g).Error
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *GradebookRepository) SaveGrade(g *model.Grade) error {
	if g.ID == 0 {
		return r.DB.Create(g).Error
	}
	return r.DB.Save(g).Error
}
