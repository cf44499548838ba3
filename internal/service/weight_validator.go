package service

import (
	"fmt"

	"gradebook_backend/internal/model"
	"gradebook_backend/internal/repository"
	"gradebook_backend/internal/util"
	"gradebook_backend/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// WeightValidator keeps the weight budgets of a course at or below 100.
// Callers run it inside the transaction that saves the record, after locking
// the course offering.
type WeightValidator struct{}

// ValidateCategory rejects an active category whose weight would push the
// active categories of its course past 100. Inactive categories take no budget.
func (WeightValidator) ValidateCategory(tx *gorm.DB, cat *model.GradeCategory) error {
	if !cat.IsActive {
		return nil
	}
	others, err := repository.NewGradebookRepository(tx).SumActiveCategoryWeights(cat.CourseOfferingID, cat.ID)
	if err != nil {
		return err
	}
	total := others.Add(cat.Weight)
	if total.GreaterThan(hundred) {
		logger.Log.Debug("category weight rejected",
			zap.Uint("courseOfferingId", cat.CourseOfferingID),
			zap.String("total", total.String()))
		return util.NewValidationError("category weight budget exceeded", util.FieldError{
			Field: "weight",
			Error: fmt.Sprintf("active category weights would total %s, limit is 100", total.String()),
		})
	}
	return nil
}

// ValidateItem rejects a counting, non-extra-credit item whose
// weight_in_category would push its category past 100.
func (WeightValidator) ValidateItem(tx *gorm.DB, item *model.GradeItem) error {
	if item.IsExtraCredit || !item.CountsTowardGrade() {
		return nil
	}
	others, err := repository.NewGradebookRepository(tx).SumItemWeights(item.CategoryID, item.ID)
	if err != nil {
		return err
	}
	total := others.Add(item.WeightInCategory)
	if total.GreaterThan(hundred) {
		logger.Log.Debug("item weight rejected",
			zap.Uint("categoryId", item.CategoryID),
			zap.String("total", total.String()))
		return util.NewValidationError("item weight budget exceeded", util.FieldError{
			Field: "weightInCategory",
			Error: fmt.Sprintf("item weights in category would total %s, limit is 100", total.String()),
		})
	}
	return nil
}
