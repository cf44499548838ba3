package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"gradebook_backend/internal/model"
	"gradebook_backend/internal/repository"
	"gradebook_backend/internal/util"
	"gradebook_backend/pkg/cache"
	"gradebook_backend/pkg/logger"
	"gradebook_backend/pkg/monitoring"
	"gradebook_backend/pkg/tracing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type letterThreshold struct {
	min    decimal.Decimal
	letter string
}

// Inclusive lower bounds, highest first.
var letterThresholds = []letterThreshold{
	{decimal.NewFromInt(88), "AA"},
	{decimal.NewFromInt(80), "BA"},
	{decimal.NewFromInt(73), "BB"},
	{decimal.NewFromInt(66), "CB"},
	{decimal.NewFromInt(60), "CC"},
	{decimal.NewFromInt(55), "DC"},
	{decimal.NewFromInt(50), "DD"},
}

// LetterGradeFor maps a course total to its letter.
func LetterGradeFor(total decimal.Decimal) string {
	for _, t := range letterThresholds {
		if total.GreaterThanOrEqual(t.min) {
			return t.letter
		}
	}
	return "FF"
}

type CategoryScore struct {
	CategoryID   uint               `json:"categoryId"`
	Name         string             `json:"name"`
	Role         model.CategoryRole `json:"role"`
	Score        decimal.Decimal    `json:"score"` // 0-100 inside the category
	Weight       decimal.Decimal    `json:"weight"`
	Contribution decimal.Decimal    `json:"contribution"`
	Excluded     bool               `json:"excluded"` // final dropped by a makeup score
}

type GradebookResult struct {
	StudentID        uint                `json:"studentId"`
	CourseOfferingID uint                `json:"courseOfferingId"`
	Total            decimal.NullDecimal `json:"total"`
	LetterGrade      *string             `json:"letterGrade"`
	Breakdown        []CategoryScore     `json:"breakdown"`
	ExtraCredit      decimal.Decimal     `json:"extraCredit"`
	MakeupApplied    bool                `json:"makeupApplied"`
}

// GradebookInput is everything the calculation reads: the active categories
// of a course, their published or graded items and one student's grades.
type GradebookInput struct {
	Categories []model.GradeCategory
	Items      []model.GradeItem
	Grades     []model.Grade
}

// ComputeGradebook is the weighted course grade of one student. It has no
// side effects.
func ComputeGradebook(in GradebookInput) GradebookResult {
	var res GradebookResult

	grades := make(map[uint]model.Grade, len(in.Grades))
	for _, g := range in.Grades {
		grades[g.GradeItemID] = g
	}
	roles := make(map[uint]model.CategoryRole, len(in.Categories))
	for _, c := range in.Categories {
		roles[c.ID] = c.Role
	}

	itemsByCategory := make(map[uint][]model.GradeItem)
	scored := false
	for _, item := range in.Items {
		role, ok := roles[item.CategoryID]
		if !ok || !item.CountsTowardGrade() {
			continue
		}
		itemsByCategory[item.CategoryID] = append(itemsByCategory[item.CategoryID], item)
		if g, ok := grades[item.ID]; ok && g.HasScore() {
			scored = true
			if role == model.CategoryMakeup {
				res.MakeupApplied = true
			}
		}
	}
	if !scored {
		return res
	}

	total := decimal.Zero
	for _, cat := range in.Categories {
		cs := CategoryScore{
			CategoryID:   cat.ID,
			Name:         cat.Name,
			Role:         cat.Role,
			Score:        decimal.Zero,
			Weight:       cat.Weight,
			Contribution: decimal.Zero,
			Excluded:     res.MakeupApplied && cat.Role == model.CategoryFinal,
		}
		for _, item := range itemsByCategory[cat.ID] {
			g, ok := grades[item.ID]
			if !ok || !g.HasScore() {
				continue
			}
			pct := g.Score.Decimal.Div(item.MaxScore).Mul(hundred)
			if item.IsExtraCredit {
				if !cs.Excluded {
					res.ExtraCredit = res.ExtraCredit.Add(pct)
				}
				continue
			}
			cs.Score = cs.Score.Add(pct.Mul(item.WeightInCategory).Div(hundred))
		}
		if !cs.Excluded {
			cs.Contribution = cs.Score.Mul(cat.Weight).Div(hundred)
			total = total.Add(cs.Contribution)
		}
		res.Breakdown = append(res.Breakdown, cs)
	}

	total = total.Add(res.ExtraCredit)
	if total.GreaterThan(hundred) {
		total = hundred
	}
	if total.IsNegative() {
		total = decimal.Zero
	}
	res.Total = decimal.NullDecimal{Decimal: total, Valid: true}
	letter := LetterGradeFor(total)
	res.LetterGrade = &letter
	return res
}

type defaultCategory struct {
	name   string
	role   model.CategoryRole
	weight int64
}

var defaultCategories = []defaultCategory{
	{"Midterm", model.CategoryMidterm, 40},
	{"Final", model.CategoryFinal, 60},
	{"Makeup", model.CategoryMakeup, 0},
}

type CategoryRequest struct {
	Name         string             `json:"name" binding:"required"`
	Role         model.CategoryRole `json:"role"`
	CategoryType string             `json:"categoryType"`
	Weight       decimal.Decimal    `json:"weight"`
	IsActive     *bool              `json:"isActive"`
}

type ItemRequest struct {
	Title            string           `json:"title" binding:"required"`
	MaxScore         decimal.Decimal  `json:"maxScore"`
	WeightInCategory decimal.Decimal  `json:"weightInCategory"`
	IsExtraCredit    bool             `json:"isExtraCredit"`
	Status           model.ItemStatus `json:"status"`
	DueDate          *time.Time       `json:"dueDate"`
}

type GradebookService struct {
	DB            *gorm.DB
	CourseRepo    *repository.CourseRepository
	GradebookRepo *repository.GradebookRepository
	Validator     WeightValidator
	Cache         cache.Cache
	Now           func() time.Time

	cacheTTL atomic.Int64
}

func NewGradebookService(db *gorm.DB, courseRepo *repository.CourseRepository, gradebookRepo *repository.GradebookRepository, c cache.Cache, ttl time.Duration) *GradebookService {
	if c == nil {
		c = cache.Nop{}
	}
	s := &GradebookService{
		DB:            db,
		CourseRepo:    courseRepo,
		GradebookRepo: gradebookRepo,
		Cache:         c,
		Now:           time.Now,
	}
	s.SetCacheTTL(ttl)
	return s
}

// SetCacheTTL changes the lifetime of cached results written from now on.
func (s *GradebookService) SetCacheTTL(ttl time.Duration) {
	s.cacheTTL.Store(int64(ttl))
}

func courseScope(courseID uint) string {
	return fmt.Sprintf("course:%d", courseID)
}

// invalidate drops every cached result of the course. Failures are logged.
func (s *GradebookService) invalidate(ctx context.Context, courseID uint) {
	if err := s.Cache.Bump(ctx, courseScope(courseID)); err != nil {
		logger.Log.Warn("gradebook cache invalidation failed", zap.Uint("courseOfferingId", courseID), zap.Error(err))
	}
}

// Compute returns the student's course grade, served from cache when the
// course has not changed since it was computed.
func (s *GradebookService) Compute(ctx context.Context, studentID, courseID uint) (*GradebookResult, error) {
	ctx, span := tracing.Start(ctx, "GradebookService.Compute",
		attribute.Int64("student.id", int64(studentID)),
		attribute.Int64("course.id", int64(courseID)))
	defer span.End()

	if _, err := s.CourseRepo.WithTx(s.DB.WithContext(ctx)).FindByID(courseID); err != nil {
		return nil, notFound(err, util.ErrCourseNotFound)
	}

	version, verr := s.Cache.Version(ctx, courseScope(courseID))
	if verr != nil {
		logger.Log.Warn("gradebook cache unavailable", zap.Error(verr))
	}
	key := fmt.Sprintf("gradebook:%d:%d:v%d", courseID, studentID, version)
	if verr == nil {
		var cached GradebookResult
		hit, err := s.Cache.Get(ctx, key, &cached)
		if err != nil {
			logger.Log.Warn("gradebook cache read failed", zap.String("key", key), zap.Error(err))
		}
		if hit {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return &cached, nil
		}
	}

	res, err := s.compute(s.DB.WithContext(ctx), studentID, courseID)
	if err != nil {
		return nil, err
	}
	if verr == nil {
		if err := s.Cache.Set(ctx, key, res, time.Duration(s.cacheTTL.Load())); err != nil {
			logger.Log.Warn("gradebook cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return res, nil
}

func (s *GradebookService) compute(db *gorm.DB, studentID, courseID uint) (*GradebookResult, error) {
	start := time.Now()
	defer func() {
		monitoring.GradebookComputeDuration.Observe(time.Since(start).Seconds())
	}()

	repo := s.GradebookRepo.WithTx(db)
	cats, err := repo.ListActiveCategories(courseID)
	if err != nil {
		return nil, err
	}
	catIDs := make([]uint, 0, len(cats))
	for _, c := range cats {
		catIDs = append(catIDs, c.ID)
	}
	items, err := repo.ListCountingItems(catIDs)
	if err != nil {
		return nil, err
	}
	itemIDs := make([]uint, 0, len(items))
	for _, i := range items {
		itemIDs = append(itemIDs, i.ID)
	}
	grades, err := repo.ListGrades(studentID, itemIDs)
	if err != nil {
		return nil, err
	}

	res := ComputeGradebook(GradebookInput{Categories: cats, Items: items, Grades: grades})
	res.StudentID = studentID
	res.CourseOfferingID = courseID
	return &res, nil
}

// UpdateEnrollmentGrades recomputes the course result of an enrollment and
// persists score and letter on it. Running it twice writes the same values.
func (s *GradebookService) UpdateEnrollmentGrades(ctx context.Context, enrollmentID uint) (*model.Enrollment, error) {
	var enrollment *model.Enrollment
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		courses := s.CourseRepo.WithTx(tx)
		e, err := courses.FindEnrollmentByID(enrollmentID)
		if err != nil {
			return notFound(err, util.ErrEnrollmentNotFound)
		}
		res, err := s.compute(tx, e.StudentID, e.CourseOfferingID)
		if err != nil {
			return err
		}
		now := s.Now()
		if err := courses.UpdateEnrollmentGrade(e.ID, res.Total, res.LetterGrade, now); err != nil {
			return err
		}
		e.FinalScore = res.Total
		e.LetterGrade = res.LetterGrade
		e.GradeUpdatedAt = &now
		enrollment = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Log.Info("enrollment grade refreshed",
		zap.Uint("enrollmentId", enrollment.ID),
		zap.String("finalScore", enrollment.FinalScore.Decimal.String()),
		zap.Bool("graded", enrollment.FinalScore.Valid))
	s.invalidate(ctx, enrollment.CourseOfferingID)
	return enrollment, nil
}

// ProvisionDefaultCategories makes sure the course has its Midterm, Final and
// Makeup categories. Existing categories with those roles are left alone.
func (s *GradebookService) ProvisionDefaultCategories(ctx context.Context, caller Caller, courseID uint) ([]model.GradeCategory, error) {
	if !caller.CanGrade() {
		return nil, util.ErrInstructorOnly
	}
	var out []model.GradeCategory
	created := 0
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.CourseRepo.WithTx(tx).LockByID(courseID); err != nil {
			return notFound(err, util.ErrCourseNotFound)
		}
		repo := s.GradebookRepo.WithTx(tx)
		for _, d := range defaultCategories {
			existing, err := repo.FindCategoryByRole(courseID, d.role)
			if err == nil {
				out = append(out, *existing)
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			cat := model.GradeCategory{
				CourseOfferingID: courseID,
				Name:             d.name,
				Role:             d.role,
				CategoryType:     "exam",
				Weight:           decimal.NewFromInt(d.weight),
				IsActive:         true,
			}
			if err := s.Validator.ValidateCategory(tx, &cat); err != nil {
				return err
			}
			if err := repo.SaveCategory(&cat); err != nil {
				return err
			}
			created++
			out = append(out, cat)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created > 0 {
		logger.Log.Info("default grade categories provisioned", zap.Uint("courseOfferingId", courseID), zap.Int("created", created))
		s.invalidate(ctx, courseID)
	}
	return out, nil
}

func (s *GradebookService) CreateCategory(ctx context.Context, caller Caller, courseID uint, req CategoryRequest) (*model.GradeCategory, error) {
	if !caller.CanGrade() {
		return nil, util.ErrInstructorOnly
	}
	cat := &model.GradeCategory{CourseOfferingID: courseID, Role: model.CategoryOther, IsActive: true}
	applyCategoryRequest(cat, req)
	if err := s.saveCategory(ctx, cat, 0); err != nil {
		return nil, err
	}
	return cat, nil
}

func (s *GradebookService) UpdateCategory(ctx context.Context, caller Caller, id uint, req CategoryRequest) (*model.GradeCategory, error) {
	if !caller.CanGrade() {
		return nil, util.ErrInstructorOnly
	}
	var cat *model.GradeCategory
	if err := s.saveCategory(ctx, nil, id, func(c *model.GradeCategory) {
		applyCategoryRequest(c, req)
		cat = c
	}); err != nil {
		return nil, err
	}
	return cat, nil
}

// DeactivateCategory frees the category's weight budget. Its items and
// grades are kept.
func (s *GradebookService) DeactivateCategory(ctx context.Context, caller Caller, id uint) (*model.GradeCategory, error) {
	if !caller.CanGrade() {
		return nil, util.ErrInstructorOnly
	}
	var cat *model.GradeCategory
	if err := s.saveCategory(ctx, nil, id, func(c *model.GradeCategory) {
		c.IsActive = false
		cat = c
	}); err != nil {
		return nil, err
	}
	return cat, nil
}

// applyCategoryRequest copies req onto c. An empty role or type keeps the
// stored value.
func applyCategoryRequest(c *model.GradeCategory, req CategoryRequest) {
	c.Name = req.Name
	if req.Role != "" {
		c.Role = req.Role
	}
	if req.CategoryType != "" {
		c.CategoryType = req.CategoryType
	}
	c.Weight = req.Weight
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}
}

// saveCategory creates cat, or when id is set loads that category and lets
// mutate change it. Either way the write is validated under the course lock.
func (s *GradebookService) saveCategory(ctx context.Context, cat *model.GradeCategory, id uint, mutate ...func(*model.GradeCategory)) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.GradebookRepo.WithTx(tx)
		if id != 0 {
			existing, err := repo.FindCategoryByID(id)
			if err != nil {
				return notFound(err, util.ErrCategoryNotFound)
			}
			cat = existing
		}
		if _, err := s.CourseRepo.WithTx(tx).LockByID(cat.CourseOfferingID); err != nil {
			return notFound(err, util.ErrCourseNotFound)
		}
		if id != 0 {
			// re-read under the lock
			existing, err := repo.FindCategoryByID(id)
			if err != nil {
				return notFound(err, util.ErrCategoryNotFound)
			}
			cat = existing
		}
		for _, m := range mutate {
			m(cat)
		}
		if err := util.ValidateStruct(cat); err != nil {
			return err
		}
		if err := s.Validator.ValidateCategory(tx, cat); err != nil {
			return err
		}
		return repo.SaveCategory(cat)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, cat.CourseOfferingID)
	return nil
}

func (s *GradebookService) CreateItem(ctx context.Context, caller Caller, categoryID uint, req ItemRequest) (*model.GradeItem, error) {
	if !caller.CanGrade() {
		return nil, util.ErrInstructorOnly
	}
	item := &model.GradeItem{CategoryID: categoryID, Status: model.ItemDraft}
	applyItemRequest(item, req)
	if err := s.saveItem(ctx, item, 0); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *GradebookService) UpdateItem(ctx context.Context, caller Caller, id uint, req ItemRequest) (*model.GradeItem, error) {
	if !caller.CanGrade() {
		return nil, util.ErrInstructorOnly
	}
	var item *model.GradeItem
	if err := s.saveItem(ctx, nil, id, func(i *model.GradeItem) {
		applyItemRequest(i, req)
		item = i
	}); err != nil {
		return nil, err
	}
	return item, nil
}

// applyItemRequest copies req onto i. An empty status keeps the stored one.
func applyItemRequest(i *model.GradeItem, req ItemRequest) {
	i.Title = req.Title
	i.MaxScore = req.MaxScore
	i.WeightInCategory = req.WeightInCategory
	i.IsExtraCredit = req.IsExtraCredit
	if req.Status != "" {
		i.Status = req.Status
	}
	i.DueDate = req.DueDate
}

func (s *GradebookService) saveItem(ctx context.Context, item *model.GradeItem, id uint, mutate ...func(*model.GradeItem)) error {
	var courseID uint
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.GradebookRepo.WithTx(tx)
		if id != 0 {
			existing, err := repo.FindItemByID(id)
			if err != nil {
				return notFound(err, util.ErrItemNotFound)
			}
			item = existing
		}
		cat, err := repo.FindCategoryByID(item.CategoryID)
		if err != nil {
			return notFound(err, util.ErrCategoryNotFound)
		}
		courseID = cat.CourseOfferingID
		if _, err := s.CourseRepo.WithTx(tx).LockByID(courseID); err != nil {
			return notFound(err, util.ErrCourseNotFound)
		}
		if id != 0 {
			existing, err := repo.FindItemByID(id)
			if err != nil {
				return notFound(err, util.ErrItemNotFound)
			}
			item = existing
		}
		for _, m := range mutate {
			m(item)
		}
		if err := util.ValidateStruct(item); err != nil {
			return err
		}
		if err := s.Validator.ValidateItem(tx, item); err != nil {
			return err
		}
		return repo.SaveItem(item)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, courseID)
	return nil
}

// notFound replaces gorm's record-not-found with the entity's own error.
func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
