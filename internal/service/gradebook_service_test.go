package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"gradebook_backend/internal/model"
	"gradebook_backend/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func TestLetterGradeFor(t *testing.T) {
	tests := []struct {
		total string
		want  string
	}{
		{"100", "AA"},
		{"88", "AA"},
		{"87.999", "BA"},
		{"80", "BA"},
		{"79.99", "BB"},
		{"73", "BB"},
		{"72.5", "CB"},
		{"66", "CB"},
		{"60", "CC"},
		{"55", "DC"},
		{"50", "DD"},
		{"49.999", "FF"},
		{"0", "FF"},
	}
	for _, tt := range tests {
		t.Run(tt.total, func(t *testing.T) {
			assert.Equal(t, tt.want, LetterGradeFor(dec(tt.total)))
		})
	}
}

// standard course: Midterm 40, Final 60, Makeup 0, one full-weight item each.
func standardInput(makeupWeight string, grades ...model.Grade) GradebookInput {
	cat := func(id uint, name string, role model.CategoryRole, w string) model.GradeCategory {
		c := model.GradeCategory{Name: name, Role: role, Weight: dec(w), IsActive: true}
		c.ID = id
		return c
	}
	item := func(id, catID uint) model.GradeItem {
		i := model.GradeItem{CategoryID: catID, MaxScore: dec("100"), WeightInCategory: dec("100"), Status: model.ItemPublished}
		i.ID = id
		return i
	}
	return GradebookInput{
		Categories: []model.GradeCategory{
			cat(1, "Midterm", model.CategoryMidterm, "40"),
			cat(2, "Final", model.CategoryFinal, "60"),
			cat(3, "Makeup", model.CategoryMakeup, makeupWeight),
		},
		Items:  []model.GradeItem{item(10, 1), item(20, 2), item(30, 3)},
		Grades: grades,
	}
}

func grade(itemID uint, s string) model.Grade {
	return model.Grade{StudentID: 7, GradeItemID: itemID, Score: score(s)}
}

func TestComputeGradebook_NoScoresIsNull(t *testing.T) {
	res := ComputeGradebook(standardInput("0"))
	assert.False(t, res.Total.Valid)
	assert.Nil(t, res.LetterGrade)
	assert.Empty(t, res.Breakdown)

	excused := grade(10, "95")
	excused.IsExcused = true
	unscored := model.Grade{StudentID: 7, GradeItemID: 20}
	res = ComputeGradebook(standardInput("0", excused, unscored))
	assert.False(t, res.Total.Valid, "excused and empty grades are not activity")
}

func TestComputeGradebook_WeightedTotal(t *testing.T) {
	res := ComputeGradebook(standardInput("0", grade(10, "80"), grade(20, "70")))

	require.True(t, res.Total.Valid)
	assertDec(t, "74", res.Total.Decimal)
	require.NotNil(t, res.LetterGrade)
	assert.Equal(t, "BB", *res.LetterGrade)
	assert.False(t, res.MakeupApplied)

	require.Len(t, res.Breakdown, 3)
	assertDec(t, "80", res.Breakdown[0].Score)
	assertDec(t, "32", res.Breakdown[0].Contribution)
	assertDec(t, "70", res.Breakdown[1].Score)
	assertDec(t, "42", res.Breakdown[1].Contribution)
	assert.False(t, res.Breakdown[1].Excluded)
}

func TestComputeGradebook_MakeupExcludesFinal(t *testing.T) {
	res := ComputeGradebook(standardInput("0", grade(10, "80"), grade(20, "70"), grade(30, "90")))

	require.True(t, res.Total.Valid)
	assert.True(t, res.MakeupApplied)
	assertDec(t, "32", res.Total.Decimal)

	final := res.Breakdown[1]
	assert.Equal(t, model.CategoryFinal, final.Role)
	assert.True(t, final.Excluded)
	assertDec(t, "70", final.Score)
	assertDec(t, "0", final.Contribution)

	// once re-balanced, the makeup takes the final's place
	res = ComputeGradebook(standardInput("60", grade(10, "80"), grade(20, "70"), grade(30, "90")))
	assertDec(t, "86", res.Total.Decimal)
	assert.Equal(t, "BA", *res.LetterGrade)
}

func TestComputeGradebook_ExcusedCountsAsZero(t *testing.T) {
	excused := grade(20, "100")
	excused.IsExcused = true
	res := ComputeGradebook(standardInput("0", grade(10, "80"), excused))
	assertDec(t, "32", res.Total.Decimal)
	assert.Equal(t, "FF", *res.LetterGrade)
}

func TestComputeGradebook_ExtraCredit(t *testing.T) {
	in := standardInput("0", grade(10, "80"), grade(20, "70"), grade(40, "3"))
	bonus := model.GradeItem{CategoryID: 1, MaxScore: dec("100"), IsExtraCredit: true, Status: model.ItemPublished}
	bonus.ID = 40
	in.Items = append(in.Items, bonus)

	res := ComputeGradebook(in)
	assertDec(t, "3", res.ExtraCredit)
	assertDec(t, "77", res.Total.Decimal)

	in.Grades[2] = grade(40, "40")
	res = ComputeGradebook(in)
	assertDec(t, "100", res.Total.Decimal)
	assert.Equal(t, "AA", *res.LetterGrade)
}

func TestComputeGradebook_IgnoresDraftItems(t *testing.T) {
	in := standardInput("0", grade(10, "80"), grade(20, "70"))
	in.Items[1].Status = model.ItemDraft
	res := ComputeGradebook(in)
	assertDec(t, "32", res.Total.Decimal)
}

func TestGradebookService_ComputeEndToEnd(t *testing.T) {
	f := newFixture(t)
	course := f.course("CS101", "2026-SPRING", 4)
	cats := f.provision(course.ID)
	require.Len(t, cats, 3)
	assertDec(t, "40", cats[model.CategoryMidterm].Weight)
	assertDec(t, "60", cats[model.CategoryFinal].Weight)
	assertDec(t, "0", cats[model.CategoryMakeup].Weight)

	mid := f.item(cats[model.CategoryMidterm].ID, "Midterm exam", "100", "100")
	fin := f.item(cats[model.CategoryFinal].ID, "Final exam", "100", "100")
	mk := f.item(cats[model.CategoryMakeup].ID, "Makeup exam", "100", "100")

	res, err := f.gradebook.Compute(f.ctx, studentA.UserID, course.ID)
	require.NoError(t, err)
	assert.False(t, res.Total.Valid)

	f.setGrade(mid.ID, studentA.UserID, "80")
	f.setGrade(fin.ID, studentA.UserID, "70")
	f.setGrade(mid.ID, studentB.UserID, "80")
	f.setGrade(fin.ID, studentB.UserID, "70")

	res, err = f.gradebook.Compute(f.ctx, studentA.UserID, course.ID)
	require.NoError(t, err)
	assertDec(t, "74", res.Total.Decimal)
	assert.Equal(t, "BB", *res.LetterGrade)

	f.setGrade(mk.ID, studentA.UserID, "90")
	res, err = f.gradebook.Compute(f.ctx, studentA.UserID, course.ID)
	require.NoError(t, err)
	assertDec(t, "32", res.Total.Decimal)
	assert.True(t, res.MakeupApplied)

	other, err := f.gradebook.Compute(f.ctx, studentB.UserID, course.ID)
	require.NoError(t, err)
	assertDec(t, "74", other.Total.Decimal)
	assert.False(t, other.MakeupApplied)

	_, err = f.gradebook.Compute(f.ctx, studentA.UserID, 9999)
	assert.ErrorIs(t, err, util.ErrCourseNotFound)
}

func TestGradebookService_ProvisionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	course := f.course("CS102", "2026-SPRING", 3)
	first := f.provision(course.ID)
	second := f.provision(course.ID)
	for role, c := range first {
		assert.Equal(t, c.ID, second[role].ID)
	}

	var count int64
	require.NoError(t, f.db.Model(&model.GradeCategory{}).Where("course_offering_id = ?", course.ID).Count(&count).Error)
	assert.EqualValues(t, 3, count)

	_, err := f.gradebook.ProvisionDefaultCategories(f.ctx, studentA, course.ID)
	assert.ErrorIs(t, err, util.ErrInstructorOnly)
}

func TestGradebookService_CategoryWeightBudget(t *testing.T) {
	f := newFixture(t)
	course := f.course("CS103", "2026-SPRING", 3)
	cats := f.provision(course.ID)

	_, err := f.gradebook.CreateCategory(f.ctx, instructor, course.ID, CategoryRequest{Name: "Homework", Weight: dec("10")})
	var verr *util.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, util.ErrValidation)
	assert.Equal(t, "weight", verr.Fields[0].Field)

	_, err = f.gradebook.UpdateCategory(f.ctx, instructor, cats[model.CategoryMidterm].ID, CategoryRequest{
		Name: "Midterm", Role: model.CategoryMidterm, Weight: dec("40.01"),
	})
	assert.ErrorIs(t, err, util.ErrValidation)

	// an inactive category takes no budget
	_, err = f.gradebook.DeactivateCategory(f.ctx, instructor, cats[model.CategoryFinal].ID)
	require.NoError(t, err)
	hw, err := f.gradebook.CreateCategory(f.ctx, instructor, course.ID, CategoryRequest{Name: "Homework", Weight: dec("60")})
	require.NoError(t, err)
	assert.True(t, hw.IsActive)
	assert.Equal(t, model.CategoryOther, hw.Role)

	// reactivating the final would now overflow
	active := true
	_, err = f.gradebook.UpdateCategory(f.ctx, instructor, cats[model.CategoryFinal].ID, CategoryRequest{
		Name: "Final", Role: model.CategoryFinal, Weight: dec("60"), IsActive: &active,
	})
	assert.ErrorIs(t, err, util.ErrValidation)

	_, err = f.gradebook.CreateCategory(f.ctx, instructor, course.ID, CategoryRequest{Name: "Bad", Weight: dec("-1")})
	assert.ErrorIs(t, err, util.ErrValidation)

	_, err = f.gradebook.CreateCategory(f.ctx, studentA, course.ID, CategoryRequest{Name: "Nope"})
	assert.ErrorIs(t, err, util.ErrInstructorOnly)
}

func TestGradebookService_ItemWeightBudget(t *testing.T) {
	f := newFixture(t)
	course := f.course("CS104", "2026-SPRING", 3)
	cats := f.provision(course.ID)
	midID := cats[model.CategoryMidterm].ID

	f.item(midID, "Part A", "50", "60")
	_, err := f.gradebook.CreateItem(f.ctx, instructor, midID, ItemRequest{
		Title: "Part B", MaxScore: dec("50"), WeightInCategory: dec("50"), Status: model.ItemPublished,
	})
	var verr *util.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "weightInCategory", verr.Fields[0].Field)

	// extra credit and drafts are outside the budget
	_, err = f.gradebook.CreateItem(f.ctx, instructor, midID, ItemRequest{
		Title: "Bonus", MaxScore: dec("10"), WeightInCategory: dec("50"), IsExtraCredit: true, Status: model.ItemPublished,
	})
	require.NoError(t, err)
	draft, err := f.gradebook.CreateItem(f.ctx, instructor, midID, ItemRequest{
		Title: "Part B", MaxScore: dec("50"), WeightInCategory: dec("50"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.ItemDraft, draft.Status)

	_, err = f.gradebook.UpdateItem(f.ctx, instructor, draft.ID, ItemRequest{
		Title: "Part B", MaxScore: dec("50"), WeightInCategory: dec("50"), Status: model.ItemPublished,
	})
	assert.ErrorIs(t, err, util.ErrValidation)

	updated, err := f.gradebook.UpdateItem(f.ctx, instructor, draft.ID, ItemRequest{
		Title: "Part B", MaxScore: dec("50"), WeightInCategory: dec("40"), Status: model.ItemPublished,
	})
	require.NoError(t, err)
	assertDec(t, "40", updated.WeightInCategory)

	_, err = f.gradebook.CreateItem(f.ctx, instructor, midID, ItemRequest{Title: "Zero", MaxScore: dec("0")})
	assert.ErrorIs(t, err, util.ErrValidation)

	_, err = f.gradebook.CreateItem(f.ctx, instructor, 9999, ItemRequest{Title: "Orphan", MaxScore: dec("10")})
	assert.ErrorIs(t, err, util.ErrCategoryNotFound)
}

func TestGradebookService_UpdateEnrollmentGrades(t *testing.T) {
	f := newFixture(t)
	course := f.course("CS105", "2026-SPRING", 4)
	cats := f.provision(course.ID)
	mid := f.item(cats[model.CategoryMidterm].ID, "Midterm exam", "100", "100")
	fin := f.item(cats[model.CategoryFinal].ID, "Final exam", "100", "100")
	e := f.enroll(studentA.UserID, course.ID)

	got, err := f.gradebook.UpdateEnrollmentGrades(f.ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, got.FinalScore.Valid)
	assert.Nil(t, got.LetterGrade)

	f.setGrade(mid.ID, studentA.UserID, "80")
	f.setGrade(fin.ID, studentA.UserID, "70")

	for i := 0; i < 2; i++ {
		got, err = f.gradebook.UpdateEnrollmentGrades(f.ctx, e.ID)
		require.NoError(t, err)
		assertDec(t, "74", got.FinalScore.Decimal)
		require.NotNil(t, got.LetterGrade)
		assert.Equal(t, "BB", *got.LetterGrade)
	}

	var stored model.Enrollment
	require.NoError(t, f.db.First(&stored, e.ID).Error)
	assertDec(t, "74", stored.FinalScore.Decimal)
	assert.Equal(t, "BB", *stored.LetterGrade)
	assert.NotNil(t, stored.GradeUpdatedAt)

	_, err = f.gradebook.UpdateEnrollmentGrades(f.ctx, 9999)
	assert.ErrorIs(t, err, util.ErrEnrollmentNotFound)
}

// memCache is an in-process cache.Cache.
type memCache struct {
	mu       sync.Mutex
	versions map[string]int64
	values   map[string][]byte
	hits     int
}

func newMemCache() *memCache {
	return &memCache{versions: map[string]int64{}, values: map[string][]byte{}}
}

func (c *memCache) Version(_ context.Context, scope string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[scope], nil
}

func (c *memCache) Bump(_ context.Context, scope string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[scope]++
	return nil
}

func (c *memCache) Get(_ context.Context, key string, dst interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.values[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(raw, dst)
}

func (c *memCache) Set(_ context.Context, key string, val interface{}, _ time.Duration) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = raw
	return nil
}

func TestGradebookService_CacheInvalidatedByGradeWrites(t *testing.T) {
	mc := newMemCache()
	f := newFixtureWithCache(t, mc)
	course := f.course("CS106", "2026-SPRING", 4)
	cats := f.provision(course.ID)
	mid := f.item(cats[model.CategoryMidterm].ID, "Midterm exam", "100", "100")
	f.setGrade(mid.ID, studentA.UserID, "50")

	first, err := f.gradebook.Compute(f.ctx, studentA.UserID, course.ID)
	require.NoError(t, err)
	assertDec(t, "20", first.Total.Decimal)

	// a write behind the service's back is not seen until invalidation
	require.NoError(t, f.db.Model(&model.Grade{}).Where("grade_item_id = ?", mid.ID).
		Update("score", dec("100")).Error)
	cached, err := f.gradebook.Compute(f.ctx, studentA.UserID, course.ID)
	require.NoError(t, err)
	assertDec(t, "20", cached.Total.Decimal)
	assert.Equal(t, 1, mc.hits)

	f.setGrade(mid.ID, studentA.UserID, "90")
	fresh, err := f.gradebook.Compute(f.ctx, studentA.UserID, course.ID)
	require.NoError(t, err)
	assertDec(t, "36", fresh.Total.Decimal)
}

func TestGradebookService_UpdatesKeepRoleAndStatus(t *testing.T) {
	f := newFixture(t)
	course := f.course("CS105", "2026-SPRING", 3)
	cats := f.provision(course.ID)
	mid := f.item(cats[model.CategoryMidterm].ID, "Midterm exam", "100", "100")
	fin := f.item(cats[model.CategoryFinal].ID, "Final exam", "100", "100")
	mk := f.item(cats[model.CategoryMakeup].ID, "Makeup exam", "100", "100")
	f.setGrade(mid.ID, studentA.UserID, "80")
	f.setGrade(fin.ID, studentA.UserID, "70")
	f.setGrade(mk.ID, studentA.UserID, "90")

	res, err := f.gradebook.Compute(f.ctx, studentA.UserID, course.ID)
	require.NoError(t, err)
	assertDec(t, "32", res.Total.Decimal)

	renamed, err := f.gradebook.UpdateCategory(f.ctx, instructor, cats[model.CategoryFinal].ID, CategoryRequest{
		Name: "Final Exam", Weight: dec("60"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.CategoryFinal, renamed.Role)
	assert.Equal(t, "Final Exam", renamed.Name)

	retitled, err := f.gradebook.UpdateItem(f.ctx, instructor, mid.ID, ItemRequest{
		Title: "Midterm (written)", MaxScore: dec("100"), WeightInCategory: dec("100"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.ItemPublished, retitled.Status)

	res, err = f.gradebook.Compute(f.ctx, studentA.UserID, course.ID)
	require.NoError(t, err)
	assertDec(t, "32", res.Total.Decimal)
	assert.True(t, res.MakeupApplied)

	// an explicit role still moves the category
	moved, err := f.gradebook.UpdateCategory(f.ctx, instructor, cats[model.CategoryFinal].ID, CategoryRequest{
		Name: "Project", Role: model.CategoryOther, Weight: dec("60"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.CategoryOther, moved.Role)

	created, err := f.gradebook.CreateCategory(f.ctx, instructor, course.ID, CategoryRequest{Name: "Labs", Weight: dec("0")})
	require.NoError(t, err)
	assert.Equal(t, model.CategoryOther, created.Role)
}
