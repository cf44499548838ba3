package service

import (
	"context"
	"testing"
	"time"

	"gradebook_backend/internal/model"
	"gradebook_backend/internal/repository"
	"gradebook_backend/pkg/cache"
	"gradebook_backend/pkg/database"
	"gradebook_backend/pkg/notify"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	instructor = Caller{UserID: 1, Role: RoleInstructor}
	studentA   = Caller{UserID: 100, Role: RoleStudent}
	studentB   = Caller{UserID: 200, Role: RoleStudent}
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func score(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: dec(s), Valid: true}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), database.GormConfig(logger.Silent))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

// fixture wires every service on one database with a controllable clock.
type fixture struct {
	t   *testing.T
	ctx context.Context
	db  *gorm.DB
	now time.Time

	events      *notify.Recorder
	gradebook   *GradebookService
	grades      *GradeEntryService
	quizzes     *QuizService
	attempts    *QuizAttemptService
	transcripts *TranscriptService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithCache(t, cache.Nop{})
}

func newFixtureWithCache(t *testing.T, c cache.Cache) *fixture {
	db := newTestDB(t)
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		db:     db,
		now:    time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		events: &notify.Recorder{},
	}

	courses := repository.NewCourseRepository(db)
	gradebookRepo := repository.NewGradebookRepository(db)
	quizRepo := repository.NewQuizRepository(db)
	attemptRepo := repository.NewQuizAttemptRepository(db)

	f.gradebook = NewGradebookService(db, courses, gradebookRepo, c, time.Minute)
	f.gradebook.Now = f.clock
	f.grades = NewGradeEntryService(db, gradebookRepo, f.gradebook, f.events)
	f.grades.Now = f.clock
	f.quizzes = NewQuizService(db, quizRepo, courses, gradebookRepo)
	f.attempts = NewQuizAttemptService(db, quizRepo, attemptRepo, gradebookRepo, f.gradebook, f.events)
	f.attempts.Now = f.clock
	f.transcripts = NewTranscriptService(db, courses, nil)
	f.transcripts.Now = f.clock
	return f
}

func (f *fixture) clock() time.Time {
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) course(code, term string, credits int) *model.CourseOffering {
	c := &model.CourseOffering{Code: code, Title: code + " course", Term: term, Credits: credits}
	require.NoError(f.t, f.db.Create(c).Error)
	return c
}

func (f *fixture) enroll(studentID, courseID uint) *model.Enrollment {
	e := &model.Enrollment{StudentID: studentID, CourseOfferingID: courseID}
	require.NoError(f.t, f.db.Create(e).Error)
	return e
}

// provision creates the default categories and returns them by role.
func (f *fixture) provision(courseID uint) map[model.CategoryRole]model.GradeCategory {
	cats, err := f.gradebook.ProvisionDefaultCategories(f.ctx, instructor, courseID)
	require.NoError(f.t, err)
	byRole := make(map[model.CategoryRole]model.GradeCategory, len(cats))
	for _, c := range cats {
		byRole[c.Role] = c
	}
	return byRole
}

func (f *fixture) item(categoryID uint, title, maxScore, weight string) *model.GradeItem {
	item, err := f.gradebook.CreateItem(f.ctx, instructor, categoryID, ItemRequest{
		Title:            title,
		MaxScore:         dec(maxScore),
		WeightInCategory: dec(weight),
		Status:           model.ItemPublished,
	})
	require.NoError(f.t, err)
	return item
}

func (f *fixture) setGrade(itemID, studentID uint, s string) *model.Grade {
	g, err := f.grades.SetGrade(f.ctx, instructor, itemID, GradeEntry{StudentID: studentID, Score: score(s)})
	require.NoError(f.t, err)
	return g
}
