package service

import (
	"testing"
	"time"

	"gradebook_backend/internal/model"
	"gradebook_backend/internal/util"
	"gradebook_backend/pkg/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func mcQuestion(points, correct string, order int) PoolQuestionRequest {
	return PoolQuestionRequest{
		QuestionType:  model.MultipleChoice,
		Text:          "Pick one",
		Options:       datatypes.JSON(`["A","B","C","D"]`),
		CorrectAnswer: correct,
		Points:        dec(points),
		Order:         order,
	}
}

func essayQuestion(points string, order int) PoolQuestionRequest {
	return PoolQuestionRequest{
		QuestionType: model.Essay,
		Text:         "Explain",
		Points:       dec(points),
		Order:        order,
	}
}

func (f *fixture) quizRequest() QuizRequest {
	return QuizRequest{
		Title:           "Weekly quiz",
		StartTime:       f.now.Add(-time.Hour),
		EndTime:         f.now.Add(24 * time.Hour),
		DurationMinutes: 30,
		MaxAttempts:     2,
		AutoSubmit:      true,
	}
}

// newQuiz creates and activates a quiz with the given pool.
func (f *fixture) newQuiz(courseID uint, req QuizRequest, questions ...PoolQuestionRequest) (*model.Quiz, []*model.QuizQuestion) {
	quiz, err := f.quizzes.CreateQuiz(f.ctx, instructor, courseID, req)
	require.NoError(f.t, err)
	pool := make([]*model.QuizQuestion, 0, len(questions))
	for _, q := range questions {
		qq, err := f.quizzes.AddPoolQuestion(f.ctx, instructor, quiz.ID, q)
		require.NoError(f.t, err)
		pool = append(pool, qq)
	}
	quiz, err = f.quizzes.Activate(f.ctx, instructor, quiz.ID)
	require.NoError(f.t, err)
	return quiz, pool
}

func (f *fixture) start(caller Caller, quizID uint) *model.QuizAttempt {
	a, err := f.attempts.StartAttempt(f.ctx, caller, quizID, "127.0.0.1")
	require.NoError(f.t, err)
	return a
}

func (f *fixture) answer(caller Caller, attemptID, quizQuestionID uint, response string) *model.QuizAnswer {
	ans, err := f.attempts.SaveAnswer(f.ctx, caller, attemptID, quizQuestionID, response)
	require.NoError(f.t, err)
	return ans
}

func (f *fixture) submit(caller Caller, attemptID uint) *model.QuizAttempt {
	a, err := f.attempts.SubmitAttempt(f.ctx, caller, attemptID)
	require.NoError(f.t, err)
	return a
}

func TestQuizService_CreateQuizValidation(t *testing.T) {
	f := newFixture(t)
	course := f.course("BIO110", "2026-SPRING", 3)
	other := f.course("BIO111", "2026-SPRING", 3)
	otherCats := f.provision(other.ID)
	foreignItem := f.item(otherCats[model.CategoryMidterm].ID, "Other quiz", "10", "10")

	req := f.quizRequest()
	req.MaxAttempts = 0
	_, err := f.quizzes.CreateQuiz(f.ctx, instructor, course.ID, req)
	assert.ErrorIs(t, err, util.ErrValidation)

	req = f.quizRequest()
	req.EndTime = req.StartTime.Add(-time.Minute)
	_, err = f.quizzes.CreateQuiz(f.ctx, instructor, course.ID, req)
	assert.ErrorIs(t, err, util.ErrValidation)

	req = f.quizRequest()
	req.UseRandomQuestions = true
	req.RandomQuestionCount = 3
	req.RandomQuestionPoolSize = 2
	_, err = f.quizzes.CreateQuiz(f.ctx, instructor, course.ID, req)
	assert.ErrorIs(t, err, util.ErrValidation)

	req = f.quizRequest()
	req.GradeItemID = &foreignItem.ID
	_, err = f.quizzes.CreateQuiz(f.ctx, instructor, course.ID, req)
	assert.ErrorIs(t, err, util.ErrValidation)

	_, err = f.quizzes.CreateQuiz(f.ctx, instructor, 9999, f.quizRequest())
	assert.ErrorIs(t, err, util.ErrCourseNotFound)

	_, err = f.quizzes.CreateQuiz(f.ctx, studentA, course.ID, f.quizRequest())
	assert.ErrorIs(t, err, util.ErrInstructorOnly)
}

func TestQuizService_PoolAndActivation(t *testing.T) {
	f := newFixture(t)
	course := f.course("BIO120", "2026-SPRING", 3)

	empty, err := f.quizzes.CreateQuiz(f.ctx, instructor, course.ID, f.quizRequest())
	require.NoError(t, err)
	_, err = f.quizzes.Activate(f.ctx, instructor, empty.ID)
	assert.ErrorIs(t, err, util.ErrValidation)

	req := f.quizRequest()
	req.UseRandomQuestions = true
	req.RandomQuestionCount = 2
	req.RandomQuestionPoolSize = 4
	random, err := f.quizzes.CreateQuiz(f.ctx, instructor, course.ID, req)
	require.NoError(t, err)
	var first *model.QuizQuestion
	for i := 0; i < 3; i++ {
		qq, err := f.quizzes.AddPoolQuestion(f.ctx, instructor, random.ID, mcQuestion("1", "A", i))
		require.NoError(t, err)
		if first == nil {
			first = qq
		}
	}
	_, err = f.quizzes.Activate(f.ctx, instructor, random.ID)
	assert.ErrorIs(t, err, util.ErrValidation, "pool smaller than pool size")

	// bank questions can be reused, but only once per pool
	_, err = f.quizzes.AddPoolQuestion(f.ctx, instructor, random.ID, PoolQuestionRequest{QuestionID: first.QuestionID})
	assert.ErrorIs(t, err, util.ErrValidation)

	noKey := mcQuestion("1", "", 9)
	_, err = f.quizzes.AddPoolQuestion(f.ctx, instructor, random.ID, noKey)
	assert.ErrorIs(t, err, util.ErrValidation)

	override := mcQuestion("1", "B", 4)
	override.PointsOverride = score("3")
	qq, err := f.quizzes.AddPoolQuestion(f.ctx, instructor, random.ID, override)
	require.NoError(t, err)
	assertDec(t, "3", qq.EffectivePoints())

	activated, err := f.quizzes.Activate(f.ctx, instructor, random.ID)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)
}

func TestQuizAttempt_StartPreconditions(t *testing.T) {
	f := newFixture(t)
	course := f.course("BIO130", "2026-SPRING", 3)

	inactive, err := f.quizzes.CreateQuiz(f.ctx, instructor, course.ID, f.quizRequest())
	require.NoError(t, err)
	_, err = f.attempts.StartAttempt(f.ctx, studentA, inactive.ID, "")
	assert.ErrorIs(t, err, util.ErrQuizNotActive)

	quiz, _ := f.newQuiz(course.ID, f.quizRequest(), mcQuestion("5", "A", 1))
	f.advance(48 * time.Hour)
	_, err = f.attempts.StartAttempt(f.ctx, studentA, quiz.ID, "")
	assert.ErrorIs(t, err, util.ErrQuizNotAvailable)

	_, err = f.attempts.StartAttempt(f.ctx, studentA, 9999, "")
	assert.ErrorIs(t, err, util.ErrQuizNotFound)
}

func TestQuizAttempt_AttemptLimit(t *testing.T) {
	f := newFixture(t)
	course := f.course("BIO140", "2026-SPRING", 3)
	quiz, _ := f.newQuiz(course.ID, f.quizRequest(), mcQuestion("5", "A", 1))

	first := f.start(studentA, quiz.ID)
	assert.Equal(t, 1, first.AttemptNumber)
	assert.Equal(t, model.AttemptInProgress, first.Status)
	assert.Equal(t, "127.0.0.1", first.ClientIP)

	_, err := f.attempts.StartAttempt(f.ctx, studentA, quiz.ID, "")
	assert.ErrorIs(t, err, util.ErrAttemptInProgress)

	f.submit(studentA, first.ID)
	second := f.start(studentA, quiz.ID)
	assert.Equal(t, 2, second.AttemptNumber)
	f.submit(studentA, second.ID)

	_, err = f.attempts.StartAttempt(f.ctx, studentA, quiz.ID, "")
	assert.ErrorIs(t, err, util.ErrAttemptLimitReached)
	assert.ErrorIs(t, err, util.ErrStateConflict)

	var count int64
	require.NoError(t, f.db.Model(&model.QuizAttempt{}).Where("quiz_id = ? AND student_id = ?", quiz.ID, studentA.UserID).Count(&count).Error)
	assert.EqualValues(t, quiz.MaxAttempts, count)

	// limits are per student
	other := f.start(studentB, quiz.ID)
	assert.Equal(t, 1, other.AttemptNumber)
}

func TestQuizAttempt_SubmitIsIdempotent(t *testing.T) {
	f := newFixture(t)
	course := f.course("BIO150", "2026-SPRING", 3)
	quiz, pool := f.newQuiz(course.ID, f.quizRequest(),
		mcQuestion("5", "B", 1), mcQuestion("5", "C", 2), essayQuestion("10", 3))

	attempt := f.start(studentA, quiz.ID)
	right := f.answer(studentA, attempt.ID, pool[0].ID, " b ")
	require.NotNil(t, right.IsCorrect)
	assert.True(t, *right.IsCorrect)
	assertDec(t, "5", right.PointsEarned)

	wrong := f.answer(studentA, attempt.ID, pool[1].ID, "A")
	require.NotNil(t, wrong.IsCorrect)
	assert.False(t, *wrong.IsCorrect)
	assertDec(t, "0", wrong.PointsEarned)

	// changing a response regrades it
	wrong = f.answer(studentA, attempt.ID, pool[1].ID, "C")
	assert.True(t, *wrong.IsCorrect)
	wrong = f.answer(studentA, attempt.ID, pool[1].ID, "D")
	assert.False(t, *wrong.IsCorrect)

	essay := f.answer(studentA, attempt.ID, pool[2].ID, "long text")
	assert.Nil(t, essay.IsCorrect)

	f.advance(10 * time.Minute)
	done := f.submit(studentA, attempt.ID)
	assert.Equal(t, model.AttemptSubmitted, done.Status)
	require.NotNil(t, done.SubmittedAt)
	assertDec(t, "5", done.Score.Decimal)
	assertDec(t, "25", done.Percentage.Decimal)
	assert.Equal(t, 600, done.TimeSpentSeconds)

	f.advance(time.Minute)
	again := f.submit(studentA, attempt.ID)
	assert.Equal(t, done.Status, again.Status)
	assert.True(t, done.SubmittedAt.Equal(*again.SubmittedAt))
	assertDec(t, "5", again.Score.Decimal)
	assert.Equal(t, 1, f.events.Count(notify.EventAttemptFinished))

	_, err := f.attempts.SaveAnswer(f.ctx, studentA, attempt.ID, pool[0].ID, "A")
	assert.ErrorIs(t, err, util.ErrAttemptNotInProgress)
}

func TestQuizAttempt_AutoSubmitAfterDuration(t *testing.T) {
	f := newFixture(t)
	course := f.course("BIO160", "2026-SPRING", 3)
	quiz, pool := f.newQuiz(course.ID, f.quizRequest(), mcQuestion("5", "A", 1), mcQuestion("5", "A", 2))

	attempt := f.start(studentA, quiz.ID)
	f.answer(studentA, attempt.ID, pool[0].ID, "A")

	f.advance(29 * time.Minute)
	open, err := f.attempts.AutoSubmitIfExpired(f.ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptInProgress, open.Status)

	f.advance(2 * time.Minute)
	closed, err := f.attempts.AutoSubmitIfExpired(f.ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptAutoSubmitted, closed.Status)
	require.NotNil(t, closed.SubmittedAt)
	assert.True(t, f.now.Equal(*closed.SubmittedAt))
	assertDec(t, "5", closed.Score.Decimal)
	assertDec(t, "50", closed.Percentage.Decimal)
	assert.Equal(t, 31*60, closed.TimeSpentSeconds)

	// an explicit submit afterwards changes nothing
	again := f.submit(studentA, attempt.ID)
	assert.Equal(t, model.AttemptAutoSubmitted, again.Status)
	assert.Equal(t, 1, f.events.Count(notify.EventAttemptFinished))
}

func TestQuizAttempt_StartClosesExpiredAttempt(t *testing.T) {
	f := newFixture(t)
	course := f.course("BIO161", "2026-SPRING", 3)
	quiz, _ := f.newQuiz(course.ID, f.quizRequest(), mcQuestion("5", "A", 1))

	first := f.start(studentA, quiz.ID)
	f.advance(31 * time.Minute)
	second := f.start(studentA, quiz.ID)
	assert.Equal(t, 2, second.AttemptNumber)

	var reloaded model.QuizAttempt
	require.NoError(t, f.db.First(&reloaded, first.ID).Error)
	assert.Equal(t, model.AttemptAutoSubmitted, reloaded.Status)
}

func TestQuizAttempt_TimeUpWithoutAutoSubmit(t *testing.T) {
	f := newFixture(t)
	course := f.course("BIO170", "2026-SPRING", 3)
	req := f.quizRequest()
	req.AutoSubmit = false
	quiz, pool := f.newQuiz(course.ID, req, mcQuestion("5", "A", 1))

	attempt := f.start(studentA, quiz.ID)
	f.advance(31 * time.Minute)

	_, err := f.attempts.SaveAnswer(f.ctx, studentA, attempt.ID, pool[0].ID, "A")
	assert.ErrorIs(t, err, util.ErrTimeUp)

	view, err := f.attempts.GetAttempt(f.ctx, studentA, attempt.ID)
	require.NoError(t, err)
	assert.True(t, view.TimeUp)
	assert.Equal(t, model.AttemptInProgress, view.Attempt.Status)
	assert.Equal(t, 0, view.RemainingSeconds)

	_, err = f.attempts.StartAttempt(f.ctx, studentA, quiz.ID, "")
	assert.ErrorIs(t, err, util.ErrAttemptInProgress)

	done := f.submit(studentA, attempt.ID)
	assert.Equal(t, model.AttemptSubmitted, done.Status)
	assertDec(t, "0", done.Score.Decimal)
}

func TestQuizAttempt_OwnershipAndAnswerKey(t *testing.T) {
	f := newFixture(t)
	course := f.course("BIO180", "2026-SPRING", 3)
	quiz, pool := f.newQuiz(course.ID, f.quizRequest(), mcQuestion("5", "A", 1))
	otherQuiz, otherPool := f.newQuiz(course.ID, f.quizRequest(), mcQuestion("5", "A", 1))
	require.NotEqual(t, quiz.ID, otherQuiz.ID)

	attempt := f.start(studentA, quiz.ID)

	_, err := f.attempts.SaveAnswer(f.ctx, studentB, attempt.ID, pool[0].ID, "A")
	assert.ErrorIs(t, err, util.ErrNotAttemptOwner)
	_, err = f.attempts.GetAttempt(f.ctx, studentB, attempt.ID)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)
	_, err = f.attempts.SubmitAttempt(f.ctx, studentB, attempt.ID)
	assert.ErrorIs(t, err, util.ErrNotAttemptOwner)

	_, err = f.attempts.SaveAnswer(f.ctx, studentA, attempt.ID, otherPool[0].ID, "A")
	assert.ErrorIs(t, err, util.ErrQuestionNotFound)

	view, err := f.attempts.GetAttempt(f.ctx, studentA, attempt.ID)
	require.NoError(t, err)
	require.Len(t, view.Questions, 1)
	assert.Empty(t, view.Questions[0].CorrectAnswer)
	assert.Equal(t, 30*60, view.RemainingSeconds)
	assertDec(t, "5", view.TotalPoints)

	staff, err := f.attempts.GetAttempt(f.ctx, instructor, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", staff.Questions[0].CorrectAnswer)

	_, err = f.attempts.GetAttempt(f.ctx, studentA, 9999)
	assert.ErrorIs(t, err, util.ErrAttemptNotFound)
}

func TestQuizAttempt_RandomDrawIsStableAndScoredPerStudent(t *testing.T) {
	f := newFixture(t)
	course := f.course("BIO190", "2026-SPRING", 3)
	req := f.quizRequest()
	req.UseRandomQuestions = true
	req.RandomQuestionCount = 2
	req.RandomQuestionPoolSize = 4
	quiz, pool := f.newQuiz(course.ID, req,
		mcQuestion("2", "A", 1), mcQuestion("2", "A", 2), mcQuestion("6", "A", 3), mcQuestion("6", "A", 4))

	f.attempts.Shuffle = func(int, func(i, j int)) {}
	a := f.start(studentA, quiz.ID)
	f.attempts.Shuffle = func(_ int, swap func(i, j int)) { swap(1, 2) }
	b := f.start(studentB, quiz.ID)

	viewA, err := f.attempts.GetAttempt(f.ctx, studentA, a.ID)
	require.NoError(t, err)
	viewB, err := f.attempts.GetAttempt(f.ctx, studentB, b.ID)
	require.NoError(t, err)
	require.Len(t, viewA.Questions, 2)
	require.Len(t, viewB.Questions, 2)
	assert.Equal(t, []uint{pool[0].QuestionID, pool[1].QuestionID}, questionIDs(viewA))
	assert.Equal(t, []uint{pool[0].QuestionID, pool[2].QuestionID}, questionIDs(viewB))
	assertDec(t, "4", viewA.TotalPoints)
	assertDec(t, "8", viewB.TotalPoints)

	// pool rows are not served on a random quiz
	_, err = f.attempts.SaveAnswer(f.ctx, studentA, a.ID, pool[0].ID, "A")
	assert.ErrorIs(t, err, util.ErrQuestionNotFound)

	f.answer(studentA, a.ID, viewA.Questions[0].QuizQuestionID, "A")
	f.answer(studentB, b.ID, viewB.Questions[0].QuizQuestionID, "A")
	doneA := f.submit(studentA, a.ID)
	doneB := f.submit(studentB, b.ID)
	assertDec(t, "2", doneA.Score.Decimal)
	assertDec(t, "2", doneB.Score.Decimal)
	assertDec(t, "50", doneA.Percentage.Decimal)
	assertDec(t, "25", doneB.Percentage.Decimal)

	// the draw is kept for later attempts
	f.attempts.Shuffle = func(_ int, swap func(i, j int)) { swap(0, 3) }
	b2 := f.start(studentB, quiz.ID)
	viewB2, err := f.attempts.GetAttempt(f.ctx, studentB, b2.ID)
	require.NoError(t, err)
	assert.Equal(t, questionIDs(viewB), questionIDs(viewB2))
	assert.Empty(t, viewB2.Answers)
}

func questionIDs(v *AttemptView) []uint {
	ids := make([]uint, 0, len(v.Questions))
	for _, q := range v.Questions {
		ids = append(ids, q.QuestionID)
	}
	return ids
}

func TestQuizAttempt_GradebookSync(t *testing.T) {
	f := newFixture(t)
	course := f.course("BIO200", "2026-SPRING", 3)
	cats := f.provision(course.ID)
	bestItem := f.item(cats[model.CategoryMidterm].ID, "Quiz 1", "20", "100")
	latestItem := f.item(cats[model.CategoryFinal].ID, "Quiz 2", "20", "100")

	best := f.quizRequest()
	best.UseBestAttempt = true
	best.GradeItemID = &bestItem.ID
	bestQuiz, bestPool := f.newQuiz(course.ID, best, mcQuestion("5", "A", 1), mcQuestion("5", "A", 2))

	latest := f.quizRequest()
	latest.GradeItemID = &latestItem.ID
	latestQuiz, latestPool := f.newQuiz(course.ID, latest, mcQuestion("5", "A", 1), mcQuestion("5", "A", 2))

	a1 := f.start(studentA, bestQuiz.ID)
	f.answer(studentA, a1.ID, bestPool[0].ID, "A")
	f.answer(studentA, a1.ID, bestPool[1].ID, "A")
	f.submit(studentA, a1.ID)
	f.advance(time.Minute)
	a2 := f.start(studentA, bestQuiz.ID)
	f.answer(studentA, a2.ID, bestPool[0].ID, "A")
	f.submit(studentA, a2.ID)

	selected, err := f.attempts.StudentBestAttempt(f.ctx, bestQuiz.ID, studentA.UserID)
	require.NoError(t, err)
	assert.Equal(t, a1.ID, selected.ID)

	l1 := f.start(studentA, latestQuiz.ID)
	f.answer(studentA, l1.ID, latestPool[0].ID, "A")
	f.answer(studentA, l1.ID, latestPool[1].ID, "A")
	f.submit(studentA, l1.ID)
	f.advance(time.Minute)
	l2 := f.start(studentA, latestQuiz.ID)
	f.answer(studentA, l2.ID, latestPool[0].ID, "A")
	f.submit(studentA, l2.ID)

	selected, err = f.attempts.StudentBestAttempt(f.ctx, latestQuiz.ID, studentA.UserID)
	require.NoError(t, err)
	assert.Equal(t, l2.ID, selected.ID)

	var g model.Grade
	require.NoError(t, f.db.Where("student_id = ? AND grade_item_id = ?", studentA.UserID, bestItem.ID).First(&g).Error)
	assertDec(t, "20", g.Score.Decimal)
	require.NoError(t, f.db.Where("student_id = ? AND grade_item_id = ?", studentA.UserID, latestItem.ID).First(&g).Error)
	assertDec(t, "10", g.Score.Decimal)
	assert.Equal(t, 2, f.events.Count(notify.EventGradePosted))

	res, err := f.gradebook.Compute(f.ctx, studentA.UserID, course.ID)
	require.NoError(t, err)
	// 100% of 40 plus 50% of 60
	assertDec(t, "70", res.Total.Decimal)

	_, err = f.attempts.StudentBestAttempt(f.ctx, bestQuiz.ID, studentB.UserID)
	assert.ErrorIs(t, err, util.ErrAttemptNotFound)
}

func TestQuizAttempt_ManualGrading(t *testing.T) {
	f := newFixture(t)
	course := f.course("BIO210", "2026-SPRING", 3)
	quiz, pool := f.newQuiz(course.ID, f.quizRequest(), mcQuestion("5", "A", 1), essayQuestion("10", 2))

	attempt := f.start(studentA, quiz.ID)
	mc := f.answer(studentA, attempt.ID, pool[0].ID, "A")
	essay := f.answer(studentA, attempt.ID, pool[1].ID, "photosynthesis")
	done := f.submit(studentA, attempt.ID)
	assertDec(t, "5", done.Score.Decimal)
	assertDec(t, "33.3333", done.Percentage.Decimal)

	view, err := f.attempts.GetAttempt(f.ctx, instructor, attempt.ID)
	require.NoError(t, err)
	assert.True(t, view.Provisional)

	_, err = f.attempts.GradeAnswer(f.ctx, studentA, essay.ID, dec("10"), nil)
	assert.ErrorIs(t, err, util.ErrInstructorOnly)
	_, err = f.attempts.GradeAnswer(f.ctx, instructor, mc.ID, dec("0"), nil)
	assert.ErrorIs(t, err, util.ErrAnswerNotGradable)
	_, err = f.attempts.GradeAnswer(f.ctx, instructor, essay.ID, dec("10.5"), nil)
	assert.ErrorIs(t, err, util.ErrValidation)

	graded, err := f.attempts.GradeAnswer(f.ctx, instructor, essay.ID, dec("8"), nil)
	require.NoError(t, err)
	require.NotNil(t, graded.IsCorrect)
	assert.False(t, *graded.IsCorrect)
	assert.Equal(t, instructor.UserID, graded.GradedBy)

	view, err = f.attempts.GetAttempt(f.ctx, instructor, attempt.ID)
	require.NoError(t, err)
	assert.False(t, view.Provisional)
	assertDec(t, "13", view.Attempt.Score.Decimal)
	assertDec(t, "86.6667", view.Attempt.Percentage.Decimal)
}

type dbEvent struct {
	op     string
	table  string
	locked bool
}

// recordEvents logs every query and update run on db.
func recordEvents(t *testing.T, db *gorm.DB) *[]dbEvent {
	var events []dbEvent
	record := func(op string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			_, locked := tx.Statement.Clauses["FOR"]
			events = append(events, dbEvent{op: op, table: tx.Statement.Table, locked: locked})
		}
	}
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:record_query", record("query")))
	require.NoError(t, db.Callback().Update().After("gorm:update").Register("test:record_update", record("update")))
	return &events
}

// lockedBefore reports whether the attempt row was read for update before
// the first op on table.
func lockedBefore(events []dbEvent, op, table string) bool {
	locked := false
	for _, e := range events {
		if e.op == op && e.table == table {
			return locked
		}
		if e.op == "query" && e.table == "quiz_attempts" && e.locked {
			locked = true
		}
	}
	return false
}

func TestQuizAttempt_ScoringHoldsAttemptLock(t *testing.T) {
	f := newFixture(t)
	course := f.course("CHM101", "2026-SPRING", 3)
	quiz, pool := f.newQuiz(course.ID, f.quizRequest(), mcQuestion("5", "A", 1), essayQuestion("10", 2))
	events := recordEvents(t, f.db)

	attempt := f.start(studentA, quiz.ID)
	f.answer(studentA, attempt.ID, pool[0].ID, "A")
	essay := f.answer(studentA, attempt.ID, pool[1].ID, "catalysis")

	*events = nil
	done := f.submit(studentA, attempt.ID)
	assertDec(t, "5", done.Score.Decimal)
	assert.True(t, lockedBefore(*events, "query", "quiz_answers"), "submit scored answers without locking the attempt")

	*events = nil
	_, err := f.attempts.GradeAnswer(f.ctx, instructor, essay.ID, dec("10"), nil)
	require.NoError(t, err)
	assert.True(t, lockedBefore(*events, "update", "quiz_answers"), "grading wrote the answer without locking the attempt")

	view, err := f.attempts.GetAttempt(f.ctx, instructor, attempt.ID)
	require.NoError(t, err)
	assertDec(t, "15", view.Attempt.Score.Decimal)
}

func TestQuizAttempt_ConcurrentStartIsDuplicate(t *testing.T) {
	f := newFixture(t)
	course := f.course("CHM102", "2026-SPRING", 3)
	quiz, _ := f.newQuiz(course.ID, f.quizRequest(), mcQuestion("5", "A", 1))

	// a rival start commits the same attempt number between count and insert
	raced := false
	err := f.db.Callback().Create().Before("gorm:create").Register("test:rival_start", func(tx *gorm.DB) {
		a, ok := tx.Statement.Dest.(*model.QuizAttempt)
		if !ok || raced {
			return
		}
		raced = true
		rival := model.QuizAttempt{
			QuizID:        a.QuizID,
			StudentID:     a.StudentID,
			AttemptNumber: a.AttemptNumber,
			Status:        model.AttemptInProgress,
			StartedAt:     a.StartedAt,
		}
		require.NoError(t, tx.Session(&gorm.Session{NewDB: true}).Create(&rival).Error)
	})
	require.NoError(t, err)

	_, err = f.attempts.StartAttempt(f.ctx, studentA, quiz.ID, "127.0.0.1")
	require.ErrorIs(t, err, util.ErrDuplicateAttempt)
	assert.ErrorIs(t, err, util.ErrStateConflict)
	assert.True(t, raced)

	// the failed start left nothing behind
	attempt := f.start(studentA, quiz.ID)
	assert.Equal(t, 1, attempt.AttemptNumber)
}
