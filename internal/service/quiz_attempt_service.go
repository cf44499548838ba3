package service

import (
	"context"
	"math/rand"
	"time"

	"gradebook_backend/internal/model"
	"gradebook_backend/internal/repository"
	"gradebook_backend/internal/util"
	"gradebook_backend/pkg/logger"
	"gradebook_backend/pkg/monitoring"
	"gradebook_backend/pkg/notify"
	"gradebook_backend/pkg/tracing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AttemptQuestion struct {
	QuizQuestionID uint               `json:"quizQuestionId"`
	QuestionID     uint               `json:"questionId"`
	QuestionType   model.QuestionType `json:"questionType"`
	Text           string             `json:"text"`
	Options        datatypes.JSON     `json:"options,omitempty"`
	Points         decimal.Decimal    `json:"points"`
	Order          int                `json:"order"`
	CorrectAnswer  string             `json:"correctAnswer,omitempty"`
}

// AttemptView is an attempt as shown to its student or to an instructor.
type AttemptView struct {
	Attempt          *model.QuizAttempt `json:"attempt"`
	Questions        []AttemptQuestion  `json:"questions"`
	Answers          []model.QuizAnswer `json:"answers"`
	TotalPoints      decimal.Decimal    `json:"totalPoints"`
	RemainingSeconds int                `json:"remainingSeconds"` // -1 when untimed
	TimeUp           bool               `json:"timeUp"`           // expired, waiting for an explicit submit
	Provisional      bool               `json:"provisional"`      // some answers still need manual grading
}

type QuizAttemptService struct {
	DB            *gorm.DB
	QuizRepo      *repository.QuizRepository
	AttemptRepo   *repository.QuizAttemptRepository
	GradebookRepo *repository.GradebookRepository
	Gradebook     *GradebookService
	Grader        AutoGrader
	Publisher     notify.Publisher
	Now           func() time.Time
	Shuffle       func(n int, swap func(i, j int))
}

func NewQuizAttemptService(db *gorm.DB, quizRepo *repository.QuizRepository, attemptRepo *repository.QuizAttemptRepository, gradebookRepo *repository.GradebookRepository, gradebook *GradebookService, publisher notify.Publisher) *QuizAttemptService {
	if publisher == nil {
		publisher = notify.LogPublisher{}
	}
	return &QuizAttemptService{
		DB:            db,
		QuizRepo:      quizRepo,
		AttemptRepo:   attemptRepo,
		GradebookRepo: gradebookRepo,
		Gradebook:     gradebook,
		Publisher:     publisher,
		Now:           time.Now,
		Shuffle:       rand.Shuffle,
	}
}

// StartAttempt opens a new attempt for the caller. A random quiz draws the
// caller's question set on the first start; later attempts reuse it.
func (s *QuizAttemptService) StartAttempt(ctx context.Context, caller Caller, quizID uint, clientIP string) (*model.QuizAttempt, error) {
	ctx, span := tracing.Start(ctx, "QuizAttemptService.StartAttempt",
		attribute.Int64("quiz.id", int64(quizID)),
		attribute.Int64("student.id", int64(caller.UserID)))
	defer span.End()

	db := s.DB.WithContext(ctx)
	quiz, err := s.QuizRepo.WithTx(db).FindQuizByID(quizID)
	if err != nil {
		return nil, notFound(err, util.ErrQuizNotFound)
	}
	now := s.Now()
	if !quiz.IsActive {
		return nil, util.ErrQuizNotActive
	}
	if !quiz.IsAvailable(now) {
		return nil, util.ErrQuizNotAvailable
	}

	open, err := s.AttemptRepo.WithTx(db).FindInProgress(caller.UserID, quizID)
	switch {
	case err == nil:
		open, _, err = s.expire(ctx, open, quiz)
		if err != nil {
			return nil, err
		}
		if open.Status == model.AttemptInProgress {
			return nil, util.ErrAttemptInProgress
		}
	case !isNotFound(err):
		return nil, err
	}

	var attempt *model.QuizAttempt
	err = db.Transaction(func(tx *gorm.DB) error {
		attempts := s.AttemptRepo.WithTx(tx)
		count, err := attempts.CountByStudentAndQuiz(caller.UserID, quizID)
		if err != nil {
			return err
		}
		if int(count) >= quiz.MaxAttempts {
			return util.ErrAttemptLimitReached
		}
		last, err := attempts.MaxAttemptNumber(caller.UserID, quizID)
		if err != nil {
			return err
		}
		attempt = &model.QuizAttempt{
			QuizID:        quizID,
			StudentID:     caller.UserID,
			AttemptNumber: last + 1,
			Status:        model.AttemptInProgress,
			StartedAt:     now,
			ClientIP:      clientIP,
		}
		if err := attempts.Create(attempt); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return util.ErrDuplicateAttempt
			}
			return err
		}
		if quiz.UseRandomQuestions {
			return s.ensureDraw(tx, quiz, caller.UserID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.AttemptsStarted.Inc()
	logger.Log.Info("quiz attempt started",
		zap.Uint("attemptId", attempt.ID),
		zap.Uint("quizId", quizID),
		zap.Uint("studentId", caller.UserID),
		zap.Int("attemptNumber", attempt.AttemptNumber))
	return attempt, nil
}

// ensureDraw assigns RandomQuestionCount pool questions to the student unless
// a draw already exists.
func (s *QuizAttemptService) ensureDraw(tx *gorm.DB, quiz *model.Quiz, studentID uint) error {
	repo := s.QuizRepo.WithTx(tx)
	assigned, err := repo.ListAssigned(quiz.ID, studentID)
	if err != nil {
		return err
	}
	if len(assigned) > 0 {
		return nil
	}
	pool, err := repo.ListPool(quiz.ID)
	if err != nil {
		return err
	}
	if len(pool) < quiz.RandomQuestionCount {
		return util.NewValidationError("question pool too small")
	}
	s.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	draw := make([]model.QuizQuestion, 0, quiz.RandomQuestionCount)
	for i, p := range pool[:quiz.RandomQuestionCount] {
		sid := studentID
		draw = append(draw, model.QuizQuestion{
			QuizID:              quiz.ID,
			QuestionID:          p.QuestionID,
			AssignedToStudentID: &sid,
			Points:              p.Points,
			Order:               i + 1,
		})
	}
	return repo.CreateQuizQuestions(draw)
}

// SaveAnswer stores the caller's response to one question of an in-progress
// attempt. Objective answers are graded on the spot.
func (s *QuizAttemptService) SaveAnswer(ctx context.Context, caller Caller, attemptID, quizQuestionID uint, response string) (*model.QuizAnswer, error) {
	attempt, quiz, err := s.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.StudentID != caller.UserID {
		return nil, util.ErrNotAttemptOwner
	}
	attempt, timeUp, err := s.expire(ctx, attempt, quiz)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.AttemptInProgress {
		return nil, util.ErrAttemptNotInProgress
	}
	if timeUp {
		return nil, util.ErrTimeUp
	}

	var answer *model.QuizAnswer
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempts := s.AttemptRepo.WithTx(tx)
		locked, err := attempts.LockByID(attemptID)
		if err != nil {
			return notFound(err, util.ErrAttemptNotFound)
		}
		if locked.Status != model.AttemptInProgress {
			return util.ErrAttemptNotInProgress
		}
		qq, err := s.QuizRepo.WithTx(tx).FindQuizQuestionByID(quizQuestionID)
		if err != nil {
			return notFound(err, util.ErrQuestionNotFound)
		}
		if !servedTo(qq, quiz, attempt.StudentID) {
			return util.ErrQuestionNotFound
		}

		if err := attempts.UpsertAnswer(&model.QuizAnswer{
			AttemptID:      attemptID,
			QuizQuestionID: quizQuestionID,
			Response:       response,
		}); err != nil {
			return err
		}
		answer, err = attempts.FindAnswer(attemptID, quizQuestionID)
		if err != nil {
			return err
		}
		_, err = s.Grader.CheckAnswer(tx, answer)
		return err
	})
	if err != nil {
		return nil, err
	}
	return answer, nil
}

// servedTo reports whether qq is one of the questions the student sees on quiz.
func servedTo(qq *model.QuizQuestion, quiz *model.Quiz, studentID uint) bool {
	if qq.QuizID != quiz.ID {
		return false
	}
	if quiz.UseRandomQuestions {
		return qq.AssignedToStudentID != nil && *qq.AssignedToStudentID == studentID
	}
	return qq.AssignedToStudentID == nil
}

// AutoSubmitIfExpired finishes an expired attempt when its quiz auto-submits.
// It returns the attempt in its current state either way.
func (s *QuizAttemptService) AutoSubmitIfExpired(ctx context.Context, attemptID uint) (*model.QuizAttempt, error) {
	attempt, quiz, err := s.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	attempt, _, err = s.expire(ctx, attempt, quiz)
	return attempt, err
}

// expire applies lazy expiry. timeUp is true for an expired attempt that
// stays in progress because the quiz does not auto-submit.
func (s *QuizAttemptService) expire(ctx context.Context, attempt *model.QuizAttempt, quiz *model.Quiz) (*model.QuizAttempt, bool, error) {
	if !attempt.IsExpired(quiz, s.Now()) {
		return attempt, false, nil
	}
	if !quiz.AutoSubmit {
		return attempt, true, nil
	}
	finished, err := s.finish(ctx, attempt.ID, model.AttemptAutoSubmitted)
	return finished, false, err
}

// SubmitAttempt finishes the caller's attempt. Submitting a finished attempt
// returns it unchanged.
func (s *QuizAttemptService) SubmitAttempt(ctx context.Context, caller Caller, attemptID uint) (*model.QuizAttempt, error) {
	attempt, quiz, err := s.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.StudentID != caller.UserID {
		return nil, util.ErrNotAttemptOwner
	}
	attempt, _, err = s.expire(ctx, attempt, quiz)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.AttemptInProgress {
		return attempt, nil
	}
	return s.finish(ctx, attemptID, model.AttemptSubmitted)
}

// finish moves an in-progress attempt to status, scores it and feeds the
// linked grade item. Only one caller wins the transition; the others get the
// attempt as the winner left it.
func (s *QuizAttemptService) finish(ctx context.Context, attemptID uint, status model.AttemptStatus) (*model.QuizAttempt, error) {
	ctx, span := tracing.Start(ctx, "QuizAttemptService.finish",
		attribute.Int64("attempt.id", int64(attemptID)),
		attribute.String("attempt.status", string(status)))
	defer span.End()

	now := s.Now()
	var (
		won    bool
		quiz   *model.Quiz
		posted *notify.Event
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempts := s.AttemptRepo.WithTx(tx)
		// answers are written under the same row lock
		a, err := attempts.LockByID(attemptID)
		if err != nil {
			return notFound(err, util.ErrAttemptNotFound)
		}
		if a.Status != model.AttemptInProgress {
			return nil
		}
		quiz, err = s.QuizRepo.WithTx(tx).FindQuizByID(a.QuizID)
		if err != nil {
			return notFound(err, util.ErrQuizNotFound)
		}
		score, pct, err := s.scoreAttempt(tx, a, quiz)
		if err != nil {
			return err
		}
		spent := int(now.Sub(a.StartedAt).Seconds())
		if spent < 0 {
			spent = 0
		}
		won, err = attempts.FinishIfInProgress(a.ID, status, now, score, pct, spent)
		if err != nil || !won {
			return err
		}
		posted, err = s.syncGradebook(tx, quiz, a.StudentID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	attempt, err := s.AttemptRepo.WithTx(s.DB.WithContext(ctx)).FindByID(attemptID)
	if err != nil {
		return nil, notFound(err, util.ErrAttemptNotFound)
	}
	if !won {
		return attempt, nil
	}

	monitoring.AttemptsFinished.WithLabelValues(string(status)).Inc()
	logger.Log.Info("quiz attempt finished",
		zap.Uint("attemptId", attempt.ID),
		zap.Uint("quizId", attempt.QuizID),
		zap.Uint("studentId", attempt.StudentID),
		zap.String("status", string(status)),
		zap.String("score", attempt.Score.Decimal.String()),
		zap.String("percentage", attempt.Percentage.Decimal.String()))
	s.Publisher.Publish(ctx, notify.Event{
		Type:             notify.EventAttemptFinished,
		StudentID:        attempt.StudentID,
		CourseOfferingID: quiz.CourseOfferingID,
		QuizID:           attempt.QuizID,
		AttemptID:        attempt.ID,
		Status:           string(attempt.Status),
		Score:            attempt.Score.Decimal.String(),
		OccurredAt:       now,
	})
	s.afterGradebookSync(ctx, quiz, posted)
	return attempt, nil
}

// scoreAttempt sums the points earned on the attempt's questions. The
// percentage is taken over the points of the questions served on this
// attempt, which differ between students of a random quiz.
func (s *QuizAttemptService) scoreAttempt(tx *gorm.DB, attempt *model.QuizAttempt, quiz *model.Quiz) (decimal.Decimal, decimal.Decimal, error) {
	questions, err := assignedQuestions(s.QuizRepo.WithTx(tx), quiz, attempt.StudentID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	possible := decimal.Zero
	served := make(map[uint]bool, len(questions))
	for i := range questions {
		possible = possible.Add(questions[i].EffectivePoints())
		served[questions[i].ID] = true
	}
	answers, err := s.AttemptRepo.WithTx(tx).ListAnswers(attempt.ID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	score := decimal.Zero
	for _, a := range answers {
		if served[a.QuizQuestionID] {
			score = score.Add(a.PointsEarned)
		}
	}
	pct := decimal.Zero
	if possible.IsPositive() {
		pct = score.Div(possible).Mul(hundred).Round(4)
	}
	return score, pct, nil
}

// syncGradebook writes the student's selected attempt into the quiz's grade
// item as percentage of the item's max score.
func (s *QuizAttemptService) syncGradebook(tx *gorm.DB, quiz *model.Quiz, studentID uint, now time.Time) (*notify.Event, error) {
	if quiz.GradeItemID == nil {
		return nil, nil
	}
	selected, err := s.AttemptRepo.WithTx(tx).FindSelected(studentID, quiz.ID, quiz.UseBestAttempt)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	repo := s.GradebookRepo.WithTx(tx)
	item, err := repo.FindItemByID(*quiz.GradeItemID)
	if isNotFound(err) {
		logger.Log.Warn("quiz grade item is gone", zap.Uint("quizId", quiz.ID), zap.Uint("gradeItemId", *quiz.GradeItemID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	score := selected.Percentage.Decimal.Div(hundred).Mul(item.MaxScore).Round(4)
	if score.GreaterThan(item.MaxScore) {
		score = item.MaxScore
	}
	grade, posted, err := writeGrade(repo, item, scoreWrite{
		StudentID:   studentID,
		Score:       decimal.NullDecimal{Decimal: score, Valid: true},
		SubmittedAt: selected.SubmittedAt,
	}, now)
	if err != nil {
		return nil, err
	}
	if !posted {
		return nil, nil
	}
	evt := gradePostedEvent(grade, quiz.CourseOfferingID, now)
	return &evt, nil
}

func (s *QuizAttemptService) afterGradebookSync(ctx context.Context, quiz *model.Quiz, posted *notify.Event) {
	if quiz.GradeItemID == nil {
		return
	}
	if s.Gradebook != nil {
		s.Gradebook.invalidate(ctx, quiz.CourseOfferingID)
	}
	if posted != nil {
		s.Publisher.Publish(ctx, *posted)
	}
}

// GetAttempt returns the attempt with its questions and answers. Lazy expiry
// runs first, so an expired auto-submit attempt comes back finished.
func (s *QuizAttemptService) GetAttempt(ctx context.Context, caller Caller, attemptID uint) (*AttemptView, error) {
	attempt, quiz, err := s.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !caller.CanGrade() && attempt.StudentID != caller.UserID {
		return nil, util.ErrNotAttemptOwner
	}
	attempt, timeUp, err := s.expire(ctx, attempt, quiz)
	if err != nil {
		return nil, err
	}

	db := s.DB.WithContext(ctx)
	questions, err := assignedQuestions(s.QuizRepo.WithTx(db), quiz, attempt.StudentID)
	if err != nil {
		return nil, err
	}
	answers, err := s.AttemptRepo.WithTx(db).ListAnswers(attempt.ID)
	if err != nil {
		return nil, err
	}

	hideKey := !caller.CanGrade() && attempt.Status == model.AttemptInProgress
	view := &AttemptView{
		Attempt:          attempt,
		Questions:        make([]AttemptQuestion, 0, len(questions)),
		Answers:          answers,
		TotalPoints:      decimal.Zero,
		RemainingSeconds: attempt.RemainingSeconds(quiz, s.Now()),
		TimeUp:           timeUp,
	}
	for i := range questions {
		qq := &questions[i]
		aq := AttemptQuestion{
			QuizQuestionID: qq.ID,
			QuestionID:     qq.QuestionID,
			Points:         qq.EffectivePoints(),
			Order:          qq.Order,
		}
		if qq.Question != nil {
			aq.QuestionType = qq.Question.QuestionType
			aq.Text = qq.Question.Text
			aq.Options = qq.Question.Options
			if !hideKey {
				aq.CorrectAnswer = qq.Question.CorrectAnswer
			}
		}
		view.TotalPoints = view.TotalPoints.Add(aq.Points)
		view.Questions = append(view.Questions, aq)
	}
	for _, a := range answers {
		if a.IsCorrect == nil {
			view.Provisional = true
			break
		}
	}
	return view, nil
}

// StudentBestAttempt returns the attempt that counts for the student: the
// highest score under the best-attempt policy, the latest submission otherwise.
// Attempts that are not finished never count.
func (s *QuizAttemptService) StudentBestAttempt(ctx context.Context, quizID, studentID uint) (*model.QuizAttempt, error) {
	db := s.DB.WithContext(ctx)
	quiz, err := s.QuizRepo.WithTx(db).FindQuizByID(quizID)
	if err != nil {
		return nil, notFound(err, util.ErrQuizNotFound)
	}
	attempt, err := s.AttemptRepo.WithTx(db).FindSelected(studentID, quizID, quiz.UseBestAttempt)
	if err != nil {
		return nil, notFound(err, util.ErrAttemptNotFound)
	}
	return attempt, nil
}

// GradeAnswer records an instructor's points for a subjective answer and
// rescores the attempt if it is already finished.
func (s *QuizAttemptService) GradeAnswer(ctx context.Context, caller Caller, answerID uint, points decimal.Decimal, isCorrect *bool) (*model.QuizAnswer, error) {
	if !caller.CanGrade() {
		return nil, util.ErrInstructorOnly
	}
	now := s.Now()
	var (
		answer *model.QuizAnswer
		quiz   *model.Quiz
		posted *notify.Event
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempts := s.AttemptRepo.WithTx(tx)
		quizzes := s.QuizRepo.WithTx(tx)
		a, err := attempts.FindAnswerByID(answerID)
		if err != nil {
			return notFound(err, util.ErrAnswerNotFound)
		}
		attempt, err := attempts.LockByID(a.AttemptID)
		if err != nil {
			return notFound(err, util.ErrAttemptNotFound)
		}
		// re-read under the lock
		if a, err = attempts.FindAnswerByID(answerID); err != nil {
			return notFound(err, util.ErrAnswerNotFound)
		}
		qq, err := quizzes.FindQuizQuestionByID(a.QuizQuestionID)
		if err != nil {
			return notFound(err, util.ErrQuestionNotFound)
		}
		if qq.Question != nil && qq.Question.QuestionType.IsObjective() {
			return util.ErrAnswerNotGradable
		}
		limit := qq.EffectivePoints()
		if points.IsNegative() || points.GreaterThan(limit) {
			return util.NewValidationError("points out of range", util.FieldError{
				Field: "points",
				Error: "points must be between 0 and " + limit.String(),
			})
		}
		correct := points.Equal(limit)
		if isCorrect != nil {
			correct = *isCorrect
		}
		a.IsCorrect = &correct
		a.PointsEarned = points
		a.GradedBy = caller.UserID
		a.GradedAt = &now
		if err := attempts.GradeAnswer(a); err != nil {
			return err
		}
		answer = a

		if !attempt.Status.IsFinished() {
			return nil
		}
		quiz, err = quizzes.FindQuizByID(attempt.QuizID)
		if err != nil {
			return notFound(err, util.ErrQuizNotFound)
		}
		score, pct, err := s.scoreAttempt(tx, attempt, quiz)
		if err != nil {
			return err
		}
		if err := attempts.UpdateScore(attempt.ID, score, pct); err != nil {
			return err
		}
		posted, err = s.syncGradebook(tx, quiz, attempt.StudentID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if quiz != nil {
		s.afterGradebookSync(ctx, quiz, posted)
	}
	logger.Log.Info("answer graded",
		zap.Uint("answerId", answerID),
		zap.Uint("gradedBy", caller.UserID),
		zap.String("points", points.String()))
	return answer, nil
}

func (s *QuizAttemptService) load(ctx context.Context, attemptID uint) (*model.QuizAttempt, *model.Quiz, error) {
	db := s.DB.WithContext(ctx)
	attempt, err := s.AttemptRepo.WithTx(db).FindByID(attemptID)
	if err != nil {
		return nil, nil, notFound(err, util.ErrAttemptNotFound)
	}
	quiz, err := s.QuizRepo.WithTx(db).FindQuizByID(attempt.QuizID)
	if err != nil {
		return nil, nil, notFound(err, util.ErrQuizNotFound)
	}
	return attempt, quiz, nil
}
