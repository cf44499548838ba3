package service

import (
	"context"
	"time"

	"gradebook_backend/internal/model"
	"gradebook_backend/internal/repository"
	"gradebook_backend/internal/util"
	"gradebook_backend/pkg/logger"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type QuizRequest struct {
	Title                  string          `json:"title" binding:"required"`
	GradeItemID            *uint           `json:"gradeItemId"`
	StartTime              time.Time       `json:"startTime" binding:"required"`
	EndTime                time.Time       `json:"endTime" binding:"required"`
	DurationMinutes        int             `json:"durationMinutes"`
	MaxAttempts            int             `json:"maxAttempts"`
	PassingScore           decimal.Decimal `json:"passingScore"`
	UseBestAttempt         bool            `json:"useBestAttempt"`
	AutoSubmit             bool            `json:"autoSubmit"`
	UseRandomQuestions     bool            `json:"useRandomQuestions"`
	RandomQuestionCount    int             `json:"randomQuestionCount"`
	RandomQuestionPoolSize int             `json:"randomQuestionPoolSize"`
}

// PoolQuestionRequest adds either an existing bank question (QuestionID) or
// a new one described inline.
type PoolQuestionRequest struct {
	QuestionID     uint                `json:"questionId"`
	QuestionType   model.QuestionType  `json:"questionType"`
	Text           string              `json:"text"`
	Options        datatypes.JSON      `json:"options"`
	CorrectAnswer  string              `json:"correctAnswer"`
	Points         decimal.Decimal     `json:"points"`
	PointsOverride decimal.NullDecimal `json:"pointsOverride"`
	Order          int                 `json:"order"`
}

type QuizService struct {
	DB            *gorm.DB
	QuizRepo      *repository.QuizRepository
	CourseRepo    *repository.CourseRepository
	GradebookRepo *repository.GradebookRepository
}

func NewQuizService(db *gorm.DB, quizRepo *repository.QuizRepository, courseRepo *repository.CourseRepository, gradebookRepo *repository.GradebookRepository) *QuizService {
	return &QuizService{
		DB:            db,
		QuizRepo:      quizRepo,
		CourseRepo:    courseRepo,
		GradebookRepo: gradebookRepo,
	}
}

// CreateQuiz stores an inactive quiz. Students can start it once it is activated.
func (s *QuizService) CreateQuiz(ctx context.Context, caller Caller, courseID uint, req QuizRequest) (*model.Quiz, error) {
	if !caller.CanGrade() {
		return nil, util.ErrInstructorOnly
	}
	quiz := &model.Quiz{
		CourseOfferingID:       courseID,
		GradeItemID:            req.GradeItemID,
		Title:                  req.Title,
		StartTime:              req.StartTime,
		EndTime:                req.EndTime,
		DurationMinutes:        req.DurationMinutes,
		MaxAttempts:            req.MaxAttempts,
		PassingScore:           req.PassingScore,
		UseBestAttempt:         req.UseBestAttempt,
		AutoSubmit:             req.AutoSubmit,
		UseRandomQuestions:     req.UseRandomQuestions,
		RandomQuestionCount:    req.RandomQuestionCount,
		RandomQuestionPoolSize: req.RandomQuestionPoolSize,
	}
	if err := util.ValidateStruct(quiz); err != nil {
		return nil, err
	}
	if quiz.UseRandomQuestions {
		if quiz.RandomQuestionCount < 1 {
			return nil, util.NewValidationError("invalid random selection", util.FieldError{
				Field: "randomQuestionCount", Error: "randomQuestionCount must be at least 1",
			})
		}
		if quiz.RandomQuestionPoolSize < quiz.RandomQuestionCount {
			return nil, util.NewValidationError("invalid random selection", util.FieldError{
				Field: "randomQuestionPoolSize", Error: "randomQuestionPoolSize must be at least randomQuestionCount",
			})
		}
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.CourseRepo.WithTx(tx).FindByID(courseID); err != nil {
			return notFound(err, util.ErrCourseNotFound)
		}
		if quiz.GradeItemID != nil {
			repo := s.GradebookRepo.WithTx(tx)
			item, err := repo.FindItemByID(*quiz.GradeItemID)
			if err != nil {
				return notFound(err, util.ErrItemNotFound)
			}
			cat, err := repo.FindCategoryByID(item.CategoryID)
			if err != nil {
				return notFound(err, util.ErrCategoryNotFound)
			}
			if cat.CourseOfferingID != courseID {
				return util.NewValidationError("grade item belongs to another course", util.FieldError{
					Field: "gradeItemId", Error: "grade item must belong to the quiz's course",
				})
			}
		}
		return s.QuizRepo.WithTx(tx).CreateQuiz(quiz)
	})
	if err != nil {
		return nil, err
	}
	logger.Log.Info("quiz created", zap.Uint("quizId", quiz.ID), zap.Uint("courseOfferingId", courseID))
	return quiz, nil
}

// AddPoolQuestion puts a question into the quiz's shared pool.
func (s *QuizService) AddPoolQuestion(ctx context.Context, caller Caller, quizID uint, req PoolQuestionRequest) (*model.QuizQuestion, error) {
	if !caller.CanGrade() {
		return nil, util.ErrInstructorOnly
	}
	var qq *model.QuizQuestion
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.QuizRepo.WithTx(tx)
		quiz, err := repo.FindQuizByID(quizID)
		if err != nil {
			return notFound(err, util.ErrQuizNotFound)
		}

		var question *model.Question
		if req.QuestionID != 0 {
			question, err = repo.FindQuestionByID(req.QuestionID)
			if err != nil {
				return notFound(err, util.ErrQuestionNotFound)
			}
			if question.CourseOfferingID != quiz.CourseOfferingID {
				return util.NewValidationError("question belongs to another course", util.FieldError{
					Field: "questionId", Error: "question must belong to the quiz's course",
				})
			}
			in, err := repo.PoolContains(quizID, question.ID)
			if err != nil {
				return err
			}
			if in {
				return util.NewValidationError("question already in pool", util.FieldError{
					Field: "questionId", Error: "question is already part of this quiz",
				})
			}
		} else {
			question = &model.Question{
				CourseOfferingID: quiz.CourseOfferingID,
				QuestionType:     req.QuestionType,
				Text:             req.Text,
				Options:          req.Options,
				CorrectAnswer:    req.CorrectAnswer,
				Points:           req.Points,
			}
			if err := util.ValidateStruct(question); err != nil {
				return err
			}
			if question.QuestionType.IsObjective() && question.CorrectAnswer == "" {
				return util.NewValidationError("missing correct answer", util.FieldError{
					Field: "correctAnswer", Error: "objective questions need a correct answer",
				})
			}
			if err := repo.CreateQuestion(question); err != nil {
				return err
			}
		}

		if req.PointsOverride.Valid && req.PointsOverride.Decimal.IsNegative() {
			return util.NewValidationError("invalid points", util.FieldError{
				Field: "pointsOverride", Error: "pointsOverride must not be negative",
			})
		}
		qq = &model.QuizQuestion{
			QuizID:     quizID,
			QuestionID: question.ID,
			Points:     req.PointsOverride,
			Order:      req.Order,
		}
		if err := repo.CreateQuizQuestion(qq); err != nil {
			return err
		}
		qq.Question = question
		return nil
	})
	if err != nil {
		return nil, err
	}
	return qq, nil
}

// Activate opens the quiz to students. A random quiz needs a pool of at
// least random_question_pool_size questions.
func (s *QuizService) Activate(ctx context.Context, caller Caller, quizID uint) (*model.Quiz, error) {
	if !caller.CanGrade() {
		return nil, util.ErrInstructorOnly
	}
	var quiz *model.Quiz
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.QuizRepo.WithTx(tx)
		q, err := repo.FindQuizByID(quizID)
		if err != nil {
			return notFound(err, util.ErrQuizNotFound)
		}
		pool, err := repo.ListPool(quizID)
		if err != nil {
			return err
		}
		if len(pool) == 0 {
			return util.NewValidationError("quiz has no questions")
		}
		if q.UseRandomQuestions && (len(pool) < q.RandomQuestionPoolSize || len(pool) < q.RandomQuestionCount) {
			return util.NewValidationError("question pool too small", util.FieldError{
				Field: "randomQuestionPoolSize",
				Error: "the pool must hold at least randomQuestionPoolSize questions",
			})
		}
		if err := repo.Activate(quizID); err != nil {
			return err
		}
		q.IsActive = true
		quiz = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Log.Info("quiz activated", zap.Uint("quizId", quizID))
	return quiz, nil
}

// assignedQuestions returns the questions served to studentID on quiz: the
// student's draw for random quizzes, the whole pool otherwise.
func assignedQuestions(repo *repository.QuizRepository, quiz *model.Quiz, studentID uint) ([]model.QuizQuestion, error) {
	if quiz.UseRandomQuestions {
		return repo.ListAssigned(quiz.ID, studentID)
	}
	return repo.ListPool(quiz.ID)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
