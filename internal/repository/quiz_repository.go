package repository

import (
	"gradebook_backend/internal/model"

	"gorm.io/gorm"
)

type QuizRepository struct {
	DB *gorm.DB
}

func NewQuizRepository(db *gorm.DB) *QuizRepository {
	return &QuizRepository{DB: db}
}

func (r *QuizRepository) WithTx(tx *gorm.DB) *QuizRepository {
	return &QuizRepository{DB: tx}
}

func (r *QuizRepository) CreateQuiz(q *model.Quiz) error {
	return r.DB.Create(q).Error
}

func (r *QuizRepository) FindQuizByID(id uint) (*model.Quiz, error) {
	var q model.Quiz
	if err := r.DB.First(&q, id).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *QuizRepository) Activate(id uint) error {
	return r.DB.Model(&model.Quiz{}).Where("id = ?", id).Update("is_active", true).Error
}

func (r *QuizRepository) CreateQuestion(q *model.Question) error {
	return r.DB.Create(q).Error
}

func (r *QuizRepository) FindQuestionByID(id uint) (*model.Question, error) {
	var q model.Question
	if err := r.DB.First(&q, id).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *QuizRepository) CreateQuizQuestion(qq *model.QuizQuestion) error {
	return r.DB.Create(qq).Error
}

func (r *QuizRepository) CreateQuizQuestions(qqs []model.QuizQuestion) error {
	if len(qqs) == 0 {
		return nil
	}
	return r.DB.Create(&qqs).Error
}

// FindQuizQuestionByID loads a quiz question with its bank question.
func (r *QuizRepository) FindQuizQuestionByID(id uint) (*model.QuizQuestion, error) {
	var qq model.QuizQuestion
	if err := r.DB.Preload("Question").First(&qq, id).Error; err != nil {
		return nil, err
	}
	return &qq, nil
}

// PoolContains reports whether questionID is already in the quiz's pool.
func (r *QuizRepository) PoolContains(quizID, questionID uint) (bool, error) {
	var count int64
	err := r.DB.Model(&model.QuizQuestion{}).
		Where("quiz_id = ? AND question_id = ? AND assigned_to_student_id IS NULL", quizID, questionID).
		Count(&count).Error
	return count > 0, err
}

// ListPool returns the unassigned quiz questions, i.e. the shared pool.
func (r *QuizRepository) ListPool(quizID uint) ([]model.QuizQuestion, error) {
	var qqs []model.QuizQuestion
	err := r.DB.Preload("Question").
		Where("quiz_id = ? AND assigned_to_student_id IS NULL", quizID).
		Order("sort_order asc, id asc").
		Find(&qqs).Error
	return qqs, err
}

// ListAssigned returns the questions drawn for one student of a random quiz.
func (r *QuizRepository) ListAssigned(quizID, studentID uint) ([]model.QuizQuestion, error) {
	var qqs []model.QuizQuestion
	err := r.DB.Preload("Question").
		Where("quiz_id = ? AND assigned_to_student_id = ?", quizID, studentID).
		Order("sort_order asc, id asc").
		Find(&qqs).Error
	return qqs, err
}
