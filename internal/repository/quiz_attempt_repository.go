package repository

import (
	"time"

	"gradebook_backend/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var finishedStatuses = []model.AttemptStatus{model.AttemptSubmitted, model.AttemptAutoSubmitted}

type QuizAttemptRepository struct {
	DB *gorm.DB
}

func NewQuizAttemptRepository(db *gorm.DB) *QuizAttemptRepository {
	return &QuizAttemptRepository{DB: db}
}

func (r *QuizAttemptRepository) WithTx(tx *gorm.DB) *QuizAttemptRepository {
	return &QuizAttemptRepository{DB: tx}
}

func (r *QuizAttemptRepository) Create(attempt *model.QuizAttempt) error {
	return r.DB.Create(attempt).Error
}

func (r *QuizAttemptRepository) FindByID(id uint) (*model.QuizAttempt, error) {
	var a model.QuizAttempt
	if err := r.DB.First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *QuizAttemptRepository) LockByID(id uint) (*model.QuizAttempt, error) {
	var a model.QuizAttempt
	if err := r.DB.Clauses(clause.Locking{Strength: "UPDATE"}).First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// CountByStudentAndQuiz counts every attempt, abandoned ones included.
func (r *QuizAttemptRepository) CountByStudentAndQuiz(studentID, quizID uint) (int64, error) {
	var count int64
	err := r.DB.Model(&model.QuizAttempt{}).Where("student_id = ? AND quiz_id = ?", studentID, quizID).Count(&count).Error
	return count, err
}

func (r *QuizAttemptRepository) MaxAttemptNumber(studentID, quizID uint) (int, error) {
	var n int
	err := r.DB.Model(&model.QuizAttempt{}).
		Select("COALESCE(MAX(attempt_number), 0)").
		Where("student_id = ? AND quiz_id = ?", studentID, quizID).
		Row().Scan(&n)
	return n, err
}

func (r *QuizAttemptRepository) FindInProgress(studentID, quizID uint) (*model.QuizAttempt, error) {
	var a model.QuizAttempt
	err := r.DB.Where("student_id = ? AND quiz_id = ? AND status = ?", studentID, quizID, model.AttemptInProgress).
		Order("attempt_number desc").
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FinishIfInProgress moves an attempt to a terminal status only if it is
// still in progress. The returned bool is false when another caller won.
func (r *QuizAttemptRepository) FinishIfInProgress(id uint, status model.AttemptStatus, at time.Time, score, percentage decimal.Decimal, timeSpent int) (bool, error) {
	res := r.DB.Model(&model.QuizAttempt{}).
		Where("id = ? AND status = ?", id, model.AttemptInProgress).
		Updates(map[string]interface{}{
			"status":             status,
			"submitted_at":       at,
			"score":              score,
			"percentage":         percentage,
			"time_spent_seconds": timeSpent,
		})
	return res.RowsAffected == 1, res.Error
}

// UpdateScore rewrites score and percentage of a finished attempt.
func (r *QuizAttemptRepository) UpdateScore(id uint, score, percentage decimal.Decimal) error {
	return r.DB.Model(&model.QuizAttempt{}).Where("id = ?", id).Updates(map[string]interface{}{
		"score":      score,
		"percentage": percentage,
	}).Error
}

// FindSelected returns the attempt that represents the student on a quiz:
// the highest score when useBest, otherwise the latest submission.
func (r *QuizAttemptRepository) FindSelected(studentID, quizID uint, useBest bool) (*model.QuizAttempt, error) {
	order := "submitted_at desc, id desc"
	if useBest {
		order = "score desc, submitted_at asc, id asc"
	}
	var a model.QuizAttempt
	err := r.DB.Where("student_id = ? AND quiz_id = ? AND status IN ?", studentID, quizID, finishedStatuses).
		Order(order).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpsertAnswer stores the response for (attempt, quiz question) and resets
// any grading of a previous response.
func (r *QuizAttemptRepository) UpsertAnswer(ans *model.QuizAnswer) error {
	return r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "attempt_id"}, {Name: "quiz_question_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"response", "is_correct", "points_earned", "graded_by", "graded_at", "updated_at"}),
	}).Create(ans).Error
}

func (r *QuizAttemptRepository) FindAnswer(attemptID, quizQuestionID uint) (*model.QuizAnswer, error) {
	var a model.QuizAnswer
	err := r.DB.Where("attempt_id = ? AND quiz_question_id = ?", attemptID, quizQuestionID).First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *QuizAttemptRepository) FindAnswerByID(id uint) (*model.QuizAnswer, error) {
	var a model.QuizAnswer
	if err := r.DB.First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *QuizAttemptRepository) ListAnswers(attemptID uint) ([]model.QuizAnswer, error) {
	var as []model.QuizAnswer
	err := r.DB.Where("attempt_id = ?", attemptID).Order("quiz_question_id asc").Find(&as).Error
	return as, err
}

// GradeAnswer writes the grading fields, zero values included.
func (r *QuizAttemptRepository) GradeAnswer(ans *model.QuizAnswer) error {
	return r.DB.Model(ans).Select("is_correct", "points_earned", "graded_by", "graded_at").Updates(ans).Error
}
