package service

import (
	"strings"

	"gradebook_backend/internal/model"
	"gradebook_backend/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AutoGrader scores objective answers. Everything else waits for an instructor.
type AutoGrader struct{}

// CheckAnswer grades a multiple choice or true/false answer, persists the
// result on the answer row and returns it. It returns nil for question types
// that need manual grading.
func (g AutoGrader) CheckAnswer(tx *gorm.DB, ans *model.QuizAnswer) (*bool, error) {
	qq, err := repository.NewQuizRepository(tx).FindQuizQuestionByID(ans.QuizQuestionID)
	if err != nil {
		return nil, err
	}
	correct, points, ok := g.grade(qq, ans.Response)
	if !ok {
		return nil, nil
	}
	ans.IsCorrect = &correct
	ans.PointsEarned = points
	ans.GradedBy = 0
	ans.GradedAt = nil
	if err := repository.NewQuizAttemptRepository(tx).GradeAnswer(ans); err != nil {
		return nil, err
	}
	return &correct, nil
}

func (AutoGrader) grade(qq *model.QuizQuestion, response string) (bool, decimal.Decimal, bool) {
	if qq.Question == nil || !qq.Question.QuestionType.IsObjective() {
		return false, decimal.Zero, false
	}
	if matchesAnswer(response, qq.Question.CorrectAnswer) {
		return true, qq.EffectivePoints(), true
	}
	return false, decimal.Zero, true
}

// matchesAnswer compares an option case-insensitively, ignoring surrounding blanks.
func matchesAnswer(response, correct string) bool {
	response = strings.TrimSpace(response)
	if response == "" {
		return false
	}
	return strings.EqualFold(response, strings.TrimSpace(correct))
}
