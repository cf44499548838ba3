package model

import (
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	ShortAnswer    QuestionType = "short_answer"
	Essay          QuestionType = "essay"
	Matching       QuestionType = "matching"
	FillBlank      QuestionType = "fill_blank"
)

// IsObjective reports whether answers of this type are graded automatically.
func (t QuestionType) IsObjective() bool {
	return t == MultipleChoice || t == TrueFalse
}

// Question is a reusable question bank entry.
// swagger:model Question
type Question struct {
	BaseModel
	CourseOfferingID uint            `gorm:"index;not null" json:"courseOfferingId" validate:"required"`
	QuestionType     QuestionType    `gorm:"size:30;not null" json:"questionType" validate:"required,oneof=multiple_choice true_false short_answer essay matching fill_blank"`
	Text             string          `gorm:"type:text;not null" json:"text" validate:"required"`
	Options          datatypes.JSON  `json:"options,omitempty"` // choice list for multiple_choice
	CorrectAnswer    string          `gorm:"type:text" json:"correctAnswer,omitempty"`
	Points           decimal.Decimal `gorm:"type:decimal(8,2);not null;default:0" json:"points" validate:"gte=0"`
}

func (Question) TableName() string {
	return "questions"
}

// QuizQuestion places a bank question into a quiz. Pool entries have no
// AssignedToStudentID; per-student draws of a random quiz carry one.
// swagger:model QuizQuestion
type QuizQuestion struct {
	BaseModel
	QuizID              uint                `gorm:"uniqueIndex:idx_quiz_question_assignment;not null" json:"quizId"`
	QuestionID          uint                `gorm:"uniqueIndex:idx_quiz_question_assignment;not null" json:"questionId"`
	AssignedToStudentID *uint               `gorm:"uniqueIndex:idx_quiz_question_assignment" json:"assignedToStudentId,omitempty"`
	Points              decimal.NullDecimal `gorm:"type:decimal(8,2)" json:"points"` // overrides Question.Points when set
	Order               int                 `gorm:"column:sort_order;default:0" json:"order"`
	Question            *Question           `gorm:"foreignKey:QuestionID" json:"question,omitempty"`
}

func (QuizQuestion) TableName() string {
	return "quiz_questions"
}

// EffectivePoints is the value of the question inside this quiz.
// Question must be preloaded unless an override is set.
func (qq *QuizQuestion) EffectivePoints() decimal.Decimal {
	if qq.Points.Valid {
		return qq.Points.Decimal
	}
	if qq.Question != nil {
		return qq.Question.Points
	}
	return decimal.Zero
}
