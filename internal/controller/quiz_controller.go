package controller

import (
	"gradebook_backend/internal/service"
	"gradebook_backend/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type QuizController struct {
	QuizService        *service.QuizService
	QuizAttemptService *service.QuizAttemptService
}

func NewQuizController(quizService *service.QuizService, attemptService *service.QuizAttemptService) *QuizController {
	return &QuizController{QuizService: quizService, QuizAttemptService: attemptService}
}

type gradeAnswerRequest struct {
	Points    decimal.Decimal `json:"points"`
	IsCorrect *bool           `json:"isCorrect"`
}

// @Summary Create a quiz
// @Description The quiz starts inactive
// @Tags quizzes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "course offering ID"
// @Param body body service.QuizRequest true "quiz"
// @Success 201 {object} util.Response
// @Router /api/instructor/courses/{courseId}/quizzes [post]
func (c *QuizController) CreateQuiz(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	courseID, ok := util.ParamID(ctx, "courseId")
	if !ok {
		return
	}
	var req service.QuizRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	quiz, err := c.QuizService.CreateQuiz(ctx.Request.Context(), caller, courseID, req)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Created(ctx, quiz)
}

// @Summary Add a question to a quiz pool
// @Tags quizzes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "quiz ID"
// @Param body body service.PoolQuestionRequest true "existing questionId or an inline question"
// @Success 201 {object} util.Response
// @Router /api/instructor/quizzes/{id}/questions [post]
func (c *QuizController) AddQuestion(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	quizID, ok := util.ParamID(ctx, "id")
	if !ok {
		return
	}
	var req service.PoolQuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	qq, err := c.QuizService.AddPoolQuestion(ctx.Request.Context(), caller, quizID, req)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Created(ctx, qq)
}

// @Summary Activate a quiz
// @Tags quizzes
// @Produce json
// @Security BearerAuth
// @Param id path int true "quiz ID"
// @Success 200 {object} util.Response
// @Router /api/instructor/quizzes/{id}/activate [post]
func (c *QuizController) Activate(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	quizID, ok := util.ParamID(ctx, "id")
	if !ok {
		return
	}
	quiz, err := c.QuizService.Activate(ctx.Request.Context(), caller, quizID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, quiz)
}

// @Summary Grade a subjective answer
// @Tags quizzes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "answer ID"
// @Param body body gradeAnswerRequest true "points"
// @Success 200 {object} util.Response
// @Router /api/instructor/answers/{id}/grade [put]
func (c *QuizController) GradeAnswer(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	answerID, ok := util.ParamID(ctx, "id")
	if !ok {
		return
	}
	var req gradeAnswerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	ans, err := c.QuizAttemptService.GradeAnswer(ctx.Request.Context(), caller, answerID, req.Points, req.IsCorrect)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, ans)
}

// @Summary Start a quiz attempt
// @Tags attempts
// @Produce json
// @Security BearerAuth
// @Param id path int true "quiz ID"
// @Success 201 {object} util.Response
// @Failure 409 {object} util.Response "limit reached, attempt in progress or quiz closed"
// @Router /api/quizzes/{id}/attempts [post]
func (c *QuizController) StartAttempt(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	quizID, ok := util.ParamID(ctx, "id")
	if !ok {
		return
	}
	attempt, err := c.QuizAttemptService.StartAttempt(ctx.Request.Context(), caller, quizID, ctx.ClientIP())
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Created(ctx, attempt)
}

// @Summary My counting attempt on a quiz
// @Description Best or latest finished attempt, following the quiz policy
// @Tags attempts
// @Produce json
// @Security BearerAuth
// @Param id path int true "quiz ID"
// @Success 200 {object} util.Response
// @Router /api/quizzes/{id}/best-attempt [get]
func (c *QuizController) BestAttempt(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	quizID, ok := util.ParamID(ctx, "id")
	if !ok {
		return
	}
	attempt, err := c.QuizAttemptService.StudentBestAttempt(ctx.Request.Context(), quizID, caller.UserID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, attempt)
}

// @Summary Get an attempt
// @Description Expired attempts of auto-submit quizzes are submitted before they are returned
// @Tags attempts
// @Produce json
// @Security BearerAuth
// @Param id path int true "attempt ID"
// @Success 200 {object} util.Response{data=service.AttemptView}
// @Router /api/attempts/{id} [get]
func (c *QuizController) GetAttempt(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	attemptID, ok := util.ParamID(ctx, "id")
	if !ok {
		return
	}
	view, err := c.QuizAttemptService.GetAttempt(ctx.Request.Context(), caller, attemptID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, view)
}

type saveAnswerRequest struct {
	Response string `json:"response"`
}

// @Summary Answer a question
// @Tags attempts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "attempt ID"
// @Param questionId path int true "quiz question ID"
// @Param body body saveAnswerRequest true "response"
// @Success 200 {object} util.Response
// @Failure 409 {object} util.Response "time's up, please submit"
// @Router /api/attempts/{id}/answers/{questionId} [put]
func (c *QuizController) SaveAnswer(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	attemptID, ok := util.ParamID(ctx, "id")
	if !ok {
		return
	}
	questionID, ok := util.ParamID(ctx, "questionId")
	if !ok {
		return
	}
	var req saveAnswerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	ans, err := c.QuizAttemptService.SaveAnswer(ctx.Request.Context(), caller, attemptID, questionID, req.Response)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, ans)
}

// @Summary Submit an attempt
// @Description Submitting a finished attempt returns it unchanged
// @Tags attempts
// @Produce json
// @Security BearerAuth
// @Param id path int true "attempt ID"
// @Success 200 {object} util.Response
// @Router /api/attempts/{id}/submit [post]
func (c *QuizController) SubmitAttempt(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	attemptID, ok := util.ParamID(ctx, "id")
	if !ok {
		return
	}
	attempt, err := c.QuizAttemptService.SubmitAttempt(ctx.Request.Context(), caller, attemptID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, attempt)
}
