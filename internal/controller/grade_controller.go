package controller

import (
	"time"

	"gradebook_backend/internal/service"
	"gradebook_backend/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type GradeController struct {
	GradeEntryService *service.GradeEntryService
}

func NewGradeController(gradeEntryService *service.GradeEntryService) *GradeController {
	return &GradeController{GradeEntryService: gradeEntryService}
}

type setGradeRequest struct {
	Score       decimal.NullDecimal `json:"score"`
	Feedback    string              `json:"feedback"`
	IsExcused   bool                `json:"isExcused"`
	SubmittedAt *time.Time          `json:"submittedAt"`
}

type bulkGradeRequest struct {
	Rows []service.GradeEntry `json:"rows" binding:"required,dive"`
}

// @Summary Set one student's grade on an item
// @Tags grades
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "grade item ID"
// @Param studentId path int true "student ID"
// @Param body body setGradeRequest true "grade"
// @Success 200 {object} util.Response
// @Router /api/instructor/items/{id}/grades/{studentId} [put]
func (c *GradeController) SetGrade(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	itemID, ok := util.ParamID(ctx, "id")
	if !ok {
		return
	}
	studentID, ok := util.ParamID(ctx, "studentId")
	if !ok {
		return
	}
	var req setGradeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	grade, err := c.GradeEntryService.SetGrade(ctx.Request.Context(), caller, itemID, service.GradeEntry{
		StudentID:   studentID,
		Score:       req.Score,
		Feedback:    req.Feedback,
		IsExcused:   req.IsExcused,
		SubmittedAt: req.SubmittedAt,
	})
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, grade)
}

// @Summary Enter grades for many students at once
// @Description Each row is written on its own; failed rows are reported and do not undo the others
// @Tags grades
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "grade item ID"
// @Param body body bulkGradeRequest true "rows"
// @Success 200 {object} util.Response{data=service.BulkGradeResult}
// @Router /api/instructor/items/{id}/grades/bulk [post]
func (c *GradeController) BulkGrade(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	itemID, ok := util.ParamID(ctx, "id")
	if !ok {
		return
	}
	var req bulkGradeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	res, err := c.GradeEntryService.BulkGradeEntry(ctx.Request.Context(), caller, itemID, req.Rows)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}
