package controller

import (
	"gradebook_backend/internal/service"
	"gradebook_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type TranscriptController struct {
	TranscriptService *service.TranscriptService
}

func NewTranscriptController(transcriptService *service.TranscriptService) *TranscriptController {
	return &TranscriptController{TranscriptService: transcriptService}
}

// @Summary My transcript
// @Tags transcript
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=service.Transcript}
// @Router /api/transcript [get]
func (c *TranscriptController) MyTranscript(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	t, err := c.TranscriptService.Transcript(ctx.Request.Context(), caller.UserID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, t)
}

// @Summary A student's transcript
// @Tags transcript
// @Produce json
// @Security BearerAuth
// @Param studentId path int true "student ID"
// @Success 200 {object} util.Response{data=service.Transcript}
// @Router /api/instructor/students/{studentId}/transcript [get]
func (c *TranscriptController) StudentTranscript(ctx *gin.Context) {
	studentID, ok := util.ParamID(ctx, "studentId")
	if !ok {
		return
	}
	t, err := c.TranscriptService.Transcript(ctx.Request.Context(), studentID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, t)
}

// @Summary Archive a transcript snapshot
// @Tags transcript
// @Produce json
// @Security BearerAuth
// @Param studentId path int true "student ID"
// @Success 201 {object} util.Response{data=service.ArchiveResult}
// @Router /api/instructor/students/{studentId}/transcript/archive [post]
func (c *TranscriptController) Archive(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	studentID, ok := util.ParamID(ctx, "studentId")
	if !ok {
		return
	}
	res, err := c.TranscriptService.Archive(ctx.Request.Context(), caller, studentID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Created(ctx, res)
}
