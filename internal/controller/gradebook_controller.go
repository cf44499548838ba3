package controller

import (
	"gradebook_backend/internal/service"
	"gradebook_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type GradebookController struct {
	GradebookService *service.GradebookService
}

func NewGradebookController(gradebookService *service.GradebookService) *GradebookController {
	return &GradebookController{GradebookService: gradebookService}
}

// @Summary Provision default grade categories
// @Description Creates Midterm, Final and Makeup categories when missing
// @Tags gradebook
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "course offering ID"
// @Success 200 {object} util.Response
// @Router /api/instructor/courses/{courseId}/categories/provision [post]
func (c *GradebookController) ProvisionCategories(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	courseID, ok := util.ParamID(ctx, "courseId")
	if !ok {
		return
	}
	cats, err := c.GradebookService.ProvisionDefaultCategories(ctx.Request.Context(), caller, courseID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, cats)
}

// @Summary Create a grade category
// @Tags gradebook
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "course offering ID"
// @Param body body service.CategoryRequest true "category"
// @Success 201 {object} util.Response
// @Router /api/instructor/courses/{courseId}/categories [post]
func (c *GradebookController) CreateCategory(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	courseID, ok := util.ParamID(ctx, "courseId")
	if !ok {
		return
	}
	var req service.CategoryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	cat, err := c.GradebookService.CreateCategory(ctx.Request.Context(), caller, courseID, req)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Created(ctx, cat)
}

// @Summary Update a grade category
// @Tags gradebook
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "category ID"
// @Param body body service.CategoryRequest true "category"
// @Success 200 {object} util.Response
// @Router /api/instructor/categories/{id} [put]
func (c *GradebookController) UpdateCategory(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	id, ok := util.ParamID(ctx, "id")
	if !ok {
		return
	}
	var req service.CategoryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	cat, err := c.GradebookService.UpdateCategory(ctx.Request.Context(), caller, id, req)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, cat)
}

// @Summary Deactivate a grade category
// @Description Frees the category's weight; items and grades are kept
// @Tags gradebook
// @Produce json
// @Security BearerAuth
// @Param id path int true "category ID"
// @Success 200 {object} util.Response
// @Router /api/instructor/categories/{id}/deactivate [post]
func (c *GradebookController) DeactivateCategory(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	id, ok := util.ParamID(ctx, "id")
	if !ok {
		return
	}
	cat, err := c.GradebookService.DeactivateCategory(ctx.Request.Context(), caller, id)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, cat)
}

// @Summary Create a grade item
// @Tags gradebook
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "category ID"
// @Param body body service.ItemRequest true "item"
// @Success 201 {object} util.Response
// @Router /api/instructor/categories/{id}/items [post]
func (c *GradebookController) CreateItem(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	categoryID, ok := util.ParamID(ctx, "id")
	if !ok {
		return
	}
	var req service.ItemRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	item, err := c.GradebookService.CreateItem(ctx.Request.Context(), caller, categoryID, req)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Created(ctx, item)
}

// @Summary Update a grade item
// @Tags gradebook
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "item ID"
// @Param body body service.ItemRequest true "item"
// @Success 200 {object} util.Response
// @Router /api/instructor/items/{id} [put]
func (c *GradebookController) UpdateItem(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	id, ok := util.ParamID(ctx, "id")
	if !ok {
		return
	}
	var req service.ItemRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	item, err := c.GradebookService.UpdateItem(ctx.Request.Context(), caller, id, req)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, item)
}

// @Summary A student's gradebook in a course
// @Tags gradebook
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "course offering ID"
// @Param studentId path int true "student ID"
// @Success 200 {object} util.Response{data=service.GradebookResult}
// @Router /api/instructor/courses/{courseId}/students/{studentId}/gradebook [get]
func (c *GradebookController) StudentGradebook(ctx *gin.Context) {
	courseID, ok := util.ParamID(ctx, "courseId")
	if !ok {
		return
	}
	studentID, ok := util.ParamID(ctx, "studentId")
	if !ok {
		return
	}
	res, err := c.GradebookService.Compute(ctx.Request.Context(), studentID, courseID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// @Summary My gradebook in a course
// @Description total and letterGrade are null until a score has been entered
// @Tags gradebook
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "course offering ID"
// @Success 200 {object} util.Response{data=service.GradebookResult}
// @Router /api/courses/{courseId}/gradebook [get]
func (c *GradebookController) MyGradebook(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	courseID, ok := util.ParamID(ctx, "courseId")
	if !ok {
		return
	}
	res, err := c.GradebookService.Compute(ctx.Request.Context(), caller.UserID, courseID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// @Summary Refresh the persisted grade of an enrollment
// @Tags gradebook
// @Produce json
// @Security BearerAuth
// @Param id path int true "enrollment ID"
// @Success 200 {object} util.Response
// @Router /api/instructor/enrollments/{id}/refresh-grade [post]
func (c *GradebookController) RefreshEnrollmentGrade(ctx *gin.Context) {
	id, ok := util.ParamID(ctx, "id")
	if !ok {
		return
	}
	enrollment, err := c.GradebookService.UpdateEnrollmentGrades(ctx.Request.Context(), id)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, enrollment)
}
