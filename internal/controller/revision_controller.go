package controller

import (
	"exam_prep_backend/internal/service"
	"exam_prep_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type RevisionController struct {
	RevisionService *service.RevisionService
}

func NewRevisionController(revisionService *service.RevisionService) *RevisionController {
	return &RevisionController{RevisionService: revisionService}
}

// @Summary 获取复习计划
// @Tags 复习
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=[]model.RevisionEntry}
// @Router /api/revisions [get]
func (c *RevisionController) GetSchedule(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	entries, err := c.RevisionService.GetRevisionSchedule(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, entries)
}

// @Summary 完成一次复习
// @Tags 复习
// @Produce json
// @Security BearerAuth
// @Param id path int true "复习安排ID"
// @Success 200 {object} util.Response{data=model.RevisionEntry}
// @Failure 400 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/revisions/{id}/complete [post]
func (c *RevisionController) Complete(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	id, ok := util.ParseIDParam(ctx, "id")
	if !ok {
		return
	}

	entry, err := c.RevisionService.CompleteRevision(ctx.Request.Context(), user.UserID, id)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, entry)
}

// @Summary 跳过一次复习
// @Tags 复习
// @Produce json
// @Security BearerAuth
// @Param id path int true "复习安排ID"
// @Success 200 {object} util.Response{data=model.RevisionEntry}
// @Failure 400 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/revisions/{id}/skip [post]
func (c *RevisionController) Skip(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	id, ok := util.ParseIDParam(ctx, "id")
	if !ok {
		return
	}

	entry, err := c.RevisionService.SkipRevision(ctx.Request.Context(), user.UserID, id)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, entry)
}
