package controller

import (
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/service"
	"exam_prep_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AttemptController struct {
	AttemptService *service.AttemptService
}

func NewAttemptController(attemptService *service.AttemptService) *AttemptController {
	return &AttemptController{AttemptService: attemptService}
}

type StartAttemptRequest struct {
	TestType  model.TestType `json:"testType" example:"mock"`
	SessionID string         `json:"sessionId"`
}

type SubmitAttemptRequest struct {
	Answers []service.SubmittedAnswer `json:"answers" binding:"required,min=1,dive"`
}

// @Summary 开始一次测试
// @Description 模拟考会消耗一次免费额度
// @Tags 测试
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body StartAttemptRequest true "测试类型"
// @Success 201 {object} util.Response{data=model.Attempt}
// @Failure 429 {object} util.Response
// @Router /api/attempts [post]
func (c *AttemptController) Start(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req StartAttemptRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	attempt, err := c.AttemptService.Start(ctx.Request.Context(), user.UserID, req.TestType, req.SessionID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Created(ctx, attempt)
}

// @Summary 提交测试
// @Description 提交后异步更新连续天数、薄弱章节与复习计划
// @Tags 测试
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "测试ID"
// @Param request body SubmitAttemptRequest true "作答"
// @Success 200 {object} util.Response{data=model.Attempt}
// @Failure 400 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/attempts/{id}/submit [post]
func (c *AttemptController) Submit(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	id, ok := util.ParseIDParam(ctx, "id")
	if !ok {
		return
	}

	var req SubmitAttemptRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	attempt, err := c.AttemptService.Submit(ctx.Request.Context(), user.UserID, id, req.Answers)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, attempt)
}
