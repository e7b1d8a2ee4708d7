package controller

import (
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/service"
	"exam_prep_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type UsageController struct {
	UsageService       *service.UsageService
	EntitlementService *service.EntitlementService
}

func NewUsageController(usageService *service.UsageService, entitlementService *service.EntitlementService) *UsageController {
	return &UsageController{UsageService: usageService, EntitlementService: entitlementService}
}

// @Summary 获取剩余免费额度
// @Tags 额度
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=model.RemainingUsage}
// @Router /api/usage [get]
func (c *UsageController) GetRemaining(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	remaining, err := c.UsageService.GetRemainingFreeUsage(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, remaining)
}

// @Summary 是否已达到模拟考上限
// @Tags 额度
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/usage/mock-test-limit [get]
func (c *UsageController) MockTestLimit(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	reached, err := c.UsageService.HasReachedMockTestLimit(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"reached": reached})
}

// @Summary 消耗一次额度
// @Tags 额度
// @Produce json
// @Security BearerAuth
// @Param kind path string true "资源类型" Enums(mock_test, practice_question)
// @Success 200 {object} util.Response{data=model.QuotaDecision}
// @Failure 429 {object} util.Response
// @Router /api/usage/{kind}/consume [post]
func (c *UsageController) Consume(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	decision, err := c.UsageService.Consume(ctx.Request.Context(), user.UserID, model.ResourceKind(ctx.Param("kind")))
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, decision)
}

// @Summary 刷新会员权益
// @Description 购买或续费后清除权益缓存，随后返回最新的剩余额度
// @Tags 额度
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=model.RemainingUsage}
// @Router /api/usage/entitlement/refresh [post]
func (c *UsageController) RefreshEntitlement(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	if err := c.EntitlementService.Invalidate(ctx.Request.Context(), user.UserID); err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	remaining, err := c.UsageService.GetRemainingFreeUsage(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, remaining)
}
