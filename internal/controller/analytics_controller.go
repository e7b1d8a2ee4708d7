package controller

import (
	"exam_prep_backend/internal/service"
	"exam_prep_backend/internal/util"
	"time"

	"github.com/gin-gonic/gin"
)

// AnalyticsController 仪表盘统计接口，查询失败时同样返回 200 与空结构
type AnalyticsController struct {
	AnalyticsService *service.AnalyticsService
}

func NewAnalyticsController(analyticsService *service.AnalyticsService) *AnalyticsController {
	return &AnalyticsController{AnalyticsService: analyticsService}
}

// prepare 校验身份与时间范围，失败时已写入响应
func (c *AnalyticsController) prepare(ctx *gin.Context) (uint, util.DateRange, bool) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return 0, util.DateRange{}, false
	}

	rng, err := util.ParseRangePreset(ctx.Query("range"), time.Now().UTC())
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return 0, util.DateRange{}, false
	}
	return user.UserID, rng, true
}

// @Summary 学习概览
// @Tags 分析
// @Produce json
// @Security BearerAuth
// @Param range query string false "时间范围" Enums(7d, 30d, 90d, all) default(30d)
// @Success 200 {object} util.Response{data=model.AnalyticsOverview}
// @Router /api/analytics/overview [get]
func (c *AnalyticsController) GetOverview(ctx *gin.Context) {
	userID, rng, ok := c.prepare(ctx)
	if !ok {
		return
	}
	util.Success(ctx, c.AnalyticsService.GetOverview(ctx.Request.Context(), userID, rng))
}

// @Summary 正确率趋势
// @Tags 分析
// @Produce json
// @Security BearerAuth
// @Param range query string false "时间范围" Enums(7d, 30d, 90d, all) default(30d)
// @Success 200 {object} util.Response{data=model.AccuracyTrend}
// @Router /api/analytics/trend [get]
func (c *AnalyticsController) GetTrend(ctx *gin.Context) {
	userID, rng, ok := c.prepare(ctx)
	if !ok {
		return
	}
	util.Success(ctx, c.AnalyticsService.GetAccuracyTrend(ctx.Request.Context(), userID, rng))
}

// @Summary 难度分布
// @Tags 分析
// @Produce json
// @Security BearerAuth
// @Param range query string false "时间范围" Enums(7d, 30d, 90d, all) default(30d)
// @Success 200 {object} util.Response{data=model.DifficultyBreakdown}
// @Router /api/analytics/difficulty [get]
func (c *AnalyticsController) GetDifficulty(ctx *gin.Context) {
	userID, rng, ok := c.prepare(ctx)
	if !ok {
		return
	}
	util.Success(ctx, c.AnalyticsService.GetDifficultyBreakdown(ctx.Request.Context(), userID, rng))
}

// @Summary 测试类型对比
// @Tags 分析
// @Produce json
// @Security BearerAuth
// @Param range query string false "时间范围" Enums(7d, 30d, 90d, all) default(30d)
// @Success 200 {object} util.Response{data=model.TestTypeComparison}
// @Router /api/analytics/test-types [get]
func (c *AnalyticsController) GetTestTypes(ctx *gin.Context) {
	userID, rng, ok := c.prepare(ctx)
	if !ok {
		return
	}
	util.Success(ctx, c.AnalyticsService.GetTestTypeComparison(ctx.Request.Context(), userID, rng))
}

// @Summary 时段表现
// @Tags 分析
// @Produce json
// @Security BearerAuth
// @Param range query string false "时间范围" Enums(7d, 30d, 90d, all) default(30d)
// @Success 200 {object} util.Response{data=model.TimePerformance}
// @Router /api/analytics/time-performance [get]
func (c *AnalyticsController) GetTimePerformance(ctx *gin.Context) {
	userID, rng, ok := c.prepare(ctx)
	if !ok {
		return
	}
	util.Success(ctx, c.AnalyticsService.GetTimePerformance(ctx.Request.Context(), userID, rng))
}

// @Summary 学习建议
// @Tags 分析
// @Produce json
// @Security BearerAuth
// @Param range query string false "时间范围" Enums(7d, 30d, 90d, all) default(30d)
// @Success 200 {object} util.Response{data=model.Insights}
// @Router /api/analytics/insights [get]
func (c *AnalyticsController) GetInsights(ctx *gin.Context) {
	userID, rng, ok := c.prepare(ctx)
	if !ok {
		return
	}
	util.Success(ctx, c.AnalyticsService.GetInsights(ctx.Request.Context(), userID, rng))
}

// @Summary 仪表盘
// @Tags 分析
// @Produce json
// @Security BearerAuth
// @Param range query string false "时间范围" Enums(7d, 30d, 90d, all) default(30d)
// @Success 200 {object} util.Response{data=model.Dashboard}
// @Router /api/analytics/dashboard [get]
func (c *AnalyticsController) GetDashboard(ctx *gin.Context) {
	userID, rng, ok := c.prepare(ctx)
	if !ok {
		return
	}
	util.Success(ctx, c.AnalyticsService.GetDashboard(ctx.Request.Context(), userID, rng))
}
