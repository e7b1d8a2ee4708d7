package controller

import (
	"exam_prep_backend/internal/service"
	"exam_prep_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type WeakTopicController struct {
	WeakTopicService *service.WeakTopicService
	FollowUpService  *service.FollowUpService
}

func NewWeakTopicController(weakTopicService *service.WeakTopicService, followUpService *service.FollowUpService) *WeakTopicController {
	return &WeakTopicController{
		WeakTopicService: weakTopicService,
		FollowUpService:  followUpService,
	}
}

// @Summary 触发薄弱章节分析
// @Description 后台执行，立即返回 202
// @Tags 薄弱章节
// @Produce json
// @Security BearerAuth
// @Success 202 {object} util.Response
// @Router /api/weak-topics/analyze [post]
func (c *WeakTopicController) Analyze(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	c.FollowUpService.AnalyzeAsync(user.UserID)
	util.Accepted(ctx, gin.H{"status": "scheduled"})
}

// @Summary 获取薄弱章节
// @Tags 薄弱章节
// @Produce json
// @Security BearerAuth
// @Param includeRecovered query bool false "是否包含已恢复章节"
// @Success 200 {object} util.Response{data=[]model.WeakSection}
// @Router /api/weak-topics [get]
func (c *WeakTopicController) List(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	includeRecovered, _ := strconv.ParseBool(ctx.DefaultQuery("includeRecovered", "false"))
	rows, err := c.WeakTopicService.ListWeakSections(ctx.Request.Context(), user.UserID, includeRecovered)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, rows)
}

// @Summary 评估单个章节
// @Description 基于最新作答重新分析后返回该章节状态，从未被标记为薄弱的章节返回 404
// @Tags 薄弱章节
// @Produce json
// @Security BearerAuth
// @Param sectionId path int true "章节ID"
// @Success 200 {object} util.Response{data=model.WeakSection}
// @Failure 404 {object} util.Response
// @Router /api/weak-topics/{sectionId} [get]
func (c *WeakTopicController) Evaluate(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	sectionID, ok := util.ParseIDParam(ctx, "sectionId")
	if !ok {
		return
	}

	ws, err := c.WeakTopicService.EvaluateSection(ctx.Request.Context(), user.UserID, sectionID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	if ws == nil {
		util.NotFound(ctx)
		return
	}
	util.Success(ctx, ws)
}
