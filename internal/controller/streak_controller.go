package controller

import (
	"exam_prep_backend/internal/service"
	"exam_prep_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type StreakController struct {
	StreakService *service.StreakService
}

func NewStreakController(streakService *service.StreakService) *StreakController {
	return &StreakController{StreakService: streakService}
}

// @Summary 获取连续练习天数
// @Tags 连续练习
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=model.StreakState}
// @Router /api/streak [get]
func (c *StreakController) GetStreak(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	state, err := c.StreakService.GetStreakData(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, state)
}

// @Summary 获取练习日历
// @Tags 连续练习
// @Produce json
// @Security BearerAuth
// @Param days query int false "天数" default(30)
// @Success 200 {object} util.Response{data=model.PracticeCalendar}
// @Router /api/streak/calendar [get]
func (c *StreakController) GetCalendar(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	days, _ := strconv.Atoi(ctx.DefaultQuery("days", "30"))
	calendar, err := c.StreakService.GetPracticeCalendar(ctx.Request.Context(), user.UserID, days)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, calendar)
}
