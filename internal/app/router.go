package app

import (
	"exam_prep_backend/docs"
	"exam_prep_backend/internal/config"
	"exam_prep_backend/internal/middleware"
	"exam_prep_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	router.GET("/api/health", c.health.HealthCheck)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg.JWT.Secret), middleware.RequestLogger())
	registerEngineRoutes(authGroup, c)
}

func registerEngineRoutes(r *gin.RouterGroup, c *controllers) {
	attempts := r.Group("/attempts")
	{
		attempts.POST("", c.attempt.Start)
		attempts.POST("/:id/submit", c.attempt.Submit)
	}

	streak := r.Group("/streak")
	{
		streak.GET("", c.streak.GetStreak)
		streak.GET("/calendar", c.streak.GetCalendar)
	}

	weak := r.Group("/weak-topics")
	{
		weak.GET("", c.weakTopic.List)
		weak.POST("/analyze", c.weakTopic.Analyze)
		weak.GET("/:sectionId", c.weakTopic.Evaluate)
	}

	revisions := r.Group("/revisions")
	{
		revisions.GET("", c.revision.GetSchedule)
		revisions.POST("/:id/complete", c.revision.Complete)
		revisions.POST("/:id/skip", c.revision.Skip)
	}

	usage := r.Group("/usage")
	{
		usage.GET("", c.usage.GetRemaining)
		usage.GET("/mock-test-limit", c.usage.MockTestLimit)
		usage.POST("/entitlement/refresh", c.usage.RefreshEntitlement)
		usage.POST("/:kind/consume", c.usage.Consume)
	}

	analytics := r.Group("/analytics")
	{
		analytics.GET("/overview", c.analytics.GetOverview)
		analytics.GET("/trend", c.analytics.GetTrend)
		analytics.GET("/difficulty", c.analytics.GetDifficulty)
		analytics.GET("/test-types", c.analytics.GetTestTypes)
		analytics.GET("/time-performance", c.analytics.GetTimePerformance)
		analytics.GET("/insights", c.analytics.GetInsights)
		analytics.GET("/dashboard", c.analytics.GetDashboard)
	}
}
