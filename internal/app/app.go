package app

import (
	"context"
	"errors"
	"exam_prep_backend/internal/config"
	"exam_prep_backend/internal/controller"
	"exam_prep_backend/internal/repository"
	"exam_prep_backend/internal/service"
	"exam_prep_backend/pkg/configwatcher"
	"exam_prep_backend/pkg/database"
	"exam_prep_backend/pkg/logger"
	"exam_prep_backend/pkg/monitoring"
	"exam_prep_backend/pkg/queue"
	"exam_prep_backend/pkg/security"
	"exam_prep_backend/pkg/tracing"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config *config.Config
	Router *gin.Engine
	DB     *gorm.DB
	Redis  *redis.Client

	services        *services
	limiter         *security.Limiter
	tracer          *sdktrace.TracerProvider
	configMu        sync.Mutex
	configCallbacks []func(*config.Config)
}

type repositories struct {
	attempt     *repository.AttemptRepository
	streak      *repository.StreakRepository
	weakSection *repository.WeakSectionRepository
	revision    *repository.RevisionRepository
	entitlement *repository.EntitlementRepository
	usage       *repository.UsageRepository
	followUp    *repository.FollowUpTaskRepository
	analytics   *repository.AnalyticsRepository
}

type services struct {
	streak      *service.StreakService
	weakTopic   *service.WeakTopicService
	revision    *service.RevisionService
	entitlement *service.EntitlementService
	usage       *service.UsageService
	analytics   *service.AnalyticsService
	followUp    *service.FollowUpService
	attempt     *service.AttemptService
}

type controllers struct {
	health    *controller.HealthController
	streak    *controller.StreakController
	weakTopic *controller.WeakTopicController
	revision  *controller.RevisionController
	usage     *controller.UsageController
	analytics *controller.AnalyticsController
	attempt   *controller.AttemptController
}

// RegisterConfigCallback 注册配置热更新回调
func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configMu.Lock()
	a.configCallbacks = append(a.configCallbacks, callback)
	a.configMu.Unlock()
}

func (a *App) applyConfig(cfg *config.Config) {
	a.configMu.Lock()
	callbacks := append([]func(*config.Config){}, a.configCallbacks...)
	a.configMu.Unlock()
	for _, cb := range callbacks {
		cb(cfg)
	}
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		attempt:     repository.NewAttemptRepository(db),
		streak:      repository.NewStreakRepository(db),
		weakSection: repository.NewWeakSectionRepository(db),
		revision:    repository.NewRevisionRepository(db),
		entitlement: repository.NewEntitlementRepository(db),
		usage:       repository.NewUsageRepository(db),
		followUp:    repository.NewFollowUpTaskRepository(db),
		analytics:   repository.NewAnalyticsRepository(db),
	}
}

// initQueue Redis 可用时使用 Redis 列表，否则退化为进程内队列（任务仍以数据库为准，补偿扫描负责重投）
func (a *App) initQueue(cfg *config.Config, rdb *redis.Client) queue.Queue {
	if rdb != nil {
		return queue.NewRedisQueue(rdb, cfg.Engine.FollowUp.QueueKey)
	}
	logger.Log.Warn("Redis unavailable, follow-up tasks use the in-process queue")
	return queue.NewMemoryQueue()
}

func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB, rdb *redis.Client) *services {
	s := &services{}
	engine := cfg.Engine

	s.streak = service.NewStreakService(repos.attempt, repos.streak)
	s.weakTopic = service.NewWeakTopicService(db, repos.attempt, repos.weakSection, service.WeakTopicSettingsFromConfig(engine))
	s.revision = service.NewRevisionService(db, repos.revision, repos.weakSection, s.weakTopic, service.RevisionSettingsFromConfig(engine))
	s.entitlement = service.NewEntitlementService(repos.entitlement, rdb, engine.EntitlementCacheDuration())
	s.usage = service.NewUsageService(repos.usage, s.entitlement, service.UsageCapsFromConfig(engine))
	s.analytics = service.NewAnalyticsService(repos.analytics, s.streak, s.weakTopic)

	s.followUp = service.NewFollowUpService(
		repos.followUp,
		a.initQueue(cfg, rdb),
		s.streak,
		s.weakTopic,
		s.revision,
		service.FollowUpSettingsFromConfig(engine),
	)

	s.attempt = service.NewAttemptService(db, repos.attempt, repos.followUp, s.usage, s.followUp)

	// 引擎参数热更新；已校验失败的配置不会到达这里
	a.RegisterConfigCallback(func(c *config.Config) {
		s.weakTopic.SetSettings(service.WeakTopicSettingsFromConfig(c.Engine))
		s.revision.SetSettings(service.RevisionSettingsFromConfig(c.Engine))
		s.usage.SetCaps(service.UsageCapsFromConfig(c.Engine))
		s.followUp.SetSettings(service.FollowUpSettingsFromConfig(c.Engine))
		s.entitlement.SetTTL(c.Engine.EntitlementCacheDuration())
	})

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		health:    controller.NewHealthController(db, rdb),
		streak:    controller.NewStreakController(s.streak),
		weakTopic: controller.NewWeakTopicController(s.weakTopic, s.followUp),
		revision:  controller.NewRevisionController(s.revision),
		usage:     controller.NewUsageController(s.usage, s.entitlement),
		analytics: controller.NewAnalyticsController(s.analytics),
		attempt:   controller.NewAttemptController(s.attempt),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	a.limiter = security.NewLimiter(cfg.RateLimit.MaxRequests, window)
	router.Use(a.limiter.Middleware())

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startBackgroundTasks 启动后续任务消费者、补偿扫描、限流清理与配置监听，ctx 取消后全部退出
func (a *App) startBackgroundTasks(ctx context.Context, s *services) *sync.WaitGroup {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.followUp.Run(ctx); err != nil {
			logger.Log.Error("follow-up workers stopped", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.followUp.RunSweeper(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.limiter.RunCleanup(ctx)
	}()

	if a.Config.ConfigFile != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := configwatcher.Watch(ctx, a.Config.ConfigFile, a.applyConfig); err != nil {
				logger.Log.Warn("config hot reload disabled", zap.Error(err))
			}
		}()
	}

	return &wg
}

func NewApp(cfg *config.Config) (*App, error) {
	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode, cfg.ForceMigrate)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     db,
	}

	if cfg.MigrateOnly {
		return app, nil
	}

	// Redis 只承载权益缓存和任务队列，不可用时降级运行
	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Warn("Failed to initialize redis, running without cache", zap.Error(err))
		rdb = nil
	}
	app.Redis = rdb

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("exam-prep-engine", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			return nil, err
		}
		app.tracer = tp
	}

	// 监控初始化
	monitoring.Init()

	repos := app.initRepositories(db)
	app.services = app.initServices(repos, cfg, db, rdb)
	controllers := app.initControllers(app.services, db, rdb)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	return app, nil
}

func (a *App) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	background := a.startBackgroundTasks(ctx, a.services)

	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	// 停止后台任务并等待在途的异步分析结束
	cancel()
	background.Wait()
	a.services.followUp.Wait()

	if a.tracer != nil {
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}

	logger.Log.Info("Server exiting")
}
