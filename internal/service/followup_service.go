package service

import (
	"context"
	"errors"
	"exam_prep_backend/internal/config"
	"exam_prep_backend/internal/repository"
	"exam_prep_backend/pkg/logger"
	"exam_prep_backend/pkg/monitoring"
	"exam_prep_backend/pkg/queue"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	dequeueTimeout   = 2 * time.Second
	sweepBatchSize   = 100
	asyncTaskTimeout = 30 * time.Second
)

type FollowUpSettings struct {
	Workers       int
	MaxAttempts   int
	SweepInterval time.Duration
}

func FollowUpSettingsFromConfig(cfg config.EngineConfig) FollowUpSettings {
	return FollowUpSettings{
		Workers:       cfg.FollowUp.Workers,
		MaxAttempts:   cfg.FollowUp.MaxAttempts,
		SweepInterval: time.Duration(cfg.FollowUp.SweepInterval) * time.Second,
	}
}

// FollowUpService 提交后的后续处理：重算连续天数、分析薄弱章节、调整复习计划。
// 任务至少投递一次，处理逻辑对同一任务重复执行是安全的。
type FollowUpService struct {
	TaskRepo   *repository.FollowUpTaskRepository
	Queue      queue.Queue
	Streaks    *StreakService
	WeakTopics *WeakTopicService
	Revisions  *RevisionService
	Now        Clock

	mu       sync.RWMutex
	settings FollowUpSettings
	wg       sync.WaitGroup
}

func NewFollowUpService(
	taskRepo *repository.FollowUpTaskRepository,
	q queue.Queue,
	streaks *StreakService,
	weakTopics *WeakTopicService,
	revisions *RevisionService,
	settings FollowUpSettings,
) *FollowUpService {
	return &FollowUpService{
		TaskRepo:   taskRepo,
		Queue:      q,
		Streaks:    streaks,
		WeakTopics: weakTopics,
		Revisions:  revisions,
		Now:        systemClock,
		settings:   settings,
	}
}

func (s *FollowUpService) Settings() FollowUpSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *FollowUpService) SetSettings(st FollowUpSettings) {
	s.mu.Lock()
	s.settings = st
	s.mu.Unlock()
}

// Dispatch 投递任务 ID
func (s *FollowUpService) Dispatch(ctx context.Context, taskID string) error {
	return s.Queue.Enqueue(ctx, taskID)
}

// Process 处理一条任务。已完成或已放弃的任务直接忽略
func (s *FollowUpService) Process(ctx context.Context, taskID string) error {
	claimed, err := s.TaskRepo.Claim(ctx, taskID)
	if err != nil {
		return err
	}
	if !claimed {
		logger.Log.Debug("follow-up task already settled", zap.String("taskID", taskID))
		return nil
	}

	task, err := s.TaskRepo.FindByID(ctx, taskID)
	if err != nil {
		return err
	}

	ctx, span := startSpan(ctx, "followup.process", task.UserID)
	runErr := s.refresh(ctx, task.UserID)
	endSpan(span, runErr)

	if runErr != nil {
		status, err := s.TaskRepo.MarkRetry(ctx, taskID, runErr, s.Settings().MaxAttempts)
		if err != nil {
			return err
		}
		monitoring.FollowUpTasks.WithLabelValues(string(status)).Inc()
		logger.Log.Warn("follow-up task failed",
			zap.String("taskID", taskID), zap.Uint("userID", task.UserID),
			zap.Int("attempt", task.Attempts), zap.String("status", string(status)), zap.Error(runErr))
		return runErr
	}

	if err := s.TaskRepo.MarkDone(ctx, taskID); err != nil {
		return err
	}
	monitoring.FollowUpTasks.WithLabelValues("done").Inc()
	return nil
}

// refresh 依次更新连续天数、薄弱章节与复习计划，每一步都是按当前数据整体重算
func (s *FollowUpService) refresh(ctx context.Context, userID uint) error {
	if _, err := s.Streaks.Recompute(ctx, userID); err != nil {
		return fmt.Errorf("streak: %w", err)
	}
	if _, err := s.WeakTopics.AnalyzeUserWeakTopics(ctx, userID); err != nil {
		return fmt.Errorf("weak topics: %w", err)
	}
	if err := s.Revisions.Reconcile(ctx, userID); err != nil {
		return fmt.Errorf("revisions: %w", err)
	}
	return nil
}

// Run 启动消费者，直到 ctx 取消或队列关闭
func (s *FollowUpService) Run(ctx context.Context) error {
	if n, err := s.Queue.Recover(ctx); err != nil {
		logger.Log.Warn("follow-up queue recovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Log.Info("re-queued unacknowledged follow-up tasks", zap.Int("count", n))
	}

	workers := s.Settings().Workers
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		worker := i
		g.Go(func() error {
			return s.consume(gctx, worker)
		})
	}
	return g.Wait()
}

func (s *FollowUpService) consume(ctx context.Context, worker int) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := s.Queue.Dequeue(ctx, dequeueTimeout)
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Log.Warn("follow-up dequeue failed", zap.Int("worker", worker), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue
		}

		// 失败的任务已回到 queued，由补偿扫描延迟重投，这里照常确认
		if err := s.Process(ctx, msg.Payload); err != nil {
			logger.Log.Debug("follow-up task left for sweeper", zap.String("taskID", msg.Payload), zap.Error(err))
		}
		if err := s.Queue.Ack(ctx, msg); err != nil {
			logger.Log.Warn("follow-up ack failed", zap.String("taskID", msg.Payload), zap.Error(err))
		}
	}
}

// Sweep 重新投递长时间未推进的任务，返回投递数量
func (s *FollowUpService) Sweep(ctx context.Context) (int, error) {
	olderThan := s.Now().Add(-s.Settings().SweepInterval)
	tasks, err := s.TaskRepo.ListStale(ctx, olderThan, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, task := range tasks {
		if err := s.Dispatch(ctx, task.ID); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		logger.Log.Info("re-dispatched stale follow-up tasks", zap.Int("count", n))
	}
	return n, nil
}

// RunSweeper 按 SweepInterval 周期执行 Sweep
func (s *FollowUpService) RunSweeper(ctx context.Context) {
	interval := s.Settings().SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				logger.Log.Warn("follow-up sweep failed", zap.Error(err))
			}
		}
	}
}

// AnalyzeAsync 后台触发一次薄弱章节分析与复习计划调整，调用方不等待结果
func (s *FollowUpService) AnalyzeAsync(userID uint) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Log.Error("weak topic analysis panicked", zap.Uint("userID", userID), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), asyncTaskTimeout)
		defer cancel()

		if _, err := s.WeakTopics.AnalyzeUserWeakTopics(ctx, userID); err != nil {
			logger.Log.Warn("async weak topic analysis failed", zap.Uint("userID", userID), zap.Error(err))
			return
		}
		if err := s.Revisions.Reconcile(ctx, userID); err != nil {
			logger.Log.Warn("async revision reconcile failed", zap.Uint("userID", userID), zap.Error(err))
		}
	}()
}

// Wait 等待 AnalyzeAsync 启动的任务结束
func (s *FollowUpService) Wait() {
	s.wg.Wait()
}
