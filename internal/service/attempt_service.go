package service

import (
	"context"
	"errors"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/repository"
	"exam_prep_backend/internal/util"
	"exam_prep_backend/pkg/logger"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SubmittedAnswer 提交时的单题作答
type SubmittedAnswer struct {
	QuestionID       uint `json:"questionId" binding:"required"`
	IsCorrect        bool `json:"isCorrect"`
	TimeSpentSeconds int  `json:"timeSpentSeconds" binding:"min=0"`
}

// AttemptService 作答记录的写入口：开始（受额度限制）与提交（触发后续分析）
type AttemptService struct {
	DB          *gorm.DB
	AttemptRepo *repository.AttemptRepository
	TaskRepo    *repository.FollowUpTaskRepository
	Usage       *UsageService
	FollowUps   *FollowUpService
	Now         Clock
}

func NewAttemptService(
	db *gorm.DB,
	attemptRepo *repository.AttemptRepository,
	taskRepo *repository.FollowUpTaskRepository,
	usage *UsageService,
	followUps *FollowUpService,
) *AttemptService {
	return &AttemptService{
		DB:          db,
		AttemptRepo: attemptRepo,
		TaskRepo:    taskRepo,
		Usage:       usage,
		FollowUps:   followUps,
		Now:         systemClock,
	}
}

// Start 开始一次测试；模拟考的 mock_test 额度与尝试记录在同一事务内写入，
// 记录写入失败时额度不被消耗，额度错误直接返回
func (s *AttemptService) Start(ctx context.Context, userID uint, testType model.TestType, sessionID string) (*model.Attempt, error) {
	if testType == "" {
		testType = model.TestTypePractice
	}
	if !testType.Valid() {
		return nil, util.ErrInvalidTestType
	}

	attempt := &model.Attempt{
		UserID:    userID,
		SessionID: sessionID,
		TestType:  testType,
		StartedAt: s.Now(),
		Status:    model.AttemptInProgress,
	}

	if testType != model.TestTypeMock {
		if err := s.AttemptRepo.Create(ctx, attempt); err != nil {
			return nil, err
		}
		return attempt, nil
	}

	_, err := s.Usage.ConsumeIn(ctx, s.DB, userID, model.ResourceMockTest, func(tx *gorm.DB) error {
		return s.AttemptRepo.WithTx(tx).Create(ctx, attempt)
	})
	if err != nil {
		if !errors.Is(err, util.ErrQuotaExceeded) {
			logger.Log.Warn("mock attempt not started", zap.Uint("userID", userID), zap.Error(err))
		}
		return nil, err
	}
	return attempt, nil
}

// Submit 一次性写入提交结果与作答，并在同一事务内登记后续任务；
// 事务提交后投递任务，投递失败只记录日志，由补偿扫描重新投递
func (s *AttemptService) Submit(ctx context.Context, userID, attemptID uint, answers []SubmittedAnswer) (*model.Attempt, error) {
	if len(answers) == 0 {
		return nil, util.ErrEmptySubmission
	}

	attempt, err := s.AttemptRepo.FindByID(ctx, attemptID)
	if errors.Is(err, util.ErrNotFound) {
		return nil, util.ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	if attempt.UserID != userID {
		return nil, util.ErrAttemptNotFound
	}
	if attempt.Status != model.AttemptInProgress {
		return nil, util.ErrAttemptAlreadySubmitted
	}

	questionIDs := make([]uint, 0, len(answers))
	for _, a := range answers {
		questionIDs = append(questionIDs, a.QuestionID)
	}
	sections, err := s.AttemptRepo.FindQuestionSections(ctx, questionIDs)
	if err != nil {
		return nil, err
	}

	rows := make([]model.Answer, 0, len(answers))
	correct, spent := 0, 0
	for _, a := range answers {
		sectionID, ok := sections[a.QuestionID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", util.ErrUnknownQuestion, a.QuestionID)
		}
		if a.IsCorrect {
			correct++
		}
		spent += a.TimeSpentSeconds
		rows = append(rows, model.Answer{
			AttemptID:        attempt.ID,
			QuestionID:       a.QuestionID,
			SectionID:        sectionID,
			IsCorrect:        a.IsCorrect,
			TimeSpentSeconds: a.TimeSpentSeconds,
		})
	}

	now := s.Now()
	attempt.SubmittedAt = &now
	attempt.Status = model.AttemptSubmitted
	attempt.CorrectAnswers = correct
	attempt.TotalQuestions = len(rows)
	attempt.Score = math.Round(float64(correct)/float64(len(rows))*10000) / 100
	attempt.TimeSpentSeconds = spent

	task := &model.FollowUpTask{
		UserID:    userID,
		AttemptID: attempt.ID,
		Status:    model.FollowUpQueued,
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attemptRepo := s.AttemptRepo.WithTx(tx)
		if err := attemptRepo.MarkSubmitted(ctx, attempt); err != nil {
			return err
		}
		if err := attemptRepo.CreateAnswers(ctx, rows); err != nil {
			return err
		}
		return s.TaskRepo.WithTx(tx).Create(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	if err := s.FollowUps.Dispatch(ctx, task.ID); err != nil {
		logger.Log.Warn("follow-up dispatch failed, sweeper will retry",
			zap.Uint("attemptID", attempt.ID), zap.String("taskID", task.ID), zap.Error(err))
	}

	logger.Log.Info("attempt submitted",
		zap.Uint("userID", userID), zap.Uint("attemptID", attempt.ID),
		zap.Int("correct", correct), zap.Int("total", len(rows)))
	return attempt, nil
}
