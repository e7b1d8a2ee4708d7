package service

import (
	"context"
	"exam_prep_backend/internal/config"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/repository"
	"exam_prep_backend/internal/util"
	"exam_prep_backend/pkg/logger"
	"exam_prep_backend/pkg/monitoring"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UsageCaps 免费用户的额度上限
type UsageCaps struct {
	MockTest         int
	PracticeQuestion int
}

func UsageCapsFromConfig(cfg config.EngineConfig) UsageCaps {
	return UsageCaps{
		MockTest:         cfg.Quota.MockTestCap,
		PracticeQuestion: cfg.Quota.PracticeQuestionCap,
	}
}

type UsageService struct {
	UsageRepo    *repository.UsageRepository
	Entitlements EntitlementChecker
	Now          Clock

	mu   sync.RWMutex
	caps UsageCaps
}

func NewUsageService(usageRepo *repository.UsageRepository, entitlements EntitlementChecker, caps UsageCaps) *UsageService {
	return &UsageService{
		UsageRepo:    usageRepo,
		Entitlements: entitlements,
		Now:          systemClock,
		caps:         caps,
	}
}

func (s *UsageService) Caps() UsageCaps {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

func (s *UsageService) SetCaps(caps UsageCaps) {
	s.mu.Lock()
	s.caps = caps
	s.mu.Unlock()
}

// policy 返回资源的周期键与上限：mock_test 为终身周期，practice_question 按 UTC 自然日
func (s *UsageService) policy(kind model.ResourceKind) (periodKey string, limit int, err error) {
	caps := s.Caps()
	switch kind {
	case model.ResourceMockTest:
		return util.PeriodLifetime, caps.MockTest, nil
	case model.ResourcePracticeQuestion:
		return util.FormatDate(s.Now()), caps.PracticeQuestion, nil
	default:
		return "", 0, util.ErrInvalidResourceKind
	}
}

// Check 只读判定，不消耗额度
func (s *UsageService) Check(ctx context.Context, userID uint, kind model.ResourceKind) (*model.QuotaDecision, error) {
	periodKey, limit, err := s.policy(kind)
	if err != nil {
		return nil, err
	}

	unlimited, err := s.Entitlements.IsUnlimited(ctx, userID)
	if err != nil {
		return nil, err
	}
	if unlimited {
		return &model.QuotaDecision{ResourceKind: kind, CanConsume: true, Remaining: -1, Cap: limit, IsUnlimited: true}, nil
	}

	consumed, err := s.UsageRepo.GetConsumed(ctx, userID, kind, periodKey)
	if err != nil {
		return nil, err
	}
	if consumed < 0 {
		logger.Log.Error("negative usage counter", zap.Uint("userID", userID), zap.String("kind", string(kind)), zap.Int("consumed", consumed))
		return nil, util.InvariantError("usage counter for user %d %s is negative (%d)", userID, kind, consumed)
	}

	remaining := limit - consumed
	if remaining < 0 {
		remaining = 0
	}
	return &model.QuotaDecision{
		ResourceKind: kind,
		CanConsume:   consumed < limit,
		Remaining:    remaining,
		Cap:          limit,
	}, nil
}

// Consume 原子地消耗一次额度；已达上限返回 ErrQuotaExceeded
func (s *UsageService) Consume(ctx context.Context, userID uint, kind model.ResourceKind) (*model.QuotaDecision, error) {
	periodKey, limit, err := s.policy(kind)
	if err != nil {
		return nil, err
	}

	decision, err := s.admit(ctx, userID, kind, limit)
	if err != nil || decision != nil {
		return decision, err
	}

	decision, err = s.increment(ctx, s.UsageRepo, userID, kind, periodKey, limit)
	if err != nil {
		return nil, err
	}
	monitoring.QuotaDecisions.WithLabelValues(string(kind), "allowed").Inc()
	return decision, nil
}

// ConsumeIn 在 db 上开启事务，消耗一次额度后执行 fn；fn 出错时本次消耗随事务回滚。
// 权益在事务开启前判定，无限用户不计数，fn 同样在事务内执行。
func (s *UsageService) ConsumeIn(ctx context.Context, db *gorm.DB, userID uint, kind model.ResourceKind, fn func(tx *gorm.DB) error) (*model.QuotaDecision, error) {
	periodKey, limit, err := s.policy(kind)
	if err != nil {
		return nil, err
	}

	decision, err := s.admit(ctx, userID, kind, limit)
	if err != nil {
		return nil, err
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if decision == nil {
			d, err := s.increment(ctx, s.UsageRepo.WithTx(tx), userID, kind, periodKey, limit)
			if err != nil {
				return err
			}
			decision = d
		}
		return fn(tx)
	})
	if err != nil {
		return nil, err
	}
	if !decision.IsUnlimited {
		monitoring.QuotaDecisions.WithLabelValues(string(kind), "allowed").Inc()
	}
	return decision, nil
}

// admit 无限用户直接返回放行决定；返回 nil 表示需要计数
func (s *UsageService) admit(ctx context.Context, userID uint, kind model.ResourceKind, limit int) (*model.QuotaDecision, error) {
	unlimited, err := s.Entitlements.IsUnlimited(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !unlimited {
		return nil, nil
	}
	monitoring.QuotaDecisions.WithLabelValues(string(kind), "unlimited").Inc()
	return &model.QuotaDecision{ResourceKind: kind, CanConsume: true, Remaining: -1, Cap: limit, IsUnlimited: true}, nil
}

// increment 条件自增并由自增后的计数得出剩余次数
func (s *UsageService) increment(ctx context.Context, repo *repository.UsageRepository, userID uint, kind model.ResourceKind, periodKey string, limit int) (*model.QuotaDecision, error) {
	consumed, ok, err := repo.IncrementIfBelow(ctx, userID, kind, periodKey, limit)
	if err != nil {
		return nil, err
	}
	if !ok {
		monitoring.QuotaDecisions.WithLabelValues(string(kind), "rejected").Inc()
		logger.Log.Info("quota exceeded", zap.Uint("userID", userID), zap.String("kind", string(kind)), zap.String("period", periodKey))
		return nil, util.ErrQuotaExceeded
	}
	if consumed < 1 || consumed > limit {
		logger.Log.Error("usage counter out of bounds", zap.Uint("userID", userID), zap.String("kind", string(kind)), zap.Int("consumed", consumed), zap.Int("cap", limit))
		return nil, util.InvariantError("usage counter for user %d %s out of bounds (%d/%d)", userID, kind, consumed, limit)
	}

	return &model.QuotaDecision{
		ResourceKind: kind,
		CanConsume:   consumed < limit,
		Remaining:    limit - consumed,
		Cap:          limit,
	}, nil
}

// GetRemainingFreeUsage 各资源剩余免费额度，无限用户返回 -1
func (s *UsageService) GetRemainingFreeUsage(ctx context.Context, userID uint) (*model.RemainingUsage, error) {
	mock, err := s.Check(ctx, userID, model.ResourceMockTest)
	if err != nil {
		return nil, err
	}
	practice, err := s.Check(ctx, userID, model.ResourcePracticeQuestion)
	if err != nil {
		return nil, err
	}
	return &model.RemainingUsage{
		MockTests:         mock.Remaining,
		PracticeQuestions: practice.Remaining,
		IsUnlimited:       mock.IsUnlimited,
	}, nil
}

func (s *UsageService) HasReachedMockTestLimit(ctx context.Context, userID uint) (bool, error) {
	decision, err := s.Check(ctx, userID, model.ResourceMockTest)
	if err != nil {
		return false, err
	}
	return !decision.CanConsume, nil
}
