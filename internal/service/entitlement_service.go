package service

import (
	"context"
	"errors"
	"exam_prep_backend/internal/repository"
	"exam_prep_backend/internal/util"
	"exam_prep_backend/pkg/logger"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const entitlementKeyPrefix = "entitlement:unlimited:"

// EntitlementChecker 计费侧的无限额度判定
type EntitlementChecker interface {
	IsUnlimited(ctx context.Context, userID uint) (bool, error)
}

// EntitlementService 读取计费同步过来的权益，结果在 Redis 中短暂缓存
type EntitlementService struct {
	Repo  *repository.EntitlementRepository
	Redis *redis.Client
	Now   Clock

	mu  sync.RWMutex
	ttl time.Duration
}

func NewEntitlementService(repo *repository.EntitlementRepository, rdb *redis.Client, ttl time.Duration) *EntitlementService {
	return &EntitlementService{
		Repo:  repo,
		Redis: rdb,
		Now:   systemClock,
		ttl:   ttl,
	}
}

func (s *EntitlementService) TTL() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ttl
}

// SetTTL 配置热更新；已写入的缓存按旧 TTL 过期
func (s *EntitlementService) SetTTL(ttl time.Duration) {
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
}

func (s *EntitlementService) IsUnlimited(ctx context.Context, userID uint) (bool, error) {
	key := fmt.Sprintf("%s%d", entitlementKeyPrefix, userID)

	if s.Redis != nil {
		val, err := s.Redis.Get(ctx, key).Result()
		switch {
		case err == nil:
			return val == "1", nil
		case err != redis.Nil:
			logger.Log.Warn("entitlement cache read failed, falling back to db", zap.Uint("userID", userID), zap.Error(err))
		}
	}

	ent, err := s.Repo.FindByUser(ctx, userID)
	if err != nil && !errors.Is(err, util.ErrNotFound) {
		return false, err
	}
	unlimited := ent.Active(s.Now())

	if ttl := s.TTL(); s.Redis != nil && ttl > 0 {
		val := "0"
		if unlimited {
			val = "1"
		}
		if err := s.Redis.Set(ctx, key, val, ttl).Err(); err != nil {
			logger.Log.Warn("entitlement cache write failed", zap.Uint("userID", userID), zap.Error(err))
		}
	}
	return unlimited, nil
}

// Invalidate 计费状态变化后清除缓存
func (s *EntitlementService) Invalidate(ctx context.Context, userID uint) error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.Del(ctx, fmt.Sprintf("%s%d", entitlementKeyPrefix, userID)).Err()
}
