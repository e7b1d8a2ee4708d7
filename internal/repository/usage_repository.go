package repository

import (
	"context"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/util"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UsageRepository struct {
	DB *gorm.DB
}

func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{DB: db}
}

func (r *UsageRepository) WithTx(tx *gorm.DB) *UsageRepository {
	return &UsageRepository{DB: tx}
}

// GetConsumed 读取当前周期已用次数，计数不存在时为 0
func (r *UsageRepository) GetConsumed(ctx context.Context, userID uint, kind model.ResourceKind, periodKey string) (int, error) {
	var counters []model.UsageCounter
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND resource_kind = ? AND period_key = ?", userID, kind, periodKey).
		Limit(1).
		Find(&counters).Error
	if err != nil {
		return 0, util.ClassifyStoreError(err)
	}
	if len(counters) == 0 {
		return 0, nil
	}
	return counters[0].ConsumedCount, nil
}

// ensureCounter 惰性创建计数行，已存在时不做任何事
func (r *UsageRepository) ensureCounter(ctx context.Context, userID uint, kind model.ResourceKind, periodKey string) error {
	counter := model.UsageCounter{
		UserID:       userID,
		ResourceKind: kind,
		PeriodKey:    periodKey,
	}
	err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&counter).Error
	return util.ClassifyStoreError(err)
}

// IncrementIfBelow 原子的条件自增：仅当 consumed_count < limit 时 +1，并在同一事务内读回新计数。
// ok 为 false 表示已达上限；返回错误时本次自增已随事务回滚。
// 并发调用方共同消费的次数不会超过 limit。
func (r *UsageRepository) IncrementIfBelow(ctx context.Context, userID uint, kind model.ResourceKind, periodKey string, limit int) (consumed int, ok bool, err error) {
	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := r.WithTx(tx)
		if err := repo.ensureCounter(ctx, userID, kind, periodKey); err != nil {
			return err
		}

		res := tx.Model(&model.UsageCounter{}).
			Where("user_id = ? AND resource_kind = ? AND period_key = ? AND consumed_count < ?", userID, kind, periodKey, limit).
			Updates(map[string]interface{}{
				"consumed_count": gorm.Expr("consumed_count + ?", 1),
				"updated_at":     time.Now().UTC(),
			})
		if res.Error != nil {
			return util.ClassifyStoreError(res.Error)
		}
		if res.RowsAffected != 1 {
			return nil
		}
		ok = true

		consumed, err = repo.GetConsumed(ctx, userID, kind, periodKey)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return consumed, ok, nil
}
