package repository

import (
	"context"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/util"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StreakRepository struct {
	DB *gorm.DB
}

func NewStreakRepository(db *gorm.DB) *StreakRepository {
	return &StreakRepository{DB: db}
}

// Upsert 以 user_id 为键覆盖写入快照
func (r *StreakRepository) Upsert(ctx context.Context, state *model.StreakState) error {
	err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"current_streak_days",
			"longest_streak_days",
			"last_practice_date",
			"updated_at",
		}),
	}).Create(state).Error
	return util.ClassifyStoreError(err)
}

func (r *StreakRepository) FindByUser(ctx context.Context, userID uint) (*model.StreakState, error) {
	var state model.StreakState
	if err := r.DB.WithContext(ctx).Where("user_id = ?", userID).First(&state).Error; err != nil {
		return nil, util.ClassifyStoreError(err)
	}
	return &state, nil
}
