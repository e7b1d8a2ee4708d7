package repository

import (
	"context"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/util"

	"gorm.io/gorm"
)

type EntitlementRepository struct {
	DB *gorm.DB
}

func NewEntitlementRepository(db *gorm.DB) *EntitlementRepository {
	return &EntitlementRepository{DB: db}
}

func (r *EntitlementRepository) FindByUser(ctx context.Context, userID uint) (*model.UserEntitlement, error) {
	var ent model.UserEntitlement
	if err := r.DB.WithContext(ctx).Where("user_id = ?", userID).First(&ent).Error; err != nil {
		return nil, util.ClassifyStoreError(err)
	}
	return &ent, nil
}
