package repository

import (
	"context"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/util"
	"time"

	"gorm.io/gorm"
)

type FollowUpTaskRepository struct {
	DB *gorm.DB
}

func NewFollowUpTaskRepository(db *gorm.DB) *FollowUpTaskRepository {
	return &FollowUpTaskRepository{DB: db}
}

func (r *FollowUpTaskRepository) WithTx(tx *gorm.DB) *FollowUpTaskRepository {
	return &FollowUpTaskRepository{DB: tx}
}

func (r *FollowUpTaskRepository) Create(ctx context.Context, task *model.FollowUpTask) error {
	return util.ClassifyStoreError(r.DB.WithContext(ctx).Create(task).Error)
}

func (r *FollowUpTaskRepository) FindByID(ctx context.Context, id string) (*model.FollowUpTask, error) {
	var task model.FollowUpTask
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, util.ErrTaskNotFound
		}
		return nil, util.ClassifyStoreError(err)
	}
	return &task, nil
}

// Claim 将任务置为 running 并累计尝试次数；done/failed 的任务不会被再次领取
func (r *FollowUpTaskRepository) Claim(ctx context.Context, id string) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.FollowUpTask{}).
		Where("id = ? AND status IN ?", id, []model.FollowUpStatus{model.FollowUpQueued, model.FollowUpRunning}).
		Updates(map[string]interface{}{
			"status":     model.FollowUpRunning,
			"attempts":   gorm.Expr("attempts + ?", 1),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, util.ClassifyStoreError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *FollowUpTaskRepository) MarkDone(ctx context.Context, id string) error {
	now := time.Now().UTC()
	err := r.DB.WithContext(ctx).Model(&model.FollowUpTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.FollowUpDone,
			"last_error": "",
			"done_at":    now,
			"updated_at": now,
		}).Error
	return util.ClassifyStoreError(err)
}

// MarkRetry 记录失败原因；超过最大次数则标记为 failed，否则回到 queued
func (r *FollowUpTaskRepository) MarkRetry(ctx context.Context, id string, cause error, maxAttempts int) (model.FollowUpStatus, error) {
	task, err := r.FindByID(ctx, id)
	if err != nil {
		return "", err
	}

	status := model.FollowUpQueued
	if task.Attempts >= maxAttempts {
		status = model.FollowUpFailed
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	err = r.DB.WithContext(ctx).Model(&model.FollowUpTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"last_error": msg,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return "", util.ClassifyStoreError(err)
	}
	return status, nil
}

// ListStale 超过 olderThan 未推进的 queued/running 任务，用于重新投递
func (r *FollowUpTaskRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]model.FollowUpTask, error) {
	var tasks []model.FollowUpTask
	err := r.DB.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []model.FollowUpStatus{model.FollowUpQueued, model.FollowUpRunning}, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, util.ClassifyStoreError(err)
	}
	return tasks, nil
}
