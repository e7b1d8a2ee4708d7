package repository

import (
	"context"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/util"
	"time"

	"gorm.io/gorm"
)

type RevisionRepository struct {
	DB *gorm.DB
}

func NewRevisionRepository(db *gorm.DB) *RevisionRepository {
	return &RevisionRepository{DB: db}
}

func (r *RevisionRepository) WithTx(tx *gorm.DB) *RevisionRepository {
	return &RevisionRepository{DB: tx}
}

func orderItems(db *gorm.DB) *gorm.DB {
	return db.Order("section_id ASC")
}

// ListPending 用户所有 pending 的复习安排（含 pending 条目），按日期升序
func (r *RevisionRepository) ListPending(ctx context.Context, userID uint) ([]model.RevisionEntry, error) {
	var entries []model.RevisionEntry
	err := r.DB.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return orderItems(db.Where("status = ?", model.RevisionPending))
		}).
		Where("user_id = ? AND status = ?", userID, model.RevisionPending).
		Order("scheduled_date ASC").Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, util.ClassifyStoreError(err)
	}
	return entries, nil
}

// ListSchedule pending 全部 + 其余状态中 since 之后的记录
func (r *RevisionRepository) ListSchedule(ctx context.Context, userID uint, since time.Time) ([]model.RevisionEntry, error) {
	var entries []model.RevisionEntry
	err := r.DB.WithContext(ctx).
		Preload("Items", orderItems).
		Where("user_id = ? AND (status = ? OR scheduled_date >= ?)", userID, model.RevisionPending, since).
		Order("scheduled_date ASC").Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, util.ClassifyStoreError(err)
	}
	return entries, nil
}

// FindByID 查找属于该用户的复习安排
func (r *RevisionRepository) FindByID(ctx context.Context, userID, entryID uint) (*model.RevisionEntry, error) {
	var entry model.RevisionEntry
	err := r.DB.WithContext(ctx).
		Preload("Items", orderItems).
		Where("id = ? AND user_id = ?", entryID, userID).
		First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, util.ErrRevisionNotFound
		}
		return nil, util.ClassifyStoreError(err)
	}
	return &entry, nil
}

func (r *RevisionRepository) CreateEntry(ctx context.Context, entry *model.RevisionEntry) error {
	return util.ClassifyStoreError(r.DB.WithContext(ctx).Omit("Items").Create(entry).Error)
}

// CreateItem 写入条目；同一章节已有 pending 条目时返回 ErrConflict
func (r *RevisionRepository) CreateItem(ctx context.Context, item *model.RevisionItem) error {
	item.PendingSectionID = nil
	if item.Status == model.RevisionPending {
		sectionID := item.SectionID
		item.PendingSectionID = &sectionID
	}
	return util.ClassifyWriteError(r.DB.WithContext(ctx).Create(item).Error)
}

// UpdateEntry 更新状态、阶梯位置与完成时间
func (r *RevisionRepository) UpdateEntry(ctx context.Context, entry *model.RevisionEntry) error {
	err := r.DB.WithContext(ctx).Model(&model.RevisionEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]interface{}{
			"status":         entry.Status,
			"interval_index": entry.IntervalIndex,
			"completed_at":   entry.CompletedAt,
			"updated_at":     time.Now().UTC(),
		}).Error
	return util.ClassifyStoreError(err)
}

// SetItemStatus 将指定条目从 pending 改为 status，同时释放 pending 唯一键
func (r *RevisionRepository) SetItemStatus(ctx context.Context, itemIDs []uint, status model.RevisionStatus) error {
	if len(itemIDs) == 0 || status == model.RevisionPending {
		return nil
	}
	err := r.DB.WithContext(ctx).Model(&model.RevisionItem{}).
		Where("id IN ? AND status = ?", itemIDs, model.RevisionPending).
		Updates(map[string]interface{}{
			"status":             status,
			"pending_section_id": nil,
			"updated_at":         time.Now().UTC(),
		}).Error
	return util.ClassifyStoreError(err)
}
