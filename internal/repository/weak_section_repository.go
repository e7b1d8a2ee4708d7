package repository

import (
	"context"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/util"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WeakSectionRepository struct {
	DB *gorm.DB
}

func NewWeakSectionRepository(db *gorm.DB) *WeakSectionRepository {
	return &WeakSectionRepository{DB: db}
}

func (r *WeakSectionRepository) WithTx(tx *gorm.DB) *WeakSectionRepository {
	return &WeakSectionRepository{DB: tx}
}

// Upsert 以 (user_id, section_id) 为键幂等写入
func (r *WeakSectionRepository) Upsert(ctx context.Context, ws *model.WeakSection) error {
	err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "section_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"accuracy",
			"sample_count",
			"status",
			"last_updated",
		}),
	}).Create(ws).Error
	return util.ClassifyStoreError(err)
}

// MapByUser 用户全部章节状态，按章节 ID 索引
func (r *WeakSectionRepository) MapByUser(ctx context.Context, userID uint) (map[uint]*model.WeakSection, error) {
	return r.mapByUser(r.DB.WithContext(ctx), userID)
}

// LockByUser 同 MapByUser，但以 SELECT ... FOR UPDATE 读取，须在事务内调用。
// 同一用户的复习排期事务由此串行；SQLite 忽略该子句，依赖写锁串行。
func (r *WeakSectionRepository) LockByUser(ctx context.Context, userID uint) (map[uint]*model.WeakSection, error) {
	return r.mapByUser(r.DB.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), userID)
}

func (r *WeakSectionRepository) mapByUser(db *gorm.DB, userID uint) (map[uint]*model.WeakSection, error) {
	var rows []model.WeakSection
	if err := db.Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, util.ClassifyStoreError(err)
	}
	result := make(map[uint]*model.WeakSection, len(rows))
	for i := range rows {
		result[rows[i].SectionID] = &rows[i]
	}
	return result, nil
}

func (r *WeakSectionRepository) List(ctx context.Context, userID uint, includeRecovered bool) ([]model.WeakSection, error) {
	var rows []model.WeakSection
	query := r.DB.WithContext(ctx).Where("user_id = ?", userID)
	if !includeRecovered {
		query = query.Where("status = ?", model.WeakSectionWeak)
	}
	if err := query.Order("accuracy ASC").Order("section_id ASC").Find(&rows).Error; err != nil {
		return nil, util.ClassifyStoreError(err)
	}
	return rows, nil
}

func (r *WeakSectionRepository) Find(ctx context.Context, userID, sectionID uint) (*model.WeakSection, error) {
	var ws model.WeakSection
	err := r.DB.WithContext(ctx).Where("user_id = ? AND section_id = ?", userID, sectionID).First(&ws).Error
	if err != nil {
		return nil, util.ClassifyStoreError(err)
	}
	return &ws, nil
}
