package repository

import (
	"context"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/util"
	"time"

	"gorm.io/gorm"
)

// AnalyticsRepository 仪表盘读侧查询，聚合在服务层完成
type AnalyticsRepository struct {
	DB *gorm.DB
}

func NewAnalyticsRepository(db *gorm.DB) *AnalyticsRepository {
	return &AnalyticsRepository{DB: db}
}

// ListSubmittedAttempts 区间内已提交的尝试，since 为 nil 表示不限
func (r *AnalyticsRepository) ListSubmittedAttempts(ctx context.Context, userID uint, since *time.Time) ([]model.AttemptRow, error) {
	var rows []model.AttemptRow
	query := r.DB.WithContext(ctx).Model(&model.Attempt{}).
		Select("id, test_type, submitted_at, correct_answers, total_questions, score, time_spent_seconds").
		Where("user_id = ? AND status = ? AND submitted_at IS NOT NULL", userID, model.AttemptSubmitted)
	if since != nil {
		query = query.Where("submitted_at >= ?", *since)
	}
	if err := query.Order("submitted_at ASC").Scan(&rows).Error; err != nil {
		return nil, util.ClassifyStoreError(err)
	}
	return rows, nil
}

// ListAnswerRows 区间内已提交尝试的作答，附带题目难度（目录缺失时按 medium 处理）
func (r *AnalyticsRepository) ListAnswerRows(ctx context.Context, userID uint, since *time.Time) ([]model.AnswerRow, error) {
	var rows []model.AnswerRow
	query := r.DB.WithContext(ctx).Table("attempt_answers").
		Select(`attempt_answers.attempt_id AS attempt_id,
			attempt_answers.section_id AS section_id,
			COALESCE(questions.difficulty, ?) AS difficulty,
			attempt_answers.is_correct AS is_correct,
			attempt_answers.time_spent_seconds AS time_spent_seconds,
			attempts.submitted_at AS submitted_at`, model.DifficultyMedium).
		Joins("JOIN attempts ON attempts.id = attempt_answers.attempt_id").
		Joins("LEFT JOIN questions ON questions.id = attempt_answers.question_id").
		Where("attempts.user_id = ? AND attempts.status = ? AND attempts.submitted_at IS NOT NULL", userID, model.AttemptSubmitted)
	if since != nil {
		query = query.Where("attempts.submitted_at >= ?", *since)
	}
	if err := query.Order("attempts.submitted_at ASC").Scan(&rows).Error; err != nil {
		return nil, util.ClassifyStoreError(err)
	}
	return rows, nil
}

// SectionNames 章节名称，缺失的章节不出现在结果中
func (r *AnalyticsRepository) SectionNames(ctx context.Context, ids []uint) (map[uint]string, error) {
	result := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var sections []model.Section
	if err := r.DB.WithContext(ctx).Where("id IN ?", ids).Find(&sections).Error; err != nil {
		return nil, util.ClassifyStoreError(err)
	}
	for _, s := range sections {
		result[s.ID] = s.Name
	}
	return result, nil
}
