package repository

import (
	"context"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/util"
	"time"

	"gorm.io/gorm"
)

// AttemptRepository 作答账本的读写（引擎只依赖读接口，写入仅用于提交流程）
type AttemptRepository struct {
	DB *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: db}
}

// WithTx 返回绑定到事务的仓库副本
func (r *AttemptRepository) WithTx(tx *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: tx}
}

func (r *AttemptRepository) Create(ctx context.Context, attempt *model.Attempt) error {
	return util.ClassifyStoreError(r.DB.WithContext(ctx).Create(attempt).Error)
}

func (r *AttemptRepository) FindByID(ctx context.Context, id uint) (*model.Attempt, error) {
	var attempt model.Attempt
	if err := r.DB.WithContext(ctx).First(&attempt, id).Error; err != nil {
		return nil, util.ClassifyStoreError(err)
	}
	return &attempt, nil
}

// MarkSubmitted 仅当状态仍为 in_progress 时写入提交结果，保证只变更一次
func (r *AttemptRepository) MarkSubmitted(ctx context.Context, attempt *model.Attempt) error {
	res := r.DB.WithContext(ctx).Model(&model.Attempt{}).
		Where("id = ? AND status = ?", attempt.ID, model.AttemptInProgress).
		Updates(map[string]interface{}{
			"status":             model.AttemptSubmitted,
			"submitted_at":       attempt.SubmittedAt,
			"correct_answers":    attempt.CorrectAnswers,
			"total_questions":    attempt.TotalQuestions,
			"score":              attempt.Score,
			"time_spent_seconds": attempt.TimeSpentSeconds,
		})
	if res.Error != nil {
		return util.ClassifyStoreError(res.Error)
	}
	if res.RowsAffected == 0 {
		return util.ErrAttemptAlreadySubmitted
	}
	return nil
}

func (r *AttemptRepository) CreateAnswers(ctx context.Context, answers []model.Answer) error {
	if len(answers) == 0 {
		return nil
	}
	return util.ClassifyStoreError(r.DB.WithContext(ctx).CreateInBatches(answers, 200).Error)
}

// ListSubmissionTimes 用户所有已提交尝试的提交时间
func (r *AttemptRepository) ListSubmissionTimes(ctx context.Context, userID uint) ([]time.Time, error) {
	var times []time.Time
	err := r.DB.WithContext(ctx).Model(&model.Attempt{}).
		Where("user_id = ? AND status = ? AND submitted_at IS NOT NULL", userID, model.AttemptSubmitted).
		Order("submitted_at ASC").
		Pluck("submitted_at", &times).Error
	if err != nil {
		return nil, util.ClassifyStoreError(err)
	}
	return times, nil
}

// ListRecentSubmittedIDs 最近 limit 次已提交尝试的 ID，按提交时间倒序
func (r *AttemptRepository) ListRecentSubmittedIDs(ctx context.Context, userID uint, limit int) ([]uint, error) {
	var ids []uint
	err := r.DB.WithContext(ctx).Model(&model.Attempt{}).
		Where("user_id = ? AND status = ?", userID, model.AttemptSubmitted).
		Order("submitted_at DESC").Order("id DESC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, util.ClassifyStoreError(err)
	}
	return ids, nil
}

// ListAnswersByAttempts 指定尝试下的全部作答
func (r *AttemptRepository) ListAnswersByAttempts(ctx context.Context, attemptIDs []uint) ([]model.Answer, error) {
	var answers []model.Answer
	if len(attemptIDs) == 0 {
		return answers, nil
	}
	err := r.DB.WithContext(ctx).
		Where("attempt_id IN ?", attemptIDs).
		Order("id DESC").
		Find(&answers).Error
	if err != nil {
		return nil, util.ClassifyStoreError(err)
	}
	return answers, nil
}

// FindQuestionSections 题目 → 章节映射，用于提交时补全作答的章节
func (r *AttemptRepository) FindQuestionSections(ctx context.Context, questionIDs []uint) (map[uint]uint, error) {
	result := make(map[uint]uint, len(questionIDs))
	if len(questionIDs) == 0 {
		return result, nil
	}
	var questions []model.Question
	if err := r.DB.WithContext(ctx).Where("id IN ?", questionIDs).Find(&questions).Error; err != nil {
		return nil, util.ClassifyStoreError(err)
	}
	for _, q := range questions {
		result[q.ID] = q.SectionID
	}
	return result, nil
}
