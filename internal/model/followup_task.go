package model

import "time"

type FollowUpStatus string

const (
	FollowUpQueued  FollowUpStatus = "queued"
	FollowUpRunning FollowUpStatus = "running"
	FollowUpDone    FollowUpStatus = "done"
	FollowUpFailed  FollowUpStatus = "failed"
)

// FollowUpTask 提交后的异步后续任务（连续天数、薄弱章节、复习计划），每个 attempt 一条
type FollowUpTask struct {
	UUIDBase
	UserID    uint           `gorm:"index;type:bigint unsigned;not null" json:"userId"`
	AttemptID uint           `gorm:"uniqueIndex;type:bigint unsigned;not null" json:"attemptId"`
	Status    FollowUpStatus `gorm:"index;type:varchar(16);not null" json:"status"`
	Attempts  int            `gorm:"not null;default:0" json:"attempts"`
	LastError string         `gorm:"type:text" json:"lastError,omitempty"`
	DoneAt    *time.Time     `json:"doneAt,omitempty"`
}

func (FollowUpTask) TableName() string {
	return "followup_tasks"
}
