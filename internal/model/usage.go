package model

import "time"

type ResourceKind string

const (
	ResourceMockTest         ResourceKind = "mock_test"
	ResourcePracticeQuestion ResourceKind = "practice_question"
)

// UsageCounter 免费额度计数，按 (用户, 资源, 周期键) 唯一，周期键变化即视为新周期
type UsageCounter struct {
	ID            uint         `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID        uint         `gorm:"uniqueIndex:idx_usage_user_kind_period;type:bigint unsigned;not null" json:"userId"`
	ResourceKind  ResourceKind `gorm:"uniqueIndex:idx_usage_user_kind_period;type:varchar(32);not null" json:"resourceKind"`
	PeriodKey     string       `gorm:"uniqueIndex:idx_usage_user_kind_period;type:varchar(16);not null" json:"periodKey"`
	ConsumedCount int          `gorm:"not null;default:0" json:"consumedCount"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

func (UsageCounter) TableName() string {
	return "usage_counters"
}

// QuotaDecision 额度判定
type QuotaDecision struct {
	ResourceKind ResourceKind `json:"resourceKind"`
	CanConsume   bool         `json:"canConsume"`
	Remaining    int          `json:"remaining"`
	Cap          int          `json:"cap"`
	IsUnlimited  bool         `json:"isUnlimited"`
}

// RemainingUsage 剩余免费额度，无限用户的 Remaining 为 -1
type RemainingUsage struct {
	MockTests         int  `json:"mockTests"`
	PracticeQuestions int  `json:"practiceQuestions"`
	IsUnlimited       bool `json:"isUnlimited"`
}
