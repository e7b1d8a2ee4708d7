package model

import "time"

// StreakState 连续练习快照，每次提交后整体重算
// swagger:model StreakState
type StreakState struct {
	ID                uint       `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID            uint       `gorm:"uniqueIndex;type:bigint unsigned;not null" json:"userId"`
	CurrentStreakDays int        `gorm:"not null;default:0" json:"currentStreakDays"`
	LongestStreakDays int        `gorm:"not null;default:0" json:"longestStreakDays"`
	LastPracticeDate  *time.Time `gorm:"type:date" json:"lastPracticeDate,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

func (StreakState) TableName() string {
	return "streak_states"
}

// PracticeCalendar 最近 N 天的练习日历
type PracticeCalendar struct {
	Days          int      `json:"days"`
	PracticeDates []string `json:"practiceDates"`
}
