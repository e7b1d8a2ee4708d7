package model

import "time"

type WeakSectionStatus string

const (
	WeakSectionWeak      WeakSectionStatus = "weak"
	WeakSectionRecovered WeakSectionStatus = "recovered"
)

// WeakSection 用户在某章节上的薄弱状态，恢复后保留记录
// swagger:model WeakSection
type WeakSection struct {
	ID          uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint              `gorm:"uniqueIndex:idx_weak_user_section;type:bigint unsigned;not null" json:"userId"`
	SectionID   uint              `gorm:"uniqueIndex:idx_weak_user_section;type:bigint unsigned;not null" json:"sectionId"`
	Accuracy    float64           `gorm:"not null;default:0" json:"accuracy"`
	SampleCount int               `gorm:"not null;default:0" json:"sampleCount"`
	Status      WeakSectionStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	LastUpdated time.Time         `gorm:"not null" json:"lastUpdated"`
	CreatedAt   time.Time         `json:"createdAt"`
}

func (WeakSection) TableName() string {
	return "weak_sections"
}
