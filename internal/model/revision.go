package model

import "time"

type RevisionStatus string

const (
	RevisionPending   RevisionStatus = "pending"
	RevisionCompleted RevisionStatus = "completed"
	RevisionSkipped   RevisionStatus = "skipped"
	RevisionExpired   RevisionStatus = "expired"
)

// RevisionEntry 某一天的一次复习安排，可合并多个章节
// swagger:model RevisionEntry
type RevisionEntry struct {
	ID            uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        uint           `gorm:"index:idx_revision_user_status;type:bigint unsigned;not null" json:"userId"`
	ScheduledDate time.Time      `gorm:"type:date;not null;index" json:"scheduledDate"`
	Status        RevisionStatus `gorm:"index:idx_revision_user_status;type:varchar(16);not null" json:"status"`
	IntervalIndex int            `gorm:"not null;default:0" json:"intervalIndex"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
	Items         []RevisionItem `gorm:"foreignKey:EntryID" json:"items"`
	SectionIDs    []uint         `gorm:"-" json:"sectionIds"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

func (RevisionEntry) TableName() string {
	return "revision_entries"
}

// RevisionItem 复习安排中的单个章节及其所处阶梯位置。
// PendingSectionID 仅在 pending 时等于 SectionID，其余状态为 NULL，
// 借 (user_id, pending_section_id) 唯一索引保证每个章节至多一个 pending 条目。
type RevisionItem struct {
	ID               uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryID          uint           `gorm:"index;type:bigint unsigned;not null" json:"entryId"`
	UserID           uint           `gorm:"index:idx_revision_item_user_section;uniqueIndex:uniq_revision_item_pending,priority:1;type:bigint unsigned;not null" json:"userId"`
	SectionID        uint           `gorm:"index:idx_revision_item_user_section;type:bigint unsigned;not null" json:"sectionId"`
	PendingSectionID *uint          `gorm:"uniqueIndex:uniq_revision_item_pending,priority:2;type:bigint unsigned" json:"-"`
	IntervalIndex    int            `gorm:"not null;default:0" json:"intervalIndex"`
	ScheduledDate    time.Time      `gorm:"type:date;not null" json:"scheduledDate"`
	Status           RevisionStatus `gorm:"type:varchar(16);not null" json:"status"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}


func (RevisionItem) TableName() string {
	return "revision_items"
}

// FillSectionIDs 根据 Items 填充 SectionIDs
func (e *RevisionEntry) FillSectionIDs() {
	e.SectionIDs = make([]uint, 0, len(e.Items))
	for _, item := range e.Items {
		e.SectionIDs = append(e.SectionIDs, item.SectionID)
	}
}
