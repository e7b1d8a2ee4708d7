package model

import "time"

// UserEntitlement 计费系统同步过来的权益读模型
type UserEntitlement struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint       `gorm:"uniqueIndex;type:bigint unsigned;not null" json:"userId"`
	Plan        string     `gorm:"type:varchar(32);not null;default:free" json:"plan"`
	IsUnlimited bool       `gorm:"not null;default:false" json:"isUnlimited"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (UserEntitlement) TableName() string {
	return "user_entitlements"
}

// Active 在 now 时刻是否享有无限额度
func (e *UserEntitlement) Active(now time.Time) bool {
	if e == nil || !e.IsUnlimited {
		return false
	}
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}
