package models

import "time"

// Like records that a user liked a cause. One row per (user, cause).
type Like struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_like_user_cause" json:"userId"`
	CauseID   uint      `gorm:"not null;uniqueIndex:idx_like_user_cause;index" json:"causeId"`
	Cause     Cause     `gorm:"foreignKey:CauseID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
}
