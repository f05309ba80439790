package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Donation is one immutable contribution. Rows are only ever inserted by the ledger.
type Donation struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time       `gorm:"index" json:"timestamp"`
	CauseID   uint            `gorm:"index;not null" json:"causeId"`
	Cause     Cause           `gorm:"foreignKey:CauseID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	UserID    *uint           `gorm:"index" json:"userId,omitempty"`
	DonorName string          `gorm:"size:255;not null" json:"donorName"`
	Amount    decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	Message   *string         `gorm:"type:text" json:"message"`
	Place     *string         `gorm:"size:255" json:"place"`
}
