package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CauseStatus is the lifecycle state of a fundraising cause.
type CauseStatus string

const (
	CauseOpen   CauseStatus = "open"
	CauseClosed CauseStatus = "closed"
)

// CanTransitionTo reports whether s may move to next. Open -> Closed is the
// only allowed transition; Closed is terminal.
func (s CauseStatus) CanTransitionTo(next CauseStatus) bool {
	return s == CauseOpen && next == CauseClosed
}

// Cause is a fundraising campaign. Raised always equals the sum of the
// committed donations for the cause and only moves through the ledger.
type Cause struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Photo       string    `gorm:"size:512" json:"photo,omitempty"`
	// Goal <= 0 means unbounded: the cause never closes automatically.
	Goal      decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"goal"`
	Raised    decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"raised"`
	Status    CauseStatus     `gorm:"size:16;not null;default:open;index" json:"status"`
	EndDate   *time.Time      `json:"endDate,omitempty"`
	CreatorID uint            `gorm:"index;not null" json:"creatorId"`
}

// IsOpen reports whether the cause still accepts donations.
func (c *Cause) IsOpen() bool {
	return c.Status == CauseOpen
}
