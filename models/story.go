package models

import "time"

// Story is a narrative record shown on the success stories page.
type Story struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
	// CauseID is the originating cause; kept for traceability only, no FK.
	CauseID *uint `gorm:"index" json:"causeId,omitempty"`
	// ClosureCauseID is set only on the story generated when a cause closes.
	// The unique index allows at most one such story per cause.
	ClosureCauseID *uint   `gorm:"uniqueIndex" json:"-"`
	Title          string  `gorm:"size:255;not null" json:"title"`
	AuthorName     string  `gorm:"size:255;not null" json:"name"`
	Text           string  `gorm:"type:text;not null" json:"story"`
	Image          *string `gorm:"size:512" json:"image,omitempty"`
	Video          *string `gorm:"size:512" json:"video,omitempty"`
	Approved       bool    `gorm:"not null;index" json:"approved"`
}

// IsGoalStory reports whether the story was generated by a cause closure.
func (s *Story) IsGoalStory() bool {
	return s.ClosureCauseID != nil
}
