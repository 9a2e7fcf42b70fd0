package models

import "time"

// SessionRecord persists one user's conversational session. Payload holds the
// JSON encoding of the step-specific state named by Step.
type SessionRecord struct {
	UserID      string `gorm:"primaryKey;size:64"`
	Step        string `gorm:"size:48;not null"`
	ChatID      string `gorm:"size:64"`
	RequestCode string `gorm:"size:16"`
	Payload     string `gorm:"type:text"`
	UpdatedAt   time.Time
}

// TableName keeps the table name short and stable.
func (SessionRecord) TableName() string { return "sessions" }
