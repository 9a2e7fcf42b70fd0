package models

import "time"

// User is an enrolled person. ChatUserID links the account to a chat identity
// after the first successful login and is unique once set.
type User struct {
	ID           uint    `gorm:"primaryKey;autoIncrement"`
	CPF          string  `gorm:"size:11;uniqueIndex;not null"`
	Registration string  `gorm:"size:32;uniqueIndex;not null"`
	Name         string  `gorm:"size:128"`
	Role         string  `gorm:"size:24;not null;index"`
	ChatUserID   *string `gorm:"size:64;uniqueIndex"`
	ChatID       string  `gorm:"size:64"`
	Active       bool    `gorm:"default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
