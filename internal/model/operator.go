package model

import "time"

// Operator is a registered person who can claim the machine.
type Operator struct {
	ID             int64   `gorm:"primaryKey"`
	Username       string  `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash   string  `gorm:"size:128;not null"`
	DisplayName    string  `gorm:"size:128;not null"`
	EmailAddress   string  `gorm:"size:256"`
	PhoneNumber    string  `gorm:"size:64"`
	TwitterHandle  string  `gorm:"size:64"`
	MastodonHandle string  `gorm:"size:128"`
	KeyfobID       *string `gorm:"uniqueIndex;size:64"` // Optional, unique when set
	PrintInPrivate bool    `gorm:"not null;default:false"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Label returns the name to show other viewers.
func (o Operator) Label() string {
	if o.DisplayName != "" {
		return o.DisplayName
	}
	return o.Username
}
