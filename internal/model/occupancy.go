package model

import (
	"time"
)

// Outcome records how an occupancy ended.
type Outcome string

const (
	OutcomeFinished Outcome = "finished"
	OutcomeFailed   Outcome = "failed"
	// OutcomeReplaced is used when a new start arrives while someone else still holds the machine.
	OutcomeReplaced Outcome = "replaced"
)

// OccupancyOpen is the current holder of a machine (hot table).
type OccupancyOpen struct {
	MachineID  string    `gorm:"primaryKey;size:64"`
	OperatorID int64     `gorm:"not null"`
	StartedAt  time.Time `gorm:"not null"`

	// Associations
	Operator Operator `gorm:"constraint:OnDelete:CASCADE"`
}

// OccupancyHistory is the log of finished occupancies (cold table).
type OccupancyHistory struct {
	ID          int64     `gorm:"primaryKey"`
	MachineID   string    `gorm:"size:64;not null;index"`
	OperatorID  int64     `gorm:"not null;index"`
	Outcome     Outcome   `gorm:"size:16;not null"`
	PeriodStart time.Time `gorm:"not null"`
	PeriodEnd   time.Time `gorm:"not null;index"`

	// Associations
	Operator Operator `gorm:"constraint:OnDelete:CASCADE"`
}
