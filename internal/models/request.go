package models

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

// Request statuses. finalized, denied and cancelled are terminal.
const (
	StatusAwaitingInspection    = "awaiting_inspection"
	StatusInInspection          = "in_inspection"
	StatusAwaitingAuthorization = "awaiting_authorization"
	StatusAuthorized            = "authorized"
	StatusDenied                = "denied"
	StatusDelivered             = "delivered"
	StatusInUse                 = "in_use"
	StatusFinalized             = "finalized"
	StatusCancelled             = "cancelled"
)

// Request is a vehicle request moving through the approval pipeline. Rows are
// never deleted; the table doubles as the audit trail.
type Request struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	Code          string    `gorm:"size:16;uniqueIndex;not null"`
	Seq           int       `gorm:"not null;index"`
	RequesterID   string    `gorm:"size:64;not null;index"`
	RequesterName string    `gorm:"size:128"`
	RequesterChat string    `gorm:"size:64"`
	NeedAt        time.Time `gorm:"not null"`
	Reason        string    `gorm:"type:text"`
	Status        string    `gorm:"size:32;default:awaiting_inspection;index"`

	InspectorID    string `gorm:"size:64"`
	InspectorName  string `gorm:"size:128"`
	VehicleID      *uint  `gorm:"index"`
	VehiclePrefix  string `gorm:"size:32"`
	VehicleName    string `gorm:"size:128"`
	AuthorizerID   string `gorm:"size:64"`
	AuthorizerName string `gorm:"size:128"`
	OperatorID     string `gorm:"size:64"`
	OperatorName   string `gorm:"size:128"`

	StartOdometer null.Int `gorm:"type:bigint"`
	EndOdometer   null.Int `gorm:"type:bigint"`

	CreatedAt   time.Time
	UpdatedAt   time.Time
	InspectedAt *time.Time
	DecidedAt   *time.Time
	DeliveredAt *time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	CancelledAt *time.Time
}

// Distance returns the kilometres travelled, valid only once both odometer
// readings are recorded.
func (r *Request) Distance() (int64, bool) {
	if !r.StartOdometer.Valid || !r.EndOdometer.Valid {
		return 0, false
	}
	return r.EndOdometer.Int64 - r.StartOdometer.Int64, true
}
