package models

import "time"

// Vehicle statuses.
const (
	VehicleAvailable        = "available"
	VehicleReserved         = "reserved"
	VehicleInUse            = "in-use"
	VehicleLentOut          = "lent-out"
	VehicleDecommissioned   = "decommissioned"
	VehicleOnHold           = "on-hold"
	VehicleUnderMaintenance = "under-maintenance"
)

// Vehicle is a fleet vehicle, the contended resource of the workflow.
type Vehicle struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Prefix    string `gorm:"size:32;uniqueIndex;not null"`
	Name      string `gorm:"size:128;not null"`
	Model     string `gorm:"size:128"`
	Plate     string `gorm:"size:16"`
	Odometer  int64  `gorm:"not null;default:0"`
	Status    string `gorm:"size:24;default:available;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
