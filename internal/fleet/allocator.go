package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/motorpool/internal/models"
	"gorm.io/gorm"
)

// Allocator reserves vehicles for requests. The vehicle row lock is held only
// for the read-check-write; nothing in the transaction touches the network.
type Allocator struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAllocator returns an Allocator backed by gdb.
func NewAllocator(gdb *gorm.DB) (*Allocator, error) {
	if gdb == nil {
		return nil, fmt.Errorf("fleet: db is required")
	}
	return &Allocator{db: gdb, now: time.Now}, nil
}

// ReserveOpts identifies the request, the chosen vehicle and the inspector
// who must currently hold the request.
type ReserveOpts struct {
	Code        string
	VehicleID   uint
	InspectorID string
}

// Reservation is the committed result of a successful Reserve.
type Reservation struct {
	Vehicle models.Vehicle
	Request models.Request
}

// Reserve marks the vehicle reserved and moves the request to
// awaiting_authorization in one transaction. A vehicle that is not available
// yields ErrUnavailable; a request not in_inspection under InspectorID yields
// ErrConflict. Of concurrent callers for the same vehicle exactly one wins.
func (a *Allocator) Reserve(ctx context.Context, opts ReserveOpts) (*Reservation, error) {
	if opts.Code == "" {
		return nil, fmt.Errorf("fleet: request code is required")
	}
	if opts.InspectorID == "" {
		return nil, fmt.Errorf("fleet: inspector is required")
	}

	var res Reservation
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := Lock(tx, opts.VehicleID)
		if err != nil {
			return err
		}
		if v.Status != models.VehicleAvailable {
			return ErrUnavailable
		}

		result := tx.Model(&models.Vehicle{}).
			Where("id = ? AND status = ?", v.ID, models.VehicleAvailable).
			Update("status", models.VehicleReserved)
		if result.Error != nil {
			return fmt.Errorf("fleet: reserve vehicle %s: %w", v.Prefix, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrUnavailable
		}
		v.Status = models.VehicleReserved

		now := a.now()
		result = tx.Model(&models.Request{}).
			Where("code = ? AND status = ? AND inspector_id = ?", opts.Code, models.StatusInInspection, opts.InspectorID).
			Updates(map[string]interface{}{
				"status":         models.StatusAwaitingAuthorization,
				"vehicle_id":     v.ID,
				"vehicle_prefix": v.Prefix,
				"vehicle_name":   v.Name,
				"inspected_at":   now,
			})
		if result.Error != nil {
			return fmt.Errorf("fleet: attach vehicle to %s: %w", opts.Code, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrConflict
		}

		if err := tx.Where("code = ?", opts.Code).First(&res.Request).Error; err != nil {
			return fmt.Errorf("fleet: reload request %s: %w", opts.Code, err)
		}
		res.Vehicle = v
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("fleet: reserve for %s: %w", opts.Code, err)
	}
	return &res, nil
}

// Release returns a vehicle to available inside the caller's transaction.
// With from given, only a vehicle currently in one of those statuses is
// touched. It reports whether a row changed.
func Release(tx *gorm.DB, vehicleID uint, from ...string) (bool, error) {
	q := tx.Model(&models.Vehicle{}).Where("id = ?", vehicleID)
	if len(from) > 0 {
		q = q.Where("status IN ?", from)
	}
	result := q.Update("status", models.VehicleAvailable)
	if result.Error != nil {
		return false, fmt.Errorf("fleet: release vehicle %d: %w", vehicleID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Occupy moves a reserved vehicle to in-use and records its odometer, inside
// the caller's transaction.
func Occupy(tx *gorm.DB, vehicleID uint, odometer int64) error {
	result := tx.Model(&models.Vehicle{}).
		Where("id = ? AND status = ?", vehicleID, models.VehicleReserved).
		Updates(map[string]interface{}{"status": models.VehicleInUse, "odometer": odometer})
	if result.Error != nil {
		return fmt.Errorf("fleet: occupy vehicle %d: %w", vehicleID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUnavailable
	}
	return nil
}

// Return moves an in-use vehicle back to available with its final odometer,
// inside the caller's transaction.
func Return(tx *gorm.DB, vehicleID uint, odometer int64) error {
	result := tx.Model(&models.Vehicle{}).
		Where("id = ? AND status = ?", vehicleID, models.VehicleInUse).
		Updates(map[string]interface{}{"status": models.VehicleAvailable, "odometer": odometer})
	if result.Error != nil {
		return fmt.Errorf("fleet: return vehicle %d: %w", vehicleID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUnavailable
	}
	return nil
}
