// Package fleet manages vehicles: registration, listings, manual status
// changes, and the transactional reservation of a vehicle for a request.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/zulandar/motorpool/internal/db"
	"github.com/zulandar/motorpool/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalid         = errors.New("fleet: invalid input")
	ErrNotFound        = errors.New("fleet: vehicle not found")
	ErrDuplicatePrefix = errors.New("fleet: prefix already registered")
	ErrSameStatus      = errors.New("fleet: vehicle already has that status")
	ErrManagedStatus   = errors.New("fleet: status is managed by the request workflow")
	ErrActiveRequest   = errors.New("fleet: vehicle is bound to an active request")
	ErrUnavailable     = errors.New("fleet: vehicle unavailable")
	ErrConflict        = errors.New("fleet: request is no longer awaiting a vehicle from this inspector")
)

// Statuses lists every vehicle status in display order.
var Statuses = []string{
	models.VehicleAvailable,
	models.VehicleReserved,
	models.VehicleInUse,
	models.VehicleLentOut,
	models.VehicleDecommissioned,
	models.VehicleOnHold,
	models.VehicleUnderMaintenance,
}

// ManualStatuses are the statuses an operator may assign directly.
var ManualStatuses = []string{
	models.VehicleAvailable,
	models.VehicleLentOut,
	models.VehicleDecommissioned,
	models.VehicleOnHold,
	models.VehicleUnderMaintenance,
}

var statusLabels = map[string]string{
	models.VehicleAvailable:        "Available",
	models.VehicleReserved:         "Reserved",
	models.VehicleInUse:            "In use",
	models.VehicleLentOut:          "Lent out",
	models.VehicleDecommissioned:   "Decommissioned",
	models.VehicleOnHold:           "On hold",
	models.VehicleUnderMaintenance: "Under maintenance",
}

// StatusLabel returns a display label for a vehicle status.
func StatusLabel(status string) string {
	if l, ok := statusLabels[status]; ok {
		return l
	}
	return "Unknown"
}

// ValidStatus reports whether status is a known vehicle status.
func ValidStatus(status string) bool {
	_, ok := statusLabels[status]
	return ok
}

// managed statuses imply an active request and are only set by the Allocator
// and the odometer steps.
func managed(status string) bool {
	return status == models.VehicleReserved || status == models.VehicleInUse
}

// Store reads and writes vehicles.
type Store struct {
	db *gorm.DB
}

// NewStore returns a Store backed by gdb.
func NewStore(gdb *gorm.DB) (*Store, error) {
	if gdb == nil {
		return nil, fmt.Errorf("fleet: db is required")
	}
	return &Store{db: gdb}, nil
}

// Register validates and inserts a new vehicle.
func (s *Store) Register(ctx context.Context, v models.Vehicle) (models.Vehicle, error) {
	var err error
	if v.Prefix, err = NormalizePrefix(v.Prefix); err != nil {
		return models.Vehicle{}, err
	}
	if v.Name, err = ValidateName(v.Name); err != nil {
		return models.Vehicle{}, err
	}
	if v.Model, err = ValidateModel(v.Model); err != nil {
		return models.Vehicle{}, err
	}
	if v.Plate, err = NormalizePlate(v.Plate); err != nil {
		return models.Vehicle{}, err
	}
	if v.Odometer < 0 {
		return models.Vehicle{}, fmt.Errorf("%w: odometer cannot be negative", ErrInvalid)
	}
	if v.Status == "" {
		v.Status = models.VehicleAvailable
	}
	if !ValidStatus(v.Status) || managed(v.Status) {
		return models.Vehicle{}, fmt.Errorf("%w: initial status %q", ErrInvalid, v.Status)
	}

	if err := s.db.WithContext(ctx).Create(&v).Error; err != nil {
		if db.IsDuplicateKey(err) {
			return models.Vehicle{}, ErrDuplicatePrefix
		}
		return models.Vehicle{}, fmt.Errorf("fleet: register %s: %w", v.Prefix, err)
	}
	return v, nil
}

// PrefixTaken reports whether a vehicle with the normalized prefix exists.
func (s *Store) PrefixTaken(ctx context.Context, prefix string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Vehicle{}).Where("prefix = ?", prefix).Count(&n).Error; err != nil {
		return false, fmt.Errorf("fleet: check prefix %s: %w", prefix, err)
	}
	return n > 0, nil
}

// Get loads a vehicle by id.
func (s *Store) Get(ctx context.Context, id uint) (models.Vehicle, error) {
	var v models.Vehicle
	err := s.db.WithContext(ctx).First(&v, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Vehicle{}, ErrNotFound
	}
	if err != nil {
		return models.Vehicle{}, fmt.Errorf("fleet: get vehicle %d: %w", id, err)
	}
	return v, nil
}

// GetByPrefix loads a vehicle by its prefix, case-insensitively.
func (s *Store) GetByPrefix(ctx context.Context, prefix string) (models.Vehicle, error) {
	var v models.Vehicle
	err := s.db.WithContext(ctx).Where("prefix = ?", strings.ToUpper(strings.TrimSpace(prefix))).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Vehicle{}, ErrNotFound
	}
	if err != nil {
		return models.Vehicle{}, fmt.Errorf("fleet: get vehicle %s: %w", prefix, err)
	}
	return v, nil
}

// List returns every vehicle ordered by prefix.
func (s *Store) List(ctx context.Context) ([]models.Vehicle, error) {
	var vs []models.Vehicle
	if err := s.db.WithContext(ctx).Order("prefix").Find(&vs).Error; err != nil {
		return nil, fmt.Errorf("fleet: list vehicles: %w", err)
	}
	return vs, nil
}

// ListAvailable returns vehicles that can be reserved right now.
func (s *Store) ListAvailable(ctx context.Context) ([]models.Vehicle, error) {
	var vs []models.Vehicle
	err := s.db.WithContext(ctx).
		Where("status = ?", models.VehicleAvailable).
		Order("prefix").
		Find(&vs).Error
	if err != nil {
		return nil, fmt.Errorf("fleet: list available vehicles: %w", err)
	}
	return vs, nil
}

// SetStatus changes a vehicle's status by hand. Reserved and in-use are
// rejected, as is any change to a vehicle an active request holds.
func (s *Store) SetStatus(ctx context.Context, id uint, status string) (before models.Vehicle, err error) {
	if !ValidStatus(status) {
		return models.Vehicle{}, fmt.Errorf("%w: status %q", ErrInvalid, status)
	}
	if managed(status) {
		return models.Vehicle{}, ErrManagedStatus
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := Lock(tx, id)
		if err != nil {
			return err
		}
		before = v
		if v.Status == status {
			return ErrSameStatus
		}
		if managed(v.Status) {
			return ErrActiveRequest
		}
		var active int64
		if err := tx.Model(&models.Request{}).
			Where("vehicle_id = ? AND status IN ?", id, ActiveRequestStatuses).
			Count(&active).Error; err != nil {
			return fmt.Errorf("fleet: check active requests for %d: %w", id, err)
		}
		if active > 0 {
			return ErrActiveRequest
		}
		result := tx.Model(&models.Vehicle{}).
			Where("id = ? AND status = ?", id, v.Status).
			Update("status", status)
		if result.Error != nil {
			return fmt.Errorf("fleet: set status of %s: %w", v.Prefix, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrActiveRequest
		}
		return nil
	})
	return before, err
}

// ActiveRequestStatuses are the request statuses that hold a vehicle.
var ActiveRequestStatuses = []string{
	models.StatusAwaitingAuthorization,
	models.StatusAuthorized,
	models.StatusDelivered,
	models.StatusInUse,
}

// Lock reads a vehicle row with an exclusive lock held until tx ends.
func Lock(tx *gorm.DB, id uint) (models.Vehicle, error) {
	var v models.Vehicle
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Limit(1).Find(&v)
	if result.Error != nil {
		return models.Vehicle{}, fmt.Errorf("fleet: lock vehicle %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return models.Vehicle{}, ErrNotFound
	}
	return v, nil
}

// NormalizePrefix trims and uppercases a call-sign; at least 3 characters.
func NormalizePrefix(s string) (string, error) {
	p := strings.ToUpper(strings.TrimSpace(s))
	if len(p) < 3 {
		return "", fmt.Errorf("%w: prefix must have at least 3 characters", ErrInvalid)
	}
	return p, nil
}

// ValidateName trims a vehicle name; at least 5 characters.
func ValidateName(s string) (string, error) {
	n := strings.TrimSpace(s)
	if len([]rune(n)) < 5 {
		return "", fmt.Errorf("%w: name must have at least 5 characters", ErrInvalid)
	}
	return n, nil
}

// ValidateModel trims a vehicle model; at least 3 characters.
func ValidateModel(s string) (string, error) {
	m := strings.TrimSpace(s)
	if len([]rune(m)) < 3 {
		return "", fmt.Errorf("%w: model must have at least 3 characters", ErrInvalid)
	}
	return m, nil
}

var plateRe = regexp.MustCompile(`^([A-Z]{3})-?(\d{4})$`)

// NormalizePlate accepts ABC1234 or ABC-1234 in any case and returns ABC-1234.
func NormalizePlate(s string) (string, error) {
	p := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	m := plateRe.FindStringSubmatch(p)
	if m == nil {
		return "", fmt.Errorf("%w: plate must look like ABC-1234", ErrInvalid)
	}
	return m[1] + "-" + m[2], nil
}

var odometerRe = regexp.MustCompile(`^(\d+|\d{1,3}(\.\d{3})+)$`)

// ParseOdometer parses a non-negative whole kilometre reading. Digits may be
// grouped in thousands with dots (45.150); decimals are rejected.
func ParseOdometer(s string) (int64, error) {
	t := strings.TrimSpace(s)
	if !odometerRe.MatchString(t) {
		return 0, fmt.Errorf("%w: odometer must be a whole number of kilometres", ErrInvalid)
	}
	km, err := strconv.ParseInt(strings.ReplaceAll(t, ".", ""), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: odometer must be a whole number of kilometres", ErrInvalid)
	}
	return km, nil
}
