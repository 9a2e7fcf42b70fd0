package dashboard

import (
	"context"
	"time"

	"github.com/zulandar/motorpool/internal/fleet"
	"github.com/zulandar/motorpool/internal/models"
	"github.com/zulandar/motorpool/internal/workflow"
	"gorm.io/gorm"
)

// RequestRow is the API view of a request.
type RequestRow struct {
	Code          string     `json:"code"`
	Status        string     `json:"status"`
	StatusLabel   string     `json:"status_label"`
	Requester     string     `json:"requester"`
	NeedAt        string     `json:"need_at"`
	Reason        string     `json:"reason"`
	Inspector     string     `json:"inspector,omitempty"`
	Vehicle       string     `json:"vehicle,omitempty"`
	Authorizer    string     `json:"authorizer,omitempty"`
	RadioOperator string     `json:"radio_operator,omitempty"`
	StartOdometer *int64     `json:"start_odometer,omitempty"`
	EndOdometer   *int64     `json:"end_odometer,omitempty"`
	Distance      *int64     `json:"distance,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

func toRequestRow(r models.Request, loc *time.Location) RequestRow {
	row := RequestRow{
		Code:          r.Code,
		Status:        r.Status,
		StatusLabel:   workflow.StatusLabel(r.Status),
		Requester:     r.RequesterName,
		NeedAt:        r.NeedAt.In(loc).Format(workflow.DisplayLayout),
		Reason:        r.Reason,
		Inspector:     r.InspectorName,
		Vehicle:       r.VehiclePrefix,
		Authorizer:    r.AuthorizerName,
		RadioOperator: r.OperatorName,
		StartOdometer: r.StartOdometer.Ptr(),
		EndOdometer:   r.EndOdometer.Ptr(),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		FinishedAt:    r.FinishedAt,
	}
	if d, ok := r.Distance(); ok {
		row.Distance = &d
	}
	return row
}

// VehicleRow is the API view of a vehicle.
type VehicleRow struct {
	ID          uint   `json:"id"`
	Prefix      string `json:"prefix"`
	Name        string `json:"name"`
	Model       string `json:"model"`
	Plate       string `json:"plate"`
	Odometer    int64  `json:"odometer"`
	Status      string `json:"status"`
	StatusLabel string `json:"status_label"`
}

func toVehicleRow(v models.Vehicle) VehicleRow {
	return VehicleRow{
		ID:          v.ID,
		Prefix:      v.Prefix,
		Name:        v.Name,
		Model:       v.Model,
		Plate:       v.Plate,
		Odometer:    v.Odometer,
		Status:      v.Status,
		StatusLabel: fleet.StatusLabel(v.Status),
	}
}

// Stats summarizes requests and the fleet.
type Stats struct {
	Requests      []workflow.StatusCount `json:"requests"`
	TotalRequests int64                  `json:"total_requests"`
	Vehicles      []workflow.StatusCount `json:"vehicles"`
	TotalVehicles int64                  `json:"total_vehicles"`
	Available     int64                  `json:"available"`
}

// LoadStats counts requests and vehicles by status.
func LoadStats(ctx context.Context, db *gorm.DB) (Stats, error) {
	reqs, err := workflow.CountByStatus(ctx, db)
	if err != nil {
		return Stats{}, err
	}
	var vehicles []workflow.StatusCount
	if err := db.WithContext(ctx).Model(&models.Vehicle{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Order("status").
		Scan(&vehicles).Error; err != nil {
		return Stats{}, err
	}

	s := Stats{Requests: reqs, Vehicles: vehicles}
	for _, c := range reqs {
		s.TotalRequests += c.Count
	}
	for _, c := range vehicles {
		s.TotalVehicles += c.Count
		if c.Status == models.VehicleAvailable {
			s.Available = c.Count
		}
	}
	return s, nil
}

// RequestsUpdatedSince returns requests changed after since, oldest first.
func RequestsUpdatedSince(ctx context.Context, db *gorm.DB, since time.Time) ([]models.Request, error) {
	var reqs []models.Request
	err := db.WithContext(ctx).
		Where("updated_at > ?", since).
		Order("updated_at ASC").
		Find(&reqs).Error
	return reqs, err
}
