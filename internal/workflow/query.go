package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/motorpool/internal/models"
	"gorm.io/gorm"
)

// Get loads a request by code from the durable store.
func (e *Engine) Get(ctx context.Context, code string) (models.Request, error) {
	return GetRequest(ctx, e.db, code)
}

// GetRequest loads a request by code.
func GetRequest(ctx context.Context, gdb *gorm.DB, code string) (models.Request, error) {
	var req models.Request
	err := gdb.WithContext(ctx).Where("code = ?", code).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Request{}, reject(ErrNotFound, "Request %s not found.", code)
	}
	if err != nil {
		return models.Request{}, fmt.Errorf("workflow: get %s: %w", code, err)
	}
	return req, nil
}

// ListForRequester returns a requester's most recent requests, newest first.
func (e *Engine) ListForRequester(ctx context.Context, userID string, limit int) ([]models.Request, error) {
	return ListRequests(ctx, e.db, ListOpts{RequesterID: userID, Limit: limit})
}

// ListOpts filters ListRequests.
type ListOpts struct {
	RequesterID string
	Statuses    []string
	Limit       int
}

// ListRequests returns requests newest first.
func ListRequests(ctx context.Context, gdb *gorm.DB, opts ListOpts) ([]models.Request, error) {
	q := gdb.WithContext(ctx).Order("seq DESC")
	if opts.RequesterID != "" {
		q = q.Where("requester_id = ?", opts.RequesterID)
	}
	if len(opts.Statuses) > 0 {
		q = q.Where("status IN ?", opts.Statuses)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var reqs []models.Request
	if err := q.Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("workflow: list requests: %w", err)
	}
	return reqs, nil
}

// StatusCount is the number of requests in one status.
type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// CountByStatus groups all requests by status.
func CountByStatus(ctx context.Context, gdb *gorm.DB) ([]StatusCount, error) {
	var out []StatusCount
	err := gdb.WithContext(ctx).Model(&models.Request{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Order("status").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("workflow: count by status: %w", err)
	}
	return out, nil
}
