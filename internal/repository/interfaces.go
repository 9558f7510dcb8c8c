// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"scope-service/internal/model"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// CaptureRepository defines capture metadata access operations
type CaptureRepository interface {
	Create(ctx context.Context, capture *model.Capture) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Capture, error)
	Update(ctx context.Context, capture *model.Capture) error
	Delete(ctx context.Context, id uuid.UUID) error

	List(ctx context.Context, filter *CaptureFilter) ([]*model.Capture, int, error)

	// Cleanup
	DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
}

// CaptureFilter represents capture listing filters
type CaptureFilter struct {
	SessionID *uuid.UUID           `json:"session_id,omitempty"`
	Model     *string              `json:"model,omitempty"`
	Status    *model.CaptureStatus `json:"status,omitempty"`
	StartDate *time.Time           `json:"start_date,omitempty"`
	EndDate   *time.Time           `json:"end_date,omitempty"`
	Page      int                  `json:"page"`
	PerPage   int                  `json:"per_page"`
}

// Normalize applies the paging defaults
func (f *CaptureFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}
}

func (f *CaptureFilter) matches(c *model.Capture) bool {
	if f.SessionID != nil && c.SessionID != *f.SessionID {
		return false
	}
	if f.Model != nil && c.Model != *f.Model {
		return false
	}
	if f.Status != nil && c.Status != *f.Status {
		return false
	}
	if f.StartDate != nil && c.StartedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && c.StartedAt.After(*f.EndDate) {
		return false
	}
	return true
}
