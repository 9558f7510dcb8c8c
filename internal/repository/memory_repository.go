// internal/repository/memory_repository.go
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scope-service/internal/model"
)

// memoryRepository keeps capture records in process when no database is
// configured. Records are lost on restart.
type memoryRepository struct {
	mu       sync.RWMutex
	captures map[uuid.UUID]*model.Capture
	logger   *zap.Logger
}

// NewMemoryCaptureRepository creates an in-process capture repository
func NewMemoryCaptureRepository(logger *zap.Logger) CaptureRepository {
	return &memoryRepository{
		captures: make(map[uuid.UUID]*model.Capture),
		logger:   logger,
	}
}

func copyCapture(c *model.Capture) *model.Capture {
	out := *c
	out.Channels = append([]int(nil), c.Channels...)
	if c.Metadata != nil {
		out.Metadata = make(model.JSONObject, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func (r *memoryRepository) Create(ctx context.Context, c *model.Capture) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.captures[c.ID]; exists {
		return fmt.Errorf("failed to create capture: duplicate id %s", c.ID)
	}
	r.captures[c.ID] = copyCapture(c)
	return nil
}

func (r *memoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Capture, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.captures[id]
	if !ok {
		return nil, fmt.Errorf("capture %s: %w", id, ErrNotFound)
	}
	return copyCapture(c), nil
}

func (r *memoryRepository) Update(ctx context.Context, c *model.Capture) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.captures[c.ID]; !ok {
		return fmt.Errorf("capture %s: %w", c.ID, ErrNotFound)
	}
	r.captures[c.ID] = copyCapture(c)
	return nil
}

func (r *memoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.captures[id]; !ok {
		return fmt.Errorf("capture %s: %w", id, ErrNotFound)
	}
	delete(r.captures, id)
	return nil
}

func (r *memoryRepository) List(ctx context.Context, filter *CaptureFilter) ([]*model.Capture, int, error) {
	if filter == nil {
		filter = &CaptureFilter{}
	}
	filter.Normalize()

	r.mu.RLock()
	var matched []*model.Capture
	for _, c := range r.captures {
		if filter.matches(c) {
			matched = append(matched, copyCapture(c))
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	total := len(matched)
	start := min((filter.Page-1)*filter.PerPage, total)
	end := min(start+filter.PerPage, total)
	return matched[start:end], total, nil
}

func (r *memoryRepository) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for id, c := range r.captures {
		if c.StartedAt.Before(olderThan) {
			delete(r.captures, id)
			removed++
		}
	}

	if removed > 0 {
		r.logger.Info("Deleted old captures", zap.Int64("rows_deleted", removed))
	}
	return removed, nil
}
