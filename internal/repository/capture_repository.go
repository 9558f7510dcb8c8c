// internal/repository/capture_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scope-service/internal/database"
	"scope-service/internal/model"
)

const captureColumns = `
	id, session_id, model, serial, channel_mask, memory_depth, sample_rate,
	status, data_path, metadata, started_at, completed_at, duration_ms, error_message`

// captureRepository implements CaptureRepository on PostgreSQL
type captureRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewCaptureRepository creates a new capture repository
func NewCaptureRepository(db *database.DB, logger *zap.Logger) CaptureRepository {
	return &captureRepository{
		db:     db,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCapture(row rowScanner) (*model.Capture, error) {
	c := &model.Capture{}
	err := row.Scan(
		&c.ID, &c.SessionID, &c.Model, &c.Serial, &c.ChannelMask, &c.MemoryDepth,
		&c.SampleRate, &c.Status, &c.DataPath, &c.Metadata, &c.StartedAt,
		&c.CompletedAt, &c.DurationMs, &c.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	c.Channels = model.ChannelsFromMask(c.ChannelMask)
	return c, nil
}

// Create creates a new capture record
func (r *captureRepository) Create(ctx context.Context, c *model.Capture) error {
	query := `INSERT INTO captures (` + captureColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.SessionID, c.Model, c.Serial, c.ChannelMask, c.MemoryDepth,
		c.SampleRate, c.Status, c.DataPath, c.Metadata, c.StartedAt,
		c.CompletedAt, c.DurationMs, c.ErrorMessage,
	)
	if err != nil {
		r.logger.Error("Failed to create capture", zap.Error(err))
		return fmt.Errorf("failed to create capture: %w", err)
	}

	return nil
}

// GetByID retrieves a capture by ID
func (r *captureRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Capture, error) {
	query := `SELECT ` + captureColumns + ` FROM captures WHERE id = $1`

	c, err := scanCapture(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("capture %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get capture: %w", err)
	}

	return c, nil
}

// Update stores the completion fields of a capture
func (r *captureRepository) Update(ctx context.Context, c *model.Capture) error {
	query := `
		UPDATE captures SET
			status = $2, data_path = $3, metadata = $4, completed_at = $5,
			duration_ms = $6, error_message = $7
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		c.ID, c.Status, c.DataPath, c.Metadata, c.CompletedAt,
		c.DurationMs, c.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to update capture: %w", err)
	}

	return expectRow(result, c.ID)
}

// Delete removes a capture record
func (r *captureRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM captures WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete capture: %w", err)
	}

	return expectRow(result, id)
}

func expectRow(result sql.Result, id uuid.UUID) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("capture %s: %w", id, ErrNotFound)
	}
	return nil
}

// List retrieves captures with filtering and pagination, newest first
func (r *captureRepository) List(ctx context.Context, filter *CaptureFilter) ([]*model.Capture, int, error) {
	if filter == nil {
		filter = &CaptureFilter{}
	}
	filter.Normalize()

	whereConditions := []string{}
	args := []interface{}{}
	argIndex := 1

	add := func(cond string, v interface{}) {
		whereConditions = append(whereConditions, fmt.Sprintf(cond, argIndex))
		args = append(args, v)
		argIndex++
	}

	if filter.SessionID != nil {
		add("session_id = $%d", *filter.SessionID)
	}
	if filter.Model != nil {
		add("model = $%d", *filter.Model)
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}
	if filter.StartDate != nil {
		add("started_at >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("started_at <= $%d", *filter.EndDate)
	}

	whereClause := ""
	if len(whereConditions) > 0 {
		whereClause = "WHERE " + strings.Join(whereConditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM captures %s", whereClause)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count captures: %w", err)
	}

	offset := (filter.Page - 1) * filter.PerPage
	query := fmt.Sprintf(`SELECT %s FROM captures %s
		ORDER BY started_at DESC
		LIMIT $%d OFFSET $%d`, captureColumns, whereClause, argIndex, argIndex+1)
	args = append(args, filter.PerPage, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list captures: %w", err)
	}
	defer rows.Close()

	captures := []*model.Capture{}
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			r.logger.Error("Failed to scan capture row", zap.Error(err))
			continue
		}
		captures = append(captures, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read captures: %w", err)
	}

	return captures, total, nil
}

// DeleteOlderThan removes old capture records
func (r *captureRepository) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM captures WHERE started_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old captures: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("Deleted old captures",
		zap.Int64("rows_deleted", rowsAffected),
		zap.Time("older_than", olderThan),
	)

	return rowsAffected, nil
}
