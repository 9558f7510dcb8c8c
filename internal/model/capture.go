// internal/model/capture.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// CaptureStatus represents the status of a deep-memory capture
type CaptureStatus string

const (
	CaptureStatusRunning   CaptureStatus = "RUNNING"
	CaptureStatusCompleted CaptureStatus = "COMPLETED"
	CaptureStatusFailed    CaptureStatus = "FAILED"
	CaptureStatusCancelled CaptureStatus = "CANCELLED"
)

// Capture records one deep-memory download
type Capture struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	SessionID    uuid.UUID     `json:"session_id" db:"session_id"`
	Model        string        `json:"model" db:"model"`
	Serial       string        `json:"serial" db:"serial"`
	Channels     []int         `json:"channels" db:"-"`
	ChannelMask  int           `json:"-" db:"channel_mask"`
	MemoryDepth  int           `json:"memory_depth" db:"memory_depth"`
	SampleRate   float64       `json:"sample_rate" db:"sample_rate"`
	Status       CaptureStatus `json:"status" db:"status"`
	DataPath     *string       `json:"data_path,omitempty" db:"data_path"`
	Metadata     JSONObject    `json:"metadata" db:"metadata"`
	StartedAt    time.Time     `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	DurationMs   *int          `json:"duration_ms,omitempty" db:"duration_ms"`
	ErrorMessage *string       `json:"error_message,omitempty" db:"error_message"`
}

// SetChannels fills Channels and the bit mask persisted with the record
func (c *Capture) SetChannels(channels []int) {
	c.Channels = append([]int(nil), channels...)
	c.ChannelMask = 0
	for _, ch := range channels {
		c.ChannelMask |= 1 << ch
	}
}

// ChannelsFromMask expands a persisted channel bit mask
func ChannelsFromMask(mask int) []int {
	var out []int
	for ch := 0; ch < MaxChannels; ch++ {
		if mask&(1<<ch) != 0 {
			out = append(out, ch)
		}
	}
	return out
}

// MarkCompleted records successful completion
func (c *Capture) MarkCompleted(path string) {
	now := time.Now()
	ms := int(now.Sub(c.StartedAt).Milliseconds())
	c.Status = CaptureStatusCompleted
	c.CompletedAt = &now
	c.DurationMs = &ms
	if path != "" {
		c.DataPath = &path
	}
}

// MarkFailed records a failed or cancelled capture
func (c *Capture) MarkFailed(status CaptureStatus, err error) {
	now := time.Now()
	ms := int(now.Sub(c.StartedAt).Milliseconds())
	c.Status = status
	c.CompletedAt = &now
	c.DurationMs = &ms
	if err != nil {
		msg := err.Error()
		c.ErrorMessage = &msg
	}
}
