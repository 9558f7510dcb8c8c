// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventSessionConnected    EventType = "SESSION_CONNECTED"
	EventSessionDisconnected EventType = "SESSION_DISCONNECTED"
	EventSessionLost         EventType = "SESSION_LOST"
	EventSessionWarning      EventType = "SESSION_WARNING"
	EventSettingsSynced      EventType = "SETTINGS_SYNCED"
	EventPollError           EventType = "POLL_ERROR"
	EventFrame               EventType = "FRAME"
	EventCaptureStarted      EventType = "CAPTURE_STARTED"
	EventCaptureProgress     EventType = "CAPTURE_PROGRESS"
	EventCaptureCompleted    EventType = "CAPTURE_COMPLETED"
	EventCaptureFailed       EventType = "CAPTURE_FAILED"
)

// SessionEvent represents an event in the system
type SessionEvent struct {
	ID        uuid.UUID  `json:"id"`
	EventType EventType  `json:"event_type"`
	SessionID uuid.UUID  `json:"session_id"`
	Data      JSONObject `json:"data"`
	Timestamp time.Time  `json:"timestamp"`
	Source    string     `json:"source"`
	Severity  string     `json:"severity"` // INFO, WARNING, ERROR, CRITICAL
}

// SessionErrorEventData carries the diagnostic triple of a failed exchange
type SessionErrorEventData struct {
	Message  string    `json:"message"`
	Command  string    `json:"command,omitempty"`
	Response string    `json:"response,omitempty"`
	Point    string    `json:"point,omitempty"`
	Fatal    bool      `json:"fatal"`
	Time     time.Time `json:"time"`
}

// CaptureProgressEventData represents deep-memory download progress
type CaptureProgressEventData struct {
	CaptureID uuid.UUID `json:"capture_id"`
	Channel   int       `json:"channel"`
	Received  int       `json:"received"`
	Total     int       `json:"total"`
}
