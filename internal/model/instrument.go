// internal/model/instrument.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConnectionType represents how the instrument is connected
type ConnectionType string

const (
	ConnectionTypeUSBTMC ConnectionType = "USBTMC"
	ConnectionTypeTCP    ConnectionType = "TCP"
	ConnectionTypeSerial ConnectionType = "SERIAL"
	ConnectionTypeUSB    ConnectionType = "USB"
)

// ParseConnectionType accepts the lower or upper case connection kind
func ParseConnectionType(s string) (ConnectionType, error) {
	switch ConnectionType(strings.ToUpper(strings.TrimSpace(s))) {
	case ConnectionTypeUSBTMC:
		return ConnectionTypeUSBTMC, nil
	case ConnectionTypeTCP:
		return ConnectionTypeTCP, nil
	case ConnectionTypeSerial:
		return ConnectionTypeSerial, nil
	case ConnectionTypeUSB:
		return ConnectionTypeUSB, nil
	}
	return "", fmt.Errorf("unsupported connection type: %q", s)
}

// SessionState represents the connection state of a device session
type SessionState string

const (
	SessionStateDisconnected SessionState = "DISCONNECTED"
	SessionStateConnecting   SessionState = "CONNECTING"
	SessionStateConnected    SessionState = "CONNECTED"
)

// Compatibility describes how well an identified model is supported
type Compatibility string

const (
	CompatibilitySupported    Compatibility = "SUPPORTED"
	CompatibilityExperimental Compatibility = "EXPERIMENTAL"
	CompatibilityUntested     Compatibility = "UNTESTED"
	CompatibilityUnknownModel Compatibility = "UNKNOWN_MODEL"
)

// JSONObject type for PostgreSQL JSONB objects
type JSONObject map[string]interface{}

func (j *JSONObject) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONObject) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Instrument describes a connected oscilloscope session
type Instrument struct {
	SessionID      uuid.UUID      `json:"session_id"`
	Vendor         string         `json:"vendor"`
	Model          string         `json:"model"`
	Serial         string         `json:"serial"`
	Firmware       string         `json:"firmware"`
	Series         int            `json:"series"`
	ChannelCount   int            `json:"channel_count"`
	Bandwidth      int            `json:"bandwidth_mhz"`
	Compatibility  Compatibility  `json:"compatibility"`
	ConnectionType ConnectionType `json:"connection_type"`
	ConnectionInfo JSONObject     `json:"connection_info"`
	State          SessionState   `json:"state"`
	ConnectedAt    *time.Time     `json:"connected_at,omitempty"`
}

// IsConnected checks if the session is ready for commands
func (i *Instrument) IsConnected() bool {
	return i.State == SessionStateConnected
}
