// internal/protocol/protocol.go
package protocol

import (
	"context"
	"errors"
	"sync"
	"time"

	"scope-service/internal/model"
)

var (
	// ErrNotOpen is returned for I/O on a closed transport
	ErrNotOpen = errors.New("transport not open")
	// ErrShortWrite is returned when fewer bytes were sent than requested
	ErrShortWrite = errors.New("incomplete write")
	// ErrFrameTooLarge is returned when a response exceeds the read limit
	ErrFrameTooLarge = errors.New("response frame exceeds buffer size")
	// ErrReadTimeout is returned when the instrument does not answer in time
	ErrReadTimeout = errors.New("read timeout")
)

// DefaultMaxFrameSize bounds a single response frame
const DefaultMaxFrameSize = 1 << 21

// Transport is a byte-oriented connection to an instrument exchanging whole
// SCPI messages. It is not safe for concurrent requests; callers serialise
// one write/read pair at a time.
type Transport interface {
	// Connection lifecycle
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	// Write sends one message and returns the number of bytes accepted.
	Write(ctx context.Context, data []byte) (int, error)
	// Read blocks for a single response frame of at most maxBytes.
	Read(ctx context.Context, maxBytes int) ([]byte, error)

	// Protocol information
	GetProtocolType() model.ConnectionType
	Stats() ProtocolStats
}

// ProtocolStats provides protocol-level statistics
type ProtocolStats struct {
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	OperationCount int64         `json:"operation_count"`
	ErrorCount     int64         `json:"error_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
	IsConnected    bool          `json:"is_connected"`
}

// statsTracker guards ProtocolStats updates from the I/O path
type statsTracker struct {
	mu    sync.Mutex
	stats ProtocolStats
}

func (st *statsTracker) setConnected(connected bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.stats.IsConnected = connected
	st.stats.LastActivity = time.Now()
}

func (st *statsTracker) recordWrite(n int, latency time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.stats.BytesWritten += int64(n)
	st.stats.OperationCount++
	st.stats.LastActivity = time.Now()
	st.updateAverageLatency(latency)
}

func (st *statsTracker) recordRead(n int, latency time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.stats.BytesRead += int64(n)
	st.stats.OperationCount++
	st.stats.LastActivity = time.Now()
	st.updateAverageLatency(latency)
}

func (st *statsTracker) recordError() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.stats.ErrorCount++
}

func (st *statsTracker) snapshot() ProtocolStats {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.stats
}

// updateAverageLatency updates the running average latency
func (st *statsTracker) updateAverageLatency(newLatency time.Duration) {
	if st.stats.AverageLatency == 0 {
		st.stats.AverageLatency = newLatency
	} else {
		st.stats.AverageLatency = (st.stats.AverageLatency + newLatency) / 2
	}
}

// readResult carries the outcome of a blocking read goroutine
type readResult struct {
	data []byte
	err  error
}
