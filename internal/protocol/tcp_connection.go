// internal/protocol/tcp_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"scope-service/internal/model"
)

// DefaultTCPPort is the raw SCPI socket port of LAN enabled scopes
const DefaultTCPPort = 5555

// TCPConnection implements Transport for raw SCPI sockets
type TCPConnection struct {
	config *TCPConfig
	conn   net.Conn
	frames *frameReader
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
	stats  statsTracker
}

// NewTCPConnection creates a new TCP connection
func NewTCPConnection(config *TCPConfig, logger *zap.Logger) *TCPConnection {
	return &TCPConnection{
		config: config,
		logger: logger.With(
			zap.String("protocol", "tcp"),
			zap.String("host", config.Host),
			zap.Int("port", config.Port),
		),
	}
}

// Open opens the TCP connection
func (tc *TCPConnection) Open(ctx context.Context) error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if tc.isOpen {
		return nil
	}

	tc.logger.Info("Opening TCP connection",
		zap.Duration("connect_timeout", tc.config.ConnectTimeout),
	)

	dialer := &net.Dialer{
		Timeout: tc.config.ConnectTimeout,
	}
	if tc.config.KeepAlive {
		dialer.KeepAlive = 30 * time.Second
	}

	address := net.JoinHostPort(NormalizeHost(tc.config.Host), strconv.Itoa(tc.config.Port))

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		tc.logger.Error("Failed to open TCP connection", zap.Error(err))
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		// small SCPI commands must not wait for Nagle coalescing
		tcpConn.SetNoDelay(true)
	}

	tc.conn = conn
	tc.frames = newFrameReader(conn)
	tc.isOpen = true
	tc.stats.setConnected(true)

	tc.logger.Info("TCP connection opened successfully")
	return nil
}

// Close closes the TCP connection
func (tc *TCPConnection) Close() error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if !tc.isOpen || tc.conn == nil {
		return nil
	}

	err := tc.conn.Close()

	tc.conn = nil
	tc.frames = nil
	tc.isOpen = false
	tc.stats.setConnected(false)

	if err != nil {
		tc.logger.Error("Failed to close TCP connection", zap.Error(err))
		return fmt.Errorf("failed to close TCP connection: %w", err)
	}

	tc.logger.Info("TCP connection closed successfully")
	return nil
}

// IsOpen returns whether the connection is open
func (tc *TCPConnection) IsOpen() bool {
	tc.mutex.RLock()
	defer tc.mutex.RUnlock()
	return tc.isOpen && tc.conn != nil
}

// Write writes one message to the socket
func (tc *TCPConnection) Write(ctx context.Context, data []byte) (int, error) {
	tc.mutex.RLock()
	defer tc.mutex.RUnlock()

	if !tc.isOpen || tc.conn == nil {
		return 0, ErrNotOpen
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	deadline := time.Time{}
	if tc.config.WriteTimeout > 0 {
		deadline = time.Now().Add(tc.config.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	tc.conn.SetWriteDeadline(deadline)

	startTime := time.Now()
	n, err := tc.conn.Write(data)
	if err != nil {
		tc.stats.recordError()
		tc.logger.Error("TCP write failed", zap.Error(err))
		return n, fmt.Errorf("failed to write to TCP connection: %w", err)
	}

	if n != len(data) {
		tc.stats.recordError()
		return n, fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(data))
	}

	tc.stats.recordWrite(n, time.Since(startTime))

	tc.logger.Debug("TCP write completed", zap.Int("bytes", n))
	return n, nil
}

// Read reads one response frame from the socket
func (tc *TCPConnection) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	tc.mutex.RLock()
	defer tc.mutex.RUnlock()

	if !tc.isOpen || tc.conn == nil {
		return nil, ErrNotOpen
	}

	if maxBytes <= 0 {
		maxBytes = tc.config.MaxFrameSize
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameSize
	}

	deadline := time.Time{}
	if tc.config.ReadTimeout > 0 {
		deadline = time.Now().Add(tc.config.ReadTimeout)
	}
	tc.conn.SetReadDeadline(deadline)

	startTime := time.Now()
	done := make(chan readResult, 1)

	go func() {
		data, err := tc.frames.readFrame(maxBytes)
		done <- readResult{data: data, err: err}
	}()

	var result readResult
	select {
	case result = <-done:
	case <-ctx.Done():
		// unblock the reader and discard whatever it buffered
		tc.conn.SetReadDeadline(time.Now())
		<-done
		tc.frames.reset(tc.conn)
		tc.stats.recordError()
		return nil, ctx.Err()
	}

	if result.err != nil {
		tc.stats.recordError()
		tc.frames.reset(tc.conn)
		if errors.Is(result.err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrReadTimeout, time.Since(startTime).Round(time.Millisecond))
		}
		return nil, fmt.Errorf("failed to read from TCP connection: %w", result.err)
	}

	tc.stats.recordRead(len(result.data), time.Since(startTime))
	return result.data, nil
}

// GetProtocolType returns the protocol type
func (tc *TCPConnection) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeTCP
}

// Stats returns a snapshot of the connection statistics
func (tc *TCPConnection) Stats() ProtocolStats {
	return tc.stats.snapshot()
}
