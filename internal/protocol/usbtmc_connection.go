// internal/protocol/usbtmc_connection.go
package protocol

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"scope-service/internal/model"
)

// DefaultUSBTMCDevice is the first usbtmc character device on Linux
const DefaultUSBTMCDevice = "/dev/usbtmc0"

// CharDevConnection implements Transport on top of the Linux usbtmc kernel
// driver. Every read(2) on the device returns one complete message.
type CharDevConnection struct {
	config *USBTMCConfig
	file   *os.File
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
	stats  statsTracker
}

// NewCharDevConnection creates a new usbtmc character device connection
func NewCharDevConnection(config *USBTMCConfig, logger *zap.Logger) *CharDevConnection {
	if config.DevicePath == "" {
		config.DevicePath = DefaultUSBTMCDevice
	}
	return &CharDevConnection{
		config: config,
		logger: logger.With(
			zap.String("protocol", "usbtmc"),
			zap.String("device", config.DevicePath),
		),
	}
}

// Open opens the character device read/write
func (cc *CharDevConnection) Open(ctx context.Context) error {
	cc.mutex.Lock()
	defer cc.mutex.Unlock()

	if cc.isOpen {
		return nil
	}

	cc.logger.Info("Opening usbtmc device")

	file, err := os.OpenFile(cc.config.DevicePath, os.O_RDWR, 0)
	if err != nil {
		cc.logger.Error("Failed to open usbtmc device", zap.Error(err))
		return fmt.Errorf("failed to open %s: %w", cc.config.DevicePath, err)
	}

	cc.file = file
	cc.isOpen = true
	cc.stats.setConnected(true)

	cc.logger.Info("usbtmc device opened successfully")
	return nil
}

// Close closes the character device
func (cc *CharDevConnection) Close() error {
	cc.mutex.Lock()
	defer cc.mutex.Unlock()

	if !cc.isOpen || cc.file == nil {
		return nil
	}

	err := cc.file.Close()

	cc.file = nil
	cc.isOpen = false
	cc.stats.setConnected(false)

	if err != nil {
		cc.logger.Error("Failed to close usbtmc device", zap.Error(err))
		return fmt.Errorf("failed to close usbtmc device: %w", err)
	}

	cc.logger.Info("usbtmc device closed successfully")
	return nil
}

// IsOpen returns whether the device is open
func (cc *CharDevConnection) IsOpen() bool {
	cc.mutex.RLock()
	defer cc.mutex.RUnlock()
	return cc.isOpen && cc.file != nil
}

// Write writes one message to the device
func (cc *CharDevConnection) Write(ctx context.Context, data []byte) (int, error) {
	cc.mutex.RLock()
	defer cc.mutex.RUnlock()

	if !cc.isOpen || cc.file == nil {
		return 0, ErrNotOpen
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	startTime := time.Now()
	n, err := cc.file.Write(data)
	if err != nil {
		cc.stats.recordError()
		cc.logger.Error("usbtmc write failed", zap.Error(err))
		return n, fmt.Errorf("failed to write to usbtmc device: %w", err)
	}

	if n != len(data) {
		cc.stats.recordError()
		return n, fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(data))
	}

	cc.stats.recordWrite(n, time.Since(startTime))

	cc.logger.Debug("usbtmc write completed", zap.Int("bytes", n))
	return n, nil
}

// Read reads one message. The kernel driver enforces its own transfer
// timeout, so a cancelled context waits for the pending read to finish.
func (cc *CharDevConnection) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	cc.mutex.RLock()
	defer cc.mutex.RUnlock()

	if !cc.isOpen || cc.file == nil {
		return nil, ErrNotOpen
	}

	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameSize
	}

	buffer := make([]byte, maxBytes)
	startTime := time.Now()
	done := make(chan readResult, 1)

	go func() {
		n, err := cc.file.Read(buffer)
		if err != nil {
			done <- readResult{err: err}
			return
		}
		done <- readResult{data: buffer[:n]}
	}()

	select {
	case result := <-done:
		if result.err != nil {
			cc.stats.recordError()
			return nil, fmt.Errorf("failed to read from usbtmc device: %w", result.err)
		}

		cc.stats.recordRead(len(result.data), time.Since(startTime))
		return result.data, nil

	case <-ctx.Done():
		<-done
		cc.stats.recordError()
		return nil, ctx.Err()
	}
}

// GetProtocolType returns the protocol type
func (cc *CharDevConnection) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeUSBTMC
}

// Stats returns a snapshot of the connection statistics
func (cc *CharDevConnection) Stats() ProtocolStats {
	return cc.stats.snapshot()
}
