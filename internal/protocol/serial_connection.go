// internal/protocol/serial_connection.go
package protocol

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"scope-service/internal/model"
)

// SerialConnection implements Transport for RS-232 attached instruments
type SerialConnection struct {
	config *SerialConfig
	port   serial.Port
	frames *frameReader
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
	stats  statsTracker
}

// NewSerialConnection creates a new serial connection
func NewSerialConnection(config *SerialConfig, logger *zap.Logger) *SerialConnection {
	return &SerialConnection{
		config: config,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.Port),
		),
	}
}

// serialMode converts the configuration into a go.bug.st mode
func serialMode(config *SerialConfig) *serial.Mode {
	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
	}

	switch config.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	case 15:
		mode.StopBits = serial.OnePointFiveStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	switch strings.ToLower(config.Parity) {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		mode.Parity = serial.NoParity
	}

	return mode
}

// Open opens the serial connection
func (sc *SerialConnection) Open(ctx context.Context) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.isOpen {
		return nil
	}

	sc.logger.Info("Opening serial port",
		zap.Int("baud_rate", sc.config.BaudRate),
	)

	port, err := serial.Open(sc.config.Port, serialMode(sc.config))
	if err != nil {
		sc.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	if err := port.SetReadTimeout(sc.config.Timeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	sc.port = port
	sc.frames = newFrameReader(timeoutReader{port: port})
	sc.isOpen = true
	sc.stats.setConnected(true)

	sc.logger.Info("Serial port opened successfully")
	return nil
}

// Close closes the serial connection
func (sc *SerialConnection) Close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.isOpen || sc.port == nil {
		return nil
	}

	err := sc.port.Close()

	sc.port = nil
	sc.frames = nil
	sc.isOpen = false
	sc.stats.setConnected(false)

	if err != nil {
		sc.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sc.logger.Info("Serial port closed successfully")
	return nil
}

// IsOpen returns whether the connection is open
func (sc *SerialConnection) IsOpen() bool {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return sc.isOpen && sc.port != nil
}

// Write writes data to the serial port
func (sc *SerialConnection) Write(ctx context.Context, data []byte) (int, error) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return 0, ErrNotOpen
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	startTime := time.Now()
	n, err := sc.port.Write(data)
	if err != nil {
		sc.stats.recordError()
		sc.logger.Error("Serial write failed", zap.Error(err))
		return n, fmt.Errorf("failed to write to serial port: %w", err)
	}

	if n != len(data) {
		sc.stats.recordError()
		return n, fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(data))
	}

	sc.stats.recordWrite(n, time.Since(startTime))

	sc.logger.Debug("Serial write completed", zap.Int("bytes", n))
	return n, nil
}

// Read reads one response frame from the serial port. A cancelled context
// waits for the pending read to hit the port timeout before returning.
func (sc *SerialConnection) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return nil, ErrNotOpen
	}

	if maxBytes <= 0 {
		maxBytes = sc.config.MaxFrameSize
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameSize
	}

	startTime := time.Now()
	done := make(chan readResult, 1)

	go func() {
		data, err := sc.frames.readFrame(maxBytes)
		done <- readResult{data: data, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil {
			sc.stats.recordError()
			sc.frames.reset(timeoutReader{port: sc.port})
			return nil, fmt.Errorf("failed to read from serial port: %w", result.err)
		}

		sc.stats.recordRead(len(result.data), time.Since(startTime))
		return result.data, nil

	case <-ctx.Done():
		<-done
		sc.port.ResetInputBuffer()
		sc.frames.reset(timeoutReader{port: sc.port})
		sc.stats.recordError()
		return nil, ctx.Err()
	}
}

// GetProtocolType returns the protocol type
func (sc *SerialConnection) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeSerial
}

// Stats returns a snapshot of the connection statistics
func (sc *SerialConnection) Stats() ProtocolStats {
	return sc.stats.snapshot()
}

// timeoutReader turns the (0, nil) timeout return of go.bug.st ports into
// an error so buffered readers do not spin
type timeoutReader struct {
	port serial.Port
}

func (tr timeoutReader) Read(p []byte) (int, error) {
	n, err := tr.port.Read(p)
	if n == 0 && err == nil {
		return 0, ErrReadTimeout
	}
	return n, err
}
