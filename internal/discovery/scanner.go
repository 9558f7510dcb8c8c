// internal/discovery/scanner.go
package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"scope-service/internal/model"
	"scope-service/internal/protocol"
	"scope-service/internal/scpi"
)

// DeviceScanner finds instruments on one kind of connection
type DeviceScanner interface {
	Scan(ctx context.Context) ([]*DiscoveredDevice, error)
	GetScannerType() string
	IsAvailable() bool
}

// DiscoveredDevice represents a discovered instrument. ConnectionType and
// ConnectionInfo form a valid connect request.
type DiscoveredDevice struct {
	ConnectionType model.ConnectionType   `json:"connection_type"`
	ConnectionInfo map[string]interface{} `json:"connection_info"`
	Vendor         string                 `json:"vendor,omitempty"`
	Model          string                 `json:"model"`
	SerialNumber   string                 `json:"serial_number,omitempty"`
	Firmware       string                 `json:"firmware,omitempty"`
	Confidence     float64                `json:"confidence"` // 0.0-1.0
	Location       string                 `json:"location,omitempty"`
}

// ScannerManager runs the registered scanners
type ScannerManager struct {
	mu       sync.RWMutex
	scanners map[string]DeviceScanner
	logger   *zap.Logger
}

// NewScannerManager creates a new scanner manager
func NewScannerManager(logger *zap.Logger) *ScannerManager {
	return &ScannerManager{
		scanners: make(map[string]DeviceScanner),
		logger:   logger,
	}
}

// RegisterScanner registers a device scanner
func (sm *ScannerManager) RegisterScanner(scanner DeviceScanner) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	scannerType := scanner.GetScannerType()
	sm.scanners[scannerType] = scanner
	sm.logger.Info("Scanner registered", zap.String("type", scannerType))
}

// ScanAll runs every available scanner. A failing scanner is logged and
// skipped.
func (sm *ScannerManager) ScanAll(ctx context.Context) ([]*DiscoveredDevice, error) {
	var allDevices []*DiscoveredDevice

	for _, scannerType := range sm.scannerTypes() {
		scanner := sm.scanner(scannerType)
		if !scanner.IsAvailable() {
			sm.logger.Debug("Scanner not available, skipping", zap.String("type", scannerType))
			continue
		}

		devices, err := scanner.Scan(ctx)
		if err != nil {
			sm.logger.Error("Scanner failed", zap.String("type", scannerType), zap.Error(err))
			continue
		}

		allDevices = append(allDevices, devices...)
		sm.logger.Info("Scanner completed",
			zap.String("type", scannerType),
			zap.Int("devices_found", len(devices)),
		)

		if ctx.Err() != nil {
			return allDevices, ctx.Err()
		}
	}

	sort.SliceStable(allDevices, func(i, j int) bool {
		return allDevices[i].Confidence > allDevices[j].Confidence
	})
	return allDevices, nil
}

// ScanByType runs one scanner
func (sm *ScannerManager) ScanByType(ctx context.Context, scannerType string) ([]*DiscoveredDevice, error) {
	scanner := sm.scanner(scannerType)
	if scanner == nil {
		return nil, fmt.Errorf("scanner type not found: %s", scannerType)
	}

	if !scanner.IsAvailable() {
		return nil, fmt.Errorf("scanner not available: %s", scannerType)
	}

	return scanner.Scan(ctx)
}

// GetAvailableScanners returns list of available scanner types
func (sm *ScannerManager) GetAvailableScanners() []string {
	var available []string
	for _, scannerType := range sm.scannerTypes() {
		if sm.scanner(scannerType).IsAvailable() {
			available = append(available, scannerType)
		}
	}
	return available
}

func (sm *ScannerManager) scanner(scannerType string) DeviceScanner {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.scanners[scannerType]
}

func (sm *ScannerManager) scannerTypes() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	types := make([]string, 0, len(sm.scanners))
	for t := range sm.scanners {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Probe opens transport, asks for the identification string and closes it
// again. Only instruments with a known vendor string are reported.
func Probe(ctx context.Context, transport protocol.Transport, timeout time.Duration, logger *zap.Logger) (scpi.Identity, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := transport.Open(ctx); err != nil {
		return scpi.Identity{}, fmt.Errorf("failed to open transport: %w", err)
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logger.Debug("Probe close failed", zap.Error(err))
		}
	}()

	session := scpi.NewSession(transport, scpi.WithLogger(logger))
	identity, err := session.Identify(ctx)
	if err != nil {
		return scpi.Identity{}, fmt.Errorf("failed to identify instrument: %w", err)
	}
	return identity, nil
}

// FromIdentity builds a discovery result for an identified instrument
func FromIdentity(connType model.ConnectionType, info map[string]interface{}, identity scpi.Identity, location string) *DiscoveredDevice {
	return &DiscoveredDevice{
		ConnectionType: connType,
		ConnectionInfo: info,
		Vendor:         identity.Vendor,
		Model:          identity.Model,
		SerialNumber:   identity.Serial,
		Firmware:       identity.Firmware,
		Confidence:     1.0,
		Location:       location,
	}
}
