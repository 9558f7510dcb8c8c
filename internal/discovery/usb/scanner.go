// internal/discovery/usb/scanner.go
package usb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"scope-service/internal/discovery"
	"scope-service/internal/model"
)

// Config for USB scanner
type Config struct {
	ScanTimeout time.Duration `json:"scan_timeout"`
	EnableDebug bool          `json:"enable_debug"`
}

// Scanner enumerates USB-TMC instruments through libusb. Devices are only
// described, never claimed, so a running usbtmc kernel driver is left alone.
type Scanner struct {
	logger *zap.Logger
	config *Config
}

// NewScanner creates a new USB scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{}
	}
	if config.ScanTimeout <= 0 {
		config.ScanTimeout = 10 * time.Second
	}

	return &Scanner{
		logger: logger.With(zap.String("scanner", "usb")),
		config: config,
	}
}

// GetScannerType returns scanner type identifier
func (s *Scanner) GetScannerType() string {
	return "usb"
}

// IsAvailable checks that a libusb context can be created
func (s *Scanner) IsAvailable() bool {
	usbCtx := gousb.NewContext()
	defer usbCtx.Close()
	return true
}

// Scan performs USB instrument discovery
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredDevice, error) {
	startTime := time.Now()

	scanCtx, cancel := context.WithTimeout(ctx, s.config.ScanTimeout)
	defer cancel()

	usbCtx := gousb.NewContext()
	defer func() {
		if err := usbCtx.Close(); err != nil {
			s.logger.Warn("Failed to close USB context", zap.Error(err))
		}
	}()
	if s.config.EnableDebug {
		usbCtx.Debug(3)
	}

	devices, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return knownVendor(desc.Vendor)
	})
	defer s.closeAllDevices(devices)
	if err != nil && len(devices) == 0 {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	if err != nil {
		s.logger.Warn("Some USB devices could not be opened", zap.Error(err))
	}

	var discovered []*discovery.DiscoveredDevice
	for _, device := range devices {
		if scanCtx.Err() != nil {
			return discovered, scanCtx.Err()
		}
		if d := s.processDevice(device); d != nil {
			discovered = append(discovered, d)
		}
	}

	s.logger.Info("USB scan completed",
		zap.Int("devices_found", len(discovered)),
		zap.Duration("scan_duration", time.Since(startTime)),
	)
	return discovered, nil
}

// processDevice describes one opened device of a known vendor
func (s *Scanner) processDevice(device *gousb.Device) *discovery.DiscoveredDevice {
	desc := device.Desc
	if desc == nil {
		return nil
	}

	vendor, ok := vendorNames[desc.Vendor]
	if !ok {
		return nil
	}
	product, _ := lookupProduct(desc.Vendor, desc.Product)

	result := &discovery.DiscoveredDevice{
		ConnectionType: model.ConnectionTypeUSB,
		ConnectionInfo: s.createUSBConnectionInfo(desc),
		Vendor:         vendor,
		Model:          s.stringDescriptor(device.Product),
		SerialNumber:   s.stringDescriptor(device.SerialNumber),
		Confidence:     product.Confidence,
		Location:       fmt.Sprintf("USB-Bus%d-Addr%d", desc.Bus, desc.Address),
	}
	if result.Model == "" {
		result.Model = product.Family
	}
	if result.Model == "" {
		result.Model = fmt.Sprintf("Unknown-%04X", uint16(desc.Product))
	}
	if result.SerialNumber != "" {
		result.ConnectionInfo["serial_number"] = result.SerialNumber
	}

	s.logger.Debug("USB instrument found",
		zap.String("vendor_id", fmt.Sprintf("0x%04X", uint16(desc.Vendor))),
		zap.String("product_id", fmt.Sprintf("0x%04X", uint16(desc.Product))),
		zap.String("model", result.Model),
	)
	return result
}

// stringDescriptor reads an optional string descriptor
func (s *Scanner) stringDescriptor(read func() (string, error)) string {
	str, err := read()
	if err != nil {
		s.logger.Debug("Failed to get string descriptor", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(str)
}

// createUSBConnectionInfo creates connection configuration for USB device
func (s *Scanner) createUSBConnectionInfo(desc *gousb.DeviceDesc) map[string]interface{} {
	return map[string]interface{}{
		"vendor_id":  fmt.Sprintf("0x%04X", uint16(desc.Vendor)),
		"product_id": fmt.Sprintf("0x%04X", uint16(desc.Product)),
		"bus":        desc.Bus,
		"address":    desc.Address,
	}
}

// closeAllDevices safely closes all opened USB devices
func (s *Scanner) closeAllDevices(devices []*gousb.Device) {
	for i, device := range devices {
		if device == nil {
			continue
		}
		if err := device.Close(); err != nil {
			s.logger.Warn("Failed to close USB device",
				zap.Int("device_index", i),
				zap.Error(err),
			)
		}
	}
}
