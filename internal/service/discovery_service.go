// internal/service/discovery_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"scope-service/internal/config"
	"scope-service/internal/discovery"
	"scope-service/internal/discovery/serial"
	"scope-service/internal/discovery/tcp"
	"scope-service/internal/discovery/usb"
	"scope-service/internal/discovery/usbtmc"
	"scope-service/internal/utils"
)

const defaultScanTimeout = 30 * time.Second

// DiscoveryService looks for instruments on every connection kind
type DiscoveryService struct {
	scannerManager *discovery.ScannerManager
	config         *config.Config
	logger         *utils.ServiceLogger
}

// NewDiscoveryService creates a new discovery service
func NewDiscoveryService(cfg *config.Config, logger *zap.Logger) *DiscoveryService {
	ds := &DiscoveryService{
		scannerManager: discovery.NewScannerManager(logger),
		config:         cfg,
		logger:         utils.NewServiceLogger(logger, "discovery-service"),
	}
	ds.initializeScanners()
	return ds
}

// initializeScanners registers a scanner per connection kind. Scanners
// that are unavailable on this host stay registered and are skipped.
func (ds *DiscoveryService) initializeScanners() {
	ports := ds.config.Scope.Ports

	ds.scannerManager.RegisterScanner(usbtmc.NewScanner(ds.logger.Logger, &usbtmc.Config{
		ProbeTimeout: ports.USBTMC.Timeout,
	}))
	ds.scannerManager.RegisterScanner(usb.NewScanner(ds.logger.Logger, nil))
	ds.scannerManager.RegisterScanner(serial.NewScanner(ds.logger.Logger, &serial.Config{
		BaudRate:     ports.Serial.BaudRate,
		ProbeTimeout: ports.Serial.Timeout,
	}))
	ds.scannerManager.RegisterScanner(tcp.NewScanner(ds.logger.Logger, &tcp.Config{
		Hosts:       ds.config.Scope.DiscoveryHosts,
		Port:        ports.TCP.Port,
		ConnTimeout: ports.TCP.ConnectTimeout,
	}))

	ds.logger.Info("Discovery scanners initialized",
		zap.Strings("available_scanners", ds.scannerManager.GetAvailableScanners()),
	)
}

// ScanRequest selects the scanners to run
type ScanRequest struct {
	// ScanType is all, usbtmc, usb, serial or tcp
	ScanType string `json:"scan_type"`
	Timeout  string `json:"timeout,omitempty"`
}

// ScanDevices runs the requested scanners
func (ds *DiscoveryService) ScanDevices(ctx context.Context, req *ScanRequest) ([]*discovery.DiscoveredDevice, error) {
	scanType := strings.ToLower(req.ScanType)
	if scanType == "" {
		scanType = "all"
	}

	timeout := defaultScanTimeout
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: invalid timeout %q", ErrValidation, req.Timeout)
		}
		timeout = d
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ds.logger.Info("Starting device scan", zap.String("type", scanType))

	var devices []*discovery.DiscoveredDevice
	var err error

	switch scanType {
	case "all":
		devices, err = ds.scannerManager.ScanAll(ctx)
	case "usbtmc", "usb", "serial", "tcp":
		devices, err = ds.scannerManager.ScanByType(ctx, scanType)
	default:
		return nil, fmt.Errorf("%w: unsupported scan type %q", ErrValidation, req.ScanType)
	}

	if err != nil {
		return devices, fmt.Errorf("scan failed: %w", err)
	}
	if devices == nil {
		devices = []*discovery.DiscoveredDevice{}
	}

	ds.logger.Info("Device scan completed",
		zap.Int("devices_found", len(devices)),
		zap.String("scan_type", scanType),
	)
	return devices, nil
}

// AvailableScanners lists the scanners usable on this host
func (ds *DiscoveryService) AvailableScanners() []string {
	return ds.scannerManager.GetAvailableScanners()
}
