// internal/discovery/usbtmc/scanner.go
package usbtmc

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"

	"scope-service/internal/discovery"
	"scope-service/internal/model"
	"scope-service/internal/protocol"
)

// Config for the usbtmc character device scanner
type Config struct {
	Pattern      string        `json:"pattern"`
	ProbeTimeout time.Duration `json:"probe_timeout"`
}

// Scanner probes the kernel usbtmc character devices
type Scanner struct {
	logger *zap.Logger
	config *Config
}

// NewScanner creates a new usbtmc scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{}
	}
	if config.Pattern == "" {
		config.Pattern = "/dev/usbtmc*"
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 3 * time.Second
	}

	return &Scanner{
		logger: logger.With(zap.String("scanner", "usbtmc")),
		config: config,
	}
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "usbtmc"
}

// IsAvailable reports whether the kernel driver can exist on this platform
func (s *Scanner) IsAvailable() bool {
	return runtime.GOOS == "linux"
}

// Scan identifies the instrument behind every matching device node
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredDevice, error) {
	paths, err := filepath.Glob(s.config.Pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list usbtmc devices: %w", err)
	}

	var discovered []*discovery.DiscoveredDevice
	for _, path := range paths {
		if ctx.Err() != nil {
			return discovered, ctx.Err()
		}

		info := map[string]interface{}{"device_path": path}
		transport, err := protocol.CreateTransport(model.ConnectionTypeUSBTMC, info, s.logger)
		if err != nil {
			s.logger.Warn("Skipping device", zap.String("path", path), zap.Error(err))
			continue
		}

		identity, err := discovery.Probe(ctx, transport, s.config.ProbeTimeout, s.logger)
		if err != nil {
			s.logger.Debug("No instrument answered", zap.String("path", path), zap.Error(err))
			continue
		}
		discovered = append(discovered, discovery.FromIdentity(model.ConnectionTypeUSBTMC, info, identity, path))
	}

	s.logger.Info("usbtmc scan completed", zap.Int("devices_found", len(discovered)))
	return discovered, nil
}
