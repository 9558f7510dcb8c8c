// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"scope-service/internal/discovery"
	"scope-service/internal/model"
	"scope-service/internal/protocol"
)

// Config for serial scanner
type Config struct {
	BaudRate     int           `json:"baud_rate"`
	ProbeTimeout time.Duration `json:"probe_timeout"`
	// PortPatterns limits probing to ports containing one of the substrings
	PortPatterns []string `json:"port_patterns"`
}

// Scanner probes serial ports with *IDN?
type Scanner struct {
	logger *zap.Logger
	config *Config
	// listPorts is serial.GetPortsList outside of tests
	listPorts func() ([]string, error)
}

// NewScanner creates a new serial scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{}
	}
	if config.BaudRate == 0 {
		config.BaudRate = 9600
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 2 * time.Second
	}

	return &Scanner{
		logger:    logger.With(zap.String("scanner", "serial")),
		config:    config,
		listPorts: serial.GetPortsList,
	}
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "serial"
}

// IsAvailable checks if serial scanning is available
func (s *Scanner) IsAvailable() bool {
	return true
}

// Scan performs serial port instrument discovery
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredDevice, error) {
	ports, err := s.listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	ports = s.filterPorts(ports)
	if len(ports) == 0 {
		s.logger.Info("No serial ports found")
		return []*discovery.DiscoveredDevice{}, nil
	}
	s.logger.Info("Found serial ports", zap.Strings("ports", ports))

	var discovered []*discovery.DiscoveredDevice
	for _, port := range ports {
		if ctx.Err() != nil {
			return discovered, ctx.Err()
		}
		if device := s.testPort(ctx, port); device != nil {
			discovered = append(discovered, device)
		}
	}

	s.logger.Info("Serial scan completed", zap.Int("devices_found", len(discovered)))
	return discovered, nil
}

func (s *Scanner) filterPorts(ports []string) []string {
	if len(s.config.PortPatterns) == 0 {
		return ports
	}

	var out []string
	for _, port := range ports {
		for _, pattern := range s.config.PortPatterns {
			if strings.Contains(port, pattern) {
				out = append(out, port)
				break
			}
		}
	}
	return out
}

func (s *Scanner) testPort(ctx context.Context, port string) *discovery.DiscoveredDevice {
	info := map[string]interface{}{
		"port":      port,
		"baud_rate": s.config.BaudRate,
		"timeout":   s.config.ProbeTimeout.String(),
	}

	transport, err := protocol.CreateTransport(model.ConnectionTypeSerial, info, s.logger)
	if err != nil {
		s.logger.Warn("Skipping port", zap.String("port", port), zap.Error(err))
		return nil
	}

	identity, err := discovery.Probe(ctx, transport, s.config.ProbeTimeout, s.logger)
	if err != nil {
		s.logger.Debug("No instrument answered", zap.String("port", port), zap.Error(err))
		return nil
	}
	return discovery.FromIdentity(model.ConnectionTypeSerial, info, identity, port)
}
