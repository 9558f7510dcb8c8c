// internal/discovery/tcp/scanner.go
package tcp

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"scope-service/internal/discovery"
	"scope-service/internal/model"
	"scope-service/internal/protocol"
)

// Config for TCP scanner
type Config struct {
	Hosts         []string      `json:"hosts"`
	Port          int           `json:"port"`
	ConnTimeout   time.Duration `json:"connection_timeout"`
	ProbeTimeout  time.Duration `json:"probe_timeout"`
	MaxConcurrent int           `json:"max_concurrent"`
}

// Scanner probes a configured list of LAN instruments with *IDN?
type Scanner struct {
	logger *zap.Logger
	config *Config
}

// NewScanner creates a new TCP scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{}
	}
	if config.Port == 0 {
		config.Port = protocol.DefaultTCPPort
	}
	if config.ConnTimeout <= 0 {
		config.ConnTimeout = 2 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 8
	}

	return &Scanner{
		logger: logger.With(zap.String("scanner", "tcp")),
		config: config,
	}
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "tcp"
}

// IsAvailable reports whether any host is configured
func (s *Scanner) IsAvailable() bool {
	return len(s.config.Hosts) > 0
}

// Scan probes every configured host concurrently
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredDevice, error) {
	s.logger.Info("Starting TCP scan", zap.Strings("hosts", s.config.Hosts))

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		discovered []*discovery.DiscoveredDevice
	)
	slots := make(chan struct{}, s.config.MaxConcurrent)

	for _, host := range s.config.Hosts {
		host := protocol.NormalizeHost(host)

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return discovered, ctx.Err()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()

			if device := s.probeHost(ctx, host); device != nil {
				mu.Lock()
				discovered = append(discovered, device)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.logger.Info("TCP scan completed", zap.Int("devices_found", len(discovered)))
	return discovered, nil
}

func (s *Scanner) probeHost(ctx context.Context, host string) *discovery.DiscoveredDevice {
	info := map[string]interface{}{
		"host":            host,
		"port":            s.config.Port,
		"connect_timeout": s.config.ConnTimeout.String(),
	}

	transport, err := protocol.CreateTransport(model.ConnectionTypeTCP, info, s.logger)
	if err != nil {
		s.logger.Warn("Skipping host", zap.String("host", host), zap.Error(err))
		return nil
	}

	identity, err := discovery.Probe(ctx, transport, s.config.ProbeTimeout, s.logger)
	if err != nil {
		s.logger.Debug("No instrument answered", zap.String("host", host), zap.Error(err))
		return nil
	}

	location := net.JoinHostPort(host, strconv.Itoa(s.config.Port))
	return discovery.FromIdentity(model.ConnectionTypeTCP, info, identity, location)
}
