// internal/discovery/usbtmc/scanner_test.go
package usbtmc

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestScanNoDevices(t *testing.T) {
	s := NewScanner(zaptest.NewLogger(t), &Config{Pattern: filepath.Join(t.TempDir(), "usbtmc*")})

	devices, err := s.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 0 {
		t.Errorf("devices = %v", devices)
	}
	if s.GetScannerType() != "usbtmc" {
		t.Errorf("type = %s", s.GetScannerType())
	}
}
