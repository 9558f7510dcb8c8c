// internal/discovery/scanner_test.go
package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"scope-service/internal/model"
	"scope-service/internal/protocol/protocoltest"
	"scope-service/internal/scpi"
)

type stubScanner struct {
	kind      string
	available bool
	devices   []*DiscoveredDevice
	err       error
	calls     int
}

func (s *stubScanner) Scan(ctx context.Context) ([]*DiscoveredDevice, error) {
	s.calls++
	return s.devices, s.err
}

func (s *stubScanner) GetScannerType() string { return s.kind }
func (s *stubScanner) IsAvailable() bool      { return s.available }

func TestScanAllSkipsUnavailableAndFailing(t *testing.T) {
	sm := NewScannerManager(zaptest.NewLogger(t))

	good := &stubScanner{kind: "tcp", available: true, devices: []*DiscoveredDevice{
		{Model: "DS2072A", Confidence: 0.5},
		{Model: "DS1104Z", Confidence: 1},
	}}
	broken := &stubScanner{kind: "serial", available: true, err: errors.New("port busy")}
	offline := &stubScanner{kind: "usb"}
	sm.RegisterScanner(good)
	sm.RegisterScanner(broken)
	sm.RegisterScanner(offline)

	devices, err := sm.ScanAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 || devices[0].Model != "DS1104Z" {
		t.Errorf("devices = %+v", devices)
	}
	if offline.calls != 0 || broken.calls != 1 {
		t.Errorf("calls: offline %d broken %d", offline.calls, broken.calls)
	}

	if got := sm.GetAvailableScanners(); len(got) != 2 || got[0] != "serial" || got[1] != "tcp" {
		t.Errorf("available = %v", got)
	}
	if _, err := sm.ScanByType(context.Background(), "usb"); err == nil {
		t.Error("unavailable scanner accepted")
	}
	if _, err := sm.ScanByType(context.Background(), "gpib"); err == nil {
		t.Error("unknown scanner accepted")
	}
}

func TestProbe(t *testing.T) {
	fake := protocoltest.New().Reply("*IDN?", "RIGOL TECHNOLOGIES,DS1054Z,DS1ZA170000001,00.04.04.SP4")

	identity, err := Probe(context.Background(), fake, time.Second, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if identity.Model != "DS1054Z" || fake.IsOpen() {
		t.Errorf("identity %+v open %v", identity, fake.IsOpen())
	}

	d := FromIdentity(model.ConnectionTypeTCP, map[string]interface{}{"host": "10.0.0.5"}, identity, "10.0.0.5:5555")
	if d.SerialNumber != "DS1ZA170000001" || d.Confidence != 1 || d.ConnectionInfo["host"] != "10.0.0.5" {
		t.Errorf("device = %+v", d)
	}
}

func TestProbeRejectsOtherVendors(t *testing.T) {
	fake := protocoltest.New().Reply("*IDN?", "KEYSIGHT TECHNOLOGIES,DSOX1204G,CN0000,1.0")

	_, err := Probe(context.Background(), fake, time.Second, zaptest.NewLogger(t))
	if !errors.Is(err, scpi.ErrUnknownIdentity) {
		t.Errorf("error = %v", err)
	}
	if fake.IsOpen() {
		t.Error("transport left open")
	}
}
