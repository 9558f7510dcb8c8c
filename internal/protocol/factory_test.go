// internal/protocol/factory_test.go
package protocol

import (
	"encoding/binary"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"scope-service/internal/model"
)

func TestNormalizeHost(t *testing.T) {
	tests := map[string]string{
		"192.168.001.010": "192.168.1.10",
		" 10.0.0.1 ":      "10.0.0.1",
		"010.000.000.001": "10.0.0.1",
		"scope.lab.local": "scope.lab.local",
		"192.168.1":       "192.168.1",
		"192.168.1.300":   "192.168.1.300",
		"fe80::1":         "fe80::1",
		"192.168.1.abc":   "192.168.1.abc",
	}

	for in, want := range tests {
		if got := NormalizeHost(in); got != want {
			t.Errorf("NormalizeHost(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		kind    model.ConnectionType
		config  map[string]interface{}
		wantErr bool
	}{
		{"usbtmc defaults", model.ConnectionTypeUSBTMC, map[string]interface{}{}, false},
		{"tcp ok", model.ConnectionTypeTCP, map[string]interface{}{"host": "10.0.0.5", "port": 5555}, false},
		{"tcp json port", model.ConnectionTypeTCP, map[string]interface{}{"host": "10.0.0.5", "port": float64(5555)}, false},
		{"tcp missing host", model.ConnectionTypeTCP, map[string]interface{}{"port": 5555}, true},
		{"tcp bad port", model.ConnectionTypeTCP, map[string]interface{}{"host": "h", "port": 70000}, true},
		{"serial ok", model.ConnectionTypeSerial, map[string]interface{}{"port": "/dev/ttyUSB0", "baud_rate": 115200}, false},
		{"serial bad baud", model.ConnectionTypeSerial, map[string]interface{}{"port": "/dev/ttyUSB0", "baud_rate": 12345}, true},
		{"serial bad stop bits", model.ConnectionTypeSerial, map[string]interface{}{"port": "/dev/ttyUSB0", "stop_bits": 3}, true},
		{"serial missing port", model.ConnectionTypeSerial, map[string]interface{}{}, true},
		{"usb default vendor", model.ConnectionTypeUSB, map[string]interface{}{}, false},
		{"usb bad product", model.ConnectionTypeUSB, map[string]interface{}{"product_id": "zz"}, true},
		{"unknown", model.ConnectionType("GPIB"), map[string]interface{}{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.kind, tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateTransport(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tr, err := CreateTransport(model.ConnectionTypeTCP, map[string]interface{}{
		"host":         "192.168.001.020",
		"read_timeout": "750ms",
	}, logger)
	if err != nil {
		t.Fatal(err)
	}
	tcp, ok := tr.(*TCPConnection)
	if !ok {
		t.Fatalf("expected *TCPConnection, got %T", tr)
	}
	if tcp.config.Host != "192.168.1.20" || tcp.config.Port != DefaultTCPPort {
		t.Errorf("unexpected address %s:%d", tcp.config.Host, tcp.config.Port)
	}
	if tcp.config.ReadTimeout != 750*time.Millisecond {
		t.Errorf("read timeout = %s", tcp.config.ReadTimeout)
	}

	tr, err = CreateTransport(model.ConnectionTypeUSBTMC, map[string]interface{}{}, logger)
	if err != nil {
		t.Fatal(err)
	}
	if tr.GetProtocolType() != model.ConnectionTypeUSBTMC {
		t.Errorf("protocol type = %s", tr.GetProtocolType())
	}
	if tr.IsOpen() {
		t.Error("created transport must not be open")
	}

	tr, err = CreateTransport(model.ConnectionTypeSerial, map[string]interface{}{
		"port":      "/dev/ttyUSB0",
		"stop_bits": 2,
		"parity":    "even",
	}, logger)
	if err != nil {
		t.Fatal(err)
	}
	mode := serialMode(tr.(*SerialConnection).config)
	if mode.BaudRate != 9600 || mode.DataBits != 8 {
		t.Errorf("unexpected mode %+v", mode)
	}

	if _, err := CreateTransport(model.ConnectionTypeTCP, map[string]interface{}{}, logger); err == nil {
		t.Error("expected error for missing host")
	}
}

func TestUSBTMCHeaders(t *testing.T) {
	out := encodeBulkOutHeader(0x07, 6)
	if out[0] != 0x01 || out[1] != 0x07 || out[2] != 0xF8 || out[3] != 0 {
		t.Errorf("bad out header prefix % x", out[:4])
	}
	if binary.LittleEndian.Uint32(out[4:8]) != 6 || out[8] != 0x01 {
		t.Errorf("bad out header body % x", out[4:])
	}

	in := encodeBulkInHeader(0xFE, 65536)
	if in[0] != 0x02 || in[1] != 0xFE || in[2] != 0x01 {
		t.Errorf("bad in header prefix % x", in[:4])
	}
	if binary.LittleEndian.Uint32(in[4:8]) != 65536 || in[8] != 0 {
		t.Errorf("bad in header body % x", in[4:])
	}

	for n, want := range map[int]int{12: 12, 13: 16, 18: 20, 0: 0} {
		if got := alignTo4(n); got != want {
			t.Errorf("alignTo4(%d) = %d, want %d", n, got, want)
		}
	}

	uc := &USBConnection{tag: 0xFF}
	if tag := uc.nextTag(); tag != 1 {
		t.Errorf("bTag after 0xFF = %d, want 1", tag)
	}
}
