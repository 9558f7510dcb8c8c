// internal/scpi/identity_test.go
package scpi

import (
	"context"
	"errors"
	"testing"

	"scope-service/internal/protocol/protocoltest"
)

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity("RIGOL TECHNOLOGIES,DS1104Z,DS1ZA170000000,00.04.04.SP3;extra\n")
	if err != nil {
		t.Fatal(err)
	}
	want := Identity{Vendor: "RIGOL TECHNOLOGIES", Model: "DS1104Z", Serial: "DS1ZA170000000", Firmware: "00.04.04.SP3"}
	if id != want {
		t.Errorf("got %+v, want %+v", id, want)
	}

	if id, err := ParseIdentity("NK TECHNOLOGIES,DHO804,HD8A000001,00.01.02"); err != nil || id.Model != "DHO804" {
		t.Errorf("NK vendor: %+v, %v", id, err)
	}

	bad := []string{
		"",
		"RIGOL TECHNOLOGIES",
		"RIGOL TECHNOLOGIES,DS1104Z,DS1ZA1",
		"RIGOL TECHNOLOGIES,DS1104Z,DS1ZA1,00.04.04,EXTRA",
		"Rigol Technologies,DS1104Z,DS1ZA1,00.04.04",
		"KEYSIGHT TECHNOLOGIES,DSOX1204G,MY1,02.10",
		"RIGOL TECHNOLOGIES,,DS1ZA1,00.04.04",
	}
	for _, resp := range bad {
		_, err := ParseIdentity(resp)
		var se *Error
		if !errors.As(err, &se) || se.Kind != KindUnknownIdentity {
			t.Errorf("%q: expected unknown identity, got %v", resp, err)
			continue
		}
		if !errors.Is(err, ErrUnknownIdentity) || se.Command != "*IDN?" {
			t.Errorf("%q: diagnostics missing: %#v", resp, se)
		}
	}
}

func TestIdentify(t *testing.T) {
	fake := protocoltest.New().Reply("*IDN?", "RIGOL TECHNOLOGIES,DS2202A,DS2D1,00.03.05")
	s := newTestSession(t, fake)

	id, err := s.Identify(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id.Model != "DS2202A" || id.Firmware != "00.03.05" {
		t.Errorf("unexpected identity %+v", id)
	}
	if w := fake.Written(); len(w) != 1 || w[0] != "*IDN?" {
		t.Errorf("written = %v", w)
	}
}

func TestParseBlock(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"#15hello", "hello", false},
		{"#15hello\n", "hello", false},
		{"#210abcdefghij", "abcdefghij", false},
		{"#0free form\n", "free form", false},
		{"#9000000000", "", false},
		{"#15hel", "", true},
		{"hello", "", true},
		{"#", "", true},
		{"#x5hello", "", true},
		{"#3ab", "", true},
	}

	for _, tt := range tests {
		got, err := ParseBlock([]byte(tt.in))
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBlock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && string(got) != tt.want {
			t.Errorf("ParseBlock(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := ParseBlock([]byte("#15hel")); !errors.Is(err, ErrShortBlock) {
		t.Errorf("expected ErrShortBlock, got %v", err)
	}
}

func TestParsePreamble(t *testing.T) {
	p, err := ParsePreamble("0,0,1200,1,1.000000e-08,-6.000000e-06,0,4.000000e-02,0,127\n")
	if err != nil {
		t.Fatal(err)
	}
	if p.Points != 1200 || p.Count != 1 || p.XIncrement != 1e-8 || p.YIncrement != 0.04 || p.YReference != 127 || p.XOrigin != -6e-6 {
		t.Errorf("unexpected preamble %+v", p)
	}

	for _, bad := range []string{
		"0,0,1200,1",
		"0,0,1200,1,1e-8,0,0,0.04,0",
		"0,0,1200,1,1e-8,0,0,0.04,0,127,9",
		"0,0,abcd,1,1e-8,0,0,0.04,0,127",
		"0,0,1200,1,1e-8,0,0,zzzz,0,127",
	} {
		if _, err := ParsePreamble(bad); !errors.Is(err, ErrProtocol) {
			t.Errorf("%q: expected ErrProtocol, got %v", bad, err)
		}
	}
}
