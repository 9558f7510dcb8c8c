// pkg/waveform/buffer_test.go
package waveform

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"
)

func TestPhysical(t *testing.T) {
	c := Channel{Codes: []int16{72, -10, 0}, YIncrement: 0.01}

	want := []float64{0.72, -0.1, 0}
	for i, w := range want {
		if got := c.Physical(i); math.Abs(got-w) > 1e-9 {
			t.Errorf("sample %d: got %v, want %v", i, got, w)
		}
	}
	if v := c.Volts(); len(v) != 3 || math.Abs(v[0]-0.72) > 1e-9 {
		t.Errorf("Volts() = %v", v)
	}
}

func TestWriteRaw(t *testing.T) {
	b := Buffer{Channels: []Channel{
		{Index: 0, Codes: []int16{1, -1}},
		{Index: 2, Codes: []int16{256}},
	}}

	var out bytes.Buffer
	if err := b.WriteRaw(&out); err != nil {
		t.Fatal(err)
	}

	got := make([]int16, 3)
	if err := binary.Read(&out, binary.LittleEndian, got); err != nil {
		t.Fatal(err)
	}
	if got[0] != 1 || got[1] != -1 || got[2] != 256 {
		t.Errorf("decoded %v", got)
	}
	if b.Channel(2) == nil || b.Channel(1) != nil {
		t.Error("channel lookup by index failed")
	}
}

func TestEncodeCSV(t *testing.T) {
	b := Buffer{
		SampleRate: 1000,
		Channels: []Channel{
			{Index: 0, Codes: []int16{10, 20, 30}, YIncrement: 0.5, Unit: "V"},
			{Index: 1, Codes: []int16{1, 2}, YIncrement: 1, Unit: "A"},
		},
	}

	var out bytes.Buffer
	if err := b.EncodeCSV(&out); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header plus 2 rows", len(lines))
	}
	if lines[0] != "time,CH1 (V),CH2 (A)" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[2] != "0.001,10,2" {
		t.Errorf("row = %q", lines[2])
	}
}
