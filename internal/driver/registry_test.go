// internal/driver/registry_test.go
package driver

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"scope-service/internal/model"
)

func newTestRegistry(t *testing.T, opts ...RegistryOption) *Registry {
	t.Helper()
	logger := zaptest.NewLogger(t)
	r := NewRegistry(logger, opts...)
	RegisterDefaultModels(r, logger)
	return r
}

func TestResolveKnownModels(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		model     string
		channels  int
		bandwidth int
		series    int
		hdiv      int
		logic     int
	}{
		{"DS6104", 4, 1000, 6, 14, 0},
		{"DS6062", 2, 600, 6, 14, 0},
		{"DS4034", 4, 350, 4, 14, 0},
		{"MSO4012", 2, 100, 4, 14, 0},
		{"DS2072A-S", 2, 70, 2, 14, 0},
		{"DS2102", 2, 100, 2, 14, 0},
		{"DS2302A", 2, 300, 2, 14, 0},
		{"DS1054Z", 4, 50, 1, 12, 0},
		{"DS1104Z", 4, 100, 1, 12, 0},
		{"DS1074Z-S Plus", 4, 70, 1, 12, 16},
		{"MSO1104Z-S", 4, 100, 1, 12, 0},
		{"DS1202Z-E", 2, 200, 1, 12, 0},
		{"DHO812", 2, 625, 7, 10, 0},
		{"DHO924S", 4, 625, 7, 10, 0},
	}

	for _, tt := range tests {
		caps, ok := r.Resolve(tt.model)
		if !ok {
			t.Errorf("%s: not resolved", tt.model)
			continue
		}
		if caps.ChannelCount != tt.channels || caps.Bandwidth != tt.bandwidth || caps.Series != tt.series {
			t.Errorf("%s: got {%d, %d, %d}, want {%d, %d, %d}", tt.model,
				caps.ChannelCount, caps.Bandwidth, caps.Series, tt.channels, tt.bandwidth, tt.series)
		}
		if caps.HorizontalDivisions != tt.hdiv || caps.VerticalDivisions != 8 || caps.LogicChannels != tt.logic {
			t.Errorf("%s: unexpected geometry %+v", tt.model, caps)
		}
	}

	if n := len(r.ListModels()); n != 48 {
		t.Errorf("registered %d models, want 48", n)
	}
}

func TestResolveUnknownModel(t *testing.T) {
	r := newTestRegistry(t)

	for _, name := range []string{"", "DS1104", "ds1104z", "DSOX1204G", "DS1104Z-X"} {
		if _, ok := r.Resolve(name); ok {
			t.Errorf("%q: unexpectedly resolved", name)
		}
		if r.IsSupported(name) {
			t.Errorf("%q: unexpectedly supported", name)
		}
	}
}

func TestRegisterIgnoresIncompleteRecords(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))

	r.Register(Capabilities{Model: "DS0000", Bandwidth: 100, Series: 1})
	r.Register(Capabilities{Model: "DS0001", ChannelCount: 2, Series: 1})
	r.Register(Capabilities{Model: "DS0002", ChannelCount: 2, Bandwidth: 100})
	r.Register(Capabilities{Model: "DS0003", ChannelCount: 2, Bandwidth: 100, Series: 2})

	if got := r.ListModels(); len(got) != 1 || got[0] != "DS0003" {
		t.Errorf("models = %v, want [DS0003]", got)
	}
}

func TestBestEffort(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		model     string
		series    int
		channels  int
		bandwidth int
	}{
		{"DS1204Z", 1, 4, 200},
		{"MSO2302A", 2, 2, 300},
		{"DS8104", 0, 4, 100},
		{"DHO1074", 7, 4, 625},
		{"XYZ", 0, 2, 50},
	}

	for _, tt := range tests {
		caps := r.BestEffort(tt.model)
		if caps.Series != tt.series || caps.ChannelCount != tt.channels || caps.Bandwidth != tt.bandwidth {
			t.Errorf("%s: got %+v", tt.model, caps)
		}
		if caps.HorizontalDivisions == 0 || caps.VerticalDivisions == 0 || caps.LogicChannels != 0 {
			t.Errorf("%s: geometry missing %+v", tt.model, caps)
		}
	}
}

func TestExtraVerticalDivisions(t *testing.T) {
	r := newTestRegistry(t, WithExtraVerticalDivisions(true))

	caps, _ := r.Resolve("DS1104Z")
	if caps.VerticalDivisions != 10 {
		t.Errorf("series 1 vertical divisions = %d, want 10", caps.VerticalDivisions)
	}
	caps, _ = r.Resolve("DS6104")
	if caps.VerticalDivisions != 8 {
		t.Errorf("series 6 vertical divisions = %d, want 8", caps.VerticalDivisions)
	}
}

func TestClassify(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		model string
		want  model.Compatibility
	}{
		{"DS1104Z", model.CompatibilitySupported},
		{"DS6104", model.CompatibilitySupported},
		{"DHO804", model.CompatibilityExperimental},
		{"DS2202A", model.CompatibilityUntested},
		{"DS4054", model.CompatibilityUntested},
	}

	for _, tt := range tests {
		caps, ok := r.Resolve(tt.model)
		got, warning := Classify(caps, ok)
		if got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.model, got, tt.want)
		}
		if (warning == "") != (got == model.CompatibilitySupported) {
			t.Errorf("%s: unexpected warning %q", tt.model, warning)
		}
	}

	got, _ := Classify(r.BestEffort("DS9999"), false)
	if got != model.CompatibilityUnknownModel || !NeedsConfirmation(got) {
		t.Errorf("unknown model classified as %s", got)
	}
	if NeedsConfirmation(model.CompatibilityExperimental) {
		t.Error("experimental series does not need confirmation")
	}
}

func TestDialectFor(t *testing.T) {
	d1 := DialectFor(1)
	if d1.HasImpedance || d1.HasHorizontalReference || d1.ScreenPoints != 1200 || d1.SetScreenPoints {
		t.Errorf("series 1 flags: %+v", d1)
	}
	if d1.Decode.Mode != ":DEC1:MODE?" || d1.Decode.UART.TXThreshold != "" || d1.Decode.UART.ThresholdScale != 1 {
		t.Errorf("series 1 decode dialect: %+v", d1.Decode)
	}
	if d1.FFT.Mode != "" || d1.FFT.Display != ":MATH:DISP?" || d1.Record.EnableIsMode {
		t.Errorf("series 1 FFT dialect: %+v", d1.FFT)
	}

	d2 := DialectFor(2)
	if !d2.HasImpedance || d2.HasXYDisplays || d2.DisplayClear != ":DISP:CLE" {
		t.Errorf("series 2 flags: %+v", d2)
	}
	if d2.Decode.UART.ThresholdScale != 10 || d2.Decode.Position != ":BUS1:SPI:OFFS?" {
		t.Errorf("series 2 decode dialect: %+v", d2.Decode)
	}

	d4 := DialectFor(4)
	if !d4.HasXYDisplays || d4.DisplayClear != ":CLE" || d4.FFT.Mode != ":CALC:MODE?" || !d4.Record.EnableIsMode {
		t.Errorf("series 4 dialect: %+v", d4)
	}

	d7 := DialectFor(7)
	if d7.HasImpedance || d7.HasFFTSplit || d7.TriggerEdgeSource != ":TRIGger:EDGe:SOURce?" {
		t.Errorf("series 7 flags: %+v", d7)
	}
	if d7.Decode.Position != ":BUS1:POSition?" || d7.FFT.VScale != ":MATH1:SCAL?" || d7.Record.Enable != ":RECord:WRECord:ENABle?" {
		t.Errorf("series 7 dialect: %+v", d7)
	}
}
