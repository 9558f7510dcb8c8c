// internal/metric/metric_test.go
package metric

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestToMetricSuffix(t *testing.T) {
	tests := []struct {
		value    float64
		decimals int
		want     string
	}{
		{5e-13, 3, "0.000 "},
		{0.0005, 3, "500.000u"},
		{1, 3, "1.000 "},
		{1500, 3, "1.500K"},
		{2.5e9, 3, "2.500G"},
		{-2.5e9, 3, "-2.500G"},
		{3.3e12, 1, "3.3T"},
		{4.7e6, 2, "4.70M"},
		{0.02, 0, "20m"},
		{1.5e-8, 3, "15.000n"},
		{2e-11, 2, "20.00p"},
		{-0.001, 3, "-1.000m"},
		{0, 3, "0.000 "},
		{123.456, 2, "123.46 "},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%g/%d", tt.value, tt.decimals), func(t *testing.T) {
			if got := ToMetricSuffix(tt.value, tt.decimals); got != tt.want {
				t.Errorf("ToMetricSuffix(%g, %d) = %q, want %q", tt.value, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestToMetricSuffixDecimalsFallback(t *testing.T) {
	for _, d := range []int{-1, 7, 100} {
		if got := ToMetricSuffix(1500, d); got != "1.500K" {
			t.Errorf("decimals %d: got %q, want %q", d, got, "1.500K")
		}
	}
	if got := ToMetricSuffix(1500, 6); got != "1.500000K" {
		t.Errorf("decimals 6: got %q", got)
	}
	if got := ToMetricSuffix(1500, 0); got != "2K" {
		t.Errorf("decimals 0: got %q", got)
	}
}

func TestParseMetric(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"2.5m", 0.0025},
		{"100uV", 100e-6},
		{"-1.2 KHz", -1200},
		{"1.5k", 1500},
		{"5e-3", 0.005},
		{"10 V", 10},
		{"3.3G", 3.3e9},
		{"47n", 47e-9},
		{"  20  ", 20},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMetric(tt.in)
			if err != nil {
				t.Fatalf("ParseMetric(%q): %v", tt.in, err)
			}
			if DblCmp(got, tt.want) != 0 && math.Abs(got-tt.want) > math.Abs(tt.want)*1e-12 {
				t.Errorf("ParseMetric(%q) = %g, want %g", tt.in, got, tt.want)
			}
		})
	}

	for _, bad := range []string{"", "abc", "m"} {
		if _, err := ParseMetric(bad); err == nil {
			t.Errorf("ParseMetric(%q) expected error", bad)
		}
	}
}

func TestParseMetricRange(t *testing.T) {
	// exponents are checked before any expansion, so these return at once
	for _, in := range []string{"1e400", "2e308", "1e9999999", "1e99999999", "-3e500", "1e300T"} {
		start := time.Now()
		if v, err := ParseMetric(in); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("ParseMetric(%q) = %g, %v, want ErrOutOfRange", in, v, err)
		}
		if d := time.Since(start); d > time.Second {
			t.Errorf("ParseMetric(%q) took %v", in, d)
		}
	}

	if v, err := ParseMetric("1e-99999999"); err != nil || v != 0 {
		t.Errorf("tiny value = %g, %v, want 0", v, err)
	}
	if v, err := ParseMetric("1.5e308"); err != nil || v != 1.5e308 {
		t.Errorf("1.5e308 = %g, %v", v, err)
	}
	if v, err := ParseMetric("0e999"); err != nil || v != 0 {
		t.Errorf("zero = %g, %v", v, err)
	}
}

func TestParseMetricRoundTrip(t *testing.T) {
	for _, v := range []float64{0.0005, 1500, 2.5e9, 2e-11, -0.02} {
		text := ToMetricSuffix(v, 6)
		got, err := ParseMetric(text)
		if err != nil {
			t.Fatalf("ParseMetric(%q): %v", text, err)
		}
		if math.Abs(got-v) > math.Abs(v)*1e-9 {
			t.Errorf("round trip %g -> %q -> %g", v, text, got)
		}
	}
}

func TestDblCmp(t *testing.T) {
	tests := []struct {
		a, b float64
		want int
	}{
		{1e-13, 0, 0},
		{0, 1e-13, 0},
		{2e-13, 0, 1},
		{0, 2e-13, -1},
		{1, 1, 0},
		{1, 2, -1},
		{2, 1, 1},
		{-5, -5, 0},
	}

	for _, tt := range tests {
		if got := DblCmp(tt.a, tt.b); got != tt.want {
			t.Errorf("DblCmp(%g, %g) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestRoundUpStep125(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{1, 2},
		{2, 5},
		{5, 10},
		{0.1, 0.2},
		{0.5, 1},
		{200e-6, 500e-6},
		{1e-9, 2e-9},
		{3, 5},
		{7, 10},
		{50, 100},
	}

	for _, tt := range tests {
		got := RoundUpStep125(tt.in)
		if math.Abs(got-tt.want) > tt.want*1e-9 {
			t.Errorf("RoundUpStep125(%g) = %g, want %g", tt.in, got, tt.want)
		}
	}
}

func TestRoundDownStep125(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{1, 0.5},
		{2, 1},
		{5, 2},
		{10, 5},
		{0.2, 0.1},
		{500e-6, 200e-6},
		{7, 5},
	}

	for _, tt := range tests {
		got := RoundDownStep125(tt.in)
		if math.Abs(got-tt.want) > tt.want*1e-9 {
			t.Errorf("RoundDownStep125(%g) = %g, want %g", tt.in, got, tt.want)
		}
	}
}

func TestStep125NonPositive(t *testing.T) {
	for _, v := range []float64{0, -1, math.NaN()} {
		if got := RoundUpStep125(v); got != 0 {
			t.Errorf("RoundUpStep125(%g) = %g, want 0", v, got)
		}
		if got := RoundDownStep125(v); got != 0 {
			t.Errorf("RoundDownStep125(%g) = %g, want 0", v, got)
		}
	}
}

func TestStep125Sequence(t *testing.T) {
	// up then down on a 1-2-5 value returns the same value
	seq := []float64{1e-9, 2e-9, 5e-9, 1e-6, 2e-3, 5e-3, 0.1, 1, 2, 5, 10, 20, 50}
	for _, v := range seq {
		up := RoundUpStep125(v)
		down := RoundDownStep125(up)
		if math.Abs(down-v) > v*1e-9 {
			t.Errorf("down(up(%g)) = %g", v, down)
		}
		if up <= v {
			t.Errorf("up(%g) = %g is not larger", v, up)
		}
	}

	// for any x, down(up(x)) does not exceed the 1-2-5 value at or above x
	for _, x := range []float64{0.3, 1.3, 1.6, 3.7, 4.6, 8.2, 9.6, 42, 0.0071, 2, 5e-6} {
		down := RoundDownStep125(RoundUpStep125(x))
		if limit := ceil125(x); down > limit*(1+1e-9) {
			t.Errorf("down(up(%g)) = %g, above %g", x, down, limit)
		}
	}
}

// ceil125 returns the smallest 1-2-5 value not below x
func ceil125(x float64) float64 {
	decade := math.Pow(10, math.Floor(math.Log10(x)))
	for _, m := range []float64{1, 2, 5} {
		if m*decade >= x*(1-1e-12) {
			return m * decade
		}
	}
	return 10 * decade
}

func TestStep125Ratio(t *testing.T) {
	if _, r := RoundUpStep125Ratio(2); r != 2.5 {
		t.Errorf("ratio for 2 -> 5 = %g, want 2.5", r)
	}
	if _, r := RoundDownStep125Ratio(5); r != 2.5 {
		t.Errorf("ratio for 5 -> 2 = %g, want 2.5", r)
	}
}

func TestRoundTo3Digits(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{1.23456, 1.23},
		{123456, 123000},
		{-0.0045678, -0.00457},
		{0, 0},
	}

	for _, tt := range tests {
		got := RoundTo3Digits(tt.in)
		if math.Abs(got-tt.want) > math.Abs(tt.want)*1e-9 {
			t.Errorf("RoundTo3Digits(%g) = %g, want %g", tt.in, got, tt.want)
		}
	}
}

func TestRound125Category(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{1, 10},
		{2, 20},
		{5, 50},
		{0.7, 10},
		{-0.02, 20},
		{0, 10},
	}

	for _, tt := range tests {
		if got := Round125Category(tt.in); got != tt.want {
			t.Errorf("Round125Category(%g) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func ExampleToMetricSuffix() {
	fmt.Println(ToMetricSuffix(0.0005, 3))
	fmt.Println(ToMetricSuffix(2.5e9, 1))
	// Output:
	// 500.000u
	// 2.5G
}
