// internal/metric/metric.go
package metric

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance used by DblCmp
const Epsilon = 1e-13

var epsilon = new(big.Float).SetPrec(256).SetFloat64(Epsilon)

// ErrOutOfRange reports a value that does not fit a float64
var ErrOutOfRange = errors.New("value out of range")

// float64 covers decimal exponents from about -324 to 308
const (
	maxMagnitude = 308
	minMagnitude = -330
)

var suffixExponents = map[byte]int32{
	'p': -12,
	'n': -9,
	'u': -6,
	'm': -3,
	'k': 3,
	'K': 3,
	'M': 6,
	'G': 9,
	'T': 12,
}

// ToMetricSuffix formats value with the given number of decimals and an
// engineering suffix (p n u m K M G T). Values without a suffix end in a
// space so readouts keep their width. Decimals outside 0..6 fall back to 3.
func ToMetricSuffix(value float64, decimals int) string {
	mag := math.Abs(value)
	suffix := byte(' ')

	switch {
	case mag > 0.999999e12 && mag < 0.999999e15:
		mag /= 1e12
		suffix = 'T'
	case mag > 0.999999e9:
		mag /= 1e9
		suffix = 'G'
	case mag > 0.999999e6:
		mag /= 1e6
		suffix = 'M'
	case mag > 0.999999e3:
		mag /= 1e3
		suffix = 'K'
	case mag > 0.999999e-3 && mag < 0.999999:
		mag *= 1e3
		suffix = 'm'
	case mag > 0.999999e-6 && mag < 0.999999e-3:
		mag *= 1e6
		suffix = 'u'
	case mag > 0.999999e-9 && mag < 0.999999e-6:
		mag *= 1e9
		suffix = 'n'
	case mag > 0.999999e-12 && mag < 0.999999e-9:
		mag *= 1e12
		suffix = 'p'
	}

	if decimals < 0 || decimals > 6 {
		decimals = 3
	}

	if value < 0 {
		mag = -mag
	}

	return fmt.Sprintf("%.*f%c", decimals, mag, suffix)
}

// ParseMetric parses a number with an optional engineering suffix and
// trailing unit letters, e.g. "2.5m", "100uV", "-1.2 KHz", "5e-3".
func ParseMetric(text string) (float64, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}

	end := 0
	for end < len(s) && strings.IndexByte("+-.0123456789eE", s[end]) >= 0 {
		// an 'e' not followed by a digit or sign is a unit, not an exponent
		if (s[end] == 'e' || s[end] == 'E') && (end+1 >= len(s) || strings.IndexByte("+-0123456789", s[end+1]) < 0) {
			break
		}
		end++
	}

	num, err := decimal.NewFromString(s[:end])
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", text, err)
	}

	rest := strings.TrimSpace(s[end:])
	if rest != "" {
		if exp, ok := suffixExponents[rest[0]]; ok {
			// a lone "m" is milli; "mV" is milli-volt
			num = num.Shift(exp)
		}
	}

	if num.IsZero() {
		return 0, nil
	}

	// decimal exponent of the leading digit; checked before Float64,
	// which expands the coefficient by 10^exp
	magnitude := int64(num.NumDigits()) + int64(num.Exponent()) - 1
	switch {
	case magnitude > maxMagnitude:
		return 0, fmt.Errorf("value %q: %w", text, ErrOutOfRange)
	case magnitude < minMagnitude:
		return 0, nil
	}

	f, _ := num.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("value %q: %w", text, ErrOutOfRange)
	}
	return f, nil
}

// DblCmp compares two values with a tolerance of Epsilon, evaluated in
// extended precision. It returns -1, 0 or 1.
func DblCmp(a, b float64) int {
	diff := new(big.Float).SetPrec(256).SetFloat64(a)
	diff.Sub(diff, new(big.Float).SetPrec(256).SetFloat64(b))

	if diff.Cmp(epsilon) > 0 {
		return 1
	}
	if diff.Neg(diff).Cmp(epsilon) > 0 {
		return -1
	}
	return 0
}

// normalize scales v into [lo, hi] by powers of ten and returns the exponent
func normalize(v, lo, hi float64) (float64, int) {
	exp := 0
	for v < lo {
		v *= 10
		exp--
	}
	for v > hi {
		v /= 10
		exp++
	}
	return v, exp
}

func rescale(v float64, exp int) float64 {
	for i := 0; i < exp; i++ {
		v *= 10
	}
	for i := 0; i > exp; i-- {
		v /= 10
	}
	return v
}

// RoundUpStep125 returns the next value in the 1-2-5 sequence above value
func RoundUpStep125(value float64) float64 {
	v, _ := RoundUpStep125Ratio(value)
	return v
}

// RoundUpStep125Ratio is RoundUpStep125 that also returns the step ratio
// (2 or 2.5) between the input decade step and the result.
func RoundUpStep125Ratio(value float64) (float64, float64) {
	if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, 0
	}

	v, exp := normalize(value, 0.999, 9.999)
	v = math.RoundToEven(v)

	var step, ratio float64
	switch {
	case v > 4.999:
		step, ratio = 10, 2
	case v > 1.999:
		step, ratio = 5, 2.5
	default:
		step, ratio = 2, 2
	}

	step = rescale(step, exp)
	if step < 1e-13 && step > -1e-13 {
		return 0, ratio
	}
	return step, ratio
}

// RoundDownStep125 returns the previous value in the 1-2-5 sequence below value
func RoundDownStep125(value float64) float64 {
	v, _ := RoundDownStep125Ratio(value)
	return v
}

// RoundDownStep125Ratio is RoundDownStep125 that also returns the step ratio
func RoundDownStep125Ratio(value float64) (float64, float64) {
	if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, 0
	}

	v, exp := normalize(value, 0.999, 9.999)
	v = math.RoundToEven(v)

	var step, ratio float64
	switch {
	case v < 1.001:
		step, ratio = 0.5, 2
	case v < 2.001:
		step, ratio = 1, 2
	case v < 5.001:
		step, ratio = 2, 2.5
	default:
		step, ratio = 5, 2
	}

	step = rescale(step, exp)
	if step < 1e-13 && step > -1e-13 {
		return 0, ratio
	}
	return step, ratio
}

// RoundTo3Digits rounds value to three significant digits
func RoundTo3Digits(value float64) float64 {
	if DblCmp(value, 0) == 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}

	sign := 1.0
	if value < 0 {
		sign = -1
		value = -value
	}

	v, exp := normalize(value, 99.999, 999.999)
	return rescale(math.RoundToEven(v), exp) * sign
}

// Round125Category classifies value by its leading digits into the
// grid subdivision used for scale readouts: 10, 20 or 50.
func Round125Category(value float64) int {
	value = math.Abs(value)
	if value < 0.000001 || math.IsInf(value, 0) || math.IsNaN(value) {
		return 10
	}

	for value > 1000 {
		value /= 10
	}
	for value < 100 {
		value *= 10
	}

	switch {
	case value > 670:
		return 10
	case value > 300:
		return 50
	case value > 135:
		return 20
	default:
		return 10
	}
}
