// internal/driver/registry.go
package driver

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"
)

// Default screen geometry in divisions
const (
	DefaultHorizontalDivisions = 14
	DefaultVerticalDivisions   = 8
)

// Capabilities describes the fixed properties of an oscilloscope model
type Capabilities struct {
	Model               string `json:"model"`
	ChannelCount        int    `json:"channel_count"`
	Bandwidth           int    `json:"bandwidth_mhz"`
	Series              int    `json:"series"`
	HorizontalDivisions int    `json:"horizontal_divisions"`
	VerticalDivisions   int    `json:"vertical_divisions"`
	LogicChannels       int    `json:"logic_channels"`
}

// Valid reports whether the record carries everything a session needs
func (c Capabilities) Valid() bool {
	return c.ChannelCount > 0 && c.Bandwidth > 0 && c.Series > 0
}

// Registry maps identification model strings to capabilities
type Registry struct {
	models map[string]Capabilities
	mu     sync.RWMutex
	logger *zap.Logger

	// extraVerticalDivisions switches series 1 to ten vertical divisions
	extraVerticalDivisions bool
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithExtraVerticalDivisions uses ten vertical divisions on series 1
// instruments, matching their optional extended screen layout
func WithExtraVerticalDivisions(enabled bool) RegistryOption {
	return func(r *Registry) {
		r.extraVerticalDivisions = enabled
	}
}

// NewRegistry creates a new model registry
func NewRegistry(logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		models: make(map[string]Capabilities),
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a model. Division counts left at zero are filled from the
// series defaults. Records without channels, bandwidth or series are
// ignored.
func (r *Registry) Register(caps Capabilities) {
	if !caps.Valid() {
		r.logger.Warn("Incomplete model record ignored", zap.String("model", caps.Model))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	caps = r.withGeometry(caps)
	r.models[caps.Model] = caps
	r.logger.Debug("Model registered",
		zap.String("model", caps.Model),
		zap.Int("series", caps.Series),
		zap.Int("channels", caps.ChannelCount),
		zap.Int("bandwidth_mhz", caps.Bandwidth),
	)
}

// Resolve looks up a model by its exact identification string
func (r *Registry) Resolve(model string) (Capabilities, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps, exists := r.models[strings.TrimSpace(model)]
	return caps, exists
}

// BestEffort derives a reduced capability record for a model that is not
// in the table. The series is guessed from the family prefix, the channel
// count from the last digit of the model number and the bandwidth from the
// two digits before it. No logic channels are assumed.
func (r *Registry) BestEffort(model string) Capabilities {
	model = strings.TrimSpace(model)
	caps := Capabilities{Model: model, ChannelCount: 2}

	upper := strings.ToUpper(model)
	prefix := ""
	for _, p := range []string{"MSO", "DHO", "DS"} {
		if strings.HasPrefix(upper, p) {
			prefix = p
			break
		}
	}

	digits := leadingDigits(upper[len(prefix):])

	switch {
	case prefix == "DHO":
		caps.Series = 7
	case prefix != "" && len(digits) > 0:
		switch digits[0] {
		case '1':
			caps.Series = 1
		case '2':
			caps.Series = 2
		case '4':
			caps.Series = 4
		case '6':
			caps.Series = 6
		}
	}

	if n := len(digits); n > 0 {
		if last := digits[n-1]; last == '4' {
			caps.ChannelCount = 4
		}
	}

	switch {
	case caps.Series == 7:
		caps.Bandwidth = 625
	case len(digits) == 4:
		caps.Bandwidth = (int(digits[1]-'0')*10 + int(digits[2]-'0')) * 10
	}
	if caps.Bandwidth <= 0 {
		caps.Bandwidth = 50
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.withGeometry(caps)
}

// ListModels returns the registered model names in sorted order
func (r *Registry) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsSupported checks if a model is in the table
func (r *Registry) IsSupported(model string) bool {
	_, exists := r.Resolve(model)
	return exists
}

// GetSupportedSeries returns the distinct series of registered models
func (r *Registry) GetSupportedSeries() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seriesSet := make(map[int]bool)
	for _, caps := range r.models {
		seriesSet[caps.Series] = true
	}

	series := make([]int, 0, len(seriesSet))
	for s := range seriesSet {
		series = append(series, s)
	}
	sort.Ints(series)
	return series
}

func (r *Registry) withGeometry(caps Capabilities) Capabilities {
	if caps.HorizontalDivisions == 0 {
		switch caps.Series {
		case 1:
			caps.HorizontalDivisions = 12
		case 7:
			caps.HorizontalDivisions = 10
		default:
			caps.HorizontalDivisions = DefaultHorizontalDivisions
		}
	}
	if caps.VerticalDivisions == 0 {
		caps.VerticalDivisions = DefaultVerticalDivisions
		if caps.Series == 1 && r.extraVerticalDivisions {
			caps.VerticalDivisions = 10
		}
	}
	return caps
}

func leadingDigits(s string) string {
	end := 0
	for end < len(s) && unicode.IsDigit(rune(s[end])) {
		end++
	}
	return s[:end]
}
