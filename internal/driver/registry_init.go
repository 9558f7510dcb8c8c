// internal/driver/registry_init.go
package driver

import (
	"go.uber.org/zap"
)

// RegisterDefaultModels registers all known oscilloscope models
func RegisterDefaultModels(registry *Registry, logger *zap.Logger) {
	registerDS6000Models(registry)
	registerDS4000Models(registry)
	registerDS2000Models(registry)
	registerDS1000ZModels(registry)
	registerDHOModels(registry)

	logger.Info("Oscilloscope models registered",
		zap.Int("count", len(registry.ListModels())),
		zap.Ints("series", registry.GetSupportedSeries()),
	)
}

// registerDS6000Models registers the DS6000 family
func registerDS6000Models(registry *Registry) {
	registry.Register(Capabilities{Model: "DS6104", ChannelCount: 4, Bandwidth: 1000, Series: 6})
	registry.Register(Capabilities{Model: "DS6064", ChannelCount: 4, Bandwidth: 600, Series: 6})
	registry.Register(Capabilities{Model: "DS6102", ChannelCount: 2, Bandwidth: 1000, Series: 6})
	registry.Register(Capabilities{Model: "DS6062", ChannelCount: 2, Bandwidth: 600, Series: 6})
}

// registerDS4000Models registers the DS4000 and MSO4000 families
func registerDS4000Models(registry *Registry) {
	for _, m := range []struct {
		name      string
		channels  int
		bandwidth int
	}{
		{"DS4012", 2, 100},
		{"DS4014", 4, 100},
		{"DS4022", 2, 200},
		{"DS4024", 4, 200},
		{"DS4032", 2, 350},
		{"DS4034", 4, 350},
		{"DS4052", 2, 500},
		{"DS4054", 4, 500},
		{"MSO4012", 2, 100},
		{"MSO4024", 4, 200},
	} {
		registry.Register(Capabilities{Model: m.name, ChannelCount: m.channels, Bandwidth: m.bandwidth, Series: 4})
	}
}

// registerDS2000Models registers the DS2000 and DS2000A families,
// including the -S variants with the built-in generator
func registerDS2000Models(registry *Registry) {
	registry.Register(Capabilities{Model: "DS2072A", ChannelCount: 2, Bandwidth: 70, Series: 2})
	registry.Register(Capabilities{Model: "DS2072A-S", ChannelCount: 2, Bandwidth: 70, Series: 2})

	for _, m := range []struct {
		base      string
		bandwidth int
	}{
		{"DS2102", 100},
		{"DS2202", 200},
		{"DS2302", 300},
	} {
		for _, name := range []string{m.base, m.base + "A", m.base + "A-S"} {
			registry.Register(Capabilities{Model: name, ChannelCount: 2, Bandwidth: m.bandwidth, Series: 2})
		}
	}
}

// registerDS1000ZModels registers the DS1000Z and MSO1000Z families. The
// Plus variants carry the 16 channel logic analyzer.
func registerDS1000ZModels(registry *Registry) {
	registry.Register(Capabilities{Model: "DS1054Z", ChannelCount: 4, Bandwidth: 50, Series: 1})

	for _, m := range []struct {
		number    string
		bandwidth int
	}{
		{"1074", 70},
		{"1104", 100},
	} {
		registry.Register(Capabilities{Model: "DS" + m.number + "Z", ChannelCount: 4, Bandwidth: m.bandwidth, Series: 1})
		registry.Register(Capabilities{Model: "DS" + m.number + "Z-S", ChannelCount: 4, Bandwidth: m.bandwidth, Series: 1})
		registry.Register(Capabilities{Model: "DS" + m.number + "Z Plus", ChannelCount: 4, Bandwidth: m.bandwidth, Series: 1, LogicChannels: 16})
		registry.Register(Capabilities{Model: "DS" + m.number + "Z-S Plus", ChannelCount: 4, Bandwidth: m.bandwidth, Series: 1, LogicChannels: 16})
		registry.Register(Capabilities{Model: "MSO" + m.number + "Z", ChannelCount: 4, Bandwidth: m.bandwidth, Series: 1})
		registry.Register(Capabilities{Model: "MSO" + m.number + "Z-S", ChannelCount: 4, Bandwidth: m.bandwidth, Series: 1})
	}

	registry.Register(Capabilities{Model: "DS1202Z-E", ChannelCount: 2, Bandwidth: 200, Series: 1})
	registry.Register(Capabilities{Model: "DS1102Z-E", ChannelCount: 2, Bandwidth: 100, Series: 1})
}

// registerDHOModels registers the DHO800 and DHO900 families
func registerDHOModels(registry *Registry) {
	for _, name := range []string{"DHO802", "DHO812"} {
		registry.Register(Capabilities{Model: name, ChannelCount: 2, Bandwidth: 625, Series: 7})
	}
	for _, name := range []string{"DHO804", "DHO814", "DHO914", "DHO924", "DHO914S", "DHO924S"} {
		registry.Register(Capabilities{Model: name, ChannelCount: 4, Bandwidth: 625, Series: 7})
	}
}
