// internal/model/settings.go
package model

// MaxChannels is the number of analog channel slots in a settings snapshot
const MaxChannels = 4

// Coupling represents channel input coupling
type Coupling int

const (
	CouplingGND Coupling = 0
	CouplingDC  Coupling = 1
	CouplingAC  Coupling = 2
)

// Impedance represents channel input impedance
type Impedance int

const (
	ImpedanceOneMeg Impedance = 0
	ImpedanceFifty  Impedance = 1
)

// ChannelUnit represents the vertical unit of a channel
type ChannelUnit int

const (
	UnitVolt    ChannelUnit = 0
	UnitWatt    ChannelUnit = 1
	UnitAmpere  ChannelUnit = 2
	UnitUnknown ChannelUnit = 3
)

// Symbol returns the unit letter used in readouts
func (u ChannelUnit) Symbol() string {
	switch u {
	case UnitWatt:
		return "W"
	case UnitAmpere:
		return "A"
	case UnitUnknown:
		return "U"
	default:
		return "V"
	}
}

// TimebaseMode represents the horizontal display mode
type TimebaseMode int

const (
	TimebaseMain TimebaseMode = 0
	TimebaseXY   TimebaseMode = 1
	TimebaseRoll TimebaseMode = 2
)

// HorizontalReference represents the horizontal expansion reference
type HorizontalReference int

const (
	HRefCenter          HorizontalReference = 0
	HRefTriggerPosition HorizontalReference = 1
	HRefUser            HorizontalReference = 2
)

// TriggerCoupling represents trigger coupling
type TriggerCoupling int

const (
	TriggerCouplingAC  TriggerCoupling = 0
	TriggerCouplingDC  TriggerCoupling = 1
	TriggerCouplingLFR TriggerCoupling = 2
	TriggerCouplingHFR TriggerCoupling = 3
)

// TriggerSweep represents the trigger sweep mode
type TriggerSweep int

const (
	SweepAuto   TriggerSweep = 0
	SweepNormal TriggerSweep = 1
	SweepSingle TriggerSweep = 2
)

// TriggerMode represents the trigger type
type TriggerMode int

const (
	TriggerEdge TriggerMode = iota
	TriggerPulse
	TriggerModeSlope
	TriggerVideo
	TriggerPattern
	TriggerRS232
	TriggerIIC
	TriggerSPI
	TriggerCAN
	TriggerUSB
	TriggerWindow
	TriggerRunt
	TriggerDuration
	TriggerDelay
	TriggerTimeout
	TriggerNthEdge
	TriggerSetupHold
)

// TriggerStatus represents the acquisition trigger state
type TriggerStatus int

const (
	TriggerStatusTriggered TriggerStatus = 0
	TriggerStatusWait      TriggerStatus = 1
	TriggerStatusRun       TriggerStatus = 2
	TriggerStatusAuto      TriggerStatus = 3
	TriggerStatusFinished  TriggerStatus = 4
	TriggerStatusStop      TriggerStatus = 5
)

// String returns the instrument token for the status
func (s TriggerStatus) String() string {
	switch s {
	case TriggerStatusTriggered:
		return "TD"
	case TriggerStatusWait:
		return "WAIT"
	case TriggerStatusRun:
		return "RUN"
	case TriggerStatusAuto:
		return "AUTO"
	case TriggerStatusFinished:
		return "FIN"
	case TriggerStatusStop:
		return "STOP"
	}
	return "UNKNOWN"
}

// TriggerSlope represents the edge trigger slope
type TriggerSlope int

const (
	SlopePositive TriggerSlope = 0
	SlopeNegative TriggerSlope = 1
	SlopeEither   TriggerSlope = 2
)

// TriggerSource represents the edge trigger source.
// Values 0..3 are analog channels, 7+n is logic channel Dn.
type TriggerSource int

const (
	TriggerSourceChan1   TriggerSource = 0
	TriggerSourceChan2   TriggerSource = 1
	TriggerSourceChan3   TriggerSource = 2
	TriggerSourceChan4   TriggerSource = 3
	TriggerSourceExt     TriggerSource = 4
	TriggerSourceExt5    TriggerSource = 5
	TriggerSourceACLine  TriggerSource = 6
	TriggerSourceLogicD0 TriggerSource = 7
)

// IsChannel reports whether the source is an analog channel
func (s TriggerSource) IsChannel() bool {
	return s >= TriggerSourceChan1 && s <= TriggerSourceChan4
}

// IsLogic reports whether the source is a logic analyzer input
func (s TriggerSource) IsLogic() bool {
	return s >= TriggerSourceLogicD0
}

// GridMode represents the display grid
type GridMode int

const (
	GridNone GridMode = 0
	GridHalf GridMode = 1
	GridFull GridMode = 2
)

// DisplayType represents waveform drawing style
type DisplayType int

const (
	DisplayVectors DisplayType = 0
	DisplayDots    DisplayType = 1
)

// AcquisitionType represents the acquisition mode
type AcquisitionType int

const (
	AcquireNormal         AcquisitionType = 0
	AcquireAverage        AcquisitionType = 1
	AcquirePeak           AcquisitionType = 2
	AcquireHighResolution AcquisitionType = 3
)

// FFTUnit represents the FFT vertical unit
type FFTUnit int

const (
	FFTUnitVrms FFTUnit = 0
	FFTUnitDB   FFTUnit = 1
)

// DecodeMode represents the protocol decoder type
type DecodeMode int

const (
	DecodeParallel DecodeMode = 0
	DecodeUART     DecodeMode = 1
	DecodeSPI      DecodeMode = 2
	DecodeIIC      DecodeMode = 3
)

// DecodeFormat represents the decoder display format
type DecodeFormat int

const (
	FormatHex     DecodeFormat = 0
	FormatASCII   DecodeFormat = 1
	FormatDecimal DecodeFormat = 2
	FormatBinary  DecodeFormat = 3
	FormatLine    DecodeFormat = 4
)

// ChannelSettings represents one analog channel
type ChannelSettings struct {
	Display        bool        `json:"display"`
	Scale          float64     `json:"scale"`
	Offset         float64     `json:"offset"`
	Probe          float64     `json:"probe"`
	Coupling       Coupling    `json:"coupling"`
	BandwidthLimit int         `json:"bandwidth_limit_mhz"`
	Impedance      Impedance   `json:"impedance"`
	Invert         bool        `json:"invert"`
	Unit           ChannelUnit `json:"unit"`
	Vernier        bool        `json:"vernier"`
}

// TimebaseSettings represents the horizontal system
type TimebaseSettings struct {
	Scale        float64             `json:"scale"`
	Offset       float64             `json:"offset"`
	DelayEnabled bool                `json:"delay_enabled"`
	DelayScale   float64             `json:"delay_scale"`
	DelayOffset  float64             `json:"delay_offset"`
	HRefMode     HorizontalReference `json:"href_mode"`
	HRefPosition int                 `json:"href_position"`
	Mode         TimebaseMode        `json:"mode"`
	Vernier      bool                `json:"vernier"`
	XY1Display   bool                `json:"xy1_display"`
	XY2Display   bool                `json:"xy2_display"`
}

// TriggerSettings represents the trigger system
type TriggerSettings struct {
	Coupling   TriggerCoupling      `json:"coupling"`
	Sweep      TriggerSweep         `json:"sweep"`
	Mode       TriggerMode          `json:"mode"`
	Status     TriggerStatus        `json:"status"`
	EdgeSlope  TriggerSlope         `json:"edge_slope"`
	EdgeSource TriggerSource        `json:"edge_source"`
	EdgeLevel  [MaxChannels]float64 `json:"edge_level"`
	Holdoff    float64              `json:"holdoff"`
}

// AcquisitionSettings represents the acquisition system.
// MemoryDepth 0 means the instrument chooses the depth (AUTO).
type AcquisitionSettings struct {
	Type        AcquisitionType `json:"type"`
	Averages    int             `json:"averages"`
	MemoryDepth int             `json:"memory_depth"`
	SampleRate  float64         `json:"sample_rate"`
}

// DisplaySettings represents the display system.
// GradingTime is in tenths of a second; 0 is minimum and 10000 infinite.
type DisplaySettings struct {
	Grid          GridMode    `json:"grid"`
	Type          DisplayType `json:"type"`
	GradingTime   int         `json:"grading_time"`
	CounterSource int         `json:"counter_source"`
}

// MathSettings represents the FFT math block
type MathSettings struct {
	FFTEnabled bool    `json:"fft_enabled"`
	Split      bool    `json:"split"`
	Source     int     `json:"source"`
	Unit       FFTUnit `json:"unit"`
	HScale     float64 `json:"hscale"`
	HCenter    float64 `json:"hcenter"`
	VScale     float64 `json:"vscale"`
	VOffset    float64 `json:"voffset"`
}

// UARTDecodeSettings represents UART/RS232 decoder options.
// RX and TX are 1-based channel numbers, 0 when off.
type UARTDecodeSettings struct {
	RXThreshold float64 `json:"rx_threshold"`
	TXThreshold float64 `json:"tx_threshold"`
	RX          int     `json:"rx"`
	TX          int     `json:"tx"`
	Polarity    int     `json:"polarity"`
	Endian      int     `json:"endian"`
	Baud        int     `json:"baud"`
	Width       int     `json:"width"`
	StopBits    int     `json:"stop_bits"`
	Parity      int     `json:"parity"`
}

// SPIDecodeSettings represents SPI decoder options.
// Clock is a 0-based channel; MISO, MOSI and Select are 1-based, 0 when off.
type SPIDecodeSettings struct {
	Clock          int     `json:"clock"`
	MISO           int     `json:"miso"`
	MOSI           int     `json:"mosi"`
	Select         int     `json:"select"`
	SelectPolarity int     `json:"select_polarity"`
	Mode           int     `json:"mode"`
	Timeout        float64 `json:"timeout"`
	Polarity       int     `json:"polarity"`
	Edge           int     `json:"edge"`
	Width          int     `json:"width"`
	Endian         int     `json:"endian"`
}

// DecodeSettings represents the protocol decoder block
type DecodeSettings struct {
	Mode          DecodeMode           `json:"mode"`
	Display       bool                 `json:"display"`
	Format        DecodeFormat         `json:"format"`
	Position      int                  `json:"position"`
	Threshold     [MaxChannels]float64 `json:"threshold"`
	ThresholdAuto bool                 `json:"threshold_auto"`
	UART          UARTDecodeSettings   `json:"uart"`
	SPI           SPIDecodeSettings    `json:"spi"`
}

// RecordSettings represents waveform record/replay frame state.
// Enable is 0 off, 1 recording, 2 playing.
type RecordSettings struct {
	Enable         int     `json:"enable"`
	RecordEnd      int     `json:"record_end"`
	RecordMax      int     `json:"record_max"`
	RecordInterval float64 `json:"record_interval"`
	PlayStart      int     `json:"play_start"`
	PlayEnd        int     `json:"play_end"`
	PlayMax        int     `json:"play_max"`
	PlayInterval   float64 `json:"play_interval"`
	PlayCurrent    int     `json:"play_current"`
}

// Settings is a snapshot of the instrument configuration.
// Fields are meaningful only once Bound is true.
type Settings struct {
	Bound         bool   `json:"bound"`
	Model         string `json:"model"`
	Serial        string `json:"serial"`
	Firmware      string `json:"firmware"`
	ChannelCount  int    `json:"channel_count"`
	LogicChannels int    `json:"logic_channels"`
	Bandwidth     int    `json:"bandwidth_mhz"`
	Series        int    `json:"series"`
	HorDivisions  int    `json:"hor_divisions"`
	VertDivisions int    `json:"vert_divisions"`

	// ActiveChannel is the first displayed channel, -1 when none.
	ActiveChannel int `json:"active_channel"`

	Channels    [MaxChannels]ChannelSettings `json:"channels"`
	Timebase    TimebaseSettings             `json:"timebase"`
	Trigger     TriggerSettings              `json:"trigger"`
	Acquisition AcquisitionSettings          `json:"acquisition"`
	Display     DisplaySettings              `json:"display"`
	Math        MathSettings                 `json:"math"`
	Decode      DecodeSettings               `json:"decode"`
	Record      RecordSettings               `json:"record"`

	// ScreenScaleFactor is 100 divided by the timebase scale.
	ScreenScaleFactor float64 `json:"screen_scale_factor"`
}

// Clone returns a copy of the snapshot. Settings holds no reference
// types, so a value copy is a deep copy.
func (s *Settings) Clone() Settings {
	return *s
}

// DisplayedChannels returns the indices of channels that are switched on
func (s *Settings) DisplayedChannels() []int {
	var out []int
	for ch := 0; ch < s.ChannelCount && ch < MaxChannels; ch++ {
		if s.Channels[ch].Display {
			out = append(out, ch)
		}
	}
	return out
}

// Reset returns the snapshot to the unbound state
func (s *Settings) Reset() {
	*s = Settings{ActiveChannel: -1}
}
