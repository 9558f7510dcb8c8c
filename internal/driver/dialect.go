// internal/driver/dialect.go
package driver

// FFTCommands is the math/FFT command family of a series.
// Query forms end in '?'; set forms take one %e argument.
type FFTCommands struct {
	// Split is empty when the series has no split FFT view
	Split string
	// Mode reports "FFT" when the math block is an FFT; empty when the
	// series uses the Display + Operator pair instead
	Mode     string
	Display  string
	Operator string
	Unit     string
	Source   string
	HScale   string
	HCenter  string
	VOffset  string
	VScale   string

	// VScalePerChannel means the VRMS vertical scale is reported relative
	// to the source channel scale
	VScalePerChannel bool

	SetHScale  string
	SetVScale  string
	SetVOffset string
}

// UARTCommands is the UART (RS232) decoder family
type UARTCommands struct {
	// TXThreshold and RXThreshold are empty when the series has none
	TXThreshold string
	RXThreshold string
	// ThresholdScale compensates firmware that reports UART thresholds in
	// tenths; only the BUS1 firmware family is known to do this
	ThresholdScale float64

	RX       string
	TX       string
	Polarity string
	Endian   string
	Baud     string
	Width    string
	StopBits string
	Parity   string
}

// SPICommands is the SPI decoder family
type SPICommands struct {
	Clock          string
	MISO           string
	MOSI           string
	Select         string
	SelectPolarity string
	// Mode and Timeout are empty when the series has no CS/timeout framing
	Mode     string
	Timeout  string
	Polarity string
	Edge     string
	Width    string
	Endian   string
}

// DecodeCommands is the protocol decoder family
type DecodeCommands struct {
	Mode     string
	Display  string
	Format   string
	Position string
	// Thresholds are indexed by channel; 3 and 4 only exist on four
	// channel instruments
	Thresholds    [4]string
	ThresholdAuto string

	UART UARTCommands
	SPI  SPICommands
}

// RecordCommands is the waveform record/replay family
type RecordCommands struct {
	Enable string
	// EnableIsMode means Enable answers REC/PLAY/OFF instead of 1/0
	EnableIsMode bool

	RecordEnd      string
	RecordMax      string
	RecordInterval string
	PlayStart      string
	PlayEnd        string
	PlayMax        string
	PlayInterval   string
	PlayCurrent    string
}

// Dialect collects every series dependent command spelling and feature
// flag. It is selected once per session with DialectFor.
type Dialect struct {
	Series int

	HasImpedance           bool
	HasHorizontalReference bool
	HasTimebaseVernier     bool
	HasXYDisplays          bool
	HasFFTSplit            bool

	TriggerEdgeSlope  string
	TriggerEdgeSource string

	// DisplayClear follows a holdoff change
	DisplayClear string

	// ScreenPoints is the default waveform readout window; SetScreenPoints
	// means :WAV:POIN must be written as well when restoring it
	ScreenPoints    int
	SetScreenPoints bool

	FFT    FFTCommands
	Decode DecodeCommands
	Record RecordCommands
}

// DialectFor returns the command dialect for a model series
func DialectFor(series int) Dialect {
	d := Dialect{
		Series:                 series,
		HasImpedance:           series != 1 && series != 7,
		HasHorizontalReference: series != 1,
		HasTimebaseVernier:     series != 1,
		HasXYDisplays:          series != 1 && series != 2 && series != 7,
		HasFFTSplit:            series != 7,
		TriggerEdgeSlope:       ":TRIG:EDG:SLOP?",
		TriggerEdgeSource:      ":TRIG:EDG:SOUR?",
		DisplayClear:           ":CLE",
		ScreenPoints:           1400,
		SetScreenPoints:        true,
	}

	if series == 7 {
		d.TriggerEdgeSlope = ":TRIGger:EDGe:SLOPe?"
		d.TriggerEdgeSource = ":TRIGger:EDGe:SOURce?"
	}
	if series == 2 || series == 6 {
		d.DisplayClear = ":DISP:CLE"
	}
	if series == 1 {
		d.ScreenPoints = 1200
		d.SetScreenPoints = false
	}

	switch series {
	case 1:
		d.FFT = mathFFTCommands
		d.Decode = dec1Commands
		d.Record = funcWrecCommands(":FUNC:WREC:ENAB?", false)
	case 7:
		d.FFT = math1FFTCommands
		d.Decode = bus1Commands(series)
		d.Record = funcWrecCommands(":RECord:WRECord:ENABle?", false)
	default:
		d.FFT = calcFFTCommands
		d.Decode = bus1Commands(series)
		d.Record = funcWrecCommands(":FUNC:WRM?", true)
	}

	return d
}

// calcFFTCommands is the :CALC form used by series 2, 4 and 6
var calcFFTCommands = FFTCommands{
	Split:            ":CALC:FFT:SPL?",
	Mode:             ":CALC:MODE?",
	Unit:             ":CALC:FFT:VSM?",
	Source:           ":CALC:FFT:SOUR?",
	HScale:           ":CALC:FFT:HSP?",
	HCenter:          ":CALC:FFT:HCEN?",
	VOffset:          ":CALC:FFT:VOFF?",
	VScale:           ":CALC:FFT:VSC?",
	VScalePerChannel: true,
	SetHScale:        ":CALC:FFT:HSP %e",
	SetVScale:        ":CALC:FFT:VSC %e",
	SetVOffset:       ":CALC:FFT:VOFF %e",
}

// mathFFTCommands is the :MATH form of series 1
var mathFFTCommands = FFTCommands{
	Split:      ":MATH:FFT:SPL?",
	Display:    ":MATH:DISP?",
	Operator:   ":MATH:OPER?",
	Unit:       ":MATH:FFT:UNIT?",
	Source:     ":MATH:FFT:SOUR?",
	HScale:     ":MATH:FFT:HSC?",
	HCenter:    ":MATH:FFT:HCEN?",
	VOffset:    ":MATH:OFFS?",
	VScale:     ":MATH:SCAL?",
	SetHScale:  ":MATH:FFT:HSC %e",
	SetVScale:  ":MATH:SCAL %e",
	SetVOffset: ":MATH:OFFS %e",
}

// math1FFTCommands is the :MATH1 form of series 7
var math1FFTCommands = FFTCommands{
	Display:    ":MATH1:DISP?",
	Operator:   ":MATH1:OPER?",
	Unit:       ":MATH1:FFT:UNIT?",
	Source:     ":MATH1:FFT:SOUR?",
	HScale:     ":MATH1:FFT:HSC?",
	HCenter:    ":MATH1:FFT:HCEN?",
	VOffset:    ":MATH1:OFFS?",
	VScale:     ":MATH1:SCAL?",
	SetHScale:  ":MATH1:FFT:HSC %e",
	SetVScale:  ":MATH1:SCAL %e",
	SetVOffset: ":MATH1:OFFS %e",
}

// dec1Commands is the :DEC1 decoder form of series 1
var dec1Commands = DecodeCommands{
	Mode:     ":DEC1:MODE?",
	Display:  ":DEC1:DISP?",
	Format:   ":DEC1:FORM?",
	Position: ":DEC1:POS?",
	Thresholds: [4]string{
		":DEC1:THRE:CHAN1?",
		":DEC1:THRE:CHAN2?",
		":DEC1:THRE:CHAN3?",
		":DEC1:THRE:CHAN4?",
	},
	ThresholdAuto: ":DEC1:THRE:AUTO?",
	UART: UARTCommands{
		ThresholdScale: 1,
		RX:             ":DEC1:UART:RX?",
		TX:             ":DEC1:UART:TX?",
		Polarity:       ":DEC1:UART:POL?",
		Endian:         ":DEC1:UART:END?",
		Baud:           ":DEC1:UART:BAUD?",
		Width:          ":DEC1:UART:WIDT?",
		StopBits:       ":DEC1:UART:STOP?",
		Parity:         ":DEC1:UART:PAR?",
	},
	SPI: SPICommands{
		Clock:          ":DEC1:SPI:CLK?",
		MISO:           ":DEC1:SPI:MISO?",
		MOSI:           ":DEC1:SPI:MOSI?",
		Select:         ":DEC1:SPI:CS?",
		SelectPolarity: ":DEC1:SPI:SEL?",
		Mode:           ":DEC1:SPI:MODE?",
		Timeout:        ":DEC1:SPI:TIM?",
		Polarity:       ":DEC1:SPI:POL?",
		Edge:           ":DEC1:SPI:EDGE?",
		Width:          ":DEC1:SPI:WIDT?",
		Endian:         ":DEC1:SPI:END?",
	},
}

// bus1Commands is the :BUS1 decoder form of every series but 1
func bus1Commands(series int) DecodeCommands {
	position := ":BUS1:SPI:OFFS?"
	if series == 7 {
		position = ":BUS1:POSition?"
	}
	return DecodeCommands{
		Mode:     ":BUS1:MODE?",
		Display:  ":BUS1:DISP?",
		Format:   ":BUS1:FORM?",
		Position: position,
		Thresholds: [4]string{
			":BUS1:SPI:MISO:THR?",
			":BUS1:SPI:MOSI:THR?",
			":BUS1:SPI:SCLK:THR?",
			":BUS1:SPI:SS:THR?",
		},
		UART: UARTCommands{
			TXThreshold:    ":BUS1:RS232:TTHR?",
			RXThreshold:    ":BUS1:RS232:RTHR?",
			ThresholdScale: 10,
			RX:             ":BUS1:RS232:RX?",
			TX:             ":BUS1:RS232:TX?",
			Polarity:       ":BUS1:RS232:POL?",
			Endian:         ":BUS1:RS232:END?",
			Baud:           ":BUS1:RS232:BAUD?",
			Width:          ":BUS1:RS232:DBIT?",
			StopBits:       ":BUS1:RS232:SBIT?",
			Parity:         ":BUS1:RS232:PAR?",
		},
		SPI: SPICommands{
			Clock:          ":BUS1:SPI:SCLK:SOUR?",
			MISO:           ":BUS1:SPI:MISO:SOUR?",
			MOSI:           ":BUS1:SPI:MOSI:SOUR?",
			Select:         ":BUS1:SPI:SS:SOUR?",
			SelectPolarity: ":BUS1:SPI:SS:POL?",
			Polarity:       ":BUS1:SPI:MOSI:POL?",
			Edge:           ":BUS1:SPI:SCLK:SLOP?",
			Width:          ":BUS1:SPI:DBIT?",
			Endian:         ":BUS1:SPI:END?",
		},
	}
}

func funcWrecCommands(enable string, isMode bool) RecordCommands {
	return RecordCommands{
		Enable:         enable,
		EnableIsMode:   isMode,
		RecordEnd:      ":FUNC:WREC:FEND?",
		RecordMax:      ":FUNC:WREC:FMAX?",
		RecordInterval: ":FUNC:WREC:FINT?",
		PlayStart:      ":FUNC:WREP:FST?",
		PlayEnd:        ":FUNC:WREP:FEND?",
		PlayMax:        ":FUNC:WREP:FMAX?",
		PlayInterval:   ":FUNC:WREP:FINT?",
		PlayCurrent:    ":FUNC:WREP:FCUR?",
	}
}
