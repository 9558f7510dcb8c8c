// internal/scope/tokens.go
package scope

import (
	"fmt"
	"strings"

	"scope-service/internal/model"
)

// Response token tables. Matching is case sensitive.
var (
	bandwidthTokens = map[string]int{"20M": 20, "250M": 250, "OFF": 0}

	couplingTokens = map[string]int{
		"AC":  int(model.CouplingAC),
		"DC":  int(model.CouplingDC),
		"GND": int(model.CouplingGND),
	}

	flagTokens = map[string]int{"0": 0, "1": 1}

	impedanceTokens = map[string]int{
		"OMEG": int(model.ImpedanceOneMeg),
		"FIFT": int(model.ImpedanceFifty),
	}

	unitTokens = map[string]int{
		"VOLT": int(model.UnitVolt),
		"WATT": int(model.UnitWatt),
		"AMP":  int(model.UnitAmpere),
		"UNKN": int(model.UnitUnknown),
	}

	hrefTokens = map[string]int{
		"CENT": int(model.HRefCenter),
		"TPOS": int(model.HRefTriggerPosition),
		"USER": int(model.HRefUser),
	}

	timebaseModeTokens = map[string]int{
		"MAIN": int(model.TimebaseMain),
		"XY":   int(model.TimebaseXY),
		"ROLL": int(model.TimebaseRoll),
	}

	triggerCouplingTokens = map[string]int{
		"AC":  int(model.TriggerCouplingAC),
		"DC":  int(model.TriggerCouplingDC),
		"LFR": int(model.TriggerCouplingLFR),
		"HFR": int(model.TriggerCouplingHFR),
	}

	sweepTokens = map[string]int{
		"AUTO": int(model.SweepAuto),
		"NORM": int(model.SweepNormal),
		"SING": int(model.SweepSingle),
	}

	triggerModeTokens = map[string]int{
		"EDGE":  int(model.TriggerEdge),
		"PULS":  int(model.TriggerPulse),
		"SLOP":  int(model.TriggerModeSlope),
		"VID":   int(model.TriggerVideo),
		"PATT":  int(model.TriggerPattern),
		"RS232": int(model.TriggerRS232),
		"IIC":   int(model.TriggerIIC),
		"SPI":   int(model.TriggerSPI),
		"CAN":   int(model.TriggerCAN),
		"USB":   int(model.TriggerUSB),
		"WIND":  int(model.TriggerWindow),
		"RUNT":  int(model.TriggerRunt),
		"DUR":   int(model.TriggerDuration),
		"DEL":   int(model.TriggerDelay),
		"TIM":   int(model.TriggerTimeout),
		"NEDG":  int(model.TriggerNthEdge),
		"SHOL":  int(model.TriggerSetupHold),
	}

	triggerStatusTokens = map[string]int{
		"TD":   int(model.TriggerStatusTriggered),
		"WAIT": int(model.TriggerStatusWait),
		"RUN":  int(model.TriggerStatusRun),
		"AUTO": int(model.TriggerStatusAuto),
		"FIN":  int(model.TriggerStatusFinished),
		"STOP": int(model.TriggerStatusStop),
	}

	slopeTokens = map[string]int{
		"POS":  int(model.SlopePositive),
		"NEG":  int(model.SlopeNegative),
		"RFAL": int(model.SlopeEither),
	}

	gridTokens = map[string]int{
		"NONE": int(model.GridNone),
		"HALF": int(model.GridHalf),
		"FULL": int(model.GridFull),
	}

	counterSourceTokens = map[string]int{"OFF": 0, "CHAN1": 1, "CHAN2": 2, "CHAN3": 3, "CHAN4": 4}

	displayTypeTokens = map[string]int{
		"VECT": int(model.DisplayVectors),
		"DOTS": int(model.DisplayDots),
	}

	acquireTypeTokens = map[string]int{
		"NORM": int(model.AcquireNormal),
		"AVER": int(model.AcquireAverage),
		"PEAK": int(model.AcquirePeak),
		"HRES": int(model.AcquireHighResolution),
	}

	// grading time in tenths of a second
	gradingTokens = map[string]int{
		"MIN": 0, "0.1": 1, "0.2": 2, "0.5": 5, "1": 10,
		"2": 20, "5": 50, "10": 100, "INF": 10000,
	}

	// zero based channel index
	channelIndexTokens = map[string]int{"CHAN1": 0, "CHAN2": 1, "CHAN3": 2, "CHAN4": 3}

	// one based channel number, 0 when off
	channelNumberTokens = map[string]int{"OFF": 0, "CHAN1": 1, "CHAN2": 2, "CHAN3": 3, "CHAN4": 4}

	decodeModeTokens = map[string]int{
		"PAR":   int(model.DecodeParallel),
		"UART":  int(model.DecodeUART),
		"RS232": int(model.DecodeUART),
		"SPI":   int(model.DecodeSPI),
		"IIC":   int(model.DecodeIIC),
	}

	decodeFormatTokens = map[string]int{
		"HEX":  int(model.FormatHex),
		"ASC":  int(model.FormatASCII),
		"DEC":  int(model.FormatDecimal),
		"BIN":  int(model.FormatBinary),
		"LINE": int(model.FormatLine),
	}

	polarityTokens   = map[string]int{"NEG": 0, "POS": 1}
	endianTokens     = map[string]int{"LSB": 0, "MSB": 1}
	stopBitTokens    = map[string]int{"1": 0, "1.5": 1, "2": 2}
	parityTokens     = map[string]int{"NONE": 0, "ODD": 1, "EVEN": 2}
	selectTokens     = map[string]int{"NCS": 0, "CS": 1, "NEG": 0, "POS": 1}
	spiModeTokens    = map[string]int{"TIM": 0, "CS": 1}
	edgeTokens       = map[string]int{"NEG": 0, "POS": 1, "FALL": 0, "RISE": 1}
	recordModeTokens = map[string]int{"OFF": 0, "REC": 1, "PLAY": 2}
)

// ParseCoupling accepts a coupling token in any case, for user input
func ParseCoupling(text string) (model.Coupling, error) {
	v, ok := couplingTokens[strings.ToUpper(strings.TrimSpace(text))]
	if !ok {
		return 0, fmt.Errorf("%w: coupling %q", ErrInvalidValue, text)
	}
	return model.Coupling(v), nil
}
