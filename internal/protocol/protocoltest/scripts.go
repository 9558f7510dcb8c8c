// internal/protocol/protocoltest/scripts.go
package protocoltest

import (
	"bytes"
	"fmt"
)

// DS1104ZIDN identifies a four channel series 1 instrument
const DS1104ZIDN = "RIGOL TECHNOLOGIES,DS1104Z,DS1ZA000000001,00.04.04.SP3"

// DS1104Z answers every query a series 1 four channel instrument receives
// during a settings read and a screen refresh. Each call returns a fresh map.
func DS1104Z() map[string]string {
	s := map[string]string{
		"*IDN?": DS1104ZIDN,

		":TIM:OFFS?":     "0.000000e+00",
		":TIM:SCAL?":     "5.000000e-04",
		":TIM:DEL:ENAB?": "0",
		":TIM:DEL:OFFS?": "0.000000e+00",
		":TIM:DEL:SCAL?": "5.000000e-07",
		":TIM:MODE?":     "MAIN",

		":TRIG:COUP?":      "DC",
		":TRIG:SWE?":       "AUTO",
		":TRIG:MODE?":      "EDGE",
		":TRIG:STAT?":      "TD",
		":TRIG:EDG:SLOP?":  "POS",
		":TRIG:EDG:SOUR?":  "CHAN1",
		":TRIG:EDGe:LEV?":  "0.000000e+00",
		":TRIG:HOLD?":      "1.000000e-07",
		":ACQ:SRAT?":       "1.000000e+09",
		":DISP:GRID?":      "FULL",
		":MEAS:COUN:SOUR?": "OFF",
		":DISP:TYPE?":      "VECT",
		":ACQ:TYPE?":       "NORM",
		":ACQ:AVER?":       "2",
		":ACQ:MDEP?":       "12000",
		":DISP:GRAD:TIME?": "MIN",

		":MATH:FFT:SPL?":  "1",
		":MATH:DISP?":     "0",
		":MATH:FFT:UNIT?": "DB",
		":MATH:FFT:SOUR?": "CHAN1",
		":MATH:FFT:HSC?":  "1",
		":MATH:FFT:HCEN?": "5.000000e+06",
		":MATH:OFFS?":     "0.000000e+00",
		":MATH:SCAL?":     "1.000000e+00",

		":DEC1:MODE?":       "PAR",
		":DEC1:DISP?":       "0",
		":DEC1:FORM?":       "HEX",
		":DEC1:POS?":        "350",
		":DEC1:THRE:AUTO?":  "0",
		":DEC1:UART:RX?":    "CHAN1",
		":DEC1:UART:TX?":    "OFF",
		":DEC1:UART:POL?":   "NEG",
		":DEC1:UART:END?":   "LSB",
		":DEC1:UART:BAUD?":  "9600",
		":DEC1:UART:WIDT?":  "8",
		":DEC1:UART:STOP?":  "1",
		":DEC1:UART:PAR?":   "NONE",
		":DEC1:SPI:CLK?":    "CHAN1",
		":DEC1:SPI:MISO?":   "CHAN2",
		":DEC1:SPI:MOSI?":   "OFF",
		":DEC1:SPI:CS?":     "CHAN3",
		":DEC1:SPI:SEL?":    "NCS",
		":DEC1:SPI:MODE?":   "TIM",
		":DEC1:SPI:TIM?":    "1.000000e-06",
		":DEC1:SPI:POL?":    "POS",
		":DEC1:SPI:EDGE?":   "RISE",
		":DEC1:SPI:WIDT?":   "8",
		":DEC1:SPI:END?":    "MSB",
		":FUNC:WREC:ENAB?":  "0",
		":WAV:PRE?":         "0,0,1200,1,1.000000e-09,-6.000000e-06,0,4.000000e-02,0,127",
		":WAV:DATA?":        Block(bytes.Repeat([]byte{145}, 32)),
		":DEC1:THRE:CHAN1?": "1.400000e+00",
		":DEC1:THRE:CHAN2?": "1.400000e+00",
		":DEC1:THRE:CHAN3?": "1.400000e+00",
		":DEC1:THRE:CHAN4?": "1.400000e+00",
	}

	for n := 1; n <= 4; n++ {
		display := "0"
		if n <= 2 {
			display = "1"
		}
		ch := fmt.Sprintf(":CHAN%d:", n)
		s[ch+"BWL?"] = "OFF"
		s[ch+"COUP?"] = "DC"
		s[ch+"DISP?"] = display
		s[ch+"INVert?"] = "0"
		s[ch+"OFFS?"] = "0.000000e+00"
		s[ch+"PROB?"] = "1.000000e+01"
		s[ch+"UNIT?"] = "VOLT"
		s[ch+"SCAL?"] = "1.000000e+00"
		s[ch+"VERN?"] = "0"
	}
	return s
}

// Block frames payload as a definite length block
func Block(payload []byte) string {
	return fmt.Sprintf("#9%09d", len(payload)) + string(payload)
}

// Scripted answers queries from script; Reply entries take precedence.
// The map is read on every query, so later edits by the caller apply.
func Scripted(script map[string]string) *Fake {
	return New().Respond(func(query string) ([]byte, bool) {
		resp, ok := script[query]
		return []byte(resp), ok
	})
}
