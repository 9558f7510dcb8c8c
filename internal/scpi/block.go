// internal/scpi/block.go
package scpi

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrShortBlock is returned when a block holds fewer bytes than announced
var ErrShortBlock = errors.New("not enough data in buffer")

// ParseBlock returns the payload of an IEEE 488.2 block "#N<len><data>".
// An indefinite block "#0<data>" yields everything after the header with
// the trailing newline removed. Bytes after a definite block are ignored.
func ParseBlock(frame []byte) ([]byte, error) {
	if len(frame) < 2 || frame[0] != '#' {
		return nil, fmt.Errorf("missing block header")
	}

	digit := frame[1]
	if digit < '0' || digit > '9' {
		return nil, fmt.Errorf("invalid block header digit %q", digit)
	}

	n := int(digit - '0')
	if n == 0 {
		return bytes.TrimSuffix(frame[2:], []byte{'\n'}), nil
	}

	if len(frame) < 2+n {
		return nil, fmt.Errorf("truncated block header")
	}
	length, err := strconv.Atoi(string(frame[2 : 2+n]))
	if err != nil || length < 0 {
		return nil, fmt.Errorf("invalid block length %q", frame[2:2+n])
	}

	start := 2 + n
	if len(frame)-start < length {
		return nil, fmt.Errorf("%w: %d of %d bytes", ErrShortBlock, len(frame)-start, length)
	}
	return frame[start : start+length], nil
}

// Preamble is the parsed :WAV:PRE? response
type Preamble struct {
	Format     int     `json:"format"`
	Type       int     `json:"type"`
	Points     int     `json:"points"`
	Count      int     `json:"count"`
	XIncrement float64 `json:"x_increment"`
	XOrigin    float64 `json:"x_origin"`
	XReference float64 `json:"x_reference"`
	YIncrement float64 `json:"y_increment"`
	YOrigin    float64 `json:"y_origin"`
	YReference float64 `json:"y_reference"`
}

var preambleCommand = Cmd(":WAV:PRE?")

// ParsePreamble parses the ten comma separated preamble fields
func ParsePreamble(resp string) (Preamble, error) {
	resp = strings.TrimSpace(resp)
	if len(resp) < 19 {
		return Preamble{}, ProtocolError(preambleCommand, resp, "Preamble too short.")
	}

	fields := strings.Split(resp, ",")
	if len(fields) != 10 {
		return Preamble{}, ProtocolError(preambleCommand, resp, "Preamble has %d fields, expected 10.", len(fields))
	}

	var p Preamble
	ints := []*int{&p.Format, &p.Type, &p.Points, &p.Count}
	for i, dst := range ints {
		v, ok := ParseInt(fields[i])
		if !ok {
			return Preamble{}, ProtocolError(preambleCommand, resp, "Preamble field %d is not numeric.", i+1)
		}
		*dst = v
	}

	floats := []*float64{&p.XIncrement, &p.XOrigin, &p.XReference, &p.YIncrement, &p.YOrigin, &p.YReference}
	for i, dst := range floats {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[4+i]), 64)
		if err != nil {
			return Preamble{}, ProtocolError(preambleCommand, resp, "Preamble field %d is not numeric.", 5+i)
		}
		*dst = v
	}

	return p, nil
}
