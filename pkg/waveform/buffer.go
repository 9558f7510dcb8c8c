// pkg/waveform/buffer.go

// Package waveform holds decoded oscilloscope sample buffers and their
// conversion to physical units.
package waveform

import (
	"bufio"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Channel is the sample stream of one analog input. Codes are stored
// relative to the instrument's reference, so the physical value of a
// sample is Codes[i] * YIncrement.
type Channel struct {
	// Index is the zero based channel number
	Index int `json:"index"`

	Codes []int16 `json:"-"`

	// YIncrement is the size of one code step in Unit
	YIncrement float64 `json:"y_increment"`
	YReference int     `json:"y_reference"`
	YOrigin    int     `json:"y_origin"`

	// Scale and Offset are the channel's vertical settings at capture time
	Scale  float64 `json:"scale"`
	Offset float64 `json:"offset"`
	Unit   string  `json:"unit"`
}

// Len returns the number of samples
func (c *Channel) Len() int {
	return len(c.Codes)
}

// Physical converts sample i to the channel unit
func (c *Channel) Physical(i int) float64 {
	return float64(c.Codes[i]) * c.YIncrement
}

// Volts converts every sample to the channel unit
func (c *Channel) Volts() []float64 {
	out := make([]float64, len(c.Codes))
	for i, code := range c.Codes {
		out[i] = float64(code) * c.YIncrement
	}
	return out
}

// Buffer is a set of equally sampled channels
type Buffer struct {
	Channels []Channel `json:"channels"`

	// SampleRate in samples per second; zero when unknown
	SampleRate float64 `json:"sample_rate"`
	// XIncrement is the time between samples in seconds
	XIncrement float64 `json:"x_increment"`
	XOrigin    float64 `json:"x_origin"`
}

// Channel returns the stream of channel index, nil if it was not captured
func (b *Buffer) Channel(index int) *Channel {
	for i := range b.Channels {
		if b.Channels[i].Index == index {
			return &b.Channels[i]
		}
	}
	return nil
}

// Samples returns the length of the shortest channel
func (b *Buffer) Samples() int {
	if len(b.Channels) == 0 {
		return 0
	}
	n := b.Channels[0].Len()
	for i := range b.Channels[1:] {
		n = min(n, b.Channels[i+1].Len())
	}
	return n
}

// WriteRaw writes the codes of every channel, channel after channel, as
// little endian int16
func (b *Buffer) WriteRaw(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i := range b.Channels {
		if err := binary.Write(bw, binary.LittleEndian, b.Channels[i].Codes); err != nil {
			return fmt.Errorf("failed to write channel %d: %w", b.Channels[i].Index+1, err)
		}
	}
	return bw.Flush()
}

// EncodeCSV writes a time column followed by one column per channel in
// physical units
func (b *Buffer) EncodeCSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)

	dt := b.XIncrement
	if dt == 0 && b.SampleRate > 0 {
		dt = 1 / b.SampleRate
	}

	row := make([]string, len(b.Channels)+1)
	row[0] = "time"
	for i := range b.Channels {
		row[i+1] = fmt.Sprintf("CH%d (%s)", b.Channels[i].Index+1, b.Channels[i].Unit)
	}
	if err := cw.Write(row); err != nil {
		return err
	}

	n := b.Samples()
	for s := 0; s < n; s++ {
		row[0] = strconv.FormatFloat(b.XOrigin+float64(s)*dt, 'G', -1, 64)
		for i := range b.Channels {
			row[i+1] = strconv.FormatFloat(b.Channels[i].Physical(s), 'G', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}
