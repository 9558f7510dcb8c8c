// internal/scope/decode.go
package scope

import (
	"context"
	"fmt"
	"math"

	"scope-service/internal/model"
	"scope-service/internal/scpi"
	"scope-service/pkg/waveform"
)

const (
	// minYIncrement is the smallest code step an instrument reports sanely
	minYIncrement = 1e-6
	// minScreenSamples is the shortest screen record that is accepted
	minScreenSamples = 16
	// screenOriginLimit bounds the y origin of a screen record
	screenOriginLimit = 255
)

// Scaling is the code to unit conversion of one channel record
type Scaling struct {
	YIncrement float64
	YReference int
	YOrigin    int
}

// check validates s for channel index ch. originLimit is the largest
// accepted magnitude of the y origin.
func (s Scaling) check(cmd scpi.Command, ch, originLimit int) error {
	n := ch + 1
	if s.YIncrement < minYIncrement {
		return scpi.ProtocolError(cmd, fmt.Sprintf("%e", s.YIncrement),
			"Error, parameter \"YINC\" out of range for channel %d: %e", n, s.YIncrement)
	}
	if s.YReference < 1 || s.YReference > 255 {
		return scpi.ProtocolError(cmd, fmt.Sprintf("%d", s.YReference),
			"Error, parameter \"YREF\" out of range for channel %d: %d", n, s.YReference)
	}
	if s.YOrigin < -originLimit || s.YOrigin > originLimit {
		return scpi.ProtocolError(cmd, fmt.Sprintf("%d", s.YOrigin),
			"Error, parameter \"YOR\" out of range for channel %d: %d", n, s.YOrigin)
	}
	return nil
}

// Code converts a raw sample byte to a code relative to the reference
func (s Scaling) Code(raw byte) int16 {
	return int16(int(raw) - s.YReference - s.YOrigin)
}

// Physical converts a raw sample byte to the channel unit
func (s Scaling) Physical(raw byte) float64 {
	return float64(s.Code(raw)) * s.YIncrement
}

// DecodeScreen converts a screen record of channel index ch
func DecodeScreen(ch int, raw []byte, s Scaling) (waveform.Channel, error) {
	dataCmd := scpi.Cmd(":WAV:DATA?")
	if err := s.check(dataCmd, ch, screenOriginLimit); err != nil {
		return waveform.Channel{}, err
	}
	if len(raw) < minScreenSamples {
		return waveform.Channel{}, scpi.ProtocolError(dataCmd, fmt.Sprintf("%d bytes", len(raw)),
			"Not enough data in buffer.")
	}

	codes := make([]int16, len(raw))
	for i, b := range raw {
		codes[i] = s.Code(b)
	}
	return waveform.Channel{
		Index:      ch,
		Codes:      codes,
		YIncrement: s.YIncrement,
		YReference: s.YReference,
		YOrigin:    s.YOrigin,
	}, nil
}

// ScreenReader fetches the on screen record of every displayed channel
type ScreenReader struct {
	session *scpi.Session
}

// NewScreenReader creates a screen reader
func NewScreenReader(session *scpi.Session) *ScreenReader {
	return &ScreenReader{session: session}
}

// Fetch reads and decodes the displayed channels of st. It returns nil
// when no channel is displayed.
func (r *ScreenReader) Fetch(ctx context.Context, st *model.Settings) (*waveform.Buffer, error) {
	channels := st.DisplayedChannels()
	if len(channels) == 0 {
		return nil, nil
	}

	buf := &waveform.Buffer{SampleRate: st.Acquisition.SampleRate}
	for _, ch := range channels {
		c, pre, err := r.fetchChannel(ctx, ch)
		if err != nil {
			return nil, scpi.At(err, fmt.Sprintf("channel %d screen waveform", ch+1))
		}
		c.Scale = st.Channels[ch].Scale
		c.Offset = st.Channels[ch].Offset
		c.Unit = st.Channels[ch].Unit.Symbol()
		buf.Channels = append(buf.Channels, c)
		buf.XIncrement = pre.XIncrement
		buf.XOrigin = pre.XOrigin
	}
	return buf, nil
}

func (r *ScreenReader) fetchChannel(ctx context.Context, ch int) (waveform.Channel, scpi.Preamble, error) {
	setup := []scpi.Command{
		scpi.Cmd(":WAV:SOUR CHAN%d", ch+1),
		scpi.Cmd(":WAV:FORM BYTE"),
		scpi.Cmd(":WAV:MODE NORM"),
	}
	for _, cmd := range setup {
		if err := r.session.Write(ctx, cmd); err != nil {
			return waveform.Channel{}, scpi.Preamble{}, err
		}
	}

	resp, err := r.session.Query(ctx, scpi.Cmd(":WAV:PRE?"))
	if err != nil {
		return waveform.Channel{}, scpi.Preamble{}, err
	}
	pre, err := scpi.ParsePreamble(resp)
	if err != nil {
		return waveform.Channel{}, scpi.Preamble{}, err
	}

	data, err := r.session.QueryBlock(ctx, scpi.Cmd(":WAV:DATA?"))
	if err != nil {
		return waveform.Channel{}, scpi.Preamble{}, err
	}

	c, err := DecodeScreen(ch, data, Scaling{
		YIncrement: pre.YIncrement,
		YReference: int(math.Round(pre.YReference)),
		YOrigin:    int(math.Round(pre.YOrigin)),
	})
	return c, pre, err
}
