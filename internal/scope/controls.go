// internal/scope/controls.go
package scope

import (
	"errors"
	"fmt"
	"strings"

	"scope-service/internal/metric"
	"scope-service/internal/model"
	"scope-service/internal/scpi"
)

// Scale limits of the front panel controls
const (
	maxChannelScale      = 20.0
	minChannelScale      = 1e-2
	maxTimebaseScale     = 10.0
	maxDelayScale        = 0.1
	minDelayScale        = 1e-9
	defaultMinTimebase   = 1e-9
	legacyMinTimebase    = 5e-9
	wideBandMinTimebase  = 5e-10
	wideBandBandwidthMHz = 1000
	maxAcquireAverages   = 1024
)

// recordTimebaseLimit is the largest timebase scale waveform recording allows
const recordTimebaseLimit = 0.1000001

const triggerLevelQuery = ":TRIG:EDGe:LEV?"

var (
	// ErrInvalidChannel is returned for a channel index the model does not have
	ErrInvalidChannel = errors.New("invalid channel")
	// ErrTriggerSourceNotChannel is returned when the edge source has no level
	ErrTriggerSourceNotChannel = errors.New("trigger source is not an analog channel")
	// ErrScaleLimit is returned when a step would pass the control range
	ErrScaleLimit = errors.New("scale limit reached")
	// ErrInvalidValue is returned for an out of range control value
	ErrInvalidValue = errors.New("invalid value")
)

// Action is a parameterless front panel control
type Action string

const (
	ActionRun          Action = "run"
	ActionStop         Action = "stop"
	ActionSingle       Action = "single"
	ActionForceTrigger Action = "force"
	ActionAuto         Action = "auto"
	ActionClear        Action = "clear"
)

// control applies fn to a working copy of the snapshot, queues the commands
// it returns and publishes the copy once every command was accepted
func (s *DeviceSession) control(fn func(st *model.Settings) ([]scpi.Command, error)) error {
	if s.State() != model.SessionStateConnected {
		return ErrSessionClosed
	}

	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()

	work := s.shared.settings
	cmds, err := fn(&work)
	if err != nil {
		return err
	}
	if err := s.cue.PushAll(cmds...); err != nil {
		return err
	}
	s.shared.settings = work
	s.poll.Kick()
	return nil
}

// Do performs a parameterless control action
func (s *DeviceSession) Do(action Action) error {
	return s.control(func(st *model.Settings) ([]scpi.Command, error) {
		switch action {
		case ActionRun:
			st.Trigger.Status = model.TriggerStatusRun
			return []scpi.Command{scpi.Cmd(":RUN")}, nil
		case ActionStop:
			st.Trigger.Status = model.TriggerStatusStop
			return []scpi.Command{scpi.Cmd(":STOP")}, nil
		case ActionSingle:
			st.Trigger.Sweep = model.SweepSingle
			return []scpi.Command{scpi.Cmd(":SING")}, nil
		case ActionForceTrigger:
			return []scpi.Command{scpi.Cmd(":TFOR")}, nil
		case ActionAuto:
			return []scpi.Command{scpi.Cmd(":AUT")}, nil
		case ActionClear:
			return []scpi.Command{scpi.Text(s.dialect.DisplayClear)}, nil
		}
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidValue, action)
	})
}

// SetTriggerHoldoff sets the holdoff time and clears the display
func (s *DeviceSession) SetTriggerHoldoff(seconds float64) error {
	return s.control(func(st *model.Settings) ([]scpi.Command, error) {
		if seconds < 0 {
			return nil, fmt.Errorf("%w: holdoff %e", ErrInvalidValue, seconds)
		}
		st.Trigger.Holdoff = seconds
		return []scpi.Command{
			scpi.Cmd(":TRIG:HOLD %e", seconds),
			scpi.Text(s.dialect.DisplayClear),
		}, nil
	})
}

// SetAcquireAverages sets the number of averaged acquisitions, a power of
// two from 2 to 1024
func (s *DeviceSession) SetAcquireAverages(n int) error {
	return s.control(func(st *model.Settings) ([]scpi.Command, error) {
		if n < 2 || n > maxAcquireAverages || n&(n-1) != 0 {
			return nil, fmt.Errorf("%w: averages %d", ErrInvalidValue, n)
		}
		st.Acquisition.Averages = n
		return []scpi.Command{scpi.Cmd(":ACQ:AVER %d", n)}, nil
	})
}

// SetHorizontalPosition sets the offset of the main or, when enabled, the
// delayed timebase
func (s *DeviceSession) SetHorizontalPosition(seconds float64) error {
	return s.control(func(st *model.Settings) ([]scpi.Command, error) {
		if st.Timebase.DelayEnabled {
			st.Timebase.DelayOffset = seconds
			return []scpi.Command{scpi.Cmd(":TIM:DEL:OFFS %e", seconds)}, nil
		}
		st.Timebase.Offset = seconds
		return []scpi.Command{scpi.Cmd(":TIM:OFFS %e", seconds)}, nil
	})
}

// SetHorizontalScale sets the scale of the main or delayed timebase
func (s *DeviceSession) SetHorizontalScale(seconds float64) error {
	return s.control(func(st *model.Settings) ([]scpi.Command, error) {
		if seconds <= 0 {
			return nil, fmt.Errorf("%w: timebase scale %e", ErrInvalidValue, seconds)
		}
		return horizontalScale(st, seconds), nil
	})
}

// StepHorizontalScale moves the active timebase one 1-2-5 step. zoomIn
// selects the smaller scale.
func (s *DeviceSession) StepHorizontalScale(zoomIn bool) error {
	return s.control(func(st *model.Settings) ([]scpi.Command, error) {
		tb := &st.Timebase
		current, lo, hi := tb.Scale, minTimebase(st), maxTimebaseScale
		if tb.DelayEnabled {
			current, lo, hi = tb.DelayScale, minDelayScale, min(tb.Scale/2, maxDelayScale)
		}

		var next float64
		if zoomIn {
			if metric.DblCmp(current, lo) <= 0 {
				return nil, ErrScaleLimit
			}
			next = max(metric.RoundDownStep125(current), lo)
		} else {
			if metric.DblCmp(current, hi) >= 0 {
				return nil, ErrScaleLimit
			}
			next = min(metric.RoundUpStep125(current), hi)
		}
		return horizontalScale(st, next), nil
	})
}

func horizontalScale(st *model.Settings, seconds float64) []scpi.Command {
	tb := &st.Timebase
	st.ScreenScaleFactor = 100 / seconds
	if seconds > recordTimebaseLimit {
		st.Record.Enable = 0
	}
	if tb.DelayEnabled {
		tb.DelayScale = seconds
		return []scpi.Command{scpi.Cmd(":TIM:DEL:SCAL %e", seconds)}
	}
	tb.Scale = seconds
	return []scpi.Command{scpi.Cmd(":TIM:SCAL %e", seconds)}
}

// minTimebase is the smallest main timebase scale of the model
func minTimebase(st *model.Settings) float64 {
	switch {
	case st.Series == 1:
		return legacyMinTimebase
	case st.Bandwidth == wideBandBandwidthMHz:
		return wideBandMinTimebase
	default:
		return defaultMinTimebase
	}
}

// SetTriggerLevel sets the edge trigger level of the current source
func (s *DeviceSession) SetTriggerLevel(level float64) error {
	return s.control(func(st *model.Settings) ([]scpi.Command, error) {
		src := st.Trigger.EdgeSource
		if !src.IsChannel() {
			return nil, ErrTriggerSourceNotChannel
		}
		st.Trigger.EdgeLevel[src] = level
		return []scpi.Command{scpi.Cmd(":TRIGger:EDGE:LEVel %e", level)}, nil
	})
}

// QueryTriggerLevel asks the instrument for the edge trigger level. The
// answer updates the snapshot and, when reply is set, is sent there.
func (s *DeviceSession) QueryTriggerLevel(reply chan<- CueReply) error {
	return s.Enqueue(CueEntry{Command: scpi.Cmd(triggerLevelQuery), Job: true, Reply: reply})
}

// SetChannelOffset sets the vertical offset of channel index ch
func (s *DeviceSession) SetChannelOffset(ch int, offset float64) error {
	return s.control(func(st *model.Settings) ([]scpi.Command, error) {
		if err := checkChannel(st, ch); err != nil {
			return nil, err
		}
		st.Channels[ch].Offset = offset
		return []scpi.Command{scpi.Cmd(":CHAN%d:OFFS %e", ch+1, offset)}, nil
	})
}

// SetChannelScale sets the vertical scale of channel index ch
func (s *DeviceSession) SetChannelScale(ch int, scale float64) error {
	return s.control(func(st *model.Settings) ([]scpi.Command, error) {
		if err := checkChannel(st, ch); err != nil {
			return nil, err
		}
		if scale <= 0 {
			return nil, fmt.Errorf("%w: channel scale %e", ErrInvalidValue, scale)
		}
		return channelScale(st, ch, scale), nil
	})
}

// StepChannelScale moves the scale of channel index ch one step; with the
// vernier on the step is a hundredth of the 1-2-5 step. The offset follows
// the scale so the trace stays in place.
func (s *DeviceSession) StepChannelScale(ch int, increase bool) error {
	return s.control(func(st *model.Settings) ([]scpi.Command, error) {
		if err := checkChannel(st, ch); err != nil {
			return nil, err
		}
		c := &st.Channels[ch]

		var next float64
		switch {
		case increase && c.Scale >= maxChannelScale, !increase && c.Scale <= minChannelScale:
			return nil, ErrScaleLimit
		case c.Vernier && increase:
			next = c.Scale + metric.RoundUpStep125(c.Scale)/100
		case c.Vernier:
			next = c.Scale - metric.RoundUpStep125(c.Scale)/100
		case increase:
			next = metric.RoundUpStep125(c.Scale)
		default:
			next = metric.RoundDownStep125(c.Scale)
		}
		next = min(max(next, minChannelScale), maxChannelScale)
		return channelScale(st, ch, next), nil
	})
}

func channelScale(st *model.Settings, ch int, scale float64) []scpi.Command {
	c := &st.Channels[ch]
	if c.Scale > 0 {
		c.Offset *= scale / c.Scale
	}
	c.Scale = scale
	return []scpi.Command{scpi.Cmd(":CHAN%d:SCAL %e", ch+1, scale)}
}

// SetChannelDisplay switches channel index ch on or off
func (s *DeviceSession) SetChannelDisplay(ch int, on bool) error {
	return s.control(func(st *model.Settings) ([]scpi.Command, error) {
		if err := checkChannel(st, ch); err != nil {
			return nil, err
		}
		st.Channels[ch].Display = on

		st.ActiveChannel = -1
		if displayed := st.DisplayedChannels(); len(displayed) > 0 {
			st.ActiveChannel = displayed[0]
			if on {
				st.ActiveChannel = ch
			}
		}

		flag := 0
		if on {
			flag = 1
		}
		return []scpi.Command{scpi.Cmd(":CHAN%d:DISP %d", ch+1, flag)}, nil
	})
}

// SetChannelCoupling sets the input coupling of channel index ch
func (s *DeviceSession) SetChannelCoupling(ch int, coupling model.Coupling) error {
	return s.control(func(st *model.Settings) ([]scpi.Command, error) {
		if err := checkChannel(st, ch); err != nil {
			return nil, err
		}
		token, ok := tokenFor(couplingTokens, int(coupling))
		if !ok {
			return nil, fmt.Errorf("%w: coupling %d", ErrInvalidValue, coupling)
		}
		st.Channels[ch].Coupling = coupling
		return []scpi.Command{scpi.Cmd(":CHAN%d:COUP %s", ch+1, token)}, nil
	})
}

// SendRaw queues a command typed by an operator. Queries answer through
// reply.
func (s *DeviceSession) SendRaw(text string, reply chan<- CueReply) error {
	return s.Enqueue(CueEntry{Command: scpi.Cmd("%s", strings.TrimSpace(text)), Reply: reply})
}

func checkChannel(st *model.Settings, ch int) error {
	if ch < 0 || ch >= st.ChannelCount || ch >= model.MaxChannels {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch+1)
	}
	return nil
}

// tokenFor returns the response token mapped to v
func tokenFor(table map[string]int, v int) (string, bool) {
	for token, value := range table {
		if value == v {
			return token, true
		}
	}
	return "", false
}
