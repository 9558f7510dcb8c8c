// internal/scope/synchronizer.go
package scope

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"scope-service/internal/driver"
	"scope-service/internal/model"
	"scope-service/internal/scpi"
	"scope-service/internal/utils"
)

const syncFailedMessage = "An error occurred while reading settings from device."

// restoreTimeout bounds the trigger source restore that runs after an abort
const restoreTimeout = 2 * time.Second

// Synchronizer reads the complete instrument configuration into a
// settings snapshot with one query at a time
type Synchronizer struct {
	session      *scpi.Session
	dialect      driver.Dialect
	logger       *zap.Logger
	initialDelay time.Duration
}

// SyncOption configures a Synchronizer
type SyncOption func(*Synchronizer)

// WithInitialDelay waits before the first query, giving an instrument that
// was just connected time to settle
func WithInitialDelay(d time.Duration) SyncOption {
	return func(s *Synchronizer) {
		s.initialDelay = d
	}
}

// NewSynchronizer creates a synchronizer for the given series dialect
func NewSynchronizer(session *scpi.Session, dialect driver.Dialect, logger *zap.Logger, opts ...SyncOption) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Synchronizer{
		session: session,
		dialect: dialect,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run fills st, which must already carry the resolved model capabilities.
// The first failing query aborts the run; st is then partially filled and
// must be discarded by the caller.
func (s *Synchronizer) Run(ctx context.Context, st *model.Settings) error {
	op := utils.NewOperationLogger(s.logger, "settings_sync", st.Model)
	op.Start(zap.Int("series", st.Series), zap.Int("channels", st.ChannelCount))

	if err := s.sleep(ctx); err != nil {
		op.Error(err)
		return err
	}

	steps := []struct {
		name string
		fn   func(context.Context, *model.Settings) error
	}{
		{"channels", s.readChannels},
		{"timebase", s.readTimebase},
		{"trigger", s.readTrigger},
		{"acquisition", s.readAcquisition},
		{"math", s.readMath},
		{"decode", s.readDecode},
		{"record", s.readRecord},
	}

	for i, step := range steps {
		if err := step.fn(ctx, st); err != nil {
			op.Error(err, zap.String("group", step.name))
			return err
		}
		op.Progress("Settings group read", float64(i+1)/float64(len(steps))*100, zap.String("group", step.name))
	}

	op.Success()
	return nil
}

func (s *Synchronizer) sleep(ctx context.Context) error {
	if s.initialDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(s.initialDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return &scpi.Error{Kind: scpi.KindCanceled, Message: "Aborted by user.", Err: ctx.Err()}
	case <-timer.C:
		return nil
	}
}

func (s *Synchronizer) readChannels(ctx context.Context, st *model.Settings) error {
	st.ActiveChannel = -1

	for ch := 0; ch < st.ChannelCount && ch < model.MaxChannels; ch++ {
		c := &st.Channels[ch]
		n := ch + 1
		at := func(what string) string { return fmt.Sprintf("channel %d %s", n, what) }

		// firmware that only implements some limiters answers nothing or
		// an unexpected token here
		cmd := scpi.Cmd(":CHAN%d:BWL?", n)
		resp, err := s.session.QueryLenient(ctx, cmd)
		if err != nil {
			return syncFailure(err, at("bandwidth limit"))
		}
		c.BandwidthLimit = bandwidthTokens[resp]

		v, err := s.token(ctx, at("coupling"), scpi.Cmd(":CHAN%d:COUP?", n), couplingTokens)
		if err != nil {
			return err
		}
		c.Coupling = model.Coupling(v)

		if c.Display, err = s.flag(ctx, at("display"), scpi.Cmd(":CHAN%d:DISP?", n)); err != nil {
			return err
		}
		if c.Display && st.ActiveChannel == -1 {
			st.ActiveChannel = ch
		}

		if s.dialect.HasImpedance {
			v, err := s.token(ctx, at("impedance"), scpi.Cmd(":CHAN%d:IMP?", n), impedanceTokens)
			if err != nil {
				return err
			}
			c.Impedance = model.Impedance(v)
		}

		if c.Invert, err = s.flag(ctx, at("invert"), scpi.Cmd(":CHAN%d:INVert?", n)); err != nil {
			return err
		}
		if c.Offset, err = s.float(ctx, at("offset"), scpi.Cmd(":CHAN%d:OFFS?", n)); err != nil {
			return err
		}
		if c.Probe, err = s.float(ctx, at("probe"), scpi.Cmd(":CHAN%d:PROB?", n)); err != nil {
			return err
		}

		v, err = s.tokenOr(ctx, at("unit"), scpi.Cmd(":CHAN%d:UNIT?", n), unitTokens, int(model.UnitVolt))
		if err != nil {
			return err
		}
		c.Unit = model.ChannelUnit(v)

		if c.Scale, err = s.float(ctx, at("scale"), scpi.Cmd(":CHAN%d:SCAL?", n)); err != nil {
			return err
		}
		if c.Vernier, err = s.flag(ctx, at("vernier"), scpi.Cmd(":CHAN%d:VERN?", n)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) readTimebase(ctx context.Context, st *model.Settings) error {
	tb := &st.Timebase
	var err error

	if tb.Offset, err = s.float(ctx, "timebase offset", scpi.Cmd(":TIM:OFFS?")); err != nil {
		return err
	}
	if tb.Scale, err = s.float(ctx, "timebase scale", scpi.Cmd(":TIM:SCAL?")); err != nil {
		return err
	}
	if tb.DelayEnabled, err = s.flag(ctx, "delayed timebase enable", scpi.Cmd(":TIM:DEL:ENAB?")); err != nil {
		return err
	}
	if tb.DelayOffset, err = s.float(ctx, "delayed timebase offset", scpi.Cmd(":TIM:DEL:OFFS?")); err != nil {
		return err
	}
	if tb.DelayScale, err = s.float(ctx, "delayed timebase scale", scpi.Cmd(":TIM:DEL:SCAL?")); err != nil {
		return err
	}

	if s.dialect.HasHorizontalReference {
		v, err := s.token(ctx, "horizontal reference mode", scpi.Cmd(":TIM:HREF:MODE?"), hrefTokens)
		if err != nil {
			return err
		}
		tb.HRefMode = model.HorizontalReference(v)

		if tb.HRefPosition, err = s.integer(ctx, "horizontal reference position", scpi.Cmd(":TIM:HREF:POS?")); err != nil {
			return err
		}
	}

	v, err := s.token(ctx, "timebase mode", scpi.Cmd(":TIM:MODE?"), timebaseModeTokens)
	if err != nil {
		return err
	}
	tb.Mode = model.TimebaseMode(v)

	if s.dialect.HasTimebaseVernier {
		if tb.Vernier, err = s.flag(ctx, "timebase vernier", scpi.Cmd(":TIM:VERN?")); err != nil {
			return err
		}
	}

	if s.dialect.HasXYDisplays {
		if tb.XY1Display, err = s.flag(ctx, "XY1 display", scpi.Cmd(":TIM:XY1:DISP?")); err != nil {
			return err
		}
		if tb.XY2Display, err = s.flag(ctx, "XY2 display", scpi.Cmd(":TIM:XY2:DISP?")); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) readTrigger(ctx context.Context, st *model.Settings) error {
	tr := &st.Trigger

	v, err := s.token(ctx, "trigger coupling", scpi.Cmd(":TRIG:COUP?"), triggerCouplingTokens)
	if err != nil {
		return err
	}
	tr.Coupling = model.TriggerCoupling(v)

	if v, err = s.token(ctx, "trigger sweep", scpi.Cmd(":TRIG:SWE?"), sweepTokens); err != nil {
		return err
	}
	tr.Sweep = model.TriggerSweep(v)

	if v, err = s.token(ctx, "trigger mode", scpi.Cmd(":TRIG:MODE?"), triggerModeTokens); err != nil {
		return err
	}
	tr.Mode = model.TriggerMode(v)

	if v, err = s.token(ctx, "trigger status", scpi.Cmd(":TRIG:STAT?"), triggerStatusTokens); err != nil {
		return err
	}
	tr.Status = model.TriggerStatus(v)

	if v, err = s.token(ctx, "trigger edge slope", scpi.Text(s.dialect.TriggerEdgeSlope), slopeTokens); err != nil {
		return err
	}
	tr.EdgeSlope = model.TriggerSlope(v)

	if err := s.readTriggerSource(ctx, st); err != nil {
		return err
	}
	if err := s.readTriggerLevels(ctx, st); err != nil {
		return err
	}

	if tr.Holdoff, err = s.float(ctx, "trigger holdoff", scpi.Cmd(":TRIG:HOLD?")); err != nil {
		return err
	}
	return nil
}

func (s *Synchronizer) readTriggerSource(ctx context.Context, st *model.Settings) error {
	const point = "trigger edge source"
	cmd := scpi.Text(s.dialect.TriggerEdgeSource)

	resp, err := s.session.Query(ctx, cmd)
	if err != nil {
		return syncFailure(err, point)
	}

	if idx, ok := channelIndexTokens[resp]; ok {
		st.Trigger.EdgeSource = model.TriggerSource(idx)
		return nil
	}

	switch resp {
	case "EXT":
		st.Trigger.EdgeSource = model.TriggerSourceExt
		return nil
	case "EXT5":
		st.Trigger.EdgeSource = model.TriggerSourceExt5
		return nil
	case "AC", "ACL":
		st.Trigger.EdgeSource = model.TriggerSourceACLine
		return nil
	}

	if len(resp) >= 2 && resp[0] == 'D' && resp[1] >= '0' && resp[1] <= '9' {
		n, err := strconv.Atoi(resp[1:])
		if err != nil {
			return syncFailure(scpi.ProtocolError(cmd, resp, syncFailedMessage), point)
		}
		if st.LogicChannels > 0 {
			st.Trigger.EdgeSource = model.TriggerSourceLogicD0 + model.TriggerSource(n)
			return nil
		}

		// a logic source on an instrument without the analyzer option
		st.Trigger.EdgeSource = model.TriggerSourceChan1
		if err := s.session.Write(ctx, scpi.Cmd(":TRIG:EDGe:SOUR CHAN1")); err != nil {
			return syncFailure(err, point)
		}
		return nil
	}

	return syncFailure(scpi.ProtocolError(cmd, resp, syncFailedMessage), point)
}

// readTriggerLevels selects every channel as edge source in turn, since the
// instrument only reports the level of the current source, then puts the
// original source back. The source is restored on failure and cancellation
// as well, unless the transport itself failed.
func (s *Synchronizer) readTriggerLevels(ctx context.Context, st *model.Settings) (err error) {
	switched := false
	defer func() {
		if !switched || scpi.IsFatal(err) {
			return
		}
		rctx := ctx
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
			defer cancel()
		}
		if rerr := s.restoreTriggerSource(rctx, st); rerr != nil {
			err = multierr.Append(err, rerr)
		}
	}()

	for ch := 0; ch < st.ChannelCount && ch < model.MaxChannels; ch++ {
		point := fmt.Sprintf("channel %d trigger level", ch+1)
		if err := s.session.Write(ctx, scpi.Cmd(":TRIG:EDGe:SOUR CHAN%d", ch+1)); err != nil {
			return syncFailure(err, point)
		}
		switched = true

		level, err := s.float(ctx, point, scpi.Cmd(":TRIG:EDGe:LEV?"))
		if err != nil {
			return err
		}
		st.Trigger.EdgeLevel[ch] = level
	}
	return nil
}

func (s *Synchronizer) restoreTriggerSource(ctx context.Context, st *model.Settings) error {
	cmd, ok := triggerSourceCommand(st.Trigger.EdgeSource, st.LogicChannels)
	if !ok {
		return nil
	}
	if err := s.session.Write(ctx, cmd); err != nil {
		return syncFailure(err, "trigger edge source restore")
	}
	return nil
}

// triggerSourceCommand returns the command selecting src as edge source
func triggerSourceCommand(src model.TriggerSource, logicChannels int) (scpi.Command, bool) {
	switch {
	case src.IsChannel():
		return scpi.Cmd(":TRIG:EDGe:SOUR CHAN%d", int(src)+1), true
	case src == model.TriggerSourceExt:
		return scpi.Cmd(":TRIG:EDGe:SOUR EXT"), true
	case src == model.TriggerSourceExt5:
		return scpi.Cmd(":TRIG:EDGe:SOUR EXT5"), true
	case src == model.TriggerSourceACLine:
		return scpi.Cmd(":TRIG:EDGe:SOUR AC"), true
	case src.IsLogic() && logicChannels > 0:
		return scpi.Cmd(":TRIG:EDGe:SOUR D%d", int(src-model.TriggerSourceLogicD0)), true
	}
	return scpi.Command{}, false
}

func (s *Synchronizer) readAcquisition(ctx context.Context, st *model.Settings) error {
	var err error

	if st.Acquisition.SampleRate, err = s.float(ctx, "sample rate", scpi.Cmd(":ACQ:SRAT?")); err != nil {
		return err
	}

	v, err := s.token(ctx, "display grid", scpi.Cmd(":DISP:GRID?"), gridTokens)
	if err != nil {
		return err
	}
	st.Display.Grid = model.GridMode(v)

	if st.Display.CounterSource, err = s.token(ctx, "counter source", scpi.Cmd(":MEAS:COUN:SOUR?"), counterSourceTokens); err != nil {
		return err
	}

	if v, err = s.token(ctx, "display type", scpi.Cmd(":DISP:TYPE?"), displayTypeTokens); err != nil {
		return err
	}
	st.Display.Type = model.DisplayType(v)

	if v, err = s.token(ctx, "acquisition type", scpi.Cmd(":ACQ:TYPE?"), acquireTypeTokens); err != nil {
		return err
	}
	st.Acquisition.Type = model.AcquisitionType(v)

	if st.Acquisition.Averages, err = s.integer(ctx, "acquisition averages", scpi.Cmd(":ACQ:AVER?")); err != nil {
		return err
	}

	if err := s.readMemoryDepth(ctx, st); err != nil {
		return err
	}

	if st.Display.GradingTime, err = s.token(ctx, "grading time", scpi.Cmd(":DISP:GRAD:TIME?"), gradingTokens); err != nil {
		return err
	}
	return nil
}

func (s *Synchronizer) readMemoryDepth(ctx context.Context, st *model.Settings) error {
	const point = "memory depth"
	cmd := scpi.Cmd(":ACQ:MDEP?")

	resp, err := s.session.Query(ctx, cmd)
	if err != nil {
		return syncFailure(err, point)
	}
	if resp == "AUTO" {
		st.Acquisition.MemoryDepth = 0
		return nil
	}
	depth, ok := scpi.ParseInt(resp)
	if !ok || depth < 0 {
		return syncFailure(scpi.ProtocolError(cmd, resp, syncFailedMessage), point)
	}
	st.Acquisition.MemoryDepth = depth
	return nil
}

func (s *Synchronizer) readMath(ctx context.Context, st *model.Settings) error {
	m := &st.Math
	fft := s.dialect.FFT

	if fft.Split != "" {
		split, err := s.integer(ctx, "FFT split", scpi.Text(fft.Split))
		if err != nil {
			return err
		}
		m.Split = split != 0
	}

	if fft.Mode != "" {
		resp, err := s.text(ctx, "math mode", scpi.Text(fft.Mode))
		if err != nil {
			return err
		}
		m.FFTEnabled = resp == "FFT"
	} else {
		display, err := s.integer(ctx, "math display", scpi.Text(fft.Display))
		if err != nil {
			return err
		}
		m.FFTEnabled = false
		if display == 1 {
			resp, err := s.text(ctx, "math operator", scpi.Text(fft.Operator))
			if err != nil {
				return err
			}
			m.FFTEnabled = resp == "FFT"
		}
	}

	unit, err := s.text(ctx, "FFT unit", scpi.Text(fft.Unit))
	if err != nil {
		return err
	}
	if unit == "VRMS" {
		m.Unit, m.VScale, m.VOffset = model.FFTUnitVrms, 0.5, -2
	} else {
		m.Unit, m.VScale, m.VOffset = model.FFTUnitDB, 10, 20
	}

	if m.Source, err = s.tokenOr(ctx, "FFT source", scpi.Text(fft.Source), channelIndexTokens, 0); err != nil {
		return err
	}

	if st.Timebase.Scale > 0 {
		st.ScreenScaleFactor = 100 / st.Timebase.Scale
	}

	if m.HScale, err = s.float(ctx, "FFT horizontal scale", scpi.Text(fft.HScale)); err != nil {
		return err
	}
	if m.HCenter, err = s.float(ctx, "FFT horizontal center", scpi.Text(fft.HCenter)); err != nil {
		return err
	}
	if m.VOffset, err = s.float(ctx, "FFT vertical offset", scpi.Text(fft.VOffset)); err != nil {
		return err
	}

	vscale, err := s.float(ctx, "FFT vertical scale", scpi.Text(fft.VScale))
	if err != nil {
		return err
	}
	if fft.VScalePerChannel && m.Unit == model.FFTUnitVrms {
		vscale *= st.Channels[m.Source].Scale
	}
	m.VScale = vscale
	return nil
}

func (s *Synchronizer) readDecode(ctx context.Context, st *model.Settings) error {
	d := &st.Decode
	dc := s.dialect.Decode

	v, err := s.tokenOr(ctx, "decode mode", scpi.Text(dc.Mode), decodeModeTokens, int(d.Mode))
	if err != nil {
		return err
	}
	d.Mode = model.DecodeMode(v)

	display, err := s.integer(ctx, "decode display", scpi.Text(dc.Display))
	if err != nil {
		return err
	}
	d.Display = display != 0

	if v, err = s.tokenOr(ctx, "decode format", scpi.Text(dc.Format), decodeFormatTokens, int(d.Format)); err != nil {
		return err
	}
	d.Format = model.DecodeFormat(v)

	if d.Position, err = s.integer(ctx, "decode position", scpi.Text(dc.Position)); err != nil {
		return err
	}

	thresholds := 2
	if st.ChannelCount == 4 {
		thresholds = 4
	}
	for i := 0; i < thresholds; i++ {
		if d.Threshold[i], err = s.float(ctx, fmt.Sprintf("decode threshold %d", i+1), scpi.Text(dc.Thresholds[i])); err != nil {
			return err
		}
	}

	if err := s.readUART(ctx, st); err != nil {
		return err
	}
	return s.readSPI(ctx, st)
}

func (s *Synchronizer) readUART(ctx context.Context, st *model.Settings) error {
	u := &st.Decode.UART
	uc := s.dialect.Decode.UART
	var err error

	if uc.TXThreshold != "" {
		tx, err := s.float(ctx, "UART TX threshold", scpi.Text(uc.TXThreshold))
		if err != nil {
			return err
		}
		rx, err := s.float(ctx, "UART RX threshold", scpi.Text(uc.RXThreshold))
		if err != nil {
			return err
		}
		u.TXThreshold = tx * uc.ThresholdScale
		u.RXThreshold = rx * uc.ThresholdScale
	}

	if tc := s.dialect.Decode.ThresholdAuto; tc != "" {
		auto, err := s.integer(ctx, "decode threshold auto", scpi.Text(tc))
		if err != nil {
			return err
		}
		st.Decode.ThresholdAuto = auto != 0
	}

	if u.RX, err = s.tokenOr(ctx, "UART RX source", scpi.Text(uc.RX), channelNumberTokens, 0); err != nil {
		return err
	}
	if u.TX, err = s.tokenOr(ctx, "UART TX source", scpi.Text(uc.TX), channelNumberTokens, 0); err != nil {
		return err
	}
	if u.Polarity, err = s.tokenOr(ctx, "UART polarity", scpi.Text(uc.Polarity), polarityTokens, u.Polarity); err != nil {
		return err
	}
	if u.Endian, err = s.tokenOr(ctx, "UART endian", scpi.Text(uc.Endian), endianTokens, u.Endian); err != nil {
		return err
	}
	if u.Baud, err = s.integer(ctx, "UART baud rate", scpi.Text(uc.Baud)); err != nil {
		return err
	}
	if u.Width, err = s.integer(ctx, "UART data bits", scpi.Text(uc.Width)); err != nil {
		return err
	}
	if u.StopBits, err = s.tokenOr(ctx, "UART stop bits", scpi.Text(uc.StopBits), stopBitTokens, u.StopBits); err != nil {
		return err
	}
	if u.Parity, err = s.tokenOr(ctx, "UART parity", scpi.Text(uc.Parity), parityTokens, 0); err != nil {
		return err
	}
	return nil
}

func (s *Synchronizer) readSPI(ctx context.Context, st *model.Settings) error {
	p := &st.Decode.SPI
	sc := s.dialect.Decode.SPI
	var err error

	if p.Clock, err = s.tokenOr(ctx, "SPI clock source", scpi.Text(sc.Clock), channelIndexTokens, p.Clock); err != nil {
		return err
	}
	if p.MISO, err = s.tokenOr(ctx, "SPI MISO source", scpi.Text(sc.MISO), channelNumberTokens, 0); err != nil {
		return err
	}
	if p.MOSI, err = s.tokenOr(ctx, "SPI MOSI source", scpi.Text(sc.MOSI), channelNumberTokens, 0); err != nil {
		return err
	}
	if p.Select, err = s.tokenOr(ctx, "SPI select source", scpi.Text(sc.Select), channelNumberTokens, 0); err != nil {
		return err
	}
	if p.SelectPolarity, err = s.tokenOr(ctx, "SPI select polarity", scpi.Text(sc.SelectPolarity), selectTokens, p.SelectPolarity); err != nil {
		return err
	}

	if sc.Mode != "" {
		if p.Mode, err = s.tokenOr(ctx, "SPI framing mode", scpi.Text(sc.Mode), spiModeTokens, p.Mode); err != nil {
			return err
		}
	}
	if sc.Timeout != "" {
		if p.Timeout, err = s.float(ctx, "SPI timeout", scpi.Text(sc.Timeout)); err != nil {
			return err
		}
	}

	if p.Polarity, err = s.tokenOr(ctx, "SPI polarity", scpi.Text(sc.Polarity), polarityTokens, p.Polarity); err != nil {
		return err
	}
	if p.Edge, err = s.tokenOr(ctx, "SPI clock edge", scpi.Text(sc.Edge), edgeTokens, p.Edge); err != nil {
		return err
	}
	if p.Width, err = s.integer(ctx, "SPI data bits", scpi.Text(sc.Width)); err != nil {
		return err
	}
	if p.Endian, err = s.tokenOr(ctx, "SPI endian", scpi.Text(sc.Endian), endianTokens, p.Endian); err != nil {
		return err
	}
	return nil
}

func (s *Synchronizer) readRecord(ctx context.Context, st *model.Settings) error {
	r := &st.Record
	rc := s.dialect.Record
	var err error

	table := flagTokens
	if rc.EnableIsMode {
		table = recordModeTokens
	}
	if r.Enable, err = s.token(ctx, "waveform record enable", scpi.Text(rc.Enable), table); err != nil {
		return err
	}
	if r.Enable == 0 {
		return nil
	}

	fields := []intField{
		{"record end frame", rc.RecordEnd, &r.RecordEnd},
		{"record max frames", rc.RecordMax, &r.RecordMax},
	}
	if err := s.integers(ctx, fields); err != nil {
		return err
	}
	if r.RecordInterval, err = s.float(ctx, "record interval", scpi.Text(rc.RecordInterval)); err != nil {
		return err
	}

	fields = []intField{
		{"replay start frame", rc.PlayStart, &r.PlayStart},
		{"replay end frame", rc.PlayEnd, &r.PlayEnd},
		{"replay max frames", rc.PlayMax, &r.PlayMax},
	}
	if err := s.integers(ctx, fields); err != nil {
		return err
	}
	if r.PlayInterval, err = s.float(ctx, "replay interval", scpi.Text(rc.PlayInterval)); err != nil {
		return err
	}
	if r.PlayCurrent, err = s.integer(ctx, "replay current frame", scpi.Text(rc.PlayCurrent)); err != nil {
		return err
	}
	return nil
}

type intField struct {
	point string
	cmd   string
	dst   *int
}

func (s *Synchronizer) integers(ctx context.Context, fields []intField) error {
	for _, f := range fields {
		v, err := s.integer(ctx, f.point, scpi.Text(f.cmd))
		if err != nil {
			return err
		}
		*f.dst = v
	}
	return nil
}

// text queries cmd and returns its non empty response
func (s *Synchronizer) text(ctx context.Context, point string, cmd scpi.Command) (string, error) {
	resp, err := s.session.Query(ctx, cmd)
	if err != nil {
		return "", syncFailure(err, point)
	}
	return resp, nil
}

// token maps the response through table; an unknown token aborts
func (s *Synchronizer) token(ctx context.Context, point string, cmd scpi.Command, table map[string]int) (int, error) {
	resp, err := s.text(ctx, point, cmd)
	if err != nil {
		return 0, err
	}
	v, ok := table[resp]
	if !ok {
		return 0, syncFailure(scpi.ProtocolError(cmd, resp, syncFailedMessage), point)
	}
	return v, nil
}

// tokenOr is token that yields fallback for an unknown token
func (s *Synchronizer) tokenOr(ctx context.Context, point string, cmd scpi.Command, table map[string]int, fallback int) (int, error) {
	resp, err := s.text(ctx, point, cmd)
	if err != nil {
		return 0, err
	}
	if v, ok := table[resp]; ok {
		return v, nil
	}
	s.logger.Debug("Unrecognised token ignored",
		zap.String("command", cmd.String()),
		zap.String("response", resp),
	)
	return fallback, nil
}

func (s *Synchronizer) flag(ctx context.Context, point string, cmd scpi.Command) (bool, error) {
	v, err := s.token(ctx, point, cmd, flagTokens)
	return v == 1, err
}

func (s *Synchronizer) float(ctx context.Context, point string, cmd scpi.Command) (float64, error) {
	v, err := s.session.QueryFloat(ctx, cmd)
	if err != nil {
		return 0, syncFailure(err, point)
	}
	return v, nil
}

func (s *Synchronizer) integer(ctx context.Context, point string, cmd scpi.Command) (int, error) {
	v, err := s.session.QueryInt(ctx, cmd)
	if err != nil {
		return 0, syncFailure(err, point)
	}
	return v, nil
}

// syncFailure annotates err with its failure point. Grammar violations get
// the synchronizer message; transport faults and cancellation keep theirs.
func syncFailure(err error, point string) error {
	err = scpi.At(err, point)
	if errors.Is(err, scpi.ErrProtocol) {
		err = scpi.WithMessage(err, syncFailedMessage)
	}
	return err
}
