// internal/scope/session.go

// Package scope implements an oscilloscope session: settings
// synchronisation, the outbound command cue, the screen poll loop and
// deep memory retrieval.
package scope

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"scope-service/internal/driver"
	"scope-service/internal/model"
	"scope-service/internal/protocol"
	"scope-service/internal/scpi"
	"scope-service/internal/utils"
	"scope-service/pkg/waveform"
)

var (
	// ErrNotConfirmed is returned by Connect when an untested model was declined
	ErrNotConfirmed = errors.New("untested model was not accepted")
	// ErrSessionClosed is returned by operations on a closed session
	ErrSessionClosed = errors.New("session is closed")
)

// Confirmer decides whether a session continues with a model that is not
// known to work. It is called during Connect.
type Confirmer func(modelName string, compat model.Compatibility, warning string) bool

// SessionConfig holds the timing and sizing parameters of a session
type SessionConfig struct {
	PollInterval     time.Duration
	SettleDelay      time.Duration
	InitialSyncDelay time.Duration
	CueCapacity      int
	MaxFrameSize     int
	// AcceptUntested skips the confirmation of untested and unknown models
	AcceptUntested bool
}

// SessionOption configures Connect
type SessionOption func(*DeviceSession)

// WithSessionConfig sets the session parameters
func WithSessionConfig(cfg SessionConfig) SessionOption {
	return func(s *DeviceSession) {
		s.cfg = cfg
	}
}

// WithConfirmer sets the untested model confirmation gate
func WithConfirmer(c Confirmer) SessionOption {
	return func(s *DeviceSession) {
		s.confirm = c
	}
}

// WithPollHandlers sets the receivers of poll loop output
func WithPollHandlers(h PollHandlers) SessionOption {
	return func(s *DeviceSession) {
		s.handlers = h
	}
}

// DeviceSession owns one connected instrument. The settings snapshot is
// guarded by a single mutex; the transport is used either by the poll loop
// or by one synchronous operation, never both.
type DeviceSession struct {
	id        string
	transport protocol.Transport
	session   *scpi.Session
	registry  *driver.Registry
	cfg       SessionConfig
	confirm   Confirmer
	handlers  PollHandlers
	logger    *utils.SessionLogger

	identity scpi.Identity
	caps     driver.Capabilities
	dialect  driver.Dialect
	compat   model.Compatibility
	warning  string

	shared *sharedSettings
	cue    *Cue
	poll   *PollLoop

	lifetime context.Context
	cancel   context.CancelFunc

	// opMu serialises synchronous operations
	opMu sync.Mutex

	stateMu   sync.RWMutex
	state     model.SessionState
	connected time.Time
	closeErr  error
	closeOnce sync.Once
	lostOnce  sync.Once
}

// Connect opens transport, identifies and synchronises the instrument and
// starts polling. Any failure closes the transport.
func Connect(ctx context.Context, id string, transport protocol.Transport, registry *driver.Registry, logger *zap.Logger, opts ...SessionOption) (*DeviceSession, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &DeviceSession{
		id:        id,
		transport: transport,
		registry:  registry,
		logger:    utils.NewSessionLogger(logger, id, string(transport.GetProtocolType())),
		shared:    &sharedSettings{},
		state:     model.SessionStateConnecting,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.shared.settings.Reset()

	if err := s.connect(ctx); err != nil {
		s.logger.LogConnection("connect", false, err)
		if cerr := transport.Close(); cerr != nil {
			s.logger.Debug("Transport close after failed connect", zap.Error(cerr))
		}
		s.setState(model.SessionStateDisconnected)
		return nil, err
	}

	s.logger.LogConnection("connect", true, nil)
	return s, nil
}

func (s *DeviceSession) connect(ctx context.Context) error {
	s.logger.Info("Opening instrument session")

	if err := s.transport.Open(ctx); err != nil {
		return &scpi.Error{Kind: scpi.KindTransport, Message: "Can not open device.", Point: "open", Err: err}
	}

	s.session = scpi.NewSession(s.transport,
		scpi.WithSettleDelay(s.cfg.SettleDelay),
		scpi.WithMaxResponseSize(s.cfg.MaxFrameSize),
		scpi.WithLogger(s.logger.Logger),
		scpi.WithTracer(s.logger),
	)

	identity, err := s.session.Identify(ctx)
	if err != nil {
		return scpi.At(err, "identification")
	}
	s.identity = identity
	s.logger = s.logger.WithInstrument(identity.Model, identity.Serial, identity.Firmware)

	caps, known := s.registry.Resolve(identity.Model)
	if !known {
		caps = s.registry.BestEffort(identity.Model)
	}
	s.caps = caps
	s.compat, s.warning = driver.Classify(caps, known)
	if s.warning != "" {
		s.logger.LogCompatibility(identity.Model, caps.Series, s.warning)
	}

	if driver.NeedsConfirmation(s.compat) && !s.cfg.AcceptUntested {
		if s.confirm == nil || !s.confirm(identity.Model, s.compat, s.warning) {
			return ErrNotConfirmed
		}
	}

	s.dialect = driver.DialectFor(caps.Series)

	st := s.boundSettings()
	syncer := NewSynchronizer(s.session, s.dialect, s.logger.Logger, WithInitialDelay(s.cfg.InitialSyncDelay))
	if err := syncer.Run(ctx, &st); err != nil {
		return err
	}
	initialise(&st)
	s.shared.settings = st

	s.cue = NewCue(s.cfg.CueCapacity)
	s.lifetime, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	handlers := s.handlers
	handlers.OnLost = s.lost
	s.poll = newPollLoop(s.session, s.cue, s.shared, s.cfg.PollInterval, handlers, s.logger.Logger)

	s.stateMu.Lock()
	s.state = model.SessionStateConnected
	s.connected = time.Now()
	s.stateMu.Unlock()

	s.poll.Start(s.lifetime)
	s.logger.Info("Instrument session opened successfully",
		zap.Int("series", caps.Series),
		zap.String("compatibility", string(s.compat)),
	)
	return nil
}

// boundSettings starts a snapshot from the identity and capabilities
func (s *DeviceSession) boundSettings() model.Settings {
	var st model.Settings
	st.Reset()
	st.Model = s.identity.Model
	st.Serial = s.identity.Serial
	st.Firmware = s.identity.Firmware
	st.ChannelCount = s.caps.ChannelCount
	st.LogicChannels = s.caps.LogicChannels
	st.Bandwidth = s.caps.Bandwidth
	st.Series = s.caps.Series
	st.HorDivisions = s.caps.HorizontalDivisions
	st.VertDivisions = s.caps.VerticalDivisions
	return st
}

// initialise derives the values computed after a successful sync
func initialise(st *model.Settings) {
	scale := st.Timebase.Scale
	if st.Timebase.DelayEnabled {
		scale = st.Timebase.DelayScale
	}
	if scale > 0 {
		st.ScreenScaleFactor = 100 / scale
	}
	st.Bound = true
}

// ID returns the session identifier
func (s *DeviceSession) ID() string {
	return s.id
}

// Identity returns the parsed identification string
func (s *DeviceSession) Identity() scpi.Identity {
	return s.identity
}

// Capabilities returns the resolved model capabilities
func (s *DeviceSession) Capabilities() driver.Capabilities {
	return s.caps
}

// Dialect returns the command dialect of the instrument series
func (s *DeviceSession) Dialect() driver.Dialect {
	return s.dialect
}

// Compatibility returns the compatibility level and its warning
func (s *DeviceSession) Compatibility() (model.Compatibility, string) {
	return s.compat, s.warning
}

// State returns the connection state
func (s *DeviceSession) State() model.SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Instrument describes the session for API consumers
func (s *DeviceSession) Instrument() model.Instrument {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	inst := model.Instrument{
		Vendor:         s.identity.Vendor,
		Model:          s.identity.Model,
		Serial:         s.identity.Serial,
		Firmware:       s.identity.Firmware,
		Series:         s.caps.Series,
		ChannelCount:   s.caps.ChannelCount,
		Bandwidth:      s.caps.Bandwidth,
		Compatibility:  s.compat,
		ConnectionType: s.transport.GetProtocolType(),
		State:          s.state,
	}
	if !s.connected.IsZero() {
		t := s.connected
		inst.ConnectedAt = &t
	}
	return inst
}

// Stats returns the transport counters
func (s *DeviceSession) Stats() protocol.ProtocolStats {
	return s.transport.Stats()
}

func (s *DeviceSession) setState(state model.SessionState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// Snapshot returns a copy of the current settings
func (s *DeviceSession) Snapshot() model.Settings {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	return s.shared.settings.Clone()
}

// Apply mutates the snapshot under the session mutex
func (s *DeviceSession) Apply(fn func(*model.Settings)) {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	fn(&s.shared.settings)
}

// Enqueue adds a command to the cue and wakes the poll loop
func (s *DeviceSession) Enqueue(entry CueEntry) error {
	if s.State() != model.SessionStateConnected {
		return ErrSessionClosed
	}
	if err := s.cue.Enqueue(entry); err != nil {
		return err
	}
	s.poll.Kick()
	return nil
}

// CueLen returns the number of commands waiting to be sent
func (s *DeviceSession) CueLen() int {
	return s.cue.Len()
}

// pause stops polling for the duration of a synchronous operation. The
// returned context ends with ctx or with the session.
func (s *DeviceSession) pause(ctx context.Context) (context.Context, func(), error) {
	s.opMu.Lock()
	if s.State() != model.SessionStateConnected {
		s.opMu.Unlock()
		return nil, nil, ErrSessionClosed
	}
	s.poll.Stop()

	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.lifetime, cancel)

	resume := func() {
		stop()
		cancel()
		if s.State() == model.SessionStateConnected {
			s.poll.Start(s.lifetime)
		}
		s.opMu.Unlock()
	}
	return opCtx, resume, nil
}

// Resync pauses polling and reads the complete configuration again. The
// snapshot is replaced only when the read succeeds.
func (s *DeviceSession) Resync(ctx context.Context) error {
	opCtx, resume, err := s.pause(ctx)
	if err != nil {
		return err
	}

	st := s.boundSettings()
	syncer := NewSynchronizer(s.session, s.dialect, s.logger.Logger)
	err = syncer.Run(opCtx, &st)
	if err == nil {
		initialise(&st)
		s.cue.Reset()
		s.Apply(func(cur *model.Settings) { *cur = st })
	}
	resume()

	return s.checkFatal(err)
}

// DownloadDeepMemory retrieves the acquisition memory of every displayed
// channel with polling paused
func (s *DeviceSession) DownloadDeepMemory(ctx context.Context, progress ProgressFunc, opts ...DownloadOption) (*waveform.Buffer, error) {
	opCtx, resume, err := s.pause(ctx)
	if err != nil {
		return nil, err
	}

	st := s.Snapshot()
	buf, err := NewDeepMemoryDownloader(s.session, s.dialect, s.logger.Logger, opts...).Download(opCtx, &st, progress)
	resume()

	return buf, s.checkFatal(err)
}

// Screenshot reads the display bitmap with polling paused
func (s *DeviceSession) Screenshot(ctx context.Context) (*Screenshot, error) {
	opCtx, resume, err := s.pause(ctx)
	if err != nil {
		return nil, err
	}

	shot, err := ReadScreenshot(opCtx, s.session)
	resume()

	return shot, s.checkFatal(err)
}

// checkFatal tears the session down after a transport fault
func (s *DeviceSession) checkFatal(err error) error {
	if err != nil && scpi.IsFatal(err) {
		s.lost(err)
	}
	return err
}

// lost ends the session after a transport fault
func (s *DeviceSession) lost(err error) {
	s.lostOnce.Do(func() {
		s.logger.Error("Connection lost", zap.Error(err))
		if cerr := s.Close(); cerr != nil {
			s.logger.Debug("Close after connection loss", zap.Error(cerr))
		}
		if s.handlers.OnLost != nil {
			s.handlers.OnLost(err)
		}
	})
}

// Close stops polling, closes the transport and clears the snapshot.
// Closing twice returns the first result.
func (s *DeviceSession) Close() error {
	s.closeOnce.Do(func() {
		s.setState(model.SessionStateDisconnected)
		if s.cancel != nil {
			s.cancel()
		}
		if s.poll != nil {
			s.poll.Stop()
		}

		var err error
		if s.cue != nil {
			s.cue.Reset()
		}
		err = multierr.Append(err, s.transport.Close())

		s.Apply(func(st *model.Settings) { st.Reset() })
		s.closeErr = err
		s.logger.LogConnection("disconnect", err == nil, err)
	})
	return s.closeErr
}
