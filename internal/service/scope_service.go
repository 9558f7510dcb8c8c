// internal/service/scope_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"scope-service/internal/config"
	"scope-service/internal/driver"
	"scope-service/internal/model"
	"scope-service/internal/protocol"
	"scope-service/internal/scope"
	"scope-service/internal/scpi"
	"scope-service/internal/utils"
)

var (
	// ErrSessionNotFound is returned for an unknown session id
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnknownControl is returned for a control name the service does not know
	ErrUnknownControl = errors.New("unknown control")
	// ErrValidation marks a malformed request
	ErrValidation = errors.New("validation failed")
)

// TransportFactory builds a transport from loosely typed settings
type TransportFactory func(model.ConnectionType, map[string]interface{}, *zap.Logger) (protocol.Transport, error)

// ScopeService owns the connected instrument sessions
type ScopeService struct {
	registry     *driver.Registry
	bus          *EventBus
	config       *config.Config
	logger       *utils.ServiceLogger
	newTransport TransportFactory

	mu       sync.RWMutex
	sessions map[uuid.UUID]*sessionEntry
}

type sessionEntry struct {
	session        *scope.DeviceSession
	connectionType model.ConnectionType
	connectionInfo map[string]interface{}
}

// ScopeOption configures a ScopeService
type ScopeOption func(*ScopeService)

// WithTransportFactory replaces protocol.CreateTransport
func WithTransportFactory(f TransportFactory) ScopeOption {
	return func(ss *ScopeService) {
		ss.newTransport = f
	}
}

// NewScopeService creates a new scope service instance
func NewScopeService(registry *driver.Registry, bus *EventBus, cfg *config.Config, logger *zap.Logger, opts ...ScopeOption) *ScopeService {
	ss := &ScopeService{
		registry:     registry,
		bus:          bus,
		config:       cfg,
		logger:       utils.NewServiceLogger(logger, "scope-service"),
		newTransport: protocol.CreateTransport,
		sessions:     make(map[uuid.UUID]*sessionEntry),
	}
	for _, opt := range opts {
		opt(ss)
	}
	return ss
}

// ConnectRequest opens a session. ConnectionInfo overrides the configured
// transport defaults of the connection type.
type ConnectRequest struct {
	ConnectionType string                 `json:"connection_type"`
	ConnectionInfo map[string]interface{} `json:"connection_info"`
	// AcceptUntested continues with models that are not known to work
	AcceptUntested bool `json:"accept_untested"`
}

// Connect opens, identifies and synchronises an instrument
func (ss *ScopeService) Connect(ctx context.Context, req *ConnectRequest) (*model.Instrument, error) {
	kind := req.ConnectionType
	if kind == "" {
		kind = ss.config.Scope.Transport
	}
	connType, err := model.ParseConnectionType(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	settings := ss.config.TransportSettings(strings.ToLower(string(connType)))
	for k, v := range req.ConnectionInfo {
		settings[k] = v
	}

	transport, err := ss.newTransport(connType, settings, ss.logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	id := uuid.New()
	var warning string
	confirm := func(modelName string, compat model.Compatibility, w string) bool {
		warning = w
		return req.AcceptUntested
	}

	session, err := scope.Connect(ctx, id.String(), transport, ss.registry, ss.logger.Logger,
		scope.WithSessionConfig(ss.sessionConfig()),
		scope.WithConfirmer(confirm),
		scope.WithPollHandlers(ss.pollHandlers(id)),
	)
	if err != nil {
		if errors.Is(err, scope.ErrNotConfirmed) && warning != "" {
			err = fmt.Errorf("%w: %s", err, warning)
		}
		ss.logger.Error("Failed to connect instrument",
			zap.String("connection_type", string(connType)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	entry := &sessionEntry{session: session, connectionType: connType, connectionInfo: settings}
	ss.mu.Lock()
	ss.sessions[id] = entry
	ss.mu.Unlock()

	inst := ss.describe(id, entry)
	ss.bus.Publish(model.SessionEvent{
		EventType: model.EventSessionConnected,
		SessionID: id,
		Source:    "scope-service",
		Data: model.JSONObject{
			"model":         inst.Model,
			"serial":        inst.Serial,
			"compatibility": inst.Compatibility,
		},
	})
	if _, w := session.Compatibility(); w != "" {
		ss.bus.Publish(model.SessionEvent{
			EventType: model.EventSessionWarning,
			SessionID: id,
			Source:    "scope-service",
			Severity:  "WARNING",
			Data:      model.JSONObject{"message": w},
		})
	}

	ss.logger.Info("Instrument connected",
		zap.String("session_id", id.String()),
		zap.String("model", inst.Model),
	)
	return &inst, nil
}

func (ss *ScopeService) sessionConfig() scope.SessionConfig {
	c := ss.config.Scope
	return scope.SessionConfig{
		PollInterval:     c.PollInterval,
		SettleDelay:      c.SettleDelay,
		InitialSyncDelay: c.InitialSyncDelay,
		CueCapacity:      c.CueCapacity,
		MaxFrameSize:     c.MaxFrameSize,
		AcceptUntested:   c.AcceptUntestedModels,
	}
}

// pollHandlers forward poll loop output to the event bus
func (ss *ScopeService) pollHandlers(id uuid.UUID) scope.PollHandlers {
	return scope.PollHandlers{
		OnFrame: func(f scope.Frame) {
			ss.bus.Publish(model.SessionEvent{
				EventType: model.EventFrame,
				SessionID: id,
				Source:    "poll",
				Data:      model.JSONObject{"frame": f},
			})
		},
		OnError: func(err error) {
			ss.bus.Publish(model.SessionEvent{
				EventType: model.EventPollError,
				SessionID: id,
				Source:    "poll",
				Severity:  "ERROR",
				Data:      errorData(err),
			})
		},
		OnLost: func(err error) {
			ss.mu.Lock()
			delete(ss.sessions, id)
			ss.mu.Unlock()

			ss.logger.Error("Instrument connection lost",
				zap.String("session_id", id.String()),
				zap.Error(err),
			)
			ss.bus.Publish(model.SessionEvent{
				EventType: model.EventSessionLost,
				SessionID: id,
				Source:    "poll",
				Severity:  "CRITICAL",
				Data:      errorData(err),
			})
		},
	}
}

// errorData renders the diagnostic fields of an error for an event
func errorData(err error) model.JSONObject {
	data := model.JSONObject{
		"message": err.Error(),
		"fatal":   scpi.IsFatal(err),
	}
	var se *scpi.Error
	if errors.As(err, &se) {
		data["message"] = se.Message
		data["command"] = se.Command
		data["response"] = se.Response
		data["point"] = se.Point
	}
	return data
}

// Disconnect closes a session
func (ss *ScopeService) Disconnect(id uuid.UUID) error {
	ss.mu.Lock()
	entry, ok := ss.sessions[id]
	delete(ss.sessions, id)
	ss.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	err := entry.session.Close()
	ss.bus.Publish(model.SessionEvent{
		EventType: model.EventSessionDisconnected,
		SessionID: id,
		Source:    "scope-service",
	})
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// Session returns a connected session
func (ss *ScopeService) Session(id uuid.UUID) (*scope.DeviceSession, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	entry, ok := ss.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry.session, nil
}

// GetInstrument describes one session
func (ss *ScopeService) GetInstrument(id uuid.UUID) (*model.Instrument, error) {
	ss.mu.RLock()
	entry, ok := ss.sessions[id]
	ss.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	inst := ss.describe(id, entry)
	return &inst, nil
}

// ListInstruments describes every session, oldest first
func (ss *ScopeService) ListInstruments() []model.Instrument {
	ss.mu.RLock()
	list := make([]model.Instrument, 0, len(ss.sessions))
	for id, entry := range ss.sessions {
		list = append(list, ss.describe(id, entry))
	}
	ss.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		a, b := list[i].ConnectedAt, list[j].ConnectedAt
		if a == nil || b == nil {
			return list[i].SessionID.String() < list[j].SessionID.String()
		}
		return a.Before(*b)
	})
	return list
}

func (ss *ScopeService) describe(id uuid.UUID, entry *sessionEntry) model.Instrument {
	inst := entry.session.Instrument()
	inst.SessionID = id
	inst.ConnectionType = entry.connectionType
	inst.ConnectionInfo = model.JSONObject(entry.connectionInfo)
	return inst
}

// Settings returns the settings snapshot of a session
func (ss *ScopeService) Settings(id uuid.UUID) (*model.Settings, error) {
	session, err := ss.Session(id)
	if err != nil {
		return nil, err
	}
	st := session.Snapshot()
	return &st, nil
}

// Resync reads the complete configuration again
func (ss *ScopeService) Resync(ctx context.Context, id uuid.UUID) (*model.Settings, error) {
	session, err := ss.Session(id)
	if err != nil {
		return nil, err
	}

	opLogger := utils.NewOperationLogger(ss.logger.Logger, "resync", id.String())
	opLogger.Start()
	if err := session.Resync(ctx); err != nil {
		opLogger.Error(err)
		return nil, fmt.Errorf("failed to resync settings: %w", err)
	}
	opLogger.Success()

	ss.bus.Publish(model.SessionEvent{
		EventType: model.EventSettingsSynced,
		SessionID: id,
		Source:    "scope-service",
	})

	st := session.Snapshot()
	return &st, nil
}

// SendCommand queues a raw command. For a query the call waits for the
// response until ctx ends.
func (ss *ScopeService) SendCommand(ctx context.Context, id uuid.UUID, text string) (string, error) {
	session, err := ss.Session(id)
	if err != nil {
		return "", err
	}

	if !scpi.Text(strings.TrimSpace(text)).IsQuery() {
		return "", session.SendRaw(text, nil)
	}

	reply := make(chan scope.CueReply, 1)
	if err := session.SendRaw(text, reply); err != nil {
		return "", err
	}
	return awaitReply(ctx, reply)
}

// TriggerLevel asks the instrument for the edge trigger level and stores
// the answer in the snapshot
func (ss *ScopeService) TriggerLevel(ctx context.Context, id uuid.UUID) (string, error) {
	session, err := ss.Session(id)
	if err != nil {
		return "", err
	}

	reply := make(chan scope.CueReply, 1)
	if err := session.QueryTriggerLevel(reply); err != nil {
		return "", err
	}
	return awaitReply(ctx, reply)
}

func awaitReply(ctx context.Context, reply <-chan scope.CueReply) (string, error) {
	select {
	case r := <-reply:
		return r.Response, r.Err
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for response: %w", ctx.Err())
	}
}

// ControlRequest carries the arguments of a front panel control. Channel
// numbers start at 1.
type ControlRequest struct {
	Channel  int      `json:"channel,omitempty"`
	Value    *float64 `json:"value,omitempty"`
	Count    int      `json:"count,omitempty"`
	On       *bool    `json:"on,omitempty"`
	Up       bool     `json:"up,omitempty"`
	Coupling string   `json:"coupling,omitempty"`
}

// Control names accepted by ApplyControl besides the scope.Action names
const (
	ControlHoldoff            = "holdoff"
	ControlAverages           = "averages"
	ControlHorizontalPosition = "horizontal-position"
	ControlHorizontalScale    = "horizontal-scale"
	ControlHorizontalStep     = "horizontal-step"
	ControlTriggerLevel       = "trigger-level"
	ControlChannelOffset      = "channel-offset"
	ControlChannelScale       = "channel-scale"
	ControlChannelStep        = "channel-step"
	ControlChannelDisplay     = "channel-display"
	ControlChannelCoupling    = "channel-coupling"
)

// ApplyControl runs a named control on a session
func (ss *ScopeService) ApplyControl(id uuid.UUID, name string, req *ControlRequest) error {
	session, err := ss.Session(id)
	if err != nil {
		return err
	}

	ch := req.Channel - 1
	value := func() (float64, error) {
		if req.Value == nil {
			return 0, fmt.Errorf("%w: value is required", scope.ErrInvalidValue)
		}
		return *req.Value, nil
	}

	switch name {
	case string(scope.ActionRun), string(scope.ActionStop), string(scope.ActionSingle),
		string(scope.ActionForceTrigger), string(scope.ActionAuto), string(scope.ActionClear):
		return session.Do(scope.Action(name))

	case ControlHoldoff:
		v, err := value()
		if err != nil {
			return err
		}
		return session.SetTriggerHoldoff(v)

	case ControlAverages:
		return session.SetAcquireAverages(req.Count)

	case ControlHorizontalPosition:
		v, err := value()
		if err != nil {
			return err
		}
		return session.SetHorizontalPosition(v)

	case ControlHorizontalScale:
		v, err := value()
		if err != nil {
			return err
		}
		return session.SetHorizontalScale(v)

	case ControlHorizontalStep:
		// up widens the timebase
		return session.StepHorizontalScale(!req.Up)

	case ControlTriggerLevel:
		v, err := value()
		if err != nil {
			return err
		}
		return session.SetTriggerLevel(v)

	case ControlChannelOffset:
		v, err := value()
		if err != nil {
			return err
		}
		return session.SetChannelOffset(ch, v)

	case ControlChannelScale:
		v, err := value()
		if err != nil {
			return err
		}
		return session.SetChannelScale(ch, v)

	case ControlChannelStep:
		return session.StepChannelScale(ch, req.Up)

	case ControlChannelDisplay:
		if req.On == nil {
			return fmt.Errorf("%w: on is required", scope.ErrInvalidValue)
		}
		return session.SetChannelDisplay(ch, *req.On)

	case ControlChannelCoupling:
		coupling, err := scope.ParseCoupling(req.Coupling)
		if err != nil {
			return err
		}
		return session.SetChannelCoupling(ch, coupling)
	}

	return fmt.Errorf("%w: %q", ErrUnknownControl, name)
}

// Screenshot reads the display bitmap of a session
func (ss *ScopeService) Screenshot(ctx context.Context, id uuid.UUID) (*scope.Screenshot, error) {
	session, err := ss.Session(id)
	if err != nil {
		return nil, err
	}

	shot, err := session.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read screenshot: %w", err)
	}
	return shot, nil
}

// Stats returns transport counters of a session
func (ss *ScopeService) Stats(id uuid.UUID) (*protocol.ProtocolStats, error) {
	session, err := ss.Session(id)
	if err != nil {
		return nil, err
	}
	stats := session.Stats()
	return &stats, nil
}

// SupportedModels lists the model table
func (ss *ScopeService) SupportedModels() []string {
	return ss.registry.ListModels()
}

// Shutdown closes every session
func (ss *ScopeService) Shutdown(timeout time.Duration) error {
	ss.mu.Lock()
	entries := ss.sessions
	ss.sessions = make(map[uuid.UUID]*sessionEntry)
	ss.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		var err error
		for id, entry := range entries {
			if cerr := entry.session.Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("session %s: %w", id, cerr))
			}
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timed out closing %d sessions", len(entries))
	}
}
