// internal/scpi/session.go
package scpi

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"scope-service/internal/protocol"
)

// DefaultSettleDelay is the pause before every command; the instrument's
// command processor cannot be pipelined
const DefaultSettleDelay = 20 * time.Millisecond

// Session performs strictly sequential request/response exchanges over a
// Transport. Exchanges are serialised by an internal mutex.
type Session struct {
	transport   protocol.Transport
	settle      time.Duration
	maxResponse int
	logger      *zap.Logger
	tracer      ExchangeTracer
	mu          sync.Mutex
}

// ExchangeTracer receives every completed exchange
type ExchangeTracer interface {
	LogExchange(command, response string, duration time.Duration)
}

// Option configures a Session
type Option func(*Session)

// WithSettleDelay sets the delay waited before each command
func WithSettleDelay(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.settle = d
		}
	}
}

// WithMaxResponseSize bounds a single response frame
func WithMaxResponseSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxResponse = n
		}
	}
}

// WithLogger sets the logger used for exchange tracing
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer routes exchange tracing to t instead of the logger
func WithTracer(t ExchangeTracer) Option {
	return func(s *Session) {
		s.tracer = t
	}
}

// NewSession wraps an opened transport
func NewSession(transport protocol.Transport, opts ...Option) *Session {
	s := &Session{
		transport:   transport,
		settle:      DefaultSettleDelay,
		maxResponse: protocol.DefaultMaxFrameSize,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transport returns the underlying transport
func (s *Session) Transport() protocol.Transport {
	return s.transport
}

// Write sends a command that has no response
func (s *Session) Write(ctx context.Context, cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if err := s.write(ctx, cmd); err != nil {
		return err
	}
	s.trace(cmd, nil, time.Since(start))
	return nil
}

// Query sends cmd and returns the trimmed response. An empty response is
// a protocol error.
func (s *Session) Query(ctx context.Context, cmd Command) (string, error) {
	resp, err := s.QueryLenient(ctx, cmd)
	if err != nil {
		return "", err
	}
	if resp == "" {
		return "", ProtocolError(cmd, "", "Received an empty response.")
	}
	return resp, nil
}

// QueryLenient is Query that accepts an empty response
func (s *Session) QueryLenient(ctx context.Context, cmd Command) (string, error) {
	raw, err := s.exchange(ctx, cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// QueryFloat sends cmd and parses the response as a float
func (s *Session) QueryFloat(ctx context.Context, cmd Command) (float64, error) {
	resp, err := s.Query(ctx, cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, ProtocolError(cmd, resp, "Received a non numeric response.")
	}
	return v, nil
}

// QueryInt sends cmd and parses the response as an integer. Responses in
// float notation ("2.000000e+00") are truncated.
func (s *Session) QueryInt(ctx context.Context, cmd Command) (int, error) {
	resp, err := s.Query(ctx, cmd)
	if err != nil {
		return 0, err
	}
	v, ok := ParseInt(resp)
	if !ok {
		return 0, ProtocolError(cmd, resp, "Received a non numeric response.")
	}
	return v, nil
}

// QueryBlock sends cmd and returns the payload of the definite length
// block it answers with. A zero length frame yields an empty payload.
func (s *Session) QueryBlock(ctx context.Context, cmd Command) ([]byte, error) {
	raw, err := s.exchange(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return []byte{}, nil
	}

	payload, err := ParseBlock(raw)
	if err != nil {
		preview := raw
		if len(preview) > 32 {
			preview = preview[:32]
		}
		return nil, &Error{Kind: KindProtocol, Message: "Received an invalid data block.", Command: cmd.String(), Response: string(preview), Err: err}
	}
	return payload, nil
}

func (s *Session) exchange(ctx context.Context, cmd Command) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if err := s.write(ctx, cmd); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, canceledError(cmd, err)
	}

	raw, err := s.transport.Read(ctx, s.maxResponse)
	if err != nil {
		return nil, transportError(cmd, "Can not read from device.", err)
	}

	s.trace(cmd, raw, time.Since(start))
	return raw, nil
}

func (s *Session) write(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return &Error{Kind: KindProtocol, Message: "Invalid command.", Command: cmd.String(), Err: err}
	}

	if err := s.settleWait(ctx); err != nil {
		return canceledError(cmd, err)
	}

	data := cmd.wire()
	n, err := s.transport.Write(ctx, data)
	if err != nil {
		return transportError(cmd, "Can not write to device.", err)
	}
	if n != len(data) {
		return transportError(cmd, "Can not write to device.",
			fmt.Errorf("%w: wrote %d of %d bytes", protocol.ErrShortWrite, n, len(data)))
	}
	return nil
}

func (s *Session) settleWait(ctx context.Context) error {
	if s.settle <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(s.settle)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Session) trace(cmd Command, raw []byte, d time.Duration) {
	if s.tracer != nil {
		s.tracer.LogExchange(cmd.String(), shorten(raw), d)
		return
	}
	if ce := s.logger.Check(zap.DebugLevel, "SCPI exchange"); ce != nil {
		ce.Write(
			zap.String("command", cmd.String()),
			zap.String("response", shorten(raw)),
			zap.Duration("duration", d),
		)
	}
}

// shorten keeps block payloads out of the trace
func shorten(raw []byte) string {
	if len(raw) > 64 {
		return fmt.Sprintf("%s... (%d bytes)", strings.TrimSpace(string(raw[:64])), len(raw))
	}
	return strings.TrimSpace(string(raw))
}

// ParseInt parses an integer response, accepting float notation
func ParseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if v, err := strconv.Atoi(s); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}
