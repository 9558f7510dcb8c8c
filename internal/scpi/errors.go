// internal/scpi/errors.go
package scpi

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a session failure
type Kind int

const (
	// KindTransport is an open, write or read failure; fatal to the session
	KindTransport Kind = iota + 1
	// KindProtocol is an unexpected or malformed response
	KindProtocol
	// KindCanceled is a cooperative abort
	KindCanceled
	// KindUnknownIdentity is a *IDN? response that does not identify a supported vendor
	KindUnknownIdentity
)

var (
	ErrTransport       = errors.New("transport fault")
	ErrProtocol        = errors.New("protocol violation")
	ErrCanceled        = errors.New("operation canceled")
	ErrUnknownIdentity = errors.New("unknown identification string")
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindCanceled:
		return "canceled"
	case KindUnknownIdentity:
		return "unknown_identity"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindProtocol:
		return ErrProtocol
	case KindCanceled:
		return ErrCanceled
	case KindUnknownIdentity:
		return ErrUnknownIdentity
	}
	return nil
}

// Error is the diagnostic returned by every failed exchange. It always
// carries the command that was sent and the raw response, if any.
type Error struct {
	Kind     Kind
	Message  string
	Command  string
	Response string
	// Point names the step that failed, e.g. "channel 2 coupling"
	Point string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Command != "" {
		fmt.Fprintf(&b, " Command sent: %s Received: %s", e.Command, e.Response)
	}
	if e.Point != "" {
		fmt.Fprintf(&b, " (at %s)", e.Point)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Fatal reports whether the error ends the session
func (e *Error) Fatal() bool {
	return e.Kind == KindTransport
}

// At returns a copy of err annotated with a failure point. Errors that are
// not *Error are wrapped as transport faults.
func At(err error, point string) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		cp := *se
		cp.Point = point
		return &cp
	}
	return &Error{Kind: KindTransport, Message: "I/O failure", Point: point, Err: err}
}

// WithMessage returns a copy of err with its message replaced
func WithMessage(err error, message string) error {
	var se *Error
	if errors.As(err, &se) {
		cp := *se
		cp.Message = message
		return &cp
	}
	return err
}

// ProtocolError builds a grammar violation for command and response
func ProtocolError(cmd Command, response, format string, args ...interface{}) *Error {
	return &Error{
		Kind:     KindProtocol,
		Message:  fmt.Sprintf(format, args...),
		Command:  cmd.String(),
		Response: response,
	}
}

func transportError(cmd Command, message string, err error) *Error {
	if errors.Is(err, context.Canceled) {
		return canceledError(cmd, err)
	}
	return &Error{Kind: KindTransport, Message: message, Command: cmd.String(), Err: err}
}

func canceledError(cmd Command, err error) *Error {
	return &Error{Kind: KindCanceled, Message: "Aborted by user.", Command: cmd.String(), Err: err}
}

// IsFatal reports whether err is a transport fault that ends the session
func IsFatal(err error) bool {
	return errors.Is(err, ErrTransport)
}
