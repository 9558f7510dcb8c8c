// internal/protocol/protocoltest/fake.go

// Package protocoltest provides a scripted in-memory Transport for tests.
package protocoltest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"scope-service/internal/model"
	"scope-service/internal/protocol"
)

// ErrNoResponse is returned by Read when no reply is queued
var ErrNoResponse = errors.New("no scripted response")

// Responder produces the reply to a query. Returning ok=false means the
// instrument stays silent.
type Responder func(query string) (reply []byte, ok bool)

// Fake is a Transport answering queries from a script. Every written
// message is recorded; a message containing '?' queues the scripted reply.
type Fake struct {
	mu        sync.Mutex
	open      bool
	replies   map[string][]string
	responder Responder
	pending   [][]byte
	written   []string
	writeErr  map[string]error
	openErr   error
	stats     protocol.ProtocolStats
}

// New creates an open-able fake with no script
func New() *Fake {
	return &Fake{
		replies:  make(map[string][]string),
		writeErr: make(map[string]error),
	}
}

// Reply scripts the answers to query. Several answers are returned in
// order; the last one repeats.
func (f *Fake) Reply(query string, answers ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[query] = answers
	return f
}

// Respond installs a fallback for queries without a scripted reply
func (f *Fake) Respond(r Responder) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responder = r
	return f
}

// FailWrite makes writing message fail with err
func (f *Fake) FailWrite(message string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr[message] = err
	return f
}

// FailOpen makes Open fail with err
func (f *Fake) FailOpen(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
	return f
}

// Written returns a copy of every message written, without terminators
func (f *Fake) Written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	copy(out, f.written)
	return out
}

// Count returns how many times message was written
func (f *Fake) Count(message string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.written {
		if w == message {
			n++
		}
	}
	return n
}

// ResetWritten clears the write log
func (f *Fake) ResetWritten() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = nil
}

func (f *Fake) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.open = true
	f.stats.IsConnected = true
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.pending = nil
	f.stats.IsConnected = false
	return nil
}

func (f *Fake) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *Fake) Write(ctx context.Context, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return 0, protocol.ErrNotOpen
	}

	message := strings.TrimRight(string(data), "\r\n")
	f.written = append(f.written, message)

	if err, ok := f.writeErr[message]; ok {
		f.stats.ErrorCount++
		return 0, err
	}

	f.stats.BytesWritten += int64(len(data))
	f.stats.OperationCount++

	if strings.Contains(message, "?") {
		if reply, ok := f.lookup(message); ok {
			f.pending = append(f.pending, reply)
		}
	}

	return len(data), nil
}

func (f *Fake) lookup(query string) ([]byte, bool) {
	if answers, ok := f.replies[query]; ok && len(answers) > 0 {
		answer := answers[0]
		if len(answers) > 1 {
			f.replies[query] = answers[1:]
		}
		return []byte(answer), true
	}
	if f.responder != nil {
		return f.responder(query)
	}
	return nil, false
}

func (f *Fake) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return nil, protocol.ErrNotOpen
	}
	if len(f.pending) == 0 {
		f.stats.ErrorCount++
		return nil, ErrNoResponse
	}

	reply := f.pending[0]
	f.pending = f.pending[1:]
	if maxBytes > 0 && len(reply) > maxBytes {
		f.stats.ErrorCount++
		return nil, protocol.ErrFrameTooLarge
	}

	f.stats.BytesRead += int64(len(reply))
	f.stats.OperationCount++
	return reply, nil
}

func (f *Fake) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeTCP
}

func (f *Fake) Stats() protocol.ProtocolStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

var _ protocol.Transport = (*Fake)(nil)
