// internal/scope/cue.go
package scope

import (
	"errors"
	"sync"

	"scope-service/internal/scpi"
)

// DefaultCueCapacity is the number of pending commands a cue holds
const DefaultCueCapacity = 128

var (
	// ErrCueFull is returned by Enqueue when every slot holds an undrained entry
	ErrCueFull = errors.New("command cue is full")
	// ErrCueDiscarded is delivered to pending replies when the cue is reset
	ErrCueDiscarded = errors.New("command discarded before it was sent")
)

// CueReply is delivered to an entry's Reply channel after it was sent
type CueReply struct {
	Command  string
	Response string
	Err      error
}

// CueEntry is one pending outbound command
type CueEntry struct {
	Command scpi.Command
	// Job marks a query whose response updates the snapshot
	Job bool
	// Reply, when set, receives the outcome; it should be buffered
	Reply chan<- CueReply
}

// Cue is a fixed capacity FIFO ring of pending commands with a single
// consumer. A full cue rejects new entries; nothing is overwritten.
type Cue struct {
	mu      sync.Mutex
	entries []CueEntry
	head    int
	count   int
}

// NewCue creates a cue holding up to capacity entries
func NewCue(capacity int) *Cue {
	if capacity <= 0 {
		capacity = DefaultCueCapacity
	}
	return &Cue{entries: make([]CueEntry, capacity)}
}

// Enqueue appends an entry. The command is validated here so a bad
// command is reported to the producer instead of the poll loop.
func (c *Cue) Enqueue(entry CueEntry) error {
	if err := entry.Command.Validate(); err != nil {
		return &scpi.Error{Kind: scpi.KindProtocol, Message: "Invalid command.", Command: entry.Command.String(), Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count == len(c.entries) {
		return ErrCueFull
	}
	c.entries[(c.head+c.count)%len(c.entries)] = entry
	c.count++
	return nil
}

// Push enqueues a fire and forget command
func (c *Cue) Push(cmd scpi.Command) error {
	return c.Enqueue(CueEntry{Command: cmd})
}

// PushAll enqueues fire and forget commands as a group: either every
// command is queued or none is
func (c *Cue) PushAll(cmds ...scpi.Command) error {
	for _, cmd := range cmds {
		if err := cmd.Validate(); err != nil {
			return &scpi.Error{Kind: scpi.KindProtocol, Message: "Invalid command.", Command: cmd.String(), Err: err}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries)-c.count < len(cmds) {
		return ErrCueFull
	}
	for _, cmd := range cmds {
		c.entries[(c.head+c.count)%len(c.entries)] = CueEntry{Command: cmd}
		c.count++
	}
	return nil
}

// Pop removes the oldest entry
func (c *Cue) Pop() (CueEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count == 0 {
		return CueEntry{}, false
	}
	entry := c.entries[c.head]
	c.entries[c.head] = CueEntry{}
	c.head = (c.head + 1) % len(c.entries)
	c.count--
	return entry, true
}

// Len returns the number of pending entries
func (c *Cue) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Cap returns the capacity
func (c *Cue) Cap() int {
	return len(c.entries)
}

// Reset drops every pending entry. Waiting reply channels are told the
// command was discarded.
func (c *Cue) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < c.count; i++ {
		idx := (c.head + i) % len(c.entries)
		if e := c.entries[idx]; e.Reply != nil {
			deliver(e.Reply, CueReply{Command: e.Command.String(), Err: ErrCueDiscarded})
		}
		c.entries[idx] = CueEntry{}
	}
	c.head, c.count = 0, 0
}

func deliver(ch chan<- CueReply, r CueReply) {
	select {
	case ch <- r:
	default:
	}
}
