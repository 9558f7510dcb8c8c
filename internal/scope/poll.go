// internal/scope/poll.go
package scope

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"scope-service/internal/model"
	"scope-service/internal/scpi"
)

// DefaultPollInterval is the screen refresh period
const DefaultPollInterval = 100 * time.Millisecond

// TickResult is the outcome of one poll loop tick
type TickResult int

const (
	// TickSkipped means the snapshot was busy and nothing was sent
	TickSkipped TickResult = iota
	// TickCommand means one cue entry was sent
	TickCommand
	// TickCleared means no channel is displayed and an empty frame was delivered
	TickCleared
	// TickDelivered means a frame with waveform data was delivered
	TickDelivered
	// TickFailed means a protocol error was reported and the session continues
	TickFailed
	// TickLost means a transport fault ended the session
	TickLost
)

func (r TickResult) String() string {
	switch r {
	case TickSkipped:
		return "skipped"
	case TickCommand:
		return "command"
	case TickCleared:
		return "cleared"
	case TickDelivered:
		return "delivered"
	case TickFailed:
		return "failed"
	case TickLost:
		return "lost"
	default:
		return "unknown"
	}
}

// PollHandlers receive the poll loop output. Every handler is optional and
// is called without the snapshot lock held.
type PollHandlers struct {
	OnFrame func(Frame)
	OnError func(error)
	// OnLost is called once, after the loop stopped, when a transport fault occurred
	OnLost func(error)
}

// sharedSettings is the snapshot guarded by the session mutex
type sharedSettings struct {
	mu       sync.Mutex
	settings model.Settings
}

// PollLoop drains the command cue and refreshes the screen waveform at a
// fixed interval. It is the only writer on the session while running.
type PollLoop struct {
	session  *scpi.Session
	cue      *Cue
	screen   *ScreenReader
	state    *sharedSettings
	handlers PollHandlers
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	kick    chan struct{}
	seq     uint64
}

func newPollLoop(session *scpi.Session, cue *Cue, state *sharedSettings, interval time.Duration, handlers PollHandlers, logger *zap.Logger) *PollLoop {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollLoop{
		session:  session,
		cue:      cue,
		screen:   NewScreenReader(session),
		state:    state,
		handlers: handlers,
		interval: interval,
		logger:   logger,
		kick:     make(chan struct{}, 1),
	}
}

// Start runs the loop until Stop is called, ctx is done, or a transport
// fault occurs. Starting a running loop does nothing.
func (p *PollLoop) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	go p.run(ctx, p.stop, p.done)
	p.logger.Debug("Poll loop started", zap.Duration("interval", p.interval))
}

// Stop ends the loop and waits for an in flight tick to finish
func (p *PollLoop) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	done := p.done
	p.mu.Unlock()

	<-done
	p.logger.Debug("Poll loop stopped")
}

// Running reports whether the loop is active
func (p *PollLoop) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Kick requests a tick without waiting for the timer
func (p *PollLoop) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *PollLoop) run(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.markStopped(stop)
			close(done)
			return
		case <-stop:
			close(done)
			return
		case <-ticker.C:
		case <-p.kick:
		}

		if result, err := p.tick(ctx); result == TickLost {
			p.markStopped(stop)
			close(done)
			if p.handlers.OnLost != nil {
				p.handlers.OnLost(err)
			}
			return
		}
	}
}

// markStopped clears the running flag when the loop ended on its own
func (p *PollLoop) markStopped(stop <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop == stop {
		p.running = false
	}
}

// Tick performs one poll cycle. It never blocks on the snapshot lock.
func (p *PollLoop) Tick(ctx context.Context) TickResult {
	result, _ := p.tick(ctx)
	return result
}

// tick returns the transport fault alongside TickLost
func (p *PollLoop) tick(ctx context.Context) (TickResult, error) {
	if !p.state.mu.TryLock() {
		return TickSkipped, nil
	}

	result, frame, err := p.cycle(ctx, &p.state.settings)
	p.state.mu.Unlock()

	switch {
	case err != nil && scpi.IsFatal(err):
		p.logger.Error("Connection lost during poll", zap.Error(err))
		return TickLost, err
	case err != nil:
		if errors.Is(err, scpi.ErrCanceled) {
			return TickSkipped, nil
		}
		p.logger.Warn("Poll tick failed", zap.Error(err))
		if p.handlers.OnError != nil {
			p.handlers.OnError(err)
		}
		return TickFailed, nil
	}

	if frame != nil && p.handlers.OnFrame != nil {
		p.handlers.OnFrame(*frame)
	}
	return result, nil
}

func (p *PollLoop) cycle(ctx context.Context, st *model.Settings) (TickResult, *Frame, error) {
	if entry, ok := p.cue.Pop(); ok {
		return TickCommand, nil, p.send(ctx, st, entry)
	}

	statusCmd := scpi.Cmd(":TRIG:STAT?")
	resp, err := p.session.Query(ctx, statusCmd)
	if err != nil {
		return TickFailed, nil, scpi.At(err, "trigger status")
	}
	status, ok := triggerStatusTokens[resp]
	if !ok {
		return TickFailed, nil, scpi.At(scpi.ProtocolError(statusCmd, resp, "Received an unknown trigger status."), "trigger status")
	}
	st.Trigger.Status = model.TriggerStatus(status)

	p.seq++
	frame := &Frame{
		Sequence:      p.seq,
		Time:          time.Now(),
		TriggerStatus: st.Trigger.Status,
	}

	if st.Record.Enable != 0 {
		record := st.Record
		frame.Record = &record
	}

	buf, err := p.screen.Fetch(ctx, st)
	if err != nil {
		return TickFailed, nil, err
	}
	if buf == nil {
		return TickCleared, frame, nil
	}

	frame.Waveform = buf
	if st.Decode.Display {
		decode := st.Decode
		frame.Decode = &decode
	}
	return TickDelivered, frame, nil
}

// send transmits one cue entry. Queries are answered through the entry's
// reply channel; a job response is also written into the snapshot.
func (p *PollLoop) send(ctx context.Context, st *model.Settings, entry CueEntry) error {
	reply := CueReply{Command: entry.Command.String()}

	if !entry.Command.IsQuery() {
		reply.Err = p.session.Write(ctx, entry.Command)
	} else {
		reply.Response, reply.Err = p.session.Query(ctx, entry.Command)
		if reply.Err == nil && entry.Job {
			reply.Err = applyTriggerLevel(st, entry.Command, reply.Response)
		}
	}

	if entry.Reply != nil {
		deliver(entry.Reply, reply)
	}
	return scpi.At(reply.Err, "command cue")
}

// applyTriggerLevel stores a trigger level echo for the current edge source
func applyTriggerLevel(st *model.Settings, cmd scpi.Command, resp string) error {
	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return scpi.ProtocolError(cmd, resp, "Received a non numeric response.")
	}
	if src := st.Trigger.EdgeSource; src.IsChannel() {
		st.Trigger.EdgeLevel[src] = v
	}
	return nil
}
