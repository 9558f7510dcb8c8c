// internal/scope/poll_test.go
package scope

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"scope-service/internal/model"
	"scope-service/internal/protocol/protocoltest"
	"scope-service/internal/scpi"
)

type pollRecorder struct {
	frames []Frame
	errs   []error
}

func newTestPoll(t *testing.T, fake *protocoltest.Fake, st model.Settings) (*PollLoop, *pollRecorder) {
	t.Helper()
	rec := &pollRecorder{}
	handlers := PollHandlers{
		OnFrame: func(f Frame) { rec.frames = append(rec.frames, f) },
		OnError: func(err error) { rec.errs = append(rec.errs, err) },
	}
	shared := &sharedSettings{settings: st}
	p := newPollLoop(newTestSession(t, fake), NewCue(8), shared, time.Millisecond, handlers, zaptest.NewLogger(t))
	return p, rec
}

func TestPollSendsCueFirst(t *testing.T) {
	fake := newScriptFake(ds1104zScript())
	p, rec := newTestPoll(t, fake, displayed(0))

	if err := p.cue.PushAll(scpi.Cmd(":RUN"), scpi.Cmd(":CLE")); err != nil {
		t.Fatal(err)
	}

	if got := p.Tick(context.Background()); got != TickCommand {
		t.Fatalf("tick 1 = %s", got)
	}
	if got := p.Tick(context.Background()); got != TickCommand {
		t.Fatalf("tick 2 = %s", got)
	}
	if w := fake.Written(); len(w) != 2 || w[0] != ":RUN" || w[1] != ":CLE" {
		t.Errorf("written = %v", w)
	}
	if len(rec.frames) != 0 {
		t.Errorf("frame delivered while draining the cue")
	}

	if got := p.Tick(context.Background()); got != TickDelivered {
		t.Fatalf("tick 3 = %s", got)
	}
}

func TestPollJobUpdatesSnapshot(t *testing.T) {
	fake := newScriptFake(ds1104zScript()).Reply(":TRIG:EDGe:LEV?", "2.500000e+00")
	st := displayed(0)
	st.Trigger.EdgeSource = model.TriggerSourceChan2
	p, _ := newTestPoll(t, fake, st)

	reply := make(chan CueReply, 1)
	if err := p.cue.Enqueue(CueEntry{Command: scpi.Cmd(triggerLevelQuery), Job: true, Reply: reply}); err != nil {
		t.Fatal(err)
	}

	if got := p.Tick(context.Background()); got != TickCommand {
		t.Fatalf("tick = %s", got)
	}
	r := <-reply
	if r.Err != nil || r.Response != "2.500000e+00" {
		t.Errorf("reply = %+v", r)
	}
	if got := p.state.settings.Trigger.EdgeLevel[1]; got != 2.5 {
		t.Errorf("EdgeLevel[1] = %g, want 2.5", got)
	}
}

func TestPollCleared(t *testing.T) {
	script := ds1104zScript()
	script[":TRIG:STAT?"] = "WAIT"
	fake := newScriptFake(script)
	p, rec := newTestPoll(t, fake, displayed())

	if got := p.Tick(context.Background()); got != TickCleared {
		t.Fatalf("tick = %s", got)
	}
	if len(rec.frames) != 1 || !rec.frames[0].Cleared() || rec.frames[0].TriggerStatus != model.TriggerStatusWait {
		t.Errorf("frames = %+v", rec.frames)
	}
	if p.state.settings.Trigger.Status != model.TriggerStatusWait {
		t.Errorf("snapshot status = %s", p.state.settings.Trigger.Status)
	}
	if fake.Count(":WAV:DATA?") != 0 {
		t.Error("waveform read with no channel displayed")
	}
}

func TestPollDelivered(t *testing.T) {
	fake := newScriptFake(ds1104zScript())
	st := displayed(0, 1)
	st.Decode.Display = true
	st.Record.Enable = 2
	p, rec := newTestPoll(t, fake, st)

	for i := 0; i < 2; i++ {
		if got := p.Tick(context.Background()); got != TickDelivered {
			t.Fatalf("tick %d = %s", i, got)
		}
	}

	if len(rec.frames) != 2 {
		t.Fatalf("frames = %d", len(rec.frames))
	}
	f := rec.frames[1]
	if f.Sequence != 2 || f.Cleared() || len(f.Waveform.Channels) != 2 {
		t.Errorf("frame = %+v", f)
	}
	if f.Decode == nil || f.Record == nil || f.Record.Enable != 2 {
		t.Errorf("overlays missing: decode %v record %v", f.Decode, f.Record)
	}
}

func TestPollProtocolErrorContinues(t *testing.T) {
	script := ds1104zScript()
	script[":TRIG:STAT?"] = "BOGUS"
	fake := newScriptFake(script)
	p, rec := newTestPoll(t, fake, displayed(0))

	if got := p.Tick(context.Background()); got != TickFailed {
		t.Fatalf("tick = %s", got)
	}
	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], scpi.ErrProtocol) {
		t.Errorf("errors = %v", rec.errs)
	}
	if len(rec.frames) != 0 {
		t.Errorf("frame delivered after a failure")
	}
}

func TestPollSkipsWhenSnapshotBusy(t *testing.T) {
	fake := newScriptFake(ds1104zScript())
	p, _ := newTestPoll(t, fake, displayed(0))
	if err := p.cue.Push(scpi.Cmd(":RUN")); err != nil {
		t.Fatal(err)
	}

	p.state.mu.Lock()
	got := p.Tick(context.Background())
	p.state.mu.Unlock()

	if got != TickSkipped {
		t.Fatalf("tick = %s", got)
	}
	if len(fake.Written()) != 0 || p.cue.Len() != 1 {
		t.Errorf("busy tick touched the instrument: %v", fake.Written())
	}
}

func TestPollTransportFaultIsLost(t *testing.T) {
	script := ds1104zScript()
	delete(script, ":TRIG:STAT?")
	fake := newScriptFake(script)
	p, rec := newTestPoll(t, fake, displayed(0))

	if got := p.Tick(context.Background()); got != TickLost {
		t.Fatalf("tick = %s", got)
	}
	if len(rec.errs) != 0 {
		t.Errorf("transport fault reported as a tick error")
	}
}

func TestPollLoopStopsOnLoss(t *testing.T) {
	script := ds1104zScript()
	delete(script, ":TRIG:STAT?")
	fake := newScriptFake(script)

	lost := make(chan error, 1)
	shared := &sharedSettings{settings: displayed(0)}
	p := newPollLoop(newTestSession(t, fake), NewCue(8), shared, time.Millisecond,
		PollHandlers{OnLost: func(err error) { lost <- err }}, zaptest.NewLogger(t))

	p.Start(context.Background())

	select {
	case err := <-lost:
		if !errors.Is(err, protocoltest.ErrNoResponse) {
			t.Errorf("lost cause = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loss not reported")
	}
	if p.Running() {
		t.Error("loop still running after loss")
	}
	p.Stop()
}

func TestPollStartStop(t *testing.T) {
	fake := newScriptFake(ds1104zScript())
	p, _ := newTestPoll(t, fake, displayed())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	p.Start(ctx)
	if !p.Running() {
		t.Fatal("loop not running")
	}
	p.Kick()
	p.Stop()
	p.Stop()
	if p.Running() {
		t.Error("loop running after Stop")
	}

	fake.ResetWritten()
	time.Sleep(10 * time.Millisecond)
	if len(fake.Written()) != 0 {
		t.Errorf("stopped loop kept polling: %v", fake.Written())
	}
}

func TestTickResultString(t *testing.T) {
	for r, want := range map[TickResult]string{
		TickSkipped:    "skipped",
		TickDelivered:  "delivered",
		TickLost:       "lost",
		TickResult(42): "unknown",
	} {
		if r.String() != want {
			t.Errorf("%d.String() = %q", int(r), r.String())
		}
	}
}
