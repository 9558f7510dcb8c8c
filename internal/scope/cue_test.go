// internal/scope/cue_test.go
package scope

import (
	"errors"
	"testing"

	"scope-service/internal/scpi"
)

func popAll(c *Cue) []string {
	var out []string
	for {
		e, ok := c.Pop()
		if !ok {
			return out
		}
		out = append(out, e.Command.String())
	}
}

func TestCueOrderAndWrap(t *testing.T) {
	c := NewCue(3)

	for _, cmd := range []string{":RUN", ":STOP", ":SING"} {
		if err := c.Push(scpi.Text(cmd)); err != nil {
			t.Fatalf("Push %s: %v", cmd, err)
		}
	}
	if err := c.Push(scpi.Cmd(":TFOR")); !errors.Is(err, ErrCueFull) {
		t.Fatalf("push on full cue: %v", err)
	}

	if e, ok := c.Pop(); !ok || e.Command.String() != ":RUN" {
		t.Fatalf("Pop = %v, %v", e.Command, ok)
	}
	if err := c.Push(scpi.Cmd(":TFOR")); err != nil {
		t.Fatalf("Push after pop: %v", err)
	}

	got := popAll(c)
	want := []string{":STOP", ":SING", ":TFOR"}
	if len(got) != len(want) {
		t.Fatalf("drained %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after drain", c.Len())
	}
}

func TestCueDefaultCapacity(t *testing.T) {
	c := NewCue(0)
	if c.Cap() != DefaultCueCapacity {
		t.Fatalf("Cap = %d", c.Cap())
	}
	for i := 0; i < DefaultCueCapacity; i++ {
		if err := c.Push(scpi.Cmd(":CHAN1:OFFS %d", i)); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}
	if err := c.Push(scpi.Cmd(":RUN")); !errors.Is(err, ErrCueFull) {
		t.Errorf("entry %d accepted: %v", DefaultCueCapacity+1, err)
	}
}

func TestCueRejectsInvalidCommand(t *testing.T) {
	c := NewCue(4)

	err := c.Push(scpi.Cmd("RUN"))
	if !errors.Is(err, scpi.ErrProtocol) {
		t.Errorf("expected protocol error, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("invalid command queued")
	}
}

func TestCueResetNotifiesPending(t *testing.T) {
	c := NewCue(4)
	reply := make(chan CueReply, 1)

	if err := c.Push(scpi.Cmd(":RUN")); err != nil {
		t.Fatal(err)
	}
	if err := c.Enqueue(CueEntry{Command: scpi.Cmd(":TRIG:EDGe:LEV?"), Job: true, Reply: reply}); err != nil {
		t.Fatal(err)
	}

	c.Reset()

	select {
	case r := <-reply:
		if !errors.Is(r.Err, ErrCueDiscarded) || r.Command != ":TRIG:EDGe:LEV?" {
			t.Errorf("reply = %+v", r)
		}
	default:
		t.Fatal("pending reply not notified")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after reset", c.Len())
	}
	if _, ok := c.Pop(); ok {
		t.Error("Pop returned an entry after reset")
	}
}

func TestCuePushAllIsAtomic(t *testing.T) {
	c := NewCue(3)
	if err := c.Push(scpi.Cmd(":RUN")); err != nil {
		t.Fatal(err)
	}

	err := c.PushAll(scpi.Cmd(":TRIG:HOLD 1e-06"), scpi.Cmd(":CLE"), scpi.Cmd(":STOP"))
	if !errors.Is(err, ErrCueFull) {
		t.Fatalf("expected ErrCueFull, got %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("partial group queued, Len = %d", c.Len())
	}

	err = c.PushAll(scpi.Cmd(":TRIG:HOLD 1e-06"), scpi.Cmd("CLE"))
	if !errors.Is(err, scpi.ErrProtocol) || c.Len() != 1 {
		t.Fatalf("invalid group: err %v, Len %d", err, c.Len())
	}

	if err := c.PushAll(scpi.Cmd(":TRIG:HOLD 1e-06"), scpi.Cmd(":CLE")); err != nil {
		t.Fatalf("PushAll: %v", err)
	}
	got := popAll(c)
	if len(got) != 3 || got[1] != ":TRIG:HOLD 1e-06" || got[2] != ":CLE" {
		t.Errorf("drained %v", got)
	}
}
