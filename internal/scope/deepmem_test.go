// internal/scope/deepmem_test.go
package scope

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"scope-service/internal/driver"
	"scope-service/internal/model"
	"scope-service/internal/protocol/protocoltest"
	"scope-service/internal/scpi"
)

type progressCall struct {
	channel, received, total int
}

func deepScript() map[string]string {
	s := ds1104zScript()
	s[":WAV:YINC?"] = "4.000000e-02"
	s[":WAV:YREF?"] = "127"
	s[":WAV:YOR?"] = "0"
	return s
}

func newDownloader(t *testing.T, fake *protocoltest.Fake, opts ...DownloadOption) *DeepMemoryDownloader {
	t.Helper()
	return NewDeepMemoryDownloader(newTestSession(t, fake), driver.DialectFor(1), zaptest.NewLogger(t), opts...)
}

func TestDeepMemoryDownloadChunks(t *testing.T) {
	fake := newScriptFake(deepScript()).Reply(":WAV:DATA?",
		block(bytes.Repeat([]byte{145}, 250000)),
		block(bytes.Repeat([]byte{127}, 250000)),
		block(bytes.Repeat([]byte{109}, 100000)),
	)
	d := newDownloader(t, fake)

	st := displayed(0)
	st.Acquisition.MemoryDepth = 600000

	var calls []progressCall
	buf, err := d.Download(context.Background(), &st, func(ch, received, total int) {
		calls = append(calls, progressCall{ch, received, total})
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if fake.Count(":WAV:DATA?") != 3 {
		t.Errorf("data requests = %d, want 3", fake.Count(":WAV:DATA?"))
	}
	for _, w := range []string{":WAV:STAR 250001", ":WAV:STOP 500000", ":WAV:STAR 500001", ":WAV:STOP 600000"} {
		if fake.Count(w) != 1 {
			t.Errorf("%q written %d times", w, fake.Count(w))
		}
	}

	c := buf.Channel(0)
	if c == nil || c.Len() != 600000 {
		t.Fatalf("channel = %+v", c)
	}
	if c.Codes[0] != 18 || c.Codes[250000] != 0 || c.Codes[599999] != -18 {
		t.Errorf("codes = %d %d %d", c.Codes[0], c.Codes[250000], c.Codes[599999])
	}
	if buf.XIncrement != 1e-9 {
		t.Errorf("XIncrement = %g", buf.XIncrement)
	}

	want := []progressCall{{0, 0, 600000}, {0, 250000, 600000}, {0, 500000, 600000}, {0, 600000, 600000}}
	if len(calls) != len(want) {
		t.Fatalf("progress = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("progress %d = %v, want %v", i, calls[i], want[i])
		}
	}

	// series 1 restores the window without :WAV:POIN
	restore := []string{":WAV:SOUR CHAN1", ":WAV:MODE NORM", ":WAV:STAR 1", ":WAV:STOP 1200"}
	if got := lastWritten(fake, 4); strings.Join(got, "|") != strings.Join(restore, "|") {
		t.Errorf("restore = %v, want %v", got, restore)
	}
	if fake.Written()[0] != ":STOP" {
		t.Errorf("first command = %q, want :STOP", fake.Written()[0])
	}
}

func TestDeepMemoryStall(t *testing.T) {
	fake := newScriptFake(deepScript()).Reply(":WAV:DATA?", "\n")
	d := newDownloader(t, fake)

	st := displayed(0)
	st.Acquisition.MemoryDepth = 1000

	buf, err := d.Download(context.Background(), &st, nil)
	if buf != nil {
		t.Error("partial buffer returned")
	}
	if !errors.Is(err, ErrDownloadStalled) || !errors.Is(err, scpi.ErrProtocol) {
		t.Fatalf("expected stall, got %v", err)
	}
	if got := fake.Count(":WAV:DATA?"); got != maxEmptyReads+1 {
		t.Errorf("data requests = %d, want %d", got, maxEmptyReads+1)
	}
	if got := lastWritten(fake, 1); got[0] != ":WAV:STOP 1200" {
		t.Errorf("restore not run, last command %v", got)
	}
}

func TestDeepMemoryRefusals(t *testing.T) {
	fake := newScriptFake(deepScript())
	d := newDownloader(t, fake)

	st := displayed(0)
	if _, err := d.Download(context.Background(), &st, nil); !errors.Is(err, ErrAutoMemoryDepth) {
		t.Errorf("AUTO depth: %v", err)
	}

	st = displayed()
	st.Acquisition.MemoryDepth = 12000
	if _, err := d.Download(context.Background(), &st, nil); !errors.Is(err, ErrNoActiveChannels) {
		t.Errorf("no channels: %v", err)
	}

	if len(fake.Written()) != 0 {
		t.Errorf("written = %v", fake.Written())
	}
}

func TestDeepMemoryOversizedChunk(t *testing.T) {
	fake := newScriptFake(deepScript()).Reply(":WAV:DATA?", block([]byte{1, 2, 3, 4, 5}))
	d := newDownloader(t, fake, WithChunkSize(4))

	st := displayed(0)
	st.Acquisition.MemoryDepth = 8

	_, err := d.Download(context.Background(), &st, nil)
	if err == nil || !strings.Contains(err.Error(), "Datablock too big for buffer: 5") {
		t.Errorf("error = %v", err)
	}
}

func TestDeepMemoryScalingOutOfRange(t *testing.T) {
	script := deepScript()
	script[":WAV:YINC?"] = "0.000000e+00"
	fake := newScriptFake(script)
	d := newDownloader(t, fake)

	st := displayed(0)
	st.Acquisition.MemoryDepth = 1000

	_, err := d.Download(context.Background(), &st, nil)
	var se *scpi.Error
	if !errors.As(err, &se) || !strings.Contains(se.Message, `"YINC"`) || se.Point != "channel 1 deep memory" {
		t.Errorf("error = %v", err)
	}
	if fake.Count(":WAV:DATA?") != 0 {
		t.Error("data requested after a scaling error")
	}
}

func TestDeepMemoryCancel(t *testing.T) {
	fake := newScriptFake(deepScript()).Reply(":WAV:DATA?", block([]byte{130, 131, 132, 133}))
	d := newDownloader(t, fake, WithChunkSize(4))

	st := displayed(0, 2)
	st.Acquisition.MemoryDepth = 12

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := d.Download(ctx, &st, func(ch, received, total int) {
		if received == 4 {
			cancel()
		}
	})
	if !errors.Is(err, scpi.ErrCanceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if fake.Count(":WAV:DATA?") != 1 {
		t.Errorf("data requests = %d, want 1", fake.Count(":WAV:DATA?"))
	}

	// both channels are restored even though only the first was read
	if fake.Count(":WAV:SOUR CHAN3") != 1 {
		t.Error("second channel window not restored")
	}
	if got := lastWritten(fake, 1); got[0] != ":WAV:STOP 1200" {
		t.Errorf("last command %v", got)
	}
}

func TestDeepMemoryTwoChannels(t *testing.T) {
	fake := newScriptFake(deepScript()).Reply(":WAV:DATA?", block(bytes.Repeat([]byte{128}, 6)))
	d := newDownloader(t, fake, WithChunkSize(6))

	st := displayed(0, 3)
	st.Channels[3].Unit = model.UnitAmpere
	st.Acquisition.MemoryDepth = 6

	buf, err := d.Download(context.Background(), &st, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(buf.Channels) != 2 || buf.Channels[1].Index != 3 || buf.Channels[1].Unit != "A" {
		t.Fatalf("channels = %+v", buf.Channels)
	}
	if buf.Samples() != 6 {
		t.Errorf("Samples = %d", buf.Samples())
	}
}
