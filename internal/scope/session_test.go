// internal/scope/session_test.go
package scope

import (
	"bytes"
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"golang.org/x/image/bmp"

	"scope-service/internal/driver"
	"scope-service/internal/model"
	"scope-service/internal/protocol/protocoltest"
	"scope-service/internal/scpi"
)

func testRegistry(t *testing.T) *driver.Registry {
	t.Helper()
	logger := zaptest.NewLogger(t)
	r := driver.NewRegistry(logger)
	driver.RegisterDefaultModels(r, logger)
	return r
}

// connectTest opens a session on fake with polling halted, so ticks are
// driven by the test
func connectTest(t *testing.T, fake *protocoltest.Fake, opts ...SessionOption) *DeviceSession {
	t.Helper()
	opts = append([]SessionOption{WithSessionConfig(SessionConfig{PollInterval: time.Hour})}, opts...)

	s, err := Connect(context.Background(), "test-session", fake, testRegistry(t), zaptest.NewLogger(t), opts...)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s.poll.Stop()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConnectDS1104Z(t *testing.T) {
	fake := newScriptFake(ds1104zScript())
	s := connectTest(t, fake)

	if s.State() != model.SessionStateConnected {
		t.Fatalf("State = %s", s.State())
	}
	if compat, warning := s.Compatibility(); compat != model.CompatibilitySupported || warning != "" {
		t.Errorf("compatibility = %s %q", compat, warning)
	}
	if s.Identity().Serial != "DS1ZA000000001" || s.Capabilities().Bandwidth != 100 {
		t.Errorf("identity %+v caps %+v", s.Identity(), s.Capabilities())
	}

	st := s.Snapshot()
	if !st.Bound || st.Model != "DS1104Z" || st.ChannelCount != 4 || st.Series != 1 {
		t.Errorf("snapshot header = %+v", st)
	}
	if st.ScreenScaleFactor != 100/5e-4 {
		t.Errorf("ScreenScaleFactor = %g", st.ScreenScaleFactor)
	}

	inst := s.Instrument()
	if inst.Model != "DS1104Z" || inst.State != model.SessionStateConnected || inst.ConnectedAt == nil {
		t.Errorf("instrument = %+v", inst)
	}
	if fake.Written()[0] != "*IDN?" {
		t.Errorf("first command = %q", fake.Written()[0])
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.State() != model.SessionStateDisconnected || fake.IsOpen() {
		t.Error("session still open after Close")
	}
	if s.Snapshot().Bound {
		t.Error("snapshot still bound after Close")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := s.Do(ActionRun); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("control after Close: %v", err)
	}
}

func TestConnectFailures(t *testing.T) {
	registry := testRegistry(t)
	ctx := context.Background()

	fake := protocoltest.New().FailOpen(errors.New("no such device"))
	_, err := Connect(ctx, "open", fake, registry, zaptest.NewLogger(t))
	var se *scpi.Error
	if !errors.As(err, &se) || se.Kind != scpi.KindTransport || se.Point != "open" {
		t.Errorf("open failure: %v", err)
	}

	fake = protocoltest.New().Reply("*IDN?", "ACME,SCOPE,1,2")
	_, err = Connect(ctx, "vendor", fake, registry, zaptest.NewLogger(t))
	if !errors.Is(err, scpi.ErrUnknownIdentity) {
		t.Errorf("unknown vendor: %v", err)
	}
	if fake.IsOpen() {
		t.Error("transport left open after a failed connect")
	}

	script := ds1104zScript()
	script[":CHAN3:COUP?"] = "XYZ"
	fake = newScriptFake(script)
	_, err = Connect(ctx, "sync", fake, registry, zaptest.NewLogger(t))
	if !errors.As(err, &se) || se.Point != "channel 3 coupling" {
		t.Errorf("sync failure: %v", err)
	}
	if fake.IsOpen() {
		t.Error("transport left open after a failed sync")
	}
}

func TestConnectUnknownModelConfirmation(t *testing.T) {
	script := ds1104zScript()
	script["*IDN?"] = "RIGOL TECHNOLOGIES,DS1204X,DS1X0001,00.01.01"

	var asked model.Compatibility
	decline := func(modelName string, compat model.Compatibility, warning string) bool {
		asked = compat
		return false
	}

	fake := newScriptFake(script)
	_, err := Connect(context.Background(), "declined", fake, testRegistry(t), zaptest.NewLogger(t), WithConfirmer(decline))
	if !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
	if asked != model.CompatibilityUnknownModel {
		t.Errorf("confirmer asked with %s", asked)
	}
	if countOf(fake.Written(), ":CHAN1:BWL?") != 0 {
		t.Error("settings read before confirmation")
	}

	s := connectTest(t, newScriptFake(script), WithConfirmer(func(string, model.Compatibility, string) bool { return true }))
	if compat, warning := s.Compatibility(); compat != model.CompatibilityUnknownModel || warning == "" {
		t.Errorf("compatibility = %s %q", compat, warning)
	}
	if caps := s.Capabilities(); caps.Series != 1 || caps.ChannelCount != 4 || caps.Bandwidth != 200 {
		t.Errorf("guessed capabilities = %+v", caps)
	}
}

func TestSessionResync(t *testing.T) {
	script := ds1104zScript()
	fake := newScriptFake(script)
	s := connectTest(t, fake)

	if err := s.SetAcquireAverages(64); err != nil {
		t.Fatal(err)
	}

	script[":TIM:SCAL?"] = "1.000000e-03"
	if err := s.Resync(context.Background()); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	s.poll.Stop()

	st := s.Snapshot()
	if st.Timebase.Scale != 1e-3 || st.ScreenScaleFactor != 1e5 {
		t.Errorf("timebase %g factor %g", st.Timebase.Scale, st.ScreenScaleFactor)
	}
	if st.Acquisition.Averages != 2 {
		t.Errorf("optimistic value survived resync: %d", st.Acquisition.Averages)
	}
	if s.CueLen() != 0 {
		t.Errorf("cue not cleared by resync: %d", s.CueLen())
	}
}

func TestSessionDeepMemory(t *testing.T) {
	script := deepScript()
	fake := newScriptFake(script).Reply(":WAV:DATA?", block(bytes.Repeat([]byte{145}, 12000)))
	s := connectTest(t, fake)

	var last int
	buf, err := s.DownloadDeepMemory(context.Background(), func(ch, received, total int) {
		last = received
	})
	if err != nil {
		t.Fatalf("DownloadDeepMemory: %v", err)
	}
	s.poll.Stop()

	if len(buf.Channels) != 2 || buf.Samples() != 12000 || last != 12000 {
		t.Errorf("channels %d samples %d last progress %d", len(buf.Channels), buf.Samples(), last)
	}
	if s.State() != model.SessionStateConnected {
		t.Errorf("State = %s", s.State())
	}
}

func TestSessionScreenshot(t *testing.T) {
	var img bytes.Buffer
	if err := bmp.Encode(&img, image.NewGray(image.Rect(0, 0, 8, 6))); err != nil {
		t.Fatal(err)
	}

	script := ds1104zScript()
	script[":DISP:DATA?"] = block(img.Bytes())
	s := connectTest(t, newScriptFake(script))

	shot, err := s.Screenshot(context.Background())
	if err != nil {
		t.Fatalf("Screenshot: %v", err)
	}
	s.poll.Stop()
	if shot.Width != 8 || shot.Height != 6 || !bytes.Equal(shot.Data, img.Bytes()) {
		t.Errorf("screenshot %dx%d, %d bytes", shot.Width, shot.Height, len(shot.Data))
	}
}

func TestReadScreenshotRejectsNonBitmap(t *testing.T) {
	fake := protocoltest.New().Reply(":DISP:DATA?", block([]byte("\x89PNG\r\n\x1a\n")))
	_, err := ReadScreenshot(context.Background(), newTestSession(t, fake))

	var se *scpi.Error
	if !errors.As(err, &se) || se.Message != "Received data is not a bitmap." {
		t.Errorf("error = %v", err)
	}
}

func TestSessionLostOnTransportFault(t *testing.T) {
	fake := newScriptFake(ds1104zScript())
	lost := make(chan error, 1)

	s, err := Connect(context.Background(), "lost", fake, testRegistry(t), zaptest.NewLogger(t),
		WithSessionConfig(SessionConfig{PollInterval: time.Millisecond}),
		WithPollHandlers(PollHandlers{OnLost: func(err error) { lost <- err }}),
	)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	fake.FailWrite(":TRIG:STAT?", errors.New("cable unplugged"))

	select {
	case err := <-lost:
		if !scpi.IsFatal(err) {
			t.Errorf("lost with non fatal error %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loss not reported")
	}

	if s.State() != model.SessionStateDisconnected || fake.IsOpen() {
		t.Error("session not torn down after loss")
	}
	if err := s.Enqueue(CueEntry{Command: scpi.Cmd(":RUN")}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Enqueue after loss: %v", err)
	}
}
