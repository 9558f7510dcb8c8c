// internal/scpi/session_test.go
package scpi

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"scope-service/internal/protocol"
	"scope-service/internal/protocol/protocoltest"
)

func newTestSession(t *testing.T, fake *protocoltest.Fake, opts ...Option) *Session {
	t.Helper()
	if err := fake.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	opts = append([]Option{WithSettleDelay(0), WithLogger(zaptest.NewLogger(t))}, opts...)
	return NewSession(fake, opts...)
}

func TestCommandValidate(t *testing.T) {
	valid := []Command{
		Cmd("*IDN?"),
		Cmd(":CHAN%d:SCAL %e", 2, 0.5),
		Cmd(":TRIG:EDG:SOUR?"),
	}
	for _, c := range valid {
		if err := c.Validate(); err != nil {
			t.Errorf("%q: unexpected error %v", c, err)
		}
	}

	invalid := []Command{
		Text(""),
		Text("CHAN1:SCAL?"),
		Text(":" + strings.Repeat("A", MaxCommandLength)),
		Text(":CHAN1:SCAL 1\n"),
	}
	for _, c := range invalid {
		if err := c.Validate(); err == nil {
			t.Errorf("%q: expected error", c)
		}
	}

	if got := Cmd(":CHAN%d:SCAL %e", 1, 0.001).String(); got != ":CHAN1:SCAL 1.000000e-03" {
		t.Errorf("formatted command = %q", got)
	}
	if Cmd("*IDN?").Len() != 5 || !Cmd("*IDN?").IsQuery() || Cmd(":STOP").IsQuery() {
		t.Error("unexpected length or query flag")
	}
}

func TestSessionQuery(t *testing.T) {
	fake := protocoltest.New().
		Reply(":CHAN1:COUP?", "DC").
		Reply(":TIM:SCAL?", "5.000000e-04").
		Reply(":ACQ:AVER?", "16").
		Reply(":CHAN1:PROB?", "1.000000e+01")
	s := newTestSession(t, fake)
	ctx := context.Background()

	if resp, err := s.Query(ctx, Cmd(":CHAN1:COUP?")); err != nil || resp != "DC" {
		t.Errorf("Query = %q, %v", resp, err)
	}
	if v, err := s.QueryFloat(ctx, Cmd(":TIM:SCAL?")); err != nil || v != 5e-4 {
		t.Errorf("QueryFloat = %g, %v", v, err)
	}
	if v, err := s.QueryInt(ctx, Cmd(":ACQ:AVER?")); err != nil || v != 16 {
		t.Errorf("QueryInt = %d, %v", v, err)
	}
	if v, err := s.QueryInt(ctx, Cmd(":CHAN1:PROB?")); err != nil || v != 10 {
		t.Errorf("QueryInt float notation = %d, %v", v, err)
	}

	if err := s.Write(ctx, Cmd(":RUN")); err != nil {
		t.Fatal(err)
	}

	want := []string{":CHAN1:COUP?", ":TIM:SCAL?", ":ACQ:AVER?", ":CHAN1:PROB?", ":RUN"}
	got := fake.Written()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("written = %v, want %v", got, want)
	}
}

func TestSessionQueryErrors(t *testing.T) {
	fake := protocoltest.New().
		Reply(":CHAN1:BWL?", "").
		Reply(":TIM:SCAL?", "fast")
	s := newTestSession(t, fake)
	ctx := context.Background()

	_, err := s.Query(ctx, Cmd(":CHAN1:BWL?"))
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("empty response: expected ErrProtocol, got %v", err)
	}

	if resp, err := s.QueryLenient(ctx, Cmd(":CHAN1:BWL?")); err != nil || resp != "" {
		t.Errorf("QueryLenient = %q, %v", resp, err)
	}

	_, err = s.QueryFloat(ctx, Cmd(":TIM:SCAL?"))
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindProtocol || se.Response != "fast" || se.Command != ":TIM:SCAL?" {
		t.Errorf("non numeric: unexpected error %#v", err)
	}

	// silent instrument is a transport fault
	_, err = s.Query(ctx, Cmd(":TRIG:STAT?"))
	if !errors.Is(err, ErrTransport) || !IsFatal(err) {
		t.Errorf("no response: expected fatal transport error, got %v", err)
	}
	if !errors.Is(err, protocoltest.ErrNoResponse) {
		t.Errorf("cause not preserved: %v", err)
	}

	if err := s.Write(ctx, Cmd("RUN")); !errors.Is(err, ErrProtocol) {
		t.Errorf("invalid command: expected ErrProtocol, got %v", err)
	}
}

func TestSessionCancelDuringSettle(t *testing.T) {
	fake := protocoltest.New().Reply("*IDN?", "RIGOL TECHNOLOGIES,DS1104Z,DS1ZA1,00.04.04")
	s := newTestSession(t, fake, WithSettleDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := s.Identify(ctx)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if IsFatal(err) {
		t.Error("cancellation must not be fatal")
	}
	if len(fake.Written()) != 0 {
		t.Errorf("nothing should be written, got %v", fake.Written())
	}
}

type shortWriter struct {
	*protocoltest.Fake
}

func (w shortWriter) Write(ctx context.Context, data []byte) (int, error) {
	n, err := w.Fake.Write(ctx, data)
	return n - 1, err
}

func TestSessionShortWrite(t *testing.T) {
	fake := protocoltest.New()
	fake.Open(context.Background())
	s := NewSession(shortWriter{fake}, WithSettleDelay(0))

	err := s.Write(context.Background(), Cmd("*IDN?"))
	if !errors.Is(err, ErrTransport) || !errors.Is(err, protocol.ErrShortWrite) {
		t.Errorf("expected short write transport error, got %v", err)
	}
}

func TestQueryBlock(t *testing.T) {
	fake := protocoltest.New().
		Reply(":WAV:DATA?", "#15\x01\x02\x03\x04\x05\n", "", "#2xx")
	s := newTestSession(t, fake)
	ctx := context.Background()

	data, err := s.QueryBlock(ctx, Cmd(":WAV:DATA?"))
	if err != nil || len(data) != 5 || data[4] != 5 {
		t.Fatalf("QueryBlock = %v, %v", data, err)
	}

	data, err = s.QueryBlock(ctx, Cmd(":WAV:DATA?"))
	if err != nil || len(data) != 0 {
		t.Errorf("empty frame = %v, %v", data, err)
	}

	if _, err := s.QueryBlock(ctx, Cmd(":WAV:DATA?")); !errors.Is(err, ErrProtocol) {
		t.Errorf("bad block: expected ErrProtocol, got %v", err)
	}
}

func TestErrorFormatting(t *testing.T) {
	err := &Error{
		Kind:     KindProtocol,
		Message:  "An error occurred while reading settings from device.",
		Command:  ":CHAN2:COUP?",
		Response: "XYZ",
	}
	want := "An error occurred while reading settings from device. Command sent: :CHAN2:COUP? Received: XYZ"
	if err.Error() != want {
		t.Errorf("Error() = %q", err.Error())
	}

	annotated := At(err, "channel 2 coupling")
	if !strings.HasSuffix(annotated.Error(), "(at channel 2 coupling)") {
		t.Errorf("annotated = %q", annotated.Error())
	}
	if err.Point != "" {
		t.Error("At must not modify the original error")
	}

	wrapped := At(errors.New("boom"), "timebase")
	if !IsFatal(wrapped) {
		t.Error("foreign errors are transport faults")
	}
}

type recordingTracer struct {
	exchanges []string
}

func (r *recordingTracer) LogExchange(command, response string, _ time.Duration) {
	r.exchanges = append(r.exchanges, command+"="+response)
}

func TestSessionTracer(t *testing.T) {
	fake := protocoltest.New().
		Reply(":TIM:SCAL?", "5.000000e-04").
		Reply(":WAV:DATA?", "#9000000100"+strings.Repeat("x", 100))
	tracer := &recordingTracer{}
	s := newTestSession(t, fake, WithTracer(tracer))
	ctx := context.Background()

	if _, err := s.Query(ctx, Cmd(":TIM:SCAL?")); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(ctx, Cmd(":STOP")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.QueryLenient(ctx, Cmd(":WAV:DATA?")); err != nil {
		t.Fatal(err)
	}

	if len(tracer.exchanges) != 3 {
		t.Fatalf("exchanges = %v", tracer.exchanges)
	}
	if tracer.exchanges[0] != ":TIM:SCAL?=5.000000e-04" || tracer.exchanges[1] != ":STOP=" {
		t.Errorf("exchanges = %v", tracer.exchanges)
	}
	if !strings.HasSuffix(tracer.exchanges[2], "(111 bytes)") {
		t.Errorf("block exchange not shortened: %q", tracer.exchanges[2])
	}
}
