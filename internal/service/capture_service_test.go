// internal/service/capture_service_test.go
package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"scope-service/internal/config"
	"scope-service/internal/model"
	"scope-service/internal/protocol/protocoltest"
	"scope-service/internal/repository"
)

// deepMemoryFake answers a DS1104Z with two channels on and 12000 points of
// acquisition memory
func deepMemoryFake() *protocoltest.Fake {
	script := protocoltest.DS1104Z()
	script[":WAV:YINC?"] = "4.000000e-02"
	script[":WAV:YREF?"] = "127"
	script[":WAV:YOR?"] = "0"
	return protocoltest.Scripted(script).
		Reply(":WAV:DATA?", protocoltest.Block(bytes.Repeat([]byte{145}, 12000)))
}

func newCaptureHarness(t *testing.T, cfg *config.Config) (*testHarness, *CaptureService, repository.CaptureRepository) {
	t.Helper()
	h := newHarness(t, cfg, deepMemoryFake)
	repo := repository.NewMemoryCaptureRepository(zaptest.NewLogger(t))
	cs := NewCaptureService(h.scopes, repo, h.bus, cfg, zaptest.NewLogger(t))
	t.Cleanup(func() {
		if err := cs.Shutdown(5 * time.Second); err != nil {
			t.Errorf("capture Shutdown: %v", err)
		}
	})
	return h, cs, repo
}

func TestCaptureRawWithSidecar(t *testing.T) {
	cfg := testConfig(t)
	h, cs, _ := newCaptureHarness(t, cfg)
	events, cancel := h.bus.SubscribeAll(1000)
	defer cancel()

	inst, err := h.scopes.Connect(context.Background(), &ConnectRequest{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	started, err := cs.StartCapture(context.Background(), inst.SessionID, &CaptureRequest{})
	if err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if started.Status != model.CaptureStatusRunning || len(started.Channels) != 2 || started.Model != "DS1104Z" {
		t.Errorf("started = %+v", started)
	}

	waitEvent(t, events, model.EventCaptureProgress)
	done := waitEvent(t, events, model.EventCaptureCompleted)
	if done.Data["capture_id"] != started.ID {
		t.Errorf("completed event = %+v", done)
	}
	if err := cs.Shutdown(5 * time.Second); err != nil {
		t.Fatal(err)
	}
	if cs.Running(started.ID) {
		t.Error("capture still running")
	}

	capture, path, err := cs.CaptureData(context.Background(), started.ID)
	if err != nil {
		t.Fatalf("CaptureData: %v", err)
	}
	if capture.Status != model.CaptureStatusCompleted || capture.DurationMs == nil {
		t.Errorf("capture = %+v", capture)
	}
	if filepath.Dir(path) != cfg.Scope.CaptureDir || filepath.Ext(path) != ".bin" {
		t.Errorf("data path = %s", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 2*12000*2 {
		t.Errorf("data size = %d", info.Size())
	}

	raw, err := os.ReadFile(strings.TrimSuffix(path, ".bin") + ".json")
	if err != nil {
		t.Fatalf("sidecar: %v", err)
	}
	var sidecar struct {
		Encoding string `json:"encoding"`
		Samples  int    `json:"samples"`
		Waveform struct {
			Channels []struct {
				Index      int     `json:"index"`
				YIncrement float64 `json:"y_increment"`
			} `json:"channels"`
		} `json:"waveform"`
	}
	if err := json.Unmarshal(raw, &sidecar); err != nil {
		t.Fatal(err)
	}
	if sidecar.Encoding != "int16le" || sidecar.Samples != 12000 || len(sidecar.Waveform.Channels) != 2 {
		t.Errorf("sidecar = %+v", sidecar)
	}
	if sidecar.Waveform.Channels[1].Index != 1 || sidecar.Waveform.Channels[1].YIncrement != 0.04 {
		t.Errorf("sidecar channel = %+v", sidecar.Waveform.Channels[1])
	}
}

func TestCaptureCSV(t *testing.T) {
	h, cs, _ := newCaptureHarness(t, testConfig(t))
	events, cancel := h.bus.SubscribeAll(1000)
	defer cancel()

	inst, err := h.scopes.Connect(context.Background(), &ConnectRequest{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	started, err := cs.StartCapture(context.Background(), inst.SessionID, &CaptureRequest{Format: "CSV"})
	if err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	waitEvent(t, events, model.EventCaptureCompleted)
	if err := cs.Shutdown(5 * time.Second); err != nil {
		t.Fatal(err)
	}

	_, path, err := cs.CaptureData(context.Background(), started.ID)
	if err != nil {
		t.Fatalf("CaptureData: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lines := 0
	for sc.Scan() {
		if lines == 0 && !strings.HasPrefix(sc.Text(), "time,CH1") {
			t.Errorf("header = %q", sc.Text())
		}
		lines++
	}
	if lines != 12001 {
		t.Errorf("lines = %d", lines)
	}
}

func TestCaptureValidation(t *testing.T) {
	h, cs, _ := newCaptureHarness(t, testConfig(t))

	if _, err := cs.StartCapture(context.Background(), uuid.New(), &CaptureRequest{}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session: %v", err)
	}

	inst, err := h.scopes.Connect(context.Background(), &ConnectRequest{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := cs.StartCapture(context.Background(), inst.SessionID, &CaptureRequest{Format: "wav"}); err == nil {
		t.Error("unknown format accepted")
	}

	cs.mu.Lock()
	cs.bySession[inst.SessionID] = uuid.New()
	cs.mu.Unlock()
	if _, err := cs.StartCapture(context.Background(), inst.SessionID, &CaptureRequest{}); !errors.Is(err, ErrCaptureInProgress) {
		t.Errorf("second capture: %v", err)
	}

	if err := cs.CancelCapture(uuid.New(), "test"); !errors.Is(err, ErrCaptureNotRunning) {
		t.Errorf("cancel unknown capture: %v", err)
	}
}

func TestCaptureFailedDownload(t *testing.T) {
	h, cs, repo := newCaptureHarness(t, testConfig(t))
	events, cancel := h.bus.SubscribeAll(1000)
	defer cancel()

	inst, err := h.scopes.Connect(context.Background(), &ConnectRequest{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.fakes[0].Reply(":WAV:YINC?", "0.000000e+00")

	started, err := cs.StartCapture(context.Background(), inst.SessionID, &CaptureRequest{})
	if err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	ev := waitEvent(t, events, model.EventCaptureFailed)
	if ev.Severity != "ERROR" || ev.Data["status"] != model.CaptureStatusFailed {
		t.Errorf("failed event = %+v", ev)
	}
	if err := cs.Shutdown(5 * time.Second); err != nil {
		t.Fatal(err)
	}

	capture, err := repo.GetByID(context.Background(), started.ID)
	if err != nil {
		t.Fatal(err)
	}
	if capture.Status != model.CaptureStatusFailed || capture.ErrorMessage == nil || capture.DataPath != nil {
		t.Errorf("capture = %+v", capture)
	}
	if _, _, err := cs.CaptureData(context.Background(), started.ID); !errors.Is(err, ErrCaptureNoData) {
		t.Errorf("CaptureData of a failed capture: %v", err)
	}
}

func TestCaptureCleanup(t *testing.T) {
	cfg := testConfig(t)
	_, cs, repo := newCaptureHarness(t, cfg)
	ctx := context.Background()

	old := filepath.Join(cfg.Scope.CaptureDir, "old.bin")
	if err := os.WriteFile(old, []byte{1, 2}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Scope.CaptureDir, "old.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	expired := &model.Capture{ID: uuid.New(), SessionID: uuid.New(), Status: model.CaptureStatusRunning, StartedAt: time.Now().Add(-48 * time.Hour)}
	expired.MarkCompleted(old)
	recent := &model.Capture{ID: uuid.New(), SessionID: uuid.New(), Status: model.CaptureStatusRunning, StartedAt: time.Now()}
	for _, c := range []*model.Capture{expired, recent} {
		if err := repo.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := cs.Cleanup(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("Cleanup = %d, %v", removed, err)
	}
	if _, err := os.Stat(old); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("data file left behind: %v", err)
	}

	captures, page, err := cs.ListCaptures(ctx, &repository.CaptureFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(captures) != 1 || captures[0].ID != recent.ID || page.Total != 1 || page.TotalPages != 1 {
		t.Errorf("remaining = %d, page %+v", len(captures), page)
	}

	if err := cs.DeleteCapture(ctx, recent.ID); err != nil {
		t.Fatalf("DeleteCapture: %v", err)
	}
	if _, err := cs.GetCapture(ctx, recent.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("GetCapture after delete: %v", err)
	}
}
