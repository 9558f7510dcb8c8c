// internal/service/capture_service.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"scope-service/internal/config"
	"scope-service/internal/model"
	"scope-service/internal/repository"
	"scope-service/internal/scope"
	"scope-service/internal/utils"
	"scope-service/pkg/waveform"
)

var (
	// ErrCaptureInProgress is returned when the session is already downloading
	ErrCaptureInProgress = errors.New("capture already in progress")
	// ErrCaptureNotRunning is returned when cancelling a finished capture
	ErrCaptureNotRunning = errors.New("capture is not running")
	// ErrCaptureNoData is returned for captures without a data file
	ErrCaptureNoData = errors.New("capture has no data")
)

// Capture file formats
const (
	FormatRaw = "raw"
	FormatCSV = "csv"
)

// CaptureService records deep-memory downloads to disk and to the
// capture repository
type CaptureService struct {
	scopes *ScopeService
	repo   repository.CaptureRepository
	bus    *EventBus
	config *config.Config
	logger *utils.ServiceLogger

	mu        sync.Mutex
	running   map[uuid.UUID]*runningCapture
	bySession map[uuid.UUID]uuid.UUID
	wg        sync.WaitGroup
}

type runningCapture struct {
	sessionID uuid.UUID
	cancel    context.CancelFunc
}

// NewCaptureService creates a new capture service instance
func NewCaptureService(
	scopes *ScopeService,
	repo repository.CaptureRepository,
	bus *EventBus,
	cfg *config.Config,
	logger *zap.Logger,
) *CaptureService {
	return &CaptureService{
		scopes:    scopes,
		repo:      repo,
		bus:       bus,
		config:    cfg,
		logger:    utils.NewServiceLogger(logger, "capture-service"),
		running:   make(map[uuid.UUID]*runningCapture),
		bySession: make(map[uuid.UUID]uuid.UUID),
	}
}

// CaptureRequest starts a capture
type CaptureRequest struct {
	// Format is raw (int16 little endian plus a JSON sidecar) or csv
	Format    string `json:"format"`
	ChunkSize int    `json:"chunk_size,omitempty"`
}

// PaginationResult represents pagination information
type PaginationResult struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
}

// captureSidecar is written next to a raw data file
type captureSidecar struct {
	Capture  *model.Capture   `json:"capture"`
	Encoding string           `json:"encoding"`
	Samples  int              `json:"samples"`
	Waveform *waveform.Buffer `json:"waveform"`
}

// StartCapture begins downloading the deep memory of a session. The
// download continues after ctx ends; use CancelCapture to stop it.
func (cs *CaptureService) StartCapture(ctx context.Context, sessionID uuid.UUID, req *CaptureRequest) (*model.Capture, error) {
	format := strings.ToLower(req.Format)
	if format == "" {
		format = FormatRaw
	}
	if format != FormatRaw && format != FormatCSV {
		return nil, fmt.Errorf("%w: unknown format %q", ErrValidation, req.Format)
	}

	session, err := cs.scopes.Session(sessionID)
	if err != nil {
		return nil, err
	}

	st := session.Snapshot()
	capture := &model.Capture{
		ID:          uuid.New(),
		SessionID:   sessionID,
		Model:       st.Model,
		Serial:      st.Serial,
		MemoryDepth: st.Acquisition.MemoryDepth,
		SampleRate:  st.Acquisition.SampleRate,
		Status:      model.CaptureStatusRunning,
		Metadata:    model.JSONObject{"format": format},
		StartedAt:   time.Now(),
	}
	capture.SetChannels(st.DisplayedChannels())

	cs.mu.Lock()
	if _, busy := cs.bySession[sessionID]; busy {
		cs.mu.Unlock()
		return nil, ErrCaptureInProgress
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cs.running[capture.ID] = &runningCapture{sessionID: sessionID, cancel: cancel}
	cs.bySession[sessionID] = capture.ID
	cs.mu.Unlock()

	if err := cs.repo.Create(ctx, capture); err != nil {
		cs.finish(capture.ID)
		cancel()
		return nil, fmt.Errorf("failed to create capture: %w", err)
	}

	cs.bus.Publish(model.SessionEvent{
		EventType: model.EventCaptureStarted,
		SessionID: sessionID,
		Source:    "capture-service",
		Data: model.JSONObject{
			"capture_id":   capture.ID,
			"channels":     capture.Channels,
			"memory_depth": capture.MemoryDepth,
		},
	})

	snapshot := *capture
	snapshot.Metadata = maps.Clone(capture.Metadata)
	cs.wg.Add(1)
	go func() {
		defer cs.wg.Done()
		defer cancel()
		defer cs.finish(capture.ID)
		cs.run(runCtx, session, capture, format, req.ChunkSize)
	}()

	return &snapshot, nil
}

func (cs *CaptureService) finish(captureID uuid.UUID) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if rc, ok := cs.running[captureID]; ok {
		delete(cs.bySession, rc.sessionID)
		delete(cs.running, captureID)
	}
}

func (cs *CaptureService) run(ctx context.Context, session *scope.DeviceSession, capture *model.Capture, format string, chunkSize int) {
	opLogger := utils.NewOperationLogger(cs.logger.Logger, "capture", capture.ID.String())
	opLogger.Start(zap.String("session_id", capture.SessionID.String()))

	progress := func(ch, received, total int) {
		var pct float64
		if total > 0 {
			pct = float64(received) * 100 / float64(total)
		}
		opLogger.Progress("Downloading deep memory", pct,
			zap.Int("channel", ch+1),
			zap.Int("received", received),
			zap.Int("total", total),
		)
		cs.bus.Publish(model.SessionEvent{
			EventType: model.EventCaptureProgress,
			SessionID: capture.SessionID,
			Source:    "capture-service",
			Data: model.JSONObject{
				"progress": model.CaptureProgressEventData{
					CaptureID: capture.ID,
					Channel:   ch + 1,
					Received:  received,
					Total:     total,
				},
			},
		})
	}

	var opts []scope.DownloadOption
	if chunkSize > 0 {
		opts = append(opts, scope.WithChunkSize(chunkSize))
	}

	buf, err := session.DownloadDeepMemory(ctx, progress, opts...)
	if err == nil {
		var path string
		path, err = cs.writeData(capture, buf, format)
		if err == nil {
			capture.Metadata["samples"] = buf.Samples()
			capture.Metadata["x_increment"] = buf.XIncrement
			capture.Metadata["x_origin"] = buf.XOrigin
			if buf.SampleRate > 0 {
				capture.SampleRate = buf.SampleRate
			}
			capture.MarkCompleted(path)
		}
	}

	if err != nil {
		status := model.CaptureStatusFailed
		if errors.Is(err, context.Canceled) {
			status = model.CaptureStatusCancelled
		}
		capture.MarkFailed(status, err)
		opLogger.Error(err, zap.String("status", string(status)))
	} else {
		opLogger.Success(zap.Int("samples", buf.Samples()))
	}

	// the record is written even when the capture was cancelled
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if uerr := cs.repo.Update(saveCtx, capture); uerr != nil {
		cs.logger.Error("Failed to update capture", zap.String("capture_id", capture.ID.String()), zap.Error(uerr))
	}

	if err != nil {
		data := errorData(err)
		data["capture_id"] = capture.ID
		data["status"] = capture.Status
		cs.bus.Publish(model.SessionEvent{
			EventType: model.EventCaptureFailed,
			SessionID: capture.SessionID,
			Source:    "capture-service",
			Severity:  "ERROR",
			Data:      data,
		})
		return
	}

	cs.bus.Publish(model.SessionEvent{
		EventType: model.EventCaptureCompleted,
		SessionID: capture.SessionID,
		Source:    "capture-service",
		Data: model.JSONObject{
			"capture_id":  capture.ID,
			"data_path":   capture.DataPath,
			"duration_ms": capture.DurationMs,
		},
	})
}

// writeData stores buf in the capture directory and returns the data file
func (cs *CaptureService) writeData(capture *model.Capture, buf *waveform.Buffer, format string) (string, error) {
	dir := cs.config.Scope.CaptureDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create capture directory: %w", err)
	}

	if format == FormatCSV {
		path := filepath.Join(dir, capture.ID.String()+".csv")
		if err := writeFile(path, buf.EncodeCSV); err != nil {
			return "", err
		}
		return path, nil
	}

	path := filepath.Join(dir, capture.ID.String()+".bin")
	if err := writeFile(path, buf.WriteRaw); err != nil {
		return "", err
	}

	sidecar := captureSidecar{
		Capture:  capture,
		Encoding: "int16le",
		Samples:  buf.Samples(),
		Waveform: buf,
	}
	err := writeFile(sidecarPath(path), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sidecar)
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

func writeFile(path string, encode func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	if err := encode(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func sidecarPath(dataPath string) string {
	return strings.TrimSuffix(dataPath, filepath.Ext(dataPath)) + ".json"
}

// GetCapture retrieves a capture record
func (cs *CaptureService) GetCapture(ctx context.Context, id uuid.UUID) (*model.Capture, error) {
	capture, err := cs.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("capture not found: %w", err)
	}
	return capture, nil
}

// ListCaptures lists capture records with filtering
func (cs *CaptureService) ListCaptures(ctx context.Context, filter *repository.CaptureFilter) ([]*model.Capture, *PaginationResult, error) {
	filter.Normalize()
	captures, total, err := cs.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list captures: %w", err)
	}

	pagination := &PaginationResult{
		Total:      total,
		Page:       filter.Page,
		PerPage:    filter.PerPage,
		TotalPages: (total + filter.PerPage - 1) / filter.PerPage,
	}
	return captures, pagination, nil
}

// CaptureData returns the record and the data file path of a completed
// capture
func (cs *CaptureService) CaptureData(ctx context.Context, id uuid.UUID) (*model.Capture, string, error) {
	capture, err := cs.GetCapture(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if capture.Status != model.CaptureStatusCompleted || capture.DataPath == nil {
		return capture, "", ErrCaptureNoData
	}
	if _, err := os.Stat(*capture.DataPath); err != nil {
		return capture, "", fmt.Errorf("%w: %v", ErrCaptureNoData, err)
	}
	return capture, *capture.DataPath, nil
}

// CancelCapture stops a running capture. The record is marked CANCELLED
// once the download returns.
func (cs *CaptureService) CancelCapture(id uuid.UUID, reason string) error {
	cs.mu.Lock()
	rc, ok := cs.running[id]
	cs.mu.Unlock()

	if !ok {
		return ErrCaptureNotRunning
	}
	rc.cancel()

	cs.logger.Info("Capture cancelled",
		zap.String("capture_id", id.String()),
		zap.String("reason", reason),
	)
	return nil
}

// DeleteCapture removes a finished capture and its files
func (cs *CaptureService) DeleteCapture(ctx context.Context, id uuid.UUID) error {
	cs.mu.Lock()
	_, busy := cs.running[id]
	cs.mu.Unlock()
	if busy {
		return ErrCaptureInProgress
	}

	capture, err := cs.GetCapture(ctx, id)
	if err != nil {
		return err
	}
	if err := cs.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete capture: %w", err)
	}
	return removeCaptureFiles(capture)
}

func removeCaptureFiles(capture *model.Capture) error {
	if capture.DataPath == nil {
		return nil
	}
	var err error
	for _, path := range []string{*capture.DataPath, sidecarPath(*capture.DataPath)} {
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = multierr.Append(err, rerr)
		}
	}
	return err
}

// Cleanup deletes captures older than the configured retention together
// with their files
func (cs *CaptureService) Cleanup(ctx context.Context) (int64, error) {
	retention := cs.config.Scope.CaptureRetention
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention)

	var expired []*model.Capture
	for page := 1; ; page++ {
		filter := &repository.CaptureFilter{EndDate: &cutoff, Page: page, PerPage: 100}
		captures, _, err := cs.repo.List(ctx, filter)
		if err != nil {
			return 0, fmt.Errorf("failed to list expired captures: %w", err)
		}
		expired = append(expired, captures...)
		if len(captures) < filter.PerPage {
			break
		}
	}

	removed, err := cs.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired captures: %w", err)
	}

	var ferr error
	for _, c := range expired {
		ferr = multierr.Append(ferr, removeCaptureFiles(c))
	}
	if ferr != nil {
		cs.logger.Warn("Failed to remove capture files", zap.Error(ferr))
	}

	if removed > 0 {
		cs.logger.Info("Expired captures removed", zap.Int64("count", removed))
	}
	return removed, nil
}

// RunCleanup calls Cleanup every interval until ctx ends
func (cs *CaptureService) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := cs.Cleanup(ctx); err != nil {
				cs.logger.Error("Capture cleanup failed", zap.Error(err))
			}
		}
	}
}

// Running reports whether a capture is still downloading
func (cs *CaptureService) Running(id uuid.UUID) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, ok := cs.running[id]
	return ok
}

// Shutdown cancels running captures and waits for their records
func (cs *CaptureService) Shutdown(timeout time.Duration) error {
	cs.mu.Lock()
	for _, rc := range cs.running {
		rc.cancel()
	}
	cs.mu.Unlock()

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("timed out waiting for captures")
	}
}
