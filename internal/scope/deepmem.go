// internal/scope/deepmem.go
package scope

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"scope-service/internal/driver"
	"scope-service/internal/model"
	"scope-service/internal/scpi"
	"scope-service/internal/utils"
	"scope-service/pkg/waveform"
)

const (
	// DefaultChunkSize is the number of samples requested per :WAV:DATA?
	DefaultChunkSize = 250000
	// maxEmptyReads is the number of consecutive empty chunks tolerated
	maxEmptyReads = 100
	// deepOriginLimit bounds the y origin of a raw memory record
	deepOriginLimit = 32000
)

var (
	// ErrNoActiveChannels is returned when no channel is displayed
	ErrNoActiveChannels = errors.New("No active channels.")
	// ErrAutoMemoryDepth is returned when the memory depth is AUTO
	ErrAutoMemoryDepth = errors.New("Can not download waveform when memory depth is set to \"Auto\".")
	// ErrDownloadStalled is returned when the instrument keeps answering with empty chunks
	ErrDownloadStalled = errors.New("download stalled")
)

// ProgressFunc receives the zero based channel index, the samples received
// for it so far and the memory depth
type ProgressFunc func(channel, received, total int)

// DeepMemoryDownloader retrieves the full acquisition memory of every
// displayed channel in fixed size windows
type DeepMemoryDownloader struct {
	session   *scpi.Session
	dialect   driver.Dialect
	logger    *zap.Logger
	chunkSize int
}

// DownloadOption configures a DeepMemoryDownloader
type DownloadOption func(*DeepMemoryDownloader)

// WithChunkSize overrides the window size
func WithChunkSize(n int) DownloadOption {
	return func(d *DeepMemoryDownloader) {
		if n > 0 {
			d.chunkSize = n
		}
	}
}

// NewDeepMemoryDownloader creates a downloader for the given series dialect
func NewDeepMemoryDownloader(session *scpi.Session, dialect driver.Dialect, logger *zap.Logger, opts ...DownloadOption) *DeepMemoryDownloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &DeepMemoryDownloader{
		session:   session,
		dialect:   dialect,
		logger:    logger,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download stops the acquisition and reads st.Acquisition.MemoryDepth
// samples of every displayed channel. The readout window is restored
// afterwards whatever the outcome; a restore failure is joined to the
// returned error. On failure no partial buffer is returned.
func (d *DeepMemoryDownloader) Download(ctx context.Context, st *model.Settings, progress ProgressFunc) (buf *waveform.Buffer, err error) {
	channels := st.DisplayedChannels()
	if len(channels) == 0 {
		return nil, ErrNoActiveChannels
	}
	total := st.Acquisition.MemoryDepth
	if total < 1 {
		return nil, ErrAutoMemoryDepth
	}
	if progress == nil {
		progress = func(int, int, int) {}
	}

	op := utils.NewOperationLogger(d.logger, "deep_memory_download", st.Serial)
	op.Start(zap.Int("memory_depth", total), zap.Ints("channels", channels))

	defer func() {
		if rerr := d.restore(ctx, channels); rerr != nil {
			err = multierr.Append(err, rerr)
		}
		if err != nil {
			buf = nil
			op.Error(err)
			return
		}
		op.Success(zap.Int("samples", total*len(channels)))
	}()

	if err := d.session.Write(ctx, scpi.Cmd(":STOP")); err != nil {
		return nil, scpi.At(err, "stop acquisition")
	}

	buf = &waveform.Buffer{SampleRate: st.Acquisition.SampleRate}
	if st.Acquisition.SampleRate > 0 {
		buf.XIncrement = 1 / st.Acquisition.SampleRate
	}

	for _, ch := range channels {
		c, err := d.downloadChannel(ctx, ch, total, progress)
		if err != nil {
			return nil, err
		}
		c.Scale = st.Channels[ch].Scale
		c.Offset = st.Channels[ch].Offset
		c.Unit = st.Channels[ch].Unit.Symbol()
		buf.Channels = append(buf.Channels, c)

		op.Progress("Channel downloaded", float64(len(buf.Channels))/float64(len(channels))*100,
			zap.Int("channel", ch+1))
	}
	return buf, nil
}

func (d *DeepMemoryDownloader) downloadChannel(ctx context.Context, ch, total int, progress ProgressFunc) (waveform.Channel, error) {
	point := fmt.Sprintf("channel %d deep memory", ch+1)

	scaling, err := d.readScaling(ctx, ch)
	if err != nil {
		return waveform.Channel{}, scpi.At(err, point)
	}

	codes := make([]int16, total)
	received := 0
	empty := 0

	for received < total {
		progress(ch, received, total)

		n, err := d.readChunk(ctx, scaling, codes, received, total)
		if err != nil {
			return waveform.Channel{}, scpi.At(err, point)
		}

		if n == 0 {
			empty++
			if empty > maxEmptyReads {
				return waveform.Channel{}, &scpi.Error{
					Kind:    scpi.KindProtocol,
					Message: "Download error.",
					Command: ":WAV:DATA?",
					Point:   fmt.Sprintf("%s at sample %d of %d", point, received, total),
					Err:     ErrDownloadStalled,
				}
			}
			continue
		}
		empty = 0
		received += n
	}

	progress(ch, total, total)
	return waveform.Channel{
		Index:      ch,
		Codes:      codes,
		YIncrement: scaling.YIncrement,
		YReference: scaling.YReference,
		YOrigin:    scaling.YOrigin,
	}, nil
}

func (d *DeepMemoryDownloader) readScaling(ctx context.Context, ch int) (Scaling, error) {
	setup := []scpi.Command{
		scpi.Cmd(":WAV:SOUR CHAN%d", ch+1),
		scpi.Cmd(":WAV:FORM BYTE"),
		scpi.Cmd(":WAV:MODE RAW"),
	}
	for _, cmd := range setup {
		if err := d.session.Write(ctx, cmd); err != nil {
			return Scaling{}, err
		}
	}

	var s Scaling
	var err error
	yinc := scpi.Cmd(":WAV:YINC?")
	if s.YIncrement, err = d.session.QueryFloat(ctx, yinc); err != nil {
		return Scaling{}, err
	}
	if s.YReference, err = d.session.QueryInt(ctx, scpi.Cmd(":WAV:YREF?")); err != nil {
		return Scaling{}, err
	}
	if s.YOrigin, err = d.session.QueryInt(ctx, scpi.Cmd(":WAV:YOR?")); err != nil {
		return Scaling{}, err
	}

	if err := s.check(yinc, ch, deepOriginLimit); err != nil {
		return Scaling{}, err
	}
	return s, nil
}

// readChunk requests the window starting at received and stores the codes.
// It returns the number of samples the instrument sent.
func (d *DeepMemoryDownloader) readChunk(ctx context.Context, s Scaling, codes []int16, received, total int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, &scpi.Error{Kind: scpi.KindCanceled, Message: "Canceled", Err: err}
	}

	window := []scpi.Command{
		scpi.Cmd(":WAV:STAR %d", received+1),
		scpi.Cmd(":WAV:STOP %d", min(received+d.chunkSize, total)),
	}
	for _, cmd := range window {
		if err := d.session.Write(ctx, cmd); err != nil {
			return 0, err
		}
	}

	dataCmd := scpi.Cmd(":WAV:DATA?")
	data, err := d.session.QueryBlock(ctx, dataCmd)
	if err != nil {
		return 0, err
	}
	if len(data) > d.chunkSize {
		return 0, scpi.ProtocolError(dataCmd, fmt.Sprintf("%d bytes", len(data)),
			"Datablock too big for buffer: %d", len(data))
	}

	for i, b := range data {
		if received+i >= total {
			break
		}
		codes[received+i] = s.Code(b)
	}

	d.logger.Debug("Chunk received",
		zap.Int("bytes", len(data)),
		zap.Int("total", received+len(data)),
	)
	return len(data), nil
}

// restore returns the readout window of every downloaded channel to the
// screen default. It runs on a detached context so it also completes
// after a cancellation.
func (d *DeepMemoryDownloader) restore(ctx context.Context, channels []int) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
	defer cancel()

	for _, ch := range channels {
		cmds := []scpi.Command{
			scpi.Cmd(":WAV:SOUR CHAN%d", ch+1),
			scpi.Cmd(":WAV:MODE NORM"),
			scpi.Cmd(":WAV:STAR 1"),
			scpi.Cmd(":WAV:STOP %d", d.dialect.ScreenPoints),
		}
		if d.dialect.SetScreenPoints {
			cmds = append(cmds, scpi.Cmd(":WAV:POIN %d", d.dialect.ScreenPoints))
		}
		for _, cmd := range cmds {
			if err := d.session.Write(rctx, cmd); err != nil {
				return scpi.At(err, "restore waveform readout window")
			}
		}
	}
	return nil
}
