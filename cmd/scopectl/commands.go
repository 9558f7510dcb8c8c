// cmd/scopectl/commands.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"scope-service/internal/metric"
	"scope-service/internal/model"
	"scope-service/internal/scope"
	"scope-service/pkg/waveform"
)

func runIdentify(ctx context.Context, c *cli, args []string) error {
	c.stopSpinner(nil)

	inst := c.session.Instrument()
	compat, warning := c.session.Compatibility()
	return printJSON(map[string]interface{}{
		"instrument":    inst,
		"compatibility": compat,
		"warning":       warning,
		"capabilities":  c.session.Capabilities(),
	})
}

func runSettings(ctx context.Context, c *cli, args []string) error {
	c.stopSpinner(nil)
	st := c.session.Snapshot()
	return printJSON(&st)
}

// captureSidecar describes a raw data file
type captureSidecar struct {
	Instrument model.Instrument `json:"instrument"`
	CapturedAt time.Time        `json:"captured_at"`
	Encoding   string           `json:"encoding"`
	Samples    int              `json:"samples"`
	Waveform   *waveform.Buffer `json:"waveform"`
}

func runDownload(ctx context.Context, c *cli, args []string) error {
	flags := pflag.NewFlagSet("download", pflag.ContinueOnError)
	dir := flags.StringP("output", "o", ".", "output directory")
	chunk := flags.Int("chunk-size", 0, "samples per read (default 250000)")
	csv := flags.Bool("csv", false, "also write volts as CSV")
	if err := flags.Parse(args); err != nil {
		return err
	}

	progress := func(channel, received, total int) {
		c.message(fmt.Sprintf("CH%d %d/%d samples", channel+1, received, total))
	}

	var opts []scope.DownloadOption
	if *chunk > 0 {
		opts = append(opts, scope.WithChunkSize(*chunk))
	}

	c.message("downloading acquisition memory")
	buf, err := c.session.DownloadDeepMemory(ctx, progress, opts...)
	if err != nil {
		c.stopSpinner(err)
		return err
	}

	inst := c.session.Instrument()
	base := filepath.Join(*dir, fmt.Sprintf("%s-%s", inst.Model, time.Now().Format("20060102-150405")))
	if err := os.MkdirAll(*dir, 0o755); err != nil {
		c.stopSpinner(err)
		return err
	}

	files := []string{base + ".bin", base + ".json"}
	err = writeFile(files[0], buf.WriteRaw)
	if err == nil {
		err = writeFile(files[1], func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(captureSidecar{
				Instrument: inst,
				CapturedAt: time.Now(),
				Encoding:   "int16le",
				Samples:    buf.Samples(),
				Waveform:   buf,
			})
		})
	}
	if err == nil && *csv {
		files = append(files, base+".csv")
		err = writeFile(base+".csv", buf.EncodeCSV)
	}
	c.stopSpinner(err)
	if err != nil {
		return err
	}

	return printJSON(map[string]interface{}{
		"channels": len(buf.Channels),
		"samples":  buf.Samples(),
		"files":    files,
	})
}

func runScreenshot(ctx context.Context, c *cli, args []string) error {
	flags := pflag.NewFlagSet("screenshot", pflag.ContinueOnError)
	out := flags.StringP("output", "o", "", "output file (default <model>-<time>.bmp)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	c.message("reading display")
	shot, err := c.session.Screenshot(ctx)
	if err == nil {
		if *out == "" {
			*out = fmt.Sprintf("%s-%s.bmp", c.session.Instrument().Model, time.Now().Format("20060102-150405"))
		}
		err = os.WriteFile(*out, shot.Data, 0o644)
	}
	c.stopSpinner(err)
	if err != nil {
		return err
	}

	return printJSON(map[string]interface{}{
		"file":   *out,
		"width":  shot.Width,
		"height": shot.Height,
		"bytes":  len(shot.Data),
	})
}

func runMetric(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("metric needs format, parse or step")
	}

	flags := pflag.NewFlagSet("metric", pflag.ContinueOnError)
	decimals := flags.IntP("decimals", "n", 3, "decimals for format")
	down := flags.Bool("down", false, "step down instead of up")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("metric %s needs one value", args[0])
	}
	input := flags.Arg(0)

	switch args[0] {
	case "format":
		v, err := strconv.ParseFloat(input, 64)
		if err != nil {
			return err
		}
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return fmt.Errorf("format %q: %w", input, metric.ErrOutOfRange)
		}
		return printJSON(map[string]interface{}{"value": v, "text": metric.ToMetricSuffix(v, *decimals)})

	case "parse":
		v, err := metric.ParseMetric(input)
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"text": input, "value": v})

	case "step":
		v, err := metric.ParseMetric(input)
		if err != nil {
			return err
		}
		result, ratio := metric.RoundUpStep125Ratio(v)
		if *down {
			result, ratio = metric.RoundDownStep125Ratio(v)
		}
		if math.IsInf(result, 0) {
			return fmt.Errorf("step of %g: %w", v, metric.ErrOutOfRange)
		}
		return printJSON(map[string]interface{}{
			"value":    v,
			"result":   result,
			"ratio":    ratio,
			"text":     metric.ToMetricSuffix(result, *decimals),
			"category": metric.Round125Category(result),
		})
	}
	return fmt.Errorf("unknown metric command %q", args[0])
}

func writeFile(path string, encode func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	return encode(f)
}
