// cmd/scopectl/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/theckman/yacspin"
	"go.uber.org/zap"

	"scope-service/internal/config"
	"scope-service/internal/driver"
	"scope-service/internal/model"
	"scope-service/internal/protocol"
	"scope-service/internal/scope"
	"scope-service/internal/utils"
)

const usage = `Usage: scopectl [flags] <command> [args]

Commands:
  idn                      identify the instrument
  settings                 print the settings snapshot
  download [-o dir]        download the acquisition memory of every displayed channel
  screenshot [-o file]     save the display bitmap
  metric format|parse|step engineering notation helpers (no instrument needed)

Flags:
`

// options are the global flags
type options struct {
	transport      string
	host           string
	port           int
	device         string
	serialPort     string
	timeout        time.Duration
	acceptUntested bool
	logLevel       string
	quiet          bool
}

func main() {
	opts := &options{}
	flags := pflag.NewFlagSet("scopectl", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.StringVarP(&opts.transport, "transport", "t", "", "connection kind: usbtmc, tcp, serial or usb (default from config)")
	flags.StringVarP(&opts.host, "host", "H", "", "instrument address for tcp")
	flags.IntVarP(&opts.port, "port", "p", 0, "tcp port")
	flags.StringVarP(&opts.device, "device", "d", "", "usbtmc character device")
	flags.StringVar(&opts.serialPort, "serial-port", "", "serial port name")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall command timeout")
	flags.BoolVarP(&opts.acceptUntested, "yes", "y", false, "continue with untested or unknown models")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "no progress spinner")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if flags.NArg() == 0 {
		flags.Usage()
		os.Exit(2)
	}

	if err := run(opts, flags.Arg(0), flags.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "scopectl: %v\n", err)
		os.Exit(1)
	}
}

func run(opts *options, command string, args []string) error {
	if command == "metric" {
		return runMetric(args)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.Logging.Level = opts.logLevel
	cfg.Logging.Format = "console"
	cfg.Logging.Output = "stderr"

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return err
	}
	defer utils.CloseLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	var cmdFn func(context.Context, *cli, []string) error
	switch command {
	case "idn":
		cmdFn = runIdentify
	case "settings":
		cmdFn = runSettings
	case "download":
		cmdFn = runDownload
	case "screenshot":
		cmdFn = runScreenshot
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	c := &cli{opts: opts, cfg: cfg, logger: logger}
	if err := c.connect(ctx); err != nil {
		return err
	}
	defer c.session.Close()

	return cmdFn(ctx, c, args)
}

// cli carries the connected session of one invocation
type cli struct {
	opts    *options
	cfg     *config.Config
	logger  *zap.Logger
	session *scope.DeviceSession
	spinner *yacspin.Spinner
}

// connect opens the transport named by flags and configuration
func (c *cli) connect(ctx context.Context) error {
	kind := c.opts.transport
	if kind == "" {
		kind = c.cfg.Scope.Transport
	}
	connType, err := model.ParseConnectionType(kind)
	if err != nil {
		return err
	}

	settings := c.cfg.TransportSettings(strings.ToLower(string(connType)))
	if c.opts.host != "" {
		settings["host"] = c.opts.host
	}
	if c.opts.port != 0 {
		settings["port"] = c.opts.port
	}
	if c.opts.device != "" {
		settings["device_path"] = c.opts.device
	}
	if c.opts.serialPort != "" {
		settings["port"] = c.opts.serialPort
	}

	transport, err := protocol.CreateTransport(connType, settings, c.logger)
	if err != nil {
		return err
	}

	registry := driver.NewRegistry(c.logger)
	driver.RegisterDefaultModels(registry, c.logger)

	sc := c.cfg.Scope
	sessionConfig := scope.SessionConfig{
		// the command line never needs live frames
		PollInterval:     time.Hour,
		SettleDelay:      sc.SettleDelay,
		InitialSyncDelay: sc.InitialSyncDelay,
		CueCapacity:      sc.CueCapacity,
		MaxFrameSize:     sc.MaxFrameSize,
		AcceptUntested:   sc.AcceptUntestedModels,
	}

	confirm := func(modelName string, compat model.Compatibility, warning string) bool {
		c.pause()
		fmt.Fprintln(os.Stderr, warning)
		if !c.opts.acceptUntested {
			fmt.Fprintln(os.Stderr, "use --yes to continue anyway")
		}
		c.resume()
		return c.opts.acceptUntested
	}

	c.startSpinner("connecting over " + strings.ToLower(string(connType)))
	session, err := scope.Connect(ctx, "scopectl", transport, registry, c.logger,
		scope.WithSessionConfig(sessionConfig),
		scope.WithConfirmer(confirm),
	)
	if err != nil {
		c.stopSpinner(err)
		return err
	}
	c.session = session

	inst := session.Instrument()
	c.message(fmt.Sprintf("%s %s connected", inst.Model, inst.Serial))
	return nil
}

func (c *cli) startSpinner(message string) {
	if c.opts.quiet {
		return
	}
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           message,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
		Writer:            os.Stderr,
	})
	if err != nil {
		c.logger.Debug("Spinner unavailable", zap.Error(err))
		return
	}
	if err := spinner.Start(); err != nil {
		c.logger.Debug("Spinner unavailable", zap.Error(err))
		return
	}
	c.spinner = spinner
}

func (c *cli) message(message string) {
	if c.spinner != nil {
		c.spinner.Message(message)
	}
}

// pause lets the confirmer write to stderr
func (c *cli) pause() {
	if c.spinner != nil {
		c.spinner.Pause()
	}
}

func (c *cli) resume() {
	if c.spinner != nil {
		c.spinner.Unpause()
	}
}

// stopSpinner ends the spinner with a success or failure mark
func (c *cli) stopSpinner(err error) {
	if c.spinner == nil {
		return
	}
	if err != nil {
		c.spinner.StopFailMessage(err.Error())
		c.spinner.StopFail()
	} else {
		c.spinner.Stop()
	}
	c.spinner = nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
