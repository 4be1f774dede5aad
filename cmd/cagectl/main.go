package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/cage-sim/cageclient/internal/config"
	"github.com/cage-sim/cageclient/internal/logging"
	intOtel "github.com/cage-sim/cageclient/internal/otel"
	"github.com/cage-sim/cageclient/pkg/cage"
)

// build info, BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	ToolName string = "cagectl"
)

var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	SessionStartTime time.Time = time.Now()

	// activeSession feeds session attributes into every log record.
	activeSession atomic.Pointer[cage.Session]
)

const usage = `usage: cagectl [flags] <command> [args]

commands:
  console <command...>   run a console command on the server
  endpoints [tag]        list endpoints carrying tag (default Vehicle)
  meta <endpoint>        print an actor's metadata
  watch                  connect and print every vehicle status
  drive                  drive forward --distance meters at --speed m/s
  shell                  interactive command shell
  version                print version

flags:
`

// flagKeys binds command line flags onto config keys.
var flagKeys = map[string]string{
	"server":    "session.server",
	"vehicle":   "session.vehicle",
	"log-level": "logLevel",
}

type options struct {
	configDir string
	speed     float64
	distance  float64
	duration  time.Duration
	relay     bool
	influx    bool
}

func newFlagSet(opts *options, stderr io.Writer) *pflag.FlagSet {
	flags := pflag.NewFlagSet(ToolName, pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&opts.configDir, "config", ".", "directory containing "+config.FileName)
	flags.String("server", "", `server host, or "host/vehicle"`)
	flags.String("vehicle", "", "vehicle endpoint name (substring match)")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.Float64Var(&opts.speed, "speed", 0.2, "drive: forward speed in m/s")
	flags.Float64Var(&opts.distance, "distance", 10, "drive: distance in meters")
	flags.DurationVar(&opts.duration, "duration", 0, "watch: stop after this long (0 runs until interrupted)")
	flags.BoolVar(&opts.relay, "relay", false, "watch: stream statuses to the relay server")
	flags.BoolVar(&opts.influx, "influx", false, "watch: report session metrics to InfluxDB")
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}
	return flags
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var opts options
	flags := newFlagSet(&opts, stderr)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}

	configErr := config.Load(opts.configDir)
	if err := config.BindFlags(flags, flagKeys); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	cleanup, err := setupLogging()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer cleanup()

	if configErr != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", configErr)
	} else {
		Logger.Debug("Loaded config", "dir", opts.configDir)
	}

	cmd, cmdArgs := strings.ToLower(flags.Arg(0)), flags.Args()[1:]
	if err := runCommand(cmd, cmdArgs, opts, stdout); err != nil {
		Logger.Error("Command failed", "command", cmd, "error", err)
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func runCommand(cmd string, args []string, opts options, stdout io.Writer) error {
	switch cmd {
	case "console":
		return consoleCommand(args, stdout)
	case "endpoints":
		return endpointsCommand(args, stdout)
	case "meta":
		return metaCommand(args, stdout)
	case "watch":
		return watchCommand(opts, stdout)
	case "drive":
		return driveCommand(opts, stdout)
	case "shell":
		return shellCommand(os.Stdin, stdout)
	case "version":
		fmt.Fprintf(stdout, "%s %s (built %s)\n", ToolName, Version, BuildDate)
		return nil
	}
	return fmt.Errorf("unknown command %q, run with --help for usage", cmd)
}

// setupLogging wires the file, GELF and OTel destinations selected by the
// config. The returned func flushes and closes them.
func setupLogging() (func(), error) {
	var closers []func()
	logOpts := logging.Options{
		Level:   config.GetString("logLevel"),
		Context: sessionAttrs,
	}

	if dir := config.GetString("logsDir"); dir != "" {
		f, err := logging.OpenLogFile(dir, ToolName, SessionStartTime)
		if err != nil {
			return nil, err
		}
		logOpts.File = f
		closers = append(closers, func() { _ = f.Close() })
	}

	if gl := config.GetGraylogConfig(); gl.Enabled {
		w, err := logging.NewGELFWriter(gl.Address, ToolName)
		if err != nil {
			// Graylog is best effort.
			fmt.Fprintln(os.Stderr, "graylog disabled:", err)
		} else {
			logOpts.Sinks = append(logOpts.Sinks, w)
			closers = append(closers, func() { _ = w.Close() })
		}
	}

	oc := config.GetOTelConfig()
	provider, err := intOtel.New(context.Background(), intOtel.Config{
		Enabled:      oc.Enabled,
		ServiceName:  oc.ServiceName,
		BatchTimeout: oc.BatchTimeout,
		Endpoint:     oc.Endpoint,
		Insecure:     oc.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}
	OTelProvider = provider
	logOpts.Provider = provider.LoggerProvider()

	SlogManager = logging.NewSlogManager()
	Logger = SlogManager.Setup(logOpts)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := SlogManager.Flush(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "log flush:", err)
		}
		if err := OTelProvider.Shutdown(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "otel shutdown:", err)
		}
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}

func sessionAttrs() []slog.Attr {
	s := activeSession.Load()
	if s == nil {
		return nil
	}
	attrs := []slog.Attr{slog.String("session", s.ID())}
	if ep := s.Endpoint(); ep != "" {
		attrs = append(attrs, slog.String("endpoint", ep))
	}
	return attrs
}

// influxLogger builds the zerolog logger handed to the influx reporter.
func influxLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(config.GetString("logLevel")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Str("component", "influx").Logger()
}
