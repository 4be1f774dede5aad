package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// console is where logs go when no file is configured. Command output owns
// stdout.
var console io.Writer = os.Stderr

// Options selects the log destinations.
type Options struct {
	Level string
	// File receives text logs instead of the console when set.
	File io.Writer
	// Provider enables the OTel bridge when set.
	Provider *sdklog.LoggerProvider
	// Sinks receive JSON logs in addition, e.g. a GELF writer.
	Sinks []io.Writer
	// Context adds attributes to every record.
	Context ContextProvider
}

// SlogManager owns the process logger.
type SlogManager struct {
	logger      *slog.Logger
	logProvider *sdklog.LoggerProvider
}

// NewSlogManager creates a manager that logs through slog.Default until
// Setup is called.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds the logger and installs it as slog's default.
func (m *SlogManager) Setup(opts Options) *slog.Logger {
	m.logProvider = opts.Provider

	handlerOpts := &slog.HandlerOptions{
		Level: parseLevel(opts.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handlers []slog.Handler
	if opts.File != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.File, handlerOpts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(console, handlerOpts))
	}
	for _, sink := range opts.Sinks {
		handlers = append(handlers, slog.NewJSONHandler(sink, handlerOpts))
	}
	if opts.Provider != nil {
		handlers = append(handlers, otelslog.NewHandler("cagectl", otelslog.WithLoggerProvider(opts.Provider)))
	}

	var h slog.Handler = NewFanoutHandler(handlers...)
	if opts.Context != nil {
		h = NewContextHandler(h, opts.Context)
	}

	m.logger = slog.New(h)
	slog.SetDefault(m.logger)
	m.logger.Debug("Logging initialized", "level", opts.Level, "sinks", len(opts.Sinks), "otel", opts.Provider != nil)
	return m.logger
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces pending OTel records out.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider == nil {
		return nil
	}
	return m.logProvider.ForceFlush(ctx)
}
