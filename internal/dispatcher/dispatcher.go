// Package dispatcher routes interactive shell lines to command handlers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrUnknownCommand is returned by Dispatch for unregistered commands.
var ErrUnknownCommand = errors.New("unknown command")

// Event is one parsed shell line.
type Event struct {
	Command   string
	Args      []string
	Timestamp time.Time
}

// ParseLine splits a line into an event. Blank lines yield ok == false.
func ParseLine(line string) (e Event, ok bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Event{}, false
	}
	return Event{
		Command:   strings.ToLower(fields[0]),
		Args:      fields[1:],
		Timestamp: time.Now(),
	}, true
}

// HandlerFunc processes an event and returns a printable result.
type HandlerFunc func(Event) (any, error)

// Logger interface for pluggable logging. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	logged  bool
	usage   string
	minArgs int
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Describe sets the one-line usage shown by help and completion.
func Describe(usage string) Option {
	return func(c *config) {
		c.usage = usage
	}
}

// MinArgs rejects events with fewer arguments before the handler runs.
func MinArgs(n int) Option {
	return func(c *config) {
		c.minArgs = n
	}
}

// Command describes a registered command.
type Command struct {
	Name  string
	Usage string
}

// Dispatcher routes events to registered handlers. Register and Dispatch
// may be called from different goroutines.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	usage    map[string]string
	logger   Logger

	processed metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		usage:    make(map[string]string),
		logger:   logger,
	}

	m := meter()

	var err error
	d.processed, err = m.Int64Counter(
		"shell.commands.processed",
		metric.WithDescription("Shell commands handled"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"shell.commands.failed",
		metric.WithDescription("Shell commands that returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	d.duration, err = m.Float64Histogram(
		"shell.commands.duration",
		metric.WithDescription("Shell command handling time"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given command with optional configuration.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h
	if cfg.minArgs > 0 {
		handler = withMinArgs(command, cfg.minArgs, cfg.usage, handler)
	}
	if cfg.logged && d.logger != nil {
		handler = d.withLogging(command, handler)
	}

	d.mu.Lock()
	d.handlers[command] = handler
	d.usage[command] = cfg.usage
	d.mu.Unlock()
}

// Dispatch routes an event to its registered handler.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	d.mu.RLock()
	h, ok := d.handlers[e.Command]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, e.Command)
	}

	start := time.Now()
	result, err := h(e)

	attrs := metric.WithAttributes(attribute.String("command", e.Command))
	d.processed.Add(context.Background(), 1, attrs)
	d.duration.Record(context.Background(), float64(time.Since(start))/float64(time.Millisecond), attrs)
	if err != nil {
		d.failed.Add(context.Background(), 1, attrs)
	}
	return result, err
}

// HasHandler returns true if a handler is registered for the command.
func (d *Dispatcher) HasHandler(command string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[command]
	return ok
}

// Commands lists the registered commands by name.
func (d *Dispatcher) Commands() []Command {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Command, 0, len(d.handlers))
	for name := range d.handlers {
		out = append(out, Command{Name: name, Usage: d.usage[name]})
	}
	slices.SortFunc(out, func(a, b Command) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func withMinArgs(command string, n int, usage string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		if len(e.Args) < n {
			if usage != "" {
				return nil, fmt.Errorf("%s: expected %d argument(s), usage: %s", command, n, usage)
			}
			return nil, fmt.Errorf("%s: expected %d argument(s)", command, n)
		}
		return h(e)
	}
}

func (d *Dispatcher) withLogging(command string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling command", "command", command, "args", len(e.Args))

		result, err := h(e)

		if err != nil {
			d.logger.Error("command failed", "command", command, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("command complete", "command", command, "duration", time.Since(start))
		}

		return result, err
	}
}
