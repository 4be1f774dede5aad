// Package telemetry receives the vehicle reports published by the simulation
// server.
package telemetry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cage-sim/cageclient/internal/transport"
	"github.com/cage-sim/cageclient/internal/wire"
	"github.com/cage-sim/cageclient/pkg/core"
)

// BlockForever makes PollReadable wait without a deadline.
const BlockForever = transport.BlockForever

// Options configures a Channel.
type Options struct {
	Linger time.Duration
	Logger *slog.Logger
}

// Channel subscribes to every published message and drops reports from
// actors outside its accepted set.
type Channel struct {
	ctx  transport.Context
	addr string
	opts Options

	mu       sync.Mutex
	sock     transport.Subscriber
	accepted map[string]struct{}
}

// New creates a channel for addr. Nothing is opened until Connect.
func New(ctx transport.Context, addr string, opts Options) *Channel {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Channel{
		ctx:      ctx,
		addr:     addr,
		opts:     opts,
		accepted: make(map[string]struct{}),
	}
}

// Addr returns the telemetry endpoint address.
func (c *Channel) Addr() string { return c.addr }

// Connect opens the subscriber socket and subscribes to everything.
func (c *Channel) Connect() error {
	sock, err := c.ctx.Subscriber(transport.SocketOptions{Linger: c.opts.Linger})
	if err != nil {
		return core.NewError(core.ErrTransport, "telemetry connect", "create socket", err)
	}
	if err := sock.Connect(c.addr); err != nil {
		_ = sock.Close()
		return core.NewError(core.ErrTransport, "telemetry connect", c.addr, err)
	}

	c.mu.Lock()
	c.sock = sock
	c.mu.Unlock()

	if err := c.SubscribeAll(); err != nil {
		_ = c.Close()
		return err
	}
	c.opts.Logger.Debug("Telemetry channel connected", "addr", c.addr)
	return nil
}

// SubscribeAll subscribes to every topic. Actor filtering happens after
// parsing.
func (c *Channel) SubscribeAll() error {
	sock, err := c.socket("subscribe")
	if err != nil {
		return err
	}
	if err := sock.Subscribe(""); err != nil {
		return core.NewError(core.ErrTransport, "subscribe", c.addr, err)
	}
	return nil
}

// AddFilter accepts reports from actor. With no filters every report is
// accepted.
func (c *Channel) AddFilter(actor string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accepted[actor] = struct{}{}
}

// Accepts reports whether reports from actor pass the filter.
func (c *Channel) Accepts(actor string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.accepted) == 0 {
		return true
	}
	_, ok := c.accepted[actor]
	return ok
}

// PollReadable reports whether a message can be received, waiting up to
// timeout. BlockForever waits indefinitely; any other non-positive timeout is
// rejected.
func (c *Channel) PollReadable(timeout time.Duration) (bool, error) {
	if err := ValidateTimeout(timeout); err != nil {
		return false, err
	}
	sock, err := c.socket("poll")
	if err != nil {
		return false, err
	}

	ready, err := sock.Pending()
	if err != nil {
		return false, core.NewError(core.ErrTransport, "poll", "check events", err)
	}
	if ready {
		return true, nil
	}
	ready, err = sock.Poll(timeout)
	if err != nil {
		return false, core.NewError(core.ErrTransport, "poll", c.addr, err)
	}
	return ready, nil
}

// ReceiveOne reads one message. It returns nil without error when the report
// comes from an actor outside the filter.
func (c *Channel) ReceiveOne() (*wire.Report, error) {
	sock, err := c.socket("receive")
	if err != nil {
		return nil, err
	}
	data, err := sock.Recv()
	if err != nil {
		return nil, core.NewError(core.ErrTransport, "receive", c.addr, err)
	}
	report, err := wire.ParseReport(data)
	if err != nil {
		return nil, err
	}
	if !c.Accepts(report.Name) {
		return nil, nil
	}
	return report, nil
}

// Close releases the socket. Closing twice is a no-op.
func (c *Channel) Close() error {
	c.mu.Lock()
	sock := c.sock
	c.sock = nil
	c.mu.Unlock()

	if sock == nil {
		return nil
	}
	if err := sock.Close(); err != nil {
		return core.NewError(core.ErrTransport, "telemetry close", c.addr, err)
	}
	return nil
}

func (c *Channel) socket(op string) (transport.Subscriber, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock == nil {
		return nil, core.NewError(core.ErrTransport, op, "channel not connected", transport.ErrClosed)
	}
	return c.sock, nil
}

// ValidateTimeout accepts positive timeouts and BlockForever.
func ValidateTimeout(timeout time.Duration) error {
	if timeout == BlockForever || timeout > 0 {
		return nil
	}
	return core.NewError(core.ErrConfig, "poll", fmt.Sprintf("invalid timeout %s", timeout), nil)
}
