// Package control implements the synchronous request/response channel used
// to send commands to the simulation server.
package control

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cage-sim/cageclient/internal/transport"
	"github.com/cage-sim/cageclient/pkg/core"
)

// DefaultTimeout bounds both the send and the receive half of a request.
const DefaultTimeout = 1000 * time.Millisecond

// ErrBusy is returned when a request is issued while another is in flight.
var ErrBusy = errors.New("control channel busy: request already in flight")

// Options configures a Channel.
type Options struct {
	SendTimeout time.Duration
	RecvTimeout time.Duration
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.SendTimeout == 0 {
		o.SendTimeout = DefaultTimeout
	}
	if o.RecvTimeout == 0 {
		o.RecvTimeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Channel is a request socket allowing one outstanding request at a time.
type Channel struct {
	ctx  transport.Context
	addr string
	opts Options

	mu       sync.Mutex
	sock     transport.Socket
	inFlight atomic.Bool
}

// New creates a channel for addr. Nothing is opened until Connect.
func New(ctx transport.Context, addr string, opts Options) *Channel {
	return &Channel{ctx: ctx, addr: addr, opts: opts.withDefaults()}
}

// Addr returns the command endpoint address.
func (c *Channel) Addr() string { return c.addr }

// Connect opens the request socket.
func (c *Channel) Connect() error {
	if c.opts.SendTimeout < 0 || c.opts.RecvTimeout < 0 {
		return core.NewError(core.ErrConfig, "control connect",
			fmt.Sprintf("timeouts must be positive (send %s, receive %s)", c.opts.SendTimeout, c.opts.RecvTimeout), nil)
	}

	sock, err := c.ctx.Requester(transport.SocketOptions{
		SendTimeout: c.opts.SendTimeout,
		RecvTimeout: c.opts.RecvTimeout,
		Correlate:   true,
		Relaxed:     true,
	})
	if err != nil {
		return core.NewError(core.ErrTransport, "control connect", "create socket", err)
	}
	if err := sock.Connect(c.addr); err != nil {
		_ = sock.Close()
		return core.NewError(core.ErrTransport, "control connect", c.addr, err)
	}

	c.mu.Lock()
	c.sock = sock
	c.mu.Unlock()

	c.opts.Logger.Debug("Control channel connected", "addr", c.addr)
	return nil
}

// Submit sends frames as one message and waits for the reply. Every frame
// but the last is flagged as having more to follow.
func (c *Channel) Submit(frames ...[]byte) ([]byte, error) {
	if len(frames) == 0 {
		return nil, core.NewError(core.ErrProtocol, "submit", "empty request", nil)
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer c.inFlight.Store(false)

	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return nil, core.NewError(core.ErrTransport, "submit", "channel not connected", transport.ErrClosed)
	}

	start := time.Now()
	for i, f := range frames {
		if err := sock.Send(f, i < len(frames)-1); err != nil {
			return nil, core.NewError(core.ErrTransport, "submit", fmt.Sprintf("send frame %d/%d", i+1, len(frames)), err)
		}
	}
	resp, err := sock.Recv()
	if err != nil {
		return nil, core.NewError(core.ErrTransport, "submit", "receive reply", err)
	}

	c.opts.Logger.Debug("Request complete", "frames", len(frames), "bytes", len(resp), "duration", time.Since(start))
	return resp, nil
}

// Request is Submit for a single-frame message.
func (c *Channel) Request(req []byte) ([]byte, error) {
	return c.Submit(req)
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
		return core.NewError(core.ErrTransport, "control close", c.addr, err)
	}
	return nil
}
