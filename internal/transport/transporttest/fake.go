// Package transporttest provides an in-memory transport for tests.
package transporttest

import (
	"errors"
	"sync"
	"time"

	"github.com/cage-sim/cageclient/internal/transport"
)

// Handler answers one request message (all of its frames).
type Handler func(frames [][]byte) ([]byte, error)

// Context is an in-memory transport.Context. Requesters answer through
// Handler; subscribers deliver whatever is passed to Publish.
type Context struct {
	mu sync.Mutex

	Handler Handler

	// Fail* make the matching constructor fail.
	FailRequester  error
	FailSubscriber error
	FailConnect    error

	requesters  []*Socket
	subscribers []*Socket
	closed      bool
}

// NewContext returns a Context answering requests with h.
func NewContext(h Handler) *Context {
	return &Context{Handler: h}
}

// Factory returns a transport.Factory that always yields c.
func (c *Context) Factory() transport.Factory {
	return func() (transport.Context, error) {
		c.mu.Lock()
		c.closed = false
		c.mu.Unlock()
		return c, nil
	}
}

func (c *Context) Requester(opts transport.SocketOptions) (transport.Socket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailRequester != nil {
		return nil, c.FailRequester
	}
	s := &Socket{ctx: c, Options: opts, request: true}
	c.requesters = append(c.requesters, s)
	return s, nil
}

func (c *Context) Subscriber(opts transport.SocketOptions) (transport.Subscriber, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailSubscriber != nil {
		return nil, c.FailSubscriber
	}
	s := &Socket{ctx: c, Options: opts}
	c.subscribers = append(c.subscribers, s)
	return s, nil
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called since the last Factory call.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Requesters returns every request socket created so far.
func (c *Context) Requesters() []*Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Socket(nil), c.requesters...)
}

// Subscribers returns every subscriber socket created so far.
func (c *Context) Subscribers() []*Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Socket(nil), c.subscribers...)
}

// Publish delivers msg to every connected, open subscriber.
func (c *Context) Publish(msg []byte) {
	for _, s := range c.Subscribers() {
		s.deliver(msg)
	}
}

// Socket is an in-memory socket.
type Socket struct {
	mu sync.Mutex

	ctx     *Context
	request bool
	Options transport.SocketOptions

	addr          string
	subscriptions []string
	pending       [][]byte
	requests      [][][]byte
	inbox         [][]byte
	closed        bool
}

func (s *Socket) Connect(addr string) error {
	if s.ctx.FailConnect != nil {
		return s.ctx.FailConnect
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addr = addr
	return nil
}

func (s *Socket) Subscribe(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = append(s.subscriptions, prefix)
	return nil
}

func (s *Socket) Send(data []byte, more bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrClosed
	}
	if !s.request {
		s.mu.Unlock()
		return errors.New("send on subscriber socket")
	}
	s.pending = append(s.pending, append([]byte(nil), data...))
	if more {
		s.mu.Unlock()
		return nil
	}
	frames := s.pending
	s.pending = nil
	s.requests = append(s.requests, frames)
	s.mu.Unlock()

	h := s.ctx.Handler
	if h == nil {
		return nil
	}
	resp, err := h(frames)
	if err != nil {
		return err
	}
	if resp != nil {
		s.deliver(resp)
	}
	return nil
}

func (s *Socket) Recv() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, transport.ErrClosed
	}
	if len(s.inbox) == 0 {
		return nil, transport.ErrTimeout
	}
	msg := s.inbox[0]
	s.inbox = s.inbox[1:]
	return msg, nil
}

func (s *Socket) Pending() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, transport.ErrClosed
	}
	return len(s.inbox) > 0, nil
}

// Poll never waits; it reports whether a message is queued.
func (s *Socket) Poll(time.Duration) (bool, error) {
	return s.Pending()
}

func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Socket) deliver(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (!s.request && s.addr == "") {
		return
	}
	s.inbox = append(s.inbox, msg)
}

// Addr returns the address passed to Connect.
func (s *Socket) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Subscriptions returns the prefixes passed to Subscribe.
func (s *Socket) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscriptions...)
}

// Requests returns every completed request, frame by frame.
func (s *Socket) Requests() [][][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][][]byte(nil), s.requests...)
}

// IsClosed reports whether Close was called.
func (s *Socket) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
