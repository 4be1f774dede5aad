package transport

import (
	"fmt"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// zmqContext is a Context backed by libzmq.
type zmqContext struct {
	ctx *zmq.Context
}

// NewZMQContext opens a ZeroMQ context.
func NewZMQContext() (Context, error) {
	ctx, err := zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create zmq context: %w", err)
	}
	return &zmqContext{ctx: ctx}, nil
}

func (c *zmqContext) Requester(opts SocketOptions) (Socket, error) {
	s, err := c.newSocket(zmq.REQ, opts)
	if err != nil {
		return nil, err
	}
	if opts.Correlate {
		if err := s.sock.SetReqCorrelate(1); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to set REQ_CORRELATE: %w", err)
		}
	}
	if opts.Relaxed {
		if err := s.sock.SetReqRelaxed(1); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to set REQ_RELAXED: %w", err)
		}
	}
	return s, nil
}

func (c *zmqContext) Subscriber(opts SocketOptions) (Subscriber, error) {
	return c.newSocket(zmq.SUB, opts)
}

func (c *zmqContext) newSocket(t zmq.Type, opts SocketOptions) (*zmqSocket, error) {
	sock, err := c.ctx.NewSocket(t)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s socket: %w", t, err)
	}
	s := &zmqSocket{sock: sock}

	if opts.SendTimeout > 0 {
		if err := sock.SetSndtimeo(opts.SendTimeout); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to set send timeout: %w", err)
		}
	}
	if opts.RecvTimeout > 0 {
		if err := sock.SetRcvtimeo(opts.RecvTimeout); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to set receive timeout: %w", err)
		}
	}
	if err := sock.SetLinger(opts.Linger); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set linger: %w", err)
	}

	s.poller = zmq.NewPoller()
	s.poller.Add(sock, zmq.POLLIN)
	return s, nil
}

func (c *zmqContext) Close() error {
	if err := c.ctx.Term(); err != nil {
		return fmt.Errorf("failed to terminate zmq context: %w", err)
	}
	return nil
}

// zmqSocket adapts a zmq4 socket to Socket and Subscriber.
type zmqSocket struct {
	sock   *zmq.Socket
	poller *zmq.Poller
	closed bool
}

func (s *zmqSocket) Connect(addr string) error {
	if err := s.sock.Connect(addr); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return nil
}

func (s *zmqSocket) Subscribe(prefix string) error {
	return s.sock.SetSubscribe(prefix)
}

func (s *zmqSocket) Send(data []byte, more bool) error {
	var flags zmq.Flag
	if more {
		flags = zmq.SNDMORE
	}
	if _, err := s.sock.SendBytes(data, flags); err != nil {
		return mapErr(err)
	}
	return nil
}

func (s *zmqSocket) Recv() ([]byte, error) {
	data, err := s.sock.RecvBytes(0)
	if err != nil {
		return nil, mapErr(err)
	}
	return data, nil
}

func (s *zmqSocket) Pending() (bool, error) {
	events, err := s.sock.GetEvents()
	if err != nil {
		return false, mapErr(err)
	}
	return events&zmq.POLLIN != 0, nil
}

func (s *zmqSocket) Poll(timeout time.Duration) (bool, error) {
	polled, err := s.poller.Poll(timeout)
	if err != nil {
		return false, mapErr(err)
	}
	for _, p := range polled {
		if p.Events&zmq.POLLIN != 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *zmqSocket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sock.Close()
}

func mapErr(err error) error {
	switch zmq.AsErrno(err) {
	case zmq.Errno(syscall.EAGAIN):
		return ErrTimeout
	case zmq.ETERM:
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}
