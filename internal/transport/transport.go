// Package transport abstracts the message sockets used to reach the
// simulation server.
package transport

import (
	"errors"
	"fmt"
	"time"
)

// BlockForever makes Poll wait without a deadline.
const BlockForever time.Duration = -1

// ErrTimeout is returned when a send or receive exceeds its deadline.
var ErrTimeout = errors.New("operation timed out")

// ErrClosed is returned by operations on a closed socket.
var ErrClosed = errors.New("socket closed")

// SocketOptions are applied when a socket is created.
type SocketOptions struct {
	SendTimeout time.Duration
	RecvTimeout time.Duration
	Linger      time.Duration

	// Correlate and Relaxed let a request socket recover from a lost reply
	// by sending a new request.
	Correlate bool
	Relaxed   bool
}

// Socket is one message-oriented connection.
type Socket interface {
	Connect(addr string) error
	// Send queues one frame. more marks that further frames of the same
	// message follow.
	Send(data []byte, more bool) error
	Recv() ([]byte, error)
	// Pending reports, without blocking, whether a message can be received.
	Pending() (bool, error)
	// Poll waits up to timeout for a message. A negative timeout waits forever.
	Poll(timeout time.Duration) (bool, error)
	Close() error
}

// Subscriber is a socket that receives published messages.
type Subscriber interface {
	Socket
	Subscribe(prefix string) error
}

// Context owns the sockets created from it.
type Context interface {
	Requester(opts SocketOptions) (Socket, error)
	Subscriber(opts SocketOptions) (Subscriber, error)
	Close() error
}

// Factory opens a new Context.
type Factory func() (Context, error)

// Address formats a TCP endpoint.
func Address(host string, port int) string {
	return fmt.Sprintf("tcp://%s:%d", host, port)
}
