package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	ws "github.com/gorilla/websocket"

	"github.com/cage-sim/cageclient/pkg/streaming"
)

const (
	outboxSize  = 1024
	ackBoxSize  = 8
	maxRetries  = 8
	maxBackoff  = 15 * time.Second
	writeWait   = 5 * time.Second
	ackDeadline = 5 * time.Second
)

// ErrClosed is returned when a send or ack wait outlives the relay.
var ErrClosed = errors.New("relay closed")

// conn owns one WebSocket and a single writer goroutine. Status messages
// are queued without blocking; a full outbox drops them.
type conn struct {
	mu      sync.Mutex
	ws      *ws.Conn
	outbox  chan []byte
	acks    chan streaming.AckMessage
	done    chan struct{}
	closed  bool
	dropped uint64

	target *url.URL

	// start_session is replayed after a reconnect.
	replay []byte

	backoff time.Duration
	logger  *slog.Logger
}

func newConn(logger *slog.Logger) *conn {
	return &conn{
		outbox:  make(chan []byte, outboxSize),
		acks:    make(chan streaming.AckMessage, ackBoxSize),
		done:    make(chan struct{}),
		backoff: time.Second,
		logger:  logger,
	}
}

func relayURL(rawURL, secret string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid relay URL %q: scheme must be ws or wss", rawURL)
	}
	if secret != "" {
		q := u.Query()
		q.Set("secret", secret)
		u.RawQuery = q.Encode()
	}
	return u, nil
}

func (c *conn) open(rawURL, secret string) error {
	u, err := relayURL(rawURL, secret)
	if err != nil {
		return err
	}
	c.target = u

	w, err := c.dial()
	if err != nil {
		return err
	}
	if !c.attach(w) {
		return ErrClosed
	}
	return nil
}

func (c *conn) dial() (*ws.Conn, error) {
	w, _, err := ws.DefaultDialer.Dial(c.target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("relay dial failed: %w", err)
	}
	return w, nil
}

// attach starts the writer and reader on w. A conn closed in the meantime
// gets w closed instead.
func (c *conn) attach(w *ws.Conn) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = w.Close()
		return false
	}
	c.ws = w
	c.mu.Unlock()

	go c.writer(w)
	go c.reader(w)
	return true
}

func (c *conn) writer(w *ws.Conn) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.outbox:
			if err := write(w, data); err != nil {
				c.logger.Warn("Relay write error", "error", err)
				go c.reconnect(w)
				return
			}
		}
	}
}

func write(w *ws.Conn, data []byte) error {
	if err := w.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return w.WriteMessage(ws.TextMessage, data)
}

// reader forwards acks. Anything else from the server is logged and ignored.
func (c *conn) reader(w *ws.Conn) {
	for {
		_, msg, err := w.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("Relay read error", "error", err)
				go c.reconnect(w)
			}
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(msg, &ack); err != nil || ack.Type != streaming.TypeAck {
			c.logger.Debug("Ignoring relay message", "raw", string(msg))
			continue
		}
		select {
		case c.acks <- ack:
		default:
			c.logger.Debug("Relay ack buffer full, dropping", "for", ack.For)
		}
	}
}

// reconnect replaces a failed socket. The writer and reader of the old one
// may both report it; only the first report redials.
func (c *conn) reconnect(failed *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.ws != failed {
		c.mu.Unlock()
		return
	}
	_ = failed.Close()
	c.ws = nil
	c.mu.Unlock()

	wait := c.backoff
	for attempt := 1; attempt <= maxRetries; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(wait):
		}

		w, err := c.dial()
		if err != nil {
			c.logger.Warn("Relay redial failed", "attempt", attempt, "error", err)
			wait = min(wait*2, maxBackoff)
			continue
		}

		c.mu.Lock()
		start := c.replay
		c.mu.Unlock()
		if start != nil {
			if err := write(w, start); err != nil {
				c.logger.Warn("Relay start_session replay failed", "error", err)
				_ = w.Close()
				continue
			}
		}

		if !c.attach(w) {
			return
		}
		c.logger.Info("Relay reconnected", "attempt", attempt)
		return
	}
	c.logger.Error("Relay reconnect gave up", "attempts", maxRetries)
}

func (c *conn) send(data []byte) {
	select {
	case c.outbox <- data:
	default:
		c.mu.Lock()
		c.dropped++
		n := c.dropped
		c.mu.Unlock()
		if n == 1 || n%100 == 0 {
			c.logger.Warn("Relay outbox full, dropping messages", "dropped", n)
		}
	}
}

// sendAndWait queues data and waits for the ack naming msgType.
func (c *conn) sendAndWait(data []byte, msgType string, timeout time.Duration) error {
	c.send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ack := <-c.acks:
			if ack.For == msgType {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("no ack for %q within %s", msgType, timeout)
		case <-c.done:
			return fmt.Errorf("waiting for ack of %q: %w", msgType, ErrClosed)
		}
	}
}

func (c *conn) setReplay(data []byte) {
	c.mu.Lock()
	c.replay = data
	c.mu.Unlock()
}

func (c *conn) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	w := c.ws
	c.ws = nil
	c.mu.Unlock()

	if w == nil {
		return nil
	}
	_ = w.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return w.Close()
}
