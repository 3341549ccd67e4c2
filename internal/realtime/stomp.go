package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
)

// Dialer connects to a STOMP broker exposed over WebSocket.
type Dialer struct {
	// URL is the raw WebSocket endpoint, e.g. ws://host/ws/websocket.
	URL string
	// Header is sent with the upgrade request (session cookie).
	Header http.Header
	// HeartBeat is the STOMP heart-beat interval in both directions. Zero
	// disables heart-beating.
	HeartBeat time.Duration
	Logger    *slog.Logger
}

// Dial performs the WebSocket upgrade and the STOMP CONNECT handshake.
func (d *Dialer) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{"v12.stomp", "v11.stomp", "v10.stomp"},
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), d.Header)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	c := &stompConn{
		stream: newWSStream(ws),
		logger: d.logger(),
		done:   make(chan struct{}),
	}
	c.stream.onClose = c.fail

	// The STOMP handshake does not take a context; closing the socket
	// unblocks it.
	handshake := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.stream.Close()
		case <-handshake:
		}
	}()

	sc, err := stomp.Connect(c.stream,
		stomp.ConnOpt.Host(u.Hostname()),
		stomp.ConnOpt.HeartBeat(d.HeartBeat, d.HeartBeat),
	)
	close(handshake)
	if err != nil {
		c.stream.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("stomp connect: %w", err)
	}
	c.conn = sc
	return c, nil
}

func (d *Dialer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// stompConn adapts a go-stomp connection to Conn.
type stompConn struct {
	conn   *stomp.Conn
	stream *wsStream
	logger *slog.Logger

	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func (c *stompConn) fail(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *stompConn) Done() <-chan struct{} { return c.done }

func (c *stompConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *stompConn) alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *stompConn) Subscribe(destination string, h Handler) (Subscription, error) {
	if !c.alive() {
		return nil, ErrNotConnected
	}
	sub, err := c.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", destination, err)
	}

	s := &stompSubscription{sub: sub, destination: destination, logger: c.logger}
	go func() {
		for msg := range sub.C {
			if s.stopped.Load() {
				continue
			}
			if msg.Err != nil {
				c.logger.Warn("subscription failed", "destination", destination, "error", msg.Err)
				c.fail(msg.Err)
				return
			}
			h(msg.Body)
		}
	}()
	return s, nil
}

func (c *stompConn) Send(destination string, body []byte) error {
	if !c.alive() {
		return ErrNotConnected
	}
	if err := c.conn.Send(destination, "application/json", body); err != nil {
		return fmt.Errorf("send %s: %w", destination, err)
	}
	return nil
}

func (c *stompConn) Close() error {
	c.fail(ErrNotConnected)
	if c.conn != nil {
		c.conn.MustDisconnect()
	}
	return c.stream.Close()
}

type stompSubscription struct {
	sub         *stomp.Subscription
	destination string
	logger      *slog.Logger
	stopped     atomic.Bool
}

// Unsubscribe stops delivery immediately. The UNSUBSCRIBE frame may wait on
// a broker receipt, so it completes in the background.
func (s *stompSubscription) Unsubscribe() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	go func() {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Debug("unsubscribe failed", "destination", s.destination, "error", err)
		}
	}()
	return nil
}
