// Package socket provides an interface for managing socket.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	closeWriteTimeout = time.Second
	writeTimeout      = 10 * time.Second
)

// DefaultPongWait is how long a socket waits for a pong before its reads fail.
const DefaultPongWait = 30 * time.Second

// Keepalive controls the ping/pong exchange that detects half-open sockets.
// A zero PongWait uses DefaultPongWait; a zero PingPeriod pings at 9/10 of
// PongWait.
type Keepalive struct {
	PingPeriod time.Duration
	PongWait   time.Duration
}

func (k Keepalive) withDefaults() Keepalive {
	if k.PongWait == 0 {
		k.PongWait = DefaultPongWait
	}
	if k.PingPeriod == 0 || k.PingPeriod >= k.PongWait {
		k.PingPeriod = k.PongWait * 9 / 10
	}
	return k
}

// WebSocket wraps the gorilla/websocket connection. Writes are serialized so
// that several goroutines may send on the same socket.
type WebSocket struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newWebSocket(conn *websocket.Conn, k Keepalive) *WebSocket {
	k = k.withDefaults()
	s := &WebSocket{
		conn: conn,
		done: make(chan struct{}),
	}

	// Reads fail once the peer stops answering pings.
	_ = conn.SetReadDeadline(time.Now().Add(k.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(k.PongWait))
	})
	go s.ping(k.PingPeriod)
	return s
}

// New creates a new WebSocket connection by upgrading the HTTP request.
func New(w http.ResponseWriter, r *http.Request) (*WebSocket, error) {
	return Upgrade(w, r, Keepalive{})
}

// Upgrade is New with explicit keepalive timings.
func Upgrade(w http.ResponseWriter, r *http.Request, k Keepalive) (*WebSocket, error) {
	ug := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool {
			return true
		},
	}

	conn, err := ug.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newWebSocket(conn, k), nil
}

// WebSocketDialer dials relay sockets with gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	Keepalive        Keepalive
}

// Dial opens a client connection. The context bounds the handshake only.
func (d WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Socket, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return newWebSocket(conn, d.Keepalive), nil
}

// Close sends a normal closure frame and closes the WebSocket connection.
// Subsequent calls return the first result.
func (s *WebSocket) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		s.writeMu.Unlock()

		if cerr := s.conn.Close(); cerr != nil {
			s.closeErr = cerr
			return
		}
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// WriteJSON sends a JSON message to the WebSocket connection.
func (s *WebSocket) WriteJSON(data any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := s.conn.WriteJSON(data); err != nil {
		return err
	}
	return nil
}

// ReadJSON reads a JSON message from the WebSocket connection and unmarshals it into the provided variable.
func (s *WebSocket) ReadJSON(v any) error {
	return s.conn.ReadJSON(v)
}

// ping sends a ping every period until the socket is closed or a ping
// cannot be written.
func (s *WebSocket) ping(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeWriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// IsCleanClose reports whether err is a close frame with normal closure status.
func IsCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure)
}
