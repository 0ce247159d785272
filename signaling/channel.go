package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"peercall/metric"
	"peercall/pkg/socket"
	"peercall/types/message"
)

// Channel owns one logical connection to the relay. It delivers typed
// envelopes and reconnects with exponential backoff after unexpected closes.
// It has no knowledge of rooms or calls.
type Channel struct {
	conf    Config
	backoff Backoff
	dialer  socket.Dialer
	metric  *metric.Metrics
	logger  *slog.Logger

	mu         sync.Mutex
	status     Status
	attempt    int
	sock       socket.Socket
	gen        uint64
	timer      *time.Timer
	cancelDial context.CancelFunc

	msgHandlers    []func(message.Envelope)
	statusHandlers []func(StatusEvent)
}

// New creates a disconnected Channel. Zero values in conf are replaced by defaults.
func New(conf Config, dialer socket.Dialer, m *metric.Metrics) *Channel {
	conf = conf.WithDefaults()
	return &Channel{
		conf:    conf,
		backoff: conf.Backoff(),
		dialer:  dialer,
		metric:  m,
		logger:  slog.Default().With("component", "signaling"),
	}
}

// OnMessage registers a handler for inbound envelopes. Handlers run on the
// read goroutine in arrival order.
func (c *Channel) OnMessage(h func(message.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgHandlers = append(c.msgHandlers, h)
}

// OnStatusChange registers a handler for status transitions. Handlers are
// called with the channel lock held and must not call back into the Channel.
func (c *Channel) OnStatusChange(h func(StatusEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusHandlers = append(c.statusHandlers, h)
}

// Status returns the current status.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect starts a connection attempt. It does nothing while the channel is
// connecting, connected or waiting to reconnect.
func (c *Channel) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.status {
	case Connecting, Connected, Reconnecting:
		return
	}
	c.attempt = 0
	c.dialLocked()
}

// Retry resets the attempt counter and dials immediately, cancelling any
// pending reconnect. It is the manual retry offered after Failed.
func (c *Channel) Retry() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == Connecting || c.status == Connected {
		return
	}
	c.attempt = 0
	c.dialLocked()
}

// Close closes the connection intentionally. No reconnect follows.
func (c *Channel) Close() {
	c.mu.Lock()
	c.gen++
	c.stopPendingLocked()
	sock := c.sock
	c.sock = nil
	c.attempt = 0
	if c.status != Disconnected {
		c.setStatusLocked(StatusEvent{Status: Disconnected})
	}
	c.mu.Unlock()

	if sock != nil {
		if err := sock.Close(); err != nil {
			c.logger.Debug("closing relay socket", "err", err)
		}
	}
}

// Send writes env to the relay. When the relay is not connected the envelope
// is dropped with a warning; envelopes are never queued across disconnects.
func (c *Channel) Send(env message.Envelope) {
	c.mu.Lock()
	sock, status := c.sock, c.status
	c.mu.Unlock()

	if status != Connected || sock == nil {
		c.logger.Warn("dropping envelope, relay not connected", "type", env.Type, "status", status)
		return
	}
	if err := sock.WriteJSON(env); err != nil {
		// The read loop observes the broken socket and reconnects.
		c.logger.Warn("sending envelope", "type", env.Type, "err", err)
		return
	}
	c.metric.IncSignalingMessages("out", string(env.Type))
}

// dialLocked starts a dial attempt bounded by the connect timeout.
func (c *Channel) dialLocked() {
	c.stopPendingLocked()
	c.gen++
	gen := c.gen

	ctx, cancel := context.WithTimeout(context.Background(), c.conf.ConnectTimeout)
	c.cancelDial = cancel
	c.setStatusLocked(StatusEvent{Status: Connecting, Attempt: c.attempt})

	header := http.Header{}
	if c.conf.Token != "" {
		header.Set("Authorization", "Bearer "+c.conf.Token)
	}

	go func() {
		defer cancel()
		sock, err := c.dialer.Dial(ctx, c.conf.URL, header)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		c.onDialed(gen, sock, err)
	}()
}

func (c *Channel) onDialed(gen uint64, sock socket.Socket, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if sock != nil {
			_ = sock.Close()
		}
		return
	}
	c.cancelDial = nil

	if err != nil {
		c.logger.Warn("connecting to relay", "url", c.conf.URL, "attempt", c.attempt, "err", err)
		if sock != nil {
			_ = sock.Close()
		}
		c.scheduleReconnectLocked(err)
		c.mu.Unlock()
		return
	}

	c.sock = sock
	c.attempt = 0
	c.setStatusLocked(StatusEvent{Status: Connected})
	c.mu.Unlock()

	c.logger.Info("connected to relay", "url", c.conf.URL)
	go c.readLoop(gen, sock)
}

func (c *Channel) readLoop(gen uint64, sock socket.Socket) {
	for {
		var env message.Envelope
		err := sock.ReadJSON(&env)
		if err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.logger.Warn("discarding malformed envelope", "err", err)
				continue
			}
			c.onClosed(gen, err)
			return
		}
		if err := env.Validate(); err != nil {
			c.logger.Warn("discarding invalid envelope", "err", err)
			continue
		}

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		handlers := append([]func(message.Envelope){}, c.msgHandlers...)
		c.mu.Unlock()

		c.metric.IncSignalingMessages("in", string(env.Type))
		for _, h := range handlers {
			h(env)
		}
	}
}

func (c *Channel) onClosed(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.sock = nil

	// A local Close bumps the generation first, so any close seen here
	// came from the relay or the network.
	if socket.IsCleanClose(err) {
		c.logger.Info("relay closed the connection", "err", err)
	} else {
		c.logger.Warn("relay connection lost", "err", err)
	}
	c.scheduleReconnectLocked(err)
}

// scheduleReconnectLocked waits for the next backoff delay and dials again,
// or reports Failed once the attempts are exhausted.
func (c *Channel) scheduleReconnectLocked(cause error) {
	c.gen++
	c.attempt++
	if c.attempt > c.conf.MaxAttempts {
		c.logger.Error("giving up on relay", "attempts", c.conf.MaxAttempts, "err", cause)
		c.setStatusLocked(StatusEvent{
			Status:  Failed,
			Attempt: c.attempt - 1,
			Err:     fmt.Errorf("after %d attempts: %w", c.conf.MaxAttempts, cause),
		})
		return
	}

	delay := c.backoff.Delay(c.attempt)
	gen := c.gen
	c.metric.IncReconnectAttempts()
	c.setStatusLocked(StatusEvent{Status: Reconnecting, Attempt: c.attempt, Delay: delay, Err: cause})
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen || c.status != Reconnecting {
			return
		}
		c.dialLocked()
	})
}

func (c *Channel) stopPendingLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
}

func (c *Channel) setStatusLocked(ev StatusEvent) {
	c.status = ev.Status
	c.metric.SetRelayStatus(int(ev.Status))
	for _, h := range c.statusHandlers {
		h(ev)
	}
}
