// Package coordinator runs the two-party call state machine: room
// membership, glare-free role assignment, offer/answer exchange and teardown.
//
// All state transitions happen on the goroutine running Run. Public methods,
// relay events and connection callbacks are posted to a mailbox and handled
// in order. Blocking steps (capture, description work) run on worker
// goroutines and post their result back tagged with the attempt generation;
// a result whose generation or connection is no longer current is dropped.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"peercall/ice"
	"peercall/media"
	"peercall/metric"
	"peercall/peer"
	"peercall/signaling"
	"peercall/types/message"
)

// Below is the Error message for the coordinator.
var (
	ErrCallInProgress = errors.New("call already in progress")
	ErrClosed         = errors.New("coordinator closed")
)

// Signaler is the relay connection used by the coordinator.
type Signaler interface {
	Connect()
	Retry()
	Close()
	Send(env message.Envelope)
	Status() signaling.Status
	OnMessage(h func(message.Envelope))
	OnStatusChange(h func(signaling.StatusEvent))
}

// MediaSession owns the local tracks.
type MediaSession interface {
	Acquire(ctx context.Context, constraints media.Constraints) ([]media.Track, error)
	Release()
	Tracks() []media.Track
	Toggle(kind media.Kind) bool
}

// Coordinator drives one local participant through calls with one peer.
type Coordinator struct {
	conf    Config
	channel Signaler
	media   MediaSession
	factory peer.Factory
	metric  *metric.Metrics
	logger  *slog.Logger

	mailbox   *mailbox
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the loop.
	runCtx     context.Context
	state      SessionState
	inSession  bool
	acquiring  bool
	idleStatus string
	gen        uint64
	conn       peer.Connection
	buf        *ice.Buffer
	callCancel context.CancelFunc

	subMu      sync.Mutex
	status     string
	statusSubs []func(string)
	localSubs  []func([]media.Track)
	remoteSubs []func(peer.RemoteTrack)
}

// New creates a Coordinator. Run must be started before any call method.
func New(conf Config, channel Signaler, session MediaSession, factory peer.Factory, m *metric.Metrics) *Coordinator {
	conf = conf.WithDefaults()
	c := &Coordinator{
		conf:       conf,
		channel:    channel,
		media:      session,
		factory:    factory,
		metric:     m,
		logger:     slog.Default().With("component", "coordinator", "user", conf.UserID, "room", conf.RoomID),
		mailbox:    newMailbox(),
		done:       make(chan struct{}),
		idleStatus: StatusIdle,
		status:     StatusIdle,
	}
	c.state.Relay = channel.Status()

	channel.OnMessage(func(env message.Envelope) {
		c.mailbox.post(func() { c.handleEnvelope(env) })
	})
	channel.OnStatusChange(func(ev signaling.StatusEvent) {
		c.mailbox.post(func() { c.handleRelayStatus(ev) })
	})
	return c
}

// UserID returns the local participant id.
func (c *Coordinator) UserID() string {
	return c.conf.UserID
}

// Run processes events until ctx is done or Close is called. Leaving Run
// ends any call in progress.
func (c *Coordinator) Run(ctx context.Context) {
	c.runCtx = ctx
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.endCall(StatusCallEnded)
			c.mailbox.close()
			return
		case <-c.mailbox.signal:
			for _, task := range c.mailbox.drain() {
				task()
				if c.runCtx == nil {
					c.mailbox.close()
					return
				}
			}
		}
	}
}

// call runs f on the loop and waits for its result.
func (c *Coordinator) call(ctx context.Context, f func() error) error {
	result := make(chan error, 1)
	if !c.mailbox.post(func() { result <- f() }) {
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// StartCall acquires local media, connects to the relay and joins the room.
// It fails with ErrCallInProgress unless the coordinator is idle.
func (c *Coordinator) StartCall(ctx context.Context) error {
	return c.call(ctx, c.startCall)
}

// EndCall ends the call from any state and returns to idle. Calling it again
// has no further effect.
func (c *Coordinator) EndCall() {
	_ = c.call(context.Background(), func() error {
		c.endCall(StatusCallEnded)
		return nil
	})
}

// Close ends the call, closes the relay connection and stops the loop.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		err := c.call(context.Background(), func() error {
			c.endCall(StatusCallEnded)
			c.channel.Close()
			c.runCtx = nil
			return nil
		})
		if err != nil {
			// The loop already stopped and ended the call.
			c.channel.Close()
		}
	})
}

// RetrySignaling retries the relay connection after it reported failure.
func (c *Coordinator) RetrySignaling() {
	c.channel.Retry()
}

// ToggleAudioEnabled flips the local audio tracks and returns the new state.
func (c *Coordinator) ToggleAudioEnabled() bool {
	return c.media.Toggle(media.Audio)
}

// ToggleVideoEnabled flips the local video tracks and returns the new state.
func (c *Coordinator) ToggleVideoEnabled() bool {
	return c.media.Toggle(media.Video)
}

// State returns a snapshot of the session state.
func (c *Coordinator) State(ctx context.Context) (SessionState, error) {
	var s SessionState
	err := c.call(ctx, func() error {
		s = c.state
		if c.buf != nil {
			s.PendingCandidates = c.buf.Pending()
			s.RemoteDescriptionSet = c.buf.RemoteDescriptionSet()
		}
		return nil
	})
	return s, err
}

// Status returns the current status string.
func (c *Coordinator) Status() string {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.status
}

// OnStatusChange registers a handler called with every new status string.
func (c *Coordinator) OnStatusChange(h func(string)) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.statusSubs = append(c.statusSubs, h)
}

// OnLocalTracks registers a handler called when the local tracks change.
// An empty slice means the tracks were released.
func (c *Coordinator) OnLocalTracks(h func([]media.Track)) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.localSubs = append(c.localSubs, h)
}

// OnRemoteTrack registers a handler called for each track received from the peer.
func (c *Coordinator) OnRemoteTrack(h func(peer.RemoteTrack)) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.remoteSubs = append(c.remoteSubs, h)
}

func (c *Coordinator) startCall() error {
	if c.state.Phase != PhaseIdle {
		return ErrCallInProgress
	}

	c.inSession = true
	c.gen++
	gen := c.gen
	c.state.Phase = PhaseAwaitingRoom
	c.state.Room = RoomNotJoined
	c.state.Call = CallIdle
	c.acquiring = true
	c.metric.IncCalls("started")
	c.logger.Info("starting call")

	parent := c.runCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	c.callCancel = cancel
	constraints := c.conf.Constraints
	go func() {
		tracks, err := c.media.Acquire(ctx, constraints)
		c.mailbox.post(func() { c.handleMediaAcquired(gen, tracks, err) })
	}()

	c.publishStatus()
	return nil
}

func (c *Coordinator) handleMediaAcquired(gen uint64, tracks []media.Track, err error) {
	if gen != c.gen || !c.inSession {
		if err == nil && !c.inSession {
			c.media.Release()
		}
		return
	}
	c.acquiring = false

	if err != nil {
		var accessErr *media.AccessError
		if errors.As(err, &accessErr) {
			c.logger.Warn("media access denied", "reason", accessErr.Reason, "err", err)
		} else {
			c.logger.Warn("acquiring media", "err", err)
		}
		c.metric.IncCalls("media_denied")
		c.endCall(StatusMediaDenied)
		return
	}

	c.publishLocalTracks(tracks)
	c.channel.Connect()
	if c.state.Relay == signaling.Connected {
		c.joinRoom()
	}
	c.publishStatus()
}

// endCall is the single teardown path. It closes the connection, leaves the
// room, stops local tracks and returns to idle with outcome as status.
func (c *Coordinator) endCall(outcome string) {
	if !c.inSession {
		// Tracks may be retained after a transport failure.
		c.releaseMedia()
		return
	}
	c.logger.Info("ending call", "phase", c.state.Phase, "outcome", outcome)

	if c.callCancel != nil {
		c.callCancel()
		c.callCancel = nil
	}
	c.closeConnection()
	c.leaveRoom()
	c.releaseMedia()

	c.inSession = false
	c.acquiring = false
	c.gen++
	c.state.Phase = PhaseEnded
	c.state.Call = CallEnded
	c.state.PeerID = ""
	c.state.Offerer = false
	c.metric.IncCalls("ended")

	c.state.Phase = PhaseIdle
	c.state.Call = CallIdle
	c.idleStatus = outcome
	c.publishStatus()
}

// endAttempt handles a transport failure: the connection is closed and the
// room left, but local tracks are kept.
func (c *Coordinator) endAttempt() {
	c.logger.Warn("call transport lost", "peer", c.state.PeerID)
	c.closeConnection()
	c.leaveRoom()

	if c.callCancel != nil {
		c.callCancel()
		c.callCancel = nil
	}
	c.inSession = false
	c.gen++
	c.state.Phase = PhaseEnded
	c.state.Call = CallEnded
	c.state.PeerID = ""
	c.state.Offerer = false
	c.metric.IncCalls("ended")
	c.publishStatus()

	c.state.Phase = PhaseIdle
	c.state.Call = CallIdle
	c.idleStatus = StatusCallEnded
	c.publishStatus()
}

// releaseMedia always calls Release so a capture still in flight is stopped
// when it completes.
func (c *Coordinator) releaseMedia() {
	held := len(c.media.Tracks()) > 0
	c.media.Release()
	if held {
		c.publishLocalTracks(nil)
	}
}

func (c *Coordinator) joinRoom() {
	if c.state.Room != RoomNotJoined {
		return
	}
	c.state.Room = RoomJoining
	if c.state.Phase != PhaseActive {
		c.state.Phase = PhaseAwaitingRoom
	}
	c.send(message.Envelope{Type: message.JoinRoom, RoomID: c.conf.RoomID, UserID: c.conf.UserID})
}

func (c *Coordinator) leaveRoom() {
	if c.state.Room == RoomNotJoined {
		return
	}
	c.state.Room = RoomNotJoined
	c.send(message.Envelope{Type: message.LeaveRoom, RoomID: c.conf.RoomID, UserID: c.conf.UserID})
}

func (c *Coordinator) send(env message.Envelope) {
	c.channel.Send(env)
}

func (c *Coordinator) handleRelayStatus(ev signaling.StatusEvent) {
	prev := c.state.Relay
	c.state.Relay = ev.Status
	defer c.publishStatus()

	if !c.inSession || c.acquiring {
		return
	}

	switch ev.Status {
	case signaling.Connected:
		c.joinRoom()
	case signaling.Reconnecting, signaling.Disconnected, signaling.Failed:
		if prev == signaling.Connected {
			c.handleRelayLost()
		}
	}
}

// handleRelayLost applies the reconnect policy. The relay drops membership
// with the socket, so the room has to be joined again.
func (c *Coordinator) handleRelayLost() {
	c.state.Room = RoomNotJoined
	if c.conf.Policy == EndCallOnLoss {
		c.endCall(StatusCallEnded)
		return
	}

	switch c.state.Phase {
	case PhaseOffering, PhaseAnswering:
		c.logger.Info("relay lost mid-negotiation, resetting attempt")
		c.resetAttempt()
		c.state.Phase = PhaseAwaitingRoom
	case PhaseWaiting:
		c.state.Phase = PhaseAwaitingRoom
	}
}

func (c *Coordinator) handleEnvelope(env message.Envelope) {
	if !c.inSession {
		c.logger.Debug("ignoring envelope outside a call", "type", env.Type)
		return
	}
	defer c.publishStatus()

	switch env.Type {
	case message.JoinedRoom:
		c.handleJoinedRoom(env)
	case message.UserJoined:
		c.handleUserJoined(env.UserID)
	case message.UserLeft:
		c.handleUserLeft(env.UserID)
	case message.Offer:
		c.handleOffer(env)
	case message.Answer:
		c.handleAnswer(env)
	case message.ICECandidate:
		c.handleRemoteCandidate(env)
	case message.Error:
		c.logger.Warn("relay reported an error", "message", env.Message)
	default:
		c.logger.Debug("ignoring envelope", "type", env.Type)
	}
}

func (c *Coordinator) handleJoinedRoom(env message.Envelope) {
	if env.RoomID != c.conf.RoomID || c.state.Room != RoomJoining {
		return
	}
	c.state.Room = RoomJoined

	if c.state.Phase != PhaseAwaitingRoom {
		// Rejoined after a relay reconnect with the call still up.
		return
	}
	c.state.Phase = PhaseWaiting
	c.logger.Info("joined room", "participants", len(env.Participants))

	for _, p := range env.Participants {
		if p == c.conf.UserID {
			continue
		}
		c.handlePeerAppeared(p)
	}
}

// handleUserJoined treats a join from the current peer before the call is
// active as a restart on its side: the relay moved its membership to a new
// socket without a user-left, and the peer no longer knows this attempt.
func (c *Coordinator) handleUserJoined(userID string) {
	if userID != "" && userID == c.state.PeerID &&
		(c.state.Phase == PhaseOffering || c.state.Phase == PhaseAnswering) {
		c.logger.Info("peer rejoined mid-negotiation, restarting attempt", "peer", userID)
		c.resetAttempt()
		c.state.Phase = PhaseWaiting
	}
	c.handlePeerAppeared(userID)
}

func (c *Coordinator) handleUserLeft(userID string) {
	if userID == "" || userID != c.state.PeerID {
		return
	}
	if c.state.Phase == PhaseActive {
		// The peer may only have lost its relay socket; the transport
		// reports a real hang-up.
		c.logger.Info("peer left the room during an active call", "peer", userID)
		return
	}
	c.logger.Info("peer left before the call connected", "peer", userID)
	c.resetAttempt()
	if c.state.Room == RoomJoined {
		c.state.Phase = PhaseWaiting
	}
}

// resetAttempt drops the connection and the peer, keeping room and tracks.
func (c *Coordinator) resetAttempt() {
	c.closeConnection()
	c.state.PeerID = ""
	c.state.Offerer = false
	c.state.Call = CallIdle
}

func (c *Coordinator) closeConnection() {
	c.gen++
	if c.buf != nil {
		c.buf.Discard()
		c.buf = nil
	}
	c.state.RemoteDescriptionSet = false
	c.state.PendingCandidates = 0
	if c.conn == nil {
		return
	}
	conn := c.conn
	c.conn = nil
	if err := conn.Close(); err != nil {
		c.logger.Warn("closing connection", "err", err)
	}
}

func (c *Coordinator) publishStatus() {
	s := c.state.status(c.idleStatus, c.acquiring)

	c.subMu.Lock()
	if s == c.status {
		c.subMu.Unlock()
		return
	}
	c.status = s
	subs := append([]func(string){}, c.statusSubs...)
	c.subMu.Unlock()

	c.logger.Debug("status", "status", s)
	for _, h := range subs {
		h(s)
	}
}

func (c *Coordinator) publishLocalTracks(tracks []media.Track) {
	c.subMu.Lock()
	subs := append([]func([]media.Track){}, c.localSubs...)
	c.subMu.Unlock()
	for _, h := range subs {
		h(tracks)
	}
}

func (c *Coordinator) publishRemoteTrack(t peer.RemoteTrack) {
	c.subMu.Lock()
	subs := append([]func(peer.RemoteTrack){}, c.remoteSubs...)
	c.subMu.Unlock()
	for _, h := range subs {
		h(t)
	}
}
