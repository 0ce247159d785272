package coordinator_test

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"peercall/media"
	"peercall/peer"
	"peercall/signaling"
	"peercall/types/message"
)

// fakeHub routes envelopes between fake signalers the way the relay does:
// one room, peer messages forwarded to the other members with fromUserId set.
type fakeHub struct {
	mu      sync.Mutex
	members []*fakeSignaler
	log     []message.Envelope
}

func newFakeHub() *fakeHub {
	return &fakeHub{}
}

func (h *fakeHub) count(from string, typ message.Type) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, env := range h.log {
		if env.Type == typ && env.FromUserID == from {
			n++
		}
	}
	return n
}

func (h *fakeHub) route(from *fakeSignaler, env message.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	env.FromUserID = env.UserID
	h.log = append(h.log, env)

	switch env.Type {
	case message.JoinRoom:
		var participants []string
		for _, m := range h.members {
			if m != from {
				participants = append(participants, m.userID())
			}
		}
		from.setUserID(env.UserID)
		if !h.isMemberLocked(from) {
			h.members = append(h.members, from)
		}
		from.deliver(message.Envelope{Type: message.JoinedRoom, RoomID: env.RoomID, Participants: participants})
		h.broadcastLocked(from, message.Envelope{Type: message.UserJoined, UserID: env.UserID})
	case message.LeaveRoom:
		h.removeLocked(from)
	case message.Offer, message.Answer, message.ICECandidate:
		if !h.isMemberLocked(from) {
			return
		}
		fwd := env
		fwd.UserID = ""
		fwd.RoomID = ""
		h.broadcastLocked(from, fwd)
	}
}

// disconnect drops from's membership as the relay does when its socket goes away.
func (h *fakeHub) disconnect(from *fakeSignaler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(from)
}

func (h *fakeHub) isMemberLocked(s *fakeSignaler) bool {
	for _, m := range h.members {
		if m == s {
			return true
		}
	}
	return false
}

func (h *fakeHub) removeLocked(s *fakeSignaler) {
	for i, m := range h.members {
		if m == s {
			h.members = append(h.members[:i], h.members[i+1:]...)
			h.broadcastLocked(s, message.Envelope{Type: message.UserLeft, UserID: s.userID()})
			return
		}
	}
}

func (h *fakeHub) broadcastLocked(from *fakeSignaler, env message.Envelope) {
	for _, m := range h.members {
		if m != from {
			m.deliver(env)
		}
	}
}

// fakeSignaler connects immediately when asked to.
type fakeSignaler struct {
	hub *fakeHub

	mu       sync.Mutex
	id       string
	status   signaling.Status
	onMsg    func(message.Envelope)
	onStatus func(signaling.StatusEvent)
	connects int
	retries  int
	sent     []message.Envelope
}

func newFakeSignaler(hub *fakeHub) *fakeSignaler {
	return &fakeSignaler{hub: hub}
}

func (s *fakeSignaler) Connect() {
	s.mu.Lock()
	s.connects++
	connected := s.status == signaling.Connected
	s.mu.Unlock()
	if !connected {
		s.setStatus(signaling.Connected)
	}
}

func (s *fakeSignaler) Retry() {
	s.mu.Lock()
	s.retries++
	s.mu.Unlock()
	s.setStatus(signaling.Connected)
}

func (s *fakeSignaler) Close() {
	s.hub.disconnect(s)
	s.setStatus(signaling.Disconnected)
}

func (s *fakeSignaler) Send(env message.Envelope) {
	s.mu.Lock()
	connected := s.status == signaling.Connected
	if connected {
		s.sent = append(s.sent, env)
	}
	s.mu.Unlock()
	if connected {
		s.hub.route(s, env)
	}
}

func (s *fakeSignaler) Status() signaling.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSignaler) OnMessage(h func(message.Envelope)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMsg = h
}

func (s *fakeSignaler) OnStatusChange(h func(signaling.StatusEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = h
}

// drop simulates losing the relay socket with the given resulting status.
func (s *fakeSignaler) drop(status signaling.Status) {
	s.hub.disconnect(s)
	s.setStatus(status)
}

func (s *fakeSignaler) setStatus(status signaling.Status) {
	s.mu.Lock()
	s.status = status
	h := s.onStatus
	s.mu.Unlock()
	if h != nil {
		h(signaling.StatusEvent{Status: status})
	}
}

func (s *fakeSignaler) deliver(env message.Envelope) {
	s.mu.Lock()
	h := s.onMsg
	s.mu.Unlock()
	if h != nil {
		h(env)
	}
}

func (s *fakeSignaler) setUserID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
}

func (s *fakeSignaler) userID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *fakeSignaler) sentCount(typ message.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, env := range s.sent {
		if env.Type == typ {
			n++
		}
	}
	return n
}

func (s *fakeSignaler) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// fakeTrack counts Stop calls.
type fakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    media.Kind
	enabled bool
	stops   int
}

func (t *fakeTrack) ID() string       { return t.id }
func (t *fakeTrack) Kind() media.Kind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
}

func (t *fakeTrack) Local() webrtc.TrackLocal { return nil }

func (t *fakeTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// fakeProvider hands out fakeTracks. A non-nil gate blocks capture until
// it is closed.
type fakeProvider struct {
	mu     sync.Mutex
	err    error
	gate   chan struct{}
	tracks []*fakeTrack
}

func (p *fakeProvider) GetUserMedia(ctx context.Context, constraints media.Constraints) ([]media.Track, error) {
	p.mu.Lock()
	gate, err := p.gate, p.err
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var out []media.Track
	if constraints.Audio {
		t := &fakeTrack{id: "audio", kind: media.Audio, enabled: true}
		p.tracks = append(p.tracks, t)
		out = append(out, t)
	}
	if constraints.Video.Enabled {
		t := &fakeTrack{id: "video", kind: media.Video, enabled: true}
		p.tracks = append(p.tracks, t)
		out = append(out, t)
	}
	return out, nil
}

func (p *fakeProvider) captured() []*fakeTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*fakeTrack{}, p.tracks...)
}

var errRemoteNotSet = errors.New("remote description not set")

// fakeConn reports Connected once both descriptions are set and emits one
// local candidate after the local description.
type fakeConn struct {
	mu        sync.Mutex
	gate      chan struct{}
	local     *webrtc.SessionDescription
	remote    *webrtc.SessionDescription
	added     []webrtc.ICECandidateInit
	tracks    []media.Track
	closes    int
	connected bool
	onCand    func(webrtc.ICECandidateInit)
	onState   func(webrtc.PeerConnectionState)
	onTrack   func(peer.RemoteTrack)
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (c *fakeConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	c.local = &desc
	h := c.onCand
	c.mu.Unlock()
	if h != nil {
		h(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"})
	}
	c.maybeConnect()
	return nil
}

func (c *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	c.remote = &desc
	c.mu.Unlock()
	c.maybeConnect()
	return nil
}

func (c *fakeConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return errRemoteNotSet
	}
	c.added = append(c.added, candidate)
	return nil
}

func (c *fakeConn) AddTrack(track media.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, track)
	return nil
}

func (c *fakeConn) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCand = f
}

func (c *fakeConn) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = f
}

func (c *fakeConn) OnTrack(f func(peer.RemoteTrack)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = f
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) maybeConnect() {
	c.mu.Lock()
	ready := c.local != nil && c.remote != nil && !c.connected && c.closes == 0
	if ready {
		c.connected = true
	}
	h := c.onState
	c.mu.Unlock()
	if ready && h != nil {
		h(webrtc.PeerConnectionStateConnected)
	}
}

// fail reports a transport failure.
func (c *fakeConn) fail() {
	c.mu.Lock()
	h := c.onState
	c.mu.Unlock()
	h(webrtc.PeerConnectionStateFailed)
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) hasLocal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local != nil
}

func (c *fakeConn) hasRemote() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote != nil
}

func (c *fakeConn) addedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.added)
}

// fakeFactory records every connection it creates.
type fakeFactory struct {
	mu    sync.Mutex
	gate  chan struct{}
	conns []*fakeConn
}

func (f *fakeFactory) NewConnection() (peer.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConn{gate: f.gate}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

func (f *fakeFactory) all() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn{}, f.conns...)
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}
