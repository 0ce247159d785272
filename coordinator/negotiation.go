package coordinator

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"peercall/ice"
	"peercall/peer"
	"peercall/types/message"
)

// handlePeerAppeared starts an attempt with userID when the coordinator is
// waiting in the room. The role is fixed here and never changes during the
// attempt.
func (c *Coordinator) handlePeerAppeared(userID string) {
	if userID == "" || userID == c.conf.UserID {
		return
	}
	if c.state.Phase != PhaseWaiting || c.state.PeerID != "" {
		if userID != c.state.PeerID {
			c.logger.Info("ignoring additional participant", "participant", userID, "peer", c.state.PeerID)
		}
		return
	}

	c.state.PeerID = userID
	c.state.Offerer = IsOfferer(c.conf.UserID, userID)
	c.logger.Info("peer appeared", "peer", userID, "offerer", c.state.Offerer)

	if err := c.newConnection(); err != nil {
		c.failAttempt(err)
		return
	}

	if !c.state.Offerer {
		c.state.Phase = PhaseAnswering
		c.state.Call = CallAwaitingOffer
		return
	}

	c.state.Phase = PhaseOffering
	c.state.Call = CallCreatingOffer
	gen, conn := c.gen, c.conn
	go func() {
		offer, err := conn.CreateOffer()
		if err == nil {
			err = conn.SetLocalDescription(offer)
		}
		c.mailbox.post(func() { c.handleOfferReady(gen, conn, offer, err) })
	}()
}

func (c *Coordinator) newConnection() error {
	conn, err := c.factory.NewConnection()
	if err != nil {
		return fmt.Errorf("creating connection: %w", err)
	}
	for _, t := range c.media.Tracks() {
		if err := conn.AddTrack(t); err != nil {
			_ = conn.Close()
			return fmt.Errorf("adding %s track: %w", t.Kind(), err)
		}
	}

	conn.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		c.mailbox.post(func() { c.handleLocalCandidate(conn, cand) })
	})
	conn.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.mailbox.post(func() { c.handleConnectionState(conn, s) })
	})
	conn.OnTrack(func(t peer.RemoteTrack) {
		c.mailbox.post(func() {
			if conn == c.conn {
				c.publishRemoteTrack(t)
			}
		})
	})

	c.conn = conn
	c.buf = ice.NewBuffer(conn, c.metric)
	return nil
}

// stale reports whether a worker result belongs to an attempt that has since
// been torn down or replaced.
func (c *Coordinator) stale(gen uint64, conn peer.Connection) bool {
	return gen != c.gen || conn != c.conn
}

func (c *Coordinator) handleOfferReady(gen uint64, conn peer.Connection, offer webrtc.SessionDescription, err error) {
	if c.stale(gen, conn) {
		c.logger.Debug("dropping stale offer")
		return
	}
	defer c.publishStatus()
	if err != nil {
		c.failAttempt(fmt.Errorf("creating offer: %w", err))
		return
	}

	desc := message.DescriptionFromPion(offer)
	c.send(message.Envelope{Type: message.Offer, RoomID: c.conf.RoomID, UserID: c.conf.UserID, Offer: desc})
	c.state.Call = CallAwaitingAnswer
}

func (c *Coordinator) handleOffer(env message.Envelope) {
	from := env.FromUserID
	if c.state.Phase == PhaseWaiting && c.state.PeerID == "" {
		// The offer overtook the membership notice.
		c.handlePeerAppeared(from)
	}

	if from != c.state.PeerID {
		c.logger.Info("discarding offer from unknown participant", "from", from)
		return
	}
	if c.state.Offerer {
		c.logger.Info("discarding offer, local side makes the offer", "from", from)
		return
	}
	if c.state.Phase != PhaseAnswering || c.state.Call != CallAwaitingOffer {
		c.logger.Info("discarding unexpected offer", "phase", c.state.Phase, "call", c.state.Call)
		return
	}

	desc, err := env.Offer.ToPion()
	if err != nil {
		c.logger.Warn("discarding malformed offer", "err", err)
		return
	}

	c.state.Call = CallCreatingAnswer
	c.applyRemote(desc, true)
}

func (c *Coordinator) handleAnswer(env message.Envelope) {
	if env.FromUserID != c.state.PeerID || c.state.Phase != PhaseOffering || c.state.Call != CallAwaitingAnswer {
		c.logger.Info("discarding unexpected answer", "from", env.FromUserID, "phase", c.state.Phase, "call", c.state.Call)
		return
	}

	desc, err := env.Answer.ToPion()
	if err != nil {
		c.logger.Warn("discarding malformed answer", "err", err)
		return
	}
	c.applyRemote(desc, false)
}

func (c *Coordinator) applyRemote(desc webrtc.SessionDescription, answer bool) {
	gen, conn := c.gen, c.conn
	go func() {
		err := conn.SetRemoteDescription(desc)
		c.mailbox.post(func() { c.handleRemoteApplied(gen, conn, answer, err) })
	}()
}

func (c *Coordinator) handleRemoteApplied(gen uint64, conn peer.Connection, answer bool, err error) {
	if c.stale(gen, conn) {
		return
	}
	defer c.publishStatus()
	if err != nil {
		c.failAttempt(fmt.Errorf("applying remote description: %w", err))
		return
	}

	c.state.RemoteDescriptionSet = true
	c.buf.Flush()

	if !answer {
		if c.state.Call != CallActive {
			c.state.Call = CallConnecting
		}
		return
	}

	go func() {
		ans, err := conn.CreateAnswer()
		if err == nil {
			err = conn.SetLocalDescription(ans)
		}
		c.mailbox.post(func() { c.handleAnswerReady(gen, conn, ans, err) })
	}()
}

func (c *Coordinator) handleAnswerReady(gen uint64, conn peer.Connection, answer webrtc.SessionDescription, err error) {
	if c.stale(gen, conn) {
		c.logger.Debug("dropping stale answer")
		return
	}
	defer c.publishStatus()
	if err != nil {
		c.failAttempt(fmt.Errorf("creating answer: %w", err))
		return
	}

	desc := message.DescriptionFromPion(answer)
	c.send(message.Envelope{Type: message.Answer, RoomID: c.conf.RoomID, UserID: c.conf.UserID, Answer: desc})
	if c.state.Call != CallActive {
		c.state.Call = CallConnecting
	}
}

func (c *Coordinator) handleRemoteCandidate(env message.Envelope) {
	if c.state.Phase == PhaseWaiting && c.state.PeerID == "" {
		c.handlePeerAppeared(env.FromUserID)
	}
	if env.FromUserID != c.state.PeerID || c.buf == nil {
		c.logger.Debug("discarding candidate", "from", env.FromUserID)
		return
	}
	c.buf.Offer(env.Candidate.ToPion())
}

func (c *Coordinator) handleLocalCandidate(conn peer.Connection, cand webrtc.ICECandidateInit) {
	if conn != c.conn {
		return
	}
	candidate := message.CandidateFromPion(cand)
	c.send(message.Envelope{Type: message.ICECandidate, RoomID: c.conf.RoomID, UserID: c.conf.UserID, Candidate: candidate})
}

func (c *Coordinator) handleConnectionState(conn peer.Connection, s webrtc.PeerConnectionState) {
	if conn != c.conn {
		return
	}
	c.logger.Debug("connection state", "state", s.String())

	switch s {
	case webrtc.PeerConnectionStateConnected:
		if c.state.Phase == PhaseActive {
			return
		}
		c.state.Phase = PhaseActive
		c.state.Call = CallActive
		c.metric.IncCalls("active")
		c.logger.Info("call active", "peer", c.state.PeerID)
		c.publishStatus()
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		c.endAttempt()
	}
}

// failAttempt abandons the current negotiation and waits for the next peer.
func (c *Coordinator) failAttempt(err error) {
	c.logger.Error("negotiation failed", "peer", c.state.PeerID, "err", err)
	c.metric.IncCalls("failed")
	c.resetAttempt()
	if c.state.Room == RoomJoined {
		c.state.Phase = PhaseWaiting
	} else {
		c.state.Phase = PhaseAwaitingRoom
	}
}
