package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"peercall/broker"
	"peercall/broker/subscription"
	"peercall/database"
	"peercall/metric"
	"peercall/pkg/socket"
	"peercall/types/message"
)

// Below is the Error message for the relay protocol.
var (
	ErrNotInRoom          = errors.New("not a member of the room")
	ErrSubjectMismatch    = errors.New("user id does not match the token subject")
	ErrUnsupportedRequest = errors.New("unsupported request")
)

// Relay handles relay sockets.
type Relay struct {
	broker   broker.Broker
	database database.Database
	metric   *metric.Metrics

	mu      sync.Mutex
	sockets map[string]socket.Socket
}

// New creates a new instance of Relay.
func New(b broker.Broker, db database.Database, m *metric.Metrics) *Relay {
	return &Relay{
		broker:   b,
		database: db,
		metric:   m,
		sockets:  make(map[string]socket.Socket),
	}
}

// Process serves one socket until it is closed. The memberships it holds
// are removed on return and the other members get user-left.
func (c *Relay) Process(ctx context.Context, s socket.Socket, peer Peer) error {
	c.metric.IncrementWebSocketConnections()
	defer c.metric.DecrementWebSocketConnections()

	// 01. Register the connection.
	connID := uuid.NewString()
	logger := slog.Default().With("component", "relay", "conn", connID, "remote", peer.RemoteAddr)
	if _, err := c.database.CreateConnectionInfo(connID, peer.RemoteAddr, peer.Subject); err != nil {
		return fmt.Errorf("register connection: %w", err)
	}
	defer func() {
		if err := c.database.DeleteConnectionInfoByID(connID); err != nil {
			logger.Warn("failed to delete connection", "err", err)
		}
	}()
	c.track(connID, s)
	defer c.untrack(connID)
	logger.Info("relay socket connected")

	// 02. Start the outbound queue of this socket.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	detail := broker.Detail(connID)
	sub := c.broker.Subscribe(broker.ClientSocket, detail)
	defer func() {
		if err := c.broker.Unsubscribe(broker.ClientSocket, detail, sub); err != nil {
			logger.Warn("failed to unsubscribe", "err", err)
		}
	}()
	go c.sendResponse(ctx, cancel, s, sub, logger)

	// 03. Read requests until the socket goes away.
	defer c.leaveAll(connID, logger)
	err := c.receiveRequest(ctx, s, connID, peer, logger)
	if socket.IsCleanClose(err) || websocket.IsCloseError(err, websocket.CloseGoingAway) || ctx.Err() != nil {
		logger.Info("relay socket closed")
		return nil
	}
	return err
}

// Close closes every open socket.
func (c *Relay) Close() {
	c.mu.Lock()
	sockets := make([]socket.Socket, 0, len(c.sockets))
	for _, s := range c.sockets {
		sockets = append(sockets, s)
	}
	c.mu.Unlock()

	for _, s := range sockets {
		_ = s.Close()
	}
}

func (c *Relay) track(connID string, s socket.Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sockets[connID] = s
}

func (c *Relay) untrack(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sockets, connID)
}

// sendResponse writes queued messages to the socket.
func (c *Relay) sendResponse(ctx context.Context, cancel context.CancelFunc, s socket.Socket, sub *subscription.Subscription, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Receive():
			if !ok {
				return
			}
			if err := s.WriteJSON(msg); err != nil {
				logger.Warn("failed to send message", "err", err)
				cancel()
				_ = s.Close()
				return
			}
			if env, ok := msg.(message.Envelope); ok {
				c.metric.IncSignalingMessages("out", string(env.Type))
			}
		}
	}
}

// receiveRequest reads envelopes and calls handleRequest. Malformed input
// is answered with an error envelope.
func (c *Relay) receiveRequest(ctx context.Context, s socket.Socket, connID string, peer Peer, logger *slog.Logger) error {
	for {
		var raw json.RawMessage
		if err := s.ReadJSON(&raw); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				c.replyError(connID, fmt.Errorf("malformed json: %w", err))
				continue
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		env, err := message.Parse(raw)
		if err != nil {
			logger.Debug("invalid envelope", "err", err)
			c.replyError(connID, err)
			continue
		}
		c.metric.IncSignalingMessages("in", string(env.Type))

		if err := c.handleRequest(connID, peer, env, logger); err != nil {
			logger.Warn("failed to handle request", "type", env.Type, "err", err)
			c.replyError(connID, err)
		}
	}
}

// handleRequest parses the request type and calls the corresponding handler.
func (c *Relay) handleRequest(connID string, peer Peer, env message.Envelope, logger *slog.Logger) error {
	switch env.Type {
	case message.JoinRoom:
		return c.handleJoin(connID, peer, env, logger)
	case message.LeaveRoom:
		return c.handleLeave(connID, env, logger)
	case message.Offer, message.Answer, message.ICECandidate:
		return c.handleForward(connID, env)
	default:
		return fmt.Errorf("%s: %w", env.Type, ErrUnsupportedRequest)
	}
}

// handleJoin adds the participant, replies joined-room with the members
// already present and announces the newcomer to them.
func (c *Relay) handleJoin(connID string, peer Peer, env message.Envelope, logger *slog.Logger) error {
	if peer.Subject != "" && peer.Subject != env.UserID {
		return fmt.Errorf("%s: %w", env.UserID, ErrSubjectMismatch)
	}

	// A participant rejoining from a new socket takes its membership over.
	_, err := c.database.FindParticipantInfoByID(env.RoomID, env.UserID)
	isNew := errors.Is(err, database.ErrParticipantNotFound)

	joined := true
	if _, err := c.database.CreateParticipantInfo(env.RoomID, env.UserID, connID); err != nil {
		if !errors.Is(err, database.ErrParticipantAlreadyExists) {
			return fmt.Errorf("join %s: %w", env.RoomID, err)
		}
		joined = false
	}
	members, err := c.database.FindParticipantInfosByRoom(env.RoomID)
	if err != nil {
		return fmt.Errorf("list members of %s: %w", env.RoomID, err)
	}

	participants := make([]string, 0, len(members))
	for _, m := range members {
		if m.ID != env.UserID {
			participants = append(participants, m.ID)
		}
	}
	c.publish(connID, message.Envelope{Type: message.JoinedRoom, RoomID: env.RoomID, Participants: participants})
	if !joined {
		return nil
	}

	if isNew {
		c.metric.AddRoomMembers(1)
	}
	logger.Info("participant joined", "room", env.RoomID, "user", env.UserID, "members", len(members))
	for _, m := range members {
		if m.ID != env.UserID {
			c.publish(m.ConnectionID, message.Envelope{Type: message.UserJoined, RoomID: env.RoomID, UserID: env.UserID})
		}
	}
	return nil
}

func (c *Relay) handleLeave(connID string, env message.Envelope, logger *slog.Logger) error {
	info, err := c.database.FindParticipantInfoByID(env.RoomID, env.UserID)
	if err != nil {
		return fmt.Errorf("leave %s: %w", env.RoomID, err)
	}
	if !info.OwnedBy(connID) {
		return fmt.Errorf("%s in %s: %w", env.UserID, env.RoomID, ErrNotInRoom)
	}
	return c.removeParticipant(info, logger)
}

// handleForward sends a negotiation message to the other members of the
// sender's room with fromUserId set.
func (c *Relay) handleForward(connID string, env message.Envelope) error {
	sender, err := c.senderIn(connID, env.RoomID)
	if err != nil {
		return err
	}
	members, err := c.database.FindParticipantInfosByRoom(sender.RoomID)
	if err != nil {
		return fmt.Errorf("list members of %s: %w", sender.RoomID, err)
	}

	out := message.Envelope{
		Type:       env.Type,
		RoomID:     sender.RoomID,
		Offer:      env.Offer,
		Answer:     env.Answer,
		Candidate:  env.Candidate,
		FromUserID: sender.ID,
	}
	for _, m := range members {
		if m.ID != sender.ID {
			c.publish(m.ConnectionID, out)
		}
	}
	return nil
}

// senderIn finds the membership connID holds in roomID.
func (c *Relay) senderIn(connID, roomID string) (*database.ParticipantInfo, error) {
	infos, err := c.database.FindParticipantInfosByConnection(connID)
	if err != nil {
		return nil, fmt.Errorf("find memberships: %w", err)
	}
	for _, info := range infos {
		if info.RoomID == roomID {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", roomID, ErrNotInRoom)
}

func (c *Relay) leaveAll(connID string, logger *slog.Logger) {
	infos, err := c.database.FindParticipantInfosByConnection(connID)
	if err != nil {
		logger.Warn("failed to find memberships", "err", err)
		return
	}
	for _, info := range infos {
		if err := c.removeParticipant(info, logger); err != nil {
			logger.Warn("failed to remove participant", "user", info.ID, "err", err)
		}
	}
}

func (c *Relay) removeParticipant(info *database.ParticipantInfo, logger *slog.Logger) error {
	if err := c.database.DeleteParticipantInfoByID(info.RoomID, info.ID); err != nil {
		return fmt.Errorf("remove %s: %w", info.ID, err)
	}
	c.metric.AddRoomMembers(-1)
	logger.Info("participant left", "room", info.RoomID, "user", info.ID)

	members, err := c.database.FindParticipantInfosByRoom(info.RoomID)
	if err != nil {
		return fmt.Errorf("list members of %s: %w", info.RoomID, err)
	}
	for _, m := range members {
		c.publish(m.ConnectionID, message.Envelope{Type: message.UserLeft, RoomID: info.RoomID, UserID: info.ID})
	}
	return nil
}

func (c *Relay) replyError(connID string, err error) {
	c.publish(connID, message.Envelope{Type: message.Error, Message: err.Error()})
}

func (c *Relay) publish(connID string, env message.Envelope) {
	if err := c.broker.Publish(broker.ClientSocket, broker.Detail(connID), env); err != nil {
		slog.Debug("dropping message for closed connection", "conn", connID, "type", env.Type, "err", err)
	}
}
