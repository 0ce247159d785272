// Package message provides data types exchanged with the signaling relay.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

// Type is the type of relay envelope.
type Type string

// Client to relay types. Offer, Answer and ICECandidate are also relayed back
// to the counterpart with FromUserID set.
const (
	JoinRoom     Type = "join-room"
	LeaveRoom    Type = "leave-room"
	Offer        Type = "offer"
	Answer       Type = "answer"
	ICECandidate Type = "ice-candidate"
)

// Relay to client types.
const (
	JoinedRoom Type = "joined-room"
	UserJoined Type = "user-joined"
	UserLeft   Type = "user-left"
	Error      Type = "error"
)

// ErrInvalidEnvelope is returned when an envelope misses a field its type requires.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// SessionDescription is the wire form of an offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// DescriptionFromPion converts a pion description into its wire form.
func DescriptionFromPion(desc webrtc.SessionDescription) *SessionDescription {
	return &SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

// ToPion converts the description back to pion. Only offers and answers are accepted.
func (s SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q: %w", s.Type, ErrInvalidEnvelope)
	}
	if s.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("empty sdp: %w", ErrInvalidEnvelope)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// Candidate is the wire form of an ICE candidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// CandidateFromPion converts a pion candidate init into its wire form.
func CandidateFromPion(init webrtc.ICECandidateInit) *Candidate {
	return &Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

// ToPion converts the candidate back to pion.
func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Envelope is a typed relay message. Only the fields relevant to Type are set.
type Envelope struct {
	Type         Type                `json:"type"`
	RoomID       string              `json:"roomId,omitempty"`
	UserID       string              `json:"userId,omitempty"`
	Participants []string            `json:"participants,omitempty"`
	Offer        *SessionDescription `json:"offer,omitempty"`
	Answer       *SessionDescription `json:"answer,omitempty"`
	Candidate    *Candidate          `json:"candidate,omitempty"`
	FromUserID   string              `json:"fromUserId,omitempty"`
	Message      string              `json:"message,omitempty"`
}

// Parse decodes a single envelope and validates it.
func Parse(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("unexpected trailing data: %w", ErrInvalidEnvelope)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks that the fields required by the envelope type are present.
func (e Envelope) Validate() error {
	switch e.Type {
	case JoinRoom, LeaveRoom:
		if e.RoomID == "" || e.UserID == "" {
			return fmt.Errorf("%s missing roomId/userId: %w", e.Type, ErrInvalidEnvelope)
		}
	case JoinedRoom:
		if e.RoomID == "" {
			return fmt.Errorf("%s missing roomId: %w", e.Type, ErrInvalidEnvelope)
		}
	case UserJoined, UserLeft:
		if e.UserID == "" {
			return fmt.Errorf("%s missing userId: %w", e.Type, ErrInvalidEnvelope)
		}
	case Offer:
		if e.Offer == nil {
			return fmt.Errorf("offer missing description: %w", ErrInvalidEnvelope)
		}
		if e.Offer.Type != "offer" {
			return fmt.Errorf("offer has sdp.type=%q: %w", e.Offer.Type, ErrInvalidEnvelope)
		}
	case Answer:
		if e.Answer == nil {
			return fmt.Errorf("answer missing description: %w", ErrInvalidEnvelope)
		}
		if e.Answer.Type != "answer" {
			return fmt.Errorf("answer has sdp.type=%q: %w", e.Answer.Type, ErrInvalidEnvelope)
		}
	case ICECandidate:
		if e.Candidate == nil {
			return fmt.Errorf("ice-candidate missing candidate: %w", ErrInvalidEnvelope)
		}
	case Error:
		if e.Message == "" {
			return fmt.Errorf("error missing message: %w", ErrInvalidEnvelope)
		}
	default:
		return fmt.Errorf("unsupported type %q: %w", e.Type, ErrInvalidEnvelope)
	}
	return nil
}
