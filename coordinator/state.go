package coordinator

import "peercall/signaling"

// Phase is the coordinator state machine position.
type Phase int

// Coordinator phases.
const (
	PhaseIdle Phase = iota
	PhaseAwaitingRoom
	PhaseWaiting
	PhaseOffering
	PhaseAnswering
	PhaseActive
	PhaseEnded
)

func (p Phase) String() string {
	names := [...]string{"idle", "awaiting-room", "waiting", "offering", "answering", "active", "ended"}
	if p < 0 || int(p) >= len(names) {
		return "unknown"
	}
	return names[p]
}

// RoomStatus is the membership of the configured room.
type RoomStatus int

// Room membership states.
const (
	RoomNotJoined RoomStatus = iota
	RoomJoining
	RoomJoined
)

func (r RoomStatus) String() string {
	names := [...]string{"not-joined", "joining", "joined"}
	if r < 0 || int(r) >= len(names) {
		return "unknown"
	}
	return names[r]
}

// CallStatus is the negotiation progress of the current attempt.
type CallStatus int

// Call states. CallConnecting is the answered or answer-applied state that
// waits for the transport to connect.
const (
	CallIdle CallStatus = iota
	CallAwaitingOffer
	CallCreatingOffer
	CallAwaitingAnswer
	CallCreatingAnswer
	CallConnecting
	CallActive
	CallEnded
)

func (c CallStatus) String() string {
	names := [...]string{"idle", "awaiting-offer", "creating-offer", "awaiting-answer", "creating-answer", "connecting", "active", "ended"}
	if c < 0 || int(c) >= len(names) {
		return "unknown"
	}
	return names[c]
}

// Status strings reported to the UI.
const (
	StatusIdle                 = "idle"
	StatusRequestingMedia      = "requesting media"
	StatusMediaDenied          = "media access denied"
	StatusConnecting           = "connecting"
	StatusReconnecting         = "reconnecting"
	StatusSignalingUnavailable = "signaling unavailable"
	StatusJoiningRoom          = "joining room"
	StatusWaitingForPeer       = "waiting for peer"
	StatusWaitingForOffer      = "waiting for offer"
	StatusSendingOffer         = "sending offer"
	StatusWaitingForAnswer     = "waiting for answer"
	StatusAnswering            = "answering"
	StatusConnectingCall       = "connecting call"
	StatusCallActive           = "call active"
	StatusCallEnded            = "call ended"
)

// SessionState is a snapshot of the coordinator state.
type SessionState struct {
	Phase                Phase
	Relay                signaling.Status
	Room                 RoomStatus
	Call                 CallStatus
	PeerID               string
	Offerer              bool
	RemoteDescriptionSet bool
	PendingCandidates    int
}

// IsOfferer reports whether the participant local makes the offer to remote.
// Both sides evaluate it with their own and the other's id and agree.
func IsOfferer(local, remote string) bool {
	return local < remote
}

// status derives the UI status string. idle is the outcome shown while no
// call is in progress.
func (s SessionState) status(idle string, acquiring bool) string {
	switch s.Phase {
	case PhaseIdle:
		return idle
	case PhaseEnded:
		return StatusCallEnded
	}

	switch s.Relay {
	case signaling.Failed:
		return StatusSignalingUnavailable
	case signaling.Reconnecting:
		return StatusReconnecting
	}

	switch {
	case s.Phase == PhaseActive:
		return StatusCallActive
	case acquiring:
		return StatusRequestingMedia
	case s.Relay != signaling.Connected:
		return StatusConnecting
	}

	switch s.Phase {
	case PhaseAwaitingRoom:
		return StatusJoiningRoom
	case PhaseWaiting:
		return StatusWaitingForPeer
	}

	switch s.Call {
	case CallCreatingOffer:
		return StatusSendingOffer
	case CallAwaitingAnswer:
		return StatusWaitingForAnswer
	case CallAwaitingOffer:
		return StatusWaitingForOffer
	case CallCreatingAnswer:
		return StatusAnswering
	default:
		return StatusConnectingCall
	}
}
