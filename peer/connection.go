package peer

import (
	"github.com/pion/webrtc/v4"

	"peercall/media"
)

// RemoteTrack is a track received from the remote participant.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     media.Kind
	Codec    string
	Track    *webrtc.TrackRemote
}

// Connection is one peer connection. Local tracks are attached but never
// stopped by the connection.
type Connection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track media.Track) error
	OnICECandidate(f func(candidate webrtc.ICECandidateInit))
	OnConnectionStateChange(f func(state webrtc.PeerConnectionState))
	OnTrack(f func(track RemoteTrack))
	Close() error
}

// Factory creates connections.
type Factory interface {
	NewConnection() (Connection, error)
}
