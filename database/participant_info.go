package database

import "time"

// ParticipantInfo is a struct for room membership. ConnectionID is the relay
// socket currently serving the participant.
type ParticipantInfo struct {
	ID           string
	RoomID       string
	ConnectionID string
	Seq          uint64
	JoinedAt     time.Time
}

// OwnedBy reports whether the membership belongs to connectionID.
func (p *ParticipantInfo) OwnedBy(connectionID string) bool {
	return p.ConnectionID == connectionID
}

// DeepCopy creates a deep copy of the given ParticipantInfo.
func (p *ParticipantInfo) DeepCopy() *ParticipantInfo {
	return &ParticipantInfo{
		ID:           p.ID,
		RoomID:       p.RoomID,
		ConnectionID: p.ConnectionID,
		Seq:          p.Seq,
		JoinedAt:     p.JoinedAt,
	}
}
