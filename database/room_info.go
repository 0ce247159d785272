package database

import "time"

// RoomInfo is a struct for room information. A room exists while it has members.
type RoomInfo struct {
	ID        string
	Members   int
	CreatedAt time.Time
}

// IsFull reports whether another member would exceed max. Zero max is unlimited.
func (r *RoomInfo) IsFull(max int) bool {
	return max > 0 && r.Members >= max
}

// DeepCopy creates a deep copy of the given RoomInfo.
func (r *RoomInfo) DeepCopy() *RoomInfo {
	return &RoomInfo{
		ID:        r.ID,
		Members:   r.Members,
		CreatedAt: r.CreatedAt,
	}
}
