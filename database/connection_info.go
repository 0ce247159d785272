package database

import (
	"time"
)

// ConnectionInfo is a struct for a relay websocket connection.
type ConnectionInfo struct {
	ID         string
	RemoteAddr string
	Subject    string
	CreatedAt  time.Time
}

// DeepCopy creates a deep copy of the given ConnectionInfo.
func (c *ConnectionInfo) DeepCopy() *ConnectionInfo {
	return &ConnectionInfo{
		ID:         c.ID,
		RemoteAddr: c.RemoteAddr,
		Subject:    c.Subject,
		CreatedAt:  c.CreatedAt,
	}
}
