// Package database provides an interface for the relay's membership store.
package database

import (
	"errors"
	"fmt"
)

var (
	// ErrRoomNotFound is returned when the room is not found.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomFull is returned when the room has no free place.
	ErrRoomFull = errors.New("room is full")

	// ErrParticipantAlreadyExists is returned when the participant already joined with the same connection.
	ErrParticipantAlreadyExists = errors.New("participant already exists")

	// ErrParticipantNotFound is returned when the participant is not found.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrConnectionAlreadyExists is returned when the connection already exists.
	ErrConnectionAlreadyExists = errors.New("connection already exists")

	// ErrConnectionNotFound is returned when the connection is not found.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrInvalidCapacity is returned when the room capacity is negative.
	ErrInvalidCapacity = errors.New("invalid room capacity")
)

// Config is the configuration of the membership store.
type Config struct {
	// MaxParticipants caps the members of a room. Zero means unlimited.
	MaxParticipants int
}

// Validate validates the capacity.
func (c Config) Validate() error {
	if c.MaxParticipants < 0 {
		return fmt.Errorf("must not be negative, given %d: %w", c.MaxParticipants, ErrInvalidCapacity)
	}
	return nil
}

// Database is an interface for membership operations.
type Database interface {
	CreateConnectionInfo(connectionID, remoteAddr, subject string) (*ConnectionInfo, error)
	FindConnectionInfoByID(connectionID string) (*ConnectionInfo, error)
	DeleteConnectionInfoByID(connectionID string) error

	FindRoomInfoByID(roomID string) (*RoomInfo, error)

	CreateParticipantInfo(roomID, userID, connectionID string) (*ParticipantInfo, error)
	FindParticipantInfoByID(roomID, userID string) (*ParticipantInfo, error)
	FindParticipantInfosByRoom(roomID string) ([]*ParticipantInfo, error)
	FindParticipantInfosByConnection(connectionID string) ([]*ParticipantInfo, error)
	DeleteParticipantInfoByID(roomID, userID string) error
}
