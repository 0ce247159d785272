// Package memory provides an in-memory database implementation.
package memory

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-memdb"

	"peercall/database"
)

// DB is a memory-backed database.
type DB struct {
	db   *memdb.MemDB
	conf database.Config
	seq  atomic.Uint64
}

// New creates a new memory-backed database.
func New(config database.Config) *DB {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		panic(err)
	}
	return &DB{
		db:   db,
		conf: config,
	}
}

// CreateConnectionInfo registers a relay socket.
func (d *DB) CreateConnectionInfo(connectionID, remoteAddr, subject string) (*database.ConnectionInfo, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tblConnections, idxConnID, connectionID)
	if err != nil {
		return nil, fmt.Errorf("find connection by connectionID: %w", err)
	}
	if raw != nil {
		return nil, fmt.Errorf("%s: %w", connectionID, database.ErrConnectionAlreadyExists)
	}

	info := &database.ConnectionInfo{
		ID:         connectionID,
		RemoteAddr: remoteAddr,
		Subject:    subject,
		CreatedAt:  time.Now(),
	}
	if err := txn.Insert(tblConnections, info); err != nil {
		return nil, fmt.Errorf("insert connection: %w", err)
	}
	txn.Commit()
	return info.DeepCopy(), nil
}

// FindConnectionInfoByID finds a connection by its ID.
func (d *DB) FindConnectionInfoByID(connectionID string) (*database.ConnectionInfo, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tblConnections, idxConnID, connectionID)
	if err != nil {
		return nil, fmt.Errorf("find connection by connectionID: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s: %w", connectionID, database.ErrConnectionNotFound)
	}
	return raw.(*database.ConnectionInfo).DeepCopy(), nil
}

// DeleteConnectionInfoByID deletes a connection by its ID.
func (d *DB) DeleteConnectionInfoByID(connectionID string) error {
	txn := d.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tblConnections, idxConnID, connectionID)
	if err != nil {
		return fmt.Errorf("find connection by connectionID: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("%s: %w", connectionID, database.ErrConnectionNotFound)
	}
	if err := txn.Delete(tblConnections, raw); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	txn.Commit()
	return nil
}

// FindRoomInfoByID finds a room by its ID.
func (d *DB) FindRoomInfoByID(roomID string) (*database.RoomInfo, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tblRooms, idxRoomID, roomID)
	if err != nil {
		return nil, fmt.Errorf("find room by roomID: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s: %w", roomID, database.ErrRoomNotFound)
	}
	return raw.(*database.RoomInfo).DeepCopy(), nil
}

// CreateParticipantInfo adds userID to roomID, creating the room on first
// join. A participant joining again from another connection takes the
// membership over.
func (d *DB) CreateParticipantInfo(roomID, userID, connectionID string) (*database.ParticipantInfo, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tblParticipants, idxParticipantID, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("find participant by id: %w", err)
	}
	if raw != nil {
		existing := raw.(*database.ParticipantInfo)
		if existing.OwnedBy(connectionID) {
			return nil, fmt.Errorf("%s in %s: %w", userID, roomID, database.ErrParticipantAlreadyExists)
		}
		info := existing.DeepCopy()
		info.ConnectionID = connectionID
		if err := txn.Insert(tblParticipants, info); err != nil {
			return nil, fmt.Errorf("insert participant: %w", err)
		}
		txn.Commit()
		return info.DeepCopy(), nil
	}

	var room *database.RoomInfo
	raw, err = txn.First(tblRooms, idxRoomID, roomID)
	if err != nil {
		return nil, fmt.Errorf("find room by roomID: %w", err)
	}
	if raw == nil {
		room = &database.RoomInfo{ID: roomID, CreatedAt: time.Now()}
	} else {
		room = raw.(*database.RoomInfo).DeepCopy()
	}
	if room.IsFull(d.conf.MaxParticipants) {
		return nil, fmt.Errorf("%s: %w", roomID, database.ErrRoomFull)
	}
	room.Members++
	if err := txn.Insert(tblRooms, room); err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}

	info := &database.ParticipantInfo{
		ID:           userID,
		RoomID:       roomID,
		ConnectionID: connectionID,
		Seq:          d.seq.Add(1),
		JoinedAt:     time.Now(),
	}
	if err := txn.Insert(tblParticipants, info); err != nil {
		return nil, fmt.Errorf("insert participant: %w", err)
	}
	txn.Commit()
	return info.DeepCopy(), nil
}

// FindParticipantInfoByID finds a participant of a room.
func (d *DB) FindParticipantInfoByID(roomID, userID string) (*database.ParticipantInfo, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tblParticipants, idxParticipantID, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("find participant by id: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s in %s: %w", userID, roomID, database.ErrParticipantNotFound)
	}
	return raw.(*database.ParticipantInfo).DeepCopy(), nil
}

// FindParticipantInfosByRoom returns the members of a room in join order.
func (d *DB) FindParticipantInfosByRoom(roomID string) ([]*database.ParticipantInfo, error) {
	return d.findParticipants(idxParticipantRoomID, roomID)
}

// FindParticipantInfosByConnection returns the memberships served by a connection.
func (d *DB) FindParticipantInfosByConnection(connectionID string) ([]*database.ParticipantInfo, error) {
	return d.findParticipants(idxParticipantConnection, connectionID)
}

func (d *DB) findParticipants(index, value string) ([]*database.ParticipantInfo, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(tblParticipants, index, value)
	if err != nil {
		return nil, fmt.Errorf("find participants by %s: %w", index, err)
	}
	var participants []*database.ParticipantInfo
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		participants = append(participants, raw.(*database.ParticipantInfo).DeepCopy())
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].Seq < participants[j].Seq
	})
	return participants, nil
}

// DeleteParticipantInfoByID removes a participant. The room is removed with
// its last member.
func (d *DB) DeleteParticipantInfoByID(roomID, userID string) error {
	txn := d.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tblParticipants, idxParticipantID, roomID, userID)
	if err != nil {
		return fmt.Errorf("find participant by id: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("%s in %s: %w", userID, roomID, database.ErrParticipantNotFound)
	}
	if err := txn.Delete(tblParticipants, raw); err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}

	raw, err = txn.First(tblRooms, idxRoomID, roomID)
	if err != nil {
		return fmt.Errorf("find room by roomID: %w", err)
	}
	if raw != nil {
		room := raw.(*database.RoomInfo).DeepCopy()
		room.Members--
		if room.Members <= 0 {
			err = txn.Delete(tblRooms, raw)
		} else {
			err = txn.Insert(tblRooms, room)
		}
		if err != nil {
			return fmt.Errorf("update room: %w", err)
		}
	}
	txn.Commit()
	return nil
}
