package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peercall/database"
	"peercall/database/memory"
)

func TestParticipants(t *testing.T) {
	t.Run("given empty room when participants join then room lists them in join order", func(t *testing.T) {
		db := memory.New(database.Config{})
		_, err := db.CreateParticipantInfo("room", "ccc", "conn-1")
		require.NoError(t, err)
		_, err = db.CreateParticipantInfo("room", "aaa", "conn-2")
		require.NoError(t, err)

		infos, err := db.FindParticipantInfosByRoom("room")
		require.NoError(t, err)
		require.Len(t, infos, 2)
		assert.Equal(t, "ccc", infos[0].ID)
		assert.Equal(t, "aaa", infos[1].ID)

		room, err := db.FindRoomInfoByID("room")
		require.NoError(t, err)
		assert.Equal(t, 2, room.Members)
	})

	t.Run("given same connection when joining twice then return already exists", func(t *testing.T) {
		db := memory.New(database.Config{})
		_, err := db.CreateParticipantInfo("room", "aaa", "conn-1")
		require.NoError(t, err)
		_, err = db.CreateParticipantInfo("room", "aaa", "conn-1")
		assert.ErrorIs(t, err, database.ErrParticipantAlreadyExists)
	})

	t.Run("given new connection when joining again then membership moves", func(t *testing.T) {
		db := memory.New(database.Config{})
		_, err := db.CreateParticipantInfo("room", "aaa", "conn-1")
		require.NoError(t, err)
		info, err := db.CreateParticipantInfo("room", "aaa", "conn-2")
		require.NoError(t, err)
		assert.Equal(t, "conn-2", info.ConnectionID)

		old, err := db.FindParticipantInfosByConnection("conn-1")
		require.NoError(t, err)
		assert.Empty(t, old)

		room, err := db.FindRoomInfoByID("room")
		require.NoError(t, err)
		assert.Equal(t, 1, room.Members)
	})

	t.Run("given capacity when room is full then return room full", func(t *testing.T) {
		db := memory.New(database.Config{MaxParticipants: 2})
		_, err := db.CreateParticipantInfo("room", "aaa", "conn-1")
		require.NoError(t, err)
		_, err = db.CreateParticipantInfo("room", "bbb", "conn-2")
		require.NoError(t, err)
		_, err = db.CreateParticipantInfo("room", "ccc", "conn-3")
		assert.ErrorIs(t, err, database.ErrRoomFull)
	})

	t.Run("given last member when deleted then room is removed", func(t *testing.T) {
		db := memory.New(database.Config{})
		_, err := db.CreateParticipantInfo("room", "aaa", "conn-1")
		require.NoError(t, err)
		require.NoError(t, db.DeleteParticipantInfoByID("room", "aaa"))

		_, err = db.FindRoomInfoByID("room")
		assert.ErrorIs(t, err, database.ErrRoomNotFound)
		assert.ErrorIs(t, db.DeleteParticipantInfoByID("room", "aaa"), database.ErrParticipantNotFound)
	})
}

func TestConnections(t *testing.T) {
	db := memory.New(database.Config{})
	_, err := db.CreateConnectionInfo("conn-1", "127.0.0.1:5000", "")
	require.NoError(t, err)
	_, err = db.CreateConnectionInfo("conn-1", "127.0.0.1:5000", "")
	assert.ErrorIs(t, err, database.ErrConnectionAlreadyExists)

	info, err := db.FindConnectionInfoByID("conn-1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5000", info.RemoteAddr)

	require.NoError(t, db.DeleteConnectionInfoByID("conn-1"))
	_, err = db.FindConnectionInfoByID("conn-1")
	assert.ErrorIs(t, err, database.ErrConnectionNotFound)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, database.Config{}.Validate())
	assert.ErrorIs(t, database.Config{MaxParticipants: -1}.Validate(), database.ErrInvalidCapacity)
}
