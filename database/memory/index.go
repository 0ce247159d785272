package memory

import "github.com/hashicorp/go-memdb"

const (
	tblRooms        = "rooms"
	tblParticipants = "participants"
	tblConnections  = "connections"
)

const (
	idxRoomID                = "id"
	idxParticipantID         = "id"
	idxParticipantRoomID     = "room_id"
	idxParticipantConnection = "connection_id"
	idxConnID                = "id"
)

// schema is the schema of the memory database.
var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblRooms: {
			Name: tblRooms,
			Indexes: map[string]*memdb.IndexSchema{
				idxRoomID: {
					Name:    idxRoomID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		},
		tblParticipants: {
			Name: tblParticipants,
			Indexes: map[string]*memdb.IndexSchema{
				idxParticipantID: {
					Name:   idxParticipantID,
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "RoomID"},
							&memdb.StringFieldIndex{Field: "ID"},
						},
					},
				},
				idxParticipantRoomID: {
					Name:    idxParticipantRoomID,
					Unique:  false,
					Indexer: &memdb.StringFieldIndex{Field: "RoomID"},
				},
				idxParticipantConnection: {
					Name:    idxParticipantConnection,
					Unique:  false,
					Indexer: &memdb.StringFieldIndex{Field: "ConnectionID"},
				},
			},
		},
		tblConnections: {
			Name: tblConnections,
			Indexes: map[string]*memdb.IndexSchema{
				idxConnID: {
					Name:    idxConnID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		},
	},
}
