package signal_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peercall/database"
	"peercall/pkg/socket"
	"peercall/signal"
	"peercall/types/message"
)

const secret = "test-secret"

func newRelay(t *testing.T, conf signal.Config) string {
	t.Helper()
	if conf.Port == 0 {
		conf.Port = signal.DefaultPort
	}
	srv := httptest.NewServer(signal.New(conf, nil).Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + signal.DefaultPath
}

func dial(t *testing.T, url string, header http.Header) socket.Socket {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := socket.WebSocketDialer{}.Dial(ctx, url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func read(t *testing.T, s socket.Socket) message.Envelope {
	t.Helper()
	var env message.Envelope
	require.NoError(t, s.ReadJSON(&env))
	return env
}

func join(t *testing.T, s socket.Socket, room, user string) message.Envelope {
	t.Helper()
	require.NoError(t, s.WriteJSON(message.Envelope{Type: message.JoinRoom, RoomID: room, UserID: user}))
	env := read(t, s)
	require.Equal(t, message.JoinedRoom, env.Type)
	return env
}

func token(t *testing.T, subject string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject}).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestRelayRoom(t *testing.T) {
	url := newRelay(t, signal.Config{})

	a := dial(t, url, nil)
	joined := join(t, a, "room", "aaa")
	assert.Empty(t, joined.Participants)

	b := dial(t, url, nil)
	joined = join(t, b, "room", "bbb")
	assert.Equal(t, []string{"aaa"}, joined.Participants)

	env := read(t, a)
	assert.Equal(t, message.UserJoined, env.Type)
	assert.Equal(t, "bbb", env.UserID)

	// Negotiation messages go to the other member with the sender attached.
	require.NoError(t, a.WriteJSON(message.Envelope{
		Type:   message.Offer,
		RoomID: "room",
		Offer:  &message.SessionDescription{Type: "offer", SDP: "v=0"},
	}))
	env = read(t, b)
	assert.Equal(t, message.Offer, env.Type)
	assert.Equal(t, "aaa", env.FromUserID)
	require.NotNil(t, env.Offer)
	assert.Equal(t, "v=0", env.Offer.SDP)

	require.NoError(t, b.WriteJSON(message.Envelope{
		Type:      message.ICECandidate,
		RoomID:    "room",
		Candidate: &message.Candidate{Candidate: "candidate:1 1 udp 1 10.0.0.2 5000 typ host"},
	}))
	env = read(t, a)
	assert.Equal(t, message.ICECandidate, env.Type)
	assert.Equal(t, "bbb", env.FromUserID)

	// Closing a socket removes its membership.
	require.NoError(t, b.Close())
	env = read(t, a)
	assert.Equal(t, message.UserLeft, env.Type)
	assert.Equal(t, "bbb", env.UserID)

	c := dial(t, url, nil)
	joined = join(t, c, "room", "ccc")
	assert.Equal(t, []string{"aaa"}, joined.Participants)
}

func TestRelayLeaveRoom(t *testing.T) {
	url := newRelay(t, signal.Config{})
	a := dial(t, url, nil)
	join(t, a, "room", "aaa")
	b := dial(t, url, nil)
	join(t, b, "room", "bbb")
	assert.Equal(t, message.UserJoined, read(t, a).Type)

	require.NoError(t, b.WriteJSON(message.Envelope{Type: message.LeaveRoom, RoomID: "room", UserID: "bbb"}))
	env := read(t, a)
	assert.Equal(t, message.UserLeft, env.Type)
	assert.Equal(t, "bbb", env.UserID)

	// A socket cannot remove someone else.
	require.NoError(t, b.WriteJSON(message.Envelope{Type: message.LeaveRoom, RoomID: "room", UserID: "aaa"}))
	assert.Equal(t, message.Error, read(t, b).Type)
}

func TestRelayErrors(t *testing.T) {
	tests := []struct {
		name string
		send any
	}{
		{name: "given unknown type when sent then reply error", send: map[string]string{"type": "bogus"}},
		{name: "given join without user when sent then reply error", send: message.Envelope{Type: message.JoinRoom, RoomID: "room"}},
		{name: "given offer outside a room when sent then reply error", send: message.Envelope{
			Type: message.Offer, RoomID: "room", Offer: &message.SessionDescription{Type: "offer", SDP: "v=0"},
		}},
		{name: "given relay-only type when sent then reply error", send: message.Envelope{Type: message.UserLeft, UserID: "aaa"}},
	}
	url := newRelay(t, signal.Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := dial(t, url, nil)
			require.NoError(t, s.WriteJSON(tt.send))
			env := read(t, s)
			assert.Equal(t, message.Error, env.Type)
			assert.NotEmpty(t, env.Message)

			// The socket stays usable.
			join(t, s, "room-"+tt.name, "aaa")
		})
	}
}

func TestRelayRoomCapacity(t *testing.T) {
	url := newRelay(t, signal.Config{Database: database.Config{MaxParticipants: 1}})
	a := dial(t, url, nil)
	join(t, a, "room", "aaa")

	b := dial(t, url, nil)
	require.NoError(t, b.WriteJSON(message.Envelope{Type: message.JoinRoom, RoomID: "room", UserID: "bbb"}))
	env := read(t, b)
	assert.Equal(t, message.Error, env.Type)
	assert.Contains(t, env.Message, database.ErrRoomFull.Error())
}

func TestRelayAuth(t *testing.T) {
	url := newRelay(t, signal.Config{JWTSecret: secret})

	t.Run("given no token when dialing then handshake is rejected", func(t *testing.T) {
		_, err := socket.WebSocketDialer{}.Dial(context.Background(), url, nil)
		assert.Error(t, err)
	})

	t.Run("given wrong key when dialing then handshake is rejected", func(t *testing.T) {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "aaa"}).SignedString([]byte("other"))
		require.NoError(t, err)
		_, err = socket.WebSocketDialer{}.Dial(context.Background(), url, http.Header{"Authorization": {"Bearer " + signed}})
		assert.Error(t, err)
	})

	t.Run("given bearer token when joining as subject then joined", func(t *testing.T) {
		s := dial(t, url, http.Header{"Authorization": {"Bearer " + token(t, "aaa")}})
		join(t, s, "room", "aaa")
	})

	t.Run("given query token when joining as another user then reply error", func(t *testing.T) {
		s := dial(t, url+"?token="+token(t, "bbb"), nil)
		require.NoError(t, s.WriteJSON(message.Envelope{Type: message.JoinRoom, RoomID: "room", UserID: "ccc"}))
		assert.Equal(t, message.Error, read(t, s).Type)
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  signal.Config
		wantErr error
	}{
		{name: "given default port when validated then return nil", config: signal.Config{Port: signal.DefaultPort}},
		{name: "given zero port when validated then return error", config: signal.Config{Port: 0}, wantErr: signal.ErrInvalidPort},
		{name: "given missing cert file when validated then return error", config: signal.Config{Port: 8080, CertFile: "/nonexistent.crt", KeyFile: "/nonexistent.key"}, wantErr: signal.ErrInvalidCertFile},
		{name: "given negative capacity when validated then return error", config: signal.Config{Port: 8080, Database: database.Config{MaxParticipants: -1}}, wantErr: database.ErrInvalidCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfigIsSame(t *testing.T) {
	base := signal.Config{Port: 7070, JWTSecret: "s"}
	assert.True(t, base.IsSame(signal.Config{Port: 7070, JWTSecret: "s"}))
	assert.False(t, base.IsSame(signal.Config{Port: 7071, JWTSecret: "s"}))
	assert.False(t, base.IsSame(signal.Config{Port: 7070}))
}
