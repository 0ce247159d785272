// Package socket provides an interface for managing socket.
package socket

import (
	"context"
	"net/http"
)

// Socket is an interface for managing socket.
//
//go:generate mockgen -destination=mock_socket.go -package=socket . Socket,Dialer
type Socket interface {
	Close() error
	WriteJSON(data any) error
	ReadJSON(v any) error
}

// Dialer opens client sockets.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Socket, error)
}
