// Package controller runs the relay protocol on each websocket.
package controller

import (
	"context"

	"peercall/pkg/socket"
)

// Peer describes the remote end of a relay socket.
type Peer struct {
	RemoteAddr string

	// Subject is the authenticated token subject, empty without auth.
	Subject string
}

// Controller serves relay sockets.
//
//go:generate mockgen -destination=mock_controller.go -package=controller . Controller
type Controller interface {
	Process(ctx context.Context, s socket.Socket, peer Peer) error
	Close()
}
