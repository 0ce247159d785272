package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"peercall/pkg/socket"
	"peercall/signal/controller"
)

// Socket upgrades websocket requests and hands them to the controller.
// Other requests go to the next handler.
type Socket struct {
	controller controller.Controller
}

// NewSocket creates a new Socket middleware.
func NewSocket(con controller.Controller) *Socket {
	return &Socket{
		controller: con,
	}
}

// Intercept processes the request and call the next handler.
func (s *Socket) Intercept(next http.Handler) http.Handler {
	con := s.controller
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		ws, err := socket.New(w, r)
		if err != nil {
			slog.Warn("failed to create websocket", "err", err)
			return
		}
		defer func() {
			if err := ws.Close(); err != nil {
				slog.Debug("failed to close websocket", "err", err)
			}
		}()

		peer := controller.Peer{RemoteAddr: r.RemoteAddr, Subject: Subject(r.Context())}
		if err := con.Process(r.Context(), ws, peer); err != nil {
			slog.Warn("relay socket ended with error", "remote", r.RemoteAddr, "err", err)
		}
	})
}
