package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"peercall/broker"
	"peercall/database/memory"
	"peercall/metric"
	"peercall/signal/controller"
	"peercall/signal/middleware"
)

// Signal contains the server and configuration.
type Signal struct {
	server  *http.Server
	handler http.Handler
	conf    Config
}

// New creates a new instance of Signal.
func New(config Config, m *metric.Metrics) *Signal {
	brk := broker.New()
	db := memory.New(config.Database)
	con := controller.New(brk, db, m)

	ws := middleware.Set(http.NotFoundHandler(),
		middleware.NewSocket(con),
		middleware.NewAuth(config.JWTSecret),
		middleware.NewCORS(),
		middleware.NewLogger(),
	)
	mux := http.NewServeMux()
	mux.Handle(DefaultPath, ws)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		ReadHeaderTimeout: 2 * time.Second,
		Handler:           mux,
	}
	srv.RegisterOnShutdown(con.Close)

	return &Signal{
		server:  srv,
		handler: mux,
		conf:    config,
	}
}

// Handler returns the HTTP handler of the relay.
func (s *Signal) Handler() http.Handler {
	return s.handler
}

// Start runs the signal server until Shutdown is called.
func (s *Signal) Start() error {
	var err error
	if s.conf.CertFile == "" || s.conf.KeyFile == "" {
		slog.Info("starting relay without TLS", "port", s.conf.Port, "path", DefaultPath)
		err = s.server.ListenAndServe()
	} else {
		slog.Info("starting relay with TLS", "port", s.conf.Port, "path", DefaultPath)
		err = s.server.ListenAndServeTLS(s.conf.CertFile, s.conf.KeyFile)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting sockets and closes the open ones.
func (s *Signal) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown relay: %w", err)
	}
	return nil
}
