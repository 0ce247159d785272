package middleware

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Logger logs requests and responses.
type Logger struct {
}

type logWriter struct {
	http.ResponseWriter
	statusCode int
}

func (l *logWriter) WriteHeader(code int) {
	l.statusCode = code
	l.ResponseWriter.WriteHeader(code)
}

// Hijack records the protocol switch and hands the connection over.
func (l *logWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	l.statusCode = http.StatusSwitchingProtocols
	return hijack(l.ResponseWriter)
}

// NewLogger creates a new Logger middleware.
func NewLogger() *Logger {
	return &Logger{}
}

// Intercept logs the request and response.
func (l Logger) Intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := logWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(&rw, r)

		attrs := []any{"method", r.Method, "path", r.URL.Path, "status", rw.statusCode, "duration", time.Since(start)}
		if rw.statusCode >= 400 {
			slog.Warn("request failed", attrs...)
		} else {
			slog.Info("request served", attrs...)
		}
	})
}
