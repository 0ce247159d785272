// Package middleware contains common middleware functions for HTTP handlers.
package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

// Interceptor is a middleware interface.
type Interceptor interface {
	Intercept(handlerFunc http.Handler) http.Handler
}

// Set applies multiple middleware to a handler. The middleware are applied in
// the order they are passed, so the last one sees the request first. For
// example: with Set(h, socket, auth, logger) the request is logged, then
// authenticated, then upgraded.
func Set(h http.Handler, m ...Interceptor) http.Handler {
	for _, i := range m {
		h = i.Intercept(h)
	}
	return h
}

// hijack hijacks the connection of w. This is necessary for using websockets
// behind a wrapped ResponseWriter.
func hijack(w http.ResponseWriter) (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}
