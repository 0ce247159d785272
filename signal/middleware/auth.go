package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type subjectKey struct{}

// ErrMissingToken is returned when the request carries no token.
var ErrMissingToken = errors.New("missing token")

// Auth validates an HS256 bearer token. Browsers cannot set headers on a
// websocket handshake, so the token query parameter is accepted as well.
// Without a secret every request passes.
type Auth struct {
	secret []byte
}

// NewAuth creates a new Auth middleware.
func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

// Intercept rejects requests without a valid token and stores its subject
// in the request context.
func (a *Auth) Intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.secret) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		subject, err := a.authenticate(r)
		if err != nil {
			slog.Warn("rejecting request", "remote", r.RemoteAddr, "err", err)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, subject)))
	})
}

func (a *Auth) authenticate(r *http.Request) (string, error) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return "", ErrMissingToken
	}

	token, err := jwt.Parse(raw, func(_ *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("read subject: %w", err)
	}
	return subject, nil
}

// Subject returns the token subject stored by Auth.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}
