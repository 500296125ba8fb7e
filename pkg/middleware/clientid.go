// Package middleware carries per-request identity through the handler chain.
package middleware

import (
	"context"
	"net"
	"net/http"
)

type contextKey string

const clientIDKey contextKey = "client_id"

// WithClientID resolves the caller's identity once per request and stores
// it in the request context. The X-Client-ID header wins; anonymous
// callers are identified by their remote host so downstream admission and
// rate limiting still have a stable key.
func WithClientID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Client-ID")
		if id == "" {
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				id = host
			} else {
				id = r.RemoteAddr
			}
		}
		ctx := context.WithValue(r.Context(), clientIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientID returns the identity resolved by WithClientID, or "" when the
// middleware did not run.
func ClientID(r *http.Request) string {
	if id, ok := r.Context().Value(clientIDKey).(string); ok {
		return id
	}
	return ""
}
