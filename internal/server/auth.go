package server

import (
	"context"
	"net/http"
	"strings"
)

type clientKey struct{}

// authenticate requires a known bearer key when API clients are configured.
func (s *Server) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			next(w, r)
			return
		}

		apiKey, ok := parseBearerToken(r.Header.Get("Authorization"))
		if !ok || apiKey == "" {
			writeError(w, http.StatusUnauthorized, "Invalid or missing API key", "authentication_error")
			return
		}
		client, ok := s.auth.Lookup(apiKey)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Invalid API key", "authentication_error")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), clientKey{}, client.ID)))
	}
}

func clientFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientKey{}).(string)
	return id
}

// parseBearerToken extracts the token from an Authorization header.
func parseBearerToken(h string) (string, bool) {
	parts := strings.Fields(h)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}
