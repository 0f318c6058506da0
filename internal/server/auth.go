package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/corpus-go/internal/logging"
)

// authMiddleware requires "Authorization: Bearer <apiKey>" on protected
// routes. An empty apiKey disables the check; New logs a warning once.
// Token values are never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		switch {
		case token == "":
			logging.FromContext(r.Context()).Warn("auth: missing bearer token")
			unauthorized(w, r, `Bearer realm="corpus"`, "authorization required")
		case subtle.ConstantTimeCompare([]byte(token), want) != 1:
			logging.FromContext(r.Context()).Warn("auth: invalid token", slog.Bool("token_present", true))
			unauthorized(w, r, `Bearer realm="corpus", error="invalid_token"`, "invalid token")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, challenge, msg string) {
	w.Header().Set("WWW-Authenticate", challenge)
	writeError(r.Context(), w, http.StatusUnauthorized, errorResponse{Error: msg})
}

// bearerToken returns the token of a Bearer Authorization header, or "".
// The scheme is matched case-insensitively.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
