package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireAdmin checks the Bearer token against the configured admin token.
func (s *server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || !tokensEqual(token, s.cfg.Auth.AdminToken) {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"authentication required"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireConfigToken guards the Traefik config endpoint when a config
// token is set. The token may come as a query parameter since Traefik's
// HTTP provider cannot always send headers.
func (s *server) requireConfigToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := s.cfg.Traefik.ConfigToken
		if expected == "" {
			next.ServeHTTP(w, r)

			return
		}

		token, ok := bearerToken(r)
		if !ok {
			token = r.URL.Query().Get("token")
		}

		if !tokensEqual(token, expected) {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"invalid config token"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return "", false
	}

	return token, true
}

func tokensEqual(got, want string) bool {
	return got != "" &&
		subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
