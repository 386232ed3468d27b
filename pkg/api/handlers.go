package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/gateway"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/traefik"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeGatewayError maps gateway errors to a status and a generic message.
// Rejections never say which policy or allow-list entry failed.
func (s *server) writeGatewayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrMalformedInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{"bad request"})
	case errors.Is(err, gateway.ErrServiceNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{"service not found"})
	case errors.Is(err, gateway.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorResponse{"unauthorized"})
	case errors.Is(err, gateway.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{"forbidden"})
	case errors.Is(err, gateway.ErrNoPolicy):
		writeJSON(w, http.StatusConflict,
			errorResponse{"no matching security policy"})
	case errors.Is(err, gateway.ErrSSODisabled):
		writeJSON(w, http.StatusNotFound, errorResponse{"sso is not configured"})
	case errors.Is(err, gateway.ErrUpstreamFailure):
		s.log.WithError(err).Warn("Identity provider call failed")
		writeJSON(w, http.StatusBadGateway,
			errorResponse{"identity provider error"})
	default:
		s.log.WithError(err).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})
	}
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

const placeholderPage = `<!DOCTYPE html>
<html>
<head><title>Certificate placeholder</title></head>
<body><p>This host is reserved. Nothing is served here yet.</p></body>
</html>
`

// handlePlaceholder serves the page behind the certificate trigger routers.
func (s *server) handlePlaceholder(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte(placeholderPage))
}

// handleTraefikConfig renders the dynamic configuration for Traefik's HTTP
// provider.
func (s *server) handleTraefikConfig(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))

	switch format {
	case "", traefik.FormatJSON, traefik.FormatYAML, "yml":
	default:
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"unsupported format"})

		return
	}

	result, err := s.generator.Generate(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to generate traefik config")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	body, contentType, err := traefik.Render(result.Config, format)
	if err != nil {
		s.log.WithError(err).Error("Failed to render traefik config")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write(body)
}
