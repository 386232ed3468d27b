package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/gateway"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/traefik"
)

// handleVerify answers Traefik's forward-auth call.
func (s *server) handleVerify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	decision, err := s.gateway.Verify(r.Context(), gateway.VerifyRequest{
		ServiceID:    query.Get("serviceId"),
		ConfigID:     query.Get("configId"),
		SessionToken: s.sessionToken(r),
		OriginalURL:  forwardedURL(r),
		AcceptsHTML:  strings.Contains(r.Header.Get("Accept"), "text/html"),
	})
	if err != nil {
		s.writeGatewayError(w, err)

		return
	}

	if decision.Session != nil {
		s.setSessionCookie(w, r, decision.Session)
	}

	if decision.Identity != "" {
		w.Header().Set(traefik.AuthUserHeader, decision.Identity)
	}

	if decision.Status == http.StatusFound {
		http.Redirect(w, r, decision.Location, http.StatusFound)

		return
	}

	w.WriteHeader(http.StatusOK)
}

// forwardedURL rebuilds the client's original request from the headers
// Traefik forwards.
func forwardedURL(r *http.Request) *url.URL {
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = "http"
	}

	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}

	uri := r.Header.Get("X-Forwarded-Uri")
	if uri == "" {
		uri = "/"
	}

	u, err := url.Parse(proto + "://" + host + uri)
	if err != nil {
		return nil
	}

	return u
}

type consumeSharedLinkRequest struct {
	Token string `json:"token"`
}

type consumeSharedLinkResponse struct {
	ServiceID string    `json:"service_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleConsumeSharedLink redeems a one-time token and sets the session
// cookie.
func (s *server) handleConsumeSharedLink(
	w http.ResponseWriter, r *http.Request,
) {
	var req consumeSharedLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	sess, err := s.gateway.RedeemSharedLink(
		r.Context(), req.Token, s.sessionToken(r),
	)
	if err != nil {
		s.writeGatewayError(w, err)

		return
	}

	s.setSessionCookie(w, r, sess)

	writeJSON(w, http.StatusOK, consumeSharedLinkResponse{
		ServiceID: sess.ServiceID,
		ExpiresAt: sess.ExpiresAt,
	})
}

// handleLogout deletes the current session and clears the cookie.
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.gateway.Logout(r.Context(), s.sessionToken(r)); err != nil {
		s.log.WithError(err).Warn("Failed to delete session on logout")
	}

	s.clearCookie(w, s.cfg.Auth.CookieName, s.cfg.Auth.CookieDomain)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
