package api

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/store"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/traefik"
	"github.com/docker/go-units"
	"github.com/go-chi/chi/v5"
)

// --- Session management ---

type sessionResponse struct {
	ID             string    `json:"id"`
	Token          string    `json:"token"`
	ServiceID      string    `json:"service_id"`
	UserID         string    `json:"user_id"`
	SharedLinkID   *string   `json:"shared_link_id,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	ExpiresIn      string    `json:"expires_in"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// handleListSessions returns all active sessions.
func (s *server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	now := s.now()

	sessions, err := s.sessions.List(r.Context(), now)
	if err != nil {
		s.log.WithError(err).Error("Failed to list sessions")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	resp := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		resp = append(resp, sessionResponse{
			ID:             sessions[i].ID,
			Token:          sessions[i].Token,
			ServiceID:      sessions[i].ServiceID,
			UserID:         sessions[i].UserID,
			SharedLinkID:   sessions[i].SharedLinkID,
			ExpiresAt:      sessions[i].ExpiresAt,
			ExpiresIn:      units.HumanDuration(sessions[i].ExpiresAt.Sub(now)),
			LastAccessedAt: sessions[i].LastAccessedAt,
			CreatedAt:      sessions[i].CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteSession revokes one session.
func (s *server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), chi.URLParam(r, "token")); err != nil {
		s.log.WithError(err).Error("Failed to delete session")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDeleteServiceSessions revokes every session of a service.
func (s *server) handleDeleteServiceSessions(
	w http.ResponseWriter, r *http.Request,
) {
	if err := s.sessions.DeleteForService(
		r.Context(), chi.URLParam(r, "id"),
	); err != nil {
		s.log.WithError(err).Error("Failed to delete service sessions")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Shared links ---

type sharedLinkResponse struct {
	ID        string     `json:"id"`
	Token     string     `json:"token,omitempty"`
	URL       string     `json:"url,omitempty"`
	ServiceID string     `json:"service_id"`
	ExpiresAt time.Time  `json:"expires_at"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func toSharedLinkResponse(l *store.SharedLink) sharedLinkResponse {
	return sharedLinkResponse{
		ID:        l.ID,
		ServiceID: l.ServiceID,
		ExpiresAt: l.ExpiresAt,
		Used:      l.Used,
		UsedAt:    l.UsedAt,
		CreatedAt: l.CreatedAt,
	}
}

// handleCreateSharedLink mints a one-time link and returns the shareable
// URL. The token is only ever shown here.
func (s *server) handleCreateSharedLink(
	w http.ResponseWriter, r *http.Request,
) {
	link, err := s.gateway.CreateSharedLink(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeGatewayError(w, err)

		return
	}

	resp := toSharedLinkResponse(link)
	resp.Token = link.Token

	shareURL, err := s.shareURL(r, link)
	if err != nil {
		s.log.WithError(err).
			WithField("service_id", link.ServiceID).
			Warn("Could not build share URL")
	}

	resp.URL = shareURL

	writeJSON(w, http.StatusCreated, resp)
}

// handleListSharedLinks lists a service's links without their tokens.
func (s *server) handleListSharedLinks(
	w http.ResponseWriter, r *http.Request,
) {
	links, err := s.store.ListSharedLinks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.log.WithError(err).Error("Failed to list shared links")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	resp := make([]sharedLinkResponse, 0, len(links))
	for i := range links {
		resp = append(resp, toSharedLinkResponse(&links[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// shareURL points at the service's first hostname with the token attached.
func (s *server) shareURL(r *http.Request, link *store.SharedLink) (string, error) {
	service, err := s.store.GetService(r.Context(), link.ServiceID)
	if err != nil {
		return "", err
	}

	domain, err := s.store.GetDomain(r.Context(), service.DomainID)
	if err != nil {
		return "", err
	}

	hosts, err := traefik.ResolveHostnames(service, domain)
	if err != nil {
		return "", err
	}

	if len(hosts) == 0 {
		return "", errors.New("service has no hostnames")
	}

	u := url.URL{
		Scheme:   "https",
		Host:     hosts[0],
		Path:     "/",
		RawQuery: url.Values{s.cfg.Auth.SharedLinkParam: {link.Token}}.Encode(),
	}

	return u.String(), nil
}
