package api

import (
	"net/http"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/gateway"
)

// handleSSOLogin starts the identity provider round-trip for a service.
func (s *server) handleSSOLogin(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	login, err := s.gateway.BeginSSO(
		r.Context(), query.Get("serviceId"), query.Get("return_to"),
	)
	if err != nil {
		s.writeGatewayError(w, err)

		return
	}

	s.setFlowCookie(w, r, ssoStateCookie, login.State)
	s.setFlowCookie(w, r, ssoContextCookie, login.Context)

	http.Redirect(w, r, login.RedirectURL, http.StatusTemporaryRedirect)
}

// handleSSOCallback completes the login and issues the session cookie.
// The state cookies are cleared whatever the outcome.
func (s *server) handleSSOCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	cb := gateway.SSOCallback{
		StateCookie:   cookieValue(r, ssoStateCookie),
		ContextCookie: cookieValue(r, ssoContextCookie),
		State:         query.Get("state"),
		Code:          query.Get("code"),
	}

	s.clearCookie(w, ssoStateCookie, "")
	s.clearCookie(w, ssoContextCookie, "")

	if providerErr := query.Get("error"); providerErr != "" {
		s.log.WithField("error", providerErr).Info("Identity provider denied login")
		writeJSON(w, http.StatusForbidden, errorResponse{"forbidden"})

		return
	}

	result, err := s.gateway.CompleteSSO(r.Context(), cb)
	if err != nil {
		s.writeGatewayError(w, err)

		return
	}

	s.setSessionCookie(w, r, result.Session)

	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}
