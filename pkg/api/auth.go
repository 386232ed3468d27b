package api

import (
	"net/http"
	"time"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/store"
)

const (
	ssoStateCookie   = "traefik_admin_sso_state"
	ssoContextCookie = "traefik_admin_sso_ctx"
)

// setSessionCookie sends the session cookie. Its lifetime matches the
// session record.
func (s *server) setSessionCookie(
	w http.ResponseWriter, r *http.Request, sess *store.Session,
) {
	maxAge := int(sess.ExpiresAt.Sub(s.now()) / time.Second)
	if maxAge <= 0 {
		maxAge = -1
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Auth.CookieName,
		Value:    sess.Token,
		Path:     "/",
		Domain:   s.cfg.Auth.CookieDomain,
		Expires:  sess.ExpiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.cfg.Auth.SecureCookies || r.TLS != nil,
	})
}

// clearCookie expires the named cookie.
func (s *server) clearCookie(w http.ResponseWriter, name, domain string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// setFlowCookie stores SSO round-trip state for the duration of the login.
func (s *server) setFlowCookie(
	w http.ResponseWriter, r *http.Request, name, value string,
) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.cfg.Auth.SecureCookies || r.TLS != nil,
		MaxAge:   600, // 10 minutes
	})
}

// sessionToken returns the session cookie value, if any.
func (s *server) sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(s.cfg.Auth.CookieName)
	if err != nil {
		return ""
	}

	return cookie.Value
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}

	return cookie.Value
}
