package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/securityconfig"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/session"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/sso"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/store"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/traefik"
	"github.com/sirupsen/logrus"
)

// ErrSSODisabled is returned by the SSO flow when no provider is set.
var ErrSSODisabled = errors.New("sso is not configured")

// LoginContext is bound to an SSO state value for the duration of the
// round-trip through the identity provider.
type LoginContext struct {
	ServiceID string    `json:"service_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ReturnTo  string    `json:"return_to,omitempty"`
}

// Encode serialises c for a cookie.
func (c LoginContext) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding login context: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeLoginContext parses a cookie written by Encode.
func DecodeLoginContext(raw string) (*LoginContext, error) {
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: login context: %v", ErrMalformedInput, err)
	}

	var c LoginContext
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: login context: %v", ErrMalformedInput, err)
	}

	if c.ServiceID == "" || c.IssuedAt.IsZero() {
		return nil, fmt.Errorf("%w: incomplete login context", ErrMalformedInput)
	}

	return &c, nil
}

// SSOLogin is the start of an SSO round-trip.
type SSOLogin struct {
	State       string
	Context     string
	RedirectURL string
}

// SSOCallback carries what the provider and the browser send back.
type SSOCallback struct {
	StateCookie   string
	ContextCookie string
	State         string
	Code          string
}

// SSOResult is a completed login.
type SSOResult struct {
	Session     *store.Session
	RedirectURL string
}

// BeginSSO starts a login for serviceID. returnTo is kept only when it
// points at one of the service's hostnames.
func (g *Gateway) BeginSSO(
	ctx context.Context, serviceID, returnTo string,
) (*SSOLogin, error) {
	if g.provider == nil {
		return nil, ErrSSODisabled
	}

	now := g.now()

	service, err := g.activeService(ctx, serviceID, now)
	if err != nil {
		return nil, err
	}

	pol, err := g.loadPolicies(ctx, service.ID)
	if err != nil {
		return nil, err
	}

	if pol.sso == nil {
		return nil, fmt.Errorf("%w: service %s has no sso policy", ErrNoPolicy, service.ID)
	}

	state, err := sso.GenerateState()
	if err != nil {
		return nil, err
	}

	lc := LoginContext{
		ServiceID: service.ID,
		IssuedAt:  now.UTC(),
		ReturnTo:  g.safeReturnTo(ctx, service, returnTo),
	}

	encoded, err := lc.Encode()
	if err != nil {
		return nil, err
	}

	return &SSOLogin{
		State:       state,
		Context:     encoded,
		RedirectURL: g.provider.AuthCodeURL(state),
	}, nil
}

// CompleteSSO validates the callback, exchanges the code, applies the
// allow-list and issues a session. Every failure is terminal.
func (g *Gateway) CompleteSSO(
	ctx context.Context, cb SSOCallback,
) (*SSOResult, error) {
	if g.provider == nil {
		return nil, ErrSSODisabled
	}

	if cb.StateCookie == "" || cb.State == "" ||
		subtle.ConstantTimeCompare([]byte(cb.StateCookie), []byte(cb.State)) != 1 {
		return nil, fmt.Errorf("%w: state mismatch", ErrMalformedInput)
	}

	lc, err := DecodeLoginContext(cb.ContextCookie)
	if err != nil {
		return nil, err
	}

	now := g.now()

	if age := now.Sub(lc.IssuedAt); age < 0 || age > SSOStateTTL {
		return nil, fmt.Errorf("%w: login state expired", ErrMalformedInput)
	}

	if cb.Code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrMalformedInput)
	}

	service, err := g.activeService(ctx, lc.ServiceID, now)
	if err != nil {
		return nil, err
	}

	pol, err := g.loadPolicies(ctx, service.ID)
	if err != nil {
		return nil, err
	}

	if pol.sso == nil {
		return nil, fmt.Errorf("%w: service %s has no sso policy", ErrNoPolicy, service.ID)
	}

	identity, err := g.provider.Exchange(ctx, cb.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
	}

	log := g.log.WithFields(logrus.Fields{
		"service_id": service.ID,
		"user":       identity.Subject,
	})

	policy, _ := pol.sso.Policy.(securityconfig.SSO)
	if !sso.Authorize(policy, identity.Subject, identity.Groups) {
		log.Info("SSO login rejected by allow-list")

		return nil, ErrForbidden
	}

	sess, err := g.sessions.Create(ctx, session.NewSession{
		ServiceID: service.ID,
		Identity:  identity.Subject,
		Groups:    identity.Groups,
		ExpiresAt: SessionExpiry(service, now),
	}, now)
	if err != nil {
		return nil, err
	}

	log.Info("SSO session issued")

	// The context cookie is unsigned; re-check the target before redirecting.
	redirect := g.safeReturnTo(ctx, service, lc.ReturnTo)
	if redirect == "" {
		redirect = g.opts.SuccessURL
	}

	if redirect == "" {
		redirect = "/"
	}

	return &SSOResult{Session: sess, RedirectURL: redirect}, nil
}

// safeReturnTo drops return targets outside the service's hostnames.
func (g *Gateway) safeReturnTo(
	ctx context.Context, service *store.Service, returnTo string,
) string {
	if returnTo == "" {
		return ""
	}

	u, err := url.Parse(returnTo)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}

	domain, err := g.store.GetDomain(ctx, service.DomainID)
	if err != nil {
		return ""
	}

	hosts, err := traefik.ResolveHostnames(service, domain)
	if err != nil || !slices.Contains(hosts, strings.ToLower(u.Hostname())) {
		return ""
	}

	return u.String()
}
