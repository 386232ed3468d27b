package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/metrics"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/securityconfig"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/session"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/sso"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/store"
	"github.com/sirupsen/logrus"
)

// VerifyRequest is one forward-auth call.
type VerifyRequest struct {
	ServiceID string
	// ConfigID optionally names the policy whose middleware made the call.
	ConfigID string
	// SessionToken is the session cookie value, if any.
	SessionToken string
	// OriginalURL is the client request reconstructed from the
	// X-Forwarded-* headers.
	OriginalURL *url.URL
	// AcceptsHTML is set for browser navigations.
	AcceptsHTML bool
}

// Decision is a successful verify outcome.
type Decision struct {
	// Status is http.StatusOK or http.StatusFound.
	Status   int
	Identity string
	Location string
	// Session is set when the call issued or extended a session and the
	// cookie must be (re)sent.
	Session *store.Session
}

// Verify runs the forward-auth state machine. Rejections are returned as
// errors wrapping ErrServiceNotFound, ErrUnauthorized, ErrForbidden or
// ErrMalformedInput.
func (g *Gateway) Verify(ctx context.Context, req VerifyRequest) (*Decision, error) {
	decision, err := g.verify(ctx, req)

	g.metrics.ObserveVerify(outcome(decision, err))

	return decision, err
}

func (g *Gateway) verify(ctx context.Context, req VerifyRequest) (*Decision, error) {
	now := g.now()

	service, err := g.activeService(ctx, req.ServiceID, now)
	if err != nil {
		return nil, err
	}

	pol, err := g.loadPolicies(ctx, service.ID)
	if err != nil {
		return nil, err
	}

	if req.ConfigID != "" {
		if _, ok := pol.rows[req.ConfigID]; !ok {
			return nil, fmt.Errorf("%w: security config %s", ErrServiceNotFound, req.ConfigID)
		}
	}

	if !pol.gated() {
		return &Decision{Status: http.StatusOK}, nil
	}

	log := g.log.WithField("service_id", service.ID)

	if pol.sharedLink != nil && req.OriginalURL != nil {
		if token := req.OriginalURL.Query().Get(g.opts.SharedLinkParam); token != "" {
			decision, err := g.redeemFromURL(ctx, service, token, req, now)
			if err == nil {
				return decision, nil
			}

			if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrExpired) {
				return nil, err
			}

			log.WithError(err).Info("Rejected shared link token")
		}
	}

	sess, err := g.sessions.Get(ctx, req.SessionToken, now)
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrExpired) {
		return g.unauthenticated(service, pol, req)
	}

	if err != nil {
		return nil, fmt.Errorf("resolving session: %w", err)
	}

	if sess.ServiceID != service.ID {
		return g.unauthenticated(service, pol, req)
	}

	// Sessions spawned by a shared link were authorized at issuance; SSO
	// sessions must still pass the current allow-list.
	if sess.SharedLinkID == nil {
		if pol.sso == nil {
			log.Info("Rejected SSO session without an SSO policy")

			return nil, ErrForbidden
		}

		policy, _ := pol.sso.Policy.(securityconfig.SSO)
		if !sso.Authorize(policy, sess.UserID, sess.GroupList()) {
			log.WithField("user", sess.UserID).Info("Rejected session by allow-list")

			return nil, ErrForbidden
		}
	}

	if err := g.sessions.Touch(ctx, sess.Token, now); err != nil {
		log.WithError(err).Warn("Failed to record session access")
	}

	return &Decision{Status: http.StatusOK, Identity: sess.UserID}, nil
}

// redeemFromURL consumes a one-time token seen on a proxied request and
// redirects to the same URL without it.
func (g *Gateway) redeemFromURL(
	ctx context.Context,
	service *store.Service,
	token string,
	req VerifyRequest,
	now time.Time,
) (*Decision, error) {
	sess, err := g.redeem(ctx, service, token, req.SessionToken, now)
	if err != nil {
		return nil, err
	}

	return &Decision{
		Status:   http.StatusFound,
		Identity: sess.UserID,
		Location: stripQueryParam(req.OriginalURL, g.opts.SharedLinkParam),
		Session:  sess,
	}, nil
}

// redeem consumes token for service, then extends the caller's live
// session for that service or issues a new one.
func (g *Gateway) redeem(
	ctx context.Context,
	service *store.Service,
	token, currentSession string,
	now time.Time,
) (*store.Session, error) {
	link, err := g.store.ConsumeSharedLink(ctx, token, service.ID, now)
	if err != nil {
		return nil, err
	}

	expiresAt := SessionExpiry(service, now)

	log := g.log.WithFields(logrus.Fields{
		"service_id":     service.ID,
		"shared_link_id": link.ID,
	})

	if currentSession != "" {
		existing, err := g.sessions.Get(ctx, currentSession, now)
		if err == nil && existing.ServiceID == service.ID {
			if err := g.sessions.Extend(ctx, existing.Token, expiresAt); err != nil {
				return nil, fmt.Errorf("extending session: %w", err)
			}

			existing.ExpiresAt = expiresAt

			log.Info("Shared link extended existing session")

			return existing, nil
		}
	}

	linkID := link.ID

	sess, err := g.sessions.Create(ctx, session.NewSession{
		ServiceID:    service.ID,
		Identity:     store.SharedLinkIdentity,
		SharedLinkID: &linkID,
		ExpiresAt:    expiresAt,
	}, now)
	if err != nil {
		return nil, err
	}

	log.Info("Shared link redeemed")

	return sess, nil
}

// unauthenticated sends browsers to the SSO login when the service has an
// SSO policy and rejects everything else.
func (g *Gateway) unauthenticated(
	service *store.Service, pol *policies, req VerifyRequest,
) (*Decision, error) {
	if !req.AcceptsHTML || pol.sso == nil || g.provider == nil || g.opts.LoginURL == "" {
		return nil, ErrUnauthorized
	}

	query := url.Values{}
	query.Set("serviceId", service.ID)

	if req.OriginalURL != nil {
		query.Set("return_to", req.OriginalURL.String())
	}

	return &Decision{
		Status:   http.StatusFound,
		Location: g.opts.LoginURL + "?" + query.Encode(),
	}, nil
}

func stripQueryParam(u *url.URL, param string) string {
	stripped := *u

	query := stripped.Query()
	query.Del(param)
	stripped.RawQuery = query.Encode()

	return stripped.String()
}

func outcome(d *Decision, err error) string {
	switch {
	case err == nil && d.Status == http.StatusFound:
		return metrics.OutcomeRedirect
	case err == nil:
		return metrics.OutcomeAllowed
	case errors.Is(err, ErrUnauthorized):
		return metrics.OutcomeUnauthorized
	case errors.Is(err, ErrForbidden):
		return metrics.OutcomeForbidden
	case errors.Is(err, ErrServiceNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeError
	}
}
