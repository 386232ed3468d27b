package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/securityconfig"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/session"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/store"
)

// CreateSharedLink mints a one-time link from the service's enabled
// shared_link policy.
func (g *Gateway) CreateSharedLink(
	ctx context.Context, serviceID string,
) (*store.SharedLink, error) {
	service, err := g.store.GetService(ctx, serviceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrServiceNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("loading service: %w", err)
	}

	pol, err := g.loadPolicies(ctx, service.ID)
	if err != nil {
		return nil, err
	}

	if pol.sharedLink == nil {
		return nil, fmt.Errorf("%w: service %s has no shared link policy", ErrNoPolicy, service.ID)
	}

	policy, _ := pol.sharedLink.Policy.(securityconfig.SharedLink)

	token, err := session.GenerateToken()
	if err != nil {
		return nil, err
	}

	link := &store.SharedLink{
		Token:                  token,
		ServiceID:              service.ID,
		SecurityConfigID:       pol.sharedLink.ID,
		ExpiresAt:              g.now().Add(time.Duration(policy.ExpiresInHours) * time.Hour),
		SessionDurationMinutes: policy.SessionDurationMinutes,
	}

	if err := g.store.CreateSharedLink(ctx, link); err != nil {
		return nil, err
	}

	g.log.WithField("service_id", service.ID).Info("Shared link created")

	return link, nil
}

// RedeemSharedLink consumes token and returns the session it grants.
// A live session for the same service named by currentSession is extended
// instead of creating a second one. Invalid, used and expired tokens are
// reported as ErrUnauthorized wrapping the store error.
func (g *Gateway) RedeemSharedLink(
	ctx context.Context, token, currentSession string,
) (*store.Session, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrMalformedInput)
	}

	now := g.now()

	link, err := g.peekLink(ctx, token, now)
	if err != nil {
		return nil, err
	}

	service, err := g.activeService(ctx, link.ServiceID, now)
	if err != nil {
		return nil, err
	}

	pol, err := g.loadPolicies(ctx, service.ID)
	if err != nil {
		return nil, err
	}

	if pol.sharedLink == nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, ErrNoPolicy)
	}

	sess, err := g.redeem(ctx, service, token, currentSession, now)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrExpired) {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	return sess, err
}

// peekLink resolves the owning service of an unused, unexpired link
// without consuming it.
func (g *Gateway) peekLink(
	ctx context.Context, token string, now time.Time,
) (*store.SharedLink, error) {
	link, err := g.store.GetSharedLink(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	if err != nil {
		return nil, fmt.Errorf("loading shared link: %w", err)
	}

	switch {
	case link.Used:
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, store.ErrNotFound)
	case !now.Before(link.ExpiresAt):
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, store.ErrExpired)
	}

	return link, nil
}

// Logout deletes the session named by token.
func (g *Gateway) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	return g.sessions.Delete(ctx, token)
}
