// Package gateway decides forward-auth requests for protected services and
// runs the shared-link and SSO flows that issue sessions.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/metrics"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/securityconfig"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/session"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/sso"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/store"
	"github.com/sirupsen/logrus"
)

const (
	// SessionHorizon caps sessions of services that never auto-disable.
	SessionHorizon = 90 * 24 * time.Hour
	// SSOStateTTL bounds the login round-trip through the identity provider.
	SSOStateTTL = 10 * time.Minute
)

// Errors returned by the gateway. Handlers map them to status codes.
var (
	ErrServiceNotFound = errors.New("service not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrMalformedInput  = errors.New("malformed input")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrNoPolicy        = errors.New("no matching security policy")
)

// Store is the persistence the gateway reads from.
type Store interface {
	GetService(ctx context.Context, id string) (*store.Service, error)
	GetDomain(ctx context.Context, id string) (*store.Domain, error)
	ListSecurityConfigs(ctx context.Context, serviceID string) ([]store.SecurityConfig, error)
	CreateSharedLink(ctx context.Context, link *store.SharedLink) error
	GetSharedLink(ctx context.Context, token string) (*store.SharedLink, error)
	ConsumeSharedLink(ctx context.Context, token, serviceID string, now time.Time) (*store.SharedLink, error)
}

// Options tune the gateway.
type Options struct {
	// SharedLinkParam is the query parameter carrying one-time tokens.
	SharedLinkParam string
	// LoginURL is the absolute SSO login endpoint browsers are sent to
	// when they lack a session. Empty disables the redirect.
	LoginURL string
	// SuccessURL is where a completed SSO login lands without return_to.
	SuccessURL string
	// Now overrides the clock.
	Now func() time.Time
}

// Gateway implements the verify state machine and the session-issuing
// flows.
type Gateway struct {
	log      logrus.FieldLogger
	store    Store
	sessions session.Manager
	provider sso.Provider
	metrics  *metrics.Metrics
	opts     Options
	now      func() time.Time
}

// New creates a gateway. provider is nil when SSO is disabled; m may be
// nil.
func New(
	log logrus.FieldLogger,
	st Store,
	sessions session.Manager,
	provider sso.Provider,
	m *metrics.Metrics,
	opts Options,
) *Gateway {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	if opts.SharedLinkParam == "" {
		opts.SharedLinkParam = "share_token"
	}

	return &Gateway{
		log:      log.WithField("component", "gateway"),
		store:    st,
		sessions: sessions,
		provider: provider,
		metrics:  m,
		opts:     opts,
		now:      now,
	}
}

// SessionExpiry returns the expiry for a session issued at now: the
// service's auto-disable deadline, capped at now plus SessionHorizon.
func SessionExpiry(service *store.Service, now time.Time) time.Time {
	horizon := now.Add(SessionHorizon)

	if deadline, ok := service.DisableDeadline(); ok && deadline.Before(horizon) {
		return deadline
	}

	return horizon
}

// policies is the decoded, enabled policy set of one service.
type policies struct {
	// rows holds enabled forward-auth rows by id, parsed or not.
	rows       map[string]*store.SecurityConfig
	sharedLink *securityconfig.Config
	sso        *securityconfig.Config
	// first is the highest-priority enabled forward-auth row id.
	first string
}

// gated reports whether any forward-auth policy is enabled.
func (p *policies) gated() bool {
	return len(p.rows) > 0
}

// activeService loads an enabled service that is still inside its enable
// window.
func (g *Gateway) activeService(
	ctx context.Context, id string, now time.Time,
) (*store.Service, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: missing service id", ErrMalformedInput)
	}

	service, err := g.store.GetService(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrServiceNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("loading service: %w", err)
	}

	if !service.Enabled || service.Expired(now) {
		return nil, ErrServiceNotFound
	}

	return service, nil
}

// loadPolicies reads and decodes the service's enabled shared_link and sso
// policies. Rows that fail to decode still count as gating so a broken
// policy never opens the service.
func (g *Gateway) loadPolicies(
	ctx context.Context, serviceID string,
) (*policies, error) {
	rows, err := g.store.ListSecurityConfigs(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("loading security configs: %w", err)
	}

	p := &policies{rows: make(map[string]*store.SecurityConfig)}

	for i := range rows {
		row := &rows[i]
		if !row.Enabled || row.Type == store.SecurityTypeBasicAuth {
			continue
		}

		p.rows[row.ID] = row
		if p.first == "" {
			p.first = row.ID
		}

		cfg, err := securityconfig.Parse(row)
		if err != nil {
			g.log.WithError(err).
				WithField("service_id", serviceID).
				Warn("Ignoring malformed security config")

			continue
		}

		switch cfg.Policy.(type) {
		case securityconfig.SharedLink:
			if p.sharedLink == nil {
				p.sharedLink = cfg
			}
		case securityconfig.SSO:
			if p.sso == nil {
				p.sso = cfg
			}
		}
	}

	return p, nil
}
