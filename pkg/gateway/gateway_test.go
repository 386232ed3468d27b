package gateway_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/config"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/gateway"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/session"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/sso"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type fakeProvider struct {
	identity *sso.Identity
	err      error
}

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://idp.example.com/authorize?state=" + state
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*sso.Identity, error) {
	if p.err != nil {
		return nil, p.err
	}

	if code != "good-code" {
		return nil, errors.New("invalid_grant")
	}

	return p.identity, nil
}

type fixture struct {
	store    store.Store
	sessions session.Manager
	gw       *gateway.Gateway
	clock    *clock
	provider *fakeProvider
	domain   *store.Domain
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	st := store.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, st.Start(context.Background()))

	t.Cleanup(func() { _ = st.Stop() })

	domain := &store.Domain{Name: "example.com", CertResolver: "le"}
	require.NoError(t, st.CreateDomain(context.Background(), domain))

	f := &fixture{
		store:    st,
		sessions: session.NewManager(log, st, 0, nil),
		clock:    &clock{now: t0},
		provider: &fakeProvider{identity: &sso.Identity{Subject: "alice", Groups: []string{"admins"}}},
		domain:   domain,
	}

	f.gw = gateway.New(log, st, f.sessions, f.provider, nil, gateway.Options{
		SharedLinkParam: "share_token",
		LoginURL:        "https://admin.example.com/api/v1/auth/sso/login",
		SuccessURL:      "https://admin.example.com/",
		Now:             f.clock.Now,
	})

	return f
}

func (f *fixture) service(t *testing.T, label string, durationMinutes *int) *store.Service {
	t.Helper()

	enabledAt := t0
	svc := &store.Service{
		Name:                  label,
		HostnameMode:          store.HostnameModeSubdomain,
		Subdomain:             label,
		DomainID:              f.domain.ID,
		TargetIP:              "10.0.0.5",
		TargetPort:            8080,
		Enabled:               true,
		EnabledAt:             &enabledAt,
		EnableDurationMinutes: durationMinutes,
	}
	require.NoError(t, f.store.CreateService(context.Background(), svc))

	return svc
}

func (f *fixture) policy(t *testing.T, serviceID, typ, payload string) *store.SecurityConfig {
	t.Helper()

	cfg := &store.SecurityConfig{
		ServiceID: serviceID,
		Type:      typ,
		Enabled:   true,
		Priority:  10,
		Config:    payload,
	}
	require.NoError(t, f.store.CreateSecurityConfig(context.Background(), cfg))

	return cfg
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()

	u, err := url.Parse(raw)
	require.NoError(t, err)

	return u
}

func intPtr(v int) *int { return &v }

func TestSessionExpiry(t *testing.T) {
	forever := &store.Service{}
	assert.Equal(t, t0.Add(gateway.SessionHorizon), gateway.SessionExpiry(forever, t0))

	enabledAt := t0.Add(-30 * time.Minute)
	timed := &store.Service{EnabledAt: &enabledAt, EnableDurationMinutes: intPtr(60)}
	assert.Equal(t, t0.Add(30*time.Minute), gateway.SessionExpiry(timed, t0))

	long := &store.Service{EnabledAt: &enabledAt, EnableDurationMinutes: intPtr(200 * 24 * 60)}
	assert.Equal(t, t0.Add(gateway.SessionHorizon), gateway.SessionExpiry(long, t0))
}

func TestVerify_ServiceLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gw.Verify(ctx, gateway.VerifyRequest{ServiceID: "missing"})
	assert.ErrorIs(t, err, gateway.ErrServiceNotFound)

	_, err = f.gw.Verify(ctx, gateway.VerifyRequest{})
	assert.ErrorIs(t, err, gateway.ErrMalformedInput)

	disabled := f.service(t, "off", nil)
	require.NoError(t, f.store.SetServiceEnabled(ctx, disabled.ID, false, t0))

	_, err = f.gw.Verify(ctx, gateway.VerifyRequest{ServiceID: disabled.ID})
	assert.ErrorIs(t, err, gateway.ErrServiceNotFound)

	// Past its window but not yet swept.
	timed := f.service(t, "timed", intPtr(10))
	f.clock.now = t0.Add(10 * time.Minute)

	_, err = f.gw.Verify(ctx, gateway.VerifyRequest{ServiceID: timed.ID})
	assert.ErrorIs(t, err, gateway.ErrServiceNotFound)
}

func TestVerify_UngatedService(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, "open", nil)
	f.policy(t, svc.ID, store.SecurityTypeBasicAuth, `{"basicAuthConfigId":"x"}`)

	decision, err := f.gw.Verify(context.Background(), gateway.VerifyRequest{ServiceID: svc.ID})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, decision.Status)
	assert.Nil(t, decision.Session)
}

func TestVerify_ConfigIDMustBelongToService(t *testing.T) {
	f := newFixture(t)
	a := f.service(t, "a", nil)
	b := f.service(t, "b", nil)
	f.policy(t, a.ID, store.SecurityTypeSSO, `{}`)
	other := f.policy(t, b.ID, store.SecurityTypeSSO, `{}`)

	_, err := f.gw.Verify(context.Background(), gateway.VerifyRequest{
		ServiceID: a.ID,
		ConfigID:  other.ID,
	})
	assert.ErrorIs(t, err, gateway.ErrServiceNotFound)
}

func TestVerify_SharedLinkRedirectsAndIssuesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc := f.service(t, "app", nil)
	f.policy(t, svc.ID, store.SecurityTypeSharedLink, `{"expiresInHours":1}`)

	link, err := f.gw.CreateSharedLink(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), link.ExpiresAt)

	forwarded := mustURL(t, "https://app.example.com/docs?page=2&share_token="+link.Token)

	f.clock.now = t0.Add(30 * time.Minute)

	decision, err := f.gw.Verify(ctx, gateway.VerifyRequest{
		ServiceID:   svc.ID,
		OriginalURL: forwarded,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, decision.Status)
	assert.Equal(t, "https://app.example.com/docs?page=2", decision.Location)
	require.NotNil(t, decision.Session)
	assert.Equal(t, store.SharedLinkIdentity, decision.Session.UserID)
	assert.True(t, decision.Session.ExpiresAt.Equal(f.clock.now.Add(gateway.SessionHorizon)))

	// The token is spent; without a cookie the request is rejected.
	_, err = f.gw.Verify(ctx, gateway.VerifyRequest{ServiceID: svc.ID, OriginalURL: forwarded})
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)

	decision, err = f.gw.Verify(ctx, gateway.VerifyRequest{
		ServiceID:    svc.ID,
		SessionToken: decision.Session.Token,
		OriginalURL:  mustURL(t, "https://app.example.com/docs"),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, decision.Status)
	assert.Equal(t, store.SharedLinkIdentity, decision.Identity)
}

func TestVerify_SharedLinkExtendsLiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc := f.service(t, "app", intPtr(60))
	f.policy(t, svc.ID, store.SecurityTypeSharedLink, `{}`)

	first, err := f.gw.CreateSharedLink(ctx, svc.ID)
	require.NoError(t, err)

	decision, err := f.gw.Verify(ctx, gateway.VerifyRequest{
		ServiceID:   svc.ID,
		OriginalURL: mustURL(t, "https://app.example.com/?share_token="+first.Token),
	})
	require.NoError(t, err)

	issued := decision.Session
	assert.True(t, issued.ExpiresAt.Equal(t0.Add(time.Hour)))

	// Re-enabling restarts the window, so the next redemption extends.
	f.clock.now = t0.Add(30 * time.Minute)
	require.NoError(t, f.store.SetServiceEnabled(ctx, svc.ID, true, f.clock.now))

	second, err := f.gw.CreateSharedLink(ctx, svc.ID)
	require.NoError(t, err)

	decision, err = f.gw.Verify(ctx, gateway.VerifyRequest{
		ServiceID:    svc.ID,
		SessionToken: issued.Token,
		OriginalURL:  mustURL(t, "https://app.example.com/?share_token="+second.Token),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, decision.Status)
	assert.Equal(t, issued.Token, decision.Session.Token)
	assert.True(t, decision.Session.ExpiresAt.Equal(t0.Add(90*time.Minute)))

	sessions, err := f.sessions.List(ctx, f.clock.now)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestVerify_SessionChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.service(t, "a", nil)
	b := f.service(t, "b", nil)
	f.policy(t, a.ID, store.SecurityTypeSharedLink, `{}`)
	f.policy(t, b.ID, store.SecurityTypeSharedLink, `{}`)

	linkID := "link"

	foreign, err := f.sessions.Create(ctx, session.NewSession{
		ServiceID: b.ID, Identity: store.SharedLinkIdentity, SharedLinkID: &linkID, ExpiresAt: t0.Add(time.Hour),
	}, t0)
	require.NoError(t, err)

	stale, err := f.sessions.Create(ctx, session.NewSession{
		ServiceID: a.ID, Identity: store.SharedLinkIdentity, SharedLinkID: &linkID, ExpiresAt: t0,
	}, t0)
	require.NoError(t, err)

	_, err = f.gw.Verify(ctx, gateway.VerifyRequest{ServiceID: a.ID})
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)

	_, err = f.gw.Verify(ctx, gateway.VerifyRequest{ServiceID: a.ID, SessionToken: foreign.Token})
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)

	// The other service's session survives.
	_, err = f.store.GetSessionByToken(ctx, foreign.Token)
	require.NoError(t, err)

	_, err = f.gw.Verify(ctx, gateway.VerifyRequest{ServiceID: a.ID, SessionToken: stale.Token})
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)

	_, err = f.store.GetSessionByToken(ctx, stale.Token)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestVerify_MalformedPolicyFailsClosed(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, "app", nil)
	f.policy(t, svc.ID, store.SecurityTypeSSO, `{"groups":"admins"}`)

	_, err := f.gw.Verify(context.Background(), gateway.VerifyRequest{ServiceID: svc.ID})
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)
}

func TestSSO_FullFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc := f.service(t, "app", nil)
	f.policy(t, svc.ID, store.SecurityTypeSSO, `{}`)

	_, err := f.gw.Verify(ctx, gateway.VerifyRequest{ServiceID: svc.ID})
	require.ErrorIs(t, err, gateway.ErrUnauthorized)

	decision, err := f.gw.Verify(ctx, gateway.VerifyRequest{
		ServiceID:   svc.ID,
		OriginalURL: mustURL(t, "https://app.example.com/home"),
		AcceptsHTML: true,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, decision.Status)

	loginURL := mustURL(t, decision.Location)
	assert.Equal(t, svc.ID, loginURL.Query().Get("serviceId"))
	assert.Equal(t, "https://app.example.com/home", loginURL.Query().Get("return_to"))

	login, err := f.gw.BeginSSO(ctx, svc.ID, "https://app.example.com/home")
	require.NoError(t, err)
	assert.Contains(t, login.RedirectURL, "state="+login.State)

	f.clock.now = t0.Add(2 * time.Minute)

	result, err := f.gw.CompleteSSO(ctx, gateway.SSOCallback{
		StateCookie:   login.State,
		ContextCookie: login.Context,
		State:         login.State,
		Code:          "good-code",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/home", result.RedirectURL)
	assert.Equal(t, "alice", result.Session.UserID)
	assert.True(t, result.Session.ExpiresAt.Equal(f.clock.now.Add(gateway.SessionHorizon)))

	decision, err = f.gw.Verify(ctx, gateway.VerifyRequest{
		ServiceID:    svc.ID,
		SessionToken: result.Session.Token,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, decision.Status)
	assert.Equal(t, "alice", decision.Identity)
}

func TestSSO_ForgedReturnToFallsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc := f.service(t, "app", nil)
	f.policy(t, svc.ID, store.SecurityTypeSSO, `{}`)

	login, err := f.gw.BeginSSO(ctx, svc.ID, "")
	require.NoError(t, err)

	forged, err := gateway.LoginContext{
		ServiceID: svc.ID,
		IssuedAt:  f.clock.now,
		ReturnTo:  "https://evil.example.net/steal",
	}.Encode()
	require.NoError(t, err)

	result, err := f.gw.CompleteSSO(ctx, gateway.SSOCallback{
		StateCookie:   login.State,
		ContextCookie: forged,
		State:         login.State,
		Code:          "good-code",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://admin.example.com/", result.RedirectURL)
}

func TestSSO_AllowListRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc := f.service(t, "app", nil)
	f.policy(t, svc.ID, store.SecurityTypeSSO, `{"groups":["g1"]}`)
	f.provider.identity = &sso.Identity{Subject: "bob", Groups: []string{"g2"}}

	login, err := f.gw.BeginSSO(ctx, svc.ID, "")
	require.NoError(t, err)

	_, err = f.gw.CompleteSSO(ctx, gateway.SSOCallback{
		StateCookie: login.State, ContextCookie: login.Context, State: login.State, Code: "good-code",
	})
	assert.ErrorIs(t, err, gateway.ErrForbidden)

	sessions, err := f.sessions.List(ctx, t0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSSO_AllowListReevaluatedOnVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc := f.service(t, "app", nil)
	policy := f.policy(t, svc.ID, store.SecurityTypeSSO, `{}`)

	login, err := f.gw.BeginSSO(ctx, svc.ID, "")
	require.NoError(t, err)

	result, err := f.gw.CompleteSSO(ctx, gateway.SSOCallback{
		StateCookie: login.State, ContextCookie: login.Context, State: login.State, Code: "good-code",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://admin.example.com/", result.RedirectURL)

	policy.Config = `{"users":["carol"]}`
	require.NoError(t, f.store.UpdateSecurityConfig(ctx, policy))

	_, err = f.gw.Verify(ctx, gateway.VerifyRequest{ServiceID: svc.ID, SessionToken: result.Session.Token})
	assert.ErrorIs(t, err, gateway.ErrForbidden)

	policy.Config = `{"groups":["admins"]}`
	require.NoError(t, f.store.UpdateSecurityConfig(ctx, policy))

	_, err = f.gw.Verify(ctx, gateway.VerifyRequest{ServiceID: svc.ID, SessionToken: result.Session.Token})
	assert.NoError(t, err)
}

func TestSSO_CallbackFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc := f.service(t, "app", nil)
	f.policy(t, svc.ID, store.SecurityTypeSSO, `{}`)

	login, err := f.gw.BeginSSO(ctx, svc.ID, "https://evil.example.org/")
	require.NoError(t, err)

	lc, err := gateway.DecodeLoginContext(login.Context)
	require.NoError(t, err)
	assert.Empty(t, lc.ReturnTo)

	tests := []struct {
		name    string
		cb      gateway.SSOCallback
		advance time.Duration
		exchErr error
		wantErr error
	}{
		{
			name:    "state mismatch",
			cb:      gateway.SSOCallback{StateCookie: login.State, ContextCookie: login.Context, State: "other", Code: "good-code"},
			wantErr: gateway.ErrMalformedInput,
		},
		{
			name:    "missing state cookie",
			cb:      gateway.SSOCallback{ContextCookie: login.Context, State: login.State, Code: "good-code"},
			wantErr: gateway.ErrMalformedInput,
		},
		{
			name:    "garbled context",
			cb:      gateway.SSOCallback{StateCookie: login.State, ContextCookie: "%%%", State: login.State, Code: "good-code"},
			wantErr: gateway.ErrMalformedInput,
		},
		{
			name:    "state expired",
			cb:      gateway.SSOCallback{StateCookie: login.State, ContextCookie: login.Context, State: login.State, Code: "good-code"},
			advance: 11 * time.Minute,
			wantErr: gateway.ErrMalformedInput,
		},
		{
			name:    "missing code",
			cb:      gateway.SSOCallback{StateCookie: login.State, ContextCookie: login.Context, State: login.State},
			wantErr: gateway.ErrMalformedInput,
		},
		{
			name:    "exchange failure",
			cb:      gateway.SSOCallback{StateCookie: login.State, ContextCookie: login.Context, State: login.State, Code: "good-code"},
			exchErr: errors.New("context deadline exceeded"),
			wantErr: gateway.ErrUpstreamFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.clock.now = t0.Add(tt.advance)
			f.provider.err = tt.exchErr

			t.Cleanup(func() {
				f.clock.now = t0
				f.provider.err = nil
			})

			_, err := f.gw.CompleteSSO(ctx, tt.cb)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSSO_Disabled(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	gw := gateway.New(log, nil, nil, nil, nil, gateway.Options{})

	_, err := gw.BeginSSO(context.Background(), "svc", "")
	assert.ErrorIs(t, err, gateway.ErrSSODisabled)

	_, err = gw.CompleteSSO(context.Background(), gateway.SSOCallback{})
	assert.ErrorIs(t, err, gateway.ErrSSODisabled)
}

func TestRedeemSharedLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc := f.service(t, "app", nil)
	f.policy(t, svc.ID, store.SecurityTypeSharedLink, `{"expiresInHours":1}`)

	link, err := f.gw.CreateSharedLink(ctx, svc.ID)
	require.NoError(t, err)

	f.clock.now = t0.Add(30 * time.Minute)

	sess, err := f.gw.RedeemSharedLink(ctx, link.Token, "")
	require.NoError(t, err)
	assert.Equal(t, svc.ID, sess.ServiceID)

	_, err = f.gw.RedeemSharedLink(ctx, link.Token, "")
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.gw.RedeemSharedLink(ctx, "", "")
	assert.ErrorIs(t, err, gateway.ErrMalformedInput)
}

func TestRedeemSharedLink_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc := f.service(t, "app", nil)
	f.policy(t, svc.ID, store.SecurityTypeSharedLink, `{"expiresInHours":1}`)

	link, err := f.gw.CreateSharedLink(ctx, svc.ID)
	require.NoError(t, err)

	f.clock.now = t0.Add(2 * time.Hour)

	_, err = f.gw.RedeemSharedLink(ctx, link.Token, "")
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)
	assert.ErrorIs(t, err, store.ErrExpired)
}

func TestCreateSharedLink_RequiresPolicy(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, "app", nil)

	_, err := f.gw.CreateSharedLink(context.Background(), svc.ID)
	assert.ErrorIs(t, err, gateway.ErrNoPolicy)

	_, err = f.gw.CreateSharedLink(context.Background(), "missing")
	assert.ErrorIs(t, err, gateway.ErrServiceNotFound)
}
