package traefik

import (
	"testing"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOptions = Options{
	VerifyURL:         "https://admin.example.com/verify",
	PlaceholderURL:    "https://admin.example.com",
	DefaultEntryPoint: "websecure",
	CookieName:        "traefik_admin_session",
}

func wildcardTestDomain(id, name string) store.Domain {
	return store.Domain{ID: id, Name: name, CertResolver: "le", UseWildcardCert: true}
}

func subdomainService(id, domainID, label string) store.Service {
	return store.Service{
		ID:           id,
		Name:         label,
		HostnameMode: store.HostnameModeSubdomain,
		Subdomain:    label,
		DomainID:     domainID,
		TargetIP:     "10.0.0.5",
		TargetPort:   8080,
		Enabled:      true,
	}
}

func TestBuild_WildcardSubdomainService(t *testing.T) {
	in := &Input{
		Domains:  []store.Domain{wildcardTestDomain("d1", "example.com")},
		Services: []store.Service{subdomainService("s1", "d1", "app")},
	}

	cfg, warnings := Build(in, testOptions)
	require.Empty(t, warnings)

	router := cfg.HTTP.Routers["app-example-com"]
	require.NotNil(t, router)
	assert.Equal(t, "Host(`app.example.com`)", router.Rule)
	assert.Equal(t, "app-example-com", router.Service)
	assert.Equal(t, []string{"websecure"}, router.EntryPoints)
	assert.Nil(t, router.Middlewares)
	assert.Equal(t, &RouterTLS{
		CertResolver: "le",
		Domains:      []TLSDomain{{Main: "example.com", SANs: []string{"*.example.com"}}},
	}, router.TLS)

	svc := cfg.HTTP.Services["app-example-com"]
	require.NotNil(t, svc)
	assert.Equal(t, []Server{{URL: "http://10.0.0.5:8080"}}, svc.LoadBalancer.Servers)
	assert.Empty(t, svc.LoadBalancer.ServersTransport)

	trigger := cfg.HTTP.Routers["wildcard-cert-router-example-com"]
	require.NotNil(t, trigger)
	assert.Equal(t, "Host(`example.com`)", trigger.Rule)
	assert.Equal(t, PlaceholderService, trigger.Service)
	assert.Equal(t, []string{PlaceholderMiddleware}, trigger.Middlewares)
	assert.Equal(t, triggerPriority, trigger.Priority)
	assert.Equal(t, "le", trigger.TLS.CertResolver)

	require.Contains(t, cfg.HTTP.Services, PlaceholderService)
	assert.Equal(t, "https://admin.example.com",
		cfg.HTTP.Services[PlaceholderService].LoadBalancer.Servers[0].URL)
	assert.Equal(t, PlaceholderPath, cfg.HTTP.Middlewares[PlaceholderMiddleware].ReplacePath.Path)
}

func TestBuild_Deterministic(t *testing.T) {
	in := &Input{
		Domains: []store.Domain{
			wildcardTestDomain("d1", "example.com"),
			{ID: "d2", Name: "other.org", CertResolver: "le"},
		},
		Services: []store.Service{
			subdomainService("s2", "d1", "b"),
			subdomainService("s1", "d1", "a"),
			{
				ID: "s3", HostnameMode: store.HostnameModeCustom, DomainID: "d2",
				CustomHostnames: `["x.other.org","y.other.org"]`,
				TargetIP:        "10.0.0.9", TargetPort: 443, IsHTTPS: true, Enabled: true,
			},
		},
		SecurityConfigs: []store.SecurityConfig{
			{ID: "c1", ServiceID: "s1", Type: store.SecurityTypeSSO, Enabled: true, Config: `{"groups":["admins"]}`},
		},
	}

	first, _ := Build(in, testOptions)
	second, _ := Build(in, testOptions)

	a, _, err := Render(first, FormatJSON)
	require.NoError(t, err)

	b, _, err := Render(second, FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, string(a), string(b))
	assert.Equal(t, "Host(`x.other.org`) || Host(`y.other.org`)",
		first.HTTP.Routers["x-other-org"].Rule)
}

func TestBuild_SkipsUnrenderableServices(t *testing.T) {
	in := &Input{
		Domains: []store.Domain{{ID: "d1", Name: "example.com"}},
		Services: []store.Service{
			subdomainService("s1", "missing", "app"),
			{ID: "s2", HostnameMode: store.HostnameModeCustom, DomainID: "d1", CustomHostnames: `["bad host"]`, Enabled: true},
			{ID: "s3", HostnameMode: store.HostnameModeSubdomain, DomainID: "d1", Enabled: true},
			subdomainService("s4", "d1", "ok"),
		},
	}

	cfg, warnings := Build(in, testOptions)

	require.Len(t, warnings, 3)
	assert.Equal(t, "s1", warnings[0].ServiceID)
	assert.Equal(t, "s2", warnings[1].ServiceID)
	assert.Equal(t, "s3", warnings[2].ServiceID)

	assert.Len(t, cfg.HTTP.Routers, 1)
	assert.Contains(t, cfg.HTTP.Routers, "ok-example-com")
}

func TestBuild_IgnoresDisabledEntities(t *testing.T) {
	disabled := subdomainService("s1", "d1", "off")
	disabled.Enabled = false

	in := &Input{
		Domains:  []store.Domain{{ID: "d1", Name: "example.com"}},
		Services: []store.Service{disabled, subdomainService("s2", "d1", "on")},
		SecurityConfigs: []store.SecurityConfig{
			{ID: "c1", ServiceID: "s2", Type: store.SecurityTypeSSO, Enabled: false, Config: `{}`},
		},
	}

	cfg, warnings := Build(in, testOptions)
	require.Empty(t, warnings)

	assert.NotContains(t, cfg.HTTP.Routers, "off-example-com")
	assert.Nil(t, cfg.HTTP.Routers["on-example-com"].Middlewares)
	assert.Empty(t, cfg.HTTP.Middlewares)
}

func TestBuild_BasicAuthWithoutUsersIsSkipped(t *testing.T) {
	in := &Input{
		Domains:  []store.Domain{{ID: "d1", Name: "example.com"}},
		Services: []store.Service{subdomainService("s1", "d1", "app")},
		SecurityConfigs: []store.SecurityConfig{
			{ID: "c1", ServiceID: "s1", Type: store.SecurityTypeBasicAuth, Enabled: true, Config: `{"basicAuthConfigId":"empty"}`},
		},
	}

	cfg, warnings := Build(in, testOptions)

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "has no users")
	assert.Empty(t, cfg.HTTP.Middlewares)
	require.Contains(t, cfg.HTTP.Routers, "app-example-com")
	assert.Nil(t, cfg.HTTP.Routers["app-example-com"].Middlewares)
}

func TestBuild_MiddlewareOrder(t *testing.T) {
	svc := subdomainService("s1", "d1", "app")
	svc.RequestHeaders = `{"X-Env":"prod"}`
	svc.Middlewares = `["compress@file"]`

	in := &Input{
		Domains:  []store.Domain{{ID: "d1", Name: "example.com"}},
		Services: []store.Service{svc},
		SecurityConfigs: []store.SecurityConfig{
			{ID: "basic-001", ServiceID: "s1", Type: store.SecurityTypeBasicAuth, Enabled: true, Priority: 1, Config: `{"basicAuthConfigId":"bac"}`},
			{ID: "sso-0001", ServiceID: "s1", Type: store.SecurityTypeSSO, Enabled: true, Priority: 10, Config: `{}`},
		},
		BasicAuthUsers: []store.BasicAuthUser{
			{BasicAuthConfigID: "bac", Username: "alice", PasswordHash: "$2a$10$hash"},
		},
	}

	opts := testOptions
	opts.GlobalMiddlewares = []string{"secure-headers@file"}

	cfg, warnings := Build(in, opts)
	require.Empty(t, warnings)

	assert.Equal(t, []string{
		"secure-headers@file",
		"auth-app-example-com-sso-0001",
		"basic-auth-app-example-com-basic-00",
		"headers-app-example-com",
		"compress@file",
	}, cfg.HTTP.Routers["app-example-com"].Middlewares)

	fa := cfg.HTTP.Middlewares["auth-app-example-com-sso-0001"].ForwardAuth
	require.NotNil(t, fa)
	assert.Equal(t, "https://admin.example.com/verify?configId=sso-0001&serviceId=s1", fa.Address)
	assert.True(t, fa.TrustForwardHeader)
	assert.Equal(t, []string{AuthUserHeader}, fa.AuthResponseHeaders)
	assert.Equal(t, []string{"traefik_admin_session"}, fa.AddAuthCookiesToResponse)
	assert.Contains(t, fa.AuthRequestHeaders, "X-Forwarded-Uri")

	ba := cfg.HTTP.Middlewares["basic-auth-app-example-com-basic-00"].BasicAuth
	require.NotNil(t, ba)
	assert.Equal(t, []string{"alice:$2a$10$hash"}, ba.Users)

	assert.Equal(t, map[string]string{"X-Env": "prod"},
		cfg.HTTP.Middlewares["headers-app-example-com"].Headers.CustomRequestHeaders)
}

func TestBuild_ForwardAuthPrecedesBasicAuth(t *testing.T) {
	in := &Input{
		Domains:  []store.Domain{{ID: "d1", Name: "example.com"}},
		Services: []store.Service{subdomainService("s1", "d1", "app")},
		SecurityConfigs: []store.SecurityConfig{
			{ID: "basic-lo", ServiceID: "s1", Type: store.SecurityTypeBasicAuth, Enabled: true, Priority: 20, Config: `{"basicAuthConfigId":"bac"}`},
			{ID: "basic-hi", ServiceID: "s1", Type: store.SecurityTypeBasicAuth, Enabled: true, Priority: 50, Config: `{"basicAuthConfigId":"bac"}`},
			{ID: "sso-0001", ServiceID: "s1", Type: store.SecurityTypeSSO, Enabled: true, Priority: 1, Config: `{}`},
			{ID: "link-001", ServiceID: "s1", Type: store.SecurityTypeSharedLink, Enabled: true, Priority: 5, Config: `{}`},
		},
		BasicAuthUsers: []store.BasicAuthUser{
			{BasicAuthConfigID: "bac", Username: "alice", PasswordHash: "$2a$10$hash"},
		},
	}

	cfg, warnings := Build(in, testOptions)
	require.Empty(t, warnings)

	assert.Equal(t, []string{
		"auth-app-example-com-link-001",
		"auth-app-example-com-sso-0001",
		"basic-auth-app-example-com-basic-hi",
		"basic-auth-app-example-com-basic-lo",
	}, cfg.HTTP.Routers["app-example-com"].Middlewares)
}

func TestBuild_MalformedPolicySkipped(t *testing.T) {
	in := &Input{
		Domains:  []store.Domain{{ID: "d1", Name: "example.com"}},
		Services: []store.Service{subdomainService("s1", "d1", "app")},
		SecurityConfigs: []store.SecurityConfig{
			{ID: "c1", ServiceID: "s1", Type: store.SecurityTypeSSO, Enabled: true, Config: `{"groups":"nope"}`},
			{ID: "c2", ServiceID: "s1", Type: store.SecurityTypeSharedLink, Enabled: true, Config: `{}`},
		},
	}

	cfg, warnings := Build(in, testOptions)

	require.Len(t, warnings, 1)
	assert.Equal(t, "s1", warnings[0].ServiceID)
	assert.Equal(t, []string{"auth-app-example-com-c2"},
		cfg.HTTP.Routers["app-example-com"].Middlewares)
}

func TestBuild_NameCollision(t *testing.T) {
	in := &Input{
		Domains: []store.Domain{{ID: "d1", Name: "example.com"}},
		Services: []store.Service{
			subdomainService("bbbbbbbb-2222", "d1", "app"),
			subdomainService("aaaaaaaa-1111", "d1", "app"),
		},
	}

	cfg, warnings := Build(in, testOptions)
	require.Empty(t, warnings)

	assert.Contains(t, cfg.HTTP.Routers, "app-example-com")
	assert.Contains(t, cfg.HTTP.Routers, "app-example-com-bbbbbbbb")
	assert.Equal(t, "app-example-com-bbbbbbbb",
		cfg.HTTP.Routers["app-example-com-bbbbbbbb"].Service)
}

func TestBuild_InsecureTransport(t *testing.T) {
	svc := subdomainService("s1", "d1", "nas")
	svc.IsHTTPS = true
	svc.InsecureSkipVerify = true
	svc.TargetPort = 5001

	in := &Input{
		Domains:  []store.Domain{{ID: "d1", Name: "example.com"}},
		Services: []store.Service{svc},
	}

	cfg, _ := Build(in, testOptions)

	lb := cfg.HTTP.Services["nas-example-com"].LoadBalancer
	assert.Equal(t, "https://10.0.0.5:5001", lb.Servers[0].URL)
	assert.Equal(t, "transport-nas-example-com", lb.ServersTransport)
	assert.True(t, cfg.HTTP.ServersTransports["transport-nas-example-com"].InsecureSkipVerify)
}

func TestBuild_EntryPointOverride(t *testing.T) {
	svc := subdomainService("s1", "d1", "app")
	svc.EntryPoint = "internal"

	in := &Input{
		Domains:  []store.Domain{{ID: "d1", Name: "example.com"}},
		Services: []store.Service{svc},
	}

	cfg, _ := Build(in, testOptions)
	assert.Equal(t, []string{"internal"}, cfg.HTTP.Routers["app-example-com"].EntryPoints)
}

func TestBuild_NamedCertificates(t *testing.T) {
	domain := store.Domain{
		ID:           "d1",
		Name:         "example.com",
		CertResolver: "le",
		CertConfigs: `[{"name":"Media","main":"media.example.com",` +
			`"sans":["tv.example.com","*.media.example.com"],"certResolver":"dns"}]`,
	}

	custom := store.Service{
		ID: "s1", HostnameMode: store.HostnameModeCustom, DomainID: "d1",
		CustomHostnames: `["tv.example.com"]`, TargetIP: "10.0.0.7", TargetPort: 80, Enabled: true,
	}

	cfg, warnings := Build(&Input{
		Domains:  []store.Domain{domain},
		Services: []store.Service{custom, subdomainService("s2", "d1", "plain")},
	}, testOptions)
	require.Empty(t, warnings)

	assert.Equal(t, &RouterTLS{
		CertResolver: "dns",
		Domains: []TLSDomain{{
			Main: "media.example.com",
			SANs: []string{"tv.example.com", "*.media.example.com"},
		}},
	}, cfg.HTTP.Routers["tv-example-com"].TLS)

	assert.Equal(t, &RouterTLS{CertResolver: "le"},
		cfg.HTTP.Routers["plain-example-com"].TLS)

	trigger := cfg.HTTP.Routers["cert-router-example-com-media"]
	require.NotNil(t, trigger)
	assert.Equal(t, "Host(`media.example.com`) || Host(`tv.example.com`)", trigger.Rule)
	assert.Equal(t, "dns", trigger.TLS.CertResolver)
}

func TestBuild_TriggersWithoutPlaceholderUseNoop(t *testing.T) {
	opts := testOptions
	opts.PlaceholderURL = ""

	cfg, _ := Build(&Input{
		Domains: []store.Domain{wildcardTestDomain("d1", "example.com")},
	}, opts)

	trigger := cfg.HTTP.Routers["wildcard-cert-router-example-com"]
	require.NotNil(t, trigger)
	assert.Equal(t, noopService, trigger.Service)
	assert.Nil(t, trigger.Middlewares)
	assert.NotContains(t, cfg.HTTP.Services, PlaceholderService)
}

func TestBuild_Empty(t *testing.T) {
	cfg, warnings := Build(&Input{}, testOptions)

	assert.Empty(t, warnings)
	assert.Empty(t, cfg.HTTP.Routers)
	assert.NotNil(t, cfg.HTTP.Routers)
}
