package fixture_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/config"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/fixture"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/securityconfig"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const sample = `
domains:
  - name: example.com
    cert_resolver: letsencrypt
    use_wildcard_cert: true
    is_default: true
    certificates:
      - name: apps
        main: apps.example.com
        sans: [api.example.com]

basic_auth:
  - name: ops
    description: operations team
    users:
      - username: alice
        password: s3cret

services:
  - name: grafana
    domain: example.com
    hostname_mode: subdomain
    subdomain: grafana
    target_ip: 10.0.0.5
    target_port: 3000
    enabled: true
    enable_duration_minutes: 60
    middlewares: [compress@file]
    request_headers:
      X-Env: prod
    security:
      - type: shared_link
        config:
          expiresInHours: 48
      - type: sso
        priority: 1
        config:
          groups: [admins]
  - name: wiki
    domain: example.com
    hostname_mode: custom
    hostnames: [docs.example.com]
    target_ip: 10.0.0.6
    target_port: 8080
    security:
      - type: basic_auth
        basic_auth: ops
`

func setupStore(t *testing.T) store.Store {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func newImporter(st store.Store) *fixture.Importer {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return fixture.NewImporter(log, st)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	f, err := fixture.Load(path)
	require.NoError(t, err)

	require.Len(t, f.Domains, 1)
	require.Len(t, f.Domains[0].Certificates, 1)
	assert.Equal(t, []string{"api.example.com"}, f.Domains[0].Certificates[0].SANs)
	require.Len(t, f.Services, 2)
	assert.Equal(t, 60, *f.Services[0].EnableDurationMinutes)
	assert.Equal(t, "ops", f.Services[1].Security[0].BasicAuth)

	_, err = fixture.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "subdomain mode without subdomain",
			yaml: `
services:
  - name: a
    domain: example.com
    hostname_mode: subdomain
    target_ip: 10.0.0.1
    target_port: 80
`,
		},
		{
			name: "custom mode without hostnames",
			yaml: `
services:
  - name: a
    domain: example.com
    hostname_mode: custom
    target_ip: 10.0.0.1
    target_port: 80
`,
		},
		{
			name: "port out of range",
			yaml: `
services:
  - name: a
    domain: example.com
    hostname_mode: apex
    target_ip: 10.0.0.1
    target_port: 70000
`,
		},
		{
			name: "unknown security type",
			yaml: `
services:
  - name: a
    domain: example.com
    hostname_mode: apex
    target_ip: 10.0.0.1
    target_port: 80
    security:
      - type: oauth
`,
		},
		{
			name: "basic auth without group",
			yaml: `
services:
  - name: a
    domain: example.com
    hostname_mode: apex
    target_ip: 10.0.0.1
    target_port: 80
    security:
      - type: basic_auth
`,
		},
		{
			name: "username with colon",
			yaml: `
basic_auth:
  - name: ops
    users:
      - username: "a:b"
        password: x
`,
		},
		{
			name: "not yaml",
			yaml: "domains: [",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fixture.Parse([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)

	f, err := fixture.Parse([]byte(sample))
	require.NoError(t, err)

	sum, err := newImporter(st).Apply(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, &fixture.Summary{
		Domains:         1,
		BasicAuthGroups: 1,
		Users:           1,
		Services:        2,
		SecurityConfigs: 3,
	}, sum)

	domain, err := st.GetDomainByName(ctx, "example.com")
	require.NoError(t, err)
	assert.True(t, domain.IsDefault)
	assert.True(t, domain.UseWildcardCert)
	require.Len(t, domain.NamedCertificates(), 1)
	assert.Equal(t, "apps.example.com", domain.NamedCertificates()[0].Main)

	services, err := st.ListServices(ctx)
	require.NoError(t, err)
	require.Len(t, services, 2)

	byName := map[string]store.Service{}
	for _, svc := range services {
		byName[svc.Name] = svc
	}

	grafana := byName["grafana"]
	assert.Equal(t, domain.ID, grafana.DomainID)
	assert.True(t, grafana.Enabled)
	assert.NotNil(t, grafana.EnabledAt)
	assert.Equal(t, []string{"compress@file"}, grafana.MiddlewareList())
	assert.JSONEq(t, `{"X-Env":"prod"}`, grafana.RequestHeaders)

	rows, err := st.ListSecurityConfigs(ctx, grafana.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	cfgs, failures := securityconfig.ParseAll(rows)
	require.Empty(t, failures)

	for _, c := range cfgs {
		assert.True(t, c.Enabled)

		switch p := c.Policy.(type) {
		case securityconfig.SharedLink:
			assert.Equal(t, 48, p.ExpiresInHours)
			assert.Equal(t, securityconfig.DefaultSessionDurationMinutes,
				p.SessionDurationMinutes)
		case securityconfig.SSO:
			assert.Equal(t, []string{"admins"}, p.Groups)
			assert.Equal(t, 1, c.Priority)
		default:
			t.Fatalf("unexpected policy %T", p)
		}
	}

	wiki := byName["wiki"]
	assert.False(t, wiki.Enabled)
	assert.Equal(t, []string{"docs.example.com"}, wiki.CustomHostnameList())

	rows, err = st.ListSecurityConfigs(ctx, wiki.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	group, err := st.GetBasicAuthConfigByName(ctx, "ops")
	require.NoError(t, err)

	cfg, err := securityconfig.Parse(&rows[0])
	require.NoError(t, err)
	assert.Equal(t, group.ID,
		cfg.Policy.(securityconfig.BasicAuth).BasicAuthConfigID)

	users, err := st.ListBasicAuthUsers(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.NoError(t, bcrypt.CompareHashAndPassword(
		[]byte(users[0].PasswordHash), []byte("s3cret")))
}

func TestApply_ReusesExistingByName(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	im := newImporter(st)

	f, err := fixture.Parse([]byte(sample))
	require.NoError(t, err)

	_, err = im.Apply(ctx, f)
	require.NoError(t, err)

	// A second import only adds services.
	sum, err := im.Apply(ctx, f)
	require.NoError(t, err)
	assert.Zero(t, sum.Domains)
	assert.Zero(t, sum.Users)
	assert.Equal(t, 2, sum.Services)

	domains, err := st.ListDomains(ctx)
	require.NoError(t, err)
	assert.Len(t, domains, 1)

	groups, err := st.ListBasicAuthConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}

func TestApply_UnknownReferences(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown domain",
			yaml: `
services:
  - name: a
    domain: nowhere.example
    hostname_mode: apex
    target_ip: 10.0.0.1
    target_port: 80
`,
		},
		{
			name: "unknown basic auth group",
			yaml: `
domains:
  - name: example.com
services:
  - name: a
    domain: example.com
    hostname_mode: apex
    target_ip: 10.0.0.1
    target_port: 80
    security:
      - type: basic_auth
        basic_auth: missing
`,
		},
		{
			name: "malformed policy payload",
			yaml: `
domains:
  - name: example.com
services:
  - name: a
    domain: example.com
    hostname_mode: apex
    target_ip: 10.0.0.1
    target_port: 80
    security:
      - type: shared_link
        config:
          expiresInHours: -1
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := fixture.Parse([]byte(tt.yaml))
			require.NoError(t, err)

			_, err = newImporter(setupStore(t)).Apply(ctx, f)
			require.Error(t, err)
		})
	}
}
