// Package fixture loads domains, services, policies and basic-auth users
// from a YAML file into the store.
package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/securityconfig"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/store"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// File is the root of a fixture document.
type File struct {
	Domains   []Domain    `yaml:"domains" validate:"dive"`
	BasicAuth []BasicAuth `yaml:"basic_auth" validate:"dive"`
	Services  []Service   `yaml:"services" validate:"dive"`
}

// Domain describes a DNS zone.
type Domain struct {
	Name            string                   `yaml:"name" validate:"required,hostname"`
	CertResolver    string                   `yaml:"cert_resolver"`
	UseWildcardCert bool                     `yaml:"use_wildcard_cert"`
	IsDefault       bool                     `yaml:"is_default"`
	Certificates    []store.NamedCertificate `yaml:"certificates"`
}

// BasicAuth is a credential group with plaintext passwords, hashed on
// import.
type BasicAuth struct {
	Name        string          `yaml:"name" validate:"required"`
	Description string          `yaml:"description"`
	Users       []BasicAuthUser `yaml:"users" validate:"dive"`
}

// BasicAuthUser is one credential.
type BasicAuthUser struct {
	Username string `yaml:"username" validate:"required,excludes=:"`
	Password string `yaml:"password" validate:"required"`
}

// Service describes a proxied backend.
type Service struct {
	Name                  string            `yaml:"name" validate:"required"`
	Domain                string            `yaml:"domain" validate:"required"`
	HostnameMode          string            `yaml:"hostname_mode" validate:"required,oneof=subdomain apex custom"`
	Subdomain             string            `yaml:"subdomain" validate:"required_if=HostnameMode subdomain"`
	Hostnames             []string          `yaml:"hostnames" validate:"required_if=HostnameMode custom"`
	TargetIP              string            `yaml:"target_ip" validate:"required"`
	TargetPort            int               `yaml:"target_port" validate:"min=1,max=65535"`
	HTTPS                 bool              `yaml:"https"`
	InsecureSkipVerify    bool              `yaml:"insecure_skip_verify"`
	Enabled               bool              `yaml:"enabled"`
	EnableDurationMinutes *int              `yaml:"enable_duration_minutes" validate:"omitempty,min=1"`
	Middlewares           []string          `yaml:"middlewares"`
	RequestHeaders        map[string]string `yaml:"request_headers"`
	EntryPoint            string            `yaml:"entrypoint"`
	Security              []Security        `yaml:"security" validate:"dive"`
}

// Security is a policy attached to a service. For basic_auth, BasicAuth
// names a credential group from the same file or the store.
type Security struct {
	Type      string         `yaml:"type" validate:"required,oneof=shared_link sso basic_auth"`
	Enabled   *bool          `yaml:"enabled"`
	Priority  int            `yaml:"priority"`
	BasicAuth string         `yaml:"basic_auth" validate:"required_if=Type basic_auth"`
	Config    map[string]any `yaml:"config"`
}

// Summary counts what an import created.
type Summary struct {
	Domains         int
	BasicAuthGroups int
	Users           int
	Services        int
	SecurityConfigs int
}

var validate = validator.New()

// Load reads and validates a fixture file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates fixture YAML.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}

	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("validating fixture: %w", err)
	}

	return &f, nil
}

// Importer writes fixtures into a store.
type Importer struct {
	log   logrus.FieldLogger
	store store.Store
}

// NewImporter creates an importer.
func NewImporter(log logrus.FieldLogger, st store.Store) *Importer {
	return &Importer{
		log:   log.WithField("component", "fixture"),
		store: st,
	}
}

// Apply imports f. Domains and credential groups that already exist by
// name are reused; services are always created.
func (im *Importer) Apply(ctx context.Context, f *File) (*Summary, error) {
	var sum Summary

	domains := make(map[string]string, len(f.Domains))

	for i := range f.Domains {
		id, created, err := im.ensureDomain(ctx, &f.Domains[i])
		if err != nil {
			return nil, err
		}

		domains[f.Domains[i].Name] = id

		if created {
			sum.Domains++
		}
	}

	groups := make(map[string]string, len(f.BasicAuth))

	for i := range f.BasicAuth {
		id, users, err := im.ensureBasicAuth(ctx, &f.BasicAuth[i])
		if err != nil {
			return nil, err
		}

		groups[f.BasicAuth[i].Name] = id
		sum.BasicAuthGroups++
		sum.Users += users
	}

	for i := range f.Services {
		policies, err := im.createService(ctx, &f.Services[i], domains, groups)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", f.Services[i].Name, err)
		}

		sum.Services++
		sum.SecurityConfigs += policies
	}

	im.log.WithFields(logrus.Fields{
		"domains":          sum.Domains,
		"basic_auth":       sum.BasicAuthGroups,
		"users":            sum.Users,
		"services":         sum.Services,
		"security_configs": sum.SecurityConfigs,
	}).Info("Fixture imported")

	return &sum, nil
}

func (im *Importer) ensureDomain(
	ctx context.Context, d *Domain,
) (string, bool, error) {
	existing, err := im.store.GetDomainByName(ctx, d.Name)
	if err == nil {
		return existing.ID, false, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		return "", false, err
	}

	domain := &store.Domain{
		Name:            d.Name,
		CertResolver:    d.CertResolver,
		UseWildcardCert: d.UseWildcardCert,
		IsDefault:       d.IsDefault,
	}

	if len(d.Certificates) > 0 {
		certs, err := json.Marshal(d.Certificates)
		if err != nil {
			return "", false, fmt.Errorf("encoding certificates for %s: %w", d.Name, err)
		}

		domain.CertConfigs = string(certs)
	}

	if err := im.store.CreateDomain(ctx, domain); err != nil {
		return "", false, err
	}

	return domain.ID, true, nil
}

func (im *Importer) ensureBasicAuth(
	ctx context.Context, b *BasicAuth,
) (string, int, error) {
	group, err := im.store.GetBasicAuthConfigByName(ctx, b.Name)
	if errors.Is(err, store.ErrNotFound) {
		group = &store.BasicAuthConfig{Name: b.Name, Description: b.Description}
		err = im.store.CreateBasicAuthConfig(ctx, group)
	}

	if err != nil {
		return "", 0, err
	}

	existing, err := im.store.ListBasicAuthUsers(ctx, group.ID)
	if err != nil {
		return "", 0, err
	}

	known := make(map[string]bool, len(existing))
	for i := range existing {
		known[existing[i].Username] = true
	}

	created := 0

	for _, u := range b.Users {
		if known[u.Username] {
			continue
		}

		if _, err := im.store.CreateBasicAuthUser(
			ctx, group.ID, u.Username, u.Password,
		); err != nil {
			return "", 0, err
		}

		created++
	}

	return group.ID, created, nil
}

func (im *Importer) createService(
	ctx context.Context,
	s *Service,
	domains, groups map[string]string,
) (int, error) {
	domainID, ok := domains[s.Domain]
	if !ok {
		d, err := im.store.GetDomainByName(ctx, s.Domain)
		if err != nil {
			return 0, fmt.Errorf("domain %q: %w", s.Domain, err)
		}

		domainID = d.ID
	}

	svc := &store.Service{
		Name:                  s.Name,
		HostnameMode:          s.HostnameMode,
		Subdomain:             s.Subdomain,
		CustomHostnames:       store.EncodeStringList(s.Hostnames),
		DomainID:              domainID,
		TargetIP:              s.TargetIP,
		TargetPort:            s.TargetPort,
		IsHTTPS:               s.HTTPS,
		InsecureSkipVerify:    s.InsecureSkipVerify,
		Enabled:               s.Enabled,
		EnableDurationMinutes: s.EnableDurationMinutes,
		Middlewares:           store.EncodeStringList(s.Middlewares),
		EntryPoint:            s.EntryPoint,
	}

	if len(s.RequestHeaders) > 0 {
		headers, err := json.Marshal(s.RequestHeaders)
		if err != nil {
			return 0, fmt.Errorf("encoding request headers: %w", err)
		}

		svc.RequestHeaders = string(headers)
	}

	if err := im.store.CreateService(ctx, svc); err != nil {
		return 0, err
	}

	for i := range s.Security {
		if err := im.createPolicy(ctx, svc.ID, &s.Security[i], groups); err != nil {
			return 0, err
		}
	}

	return len(s.Security), nil
}

func (im *Importer) createPolicy(
	ctx context.Context,
	serviceID string,
	sec *Security,
	groups map[string]string,
) error {
	payload := sec.Config
	if payload == nil {
		payload = map[string]any{}
	}

	if sec.Type == store.SecurityTypeBasicAuth {
		groupID, ok := groups[sec.BasicAuth]
		if !ok {
			group, err := im.store.GetBasicAuthConfigByName(ctx, sec.BasicAuth)
			if err != nil {
				return fmt.Errorf("basic auth group %q: %w", sec.BasicAuth, err)
			}

			groupID = group.ID
		}

		payload["basicAuthConfigId"] = groupID
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s config: %w", sec.Type, err)
	}

	if _, err := securityconfig.ParsePayload(sec.Type, string(raw)); err != nil {
		return err
	}

	enabled := sec.Enabled == nil || *sec.Enabled

	return im.store.CreateSecurityConfig(ctx, &store.SecurityConfig{
		ServiceID: serviceID,
		Type:      sec.Type,
		Enabled:   enabled,
		Priority:  sec.Priority,
		Config:    string(raw),
	})
}
