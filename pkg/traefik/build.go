package traefik

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/securityconfig"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/store"
)

const (
	// PlaceholderService serves certificate-trigger routers.
	PlaceholderService = "cert-placeholder"
	// PlaceholderMiddleware rewrites trigger traffic to the placeholder page.
	PlaceholderMiddleware = "cert-placeholder-path"
	// PlaceholderPath is where trigger traffic lands.
	PlaceholderPath = "/placeholder"
	// AuthUserHeader carries the verified identity upstream.
	AuthUserHeader = "X-Auth-User"

	noopService        = "noop@internal"
	triggerPriority    = 1
	shortIDLength      = 8
	basicAuthRealmName = "traefik-admin"
)

// forwardedRequestHeaders are copied from the client request to /verify.
var forwardedRequestHeaders = []string{
	"Accept",
	"Cookie",
	"X-Forwarded-Host",
	"X-Forwarded-Method",
	"X-Forwarded-Proto",
	"X-Forwarded-Uri",
	"X-Forwarded-For",
}

// Options control document generation.
type Options struct {
	// VerifyURL is the absolute URL of the gateway's /verify endpoint.
	VerifyURL string
	// PlaceholderURL is the upstream for certificate-trigger routers. When
	// empty Traefik's noop service is used.
	PlaceholderURL    string
	DefaultEntryPoint string
	GlobalMiddlewares []string
	CookieName        string
}

// Input is a snapshot of everything the document is derived from.
type Input struct {
	Services        []store.Service
	Domains         []store.Domain
	SecurityConfigs []store.SecurityConfig
	BasicAuthUsers  []store.BasicAuthUser
}

// Warning describes an entity left out of the document.
type Warning struct {
	ServiceID string
	DomainID  string
	Message   string
}

func (w Warning) String() string {
	switch {
	case w.ServiceID != "":
		return fmt.Sprintf("service %s: %s", w.ServiceID, w.Message)
	case w.DomainID != "":
		return fmt.Sprintf("domain %s: %s", w.DomainID, w.Message)
	default:
		return w.Message
	}
}

// Build derives the dynamic configuration from in. It is a pure function
// of its arguments: identical input yields an identical document.
// Entities that cannot be rendered are skipped and reported as warnings.
func Build(in *Input, opts Options) (*Configuration, []Warning) {
	b := &builder{
		cfg:      NewConfiguration(),
		opts:     opts,
		names:    make(map[string]struct{}),
		domains:  make(map[string]*store.Domain, len(in.Domains)),
		policies: make(map[string][]*securityconfig.Config),
		users:    make(map[string][]string),
	}

	for i := range in.Domains {
		b.domains[in.Domains[i].ID] = &in.Domains[i]
	}

	for i := range in.SecurityConfigs {
		row := &in.SecurityConfigs[i]
		if !row.Enabled {
			continue
		}

		parsed, err := securityconfig.Parse(row)
		if err != nil {
			b.warn(Warning{ServiceID: row.ServiceID, Message: err.Error()})

			continue
		}

		b.policies[row.ServiceID] = append(b.policies[row.ServiceID], parsed)
	}

	for _, list := range b.policies {
		securityconfig.SortByPriority(list)
	}

	for _, u := range in.BasicAuthUsers {
		b.users[u.BasicAuthConfigID] = append(
			b.users[u.BasicAuthConfigID], u.Username+":"+u.PasswordHash,
		)
	}

	services := make([]*store.Service, 0, len(in.Services))
	for i := range in.Services {
		services = append(services, &in.Services[i])
	}

	sort.Slice(services, func(i, j int) bool {
		return services[i].ID < services[j].ID
	})

	for _, svc := range services {
		if svc.Enabled {
			b.addService(svc)
		}
	}

	b.addCertificateTriggers(in.Domains)

	return b.cfg, b.warnings
}

type builder struct {
	cfg      *Configuration
	opts     Options
	warnings []Warning
	names    map[string]struct{}
	domains  map[string]*store.Domain
	policies map[string][]*securityconfig.Config
	users    map[string][]string
}

func (b *builder) warn(w Warning) {
	b.warnings = append(b.warnings, w)
}

// uniqueName claims base, falling back to base plus a short id suffix.
func (b *builder) uniqueName(base, id string) string {
	if base == "" {
		base = "service"
	}

	name := base
	if _, taken := b.names[name]; taken {
		name = base + "-" + shortID(id)
	}

	b.names[name] = struct{}{}

	return name
}

func (b *builder) addService(svc *store.Service) {
	domain, ok := b.domains[svc.DomainID]
	if !ok {
		b.warn(Warning{ServiceID: svc.ID, Message: "domain " + svc.DomainID + " not found"})

		return
	}

	hosts, err := ResolveHostnames(svc, domain)
	if err != nil {
		b.warn(Warning{ServiceID: svc.ID, Message: err.Error()})

		return
	}

	name := b.uniqueName(Slugify(hosts[0]), svc.ID)

	lb := &LoadBalancer{Servers: []Server{{URL: targetURL(svc)}}}
	if svc.IsHTTPS && svc.InsecureSkipVerify {
		transport := "transport-" + name
		b.cfg.HTTP.ServersTransports[transport] = &ServersTransport{InsecureSkipVerify: true}
		lb.ServersTransport = transport
	}

	b.cfg.HTTP.Services[name] = &Service{LoadBalancer: lb}

	middlewares := append([]string(nil), b.opts.GlobalMiddlewares...)
	middlewares = append(middlewares, b.authMiddlewares(svc, name)...)

	if headers := svc.RequestHeaderMap(); len(headers) > 0 {
		mw := "headers-" + name
		b.cfg.HTTP.Middlewares[mw] = &Middleware{
			Headers: &Headers{CustomRequestHeaders: headers},
		}
		middlewares = append(middlewares, mw)
	}

	middlewares = append(middlewares, svc.MiddlewareList()...)

	if len(middlewares) == 0 {
		middlewares = nil
	}

	b.cfg.HTTP.Routers[name] = &Router{
		Rule:        HostRule(hosts),
		Service:     name,
		EntryPoints: b.entryPoints(svc.EntryPoint),
		Middlewares: middlewares,
		TLS:         ResolveTLS(svc, domain, hosts),
	}
}

// authMiddlewares emits one middleware per enabled policy and returns
// their names: forward-auth middlewares first, then basic-auth, each kind
// in priority order.
func (b *builder) authMiddlewares(svc *store.Service, name string) []string {
	var forward, basic []string

	for _, cfg := range b.policies[svc.ID] {
		switch p := cfg.Policy.(type) {
		case securityconfig.SharedLink, securityconfig.SSO:
			mw := "auth-" + name + "-" + shortID(cfg.ID)
			b.cfg.HTTP.Middlewares[mw] = &Middleware{
				ForwardAuth: b.forwardAuth(svc.ID, cfg.ID),
			}
			forward = append(forward, mw)
		case securityconfig.BasicAuth:
			users := b.users[p.BasicAuthConfigID]
			if len(users) == 0 {
				b.warn(Warning{
					ServiceID: svc.ID,
					Message:   "basic auth config " + p.BasicAuthConfigID + " has no users",
				})

				continue
			}

			mw := "basic-auth-" + name + "-" + shortID(cfg.ID)
			b.cfg.HTTP.Middlewares[mw] = &Middleware{
				BasicAuth: &BasicAuth{
					Users: append([]string(nil), users...),
					Realm: basicAuthRealmName,
				},
			}
			basic = append(basic, mw)
		}
	}

	return append(forward, basic...)
}

func (b *builder) forwardAuth(serviceID, configID string) *ForwardAuth {
	query := url.Values{}
	query.Set("serviceId", serviceID)
	query.Set("configId", configID)

	fa := &ForwardAuth{
		Address:             b.opts.VerifyURL + "?" + query.Encode(),
		TrustForwardHeader:  true,
		AuthRequestHeaders:  append([]string(nil), forwardedRequestHeaders...),
		AuthResponseHeaders: []string{AuthUserHeader},
	}

	if b.opts.CookieName != "" {
		fa.AddAuthCookiesToResponse = []string{b.opts.CookieName}
	}

	return fa
}

func (b *builder) entryPoints(override string) []string {
	switch {
	case override != "":
		return []string{override}
	case b.opts.DefaultEntryPoint != "":
		return []string{b.opts.DefaultEntryPoint}
	default:
		return nil
	}
}

// addCertificateTriggers emits low-priority routers whose only purpose is
// to make Traefik request wildcard and named certificates.
func (b *builder) addCertificateTriggers(domains []store.Domain) {
	sorted := make([]*store.Domain, 0, len(domains))
	for i := range domains {
		sorted = append(sorted, &domains[i])
	}

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	triggers := 0

	for _, domain := range sorted {
		domainSlug := Slugify(domain.Name)

		if domain.UseWildcardCert {
			b.addTrigger("wildcard-cert-router-"+domainSlug, []string{domain.Name}, &RouterTLS{
				CertResolver: domain.CertResolver,
				Domains:      []TLSDomain{wildcardDomain(domain.Name)},
			})
			triggers++
		}

		for _, cert := range domain.NamedCertificates() {
			var hosts []string

			for _, h := range cert.Hostnames() {
				if ValidHostname(h) {
					hosts = append(hosts, h)
				}
			}

			if len(hosts) == 0 {
				b.warn(Warning{
					DomainID: domain.ID,
					Message:  "certificate " + cert.Name + " has no concrete hostname",
				})

				continue
			}

			b.addTrigger(
				"cert-router-"+domainSlug+"-"+Slugify(cert.Name),
				hosts, namedCertTLS(domain, cert),
			)
			triggers++
		}
	}

	if triggers == 0 || b.opts.PlaceholderURL == "" {
		return
	}

	b.cfg.HTTP.Services[PlaceholderService] = &Service{
		LoadBalancer: &LoadBalancer{Servers: []Server{{URL: b.opts.PlaceholderURL}}},
	}
	b.cfg.HTTP.Middlewares[PlaceholderMiddleware] = &Middleware{
		ReplacePath: &ReplacePath{Path: PlaceholderPath},
	}
}

func (b *builder) addTrigger(name string, hosts []string, tls *RouterTLS) {
	router := &Router{
		Rule:        HostRule(hosts),
		Service:     noopService,
		EntryPoints: b.entryPoints(""),
		Priority:    triggerPriority,
		TLS:         tls,
	}

	if b.opts.PlaceholderURL != "" {
		router.Service = PlaceholderService
		router.Middlewares = []string{PlaceholderMiddleware}
	}

	b.cfg.HTTP.Routers[name] = router
}

func targetURL(svc *store.Service) string {
	scheme := "http"
	if svc.IsHTTPS {
		scheme = "https"
	}

	u := url.URL{
		Scheme: scheme,
		Host:   joinHostPort(svc.TargetIP, svc.TargetPort),
	}

	return u.String()
}

func joinHostPort(host string, port int) string {
	if port == 0 {
		return host
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

func shortID(id string) string {
	if len(id) > shortIDLength {
		return id[:shortIDLength]
	}

	return id
}
