package traefik

import (
	"strings"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/store"
)

// ResolveTLS picks the certificate request for a service router:
// the domain wildcard for subdomain services on wildcard domains, else the
// first named certificate covering one of hosts, else the domain resolver
// alone.
func ResolveTLS(
	service *store.Service, domain *store.Domain, hosts []string,
) *RouterTLS {
	if domain.UseWildcardCert && service.HostnameMode == store.HostnameModeSubdomain {
		return &RouterTLS{
			CertResolver: domain.CertResolver,
			Domains:      []TLSDomain{wildcardDomain(domain.Name)},
		}
	}

	for _, cert := range domain.NamedCertificates() {
		if coversAny(cert, hosts) {
			return namedCertTLS(domain, cert)
		}
	}

	return &RouterTLS{CertResolver: domain.CertResolver}
}

func wildcardDomain(name string) TLSDomain {
	return TLSDomain{Main: name, SANs: []string{"*." + name}}
}

func namedCertTLS(domain *store.Domain, cert store.NamedCertificate) *RouterTLS {
	resolver := cert.CertResolver
	if resolver == "" {
		resolver = domain.CertResolver
	}

	var sans []string
	if len(cert.SANs) > 0 {
		sans = append(sans, cert.SANs...)
	}

	return &RouterTLS{
		CertResolver: resolver,
		Domains:      []TLSDomain{{Main: cert.Main, SANs: sans}},
	}
}

func coversAny(cert store.NamedCertificate, hosts []string) bool {
	for _, name := range cert.Hostnames() {
		for _, h := range hosts {
			if strings.EqualFold(name, h) {
				return true
			}
		}
	}

	return false
}
