package traefik

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/store"
)

// ErrUnresolvableHostnames is returned when a service yields no hostname.
var ErrUnresolvableHostnames = errors.New("unresolvable hostname set")

var dnsLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidHostname reports whether host is a dot-separated sequence of DNS
// labels.
func ValidHostname(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}

	for _, label := range strings.Split(host, ".") {
		if !dnsLabel.MatchString(label) {
			return false
		}
	}

	return true
}

// ResolveHostnames returns the hostnames a service is reachable at.
// Invalid custom hostnames are dropped; duplicates are removed.
func ResolveHostnames(
	service *store.Service, domain *store.Domain,
) ([]string, error) {
	var candidates []string

	switch service.HostnameMode {
	case store.HostnameModeSubdomain:
		label := strings.ToLower(strings.TrimSpace(service.Subdomain))
		if label == "" {
			return nil, fmt.Errorf("%w: empty subdomain", ErrUnresolvableHostnames)
		}

		candidates = []string{label + "." + domain.Name}
	case store.HostnameModeApex:
		candidates = []string{domain.Name}
	case store.HostnameModeCustom:
		candidates = service.CustomHostnameList()
	default:
		return nil, fmt.Errorf("%w: unknown hostname mode %q",
			ErrUnresolvableHostnames, service.HostnameMode)
	}

	seen := make(map[string]struct{}, len(candidates))
	hosts := make([]string, 0, len(candidates))

	for _, h := range candidates {
		h = strings.ToLower(strings.TrimSpace(h))
		if !ValidHostname(h) {
			continue
		}

		if _, dup := seen[h]; dup {
			continue
		}

		seen[h] = struct{}{}
		hosts = append(hosts, h)
	}

	if len(hosts) == 0 {
		return nil, fmt.Errorf("%w: no valid hostnames", ErrUnresolvableHostnames)
	}

	return hosts, nil
}

// HostRule builds a rule matching any of hosts.
func HostRule(hosts []string) string {
	parts := make([]string, 0, len(hosts))
	for _, h := range hosts {
		parts = append(parts, "Host(`"+h+"`)")
	}

	return strings.Join(parts, " || ")
}

// Slugify turns a hostname or name into a router-safe identifier.
func Slugify(s string) string {
	var b strings.Builder

	dash := false

	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)

			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')

			dash = true
		}
	}

	return strings.TrimSuffix(b.String(), "-")
}
