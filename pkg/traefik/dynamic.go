// Package traefik builds the dynamic HTTP configuration document consumed
// by Traefik's HTTP (or file) provider.
package traefik

// Configuration is the root of a Traefik dynamic configuration document.
type Configuration struct {
	HTTP *HTTPConfiguration `json:"http" yaml:"http"`
}

// HTTPConfiguration holds the http section.
type HTTPConfiguration struct {
	Routers           map[string]*Router           `json:"routers" yaml:"routers"`
	Services          map[string]*Service          `json:"services" yaml:"services"`
	Middlewares       map[string]*Middleware       `json:"middlewares" yaml:"middlewares"`
	ServersTransports map[string]*ServersTransport `json:"serversTransports" yaml:"serversTransports"`
}

// Router matches requests and forwards them to a service.
type Router struct {
	Rule        string     `json:"rule" yaml:"rule"`
	Service     string     `json:"service" yaml:"service"`
	EntryPoints []string   `json:"entryPoints,omitempty" yaml:"entryPoints,omitempty"`
	Middlewares []string   `json:"middlewares,omitempty" yaml:"middlewares,omitempty"`
	Priority    int        `json:"priority,omitempty" yaml:"priority,omitempty"`
	TLS         *RouterTLS `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// RouterTLS requests certificates for a router.
type RouterTLS struct {
	CertResolver string      `json:"certResolver,omitempty" yaml:"certResolver,omitempty"`
	Domains      []TLSDomain `json:"domains,omitempty" yaml:"domains,omitempty"`
}

// TLSDomain is one certificate request.
type TLSDomain struct {
	Main string   `json:"main" yaml:"main"`
	SANs []string `json:"sans,omitempty" yaml:"sans,omitempty"`
}

// Service is a load-balanced backend.
type Service struct {
	LoadBalancer *LoadBalancer `json:"loadBalancer" yaml:"loadBalancer"`
}

// LoadBalancer lists the upstream servers.
type LoadBalancer struct {
	Servers          []Server `json:"servers" yaml:"servers"`
	ServersTransport string   `json:"serversTransport,omitempty" yaml:"serversTransport,omitempty"`
}

// Server is one upstream URL.
type Server struct {
	URL string `json:"url" yaml:"url"`
}

// Middleware is a tagged union: exactly one field is set.
type Middleware struct {
	ForwardAuth *ForwardAuth `json:"forwardAuth,omitempty" yaml:"forwardAuth,omitempty"`
	BasicAuth   *BasicAuth   `json:"basicAuth,omitempty" yaml:"basicAuth,omitempty"`
	Headers     *Headers     `json:"headers,omitempty" yaml:"headers,omitempty"`
	ReplacePath *ReplacePath `json:"replacePath,omitempty" yaml:"replacePath,omitempty"`
}

// ForwardAuth delegates the authorization decision to an HTTP endpoint.
type ForwardAuth struct {
	Address                  string   `json:"address" yaml:"address"`
	TrustForwardHeader       bool     `json:"trustForwardHeader" yaml:"trustForwardHeader"`
	AuthRequestHeaders       []string `json:"authRequestHeaders,omitempty" yaml:"authRequestHeaders,omitempty"`
	AuthResponseHeaders      []string `json:"authResponseHeaders,omitempty" yaml:"authResponseHeaders,omitempty"`
	AddAuthCookiesToResponse []string `json:"addAuthCookiesToResponse,omitempty" yaml:"addAuthCookiesToResponse,omitempty"`
}

// BasicAuth holds user:hash pairs.
type BasicAuth struct {
	Users []string `json:"users" yaml:"users"`
	Realm string   `json:"realm,omitempty" yaml:"realm,omitempty"`
}

// Headers overrides request headers.
type Headers struct {
	CustomRequestHeaders map[string]string `json:"customRequestHeaders" yaml:"customRequestHeaders"`
}

// ReplacePath rewrites the request path.
type ReplacePath struct {
	Path string `json:"path" yaml:"path"`
}

// ServersTransport configures the connection to upstream servers.
type ServersTransport struct {
	InsecureSkipVerify bool `json:"insecureSkipVerify" yaml:"insecureSkipVerify"`
}

// NewConfiguration returns an empty document with all maps initialised.
func NewConfiguration() *Configuration {
	return &Configuration{
		HTTP: &HTTPConfiguration{
			Routers:           make(map[string]*Router),
			Services:          make(map[string]*Service),
			Middlewares:       make(map[string]*Middleware),
			ServersTransports: make(map[string]*ServersTransport),
		},
	}
}
