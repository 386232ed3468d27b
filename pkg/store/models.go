package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Hostname strategies for a service.
const (
	HostnameModeSubdomain = "subdomain"
	HostnameModeApex      = "apex"
	HostnameModeCustom    = "custom"
)

// Security config type tags.
const (
	SecurityTypeSharedLink = "shared_link"
	SecurityTypeSSO        = "sso"
	SecurityTypeBasicAuth  = "basic_auth"
)

// SharedLinkIdentity is the user identity recorded on sessions spawned by a
// shared link.
const SharedLinkIdentity = "shared-link"

// Domain is a DNS zone under admin control.
type Domain struct {
	ID              string    `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"uniqueIndex;not null" json:"name"`
	CertResolver    string    `json:"cert_resolver"`
	UseWildcardCert bool      `json:"use_wildcard_cert"`
	CertConfigs     string    `gorm:"type:text" json:"cert_configs"`
	IsDefault       bool      `json:"is_default"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NamedCertificate is an explicit certificate request attached to a domain.
type NamedCertificate struct {
	Name         string   `json:"name" yaml:"name"`
	Main         string   `json:"main" yaml:"main"`
	SANs         []string `json:"sans,omitempty" yaml:"sans,omitempty"`
	CertResolver string   `json:"certResolver,omitempty" yaml:"cert_resolver,omitempty"`
}

// Hostnames returns main followed by the SANs.
func (c NamedCertificate) Hostnames() []string {
	out := make([]string, 0, len(c.SANs)+1)
	if c.Main != "" {
		out = append(out, c.Main)
	}

	return append(out, c.SANs...)
}

// NamedCertificates decodes the CertConfigs column. Malformed JSON yields
// an empty list.
func (d *Domain) NamedCertificates() []NamedCertificate {
	if d.CertConfigs == "" {
		return nil
	}

	var certs []NamedCertificate
	if err := json.Unmarshal([]byte(d.CertConfigs), &certs); err != nil {
		return nil
	}

	return certs
}

// Service is the target of a proxy route.
type Service struct {
	ID                    string     `gorm:"primaryKey" json:"id"`
	Name                  string     `gorm:"not null" json:"name"`
	HostnameMode          string     `gorm:"not null" json:"hostname_mode"`
	Subdomain             string     `json:"subdomain"`
	CustomHostnames       string     `gorm:"type:text" json:"custom_hostnames"`
	DomainID              string     `gorm:"index" json:"domain_id"`
	TargetIP              string     `gorm:"not null" json:"target_ip"`
	TargetPort            int        `gorm:"not null" json:"target_port"`
	IsHTTPS               bool       `json:"is_https"`
	InsecureSkipVerify    bool       `json:"insecure_skip_verify"`
	Enabled               bool       `gorm:"index" json:"enabled"`
	EnabledAt             *time.Time `json:"enabled_at"`
	EnableDurationMinutes *int       `json:"enable_duration_minutes"`
	Middlewares           string     `gorm:"type:text" json:"middlewares"`
	RequestHeaders        string     `gorm:"type:text" json:"request_headers"`
	EntryPoint            string     `json:"entrypoint"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// DisableDeadline returns the moment the service must be auto-disabled.
// ok is false when the service runs forever or was never enabled.
func (s *Service) DisableDeadline() (deadline time.Time, ok bool) {
	if s.EnableDurationMinutes == nil || s.EnabledAt == nil {
		return time.Time{}, false
	}

	return s.EnabledAt.Add(time.Duration(*s.EnableDurationMinutes) * time.Minute), true
}

// Expired reports whether the auto-disable deadline has passed at now.
func (s *Service) Expired(now time.Time) bool {
	deadline, ok := s.DisableDeadline()

	return ok && !now.Before(deadline)
}

// CustomHostnameList decodes the custom hostname column.
func (s *Service) CustomHostnameList() []string {
	return decodeStringList(s.CustomHostnames)
}

// MiddlewareList decodes the free-form middleware column.
func (s *Service) MiddlewareList() []string {
	return decodeStringList(s.Middlewares)
}

// RequestHeaderMap decodes the request header override column.
func (s *Service) RequestHeaderMap() map[string]string {
	if s.RequestHeaders == "" {
		return nil
	}

	var headers map[string]string
	if err := json.Unmarshal([]byte(s.RequestHeaders), &headers); err != nil {
		return nil
	}

	return headers
}

// SecurityConfig is one authorization policy attached to a service. Config
// holds the type-specific JSON payload.
type SecurityConfig struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	ServiceID string    `gorm:"index;not null" json:"service_id"`
	Type      string    `gorm:"not null" json:"type"`
	Enabled   bool      `json:"enabled"`
	Priority  int       `json:"priority"`
	Config    string    `gorm:"type:text" json:"config"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SharedLink is a single-use, time-boxed bearer token for a service.
type SharedLink struct {
	ID                     string     `gorm:"primaryKey" json:"id"`
	Token                  string     `gorm:"uniqueIndex;not null" json:"-"`
	ServiceID              string     `gorm:"index;not null" json:"service_id"`
	SecurityConfigID       string     `json:"security_config_id"`
	ExpiresAt              time.Time  `gorm:"not null" json:"expires_at"`
	Used                   bool       `gorm:"not null" json:"used"`
	UsedAt                 *time.Time `json:"used_at"`
	SessionDurationMinutes int        `json:"session_duration_minutes"`
	CreatedAt              time.Time  `json:"created_at"`
}

// Session is proof of a completed authorization for one service.
type Session struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	Token          string    `gorm:"uniqueIndex;not null" json:"-"`
	ServiceID      string    `gorm:"index;not null" json:"service_id"`
	SharedLinkID   *string   `json:"shared_link_id"`
	UserID         string    `json:"user_id"`
	Groups         string    `gorm:"type:text" json:"groups"`
	ExpiresAt      time.Time `gorm:"index;not null" json:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// GroupList decodes the groups captured at issuance.
func (s *Session) GroupList() []string {
	return decodeStringList(s.Groups)
}

// BasicAuthConfig is a named credential group.
type BasicAuthConfig struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"uniqueIndex;not null" json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BasicAuthUser is one credential within a BasicAuthConfig. Usernames are
// unique per config.
type BasicAuthUser struct {
	ID                string    `gorm:"primaryKey" json:"id"`
	BasicAuthConfigID string    `gorm:"uniqueIndex:idx_basic_auth_config_user;not null" json:"basic_auth_config_id"`
	Username          string    `gorm:"uniqueIndex:idx_basic_auth_config_user;not null" json:"username"`
	PasswordHash      string    `gorm:"not null" json:"-"`
	CreatedAt         time.Time `json:"created_at"`
}

func (d *Domain) BeforeCreate(_ *gorm.DB) error {
	assignID(&d.ID)

	return nil
}

func (s *Service) BeforeCreate(_ *gorm.DB) error {
	assignID(&s.ID)

	return nil
}

func (c *SecurityConfig) BeforeCreate(_ *gorm.DB) error {
	assignID(&c.ID)

	return nil
}

func (l *SharedLink) BeforeCreate(_ *gorm.DB) error {
	assignID(&l.ID)

	return nil
}

func (s *Session) BeforeCreate(_ *gorm.DB) error {
	assignID(&s.ID)

	return nil
}

func (c *BasicAuthConfig) BeforeCreate(_ *gorm.DB) error {
	assignID(&c.ID)

	return nil
}

func (u *BasicAuthUser) BeforeCreate(_ *gorm.DB) error {
	assignID(&u.ID)

	return nil
}

func assignID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func decodeStringList(raw string) []string {
	if raw == "" {
		return nil
	}

	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}

	return out
}

// EncodeStringList is the inverse of the list column decoders.
func EncodeStringList(values []string) string {
	if len(values) == 0 {
		return ""
	}

	b, _ := json.Marshal(values)

	return string(b)
}
