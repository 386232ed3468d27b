package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/fsutil"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g.
	// TRAEFIK_ADMIN_SERVER_LISTEN.
	EnvPrefix = "TRAEFIK_ADMIN"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":3000"

	// DefaultCookieName is the forward-auth session cookie name.
	DefaultCookieName = "traefik_admin_session"

	// DefaultSharedLinkParam is the query parameter carrying a one-time token.
	DefaultSharedLinkParam = "share_token"

	// DefaultSessionCleanupInterval is how often expired sessions are purged.
	DefaultSessionCleanupInterval = 15 * time.Minute

	// DefaultSSOTimeout bounds token exchange and userinfo calls.
	DefaultSSOTimeout = 10 * time.Second

	// DefaultServiceSweep is the cron spec for the auto-disable sweep.
	DefaultServiceSweep = "@every 1m"
)

// Config is the root configuration for traefik-admin.
type Config struct {
	LogLevel  string          `yaml:"log_level" mapstructure:"log_level" validate:"required"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	SSO       SSOConfig       `yaml:"sso" mapstructure:"sso"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Traefik   TraefikConfig   `yaml:"traefik" mapstructure:"traefik"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Export    ExportConfig    `yaml:"export" mapstructure:"export"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen" validate:"required"`
	PublicURL   string          `yaml:"public_url" mapstructure:"public_url" validate:"required,url"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting of the auth endpoints.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Auth    RateLimitTier `yaml:"auth,omitempty" mapstructure:"auth"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute" validate:"gte=0"`
}

// AuthConfig contains session cookie and admin API settings.
type AuthConfig struct {
	CookieName             string        `yaml:"cookie_name" mapstructure:"cookie_name" validate:"required"`
	CookieDomain           string        `yaml:"cookie_domain,omitempty" mapstructure:"cookie_domain"`
	SecureCookies          bool          `yaml:"secure_cookies" mapstructure:"secure_cookies"`
	SharedLinkParam        string        `yaml:"shared_link_param" mapstructure:"shared_link_param" validate:"required"`
	SessionCleanupInterval time.Duration `yaml:"session_cleanup_interval" mapstructure:"session_cleanup_interval" validate:"gt=0"`
	AdminToken             string        `yaml:"admin_token,omitempty" mapstructure:"admin_token"`
}

// SSOConfig configures the OAuth2/OIDC identity provider.
type SSOConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	ClientID     string        `yaml:"client_id,omitempty" mapstructure:"client_id"`
	ClientSecret string        `yaml:"client_secret,omitempty" mapstructure:"client_secret"`
	AuthURL      string        `yaml:"auth_url,omitempty" mapstructure:"auth_url"`
	TokenURL     string        `yaml:"token_url,omitempty" mapstructure:"token_url"`
	UserInfoURL  string        `yaml:"userinfo_url,omitempty" mapstructure:"userinfo_url"`
	RedirectURL  string        `yaml:"redirect_url,omitempty" mapstructure:"redirect_url"`
	Scopes       []string      `yaml:"scopes,omitempty" mapstructure:"scopes"`
	UserClaim    string        `yaml:"user_claim" mapstructure:"user_claim"`
	GroupsClaim  string        `yaml:"groups_claim" mapstructure:"groups_claim"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	SuccessURL   string        `yaml:"success_url,omitempty" mapstructure:"success_url"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// TraefikConfig shapes the generated dynamic configuration.
type TraefikConfig struct {
	DefaultEntryPoint string   `yaml:"default_entrypoint,omitempty" mapstructure:"default_entrypoint"`
	GlobalMiddlewares []string `yaml:"global_middlewares,omitempty" mapstructure:"global_middlewares"`
	ConfigToken       string   `yaml:"config_token,omitempty" mapstructure:"config_token"`
	VerifyURL         string   `yaml:"verify_url,omitempty" mapstructure:"verify_url"`
}

// SchedulerConfig holds cron specs for background jobs. An empty spec
// disables the job.
type SchedulerConfig struct {
	ServiceSweep string `yaml:"service_sweep" mapstructure:"service_sweep"`
	Export       string `yaml:"export,omitempty" mapstructure:"export"`
}

// ExportConfig lists where generated documents are published.
type ExportConfig struct {
	Local LocalExportConfig `yaml:"local,omitempty" mapstructure:"local"`
	S3    S3ExportConfig    `yaml:"s3,omitempty" mapstructure:"s3"`
}

// LocalExportConfig writes the document to a file watched by Traefik's
// file provider.
type LocalExportConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
	Format  string `yaml:"format,omitempty" mapstructure:"format"`
	// Owner is an optional "UID:GID" applied to the written file.
	Owner string `yaml:"owner,omitempty" mapstructure:"owner"`
}

// S3ExportConfig uploads the document to an S3-compatible bucket.
type S3ExportConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Key             string `yaml:"key" mapstructure:"key"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// defaults lists every key so that env overrides are honoured even when
// the file omits them.
var defaults = map[string]any{
	"log_level": DefaultLogLevel,

	"server.listen":                              DefaultListen,
	"server.public_url":                          "http://localhost:3000",
	"server.cors_origins":                        []string{},
	"server.rate_limit.enabled":                  false,
	"server.rate_limit.auth.requests_per_minute": 30,

	"auth.cookie_name":              DefaultCookieName,
	"auth.cookie_domain":            "",
	"auth.secure_cookies":           true,
	"auth.shared_link_param":        DefaultSharedLinkParam,
	"auth.session_cleanup_interval": DefaultSessionCleanupInterval,
	"auth.admin_token":              "",

	"sso.enabled":       false,
	"sso.client_id":     "",
	"sso.client_secret": "",
	"sso.auth_url":      "",
	"sso.token_url":     "",
	"sso.userinfo_url":  "",
	"sso.redirect_url":  "",
	"sso.scopes":        []string{"openid", "profile", "email", "groups"},
	"sso.user_claim":    "sub",
	"sso.groups_claim":  "groups",
	"sso.timeout":       DefaultSSOTimeout,
	"sso.success_url":   "",

	"database.driver":            "sqlite",
	"database.sqlite.path":       "traefik-admin.db",
	"database.postgres.host":     "localhost",
	"database.postgres.port":     5432,
	"database.postgres.user":     "",
	"database.postgres.password": "",
	"database.postgres.database": "",
	"database.postgres.ssl_mode": "disable",

	"traefik.default_entrypoint": "",
	"traefik.global_middlewares": []string{},
	"traefik.config_token":       "",
	"traefik.verify_url":         "",

	"scheduler.service_sweep": DefaultServiceSweep,
	"scheduler.export":        "",

	"export.local.enabled":        false,
	"export.local.path":           "",
	"export.local.format":         "yaml",
	"export.local.owner":          "",
	"export.s3.enabled":           false,
	"export.s3.endpoint_url":      "",
	"export.s3.region":            "",
	"export.s3.bucket":            "",
	"export.s3.key":               "traefik/dynamic.json",
	"export.s3.access_key_id":     "",
	"export.s3.secret_access_key": "",
	"export.s3.force_path_style":  false,
}

// Load reads the YAML file at path (optional), applies defaults and
// TRAEFIK_ADMIN_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var validate = validator.New()

// Validate checks struct constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return errors.New("database.sqlite.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.Postgres.Database == "" {
			return errors.New("database.postgres.database is required for the postgres driver")
		}
	}

	if c.SSO.Enabled {
		if err := c.SSO.validate(); err != nil {
			return fmt.Errorf("sso: %w", err)
		}
	}

	if c.Export.Local.Enabled && c.Export.Local.Path == "" {
		return errors.New("export.local.path is required when local export is enabled")
	}

	if _, err := fsutil.ParseOwner(c.Export.Local.Owner); err != nil {
		return fmt.Errorf("export.local.owner: %w", err)
	}

	if c.Export.S3.Enabled && c.Export.S3.Bucket == "" {
		return errors.New("export.s3.bucket is required when s3 export is enabled")
	}

	return nil
}

func (s *SSOConfig) validate() error {
	if s.ClientID == "" {
		return errors.New("client_id is required")
	}

	for name, raw := range map[string]string{
		"auth_url":     s.AuthURL,
		"token_url":    s.TokenURL,
		"userinfo_url": s.UserInfoURL,
		"redirect_url": s.RedirectURL,
	} {
		if _, err := url.ParseRequestURI(raw); err != nil || raw == "" {
			return fmt.Errorf("%s must be an absolute URL", name)
		}
	}

	if s.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}

	return nil
}

// VerifyURL returns the forward-auth address Traefik calls.
func (c *Config) VerifyURL() string {
	if c.Traefik.VerifyURL != "" {
		return c.Traefik.VerifyURL
	}

	return strings.TrimSuffix(c.Server.PublicURL, "/") + "/verify"
}
