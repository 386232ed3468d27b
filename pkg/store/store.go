package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides persistence for services, domains, policies and sessions.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Domain CRUD.
	CreateDomain(ctx context.Context, domain *Domain) error
	UpdateDomain(ctx context.Context, domain *Domain) error
	GetDomain(ctx context.Context, id string) (*Domain, error)
	GetDomainByName(ctx context.Context, name string) (*Domain, error)
	ListDomains(ctx context.Context) ([]Domain, error)
	DeleteDomain(ctx context.Context, id string) error

	// Service CRUD.
	CreateService(ctx context.Context, service *Service) error
	UpdateService(ctx context.Context, service *Service) error
	GetService(ctx context.Context, id string) (*Service, error)
	ListServices(ctx context.Context) ([]Service, error)
	ListEnabledServices(ctx context.Context) ([]Service, error)
	SetServiceEnabled(ctx context.Context, id string, enabled bool, now time.Time) error
	DisableExpiredServices(ctx context.Context, now time.Time) ([]string, error)
	DeleteService(ctx context.Context, id string) error

	// Security config CRUD.
	CreateSecurityConfig(ctx context.Context, cfg *SecurityConfig) error
	UpdateSecurityConfig(ctx context.Context, cfg *SecurityConfig) error
	GetSecurityConfig(ctx context.Context, id string) (*SecurityConfig, error)
	ListSecurityConfigs(ctx context.Context, serviceID string) ([]SecurityConfig, error)
	ListEnabledSecurityConfigs(ctx context.Context) ([]SecurityConfig, error)
	DeleteSecurityConfig(ctx context.Context, id string) error

	// Basic auth credential groups.
	CreateBasicAuthConfig(ctx context.Context, cfg *BasicAuthConfig) error
	GetBasicAuthConfig(ctx context.Context, id string) (*BasicAuthConfig, error)
	GetBasicAuthConfigByName(ctx context.Context, name string) (*BasicAuthConfig, error)
	ListBasicAuthConfigs(ctx context.Context) ([]BasicAuthConfig, error)
	CreateBasicAuthUser(ctx context.Context, configID, username, password string) (*BasicAuthUser, error)
	ListBasicAuthUsers(ctx context.Context, configID string) ([]BasicAuthUser, error)
	ListAllBasicAuthUsers(ctx context.Context) ([]BasicAuthUser, error)
	DeleteBasicAuthUser(ctx context.Context, id string) error

	// Shared links.
	CreateSharedLink(ctx context.Context, link *SharedLink) error
	GetSharedLink(ctx context.Context, token string) (*SharedLink, error)
	ListSharedLinks(ctx context.Context, serviceID string) ([]SharedLink, error)
	ConsumeSharedLink(ctx context.Context, token, serviceID string, now time.Time) (*SharedLink, error)

	// Sessions.
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByToken(ctx context.Context, token string) (*Session, error)
	ListActiveSessions(ctx context.Context, now time.Time) ([]Session, error)
	UpdateSessionExpiry(ctx context.Context, token string, expiresAt time.Time) error
	UpdateSessionLastAccessed(ctx context.Context, token string, t time.Time) error
	DeleteSession(ctx context.Context, token string) error
	DeleteSessionsByService(ctx context.Context, serviceID string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if s.cfg.Driver == "sqlite" {
		// SQLite serializes writers anyway; a single connection also keeps
		// ":memory:" databases shared across queries.
		sqlDB, err := s.db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Domain{},
		&Service{},
		&SecurityConfig{},
		&BasicAuthConfig{},
		&BasicAuthUser{},
		&SharedLink{},
		&Session{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// notFound translates gorm's record-not-found into ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	return err
}
