// Package session keeps gateway sessions in the store behind an in-memory
// write-through index.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/metrics"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/store"
	"github.com/sirupsen/logrus"
)

const (
	tokenBytes = 32

	// touchInterval throttles last-accessed writes for busy sessions.
	touchInterval = time.Minute
)

// RevalidateInterval bounds how long an indexed session is served without
// re-reading its row, so revocations and extensions made by another
// process take effect.
const RevalidateInterval = 30 * time.Second

var (
	// ErrNotFound is returned for unknown tokens.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned for a session past its expiry. The session is
	// purged before the error is returned.
	ErrExpired = errors.New("session expired")
)

// Store is the persistence the manager writes through to.
type Store interface {
	CreateSession(ctx context.Context, session *store.Session) error
	GetSessionByToken(ctx context.Context, token string) (*store.Session, error)
	ListActiveSessions(ctx context.Context, now time.Time) ([]store.Session, error)
	UpdateSessionExpiry(ctx context.Context, token string, expiresAt time.Time) error
	UpdateSessionLastAccessed(ctx context.Context, token string, t time.Time) error
	DeleteSession(ctx context.Context, token string) error
	DeleteSessionsByService(ctx context.Context, serviceID string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// NewSession describes a session to issue.
type NewSession struct {
	ServiceID    string
	Identity     string
	Groups       []string
	SharedLinkID *string
	ExpiresAt    time.Time
}

// Manager issues, looks up and expires sessions.
type Manager interface {
	Start(ctx context.Context) error
	Stop() error

	Create(ctx context.Context, req NewSession, now time.Time) (*store.Session, error)
	Get(ctx context.Context, token string, now time.Time) (*store.Session, error)
	Extend(ctx context.Context, token string, expiresAt time.Time) error
	Touch(ctx context.Context, token string, now time.Time) error
	Delete(ctx context.Context, token string) error
	DeleteForService(ctx context.Context, serviceID string) error
	List(ctx context.Context, now time.Time) ([]store.Session, error)
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

// Compile-time interface check.
var _ Manager = (*manager)(nil)

type manager struct {
	log      logrus.FieldLogger
	store    Store
	metrics  *metrics.Metrics
	interval time.Duration

	mu      sync.RWMutex
	index   map[string]store.Session
	checked map[string]time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a session manager. A zero interval disables the
// background sweep; m may be nil.
func NewManager(
	log logrus.FieldLogger,
	st Store,
	interval time.Duration,
	m *metrics.Metrics,
) Manager {
	return &manager{
		log:      log.WithField("component", "sessions"),
		store:    st,
		metrics:  m,
		interval: interval,
		index:    make(map[string]store.Session),
		checked:  make(map[string]time.Time),
		done:     make(chan struct{}),
	}
}

// GenerateToken returns a random 256-bit hex token.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}

	return hex.EncodeToString(b), nil
}

// Start warms the index from the store and launches the sweep loop.
func (m *manager) Start(ctx context.Context) error {
	sessions, err := m.store.ListActiveSessions(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("loading sessions: %w", err)
	}

	loadedAt := time.Now()

	m.mu.Lock()
	for _, s := range sessions {
		m.index[s.Token] = s
		m.checked[s.Token] = loadedAt
	}
	m.mu.Unlock()

	m.updateGauge()

	m.log.WithField("sessions", len(sessions)).Info("Session index loaded")

	if m.interval <= 0 {
		return nil
	}

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := m.Sweep(ctx, time.Now()); err != nil {
					m.log.WithError(err).
						Warn("Failed to clean expired sessions")
				}
			case <-m.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop terminates the sweep loop.
func (m *manager) Stop() error {
	close(m.done)
	m.wg.Wait()

	return nil
}

func (m *manager) Create(
	ctx context.Context, req NewSession, now time.Time,
) (*store.Session, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	s := &store.Session{
		Token:          token,
		ServiceID:      req.ServiceID,
		SharedLinkID:   req.SharedLinkID,
		UserID:         req.Identity,
		Groups:         store.EncodeStringList(req.Groups),
		ExpiresAt:      req.ExpiresAt.UTC(),
		LastAccessedAt: now.UTC(),
	}

	if err := m.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	m.mu.Lock()
	m.index[token] = *s
	m.checked[token] = now
	m.mu.Unlock()

	m.updateGauge()

	m.log.WithFields(logrus.Fields{
		"service_id": s.ServiceID,
		"user":       s.UserID,
		"expires_at": s.ExpiresAt,
	}).Debug("Session created")

	return s, nil
}

// Get resolves token. Sessions not yet indexed, or not re-read from the
// store within RevalidateInterval, are loaded from the store; a row that
// is gone evicts the index entry. An expired session is purged and
// ErrExpired returned.
func (m *manager) Get(
	ctx context.Context, token string, now time.Time,
) (*store.Session, error) {
	if token == "" {
		return nil, ErrNotFound
	}

	m.mu.RLock()
	s, ok := m.index[token]
	checkedAt := m.checked[token]
	m.mu.RUnlock()

	if !ok || now.Sub(checkedAt) >= RevalidateInterval {
		loaded, err := m.store.GetSessionByToken(ctx, token)
		if errors.Is(err, store.ErrNotFound) {
			if ok {
				m.evict(token)
				m.log.Debug("Dropped session revoked outside this process")
			}

			return nil, ErrNotFound
		}

		if err != nil {
			return nil, fmt.Errorf("loading session: %w", err)
		}

		s = *loaded

		m.mu.Lock()
		m.index[token] = s
		m.checked[token] = now
		m.mu.Unlock()

		if !ok {
			m.updateGauge()
		}
	}

	if !now.Before(s.ExpiresAt) {
		if err := m.Delete(ctx, token); err != nil {
			m.log.WithError(err).Warn("Failed to purge expired session")
		}

		return nil, ErrExpired
	}

	return &s, nil
}

func (m *manager) Extend(
	ctx context.Context, token string, expiresAt time.Time,
) error {
	expiresAt = expiresAt.UTC()

	if err := m.store.UpdateSessionExpiry(ctx, token, expiresAt); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.evict(token)

			return ErrNotFound
		}

		return fmt.Errorf("extending session: %w", err)
	}

	m.mu.Lock()
	if s, ok := m.index[token]; ok {
		s.ExpiresAt = expiresAt
		m.index[token] = s
	}
	m.mu.Unlock()

	return nil
}

// Touch records an access, writing to the store at most once per
// touchInterval per session.
func (m *manager) Touch(ctx context.Context, token string, now time.Time) error {
	m.mu.Lock()
	s, ok := m.index[token]
	if !ok || now.Sub(s.LastAccessedAt) < touchInterval {
		m.mu.Unlock()

		return nil
	}

	s.LastAccessedAt = now.UTC()
	m.index[token] = s
	m.mu.Unlock()

	if err := m.store.UpdateSessionLastAccessed(ctx, token, now); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}

	return nil
}

func (m *manager) Delete(ctx context.Context, token string) error {
	m.evict(token)

	if err := m.store.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	return nil
}

func (m *manager) DeleteForService(ctx context.Context, serviceID string) error {
	m.mu.Lock()
	for token, s := range m.index {
		if s.ServiceID == serviceID {
			delete(m.index, token)
			delete(m.checked, token)
		}
	}
	m.mu.Unlock()

	m.updateGauge()

	if err := m.store.DeleteSessionsByService(ctx, serviceID); err != nil {
		return fmt.Errorf("deleting service sessions: %w", err)
	}

	return nil
}

// List returns unexpired sessions from the store, oldest first.
func (m *manager) List(ctx context.Context, now time.Time) ([]store.Session, error) {
	sessions, err := m.store.ListActiveSessions(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	return sessions, nil
}

// Sweep deletes every session expired at now.
func (m *manager) Sweep(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	for token, s := range m.index {
		if !now.Before(s.ExpiresAt) {
			delete(m.index, token)
			delete(m.checked, token)
		}
	}
	m.mu.Unlock()

	m.updateGauge()

	removed, err := m.store.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweeping sessions: %w", err)
	}

	return removed, nil
}

func (m *manager) evict(token string) {
	m.mu.Lock()
	delete(m.index, token)
	delete(m.checked, token)
	m.mu.Unlock()

	m.updateGauge()
}

func (m *manager) updateGauge() {
	m.mu.RLock()
	n := len(m.index)
	m.mu.RUnlock()

	m.metrics.SetActiveSessions(n)
}
