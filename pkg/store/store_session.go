package store

import (
	"context"
	"fmt"
	"time"
)

// --- Shared links ---

func (s *store) CreateSharedLink(ctx context.Context, link *SharedLink) error {
	link.ExpiresAt = link.ExpiresAt.UTC()

	if err := s.db.WithContext(ctx).Create(link).Error; err != nil {
		return fmt.Errorf("creating shared link: %w", err)
	}

	return nil
}

func (s *store) GetSharedLink(
	ctx context.Context, token string,
) (*SharedLink, error) {
	var link SharedLink
	if err := s.db.WithContext(ctx).
		Where("token = ?", token).
		First(&link).Error; err != nil {
		return nil, fmt.Errorf("getting shared link: %w", notFound(err))
	}

	return &link, nil
}

func (s *store) ListSharedLinks(
	ctx context.Context, serviceID string,
) ([]SharedLink, error) {
	var links []SharedLink
	if err := s.db.WithContext(ctx).
		Where("service_id = ?", serviceID).
		Order("created_at DESC").
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("listing shared links: %w", err)
	}

	return links, nil
}

// ConsumeSharedLink marks an unused, unexpired link as used with a single
// conditional update, so concurrent callers presenting the same token see
// exactly one success. An empty serviceID matches any service.
//
// A link that does not exist, belongs to another service or was already
// used yields ErrNotFound; an unused link past its expiry yields ErrExpired.
func (s *store) ConsumeSharedLink(
	ctx context.Context, token, serviceID string, now time.Time,
) (*SharedLink, error) {
	now = now.UTC()

	query := s.db.WithContext(ctx).
		Model(&SharedLink{}).
		Where("token = ? AND used = ? AND expires_at > ?", token, false, now)
	if serviceID != "" {
		query = query.Where("service_id = ?", serviceID)
	}

	result := query.Updates(map[string]any{
		"used":    true,
		"used_at": now,
	})
	if result.Error != nil {
		return nil, fmt.Errorf("consuming shared link: %w", result.Error)
	}

	var link SharedLink
	if err := s.db.WithContext(ctx).
		Where("token = ?", token).
		First(&link).Error; err != nil {
		return nil, fmt.Errorf("consuming shared link: %w", notFound(err))
	}

	if result.RowsAffected == 1 {
		return &link, nil
	}

	switch {
	case serviceID != "" && link.ServiceID != serviceID, link.Used:
		return nil, fmt.Errorf("consuming shared link: %w", ErrNotFound)
	case !now.Before(link.ExpiresAt):
		return nil, fmt.Errorf("consuming shared link: %w", ErrExpired)
	default:
		return nil, fmt.Errorf("consuming shared link: %w", ErrNotFound)
	}
}

// --- Sessions ---

func (s *store) CreateSession(ctx context.Context, session *Session) error {
	session.ExpiresAt = session.ExpiresAt.UTC()

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	return nil
}

func (s *store) GetSessionByToken(
	ctx context.Context, token string,
) (*Session, error) {
	var session Session
	if err := s.db.WithContext(ctx).
		Where("token = ?", token).
		First(&session).Error; err != nil {
		return nil, fmt.Errorf("getting session by token: %w", notFound(err))
	}

	return &session, nil
}

func (s *store) ListActiveSessions(
	ctx context.Context, now time.Time,
) ([]Session, error) {
	var sessions []Session
	if err := s.db.WithContext(ctx).
		Where("expires_at > ?", now.UTC()).
		Order("created_at ASC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	return sessions, nil
}

func (s *store) UpdateSessionExpiry(
	ctx context.Context, token string, expiresAt time.Time,
) error {
	result := s.db.WithContext(ctx).
		Model(&Session{}).
		Where("token = ?", token).
		Update("expires_at", expiresAt.UTC())
	if result.Error != nil {
		return fmt.Errorf("updating session expiry: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("updating session expiry: %w", ErrNotFound)
	}

	return nil
}

func (s *store) UpdateSessionLastAccessed(
	ctx context.Context, token string, t time.Time,
) error {
	if err := s.db.WithContext(ctx).
		Model(&Session{}).
		Where("token = ?", token).
		Update("last_accessed_at", t.UTC()).Error; err != nil {
		return fmt.Errorf("updating session last accessed: %w", err)
	}

	return nil
}

func (s *store) DeleteSession(ctx context.Context, token string) error {
	if err := s.db.WithContext(ctx).
		Where("token = ?", token).
		Delete(&Session{}).Error; err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	return nil
}

func (s *store) DeleteSessionsByService(
	ctx context.Context, serviceID string,
) error {
	if err := s.db.WithContext(ctx).
		Where("service_id = ?", serviceID).
		Delete(&Session{}).Error; err != nil {
		return fmt.Errorf("deleting service sessions: %w", err)
	}

	return nil
}

func (s *store) DeleteExpiredSessions(
	ctx context.Context, now time.Time,
) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.log.WithField("count", result.RowsAffected).
			Debug("Cleaned up expired sessions")
	}

	return result.RowsAffected, nil
}
