package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

func (s *store) CreateService(ctx context.Context, service *Service) error {
	if service.Enabled && service.EnabledAt == nil {
		now := time.Now().UTC()
		service.EnabledAt = &now
	}

	if err := s.db.WithContext(ctx).Create(service).Error; err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	return nil
}

func (s *store) UpdateService(ctx context.Context, service *Service) error {
	if service.Enabled && service.EnabledAt == nil {
		now := time.Now().UTC()
		service.EnabledAt = &now
	}

	if err := s.db.WithContext(ctx).Save(service).Error; err != nil {
		return fmt.Errorf("updating service: %w", err)
	}

	return nil
}

func (s *store) GetService(ctx context.Context, id string) (*Service, error) {
	var service Service
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&service).Error; err != nil {
		return nil, fmt.Errorf("getting service: %w", notFound(err))
	}

	return &service, nil
}

func (s *store) ListServices(ctx context.Context) ([]Service, error) {
	var services []Service
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&services).Error; err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}

	return services, nil
}

func (s *store) ListEnabledServices(ctx context.Context) ([]Service, error) {
	var services []Service
	if err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("id ASC").
		Find(&services).Error; err != nil {
		return nil, fmt.Errorf("listing enabled services: %w", err)
	}

	return services, nil
}

// SetServiceEnabled toggles a service. Enabling restarts the auto-disable
// clock at now.
func (s *store) SetServiceEnabled(
	ctx context.Context, id string, enabled bool, now time.Time,
) error {
	updates := map[string]any{"enabled": enabled}
	if enabled {
		updates["enabled_at"] = now.UTC()
	}

	result := s.db.WithContext(ctx).
		Model(&Service{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("setting service enabled: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("setting service enabled: %w", ErrNotFound)
	}

	return nil
}

// DisableExpiredServices disables every enabled service whose auto-disable
// deadline is at or before now and returns their ids. Idempotent.
func (s *store) DisableExpiredServices(
	ctx context.Context, now time.Time,
) ([]string, error) {
	var candidates []Service
	if err := s.db.WithContext(ctx).
		Where("enabled = ? AND enable_duration_minutes IS NOT NULL", true).
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("listing timed services: %w", err)
	}

	expired := make([]string, 0, len(candidates))

	for i := range candidates {
		if candidates[i].Expired(now) {
			expired = append(expired, candidates[i].ID)
		}
	}

	if len(expired) == 0 {
		return nil, nil
	}

	if err := s.db.WithContext(ctx).
		Model(&Service{}).
		Where("id IN ? AND enabled = ?", expired, true).
		Update("enabled", false).Error; err != nil {
		return nil, fmt.Errorf("disabling expired services: %w", err)
	}

	s.log.WithField("count", len(expired)).
		Info("Disabled expired services")

	return expired, nil
}

// DeleteService removes a service together with its security configs,
// shared links and sessions.
func (s *store) DeleteService(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{
			&Session{},
			&SharedLink{},
			&SecurityConfig{},
		} {
			if err := tx.Where("service_id = ?", id).
				Delete(model).Error; err != nil {
				return fmt.Errorf("deleting service dependents: %w", err)
			}
		}

		result := tx.Where("id = ?", id).Delete(&Service{})
		if result.Error != nil {
			return fmt.Errorf("deleting service: %w", result.Error)
		}

		if result.RowsAffected == 0 {
			return fmt.Errorf("deleting service: %w", ErrNotFound)
		}

		return nil
	})
}
