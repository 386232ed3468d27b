package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// CreateSecurityConfig attaches a policy to a service, rejecting a second
// enabled shared_link or sso policy.
func (s *store) CreateSecurityConfig(
	ctx context.Context, cfg *SecurityConfig,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkSinglePolicy(tx, cfg); err != nil {
			return err
		}

		if err := tx.Create(cfg).Error; err != nil {
			return fmt.Errorf("creating security config: %w", err)
		}

		return nil
	})
}

func (s *store) UpdateSecurityConfig(
	ctx context.Context, cfg *SecurityConfig,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkSinglePolicy(tx, cfg); err != nil {
			return err
		}

		if err := tx.Save(cfg).Error; err != nil {
			return fmt.Errorf("updating security config: %w", err)
		}

		return nil
	})
}

func checkSinglePolicy(tx *gorm.DB, cfg *SecurityConfig) error {
	if !cfg.Enabled || cfg.Type == SecurityTypeBasicAuth {
		return nil
	}

	query := tx.Model(&SecurityConfig{}).
		Where("service_id = ? AND type = ? AND enabled = ?",
			cfg.ServiceID, cfg.Type, true)
	if cfg.ID != "" {
		query = query.Where("id <> ?", cfg.ID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("counting security configs: %w", err)
	}

	if count > 0 {
		return fmt.Errorf("%s policy for service %s: %w",
			cfg.Type, cfg.ServiceID, ErrDuplicatePolicy)
	}

	return nil
}

func (s *store) GetSecurityConfig(
	ctx context.Context, id string,
) (*SecurityConfig, error) {
	var cfg SecurityConfig
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&cfg).Error; err != nil {
		return nil, fmt.Errorf("getting security config: %w", notFound(err))
	}

	return &cfg, nil
}

// ListSecurityConfigs returns a service's configs, highest priority first.
func (s *store) ListSecurityConfigs(
	ctx context.Context, serviceID string,
) ([]SecurityConfig, error) {
	var cfgs []SecurityConfig
	if err := s.db.WithContext(ctx).
		Where("service_id = ?", serviceID).
		Order("priority DESC, id ASC").
		Find(&cfgs).Error; err != nil {
		return nil, fmt.Errorf("listing security configs: %w", err)
	}

	return cfgs, nil
}

func (s *store) ListEnabledSecurityConfigs(
	ctx context.Context,
) ([]SecurityConfig, error) {
	var cfgs []SecurityConfig
	if err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("service_id ASC, priority DESC, id ASC").
		Find(&cfgs).Error; err != nil {
		return nil, fmt.Errorf("listing enabled security configs: %w", err)
	}

	return cfgs, nil
}

func (s *store) DeleteSecurityConfig(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&SecurityConfig{}).Error; err != nil {
		return fmt.Errorf("deleting security config: %w", err)
	}

	return nil
}
