package store

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

func (s *store) CreateBasicAuthConfig(
	ctx context.Context, cfg *BasicAuthConfig,
) error {
	if err := s.db.WithContext(ctx).Create(cfg).Error; err != nil {
		return fmt.Errorf("creating basic auth config: %w", err)
	}

	return nil
}

func (s *store) GetBasicAuthConfig(
	ctx context.Context, id string,
) (*BasicAuthConfig, error) {
	var cfg BasicAuthConfig
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&cfg).Error; err != nil {
		return nil, fmt.Errorf("getting basic auth config: %w", notFound(err))
	}

	return &cfg, nil
}

func (s *store) GetBasicAuthConfigByName(
	ctx context.Context, name string,
) (*BasicAuthConfig, error) {
	var cfg BasicAuthConfig
	if err := s.db.WithContext(ctx).
		Where("name = ?", name).
		First(&cfg).Error; err != nil {
		return nil, fmt.Errorf("getting basic auth config by name: %w", notFound(err))
	}

	return &cfg, nil
}

func (s *store) ListBasicAuthConfigs(
	ctx context.Context,
) ([]BasicAuthConfig, error) {
	var cfgs []BasicAuthConfig
	if err := s.db.WithContext(ctx).
		Order("name ASC").
		Find(&cfgs).Error; err != nil {
		return nil, fmt.Errorf("listing basic auth configs: %w", err)
	}

	return cfgs, nil
}

// CreateBasicAuthUser hashes password with bcrypt and stores the user.
// Traefik's basicAuth middleware accepts bcrypt hashes as-is.
func (s *store) CreateBasicAuthUser(
	ctx context.Context, configID, username, password string,
) (*BasicAuthUser, error) {
	hash, err := bcrypt.GenerateFromPassword(
		[]byte(password), bcrypt.DefaultCost,
	)
	if err != nil {
		return nil, fmt.Errorf("hashing password for %q: %w", username, err)
	}

	user := &BasicAuthUser{
		BasicAuthConfigID: configID,
		Username:          username,
		PasswordHash:      string(hash),
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("creating basic auth user: %w", err)
	}

	return user, nil
}

func (s *store) ListBasicAuthUsers(
	ctx context.Context, configID string,
) ([]BasicAuthUser, error) {
	var users []BasicAuthUser
	if err := s.db.WithContext(ctx).
		Where("basic_auth_config_id = ?", configID).
		Order("username ASC").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("listing basic auth users: %w", err)
	}

	return users, nil
}

func (s *store) ListAllBasicAuthUsers(
	ctx context.Context,
) ([]BasicAuthUser, error) {
	var users []BasicAuthUser
	if err := s.db.WithContext(ctx).
		Order("basic_auth_config_id ASC, username ASC").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("listing all basic auth users: %w", err)
	}

	return users, nil
}

func (s *store) DeleteBasicAuthUser(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&BasicAuthUser{}).Error; err != nil {
		return fmt.Errorf("deleting basic auth user: %w", err)
	}

	return nil
}
