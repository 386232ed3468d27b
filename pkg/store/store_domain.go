package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// CreateDomain inserts a domain. A default domain unsets every other
// domain's default flag in the same transaction.
func (s *store) CreateDomain(ctx context.Context, domain *Domain) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(domain).Error; err != nil {
			return fmt.Errorf("creating domain: %w", err)
		}

		return unsetOtherDefaults(tx, domain)
	})
}

func (s *store) UpdateDomain(ctx context.Context, domain *Domain) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(domain).Error; err != nil {
			return fmt.Errorf("updating domain: %w", err)
		}

		return unsetOtherDefaults(tx, domain)
	})
}

func unsetOtherDefaults(tx *gorm.DB, domain *Domain) error {
	if !domain.IsDefault {
		return nil
	}

	if err := tx.Model(&Domain{}).
		Where("id <> ?", domain.ID).
		Update("is_default", false).Error; err != nil {
		return fmt.Errorf("unsetting default domains: %w", err)
	}

	return nil
}

func (s *store) GetDomain(ctx context.Context, id string) (*Domain, error) {
	var domain Domain
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&domain).Error; err != nil {
		return nil, fmt.Errorf("getting domain: %w", notFound(err))
	}

	return &domain, nil
}

func (s *store) GetDomainByName(
	ctx context.Context, name string,
) (*Domain, error) {
	var domain Domain
	if err := s.db.WithContext(ctx).
		Where("name = ?", name).
		First(&domain).Error; err != nil {
		return nil, fmt.Errorf("getting domain by name: %w", notFound(err))
	}

	return &domain, nil
}

func (s *store) ListDomains(ctx context.Context) ([]Domain, error) {
	var domains []Domain
	if err := s.db.WithContext(ctx).
		Order("name ASC").
		Find(&domains).Error; err != nil {
		return nil, fmt.Errorf("listing domains: %w", err)
	}

	return domains, nil
}

// DeleteDomain removes a domain unless a service still references it.
func (s *store) DeleteDomain(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var refs int64
		if err := tx.Model(&Service{}).
			Where("domain_id = ?", id).
			Count(&refs).Error; err != nil {
			return fmt.Errorf("counting domain references: %w", err)
		}

		if refs > 0 {
			return ErrDomainInUse
		}

		if err := tx.Where("id = ?", id).
			Delete(&Domain{}).Error; err != nil {
			return fmt.Errorf("deleting domain: %w", err)
		}

		return nil
	})
}
