package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/featuregate/internal/config"
	"github.com/smallbiznis/featuregate/internal/feature/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SyncCatalog upserts every catalog entry by key inside one transaction.
// Features that exist only in the database are left untouched.
func (s *Service) SyncCatalog(ctx context.Context, entries []config.CatalogEntry) (domain.SyncResult, error) {
	var result domain.SyncResult
	if err := config.ValidateCatalog(entries); err != nil {
		return result, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result = domain.SyncResult{}
		for _, entry := range entries {
			key, err := domain.NormalizeKey(entry.Key)
			if err != nil {
				return err
			}
			name := strings.TrimSpace(entry.Name)
			if name == "" {
				name = key
			}
			description := strings.TrimSpace(entry.Description)
			var descriptionPtr *string
			if description != "" {
				descriptionPtr = &description
			}

			existing, err := s.repo.FindByKey(ctx, tx, key)
			if err != nil {
				return err
			}

			now := s.clock.Now()
			if existing == nil {
				active := true
				if entry.Active != nil {
					active = *entry.Active
				}
				record := &domain.Feature{
					ID:           s.genID.Generate(),
					Key:          key,
					Name:         name,
					Description:  descriptionPtr,
					DefaultValue: entry.DefaultValue,
					Unlimited:    entry.Unlimited,
					Active:       active,
					CreatedAt:    now,
					UpdatedAt:    now,
				}
				if err := s.repo.Create(ctx, tx, record); err != nil {
					return err
				}
				result.Created++
				continue
			}

			changed := existing.Name != name ||
				ptrValue(existing.Description) != description ||
				existing.DefaultValue != entry.DefaultValue ||
				existing.Unlimited != entry.Unlimited ||
				(entry.Active != nil && existing.Active != *entry.Active)
			if !changed {
				result.Unchanged++
				continue
			}

			existing.Name = name
			existing.Description = descriptionPtr
			existing.DefaultValue = entry.DefaultValue
			existing.Unlimited = entry.Unlimited
			if entry.Active != nil {
				existing.Active = *entry.Active
			}
			existing.UpdatedAt = now
			if err := s.repo.Update(ctx, tx, existing); err != nil {
				return err
			}
			result.Updated++
		}
		return nil
	})
	if err != nil {
		return domain.SyncResult{}, err
	}

	if result.Created > 0 || result.Updated > 0 {
		s.invalidateAll()
	}
	s.log.Info("feature catalog synced",
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("unchanged", result.Unchanged),
	)
	return result, nil
}

func ptrValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
