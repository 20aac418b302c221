package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	tariffdomain "github.com/smallbiznis/kwhtracker/internal/tariff/domain"
	pkgdb "github.com/smallbiznis/kwhtracker/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() tariffdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tier *tariffdomain.TariffTier) error {
	err := db.WithContext(ctx).Create(tier).Error
	if pkgdb.IsDuplicateKeyErr(err) {
		return tariffdomain.ErrDuplicateTier
	}
	return err
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, tier *tariffdomain.TariffTier) error {
	return db.WithContext(ctx).
		Model(&tariffdomain.TariffTier{}).
		Where("id = ?", tier.ID).
		Updates(map[string]any{
			"label":            tier.Label,
			"min_nominal":      tier.MinNominal,
			"max_nominal":      tier.MaxNominal,
			"effective_tariff": tier.EffectiveTariff,
			"active":           tier.Active,
			"metadata":         tier.Metadata,
			"updated_at":       tier.UpdatedAt,
		}).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Where("id = ?", id).Delete(&tariffdomain.TariffTier{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*tariffdomain.TariffTier, error) {
	var tier tariffdomain.TariffTier
	err := db.WithContext(ctx).Where("id = ?", id).Take(&tier).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tier, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, forUpdate bool) ([]tariffdomain.TariffTier, error) {
	var items []tariffdomain.TariffTier
	stmt := db.WithContext(ctx).Where("active = ?", true)
	if forUpdate && supportsRowLocks(db) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := stmt.Order("min_nominal DESC").Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]tariffdomain.TariffTier, error) {
	var items []tariffdomain.TariffTier
	if err := db.WithContext(ctx).Order("min_nominal ASC").Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func supportsRowLocks(db *gorm.DB) bool {
	name := db.Dialector.Name()
	return strings.EqualFold(name, "postgres") || strings.EqualFold(name, "mysql")
}
