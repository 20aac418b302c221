package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tier *TariffTier) error
	Update(ctx context.Context, db *gorm.DB, tier *TariffTier) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*TariffTier, error)
	// ListActive returns active tiers. forUpdate locks the rows where the dialect supports it.
	ListActive(ctx context.Context, db *gorm.DB, forUpdate bool) ([]TariffTier, error)
	List(ctx context.Context, db *gorm.DB) ([]TariffTier, error)
}
