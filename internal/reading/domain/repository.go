package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, reading *Reading) error
	Update(ctx context.Context, db *gorm.DB, reading *Reading) error
	// Restore writes reading back with its original ID, replacing any row that holds it.
	Restore(ctx context.Context, db *gorm.DB, reading *Reading) error
	Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*Reading, error)
	Latest(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Reading, error)
	// ListByUser returns every reading of the user ordered by (recorded_at, id).
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]Reading, error)
	// ListRecent returns the newest limit readings, still ordered ascending.
	ListRecent(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]Reading, error)
}
