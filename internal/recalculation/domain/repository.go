package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, batch *Batch) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Batch, error)
	// MarkRolledBack voids a pending batch. It reports false when the batch was not pending.
	MarkRolledBack(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, actorID *snowflake.ID, reason string) (bool, error)
	// ListPending returns PENDING_ROLLBACK batches whose window is still open at now, newest first.
	ListPending(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) ([]Batch, error)
	// ListByUser returns the batch history newest first; limit <= 0 returns everything.
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]Batch, error)
}
