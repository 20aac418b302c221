package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	recalculationdomain "github.com/smallbiznis/kwhtracker/internal/recalculation/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() recalculationdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, batch *recalculationdomain.Batch) error {
	batch.CreatedAt = batch.CreatedAt.UTC()
	batch.CanRollbackUntil = batch.CanRollbackUntil.UTC()
	return db.WithContext(ctx).Create(batch).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*recalculationdomain.Batch, error) {
	var batch recalculationdomain.Batch
	err := db.WithContext(ctx).Where("id = ?", id).Take(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *repo) MarkRolledBack(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, actorID *snowflake.ID, reason string) (bool, error) {
	result := db.WithContext(ctx).
		Model(&recalculationdomain.Batch{}).
		Where("id = ? AND status = ?", id, recalculationdomain.StatusPendingRollback).
		Updates(map[string]any{
			"status":          recalculationdomain.StatusRolledBack,
			"rolled_back_at":  at.UTC(),
			"rolled_back_by":  actorID,
			"rollback_reason": reason,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ListPending(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) ([]recalculationdomain.Batch, error) {
	var items []recalculationdomain.Batch
	err := db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND can_rollback_until >= ?", userID, recalculationdomain.StatusPendingRollback, now.UTC()).
		Order("created_at DESC").
		Order("id DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]recalculationdomain.Batch, error) {
	var items []recalculationdomain.Batch
	stmt := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
