package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	readingdomain "github.com/smallbiznis/kwhtracker/internal/reading/domain"
	pkgdb "github.com/smallbiznis/kwhtracker/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() readingdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, reading *readingdomain.Reading) error {
	normalize(reading)
	err := db.WithContext(ctx).Create(reading).Error
	if pkgdb.IsDuplicateKeyErr(err) {
		return readingdomain.ErrDuplicateReading
	}
	return err
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, reading *readingdomain.Reading) error {
	normalize(reading)
	return db.WithContext(ctx).
		Model(&readingdomain.Reading{}).
		Where("user_id = ? AND id = ?", reading.UserID, reading.ID).
		Updates(map[string]any{
			"recorded_at":      reading.RecordedAt,
			"kwh_value":        reading.KwhValue,
			"is_top_up":        reading.IsTopUp,
			"token_amount":     reading.TokenAmount,
			"effective_tariff": reading.EffectiveTariff,
			"purchased_kwh":    reading.PurchasedKwh,
			"tariff_tier_id":   reading.TariffTierID,
			"notes":            reading.Notes,
			"updated_at":       reading.UpdatedAt,
		}).Error
}

func (r *repo) Restore(ctx context.Context, db *gorm.DB, reading *readingdomain.Reading) error {
	normalize(reading)
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(reading).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, id).
		Delete(&readingdomain.Reading{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*readingdomain.Reading, error) {
	var reading readingdomain.Reading
	err := db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, id).
		Take(&reading).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reading, nil
}

func (r *repo) Latest(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*readingdomain.Reading, error) {
	var reading readingdomain.Reading
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("recorded_at DESC").
		Order("id DESC").
		Take(&reading).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reading, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]readingdomain.Reading, error) {
	var items []readingdomain.Reading
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("recorded_at ASC").
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListRecent(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]readingdomain.Reading, error) {
	if limit <= 0 {
		return r.ListByUser(ctx, db, userID)
	}

	var items []readingdomain.Reading
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("recorded_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// normalize stores instants in UTC so that ordering on recorded_at is consistent across dialects.
func normalize(reading *readingdomain.Reading) {
	reading.RecordedAt = reading.RecordedAt.UTC()
	reading.CreatedAt = reading.CreatedAt.UTC()
	reading.UpdatedAt = reading.UpdatedAt.UTC()
}
