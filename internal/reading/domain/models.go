package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Reading is one observation of the meter's remaining kWh.
// Top-up readings carry the purchase: nominal, applied tariff and the kWh it bought.
type Reading struct {
	ID              snowflake.ID     `json:"id" gorm:"primaryKey"`
	UserID          snowflake.ID     `json:"user_id" gorm:"column:user_id;not null;index:idx_meter_readings_user_recorded,priority:1"`
	RecordedAt      time.Time        `json:"recorded_at" gorm:"column:recorded_at;not null;index:idx_meter_readings_user_recorded,priority:2"`
	KwhValue        float64          `json:"kwh_value" gorm:"column:kwh_value;not null"`
	IsTopUp         bool             `json:"is_top_up" gorm:"column:is_top_up;not null;default:false"`
	TokenAmount     *decimal.Decimal `json:"token_amount,omitempty" gorm:"column:token_amount;type:numeric"`
	EffectiveTariff *decimal.Decimal `json:"effective_tariff,omitempty" gorm:"column:effective_tariff;type:numeric"`
	PurchasedKwh    *float64         `json:"purchased_kwh,omitempty" gorm:"column:purchased_kwh"`
	TariffTierID    *snowflake.ID    `json:"tariff_tier_id,omitempty" gorm:"column:tariff_tier_id"`
	Notes           string           `json:"notes,omitempty" gorm:"type:text"`
	CreatedAt       time.Time        `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time        `json:"updated_at" gorm:"not null"`
}

func (Reading) TableName() string { return "meter_readings" }

// Less orders readings by RecordedAt, falling back to ID for equal instants.
func Less(a, b Reading) bool {
	if !a.RecordedAt.Equal(b.RecordedAt) {
		return a.RecordedAt.Before(b.RecordedAt)
	}
	return a.ID < b.ID
}
