package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TariffTier maps a token purchase nominal range (Rp) to an effective Rp/kWh rate.
// A nil MaxNominal makes the range open-ended.
type TariffTier struct {
	ID              snowflake.ID      `json:"id" gorm:"primaryKey"`
	Label           string            `json:"label" gorm:"type:text;not null"`
	MinNominal      decimal.Decimal   `json:"min_nominal" gorm:"type:numeric;not null"`
	MaxNominal      *decimal.Decimal  `json:"max_nominal,omitempty" gorm:"type:numeric"`
	EffectiveTariff decimal.Decimal   `json:"effective_tariff" gorm:"type:numeric;not null"`
	Active          bool              `json:"active" gorm:"not null;default:true;index"`
	Metadata        datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time         `json:"updated_at" gorm:"not null"`
}

func (TariffTier) TableName() string { return "tariff_tiers" }

// Contains reports whether nominal falls inside the closed range of t.
func (t TariffTier) Contains(nominal decimal.Decimal) bool {
	if nominal.LessThan(t.MinNominal) {
		return false
	}
	return t.MaxNominal == nil || nominal.LessThanOrEqual(*t.MaxNominal)
}
