package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Response, error)
	ListAll(ctx context.Context) ([]Response, error)
	ListActive(ctx context.Context) ([]TariffTier, error)
	// Resolve picks the active tier for a purchase nominal.
	Resolve(ctx context.Context, nominal decimal.Decimal) (TariffTier, error)
}

type CreateRequest struct {
	Label           string           `json:"label"`
	MinNominal      decimal.Decimal  `json:"min_nominal"`
	MaxNominal      *decimal.Decimal `json:"max_nominal"`
	EffectiveTariff decimal.Decimal  `json:"effective_tariff"`
	Active          *bool            `json:"active"`
	Metadata        map[string]any   `json:"metadata"`
}

type UpdateRequest struct {
	ID              string           `json:"id"`
	Label           string           `json:"label"`
	MinNominal      decimal.Decimal  `json:"min_nominal"`
	MaxNominal      *decimal.Decimal `json:"max_nominal"`
	EffectiveTariff decimal.Decimal  `json:"effective_tariff"`
	Active          bool             `json:"active"`
	Metadata        map[string]any   `json:"metadata"`
}

type Response struct {
	ID              string           `json:"id"`
	Label           string           `json:"label"`
	MinNominal      decimal.Decimal  `json:"min_nominal"`
	MaxNominal      *decimal.Decimal `json:"max_nominal,omitempty"`
	EffectiveTariff decimal.Decimal  `json:"effective_tariff"`
	Active          bool             `json:"active"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

var (
	ErrInvalidID              = errors.New("invalid_id")
	ErrInvalidLabel           = errors.New("invalid_label")
	ErrInvalidMinNominal      = errors.New("invalid_min_nominal")
	ErrInvalidMaxNominal      = errors.New("invalid_max_nominal")
	ErrInvalidEffectiveTariff = errors.New("invalid_effective_tariff")
	ErrOverlappingTierRange   = errors.New("overlapping_tier_range")
	ErrTariffNotFound         = errors.New("tariff_not_found")
	ErrNotFound               = errors.New("not_found")
	ErrDuplicateTier          = errors.New("duplicate_tier")
)
