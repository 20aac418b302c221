package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Service interface {
	// Record appends a reading. Readings older than the latest one go through the
	// recalculation ledger; the returned batch ID is empty for plain appends.
	Record(ctx context.Context, req CreateRequest) (*Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Delete(ctx context.Context, req DeleteRequest) (*MutationResponse, error)
	List(ctx context.Context, userID string, limit int) ([]Reading, error)
}

type CreateRequest struct {
	UserID          string           `json:"user_id"`
	ActorID         string           `json:"actor_id"`
	RecordedAt      time.Time        `json:"recorded_at"`
	KwhValue        float64          `json:"kwh_value"`
	IsTopUp         bool             `json:"is_top_up"`
	TokenAmount     *decimal.Decimal `json:"token_amount"`
	EffectiveTariff *decimal.Decimal `json:"effective_tariff"`
	Notes           string           `json:"notes"`
	Reason          string           `json:"reason"`
}

type UpdateRequest struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	ActorID         string           `json:"actor_id"`
	RecordedAt      time.Time        `json:"recorded_at"`
	KwhValue        float64          `json:"kwh_value"`
	IsTopUp         bool             `json:"is_top_up"`
	TokenAmount     *decimal.Decimal `json:"token_amount"`
	EffectiveTariff *decimal.Decimal `json:"effective_tariff"`
	Notes           string           `json:"notes"`
	Reason          string           `json:"reason"`
}

type DeleteRequest struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

type Response struct {
	Reading Reading `json:"reading"`
	MutationResponse
}

type MutationResponse struct {
	BatchID     string `json:"batch_id,omitempty"`
	Recomputed  bool   `json:"recomputed"`
	DaysChanged int    `json:"days_changed"`
}

var (
	ErrInvalidID          = errors.New("invalid_id")
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidRecordedAt  = errors.New("invalid_recorded_at")
	ErrInvalidKwhValue    = errors.New("invalid_kwh_value")
	ErrInvalidTokenAmount = errors.New("invalid_token_amount")
	ErrInvalidTariff      = errors.New("invalid_effective_tariff")
	ErrNotFound           = errors.New("not_found")
	ErrDuplicateReading   = errors.New("duplicate_reading")
)
