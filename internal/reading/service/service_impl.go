package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/kwhtracker/internal/clock"
	"github.com/smallbiznis/kwhtracker/internal/config"
	"github.com/smallbiznis/kwhtracker/internal/observability/logger"
	"github.com/smallbiznis/kwhtracker/internal/observability/metrics"
	readingdomain "github.com/smallbiznis/kwhtracker/internal/reading/domain"
	recalculationdomain "github.com/smallbiznis/kwhtracker/internal/recalculation/domain"
	tariffdomain "github.com/smallbiznis/kwhtracker/internal/tariff/domain"
	"github.com/smallbiznis/kwhtracker/internal/tariff/resolver"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sourceAppend   = "append"
	sourceBackdate = "backdate"
	sourceEdit     = "edit"
	sourceDelete   = "delete"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Engine  *config.EngineConfigHolder
	Repo    readingdomain.Repository
	Tariffs tariffdomain.Service
	Ledger  recalculationdomain.Service
	Metrics *metrics.Metrics                     `optional:"true"`
	Cache   recalculationdomain.CacheInvalidator `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	engine  *config.EngineConfigHolder
	repo    readingdomain.Repository
	tariffs tariffdomain.Service
	ledger  recalculationdomain.Service
	metrics *metrics.Metrics
	cache   recalculationdomain.CacheInvalidator
}

func New(p Params) readingdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("reading.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		engine:  p.Engine,
		repo:    p.Repo,
		tariffs: p.Tariffs,
		ledger:  p.Ledger,
		metrics: p.Metrics,
		cache:   p.Cache,
	}
}

func (s *Service) Record(ctx context.Context, req readingdomain.CreateRequest) (*readingdomain.Response, error) {
	userID, err := parseID(req.UserID)
	if err != nil || userID == 0 {
		return nil, readingdomain.ErrInvalidUser
	}
	actorID, err := parseOptionalID(req.ActorID)
	if err != nil {
		return nil, readingdomain.ErrInvalidID
	}
	in := fields{
		RecordedAt:      req.RecordedAt,
		KwhValue:        req.KwhValue,
		IsTopUp:         req.IsTopUp,
		TokenAmount:     req.TokenAmount,
		EffectiveTariff: req.EffectiveTariff,
		Notes:           req.Notes,
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	ctx = logger.ContextWithUserID(ctx, userID.String())

	now := s.clock.Now().UTC()
	reading := readingdomain.Reading{
		ID:        s.genID.Generate(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.apply(&reading)
	if err := s.enrich(ctx, &reading); err != nil {
		return nil, err
	}

	trigger := recalculationdomain.TriggerManualCorrection
	if reading.IsTopUp {
		trigger = recalculationdomain.TriggerBackdateTopUp
	}
	batch, err := s.ledger.Apply(ctx, recalculationdomain.ApplyRequest{
		UserID:      userID,
		ActorID:     actorID,
		TriggerType: trigger,
		Reason:      req.Reason,
		Forward: func(current []readingdomain.Reading) bool {
			return len(current) == 0 || !reading.RecordedAt.Before(current[len(current)-1].RecordedAt)
		},
		Mutate: func(ctx context.Context, tx *gorm.DB) ([]recalculationdomain.ReadingChange, error) {
			if err := s.repo.Insert(ctx, tx, &reading); err != nil {
				return nil, err
			}
			after := reading
			return []recalculationdomain.ReadingChange{{ReadingID: reading.ID, After: &after}}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	if batch == nil {
		if s.cache != nil {
			s.cache.Invalidate(userID)
		}
		s.metrics.RecordReading(ctx, sourceAppend, reading.IsTopUp)
		return &readingdomain.Response{Reading: reading}, nil
	}

	s.metrics.RecordReading(ctx, sourceBackdate, reading.IsTopUp)
	return &readingdomain.Response{Reading: reading, MutationResponse: mutationResponse(batch)}, nil
}

func (s *Service) Update(ctx context.Context, req readingdomain.UpdateRequest) (*readingdomain.Response, error) {
	id, err := parseID(req.ID)
	if err != nil || id == 0 {
		return nil, readingdomain.ErrInvalidID
	}
	userID, err := parseID(req.UserID)
	if err != nil || userID == 0 {
		return nil, readingdomain.ErrInvalidUser
	}
	actorID, err := parseOptionalID(req.ActorID)
	if err != nil {
		return nil, readingdomain.ErrInvalidID
	}
	in := fields{
		RecordedAt:      req.RecordedAt,
		KwhValue:        req.KwhValue,
		IsTopUp:         req.IsTopUp,
		TokenAmount:     req.TokenAmount,
		EffectiveTariff: req.EffectiveTariff,
		Notes:           req.Notes,
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	ctx = logger.ContextWithUserID(ctx, userID.String())

	current, err := s.repo.FindByID(ctx, s.db, userID, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, readingdomain.ErrNotFound
	}

	// Tier lookups run before the ledger transaction opens.
	updated := *current
	in.apply(&updated)
	updated.UpdatedAt = s.clock.Now().UTC()
	if err := s.enrich(ctx, &updated); err != nil {
		return nil, err
	}

	trigger := recalculationdomain.TriggerManualCorrection
	if current.IsTopUp || updated.IsTopUp {
		trigger = recalculationdomain.TriggerEditTopUp
	}
	batch, err := s.ledger.Apply(ctx, recalculationdomain.ApplyRequest{
		UserID:      userID,
		ActorID:     actorID,
		TriggerType: trigger,
		Reason:      req.Reason,
		Mutate: func(ctx context.Context, tx *gorm.DB) ([]recalculationdomain.ReadingChange, error) {
			before, err := s.repo.FindByID(ctx, tx, userID, id)
			if err != nil {
				return nil, err
			}
			if before == nil {
				return nil, readingdomain.ErrNotFound
			}
			after := updated
			after.CreatedAt = before.CreatedAt
			if err := s.repo.Update(ctx, tx, &after); err != nil {
				return nil, err
			}
			return []recalculationdomain.ReadingChange{{ReadingID: id, Before: before, After: &after}}, nil
		},
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordReading(ctx, sourceEdit, updated.IsTopUp)
	return &readingdomain.Response{Reading: updated, MutationResponse: mutationResponse(batch)}, nil
}

func (s *Service) Delete(ctx context.Context, req readingdomain.DeleteRequest) (*readingdomain.MutationResponse, error) {
	id, err := parseID(req.ID)
	if err != nil || id == 0 {
		return nil, readingdomain.ErrInvalidID
	}
	userID, err := parseID(req.UserID)
	if err != nil || userID == 0 {
		return nil, readingdomain.ErrInvalidUser
	}
	actorID, err := parseOptionalID(req.ActorID)
	if err != nil {
		return nil, readingdomain.ErrInvalidID
	}
	ctx = logger.ContextWithUserID(ctx, userID.String())

	current, err := s.repo.FindByID(ctx, s.db, userID, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, readingdomain.ErrNotFound
	}

	trigger := recalculationdomain.TriggerManualCorrection
	if current.IsTopUp {
		trigger = recalculationdomain.TriggerDeleteTopUp
	}
	batch, err := s.ledger.Apply(ctx, recalculationdomain.ApplyRequest{
		UserID:      userID,
		ActorID:     actorID,
		TriggerType: trigger,
		Reason:      req.Reason,
		Mutate: func(ctx context.Context, tx *gorm.DB) ([]recalculationdomain.ReadingChange, error) {
			before, err := s.repo.FindByID(ctx, tx, userID, id)
			if err != nil {
				return nil, err
			}
			if before == nil {
				return nil, readingdomain.ErrNotFound
			}
			deleted, err := s.repo.Delete(ctx, tx, userID, id)
			if err != nil {
				return nil, err
			}
			if !deleted {
				return nil, readingdomain.ErrNotFound
			}
			return []recalculationdomain.ReadingChange{{ReadingID: id, Before: before}}, nil
		},
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordReading(ctx, sourceDelete, current.IsTopUp)
	resp := mutationResponse(batch)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, userID string, limit int) ([]readingdomain.Reading, error) {
	id, err := parseID(userID)
	if err != nil || id == 0 {
		return nil, readingdomain.ErrInvalidUser
	}
	if limit <= 0 {
		return s.repo.ListByUser(ctx, s.db, id)
	}
	return s.repo.ListRecent(ctx, s.db, id, limit)
}

// enrich fills the purchase fields of a top-up. Non top-up readings carry none.
func (s *Service) enrich(ctx context.Context, reading *readingdomain.Reading) error {
	if !reading.IsTopUp {
		reading.TokenAmount = nil
		reading.EffectiveTariff = nil
		reading.PurchasedKwh = nil
		reading.TariffTierID = nil
		return nil
	}
	reading.PurchasedKwh = nil
	reading.TariffTierID = nil
	if reading.TokenAmount == nil {
		return nil
	}

	if reading.EffectiveTariff != nil {
		setPurchased(reading, tariffdomain.TariffTier{EffectiveTariff: *reading.EffectiveTariff})
		return nil
	}

	tier, err := s.tariffs.Resolve(ctx, *reading.TokenAmount)
	switch {
	case err == nil:
		tierID := tier.ID
		rate := tier.EffectiveTariff
		reading.TariffTierID = &tierID
		reading.EffectiveTariff = &rate
		setPurchased(reading, tier)
		return nil
	case errors.Is(err, tariffdomain.ErrTariffNotFound):
	default:
		return err
	}

	fallback := s.engine.Get().Tariff.FallbackPerKwh
	if fallback > 0 {
		rate := decimal.NewFromFloat(fallback)
		reading.EffectiveTariff = &rate
		setPurchased(reading, tariffdomain.TariffTier{EffectiveTariff: rate})
		return nil
	}

	logger.WithContext(ctx, s.log).Info("tariff unknown",
		zap.String("reading_id", reading.ID.String()),
		zap.String("token_amount", reading.TokenAmount.String()),
	)
	return nil
}

func setPurchased(reading *readingdomain.Reading, tier tariffdomain.TariffTier) {
	if kwh, ok := resolver.PurchasedKwh(*reading.TokenAmount, tier); ok {
		reading.PurchasedKwh = &kwh
	}
}

type fields struct {
	RecordedAt      time.Time
	KwhValue        float64
	IsTopUp         bool
	TokenAmount     *decimal.Decimal
	EffectiveTariff *decimal.Decimal
	Notes           string
}

func (f fields) validate() error {
	if f.RecordedAt.IsZero() {
		return readingdomain.ErrInvalidRecordedAt
	}
	if math.IsNaN(f.KwhValue) || math.IsInf(f.KwhValue, 0) || f.KwhValue < 0 {
		return readingdomain.ErrInvalidKwhValue
	}
	if f.TokenAmount != nil && !f.TokenAmount.IsPositive() {
		return readingdomain.ErrInvalidTokenAmount
	}
	if f.EffectiveTariff != nil && !f.EffectiveTariff.IsPositive() {
		return readingdomain.ErrInvalidTariff
	}
	return nil
}

func (f fields) apply(reading *readingdomain.Reading) {
	reading.RecordedAt = f.RecordedAt.UTC()
	reading.KwhValue = f.KwhValue
	reading.IsTopUp = f.IsTopUp
	reading.TokenAmount = f.TokenAmount
	reading.EffectiveTariff = f.EffectiveTariff
	reading.Notes = strings.TrimSpace(f.Notes)
}

func mutationResponse(batch *recalculationdomain.Batch) readingdomain.MutationResponse {
	if batch == nil {
		return readingdomain.MutationResponse{}
	}
	return readingdomain.MutationResponse{
		BatchID:     batch.ID.String(),
		Recomputed:  true,
		DaysChanged: len(batch.AffectedEvents),
	}
}

func parseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(value))
}

func parseOptionalID(value string) (*snowflake.ID, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	id, err := parseID(value)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
