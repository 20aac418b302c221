package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/kwhtracker/internal/clock"
	tariffdomain "github.com/smallbiznis/kwhtracker/internal/tariff/domain"
	"github.com/smallbiznis/kwhtracker/internal/tariff/resolver"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  tariffdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  tariffdomain.Repository
}

func New(p Params) tariffdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("tariff.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req tariffdomain.CreateRequest) (*tariffdomain.Response, error) {
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := s.clock.Now().UTC()
	entity := &tariffdomain.TariffTier{
		ID:              s.genID.Generate(),
		Label:           strings.TrimSpace(req.Label),
		MinNominal:      req.MinNominal,
		MaxNominal:      req.MaxNominal,
		EffectiveTariff: req.EffectiveTariff,
		Active:          active,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Metadata != nil {
		entity.Metadata = datatypes.JSONMap(req.Metadata)
	}
	if err := validateTier(entity); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureNoOverlap(ctx, tx, *entity); err != nil {
			return err
		}
		return s.repo.Insert(ctx, tx, entity)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("tariff tier created",
		zap.String("tier_id", entity.ID.String()),
		zap.String("min_nominal", entity.MinNominal.String()),
		zap.String("effective_tariff", entity.EffectiveTariff.String()),
	)
	return toResponse(entity), nil
}

func (s *Service) Update(ctx context.Context, req tariffdomain.UpdateRequest) (*tariffdomain.Response, error) {
	tierID, err := parseID(req.ID)
	if err != nil {
		return nil, tariffdomain.ErrInvalidID
	}

	var updated *tariffdomain.TariffTier
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, tierID)
		if err != nil {
			return err
		}
		if current == nil {
			return tariffdomain.ErrNotFound
		}

		current.Label = strings.TrimSpace(req.Label)
		current.MinNominal = req.MinNominal
		current.MaxNominal = req.MaxNominal
		current.EffectiveTariff = req.EffectiveTariff
		current.Active = req.Active
		if req.Metadata != nil {
			current.Metadata = datatypes.JSONMap(req.Metadata)
		}
		current.UpdatedAt = s.clock.Now().UTC()

		if err := validateTier(current); err != nil {
			return err
		}
		if err := s.ensureNoOverlap(ctx, tx, *current); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, tx, current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	return toResponse(updated), nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	tierID, err := parseID(id)
	if err != nil {
		return tariffdomain.ErrInvalidID
	}

	deleted, err := s.repo.Delete(ctx, s.db, tierID)
	if err != nil {
		return err
	}
	if !deleted {
		return tariffdomain.ErrNotFound
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*tariffdomain.Response, error) {
	tierID, err := parseID(id)
	if err != nil {
		return nil, tariffdomain.ErrInvalidID
	}

	entity, err := s.repo.FindByID(ctx, s.db, tierID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, tariffdomain.ErrNotFound
	}
	return toResponse(entity), nil
}

func (s *Service) ListAll(ctx context.Context) ([]tariffdomain.Response, error) {
	items, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}

	resp := make([]tariffdomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, *toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) ListActive(ctx context.Context) ([]tariffdomain.TariffTier, error) {
	return s.repo.ListActive(ctx, s.db, false)
}

func (s *Service) Resolve(ctx context.Context, nominal decimal.Decimal) (tariffdomain.TariffTier, error) {
	tiers, err := s.repo.ListActive(ctx, s.db, false)
	if err != nil {
		return tariffdomain.TariffTier{}, err
	}
	return resolver.Resolve(tiers, nominal)
}

func (s *Service) ensureNoOverlap(ctx context.Context, tx *gorm.DB, candidate tariffdomain.TariffTier) error {
	existing, err := s.repo.ListActive(ctx, tx, true)
	if err != nil {
		return err
	}
	if err := resolver.ValidateNoOverlap(candidate, existing); err != nil {
		if errors.Is(err, tariffdomain.ErrOverlappingTierRange) {
			s.log.Warn("rejected overlapping tariff tier",
				zap.String("min_nominal", candidate.MinNominal.String()),
				zap.Stringp("max_nominal", decimalString(candidate.MaxNominal)),
			)
		}
		return err
	}
	return nil
}

func validateTier(t *tariffdomain.TariffTier) error {
	if t.Label == "" {
		return tariffdomain.ErrInvalidLabel
	}
	if t.MinNominal.IsNegative() {
		return tariffdomain.ErrInvalidMinNominal
	}
	if t.MaxNominal != nil && !t.MaxNominal.GreaterThan(t.MinNominal) {
		return tariffdomain.ErrInvalidMaxNominal
	}
	if !t.EffectiveTariff.IsPositive() {
		return tariffdomain.ErrInvalidEffectiveTariff
	}
	return nil
}

func toResponse(t *tariffdomain.TariffTier) *tariffdomain.Response {
	resp := &tariffdomain.Response{
		ID:              t.ID.String(),
		Label:           t.Label,
		MinNominal:      t.MinNominal,
		MaxNominal:      t.MaxNominal,
		EffectiveTariff: t.EffectiveTariff,
		Active:          t.Active,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
	if t.Metadata != nil {
		resp.Metadata = map[string]any(t.Metadata)
	}
	return resp
}

func decimalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(value))
}
