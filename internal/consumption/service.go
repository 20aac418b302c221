// Package consumption is the read-side facade over derivation, aggregation and prediction.
package consumption

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/kwhtracker/internal/clock"
	"github.com/smallbiznis/kwhtracker/internal/config"
	"github.com/smallbiznis/kwhtracker/internal/observability/logger"
	"github.com/smallbiznis/kwhtracker/internal/observability/metrics"
	"github.com/smallbiznis/kwhtracker/internal/prediction"
	readingdomain "github.com/smallbiznis/kwhtracker/internal/reading/domain"
	recalculationdomain "github.com/smallbiznis/kwhtracker/internal/recalculation/domain"
	"github.com/smallbiznis/kwhtracker/internal/snapshot"
	tariffdomain "github.com/smallbiznis/kwhtracker/internal/tariff/domain"
	"github.com/smallbiznis/kwhtracker/internal/usage/derive"
	usagedomain "github.com/smallbiznis/kwhtracker/internal/usage/domain"
	"github.com/smallbiznis/kwhtracker/internal/usage/rollup"
	"github.com/smallbiznis/kwhtracker/pkg/localdate"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Engine   *config.EngineConfigHolder
	Readings readingdomain.Service
	Tariffs  tariffdomain.Service
	Ledger   recalculationdomain.Service
	Cache    *snapshot.Cache  `optional:"true"`
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	engine   *config.EngineConfigHolder
	readings readingdomain.Service
	tariffs  tariffdomain.Service
	ledger   recalculationdomain.Service
	cache    *snapshot.Cache
	metrics  *metrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		log:      p.Log.Named("consumption.service"),
		clock:    p.Clock,
		engine:   p.Engine,
		readings: p.Readings,
		tariffs:  p.Tariffs,
		ledger:   p.Ledger,
		cache:    p.Cache,
		metrics:  p.Metrics,
	}
}

func (s *Service) ComputeDailyUsage(readings []readingdomain.Reading) []usagedomain.DailyUsage {
	return s.deriver(context.Background()).Daily(readings)
}

func (s *Service) AggregateWeekly(daily []usagedomain.DailyUsage, limit int) []usagedomain.WeeklyUsage {
	return rollup.Weekly(daily, limit)
}

func (s *Service) AggregateMonthly(daily []usagedomain.DailyUsage, limit int) []usagedomain.MonthlyUsage {
	return rollup.Monthly(daily, limit)
}

func (s *Service) CalculateTokenPrediction(readings []readingdomain.Reading) prediction.Prediction {
	return s.predictor(context.Background()).PredictDepletion(readings)
}

func (s *Service) CalculateBurnRateProjection(readings []readingdomain.Reading) prediction.BurnRateProjection {
	return s.predictor(context.Background()).ProjectBurnRate(readings)
}

func (s *Service) ResolveTariffTier(ctx context.Context, nominal decimal.Decimal) (tariffdomain.TariffTier, error) {
	return s.tariffs.Resolve(ctx, nominal)
}

func (s *Service) RollbackRecalculation(ctx context.Context, batchID, reason, userID string) (*recalculationdomain.Batch, error) {
	return s.ledger.Rollback(ctx, recalculationdomain.RollbackRequest{
		BatchID: batchID,
		UserID:  userID,
		ActorID: userID,
		Reason:  reason,
	})
}

func (s *Service) PendingRollbacks(ctx context.Context, userID string) ([]recalculationdomain.BatchView, error) {
	return s.ledger.Pending(ctx, userID)
}

// Snapshot derives the full read model of a user. Results are memoized by an input
// fingerprint, so an unchanged reading set and date never derive twice.
func (s *Service) Snapshot(ctx context.Context, userID string) (*Snapshot, error) {
	readings, err := s.readings.List(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	id, err := snowflake.ParseString(userID)
	if err != nil {
		return nil, readingdomain.ErrInvalidUser
	}
	ctx = logger.ContextWithUserID(ctx, userID)

	cfg := s.engine.Get()
	loc := cfg.Location()
	now := s.clock.Now()
	today := localdate.Today(now, loc)
	fingerprint := snapshot.Fingerprint(id, loc, readings,
		localdate.Format(today),
		fmt.Sprintf("%+v", cfg.Prediction),
	)

	var cached Snapshot
	if s.cache.Get(ctx, id, fingerprint, &cached) {
		return &cached, nil
	}

	predictor := s.predictor(ctx)
	daily := s.deriver(ctx).Daily(readings)
	forecast := predictor.Predict(readings, daily)

	snap := &Snapshot{
		UserID:      userID,
		Timezone:    loc.String(),
		Today:       today,
		GeneratedAt: now.UTC(),
		Readings:    len(readings),
		TotalKwh:    derive.Round(usagedomain.TotalKwh(daily)),
		Daily:       daily,
		Weekly:      rollup.Weekly(daily, DefaultWeeks),
		Monthly:     rollup.Monthly(daily, DefaultMonths),
		Prediction:  forecast,
		BurnRate:    predictor.BurnRate(forecast),
	}
	s.metrics.RecordPrediction(ctx, string(forecast.Status))
	s.cache.Set(id, fingerprint, snap)

	logger.WithContext(ctx, s.log).Debug("snapshot derived",
		zap.Int("readings", len(readings)),
		zap.Int("days", len(daily)),
		zap.String("status", string(forecast.Status)),
	)
	return snap, nil
}

func (s *Service) deriver(ctx context.Context) *derive.Deriver {
	return derive.New(s.engine.Get().Location(), s.log,
		derive.WithMalformedHook(func(_ readingdomain.Reading, reason string) {
			s.metrics.RecordMalformed(ctx, reason)
		}),
	)
}

func (s *Service) predictor(ctx context.Context) *prediction.Engine {
	return prediction.New(prediction.ConfigFrom(s.engine.Get().Prediction), s.clock, s.deriver(ctx))
}
