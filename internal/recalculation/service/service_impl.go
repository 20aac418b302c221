package service

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/smallbiznis/kwhtracker/internal/recalculation/lock"
	"github.com/smallbiznis/kwhtracker/internal/usage/derive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultLockTTL = 30 * time.Second
	storePrecision = time.Millisecond
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Engine      *config.EngineConfigHolder
	Repo        recalculationdomain.Repository
	ReadingRepo readingdomain.Repository
	Locker      lock.Locker
	Metrics     *metrics.LedgerMetrics              `optional:"true"`
	Cache       recalculationdomain.CacheInvalidator `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	engine      *config.EngineConfigHolder
	repo        recalculationdomain.Repository
	readingRepo readingdomain.Repository
	locker      lock.Locker
	metrics     *metrics.LedgerMetrics
	cache       recalculationdomain.CacheInvalidator
	tracer      trace.Tracer
}

func New(p Params) recalculationdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("recalculation.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		engine:      p.Engine,
		repo:        p.Repo,
		readingRepo: p.ReadingRepo,
		locker:      p.Locker,
		metrics:     p.Metrics,
		cache:       p.Cache,
		tracer:      otel.Tracer("kwhtracker/recalculation"),
	}
}

func (s *Service) Apply(ctx context.Context, req recalculationdomain.ApplyRequest) (*recalculationdomain.Batch, error) {
	if req.UserID == 0 {
		return nil, recalculationdomain.ErrInvalidUser
	}
	if req.Mutate == nil || !req.TriggerType.Valid() || req.TriggerType == recalculationdomain.TriggerRollback {
		return nil, recalculationdomain.ErrInvalidMutation
	}

	ctx, span := s.tracer.Start(ctx, "recalculation.apply", trace.WithAttributes(
		attribute.String("trigger_type", string(req.TriggerType)),
	))
	defer span.End()
	ctx = logger.ContextWithUserID(ctx, req.UserID.String())

	started := s.clock.Now()
	var batch *recalculationdomain.Batch
	err := s.withUserLock(ctx, req.UserID, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			before, err := s.readingRepo.ListByUser(ctx, tx, req.UserID)
			if err != nil {
				return fmt.Errorf("load readings: %w", err)
			}

			forward := req.Forward != nil && req.Forward(before)
			changes, err := req.Mutate(ctx, tx)
			if err != nil {
				return err
			}
			if forward {
				return nil
			}

			after, err := s.readingRepo.ListByUser(ctx, tx, req.UserID)
			if err != nil {
				return fmt.Errorf("reload readings: %w", err)
			}

			now := s.clock.Now().UTC()
			deriver := s.deriver()
			batch = &recalculationdomain.Batch{
				ID:               s.genID.Generate(),
				UserID:           req.UserID,
				TriggerType:      req.TriggerType,
				Status:           recalculationdomain.StatusPendingRollback,
				AffectedEvents:   Diff(deriver.Daily(before), deriver.Daily(after)),
				ReadingChanges:   changes,
				Reason:           strings.TrimSpace(req.Reason),
				ActorID:          req.ActorID,
				CreatedAt:        now,
				CanRollbackUntil: now.Add(s.rollbackWindow()),
			}
			return s.repo.Insert(ctx, tx, batch)
		})
	})
	if err != nil {
		s.fail(ctx, span, metrics.LedgerOperationApply, err)
		return nil, err
	}
	if batch == nil {
		span.SetAttributes(attribute.Bool("forward", true))
		return nil, nil
	}

	s.committed(ctx, batch, started)
	return batch, nil
}

func (s *Service) Rollback(ctx context.Context, req recalculationdomain.RollbackRequest) (*recalculationdomain.Batch, error) {
	batchID, err := parseID(req.BatchID)
	if err != nil {
		return nil, recalculationdomain.ErrInvalidBatch
	}
	userID, err := parseID(req.UserID)
	if err != nil || userID == 0 {
		return nil, recalculationdomain.ErrInvalidUser
	}
	var actorID *snowflake.ID
	if strings.TrimSpace(req.ActorID) != "" {
		id, err := parseID(req.ActorID)
		if err != nil {
			return nil, recalculationdomain.ErrInvalidUser
		}
		actorID = &id
	} else {
		actorID = &userID
	}
	reason := strings.TrimSpace(req.Reason)

	ctx, span := s.tracer.Start(ctx, "recalculation.rollback", trace.WithAttributes(
		attribute.String("batch_id", batchID.String()),
	))
	defer span.End()
	ctx = logger.ContextWithUserID(ctx, userID.String())

	started := s.clock.Now()
	var compensation *recalculationdomain.Batch
	err = s.withUserLock(ctx, userID, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			batch, err := s.repo.FindByID(ctx, tx, batchID)
			if err != nil {
				return err
			}
			if batch == nil || batch.UserID != userID {
				return recalculationdomain.ErrRollbackNotFound
			}
			if batch.Status != recalculationdomain.StatusPendingRollback {
				return recalculationdomain.ErrRollbackNotFound
			}

			now := s.clock.Now().UTC()
			if now.After(batch.CanRollbackUntil) {
				return recalculationdomain.ErrRollbackExpired
			}

			before, err := s.readingRepo.ListByUser(ctx, tx, userID)
			if err != nil {
				return fmt.Errorf("load readings: %w", err)
			}
			if err := s.restore(ctx, tx, userID, batch.ReadingChanges); err != nil {
				return err
			}
			after, err := s.readingRepo.ListByUser(ctx, tx, userID)
			if err != nil {
				return fmt.Errorf("reload readings: %w", err)
			}

			voided, err := s.repo.MarkRolledBack(ctx, tx, batch.ID, now, actorID, reason)
			if err != nil {
				return err
			}
			if !voided {
				return recalculationdomain.ErrRollbackNotFound
			}

			deriver := s.deriver()
			compensates := batch.ID
			compensation = &recalculationdomain.Batch{
				ID:                 s.genID.Generate(),
				UserID:             userID,
				TriggerType:        recalculationdomain.TriggerRollback,
				Status:             recalculationdomain.StatusCompensation,
				AffectedEvents:     Diff(deriver.Daily(before), deriver.Daily(after)),
				ReadingChanges:     invert(batch.ReadingChanges),
				CompensatesBatchID: &compensates,
				Reason:             reason,
				ActorID:            actorID,
				CreatedAt:          now,
				CanRollbackUntil:   now,
			}
			return s.repo.Insert(ctx, tx, compensation)
		})
	})
	if err != nil {
		s.fail(ctx, span, metrics.LedgerOperationRollback, err)
		return nil, err
	}

	s.committed(ctx, compensation, started)
	return compensation, nil
}

func (s *Service) Pending(ctx context.Context, userID string) ([]recalculationdomain.BatchView, error) {
	id, err := parseID(userID)
	if err != nil || id == 0 {
		return nil, recalculationdomain.ErrInvalidUser
	}

	now := s.clock.Now()
	items, err := s.repo.ListPending(ctx, s.db, id, now)
	if err != nil {
		return nil, err
	}

	views := make([]recalculationdomain.BatchView, 0, len(items))
	for _, item := range items {
		if !item.Rollbackable(now) {
			continue
		}
		views = append(views, view(item, now))
	}
	return views, nil
}

func (s *Service) History(ctx context.Context, userID string, limit int) ([]recalculationdomain.BatchView, error) {
	id, err := parseID(userID)
	if err != nil || id == 0 {
		return nil, recalculationdomain.ErrInvalidUser
	}

	items, err := s.repo.ListByUser(ctx, s.db, id, limit)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	views := make([]recalculationdomain.BatchView, 0, len(items))
	for _, item := range items {
		views = append(views, view(item, now))
	}
	return views, nil
}

// restore replays reading images newest change first so that later edits are undone before earlier ones.
// Every reading must still match the image the batch left behind, otherwise a newer change
// touched it and the batch can no longer be undone on its own.
func (s *Service) restore(ctx context.Context, tx *gorm.DB, userID snowflake.ID, changes []recalculationdomain.ReadingChange) error {
	for i := len(changes) - 1; i >= 0; i-- {
		change := changes[i]
		current, err := s.readingRepo.FindByID(ctx, tx, userID, change.ReadingID)
		if err != nil {
			return fmt.Errorf("load reading %s: %w", change.ReadingID, err)
		}
		if !sameImage(current, change.After) {
			return fmt.Errorf("reading %s: %w", change.ReadingID, recalculationdomain.ErrRollbackConflict)
		}

		if change.Before == nil {
			if _, err := s.readingRepo.Delete(ctx, tx, userID, change.ReadingID); err != nil {
				return fmt.Errorf("remove reading %s: %w", change.ReadingID, err)
			}
			continue
		}

		image := *change.Before
		if image.UserID != userID {
			return recalculationdomain.ErrRollbackNotFound
		}
		if err := s.readingRepo.Restore(ctx, tx, &image); err != nil {
			return fmt.Errorf("restore reading %s: %w", change.ReadingID, err)
		}
	}
	return nil
}

// sameImage compares the fields a mutation can change. Instants may differ by less than
// storePrecision because dialects keep fewer fractional digits than time.Time.
func sameImage(current, image *readingdomain.Reading) bool {
	if current == nil || image == nil {
		return current == nil && image == nil
	}
	drift := current.RecordedAt.Sub(image.RecordedAt)
	return drift > -storePrecision && drift < storePrecision &&
		current.KwhValue == image.KwhValue &&
		current.IsTopUp == image.IsTopUp &&
		equalDecimal(current.TokenAmount, image.TokenAmount) &&
		equalDecimal(current.EffectiveTariff, image.EffectiveTariff) &&
		equalFloat(current.PurchasedKwh, image.PurchasedKwh) &&
		equalID(current.TariffTierID, image.TariffTierID) &&
		current.Notes == image.Notes
}

func equalDecimal(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalID(a, b *snowflake.ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Service) withUserLock(ctx context.Context, userID snowflake.ID, fn func() error) error {
	key := recalculationdomain.LockKey(userID)
	waitStart := time.Now()
	ttl := s.engine.Get().Recalculation.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	token, ok, err := s.locker.TryLock(ctx, key, ttl)
	s.metrics.ObserveLockWait(time.Since(waitStart))
	if err != nil {
		return fmt.Errorf("acquire recalculation lock: %w", err)
	}
	if !ok {
		return recalculationdomain.ErrConcurrentRecalculation
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			logger.WithContext(ctx, s.log).Warn("failed to release recalculation lock", zap.Error(err))
		}
	}()
	return fn()
}

func (s *Service) committed(ctx context.Context, batch *recalculationdomain.Batch, started time.Time) {
	eventTypes := make([]string, 0, len(batch.AffectedEvents))
	for _, event := range batch.AffectedEvents {
		eventTypes = append(eventTypes, string(event.EventType))
	}
	s.metrics.ObserveBatch(string(batch.TriggerType), eventTypes, s.clock.Now().Sub(started))

	if s.cache != nil {
		s.cache.Invalidate(batch.UserID)
	}

	logger.WithContext(ctx, s.log).Info("recalculation batch recorded",
		zap.String("batch_id", batch.ID.String()),
		zap.String("trigger_type", string(batch.TriggerType)),
		zap.String("status", string(batch.Status)),
		zap.Int("affected_days", len(batch.AffectedEvents)),
		zap.Int("reading_changes", len(batch.ReadingChanges)),
	)
}

func (s *Service) fail(ctx context.Context, span trace.Span, operation string, err error) {
	s.metrics.IncError(operation, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, metrics.ClassifyLedgerReason(err))

	log := logger.WithContext(ctx, s.log)
	switch {
	case errors.Is(err, recalculationdomain.ErrConcurrentRecalculation),
		errors.Is(err, recalculationdomain.ErrRollbackExpired),
		errors.Is(err, recalculationdomain.ErrRollbackConflict),
		errors.Is(err, recalculationdomain.ErrRollbackNotFound):
		log.Info("recalculation rejected", zap.String("operation", operation), zap.Error(err))
	default:
		log.Warn("recalculation failed", zap.String("operation", operation), zap.Error(err))
	}
}

func (s *Service) deriver() *derive.Deriver {
	return derive.New(s.engine.Get().Location(), s.log)
}

func (s *Service) rollbackWindow() time.Duration {
	window := s.engine.Get().Recalculation.RollbackWindow
	if window <= 0 {
		return recalculationdomain.DefaultRollbackWindow
	}
	return window
}

func invert(changes []recalculationdomain.ReadingChange) []recalculationdomain.ReadingChange {
	out := make([]recalculationdomain.ReadingChange, 0, len(changes))
	for i := len(changes) - 1; i >= 0; i-- {
		out = append(out, recalculationdomain.ReadingChange{
			ReadingID: changes[i].ReadingID,
			Before:    changes[i].After,
			After:     changes[i].Before,
		})
	}
	return out
}

func view(batch recalculationdomain.Batch, now time.Time) recalculationdomain.BatchView {
	return recalculationdomain.BatchView{
		Batch:           batch,
		EffectiveStatus: batch.EffectiveStatus(now),
		Rollbackable:    batch.Rollbackable(now),
	}
}

func parseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(value))
}
