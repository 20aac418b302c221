package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kwhtracker/internal/clock"
	"github.com/smallbiznis/kwhtracker/internal/config"
	"github.com/smallbiznis/kwhtracker/internal/migration"
	readingdomain "github.com/smallbiznis/kwhtracker/internal/reading/domain"
	readingrepository "github.com/smallbiznis/kwhtracker/internal/reading/repository"
	recalculationdomain "github.com/smallbiznis/kwhtracker/internal/recalculation/domain"
	"github.com/smallbiznis/kwhtracker/internal/recalculation/lock"
	"github.com/smallbiznis/kwhtracker/internal/recalculation/repository"
	"github.com/smallbiznis/kwhtracker/internal/usage/derive"
	usagedomain "github.com/smallbiznis/kwhtracker/internal/usage/domain"
	"github.com/smallbiznis/kwhtracker/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingCache struct {
	invalidated []snowflake.ID
}

func (c *recordingCache) Invalidate(userID snowflake.ID) {
	c.invalidated = append(c.invalidated, userID)
}

type harness struct {
	svc      recalculationdomain.Service
	conn     *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	locker   *lock.LocalLocker
	readings readingdomain.Repository
	batches  recalculationdomain.Repository
	cache    *recordingCache
	userID   snowflake.ID
}

func setupLedger(t *testing.T) *harness {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	engineCfg := config.DefaultEngineConfig()
	engineCfg.Timezone = "UTC"

	h := &harness{
		conn:     conn,
		node:     node,
		clock:    clock.NewFakeClock(time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)),
		readings: readingrepository.Provide(),
		batches:  repository.Provide(),
		cache:    &recordingCache{},
		userID:   node.Generate(),
	}
	h.locker = lock.NewLocalLocker(h.clock)
	h.svc = New(Params{
		DB:          conn,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       h.clock,
		Engine:      config.NewStaticEngineConfigHolder(engineCfg),
		Repo:        h.batches,
		ReadingRepo: h.readings,
		Locker:      h.locker,
		Cache:       h.cache,
	})
	return h
}

func (h *harness) seed(t *testing.T, day int, kwh float64) readingdomain.Reading {
	t.Helper()
	reading := readingdomain.Reading{
		ID:         h.node.Generate(),
		UserID:     h.userID,
		RecordedAt: time.Date(2024, 1, day, 12, 0, 0, 0, time.UTC),
		KwhValue:   kwh,
	}
	require.NoError(t, h.readings.Insert(context.Background(), h.conn, &reading))
	return reading
}

func (h *harness) daily(t *testing.T) []usagedomain.DailyUsage {
	t.Helper()
	readings, err := h.readings.ListByUser(context.Background(), h.conn, h.userID)
	require.NoError(t, err)
	return derive.New(time.UTC, nil).Daily(readings)
}

func (h *harness) insertTopUp(recordedAt time.Time, kwh float64) recalculationdomain.Mutation {
	return func(ctx context.Context, tx *gorm.DB) ([]recalculationdomain.ReadingChange, error) {
		reading := readingdomain.Reading{
			ID:         h.node.Generate(),
			UserID:     h.userID,
			RecordedAt: recordedAt,
			KwhValue:   kwh,
			IsTopUp:    true,
		}
		if err := h.readings.Insert(ctx, tx, &reading); err != nil {
			return nil, err
		}
		return []recalculationdomain.ReadingChange{{ReadingID: reading.ID, After: &reading}}, nil
	}
}

func TestApplyBackdatedTopUpRecordsOneBatch(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	h.seed(t, 1, 100)
	h.seed(t, 2, 90)
	h.seed(t, 3, 80)

	batch, err := h.svc.Apply(ctx, recalculationdomain.ApplyRequest{
		UserID:      h.userID,
		TriggerType: recalculationdomain.TriggerBackdateTopUp,
		Reason:      " forgot to log ",
		Mutate:      h.insertTopUp(time.Date(2024, 1, 2, 18, 0, 0, 0, time.UTC), 150),
	})
	require.NoError(t, err)

	assert.Equal(t, recalculationdomain.StatusPendingRollback, batch.Status)
	assert.Equal(t, "forgot to log", batch.Reason)
	assert.True(t, h.clock.Now().Add(24*time.Hour).Equal(batch.CanRollbackUntil))
	require.Len(t, batch.ReadingChanges, 1)
	assert.Nil(t, batch.ReadingChanges[0].Before)

	require.Len(t, batch.AffectedEvents, 2)
	assert.Equal(t, "2024-01-02", batch.AffectedEvents[0].EventDate.String())
	assert.Equal(t, recalculationdomain.EventTopUpChanged, batch.AffectedEvents[0].EventType)
	assert.Equal(t, "2024-01-03", batch.AffectedEvents[1].EventDate.String())
	assert.Equal(t, recalculationdomain.EventUsageChanged, batch.AffectedEvents[1].EventType)
	assert.InDelta(t, 10, *batch.AffectedEvents[1].OldKwh, 1e-9)
	assert.InDelta(t, 70, *batch.AffectedEvents[1].NewKwh, 1e-9)

	history, err := h.svc.History(ctx, h.userID.String(), 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, batch.ID, history[0].ID)
	assert.Equal(t, []snowflake.ID{h.userID}, h.cache.invalidated)
}

func TestApplyRejectsInvalidRequests(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()

	_, err := h.svc.Apply(ctx, recalculationdomain.ApplyRequest{
		TriggerType: recalculationdomain.TriggerManualCorrection,
		Mutate:      h.insertTopUp(h.clock.Now(), 10),
	})
	assert.ErrorIs(t, err, recalculationdomain.ErrInvalidUser)

	_, err = h.svc.Apply(ctx, recalculationdomain.ApplyRequest{
		UserID:      h.userID,
		TriggerType: recalculationdomain.TriggerRollback,
		Mutate:      h.insertTopUp(h.clock.Now(), 10),
	})
	assert.ErrorIs(t, err, recalculationdomain.ErrInvalidMutation)

	_, err = h.svc.Apply(ctx, recalculationdomain.ApplyRequest{
		UserID:      h.userID,
		TriggerType: recalculationdomain.TriggerManualCorrection,
	})
	assert.ErrorIs(t, err, recalculationdomain.ErrInvalidMutation)
}

func TestApplyFailedMutationLeavesNoTrace(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	h.seed(t, 1, 100)

	boom := errors.New("boom")
	_, err := h.svc.Apply(ctx, recalculationdomain.ApplyRequest{
		UserID:      h.userID,
		TriggerType: recalculationdomain.TriggerManualCorrection,
		Mutate: func(ctx context.Context, tx *gorm.DB) ([]recalculationdomain.ReadingChange, error) {
			if _, err := h.insertTopUp(time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC), 300)(ctx, tx); err != nil {
				return nil, err
			}
			return nil, boom
		},
	})
	require.ErrorIs(t, err, boom)

	readings, err := h.readings.ListByUser(ctx, h.conn, h.userID)
	require.NoError(t, err)
	assert.Len(t, readings, 1)

	history, err := h.svc.History(ctx, h.userID.String(), 0)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, h.cache.invalidated)
}

func TestRollbackRestoresDailySeries(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	h.seed(t, 1, 100)
	h.seed(t, 2, 90)
	h.seed(t, 3, 80)
	original := h.daily(t)

	batch, err := h.svc.Apply(ctx, recalculationdomain.ApplyRequest{
		UserID:      h.userID,
		TriggerType: recalculationdomain.TriggerBackdateTopUp,
		Mutate:      h.insertTopUp(time.Date(2024, 1, 2, 18, 0, 0, 0, time.UTC), 150),
	})
	require.NoError(t, err)
	require.NotEqual(t, original, h.daily(t))

	h.clock.Advance(time.Hour)
	compensation, err := h.svc.Rollback(ctx, recalculationdomain.RollbackRequest{
		BatchID: batch.ID.String(),
		UserID:  h.userID.String(),
		Reason:  "entered twice",
	})
	require.NoError(t, err)

	assert.Equal(t, original, h.daily(t))
	assert.Equal(t, recalculationdomain.TriggerRollback, compensation.TriggerType)
	assert.Equal(t, recalculationdomain.StatusCompensation, compensation.Status)
	require.NotNil(t, compensation.CompensatesBatchID)
	assert.Equal(t, batch.ID, *compensation.CompensatesBatchID)
	require.Len(t, compensation.ReadingChanges, 1)
	assert.Nil(t, compensation.ReadingChanges[0].After)
	require.Len(t, compensation.AffectedEvents, 2)
	assert.InDelta(t, 70, *compensation.AffectedEvents[1].OldKwh, 1e-9)
	assert.InDelta(t, 10, *compensation.AffectedEvents[1].NewKwh, 1e-9)

	stored, err := h.batches.FindByID(ctx, h.conn, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, recalculationdomain.StatusRolledBack, stored.Status)
	require.NotNil(t, stored.RolledBackAt)
	assert.Equal(t, "entered twice", stored.RollbackReason)

	pending, err := h.svc.Pending(ctx, h.userID.String())
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = h.svc.Rollback(ctx, recalculationdomain.RollbackRequest{
		BatchID: batch.ID.String(),
		UserID:  h.userID.String(),
	})
	assert.ErrorIs(t, err, recalculationdomain.ErrRollbackNotFound, "a batch is undone at most once")

	_, err = h.svc.Rollback(ctx, recalculationdomain.RollbackRequest{
		BatchID: compensation.ID.String(),
		UserID:  h.userID.String(),
	})
	assert.ErrorIs(t, err, recalculationdomain.ErrRollbackNotFound, "compensations are not rollbackable")
}

func TestRollbackRestoresEditedReading(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	h.seed(t, 1, 100)
	target := h.seed(t, 2, 90)
	h.seed(t, 3, 80)
	original := h.daily(t)

	batch, err := h.svc.Apply(ctx, recalculationdomain.ApplyRequest{
		UserID:      h.userID,
		TriggerType: recalculationdomain.TriggerManualCorrection,
		Mutate: func(ctx context.Context, tx *gorm.DB) ([]recalculationdomain.ReadingChange, error) {
			before, err := h.readings.FindByID(ctx, tx, h.userID, target.ID)
			if err != nil {
				return nil, err
			}
			after := *before
			after.KwhValue = 95
			if err := h.readings.Update(ctx, tx, &after); err != nil {
				return nil, err
			}
			return []recalculationdomain.ReadingChange{{ReadingID: target.ID, Before: before, After: &after}}, nil
		},
	})
	require.NoError(t, err)
	require.Len(t, batch.AffectedEvents, 2)
	assert.Equal(t, recalculationdomain.EventUsageChanged, batch.AffectedEvents[0].EventType)

	_, err = h.svc.Rollback(ctx, recalculationdomain.RollbackRequest{
		BatchID: batch.ID.String(),
		UserID:  h.userID.String(),
	})
	require.NoError(t, err)

	restored, err := h.readings.FindByID(ctx, h.conn, h.userID, target.ID)
	require.NoError(t, err)
	assert.InDelta(t, 90, restored.KwhValue, 1e-9)
	assert.Equal(t, original, h.daily(t))
}

func TestRollbackAfterWindowIsRejected(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	h.seed(t, 1, 100)
	h.seed(t, 3, 80)

	batch, err := h.svc.Apply(ctx, recalculationdomain.ApplyRequest{
		UserID:      h.userID,
		TriggerType: recalculationdomain.TriggerBackdateTopUp,
		Mutate:      h.insertTopUp(time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC), 150),
	})
	require.NoError(t, err)
	mutated := h.daily(t)

	h.clock.Advance(24*time.Hour + time.Second)

	history, err := h.svc.History(ctx, h.userID.String(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, recalculationdomain.StatusExpired, history[0].EffectiveStatus)
	assert.False(t, history[0].Rollbackable)

	_, err = h.svc.Rollback(ctx, recalculationdomain.RollbackRequest{
		BatchID: batch.ID.String(),
		UserID:  h.userID.String(),
	})
	require.ErrorIs(t, err, recalculationdomain.ErrRollbackExpired)
	assert.Equal(t, mutated, h.daily(t))

	stored, err := h.batches.FindByID(ctx, h.conn, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, recalculationdomain.StatusPendingRollback, stored.Status)
}

func TestRollbackUnknownOrForeignBatch(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	h.seed(t, 1, 100)

	batch, err := h.svc.Apply(ctx, recalculationdomain.ApplyRequest{
		UserID:      h.userID,
		TriggerType: recalculationdomain.TriggerBackdateTopUp,
		Mutate:      h.insertTopUp(time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC), 120),
	})
	require.NoError(t, err)

	_, err = h.svc.Rollback(ctx, recalculationdomain.RollbackRequest{
		BatchID: h.node.Generate().String(),
		UserID:  h.userID.String(),
	})
	assert.ErrorIs(t, err, recalculationdomain.ErrRollbackNotFound)

	_, err = h.svc.Rollback(ctx, recalculationdomain.RollbackRequest{
		BatchID: batch.ID.String(),
		UserID:  h.node.Generate().String(),
	})
	assert.ErrorIs(t, err, recalculationdomain.ErrRollbackNotFound)

	_, err = h.svc.Rollback(ctx, recalculationdomain.RollbackRequest{
		BatchID: "not-a-number",
		UserID:  h.userID.String(),
	})
	assert.ErrorIs(t, err, recalculationdomain.ErrInvalidBatch)
}

func TestConcurrentRecalculationIsRejected(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	h.seed(t, 1, 100)

	token, ok, err := h.locker.TryLock(ctx, recalculationdomain.LockKey(h.userID), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.svc.Apply(ctx, recalculationdomain.ApplyRequest{
		UserID:      h.userID,
		TriggerType: recalculationdomain.TriggerBackdateTopUp,
		Mutate:      h.insertTopUp(time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC), 120),
	})
	require.ErrorIs(t, err, recalculationdomain.ErrConcurrentRecalculation)

	readings, err := h.readings.ListByUser(ctx, h.conn, h.userID)
	require.NoError(t, err)
	assert.Len(t, readings, 1)

	require.NoError(t, h.locker.Release(ctx, recalculationdomain.LockKey(h.userID), token))
	_, err = h.svc.Apply(ctx, recalculationdomain.ApplyRequest{
		UserID:      h.userID,
		TriggerType: recalculationdomain.TriggerBackdateTopUp,
		Mutate:      h.insertTopUp(time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC), 120),
	})
	assert.NoError(t, err)
}

func (h *harness) editReading(id snowflake.ID, kwh float64) recalculationdomain.Mutation {
	return func(ctx context.Context, tx *gorm.DB) ([]recalculationdomain.ReadingChange, error) {
		before, err := h.readings.FindByID(ctx, tx, h.userID, id)
		if err != nil {
			return nil, err
		}
		after := *before
		after.KwhValue = kwh
		if err := h.readings.Update(ctx, tx, &after); err != nil {
			return nil, err
		}
		return []recalculationdomain.ReadingChange{{ReadingID: id, Before: before, After: &after}}, nil
	}
}

func (h *harness) deleteReading(id snowflake.ID) recalculationdomain.Mutation {
	return func(ctx context.Context, tx *gorm.DB) ([]recalculationdomain.ReadingChange, error) {
		before, err := h.readings.FindByID(ctx, tx, h.userID, id)
		if err != nil {
			return nil, err
		}
		if _, err := h.readings.Delete(ctx, tx, h.userID, id); err != nil {
			return nil, err
		}
		return []recalculationdomain.ReadingChange{{ReadingID: id, Before: before}}, nil
	}
}

func TestRollbackRejectsBatchOverriddenByNewerChange(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	h.seed(t, 1, 100)
	target := h.seed(t, 2, 90)
	h.seed(t, 3, 80)
	original := h.daily(t)

	edit, err := h.svc.Apply(ctx, recalculationdomain.ApplyRequest{
		UserID:      h.userID,
		TriggerType: recalculationdomain.TriggerManualCorrection,
		Mutate:      h.editReading(target.ID, 85),
	})
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	remove, err := h.svc.Apply(ctx, recalculationdomain.ApplyRequest{
		UserID:      h.userID,
		TriggerType: recalculationdomain.TriggerManualCorrection,
		Mutate:      h.deleteReading(target.ID),
	})
	require.NoError(t, err)
	deleted := h.daily(t)

	_, err = h.svc.Rollback(ctx, recalculationdomain.RollbackRequest{
		BatchID: edit.ID.String(),
		UserID:  h.userID.String(),
	})
	require.ErrorIs(t, err, recalculationdomain.ErrRollbackConflict)

	missing, err := h.readings.FindByID(ctx, h.conn, h.userID, target.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, deleted, h.daily(t))

	pending, err := h.svc.Pending(ctx, h.userID.String())
	require.NoError(t, err)
	require.Len(t, pending, 2)

	// Undoing newest first unwinds both.
	_, err = h.svc.Rollback(ctx, recalculationdomain.RollbackRequest{
		BatchID: remove.ID.String(),
		UserID:  h.userID.String(),
	})
	require.NoError(t, err)
	_, err = h.svc.Rollback(ctx, recalculationdomain.RollbackRequest{
		BatchID: edit.ID.String(),
		UserID:  h.userID.String(),
	})
	require.NoError(t, err)

	restored, err := h.readings.FindByID(ctx, h.conn, h.userID, target.ID)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.InDelta(t, 90, restored.KwhValue, 1e-9)
	assert.Equal(t, original, h.daily(t))
}

func TestApplyForwardMutationCommitsWithoutBatch(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	h.seed(t, 1, 100)

	var seen int
	batch, err := h.svc.Apply(ctx, recalculationdomain.ApplyRequest{
		UserID:      h.userID,
		TriggerType: recalculationdomain.TriggerManualCorrection,
		Forward: func(current []readingdomain.Reading) bool {
			seen = len(current)
			return true
		},
		Mutate: h.insertTopUp(time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC), 150),
	})
	require.NoError(t, err)
	assert.Nil(t, batch)
	assert.Equal(t, 1, seen)

	readings, err := h.readings.ListByUser(ctx, h.conn, h.userID)
	require.NoError(t, err)
	assert.Len(t, readings, 2)

	history, err := h.svc.History(ctx, h.userID.String(), 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}
