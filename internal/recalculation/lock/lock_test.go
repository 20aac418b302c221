package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/kwhtracker/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerExclusive(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	locker := NewLocalLocker(clk)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "recalculation:user:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "recalculation:user:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = locker.TryLock(ctx, "recalculation:user:2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "other users are independent")

	// A foreign token does not release the lease.
	require.NoError(t, locker.Release(ctx, "recalculation:user:1", "someone-else"))
	_, ok, _ = locker.TryLock(ctx, "recalculation:user:1", time.Minute)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "recalculation:user:1", token))
	_, ok, _ = locker.TryLock(ctx, "recalculation:user:1", time.Minute)
	assert.True(t, ok)
}

func TestLocalLockerExpiredLeaseIsTakenOver(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	locker := NewLocalLocker(clk)
	ctx := context.Background()

	stale, ok, err := locker.TryLock(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	clk.Advance(31 * time.Second)
	fresh, ok, err := locker.TryLock(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// The stale holder releasing late must not drop the new lease.
	require.NoError(t, locker.Release(ctx, "k", stale))
	_, ok, _ = locker.TryLock(ctx, "k", 30*time.Second)
	assert.False(t, ok)
	require.NoError(t, locker.Release(ctx, "k", fresh))
}

func TestLocalLockerSingleWinnerUnderContention(t *testing.T) {
	locker := NewLocalLocker(nil)
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := locker.TryLock(context.Background(), "k", time.Minute); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestLockValidation(t *testing.T) {
	locker := NewLocalLocker(nil)
	_, _, err := locker.TryLock(context.Background(), "", time.Minute)
	assert.Error(t, err)
	_, _, err = locker.TryLock(context.Background(), "k", 0)
	assert.Error(t, err)

	var redisLocker *RedisLocker
	_, _, err = redisLocker.TryLock(context.Background(), "k", time.Minute)
	assert.Error(t, err)
	assert.NoError(t, redisLocker.Release(context.Background(), "k", "t"))
	assert.Nil(t, NewRedisLocker(nil))
}
