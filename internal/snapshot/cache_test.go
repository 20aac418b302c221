package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kwhtracker/internal/config"
	readingdomain "github.com/smallbiznis/kwhtracker/internal/reading/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type payload struct {
	Total float64 `json:"total"`
	Days  int     `json:"days"`
}

func newTestCache(t *testing.T, enabled bool) *Cache {
	t.Helper()
	c, err := NewCache(config.SnapshotConfig{Enabled: enabled, TTL: time.Minute, MaxSizeMB: 8}, zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheRoundTripAndInvalidate(t *testing.T) {
	c := newTestCache(t, true)
	ctx := context.Background()
	user := snowflake.ID(42)
	other := snowflake.ID(43)

	var got payload
	assert.False(t, c.Get(ctx, user, 7, &got))

	c.Set(user, 7, payload{Total: 12.5, Days: 3})
	c.Set(other, 7, payload{Total: 1, Days: 1})
	require.True(t, c.Get(ctx, user, 7, &got))
	assert.Equal(t, payload{Total: 12.5, Days: 3}, got)
	assert.False(t, c.Get(ctx, user, 8, &got), "different fingerprint misses")

	c.Invalidate(user)
	assert.False(t, c.Get(ctx, user, 7, &got))
	assert.True(t, c.Get(ctx, other, 7, &got), "other users keep their entries")
}

func TestDisabledCacheAlwaysMisses(t *testing.T) {
	c := newTestCache(t, false)
	c.Set(1, 1, payload{Total: 1})

	var got payload
	assert.False(t, c.Get(context.Background(), 1, 1, &got))
	assert.NoError(t, c.Close())
}

func TestFingerprintTracksInputs(t *testing.T) {
	loc := time.UTC
	base := []readingdomain.Reading{
		{ID: 1, RecordedAt: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), KwhValue: 100},
		{ID: 2, RecordedAt: time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC), KwhValue: 90},
	}
	fp := Fingerprint(9, loc, base, "2024-01-03")
	assert.Equal(t, fp, Fingerprint(9, loc, base, "2024-01-03"))

	changed := append([]readingdomain.Reading(nil), base...)
	changed[1].KwhValue = 89
	assert.NotEqual(t, fp, Fingerprint(9, loc, changed, "2024-01-03"))

	flagged := append([]readingdomain.Reading(nil), base...)
	flagged[1].IsTopUp = true
	assert.NotEqual(t, fp, Fingerprint(9, loc, flagged, "2024-01-03"))

	appended := append(append([]readingdomain.Reading(nil), base...), readingdomain.Reading{
		ID: 3, RecordedAt: time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC), KwhValue: 80,
	})
	assert.NotEqual(t, fp, Fingerprint(9, loc, appended, "2024-01-03"))

	assert.NotEqual(t, fp, Fingerprint(10, loc, base, "2024-01-03"))
	assert.NotEqual(t, fp, Fingerprint(9, loc, base, "2024-01-04"))
	assert.NotEqual(t, fp, Fingerprint(9, time.FixedZone("WIB", 7*3600), base, "2024-01-03"))
}
