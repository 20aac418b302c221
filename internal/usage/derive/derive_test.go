package derive

import (
	"math"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	readingdomain "github.com/smallbiznis/kwhtracker/internal/reading/domain"
	usagedomain "github.com/smallbiznis/kwhtracker/internal/usage/domain"
	"github.com/smallbiznis/kwhtracker/pkg/localdate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var wib = time.FixedZone("WIB", 7*3600)

func at(day, hour int) time.Time {
	return time.Date(2024, 3, day, hour, 0, 0, 0, wib)
}

func reading(id int64, ts time.Time, kwh float64, topUp bool) readingdomain.Reading {
	return readingdomain.Reading{
		ID:         snowflake.ID(id),
		UserID:     7,
		RecordedAt: ts,
		KwhValue:   kwh,
		IsTopUp:    topUp,
	}
}

func usages(days []usagedomain.DailyUsage) []float64 {
	out := make([]float64, 0, len(days))
	for _, day := range days {
		out = append(out, day.UsageKwh)
	}
	return out
}

func TestDailyTopUpScenario(t *testing.T) {
	d := New(wib, zap.NewNop())
	days := d.Daily([]readingdomain.Reading{
		reading(1, at(1, 20), 100, false),
		reading(2, at(2, 20), 90, false),
		reading(3, at(3, 20), 190, true),
		reading(4, at(4, 20), 170, false),
	})

	require.Len(t, days, 4)
	assert.Equal(t, []float64{0, 10, 0, 20}, usages(days))
	assert.False(t, days[0].IsTopUp)
	assert.True(t, days[2].IsTopUp)
	assert.Equal(t, "2024-03-01", localdate.Format(days[0].Date))
	require.NotNil(t, days[3].MeterValue)
	assert.Equal(t, 170.0, *days[3].MeterValue)
}

func TestDailyWithoutTopUpsMatchesConsecutiveDrops(t *testing.T) {
	values := []float64{250, 241.5, 233.25, 233.25, 220, 219.999}
	readings := make([]readingdomain.Reading, 0, len(values))
	for i, v := range values {
		readings = append(readings, reading(int64(i+1), at(i+1, 7), v, false))
	}

	days := New(wib, nil).Daily(readings)
	require.Len(t, days, len(values))
	assert.Equal(t, 0.0, days[0].UsageKwh)
	for i := 1; i < len(values); i++ {
		want := math.Max(0, values[i-1]-values[i])
		assert.InDelta(t, want, days[i].UsageKwh, 1e-9, "day %d", i)
	}
}

func TestDailyMultipleReadingsPerDay(t *testing.T) {
	days := New(wib, nil).Daily([]readingdomain.Reading{
		reading(1, at(1, 6), 80, false),
		reading(2, at(1, 12), 77, false),
		reading(3, at(1, 18), 75.5, false),
		reading(4, at(2, 6), 74, false),
	})

	require.Len(t, days, 2)
	assert.InDelta(t, 4.5, days[0].UsageKwh, 1e-9)
	assert.Equal(t, 3, days[0].ReadingCount)
	assert.Equal(t, 75.5, *days[0].MeterValue)
	assert.InDelta(t, 1.5, days[1].UsageKwh, 1e-9)
}

func TestDailyMultipleTopUpsInOneDay(t *testing.T) {
	days := New(wib, nil).Daily([]readingdomain.Reading{
		reading(1, at(1, 20), 30, false),
		reading(2, at(2, 7), 25, false),  // 5 before the first top-up
		reading(3, at(2, 9), 60, true),   // top-up, no usage across it
		reading(4, at(2, 12), 57, false), // 3 after it
		reading(5, at(2, 15), 100, true), // second top-up
		reading(6, at(2, 21), 96, false), // 4 after it
		reading(7, at(3, 7), 94, false),
	})

	require.Len(t, days, 3)
	assert.InDelta(t, 12, days[1].UsageKwh, 1e-9)
	assert.True(t, days[1].IsTopUp)
	assert.Equal(t, 96.0, *days[1].MeterValue)
	assert.InDelta(t, 2, days[2].UsageKwh, 1e-9)
	for _, day := range days {
		assert.GreaterOrEqual(t, day.UsageKwh, 0.0)
	}
}

func TestDailyUnflaggedIncreaseIsTopUpBoundary(t *testing.T) {
	days := New(wib, nil).Daily([]readingdomain.Reading{
		reading(1, at(1, 8), 10, false),
		reading(2, at(2, 8), 60, false),
		reading(3, at(3, 8), 55, false),
	})

	assert.Equal(t, []float64{0, 0, 5}, usages(days))
	assert.True(t, days[1].IsTopUp)
}

func TestDailyUsesLocalCalendarDay(t *testing.T) {
	// 23:30 WIB on the 1st is 16:30 UTC; 00:30 WIB on the 2nd is still the 1st in UTC.
	days := New(wib, nil).Daily([]readingdomain.Reading{
		reading(1, time.Date(2024, 3, 1, 23, 30, 0, 0, wib).UTC(), 50, false),
		reading(2, time.Date(2024, 3, 2, 0, 30, 0, 0, wib).UTC(), 49, false),
	})

	require.Len(t, days, 2)
	assert.Equal(t, "2024-03-01", localdate.Format(days[0].Date))
	assert.Equal(t, "2024-03-02", localdate.Format(days[1].Date))
	assert.Equal(t, 1.0, days[1].UsageKwh)
}

func TestDailySortsInputAndBreaksTiesByID(t *testing.T) {
	same := at(2, 8)
	days := New(wib, nil).Daily([]readingdomain.Reading{
		reading(4, at(3, 8), 40, false),
		reading(3, same, 45, false),
		reading(2, same, 48, false),
		reading(1, at(1, 8), 50, false),
	})

	// ID 2 (48) precedes ID 3 (45) at the same instant.
	assert.Equal(t, []float64{0, 5, 5}, usages(days))
	assert.Equal(t, 45.0, *days[1].MeterValue)
}

func TestDailyMalformedRecordsAreSanitized(t *testing.T) {
	var reasons []string
	d := New(wib, zap.NewNop(), WithMalformedHook(func(_ readingdomain.Reading, reason string) {
		reasons = append(reasons, reason)
	}))

	days := d.Daily([]readingdomain.Reading{
		reading(1, at(1, 8), 20, false),
		reading(2, time.Time{}, 15, false),
		reading(3, at(2, 8), math.NaN(), false),
		reading(4, at(3, 8), -4, false),
		reading(5, at(4, 8), math.Inf(1), false),
	})

	require.Len(t, days, 4)
	assert.Equal(t, []float64{0, 20, 0, 0}, usages(days))
	assert.Equal(t, []string{
		usagedomain.MalformedZeroTimestamp,
		usagedomain.MalformedNonFinite,
		usagedomain.MalformedNegative,
		usagedomain.MalformedNonFinite,
	}, reasons)
}

func TestDailyEmptyInput(t *testing.T) {
	days := New(wib, nil).Daily(nil)
	assert.NotNil(t, days)
	assert.Empty(t, days)
}

func TestDailyRoundsToMeterPrecision(t *testing.T) {
	days := New(wib, nil).Daily([]readingdomain.Reading{
		reading(1, at(1, 8), 10.3, false),
		reading(2, at(2, 8), 10.1, false),
	})
	assert.Equal(t, 0.2, days[1].UsageKwh)
}
