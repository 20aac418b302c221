// Package derive turns absolute "remaining kWh" readings into per-day consumption.
package derive

import (
	"math"
	"sort"
	"time"

	readingdomain "github.com/smallbiznis/kwhtracker/internal/reading/domain"
	usagedomain "github.com/smallbiznis/kwhtracker/internal/usage/domain"
	"github.com/smallbiznis/kwhtracker/pkg/localdate"
	"go.uber.org/zap"
)

// MalformedFunc is notified once per sanitized or skipped reading.
type MalformedFunc func(reading readingdomain.Reading, reason string)

type Option func(*Deriver)

// WithMalformedHook registers fn to observe malformed readings, e.g. for metrics.
func WithMalformedHook(fn MalformedFunc) Option {
	return func(d *Deriver) {
		d.onMalformed = fn
	}
}

// Deriver computes daily usage in a fixed local timezone. It holds no mutable state.
type Deriver struct {
	loc         *time.Location
	log         *zap.Logger
	onMalformed MalformedFunc
}

func New(loc *time.Location, log *zap.Logger, opts ...Option) *Deriver {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Deriver{loc: loc, log: log.Named("usage.derive")}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Location returns the timezone used for calendar days.
func (d *Deriver) Location() *time.Location {
	return d.loc
}

// Daily derives one DailyUsage per local date that has at least one reading, ascending.
//
// Consumption is the sum of positive drops between consecutive readings. A top-up reading,
// or any increase of the meter value, starts a new baseline: nothing is counted across it.
// Malformed readings are zeroed or skipped and never abort the derivation.
func (d *Deriver) Daily(readings []readingdomain.Reading) []usagedomain.DailyUsage {
	clean := d.sanitize(readings)
	if len(clean) == 0 {
		return []usagedomain.DailyUsage{}
	}
	sort.SliceStable(clean, func(i, j int) bool {
		return readingdomain.Less(clean[i], clean[j])
	})

	days := make([]usagedomain.DailyUsage, 0, len(clean))
	var (
		baseline    float64
		hasBaseline bool
	)
	for _, reading := range clean {
		date := localdate.Of(reading.RecordedAt, d.loc)
		if len(days) == 0 || days[len(days)-1].Date != date {
			days = append(days, usagedomain.DailyUsage{Date: date})
		}
		day := &days[len(days)-1]
		day.ReadingCount++

		value := reading.KwhValue
		switch {
		case reading.IsTopUp:
			day.IsTopUp = true
		case !hasBaseline:
		case value < baseline:
			day.UsageKwh += baseline - value
		case value > baseline:
			day.IsTopUp = true
			d.log.Debug("meter increase without top-up flag treated as top-up",
				zap.String("reading_id", reading.ID.String()),
				zap.Float64("previous_kwh", baseline),
				zap.Float64("kwh", value),
			)
		}

		baseline = value
		hasBaseline = true
		meter := value
		day.MeterValue = &meter
	}

	for i := range days {
		days[i].UsageKwh = Round(days[i].UsageKwh)
	}
	return days
}

func (d *Deriver) sanitize(readings []readingdomain.Reading) []readingdomain.Reading {
	out := make([]readingdomain.Reading, 0, len(readings))
	for _, reading := range readings {
		if reading.RecordedAt.IsZero() {
			d.malformed(reading, usagedomain.MalformedZeroTimestamp)
			continue
		}
		if math.IsNaN(reading.KwhValue) || math.IsInf(reading.KwhValue, 0) {
			d.malformed(reading, usagedomain.MalformedNonFinite)
			reading.KwhValue = 0
		}
		if reading.KwhValue < 0 {
			d.malformed(reading, usagedomain.MalformedNegative)
			reading.KwhValue = 0
		}
		out = append(out, reading)
	}
	return out
}

func (d *Deriver) malformed(reading readingdomain.Reading, reason string) {
	d.log.Warn("malformed reading",
		zap.String("reading_id", reading.ID.String()),
		zap.String("user_id", reading.UserID.String()),
		zap.String("reason", reason),
	)
	if d.onMalformed != nil {
		d.onMalformed(reading, reason)
	}
}

// Round rounds kWh values to 3 decimals, the precision of the meter display.
func Round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
