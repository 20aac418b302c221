// Package prediction projects token depletion from a moving average of daily usage.
package prediction

import (
	"math"
	"sort"
	"time"

	"github.com/golang-sql/civil"
	"github.com/smallbiznis/kwhtracker/internal/clock"
	"github.com/smallbiznis/kwhtracker/internal/config"
	readingdomain "github.com/smallbiznis/kwhtracker/internal/reading/domain"
	usagedomain "github.com/smallbiznis/kwhtracker/internal/usage/domain"
	"github.com/smallbiznis/kwhtracker/internal/usage/derive"
	"github.com/smallbiznis/kwhtracker/pkg/localdate"
)

type Config struct {
	WindowDays   int
	HorizonDays  int
	CriticalDays int
	WarningDays  int
}

func DefaultConfig() Config {
	return ConfigFrom(config.DefaultEngineConfig().Prediction)
}

func ConfigFrom(cfg config.PredictionConfig) Config {
	return Config{
		WindowDays:   cfg.WindowDays,
		HorizonDays:  cfg.HorizonDays,
		CriticalDays: cfg.CriticalDays,
		WarningDays:  cfg.WarningDays,
	}
}

func (c Config) withDefaults() Config {
	if c.WindowDays <= 0 {
		c.WindowDays = 30
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 60
	}
	if c.CriticalDays <= 0 {
		c.CriticalDays = 3
	}
	if c.WarningDays <= c.CriticalDays {
		c.WarningDays = c.CriticalDays + 4
	}
	return c
}

type Engine struct {
	cfg     Config
	clock   clock.Clock
	deriver *derive.Deriver
}

func New(cfg Config, clk clock.Clock, deriver *derive.Deriver) *Engine {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Engine{cfg: cfg.withDefaults(), clock: clk, deriver: deriver}
}

// PredictDepletion derives daily usage from readings and projects depletion.
func (e *Engine) PredictDepletion(readings []readingdomain.Reading) Prediction {
	return e.Predict(readings, e.deriver.Daily(readings))
}

// Predict projects depletion from readings and their already derived daily series.
func (e *Engine) Predict(readings []readingdomain.Reading, daily []usagedomain.DailyUsage) Prediction {
	latest, ok := latestReading(readings)
	if !ok {
		return Prediction{Status: StatusUnknown}
	}

	loc := e.deriver.Location()
	remaining := sanitizeKwh(latest.KwhValue)
	mean, samples := e.averageDailyUsage(daily, localdate.Of(latest.RecordedAt, loc))
	avg := derive.Round(mean)
	lastAt := latest.RecordedAt

	p := Prediction{
		HasData:       true,
		RemainingKwh:  remaining,
		AvgDailyUsage: avg,
		SampleDays:    samples,
		CriticalKwh:   derive.Round(avg * float64(e.cfg.CriticalDays)),
		WarningKwh:    derive.Round(avg * float64(e.cfg.WarningDays)),
		Status:        StatusUnknown,
		LastReadingAt: &lastAt,
		LastTopUp:     lastTopUp(readings, loc),
	}
	if avg <= 0 {
		return p
	}

	days := ceilDiv(remaining, avg)
	depletion := localdate.Today(e.clock.Now(), loc).AddDays(days)
	p.DaysUntilDepletion = &days
	p.PredictedDepletionDate = &depletion
	p.IsCritical = days <= e.cfg.CriticalDays
	p.IsWarning = days > e.cfg.CriticalDays && days <= e.cfg.WarningDays
	p.DaysToCritical = intPtr(daysTo(remaining, avg*float64(e.cfg.CriticalDays), avg))
	p.DaysToWarning = intPtr(daysTo(remaining, avg*float64(e.cfg.WarningDays), avg))

	switch {
	case p.IsCritical:
		p.Status = StatusCritical
	case p.IsWarning:
		p.Status = StatusWarning
	default:
		p.Status = StatusSafe
	}
	return p
}

// ProjectBurnRate returns the remaining balance per day from today until depletion,
// capped at the configured horizon. Day 0 is the only actual point.
func (e *Engine) ProjectBurnRate(readings []readingdomain.Reading) BurnRateProjection {
	return e.BurnRate(e.PredictDepletion(readings))
}

// BurnRate builds the projection series from an existing prediction.
func (e *Engine) BurnRate(p Prediction) BurnRateProjection {
	projection := BurnRateProjection{
		HasData:            p.HasData,
		RemainingKwh:       p.RemainingKwh,
		AvgDailyUsage:      p.AvgDailyUsage,
		DaysUntilDepletion: p.DaysUntilDepletion,
		CriticalKwh:        p.CriticalKwh,
		WarningKwh:         p.WarningKwh,
		Points:             []BurnRatePoint{},
	}
	if !p.HasData {
		return projection
	}

	today := localdate.Today(e.clock.Now(), e.deriver.Location())
	horizon := 0
	if p.DaysUntilDepletion != nil {
		horizon = max(0, min(*p.DaysUntilDepletion, e.cfg.HorizonDays))
	}

	projection.Points = make([]BurnRatePoint, 0, horizon+1)
	for i := 0; i <= horizon; i++ {
		projection.Points = append(projection.Points, BurnRatePoint{
			DayIndex:     i,
			Date:         today.AddDays(i),
			ProjectedKwh: derive.Round(math.Max(0, p.RemainingKwh-p.AvgDailyUsage*float64(i))),
			IsProjected:  i > 0,
		})
	}
	return projection
}

// averageDailyUsage is the mean of non-zero usage days within the window ending at anchor.
func (e *Engine) averageDailyUsage(daily []usagedomain.DailyUsage, anchor civil.Date) (float64, int) {
	from := anchor.AddDays(-(e.cfg.WindowDays - 1))
	var (
		total float64
		count int
	)
	for _, day := range daily {
		if day.Date.Before(from) || day.Date.After(anchor) || day.UsageKwh <= 0 {
			continue
		}
		total += day.UsageKwh
		count++
	}
	if count == 0 {
		return 0, 0
	}
	return total / float64(count), count
}

func latestReading(readings []readingdomain.Reading) (readingdomain.Reading, bool) {
	var (
		latest readingdomain.Reading
		found  bool
	)
	for _, reading := range readings {
		if reading.RecordedAt.IsZero() {
			continue
		}
		if !found || readingdomain.Less(latest, reading) {
			latest = reading
			found = true
		}
	}
	return latest, found
}

func lastTopUp(readings []readingdomain.Reading, loc *time.Location) *TopUpSummary {
	topUps := make([]readingdomain.Reading, 0)
	for _, reading := range readings {
		if reading.IsTopUp && !reading.RecordedAt.IsZero() {
			topUps = append(topUps, reading)
		}
	}
	if len(topUps) == 0 {
		return nil
	}
	sort.SliceStable(topUps, func(i, j int) bool {
		return readingdomain.Less(topUps[i], topUps[j])
	})
	last := topUps[len(topUps)-1]
	return &TopUpSummary{
		Date:         localdate.Of(last.RecordedAt, loc),
		RecordedAt:   last.RecordedAt,
		KwhAfter:     sanitizeKwh(last.KwhValue),
		TokenAmount:  last.TokenAmount,
		PurchasedKwh: last.PurchasedKwh,
	}
}

func daysTo(remaining, threshold, avg float64) int {
	if remaining <= threshold {
		return 0
	}
	return ceilDiv(remaining-threshold, avg)
}

// maxProjectionDays caps day counts; a balance lasting longer is not depleting in any useful sense.
const maxProjectionDays = 100 * 366

// ceilDiv rounds the quotient to 9 decimals before taking the ceiling so that
// float noise such as 3.0000000000000004 does not add a day.
func ceilDiv(a, b float64) int {
	q := a / b
	if math.IsNaN(q) || q >= maxProjectionDays {
		return maxProjectionDays
	}
	q = math.Round(q*1e9) / 1e9
	return int(math.Ceil(q))
}

func sanitizeKwh(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func intPtr(v int) *int {
	return &v
}
