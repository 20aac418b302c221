package domain

import "github.com/golang-sql/civil"

// DailyUsage is the consumption derived for one local calendar day.
// It is never persisted; the whole series is regenerated from readings.
type DailyUsage struct {
	Date         civil.Date `json:"date"`
	UsageKwh     float64    `json:"usage_kwh"`
	MeterValue   *float64   `json:"meter_value,omitempty"`
	IsTopUp      bool       `json:"is_top_up"`
	ReadingCount int        `json:"reading_count"`
}

type WeeklyUsage struct {
	ISOYear   int        `json:"iso_year"`
	ISOWeek   int        `json:"iso_week"`
	StartDate civil.Date `json:"start_date"`
	EndDate   civil.Date `json:"end_date"`
	UsageKwh  float64    `json:"usage_kwh"`
	Days      int        `json:"days"`
}

type MonthlyUsage struct {
	Year      int        `json:"year"`
	Month     int        `json:"month"`
	StartDate civil.Date `json:"start_date"`
	EndDate   civil.Date `json:"end_date"`
	UsageKwh  float64    `json:"usage_kwh"`
	Days      int        `json:"days"`
}

// Malformed reasons reported by the deriver.
const (
	MalformedZeroTimestamp = "zero_timestamp"
	MalformedNonFinite     = "non_finite_kwh"
	MalformedNegative      = "negative_kwh"
)

// TotalKwh sums the usage of days.
func TotalKwh(days []DailyUsage) float64 {
	var total float64
	for _, day := range days {
		total += day.UsageKwh
	}
	return total
}
