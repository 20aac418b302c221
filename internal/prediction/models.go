package prediction

import (
	"time"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusSafe     Status = "SAFE"
	StatusWarning  Status = "WARNING"
	StatusCritical Status = "CRITICAL"
	StatusUnknown  Status = "UNKNOWN"
)

// Prediction describes how long the remaining token balance lasts at the recent burn rate.
// Pointer fields are nil when the value is undefined, e.g. no consumption observed yet.
type Prediction struct {
	HasData                bool          `json:"has_data"`
	RemainingKwh           float64       `json:"remaining_kwh"`
	AvgDailyUsage          float64       `json:"avg_daily_usage"`
	SampleDays             int           `json:"sample_days"`
	DaysUntilDepletion     *int          `json:"days_until_depletion,omitempty"`
	PredictedDepletionDate *civil.Date   `json:"predicted_depletion_date,omitempty"`
	CriticalKwh            float64       `json:"critical_kwh"`
	WarningKwh             float64       `json:"warning_kwh"`
	IsCritical             bool          `json:"is_critical"`
	IsWarning              bool          `json:"is_warning"`
	DaysToCritical         *int          `json:"days_to_critical,omitempty"`
	DaysToWarning          *int          `json:"days_to_warning,omitempty"`
	Status                 Status        `json:"status"`
	LastReadingAt          *time.Time    `json:"last_reading_at,omitempty"`
	LastTopUp              *TopUpSummary `json:"last_top_up,omitempty"`
}

// TopUpSummary is informational; depletion is always computed from the latest reading.
type TopUpSummary struct {
	Date         civil.Date       `json:"date"`
	RecordedAt   time.Time        `json:"recorded_at"`
	KwhAfter     float64          `json:"kwh_after"`
	TokenAmount  *decimal.Decimal `json:"token_amount,omitempty"`
	PurchasedKwh *float64         `json:"purchased_kwh,omitempty"`
}

type BurnRatePoint struct {
	DayIndex     int        `json:"day_index"`
	Date         civil.Date `json:"date"`
	ProjectedKwh float64    `json:"projected_kwh"`
	IsProjected  bool       `json:"is_projected"`
}

type BurnRateProjection struct {
	HasData            bool            `json:"has_data"`
	RemainingKwh       float64         `json:"remaining_kwh"`
	AvgDailyUsage      float64         `json:"avg_daily_usage"`
	DaysUntilDepletion *int            `json:"days_until_depletion,omitempty"`
	CriticalKwh        float64         `json:"critical_kwh"`
	WarningKwh         float64         `json:"warning_kwh"`
	Points             []BurnRatePoint `json:"points"`
}
