package consumption

import (
	"time"

	"github.com/golang-sql/civil"
	"github.com/smallbiznis/kwhtracker/internal/prediction"
	usagedomain "github.com/smallbiznis/kwhtracker/internal/usage/domain"
)

// Snapshot is everything the presentation layer shows for one user at one point in time.
type Snapshot struct {
	UserID      string                        `json:"user_id"`
	Timezone    string                        `json:"timezone"`
	Today       civil.Date                    `json:"today"`
	GeneratedAt time.Time                     `json:"generated_at"`
	Readings    int                           `json:"readings"`
	TotalKwh    float64                       `json:"total_kwh"`
	Daily       []usagedomain.DailyUsage      `json:"daily"`
	Weekly      []usagedomain.WeeklyUsage     `json:"weekly"`
	Monthly     []usagedomain.MonthlyUsage    `json:"monthly"`
	Prediction  prediction.Prediction         `json:"prediction"`
	BurnRate    prediction.BurnRateProjection `json:"burn_rate"`
}

const (
	DefaultWeeks  = 12
	DefaultMonths = 12
)
