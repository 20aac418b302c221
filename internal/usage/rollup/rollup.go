// Package rollup buckets daily usage into ISO weeks and calendar months.
// Bucketing works on civil dates only, so a day never moves across a boundary.
package rollup

import (
	"sort"

	"github.com/golang-sql/civil"
	usagedomain "github.com/smallbiznis/kwhtracker/internal/usage/domain"
	"github.com/smallbiznis/kwhtracker/internal/usage/derive"
	"github.com/smallbiznis/kwhtracker/pkg/localdate"
)

// Weekly sums daily usage per ISO-8601 week, newest week first.
// limit bounds the number of most recent weeks returned; limit <= 0 returns all.
func Weekly(daily []usagedomain.DailyUsage, limit int) []usagedomain.WeeklyUsage {
	buckets := make(map[civil.Date]*usagedomain.WeeklyUsage)
	for _, day := range daily {
		start := localdate.WeekStart(day.Date)
		bucket, ok := buckets[start]
		if !ok {
			year, week := localdate.ISOWeek(day.Date)
			bucket = &usagedomain.WeeklyUsage{
				ISOYear:   year,
				ISOWeek:   week,
				StartDate: start,
				EndDate:   start.AddDays(6),
			}
			buckets[start] = bucket
		}
		bucket.UsageKwh += day.UsageKwh
		bucket.Days++
	}

	out := make([]usagedomain.WeeklyUsage, 0, len(buckets))
	for _, bucket := range buckets {
		bucket.UsageKwh = derive.Round(bucket.UsageKwh)
		out = append(out, *bucket)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[j].StartDate.Before(out[i].StartDate)
	})
	return truncate(out, limit)
}

// Monthly sums daily usage per calendar month, newest month first.
// limit bounds the number of most recent months returned; limit <= 0 returns all.
func Monthly(daily []usagedomain.DailyUsage, limit int) []usagedomain.MonthlyUsage {
	buckets := make(map[civil.Date]*usagedomain.MonthlyUsage)
	for _, day := range daily {
		start := localdate.MonthStart(day.Date)
		bucket, ok := buckets[start]
		if !ok {
			bucket = &usagedomain.MonthlyUsage{
				Year:      start.Year,
				Month:     int(start.Month),
				StartDate: start,
				EndDate:   localdate.MonthEnd(start),
			}
			buckets[start] = bucket
		}
		bucket.UsageKwh += day.UsageKwh
		bucket.Days++
	}

	out := make([]usagedomain.MonthlyUsage, 0, len(buckets))
	for _, bucket := range buckets {
		bucket.UsageKwh = derive.Round(bucket.UsageKwh)
		out = append(out, *bucket)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[j].StartDate.Before(out[i].StartDate)
	})
	return truncate(out, limit)
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
