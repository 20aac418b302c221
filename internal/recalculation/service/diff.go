package service

import (
	"math"
	"sort"

	"github.com/golang-sql/civil"
	recalculationdomain "github.com/smallbiznis/kwhtracker/internal/recalculation/domain"
	usagedomain "github.com/smallbiznis/kwhtracker/internal/usage/domain"
)

const usageEpsilon = 1e-9

// Diff compares two derived daily series and lists every day whose usage or top-up
// status changed, ascending by date.
func Diff(before, after []usagedomain.DailyUsage) []recalculationdomain.AffectedEvent {
	old := indexByDate(before)
	cur := indexByDate(after)

	dates := make([]civil.Date, 0, len(old)+len(cur))
	for date := range old {
		dates = append(dates, date)
	}
	for date := range cur {
		if _, ok := old[date]; !ok {
			dates = append(dates, date)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	events := make([]recalculationdomain.AffectedEvent, 0)
	for _, date := range dates {
		prev, hadPrev := old[date]
		next, hasNext := cur[date]
		switch {
		case hadPrev && !hasNext:
			events = append(events, recalculationdomain.AffectedEvent{
				EventDate: date,
				EventType: recalculationdomain.EventDayRemoved,
				OldKwh:    kwhPtr(prev.UsageKwh),
			})
		case !hadPrev && hasNext:
			events = append(events, recalculationdomain.AffectedEvent{
				EventDate: date,
				EventType: recalculationdomain.EventDayAdded,
				NewKwh:    kwhPtr(next.UsageKwh),
			})
		case prev.IsTopUp != next.IsTopUp:
			events = append(events, recalculationdomain.AffectedEvent{
				EventDate: date,
				EventType: recalculationdomain.EventTopUpChanged,
				OldKwh:    kwhPtr(prev.UsageKwh),
				NewKwh:    kwhPtr(next.UsageKwh),
			})
		case math.Abs(prev.UsageKwh-next.UsageKwh) > usageEpsilon:
			events = append(events, recalculationdomain.AffectedEvent{
				EventDate: date,
				EventType: recalculationdomain.EventUsageChanged,
				OldKwh:    kwhPtr(prev.UsageKwh),
				NewKwh:    kwhPtr(next.UsageKwh),
			})
		}
	}
	return events
}

func indexByDate(days []usagedomain.DailyUsage) map[civil.Date]usagedomain.DailyUsage {
	out := make(map[civil.Date]usagedomain.DailyUsage, len(days))
	for _, day := range days {
		out[day.Date] = day
	}
	return out
}

func kwhPtr(v float64) *float64 {
	return &v
}
