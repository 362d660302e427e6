package formation

import (
	"sort"
	"time"

	"trendscope/internal/domain/trend"
)

// MergeHistories combines the score history of a surviving trend with the
// history of a trend it absorbs. Points are grouped by UTC calendar day; when
// both trends have points on the same day, the trend whose latest point that
// day is later keeps the day. Ties go to the survivor.
func MergeHistories(survivor, absorbed []trend.ScorePoint) []trend.ScorePoint {
	days := groupByDay(survivor)
	for day, points := range groupByDay(absorbed) {
		kept, ok := days[day]
		if !ok || latest(points).After(latest(kept)) {
			days[day] = points
		}
	}

	var out []trend.ScorePoint
	for _, points := range days {
		out = append(out, points...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

func groupByDay(points []trend.ScorePoint) map[time.Time][]trend.ScorePoint {
	days := make(map[time.Time][]trend.ScorePoint)
	for _, p := range points {
		d := p.Date.UTC()
		key := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		days[key] = append(days[key], p)
	}
	return days
}

func latest(points []trend.ScorePoint) time.Time {
	var t time.Time
	for _, p := range points {
		if p.Date.After(t) {
			t = p.Date
		}
	}
	return t
}
