package trend

import (
	"sort"
	"time"
)

// Status is the lifecycle state of a trend
type Status string

const (
	StatusEmerging  Status = "emerging"
	StatusPeak      Status = "peak"
	StatusDeclining Status = "declining"
)

// EngagementStats aggregates engagement across the content of a trend
type EngagementStats struct {
	TotalViews            int64   `json:"totalViews"`
	TotalLikes            int64   `json:"totalLikes"`
	TotalComments         int64   `json:"totalComments"`
	TotalShares           int64   `json:"totalShares"`
	AverageEngagementRate float64 `json:"averageEngagementRate"`
	ContentCount          int     `json:"contentCount"`
	// GrowthRate is the percentage change of engagement in the trailing window
	// against the window before it.
	GrowthRate float64 `json:"growthRate"`
}

// ScorePoint is one entry of a trend's score history
type ScorePoint struct {
	Date     time.Time `json:"date"`
	Score    float64   `json:"score"`
	Velocity float64   `json:"velocity"`
}

// Lifecycle holds the bookkeeping the status state machine carries between
// recomputation cycles.
type Lifecycle struct {
	NegativeStreak    int     `json:"negativeStreak"`
	StreakStartScore  float64 `json:"streakStartScore"`
	DeclineStartScore float64 `json:"declineStartScore"`
	ReachedPeak       bool    `json:"reachedPeak"`
	// HighWater is the highest score in the history
	HighWater         float64 `json:"highWater"`
}

// Trend is a named cluster of related content themes with a score, a
// lifecycle status and a score history.
type Trend struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	ThemeIDs       []string        `json:"themeIds"`
	Score          float64         `json:"score"`
	Velocity       float64         `json:"velocity"`
	Status         Status          `json:"status"`
	Platforms      []string        `json:"platforms"`
	ExampleContent []string        `json:"exampleContent"`
	Engagement     EngagementStats `json:"engagement"`
	History        []ScorePoint    `json:"history"`
	Lifecycle      Lifecycle       `json:"lifecycle"`
	FirstDetected  time.Time       `json:"firstDetected"`
	LastUpdated    time.Time       `json:"lastUpdated"`
	SupersededBy   string          `json:"supersededBy,omitempty"`
	Version        int64           `json:"version"`
}

// Superseded reports whether the trend was merged into another trend
func (t Trend) Superseded() bool {
	return t.SupersededBy != ""
}

// Clone returns a deep copy so that callers can derive a new snapshot
// without touching the original.
func (t Trend) Clone() Trend {
	c := t
	c.ThemeIDs = append([]string(nil), t.ThemeIDs...)
	c.Platforms = append([]string(nil), t.Platforms...)
	c.ExampleContent = append([]string(nil), t.ExampleContent...)
	c.History = append([]ScorePoint(nil), t.History...)
	return c
}

// HighestScore returns the largest score in history, or 0 when it is empty
func HighestScore(history []ScorePoint) float64 {
	var high float64
	for _, p := range history {
		if p.Score > high {
			high = p.Score
		}
	}
	return high
}

// ScoreHistory returns the score history sorted ascending by date
func ScoreHistory(t Trend) []ScorePoint {
	h := append([]ScorePoint(nil), t.History...)
	sort.SliceStable(h, func(i, j int) bool {
		return h[i].Date.Before(h[j].Date)
	})
	return h
}

// Filter defines criteria for filtering trends
type Filter struct {
	MinScore          float64
	Statuses          []Status
	IncludePlatforms  []string
	IncludeSuperseded bool
	Limit             int
}

// Matches reports whether t satisfies the filter
func (f Filter) Matches(t Trend) bool {
	if t.Superseded() && !f.IncludeSuperseded {
		return false
	}
	if t.Score < f.MinScore {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, t.Status) {
		return false
	}
	if len(f.IncludePlatforms) > 0 {
		found := false
		for _, p := range f.IncludePlatforms {
			for _, tp := range t.Platforms {
				if p == tp {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
