package scoring_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"trendscope/internal/domain/content"
	"trendscope/internal/service/scoring"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func baseSignals() scoring.Signals {
	return scoring.Signals{
		Now:               now,
		CurrentEngagement: 100,
		PriorEngagement:   100,
		ContentCount:      20,
		Ages:              []time.Duration{time.Hour, 24 * time.Hour},
		Platforms:         2,
	}
}

func TestScoreStaysInRange(t *testing.T) {
	cfg := scoring.DefaultConfig()

	for name, s := range map[string]scoring.Signals{
		"empty":     {Now: now},
		"explosive": {Now: now, CurrentEngagement: 1e12, ContentCount: 1e6, Ages: []time.Duration{0}, Platforms: 50},
		"collapse":  {Now: now, CurrentEngagement: 0, PriorEngagement: 1e9, ContentCount: 1},
		"future":    {Now: now, ContentCount: 1, Ages: []time.Duration{-time.Hour}, Platforms: 1},
		"negative":  {Now: now, ContentCount: -4, Platforms: -1},
		"baseline":  baseSignals(),
	} {
		t.Run(name, func(t *testing.T) {
			b := cfg.Score(s)
			gt.Number(t, b.Total).GreaterOrEqual(0)
			gt.Number(t, b.Total).LessOrEqual(100)
			for _, term := range []float64{b.Velocity, b.Volume, b.Recency, b.CrossPlatform} {
				gt.Number(t, term).GreaterOrEqual(0)
				gt.Number(t, term).LessOrEqual(100)
			}
		})
	}
}

func TestStalledEngagementScoresMidpoint(t *testing.T) {
	b := scoring.DefaultConfig().Score(baseSignals())
	gt.Equal(t, b.Velocity, 50.0)

	b = scoring.DefaultConfig().Score(scoring.Signals{Now: now})
	gt.Equal(t, b.Velocity, 50.0)
}

func TestScoreMonotoneInVelocity(t *testing.T) {
	cfg := scoring.DefaultConfig()
	prev := -1.0
	for _, cur := range []float64{0, 50, 100, 150, 400, 1e4} {
		s := baseSignals()
		s.CurrentEngagement = cur
		total := cfg.Score(s).Total
		gt.Number(t, total).GreaterOrEqual(prev)
		prev = total
	}
}

func TestScoreMonotoneInVolume(t *testing.T) {
	cfg := scoring.DefaultConfig()
	prev := -1.0
	for _, n := range []int{0, 1, 10, 100, 1000, 5000} {
		s := baseSignals()
		s.ContentCount = n
		total := cfg.Score(s).Total
		gt.Number(t, total).GreaterOrEqual(prev)
		prev = total
	}

	// saturates above the ceiling
	s := baseSignals()
	s.ContentCount = 1000
	atCeiling := cfg.Score(s)
	s.ContentCount = 100000
	gt.Equal(t, cfg.Score(s).Volume, atCeiling.Volume)
	gt.Equal(t, atCeiling.Volume, 100.0)
}

func TestRecencyStrictlyMonotone(t *testing.T) {
	cfg := scoring.DefaultConfig()

	newer := baseSignals()
	newer.Ages = []time.Duration{2 * time.Hour, 3 * time.Hour}
	older := baseSignals()
	older.Ages = []time.Duration{20 * time.Hour, 30 * time.Hour}

	gt.True(t, cfg.Score(newer).Recency > cfg.Score(older).Recency)
	gt.True(t, cfg.Score(newer).Total > cfg.Score(older).Total)
}

func TestDecayHalvesAtHalfLife(t *testing.T) {
	d := scoring.Decay(48*time.Hour, 48*time.Hour)
	gt.Number(t, d).GreaterOrEqual(0.4999999)
	gt.Number(t, d).LessOrEqual(0.5000001)
	gt.Number(t, scoring.Decay(0, 48*time.Hour)).GreaterOrEqual(0.9999999)
}

func TestOldContentStaysOrderedByRecency(t *testing.T) {
	cfg := scoring.DefaultConfig()
	day := 24 * time.Hour

	newer := baseSignals()
	newer.Ages = []time.Duration{120 * day}
	older := baseSignals()
	older.Ages = []time.Duration{130 * day}

	gt.True(t, cfg.Score(newer).Total > cfg.Score(older).Total)

	newer.Ages = []time.Duration{3 * 365 * day}
	older.Ages = []time.Duration{3*365*day + day}
	gt.True(t, cfg.Score(newer).Total > cfg.Score(older).Total)

	gt.True(t, scoring.Decay(400*day, 48*time.Hour) > 0)
}

func TestCrossPlatformSaturates(t *testing.T) {
	cfg := scoring.DefaultConfig()
	s := baseSignals()

	s.Platforms = 1
	gt.Equal(t, cfg.Score(s).CrossPlatform, 25.0)
	s.Platforms = 4
	gt.Equal(t, cfg.Score(s).CrossPlatform, 100.0)
	s.Platforms = 9
	gt.Equal(t, cfg.Score(s).CrossPlatform, 100.0)
}

func TestCollectSignals(t *testing.T) {
	week := 7 * 24 * time.Hour
	themes := []content.Theme{
		{
			ID:        "a",
			Platforms: []string{"youtube"},
			Members: []content.Member{
				{ItemID: "1", Platform: "youtube", PublishedAt: now.Add(-time.Hour), Engagement: 40},
				{ItemID: "2", Platform: "tiktok", PublishedAt: now.Add(-week - time.Hour), Engagement: 10},
			},
		},
		{
			ID: "b",
			Members: []content.Member{
				{ItemID: "3", Platform: "reddit", PublishedAt: now.Add(-2 * time.Hour), Engagement: 20},
			},
		},
		{ID: "retired", Retired: true, Members: []content.Member{{ItemID: "x", Platform: "x", Engagement: 1000}}},
	}

	s := scoring.CollectSignals(themes, now, week)
	gt.Equal(t, s.Now, now)
	gt.Equal(t, s.CurrentEngagement, 60.0)
	gt.Equal(t, s.PriorEngagement, 10.0)
	gt.Equal(t, s.ContentCount, 3)
	gt.Equal(t, s.Platforms, 3)
	gt.A(t, s.Ages).Length(3)
}
