package formation_test

import (
	"errors"
	"fmt"
	"io"
	"math"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"trendscope/internal/domain/content"
	"trendscope/internal/domain/trend"
	"trendscope/internal/logging"
	"trendscope/internal/service/formation"
	"trendscope/internal/service/similarity"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFormer() *formation.Former {
	return formation.NewFormer(formation.DefaultConfig(), logging.New("error", io.Discard))
}

func newTheme(id string, centroid []float64, members ...content.Member) content.Theme {
	if len(members) == 0 {
		members = []content.Member{{ItemID: id + "-item", Platform: "youtube", PublishedAt: now.Add(-time.Hour), Engagement: 10}}
	}
	platforms := map[string]bool{}
	var ps []string
	for _, m := range members {
		if !platforms[m.Platform] {
			platforms[m.Platform] = true
			ps = append(ps, m.Platform)
		}
	}
	return content.Theme{
		ID:        id,
		Name:      id,
		Keywords:  []string{id},
		Centroid:  centroid,
		Members:   members,
		Platforms: ps,
		Engagement: content.Engagement{
			Views: 100 * int64(len(members)),
			Rate:  0.1,
		},
		CreatedAt: now.Add(-24 * time.Hour),
	}
}

func TestFormGroupsSimilarThemes(t *testing.T) {
	res, err := newFormer().Form([]content.Theme{
		newTheme("a", []float64{1, 0, 0}),
		newTheme("b", []float64{0.95, 0.1, 0}),
		newTheme("c", []float64{0, 0, 1}),
	}, nil, now)
	gt.NoError(t, err)

	gt.A(t, res.Trends).Length(2)
	gt.A(t, res.Superseded).Length(0)
	gt.Equal(t, res.Assignments["a"], res.Assignments["b"])
	gt.True(t, res.Assignments["a"] != res.Assignments["c"])

	for _, tr := range res.Trends {
		gt.Equal(t, tr.Status, trend.StatusEmerging)
		gt.Equal(t, tr.FirstDetected, now)
		if tr.ID == res.Assignments["a"] {
			gt.Equal(t, tr.ThemeIDs, []string{"a", "b"})
			gt.Equal(t, tr.Engagement.ContentCount, 2)
			gt.Equal(t, tr.Engagement.TotalViews, int64(200))
		}
	}
}

func TestFormSeparatesDissimilarTrends(t *testing.T) {
	themes := []content.Theme{
		newTheme("t0", []float64{1, 0, 0, 0}),
		newTheme("t1", []float64{0.9, 0.44, 0, 0}),
		newTheme("t2", []float64{0.6, 0.8, 0, 0}),
		newTheme("t3", []float64{0, 1, 0.1, 0}),
		newTheme("t4", []float64{0, 0, 1, 0}),
		newTheme("t5", []float64{0, 0, 0.7, 0.7}),
		newTheme("t6", []float64{0, 0, 0, 1}),
		newTheme("t7", []float64{0.5, 0.5, 0.5, 0.5}),
	}

	res, err := newFormer().Form(themes, nil, now)
	gt.NoError(t, err)

	for i := range themes {
		for j := i + 1; j < len(themes); j++ {
			if res.Assignments[themes[i].ID] == res.Assignments[themes[j].ID] {
				continue
			}
			sim, err := similarity.Cosine(themes[i].Centroid, themes[j].Centroid)
			gt.NoError(t, err)
			gt.True(t, sim < 0.85)
		}
	}
}

func TestFormKeepsExistingOwner(t *testing.T) {
	existing := []trend.Trend{{
		ID:            "trend-1",
		ThemeIDs:      []string{"a"},
		Status:        trend.StatusPeak,
		Score:         70,
		FirstDetected: now.Add(-72 * time.Hour),
		Version:       3,
	}}

	res, err := newFormer().Form([]content.Theme{
		newTheme("a", []float64{1, 0}),
		newTheme("b", []float64{0.99, 0.05}),
	}, existing, now)
	gt.NoError(t, err)

	gt.A(t, res.Trends).Length(1)
	tr := res.Trends[0]
	gt.Equal(t, tr.ID, "trend-1")
	gt.Equal(t, tr.Status, trend.StatusPeak)
	gt.Equal(t, tr.Score, 70.0)
	gt.Equal(t, tr.Version, int64(3))
	gt.Equal(t, tr.ThemeIDs, []string{"a", "b"})

	// input snapshot stays untouched
	gt.Equal(t, existing[0].ThemeIDs, []string{"a"})
}

func TestFormFollowsRetiredThemes(t *testing.T) {
	retired := newTheme("old", []float64{1, 0})
	retired.Retired = true
	retired.SupersededBy = "new"
	retired.Members = nil

	existing := []trend.Trend{{
		ID:            "trend-1",
		ThemeIDs:      []string{"old"},
		FirstDetected: now.Add(-time.Hour),
	}}

	res, err := newFormer().Form([]content.Theme{
		retired,
		newTheme("new", []float64{1, 0}),
	}, existing, now)
	gt.NoError(t, err)
	gt.A(t, res.Trends).Length(1)
	gt.Equal(t, res.Trends[0].ID, "trend-1")
	gt.Equal(t, res.Trends[0].ThemeIDs, []string{"new"})
}

func TestFormSupersedesYoungerOwner(t *testing.T) {
	day := func(d int) time.Time { return now.AddDate(0, 0, -d) }
	existing := []trend.Trend{
		{
			ID:            "young",
			ThemeIDs:      []string{"b"},
			FirstDetected: day(2),
			History: []trend.ScorePoint{
				{Date: day(2), Score: 20},
				{Date: day(1), Score: 30},
			},
		},
		{
			ID:            "old",
			ThemeIDs:      []string{"a"},
			FirstDetected: day(5),
			History: []trend.ScorePoint{
				{Date: day(5), Score: 40},
				{Date: day(4), Score: 45},
			},
		},
	}

	res, err := newFormer().Form([]content.Theme{
		newTheme("a", []float64{1, 0}),
		newTheme("b", []float64{0.98, 0.1}),
	}, existing, now)
	gt.NoError(t, err)

	gt.A(t, res.Trends).Length(1)
	gt.Equal(t, res.Trends[0].ID, "old")
	gt.Equal(t, res.Trends[0].ThemeIDs, []string{"a", "b"})
	gt.A(t, res.Trends[0].History).Length(4)
	gt.Equal(t, res.Trends[0].Lifecycle.HighWater, 45.0)

	gt.A(t, res.Superseded).Length(1)
	gone := res.Superseded[0]
	gt.Equal(t, gone.ID, "young")
	gt.Equal(t, gone.SupersededBy, "old")
	gt.A(t, gone.ThemeIDs).Length(0)
	gt.True(t, gone.Superseded())
}

func TestFormIgnoresSupersededTrends(t *testing.T) {
	existing := []trend.Trend{{
		ID:           "gone",
		ThemeIDs:     []string{"a"},
		SupersededBy: "other",
	}}

	res, err := newFormer().Form([]content.Theme{newTheme("a", []float64{1, 0})}, existing, now)
	gt.NoError(t, err)
	gt.A(t, res.Trends).Length(1)
	gt.True(t, res.Trends[0].ID != "gone")
}

func TestFormEngagementStats(t *testing.T) {
	week := 7 * 24 * time.Hour
	a := newTheme("a", []float64{1, 0},
		content.Member{ItemID: "a1", Platform: "youtube", PublishedAt: now.Add(-time.Hour), Engagement: 300},
		content.Member{ItemID: "a2", Platform: "tiktok", PublishedAt: now.Add(-week - time.Hour), Engagement: 100},
	)
	a.Engagement.Rate = 0.2
	b := newTheme("b", []float64{0.99, 0.01},
		content.Member{ItemID: "b1", Platform: "reddit", PublishedAt: now.Add(-2 * time.Hour), Engagement: 100},
	)
	b.Engagement.Rate = 0.5

	res, err := newFormer().Form([]content.Theme{a, b}, nil, now)
	gt.NoError(t, err)
	gt.A(t, res.Trends).Length(1)

	tr := res.Trends[0]
	gt.Equal(t, tr.Platforms, []string{"reddit", "tiktok", "youtube"})
	gt.Equal(t, tr.ExampleContent, []string{"a1", "b1", "a2"})
	gt.Equal(t, tr.Engagement.ContentCount, 3)
	gt.True(t, math.Abs(tr.Engagement.AverageEngagementRate-0.3) < 1e-9)
	gt.True(t, math.Abs(tr.Engagement.GrowthRate-300) < 1e-9)
	gt.Equal(t, tr.Name, "a")
}

func TestFormBoundsExampleContent(t *testing.T) {
	var members []content.Member
	for i := 0; i < 25; i++ {
		members = append(members, content.Member{
			ItemID:      fmt.Sprintf("item-%02d", i),
			Platform:    "youtube",
			PublishedAt: now.Add(-time.Duration(i) * time.Minute),
		})
	}

	res, err := newFormer().Form([]content.Theme{newTheme("a", []float64{1, 0}, members...)}, nil, now)
	gt.NoError(t, err)
	gt.A(t, res.Trends[0].ExampleContent).Length(10)
	gt.Equal(t, res.Trends[0].ExampleContent[0], "item-00")
	gt.Equal(t, res.Trends[0].ExampleContent[9], "item-09")
}

func TestFormRejectsMixedDimensions(t *testing.T) {
	_, err := newFormer().Form([]content.Theme{
		newTheme("a", []float64{1, 0}),
		newTheme("b", []float64{1, 0, 0}),
	}, nil, now)
	gt.True(t, errors.Is(err, trend.ErrDimensionMismatch))
}

func TestGrowthRate(t *testing.T) {
	gt.Equal(t, formation.GrowthRate(0, 0), 0.0)
	gt.Equal(t, formation.GrowthRate(10, 0), 100.0)
	gt.Equal(t, formation.GrowthRate(150, 100), 50.0)
	gt.Equal(t, formation.GrowthRate(50, 100), -50.0)
}

func TestMergeHistories(t *testing.T) {
	d := func(day, hour int) time.Time { return time.Date(2026, 3, day, hour, 0, 0, 0, time.UTC) }

	survivor := []trend.ScorePoint{
		{Date: d(1, 6), Score: 10},
		{Date: d(2, 6), Score: 20},
		{Date: d(2, 12), Score: 21},
		{Date: d(4, 6), Score: 40},
	}
	absorbed := []trend.ScorePoint{
		{Date: d(2, 18), Score: 99}, // later on day 2, wins the day
		{Date: d(3, 6), Score: 30},
		{Date: d(4, 6), Score: 77}, // tie on day 4, survivor keeps it
	}

	merged := formation.MergeHistories(survivor, absorbed)
	gt.A(t, merged).Length(4)
	gt.Equal(t, merged[0].Score, 10.0)
	gt.Equal(t, merged[1].Score, 99.0)
	gt.Equal(t, merged[2].Score, 30.0)
	gt.Equal(t, merged[3].Score, 40.0)
}
