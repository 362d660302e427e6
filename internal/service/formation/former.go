// internal/service/formation/former.go

package formation

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"trendscope/internal/domain/content"
	"trendscope/internal/domain/trend"
	"trendscope/internal/logging"
	"trendscope/internal/service/similarity"
)

// Config contains configuration for trend formation
type Config struct {
	// Threshold is the centroid similarity at which two themes belong to the
	// same trend
	Threshold float64
	// ExampleLimit bounds the example content kept per trend
	ExampleLimit int
	// Window is the length of the growth-rate windows
	Window time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Threshold:    0.85,
		ExampleLimit: 10,
		Window:       7 * 24 * time.Hour,
	}
}

// Result is the outcome of one formation run
type Result struct {
	// Trends are the new and updated live trends
	Trends []trend.Trend
	// Superseded are existing trends folded into a survivor during this run
	Superseded []trend.Trend
	// Assignments maps each live theme to the trend that owns it
	Assignments map[string]string
}

// Commit converts the result into a store commit
func (r Result) Commit() trend.Commit {
	return trend.Commit{Trends: r.Trends, Superseded: r.Superseded}
}

// Former groups content themes into trends
type Former struct {
	config Config
	logger *slog.Logger
}

// NewFormer creates a new trend former
func NewFormer(config Config, logger *slog.Logger) *Former {
	if config.ExampleLimit <= 0 {
		config.ExampleLimit = 10
	}
	if config.Window <= 0 {
		config.Window = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Former{config: config, logger: logger}
}

// Form connects live themes whose centroids are similar and maps every
// connected component to exactly one live trend. Inputs are not modified.
func (f *Former) Form(themes []content.Theme, existing []trend.Trend, now time.Time) (Result, error) {
	result := Result{Assignments: make(map[string]string)}

	live := make(map[string]content.Theme)
	successor := make(map[string]string)
	var ids []string
	dim := -1

	for _, th := range themes {
		if th.Retired {
			successor[th.ID] = th.SupersededBy
			continue
		}
		if th.Size() == 0 {
			continue
		}
		if dim >= 0 && len(th.Centroid) != dim {
			return result, goerr.Wrap(trend.ErrDimensionMismatch, "themes span several embedding spaces",
				goerr.V("theme_id", th.ID),
				goerr.V("expected", dim),
				goerr.V("actual", len(th.Centroid)),
			)
		}
		dim = len(th.Centroid)
		live[th.ID] = th
		ids = append(ids, th.ID)
	}
	sort.Strings(ids)

	ds := similarity.NewDisjointSet(ids...)
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ds.Connected(ids[i], ids[j]) {
				continue
			}
			sim, err := similarity.Cosine(live[ids[i]].Centroid, live[ids[j]].Centroid)
			if err != nil {
				return result, goerr.Wrap(err, "failed to compare theme centroids",
					goerr.V("left", ids[i]), goerr.V("right", ids[j]))
			}
			if sim >= f.config.Threshold {
				ds.Union(ids[i], ids[j])
			}
		}
	}

	// theme -> owning trends, following retired themes to their survivors
	trends := make(map[string]trend.Trend, len(existing))
	owners := make(map[string][]string)
	for _, t := range existing {
		if t.Superseded() {
			continue
		}
		trends[t.ID] = t
		for _, themeID := range t.ThemeIDs {
			resolved := resolve(themeID, successor)
			if _, ok := live[resolved]; !ok {
				continue
			}
			owners[resolved] = appendUnique(owners[resolved], t.ID)
		}
	}

	components := ds.Components()
	sort.SliceStable(components, func(i, j int) bool {
		return memberCount(components[i], live) > memberCount(components[j], live)
	})

	claimed := make(map[string]bool)
	for _, comp := range components {
		var candidates []trend.Trend
		seen := make(map[string]bool)
		for _, themeID := range comp {
			for _, trendID := range owners[themeID] {
				if claimed[trendID] || seen[trendID] {
					continue
				}
				seen[trendID] = true
				candidates = append(candidates, trends[trendID])
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			return detectedBefore(candidates[i], candidates[j])
		})

		var t trend.Trend
		if len(candidates) == 0 {
			t = trend.Trend{
				ID:            uuid.New().String(),
				Status:        trend.StatusEmerging,
				FirstDetected: now,
			}
		} else {
			t = candidates[0].Clone()
			claimed[t.ID] = true
			for _, other := range candidates[1:] {
				claimed[other.ID] = true
				t.History = MergeHistories(t.History, other.History)
				t.Lifecycle.HighWater = trend.HighestScore(t.History)
				if other.FirstDetected.Before(t.FirstDetected) {
					t.FirstDetected = other.FirstDetected
				}

				retired := other.Clone()
				retired.SupersededBy = t.ID
				retired.ThemeIDs = nil
				retired.LastUpdated = now
				result.Superseded = append(result.Superseded, retired)

				f.logger.Info("superseding trend",
					"trend_id", other.ID,
					"survivor_id", t.ID,
				)
			}
		}

		members := make([]content.Theme, 0, len(comp))
		for _, themeID := range comp {
			members = append(members, live[themeID])
			result.Assignments[themeID] = t.ID
		}
		f.describe(&t, members, now)
		result.Trends = append(result.Trends, t)
	}

	f.logger.Debug("formed trends",
		"themes", len(ids),
		"trends", len(result.Trends),
		"superseded", len(result.Superseded),
	)

	return result, nil
}

// describe fills the trend fields derived from its themes
func (f *Former) describe(t *trend.Trend, themes []content.Theme, now time.Time) {
	sort.Slice(themes, func(i, j int) bool {
		if themes[i].Size() != themes[j].Size() {
			return themes[i].Size() > themes[j].Size()
		}
		if !themes[i].CreatedAt.Equal(themes[j].CreatedAt) {
			return themes[i].CreatedAt.Before(themes[j].CreatedAt)
		}
		return themes[i].ID < themes[j].ID
	})

	lead := themes[0]
	t.Name = lead.Name
	t.Description = describeKeywords(lead.Keywords)

	var (
		themeIDs  []string
		platforms = make(map[string]struct{})
		members   []content.Member
		stats     trend.EngagementStats
		rateSum   float64
		current   int64
		prior     int64
	)

	for _, th := range themes {
		themeIDs = append(themeIDs, th.ID)
		for _, p := range th.Platforms {
			platforms[p] = struct{}{}
		}
		members = append(members, th.Members...)

		stats.TotalViews += th.Engagement.Views
		stats.TotalLikes += th.Engagement.Likes
		stats.TotalComments += th.Engagement.Comments
		stats.TotalShares += th.Engagement.Shares
		stats.ContentCount += th.Size()
		rateSum += th.Engagement.Rate * float64(th.Size())

		current += th.EngagementBetween(now.Add(-f.config.Window), now)
		prior += th.EngagementBetween(now.Add(-2*f.config.Window), now.Add(-f.config.Window))
	}

	if stats.ContentCount > 0 {
		stats.AverageEngagementRate = rateSum / float64(stats.ContentCount)
	}
	stats.GrowthRate = GrowthRate(current, prior)

	sort.Strings(themeIDs)
	t.ThemeIDs = themeIDs
	t.Platforms = sortedKeys(platforms)
	t.ExampleContent = recentExamples(members, f.config.ExampleLimit)
	t.Engagement = stats
	t.LastUpdated = now
}

// GrowthRate returns the percentage change from prior to current. A window
// that starts from nothing counts as 100% growth.
func GrowthRate(current, prior int64) float64 {
	if prior == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return float64(current-prior) / float64(prior) * 100
}

func recentExamples(members []content.Member, limit int) []string {
	sort.Slice(members, func(i, j int) bool {
		if !members[i].PublishedAt.Equal(members[j].PublishedAt) {
			return members[i].PublishedAt.After(members[j].PublishedAt)
		}
		return members[i].ItemID < members[j].ItemID
	})
	if len(members) > limit {
		members = members[:limit]
	}
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.ItemID
	}
	return out
}

func describeKeywords(keywords []string) string {
	if len(keywords) == 0 {
		return ""
	}
	if len(keywords) > 5 {
		keywords = keywords[:5]
	}
	return "Content about " + strings.Join(keywords, ", ")
}

// resolve follows superseded themes to the live theme that absorbed them
func resolve(id string, successor map[string]string) string {
	for hops := 0; hops <= len(successor); hops++ {
		next, ok := successor[id]
		if !ok || next == "" {
			return id
		}
		id = next
	}
	return id
}

func detectedBefore(a, b trend.Trend) bool {
	if !a.FirstDetected.Equal(b.FirstDetected) {
		return a.FirstDetected.Before(b.FirstDetected)
	}
	return a.ID < b.ID
}

func memberCount(ids []string, live map[string]content.Theme) int {
	n := 0
	for _, id := range ids {
		n += live[id].Size()
	}
	return n
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
