// internal/service/theme/aggregator.go

package theme

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"trendscope/internal/domain/content"
	"trendscope/internal/domain/trend"
	"trendscope/internal/logging"
	"trendscope/internal/service/similarity"
)

// AggregatorConfig contains configuration for the theme aggregator
type AggregatorConfig struct {
	Dimension      int
	MergeThreshold float64
	NameKeywords   int
}

// DefaultAggregatorConfig returns the production defaults
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Dimension:      384,
		MergeThreshold: 0.80,
		NameKeywords:   3,
	}
}

// BatchResult reports what one aggregation batch changed
type BatchResult struct {
	// Themes holds every theme the batch touched, retired ones included
	Themes           []content.Theme
	Created          []string
	Updated          []string
	Retired          []string
	Assigned         int
	Skipped          int
	AlreadyClustered int
}

// Live returns the themes of the result that are still live
func (r BatchResult) Live() []content.Theme {
	var out []content.Theme
	for _, th := range r.Themes {
		if !th.Retired {
			out = append(out, th)
		}
	}
	return out
}

// Aggregator groups content items into themes by embedding proximity.
// It owns the centroid index; batches are processed one at a time so that
// centroid updates of a theme never interleave.
type Aggregator struct {
	index  *similarity.Index
	config AggregatorConfig
	logger *slog.Logger
	mu     sync.Mutex
}

// NewAggregator creates a new aggregator over the given centroid index
func NewAggregator(index *similarity.Index, config AggregatorConfig, logger *slog.Logger) (*Aggregator, error) {
	if index.Dimension() != config.Dimension {
		return nil, goerr.New("centroid index dimension does not match configuration",
			goerr.V("index_dim", index.Dimension()),
			goerr.V("config_dim", config.Dimension),
		)
	}
	if config.NameKeywords <= 0 {
		config.NameKeywords = 3
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Aggregator{
		index:  index,
		config: config,
		logger: logger,
	}, nil
}

// Index exposes the centroid index for read-only queries
func (a *Aggregator) Index() *similarity.Index {
	return a.index
}

// Aggregate clusters items into the given theme snapshot and returns the
// changed themes. The snapshot is not modified. Items with a missing or
// malformed embedding are logged and counted, never fatal.
func (a *Aggregator) Aggregate(themes []content.Theme, items []content.Item, now time.Time) (BatchResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var result BatchResult

	working := make(map[string]*content.Theme, len(themes))
	order := make([]string, 0, len(themes))
	memberOf := make(map[string]string)
	centroids := make(map[string][]float64, len(themes))

	for _, th := range themes {
		if th.Retired || th.Size() == 0 {
			continue
		}
		if len(th.Centroid) != a.config.Dimension {
			a.logger.Warn("ignoring theme with foreign centroid dimension",
				"theme_id", th.ID, "dim", len(th.Centroid))
			continue
		}
		c := th.Clone()
		working[c.ID] = &c
		order = append(order, c.ID)
		centroids[c.ID] = c.Centroid
		for _, m := range c.Members {
			memberOf[m.ItemID] = c.ID
		}
	}

	if err := a.index.Reset(centroids); err != nil {
		return result, goerr.Wrap(err, "failed to load theme centroids")
	}

	created := make(map[string]bool)
	touched := make(map[string]bool)
	batch := similarity.NewIndex(a.config.Dimension)
	var batchItems []content.Item

	for _, item := range items {
		if err := a.validate(item); err != nil {
			result.Skipped++
			a.logger.Warn("skipping content item", "item_id", item.ID, "error", err)
			continue
		}
		if _, ok := memberOf[item.ID]; ok {
			result.AlreadyClustered++
			continue
		}

		matches, err := a.index.NearestAbove(item.Embedding, a.config.MergeThreshold)
		if err != nil {
			return result, goerr.Wrap(err, "failed to query centroid index", goerr.V("item_id", item.ID))
		}

		var target *content.Theme
		if len(matches) > 0 {
			target = working[a.pickBest(matches, working)]
			addMember(target, item, now)
			result.Assigned++
		} else {
			th := a.newTheme(item, now)
			target = &th
			working[th.ID] = target
			order = append(order, th.ID)
			created[th.ID] = true
		}

		if err := a.index.Insert(target.ID, target.Centroid); err != nil {
			return result, goerr.Wrap(err, "failed to index theme centroid", goerr.V("theme_id", target.ID))
		}
		if err := batch.Insert(item.ID, item.Embedding); err != nil {
			return result, goerr.Wrap(err, "failed to index batch item", goerr.V("item_id", item.ID))
		}

		touched[target.ID] = true
		memberOf[item.ID] = target.ID
		batchItems = append(batchItems, item)
	}

	retired, err := a.consolidate(batch, batchItems, memberOf, working, now)
	if err != nil {
		return result, err
	}
	for _, id := range retired {
		touched[id] = true
	}

	for _, id := range order {
		if !touched[id] {
			continue
		}
		th := working[id]
		result.Themes = append(result.Themes, *th)
		switch {
		case th.Retired:
			result.Retired = append(result.Retired, id)
		case created[id]:
			result.Created = append(result.Created, id)
		default:
			result.Updated = append(result.Updated, id)
		}
	}

	a.logger.Debug("aggregated content batch",
		"items", len(items),
		"created", len(result.Created),
		"updated", len(result.Updated),
		"retired", len(result.Retired),
		"skipped", result.Skipped,
	)

	return result, nil
}

// consolidate merges themes that ended up holding batch items which are
// similar to each other, so similar items always share a theme.
func (a *Aggregator) consolidate(
	batch *similarity.Index,
	items []content.Item,
	memberOf map[string]string,
	working map[string]*content.Theme,
	now time.Time,
) ([]string, error) {
	ds := similarity.NewDisjointSet()
	for _, item := range items {
		neighbors, err := batch.NearestAbove(item.Embedding, a.config.MergeThreshold)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to query batch index", goerr.V("item_id", item.ID))
		}
		for _, n := range neighbors {
			ds.Union(memberOf[item.ID], memberOf[n.ID])
		}
	}

	var retired []string
	for _, comp := range ds.Components() {
		if len(comp) < 2 {
			continue
		}

		group := make([]*content.Theme, 0, len(comp))
		for _, id := range comp {
			group = append(group, working[id])
		}
		sort.Slice(group, func(i, j int) bool {
			return establishedBefore(group[i], group[j])
		})

		survivor := group[0]
		for _, other := range group[1:] {
			mergeInto(survivor, other, now)
			for _, m := range survivor.Members {
				memberOf[m.ItemID] = survivor.ID
			}
			a.index.Remove(other.ID)
			retired = append(retired, other.ID)
		}
		if err := a.index.Insert(survivor.ID, survivor.Centroid); err != nil {
			return nil, goerr.Wrap(err, "failed to index merged centroid", goerr.V("theme_id", survivor.ID))
		}
	}

	return retired, nil
}

func (a *Aggregator) validate(item content.Item) error {
	if item.ID == "" {
		return goerr.Wrap(trend.ErrValidation, "content item without identifier")
	}
	return similarity.Validate(item.Embedding, a.config.Dimension)
}

// pickBest returns the best matching theme. Equal scores go to the larger,
// then older theme.
func (a *Aggregator) pickBest(matches []similarity.Match, working map[string]*content.Theme) string {
	best := matches[0]
	for _, m := range matches[1:] {
		if m.Score > best.Score {
			best = m
			continue
		}
		if m.Score == best.Score && establishedBefore(working[m.ID], working[best.ID]) {
			best = m
		}
	}
	return best.ID
}

func (a *Aggregator) newTheme(item content.Item, now time.Time) content.Theme {
	id := uuid.New().String()
	th := content.Theme{
		ID:        id,
		Name:      themeName(item.Keywords, a.config.NameKeywords, id),
		Keywords:  union(nil, item.Keywords),
		Centroid:  append([]float64(nil), item.Embedding...),
		Sentiment: item.Sentiment,
		Platforms: union(nil, []string{item.Platform}),
		Engagement: content.Engagement{
			Views:    item.Engagement.Views,
			Likes:    item.Engagement.Likes,
			Comments: item.Engagement.Comments,
			Shares:   item.Engagement.Shares,
			Rate:     item.Engagement.Rate,
		},
		Members:   []content.Member{memberOfItem(item)},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return th
}

// establishedBefore orders themes by membership (larger first), then age
func establishedBefore(x, y *content.Theme) bool {
	if x.Size() != y.Size() {
		return x.Size() > y.Size()
	}
	if !x.CreatedAt.Equal(y.CreatedAt) {
		return x.CreatedAt.Before(y.CreatedAt)
	}
	return x.ID < y.ID
}

func addMember(th *content.Theme, item content.Item, now time.Time) {
	n := float64(th.Size())
	for j := range th.Centroid {
		th.Centroid[j] = (th.Centroid[j]*n + item.Embedding[j]) / (n + 1)
	}
	th.Sentiment = (th.Sentiment*n + item.Sentiment) / (n + 1)
	th.Engagement.Rate = (th.Engagement.Rate*n + item.Engagement.Rate) / (n + 1)
	th.Engagement.Views += item.Engagement.Views
	th.Engagement.Likes += item.Engagement.Likes
	th.Engagement.Comments += item.Engagement.Comments
	th.Engagement.Shares += item.Engagement.Shares
	th.Keywords = union(th.Keywords, item.Keywords)
	th.Platforms = union(th.Platforms, []string{item.Platform})
	th.Members = append(th.Members, memberOfItem(item))
	th.UpdatedAt = now
}

func mergeInto(dst, src *content.Theme, now time.Time) {
	nd, ns := float64(dst.Size()), float64(src.Size())
	total := nd + ns

	dst.Centroid = similarity.Mean([][]float64{dst.Centroid, src.Centroid}, []float64{nd, ns})
	dst.Sentiment = (dst.Sentiment*nd + src.Sentiment*ns) / total
	dst.Engagement.Rate = (dst.Engagement.Rate*nd + src.Engagement.Rate*ns) / total
	dst.Engagement.Views += src.Engagement.Views
	dst.Engagement.Likes += src.Engagement.Likes
	dst.Engagement.Comments += src.Engagement.Comments
	dst.Engagement.Shares += src.Engagement.Shares
	dst.Keywords = union(dst.Keywords, src.Keywords)
	dst.Platforms = union(dst.Platforms, src.Platforms)
	dst.Members = append(dst.Members, src.Members...)
	dst.UpdatedAt = now

	src.Retired = true
	src.SupersededBy = dst.ID
	src.Members = nil
	src.UpdatedAt = now
}

func memberOfItem(item content.Item) content.Member {
	return content.Member{
		ItemID:      item.ID,
		Platform:    item.Platform,
		PublishedAt: item.PublishedAt,
		Engagement:  item.Engagement.Total(),
	}
}

// union merges b into a, dropping blanks and duplicates, sorted
func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func themeName(keywords []string, n int, id string) string {
	var parts []string
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		parts = append(parts, k)
		if len(parts) == n {
			break
		}
	}
	if len(parts) == 0 {
		return "theme-" + id[:8]
	}
	return strings.Join(parts, " ")
}
