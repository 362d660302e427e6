// internal/domain/content/model.go

package content

import (
	"context"
	"time"
)

// EngagementSnapshot is the engagement state of an item at Timestamp
type EngagementSnapshot struct {
	Views     int64     `json:"views"`
	Likes     int64     `json:"likes"`
	Comments  int64     `json:"comments"`
	Shares    int64     `json:"shares"`
	Rate      float64   `json:"rate"`
	Timestamp time.Time `json:"timestamp"`
}

// Total is the sum of all interaction counts
func (e EngagementSnapshot) Total() int64 {
	return e.Views + e.Likes + e.Comments + e.Shares
}

// Item is one analyzed piece of content as delivered by the NLP/vision
// collaborators. It is read-only inside the core.
type Item struct {
	ID          string             `json:"itemId"`
	Platform    string             `json:"platform"`
	PublishedAt time.Time          `json:"publishedAt"`
	Engagement  EngagementSnapshot `json:"engagementMetrics"`
	Embedding   []float64          `json:"embedding"`
	Sentiment   float64            `json:"sentiment"`
	Keywords    []string           `json:"keywords"`
}

// Member is the footprint an item leaves in a theme
type Member struct {
	ItemID      string    `json:"itemId"`
	Platform    string    `json:"platform"`
	PublishedAt time.Time `json:"publishedAt"`
	Engagement  int64     `json:"engagement"`
}

// Engagement holds summed counts and the mean engagement rate of a theme
type Engagement struct {
	Views    int64   `json:"views"`
	Likes    int64   `json:"likes"`
	Comments int64   `json:"comments"`
	Shares   int64   `json:"shares"`
	Rate     float64 `json:"rate"`
}

// Theme is a cluster of content items grouped by embedding similarity
type Theme struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Keywords     []string   `json:"keywords"`
	Centroid     []float64  `json:"centroid"`
	Members      []Member   `json:"members"`
	Sentiment    float64    `json:"sentiment"`
	Platforms    []string   `json:"platforms"`
	Engagement   Engagement `json:"engagement"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	Retired      bool       `json:"retired"`
	SupersededBy string     `json:"supersededBy,omitempty"`
}

// Size returns the number of members
func (t Theme) Size() int {
	return len(t.Members)
}

// MemberIDs returns the identifiers of all member items
func (t Theme) MemberIDs() []string {
	ids := make([]string, len(t.Members))
	for i, m := range t.Members {
		ids[i] = m.ItemID
	}
	return ids
}

// EngagementBetween sums the engagement of members published in (from, to]
func (t Theme) EngagementBetween(from, to time.Time) int64 {
	var total int64
	for _, m := range t.Members {
		if m.PublishedAt.After(from) && !m.PublishedAt.After(to) {
			total += m.Engagement
		}
	}
	return total
}

// Clone returns a deep copy of the theme
func (t Theme) Clone() Theme {
	c := t
	c.Keywords = append([]string(nil), t.Keywords...)
	c.Centroid = append([]float64(nil), t.Centroid...)
	c.Members = append([]Member(nil), t.Members...)
	c.Platforms = append([]string(nil), t.Platforms...)
	return c
}

// ThemeStore persists content themes
type ThemeStore interface {
	// SaveThemes writes a batch of themes, live and retired, as one unit
	SaveThemes(ctx context.Context, themes []Theme) error

	// ListThemes returns every theme, including retired ones
	ListThemes(ctx context.Context) ([]Theme, error)
}
