// internal/service/scoring/score.go

package scoring

import (
	"math"
	"time"

	"trendscope/internal/domain/content"
)

// Weights are the contributions of the four score terms. They sum to 1.
type Weights struct {
	Velocity      float64
	Volume        float64
	Recency       float64
	CrossPlatform float64
}

// Config contains configuration for trend scoring and the lifecycle
type Config struct {
	Weights Weights
	// Window is the trailing engagement window compared with the window before it
	Window time.Duration
	// VolumeCeiling is the content count at which the volume term saturates
	VolumeCeiling int
	// HalfLife is the age at which an item's recency contribution halves
	HalfLife time.Duration
	// MaxPlatforms is the platform count at which the cross-platform term saturates
	MaxPlatforms int
	// DeclineStreak is the number of consecutive negative-velocity cycles that
	// turn an emerging trend into a declining one
	DeclineStreak int
	// PeakMargin is how far a score must exceed the trend's historical high to
	// count as a new high
	PeakMargin float64
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Velocity:      0.4,
			Volume:        0.3,
			Recency:       0.2,
			CrossPlatform: 0.1,
		},
		Window:        7 * 24 * time.Hour,
		VolumeCeiling: 1000,
		HalfLife:      48 * time.Hour,
		MaxPlatforms:  4,
		DeclineStreak: 3,
		PeakMargin:    0,
	}
}

// Signals are the raw measurements a score is computed from
type Signals struct {
	Now               time.Time
	CurrentEngagement float64
	PriorEngagement   float64
	ContentCount      int
	Ages              []time.Duration
	Platforms         int
}

// Breakdown is a computed score with its individual terms, each in [0,100]
type Breakdown struct {
	Velocity      float64 `json:"velocity"`
	Volume        float64 `json:"volume"`
	Recency       float64 `json:"recency"`
	CrossPlatform float64 `json:"crossPlatform"`
	Total         float64 `json:"total"`
}

// Score combines the signals into a weighted score in [0,100]
func (c Config) Score(s Signals) Breakdown {
	b := Breakdown{
		Velocity:      c.velocityTerm(s.CurrentEngagement, s.PriorEngagement),
		Volume:        c.volumeTerm(s.ContentCount),
		Recency:       c.recencyTerm(s.Ages),
		CrossPlatform: c.crossPlatformTerm(s.Platforms),
	}
	b.Total = clamp(
		c.Weights.Velocity*b.Velocity+
			c.Weights.Volume*b.Volume+
			c.Weights.Recency*b.Recency+
			c.Weights.CrossPlatform*b.CrossPlatform,
		0, 100)
	return b
}

// velocityTerm maps relative engagement growth through tanh; no growth is 50
func (c Config) velocityTerm(current, prior float64) float64 {
	g := (current - prior) / math.Max(prior, 1)
	return clamp(50+50*math.Tanh(g), 0, 100)
}

func (c Config) volumeTerm(n int) float64 {
	if n <= 0 {
		return 0
	}
	ceiling := c.VolumeCeiling
	if ceiling <= 0 {
		ceiling = 1000
	}
	return 100 * math.Min(1, math.Log1p(float64(n))/math.Log1p(float64(ceiling)))
}

func (c Config) recencyTerm(ages []time.Duration) float64 {
	if len(ages) == 0 {
		return 0
	}
	halfLife := c.HalfLife
	if halfLife <= 0 {
		halfLife = 48 * time.Hour
	}

	var sum float64
	for _, age := range ages {
		if age < 0 {
			age = 0
		}
		sum += Decay(age, halfLife)
	}
	return clamp(100*sum/float64(len(ages)), 0, 100)
}

func (c Config) crossPlatformTerm(p int) float64 {
	maxPlatforms := c.MaxPlatforms
	if maxPlatforms <= 0 {
		maxPlatforms = 4
	}
	if p > maxPlatforms {
		p = maxPlatforms
	}
	if p < 0 {
		p = 0
	}
	return 100 * float64(p) / float64(maxPlatforms)
}

// decayTail is the share of the hyperbolic tail in Decay
const decayTail = 0.01

// Decay is the half-life weight of an age: 1 at zero, 0.5 at halfLife and
// strictly decreasing after. The exponential part vanishes below float64
// resolution after a few months, so a small hyperbolic tail keeps older
// ages ordered.
func Decay(age, halfLife time.Duration) float64 {
	x := age.Hours() / halfLife.Hours()
	return (1-decayTail)*math.Exp(-math.Ln2*x) + decayTail/(1+x)
}

// CollectSignals derives the score inputs of a trend from its themes
func CollectSignals(themes []content.Theme, now time.Time, window time.Duration) Signals {
	s := Signals{Now: now}
	platforms := make(map[string]struct{})

	for _, th := range themes {
		if th.Retired {
			continue
		}
		s.CurrentEngagement += float64(th.EngagementBetween(now.Add(-window), now))
		s.PriorEngagement += float64(th.EngagementBetween(now.Add(-2*window), now.Add(-window)))
		s.ContentCount += th.Size()
		for _, m := range th.Members {
			s.Ages = append(s.Ages, now.Sub(m.PublishedAt))
			if m.Platform != "" {
				platforms[m.Platform] = struct{}{}
			}
		}
		for _, p := range th.Platforms {
			platforms[p] = struct{}{}
		}
	}
	s.Platforms = len(platforms)

	return s
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
