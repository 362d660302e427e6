package scoring

import (
	"trendscope/internal/domain/trend"
)

// Signal is what one recomputation cycle observed about a trend's score
type Signal int

const (
	// Hold means nothing notable happened
	Hold Signal = iota
	// NewHigh means the score rose above the trend's historical high
	NewHigh
	// Recover means the score rose above where the current decline started
	Recover
	// Drop means the score fell this cycle
	Drop
	// SustainedDrop means the score fell for DeclineStreak cycles in a row
	SustainedDrop
)

func (s Signal) String() string {
	switch s {
	case NewHigh:
		return "new_high"
	case Recover:
		return "recover"
	case Drop:
		return "drop"
	case SustainedDrop:
		return "sustained_drop"
	default:
		return "hold"
	}
}

// transitions is the lifecycle state machine. Pairs that are absent keep the
// current status.
var transitions = map[trend.Status]map[Signal]trend.Status{
	trend.StatusEmerging: {
		NewHigh:       trend.StatusPeak,
		SustainedDrop: trend.StatusDeclining,
	},
	trend.StatusPeak: {
		Drop:          trend.StatusDeclining,
		SustainedDrop: trend.StatusDeclining,
	},
	trend.StatusDeclining: {
		Recover: trend.StatusEmerging,
		NewHigh: trend.StatusEmerging,
	},
}

// Next returns the status that follows from applying sig in status
func Next(status trend.Status, sig Signal) trend.Status {
	if status == "" {
		status = trend.StatusEmerging
	}
	if next, ok := transitions[status][sig]; ok {
		return next
	}
	return status
}

// observation is what classify needs to know about one cycle
type observation struct {
	status      trend.Status
	score       float64
	velocity    float64
	high        float64
	hasHistory  bool
	streak      int
	declineFrom float64
}

func (c Config) classify(o observation) Signal {
	streak := c.DeclineStreak
	if streak <= 0 {
		streak = 3
	}

	switch {
	case o.velocity < 0 && o.streak >= streak:
		return SustainedDrop
	case o.velocity < 0:
		return Drop
	case o.hasHistory && o.score > o.high+c.PeakMargin:
		return NewHigh
	case o.velocity > 0 && o.status == trend.StatusDeclining && o.score > o.declineFrom:
		return Recover
	default:
		return Hold
	}
}
