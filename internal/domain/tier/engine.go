package tier

import (
	"fmt"
	"math"
	"sort"
)

// Level holds the thresholds a contractor must meet for one tier, plus the
// benefits attached to it.
type Level struct {
	ID ID `json:"id" koanf:"id"`

	MinCompletedJobs    int     `json:"min_completed_jobs" koanf:"min_completed_jobs"`
	MinRating           float64 `json:"min_rating" koanf:"min_rating"`
	MinPhotoQuality     float64 `json:"min_photo_quality" koanf:"min_photo_quality"`
	MaxResponseMinutes  float64 `json:"max_response_minutes" koanf:"max_response_minutes"`
	MinOnTimeRate       float64 `json:"min_on_time_rate" koanf:"min_on_time_rate"`
	MinSatisfactionRate float64 `json:"min_satisfaction_rate" koanf:"min_satisfaction_rate"`

	// Discount is subtracted from the urgency surcharge percentage.
	Discount float64 `json:"discount" koanf:"discount"`
	// Priority is the tier sub-score (0-100) used by matching.
	Priority float64 `json:"priority" koanf:"priority"`
}

// threshold returns the level's bound for k and whether k is an at-most bound.
func (l Level) threshold(k Metric) (float64, bool) {
	switch k {
	case MetricCompletedJobs:
		return float64(l.MinCompletedJobs), false
	case MetricRating:
		return l.MinRating, false
	case MetricPhotoQuality:
		return l.MinPhotoQuality, false
	case MetricResponseMinutes:
		return l.MaxResponseMinutes, true
	case MetricOnTimeRate:
		return l.MinOnTimeRate, false
	case MetricSatisfactionRate:
		return l.MinSatisfactionRate, false
	}
	return 0, false
}

// gap is the shortfall of m against the level's bound for k; never negative.
func (l Level) gap(m Metrics, k Metric) float64 {
	bound, atMost := l.threshold(k)
	v := m.value(k)
	if atMost {
		return math.Max(0, v-bound)
	}
	return math.Max(0, bound-v)
}

// satisfied reports whether every threshold of l is met by m.
func (l Level) satisfied(m Metrics) bool {
	for _, k := range AllMetrics {
		if l.gap(m, k) > 0 {
			return false
		}
	}
	return true
}

// Profile is the ordered set of tier levels.
type Profile struct {
	Levels []Level `json:"levels" koanf:"levels"`
}

// DefaultProfile returns the marketplace's standard thresholds.
func DefaultProfile() Profile {
	return Profile{Levels: []Level{
		{ID: Diamond, MinCompletedJobs: 200, MinRating: 4.8, MinPhotoQuality: 90, MaxResponseMinutes: 30, MinOnTimeRate: 95, MinSatisfactionRate: 95, Discount: 20, Priority: 100},
		{ID: Platinum, MinCompletedJobs: 100, MinRating: 4.6, MinPhotoQuality: 80, MaxResponseMinutes: 60, MinOnTimeRate: 90, MinSatisfactionRate: 90, Discount: 15, Priority: 90},
		{ID: Gold, MinCompletedJobs: 50, MinRating: 4.3, MinPhotoQuality: 70, MaxResponseMinutes: 120, MinOnTimeRate: 85, MinSatisfactionRate: 85, Discount: 10, Priority: 80},
		{ID: Silver, MinCompletedJobs: 10, MinRating: 4.0, MinPhotoQuality: 60, MaxResponseMinutes: 240, MinOnTimeRate: 75, MinSatisfactionRate: 75, Discount: 5, Priority: 65},
		{ID: Bronze, MinCompletedJobs: 0, MinRating: 0, MinPhotoQuality: 0, MaxResponseMinutes: MaxResponseMinutes, MinOnTimeRate: 0, MinSatisfactionRate: 0, Discount: 0, Priority: 50},
	}}
}

// Validate checks ranges and uniqueness. Violations are configuration errors.
func (p Profile) Validate() error {
	if len(p.Levels) == 0 {
		return fmt.Errorf("%w: no levels", ErrInvalidProfile)
	}
	seen := make(map[ID]bool, len(p.Levels))
	for _, l := range p.Levels {
		switch {
		case !l.ID.Valid():
			return fmt.Errorf("%w: level id %d", ErrUnknownTier, int(l.ID))
		case seen[l.ID]:
			return fmt.Errorf("%w: duplicate level %s", ErrInvalidProfile, l.ID)
		case l.MinCompletedJobs < 0:
			return fmt.Errorf("%w: %s min_completed_jobs %d is negative", ErrInvalidProfile, l.ID, l.MinCompletedJobs)
		case l.MinRating < 0 || l.MinRating > MaxRating:
			return fmt.Errorf("%w: %s min_rating %.2f outside [0,5]", ErrInvalidProfile, l.ID, l.MinRating)
		case l.MaxResponseMinutes < MinResponseMinutes || l.MaxResponseMinutes > MaxResponseMinutes:
			return fmt.Errorf("%w: %s max_response_minutes %.1f outside [1,480]", ErrInvalidProfile, l.ID, l.MaxResponseMinutes)
		}
		for name, v := range map[string]float64{
			"min_photo_quality":     l.MinPhotoQuality,
			"min_on_time_rate":      l.MinOnTimeRate,
			"min_satisfaction_rate": l.MinSatisfactionRate,
			"discount":              l.Discount,
			"priority":              l.Priority,
		} {
			if v < 0 || v > MaxPercent || math.IsNaN(v) {
				return fmt.Errorf("%w: %s %s %.2f outside [0,100]", ErrInvalidProfile, l.ID, name, v)
			}
		}
		seen[l.ID] = true
	}
	return nil
}

// Level returns the level for id.
func (p Profile) Level(id ID) (Level, bool) {
	for _, l := range p.Levels {
		if l.ID == id {
			return l, true
		}
	}
	return Level{}, false
}

// Discount returns the urgency discount for id, or an error for unknown tiers.
func (p Profile) Discount(id ID) (float64, error) {
	l, ok := p.Level(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s not in profile", ErrUnknownTier, id)
	}
	return l.Discount, nil
}

// Priority returns the matching priority weight for id; unknown tiers get 0.
func (p Profile) Priority(id ID) float64 {
	l, _ := p.Level(id)
	return l.Priority
}

// Engine evaluates metrics against a validated profile.
type Engine struct {
	// levels sorted strictest (highest ID) first.
	levels []Level
}

// NewEngine validates p and returns an engine over it.
func NewEngine(p Profile) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	levels := append([]Level(nil), p.Levels...)
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].ID > levels[j].ID })
	return &Engine{levels: levels}, nil
}

// Profile returns the engine's levels in strictest-first order.
func (e *Engine) Profile() Profile {
	return Profile{Levels: append([]Level(nil), e.levels...)}
}

// Determine returns the highest tier whose thresholds are all met. Inputs are
// clamped first, so malformed metrics never fail. If no level matches, the
// loosest level is returned.
func (e *Engine) Determine(m Metrics) ID {
	m = m.Clamp()
	for _, l := range e.levels {
		if l.satisfied(m) {
			return l.ID
		}
	}
	return e.levels[len(e.levels)-1].ID
}

// Score is WeightedScore normalized against the top level's completed-jobs bar.
func (e *Engine) Score(m Metrics) float64 {
	return WeightedScore(m, e.levels[0].MinCompletedJobs)
}

// Analysis explains a contractor's standing.
type Analysis struct {
	Tier ID `json:"tier"`
	// Next is nil at the top tier.
	Next       *ID                `json:"next,omitempty"`
	Gaps       map[Metric]float64 `json:"gaps"`
	Strengths  []Metric           `json:"strengths"`
	Weaknesses []Metric           `json:"weaknesses"`
	Score      float64            `json:"score"`
}

// Analyze reports the tier, the next tier and the per-metric shortfall to it.
// Metrics already meeting the next tier's bar are strengths; the rest are
// weaknesses. At the top tier every metric is a strength.
func (e *Engine) Analyze(m Metrics) Analysis {
	m = m.Clamp()
	current := e.Determine(m)
	a := Analysis{
		Tier:  current,
		Gaps:  make(map[Metric]float64),
		Score: e.Score(m),
	}

	var next *Level
	for i := range e.levels {
		if e.levels[i].ID == current {
			if i > 0 {
				next = &e.levels[i-1]
			}
			break
		}
	}
	if next == nil {
		a.Strengths = append(a.Strengths, AllMetrics...)
		return a
	}

	id := next.ID
	a.Next = &id
	for _, k := range AllMetrics {
		g := next.gap(m, k)
		if g > 0 {
			a.Gaps[k] = g
			a.Weaknesses = append(a.Weaknesses, k)
		} else {
			a.Strengths = append(a.Strengths, k)
		}
	}
	return a
}
