package matching

import (
	"fmt"
	"strings"
)

// Priority selects the weight profile used for the composite score. It is a
// closed set; Weights is an exhaustive switch over it.
type Priority string

// Weight profiles.
const (
	PriorityGrade     Priority = "grade"
	PriorityDistance  Priority = "distance"
	PriorityRating    Priority = "rating"
	PriorityComposite Priority = "composite"
)

// Priorities lists every profile.
var Priorities = []Priority{PriorityGrade, PriorityDistance, PriorityRating, PriorityComposite}

// ParsePriority parses a profile name. The empty string is composite.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return PriorityComposite, nil
	}
	if _, err := p.Weights(); err != nil {
		return "", err
	}
	return p, nil
}

// UnmarshalText implements encoding.TextUnmarshaler using ParsePriority.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Weights are the per-sub-score factors of a profile. Each set sums to 1.
type Weights struct {
	Tier         float64 `json:"tier"`
	Distance     float64 `json:"distance"`
	Rating       float64 `json:"rating"`
	Availability float64 `json:"availability"`
	Experience   float64 `json:"experience"`
	Cost         float64 `json:"cost"`
}

// Weights returns the profile's weights.
func (p Priority) Weights() (Weights, error) {
	switch p {
	case PriorityGrade:
		return Weights{Tier: 0.40, Distance: 0.15, Rating: 0.15, Availability: 0.10, Experience: 0.10, Cost: 0.10}, nil
	case PriorityDistance:
		return Weights{Tier: 0.10, Distance: 0.40, Rating: 0.15, Availability: 0.15, Experience: 0.10, Cost: 0.10}, nil
	case PriorityRating:
		return Weights{Tier: 0.15, Distance: 0.15, Rating: 0.40, Availability: 0.10, Experience: 0.10, Cost: 0.10}, nil
	case PriorityComposite:
		return Weights{Tier: 0.20, Distance: 0.20, Rating: 0.20, Availability: 0.15, Experience: 0.15, Cost: 0.10}, nil
	}
	return Weights{}, fmt.Errorf("%w: %q", ErrUnknownPriority, string(p))
}

// Apply returns the weighted sum of s.
func (w Weights) Apply(s SubScores) float64 {
	return s.Tier*w.Tier +
		s.Distance*w.Distance +
		s.Rating*w.Rating +
		s.Availability*w.Availability +
		s.Experience*w.Experience +
		s.Cost*w.Cost
}
