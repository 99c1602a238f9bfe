// Package pricing computes job prices: the time-escalating urgency surcharge,
// the tier discount on it, and the platform/contractor/tax settlement split.
// Amounts are whole currency units.
package pricing

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Urgency is the urgency class of a job.
type Urgency string

// Urgency classes.
const (
	UrgencyNormal    Urgency = "normal"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
	UrgencySameDay   Urgency = "same_day"
)

// Urgencies lists every urgency class.
var Urgencies = []Urgency{UrgencyNormal, UrgencyUrgent, UrgencyEmergency, UrgencySameDay}

// ParseUrgency parses an urgency name. The empty string is normal.
func ParseUrgency(s string) (Urgency, error) {
	u := Urgency(strings.ToLower(strings.TrimSpace(s)))
	if u == "" {
		return UrgencyNormal, nil
	}
	if !u.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownUrgency, s)
	}
	return u, nil
}

// Valid reports whether u is a known urgency class.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyNormal, UrgencyUrgent, UrgencyEmergency, UrgencySameDay:
		return true
	}
	return false
}

// Escalates reports whether the surcharge for u grows with time.
func (u Urgency) Escalates() bool { return u != UrgencyNormal }

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *Urgency) UnmarshalText(b []byte) error {
	v, err := ParseUrgency(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Rule is the surcharge schedule of one urgency class, in percentage points.
type Rule struct {
	BasePercent     float64 `json:"base_percent" koanf:"base_percent"`
	StepPercent     float64 `json:"step_percent" koanf:"step_percent"`
	IntervalMinutes float64 `json:"interval_minutes" koanf:"interval_minutes"`
	CapPercent      float64 `json:"cap_percent" koanf:"cap_percent"`
}

func (r Rule) validate(u Urgency) error {
	for name, v := range map[string]float64{
		"base_percent": r.BasePercent,
		"step_percent": r.StepPercent,
		"cap_percent":  r.CapPercent,
	} {
		if err := checkPercent(string(u)+" "+name, v); err != nil {
			return err
		}
	}
	if r.CapPercent < r.BasePercent {
		return fmt.Errorf("%w: %s cap %.2f below base %.2f", ErrInvalidRule, u, r.CapPercent, r.BasePercent)
	}
	if u.Escalates() && r.StepPercent > 0 && !(r.IntervalMinutes > 0) {
		return fmt.Errorf("%w: %s interval_minutes must be positive", ErrInvalidRule, u)
	}
	return nil
}

// percent is min(base + floor(elapsed/interval)*step, cap). Negative elapsed
// counts as zero.
func (r Rule) percent(u Urgency, elapsed time.Duration) float64 {
	if !u.Escalates() || r.StepPercent == 0 || r.IntervalMinutes <= 0 || elapsed <= 0 {
		return r.BasePercent
	}
	steps := math.Floor(elapsed.Minutes() / r.IntervalMinutes)
	return math.Min(r.BasePercent+steps*r.StepPercent, r.CapPercent)
}

// Config holds the settlement percentages, urgency schedules and quote tables.
type Config struct {
	PlatformPercent float64          `json:"platform_percent" koanf:"platform_percent"`
	TaxPercent      float64          `json:"tax_percent" koanf:"tax_percent"`
	Rules           map[Urgency]Rule `json:"rules" koanf:"rules"`
	Quote           QuoteConfig      `json:"quote" koanf:"quote"`
}

// DefaultConfig returns the marketplace's standard pricing.
func DefaultConfig() Config {
	return Config{
		PlatformPercent: 10,
		TaxPercent:      10,
		Rules: map[Urgency]Rule{
			UrgencyNormal:    {},
			UrgencyUrgent:    {BasePercent: 15, StepPercent: 5, IntervalMinutes: 60, CapPercent: 30},
			UrgencyEmergency: {BasePercent: 30, StepPercent: 10, IntervalMinutes: 30, CapPercent: 60},
			UrgencySameDay:   {BasePercent: 20, StepPercent: 5, IntervalMinutes: 60, CapPercent: 40},
		},
		Quote: DefaultQuoteConfig(),
	}
}

// Validate rejects malformed percentages and schedules. Every urgency class
// must have a rule.
func (c Config) Validate() error {
	if err := checkPercent("platform_percent", c.PlatformPercent); err != nil {
		return err
	}
	if err := checkPercent("tax_percent", c.TaxPercent); err != nil {
		return err
	}
	for u := range c.Rules {
		if !u.Valid() {
			return fmt.Errorf("%w: rule for %q", ErrUnknownUrgency, string(u))
		}
	}
	for _, u := range Urgencies {
		r, ok := c.Rules[u]
		if !ok {
			return fmt.Errorf("%w: no rule for %s", ErrInvalidRule, u)
		}
		if err := r.validate(u); err != nil {
			return err
		}
	}
	return c.Quote.Validate()
}

func checkPercent(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 100 {
		return fmt.Errorf("%w: %s is %v", ErrInvalidPercent, name, v)
	}
	return nil
}

// roundAmount rounds to whole currency units, half away from zero.
func roundAmount(v float64) int64 {
	return int64(math.Round(v))
}
