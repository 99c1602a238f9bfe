package pricing

import (
	"fmt"
	"time"

	"github.com/okian/installmatch/internal/domain/tier"
)

// Input is what a price depends on. CreatedAt and Now must both come from
// the server clock.
type Input struct {
	BaseFee   int64     `json:"base_fee"`
	Discount  int64     `json:"discount"`
	Urgency   Urgency   `json:"urgency"`
	CreatedAt time.Time `json:"created_at"`
	Now       time.Time `json:"now"`
}

// Breakdown is a settled price.
//
// Payout + PlatformFee == TotalFee and TotalFee + Tax == CustomerTotal hold
// exactly because every amount is rounded before it is subtracted.
type Breakdown struct {
	Tier    tier.ID `json:"tier"`
	Urgency Urgency `json:"urgency"`

	BaseFee  int64 `json:"base_fee"`
	Discount int64 `json:"discount"`
	Subtotal int64 `json:"subtotal"`

	ElapsedMinutes      float64 `json:"elapsed_minutes"`
	UrgencyBasePercent  float64 `json:"urgency_base_percent"`
	EscalatedPercent    float64 `json:"escalated_percent"`
	TierDiscountPercent float64 `json:"tier_discount_percent"`
	UrgencyPercent      float64 `json:"urgency_percent"`
	UrgencyFee          int64   `json:"urgency_fee"`
	// TierSavings is the surcharge the tier discount removed. Informational.
	TierSavings int64 `json:"tier_savings"`

	TotalFee        int64   `json:"total_fee"`
	PlatformPercent float64 `json:"platform_percent"`
	PlatformFee     int64   `json:"platform_fee"`
	Payout          int64   `json:"payout"`
	TaxPercent      float64 `json:"tax_percent"`
	Tax             int64   `json:"tax"`
	CustomerTotal   int64   `json:"customer_total"`
}

// Engine prices jobs. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	cfg     Config
	profile tier.Profile
}

// NewEngine validates the configuration and tier profile and returns an engine.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:     DefaultConfig(),
		profile: tier.DefaultProfile(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := e.profile.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// UrgencyPercent returns the escalated surcharge percentage for u after
// elapsed time, before any tier discount.
func (e *Engine) UrgencyPercent(u Urgency, elapsed time.Duration) (float64, error) {
	r, ok := e.cfg.Rules[u]
	if !ok || !u.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUrgency, string(u))
	}
	return r.percent(u, elapsed), nil
}

// Price settles in for a contractor of tier t.
func (e *Engine) Price(in Input, t tier.ID) (Breakdown, error) {
	if in.BaseFee <= 0 {
		return Breakdown{}, fmt.Errorf("%w: base fee %d must be positive", ErrInvalidFee, in.BaseFee)
	}
	if in.Discount < 0 || in.Discount > in.BaseFee {
		return Breakdown{}, fmt.Errorf("%w: discount %d outside [0,%d]", ErrInvalidFee, in.Discount, in.BaseFee)
	}
	u := in.Urgency
	if u == "" {
		u = UrgencyNormal
	}
	discount, err := e.profile.Discount(t)
	if err != nil {
		return Breakdown{}, err
	}

	elapsed := in.Now.Sub(in.CreatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	escalated, err := e.UrgencyPercent(u, elapsed)
	if err != nil {
		return Breakdown{}, err
	}
	applied := max(escalated-discount, 0)

	subtotal := in.BaseFee - in.Discount
	urgencyFee := roundAmount(float64(subtotal) * applied / 100)
	totalFee := subtotal + urgencyFee
	platformFee := roundAmount(float64(totalFee) * e.cfg.PlatformPercent / 100)
	tax := roundAmount(float64(totalFee) * e.cfg.TaxPercent / 100)

	return Breakdown{
		Tier:                t,
		Urgency:             u,
		BaseFee:             in.BaseFee,
		Discount:            in.Discount,
		Subtotal:            subtotal,
		ElapsedMinutes:      elapsed.Minutes(),
		UrgencyBasePercent:  e.cfg.Rules[u].BasePercent,
		EscalatedPercent:    escalated,
		TierDiscountPercent: discount,
		UrgencyPercent:      applied,
		UrgencyFee:          urgencyFee,
		TierSavings:         roundAmount(float64(subtotal)*escalated/100) - urgencyFee,
		TotalFee:            totalFee,
		PlatformPercent:     e.cfg.PlatformPercent,
		PlatformFee:         platformFee,
		Payout:              totalFee - platformFee,
		TaxPercent:          e.cfg.TaxPercent,
		Tax:                 tax,
		CustomerTotal:       totalFee + tax,
	}, nil
}
