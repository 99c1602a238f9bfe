package matching

import (
	"github.com/okian/installmatch/internal/domain/pricing"
	"github.com/okian/installmatch/internal/domain/tier"
)

// Option configures an Engine.
type Option func(*Engine)

// WithPricing sets the engine candidates are priced with. It must share the
// engine's tier profile.
func WithPricing(p *pricing.Engine) Option {
	return func(e *Engine) {
		e.pricing = p
	}
}

// WithTierProfile sets the profile tier sub-scores are read from.
func WithTierProfile(p tier.Profile) Option {
	return func(e *Engine) {
		e.profile = p
	}
}

// WithAssigner sets the collaborator that auto-assign hands the top candidate to.
func WithAssigner(a Assigner) Option {
	return func(e *Engine) {
		e.assigner = a
	}
}
