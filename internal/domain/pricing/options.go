package pricing

import "github.com/okian/installmatch/internal/domain/tier"

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default pricing configuration.
func WithConfig(c Config) Option {
	return func(e *Engine) {
		e.cfg = c
	}
}

// WithTierProfile sets the profile the tier discounts are read from.
func WithTierProfile(p tier.Profile) Option {
	return func(e *Engine) {
		e.profile = p
	}
}
