package dispatch

import (
	"github.com/okian/installmatch/internal/domain/pricing"
	"github.com/okian/installmatch/internal/domain/tier"
	"github.com/okian/installmatch/pkg/backoff"
	"github.com/okian/installmatch/pkg/logger"
)

// DefaultMaxAttempts bounds compare-and-swap retries per transition.
const DefaultMaxAttempts = 5

// Option configures a Machine.
type Option func(*Machine)

// WithMaxAttempts sets how many times a transition is submitted before a lost
// race is reported as OutcomeJobUnavailable.
func WithMaxAttempts(n int) Option {
	return func(m *Machine) {
		m.maxAttempts = n
	}
}

// WithBackoff sets the delay between retries.
func WithBackoff(s backoff.Strategy) Option {
	return func(m *Machine) {
		if s != nil {
			m.backoff = s
		}
	}
}

// WithPricing sets the engine used for the settlement snapshot at acceptance.
func WithPricing(p *pricing.Engine) Option {
	return func(m *Machine) {
		m.pricing = p
	}
}

// WithTierEngine re-derives the contractor's tier after each completion.
func WithTierEngine(e *tier.Engine) Option {
	return func(m *Machine) {
		m.tiers = e
	}
}

// WithPublisher sets where domain events go.
func WithPublisher(p Publisher) Option {
	return func(m *Machine) {
		if p != nil {
			m.publisher = p
		}
	}
}

// WithLogger sets the machine's logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}
