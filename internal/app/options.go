package service

import (
	"time"

	workerpool "github.com/okian/installmatch/internal/adapters/mq/worker"
	repository "github.com/okian/installmatch/internal/adapters/repository"
	"github.com/okian/installmatch/internal/domain/matching"
	"github.com/okian/installmatch/internal/domain/pricing"
	"github.com/okian/installmatch/internal/domain/tier"
	"github.com/okian/installmatch/pkg/backoff"
	"github.com/okian/installmatch/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the record store. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithWorkerCount sets the number of event delivery workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the event queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeWindow sets how many delivered event IDs are remembered.
func WithDedupeWindow(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.dedupeWindow = n
		}
	}
}

// WithDeliveryRetries sets how often a failing sink is retried per event.
func WithDeliveryRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.deliveryRetries = n
		}
	}
}

// WithSinks adds event sinks. Without any, events are only logged.
func WithSinks(sinks ...workerpool.Sink) Option {
	return func(s *Service) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// WithMatchDefaults sets the options a match request starts from.
func WithMatchDefaults(o matching.Options) Option {
	return func(s *Service) {
		s.matchDefaults = o
	}
}

// WithPricingConfig sets the platform, tax and urgency schedule.
func WithPricingConfig(c pricing.Config) Option {
	return func(s *Service) {
		s.pricingConfig = c
	}
}

// WithTierProfile sets the tier thresholds, discounts and priorities.
func WithTierProfile(p tier.Profile) Option {
	return func(s *Service) {
		s.tierProfile = p
	}
}

// WithDispatchRetry bounds compare-and-swap retries per transition.
func WithDispatchRetry(maxAttempts int, strategy backoff.Strategy) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if strategy != nil {
			s.backoff = strategy
		}
	}
}

// WithMetricsInterval sets how often repository and queue gauges refresh.
func WithMetricsInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.metricsInterval = d
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
