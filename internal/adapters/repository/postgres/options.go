package postgres

import (
	"time"

	"github.com/okian/installmatch/pkg/logger"
)

// Option configures the Store.
type Option func(*Store)

// WithMaxConns caps the pool size.
func WithMaxConns(n int32) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxConns = n
		}
	}
}

// WithMinConns keeps n connections open.
func WithMinConns(n int32) Option {
	return func(s *Store) {
		if n >= 0 {
			s.minConns = n
		}
	}
}

// WithMaxConnLifetime recycles connections older than d.
func WithMaxConnLifetime(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.maxLifetime = d
		}
	}
}

// WithLogger sets the store's logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}
