package redis

import "github.com/okian/installmatch/pkg/logger"

// DefaultKeyPrefix namespaces every key the store writes.
const DefaultKeyPrefix = "installmatch:"

// Option configures the Store.
type Option func(*Store)

// WithKeyPrefix sets the key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
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
