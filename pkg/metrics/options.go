package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option adjusts a Manager before its collectors are registered.
// Empty or non-positive values keep the defaults.
type Option func(*Manager)

// WithNamespace replaces the "installmatch" namespace.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace = strings.TrimSpace(namespace); namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithSubsystem replaces the "dispatch" subsystem.
func WithSubsystem(subsystem string) Option {
	return func(m *Manager) {
		if subsystem = strings.TrimSpace(subsystem); subsystem != "" {
			m.subsystem = subsystem
		}
	}
}

// WithHistogramBuckets sets the buckets of the latency histograms.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = append([]float64(nil), buckets...)
		}
	}
}

// WithRefreshInterval sets how often the queue, repository and runtime
// gauges are polled.
func WithRefreshInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.refreshInterval = interval
		}
	}
}

// WithCustomLabels attaches constant labels, such as region or
// deployment, to every series. Blank keys are skipped.
func WithCustomLabels(labels map[string]string) Option {
	return func(m *Manager) {
		for k, v := range labels {
			if k = strings.TrimSpace(k); k != "" {
				m.customLabels[k] = v
			}
		}
	}
}

// WithMetricPrefix prepends prefix to every metric name after the
// namespace and subsystem.
func WithMetricPrefix(prefix string) Option {
	return func(m *Manager) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			m.metricPrefix = prefix
		}
	}
}

// WithPrometheusRegistry registers collectors on registry instead of
// the default registerer.
func WithPrometheusRegistry(registry prometheus.Registerer) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}
