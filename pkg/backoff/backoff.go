// Package backoff provides retry delay strategies. All strategies are
// stateless and safe for concurrent use.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// ErrUnknownKind is returned by New for an unrecognized strategy name.
var ErrUnknownKind = errors.New("unknown backoff kind")

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay.
type Constant struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (c Constant) Delay(_ int) time.Duration { return c.Interval }

// Linear grows as min(Initial*attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial*attempt, capped at Max.
func (l Linear) Delay(attempt int) time.Duration {
	return capped(l.Initial*time.Duration(max(attempt, 1)), l.Max)
}

// Exponential doubles each attempt: min(Initial*2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial*2^(attempt-1), capped at Max.
func (e Exponential) Delay(attempt int) time.Duration {
	return capped(exp(e.Initial, attempt), e.Max)
}

// ExponentialWithJitter draws uniformly from [0, min(Initial*2^(attempt-1), Max)].
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns a random duration up to the capped exponential delay.
func (e ExponentialWithJitter) Delay(attempt int) time.Duration {
	ceil := capped(exp(e.Initial, attempt), e.Max)
	return time.Duration(rand.Float64() * float64(ceil)) //nolint:gosec // jitter does not need crypto rand
}

func exp(initial time.Duration, attempt int) time.Duration {
	f := float64(initial) * math.Pow(2, float64(max(attempt, 1)-1))
	if f > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

func capped(d, ceiling time.Duration) time.Duration {
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}

// Kinds accepted by New.
const (
	KindConstant    = "constant"
	KindLinear      = "linear"
	KindExponential = "exponential"
	KindJitter      = "jitter"
)

// New builds a strategy by name. Constant uses initial as its interval.
func New(kind string, initial, maxDelay time.Duration) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindConstant:
		return Constant{Interval: initial}, nil
	case KindLinear:
		return Linear{Initial: initial, Max: maxDelay}, nil
	case KindExponential:
		return Exponential{Initial: initial, Max: maxDelay}, nil
	case KindJitter, "":
		return ExponentialWithJitter{Initial: initial, Max: maxDelay}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Default is the strategy used for compare-and-swap retries: full jitter
// from 5ms up to 100ms.
func Default() Strategy {
	return ExponentialWithJitter{Initial: 5 * time.Millisecond, Max: 100 * time.Millisecond}
}

// Wait sleeps for s.Delay(attempt) or until ctx is done.
func Wait(ctx context.Context, s Strategy, attempt int) error {
	d := s.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
