/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy defines backoff strategy.
type Policy interface {
	NewBackOff() backoff.BackOff
}

// The PolicyFunc type is an adapter to allow the use of ordinary functions as retry.Policy.
type PolicyFunc func() backoff.BackOff

// NewBackOff implements retry.Policy.
func (f PolicyFunc) NewBackOff() backoff.BackOff {
	return f()
}

// Default values for ExponentialBackoffPolicy.
const (
	DefaultExponentialBackoffInitialInterval = 100 * time.Millisecond
	DefaultExponentialBackoffMaxInterval     = 30 * time.Second
)

// ExponentialBackoffPolicy produces exponentially growing delays with jitter.
// The delay for the n-th retry (n is 0-indexed) is initialInterval * 2^n capped
// at maxInterval and multiplied by a uniform random factor in [0.5, 1.0]
// to avoid thundering-herd retries.
type ExponentialBackoffPolicy struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	randSeed        int64
}

// ExponentialBackoffPolicyOpts contains optional parameters for ExponentialBackoffPolicy.
type ExponentialBackoffPolicyOpts struct {
	// RandSeed seeds the jitter's random source making produced delay sequences
	// reproducible. If zero, the source is seeded with the current time.
	RandSeed int64
}

// NewExponentialBackoffPolicy returns an exponential backoff policy
// with the given initial and maximum intervals.
func NewExponentialBackoffPolicy(initialInterval, maxInterval time.Duration) ExponentialBackoffPolicy {
	return NewExponentialBackoffPolicyWithOpts(initialInterval, maxInterval, ExponentialBackoffPolicyOpts{})
}

// NewExponentialBackoffPolicyWithOpts returns an exponential backoff policy
// with an ability to specify different optional parameters.
func NewExponentialBackoffPolicyWithOpts(
	initialInterval, maxInterval time.Duration, opts ExponentialBackoffPolicyOpts,
) ExponentialBackoffPolicy {
	if initialInterval <= 0 {
		initialInterval = DefaultExponentialBackoffInitialInterval
	}
	if maxInterval <= 0 {
		maxInterval = DefaultExponentialBackoffMaxInterval
	}
	return ExponentialBackoffPolicy{initialInterval, maxInterval, opts.RandSeed}
}

// NewBackOff implements retry.Policy.
func (p ExponentialBackoffPolicy) NewBackOff() backoff.BackOff {
	seed := p.randSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &ExponentialBackOff{
		initialInterval: p.initialInterval,
		maxInterval:     p.maxInterval,
		rnd:             rand.New(rand.NewSource(seed)),
	}
}

// ExponentialBackOff implements backoff.BackOff producing jittered exponential delays.
// It is not safe for concurrent use.
type ExponentialBackOff struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	rnd             *rand.Rand
	attempt         int
}

// NextBackOff returns the delay before the next retry attempt.
// It never returns backoff.Stop, limiting the attempt count is up to the caller.
func (b *ExponentialBackOff) NextBackOff() time.Duration {
	delay := b.DelayForAttempt(b.attempt)
	b.attempt++
	return delay
}

// DelayForAttempt computes the delay for the given 0-indexed retry attempt.
func (b *ExponentialBackOff) DelayForAttempt(attempt int) time.Duration {
	delay := b.maxInterval
	// initialInterval * 2^attempt, watching for overflow
	if attempt < 63 {
		if d := b.initialInterval << uint(attempt); d > 0 && d < b.maxInterval {
			delay = d
		}
	}
	factor := 0.5 + 0.5*b.rnd.Float64()
	return time.Duration(float64(delay) * factor)
}

// Reset restarts the delay sequence.
func (b *ExponentialBackOff) Reset() {
	b.attempt = 0
}

// ConstantBackoffPolicy produces delays of a constant interval.
type ConstantBackoffPolicy struct {
	interval time.Duration
}

// NewConstantBackoffPolicy returns a constant backoff policy with the given interval.
func NewConstantBackoffPolicy(interval time.Duration) ConstantBackoffPolicy {
	return ConstantBackoffPolicy{interval}
}

// NewBackOff implements retry.Policy.
func (p ConstantBackoffPolicy) NewBackOff() backoff.BackOff {
	bf := backoff.NewConstantBackOff(p.interval)
	bf.Reset()
	return bf
}
