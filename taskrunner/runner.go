/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package taskrunner

import (
	"context"
	"time"

	"github.com/acronis/go-taskkit/log"
	"github.com/acronis/go-taskkit/retry"
	"github.com/acronis/go-taskkit/taskqueue"
	"github.com/acronis/go-taskkit/ttlcache"
)

// Default values for runner options.
const (
	DefaultMaxAttempts = 3
	DefaultTTL         = time.Minute * 5
)

// Opts contains optional parameters for the Runner.
type Opts struct {
	// Policy produces backoff delays between retry attempts.
	// If nil, exponential backoff with default intervals is used.
	Policy retry.Policy

	// DefaultMaxAttempts is the total number of attempts (the first try included)
	// for runs that don't specify their own. Defaults to DefaultMaxAttempts.
	DefaultMaxAttempts int

	// DefaultTTL is the result freshness duration for runs that don't specify
	// their own. Defaults to DefaultTTL.
	DefaultTTL time.Duration

	// CacheMaxEntries bounds the number of cached results.
	// Zero or negative value means no bound.
	CacheMaxEntries int

	// CacheCleanupInterval enables a background sweep removing expired cached
	// results every interval. Zero or negative value disables the sweep,
	// expired results are then removed lazily on access only.
	CacheCleanupInterval time.Duration

	// MaxQueueLength bounds the number of queued tasks, see taskqueue.Opts.
	MaxQueueLength int

	// RateLimit and RateLimitBurst limit the task submission rate, see taskqueue.Opts.
	RateLimit      float64
	RateLimitBurst int

	// Logger is used for structured logging. If nil, logging is disabled.
	Logger log.FieldLogger

	// CacheMetricsCollector collects result cache statistics. If nil, metrics are disabled.
	CacheMetricsCollector ttlcache.MetricsCollector

	// QueueMetricsCollector collects task queue statistics. If nil, metrics are disabled.
	QueueMetricsCollector taskqueue.MetricsCollector
}

// RunOpts contains per-run parameters for Runner.Run.
type RunOpts struct {
	// TTL determines how long a successful result stays fresh in the cache.
	// Zero means the runner's default TTL.
	TTL time.Duration

	// MaxAttempts is the total number of attempts (the first try included).
	// Zero means the runner's default.
	MaxAttempts int

	// Priority orders the task among queued tasks, higher runs first.
	Priority int

	// IsRetryable defines which errors lead to a retry attempt.
	// If nil, any error is retried.
	IsRetryable retry.IsRetryable

	// Notify is called before every retry attempt with the error and the backoff delay.
	Notify retry.Notify
}

// Runner ties together the result cache, the bounded task queue and retrying execution.
//
// Run deduplicates concurrent work per key, executes the operation on the queue with
// a concurrency bound and retries transient failures with backoff. Successful results
// are cached for their TTL; failures are never cached, so a subsequent Run with the
// same key recomputes.
type Runner[K comparable, V any] struct {
	cache              *ttlcache.Cache[K, V]
	queue              *taskqueue.Queue[V]
	policy             retry.Policy
	defaultMaxAttempts int
	logger             log.FieldLogger

	stopCleanup context.CancelFunc
	cleanupDone chan struct{}
}

// New creates a new Runner with the provided concurrency bound for task execution.
func New[K comparable, V any](maxConcurrency int, opts Opts) *Runner[K, V] {
	policy := opts.Policy
	if policy == nil {
		policy = retry.NewExponentialBackoffPolicy(
			retry.DefaultExponentialBackoffInitialInterval, retry.DefaultExponentialBackoffMaxInterval)
	}
	defaultMaxAttempts := opts.DefaultMaxAttempts
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = DefaultMaxAttempts
	}
	defaultTTL := opts.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewDisabledLogger()
	}

	cache := ttlcache.New[K, V](ttlcache.Options{
		MaxEntries: opts.CacheMaxEntries,
		DefaultTTL: defaultTTL,
	}, opts.CacheMetricsCollector)
	queue := taskqueue.New[V](maxConcurrency, taskqueue.Opts{
		MaxQueueLength:   opts.MaxQueueLength,
		RateLimit:        opts.RateLimit,
		RateLimitBurst:   opts.RateLimitBurst,
		Logger:           logger,
		MetricsCollector: opts.QueueMetricsCollector,
	})

	r := &Runner[K, V]{
		cache:              cache,
		queue:              queue,
		policy:             policy,
		defaultMaxAttempts: defaultMaxAttempts,
		logger:             logger,
	}
	if opts.CacheCleanupInterval > 0 {
		cleanupCtx, cancel := context.WithCancel(context.Background())
		r.stopCleanup = cancel
		r.cleanupDone = make(chan struct{})
		go func() {
			defer close(r.cleanupDone)
			cache.RunPeriodicCleanup(cleanupCtx, opts.CacheCleanupInterval)
		}()
	}
	return r
}

// Run returns the cached result for the key or executes fn to compute it.
//
// On a cache miss the first caller submits the computation to the task queue,
// concurrent callers with the same key join the pending computation instead of
// duplicating it. The computation is retried according to the runner's backoff
// policy and the per-run options. A successful result is cached for the TTL,
// a failed or canceled one is not.
//
// Canceling ctx detaches the caller; the computation itself is canceled only
// when the first caller's context is canceled before the task starts running
// or while the task's function observes it.
func (r *Runner[K, V]) Run(ctx context.Context, key K, fn retry.RetryableFunc[V], opts RunOpts) (V, error) {
	compute := func(ctx context.Context) (V, error) {
		fut, err := r.Enqueue(ctx, fn, opts)
		if err != nil {
			var zero V
			return zero, err
		}
		return fut.Wait(ctx)
	}
	if opts.TTL > 0 {
		return r.cache.GetOrComputeWithTTL(ctx, key, opts.TTL, compute)
	}
	return r.cache.GetOrCompute(ctx, key, compute)
}

// Enqueue submits fn to the task queue with retries, bypassing the result cache.
// The returned Future is settled when the task completes or is canceled.
func (r *Runner[K, V]) Enqueue(ctx context.Context, fn retry.RetryableFunc[V], opts RunOpts) (*taskqueue.Future[V], error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = r.defaultMaxAttempts
	}
	return r.queue.Submit(ctx, &taskqueue.Task[V]{
		Priority: opts.Priority,
		Fn: func(taskCtx context.Context) (V, error) {
			return retry.DoWithRetry(taskCtx, r.policy, maxAttempts, opts.IsRetryable, opts.Notify, fn)
		},
	})
}

// Invalidate removes the cached result for the key.
// Returns true if a result was cached.
func (r *Runner[K, V]) Invalidate(key K) bool {
	return r.cache.Remove(key)
}

// InvalidateAll removes all cached results. Pending computations are not affected.
func (r *Runner[K, V]) InvalidateAll() {
	r.cache.Purge()
}

// Cache returns the underlying result cache.
func (r *Runner[K, V]) Cache() *ttlcache.Cache[K, V] {
	return r.cache
}

// Queue returns the underlying task queue.
func (r *Runner[K, V]) Queue() *taskqueue.Queue[V] {
	return r.queue
}

// Shutdown stops the cache cleanup sweep and the underlying task queue,
// see taskqueue.Queue.Shutdown.
func (r *Runner[K, V]) Shutdown(ctx context.Context, drain bool) error {
	if r.stopCleanup != nil {
		r.stopCleanup()
		<-r.cleanupDone
	}
	return r.queue.Shutdown(ctx, drain)
}
