/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package taskqueue

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/acronis/go-taskkit/log"
)

// DefaultMaxConcurrency determines how many tasks the queue runs concurrently by default.
const DefaultMaxConcurrency = 4

// Queue submission errors.
var (
	// ErrQueueFull is returned by Submit when the queue length bound is reached.
	// The caller may retry the submission later.
	ErrQueueFull = errors.New("task queue is full")

	// ErrQueueClosed is returned by Submit when the queue is draining or closed.
	ErrQueueClosed = errors.New("task queue is closed")

	// ErrRateLimited is returned by Submit when the submission rate limit is exceeded.
	ErrRateLimited = errors.New("task queue submission rate limit exceeded")
)

// State represents the lifecycle state of the queue.
type State int

// Queue states.
const (
	StateAccepting State = iota
	StateDraining
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateAccepting:
		return "accepting"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Opts contains optional parameters for the queue.
type Opts struct {
	// MaxQueueLength bounds the number of queued (not yet running) tasks.
	// When the bound is reached, Submit fails fast with ErrQueueFull.
	// Zero or negative value means no bound.
	MaxQueueLength int

	// RateLimit is the maximum sustained rate of submissions per second.
	// When exceeded, Submit fails fast with ErrRateLimited.
	// Zero or negative value disables rate limiting.
	RateLimit float64

	// RateLimitBurst allows temporary spikes in the submission rate.
	// Effective only if RateLimit is set; defaults to 1.
	RateLimitBurst int

	// Logger is used for structured logging. If nil, logging is disabled.
	Logger log.FieldLogger

	// MetricsCollector is used to collect queue statistics.
	// If nil, metrics are disabled.
	MetricsCollector MetricsCollector
}

type slot[V any] struct {
	task *Task[V]
	fut  *Future[V]
	ctx  context.Context
	elem *list.Element // non-nil while the task is queued

	stopCtxWatch func() bool
}

// Queue executes submitted tasks with a bound on the number of tasks running concurrently.
// Queued tasks are admitted in priority order (FIFO within equal priority) as soon as
// a concurrency slot is available. No ordering guarantee is made about completion.
//
// The queue must be constructed with New and disposed of with Shutdown.
type Queue[V any] struct {
	maxConcurrency int
	maxQueueLength int
	limiter        *rate.Limiter
	logger         log.FieldLogger
	metrics        MetricsCollector

	mu      sync.Mutex
	state   State
	waiting *list.List // of *slot[V]
	running *atomic.Int32

	wake          chan struct{}
	stopScheduler chan struct{}
	stopOnce      sync.Once
	schedulerDone chan struct{}
	idle          chan struct{}
	idleOnce      sync.Once
}

// New creates and starts a new Queue with the provided concurrency bound.
// If maxConcurrency is not positive, DefaultMaxConcurrency is used.
func New[V any](maxConcurrency int, opts Opts) *Queue[V] {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	metrics := opts.MetricsCollector
	if metrics == nil {
		metrics = disabledMetrics{}
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	q := &Queue[V]{
		maxConcurrency: maxConcurrency,
		maxQueueLength: opts.MaxQueueLength,
		limiter:        limiter,
		logger:         logger,
		metrics:        metrics,
		waiting:        list.New(),
		running:        atomic.NewInt32(0),
		wake:           make(chan struct{}, 1),
		stopScheduler:  make(chan struct{}),
		schedulerDone:  make(chan struct{}),
		idle:           make(chan struct{}),
	}
	go q.schedulerLoop()
	return q
}

// Submit appends the task to the queue and returns a Future settled when the task completes.
// It fails fast with ErrQueueClosed, ErrQueueFull or ErrRateLimited, in that order of checks.
// Canceling ctx cancels the task while it is queued and, once it is running,
// propagates to the task's function.
func (q *Queue[V]) Submit(ctx context.Context, task *Task[V]) (*Future[V], error) {
	if task == nil || task.Fn == nil {
		return nil, fmt.Errorf("task function must not be nil")
	}

	q.mu.Lock()
	if q.state != StateAccepting {
		q.mu.Unlock()
		q.metrics.IncSubmitRejections(RejectionReasonQueueClosed)
		return nil, ErrQueueClosed
	}
	if q.limiter != nil && !q.limiter.Allow() {
		q.mu.Unlock()
		q.metrics.IncSubmitRejections(RejectionReasonRateLimited)
		return nil, ErrRateLimited
	}
	if q.maxQueueLength > 0 && q.waiting.Len() >= q.maxQueueLength {
		q.mu.Unlock()
		q.metrics.IncSubmitRejections(RejectionReasonQueueFull)
		return nil, ErrQueueFull
	}

	if task.ID == "" {
		task.ID = xid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	s := &slot[V]{task: task, fut: newFuture[V](task.ID), ctx: ctx}
	s.fut.cancelQueued = func() bool {
		return q.cancelQueuedTask(s)
	}
	s.elem = q.insertByPriority(s)
	q.metrics.SetQueuedAmount(q.waiting.Len())
	// the callback runs in its own goroutine, no deadlock on q.mu
	s.stopCtxWatch = context.AfterFunc(ctx, func() { s.fut.Cancel() })
	q.mu.Unlock()

	q.signalWake()
	q.logger.Debug("task submitted",
		log.String("task_id", task.ID), log.Int("priority", task.Priority))
	return s.fut, nil
}

// insertByPriority inserts the slot after the last queued slot whose priority is
// the same or higher, keeping FIFO order within equal priority.
// Must be called with q.mu held.
func (q *Queue[V]) insertByPriority(s *slot[V]) *list.Element {
	for e := q.waiting.Back(); e != nil; e = e.Prev() {
		if e.Value.(*slot[V]).task.Priority >= s.task.Priority {
			return q.waiting.InsertAfter(s, e)
		}
	}
	return q.waiting.PushFront(s)
}

// cancelQueuedTask removes the task from the queue and settles it as canceled.
// Returns false if the task is not queued anymore.
func (q *Queue[V]) cancelQueuedTask(s *slot[V]) bool {
	q.mu.Lock()
	if s.elem != nil {
		q.waiting.Remove(s.elem)
		s.elem = nil
		q.metrics.SetQueuedAmount(q.waiting.Len())
	}
	var zero V
	canceled := s.fut.settle(StatusQueued, StatusCancelled, zero, q.cancellationCause(s))
	if canceled {
		q.metrics.IncTasksSettled(StatusCancelled)
		q.checkIdleLocked()
	}
	q.mu.Unlock()

	if canceled {
		if s.stopCtxWatch != nil {
			s.stopCtxWatch()
		}
		q.logger.Debug("queued task cancelled", log.String("task_id", s.task.ID))
	}
	return canceled
}

func (q *Queue[V]) cancellationCause(s *slot[V]) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	return context.Canceled
}

// Shutdown stops the queue.
//
// With drain=true the queue stops accepting new tasks (Submit fails with ErrQueueClosed)
// and waits until all queued and running tasks complete.
// With drain=false all queued tasks are canceled immediately and only running tasks
// are awaited, they always complete normally.
//
// If ctx is done before the queue becomes idle, the context's error is returned
// and the queue is left in the draining state.
func (q *Queue[V]) Shutdown(ctx context.Context, drain bool) error {
	q.mu.Lock()
	if q.state == StateAccepting {
		q.state = StateDraining
		q.logger.Info("task queue is draining",
			log.Bool("drain", drain),
			log.Int("queued", q.waiting.Len()),
			log.Int("running", int(q.running.Load())))
	}
	if !drain {
		for e := q.waiting.Front(); e != nil; e = q.waiting.Front() {
			s := e.Value.(*slot[V])
			q.waiting.Remove(e)
			s.elem = nil
			var zero V
			if s.fut.settle(StatusQueued, StatusCancelled, zero, context.Canceled) {
				q.metrics.IncTasksSettled(StatusCancelled)
			}
			if s.stopCtxWatch != nil {
				s.stopCtxWatch()
			}
		}
		q.metrics.SetQueuedAmount(0)
	}
	q.checkIdleLocked()
	q.mu.Unlock()

	select {
	case <-q.idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	q.stopOnce.Do(func() { close(q.stopScheduler) })
	<-q.schedulerDone

	q.mu.Lock()
	q.state = StateClosed
	q.mu.Unlock()
	q.logger.Info("task queue stopped")
	return nil
}

// Running returns the number of currently running tasks.
// It never exceeds the queue's concurrency bound.
func (q *Queue[V]) Running() int {
	return int(q.running.Load())
}

// Len returns the number of queued (not yet running) tasks.
func (q *Queue[V]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiting.Len()
}

func (q *Queue[V]) schedulerLoop() {
	defer close(q.schedulerDone)
	for {
		select {
		case <-q.stopScheduler:
			return
		case <-q.wake:
		}
		q.admitReady()
	}
}

// admitReady admits queued tasks into execution while concurrency slots are available,
// keeping the queue saturated up to its concurrency bound.
func (q *Queue[V]) admitReady() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for int(q.running.Load()) < q.maxConcurrency && q.waiting.Len() > 0 {
		e := q.waiting.Front()
		s := e.Value.(*slot[V])
		q.waiting.Remove(e)
		s.elem = nil
		q.metrics.SetQueuedAmount(q.waiting.Len())

		if !s.fut.markRunning() {
			// task was canceled while queued
			continue
		}
		if s.stopCtxWatch != nil {
			s.stopCtxWatch()
		}
		q.running.Inc()
		q.metrics.SetRunningAmount(int(q.running.Load()))
		go q.runTask(s)
	}
	q.checkIdleLocked()
}

func (q *Queue[V]) runTask(s *slot[V]) {
	q.logger.Debug("task started",
		log.String("task_id", s.task.ID),
		log.Duration("queued_duration", time.Since(s.task.CreatedAt)))

	val, err := q.invokeTaskFn(s)

	var zero V
	var status Status
	switch {
	case err == nil:
		status = StatusSucceeded
		s.fut.settle(StatusRunning, status, val, nil)
	case s.ctx.Err() != nil && errors.Is(err, s.ctx.Err()):
		status = StatusCancelled
		s.fut.settle(StatusRunning, status, zero, err)
	default:
		status = StatusFailed
		s.fut.settle(StatusRunning, status, zero, err)
	}
	q.metrics.IncTasksSettled(status)
	q.logger.Debug("task settled",
		log.String("task_id", s.task.ID), log.String("status", status.String()))

	q.mu.Lock()
	q.running.Dec()
	q.metrics.SetRunningAmount(int(q.running.Load()))
	q.checkIdleLocked()
	q.mu.Unlock()
	q.signalWake()
}

func (q *Queue[V]) invokeTaskFn(s *slot[V]) (val V, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
			q.logger.Error("panic during task execution",
				log.String("task_id", s.task.ID), log.Any("panic", p))
		}
	}()
	return s.task.Fn(s.ctx)
}

func (q *Queue[V]) signalWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// checkIdleLocked signals shutdown completion once the queue stopped accepting tasks
// and has no queued or running work left. Must be called with q.mu held.
func (q *Queue[V]) checkIdleLocked() {
	if q.state != StateAccepting && q.waiting.Len() == 0 && q.running.Load() == 0 {
		q.idleOnce.Do(func() { close(q.idle) })
	}
}
