/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package taskqueue

import (
	"context"

	"go.uber.org/atomic"
)

// Future is a completion handle for a submitted task.
// It is settled exactly once when the task reaches a terminal status.
type Future[V any] struct {
	taskID string
	status *atomic.Int32
	done   chan struct{}
	val    V
	err    error

	cancelQueued func() bool
}

func newFuture[V any](taskID string) *Future[V] {
	return &Future[V]{
		taskID: taskID,
		status: atomic.NewInt32(int32(StatusQueued)),
		done:   make(chan struct{}),
	}
}

// TaskID returns the ID of the task the future belongs to.
func (f *Future[V]) TaskID() string {
	return f.taskID
}

// Status returns the current status of the task.
func (f *Future[V]) Status() Status {
	return Status(f.status.Load())
}

// Done returns a channel that is closed when the task settles.
func (f *Future[V]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task settles or ctx is done and returns the task's outcome
// or the context's error. Abandoning the wait does not cancel the task, use Cancel for that.
func (f *Future[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Cancel cancels the task if it is still queued: the task settles with StatusCancelled
// and its function is never invoked. Returns true if the task was canceled by this call.
// A running task is not interrupted, cancel its submission context instead.
func (f *Future[V]) Cancel() bool {
	if f.cancelQueued == nil {
		return false
	}
	return f.cancelQueued()
}

// markRunning transitions the future from queued to running state.
// Returns false if the task is not queued anymore (e.g. was canceled).
func (f *Future[V]) markRunning() bool {
	return f.status.CompareAndSwap(int32(StatusQueued), int32(StatusRunning))
}

// settle performs a one-shot transition to a terminal status delivering the outcome.
func (f *Future[V]) settle(from, to Status, val V, err error) bool {
	if !f.status.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	f.val, f.err = val, err
	close(f.done)
	return true
}
