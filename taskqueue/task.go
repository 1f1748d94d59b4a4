/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package taskqueue

import (
	"context"
	"time"
)

// TaskFunc is an asynchronous operation executed by the queue.
// It must respect ctx cancellation.
type TaskFunc[V any] func(ctx context.Context) (V, error)

// Task represents a unit of work submitted to the queue.
type Task[V any] struct {
	// ID identifies the task in logs and metrics.
	// If empty, it is generated on submission.
	ID string

	// Priority is an ordering hint: a task with a higher priority is admitted
	// before queued tasks with a lower one, but never preempts a running task.
	// Tasks of equal priority are admitted in submission order (FIFO).
	Priority int

	// CreatedAt is the submission timestamp. If zero, it is set on submission.
	CreatedAt time.Time

	// Fn is the operation to execute.
	Fn TaskFunc[V]
}

// Status represents the lifecycle state of a submitted task.
type Status int32

// Task statuses.
const (
	StatusQueued Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusCancelled
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}
