/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package taskqueue provides a bounded task queue that executes submitted tasks
// with a configurable limit on concurrency. Tasks carry an optional priority:
// higher-priority tasks are admitted first, tasks with equal priority run in
// submission order. When the queue length bound is reached, submissions fail
// fast with ErrQueueFull so callers can apply backpressure.
//
// Every submission returns a Future that can be awaited or canceled.
// Canceling a task that is still queued guarantees its function never runs;
// canceling a running task propagates through the task's context.
package taskqueue
