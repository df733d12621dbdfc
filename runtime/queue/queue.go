// Package queue serializes pipeline runs: at most one handler executes at a
// time, later arrivals wait in strict FIFO order, and completion of one
// handler unconditionally drains the next. The drain is an explicit worker
// loop, not recursive re-invocation, so long queues cannot grow the call
// stack.
package queue

import (
	"context"
	"fmt"
	"sync"
)

type (
	// Handler executes one queued request. The context is the one supplied
	// at Enqueue time; cancellation aborts that run only.
	Handler func(ctx context.Context) error

	// Queue admits at most one in-flight handler per instance.
	//
	// Contract:
	// - Entries execute in strict arrival order; no priority, no preemption.
	// - A failing (or panicking) handler is isolated to its own entry and
	//   never stalls the drain.
	Queue struct {
		mu      sync.Mutex
		busy    bool
		waiting []job

		// onError observes isolated handler failures. Optional.
		onError func(error)
	}

	job struct {
		ctx context.Context
		run Handler
	}
)

// New constructs a Queue. onError, when non-nil, observes handler failures;
// it must not block.
func New(onError func(error)) *Queue {
	return &Queue{onError: onError}
}

// Enqueue submits a handler. When the queue is idle the handler starts
// immediately on a worker goroutine and Enqueue reports false. When another
// handler is in flight the entry is appended and Enqueue reports true
// (deferred) without blocking the caller.
func (q *Queue) Enqueue(ctx context.Context, run Handler) (deferred bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	j := job{ctx: ctx, run: run}
	q.mu.Lock()
	if q.busy {
		q.waiting = append(q.waiting, j)
		q.mu.Unlock()
		return true
	}
	q.busy = true
	q.mu.Unlock()
	go q.drain(j)
	return false
}

// Busy reports whether a handler is currently executing.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busy
}

// Waiting reports the number of deferred entries.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// drain executes the given job then keeps pulling the head of the wait list
// until it is empty, at which point the busy slot is released.
func (q *Queue) drain(j job) {
	for {
		q.execute(j)
		q.mu.Lock()
		if len(q.waiting) == 0 {
			q.busy = false
			q.mu.Unlock()
			return
		}
		j = q.waiting[0]
		q.waiting = q.waiting[1:]
		q.mu.Unlock()
	}
}

func (q *Queue) execute(j job) {
	defer func() {
		if r := recover(); r != nil && q.onError != nil {
			q.onError(fmt.Errorf("queue handler panic: %v", r))
		}
	}()
	if err := j.run(j.ctx); err != nil && q.onError != nil {
		q.onError(err)
	}
}
