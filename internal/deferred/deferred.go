// Package deferred provides a write-once asynchronous value with an ordered
// continuation queue. Viewport attachment artifacts (mounted element, binding
// scope, rendering surface) are published through these values, and layer
// operations requested before attachment queue against them.
package deferred

import (
	"context"
	"errors"
	"sync"
)

// ErrSettled is returned when resolving or rejecting a value twice.
var ErrSettled = errors.New("deferred: value already settled")

// Value is a write-once container. It settles exactly once, by Resolve or
// Reject, and then replays queued continuations in enqueue order.
type Value[T any] struct {
	mu       sync.Mutex
	settled  bool
	draining bool
	val      T
	err      error
	pending  []func(T, error)
	done     chan struct{}
}

// New creates an unsettled value.
func New[T any]() *Value[T] {
	return &Value[T]{
		done: make(chan struct{}),
	}
}

// Resolve settles the value successfully and drains the continuation queue
// in FIFO order. Returns ErrSettled if the value already settled.
func (v *Value[T]) Resolve(val T) error {
	return v.settle(val, nil)
}

// Reject settles the value with an error. Queued continuations still run,
// each receiving the zero value and err.
func (v *Value[T]) Reject(err error) error {
	var zero T
	if err == nil {
		err = errors.New("deferred: rejected with nil error")
	}
	return v.settle(zero, err)
}

func (v *Value[T]) settle(val T, err error) error {
	v.mu.Lock()
	if v.settled {
		v.mu.Unlock()
		return ErrSettled
	}
	v.settled = true
	v.val = val
	v.err = err
	v.draining = true
	close(v.done)
	v.mu.Unlock()

	v.drain()
	return nil
}

// drain runs queued continuations one at a time without holding the lock,
// so a continuation may enqueue further continuations on the same value.
func (v *Value[T]) drain() {
	for {
		v.mu.Lock()
		if len(v.pending) == 0 {
			v.draining = false
			v.mu.Unlock()
			return
		}
		fn := v.pending[0]
		v.pending = v.pending[1:]
		v.mu.Unlock()
		fn(v.val, v.err)
	}
}

// Then enqueues a continuation. Before settlement it is queued; after
// settlement it runs immediately, but never ahead of continuations still
// draining from the queue. Every continuation runs exactly once.
func (v *Value[T]) Then(fn func(T, error)) {
	v.mu.Lock()
	if !v.settled {
		v.pending = append(v.pending, fn)
		v.mu.Unlock()
		return
	}
	if v.draining || len(v.pending) > 0 {
		// A drainer is active; it will pick this up in order. At most one
		// drainer runs at a time, which keeps replay strictly FIFO.
		v.pending = append(v.pending, fn)
		active := v.draining
		v.draining = true
		v.mu.Unlock()
		if !active {
			v.drain()
		}
		return
	}
	val, err := v.val, v.err
	v.mu.Unlock()
	fn(val, err)
}

// Get blocks until the value settles or ctx is cancelled. Cancelling a Get
// abandons only that wait; queued continuations are unaffected.
func (v *Value[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-v.done:
		return v.val, v.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Settled reports whether the value has been resolved or rejected.
func (v *Value[T]) Settled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.settled
}

// Err returns the rejection error, or nil while unsettled or resolved.
func (v *Value[T]) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Pending returns the number of continuations waiting to run.
func (v *Value[T]) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}
