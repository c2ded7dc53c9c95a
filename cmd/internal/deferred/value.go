// Package deferred provides a write-once value that readers can wait on
// before it has been produced.
package deferred

import (
	"context"
	"sync"
)

// Value is resolved at most once. Waiters that arrive after resolution
// return immediately.
type Value[T any] struct {
	once sync.Once
	done chan struct{}
	v    T
}

func New[T any]() *Value[T] {
	return &Value[T]{done: make(chan struct{})}
}

// Resolved returns a Value that already holds v.
func Resolved[T any](v T) *Value[T] {
	d := New[T]()
	d.Resolve(v)
	return d
}

// Resolve stores v and releases all waiters. It reports false if the value
// had already been resolved, in which case v is discarded.
func (d *Value[T]) Resolve(v T) bool {
	ok := false
	d.once.Do(func() {
		d.v = v
		close(d.done)
		ok = true
	})
	return ok
}

// Wait blocks until the value is resolved or ctx is done.
func (d *Value[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed once the value is resolved.
func (d *Value[T]) Done() <-chan struct{} { return d.done }

// Peek returns the value without blocking.
func (d *Value[T]) Peek() (T, bool) {
	select {
	case <-d.done:
		return d.v, true
	default:
		var zero T
		return zero, false
	}
}
