package async

import (
	"context"
	"sync"
)

// Future represents the eventual result of an asynchronous computation.
// A Future is resolved exactly once; every waiter observes the same result.
type Future[U any] struct {
	result U
	err    error
	once   sync.Once
	done   chan struct{}
}

// Resolver completes a Future. Only the first call has an effect.
type Resolver[U any] func(U, error)

// NewFuture returns an unresolved Future and the function that resolves it.
// Use it when the producer is not a single function call, e.g. a result that
// is shared by every caller joining an in-flight operation.
func NewFuture[U any]() (*Future[U], Resolver[U]) {
	f := &Future[U]{done: make(chan struct{})}
	return f, f.resolve
}

// Resolved returns a Future that is already complete.
func Resolved[U any](v U, err error) *Future[U] {
	f, resolve := NewFuture[U]()
	resolve(v, err)
	return f
}

func (f *Future[U]) resolve(v U, err error) {
	f.once.Do(func() {
		f.result = v
		f.err = err
		close(f.done)
	})
}

// Await blocks until the future completes or ctx is done.
// Giving up on a future does not cancel the computation behind it.
func (f *Future[U]) Await(ctx context.Context) (U, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero U
		return zero, ctx.Err()
	}
}

// Done returns a channel closed when the future completes.
func (f *Future[U]) Done() <-chan struct{} {
	return f.done
}

// IsComplete checks if the future has completed without blocking.
func (f *Future[U]) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Async executes fn in a new goroutine and returns its Future.
func Async[T any, U any](ctx context.Context, param T, fn func(context.Context, T) (U, error)) *Future[U] {
	f, resolve := NewFuture[U]()

	go func() {
		// don't start work for a caller that already left
		if err := ctx.Err(); err != nil {
			var zero U
			resolve(zero, err)
			return
		}
		resolve(fn(ctx, param))
	}()

	return f
}

// WaitAll waits for every future in order and returns their results.
// It stops at the first error, returning the results collected so far.
func WaitAll[U any](ctx context.Context, futures ...*Future[U]) ([]U, error) {
	results := make([]U, len(futures))

	for i, future := range futures {
		result, err := future.Await(ctx)
		results[i] = result
		if err != nil {
			return results, err
		}
	}

	return results, nil
}
