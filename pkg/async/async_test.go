package async_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/async"
)

func TestAsync(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	futureString := async.Async(ctx, 42, func(_ context.Context, num int) (string, error) {
		time.Sleep(10 * time.Millisecond)
		return fmt.Sprintf("Number: %d", num), nil
	})
	futureErr := async.Async(ctx, "x", func(_ context.Context, _ string) (int, error) {
		return 0, assert.AnError
	})

	s, err := futureString.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Number: 42", s)

	_, err = futureErr.Await(ctx)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestAsync_PreCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	f := async.Async(ctx, 1, func(_ context.Context, v int) (int, error) {
		called = true
		return v, nil
	})

	_, err := f.Await(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestNewFuture_ResolvesOnce(t *testing.T) {
	t.Parallel()

	f, resolve := async.NewFuture[string]()
	assert.False(t, f.IsComplete())

	resolve("first", nil)
	resolve("second", errors.New("ignored"))

	assert.True(t, f.IsComplete())
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestFuture_SharedByManyWaiters(t *testing.T) {
	t.Parallel()

	f, resolve := async.NewFuture[int]()

	const waiters = 20
	results := make([]int, waiters)
	var wg sync.WaitGroup
	for i := range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := f.Await(context.Background())
			assert.NoError(t, err)
			results[i] = v
		}()
	}

	resolve(7, nil)
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, 7, v)
	}
}

func TestFuture_AwaitContext(t *testing.T) {
	t.Parallel()

	f, resolve := async.NewFuture[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.IsComplete(), "abandoning a wait must not resolve the future")

	resolve(1, nil)
	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("future not completed")
	}
}

func TestResolved(t *testing.T) {
	t.Parallel()

	f := async.Resolved(3, nil)
	assert.True(t, f.IsComplete())
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestWaitAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("collects results", func(t *testing.T) {
		t.Parallel()

		futures := []*async.Future[int]{
			async.Resolved(1, nil),
			async.Async(ctx, 2, func(_ context.Context, v int) (int, error) { return v, nil }),
		}
		got, err := async.WaitAll(ctx, futures...)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, got)
	})

	t.Run("stops at first error", func(t *testing.T) {
		t.Parallel()

		got, err := async.WaitAll(ctx,
			async.Resolved(1, nil),
			async.Resolved(0, assert.AnError),
			async.Resolved(3, nil),
		)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, []int{1, 0, 0}, got)
	})
}
