package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Three requests enqueued while one is active all execute, in arrival order.
func TestFIFOOrderUnderLoad(t *testing.T) {
	q := New(nil)

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	release := make(chan struct{})

	deferred := q.Enqueue(context.Background(), func(context.Context) error {
		<-release
		mu.Lock()
		order = append(order, 0)
		mu.Unlock()
		return nil
	})
	require.False(t, deferred)

	for i := 1; i <= 3; i++ {
		i := i
		deferred := q.Enqueue(context.Background(), func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 3 {
				close(done)
			}
			return nil
		})
		require.True(t, deferred)
	}
	require.Equal(t, 3, q.Waiting())

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not drain")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2, 3}, order)
}

// A failing handler is reported but never stalls the drain.
func TestFailureDoesNotStallQueue(t *testing.T) {
	var mu sync.Mutex
	var failures []error
	q := New(func(err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	})

	ran := make(chan struct{})
	boom := errors.New("boom")
	q.Enqueue(context.Background(), func(context.Context) error { return boom })
	q.Enqueue(context.Background(), func(context.Context) error { panic("handler exploded") })
	q.Enqueue(context.Background(), func(context.Context) error {
		close(ran)
		return nil
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("queue stalled after failure")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 2)
	require.ErrorIs(t, failures[0], boom)
}

func TestIdleAfterDrain(t *testing.T) {
	q := New(nil)
	done := make(chan struct{})
	q.Enqueue(context.Background(), func(context.Context) error {
		close(done)
		return nil
	})
	<-done
	require.Eventually(t, func() bool { return !q.Busy() }, time.Second, 5*time.Millisecond)

	// The next request starts immediately again.
	deferred := q.Enqueue(context.Background(), func(context.Context) error { return nil })
	require.False(t, deferred)
}
