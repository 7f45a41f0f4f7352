package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueuePositionsAreFIFO(t *testing.T) {
	q := New(nil)
	noop := func(ctx context.Context) {}

	id1, pos1 := q.Enqueue(1, "link-1", nil, noop)
	id2, pos2 := q.Enqueue(1, "link-2", nil, noop)
	id3, pos3 := q.Enqueue(2, "link-3", nil, noop)

	assert.Equal(t, 1, pos1)
	assert.Equal(t, 2, pos2)
	assert.Equal(t, 3, pos3)
	assert.NotEqual(t, id1, id2)

	pending := q.Pending(0)
	require.Len(t, pending, 3)
	assert.Equal(t, id1, pending[0].QueueID)
	assert.Equal(t, id3, pending[2].QueueID)

	// owner-filtered positions are renumbered over the filtered list
	mine := q.Pending(2)
	require.Len(t, mine, 1)
	assert.Equal(t, id3, mine[0].QueueID)
	assert.Equal(t, 1, mine[0].Position)
}

func TestSizeFiltersByOwner(t *testing.T) {
	q := New(nil)
	noop := func(ctx context.Context) {}
	q.Enqueue(1, "a", nil, noop)
	q.Enqueue(1, "b", nil, noop)
	q.Enqueue(2, "c", nil, noop)

	assert.Equal(t, 3, q.Size(0))
	assert.Equal(t, 2, q.Size(1))
	assert.Equal(t, 0, q.Size(9))
}

func TestCancelPending(t *testing.T) {
	q := New(nil)
	noop := func(ctx context.Context) {}
	id1, _ := q.Enqueue(1, "a", nil, noop)
	id2, _ := q.Enqueue(2, "b", nil, noop)

	assert.False(t, q.CancelPending("q-missing", 0))
	assert.False(t, q.CancelPending(id2, 1), "wrong owner must not cancel")
	assert.True(t, q.CancelPending(id2, 2))
	assert.False(t, q.CancelPending(id2, 2), "already removed")
	assert.True(t, q.CancelPending(id1, 0), "owner 0 skips ownership check")
	assert.Equal(t, 0, q.Size(0))
}

func TestWorkerRunsJobsInOrder(t *testing.T) {
	q := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	for i := 1; i <= 3; i++ {
		i := i
		q.Enqueue(1, "link", nil, func(ctx context.Context) {
			mu.Lock()
			order = append(order, i)
			if len(order) == 3 {
				close(done)
			}
			mu.Unlock()
		})
	}

	q.StartWorker(ctx)
	q.StartWorker(ctx) // idempotent

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs did not run")
	}
	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, order)
	mu.Unlock()
}

func TestWorkerRunsOneJobAtATime(t *testing.T) {
	q := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	firstRunning := make(chan struct{})
	secondDone := make(chan struct{})

	q.Enqueue(1, "a", nil, func(ctx context.Context) {
		close(firstRunning)
		<-release
	})
	id2, _ := q.Enqueue(1, "b", nil, func(ctx context.Context) {
		close(secondDone)
	})
	q.StartWorker(ctx)

	<-firstRunning
	// while the first job blocks, the second stays pending and cancellable
	assert.Equal(t, 1, q.Size(0))
	select {
	case <-secondDone:
		t.Fatal("second job ran concurrently")
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, q.CancelPending(id2, 1))

	close(release)
	time.Sleep(50 * time.Millisecond)
	select {
	case <-secondDone:
		t.Fatal("cancelled job still ran")
	default:
	}
}

func TestWorkerSurvivesPanic(t *testing.T) {
	q := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	q.Enqueue(1, "bad", nil, func(ctx context.Context) {
		panic("boom")
	})
	q.Enqueue(1, "good", nil, func(ctx context.Context) {
		close(done)
	})
	q.StartWorker(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panicking job")
	}
}

func TestQueueDrainScenario(t *testing.T) {
	q := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	firstRunning := make(chan struct{})
	release := make(chan struct{})
	q.Enqueue(7, "link1", nil, func(ctx context.Context) {
		close(firstRunning)
		<-release
	})
	id2, _ := q.Enqueue(7, "link2", nil, func(ctx context.Context) {})
	q.Enqueue(7, "link3", nil, func(ctx context.Context) {})

	// worker not started yet: everything pending, positions 1..3
	assert.Equal(t, 3, q.Size(7))
	pending := q.Pending(7)
	require.Len(t, pending, 3)
	for i, p := range pending {
		assert.Equal(t, i+1, p.Position)
	}

	q.StartWorker(ctx)
	<-firstRunning

	// job1 dequeued: former job2 moves to position 1
	assert.Equal(t, 2, q.Size(7))
	pending = q.Pending(7)
	require.Len(t, pending, 2)
	assert.Equal(t, id2, pending[0].QueueID)
	assert.Equal(t, 1, pending[0].Position)
	close(release)
}

func TestDequeuedJobLeavesQueueViews(t *testing.T) {
	q := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	running := make(chan struct{})
	release := make(chan struct{})
	id, _ := q.Enqueue(1, "a", nil, func(ctx context.Context) {
		close(running)
		<-release
	})
	q.StartWorker(ctx)
	<-running

	// once picked up, the item is invisible and uncancellable here
	assert.Equal(t, 0, q.Size(0))
	assert.Empty(t, q.Pending(0))
	assert.False(t, q.CancelPending(id, 0))
	close(release)
}
