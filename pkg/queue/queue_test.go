package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPushBatchAndDrainAll(t *testing.T) {
	q := New[int]()
	q.PushBatch([]int{1, 2, 3})
	require.Equal(t, 3, q.Len())

	items := q.DrainAll()
	require.Equal(t, []int{1, 2, 3}, items)
	require.Equal(t, 0, q.Len())
}

func TestDrainAllOnEmptyReturnsNil(t *testing.T) {
	q := New[int]()
	require.Nil(t, q.DrainAll())
}

func TestPushBatchEmptyIsNoOp(t *testing.T) {
	q := New[int]()
	q.PushBatch(nil)
	require.Equal(t, 0, q.Len())
}

func TestWaitThresholdWakesOnEnqueue(t *testing.T) {
	q := New[int]()
	var stopped int32
	done := make(chan []int, 1)

	go func() {
		done <- q.WaitThreshold(3, func() bool { return atomic.LoadInt32(&stopped) != 0 })
	}()

	// Give the goroutine time to park in Wait before pushing.
	time.Sleep(10 * time.Millisecond)
	q.Push(1)
	q.Push(2)
	q.Push(3)

	select {
	case items := <-done:
		require.Equal(t, []int{1, 2, 3}, items)
	case <-time.After(time.Second):
		t.Fatal("WaitThreshold did not wake after reaching threshold")
	}
}

func TestWaitThresholdWakesOnStop(t *testing.T) {
	q := New[int]()
	var stopped int32
	done := make(chan []int, 1)

	go func() {
		done <- q.WaitThreshold(100, func() bool { return atomic.LoadInt32(&stopped) != 0 })
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(1)
	atomic.StoreInt32(&stopped, 1)
	q.Wake()

	select {
	case items := <-done:
		require.Equal(t, []int{1}, items)
	case <-time.After(time.Second):
		t.Fatal("WaitThreshold did not wake after stop")
	}
}

func TestConcurrentPushesPreserveCount(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			q.Push(v)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 50, q.Len())
}
