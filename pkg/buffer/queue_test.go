package buffer

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestQueuePreservesPushOrder(t *testing.T) {
	q := New[int](Config{})
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	for want := 0; want < 5; want++ {
		got, ok := q.Next(context.Background())
		if !ok || got != want {
			t.Fatalf("expected %d, got %d ok=%v", want, got, ok)
		}
	}
}

func TestQueueNextResumesOnPush(t *testing.T) {
	q := New[string](Config{})
	got := make(chan string, 1)
	go func() {
		v, _ := q.Next(context.Background())
		got <- v
	}()

	select {
	case v := <-got:
		t.Fatalf("consumer returned early with %q", v)
	case <-time.After(30 * time.Millisecond):
	}

	q.Push("hello")
	select {
	case v := <-got:
		if v != "hello" {
			t.Fatalf("expected hello, got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatalf("consumer did not resume after push")
	}
}

func TestQueueCancelReleasesConsumerAndRejectsPush(t *testing.T) {
	q := New[int](Config{})
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Next(context.Background())
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected cancelled consumer to get ok=false")
		}
	case <-time.After(time.Second):
		t.Fatalf("cancel did not release consumer")
	}

	if q.Push(1) {
		t.Fatalf("push after cancel should be rejected")
	}
	if _, ok := q.Next(context.Background()); ok {
		t.Fatalf("no items may be yielded after cancel")
	}
	if q.Stats().Rejected != 1 {
		t.Fatalf("expected 1 rejected push, got %d", q.Stats().Rejected)
	}
	q.Cancel()
}

func TestQueueCancelDiscardsBacklog(t *testing.T) {
	q := New[int](Config{})
	q.Push(1)
	q.Push(2)
	q.Cancel()
	if q.Len() != 0 {
		t.Fatalf("expected backlog discarded, got %d", q.Len())
	}
	count := 0
	for range q.All(context.Background()) {
		count++
	}
	if count != 0 {
		t.Fatalf("expected empty sequence, got %d items", count)
	}
}

func TestQueueAllStopsOnContext(t *testing.T) {
	q := New[int](Config{})
	q.Push(7)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	var got []int
	for v := range q.All(ctx) {
		got = append(got, v)
	}
	if len(got) != 1 || got[0] != 7 {
		t.Fatalf("expected [7], got %v", got)
	}
	if q.Cancelled() {
		t.Fatalf("context expiry must not cancel the queue")
	}
}

func TestQueueMultipleConsumersDrainEachItemOnce(t *testing.T) {
	q := New[int](Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const total = 200
	var mu sync.Mutex
	var seen []int
	var wg sync.WaitGroup
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for v := range q.All(ctx) {
				mu.Lock()
				seen = append(seen, v)
				n := len(seen)
				mu.Unlock()
				if n == total {
					cancel()
				}
			}
		}()
	}
	for i := 0; i < total; i++ {
		q.Push(i)
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d items, got %d", total, len(seen))
	}
	sort.Ints(seen)
	for i, v := range seen {
		if v != i {
			t.Fatalf("item %d delivered wrong or twice (got %d)", i, v)
		}
	}
}

func TestQueuesDoNotShareState(t *testing.T) {
	a := New[int](Config{})
	b := New[int](Config{})
	a.Push(1)
	a.Cancel()
	if b.Cancelled() || b.Len() != 0 {
		t.Fatalf("second queue affected by first")
	}
	if !b.Push(2) {
		t.Fatalf("push to independent queue rejected")
	}
}
