package updatequeue

import (
	"testing"
)

func TestUnboundedQueue(t *testing.T) {
	q := New[int](0)

	// Goroutine to send data.
	// Send all integers [0, 19].
	max := 20
	go func() {
		ch := q.In()
		for i := range max {
			ch <- i
		}
		close(ch) // Close the input channel when done
	}()

	// Receive everything, checking the order.
	next := 0
	for d := range q.Out() {
		if d != next {
			t.Errorf("Queue delivered %d, want %d", d, next)
		}
		next++
	}
	if next != max {
		t.Errorf("Queue delivered %d items, want %d", next, max)
	}
	if q.Dropped() != 0 {
		t.Errorf("unbounded Queue dropped %d items, want 0", q.Dropped())
	}
}

func TestBoundedQueueDropsOldest(t *testing.T) {
	const limit = 5
	const total = 50
	q := New[int](limit)

	// Nobody reads until all input is in, so all but the newest entries go.
	ch := q.In()
	for i := range total {
		ch <- i
	}
	close(ch)

	var got []int
	for d := range q.Out() {
		got = append(got, d)
	}
	if len(got) != limit {
		t.Fatalf("bounded Queue delivered %d items, want %d", len(got), limit)
	}
	for i, d := range got {
		if want := total - limit + i; d != want {
			t.Errorf("bounded Queue item %d = %d, want %d", i, d, want)
		}
	}
	if q.Dropped() != total-limit {
		t.Errorf("bounded Queue dropped %d items, want %d", q.Dropped(), total-limit)
	}
}
