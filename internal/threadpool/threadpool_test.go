package threadpool

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsTasks(t *testing.T) {
	p := New(4)
	defer p.Stop()

	var count int64
	const n = 100
	for i := 0; i < n; i++ {
		if err := p.Enqueue(func() { atomic.AddInt64(&count, 1) }); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(&count) != n && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := atomic.LoadInt64(&count); got != n {
		t.Fatalf("ran %d tasks, want %d", got, n)
	}
}

func TestPoolEnqueueAfterStopFails(t *testing.T) {
	p := New(2)
	p.Stop()

	if err := p.Enqueue(func() {}); err != ErrStopped {
		t.Fatalf("Enqueue after Stop = %v, want ErrStopped", err)
	}
}

func TestPoolStopDrainsQueue(t *testing.T) {
	p := New(1)

	var ran int64
	for i := 0; i < 10; i++ {
		if err := p.Enqueue(func() { atomic.AddInt64(&ran, 1) }); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	p.Stop()

	if got := atomic.LoadInt64(&ran); got != 10 {
		t.Fatalf("ran %d tasks before shutdown completed, want 10", got)
	}
}
