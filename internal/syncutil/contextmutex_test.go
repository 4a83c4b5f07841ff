package syncutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutex_LockUnlock(t *testing.T) {
	m := NewKeyedMutex(0)
	unlock, err := m.LockContext(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unlock()

	unlock, err = m.LockContext(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("relock failed: %v", err)
	}
	unlock()
}

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	m := NewKeyedMutex(16)
	ctx := context.Background()

	var counter int64
	var wg sync.WaitGroup
	const n = 100

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock, err := m.LockContext(ctx, "ord_shared")
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			defer unlock()
			v := atomic.LoadInt64(&counter)
			atomic.StoreInt64(&counter, v+1)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&counter); got != n {
		t.Fatalf("expected %d increments, got %d", n, got)
	}
}

func TestKeyedMutex_ContextDeadline(t *testing.T) {
	m := NewKeyedMutex(4)
	unlock, err := m.LockContext(context.Background(), "ord_busy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := m.LockContext(ctx, "ord_busy"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestKeyedMutex_TryLock(t *testing.T) {
	m := NewKeyedMutex(1)

	unlock, ok := m.TryLock("a")
	if !ok {
		t.Fatal("expected free lock")
	}
	if _, ok := m.TryLock("b"); ok {
		t.Fatal("single shard: second key should be held")
	}
	unlock()

	unlock, ok = m.TryLock("b")
	if !ok {
		t.Fatal("expected lock after release")
	}
	unlock()
}

func TestKeyedMutex_ReleaseWakesWaiter(t *testing.T) {
	m := NewKeyedMutex(8)
	ctx := context.Background()

	unlock, err := m.LockContext(ctx, "ord_relay")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		u, err := m.LockContext(ctx, "ord_relay")
		if err != nil {
			return
		}
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired lock while it was held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired lock after release")
	}
}
