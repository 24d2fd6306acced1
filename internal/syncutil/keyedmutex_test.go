package syncutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestKeyedMutex_LockUnlock(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.Lock(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	unlock()

	// Reacquirable after unlock.
	unlock, err = m.Lock(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	unlock()
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	var inCritical, max int
	var track sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "0xinvoice")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			track.Lock()
			inCritical++
			if inCritical > max {
				max = inCritical
			}
			track.Unlock()

			time.Sleep(time.Microsecond)

			track.Lock()
			inCritical--
			track.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if max != 1 {
		t.Fatalf("critical section held by %d goroutines at once", max)
	}
}

func TestKeyedMutex_GivesUpWhenContextEnds(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.Lock(context.Background(), "held")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := m.Lock(ctx, "held"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestKeyedMutex_WaiterRunsAfterUnlock(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	unlock, err := m.Lock(ctx, "handoff")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		u, err := m.Lock(ctx, "handoff")
		if err != nil {
			return
		}
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired the lock while it was held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock after release")
	}
}
