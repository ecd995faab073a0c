package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestComputeIfAbsent_InvokesFactoryOnce(t *testing.T) {
	c := New[string, int](time.Minute, 0, nil, nil)

	var calls int32
	factory := func(string) (int, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(5 * time.Millisecond)
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, err := c.ComputeIfAbsent("k", factory, 0)
			if err != nil {
				t.Error(err)
			}
			results[idx] = v
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("factory invoked %d times, want 1", got)
	}
	for _, v := range results {
		if v != 42 {
			t.Fatalf("got %d, want 42", v)
		}
	}
}

func TestGet_ExpiresAndRefreshes(t *testing.T) {
	c := New[string, int](20*time.Millisecond, 0, nil, nil)
	c.Put("k", 1, 0)

	if v, ok := c.Get("k", 0); !ok || v != 1 {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("k", 0); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestClear_DisposesRemainingEntries(t *testing.T) {
	var disposed []string
	var mu sync.Mutex
	c := New[string, string](time.Minute, time.Millisecond, nil, func(v string) {
		mu.Lock()
		disposed = append(disposed, v)
		mu.Unlock()
	})

	c.Put("a", "vala", 0)
	c.Put("b", "valb", 0)
	c.Clear()

	mu.Lock()
	defer mu.Unlock()
	if len(disposed) != 2 {
		t.Fatalf("expected 2 disposed entries, got %d: %v", len(disposed), disposed)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after Clear, got %d entries", c.Len())
	}
}

func TestSweep_RetainsWhenShouldDisposeFalse(t *testing.T) {
	gate := int32(0) // 0 = retain, 1 = dispose
	disposedCh := make(chan struct{}, 1)

	c := New[string, int](5*time.Millisecond, 5*time.Millisecond,
		func(int) bool { return atomic.LoadInt32(&gate) == 1 },
		func(int) { disposedCh <- struct{}{} })

	c.Put("k", 1, 0)
	time.Sleep(15 * time.Millisecond) // expired, but gate retains it

	select {
	case <-disposedCh:
		t.Fatal("entry disposed while shouldDispose returned false")
	default:
	}

	if c.Len() != 1 {
		t.Fatalf("expected retained entry, got %d entries", c.Len())
	}

	atomic.StoreInt32(&gate, 1)
	select {
	case <-disposedCh:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("entry was never disposed once shouldDispose allowed it")
	}
	c.Clear()
}
