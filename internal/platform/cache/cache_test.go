package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestTTLCache_SetGet(t *testing.T) {
	c := New[string]("test", time.Minute)
	c.Set("a", "1")

	v, ok := c.Get("a")
	if !ok || v != "1" {
		t.Fatalf("expected hit with 1, got %q %v", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss")
	}
}

func TestTTLCache_Expiry(t *testing.T) {
	clk := newClock()
	c := New[int]("test", 10*time.Minute, WithClock(clk.Now))
	c.Set("a", 1)

	clk.Advance(9 * time.Minute)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("entry should still be live")
	}

	clk.Advance(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatal("entry should have expired")
	}
	if s := c.Stats(); s.Size != 0 || s.Expired != 1 {
		t.Errorf("expected expired entry removed, got %+v", s)
	}
}

func TestTTLCache_EvictsOldestInserted(t *testing.T) {
	c := New[int]("test", time.Hour, WithMaxEntries(3))
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Reading does not refresh insertion order.
	c.Get("a")
	c.Set("d", 4)

	if _, ok := c.Get("a"); ok {
		t.Error("oldest inserted entry should have been evicted")
	}
	for _, k := range []string{"b", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("expected %s to be present", k)
		}
	}
	if s := c.Stats(); s.Evictions != 1 || s.Size != 3 {
		t.Errorf("unexpected stats %+v", s)
	}

	// Overwriting an existing key does not evict.
	c.Set("b", 20)
	if s := c.Stats(); s.Evictions != 1 {
		t.Errorf("overwrite should not evict, got %+v", s)
	}
}

func TestTTLCache_CleanExpired(t *testing.T) {
	clk := newClock()
	c := New[int]("test", time.Minute, WithClock(clk.Now))
	c.Set("a", 1)
	clk.Advance(30 * time.Second)
	c.Set("b", 2)
	clk.Advance(45 * time.Second)

	if n := c.CleanExpired(); n != 1 {
		t.Errorf("expected 1 removed, got %d", n)
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("b should survive")
	}
}

func TestTTLCache_GetOrLoadDedupsConcurrentMisses(t *testing.T) {
	c := New[string]("test", time.Minute)
	var calls int32
	release := make(chan struct{})

	load := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "value", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "k", load)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = v
		}(i)
	}

	// Give the goroutines a chance to pile up on the in-flight load.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected 1 load, got %d", n)
	}
	for i, v := range results {
		if v != "value" {
			t.Errorf("result %d = %q", i, v)
		}
	}

	// Subsequent call is a pure hit.
	if _, err := c.GetOrLoad(context.Background(), "k", load); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected cached value, loader called %d times", n)
	}
}

func TestTTLCache_GetOrLoadErrorNotCached(t *testing.T) {
	c := New[int]("test", time.Minute)
	boom := errors.New("boom")
	calls := 0
	load := func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, boom
		}
		return 42, nil
	}

	if _, err := c.GetOrLoad(context.Background(), "k", load); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	v, err := c.GetOrLoad(context.Background(), "k", load)
	if err != nil || v != 42 {
		t.Fatalf("expected 42, got %d %v", v, err)
	}
}

func TestTTLCache_GetOrLoadCancelled(t *testing.T) {
	c := New[int]("test", time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := c.GetOrLoad(ctx, "k", func(ctx context.Context) (int, error) {
		called = true
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("expected no load for an already cancelled caller")
	}
}

func TestTTLCache_GetOrLoadCancelledCallerDoesNotFailOthers(t *testing.T) {
	c := New[string]("test", time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32

	load := func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return "value", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(firstCtx, "k", load)
		firstErr <- err
	}()
	<-started

	second := make(chan string, 1)
	secondErr := make(chan error, 1)
	go func() {
		v, err := c.GetOrLoad(context.Background(), "k", load)
		second <- v
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("first caller: expected context.Canceled, got %v", err)
	}

	close(release)
	if v, err := <-second, <-secondErr; err != nil || v != "value" {
		t.Fatalf("second caller: got %q, %v", v, err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected a single shared load, got %d", n)
	}
	if v, ok := c.Get("k"); !ok || v != "value" {
		t.Errorf("expected the shared result cached, got %q %v", v, ok)
	}
}

func TestTTLCache_GetOrLoadTimeout(t *testing.T) {
	c := New[int]("test", time.Minute, WithLoadTimeout(10*time.Millisecond))
	_, err := c.GetOrLoad(context.Background(), "k", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestTTLCache_Observer(t *testing.T) {
	var hits, misses int
	c := New[int]("test", time.Minute, WithObserver(func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	}))
	c.Get("a")
	c.Set("a", 1)
	c.Get("a")
	c.Get("a")
	if hits != 2 || misses != 1 {
		t.Errorf("expected 2 hits / 1 miss, got %d / %d", hits, misses)
	}
	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestTTLCache_Clear(t *testing.T) {
	c := New[int]("test", time.Minute)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	c.Clear()
	if s := c.Stats(); s.Size != 0 {
		t.Errorf("expected empty cache, got %d", s.Size)
	}
}

func TestTTLCache_StartCleanup(t *testing.T) {
	c := New[int]("test", time.Millisecond)
	c.Set("a", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartCleanup(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Stats().Size == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("expected background cleanup to remove expired entry")
}
