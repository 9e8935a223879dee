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

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestFetchServesLiveEntryWithoutProducer(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := New[int]("test", WithClock(clock.Now))
	var calls atomic.Int32
	produce := func(context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}

	for i := 0; i < 3; i++ {
		v, err := store.Fetch(context.Background(), "k", time.Minute, produce)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if v != 1 {
			t.Fatalf("expected cached value 1, got %d", v)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one producer call, got %d", calls.Load())
	}

	clock.Advance(time.Minute)
	v, err := store.Fetch(context.Background(), "k", time.Minute, produce)
	if err != nil {
		t.Fatalf("Fetch after expiry failed: %v", err)
	}
	if v != 2 || calls.Load() != 2 {
		t.Fatalf("expected refresh after expiry, got value=%d calls=%d", v, calls.Load())
	}
}

func TestFetchExpiryCountsFromCompletion(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := New[string]("test", WithClock(clock.Now))
	_, err := store.Fetch(context.Background(), "slow", 5*time.Second, func(context.Context) (string, error) {
		clock.Advance(10 * time.Second)
		return "done", nil
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	entry, ok := store.Entry("slow")
	if !ok {
		t.Fatal("expected entry to be live right after a slow producer completes")
	}
	if got := entry.ExpiresAt.Sub(entry.ComputedAt); got != 5*time.Second {
		t.Fatalf("unexpected ttl window %s", got)
	}
	clock.Advance(5 * time.Second)
	if _, ok := store.Peek("slow"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestFetchSingleFlight(t *testing.T) {
	store := New[string]("test")
	release := make(chan struct{})
	var calls atomic.Int32
	produce := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "value", nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.Fetch(context.Background(), "shared", time.Minute, produce)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected exactly one producer call, got %d", calls.Load())
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil || results[i] != "value" {
			t.Fatalf("caller %d got value=%q err=%v", i, results[i], errs[i])
		}
	}
}

func TestFetchSharesFailureAndDoesNotStore(t *testing.T) {
	store := New[string]("test")
	release := make(chan struct{})
	boom := errors.New("upstream down")
	var calls atomic.Int32
	produce := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "", boom
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Fetch(context.Background(), "failing", time.Minute, produce)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected exactly one producer call, got %d", calls.Load())
	}
	for i, err := range errs {
		if !errors.Is(err, boom) {
			t.Fatalf("caller %d expected shared failure, got %v", i, err)
		}
	}
	if _, ok := store.Peek("failing"); ok {
		t.Fatal("failure must not be cached")
	}
}

func TestFetchSkipStore(t *testing.T) {
	store := New[[]string]("test")
	v, err := store.Fetch(context.Background(), "partial", time.Minute, func(context.Context) ([]string, error) {
		return []string{"a"}, fmt.Errorf("one provider failed: %w", ErrSkipStore)
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(v) != 1 || v[0] != "a" {
		t.Fatalf("unexpected value %v", v)
	}
	if store.Len() != 0 {
		t.Fatal("skip-store result must not be cached")
	}
}

func TestFetchStoreForShortensTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := New[string]("test", WithClock(func() time.Time { return now }))
	calls := 0
	produce := func(context.Context) (string, error) {
		calls++
		return "partial", fmt.Errorf("one provider failed: %w", StoreFor(10*time.Second))
	}

	v, err := store.Fetch(context.Background(), "k", time.Minute, produce)
	if err != nil || v != "partial" {
		t.Fatalf("unexpected fetch result %q, %v", v, err)
	}
	entry, ok := store.Entry("k")
	if !ok {
		t.Fatal("expected short-lived entry to be stored")
	}
	if got := entry.ExpiresAt.Sub(entry.ComputedAt); got != 10*time.Second {
		t.Fatalf("expected 10s lifetime, got %s", got)
	}

	now = now.Add(9 * time.Second)
	if _, err := store.Fetch(context.Background(), "k", time.Minute, produce); err != nil || calls != 1 {
		t.Fatalf("expected cached value within short ttl, calls=%d err=%v", calls, err)
	}
	if age := entry.Age(store.Now()); age != 9*time.Second {
		t.Fatalf("expected age measured on store clock, got %s", age)
	}
	now = now.Add(time.Second)
	if _, err := store.Fetch(context.Background(), "k", time.Minute, produce); err != nil || calls != 2 {
		t.Fatalf("expected recompute after short ttl, calls=%d err=%v", calls, err)
	}

	if _, err := store.Fetch(context.Background(), "never", 0, produce); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if _, ok := store.Peek("never"); ok {
		t.Fatal("zero caller ttl must still disable storing")
	}
}

func TestFetchAbandonedCallerLeavesProducerRunning(t *testing.T) {
	store := New[int]("test")
	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := store.Fetch(ctx, "k", time.Minute, func(pctx context.Context) (int, error) {
			<-release
			if pctx.Err() != nil {
				return 0, pctx.Err()
			}
			return 7, nil
		})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, ok := store.Peek("k"); ok {
			if v != 7 {
				t.Fatalf("unexpected stored value %d", v)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected producer to finish and store its value")
}

func TestPruneAndInvalidate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := New[int]("test", WithClock(clock.Now))
	ctx := context.Background()
	one := func(context.Context) (int, error) { return 1, nil }
	_, _ = store.Fetch(ctx, "short", time.Second, one)
	_, _ = store.Fetch(ctx, "long", time.Hour, one)
	_, _ = store.Fetch(ctx, "never", 0, one)

	if store.Len() != 2 {
		t.Fatalf("expected two stored entries, got %d", store.Len())
	}
	clock.Advance(2 * time.Second)
	if removed := store.Prune(); removed != 1 {
		t.Fatalf("expected one pruned entry, got %d", removed)
	}
	store.Invalidate("long")
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) CacheLookup(_ string, result string) {
	o.mu.Lock()
	o.counts[result]++
	o.mu.Unlock()
}

func TestObserverAndKey(t *testing.T) {
	obs := &countingObserver{counts: map[string]int{}}
	store := New[int]("tokens", WithObserver(obs))
	one := func(context.Context) (int, error) { return 1, nil }
	key := Key("tokens/supported", 1)
	if key != "tokens/supported:1" {
		t.Fatalf("unexpected key %s", key)
	}
	_, _ = store.Fetch(context.Background(), key, time.Minute, one)
	_, _ = store.Fetch(context.Background(), key, time.Minute, one)
	if obs.counts["miss"] != 1 || obs.counts["hit"] != 1 {
		t.Fatalf("unexpected observer counts %v", obs.counts)
	}
	if Key("tokens/supported", 250) == key {
		t.Fatal("keys must not collide across networks")
	}
}
