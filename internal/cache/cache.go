package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrSkipStore may be returned (bare or wrapped) by a Producer to hand its
// value to every waiting caller without storing it.
var ErrSkipStore = errors.New("cache: skip store")

type storeForError struct{ ttl time.Duration }

func (e storeForError) Error() string { return fmt.Sprintf("cache: store for %s", e.ttl) }

// StoreFor may be returned (bare or wrapped) by a Producer to store its value
// for ttl instead of the caller's TTL, whichever is shorter.
func StoreFor(ttl time.Duration) error { return storeForError{ttl: ttl} }

// Producer computes the value for a key.
type Producer[T any] func(ctx context.Context) (T, error)

type Entry[T any] struct {
	Key        string
	Value      T
	ComputedAt time.Time
	ExpiresAt  time.Time
}

func (e Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.ComputedAt)
}

// Observer receives lookup outcomes: "hit", "miss" or "shared".
type Observer interface {
	CacheLookup(cache, result string)
}

type options struct {
	now            func() time.Time
	produceTimeout time.Duration
	observer       Observer
}

type Option func(*options)

// WithClock overrides the wall clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithProduceTimeout bounds a producer that no caller is waiting on anymore.
func WithProduceTimeout(d time.Duration) Option {
	return func(o *options) { o.produceTimeout = d }
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// Store is an in-memory, TTL-bounded cache that runs at most one producer
// per key at a time.
type Store[T any] struct {
	name  string
	opts  options
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]Entry[T]
}

func New[T any](name string, opts ...Option) *Store[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[T]{name: name, opts: o, entries: map[string]Entry[T]{}}
}

// Key scopes a namespace to one network.
func Key(namespace string, chainID int64) string {
	return fmt.Sprintf("%s:%d", namespace, chainID)
}

// Fetch returns the live value for key, computing it with produce when
// missing. Concurrent callers for the same key share one producer run. The
// value is stored for ttl measured from completion; ttl <= 0 disables
// storing. A caller whose ctx ends stops waiting, but the producer keeps
// running for the others.
func (s *Store[T]) Fetch(ctx context.Context, key string, ttl time.Duration, produce Producer[T]) (T, error) {
	var zero T
	if v, ok := s.Peek(key); ok {
		s.observe("hit")
		return v, nil
	}

	ch := s.group.DoChan(key, func() (any, error) {
		if v, ok := s.Peek(key); ok {
			return v, nil
		}
		pctx := context.WithoutCancel(ctx)
		if s.opts.produceTimeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(pctx, s.opts.produceTimeout)
			defer cancel()
		}
		v, err := produce(pctx)
		if err != nil {
			if errors.Is(err, ErrSkipStore) {
				return v, nil
			}
			var short storeForError
			if errors.As(err, &short) {
				s.store(key, v, min(ttl, short.ttl))
				return v, nil
			}
			return nil, err
		}
		s.store(key, v, ttl)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			s.observe("shared")
		} else {
			s.observe("miss")
		}
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	}
}

// Now reads the clock the store measures expiry with.
func (s *Store[T]) Now() time.Time { return s.opts.now() }

// Peek returns the live value for key without ever computing it.
func (s *Store[T]) Peek(key string) (T, bool) {
	entry, ok := s.Entry(key)
	return entry.Value, ok
}

// Entry returns the live entry for key.
func (s *Store[T]) Entry(key string) (Entry[T], bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || !s.opts.now().Before(entry.ExpiresAt) {
		return Entry[T]{}, false
	}
	return entry, true
}

func (s *Store[T]) Invalidate(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Prune drops expired entries and returns how many were removed.
func (s *Store[T]) Prune() int {
	now := s.opts.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store[T]) store(key string, v T, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := s.opts.now()
	s.mu.Lock()
	s.entries[key] = Entry[T]{Key: key, Value: v, ComputedAt: now, ExpiresAt: now.Add(ttl)}
	s.mu.Unlock()
}

func (s *Store[T]) observe(result string) {
	if s.opts.observer != nil {
		s.opts.observer.CacheLookup(s.name, result)
	}
}
