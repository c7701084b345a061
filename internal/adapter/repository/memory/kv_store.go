// Package memory provides in-process implementations of the domain stores.
// They are used by tests and single-process local runs; they do not
// coordinate across processes.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/V4T54L/inboxguard/internal/domain"
)

type kvEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// KVStore implements domain.KeyValueStore with a mutex-guarded map.
type KVStore struct {
	mu      sync.Mutex
	entries map[string]kvEntry
	now     func() time.Time
	err     error
}

// NewKVStore creates an empty store. now defaults to time.Now.
func NewKVStore(now func() time.Time) *KVStore {
	if now == nil {
		now = time.Now
	}
	return &KVStore{entries: make(map[string]kvEntry), now: now}
}

// lookup returns the live entry for key, dropping it if it has expired.
// Callers must hold s.mu.
func (s *KVStore) lookup(key string) (kvEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return kvEntry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return kvEntry{}, false
	}
	return e, true
}

func (s *KVStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *KVStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (domain.SetResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.SetStoreError, s.err
	}
	if _, ok := s.lookup(key); ok {
		return domain.SetAlreadyHeld, nil
	}
	s.entries[key] = kvEntry{value: value, expiresAt: s.expiry(ttl)}
	return domain.SetAcquired, nil
}

func (s *KVStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	e, ok := s.lookup(key)
	if !ok || e.value != value {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", false, s.err
	}
	e, ok := s.lookup(key)
	return e.value, ok, nil
}

func (s *KVStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries[key] = kvEntry{value: value, expiresAt: s.expiry(ttl)}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	var n int64
	for _, key := range keys {
		if _, ok := s.lookup(key); ok {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

func (s *KVStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	_, ok := s.lookup(key)
	return ok, nil
}

func (s *KVStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	e, ok := s.lookup(key)
	if !ok {
		return false, nil
	}
	e.expiresAt = s.expiry(ttl)
	s.entries[key] = e
	return true, nil
}

// SetErr makes every operation fail with err, simulating an unreachable
// store. Pass nil to recover.
func (s *KVStore) SetErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Clock is a manually advanced time source for TTL tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
