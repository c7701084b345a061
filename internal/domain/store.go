package domain

import (
	"context"
	"time"
)

// SetResult is the outcome of an atomic set-if-absent on the shared store.
// Adapters decide it once; callers never inspect client replies.
type SetResult int

const (
	SetStoreError SetResult = iota
	SetAcquired
	SetAlreadyHeld
)

func (r SetResult) String() string {
	switch r {
	case SetAcquired:
		return "acquired"
	case SetAlreadyHeld:
		return "already_held"
	default:
		return "store_error"
	}
}

// KeyValueStore is the shared key/value store every worker process talks to.
// Every operation touches a single key and is atomic on its own.
type KeyValueStore interface {
	// SetIfAbsent stores value under key with ttl only if key does not exist.
	// A non-nil error is only returned together with SetStoreError.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (SetResult, error)

	// CompareAndDelete deletes key only if it currently holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
