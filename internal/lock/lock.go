// Package lock implements short-lived, non-blocking mutual exclusion on top of
// the shared key/value store. The store is the only source of truth; no lock
// state is kept in process memory.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/inboxguard/internal/adapter/metrics"
	"github.com/V4T54L/inboxguard/internal/domain"
)

// DefaultTTL bounds how long a crashed holder can wedge a key.
const DefaultTTL = 5 * time.Second

const inboundKeyPrefix = "message_lock:"

// ErrNotAcquired is returned when another holder owns the key.
var ErrNotAcquired = errors.New("lock already held")

// InboundKey is the coarse lock key serializing deliveries from one sender
// into one account.
func InboundKey(senderID string, accountID int64) string {
	return inboundKeyPrefix + senderID + ":" + strconv.FormatInt(accountID, 10)
}

// Handle is an acquired grant. Only the holder of the Handle can release it.
type Handle struct {
	Key       string
	Token     string
	ExpiresAt time.Time

	value string
}

// Manager acquires and releases locks against a domain.KeyValueStore.
type Manager struct {
	store   domain.KeyValueStore
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for handle bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(store domain.KeyValueStore, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Manager {
	mgr := &Manager{
		store:   store,
		logger:  logger.With("component", "lock_manager"),
		metrics: m,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// Acquire makes a single atomic set-if-absent attempt. It returns
// ErrNotAcquired when the key is held and an error wrapping
// domain.ErrStoreUnavailable when the store cannot be reached; in both cases
// the caller does not hold the lock.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := m.now()
	token := uuid.NewString()
	// The timestamp is advisory; ownership is the token.
	value := token + ":" + strconv.FormatInt(now.UnixNano(), 10)

	result, err := m.store.SetIfAbsent(ctx, key, value, ttl)
	m.observe(result)

	switch result {
	case domain.SetAcquired:
		return &Handle{Key: key, Token: token, ExpiresAt: now.Add(ttl), value: value}, nil
	case domain.SetAlreadyHeld:
		return nil, ErrNotAcquired
	default:
		m.logger.Warn("lock store unavailable, treating as not acquired", "lock_key", key, "error", err)
		return nil, fmt.Errorf("failed to acquire lock %q: %w: %w", key, domain.ErrStoreUnavailable, err)
	}
}

// AcquireWithRetry retries Acquire while the key is held, following policy.
// Store failures are returned immediately.
func (m *Manager) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, policy RetryPolicy) (*Handle, error) {
	attempts := policy.attempts()
	for attempt := 1; ; attempt++ {
		h, err := m.Acquire(ctx, key, ttl)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, ErrNotAcquired) || attempt >= attempts {
			return nil, err
		}

		m.logger.Debug("lock held, backing off", "lock_key", key, "attempt", attempt)
		timer := time.NewTimer(policy.Delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// Release deletes the key only if it still holds this handle's value. It
// returns false when the lock already expired or was taken over.
func (m *Manager) Release(ctx context.Context, h *Handle) (bool, error) {
	if h == nil {
		return false, nil
	}
	ok, err := m.store.CompareAndDelete(ctx, h.Key, h.value)
	if err != nil {
		return false, fmt.Errorf("failed to release lock %q: %w: %w", h.Key, domain.ErrStoreUnavailable, err)
	}
	if !ok {
		m.logger.Warn("lock expired or taken over before release", "lock_key", h.Key, "token", h.Token)
	}
	return ok, nil
}

// IsLocked is a point-in-time existence check, not a barrier.
func (m *Manager) IsLocked(ctx context.Context, key string) (bool, error) {
	locked, err := m.store.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check lock %q: %w: %w", key, domain.ErrStoreUnavailable, err)
	}
	return locked, nil
}

func (m *Manager) observe(result domain.SetResult) {
	if m.metrics != nil {
		m.metrics.LockAcquires.WithLabelValues(result.String()).Inc()
	}
}
