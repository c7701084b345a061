// Package idempotency gives at-most-once processing per external message id
// by composing a durable "already processed" lookup, a short-lived in-flight
// marker on the shared store, and a coarse distributed lock.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/inboxguard/internal/adapter/metrics"
	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/lock"
)

// DefaultInFlightTTL bounds how long a crashed worker's marker blocks retries.
const DefaultInFlightTTL = 30 * time.Second

const markerKeyPrefix = "processing_message:"

// ErrBusy means the coarse lock stayed held for the whole retry policy. The
// caller should retry the event later.
var ErrBusy = errors.New("coarse lock busy")

// Outcome reports what Process did with an external id.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeInFlight  Outcome = "in_flight"
	OutcomeBusy      Outcome = "busy"
	OutcomeFailed    Outcome = "failed"
)

// MarkerKey is the shared store key of the in-flight marker for externalID.
func MarkerKey(externalID string) string {
	return markerKeyPrefix + externalID
}

// Guard implements the idempotency primitives and the full processing pattern.
type Guard struct {
	store       domain.KeyValueStore
	processed   domain.ProcessedChecker
	locks       *lock.Manager
	logger      *slog.Logger
	metrics     *metrics.Metrics
	inFlightTTL time.Duration
	lockTTL     time.Duration
	retry       lock.RetryPolicy
}

// Option configures a Guard.
type Option func(*Guard)

func WithInFlightTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.inFlightTTL = ttl
		}
	}
}

func WithLockTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.lockTTL = ttl
		}
	}
}

// WithRetryPolicy sets how long Process waits for the coarse lock.
func WithRetryPolicy(p lock.RetryPolicy) Option {
	return func(g *Guard) {
		g.retry = p
	}
}

func NewGuard(store domain.KeyValueStore, processed domain.ProcessedChecker, locks *lock.Manager, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Guard {
	g := &Guard{
		store:       store,
		processed:   processed,
		locks:       locks,
		logger:      logger.With("component", "idempotency_guard"),
		metrics:     m,
		inFlightTTL: DefaultInFlightTTL,
		lockTTL:     lock.DefaultTTL,
		retry:       lock.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsAlreadyProcessed reports whether a durable message with externalID exists.
func (g *Guard) IsAlreadyProcessed(ctx context.Context, externalID string) (bool, error) {
	exists, err := g.processed.ExistsBySourceID(ctx, externalID)
	if err != nil {
		return false, fmt.Errorf("failed to check processed state of %q: %w", externalID, err)
	}
	return exists, nil
}

// IsInFlight reports whether a processing marker currently exists for externalID.
func (g *Guard) IsInFlight(ctx context.Context, externalID string) (bool, error) {
	exists, err := g.store.Exists(ctx, MarkerKey(externalID))
	if err != nil {
		return false, fmt.Errorf("failed to check in-flight marker of %q: %w: %w", externalID, domain.ErrStoreUnavailable, err)
	}
	return exists, nil
}

// Marker is an in-flight marker created by one caller. Only that caller's
// ReleaseInFlight removes it.
type Marker struct {
	ExternalID string
	Token      string
	value      string
}

// MarkInFlight atomically creates the marker. It returns a nil Marker and a
// nil error when another caller already holds it. ttl <= 0 uses the guard's
// default.
func (g *Guard) MarkInFlight(ctx context.Context, externalID string, ttl time.Duration) (*Marker, error) {
	if ttl <= 0 {
		ttl = g.inFlightTTL
	}
	token := uuid.NewString()
	value := token + ":" + time.Now().UTC().Format(time.RFC3339Nano)

	result, err := g.store.SetIfAbsent(ctx, MarkerKey(externalID), value, ttl)
	switch result {
	case domain.SetAcquired:
		return &Marker{ExternalID: externalID, Token: token, value: value}, nil
	case domain.SetAlreadyHeld:
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to mark %q in flight: %w: %w", externalID, domain.ErrStoreUnavailable, err)
	}
}

// ReleaseInFlight deletes the marker only if it is still m. It returns false
// when the marker expired and possibly belongs to another caller now.
func (g *Guard) ReleaseInFlight(ctx context.Context, m *Marker) (bool, error) {
	if m == nil {
		return false, nil
	}
	ok, err := g.store.CompareAndDelete(ctx, MarkerKey(m.ExternalID), m.value)
	if err != nil {
		return false, fmt.Errorf("failed to release in-flight marker of %q: %w: %w", m.ExternalID, domain.ErrStoreUnavailable, err)
	}
	return ok, nil
}

// ClearInFlight removes the marker whoever holds it. It is the operator
// override for a marker left by a crashed worker.
func (g *Guard) ClearInFlight(ctx context.Context, externalID string) error {
	if _, err := g.store.Delete(ctx, MarkerKey(externalID)); err != nil {
		return fmt.Errorf("failed to clear in-flight marker of %q: %w: %w", externalID, domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Process runs create at most once for externalID. Deliveries that share
// lockKey are serialized. Duplicate and in-flight deliveries return a nil
// error because acknowledging them is the correct response to a provider
// retry. The marker is cleared and the lock released on every exit path.
func (g *Guard) Process(ctx context.Context, externalID, lockKey string, create func(ctx context.Context) error) (outcome Outcome, err error) {
	defer func() { g.observe(outcome) }()
	logger := g.logger.With("external_id", externalID, "lock_key", lockKey)

	processed, err := g.IsAlreadyProcessed(ctx, externalID)
	if err != nil {
		return OutcomeFailed, err
	}
	if processed {
		logger.Debug("external id already processed")
		return OutcomeDuplicate, nil
	}

	marker, err := g.MarkInFlight(ctx, externalID, g.inFlightTTL)
	if err != nil {
		return OutcomeFailed, err
	}
	if marker == nil {
		logger.Debug("external id already in flight")
		return OutcomeInFlight, nil
	}
	defer func() {
		// Use a fresh context so cancellation of ctx still clears the marker.
		clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		released, cerr := g.ReleaseInFlight(clearCtx, marker)
		if cerr != nil {
			logger.Warn("failed to clear in-flight marker, relying on TTL", "error", cerr)
			return
		}
		if !released {
			logger.Warn("in-flight marker expired before release", "token", marker.Token)
		}
	}()

	h, err := g.locks.AcquireWithRetry(ctx, lockKey, g.lockTTL, g.retry)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			logger.Info("coarse lock busy, deferring delivery")
			return OutcomeBusy, fmt.Errorf("%w: %s", ErrBusy, lockKey)
		}
		return OutcomeFailed, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if _, rerr := g.locks.Release(releaseCtx, h); rerr != nil {
			logger.Warn("failed to release coarse lock, relying on TTL", "error", rerr)
		}
	}()

	// A delivery that finished between the first check and the lock is
	// visible now.
	processed, err = g.IsAlreadyProcessed(ctx, externalID)
	if err != nil {
		return OutcomeFailed, err
	}
	if processed {
		return OutcomeDuplicate, nil
	}

	if err := create(ctx); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			logger.Info("durable store rejected duplicate external id")
			return OutcomeDuplicate, nil
		}
		return OutcomeFailed, err
	}
	return OutcomeCreated, nil
}

func (g *Guard) observe(outcome Outcome) {
	if g.metrics != nil && outcome != "" {
		g.metrics.GuardOutcomes.WithLabelValues(string(outcome)).Inc()
	}
}
