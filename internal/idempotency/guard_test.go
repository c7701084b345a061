package idempotency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/V4T54L/inboxguard/internal/adapter/repository/memory"
	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/lock"
)

// durableStore mimics the message table: a unique source_id column.
type durableStore struct {
	mu      sync.Mutex
	records map[string]int
	creates atomic.Int64
}

func newDurableStore() *durableStore {
	return &durableStore{records: make(map[string]int)}
}

func (s *durableStore) ExistsBySourceID(ctx context.Context, sourceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[sourceID]
	return ok, nil
}

func (s *durableStore) insert(sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[sourceID]; ok {
		return domain.ErrDuplicate
	}
	s.records[sourceID]++
	s.creates.Add(1)
	return nil
}

type guardFixture struct {
	guard *Guard
	kv    *memory.KVStore
	clock *memory.Clock
	db    *durableStore
	locks *lock.Manager
}

func setupGuard(t *testing.T, opts ...Option) *guardFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := memory.NewClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	kv := memory.NewKVStore(clock.Now)
	db := newDurableStore()
	locks := lock.NewManager(kv, logger, nil, lock.WithClock(clock.Now))
	return &guardFixture{
		guard: NewGuard(kv, db, locks, logger, nil, opts...),
		kv:    kv,
		clock: clock,
		db:    db,
		locks: locks,
	}
}

func TestGuard_MarkerPrimitives(t *testing.T) {
	f := setupGuard(t)
	ctx := context.Background()

	if inFlight, _ := f.guard.IsInFlight(ctx, "wamid.1"); inFlight {
		t.Fatal("no marker expected initially")
	}
	first, err := f.guard.MarkInFlight(ctx, "wamid.1", time.Second)
	if first == nil || err != nil {
		t.Fatalf("expected first mark to succeed, got %v, %v", first, err)
	}
	if second, _ := f.guard.MarkInFlight(ctx, "wamid.1", time.Second); second != nil {
		t.Error("second mark must not succeed while the first is live")
	}
	if inFlight, _ := f.guard.IsInFlight(ctx, "wamid.1"); !inFlight {
		t.Error("expected marker to be visible")
	}
	if err := f.guard.ClearInFlight(ctx, "wamid.1"); err != nil {
		t.Fatal(err)
	}
	if inFlight, _ := f.guard.IsInFlight(ctx, "wamid.1"); inFlight {
		t.Error("marker should be gone after clear")
	}
	if got := MarkerKey("wamid.1"); got != "processing_message:wamid.1" {
		t.Errorf("unexpected marker key %q", got)
	}
}

func TestGuard_ReleaseOnlyOwnMarker(t *testing.T) {
	f := setupGuard(t, WithInFlightTTL(10*time.Second))
	ctx := context.Background()

	mine, err := f.guard.MarkInFlight(ctx, "wamid.2", 0)
	if err != nil || mine == nil {
		t.Fatalf("expected mark, got %v (%v)", mine, err)
	}
	f.clock.Advance(10 * time.Second)
	theirs, err := f.guard.MarkInFlight(ctx, "wamid.2", 0)
	if err != nil || theirs == nil {
		t.Fatalf("expected takeover after expiry, got %v (%v)", theirs, err)
	}

	released, err := f.guard.ReleaseInFlight(ctx, mine)
	if err != nil || released {
		t.Fatalf("expired holder must not release, got %v (%v)", released, err)
	}
	if inFlight, _ := f.guard.IsInFlight(ctx, "wamid.2"); !inFlight {
		t.Fatal("the new holder's marker must survive")
	}
	if released, _ := f.guard.ReleaseInFlight(ctx, theirs); !released {
		t.Error("the current holder should release its marker")
	}
}

func TestGuard_SlowProcessKeepsSuccessorMarker(t *testing.T) {
	f := setupGuard(t, WithInFlightTTL(10*time.Second), WithLockTTL(time.Minute))
	ctx := context.Background()

	var successor *Marker
	outcome, err := f.guard.Process(ctx, "wamid.3", "k", func(ctx context.Context) error {
		// Runs past the marker TTL; a redelivery takes over the marker.
		f.clock.Advance(11 * time.Second)
		var merr error
		successor, merr = f.guard.MarkInFlight(ctx, "wamid.3", 0)
		if merr != nil || successor == nil {
			t.Errorf("expected successor to mark after expiry, got %v (%v)", successor, merr)
		}
		return f.db.insert("wamid.3")
	})
	if err != nil || outcome != OutcomeCreated {
		t.Fatalf("expected created, got %s (%v)", outcome, err)
	}
	if inFlight, _ := f.guard.IsInFlight(ctx, "wamid.3"); !inFlight {
		t.Error("the slow holder must not delete the successor's marker")
	}
}

func TestGuard_ProcessCreatesOnceThenReportsDuplicate(t *testing.T) {
	f := setupGuard(t)
	ctx := context.Background()
	create := func(ctx context.Context) error { return f.db.insert("wamid.ABC123") }

	outcome, err := f.guard.Process(ctx, "wamid.ABC123", lock.InboundKey("15551234", 7), create)
	if err != nil || outcome != OutcomeCreated {
		t.Fatalf("expected created, got %s (%v)", outcome, err)
	}

	processed, err := f.guard.IsAlreadyProcessed(ctx, "wamid.ABC123")
	if err != nil || !processed {
		t.Fatalf("expected processed after durable write, got %v (%v)", processed, err)
	}

	outcome, err = f.guard.Process(ctx, "wamid.ABC123", lock.InboundKey("15551234", 7), create)
	if err != nil || outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s (%v)", outcome, err)
	}
	if f.db.creates.Load() != 1 {
		t.Errorf("expected exactly 1 record, got %d", f.db.creates.Load())
	}
	if locked, _ := f.locks.IsLocked(ctx, lock.InboundKey("15551234", 7)); locked {
		t.Error("coarse lock should be released")
	}
}

func TestGuard_ConcurrentDuplicateDeliveries(t *testing.T) {
	f := setupGuard(t, WithRetryPolicy(lock.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}))
	ctx := context.Background()

	var wg sync.WaitGroup
	start := make(chan struct{})
	outcomes := make(chan Outcome, 16)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			outcome, err := f.guard.Process(ctx, "wamid.ABC123", lock.InboundKey("15551234", 7), func(ctx context.Context) error {
				time.Sleep(2 * time.Millisecond)
				return f.db.insert("wamid.ABC123")
			})
			if err != nil && !errors.Is(err, ErrBusy) {
				t.Errorf("unexpected error: %v", err)
			}
			outcomes <- outcome
		}()
	}
	close(start)
	wg.Wait()
	close(outcomes)

	created := 0
	for o := range outcomes {
		if o == OutcomeCreated {
			created++
		}
	}
	if created != 1 {
		t.Errorf("expected exactly 1 created outcome, got %d", created)
	}
	if f.db.creates.Load() != 1 {
		t.Errorf("expected exactly 1 durable record, got %d", f.db.creates.Load())
	}
}

func TestGuard_SerializesDeliveriesSharingLockKey(t *testing.T) {
	f := setupGuard(t, WithRetryPolicy(lock.RetryPolicy{MaxAttempts: 500, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}))
	ctx := context.Background()

	var active, maxActive atomic.Int64
	var wg sync.WaitGroup
	ids := []string{"wamid.1", "wamid.2", "wamid.3", "wamid.4", "wamid.5"}

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			outcome, err := f.guard.Process(ctx, id, lock.InboundKey("15551234", 7), func(ctx context.Context) error {
				n := active.Add(1)
				for {
					cur := maxActive.Load()
					if n <= cur || maxActive.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(3 * time.Millisecond)
				active.Add(-1)
				return f.db.insert(id)
			})
			if err != nil || outcome != OutcomeCreated {
				t.Errorf("expected %s to be created, got %s (%v)", id, outcome, err)
			}
		}(id)
	}
	wg.Wait()

	if maxActive.Load() != 1 {
		t.Errorf("critical sections overlapped: max concurrency %d", maxActive.Load())
	}
	if f.db.creates.Load() != int64(len(ids)) {
		t.Errorf("expected %d records, got %d", len(ids), f.db.creates.Load())
	}
}

func TestGuard_FailureClearsMarker(t *testing.T) {
	ctx := context.Background()

	t.Run("Create Error", func(t *testing.T) {
		f := setupGuard(t)
		wantErr := errors.New("insert failed")
		outcome, err := f.guard.Process(ctx, "wamid.9", "k", func(ctx context.Context) error { return wantErr })
		if !errors.Is(err, wantErr) || outcome != OutcomeFailed {
			t.Fatalf("expected failed outcome with %v, got %s (%v)", wantErr, outcome, err)
		}
		if inFlight, _ := f.guard.IsInFlight(ctx, "wamid.9"); inFlight {
			t.Error("marker must be cleared after a failed create")
		}
		if locked, _ := f.locks.IsLocked(ctx, "k"); locked {
			t.Error("lock must be released after a failed create")
		}

		outcome, err = f.guard.Process(ctx, "wamid.9", "k", func(ctx context.Context) error { return f.db.insert("wamid.9") })
		if err != nil || outcome != OutcomeCreated {
			t.Fatalf("expected retry to succeed, got %s (%v)", outcome, err)
		}
	})

	t.Run("Create Panic", func(t *testing.T) {
		f := setupGuard(t)
		func() {
			defer func() { _ = recover() }()
			_, _ = f.guard.Process(ctx, "wamid.10", "k", func(ctx context.Context) error { panic("boom") })
		}()
		if inFlight, _ := f.guard.IsInFlight(ctx, "wamid.10"); inFlight {
			t.Error("marker must be cleared after a panic")
		}
		if locked, _ := f.locks.IsLocked(ctx, "k"); locked {
			t.Error("lock must be released after a panic")
		}
	})

	t.Run("Durable Duplicate", func(t *testing.T) {
		f := setupGuard(t)
		outcome, err := f.guard.Process(ctx, "wamid.11", "k", func(ctx context.Context) error { return domain.ErrDuplicate })
		if err != nil || outcome != OutcomeDuplicate {
			t.Fatalf("expected duplicate from unique constraint, got %s (%v)", outcome, err)
		}
	})
}

func TestGuard_BusyLock(t *testing.T) {
	f := setupGuard(t, WithRetryPolicy(lock.NoRetry()))
	ctx := context.Background()

	if _, err := f.locks.Acquire(ctx, "k", time.Minute); err != nil {
		t.Fatal(err)
	}
	called := false
	outcome, err := f.guard.Process(ctx, "wamid.12", "k", func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrBusy) || outcome != OutcomeBusy {
		t.Fatalf("expected busy, got %s (%v)", outcome, err)
	}
	if called {
		t.Error("create must not run without the lock")
	}
	if inFlight, _ := f.guard.IsInFlight(ctx, "wamid.12"); inFlight {
		t.Error("marker must be cleared when the lock is busy")
	}
}

func TestGuard_StaleMarkerExpires(t *testing.T) {
	f := setupGuard(t, WithInFlightTTL(10*time.Second))
	ctx := context.Background()

	// A crashed worker left its marker behind.
	if m, _ := f.guard.MarkInFlight(ctx, "wamid.13", 0); m == nil {
		t.Fatal("expected mark to succeed")
	}
	create := func(ctx context.Context) error { return f.db.insert("wamid.13") }

	outcome, err := f.guard.Process(ctx, "wamid.13", "k", create)
	if err != nil || outcome != OutcomeInFlight {
		t.Fatalf("expected in-flight while marker lives, got %s (%v)", outcome, err)
	}

	f.clock.Advance(10 * time.Second)
	outcome, err = f.guard.Process(ctx, "wamid.13", "k", create)
	if err != nil || outcome != OutcomeCreated {
		t.Fatalf("expected created after marker expiry, got %s (%v)", outcome, err)
	}
}

func TestGuard_StoreUnavailable(t *testing.T) {
	f := setupGuard(t)
	f.kv.SetErr(errors.New("connection refused"))

	called := false
	outcome, err := f.guard.Process(context.Background(), "wamid.14", "k", func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, domain.ErrStoreUnavailable) || outcome != OutcomeFailed {
		t.Fatalf("expected store unavailable failure, got %s (%v)", outcome, err)
	}
	if called {
		t.Error("create must not run when the shared store is unavailable")
	}
}
