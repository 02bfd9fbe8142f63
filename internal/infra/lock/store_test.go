package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memLeases struct {
	mu      sync.Mutex
	owners  map[string]string
	expires map[string]time.Time
}

func newMemLeases() *memLeases {
	return &memLeases{owners: map[string]string{}, expires: map[string]time.Time{}}
}

func (m *memLeases) AcquireLease(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.owners[key]; held && time.Now().Before(m.expires[key]) {
		return false, nil
	}
	m.owners[key] = owner
	m.expires[key] = time.Now().Add(ttl)
	return true, nil
}

func (m *memLeases) ReleaseLease(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[key] == owner {
		delete(m.owners, key)
	}
	return nil
}

func TestStoreLockerSharedAcrossLockers(t *testing.T) {
	leases := newMemLeases()
	first := NewStoreLocker(leases, "ezra:", time.Minute)
	second := NewStoreLocker(leases, "ezra:", time.Minute)
	second.retry = 5 * time.Millisecond
	ctx := context.Background()

	unlock, err := first.Lock(ctx, "digest:2024-05-01")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := second.Lock(waitCtx, "digest:2024-05-01"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second locker to wait, got %v", err)
	}

	unlock()
	again, err := second.Lock(ctx, "digest:2024-05-01")
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again()
}

func TestStoreLockerTakesOverExpiredLease(t *testing.T) {
	leases := newMemLeases()
	crashed := NewStoreLocker(leases, "", 10*time.Millisecond)
	if _, err := crashed.Lock(context.Background(), "digest:2024-05-01"); err != nil {
		t.Fatalf("lock: %v", err)
	}

	next := NewStoreLocker(leases, "", time.Minute)
	next.retry = 5 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlock, err := next.Lock(ctx, "digest:2024-05-01")
	if err != nil {
		t.Fatalf("expired lease must be taken over: %v", err)
	}
	unlock()
}
