package store_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/rostrumdev/rostrum/internal/snapshot"
	"github.com/rostrumdev/rostrum/internal/store"
)

// mockStore is an in-memory store.Store with injectable failures.
type mockStore struct {
	mu     sync.Mutex
	snaps  map[string]*snapshot.Snapshot
	putErr error
	getErr error
}

func newMockStore() *mockStore {
	return &mockStore{snaps: make(map[string]*snapshot.Snapshot)}
}

func (m *mockStore) Put(_ context.Context, snap *snapshot.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.snaps[snap.AuctionID] = snap
	return nil
}

func (m *mockStore) Get(_ context.Context, auctionID string) (*snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	snap, ok := m.snaps[auctionID]
	if !ok {
		return nil, store.ErrNoSnapshot
	}
	return snap, nil
}

func (m *mockStore) Ping(context.Context) error { return nil }
func (m *mockStore) Close() error               { return nil }

func (m *mockStore) stored(auctionID string) *snapshot.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snaps[auctionID]
}

func newFanout(remote, local store.Store) *store.Fanout {
	return store.NewFanout(slog.Default(), noop.NewTracerProvider(), 0,
		store.Tier{Name: "remote", Store: remote},
		store.Tier{Name: "local", Store: local},
	)
}

func testSnap(rev uint64) *snapshot.Snapshot {
	return &snapshot.Snapshot{AuctionID: "a1", Revision: rev}
}

func TestFanout_Put_AllTiers(t *testing.T) {
	remote, local := newMockStore(), newMockStore()
	f := newFanout(remote, local)

	if err := f.Put(context.Background(), testSnap(1)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if remote.stored("a1") == nil {
		t.Error("remote tier did not receive the snapshot")
	}
	if local.stored("a1") == nil {
		t.Error("local tier did not receive the snapshot")
	}
}

func TestFanout_Put_OneTierFails(t *testing.T) {
	remote, local := newMockStore(), newMockStore()
	remote.putErr = errors.New("connection refused")
	f := newFanout(remote, local)

	if err := f.Put(context.Background(), testSnap(1)); err != nil {
		t.Fatalf("Put() with one healthy tier must not fail, got %v", err)
	}
	if local.stored("a1") == nil {
		t.Error("local tier must still receive the snapshot")
	}
}

func TestFanout_Put_AllTiersFail(t *testing.T) {
	remote, local := newMockStore(), newMockStore()
	remote.putErr = errors.New("connection refused")
	local.putErr = errors.New("disk full")
	f := newFanout(remote, local)

	if err := f.Put(context.Background(), testSnap(1)); err == nil {
		t.Fatal("expected error when every tier fails")
	}
}

func TestFanout_Get_RemoteFirst(t *testing.T) {
	remote, local := newMockStore(), newMockStore()
	remote.snaps["a1"] = testSnap(5)
	local.snaps["a1"] = testSnap(3)
	f := newFanout(remote, local)

	snap, err := f.Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.Revision != 5 {
		t.Errorf("got revision %d, want 5 (remote tier first)", snap.Revision)
	}
}

func TestFanout_Get_FallsBackWhenRemoteEmpty(t *testing.T) {
	remote, local := newMockStore(), newMockStore()
	local.snaps["a1"] = testSnap(3)
	f := newFanout(remote, local)

	snap, err := f.Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.Revision != 3 {
		t.Errorf("got revision %d, want 3 from local tier", snap.Revision)
	}
}

func TestFanout_Get_FallsBackOnMalformed(t *testing.T) {
	remote, local := newMockStore(), newMockStore()
	remote.getErr = snapshot.ErrMalformed
	local.snaps["a1"] = testSnap(3)
	f := newFanout(remote, local)

	snap, err := f.Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Get() must fall through a malformed tier, got %v", err)
	}
	if snap.Revision != 3 {
		t.Errorf("got revision %d, want 3", snap.Revision)
	}
}

func TestFanout_Get_AllEmpty(t *testing.T) {
	f := newFanout(newMockStore(), newMockStore())

	_, err := f.Get(context.Background(), "missing")
	if !errors.Is(err, store.ErrNoSnapshot) {
		t.Fatalf("Get() error = %v, want ErrNoSnapshot", err)
	}
}

func TestFanout_Get_HardFailureNotReportedAsEmpty(t *testing.T) {
	remote, local := newMockStore(), newMockStore()
	remote.getErr = errors.New("connection refused")
	f := newFanout(remote, local)

	_, err := f.Get(context.Background(), "a1")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, store.ErrNoSnapshot) {
		t.Errorf("unreachable tier must not be reported as missing snapshot: %v", err)
	}
}
