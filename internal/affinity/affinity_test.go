package affinity

import (
	"context"
	"testing"

	"github.com/shipyard/bay/internal/domain"
	"github.com/shipyard/bay/internal/repository"
)

var _ repository.ShipRepository = (*stubRepo)(nil)

type stubRepo struct {
	bound   map[string]string
	bindErr error
}

func newStubRepo() *stubRepo {
	return &stubRepo{bound: make(map[string]string)}
}

func (r *stubRepo) Insert(ctx context.Context, ship *domain.Ship) error { return nil }
func (r *stubRepo) Get(ctx context.Context, id string) (*domain.Ship, error) {
	return &domain.Ship{ID: id}, nil
}
func (r *stubRepo) Update(ctx context.Context, id string, fn func(*domain.Ship) error) (*domain.Ship, error) {
	return nil, nil
}
func (r *stubRepo) StopShip(ctx context.Context, id string) (*domain.Ship, error) {
	return &domain.Ship{ID: id, Status: domain.StatusStopped}, nil
}
func (r *stubRepo) List(ctx context.Context, f repository.Filter) ([]domain.Ship, error) {
	return nil, nil
}
func (r *stubRepo) ListLive(ctx context.Context) ([]domain.Ship, error) { return nil, nil }
func (r *stubRepo) BindSession(ctx context.Context, shipID, sessionID string) error {
	if r.bindErr != nil {
		return r.bindErr
	}
	r.bound[sessionID] = shipID
	return nil
}
func (r *stubRepo) UnbindAll(ctx context.Context, shipID string) error {
	for session, ship := range r.bound {
		if ship == shipID {
			delete(r.bound, session)
		}
	}
	return nil
}
func (r *stubRepo) SessionsByShip(ctx context.Context, shipID string) ([]string, error) {
	return nil, nil
}
func (r *stubRepo) LoadAll(ctx context.Context) ([]domain.Ship, map[string][]string, error) {
	return nil, nil, nil
}

type stubStatus struct {
	running map[string]bool
}

func (s stubStatus) IsRunning(shipID string) bool { return s.running[shipID] }

func TestBindNewSession(t *testing.T) {
	idx := New(nil, stubStatus{})
	if err := idx.Bind(context.Background(), "s1", "shipA", 2); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if got := idx.Lookup("s1"); got != "shipA" {
		t.Fatalf("lookup = %q, want shipA", got)
	}
	if got := idx.SessionCount("shipA"); got != 1 {
		t.Fatalf("session count = %d, want 1", got)
	}
}

func TestBindSameShipIsNoop(t *testing.T) {
	idx := New(nil, stubStatus{})
	ctx := context.Background()
	if err := idx.Bind(ctx, "s1", "shipA", 2); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if err := idx.Bind(ctx, "s1", "shipA", 2); err != nil {
		t.Fatalf("second bind: %v", err)
	}
	if got := idx.SessionCount("shipA"); got != 1 {
		t.Fatalf("session count = %d, want 1", got)
	}
}

func TestBindCapacityExceeded(t *testing.T) {
	idx := New(nil, stubStatus{})
	ctx := context.Background()
	if err := idx.Bind(ctx, "s1", "shipA", 1); err != nil {
		t.Fatalf("bind s1: %v", err)
	}
	err := idx.Bind(ctx, "s2", "shipA", 1)
	if err == nil {
		t.Fatal("expected capacity error, got nil")
	}
}

func TestRebindToRunningShipFails(t *testing.T) {
	status := stubStatus{running: map[string]bool{"shipA": true}}
	idx := New(nil, status)
	ctx := context.Background()
	if err := idx.Bind(ctx, "s1", "shipA", 1); err != nil {
		t.Fatalf("bind shipA: %v", err)
	}
	if err := idx.Bind(ctx, "s1", "shipB", 1); err == nil {
		t.Fatal("expected rebind to fail while shipA is running")
	}
}

func TestRebindAfterPriorShipStoppedSucceeds(t *testing.T) {
	status := stubStatus{running: map[string]bool{}}
	idx := New(nil, status)
	ctx := context.Background()
	if err := idx.Bind(ctx, "s1", "shipA", 1); err != nil {
		t.Fatalf("bind shipA: %v", err)
	}
	if err := idx.Bind(ctx, "s1", "shipB", 1); err != nil {
		t.Fatalf("rebind to stopped-prior ship should succeed: %v", err)
	}
	if got := idx.Lookup("s1"); got != "shipB" {
		t.Fatalf("lookup = %q, want shipB", got)
	}
	if got := idx.SessionCount("shipA"); got != 0 {
		t.Fatalf("shipA session count = %d, want 0", got)
	}
}

func TestUnbindClearsAllSessions(t *testing.T) {
	idx := New(nil, stubStatus{})
	ctx := context.Background()
	_ = idx.Bind(ctx, "s1", "shipA", 2)
	_ = idx.Bind(ctx, "s2", "shipA", 2)
	idx.Unbind(ctx, "shipA")
	if got := idx.Lookup("s1"); got != "" {
		t.Fatalf("s1 lookup after unbind = %q, want empty", got)
	}
	if got := idx.SessionCount("shipA"); got != 0 {
		t.Fatalf("session count after unbind = %d, want 0", got)
	}
}

func TestBindWritesThroughToRepository(t *testing.T) {
	repo := newStubRepo()
	idx := New(repo, stubStatus{})
	if err := idx.Bind(context.Background(), "s1", "shipA", 1); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if repo.bound["s1"] != "shipA" {
		t.Fatalf("repo binding = %q, want shipA", repo.bound["s1"])
	}
}

func TestRestoreSeedsBindings(t *testing.T) {
	idx := New(nil, stubStatus{})
	idx.Restore(map[string][]string{"shipA": {"s1", "s2"}})
	if got := idx.Lookup("s1"); got != "shipA" {
		t.Fatalf("lookup s1 = %q, want shipA", got)
	}
	if got := idx.SessionCount("shipA"); got != 2 {
		t.Fatalf("session count = %d, want 2", got)
	}
}
