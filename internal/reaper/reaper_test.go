package reaper

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shipyard/bay/internal/affinity"
	"github.com/shipyard/bay/internal/apierr"
	"github.com/shipyard/bay/internal/domain"
	"github.com/shipyard/bay/internal/driver"
	"github.com/shipyard/bay/internal/repository"
)

type memRepo struct {
	mu    sync.Mutex
	ships map[string]*domain.Ship
}

func newMemRepo(ships ...*domain.Ship) *memRepo {
	r := &memRepo{ships: make(map[string]*domain.Ship)}
	for _, s := range ships {
		r.ships[s.ID] = s
	}
	return r
}

func (r *memRepo) Insert(ctx context.Context, ship *domain.Ship) error { return nil }
func (r *memRepo) Get(ctx context.Context, id string) (*domain.Ship, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ship, ok := r.ships[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *ship
	return &cp, nil
}
func (r *memRepo) Update(ctx context.Context, id string, fn func(*domain.Ship) error) (*domain.Ship, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ship, ok := r.ships[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if err := fn(ship); err != nil {
		return nil, err
	}
	return ship, nil
}
func (r *memRepo) StopShip(ctx context.Context, id string) (*domain.Ship, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ship, ok := r.ships[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	ship.Status = domain.StatusStopped
	ship.UpdatedAt = time.Now().UTC()
	cp := *ship
	return &cp, nil
}
func (r *memRepo) List(ctx context.Context, f repository.Filter) ([]domain.Ship, error) {
	return nil, nil
}
func (r *memRepo) ListLive(ctx context.Context) ([]domain.Ship, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Ship, 0)
	for _, s := range r.ships {
		if s.Status != domain.StatusStopped {
			out = append(out, *s)
		}
	}
	return out, nil
}
func (r *memRepo) BindSession(ctx context.Context, shipID, sessionID string) error { return nil }
func (r *memRepo) UnbindAll(ctx context.Context, shipID string) error              { return nil }
func (r *memRepo) SessionsByShip(ctx context.Context, shipID string) ([]string, error) {
	return nil, nil
}
func (r *memRepo) LoadAll(ctx context.Context) ([]domain.Ship, map[string][]string, error) {
	return nil, nil, nil
}

type countingDriver struct {
	mu          sync.Mutex
	stopCalls   int
	removeCalls int
}

func (d *countingDriver) Create(ctx context.Context, shipID string, spec domain.Spec) (string, error) {
	return "c", nil
}
func (d *countingDriver) Start(ctx context.Context, containerID string) (string, error) {
	return "addr", nil
}
func (d *countingDriver) Inspect(ctx context.Context, containerID string) (driver.Inspection, error) {
	return driver.Inspection{}, nil
}
func (d *countingDriver) Logs(ctx context.Context, containerID string, tail int64) ([]byte, error) {
	return nil, nil
}
func (d *countingDriver) Stop(ctx context.Context, containerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopCalls++
	return nil
}
func (d *countingDriver) Remove(ctx context.Context, containerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeCalls++
	return nil
}

type releaseCounter struct {
	mu    sync.Mutex
	count int
}

func (r *releaseCounter) ReleaseSlot() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type expiryRecorder struct {
	mu      sync.Mutex
	expired []string
}

func (e *expiryRecorder) ShipExpired(shipID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expired = append(e.expired, shipID)
}

func TestRunIterationRetiresExpiredShip(t *testing.T) {
	ship := &domain.Ship{ID: "shipA", Status: domain.StatusRunning, Deadline: time.Now().Add(-time.Second)}
	repo := newMemRepo(ship)
	drv := &countingDriver{}
	aff := affinity.New(repo, stubStatus{})
	slots := &releaseCounter{}
	events := &expiryRecorder{}

	r := New(repo, drv, aff, slots, events, testLogger(), time.Hour, 3)
	r.runIteration(context.Background())

	got, err := repo.Get(context.Background(), "shipA")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusStopped {
		t.Fatalf("status = %v, want Stopped", got.Status)
	}
	if drv.stopCalls != 1 || drv.removeCalls != 1 {
		t.Fatalf("stop/remove calls = %d/%d, want 1/1", drv.stopCalls, drv.removeCalls)
	}
	if slots.count != 1 {
		t.Fatalf("slot release count = %d, want 1", slots.count)
	}
	if len(events.expired) != 1 || events.expired[0] != "shipA" {
		t.Fatalf("expired events = %v, want [shipA]", events.expired)
	}
}

func TestRunIterationIgnoresUnexpiredShip(t *testing.T) {
	ship := &domain.Ship{ID: "shipA", Status: domain.StatusRunning, Deadline: time.Now().Add(time.Hour)}
	repo := newMemRepo(ship)
	drv := &countingDriver{}
	aff := affinity.New(repo, stubStatus{})
	slots := &releaseCounter{}

	r := New(repo, drv, aff, slots, nil, testLogger(), time.Hour, 3)
	r.runIteration(context.Background())

	got, _ := repo.Get(context.Background(), "shipA")
	if got.Status != domain.StatusRunning {
		t.Fatalf("status = %v, want Running", got.Status)
	}
	if slots.count != 0 {
		t.Fatalf("slot release count = %d, want 0", slots.count)
	}
}

func TestExtendTTLRejectsStoppedShip(t *testing.T) {
	ship := &domain.Ship{ID: "shipA", Status: domain.StatusStopped}
	repo := newMemRepo(ship)

	_, err := ExtendTTL(context.Background(), repo, "shipA", 30)
	if apierr.KindOf(err) != apierr.IllegalState {
		t.Fatalf("kind = %v, want IllegalState", apierr.KindOf(err))
	}
}

func TestExtendTTLRejectsNonPositiveSeconds(t *testing.T) {
	repo := newMemRepo(&domain.Ship{ID: "shipA", Status: domain.StatusRunning})
	_, err := ExtendTTL(context.Background(), repo, "shipA", 0)
	if apierr.KindOf(err) != apierr.InvalidArgument {
		t.Fatalf("kind = %v, want InvalidArgument", apierr.KindOf(err))
	}
}

func TestExtendTTLUpdatesDeadline(t *testing.T) {
	ship := &domain.Ship{ID: "shipA", Status: domain.StatusRunning, Deadline: time.Now()}
	repo := newMemRepo(ship)

	before := ship.Deadline
	updated, err := ExtendTTL(context.Background(), repo, "shipA", 120)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if !updated.Deadline.After(before) {
		t.Fatalf("deadline did not advance")
	}
	if updated.TTLSeconds != 120 {
		t.Fatalf("ttl seconds = %d, want 120", updated.TTLSeconds)
	}
}

type stubStatus struct{}

func (stubStatus) IsRunning(shipID string) bool { return false }
