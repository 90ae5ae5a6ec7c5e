// Package scheduler implements Bay's admission control: enforcing
// MAX_SHIP_NUM, session-affinity reuse, and the reject/wait policies for
// callers arriving while the fleet is saturated.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/shipyard/bay/internal/affinity"
	"github.com/shipyard/bay/internal/apierr"
	"github.com/shipyard/bay/internal/config"
	"github.com/shipyard/bay/internal/domain"
	"github.com/shipyard/bay/internal/driver"
	"github.com/shipyard/bay/internal/repository"
)

// HealthWaiter blocks until a Ship's address answers healthy or a deadline
// passes. Satisfied by *health.Prober.
type HealthWaiter interface {
	Wait(ctx context.Context, address string) error
}

// CreateParams describes a requested Ship allocation.
type CreateParams struct {
	SessionID     string
	Spec          domain.Spec
	TTLSeconds    int
	MaxSessionNum int
}

// Scheduler is Bay's admission controller. The weighted semaphore sized
// MAX_SHIP_NUM is both the live-count and the FIFO waiter queue described in
// spec section 4.1: TryAcquire implements the reject policy, Acquire (which
// queues fairly) implements wait.
type Scheduler struct {
	sem    *semaphore.Weighted
	policy config.AdmissionPolicy

	repo   repository.ShipRepository
	driver driver.Driver
	prober HealthWaiter
	aff    *affinity.Index
	log    *slog.Logger
}

// New constructs a Scheduler with capacity maxShips under policy.
func New(maxShips int, policy config.AdmissionPolicy, repo repository.ShipRepository, drv driver.Driver, prober HealthWaiter, aff *affinity.Index, log *slog.Logger) *Scheduler {
	return &Scheduler{
		sem:    semaphore.NewWeighted(int64(maxShips)),
		policy: policy,
		repo:   repo,
		driver: drv,
		prober: prober,
		aff:    aff,
		log:    log,
	}
}

// IsRunning satisfies affinity.ShipStatusLookup.
func (s *Scheduler) IsRunning(shipID string) bool {
	ship, err := s.repo.Get(context.Background(), shipID)
	if err != nil {
		return false
	}
	return ship.Status == domain.StatusRunning
}

// SeedLiveCount pre-acquires n slots at boot to reflect Ships recovered from
// the repository (spec section "recovery"); it must run before any caller
// contends for capacity.
func (s *Scheduler) SeedLiveCount(n int) error {
	if n <= 0 {
		return nil
	}
	if !s.sem.TryAcquire(int64(n)) {
		return fmt.Errorf("scheduler: cannot seed live count %d against capacity", n)
	}
	return nil
}

// ReleaseSlot frees one admission slot, signalling the next FIFO waiter (if
// any). Called whenever a Ship transitions to Stopped.
func (s *Scheduler) ReleaseSlot() {
	s.sem.Release(1)
}

// AcquireForSession resolves a Ship for sessionID: reusing the Session's
// bound Ship if it is still Running, or allocating a new one and binding it.
// This is the affinity-first path POST /ship takes (SPEC_FULL.md section 9).
func (s *Scheduler) AcquireForSession(ctx context.Context, sessionID string, params CreateParams) (ship *domain.Ship, reused bool, err error) {
	if sessionID != "" {
		if boundID := s.aff.Lookup(sessionID); boundID != "" && s.IsRunning(boundID) {
			existing, getErr := s.repo.Get(ctx, boundID)
			if getErr == nil {
				return existing, true, nil
			}
		}
	}

	params.SessionID = sessionID
	created, err := s.CreateShip(ctx, params)
	if err != nil {
		return nil, false, err
	}

	if sessionID != "" {
		if bindErr := s.aff.Bind(ctx, sessionID, created.ID, created.MaxSessionNum); bindErr != nil {
			s.log.Warn("bind session to newly created ship failed", "ship_id", created.ID, "session_id", sessionID, "error", bindErr)
		}
	}
	return created, false, nil
}

// CreateShip allocates a brand-new Ship: acquire a capacity slot, start the
// container, persist the record in Starting status, wait for health, then
// transition it to Running. On any failure the slot is released and the
// failed container is torn down.
func (s *Scheduler) CreateShip(ctx context.Context, params CreateParams) (*domain.Ship, error) {
	if params.TTLSeconds <= 0 {
		return nil, apierr.New(apierr.InvalidArgument, "ttl must be positive")
	}
	if params.MaxSessionNum < 1 {
		return nil, apierr.New(apierr.InvalidArgument, "max_session_num must be at least 1")
	}

	if err := s.acquireSlot(ctx); err != nil {
		return nil, err
	}

	ship, err := s.allocate(ctx, params)
	if err != nil {
		s.sem.Release(1)
		return nil, err
	}
	return ship, nil
}

func (s *Scheduler) acquireSlot(ctx context.Context) error {
	switch s.policy {
	case config.PolicyReject:
		if !s.sem.TryAcquire(1) {
			return apierr.New(apierr.CapacityExhausted, "fleet is at capacity")
		}
		return nil
	default: // PolicyWait
		if err := s.sem.Acquire(ctx, 1); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return apierr.Wrap(apierr.DeadlineExceeded, "timed out waiting for capacity", err)
			}
			return apierr.Wrap(apierr.Unavailable, "cancelled while waiting for capacity", err)
		}
		return nil
	}
}

func (s *Scheduler) allocate(ctx context.Context, params CreateParams) (*domain.Ship, error) {
	ship := domain.NewShip(params.Spec, params.TTLSeconds, params.MaxSessionNum)

	containerID, err := s.driver.Create(ctx, ship.ID, params.Spec)
	if err != nil {
		return nil, apierr.Wrap(apierr.Unavailable, "container create failed", err)
	}
	ship.ContainerID = containerID

	address, err := s.driver.Start(ctx, containerID)
	if err != nil {
		_ = s.driver.Remove(ctx, containerID)
		return nil, apierr.Wrap(apierr.StartupFailed, "container start failed", err)
	}
	ship.Address = address

	if err := s.repo.Insert(ctx, ship); err != nil {
		_ = s.driver.Stop(ctx, containerID)
		_ = s.driver.Remove(ctx, containerID)
		return nil, apierr.Wrap(apierr.Internal, "persist ship failed", err)
	}

	if err := s.prober.Wait(ctx, address); err != nil {
		_ = s.driver.Stop(ctx, containerID)
		_ = s.driver.Remove(ctx, containerID)
		if _, stopErr := s.repo.StopShip(ctx, ship.ID); stopErr != nil {
			s.log.Error("mark failed ship stopped failed", "ship_id", ship.ID, "error", stopErr)
		}
		return nil, apierr.Wrap(apierr.StartupFailed, "ship failed health check", err)
	}

	running, err := s.repo.Update(ctx, ship.ID, func(sh *domain.Ship) error {
		sh.Status = domain.StatusRunning
		sh.Address = address
		sh.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		_ = s.driver.Stop(ctx, containerID)
		_ = s.driver.Remove(ctx, containerID)
		return nil, apierr.Wrap(apierr.Internal, "persist running ship failed", err)
	}
	return running, nil
}

// Delete stops and removes a Ship, releasing its capacity slot. Idempotent
// against an already-Stopped Ship.
func (s *Scheduler) Delete(ctx context.Context, shipID string) error {
	ship, err := s.repo.Get(ctx, shipID)
	if err != nil {
		return err
	}
	if ship.Status == domain.StatusStopped {
		return nil
	}

	s.aff.Unbind(ctx, shipID)

	if err := s.driver.Stop(ctx, ship.ContainerID); err != nil {
		s.log.Warn("stop container failed during delete", "ship_id", shipID, "error", err)
	}
	if err := s.driver.Remove(ctx, ship.ContainerID); err != nil {
		s.log.Warn("remove container failed during delete", "ship_id", shipID, "error", err)
	}

	if _, err := s.repo.StopShip(ctx, shipID); err != nil {
		return apierr.Wrap(apierr.Internal, "mark ship stopped failed", err)
	}

	s.ReleaseSlot()
	return nil
}
