// Package reaper implements Bay's TTL Reaper: a ticker-driven reconciliation
// loop that stops and removes Ships past their deadline.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/shipyard/bay/internal/affinity"
	"github.com/shipyard/bay/internal/apierr"
	"github.com/shipyard/bay/internal/domain"
	"github.com/shipyard/bay/internal/driver"
	"github.com/shipyard/bay/internal/repository"
)

// SlotReleaser frees one admission slot and signals the next waiter.
type SlotReleaser interface {
	ReleaseSlot()
}

// Events receives Ship lifecycle notifications from the Reaper. Observability
// only; the Reaper never blocks on it. May be nil.
type Events interface {
	ShipExpired(shipID string)
}

// Reaper periodically scans for Ships past their deadline and retires them.
// Implementation follows the bounded-interval scan freedom spec section 4.5
// grants: correctness only requires expiries fire within one tick.
type Reaper struct {
	repo         repository.ShipRepository
	driver       driver.Driver
	aff          *affinity.Index
	scheduler    SlotReleaser
	events       Events
	log          *slog.Logger
	tickInterval time.Duration
	stopRetries  uint64
}

// New constructs a Reaper. tickInterval bounds how stale an expiry may be
// observed; stopRetries bounds Driver.Stop/Remove retry attempts per Ship.
func New(repo repository.ShipRepository, drv driver.Driver, aff *affinity.Index, scheduler SlotReleaser, events Events, log *slog.Logger, tickInterval time.Duration, stopRetries uint64) *Reaper {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	if stopRetries == 0 {
		stopRetries = 3
	}
	return &Reaper{
		repo:         repo,
		driver:       drv,
		aff:          aff,
		scheduler:    scheduler,
		events:       events,
		log:          log,
		tickInterval: tickInterval,
		stopRetries:  stopRetries,
	}
}

// Run blocks, scanning on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runIteration(ctx)
		}
	}
}

func (r *Reaper) runIteration(ctx context.Context) {
	ships, err := r.repo.ListLive(ctx)
	if err != nil {
		r.log.Error("reaper list live ships failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, ship := range ships {
		if ship.Status != domain.StatusRunning {
			continue
		}
		if now.Before(ship.Deadline) {
			continue
		}
		r.retire(ctx, ship)
	}
}

// retire stops and removes an expired Ship. Stop/Remove failures are
// retried with bounded backoff; after exhaustion the record is still marked
// Stopped and the container id logged for manual cleanup, per spec.
func (r *Reaper) retire(ctx context.Context, ship domain.Ship) {
	r.aff.Unbind(ctx, ship.ID)

	backoff := retry.WithMaxRetries(r.stopRetries, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if stopErr := r.driver.Stop(ctx, ship.ContainerID); stopErr != nil {
			return retry.RetryableError(stopErr)
		}
		if rmErr := r.driver.Remove(ctx, ship.ContainerID); rmErr != nil {
			return retry.RetryableError(rmErr)
		}
		return nil
	})
	if err != nil {
		r.log.Error("reaper stop/remove exhausted retries, marking stopped for manual cleanup",
			"ship_id", ship.ID, "container_id", ship.ContainerID, "error", err)
	}

	if _, stopErr := r.repo.StopShip(ctx, ship.ID); stopErr != nil {
		r.log.Error("reaper mark stopped failed", "ship_id", ship.ID, "error", stopErr)
		return
	}

	r.scheduler.ReleaseSlot()
	if r.events != nil {
		r.events.ShipExpired(ship.ID)
	}
	r.log.Info("ship retired by ttl", "ship_id", ship.ID)
}

// ExtendTTL sets deadline = now + seconds and touches updated_at. Fails with
// NotFound (propagated from repo) or IllegalState if the Ship is Stopped.
func ExtendTTL(ctx context.Context, repo repository.ShipRepository, shipID string, seconds int) (*domain.Ship, error) {
	if seconds <= 0 {
		return nil, apierr.New(apierr.InvalidArgument, "seconds must be positive")
	}
	return repo.Update(ctx, shipID, func(sh *domain.Ship) error {
		if sh.Status == domain.StatusStopped {
			return apierr.New(apierr.IllegalState, "ship is stopped")
		}
		now := time.Now().UTC()
		sh.TTLSeconds = seconds
		sh.Deadline = now.Add(time.Duration(seconds) * time.Second)
		sh.UpdatedAt = now
		return nil
	})
}
