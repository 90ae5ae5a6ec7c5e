// Package recovery reconciles persisted Ship records against the live
// container backend at boot, before Bay starts serving requests.
package recovery

import (
	"context"
	"log/slog"

	"github.com/shipyard/bay/internal/affinity"
	"github.com/shipyard/bay/internal/domain"
	"github.com/shipyard/bay/internal/driver"
	"github.com/shipyard/bay/internal/repository"
)

// SlotSeeder initializes the admission slot count from recovered Ships.
type SlotSeeder interface {
	SeedLiveCount(n int) error
}

// Run reconciles repository records with live containers, following the
// boot sequence: inspect each non-Stopped record, restore Running Ships,
// mark the rest Stopped, rebuild the Affinity Index, then seed live-count.
func Run(ctx context.Context, repo repository.ShipRepository, drv driver.Driver, aff *affinity.Index, slots SlotSeeder, log *slog.Logger) error {
	ships, bindings, err := repo.LoadAll(ctx)
	if err != nil {
		return err
	}

	surviving := make(map[string]struct{})
	liveCount := 0

	for _, ship := range ships {
		if ship.Status == domain.StatusStopped {
			continue
		}

		inspection, err := drv.Inspect(ctx, ship.ContainerID)
		if err == nil && inspection.Running {
			if _, updErr := repo.Update(ctx, ship.ID, func(sh *domain.Ship) error {
				sh.Status = domain.StatusRunning
				sh.Address = inspection.Address
				return nil
			}); updErr != nil {
				log.Error("recovery: restore running failed", "ship_id", ship.ID, "error", updErr)
				continue
			}
			surviving[ship.ID] = struct{}{}
			liveCount++
			log.Info("recovery: ship restored running", "ship_id", ship.ID)
			continue
		}

		if err != nil {
			log.Warn("recovery: inspect failed, marking ship stopped", "ship_id", ship.ID, "error", err)
		} else {
			log.Warn("recovery: container not running, marking ship stopped", "ship_id", ship.ID)
		}

		if _, stopErr := repo.StopShip(ctx, ship.ID); stopErr != nil {
			log.Error("recovery: mark stopped failed", "ship_id", ship.ID, "error", stopErr)
		}
		_ = drv.Remove(ctx, ship.ContainerID)
	}

	survivingBindings := make(map[string][]string, len(surviving))
	for shipID, sessions := range bindings {
		if _, ok := surviving[shipID]; ok {
			survivingBindings[shipID] = sessions
		}
	}
	aff.Restore(survivingBindings)

	return slots.SeedLiveCount(liveCount)
}
