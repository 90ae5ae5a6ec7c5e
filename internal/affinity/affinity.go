// Package affinity implements Bay's Affinity Index: the Session <-> Ship
// binding table, write-through to the repository for durability.
package affinity

import (
	"context"
	"sync"

	"github.com/shipyard/bay/internal/apierr"
	"github.com/shipyard/bay/internal/repository"
)

// ShipStatusLookup reports whether a Ship id currently refers to a Running Ship.
type ShipStatusLookup interface {
	IsRunning(shipID string) bool
}

// Index is the in-memory Session <-> Ship binding table. Critical sections
// are pure bookkeeping and never perform I/O, per the lock-ordering rules in
// spec section 5 (Scheduler -> Affinity, never reversed).
type Index struct {
	mu        sync.Mutex
	bySession map[string]string              // session -> ship
	byShip    map[string]map[string]struct{} // ship -> sessions
	repo      repository.ShipRepository
	statusOf  ShipStatusLookup
}

// New constructs an empty Index backed by repo for write-through persistence.
func New(repo repository.ShipRepository, statusOf ShipStatusLookup) *Index {
	return &Index{
		bySession: make(map[string]string),
		byShip:    make(map[string]map[string]struct{}),
		repo:      repo,
		statusOf:  statusOf,
	}
}

// Lookup returns the Ship id bound to session, or "" if unbound.
func (idx *Index) Lookup(session string) string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.bySession[session]
}

// SessionCount returns the number of sessions currently bound to shipID.
func (idx *Index) SessionCount(shipID string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.byShip[shipID])
}

// Bind associates session with shipID, subject to the Ship's max_session_num
// and the one-Ship-per-Session invariant. A rebind to a different Ship only
// succeeds if the prior Ship is no longer Running (its binding is garbage
// collected first).
func (idx *Index) Bind(ctx context.Context, session, shipID string, maxSessionNum int) error {
	idx.mu.Lock()
	if existing, ok := idx.bySession[session]; ok {
		if existing == shipID {
			idx.mu.Unlock()
			return nil
		}
		// The status lookup may reach the repository, so it runs unlocked.
		idx.mu.Unlock()
		if idx.statusOf == nil || idx.statusOf.IsRunning(existing) {
			return apierr.New(apierr.IllegalState, "session already bound to another ship")
		}
		idx.mu.Lock()
		if current, ok := idx.bySession[session]; ok && current != existing {
			idx.mu.Unlock()
			if current == shipID {
				return nil
			}
			return apierr.New(apierr.IllegalState, "session already bound to another ship")
		}
		idx.unbindSessionLocked(session, existing)
	}

	sessions := idx.byShip[shipID]
	if sessions == nil {
		sessions = make(map[string]struct{})
		idx.byShip[shipID] = sessions
	}
	if _, already := sessions[session]; !already && len(sessions) >= maxSessionNum {
		idx.mu.Unlock()
		return apierr.New(apierr.CapacityExhausted, "session capacity exceeded for ship")
	}

	sessions[session] = struct{}{}
	idx.bySession[session] = shipID
	idx.mu.Unlock()

	if idx.repo != nil {
		return idx.repo.BindSession(ctx, shipID, session)
	}
	return nil
}

// Unbind removes all bindings for shipID, called when a Ship stops.
func (idx *Index) Unbind(ctx context.Context, shipID string) {
	idx.mu.Lock()
	sessions := idx.byShip[shipID]
	delete(idx.byShip, shipID)
	for session := range sessions {
		if idx.bySession[session] == shipID {
			delete(idx.bySession, session)
		}
	}
	idx.mu.Unlock()

	if idx.repo != nil {
		_ = idx.repo.UnbindAll(ctx, shipID)
	}
}

func (idx *Index) unbindSessionLocked(session, shipID string) {
	if sessions, ok := idx.byShip[shipID]; ok {
		delete(sessions, session)
		if len(sessions) == 0 {
			delete(idx.byShip, shipID)
		}
	}
	delete(idx.bySession, session)
}

// Restore seeds the Index from persisted bindings, used during Recovery.
func (idx *Index) Restore(bindings map[string][]string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for shipID, sessions := range bindings {
		set := make(map[string]struct{}, len(sessions))
		for _, session := range sessions {
			set[session] = struct{}{}
			idx.bySession[session] = shipID
		}
		idx.byShip[shipID] = set
	}
}
