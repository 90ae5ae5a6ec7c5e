// Package repository defines Bay's persistence contract: Ship records and
// Session bindings, backed by a relational store (see
// internal/repository/postgres).
package repository

import (
	"context"
	"errors"

	"github.com/shipyard/bay/internal/domain"
)

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// Filter narrows List by Ship status; a nil Status matches any.
type Filter struct {
	Status *domain.Status
}

// ShipRepository persists Ship records and Session bindings. Operations are
// transactional per call; record update + binding change pairs MUST be
// atomic (spec section 4.6).
type ShipRepository interface {
	Insert(ctx context.Context, ship *domain.Ship) error
	Get(ctx context.Context, id string) (*domain.Ship, error)
	// Update loads the current record, applies fn, and persists the result
	// atomically; fn mutates the record in place.
	Update(ctx context.Context, id string, fn func(*domain.Ship) error) (*domain.Ship, error)
	// StopShip marks the record Stopped and removes its session bindings in
	// one transaction (record update + binding change pairs must be atomic).
	StopShip(ctx context.Context, id string) (*domain.Ship, error)
	List(ctx context.Context, filter Filter) ([]domain.Ship, error)
	ListLive(ctx context.Context) ([]domain.Ship, error)

	BindSession(ctx context.Context, shipID, sessionID string) error
	UnbindAll(ctx context.Context, shipID string) error
	SessionsByShip(ctx context.Context, shipID string) ([]string, error)

	// LoadAll returns every record for Recovery's reconciliation pass,
	// together with the sessions bound to each.
	LoadAll(ctx context.Context) ([]domain.Ship, map[string][]string, error)
}
