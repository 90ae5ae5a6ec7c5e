// Package postgres implements repository.ShipRepository on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shipyard/bay/internal/domain"
	"github.com/shipyard/bay/internal/repository"
)

// Repository implements repository.ShipRepository on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.ShipRepository = (*Repository)(nil)

// Insert persists a new Ship record.
func (r *Repository) Insert(ctx context.Context, ship *domain.Ship) error {
	const query = `INSERT INTO ships
		(id, status, container_id, address, created_at, updated_at, ttl_seconds, deadline, max_session_num, cpus, memory)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query,
		ship.ID, int(ship.Status), ship.ContainerID, ship.Address,
		ship.CreatedAt, ship.UpdatedAt, ship.TTLSeconds, ship.Deadline,
		ship.MaxSessionNum, ship.Spec.CPUs, ship.Spec.Memory)
	return err
}

// Get fetches a Ship by id.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Ship, error) {
	const query = `SELECT id, status, container_id, address, created_at, updated_at, ttl_seconds, deadline, max_session_num, cpus, memory
		FROM ships WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	return scanShip(row)
}

// Update loads the current record inside a transaction, applies fn, and
// persists the mutated record atomically.
func (r *Repository) Update(ctx context.Context, id string, fn func(*domain.Ship) error) (*domain.Ship, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const selectQuery = `SELECT id, status, container_id, address, created_at, updated_at, ttl_seconds, deadline, max_session_num, cpus, memory
		FROM ships WHERE id = $1 FOR UPDATE`
	ship, err := scanShip(tx.QueryRow(ctx, selectQuery, id))
	if err != nil {
		return nil, err
	}

	if err := fn(ship); err != nil {
		return nil, err
	}

	const updateQuery = `UPDATE ships SET status=$2, container_id=$3, address=$4, updated_at=$5, ttl_seconds=$6, deadline=$7, max_session_num=$8, cpus=$9, memory=$10
		WHERE id = $1`
	if _, err := tx.Exec(ctx, updateQuery,
		ship.ID, int(ship.Status), ship.ContainerID, ship.Address,
		ship.UpdatedAt, ship.TTLSeconds, ship.Deadline, ship.MaxSessionNum,
		ship.Spec.CPUs, ship.Spec.Memory); err != nil {
		return nil, fmt.Errorf("update ship: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return ship, nil
}

// StopShip marks the record Stopped and deletes its session bindings in a
// single transaction.
func (r *Repository) StopShip(ctx context.Context, id string) (*domain.Ship, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const selectQuery = `SELECT id, status, container_id, address, created_at, updated_at, ttl_seconds, deadline, max_session_num, cpus, memory
		FROM ships WHERE id = $1 FOR UPDATE`
	ship, err := scanShip(tx.QueryRow(ctx, selectQuery, id))
	if err != nil {
		return nil, err
	}

	ship.Status = domain.StatusStopped
	ship.UpdatedAt = time.Now().UTC()

	if _, err := tx.Exec(ctx, `UPDATE ships SET status=$2, updated_at=$3 WHERE id = $1`,
		ship.ID, int(ship.Status), ship.UpdatedAt); err != nil {
		return nil, fmt.Errorf("mark ship stopped: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM session_bindings WHERE ship_id = $1`, ship.ID); err != nil {
		return nil, fmt.Errorf("unbind sessions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return ship, nil
}

// List returns Ship records matching filter.
func (r *Repository) List(ctx context.Context, filter repository.Filter) ([]domain.Ship, error) {
	query := `SELECT id, status, container_id, address, created_at, updated_at, ttl_seconds, deadline, max_session_num, cpus, memory FROM ships`
	args := []any{}
	if filter.Status != nil {
		query += ` WHERE status = $1`
		args = append(args, int(*filter.Status))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanShips(rows)
}

// ListLive returns every Ship whose status is not Stopped.
func (r *Repository) ListLive(ctx context.Context) ([]domain.Ship, error) {
	const query = `SELECT id, status, container_id, address, created_at, updated_at, ttl_seconds, deadline, max_session_num, cpus, memory
		FROM ships WHERE status <> $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, int(domain.StatusStopped))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanShips(rows)
}

// BindSession records a Session -> Ship binding, idempotently.
func (r *Repository) BindSession(ctx context.Context, shipID, sessionID string) error {
	const query = `INSERT INTO session_bindings (ship_id, session_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET ship_id = EXCLUDED.ship_id`
	_, err := r.pool.Exec(ctx, query, shipID, sessionID, time.Now().UTC())
	return err
}

// UnbindAll removes every Session binding for shipID.
func (r *Repository) UnbindAll(ctx context.Context, shipID string) error {
	const query = `DELETE FROM session_bindings WHERE ship_id = $1`
	_, err := r.pool.Exec(ctx, query, shipID)
	return err
}

// SessionsByShip lists the sessions currently bound to shipID.
func (r *Repository) SessionsByShip(ctx context.Context, shipID string) ([]string, error) {
	const query = `SELECT session_id FROM session_bindings WHERE ship_id = $1`
	rows, err := r.pool.Query(ctx, query, shipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]string, 0)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// LoadAll returns every Ship record and its bound sessions, for Recovery.
func (r *Repository) LoadAll(ctx context.Context) ([]domain.Ship, map[string][]string, error) {
	const shipQuery = `SELECT id, status, container_id, address, created_at, updated_at, ttl_seconds, deadline, max_session_num, cpus, memory FROM ships`
	rows, err := r.pool.Query(ctx, shipQuery)
	if err != nil {
		return nil, nil, err
	}
	ships, err := scanShips(rows)
	rows.Close()
	if err != nil {
		return nil, nil, err
	}

	const bindingQuery = `SELECT ship_id, session_id FROM session_bindings`
	bRows, err := r.pool.Query(ctx, bindingQuery)
	if err != nil {
		return nil, nil, err
	}
	defer bRows.Close()

	bindings := make(map[string][]string)
	for bRows.Next() {
		var shipID, sessionID string
		if err := bRows.Scan(&shipID, &sessionID); err != nil {
			return nil, nil, err
		}
		bindings[shipID] = append(bindings[shipID], sessionID)
	}
	return ships, bindings, bRows.Err()
}

type row interface {
	Scan(dest ...any) error
}

func scanShip(r row) (*domain.Ship, error) {
	var (
		ship   domain.Ship
		status int
		cpus   *float64
		memory *string
	)
	if err := r.Scan(&ship.ID, &status, &ship.ContainerID, &ship.Address,
		&ship.CreatedAt, &ship.UpdatedAt, &ship.TTLSeconds, &ship.Deadline,
		&ship.MaxSessionNum, &cpus, &memory); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	ship.Status = domain.Status(status)
	ship.Spec = domain.Spec{CPUs: cpus, Memory: memory}
	return &ship, nil
}

func scanShips(rows pgx.Rows) ([]domain.Ship, error) {
	ships := make([]domain.Ship, 0)
	for rows.Next() {
		ship, err := scanShip(rows)
		if err != nil {
			return nil, err
		}
		ships = append(ships, *ship)
	}
	return ships, rows.Err()
}
