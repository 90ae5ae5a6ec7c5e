// Package domain holds Bay's core entities: Ships and Session bindings.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is a Ship's lifecycle state.
type Status int

const (
	StatusStarting Status = iota
	StatusRunning
	StatusStopped
)

// String renders the status for logging.
func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Spec captures resource hints passed to the Container Driver.
type Spec struct {
	CPUs   *float64 `json:"cpus,omitempty"`
	Memory *string  `json:"memory,omitempty"`
}

// Ship is the central entity: a single isolated container running the
// code/fs/shell service, tracked by Bay across its lifetime.
type Ship struct {
	ID            string
	Status        Status
	ContainerID   string
	Address       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	TTLSeconds    int
	Deadline      time.Time
	MaxSessionNum int
	Spec          Spec
}

// NewShip allocates a new Ship record in Starting status with a fresh id and
// a deadline ttlSeconds from now.
func NewShip(spec Spec, ttlSeconds, maxSessionNum int) *Ship {
	now := time.Now().UTC()
	return &Ship{
		ID:            uuid.NewString(),
		Status:        StatusStarting,
		CreatedAt:     now,
		UpdatedAt:     now,
		TTLSeconds:    ttlSeconds,
		Deadline:      now.Add(time.Duration(ttlSeconds) * time.Second),
		MaxSessionNum: maxSessionNum,
		Spec:          spec,
	}
}

// Live reports whether the Ship still counts against MAX_SHIP_NUM.
func (s Ship) Live() bool {
	return s.Status != StatusStopped
}

// SessionBinding maps a Session identifier to the Ship it is bound to.
type SessionBinding struct {
	SessionID string
	ShipID    string
	CreatedAt time.Time
}
