// Package driver defines the container-runtime contract Bay schedules against.
//
// The only implementation specified is Docker-compatible
// (internal/driver/docker); the interface here is what the Scheduler,
// Reaper, and Recovery components depend on so any competent runtime
// integration can stand in during tests.
package driver

import (
	"context"
	"errors"

	"github.com/shipyard/bay/internal/domain"
)

var (
	// ErrNotFound indicates the container does not exist.
	ErrNotFound = errors.New("driver: container not found")
	// ErrAlreadyExists indicates a container with that name already exists.
	ErrAlreadyExists = errors.New("driver: container already exists")
	// ErrBackendUnavailable indicates the runtime socket could not be reached.
	ErrBackendUnavailable = errors.New("driver: backend unavailable")
	// ErrTimeout indicates a driver operation exceeded its deadline.
	ErrTimeout = errors.New("driver: operation timed out")
)

// Inspection reports the live state of a container.
type Inspection struct {
	Running bool
	Address string
}

// Driver creates, starts, inspects, and tears down Ship containers. It is
// pure: it holds no Ship state and must be safe for concurrent use.
type Driver interface {
	// Create pulls DOCKER_IMAGE if missing, attaches to DOCKER_NETWORK, and
	// applies spec.CPUs/spec.Memory when present, returning a container id.
	Create(ctx context.Context, shipID string, spec domain.Spec) (containerID string, err error)
	// Start starts the container and returns its address reachable from Bay.
	Start(ctx context.Context, containerID string) (address string, err error)
	// Inspect reports whether the container is running and its address.
	Inspect(ctx context.Context, containerID string) (Inspection, error)
	// Logs returns recent stdout+stderr, at most tail bytes.
	Logs(ctx context.Context, containerID string, tail int64) ([]byte, error)
	// Stop gracefully stops the container, forcing after grace elapses.
	Stop(ctx context.Context, containerID string) error
	// Remove idempotently removes the container.
	Remove(ctx context.Context, containerID string) error
}
