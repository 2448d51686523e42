// Package supervisor mediates between the platform and the host's service
// supervision facility. The production implementation shells out to systemd;
// an in-memory fake backs deterministic tests of everything layered on top.
package supervisor

import (
	"context"
	"time"

	"emperror.dev/errors"
)

// Active states reported by the supervision facility.
const (
	StateActive   = "active"
	StateInactive = "inactive"
	StateFailed   = "failed"
)

// ErrControlFailed is returned when the supervision facility rejects or times
// out on a start/stop/restart command. A timeout only stops the wait; the
// underlying action may still complete.
var ErrControlFailed = errors.New("supervisor: service control failed")

// Supervisor is the narrow surface the platform needs from the host's
// service supervision facility. Query methods are each independently
// fallible; callers are expected to degrade gracefully when one of them
// cannot produce an answer.
type Supervisor interface {
	// ActiveState returns the current state of a unit (active, inactive,
	// failed, ...). This is the authoritative answer for whether a module is
	// running, regardless of what the registry last recorded.
	ActiveState(ctx context.Context, unit string) (string, error)

	// MainPID returns the main process id of a running unit.
	MainPID(ctx context.Context, unit string) (int32, error)

	// StartedAt returns the timestamp the unit last entered the active state.
	StartedAt(ctx context.Context, unit string) (time.Time, error)

	// IsEnabled reports whether the unit starts automatically at boot.
	IsEnabled(ctx context.Context, unit string) (bool, error)

	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	Restart(ctx context.Context, unit string) error
	Enable(ctx context.Context, unit string) error
	Disable(ctx context.Context, unit string) error
}

// ProcessTable answers questions about live processes by pid.
type ProcessTable interface {
	// ResidentMemory returns the resident set size of a process in bytes.
	ResidentMemory(ctx context.Context, pid int32) (uint64, error)
}
