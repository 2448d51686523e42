// Package status composes persisted registry records with live operational
// facts from the host's supervision facility, and mediates control actions.
// The registry's status field is treated as last-known information only;
// whenever live data is available it wins.
package status

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gammazero/workerpool"

	"github.com/luigi-project/hearth/internal/models"
	"github.com/luigi-project/hearth/registry"
	"github.com/luigi-project/hearth/supervisor"
)

// Action is a control verb accepted by the controller.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
)

var (
	// ErrActionNotSupported is returned when a control action is requested
	// for a module that does not expose a controllable service.
	ErrActionNotSupported = errors.New("status: action not supported for this module")

	// ErrUnknownAction is returned for verbs outside start/stop/restart.
	ErrUnknownAction = errors.New("status: unknown control action")
)

// Summary is the minimal listing projection. It deliberately exposes nothing
// beyond these four fields so the listing stays cheap as the module count
// grows; anything more requires a detail request.
type Summary struct {
	Name         string   `json:"name"`
	Status       string   `json:"status"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// Detail is the full record plus, for service modules, a best-effort live
// runtime snapshot.
type Detail struct {
	models.ModuleRecord
	Runtime *models.RuntimeSnapshot `json:"runtime,omitempty"`
}

// Aggregator produces the two read shapes over the registry and issues
// control actions through the supervisor. Control commands run on a bounded
// worker pool so one hung unit cannot stall unrelated requests.
type Aggregator struct {
	store *registry.Store
	sup   supervisor.Supervisor
	procs supervisor.ProcessTable

	pool           *workerpool.WorkerPool
	controlTimeout time.Duration
	now            func() time.Time
}

// New returns an aggregator over the given store and supervision facility.
func New(store *registry.Store, sup supervisor.Supervisor, procs supervisor.ProcessTable, controlTimeout time.Duration) *Aggregator {
	return &Aggregator{
		store:          store,
		sup:            sup,
		procs:          procs,
		pool:           workerpool.New(4),
		controlTimeout: controlTimeout,
		now:            time.Now,
	}
}

// Close drains the worker pool, waiting for in-flight control commands.
func (a *Aggregator) Close() {
	a.pool.StopWait()
}

// ListSummaries projects every non-removed record down to its summary shape.
func (a *Aggregator) ListSummaries(ctx context.Context) ([]Summary, error) {
	records, err := a.store.List(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(records))
	for _, rec := range records {
		out = append(out, Summary{
			Name:         rec.Name,
			Status:       string(rec.Status),
			Version:      rec.Version,
			Capabilities: rec.Capabilities,
		})
	}
	return out, nil
}

// GetDetail returns the full record for a module plus, when the module has
// the service capability, a live runtime snapshot. When the live state
// disagrees with the stored status field, the detail reports the live one:
// the cached field is never presented as current truth.
func (a *Aggregator) GetDetail(ctx context.Context, modulePath string) (*Detail, error) {
	rec, err := a.store.Get(ctx, modulePath)
	if err != nil {
		return nil, err
	}
	detail := &Detail{ModuleRecord: *rec}
	if !rec.HasCapability(models.CapabilityService) || rec.IsRemoved() {
		return detail, nil
	}

	detail.Runtime = a.snapshot(ctx, rec)
	if detail.Runtime.ActiveState != nil {
		if live := statusFromState(*detail.Runtime.ActiveState); live != "" {
			detail.Status = live
		}
	}
	return detail, nil
}

// snapshot gathers the live facts for a service module. Every lookup is
// independently fallible; a failed one leaves its field nil instead of
// failing the request.
func (a *Aggregator) snapshot(ctx context.Context, rec *models.ModuleRecord) *models.RuntimeSnapshot {
	rt := &models.RuntimeSnapshot{}
	unit := rec.ServiceName

	if state, err := a.sup.ActiveState(ctx, unit); err != nil {
		log.WithFields(log.Fields{"module": rec.ModulePath, "error": err}).Debug("status: active state unavailable")
	} else {
		rt.ActiveState = &state
	}

	// Live boot enablement, shown alongside the live state. The record's
	// service_enabled field is last-known information just like status is.
	if enabled, err := a.sup.IsEnabled(ctx, unit); err != nil {
		log.WithFields(log.Fields{"module": rec.ModulePath, "error": err}).Debug("status: enablement unavailable")
	} else {
		rt.Enabled = &enabled
	}

	if started, err := a.sup.StartedAt(ctx, unit); err != nil {
		log.WithFields(log.Fields{"module": rec.ModulePath, "error": err}).Debug("status: start time unavailable")
	} else {
		uptime := int64(a.now().Sub(started).Seconds())
		if uptime < 0 {
			uptime = 0
		}
		rt.UptimeSeconds = &uptime
	}

	pid, err := a.sup.MainPID(ctx, unit)
	if err != nil {
		log.WithFields(log.Fields{"module": rec.ModulePath, "error": err}).Debug("status: main pid unavailable")
		return rt
	}
	rt.PID = &pid

	if mem, err := a.procs.ResidentMemory(ctx, pid); err != nil {
		log.WithFields(log.Fields{"module": rec.ModulePath, "pid": pid, "error": err}).Debug("status: process memory unavailable")
	} else {
		rt.MemoryBytes = &mem
	}
	return rt
}

// statusFromState maps a supervision-facility state onto the registry's
// status enum. States outside the mapping (activating, deactivating, ...)
// return empty and leave the stored status in place.
func statusFromState(state string) models.ModuleStatus {
	switch state {
	case supervisor.StateActive:
		return models.StatusActive
	case supervisor.StateInactive:
		return models.StatusInactive
	case supervisor.StateFailed:
		return models.StatusFailed
	}
	return ""
}
