package status

import (
	"context"

	"emperror.dev/errors"
	"github.com/apex/log"

	"github.com/luigi-project/hearth/internal/models"
	"github.com/luigi-project/hearth/supervisor"
)

// ControlAction delegates a start/stop/restart command for a module to the
// supervision facility. Modules without the service capability are rejected
// before the supervisor is ever contacted. On success the caller should
// re-fetch the module detail rather than trust any locally cached status;
// only the supervisor knows what actually happened.
func (a *Aggregator) ControlAction(ctx context.Context, modulePath string, action Action) error {
	var command func(context.Context, string) error
	switch action {
	case ActionStart:
		command = a.sup.Start
	case ActionStop:
		command = a.sup.Stop
	case ActionRestart:
		command = a.sup.Restart
	default:
		return errors.WithMessagef(ErrUnknownAction, "%q", action)
	}

	rec, err := a.store.Get(ctx, modulePath)
	if err != nil {
		return err
	}
	if rec.IsRemoved() {
		return errors.WithMessagef(ErrActionNotSupported, "module %s has been removed", modulePath)
	}
	if !rec.HasCapability(models.CapabilityService) {
		return errors.WithMessagef(ErrActionNotSupported, "module %s does not expose a service", modulePath)
	}

	// The command itself runs on the worker pool. Hitting the deadline only
	// stops the wait; the action is fire-and-forget against the supervisor and
	// there is no way to abort it once issued.
	waitCtx, cancel := context.WithTimeout(ctx, a.controlTimeout)
	defer cancel()
	done := make(chan error, 1)
	a.pool.Submit(func() {
		done <- command(context.Background(), rec.ServiceName)
	})
	select {
	case err = <-done:
	case <-waitCtx.Done():
		return errors.Wrapf(supervisor.ErrControlFailed, "%s %s: gave up waiting: %s", action, rec.ServiceName, waitCtx.Err())
	}
	if err != nil {
		return err
	}

	// Record the new last-known status. Purely informational: readers always
	// prefer the live state over this field.
	if cached := cachedStatusFor(action); cached != "" {
		if _, err := a.store.SetStatus(ctx, modulePath, cached, rec.ServiceEnabled); err != nil {
			log.WithFields(log.Fields{"module": modulePath, "error": err}).Warn("status: failed to record last-known status")
		}
	}
	return nil
}

func cachedStatusFor(action Action) models.ModuleStatus {
	switch action {
	case ActionStart, ActionRestart:
		return models.StatusActive
	case ActionStop:
		return models.StatusInactive
	}
	return ""
}
