package supervisor

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"emperror.dev/errors"
)

// activeEnterLayout is the format systemd uses for timestamp properties,
// e.g. "Mon 2026-08-24 09:13:05 UTC".
const activeEnterLayout = "Mon 2006-01-02 15:04:05 MST"

// Runner executes a host command and returns its combined output. It exists
// so tests can substitute canned systemctl responses.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Systemd talks to the host's systemd instance through systemctl. Every call
// carries an explicit timeout so a hung unit cannot stall the caller
// indefinitely.
type Systemd struct {
	runner         Runner
	queryTimeout   time.Duration
	controlTimeout time.Duration
}

// NewSystemd returns a Systemd supervisor whose control commands are bounded
// by the given timeout.
func NewSystemd(controlTimeout time.Duration) *Systemd {
	return &Systemd{
		runner:         execRunner{},
		queryTimeout:   5 * time.Second,
		controlTimeout: controlTimeout,
	}
}

// NewSystemdWithRunner is NewSystemd with a substitute command runner.
func NewSystemdWithRunner(runner Runner, controlTimeout time.Duration) *Systemd {
	s := NewSystemd(controlTimeout)
	s.runner = runner
	return s
}

// property queries a single unit property through "systemctl show --value".
func (s *Systemd) property(ctx context.Context, unit, property string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	out, err := s.runner.Output(ctx, "systemctl", "show", unit, "--property="+property, "--value")
	if err != nil {
		return "", errors.Wrapf(err, "supervisor: failed to query %s of %s", property, unit)
	}
	return strings.TrimSpace(string(out)), nil
}

func (s *Systemd) ActiveState(ctx context.Context, unit string) (string, error) {
	state, err := s.property(ctx, unit, "ActiveState")
	if err != nil {
		return "", err
	}
	if state == "" {
		return "", errors.Errorf("supervisor: unit %s reported no active state", unit)
	}
	return state, nil
}

func (s *Systemd) MainPID(ctx context.Context, unit string) (int32, error) {
	raw, err := s.property(ctx, unit, "MainPID")
	if err != nil {
		return 0, err
	}
	pid, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "supervisor: unparseable MainPID %q for %s", raw, unit)
	}
	if pid == 0 {
		return 0, errors.Errorf("supervisor: unit %s has no main process", unit)
	}
	return int32(pid), nil
}

func (s *Systemd) StartedAt(ctx context.Context, unit string) (time.Time, error) {
	raw, err := s.property(ctx, unit, "ActiveEnterTimestamp")
	if err != nil {
		return time.Time{}, err
	}
	if raw == "" || raw == "n/a" {
		return time.Time{}, errors.Errorf("supervisor: unit %s has no active-enter timestamp", unit)
	}
	ts, err := time.Parse(activeEnterLayout, raw)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "supervisor: unparseable timestamp %q for %s", raw, unit)
	}
	return ts, nil
}

func (s *Systemd) IsEnabled(ctx context.Context, unit string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	out, err := s.runner.Output(ctx, "systemctl", "is-enabled", unit)
	state := strings.TrimSpace(string(out))
	// "systemctl is-enabled" exits non-zero for disabled units while still
	// printing the state, so inspect the output before the error.
	switch state {
	case "enabled", "enabled-runtime", "static", "alias":
		return true, nil
	case "disabled", "masked", "masked-runtime":
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "supervisor: failed to query enablement of %s", unit)
	}
	return false, errors.Errorf("supervisor: unexpected enablement state %q for %s", state, unit)
}

// control issues a verb against a unit with the configured timeout. There is
// no cancellation of an in-flight action: hitting the deadline stops the
// wait and reports failure, it does not undo whatever systemd started doing.
func (s *Systemd) control(ctx context.Context, verb, unit string) error {
	ctx, cancel := context.WithTimeout(ctx, s.controlTimeout)
	defer cancel()
	out, err := s.runner.Output(ctx, "systemctl", verb, unit)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.Wrapf(ErrControlFailed, "%s %s timed out after %s", verb, unit, s.controlTimeout)
		}
		return errors.Wrapf(ErrControlFailed, "%s %s: %s", verb, unit, strings.TrimSpace(string(out)))
	}
	return nil
}

func (s *Systemd) Start(ctx context.Context, unit string) error {
	return s.control(ctx, "start", unit)
}

func (s *Systemd) Stop(ctx context.Context, unit string) error {
	return s.control(ctx, "stop", unit)
}

func (s *Systemd) Restart(ctx context.Context, unit string) error {
	return s.control(ctx, "restart", unit)
}

func (s *Systemd) Enable(ctx context.Context, unit string) error {
	return s.control(ctx, "enable", unit)
}

func (s *Systemd) Disable(ctx context.Context, unit string) error {
	return s.control(ctx, "disable", unit)
}
