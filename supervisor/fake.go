package supervisor

import (
	"context"
	"sync"
	"time"

	"emperror.dev/errors"
)

// FakeUnit is the state the fake supervisor tracks per unit.
type FakeUnit struct {
	ActiveState string
	MainPID     int32
	StartedAt   time.Time
	Enabled     bool
}

// Fake is an in-memory Supervisor for tests. It records every call it
// receives so tests can assert which units were (or were not) touched.
type Fake struct {
	mu    sync.Mutex
	units map[string]*FakeUnit

	// Calls lists every invocation as "<method> <unit>", in order.
	Calls []string

	// ControlErr, when set, is returned by every control method.
	ControlErr error
	// QueryErr, when set, is returned by every query method.
	QueryErr error
}

// NewFake returns an empty fake supervisor.
func NewFake() *Fake {
	return &Fake{units: make(map[string]*FakeUnit)}
}

// SetUnit seeds or replaces the state of a unit.
func (f *Fake) SetUnit(unit string, state FakeUnit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := state
	f.units[unit] = &u
}

// CallCount returns how many calls the fake has received in total.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

func (f *Fake) record(method, unit string) {
	f.Calls = append(f.Calls, method+" "+unit)
}

func (f *Fake) lookup(method, unit string) (*FakeUnit, error) {
	f.record(method, unit)
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	u, ok := f.units[unit]
	if !ok {
		return nil, errors.Errorf("supervisor: unknown unit %s", unit)
	}
	return u, nil
}

func (f *Fake) ActiveState(_ context.Context, unit string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.lookup("ActiveState", unit)
	if err != nil {
		return "", err
	}
	return u.ActiveState, nil
}

func (f *Fake) MainPID(_ context.Context, unit string) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.lookup("MainPID", unit)
	if err != nil {
		return 0, err
	}
	if u.MainPID == 0 {
		return 0, errors.Errorf("supervisor: unit %s has no main process", unit)
	}
	return u.MainPID, nil
}

func (f *Fake) StartedAt(_ context.Context, unit string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.lookup("StartedAt", unit)
	if err != nil {
		return time.Time{}, err
	}
	if u.StartedAt.IsZero() {
		return time.Time{}, errors.Errorf("supervisor: unit %s has no active-enter timestamp", unit)
	}
	return u.StartedAt, nil
}

func (f *Fake) IsEnabled(_ context.Context, unit string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.lookup("IsEnabled", unit)
	if err != nil {
		return false, err
	}
	return u.Enabled, nil
}

func (f *Fake) control(method, unit string, apply func(*FakeUnit)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(method, unit)
	if f.ControlErr != nil {
		return f.ControlErr
	}
	u, ok := f.units[unit]
	if !ok {
		u = &FakeUnit{ActiveState: StateInactive}
		f.units[unit] = u
	}
	apply(u)
	return nil
}

func (f *Fake) Start(_ context.Context, unit string) error {
	return f.control("Start", unit, func(u *FakeUnit) {
		u.ActiveState = StateActive
		u.StartedAt = time.Now()
		if u.MainPID == 0 {
			u.MainPID = 1000
		}
	})
}

func (f *Fake) Stop(_ context.Context, unit string) error {
	return f.control("Stop", unit, func(u *FakeUnit) {
		u.ActiveState = StateInactive
		u.MainPID = 0
		u.StartedAt = time.Time{}
	})
}

func (f *Fake) Restart(_ context.Context, unit string) error {
	return f.control("Restart", unit, func(u *FakeUnit) {
		u.ActiveState = StateActive
		u.StartedAt = time.Now()
	})
}

func (f *Fake) Enable(_ context.Context, unit string) error {
	return f.control("Enable", unit, func(u *FakeUnit) { u.Enabled = true })
}

func (f *Fake) Disable(_ context.Context, unit string) error {
	return f.control("Disable", unit, func(u *FakeUnit) { u.Enabled = false })
}

// FakeProcessTable is an in-memory ProcessTable keyed by pid.
type FakeProcessTable struct {
	Memory map[int32]uint64
}

func (f FakeProcessTable) ResidentMemory(_ context.Context, pid int32) (uint64, error) {
	m, ok := f.Memory[pid]
	if !ok {
		return 0, errors.Errorf("supervisor: no process with pid %d", pid)
	}
	return m, nil
}
