package supervisor

import (
	"context"

	"emperror.dev/errors"
	"github.com/shirou/gopsutil/v3/process"
)

// HostProcessTable reads live process facts from the host's process table.
type HostProcessTable struct{}

// ResidentMemory returns the resident set size of the process in bytes, as
// exposed by the kernel's process accounting.
func (HostProcessTable) ResidentMemory(ctx context.Context, pid int32) (uint64, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return 0, errors.Wrapf(err, "supervisor: no process with pid %d", pid)
	}
	info, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "supervisor: failed to read memory of pid %d", pid)
	}
	return info.RSS, nil
}
