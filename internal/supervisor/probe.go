package supervisor

import (
	"slices"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

// Probe answers whether pid is still the process launched at started.
type Probe interface {
	Alive(pid int, started time.Time) bool
}

// DefaultReuseTolerance bounds the gap between the recorded start time and
// the kernel's create time for the same process.
const DefaultReuseTolerance = 5 * time.Second

// OSProbe signals pid harmlessly and cross-checks the process create time
// against the recorded start, so a recycled pid does not read as running.
type OSProbe struct {
	Tolerance time.Duration
}

func (p OSProbe) Alive(pid int, started time.Time) bool {
	if pid <= 0 {
		return false
	}
	if err := unix.Kill(pid, 0); err != nil {
		// EPERM means the pid now belongs to another user.
		return false
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	if status, err := proc.Status(); err == nil && slices.Contains(status, process.Zombie) {
		return false
	}
	if started.IsZero() {
		return true
	}
	ms, err := proc.CreateTime()
	if err != nil {
		return true
	}
	tol := p.Tolerance
	if tol <= 0 {
		tol = DefaultReuseTolerance
	}
	return !time.UnixMilli(ms).After(started.Add(tol))
}
