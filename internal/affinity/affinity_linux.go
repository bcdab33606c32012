//go:build linux

package affinity

import "golang.org/x/sys/unix"

// setAffinity binds the current thread to a single logical CPU via
// sched_setaffinity(2). Out-of-range or failing calls are ignored.
func setAffinity(cpu int) {
	if cpu < 0 {
		return
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)

	_ = unix.SchedSetaffinity(0, &set)
}
