//go:build !linux

package affinity

// setAffinity is a no-op on targets without sched_setaffinity.
func setAffinity(int) {}
