// Package affinity pins goroutines to CPU cores for the benchmark harness.
// The staging buffers themselves never pin; callers that care about
// cache-line traffic are expected to place producers and the consumer on
// distinct cores.
package affinity

import "runtime"

// Pin locks the calling goroutine to its OS thread and binds that thread to
// the given logical CPU. Binding failures (containers, restricted cgroups)
// are swallowed: the fallback is simply no pin.
func Pin(cpu int) {
	runtime.LockOSThread()
	setAffinity(cpu)
}

// Unpin releases the OS thread back to the scheduler. The kernel-side
// affinity mask is left as-is; the thread is recycled by the runtime.
func Unpin() {
	runtime.UnlockOSThread()
}
