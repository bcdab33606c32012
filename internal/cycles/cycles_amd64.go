//go:build amd64 && !noasm

package cycles

// read returns the value of the TSC via RDTSC.
//
//go:nosplit
func read() (ticks uint64)
