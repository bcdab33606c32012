//go:build !amd64 || noasm

package cycles

import "time"

var base = time.Now()

// read falls back to the monotonic clock; one tick is one nanosecond.
func read() uint64 {
	return uint64(time.Since(base))
}
