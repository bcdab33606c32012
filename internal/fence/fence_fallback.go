//go:build !amd64 || noasm

package fence

import "sync/atomic"

// LoadAcquireUint64 is an acquire load of *p.
func LoadAcquireUint64(p *uint64) uint64 {
	return atomic.LoadUint64(p)
}

// StoreReleaseUint64 is a release store to *p.
func StoreReleaseUint64(p *uint64, v uint64) {
	atomic.StoreUint64(p, v)
}

// Pause is a no-op on targets without a spin-wait hint.
func Pause() {}
