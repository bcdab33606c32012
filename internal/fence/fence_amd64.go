//go:build amd64 && !noasm

package fence

// LoadAcquireUint64 returns *p with acquire ordering: loads that follow the
// call cannot be reordered before it.
//
//go:noescape
//go:nosplit
func LoadAcquireUint64(p *uint64) (v uint64)

// StoreReleaseUint64 performs *p = v with release ordering: stores that
// precede the call cannot be reordered after it.
//
//go:noescape
//go:nosplit
func StoreReleaseUint64(p *uint64, v uint64)

// Pause executes the PAUSE instruction so busy-wait loops back off politely
// without leaving userspace.
//
//go:nosplit
func Pause()
