// Package fence provides the one-way memory barriers used by the staging
// buffers: an acquire load, a release store, and a spin-wait hint.
//
// On amd64 the helpers compile to a plain MOVQ (the architecture is TSO, so
// ordinary loads and stores already carry acquire/release semantics) and the
// non-inlined call boundary doubles as a compiler barrier. Everywhere else,
// or under the noasm build tag, they fall back to sync/atomic, whose
// sequentially consistent ordering is a conservative superset of what the
// callers need.
//
// The assembly path is invisible to the race detector; build with -tags
// noasm when running tests under -race so the synchronization goes through
// sync/atomic and stays observable.
package fence
