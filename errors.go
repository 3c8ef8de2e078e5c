package depthcache

import "errors"

// Reader faults: returned from the public API, never recovered silently.
var (
	// ErrOutOfSync is returned when a read is attempted on a cache that is
	// not currently synchronized.
	ErrOutOfSync = errors.New("depthcache: market is not synchronized")
	// ErrNotFound is returned when the named market has no cache, either
	// because it was never created or because it was already stopped.
	ErrNotFound = errors.New("depthcache: market has no cache")
	// ErrAlreadyStopped is returned by operations on a cache that already
	// received a stop request.
	ErrAlreadyStopped = errors.New("depthcache: cache already stopped")
)

// Internal faults: recovered silently by the dispatcher, never returned to
// a caller. Exported so tests and adapters (internal/snapshot,
// internal/stream) can build on errors.Is-compatible sentinels.
var (
	// ErrContinuityGap marks a diff that failed the continuity check.
	ErrContinuityGap = errors.New("depthcache: continuity gap detected")
	// ErrSnapshotUnavailable marks a failed REST snapshot fetch (transport,
	// protocol, or weight-ceiling deferral).
	ErrSnapshotUnavailable = errors.New("depthcache: snapshot unavailable")
	// ErrTransportFault marks a WebSocket disconnect.
	ErrTransportFault = errors.New("depthcache: transport fault")
)
