package depthcache

import "context"

// SnapshotFetcher retrieves a point-in-time REST snapshot for market.
// Implementations are responsible for their own weight accounting and must
// return an error wrapping ErrSnapshotUnavailable when the request cannot
// be made without breaching the configured weight ceiling.
//
// internal/snapshot provides the Binance REST implementation; tests use a
// fake.
type SnapshotFetcher interface {
	Fetch(ctx context.Context, market string) (Snapshot, error)
}

// Multiplexer owns one or more WebSocket connections shared across many
// markets and routes incoming events to a Handler. Subscribe and
// Unsubscribe may be called concurrently from different goroutines as
// markets come and go.
//
// internal/stream provides the gorilla/websocket implementation.
type Multiplexer interface {
	// Subscribe attaches market to a stream, creating or reusing a
	// connection as capacity allows, and returns the stream identifier it
	// was placed on.
	Subscribe(ctx context.Context, market string) (streamID string, err error)
	// Unsubscribe detaches market from whatever stream it currently rides
	// on. It is not an error to unsubscribe a market that was never
	// subscribed.
	Unsubscribe(market string) error
	// Close tears down every connection the multiplexer owns.
	Close() error
}

// Handler receives events and lifecycle signals from a Multiplexer. Manager
// implements Handler; a Multiplexer implementation calls back into it from
// its own read-loop goroutines, so methods must be safe for concurrent use.
type Handler interface {
	// HandleDiff delivers one incremental update for its event's market.
	HandleDiff(ev DiffEvent)
	// HandleSignal delivers a connection-lifecycle transition for streamID,
	// affecting every market currently riding on it.
	HandleSignal(streamID string, kind SignalKind, markets []string)
}

// Notifier publishes depth-cache lifecycle events to an external bus.
// Implementations must not block the dispatcher; internal/notify's NATS
// implementation publishes asynchronously, and NoopNotifier discards.
type Notifier interface {
	NotifySynchronized(market string)
	NotifyDesynchronized(market string, reason error)
	NotifyStopped(market string)
}

// NoopNotifier implements Notifier by discarding every event. It is the
// Manager default when no Notifier is configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifySynchronized(market string)               {}
func (NoopNotifier) NotifyDesynchronized(market string, reason error) {}
func (NoopNotifier) NotifyStopped(market string)                    {}
