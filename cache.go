package depthcache

import (
	"sync"
	"time"
)

// Cache is the depth-cache state for a single market: two independently
// locked BookSides plus a small block of scalar synchronization state
// guarded by its own mutex (§4.2). Asks and Bids are exported so a caller
// holding a *Cache directly (such as this package's tests) can read them
// without going through Manager, but mutation always goes through the
// dispatcher.
type Cache struct {
	Asks *BookSide
	Bids *BookSide

	mu sync.Mutex

	market   string
	exchange Exchange

	lastUpdateID int64
	hasAnchor    bool

	isSynchronized bool

	lastRefreshTime time.Time
	refreshInterval time.Duration
	refreshRequest  bool
	refreshInFlight bool

	streamID     string
	streamStatus StreamStatus

	stopRequest bool
}

func newCache(market string, exchange Exchange, refreshInterval time.Duration) *Cache {
	return &Cache{
		Asks:            NewBookSide(),
		Bids:            NewBookSide(),
		market:          market,
		exchange:        exchange,
		refreshInterval: refreshInterval,
	}
}

// Market returns the canonical market identifier this cache was created for.
func (c *Cache) Market() string {
	return c.market
}

// Exchange returns the exchange family this cache applies continuity rules
// for.
func (c *Cache) Exchange() Exchange {
	return c.exchange
}

// IsSynchronized reports whether the cache currently holds a continuous,
// snapshot-anchored view of the book.
func (c *Cache) IsSynchronized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isSynchronized
}

// LastUpdateID returns the update ID of the most recently applied event or
// snapshot, and whether the cache has ever been anchored.
func (c *Cache) LastUpdateID() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdateID, c.hasAnchor
}

// StreamStatus reports the last observed state of the WebSocket connection
// backing this market, and the stream identifier it currently rides on.
func (c *Cache) StreamStatus() (StreamStatus, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamStatus, c.streamID
}

// requestRefresh marks the cache for a forced resnapshot on its next diff
// event, without waiting for the refresh interval to elapse.
func (c *Cache) requestRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshRequest = true
}

// requestStop marks the cache for teardown on its next dispatch turn.
func (c *Cache) requestStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopRequest = true
}

func (c *Cache) isStopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRequest
}

// consumeRefreshRequestIfSet reports whether refreshRequest is currently
// set, or the cache has never been anchored at all. It does not clear the
// flag: that only happens once the Init Gate actually admits a new
// snapshot attempt (clearAnchor). A refresh already in flight reports false
// regardless of anchor state, so a burst of diffs arriving while one fetch
// is outstanding cannot spawn a second, concurrent fetch for the same
// market.
func (c *Cache) consumeRefreshRequestIfSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshInFlight {
		return false
	}
	return c.refreshRequest || !c.hasAnchor
}

// markRefreshInFlight flags that a snapshot fetch has been spawned for this
// cache, so the refresh gate will not admit another one until it clears.
func (c *Cache) markRefreshInFlight() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshInFlight = true
}

// clearRefreshInFlight is called once the in-flight snapshot fetch returns,
// whether it succeeded or failed, re-opening the refresh gate.
func (c *Cache) clearRefreshInFlight() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshInFlight = false
}

// refreshDue reports whether a configured refresh interval has elapsed
// since the cache was last anchored.
func (c *Cache) refreshDue(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshInterval <= 0 {
		return false
	}
	return now.Sub(c.lastRefreshTime) > c.refreshInterval
}

// clearAnchor drops the cache's current anchor, clearing refreshRequest
// and lastUpdateID, in preparation for a newly admitted snapshot fetch.
func (c *Cache) clearAnchor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshRequest = false
	c.hasAnchor = false
	c.lastUpdateID = 0
}

// enterGapRecovery reacts to a continuity-check failure on an already
// synchronized cache: isSynchronized and the anchor are cleared immediately
// and a refresh is requested, so a subsequent diff cannot be mistakenly
// stitched onto a stale lastUpdateID.
func (c *Cache) enterGapRecovery() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isSynchronized = false
	c.hasAnchor = false
	c.lastUpdateID = 0
	c.refreshRequest = true
}

// markAwaitingSnapshot drops the cache out of synchronization while a new
// snapshot is in flight or pending admission. Existing book contents are
// left untouched; they are only cleared once the new snapshot is applied.
func (c *Cache) markAwaitingSnapshot() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isSynchronized = false
}

// applySnapshot anchors the cache on a freshly fetched snapshot: both book
// sides are reset and repopulated, and lastUpdateID/lastRefreshTime are
// updated. This does not mark the cache synchronized — per the stitching
// algorithm, only the first diff event that matches the new anchor does
// that (dispatchAwaitingSnapshot).
func (c *Cache) applySnapshot(snap Snapshot, now time.Time) {
	c.Asks.Reset()
	c.Bids.Reset()
	for _, lvl := range snap.Asks {
		c.Asks.Apply(lvl.Price, lvl.Quantity)
	}
	for _, lvl := range snap.Bids {
		c.Bids.Apply(lvl.Price, lvl.Quantity)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUpdateID = snap.LastUpdateID
	c.hasAnchor = true
	c.lastRefreshTime = now
	c.refreshRequest = false
}

// applyDiff merges one diff event's levels into both book sides and
// advances the tracked last-update ID. Callers must have already verified
// continuity before calling this.
func (c *Cache) applyDiff(ev DiffEvent) {
	for _, lvl := range ev.Asks {
		c.Asks.Apply(lvl.Price, lvl.Quantity)
	}
	for _, lvl := range ev.Bids {
		c.Bids.Apply(lvl.Price, lvl.Quantity)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUpdateID = ev.FinalUpdateID
	c.isSynchronized = true
}

func (c *Cache) setStreamStatus(status StreamStatus, streamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamStatus = status
	if streamID != "" {
		c.streamID = streamID
	}
}
