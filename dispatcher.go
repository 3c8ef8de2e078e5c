package depthcache

import (
	"context"
	"time"
)

// dispatch runs the full §4.6 algorithm for one diff event against its
// target cache. It is called from the stream handler goroutine that owns
// the event's stream, strictly in arrival order for that stream, so no
// additional per-event synchronization is needed beyond the cache's own
// locks.
func (m *Manager) dispatch(ev DiffEvent) {
	market := CanonicalMarket(ev.Market)

	m.registryMu.RLock()
	cache, ok := m.registry[market]
	m.registryMu.RUnlock()
	if !ok {
		return
	}

	// Stop gate.
	if cache.isStopRequested() {
		return
	}

	// Refresh gate.
	if cache.consumeRefreshRequestIfSet() {
		m.beginRefresh(cache, time.Now())
		return
	}

	if cache.IsSynchronized() {
		m.dispatchSynchronized(cache, ev)
		return
	}
	m.dispatchAwaitingSnapshot(cache, ev)
}

// dispatchSynchronized validates continuity on an already-anchored cache
// and, on success, either applies the event or requests a proactive
// refresh when the configured refresh interval has elapsed.
func (m *Manager) dispatchSynchronized(cache *Cache, ev DiffEvent) {
	lastID, hasAnchor := cache.LastUpdateID()
	if !hasAnchor {
		cache.enterGapRecovery()
		m.notifier().NotifyDesynchronized(cache.Market(), ErrContinuityGap)
		return
	}

	ok := false
	switch cache.Exchange() {
	case ExchangeFutures:
		ok = ev.HasPrevFinalUpdateID && ev.PrevFinalUpdateID == lastID
	default:
		ok = ev.FirstUpdateID == lastID+1
	}
	if !ok {
		cache.enterGapRecovery()
		m.notifier().NotifyDesynchronized(cache.Market(), ErrContinuityGap)
		return
	}

	if cache.refreshDue(time.Now()) {
		m.requestRefreshAndNotify(cache, nil)
		return
	}

	cache.applyDiff(ev)
}

// dispatchAwaitingSnapshot attempts to stitch a diff onto a cache whose
// book sides are anchored but not yet confirmed synchronized (either
// freshly snapshotted, or mid-resync after a gap).
func (m *Manager) dispatchAwaitingSnapshot(cache *Cache, ev DiffEvent) {
	lastID, hasAnchor := cache.LastUpdateID()
	if !hasAnchor {
		return
	}

	switch cache.Exchange() {
	case ExchangeFutures:
		if ev.FinalUpdateID < lastID {
			return
		}
		if ev.FirstUpdateID <= lastID && lastID <= ev.FinalUpdateID {
			cache.applyDiff(ev)
			m.notifier().NotifySynchronized(cache.Market())
			return
		}
		m.requestRefreshAndNotify(cache, ErrContinuityGap)
	default:
		if ev.FinalUpdateID <= lastID {
			return
		}
		if ev.FirstUpdateID <= lastID+1 && lastID+1 <= ev.FinalUpdateID {
			cache.applyDiff(ev)
			m.notifier().NotifySynchronized(cache.Market())
			return
		}
		m.requestRefreshAndNotify(cache, ErrContinuityGap)
	}
}

// beginRefresh consults the Init Gate and, on admission, spawns a
// background snapshot fetch. A drop leaves refreshRequest set so the next
// event retries the gate. Admission also marks the cache's refresh in
// flight, so a second diff arriving before runSnapshot returns (most
// notably under HighPerformance, which bypasses the Init Gate) cannot spawn
// a concurrent fetch for the same market.
func (m *Manager) beginRefresh(cache *Cache, now time.Time) {
	cache.markAwaitingSnapshot()

	decision := GateInit
	if !m.config.HighPerformance {
		decision = m.initGate.TryAcquire(cache.Market(), now)
	}
	if decision == GateDrop {
		cache.requestRefresh()
		return
	}

	cache.clearAnchor()
	cache.markRefreshInFlight()
	m.wg.Add(1)
	go m.runSnapshot(cache)
}

// runSnapshot fetches a fresh snapshot for cache and anchors it on
// success. Failure simply leaves refreshRequest set for a later retry; the
// fetcher itself is responsible for weight-ceiling backoff. The in-flight
// flag clears on both paths, re-opening the refresh gate for the next
// admission.
func (m *Manager) runSnapshot(cache *Cache) {
	defer m.wg.Done()
	defer cache.clearRefreshInFlight()

	ctx, cancel := context.WithTimeout(m.ctx, m.snapshotTimeout())
	defer cancel()

	snap, err := m.fetcher.Fetch(ctx, cache.Market())
	if err != nil {
		cache.requestRefresh()
		m.notifier().NotifyDesynchronized(cache.Market(), err)
		return
	}
	cache.applySnapshot(snap, time.Now())
}

func (m *Manager) requestRefreshAndNotify(cache *Cache, cause error) {
	cache.requestRefresh()
	cache.markAwaitingSnapshot()
	if cause != nil {
		m.notifier().NotifyDesynchronized(cache.Market(), cause)
	}
}

// HandleDiff implements Handler. It is invoked directly by a Multiplexer's
// stream-handler goroutine.
func (m *Manager) HandleDiff(ev DiffEvent) {
	m.dispatch(ev)
}

// HandleSignal implements Handler: it reacts to connection-lifecycle
// transitions for every market currently riding the affected stream.
func (m *Manager) HandleSignal(streamID string, kind SignalKind, markets []string) {
	switch kind {
	case SignalConnect:
		m.setStreamStatus(markets, StreamConnected, streamID)
	case SignalFirstData:
		m.setStreamStatus(markets, StreamRunning, streamID)
	case SignalDisconnect:
		m.setStreamStatus(markets, StreamDisconnected, streamID)
		for _, market := range markets {
			m.registryMu.RLock()
			cache, ok := m.registry[CanonicalMarket(market)]
			m.registryMu.RUnlock()
			if !ok {
				continue
			}
			cache.clearAnchor()
			m.requestRefreshAndNotify(cache, ErrTransportFault)
		}
	case SignalStop:
		m.setStreamStatus(markets, StreamStopped, streamID)
	}
}

func (m *Manager) setStreamStatus(markets []string, status StreamStatus, streamID string) {
	m.registryMu.RLock()
	defer m.registryMu.RUnlock()
	for _, market := range markets {
		if cache, ok := m.registry[CanonicalMarket(market)]; ok {
			cache.setStreamStatus(status, streamID)
		}
	}
}

func (m *Manager) notifier() Notifier {
	if m.config.Notifier == nil {
		return NoopNotifier{}
	}
	return m.config.Notifier
}

func (m *Manager) snapshotTimeout() time.Duration {
	if m.config.SnapshotTimeout > 0 {
		return m.config.SnapshotTimeout
	}
	return 10 * time.Second
}
