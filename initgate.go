package depthcache

import (
	"sync"
	"time"
)

// InitGate throttles snapshot (re-)initiation so that a burst of markets
// coming online, or a burst of continuity gaps, does not exhaust the
// exchange's REST weight budget in one instant (§4.3).
//
// Two independent windows are enforced: a global window shared across every
// market, so no more than one snapshot request is admitted per
// initInterval across the whole manager, and a per-market window, so a
// single flapping market cannot retry faster than initTimeWindow.
type InitGate struct {
	mu sync.Mutex

	initInterval   time.Duration
	initTimeWindow time.Duration

	lastGlobal    time.Time
	lastPerMarket map[string]time.Time
}

func NewInitGate(initInterval, initTimeWindow time.Duration) *InitGate {
	return &InitGate{
		initInterval:   initInterval,
		initTimeWindow: initTimeWindow,
		lastPerMarket:  make(map[string]time.Time),
	}
}

// TryAcquire tests whether a snapshot may be initiated for market right
// now. The per-market window is checked first: if market itself was
// admitted too recently, the request is dropped regardless of the global
// window. Otherwise the global window is checked. Only when both windows
// are clear is the request admitted, and both windows' clocks reset to now.
func (g *InitGate) TryAcquire(market string, now time.Time) GateDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.lastPerMarket[market]; ok && g.initTimeWindow > 0 && now.Sub(last) < g.initTimeWindow {
		return GateDrop
	}
	if !g.lastGlobal.IsZero() && g.initInterval > 0 && now.Sub(g.lastGlobal) < g.initInterval {
		return GateDrop
	}

	g.lastPerMarket[market] = now
	g.lastGlobal = now
	return GateInit
}

// forget removes a market's per-market window entry, e.g. after it is
// stopped, so the map does not grow unbounded across a long-running
// manager's lifetime.
func (g *InitGate) forget(market string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.lastPerMarket, market)
}
