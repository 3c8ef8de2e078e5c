package depthcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type fakeFetcher struct {
	mu        sync.Mutex
	snapshots map[string]Snapshot
	errs      map[string]error
	calls     int
	block     chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, market string) (Snapshot, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if err, ok := f.errs[market]; ok {
		return Snapshot{}, err
	}
	return f.snapshots[market], nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeMux struct {
	subscribed map[string]string
	closed     bool
}

func newFakeMux() *fakeMux { return &fakeMux{subscribed: make(map[string]string)} }

func (f *fakeMux) Subscribe(ctx context.Context, market string) (string, error) {
	f.subscribed[market] = "stream-0"
	return "stream-0", nil
}

func (f *fakeMux) Unsubscribe(market string) error {
	delete(f.subscribed, market)
	return nil
}

func (f *fakeMux) Close() error {
	f.closed = true
	return nil
}

func newTestManager(t *testing.T, exchange Exchange) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Exchange:    exchange,
		Fetcher:     &fakeFetcher{snapshots: map[string]Snapshot{}, errs: map[string]error{}},
		Multiplexer: newFakeMux(),
	})
	assert.NoError(t, err)
	return m
}

func registerCache(m *Manager, market string) *Cache {
	c := newCache(market, m.config.Exchange, 0)
	m.registryMu.Lock()
	m.registry[market] = c
	m.registryMu.Unlock()
	return c
}

func lvl(price string, qty string) PriceLevel {
	return PriceLevel{Price: price, Quantity: decimal.RequireFromString(qty)}
}

// Scenario: a spot cache anchored on a snapshot (lastUpdateID=100) receives
// a diff whose U..u window straddles the anchor (U=95, u=105); it must
// stitch, apply, and become synchronized with lastUpdateID=105.
func TestDispatchSpotStitchesSnapshotToStream(t *testing.T) {
	m := newTestManager(t, ExchangeSpot)
	cache := registerCache(m, "btcusdt")
	cache.applySnapshot(Snapshot{
		LastUpdateID: 100,
		Asks:         []PriceLevel{lvl("100.0", "1")},
		Bids:         []PriceLevel{lvl("99.0", "1")},
	}, time.Now())
	assert.False(t, cache.IsSynchronized())

	m.dispatch(DiffEvent{
		Market: "btcusdt", FirstUpdateID: 95, FinalUpdateID: 105,
		Asks: []PriceLevel{lvl("100.5", "2")},
	})

	assert.True(t, cache.IsSynchronized())
	last, ok := cache.LastUpdateID()
	assert.True(t, ok)
	assert.EqualValues(t, 105, last)
	asks := cache.Asks.View(false, 0, decimal.Zero)
	assert.Len(t, asks, 2)
}

// Spot: a diff entirely older than the anchor (u <= lastUpdateID) is
// discarded without changing state.
func TestDispatchSpotDiscardsStaleDiffDuringStitch(t *testing.T) {
	m := newTestManager(t, ExchangeSpot)
	cache := registerCache(m, "btcusdt")
	cache.applySnapshot(Snapshot{LastUpdateID: 100}, time.Now())

	m.dispatch(DiffEvent{Market: "btcusdt", FirstUpdateID: 90, FinalUpdateID: 99})

	assert.False(t, cache.IsSynchronized())
	last, _ := cache.LastUpdateID()
	assert.EqualValues(t, 100, last)
}

// Spot: once synchronized, the next diff must carry U == lastUpdateID+1 or
// the cache re-enters AWAITING_SNAPSHOT and requests a refresh.
func TestDispatchSpotContinuityGapForcesRefresh(t *testing.T) {
	m := newTestManager(t, ExchangeSpot)
	cache := registerCache(m, "btcusdt")
	cache.applySnapshot(Snapshot{LastUpdateID: 100}, time.Now())
	m.dispatch(DiffEvent{Market: "btcusdt", FirstUpdateID: 101, FinalUpdateID: 101})
	assert.True(t, cache.IsSynchronized())

	// A gap: expected FirstUpdateID 102, got 110.
	m.dispatch(DiffEvent{Market: "btcusdt", FirstUpdateID: 110, FinalUpdateID: 120})

	assert.False(t, cache.IsSynchronized())
	_, hasAnchor := cache.LastUpdateID()
	assert.False(t, hasAnchor, "a continuity gap must clear the anchor so late stitches can't reuse it")
}

// Futures: stitching uses the inclusive window U <= lastUpdateID <= u
// (no +1), and continuity afterward checks pu == lastUpdateID.
func TestDispatchFuturesStitchAndContinuity(t *testing.T) {
	m := newTestManager(t, ExchangeFutures)
	cache := registerCache(m, "btcusdt")
	cache.applySnapshot(Snapshot{LastUpdateID: 100}, time.Now())

	m.dispatch(DiffEvent{Market: "btcusdt", FirstUpdateID: 95, FinalUpdateID: 100})
	assert.True(t, cache.IsSynchronized())

	m.dispatch(DiffEvent{
		Market: "btcusdt", FirstUpdateID: 101, FinalUpdateID: 102,
		PrevFinalUpdateID: 100, HasPrevFinalUpdateID: true,
	})
	assert.True(t, cache.IsSynchronized())
	last, _ := cache.LastUpdateID()
	assert.EqualValues(t, 102, last)

	// pu mismatch: gap.
	m.dispatch(DiffEvent{
		Market: "btcusdt", FirstUpdateID: 110, FinalUpdateID: 112,
		PrevFinalUpdateID: 105, HasPrevFinalUpdateID: true,
	})
	assert.False(t, cache.IsSynchronized())
}

// A cache with stopRequest set discards every incoming diff.
func TestDispatchDiscardsAfterStopRequested(t *testing.T) {
	m := newTestManager(t, ExchangeSpot)
	cache := registerCache(m, "btcusdt")
	cache.applySnapshot(Snapshot{LastUpdateID: 100}, time.Now())
	m.dispatch(DiffEvent{Market: "btcusdt", FirstUpdateID: 101, FinalUpdateID: 101})
	assert.True(t, cache.IsSynchronized())

	cache.requestStop()
	m.dispatch(DiffEvent{Market: "btcusdt", FirstUpdateID: 102, FinalUpdateID: 102})
	last, _ := cache.LastUpdateID()
	assert.EqualValues(t, 101, last, "stopped cache must not apply further diffs")
}

// A diff for a market absent from the registry (never created, or already
// stopped and removed) is silently discarded.
func TestDispatchDiscardsUnknownMarket(t *testing.T) {
	m := newTestManager(t, ExchangeSpot)
	assert.NotPanics(t, func() {
		m.dispatch(DiffEvent{Market: "ethusdt", FirstUpdateID: 1, FinalUpdateID: 1})
	})
}

// HandleSignal(SignalDisconnect) must desynchronize every cache riding the
// affected stream and clear its anchor so the next event drives a fresh
// snapshot fetch.
func TestHandleSignalDisconnectDesynchronizesCaches(t *testing.T) {
	m := newTestManager(t, ExchangeSpot)
	cache := registerCache(m, "btcusdt")
	cache.applySnapshot(Snapshot{LastUpdateID: 100}, time.Now())
	m.dispatch(DiffEvent{Market: "btcusdt", FirstUpdateID: 101, FinalUpdateID: 101})
	assert.True(t, cache.IsSynchronized())

	m.HandleSignal("stream-0", SignalDisconnect, []string{"btcusdt"})

	assert.False(t, cache.IsSynchronized())
	_, hasAnchor := cache.LastUpdateID()
	assert.False(t, hasAnchor)
	status, _ := cache.StreamStatus()
	assert.Equal(t, StreamDisconnected, status)
}

// The refresh gate: an admitted refresh clears the anchor and fetches a
// fresh snapshot in the goroutine beginRefresh spawns; waiting on the
// manager's WaitGroup keeps this test deterministic.
func TestBeginRefreshAppliesNewSnapshotOnAdmission(t *testing.T) {
	m := newTestManager(t, ExchangeSpot)
	m.config.HighPerformance = true // bypass Init Gate timing in this test
	fetcher := m.fetcher.(*fakeFetcher)
	fetcher.snapshots["btcusdt"] = Snapshot{LastUpdateID: 200}

	cache := registerCache(m, "btcusdt")
	cache.requestRefresh()

	m.beginRefresh(cache, time.Now())
	m.wg.Wait()

	last, hasAnchor := cache.LastUpdateID()
	assert.True(t, hasAnchor)
	assert.EqualValues(t, 200, last)
	assert.False(t, cache.IsSynchronized(), "snapshot alone must not mark synchronized")
}

// A failed snapshot fetch leaves refreshRequest set for a later retry and
// never panics or marks the cache synchronized.
func TestBeginRefreshFailureLeavesRefreshRequested(t *testing.T) {
	m := newTestManager(t, ExchangeSpot)
	m.config.HighPerformance = true
	fetcher := m.fetcher.(*fakeFetcher)
	fetcher.errs["btcusdt"] = errors.New("boom")

	cache := registerCache(m, "btcusdt")
	cache.requestRefresh()

	m.beginRefresh(cache, time.Now())
	m.wg.Wait()

	assert.True(t, cache.consumeRefreshRequestIfSet())
	assert.False(t, cache.IsSynchronized())
}

// Init Gate drop: when the gate is saturated, beginRefresh leaves
// refreshRequest set without spawning a snapshot fetch.
func TestBeginRefreshDroppedByInitGateDoesNotFetch(t *testing.T) {
	m := newTestManager(t, ExchangeSpot)
	fetcher := m.fetcher.(*fakeFetcher)
	cache := registerCache(m, "btcusdt")
	cache.requestRefresh()

	now := time.Now()
	m.initGate.lastGlobal = now // saturate the global window
	m.beginRefresh(cache, now)
	m.wg.Wait()

	assert.Equal(t, 0, fetcher.calls)
	assert.True(t, cache.consumeRefreshRequestIfSet())
}

// Under HighPerformance (which bypasses the Init Gate), a burst of diffs
// arriving while a snapshot fetch is already outstanding for a market must
// not spawn a second, concurrent fetch for that same market.
func TestDispatchDoesNotSpawnConcurrentRefreshWhileOneInFlight(t *testing.T) {
	m := newTestManager(t, ExchangeSpot)
	m.config.HighPerformance = true
	fetcher := m.fetcher.(*fakeFetcher)
	fetcher.block = make(chan struct{})
	fetcher.snapshots["btcusdt"] = Snapshot{LastUpdateID: 200}

	cache := registerCache(m, "btcusdt")
	cache.requestRefresh()

	// First diff admits the refresh and blocks inside Fetch.
	m.dispatch(DiffEvent{Market: "btcusdt", FirstUpdateID: 1, FinalUpdateID: 1})

	// A burst of further diffs arrives before the fetch returns. None of
	// them may spawn a second concurrent fetch for the same market.
	for i := 0; i < 5; i++ {
		m.dispatch(DiffEvent{Market: "btcusdt", FirstUpdateID: 2, FinalUpdateID: 2})
	}
	assert.Equal(t, 1, fetcher.callCount())

	close(fetcher.block)
	m.wg.Wait()

	assert.Equal(t, 1, fetcher.callCount())
	last, hasAnchor := cache.LastUpdateID()
	assert.True(t, hasAnchor)
	assert.EqualValues(t, 200, last)
}
