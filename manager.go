package depthcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds Manager construction parameters. Zero-value fields take the
// defaults documented on each, applied by NewManager.
type Config struct {
	// Exchange selects the continuity rules and snapshot endpoint family
	// applied to every market this Manager tracks.
	Exchange Exchange

	// DefaultRefreshInterval is the proactive re-anchor period applied to
	// caches created without an explicit WithRefreshInterval option. Zero
	// disables proactive refresh.
	DefaultRefreshInterval time.Duration

	// InitInterval is the minimum gap between any two admitted snapshots
	// across the whole manager. Defaults to 500ms.
	InitInterval time.Duration
	// InitTimeWindow is the minimum gap between two admitted snapshots for
	// the same market. Defaults to 5s.
	InitTimeWindow time.Duration
	// HighPerformance bypasses the Init Gate entirely when true.
	HighPerformance bool

	// WebsocketCloseTimeout, WebsocketPingInterval, WebsocketPingTimeout
	// are recorded here but not read by Manager, which does not construct
	// the Multiplexer; internal/stream takes its own values through
	// WithWebsocketTimeouts.
	WebsocketCloseTimeout time.Duration
	WebsocketPingInterval time.Duration
	WebsocketPingTimeout  time.Duration

	// MaxUsedWeight is the REST weight ceiling (defaults to 2200). Manager
	// does not read it; internal/snapshot's Fetcher takes its ceiling from
	// its own WithMaxUsedWeight option.
	MaxUsedWeight int
	// StreamCapacity is the maximum number of markets per WebSocket
	// connection (defaults to 100). Manager does not read it;
	// internal/stream's Multiplexer takes its capacity from WithCapacity.
	StreamCapacity int

	// SnapshotTimeout bounds each individual snapshot REST call. Defaults
	// to 10s.
	SnapshotTimeout time.Duration

	// NotifySubject names the lifecycle broadcaster's subject. Manager does
	// not read it: whether lifecycle events are published depends only on
	// Notifier being set, and the subject is the one the Notifier itself
	// was built with (internal/notify.NewBroadcaster).
	NotifySubject string

	// Fetcher and Multiplexer are constructed by the caller, not this
	// package: the diff-cadence channel suffix (spec's
	// depth_cache_update_interval, e.g. "depth@100ms") is a property of the
	// Multiplexer's subscription naming, not of the cache/dispatch state
	// this Config governs, so it is configured directly on the Multiplexer
	// implementation (internal/stream.WithUpdateInterval) rather than
	// threaded through here.
	Fetcher     SnapshotFetcher
	Multiplexer Multiplexer
	Notifier    Notifier
}

func (c Config) withDefaults() Config {
	if c.InitInterval <= 0 {
		c.InitInterval = 500 * time.Millisecond
	}
	if c.InitTimeWindow <= 0 {
		c.InitTimeWindow = 5 * time.Second
	}
	if c.MaxUsedWeight <= 0 {
		c.MaxUsedWeight = 2200
	}
	if c.StreamCapacity <= 0 {
		c.StreamCapacity = 100
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = 10 * time.Second
	}
	return c
}

// Manager is the top-level depth-cache engine: it owns the market
// registry, the Init Gate, and the configured Snapshot Fetcher and
// Multiplexer, and implements Handler so a Multiplexer can deliver events
// directly into the dispatcher.
type Manager struct {
	config  Config
	fetcher SnapshotFetcher
	mux     Multiplexer
	initGate *InitGate

	registryMu sync.RWMutex
	registry   map[string]*Cache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// NewManager constructs a Manager from cfg. cfg.Fetcher and cfg.Multiplexer
// must be non-nil; cfg.Notifier may be nil, in which case lifecycle events
// are discarded.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("depthcache: Config.Fetcher is required")
	}
	if cfg.Multiplexer == nil {
		return nil, fmt.Errorf("depthcache: Config.Multiplexer is required")
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:   cfg,
		fetcher:  cfg.Fetcher,
		mux:      cfg.Multiplexer,
		initGate: NewInitGate(cfg.InitInterval, cfg.InitTimeWindow),
		registry: make(map[string]*Cache),
		ctx:      ctx,
		cancel:   cancel,
	}
	return m, nil
}

// CacheOption configures a single market at CreateDepthCache time.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	refreshInterval time.Duration
	hasRefresh      bool
}

// WithRefreshInterval overrides Config.DefaultRefreshInterval for the
// markets passed to this CreateDepthCache call.
func WithRefreshInterval(d time.Duration) CacheOption {
	return func(o *cacheOptions) {
		o.refreshInterval = d
		o.hasRefresh = true
	}
}

// CreateDepthCache begins tracking markets: each is allocated a Cache,
// assigned to a stream via the configured Multiplexer, and immediately
// eligible for dispatch. It is idempotent per market — a market already
// tracked is left untouched.
func (m *Manager) CreateDepthCache(ctx context.Context, markets []string, opts ...CacheOption) error {
	var applied cacheOptions
	for _, opt := range opts {
		opt(&applied)
	}
	refreshInterval := m.config.DefaultRefreshInterval
	if applied.hasRefresh {
		refreshInterval = applied.refreshInterval
	}

	for _, raw := range markets {
		market := CanonicalMarket(raw)

		m.registryMu.Lock()
		if _, exists := m.registry[market]; exists {
			m.registryMu.Unlock()
			continue
		}
		cache := newCache(market, m.config.Exchange, refreshInterval)
		m.registry[market] = cache
		m.registryMu.Unlock()

		streamID, err := m.mux.Subscribe(ctx, market)
		if err != nil {
			m.registryMu.Lock()
			delete(m.registry, market)
			m.registryMu.Unlock()
			return fmt.Errorf("depthcache: subscribe %s: %w", market, err)
		}
		cache.setStreamStatus(StreamConnected, streamID)
		cache.requestRefresh()
	}
	return nil
}

// StopDepthCache marks markets for teardown: each is unsubscribed from its
// stream and removed from the registry. Further reads return ErrNotFound.
func (m *Manager) StopDepthCache(markets ...string) error {
	for _, raw := range markets {
		market := CanonicalMarket(raw)

		m.registryMu.Lock()
		cache, ok := m.registry[market]
		if ok {
			delete(m.registry, market)
		}
		m.registryMu.Unlock()
		if !ok {
			return fmt.Errorf("%s: %w", market, ErrNotFound)
		}

		cache.requestStop()
		m.initGate.forget(market)
		if err := m.mux.Unsubscribe(market); err != nil {
			return fmt.Errorf("depthcache: unsubscribe %s: %w", market, err)
		}
		m.notifier().NotifyStopped(market)
	}
	return nil
}

// ViewOption configures a single GetAsks/GetBids call.
type ViewOption func(*viewOptions)

type viewOptions struct {
	limit           int
	thresholdVolume decimal.Decimal
}

// WithLimit truncates a view to at most n levels.
func WithLimit(n int) ViewOption {
	return func(o *viewOptions) { o.limit = n }
}

// WithThresholdVolume truncates a view to the longest prefix whose
// cumulative notional does not exceed v, always including the first level.
func WithThresholdVolume(v decimal.Decimal) ViewOption {
	return func(o *viewOptions) { o.thresholdVolume = v }
}

func (m *Manager) lookup(market string) (*Cache, error) {
	m.registryMu.RLock()
	cache, ok := m.registry[CanonicalMarket(market)]
	m.registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", market, ErrNotFound)
	}
	if cache.isStopRequested() {
		return nil, fmt.Errorf("%s: %w", market, ErrAlreadyStopped)
	}
	return cache, nil
}

// GetAsks returns the current ask side of market's book, ascending by
// price, subject to opts.
func (m *Manager) GetAsks(market string, opts ...ViewOption) ([]PriceLevel, error) {
	cache, err := m.lookup(market)
	if err != nil {
		return nil, err
	}
	if !cache.IsSynchronized() {
		return nil, fmt.Errorf("%s: %w", market, ErrOutOfSync)
	}
	var o viewOptions
	for _, opt := range opts {
		opt(&o)
	}
	return cache.Asks.View(false, o.limit, o.thresholdVolume), nil
}

// GetBids returns the current bid side of market's book, descending by
// price, subject to opts.
func (m *Manager) GetBids(market string, opts ...ViewOption) ([]PriceLevel, error) {
	cache, err := m.lookup(market)
	if err != nil {
		return nil, err
	}
	if !cache.IsSynchronized() {
		return nil, fmt.Errorf("%s: %w", market, ErrOutOfSync)
	}
	var o viewOptions
	for _, opt := range opts {
		opt(&o)
	}
	return cache.Bids.View(true, o.limit, o.thresholdVolume), nil
}

// IsDepthCacheSynchronized reports whether market's cache currently holds a
// continuous, snapshot-anchored view of the book.
func (m *Manager) IsDepthCacheSynchronized(market string) (bool, error) {
	cache, err := m.lookup(market)
	if err != nil {
		return false, err
	}
	return cache.IsSynchronized(), nil
}

// ListDepthCaches returns the canonical identifiers of every market
// currently tracked, in no particular order.
func (m *Manager) ListDepthCaches() []string {
	m.registryMu.RLock()
	defer m.registryMu.RUnlock()
	out := make([]string, 0, len(m.registry))
	for market := range m.registry {
		out = append(out, market)
	}
	return out
}

// SetRefreshRequest forces markets to re-anchor on their next dispatch
// turn, bypassing the refresh-interval check (the Init Gate still applies
// unless HighPerformance is set).
func (m *Manager) SetRefreshRequest(markets ...string) error {
	for _, raw := range markets {
		cache, err := m.lookup(raw)
		if err != nil {
			return err
		}
		cache.requestRefresh()
	}
	return nil
}

// Stop tears the manager down: its context is cancelled, which aborts any
// in-flight snapshot fetch, outstanding snapshot workers are awaited, and
// the Multiplexer is closed. Dispatch itself runs on the Multiplexer's own
// goroutines, which stop when the Multiplexer is closed.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
		m.mux.Close()
	})
}
