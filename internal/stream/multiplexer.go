// Package stream multiplexes many markets' diff streams onto a small
// number of shared WebSocket connections, grounded on the teacher's
// WSStreamClient/BinanceWSConn pattern (pkg/exchange/binance).
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bullionbear/depthcache"
)

const (
	spotStreamBaseURL    = "wss://stream.binance.com:9443"
	futuresStreamBaseURL = "wss://fstream.binance.com"
)

// Multiplexer implements depthcache.Multiplexer over gorilla/websocket. It
// packs subscribed markets onto a bounded number of connections
// (Config.StreamCapacity markets each) and routes every connection's
// events to the same depthcache.Handler.
type Multiplexer struct {
	baseURL  string
	capacity int

	closeTimeout   time.Duration
	pingInterval   time.Duration
	pingTimeout    time.Duration
	updateInterval time.Duration

	handler depthcache.Handler
	log     zerolog.Logger

	mu          sync.Mutex
	connections map[string]*connection
	byMarket    map[string]*connection
}

type Option func(*Multiplexer)

func WithCapacity(n int) Option {
	return func(m *Multiplexer) {
		if n > 0 {
			m.capacity = n
		}
	}
}

func WithWebsocketTimeouts(closeTimeout, pingInterval, pingTimeout time.Duration) Option {
	return func(m *Multiplexer) {
		m.closeTimeout = closeTimeout
		m.pingInterval = pingInterval
		m.pingTimeout = pingTimeout
	}
}

// WithUpdateInterval sets the diff-cadence suffix (e.g. "@100ms") appended
// to every market's combined-stream channel name. Zero defers to the
// vendor's own default update speed.
func WithUpdateInterval(d time.Duration) Option {
	return func(m *Multiplexer) { m.updateInterval = d }
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Multiplexer) { m.log = log }
}

// NewMultiplexer constructs a Multiplexer that will deliver every event and
// signal to handler. handler is typically a *depthcache.Manager.
func NewMultiplexer(exchange depthcache.Exchange, handler depthcache.Handler, opts ...Option) *Multiplexer {
	m := &Multiplexer{
		capacity:    100,
		handler:     handler,
		log:         zerolog.Nop(),
		connections: make(map[string]*connection),
		byMarket:    make(map[string]*connection),
	}
	if exchange == depthcache.ExchangeFutures {
		m.baseURL = futuresStreamBaseURL
	} else {
		m.baseURL = spotStreamBaseURL
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe attaches market to a connection with spare capacity, dialing a
// new one if every existing connection is full.
func (m *Multiplexer) Subscribe(ctx context.Context, market string) (string, error) {
	market = depthcache.CanonicalMarket(market)

	m.mu.Lock()
	if conn, ok := m.byMarket[market]; ok {
		m.mu.Unlock()
		return conn.id, nil
	}

	var target *connection
	for _, conn := range m.connections {
		if len(conn.marketList()) < m.capacity {
			target = conn
			break
		}
	}
	if target == nil {
		target = newConnection(uuid.NewString(), m.baseURL, m.handler, m.log, m.closeTimeout, m.pingInterval, m.pingTimeout, m.updateInterval)
		m.connections[target.id] = target
	}
	m.byMarket[market] = target
	m.mu.Unlock()

	if err := target.addMarket(market); err != nil {
		m.mu.Lock()
		delete(m.byMarket, market)
		m.mu.Unlock()
		return "", fmt.Errorf("subscribe %s: %w", market, err)
	}
	return target.id, nil
}

// Unsubscribe detaches market from whatever connection it rides on. A
// connection left with no markets is closed and discarded.
func (m *Multiplexer) Unsubscribe(market string) error {
	market = depthcache.CanonicalMarket(market)

	m.mu.Lock()
	conn, ok := m.byMarket[market]
	delete(m.byMarket, market)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	remaining, err := conn.removeMarket(market)
	if remaining == 0 {
		m.mu.Lock()
		delete(m.connections, conn.id)
		m.mu.Unlock()
		conn.close()
	}
	return err
}

// Close tears down every connection the multiplexer owns.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	conns := make([]*connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.connections = make(map[string]*connection)
	m.byMarket = make(map[string]*connection)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c *connection) {
			defer wg.Done()
			c.close()
		}(conn)
	}
	wg.Wait()
	return nil
}
