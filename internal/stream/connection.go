package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bullionbear/depthcache"
)

const reconnectDelay = 5 * time.Second

// connection owns one WebSocket link carrying the combined stream for a
// set of markets. Adding or removing a market rebuilds the stream URL and
// redials, grounded on the teacher's BinanceWSConn read/ping-loop pattern.
type connection struct {
	id      string
	baseURL string

	mu      sync.Mutex
	markets map[string]bool
	conn    *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	closeTimeout  time.Duration
	pingInterval  time.Duration
	pingTimeout   time.Duration
	channelSuffix string

	handler depthcache.Handler
	log     zerolog.Logger

	wg sync.WaitGroup
}

func newConnection(id, baseURL string, handler depthcache.Handler, log zerolog.Logger, closeTimeout, pingInterval, pingTimeout, updateInterval time.Duration) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{
		id:            id,
		baseURL:       baseURL,
		markets:       make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
		closeTimeout:  closeTimeout,
		pingInterval:  pingInterval,
		pingTimeout:   pingTimeout,
		channelSuffix: updateChannelSuffix(updateInterval),
		handler:       handler,
		log:           log.With().Str("stream_id", id).Logger(),
	}
}

// updateChannelSuffix renders WithUpdateInterval's configured duration into
// the exchange's diff-cadence channel suffix (e.g. "@100ms"); zero defers
// to the vendor's own default update speed, appending nothing.
func updateChannelSuffix(updateInterval time.Duration) string {
	if updateInterval <= 0 {
		return ""
	}
	return fmt.Sprintf("@%dms", updateInterval.Milliseconds())
}

func (c *connection) streamURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.markets))
	for market := range c.markets {
		names = append(names, fmt.Sprintf("%s@depth%s", market, c.channelSuffix))
	}
	return fmt.Sprintf("%s/stream?streams=%s", c.baseURL, strings.Join(names, "/"))
}

// addMarket adds market to the connection's set and redials so the
// combined stream URL reflects it.
func (c *connection) addMarket(market string) error {
	c.mu.Lock()
	c.markets[market] = true
	c.mu.Unlock()
	return c.redial()
}

// removeMarket drops market from the set. It reports whether any markets
// remain; when none do, the caller should close the connection.
func (c *connection) removeMarket(market string) (remaining int, err error) {
	c.mu.Lock()
	delete(c.markets, market)
	remaining = len(c.markets)
	c.mu.Unlock()
	if remaining == 0 {
		return 0, nil
	}
	return remaining, c.redial()
}

func (c *connection) marketList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.markets))
	for m := range c.markets {
		out = append(out, m)
	}
	return out
}

func (c *connection) redial() error {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(c.ctx, c.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.id, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.pingLoop(conn)

	c.handler.HandleSignal(c.id, depthcache.SignalConnect, c.marketList())
	return nil
}

// isCurrent reports whether conn is still the connection's active socket,
// i.e. no redial or close has superseded it. readLoop and pingLoop are
// scoped to one generation each so a redial's new goroutines never race
// the previous generation's.
func (c *connection) isCurrent(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn
}

func (c *connection) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	first := true
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}
		if !c.isCurrent(conn) {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil || !c.isCurrent(conn) {
				return
			}
			c.log.Warn().Err(err).Msg("websocket read error")
			c.handleDisconnect(conn)
			return
		}

		ev, ok, err := parseFrame(raw)
		if err != nil {
			c.log.Debug().Err(err).Msg("discarding unparseable frame")
			continue
		}
		if !ok {
			continue
		}
		if first {
			first = false
			c.handler.HandleSignal(c.id, depthcache.SignalFirstData, c.marketList())
		}
		c.handler.HandleDiff(ev)
	}
}

func (c *connection) pingLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.pingIntervalOrDefault())
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.isCurrent(conn) {
				return
			}
			if err := conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(c.pingTimeoutOrDefault())); err != nil {
				c.log.Debug().Err(err).Msg("pong write failed")
			}
		}
	}
}

func (c *connection) pingIntervalOrDefault() time.Duration {
	if c.pingInterval > 0 {
		return c.pingInterval
	}
	return 20 * time.Second
}

func (c *connection) pingTimeoutOrDefault() time.Duration {
	if c.pingTimeout > 0 {
		return c.pingTimeout
	}
	return 10 * time.Second
}

func (c *connection) handleDisconnect(stale *websocket.Conn) {
	c.mu.Lock()
	if c.conn == stale {
		c.conn = nil
	}
	c.mu.Unlock()
	stale.Close()

	c.handler.HandleSignal(c.id, depthcache.SignalDisconnect, c.marketList())
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
		err := c.redial()
		if err == nil {
			return
		}
		c.log.Warn().Err(err).Msg("reconnect failed, retrying")
	}
}

func (c *connection) close() {
	c.cancel()
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		deadline := time.Now().Add(c.closeTimeoutOrDefault())
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.SetReadDeadline(time.Now())
		conn.Close()
	}
	c.wg.Wait()
	c.handler.HandleSignal(c.id, depthcache.SignalStop, c.marketList())
}

func (c *connection) closeTimeoutOrDefault() time.Duration {
	if c.closeTimeout > 0 {
		return c.closeTimeout
	}
	return 5 * time.Second
}
