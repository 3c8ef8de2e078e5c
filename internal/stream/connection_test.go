package stream

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/bullionbear/depthcache"
)

type recordingHandler struct {
	diffs   []depthcache.DiffEvent
	signals []depthcache.SignalKind
}

func (r *recordingHandler) HandleDiff(ev depthcache.DiffEvent) { r.diffs = append(r.diffs, ev) }
func (r *recordingHandler) HandleSignal(streamID string, kind depthcache.SignalKind, markets []string) {
	r.signals = append(r.signals, kind)
}

func TestConnectionStreamURLJoinsMarkets(t *testing.T) {
	h := &recordingHandler{}
	c := newConnection("stream-0", "wss://stream.binance.com:9443", h, zerolog.Nop(), 0, 0, 0, 0)
	c.markets["btcusdt"] = true

	url := c.streamURL()
	assert.Equal(t, "wss://stream.binance.com:9443/stream?streams=btcusdt@depth", url)
}

func TestConnectionStreamURLAppliesUpdateIntervalSuffix(t *testing.T) {
	h := &recordingHandler{}
	c := newConnection("stream-0", "wss://stream.binance.com:9443", h, zerolog.Nop(), 0, 0, 0, 100*time.Millisecond)
	c.markets["btcusdt"] = true

	url := c.streamURL()
	assert.Equal(t, "wss://stream.binance.com:9443/stream?streams=btcusdt@depth@100ms", url)
}

func TestConnectionMarketListReflectsAddAndRemove(t *testing.T) {
	h := &recordingHandler{}
	c := newConnection("stream-0", "wss://stream.binance.com:9443", h, zerolog.Nop(), 0, 0, 0, 0)
	c.markets["btcusdt"] = true
	c.markets["ethusdt"] = true

	assert.ElementsMatch(t, []string{"btcusdt", "ethusdt"}, c.marketList())

	delete(c.markets, "ethusdt")
	assert.Equal(t, []string{"btcusdt"}, c.marketList())
}

func TestConnectionIsCurrentTracksActiveSocket(t *testing.T) {
	h := &recordingHandler{}
	c := newConnection("stream-0", "wss://stream.binance.com:9443", h, zerolog.Nop(), 0, 0, 0, 0)
	assert.True(t, c.isCurrent(nil))
}
