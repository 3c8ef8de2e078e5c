package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFrameDecodesCombinedEnvelope(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@depth","data":{"e":"depthUpdate","E":123456789,"s":"BTCUSDT","U":157,"u":160,"b":[["0.0024","10"]],"a":[["0.0026","100"]]}}`)

	ev, ok, err := parseFrame(raw)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "btcusdt", ev.Market)
	assert.EqualValues(t, 157, ev.FirstUpdateID)
	assert.EqualValues(t, 160, ev.FinalUpdateID)
	assert.False(t, ev.HasPrevFinalUpdateID)
	assert.Equal(t, "0.0024", ev.Bids[0].Price)
	assert.Equal(t, "0.0026", ev.Asks[0].Price)
}

func TestParseFrameCarriesFuturesPrevFinalUpdateID(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@depth","data":{"e":"depthUpdate","s":"BTCUSDT","U":157,"u":160,"pu":156,"b":[],"a":[]}}`)

	ev, ok, err := parseFrame(raw)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, ev.HasPrevFinalUpdateID)
	assert.EqualValues(t, 156, ev.PrevFinalUpdateID)
}

func TestParseFrameFiltersControlFrames(t *testing.T) {
	raw := []byte(`{"result":null,"id":1}`)

	_, ok, err := parseFrame(raw)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestParseFrameSkipsMalformedLevels(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@depth","data":{"e":"depthUpdate","s":"BTCUSDT","U":1,"u":2,"b":[["bad"]],"a":[]}}`)

	ev, ok, err := parseFrame(raw)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, ev.Bids)
}
