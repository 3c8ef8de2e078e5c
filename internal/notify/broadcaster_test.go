package notify

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventMarshalsExpectedFields(t *testing.T) {
	raw, err := json.Marshal(Event{Market: "btcusdt", Event: eventSynchronized, Timestamp: 1690000000000})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"market":"btcusdt","event":"synchronized","timestamp":1690000000000}`, string(raw))
}

func TestEventIncludesNonEmptyReason(t *testing.T) {
	raw, err := json.Marshal(Event{Market: "btcusdt", Event: eventDesynchronized, Timestamp: 1, Reason: "gap"})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"market":"btcusdt","event":"desynchronized","timestamp":1,"reason":"gap"}`, string(raw))
}
