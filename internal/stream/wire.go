package stream

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bullionbear/depthcache"
)

// envelope is the combined-stream wrapper Binance puts around every event
// delivered over a "/stream?streams=..." connection.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// controlFrame is the shape of a subscribe/unsubscribe acknowledgement;
// its presence (an "id" field with no "e" event-type field) marks a frame
// the dispatcher must filter out rather than treat as a diff (§4.6 step 1).
type controlFrame struct {
	ID     *int64 `json:"id"`
	Result any    `json:"result"`
}

type wireDepthDiff struct {
	EventType         string     `json:"e"`
	Symbol            string     `json:"s"`
	FirstUpdateID     int64      `json:"U"`
	FinalUpdateID     int64      `json:"u"`
	PrevFinalUpdateID *int64     `json:"pu"`
	Bids              [][]string `json:"b"`
	Asks              [][]string `json:"a"`
}

// parseFrame decodes one raw WebSocket text frame. ok is false for control
// frames, which callers must silently discard.
func parseFrame(raw []byte) (ev depthcache.DiffEvent, ok bool, err error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Data) == 0 {
		// Not a combined-stream envelope; try parsing the raw frame itself
		// as a diff (single-stream connection mode).
		env.Data = raw
	}

	var diff wireDepthDiff
	if err := json.Unmarshal(env.Data, &diff); err != nil {
		return depthcache.DiffEvent{}, false, fmt.Errorf("decode frame: %w", err)
	}
	if diff.EventType != "depthUpdate" {
		return depthcache.DiffEvent{}, false, nil
	}

	market := depthcache.CanonicalMarket(diff.Symbol)
	out := depthcache.DiffEvent{
		Market:        market,
		FirstUpdateID: diff.FirstUpdateID,
		FinalUpdateID: diff.FinalUpdateID,
		Asks:          toLevels(diff.Asks),
		Bids:          toLevels(diff.Bids),
	}
	if diff.PrevFinalUpdateID != nil {
		out.HasPrevFinalUpdateID = true
		out.PrevFinalUpdateID = *diff.PrevFinalUpdateID
	}
	return out, true, nil
}

func toLevels(rows [][]string) []depthcache.PriceLevel {
	out := make([]depthcache.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) != 2 {
			continue
		}
		qty, err := decimal.NewFromString(row[1])
		if err != nil {
			continue
		}
		out = append(out, depthcache.PriceLevel{Price: row[0], Quantity: qty})
	}
	return out
}
