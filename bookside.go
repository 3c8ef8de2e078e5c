package depthcache

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

type bookEntry struct {
	price decimal.Decimal
	qty   decimal.Decimal
}

// BookSide is one side (asks or bids) of a market's order book: a sorted
// price-to-quantity map with locked mutation and snapshot reads (§4.1).
//
// The map key is the exchange's literal price string, not the parsed
// decimal: "0.10" and "0.1" are distinct levels per exchange semantics even
// though they compare equal numerically, so keying by decimal.Decimal (as
// the teacher's orderbook.BookArray does via treemap.Map) would silently
// collapse them. The parsed decimal is cached alongside the string purely
// to sort on read without reparsing.
type BookSide struct {
	mu      sync.RWMutex
	entries map[string]bookEntry
}

func NewBookSide() *BookSide {
	return &BookSide{entries: make(map[string]bookEntry)}
}

// Apply sets or removes a single price level. A zero quantity deletes the
// level; any other quantity overwrites it.
func (b *BookSide) Apply(priceStr string, qty decimal.Decimal) error {
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if qty.IsZero() {
		delete(b.entries, priceStr)
		return nil
	}
	b.entries[priceStr] = bookEntry{price: price, qty: qty}
	return nil
}

// Reset clears every entry, e.g. before applying a fresh snapshot.
func (b *BookSide) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]bookEntry)
}

// Len reports the number of price levels currently held.
func (b *BookSide) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// View returns levels sorted by price: ascending when reverse is false
// (asks), descending when reverse is true (bids).
//
// When thresholdVolume is positive, the result is truncated to the longest
// prefix whose cumulative price*qty does not exceed thresholdVolume, except
// that the first level is always included regardless of its own notional.
// limitCount, when positive, truncates the (possibly threshold-truncated)
// result further.
//
// The side-lock is held only long enough to copy the entries; sorting and
// truncation run lock-free.
func (b *BookSide) View(reverse bool, limitCount int, thresholdVolume decimal.Decimal) []PriceLevel {
	b.mu.RLock()
	type row struct {
		price string
		entry bookEntry
	}
	rows := make([]row, 0, len(b.entries))
	for price, entry := range b.entries {
		rows = append(rows, row{price: price, entry: entry})
	}
	b.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		cmp := rows[i].entry.price.Cmp(rows[j].entry.price)
		if reverse {
			return cmp > 0
		}
		return cmp < 0
	})

	useThreshold := thresholdVolume.IsPositive()
	out := make([]PriceLevel, 0, len(rows))
	cumulative := decimal.Zero
	for i, r := range rows {
		notional := r.entry.price.Mul(r.entry.qty)
		if useThreshold && i > 0 && cumulative.Add(notional).GreaterThan(thresholdVolume) {
			break
		}
		out = append(out, PriceLevel{Price: r.price, Quantity: r.entry.qty})
		cumulative = cumulative.Add(notional)
		if limitCount > 0 && len(out) >= limitCount && !useThreshold {
			break
		}
	}

	if limitCount > 0 && len(out) > limitCount {
		out = out[:limitCount]
	}
	return out
}
