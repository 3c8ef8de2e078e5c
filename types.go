package depthcache

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange selects the endpoint family and continuity semantics the
// dispatcher applies to a market (§4.6).
type Exchange int

const (
	ExchangeSpot Exchange = iota
	ExchangeFutures
)

func (e Exchange) String() string {
	switch e {
	case ExchangeFutures:
		return "futures"
	default:
		return "spot"
	}
}

// CanonicalMarket lowercases and trims a market identifier. All internal
// lookups use this form.
func CanonicalMarket(market string) string {
	return strings.ToLower(strings.TrimSpace(market))
}

// PriceLevel is one (price, quantity) entry of a book side or a snapshot.
// Price keeps the exchange's original string form so that two levels with
// distinct string representations of the same numeric value ("0.10" vs
// "0.1") are never silently merged; Quantity is parsed for arithmetic.
type PriceLevel struct {
	Price    string
	Quantity decimal.Decimal
}

// Snapshot is the REST-fetched point-in-time book used to anchor a cache.
type Snapshot struct {
	LastUpdateID int64
	Asks         []PriceLevel
	Bids         []PriceLevel
}

// DiffEvent is one incremental update delivered over a market's stream.
// PrevFinalUpdateID/HasPrevFinalUpdateID are only meaningful for
// ExchangeFutures streams, which carry a "pu" field spot streams lack.
type DiffEvent struct {
	Market                string
	FirstUpdateID         int64
	FinalUpdateID         int64
	PrevFinalUpdateID     int64
	HasPrevFinalUpdateID  bool
	EventTime             time.Time
	Asks                  []PriceLevel
	Bids                  []PriceLevel
}

// SignalKind enumerates the connection-lifecycle signals a stream can raise.
type SignalKind int

const (
	SignalConnect SignalKind = iota
	SignalFirstData
	SignalDisconnect
	SignalStop
)

func (s SignalKind) String() string {
	switch s {
	case SignalConnect:
		return "connect"
	case SignalFirstData:
		return "first_data"
	case SignalDisconnect:
		return "disconnect"
	case SignalStop:
		return "stop"
	default:
		return "unknown"
	}
}

// StreamStatus mirrors the WebSocket connection state last observed for the
// stream a market currently rides on.
type StreamStatus int

const (
	StreamConnected StreamStatus = iota
	StreamRunning
	StreamDisconnected
	StreamStopped
)

func (s StreamStatus) String() string {
	switch s {
	case StreamConnected:
		return "CONNECTED"
	case StreamRunning:
		return "RUNNING"
	case StreamDisconnected:
		return "DISCONNECTED"
	case StreamStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// GateDecision is the result of an InitGate admission test.
type GateDecision int

const (
	GateInit GateDecision = iota
	GateDrop
)
