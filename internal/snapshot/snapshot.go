// Package snapshot fetches REST order-book snapshots from Binance's spot
// and linear-futures endpoint families and adapts them to depthcache.Snapshot.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bullionbear/depthcache"
)

const (
	spotBaseURL    = "https://api.binance.com"
	futuresBaseURL = "https://fapi.binance.com"

	spotDepthEndpoint    = "/api/v3/depth"
	futuresDepthEndpoint = "/fapi/v1/depth"
)

// WeightReporter reports the most recently observed REST weight usage, as
// reflected by the exchange's X-MBX-USED-WEIGHT-1M response header.
type WeightReporter interface {
	UsedWeight() int
}

// AtomicWeightReporter is a WeightReporter updated by Fetcher itself after
// every response; it requires no external wiring.
type AtomicWeightReporter struct {
	value atomic.Int64
}

func (r *AtomicWeightReporter) UsedWeight() int { return int(r.value.Load()) }

func (r *AtomicWeightReporter) set(v int) { r.value.Store(int64(v)) }

// Fetcher implements depthcache.SnapshotFetcher against Binance's REST API.
// It consults a WeightReporter before issuing a request (§4.4): the check
// happens only at snapshot initiation, never per diff event.
type Fetcher struct {
	httpClient *http.Client
	baseURL    string
	endpoint   string
	limit      int

	maxUsedWeight int
	weight        *AtomicWeightReporter

	log zerolog.Logger
}

type Option func(*Fetcher)

// WithLimit overrides the default depth parameter (1000) sent to the
// snapshot endpoint.
func WithLimit(n int) Option {
	return func(f *Fetcher) { f.limit = n }
}

// WithMaxUsedWeight overrides the default weight ceiling (2200).
func WithMaxUsedWeight(n int) Option {
	return func(f *Fetcher) { f.maxUsedWeight = n }
}

// WithHTTPClient overrides the default http.Client, e.g. to inject a
// custom Timeout or Transport for testing.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.httpClient = c }
}

// WithLogger attaches a zerolog logger; a disabled logger is used otherwise.
func WithLogger(log zerolog.Logger) Option {
	return func(f *Fetcher) { f.log = log }
}

// NewFetcher constructs a Fetcher for the given exchange flavor.
func NewFetcher(exchange depthcache.Exchange, opts ...Option) *Fetcher {
	f := &Fetcher{
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		limit:         1000,
		maxUsedWeight: 2200,
		weight:        &AtomicWeightReporter{},
		log:           zerolog.Nop(),
	}
	switch exchange {
	case depthcache.ExchangeFutures:
		f.baseURL = futuresBaseURL
		f.endpoint = futuresDepthEndpoint
	default:
		f.baseURL = spotBaseURL
		f.endpoint = spotDepthEndpoint
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Weight exposes the Fetcher's own weight reporter, e.g. to feed a shared
// budget across multiple Fetchers.
func (f *Fetcher) Weight() *AtomicWeightReporter { return f.weight }

type wireDepthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// Fetch retrieves a point-in-time snapshot for market. Before issuing the
// request it checks the configured WeightReporter; if the last observed
// used weight already exceeds maxUsedWeight, the request is deferred and
// an error wrapping depthcache.ErrSnapshotUnavailable is returned so the
// caller retries on its next dispatch turn.
func (f *Fetcher) Fetch(ctx context.Context, market string) (depthcache.Snapshot, error) {
	if used := f.weight.UsedWeight(); used > f.maxUsedWeight {
		f.log.Warn().Int("used_weight", used).Str("market", market).Msg("snapshot deferred: weight ceiling")
		return depthcache.Snapshot{}, fmt.Errorf("weight %d exceeds ceiling %d: %w", used, f.maxUsedWeight, depthcache.ErrSnapshotUnavailable)
	}

	params := url.Values{}
	params.Set("symbol", upperSymbol(market))
	params.Set("limit", strconv.Itoa(f.limit))
	reqURL := fmt.Sprintf("%s%s?%s", f.baseURL, f.endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return depthcache.Snapshot{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return depthcache.Snapshot{}, fmt.Errorf("%v: %w", err, depthcache.ErrSnapshotUnavailable)
	}
	defer resp.Body.Close()

	if w, convErr := strconv.Atoi(resp.Header.Get("X-MBX-USED-WEIGHT-1M")); convErr == nil {
		f.weight.set(w)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return depthcache.Snapshot{}, fmt.Errorf("read response body: %v: %w", err, depthcache.ErrSnapshotUnavailable)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr APIError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 {
			return depthcache.Snapshot{}, fmt.Errorf("%w: %w", &apiErr, depthcache.ErrSnapshotUnavailable)
		}
		return depthcache.Snapshot{}, fmt.Errorf("status %d: %w", resp.StatusCode, depthcache.ErrSnapshotUnavailable)
	}

	var wire wireDepthResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return depthcache.Snapshot{}, fmt.Errorf("decode snapshot: %v: %w", err, depthcache.ErrSnapshotUnavailable)
	}

	return depthcache.Snapshot{
		LastUpdateID: wire.LastUpdateID,
		Asks:         toLevels(wire.Asks),
		Bids:         toLevels(wire.Bids),
	}, nil
}

func toLevels(rows [][]string) []depthcache.PriceLevel {
	out := make([]depthcache.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) != 2 {
			continue
		}
		qty, err := parseDecimal(row[1])
		if err != nil {
			continue
		}
		out = append(out, depthcache.PriceLevel{Price: row[0], Quantity: qty})
	}
	return out
}
