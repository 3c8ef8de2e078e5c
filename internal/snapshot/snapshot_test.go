package snapshot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bullionbear/depthcache"
)

func newTestFetcher(t *testing.T, server *httptest.Server) *Fetcher {
	t.Helper()
	f := NewFetcher(depthcache.ExchangeSpot)
	f.baseURL = server.URL
	return f
}

func TestFetchParsesSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "10")
		w.Write([]byte(`{"lastUpdateId":1027024,"bids":[["4.00000000","431.00000000"]],"asks":[["4.00000200","12.00000000"]]}`))
	}))
	defer server.Close()

	f := newTestFetcher(t, server)
	snap, err := f.Fetch(context.Background(), "bnbbtc")
	assert.NoError(t, err)
	assert.EqualValues(t, 1027024, snap.LastUpdateID)
	assert.Equal(t, "4.00000000", snap.Bids[0].Price)
	assert.Equal(t, "4.00000200", snap.Asks[0].Price)
	assert.Equal(t, 10, f.Weight().UsedWeight())
}

func TestFetchDeferredWhenWeightCeilingExceeded(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	f := newTestFetcher(t, server)
	f.weight.set(3000)

	_, err := f.Fetch(context.Background(), "bnbbtc")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, depthcache.ErrSnapshotUnavailable))
	assert.False(t, called, "fetch must not issue a request past the weight ceiling")
}

func TestFetchTranslatesAPIErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer server.Close()

	f := newTestFetcher(t, server)
	_, err := f.Fetch(context.Background(), "bogus")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, depthcache.ErrSnapshotUnavailable))

	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, -1121, apiErr.Code)
}

func TestFetchSkipsMalformedLevels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lastUpdateId":1,"bids":[["1.0"]],"asks":[]}`))
	}))
	defer server.Close()

	f := newTestFetcher(t, server)
	snap, err := f.Fetch(context.Background(), "bnbbtc")
	assert.NoError(t, err)
	assert.Empty(t, snap.Bids)
}
