// Package api exposes the depth-cache registry over HTTP, grounded on the
// teacher's api/pms.go and api/node.go handler-registration pattern.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/bullionbear/depthcache"
)

// Registry is the subset of *depthcache.Manager the HTTP surface needs.
// Handlers depend on this interface rather than the concrete type so tests
// can substitute a fake.
type Registry interface {
	GetAsks(market string, opts ...depthcache.ViewOption) ([]depthcache.PriceLevel, error)
	GetBids(market string, opts ...depthcache.ViewOption) ([]depthcache.PriceLevel, error)
	IsDepthCacheSynchronized(market string) (bool, error)
	ListDepthCaches() []string
}

// NewDepthCache registers the depth-cache routes on rg.
func NewDepthCache(rg *gin.RouterGroup, registry Registry) {
	rg.GET("/depthcache", func(c *gin.Context) { listDepthCaches(c, registry) })
	rg.GET("/depthcache/:market/asks", func(c *gin.Context) { getAsks(c, registry) })
	rg.GET("/depthcache/:market/bids", func(c *gin.Context) { getBids(c, registry) })
	rg.GET("/depthcache/:market/status", func(c *gin.Context) { getStatus(c, registry) })
}

// PriceLevelResponse mirrors depthcache.PriceLevel for JSON rendering.
type PriceLevelResponse struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

func toResponse(levels []depthcache.PriceLevel) []PriceLevelResponse {
	out := make([]PriceLevelResponse, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, PriceLevelResponse{Price: lvl.Price, Quantity: lvl.Quantity.String()})
	}
	return out
}

func viewOptions(c *gin.Context) []depthcache.ViewOption {
	var opts []depthcache.ViewOption
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, depthcache.WithLimit(n))
		}
	}
	if raw := c.Query("threshold_volume"); raw != "" {
		if v, err := decimal.NewFromString(raw); err == nil {
			opts = append(opts, depthcache.WithThresholdVolume(v))
		}
	}
	return opts
}

// @Summary List tracked markets
// @Description List every market currently tracked by the depth cache
// @Accept json
// @Produce json
// @Success 200 {object} map[string][]string "Object whose markets key lists the tracked markets"
// @Router /depthcache [get]
func listDepthCaches(c *gin.Context, registry Registry) {
	c.JSON(http.StatusOK, gin.H{"markets": registry.ListDepthCaches()})
}

// @Summary Get ask levels
// @Description Get the current ask side of a market's order book
// @Accept json
// @Produce json
// @Param market path string true "Market symbol"
// @Param limit query int false "Maximum number of levels"
// @Param threshold_volume query string false "Cumulative notional cutoff"
// @Success 200 {object} map[string]interface{} "Object with the market and its asks (array of PriceLevelResponse)"
// @Router /depthcache/{market}/asks [get]
func getAsks(c *gin.Context, registry Registry) {
	market := c.Param("market")
	levels, err := registry.GetAsks(market, viewOptions(c)...)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"market": market, "asks": toResponse(levels)})
}

// @Summary Get bid levels
// @Description Get the current bid side of a market's order book
// @Accept json
// @Produce json
// @Param market path string true "Market symbol"
// @Param limit query int false "Maximum number of levels"
// @Param threshold_volume query string false "Cumulative notional cutoff"
// @Success 200 {object} map[string]interface{} "Object with the market and its bids (array of PriceLevelResponse)"
// @Router /depthcache/{market}/bids [get]
func getBids(c *gin.Context, registry Registry) {
	market := c.Param("market")
	levels, err := registry.GetBids(market, viewOptions(c)...)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"market": market, "bids": toResponse(levels)})
}

// @Summary Get synchronization status
// @Description Report whether a market's depth cache currently holds a continuous view
// @Accept json
// @Produce json
// @Param market path string true "Market symbol"
// @Success 200 {object} map[string]interface{} "Object with the market and its synchronized flag"
// @Router /depthcache/{market}/status [get]
func getStatus(c *gin.Context, registry Registry) {
	market := c.Param("market")
	synced, err := registry.IsDepthCacheSynchronized(market)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"market": market, "synchronized": synced})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, depthcache.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, depthcache.ErrOutOfSync):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, depthcache.ErrAlreadyStopped):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
