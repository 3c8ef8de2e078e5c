package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/bullionbear/depthcache"
	"github.com/bullionbear/depthcache/internal/api"
	"github.com/bullionbear/depthcache/internal/notify"
	"github.com/bullionbear/depthcache/internal/snapshot"
	"github.com/bullionbear/depthcache/internal/stream"
	"github.com/bullionbear/depthcache/pkg/logger"
	"github.com/bullionbear/depthcache/pkg/shutdown"
)

// @title Depth Cache API
// @version 1.0
// @description Synchronized order-book depth cache service.
// @host localhost:8080
// @BasePath /api/v1

func main() {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.json", "Path to the JSON configuration file")
	flag.BoolVar(&dev, "dev", false, "Enable human-friendly development logging")

	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `depthcached synchronizes exchange order-book snapshots against their
diff streams and serves the result over HTTP.

Usage:
  depthcached [flags]

Flags:
  -config string   Path to the JSON configuration file (default "config.json")
  -dev             Enable human-friendly development logging
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	if dev {
		logger.InitLogger(true)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	exchange := depthcache.ExchangeSpot
	if cfg.Exchange == "futures" {
		exchange = depthcache.ExchangeFutures
	}

	sd := shutdown.NewShutdown(logger.Log)

	fetcher := snapshot.NewFetcher(exchange,
		snapshot.WithMaxUsedWeight(cfg.MaxUsedWeight),
		snapshot.WithLogger(logger.Log.With().Str("component", "snapshot").Logger()),
	)

	// The multiplexer must deliver callbacks into the manager, but the
	// manager must in turn reference the multiplexer: build the multiplexer
	// first around a forwarding handler whose target is set once the
	// manager exists.
	forwarder := &handlerForwarder{}
	multiplexer := stream.NewMultiplexer(exchange, forwarder,
		stream.WithCapacity(cfg.StreamCapacity),
		stream.WithUpdateInterval(cfg.depthCacheUpdateInterval()),
		stream.WithLogger(logger.Log.With().Str("component", "stream").Logger()),
	)

	managerCfg := depthcache.Config{
		Exchange:               exchange,
		DefaultRefreshInterval: cfg.refreshInterval(),
		InitInterval:           cfg.initInterval(),
		InitTimeWindow:         cfg.initTimeWindow(),
		HighPerformance:        cfg.HighPerformance,
		MaxUsedWeight:          cfg.MaxUsedWeight,
		StreamCapacity:         cfg.StreamCapacity,
		Fetcher:                fetcher,
		Multiplexer:            multiplexer,
	}

	if cfg.NATS != nil {
		conn, err := nats.Connect(cfg.NATS.URI)
		if err != nil {
			logger.Log.Error().Err(err).Msg("failed to connect to NATS")
			os.Exit(1)
		}
		broadcaster, err := notify.NewBroadcaster(conn, cfg.NATS.Subject, logger.Log.With().Str("component", "notify").Logger())
		if err != nil {
			logger.Log.Error().Err(err).Msg("failed to create lifecycle broadcaster")
			os.Exit(1)
		}
		managerCfg.Notifier = broadcaster
		sd.HookShutdownCallback("nats-connection", func() { conn.Close() }, 5*time.Second)
	}

	mgr, err := depthcache.NewManager(managerCfg)
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to build depth-cache manager")
		os.Exit(1)
	}
	forwarder.target = mgr

	if err := mgr.CreateDepthCache(sd.Context(), cfg.Markets); err != nil {
		logger.Log.Error().Err(err).Msg("failed to start tracking configured markets")
		os.Exit(1)
	}
	sd.HookShutdownCallback("depthcache-manager", mgr.Stop, 10*time.Second)

	router := gin.Default()
	v1 := router.Group("/api/v1")
	{
		api.NewDepthCache(v1, mgr)
	}
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		logger.Log.Info().Str("port", cfg.Port).Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Error().Err(err).Msg("HTTP server failed")
			os.Exit(1)
		}
	}()
	sd.HookShutdownCallback("http-server", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, 10*time.Second)

	logger.Log.Info().Strs("markets", cfg.Markets).Str("exchange", cfg.Exchange).Msg("depthcached started")
	sd.WaitForShutdown(syscall.SIGINT, syscall.SIGTERM)
	logger.Log.Info().Msg("depthcached stopped gracefully")
}

// handlerForwarder breaks the Manager/Multiplexer construction cycle: the
// Multiplexer needs a depthcache.Handler at construction time, but the
// Manager (the real Handler) can only be built once the Multiplexer it
// wraps already exists.
type handlerForwarder struct {
	target depthcache.Handler
}

func (h *handlerForwarder) HandleDiff(ev depthcache.DiffEvent) {
	if h.target != nil {
		h.target.HandleDiff(ev)
	}
}

func (h *handlerForwarder) HandleSignal(streamID string, kind depthcache.SignalKind, markets []string) {
	if h.target != nil {
		h.target.HandleSignal(streamID, kind, markets)
	}
}
