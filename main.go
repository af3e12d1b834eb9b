package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KEithwy1030/BTHsports.com/work/cache"
	"github.com/KEithwy1030/BTHsports.com/work/client"
	"github.com/KEithwy1030/BTHsports.com/work/config"
	"github.com/KEithwy1030/BTHsports.com/work/database"
	"github.com/KEithwy1030/BTHsports.com/work/discovery"
	"github.com/KEithwy1030/BTHsports.com/work/engine"
	"github.com/KEithwy1030/BTHsports.com/work/handlers"
	"github.com/KEithwy1030/BTHsports.com/work/logger"
	"github.com/KEithwy1030/BTHsports.com/work/middleware"
	"github.com/KEithwy1030/BTHsports.com/work/probe"
	"github.com/KEithwy1030/BTHsports.com/work/proxy"
	"github.com/KEithwy1030/BTHsports.com/work/ranker"
	"github.com/KEithwy1030/BTHsports.com/work/refresher"
	"github.com/KEithwy1030/BTHsports.com/work/resolver"
	"github.com/KEithwy1030/BTHsports.com/work/session"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// seed an example config on first run so operators have something to edit
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "/settings/config.json"
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.CreateExampleConfig(configPath); err != nil {
			logger.Warn("{main - main} could not write example config to %s: %v", configPath, err)
		}
	}

	// load our config
	cfg := config.LoadConfig()
	logger.SetLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// mapping store; the engine runs without it when it can't open
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Warn("{main - main} mapping store unavailable, running stateless: %v", err)
		db = nil
	} else {
		defer db.Close()
	}

	// HTTP client shared by every upstream-facing component
	httpClient := client.NewHeaderSettingClient(cfg)

	// resolution worker pool
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// proxy caches: manifests roll over in seconds, segments are immutable
	manifests := cache.NewByteCache(cfg.CacheMaxBytes, cfg.ManifestCacheTTL)
	segments := cache.NewByteCache(cfg.CacheMaxBytes, cfg.SegmentCacheTTL)
	defer manifests.Close()
	defer segments.Close()

	// resolution pipeline
	rnk := ranker.New(cfg)
	health := ranker.NewHealthChecker(httpClient)
	res := resolver.New(cfg, httpClient)
	disc := discovery.New(cfg, httpClient)
	prober := probe.NewProber(cfg, httpClient)

	sessions := session.NewStore(cfg.SessionTTL)
	go sessions.Run(ctx)

	eng := engine.New(cfg, workerPool, res, disc, rnk, health, prober, db, sessions)
	streamProxy := proxy.New(cfg, httpClient, manifests, segments, eng)

	ref := refresher.New(cfg, db, eng)
	ref.Start()
	defer ref.Stop()

	// Setup HTTP routes
	router := mux.NewRouter()

	// resolve a match key into playable signals
	router.HandleFunc("/resolve", middleware.GzipMiddleware(handlers.HandleResolve(eng))).Methods("POST")

	// manifest and segment proxy
	router.HandleFunc("/proxy/manifest", middleware.GzipMiddleware(handlers.HandleManifest(streamProxy))).Methods("GET")
	router.HandleFunc("/proxy/segment", handlers.HandleSegment(streamProxy)).Methods("GET")

	// forced refresh of one match
	router.HandleFunc("/refresh", middleware.GzipMiddleware(handlers.HandleRefresh(ref))).Methods("POST")

	// health and metrics
	router.HandleFunc("/health", handlers.HandleHealth(db)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// add the admin routes
	setupAdminRoutes(router, adminDeps{cfg: cfg, db: db, ranker: rnk})

	addr := fmt.Sprintf(":%d", cfg.ListenPort)

	// show info
	logger.Info("{main - main} Starting Signal Proxy %s", Version)
	logger.Info("{main - main} Server configuration:")
	logger.Info("{main - main}   - Base URL: %s", cfg.BaseURL)
	logger.Info("{main - main}   - Listen Port: %d", cfg.ListenPort)
	logger.Info("{main - main}   - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("{main - main}   - Entry Domains: %d", len(cfg.EntryDomains))
	logger.Info("{main - main}   - Max Hops: %d", cfg.MaxHops)
	logger.Info("{main - main}   - Manifest Cache TTL: %s", cfg.ManifestCacheTTL)
	logger.Info("{main - main}   - Segment Cache TTL: %s", cfg.SegmentCacheTTL)
	logger.Info("{main - main}   - Refresh Interval: %s", cfg.RefreshInterval)
	logger.Info("{main - main}   - Debug Enabled: %v", cfg.Debug)
	logger.Info("{main - main}   - URL Obfuscation: %v", cfg.ObfuscateUrls)

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		logger.Info("{main - main} shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("{main - main} shutdown failed: %v", err)
		}
	}()

	// fire us up
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}
}
