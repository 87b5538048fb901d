package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/leafsii/leafsii-dsc/internal/api"
	"github.com/leafsii/leafsii-dsc/internal/calc"
	"github.com/leafsii/leafsii-dsc/internal/config"
	"github.com/leafsii/leafsii-dsc/internal/engine"
	"github.com/leafsii/leafsii-dsc/internal/jobs"
	"github.com/leafsii/leafsii-dsc/internal/log"
	"github.com/leafsii/leafsii-dsc/internal/metrics"
	"github.com/leafsii/leafsii-dsc/internal/prices"
	"github.com/leafsii/leafsii-dsc/internal/prices/binance"
	"github.com/leafsii/leafsii-dsc/internal/prices/mock"
	"github.com/leafsii/leafsii-dsc/internal/repository"
	"github.com/leafsii/leafsii-dsc/internal/store"
	"github.com/leafsii/leafsii-dsc/internal/token"
	"github.com/leafsii/leafsii-dsc/internal/token/memory"
	"github.com/leafsii/leafsii-dsc/internal/ws"
	"github.com/leafsii/leafsii-dsc/pkg/kv"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/leafsii/leafsii-dsc/pkg/kv/memory"
	_ "github.com/leafsii/leafsii-dsc/pkg/kv/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting stablecoin engine API server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"registry", cfg.Engine.RegistryPath,
		"price_provider", cfg.Prices.Provider,
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("leafsii-dsc")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	// Setup cache and pubsub; falls back to memory when redis is unreachable
	cache, err := store.NewCache(cfg.Cache.RedisAddr, logger, metricsObj)
	if err != nil {
		logger.Fatalw("Failed to setup cache", "error", err)
	}
	defer cache.Close()
	logger.Infow("Cache ready", "in_memory", cache.IsInMemoryMode())

	journal, closeJournal, err := openJournal(cfg, logger)
	if err != nil {
		logger.Fatalw("Failed to open event journal", "error", err)
	}
	defer closeJournal()

	// Price source
	registry, err := prices.NewRegistry(cfg.Engine.Registry.Assets)
	if err != nil {
		logger.Fatalw("Invalid collateral registry", "error", err)
	}

	var (
		source   prices.Source
		mockFeed *mock.Feed
		provider *binance.Provider
	)
	switch cfg.Prices.Provider {
	case "binance":
		provider = binance.NewProvider(logger)
		source = provider
	default:
		mockFeed, err = newMockFeed(cfg, logger)
		if err != nil {
			logger.Fatalw("Failed to seed mock feed", "error", err)
		}
		source = mockFeed
	}
	oracle := prices.NewOracle(registry, source)

	// In-memory token collaborators
	engineAddr := cfg.EngineAddress()
	collateral := make(map[common.Address]token.Collateral, len(registry.Assets()))
	faucets := make(map[common.Address]api.Faucet, len(registry.Assets()))
	for _, asset := range registry.Assets() {
		tok := memory.NewToken(asset.Symbol)
		collateral[asset.AssetID] = tok
		faucets[asset.AssetID] = tok
	}
	stableSymbol := cfg.Engine.Registry.Stablecoin
	if stableSymbol == "" {
		stableSymbol = "DSC"
	}
	stable := memory.NewStablecoin(stableSymbol, engineAddr)

	// The database journal goes first so a failed write rolls the operation
	// back before anything is published.
	eng, err := engine.New(engineAddr, oracle, collateral, stable,
		engine.WithParams(engine.Params{
			LiquidationThresholdPct: cfg.Engine.LiquidationThresholdPct,
			LiquidationBonusPct:     cfg.Engine.LiquidationBonusPct,
		}),
		engine.WithJournal(engine.MultiJournal(journal, store.NewEventPublisher(cache, logger))),
		engine.WithLogger(logger),
		engine.WithMetrics(metricsObj),
	)
	if err != nil {
		logger.Fatalw("Failed to create engine", "error", err)
	}
	logger.Infow("Engine ready",
		"engine_address", engineAddr.Hex(),
		"assets", len(registry.Assets()),
		"liquidation_threshold_pct", cfg.Engine.LiquidationThresholdPct,
		"liquidation_bonus_pct", cfg.Engine.LiquidationBonusPct,
	)

	// Setup WebSocket hub and SSE handler
	wsHub := ws.NewHub(cache, logger, metricsObj, cfg.Security.CORSAllowedOrigins)
	sseHandler := ws.NewSSEHandler(cache, logger, metricsObj)

	// Create context for background services
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go wsHub.Run(bgCtx)

	pricePublisher := jobs.NewPricePublisher(oracle, cache, metricsObj, logger, jobs.PricePublisherConfig{
		RefreshInterval: cfg.Prices.RefreshInterval,
		TTL:             cfg.Cache.TTL,
		MaxAge:          cfg.Prices.MaxAge,
	})
	if provider != nil {
		pricePublisher.WithLive(provider)
	}
	if mockFeed != nil && cfg.IsDev() {
		pricePublisher.WithStepper(mockFeed)
	}
	go func() {
		if err := pricePublisher.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("Price publisher error", "error", err)
		}
	}()

	scanner := jobs.NewLiquidationScanner(eng, cache, metricsObj, logger, cfg.Jobs.LiquidationScanInterval)
	go func() {
		if err := scanner.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("Liquidation scanner error", "error", err)
		}
	}()

	// Dev endpoints mint test tokens and move the mock feed
	var dev *api.DevTools
	if cfg.IsDev() {
		dev = &api.DevTools{Tokens: faucets}
		if mockFeed != nil {
			dev.Prices = mockFeed
		}
		logger.Infow("Dev endpoints enabled")
	}

	// Setup API handler and middleware
	handler := api.NewHandler(eng, journal, cache, sseHandler, wsHub, dev, logger, metricsObj)
	middleware := api.NewMiddleware(logger, metricsObj)

	router := handler.Routes(middleware, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM)
	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// Add metrics endpoint
	router.Handle("/metrics", metricsHandler)

	// WriteTimeout stays zero so the event streams are not cut off; the JSON
	// routes carry their own timeout middleware.
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatalw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())
		bgCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}

		logger.Infow("Server stopped")
	}
}

// openJournal picks Postgres when a DSN is configured and otherwise keeps a
// bounded history in the kv store (redis when reachable, memory if not).
func openJournal(cfg *config.Config, logger *zap.SugaredLogger) (repository.EventStore, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Infow("Event journal on Postgres")
		return repository.NewRepository(db, logger), func() { db.Close() }, nil
	}

	backend := kv.BackendMemory
	if cfg.Cache.RedisAddr != "" {
		backend = kv.BackendRedis
	}
	kvStore, err := kv.NewStoreFromConfig(kv.Config{
		Backend:  backend,
		RedisURL: cfg.Cache.RedisAddr,
		Logger: func(msg string, fields ...any) {
			logger.Warnw(msg, fields...)
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open kv store: %w", err)
	}
	if err := kvStore.Ping(ctx); err != nil {
		kvStore.Close()
		return nil, nil, fmt.Errorf("ping kv store: %w", err)
	}
	logger.Infow("Event journal on kv store", "backend", backend)
	return repository.NewKVJournal(kvStore, 0, logger), func() { kvStore.Close() }, nil
}

// newMockFeed seeds the simulated feed with the registry's initial prices.
func newMockFeed(cfg *config.Config, logger *zap.SugaredLogger) (*mock.Feed, error) {
	feed := mock.NewFeed(logger, cfg.Prices.MockDecimals, cfg.Prices.MockVolatility)
	for feedID, price := range cfg.Engine.Registry.InitialPrices {
		raw, err := calc.ParseUnits(price, cfg.Prices.MockDecimals)
		if err != nil {
			return nil, fmt.Errorf("initial price for %s: %w", feedID, err)
		}
		feed.SetPrice(feedID, raw)
	}
	return feed, nil
}
