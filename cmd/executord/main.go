// Command executord runs the multi-venue execution engine: the Smart
// Order Router, execution algorithms, and the order orchestrator, behind
// an HTTP API.
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

	"github.com/shopspring/decimal"

	"github.com/shadowbook/execd/internal/algorithm"
	"github.com/shadowbook/execd/internal/api"
	"github.com/shadowbook/execd/internal/config"
	"github.com/shadowbook/execd/internal/executor"
	"github.com/shadowbook/execd/internal/liquidity"
	"github.com/shadowbook/execd/internal/metrics"
	"github.com/shadowbook/execd/internal/model"
	"github.com/shadowbook/execd/internal/orchestrator"
	"github.com/shadowbook/execd/internal/predictive"
	"github.com/shadowbook/execd/internal/protection"
	"github.com/shadowbook/execd/internal/router"
	"github.com/shadowbook/execd/internal/routingrules"
	"github.com/shadowbook/execd/internal/safety"
	"github.com/shadowbook/execd/internal/telemetry"
	"github.com/shadowbook/execd/internal/venue"
	"github.com/shadowbook/execd/pkg/observability"
)

func main() {
	cfg, err := config.Load(os.Getenv("EXECD_CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability)

	tracingProvider, err := observability.NewTracingProvider(cfg.Observability)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer tracingProvider.Shutdown(context.Background())

	metricsProvider, err := observability.NewMetricsProvider(observability.MetricsConfig{
		ServiceName: cfg.Observability.ServiceName,
		Namespace:   "execd",
		Port:        9090,
		Enabled:     true,
	})
	if err != nil {
		log.Fatalf("failed to initialize metrics: %v", err)
	}
	if err := metricsProvider.StartMetricsServer(9090); err != nil {
		logger.Error(context.Background(), "metrics server failed to start", err)
	}
	defer metricsProvider.Shutdown(context.Background())

	registry := venue.NewRegistry()
	for _, v := range cfg.Venues {
		symbols := make(map[string]bool, len(v.Symbols))
		for _, s := range v.Symbols {
			symbols[s] = true
		}
		descriptor := venue.Descriptor{
			ID:             v.ID,
			Name:           v.Name,
			Type:           venue.VenueTypeExchange,
			Symbols:        symbols,
			MakerFeeBps:    decimal.NewFromFloat(v.MakerFeeBps),
			TakerFeeBps:    decimal.NewFromFloat(v.TakerFeeBps),
			RateLimitRPS:   v.RateLimitRPS,
			RateLimitBurst: v.RateLimitBurst,
		}
		adapter := venue.NewSimulatedAdapter(v.ID, decimal.NewFromFloat(100), decimal.NewFromFloat(2), 50*time.Millisecond, int64(len(v.ID)))
		registry.Register(descriptor, adapter)
	}

	venueIDs := make([]string, 0, len(cfg.Venues))
	symbolSet := make(map[string]bool)
	for _, v := range cfg.Venues {
		venueIDs = append(venueIDs, v.ID)
		for _, s := range v.Symbols {
			symbolSet[s] = true
		}
	}
	symbols := make([]string, 0, len(symbolSet))
	for s := range symbolSet {
		symbols = append(symbols, s)
	}
	liqSource := liquidity.NewSyntheticSource(venueIDs, decimal.NewFromFloat(100), decimal.NewFromFloat(2), 10, 1)
	liqView := liquidity.NewView(liqSource)

	tracker := metrics.NewTracker()

	if redisMirror := metrics.NewRedisMirror(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB, tracker); redisMirror != nil {
		defer redisMirror.Close()
		go redisMirror.Run(context.Background(), 5*time.Second)
		logger.Info(context.Background(), "mirroring venue metrics to redis", map[string]interface{}{"addr": cfg.Redis.URL})
	}

	rulesEngine := routingrules.New()

	minFillSize, _ := decimal.NewFromString(cfg.Routing.MinFillSize)
	smartRouter := router.New(router.Config{
		MaxVenuesPerOrder: cfg.Routing.MaxVenuesPerOrder,
		MinFillSize:       minFillSize,
		MaxLatencyMs:      cfg.Routing.MaxLatencyMs,
		MaxSlippageBps:    cfg.Routing.MaxSlippageBps,
		MinDepthFraction:  decimal.NewFromFloat(cfg.Routing.MinDepthFraction),
		CacheTTL:          cfg.Routing.DecisionCacheTTL,
		CacheSize:         cfg.Routing.DecisionCacheSize,
		MinReliability:    cfg.Routing.MinReliability,
		Objective:         router.Objective(cfg.Routing.Objective),
	}, registry, liqView, tracker, rulesEngine)

	routeExecutor := executor.New(registry, executor.DefaultConfig(), metricsProvider, logger)

	algoFactory := algorithm.NewFactory(predictive.FlatEngine{}, nil, 1)

	gate := safety.NewGate(safety.Mode(cfg.Safety.InitialMode))

	telemetrySink := telemetry.New(cfg.Telemetry, metricsProvider, logger)

	orch := orchestrator.New(gate, smartRouter, routeExecutor, algoFactory, protection.NoopService{}, telemetrySink, metricsProvider, logger)
	defer orch.Close()

	go refreshLiquidityLoop(context.Background(), liqView, symbols, cfg.Routing.RebalanceInterval)

	healthChecker := observability.NewHealthChecker(logger)
	for _, v := range cfg.Venues {
		vID := v.ID
		healthChecker.RegisterCheck("venue_"+vID, observability.VenueHealthCheck(vID, func(ctx context.Context) bool {
			adapter, ok := registry.Adapter(vID)
			return ok && adapter.IsAvailable(ctx)
		}))
	}
	healthServer := observability.NewHealthServer(healthChecker, observability.ServiceInfo{
		Name:    cfg.Observability.ServiceName,
		Version: "1.0.0",
	}, logger)

	perfMonitor := observability.NewPerformanceMonitor(logger)
	defer perfMonitor.Stop()

	obsMiddleware := observability.NewObservabilityMiddleware(metricsProvider, logger, observability.MiddlewareConfig{
		ServiceName:   cfg.Observability.ServiceName,
		SlowThreshold: 500 * time.Millisecond,
		PerfMonitor:   perfMonitor,
	})

	server := api.NewServer(cfg.Server, cfg.JWT, orch, gate, tracker, obsMiddleware, healthServer, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info(context.Background(), "starting execution engine", map[string]interface{}{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(context.Background(), "shutting down execution engine", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	logger.Info(context.Background(), "execution engine stopped", nil)
}

func refreshLiquidityLoop(ctx context.Context, view *liquidity.View, symbols []string, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, sym := range symbols {
				_ = view.Refresh(ctx, model.Symbol(sym))
			}
		case <-ctx.Done():
			return
		}
	}
}
