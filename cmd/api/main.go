package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payment-orchestration-core/config"
	"payment-orchestration-core/internal/adapter/gateway"
	httpHandler "payment-orchestration-core/internal/adapter/http/handler"
	pgStorage "payment-orchestration-core/internal/adapter/storage/postgres"
	redisStorage "payment-orchestration-core/internal/adapter/storage/redis"
	"payment-orchestration-core/internal/core/ports"
	"payment-orchestration-core/internal/service"
	"payment-orchestration-core/pkg/logger"
)

const cleanupInterval = time.Hour

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Payment Orchestration Core")

	ctx := context.Background()
	clock := ports.RealClock{}

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Stores: snapshots and events in PostgreSQL, admission state in Redis.
	paymentRepo := pgStorage.NewPaymentRepository(pool)
	eventStore := pgStorage.NewEventStore(pool)
	idempStore := redisStorage.NewIdempotencyStore(rdb, clock)
	lockManager := redisStorage.NewLockManager(rdb, clock)

	// Core services
	rnd := ports.NewSeededRand(time.Now().UnixNano())
	engine := service.NewIdempotencyEngine(cfg.Idempotency, idempStore, lockManager, clock, log)
	payments := service.NewVersionedPaymentService(paymentRepo, cfg.OptimisticLock, rnd, log)
	gateways := service.NewGatewayRegistry()
	breakers := service.NewBreakerRegistry(cfg.CircuitBreaker, clock, log)
	retry := service.NewRetryPolicy(cfg.Retry, rnd, log)
	metrics := service.NewMetricsCollector()
	router := service.NewRouter(cfg.Routing, metrics, breakers, log)
	hooks := service.NewHookRegistry(log)
	sourcing := service.NewSourcingCoordinator(eventStore, paymentRepo, gateways, clock, log)

	orch := service.NewOrchestrator(cfg, engine, eventStore, payments, gateways, breakers, retry, router, hooks, metrics, clock, log)

	// Simulated processors; swap for live adapters per gateway account.
	for name, cost := range map[string]float64{"alpha": 0.021, "beta": 0.029, "gamma": 0.025} {
		gw := gateway.NewSimulatedGateway(name, log)
		if err := orch.RegisterGateway(name, gw, service.GatewayConfig{
			Timeout:    10 * time.Second,
			CostPerTxn: cost,
		}); err != nil {
			log.Fatal().Err(err).Str("gateway", name).Msg("Failed to register gateway")
		}
	}

	// Settle anything a previous process left in flight before taking traffic.
	if report, err := sourcing.RecoverInFlight(ctx); err != nil {
		log.Error().Err(err).Msg("In-flight recovery failed")
	} else {
		log.Info().
			Int("scanned", report.Scanned).
			Int("recovered", report.Recovered).
			Int("still_open", report.StillOpen).
			Int("unresolved", report.Unresolved).
			Msg("In-flight recovery complete")
	}

	// Periodic idempotency record sweep.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if _, err := engine.Cleanup(sweepCtx); err != nil {
					log.Error().Err(err).Msg("Idempotency cleanup failed")
				}
			}
		}
	}()

	// Health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	engineRouter := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Orchestrator:   orch,
		Recoverer:      sourcing,
		Cleaner:        engine,
		JWT:            cfg.JWT,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: engineRouter,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
