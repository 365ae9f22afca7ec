package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/daytrader/matching-engine/internal/cache"
	"github.com/daytrader/matching-engine/internal/config"
	"github.com/daytrader/matching-engine/internal/engine"
	"github.com/daytrader/matching-engine/internal/ledger"
	"github.com/daytrader/matching-engine/internal/logging"
	"github.com/daytrader/matching-engine/internal/service"
	"github.com/daytrader/matching-engine/internal/settlement"
	"github.com/daytrader/matching-engine/internal/transport"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil {
			os.Exit(1)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ledger: Postgres when configured, in-memory otherwise.
	var store ledger.Store
	if cfg.DatabaseURL != "" {
		pg, err := ledger.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("ledger connect failed", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal("ledger migration failed", zap.Error(err))
		}
		defer pg.Close()
		store = pg
	} else {
		log.Warn("DATABASE_URL not set, using in-memory ledger")
		store = ledger.NewMemoryStore()
	}

	// Cache: Redis when configured, in-memory otherwise.
	var c cache.Cache
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal("cache connect failed", zap.Error(err))
		}
		defer rc.Close()
		c = rc
	} else {
		log.Warn("REDIS_ADDR not set, using in-memory cache")
		c = cache.NewMemory()
	}

	books := engine.NewBookManager()
	settler := settlement.NewService(store, c, log)
	matcher := engine.NewMatcher(books, store, c, settler, log)

	orderSvc := service.NewOrderService(matcher, log)
	stockSvc := service.NewStockService(store, c, books, log)

	secret := []byte(cfg.JWTSecret)

	// RPC consumer.
	if cfg.AMQPURL != "" {
		rpc := transport.NewRPCServer(cfg.AMQPURL, cfg.EngineQueue, secret, orderSvc, stockSvc, log)
		go func() {
			if err := rpc.Serve(ctx); err != nil {
				log.Error("rpc consumer stopped", zap.Error(err))
			}
		}()
	} else {
		log.Warn("AMQP_URL not set, RPC consumer disabled")
	}

	// HTTP server.
	router := transport.NewRouter(orderSvc, stockSvc, secret, log)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		log.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}
	cancel()

	log.Info("server stopped")
}
