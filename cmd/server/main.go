package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/GigaChadds/gaave-core/internal/badge"
	"github.com/GigaChadds/gaave-core/internal/config"
	"github.com/GigaChadds/gaave-core/internal/gateway"
	"github.com/GigaChadds/gaave-core/internal/ledger"
	"github.com/GigaChadds/gaave-core/internal/limits"
	"github.com/GigaChadds/gaave-core/internal/metrics"
	"github.com/GigaChadds/gaave-core/internal/oracle"
	"github.com/GigaChadds/gaave-core/internal/store"
	"github.com/GigaChadds/gaave-core/internal/vault"
)

func main() {
	// Local development keeps addresses and endpoints in a .env file.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- External clients ---
	relayURL := os.Getenv("CHAIN_RELAY_URL")
	if relayURL == "" {
		relayURL = "http://localhost:8545"
	}
	quotes := oracle.NewFeedClient(relayURL, cfg.Feeds())
	gw := gateway.NewHTTPClient(relayURL, cfg.GatewayAddress, cfg.PoolProxyAddress)

	// --- Position ledger ---
	led := ledger.New(cfg.AssetList(), quotes, cfg.MaxQuoteAge)

	// --- Deposit caps ---
	maxPerAsset := decimal.NewFromInt(100000)
	maxTotal := decimal.NewFromInt(250000)
	limiter := limits.NewDepositLimiter(maxPerAsset, maxTotal)

	// --- Badge worker ---
	var badges badge.Issuer
	if badgeURL := os.Getenv("BADGE_RELAY_URL"); badgeURL != "" {
		worker := badge.NewWorker(badgeURL)
		go worker.Run()
		cleanup = append(cleanup, worker.Close)
		badges = worker
		slog.Info("badge issuance enabled", "endpoint", badgeURL)
	} else {
		slog.Warn("BADGE_RELAY_URL not set, badge issuance disabled")
		badges = badge.Nop{}
	}

	// --- WebSocket hub ---
	hub := vault.NewEventHub()
	go hub.Run()

	// --- Vault service ---
	svc := vault.NewService(cfg, led, gw, quotes, st, badges, limiter, hub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"gaave-core"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time activity events.
		r.Get("/ws", hub.HandleWS)

		// Asset roster.
		r.Get("/assets", svc.ListAssets)

		// Vault operations.
		r.Post("/deposits", svc.Deposit)
		r.Post("/withdrawals", svc.Withdraw)

		// Position queries.
		r.Get("/positions/{userID}", svc.GetPositions)
		r.Get("/positions/{userID}/{asset}", svc.GetPosition)
		r.Get("/activity/{userID}", svc.GetActivity)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("gaave-core listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down gaave-core...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("gaave-core stopped")
}
