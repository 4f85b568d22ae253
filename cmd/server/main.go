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
	"github.com/redis/go-redis/v9"

	"github.com/Phenixis/Predis/internal/config"
	"github.com/Phenixis/Predis/internal/engine"
	"github.com/Phenixis/Predis/internal/metrics"
	"github.com/Phenixis/Predis/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, time.Duration(cfg.CacheTTLS)*time.Second)
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

	// --- Event hub ---
	hub := engine.NewEventHub()
	go hub.Run()

	// --- Engine service + lifecycle scheduler ---
	svc := engine.NewService(st, cfg, hub)

	schedCtx, stopSched := context.WithCancel(context.Background())
	defer stopSched()
	sched := engine.NewScheduler(svc, time.Duration(cfg.LockSweepIntervalS)*time.Second)
	go sched.Run(schedCtx)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"predis-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Domain event stream for notification collaborators.
		r.Get("/ws", hub.HandleWS)

		// Accounts and the coin ledger.
		r.Post("/accounts", svc.HandleCreateAccount)
		r.Get("/accounts/{accountID}/balance", svc.HandleBalance)
		r.Get("/accounts/{accountID}/ledger", svc.HandleLedger)
		r.Get("/accounts/{accountID}/wagers", svc.HandleAccountWagers)

		// Markets.
		r.Post("/markets", svc.HandleCreateMarket)
		r.Get("/markets", svc.HandleListMarkets)
		r.Get("/markets/{marketID}", svc.HandleGetMarket)
		r.Get("/markets/{marketID}/odds", svc.HandleOdds)

		// Wagering and settlement.
		r.Post("/markets/{marketID}/wagers", svc.HandlePlaceWager)
		r.Post("/markets/{marketID}/resolve", svc.HandleResolve)
		r.Post("/markets/{marketID}/cancel", svc.HandleCancel)
		r.Post("/markets/{marketID}/dispute", svc.HandleDispute)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("predis-engine listening", "port", cfg.Port)
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

	slog.Info("shutting down predis-engine...")
	stopSched()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("predis-engine stopped")
}
